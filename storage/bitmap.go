package storage

import "math/bits"

// Bitmap is a validity bitmap: one bit per row, 1 = valid. It is mutable
// while a column is being built and treated as read-only afterwards.
type Bitmap struct {
	words  []uint64
	length int
}

func NewBitmap(capacity int) *Bitmap {
	return &Bitmap{words: make([]uint64, 0, (capacity+63)/64)}
}

func (b *Bitmap) Len() int {
	return b.length
}

func (b *Bitmap) Get(i int) bool {
	return b.words[i>>6]&(1<<(uint(i)&63)) != 0
}

// Append adds one bit at the end.
func (b *Bitmap) Append(valid bool) {
	word := b.length >> 6
	if word >= len(b.words) {
		b.words = append(b.words, 0)
	}
	if valid {
		b.words[word] |= 1 << (uint(b.length) & 63)
	}
	b.length++
}

// CountValid returns the number of set bits.
func (b *Bitmap) CountValid() int {
	ret := 0
	for _, w := range b.words {
		ret += bits.OnesCount64(w)
	}
	return ret
}

// AllValid reports whether every row is valid. An empty bitmap is all valid.
func (b *Bitmap) AllValid() bool {
	return b.CountValid() == b.length
}

func (b *Bitmap) Clone() *Bitmap {
	ret := &Bitmap{words: make([]uint64, len(b.words)), length: b.length}
	copy(ret.words, b.words)
	return ret
}

// Slice copies bits [from, from+count) into a new bitmap.
func (b *Bitmap) Slice(from, count int) *Bitmap {
	ret := NewBitmap(count)
	for i := from; i < from+count; i++ {
		ret.Append(b.Get(i))
	}
	return ret
}
