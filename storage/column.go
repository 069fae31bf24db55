package storage

import (
	"encoding/binary"
	"math"
)

// ColumnVector is a typed, contiguous, immutable columnar buffer plus a
// parallel validity bitmap. Exactly one of the typed buffers is populated,
// decided by Field.TP (Int64 and Date share the int buffer). Operators never
// mutate a column they received; they build new ones.
type ColumnVector struct {
	Field  Field
	Ints   []int64
	Floats []float64
	Bools  []bool
	Strs   []string
	Valid  *Bitmap
}

func NewColumnVector(field Field, capacity int) *ColumnVector {
	col := &ColumnVector{Field: field, Valid: NewBitmap(capacity)}
	switch field.TP {
	case Int64, Date:
		col.Ints = make([]int64, 0, capacity)
	case Float64:
		col.Floats = make([]float64, 0, capacity)
	case Boolean:
		col.Bools = make([]bool, 0, capacity)
	case Utf8:
		col.Strs = make([]string, 0, capacity)
	}
	return col
}

func (col *ColumnVector) RowCount() int {
	return col.Valid.Len()
}

func (col *ColumnVector) IsNull(row int) bool {
	return !col.Valid.Get(row)
}

func (col *ColumnVector) Int(row int) int64 {
	return col.Ints[row]
}

func (col *ColumnVector) Float(row int) float64 {
	return col.Floats[row]
}

func (col *ColumnVector) Bool(row int) bool {
	return col.Bools[row]
}

func (col *ColumnVector) Str(row int) string {
	return col.Strs[row]
}

// numAt reads a numeric cell as float64, widening Int64.
func (col *ColumnVector) numAt(row int) float64 {
	if col.Field.TP == Float64 {
		return col.Floats[row]
	}
	return float64(col.Ints[row])
}

func (col *ColumnVector) DatumAt(row int) Datum {
	if col.IsNull(row) {
		return NewNullDatum(col.Field.TP)
	}
	switch col.Field.TP {
	case Int64:
		return NewIntDatum(col.Ints[row])
	case Date:
		return NewDateDatum(col.Ints[row])
	case Float64:
		return NewFloatDatum(col.Floats[row])
	case Boolean:
		return NewBoolDatum(col.Bools[row])
	default:
		return NewStrDatum(col.Strs[row])
	}
}

// Builder side. AppendNull adds a null row with a zero value slot so the
// buffer stays parallel to the bitmap.

func (col *ColumnVector) AppendNull() {
	col.appendZero()
	col.Valid.Append(false)
}

func (col *ColumnVector) appendZero() {
	switch col.Field.TP {
	case Int64, Date:
		col.Ints = append(col.Ints, 0)
	case Float64:
		col.Floats = append(col.Floats, 0)
	case Boolean:
		col.Bools = append(col.Bools, false)
	case Utf8:
		col.Strs = append(col.Strs, "")
	}
}

func (col *ColumnVector) AppendInt(v int64) {
	col.Ints = append(col.Ints, v)
	col.Valid.Append(true)
}

func (col *ColumnVector) AppendFloat(v float64) {
	col.Floats = append(col.Floats, v)
	col.Valid.Append(true)
}

func (col *ColumnVector) AppendBool(v bool) {
	col.Bools = append(col.Bools, v)
	col.Valid.Append(true)
}

func (col *ColumnVector) AppendStr(v string) {
	col.Strs = append(col.Strs, v)
	col.Valid.Append(true)
}

func (col *ColumnVector) AppendDatum(d Datum) {
	if d.Null {
		col.AppendNull()
		return
	}
	switch col.Field.TP {
	case Int64, Date:
		col.AppendInt(d.I)
	case Float64:
		col.AppendFloat(d.F)
	case Boolean:
		col.AppendBool(d.B)
	case Utf8:
		col.AppendStr(d.S)
	}
}

// AppendRow copies one row (valid or null) from another column of the same
// dtype.
func (col *ColumnVector) AppendRow(other *ColumnVector, row int) {
	if other.IsNull(row) {
		col.AppendNull()
		return
	}
	switch col.Field.TP {
	case Int64, Date:
		col.AppendInt(other.Ints[row])
	case Float64:
		col.AppendFloat(other.Floats[row])
	case Boolean:
		col.AppendBool(other.Bools[row])
	case Utf8:
		col.AppendStr(other.Strs[row])
	}
}

// Appends copies every row of other onto col.
func (col *ColumnVector) Appends(other *ColumnVector) {
	for i := 0; i < other.RowCount(); i++ {
		col.AppendRow(other, i)
	}
}

// Filter keeps the rows where mask is valid and true. A null mask cell drops
// the row, matching three-valued filter semantics.
func (col *ColumnVector) Filter(mask *ColumnVector) *ColumnVector {
	ret := NewColumnVector(col.Field, col.RowCount())
	for i := 0; i < col.RowCount(); i++ {
		if !mask.IsNull(i) && mask.Bool(i) {
			ret.AppendRow(col, i)
		}
	}
	return ret
}

// Slice copies rows [from, from+count), clamped to the column length.
func (col *ColumnVector) Slice(from, count int) *ColumnVector {
	if from >= col.RowCount() {
		return NewColumnVector(col.Field, 0)
	}
	end := from + count
	if end > col.RowCount() {
		end = col.RowCount()
	}
	ret := NewColumnVector(col.Field, end-from)
	for i := from; i < end; i++ {
		ret.AppendRow(col, i)
	}
	return ret
}

// Gather builds a new column by row index; index -1 produces a null row
// (used for the padded side of outer joins).
func (col *ColumnVector) Gather(indices []int32) *ColumnVector {
	ret := NewColumnVector(col.Field, len(indices))
	for _, idx := range indices {
		if idx < 0 {
			ret.AppendNull()
			continue
		}
		ret.AppendRow(col, int(idx))
	}
	return ret
}

// ValueEqual compares one cell against a cell of another column of the same
// dtype. Nulls never compare equal.
func (col *ColumnVector) ValueEqual(row int, other *ColumnVector, otherRow int) bool {
	if col.IsNull(row) || other.IsNull(otherRow) {
		return false
	}
	switch col.Field.TP {
	case Int64, Date:
		return col.Ints[row] == other.Ints[otherRow]
	case Float64:
		return col.Floats[row] == other.Floats[otherRow]
	case Boolean:
		return col.Bools[row] == other.Bools[otherRow]
	default:
		return col.Strs[row] == other.Strs[otherRow]
	}
}

// AppendKeyBytes appends a canonical byte encoding of one cell to buf, used
// to key hash tables. The encoding is dtype-tagged so different dtypes never
// collide, and nulls get their own tag.
func (col *ColumnVector) AppendKeyBytes(buf []byte, row int) []byte {
	if col.IsNull(row) {
		return append(buf, 0xff)
	}
	buf = append(buf, byte(col.Field.TP))
	switch col.Field.TP {
	case Int64, Date:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(col.Ints[row]))
		buf = append(buf, tmp[:]...)
	case Float64:
		f := col.Floats[row]
		if f == 0 {
			// -0.0 == 0.0, so both must encode to the same key.
			f = 0
		}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
		buf = append(buf, tmp[:]...)
	case Boolean:
		if col.Bools[row] {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case Utf8:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(len(col.Strs[row])))
		buf = append(buf, tmp[:]...)
		buf = append(buf, col.Strs[row]...)
	}
	return buf
}
