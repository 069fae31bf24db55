package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xiaobogaga/miniframe/qerror"
)

func testBatch(cols ...*ColumnVector) *RecordBatch {
	fields := make([]Field, len(cols))
	for i, col := range cols {
		fields[i] = col.Field
	}
	return &RecordBatch{Fields: fields, Records: cols}
}

func TestBitmap(t *testing.T) {
	b := NewBitmap(0)
	for i := 0; i < 130; i++ {
		b.Append(i%3 == 0)
	}
	require.Equal(t, 130, b.Len())
	require.True(t, b.Get(0))
	require.False(t, b.Get(1))
	require.True(t, b.Get(129))
	require.Equal(t, 44, b.CountValid())
	require.False(t, b.AllValid())

	s := b.Slice(3, 4)
	require.Equal(t, 4, s.Len())
	require.True(t, s.Get(0))
	require.True(t, s.Get(3))
}

func TestSchemaRejectsDuplicates(t *testing.T) {
	_, err := NewTableSchema([]Field{{Name: "a", TP: Int64}, {Name: "a", TP: Utf8}})
	require.True(t, qerror.IsKind(err, qerror.Schema))
}

func TestSchemaMergeSuffix(t *testing.T) {
	left, err := NewTableSchema([]Field{{Name: "id", TP: Int64}, {Name: "v", TP: Utf8}})
	require.NoError(t, err)
	right, err := NewTableSchema([]Field{{Name: "id", TP: Int64}, {Name: "w", TP: Utf8}})
	require.NoError(t, err)
	merged := left.Merge(right, "_right")
	require.Equal(t, []string{"id", "v", "id_right", "w"}, merged.Names())

	// A pre-existing column with the suffixed name pushes the rename further.
	left2, err := NewTableSchema([]Field{{Name: "id", TP: Int64}, {Name: "id_right", TP: Int64}})
	require.NoError(t, err)
	merged = left2.Merge(right, "_right")
	require.Equal(t, []string{"id", "id_right", "id_right_right", "w"}, merged.Names())
}

func TestBatchFilterDropsNullMaskRows(t *testing.T) {
	batch := testBatch(intsCol("a", 1, 2, 3, 4))
	mask := boolsCol("m", true, nil, false, true)
	out := batch.Filter(mask)
	require.Equal(t, 2, out.RowCount())
	require.Equal(t, int64(1), out.Column(0).Int(0))
	require.Equal(t, int64(4), out.Column(0).Int(1))
}

func TestBatchSlice(t *testing.T) {
	batch := testBatch(intsCol("a", 1, 2, 3))
	out := batch.Slice(1, 5)
	require.Equal(t, 2, out.RowCount())
	require.Equal(t, int64(2), out.Column(0).Int(0))
	require.Nil(t, batch.Slice(3, 1))
}

func TestBatchGatherNullPadding(t *testing.T) {
	batch := testBatch(intsCol("a", 10, 20), strsCol("s", "x", "y"))
	out := batch.Gather([]int32{1, -1, 0})
	require.Equal(t, 3, out.RowCount())
	require.Equal(t, int64(20), out.Column(0).Int(0))
	require.True(t, out.Column(0).IsNull(1))
	require.True(t, out.Column(1).IsNull(1))
	require.Equal(t, "x", out.Column(1).Str(2))
}

func TestKeyBytesDistinguishNullsAndTypes(t *testing.T) {
	i := intsCol("i", 1, nil)
	s := strsCol("s", "1", nil)
	require.NotEqual(t,
		string(i.AppendKeyBytes(nil, 0)),
		string(s.AppendKeyBytes(nil, 0)))
	require.NotEqual(t,
		string(i.AppendKeyBytes(nil, 0)),
		string(i.AppendKeyBytes(nil, 1)))
	// Two null cells encode identically: null groups with null.
	require.Equal(t,
		string(i.AppendKeyBytes(nil, 1)),
		string(s.AppendKeyBytes(nil, 1)))
}

func TestKeyBytesMatchValueEqualOnZero(t *testing.T) {
	f := floatsCol("f", 0.0, math.Copysign(0, -1))
	// -0.0 == 0.0, so the two cells must share a key.
	require.True(t, f.ValueEqual(0, f, 1))
	require.Equal(t,
		string(f.AppendKeyBytes(nil, 0)),
		string(f.AppendKeyBytes(nil, 1)))
}

func TestValueEqualNullsNeverMatch(t *testing.T) {
	a := intsCol("a", 1, nil)
	b := intsCol("b", 1, nil)
	require.True(t, a.ValueEqual(0, b, 0))
	require.False(t, a.ValueEqual(1, b, 1))
}

func TestDateRoundtrip(t *testing.T) {
	days, err := ParseDate("1970-01-02")
	require.NoError(t, err)
	require.Equal(t, int64(1), days)

	days, err = ParseDate("2024-06-15")
	require.NoError(t, err)
	require.Equal(t, "2024-06-15", FormatDate(days))

	_, err = ParseDate("not-a-date")
	require.Error(t, err)
}

func TestCompareValuesCrossNumeric(t *testing.T) {
	require.Equal(t, -1, CompareValues(NewIntDatum(1), NewFloatDatum(1.5)))
	require.Equal(t, 0, CompareValues(NewIntDatum(2), NewFloatDatum(2.0)))
	require.Equal(t, 1, CompareValues(NewStrDatum("b"), NewStrDatum("a")))
	require.Equal(t, -1, CompareValues(NewBoolDatum(false), NewBoolDatum(true)))
}

func TestMemSourceChunksAndReset(t *testing.T) {
	batch := testBatch(intsCol("a", 1, 2, 3, 4, 5))
	src := NewMemSourceChunked(batch, 2)
	require.Equal(t, 5, src.EstimateRows())

	var rows int
	for {
		chunk, err := src.Next()
		require.NoError(t, err)
		if chunk == nil {
			break
		}
		require.LessOrEqual(t, chunk.RowCount(), 2)
		rows += chunk.RowCount()
	}
	require.Equal(t, 5, rows)

	src.Reset()
	chunk, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, int64(1), chunk.Column(0).Int(0))
}
