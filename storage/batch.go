package storage

import (
	"strings"
)

// RecordBatch is a chunk: an ordered set of columns sharing one row count.
// It is the unit of vectorized processing; operators consume batches and
// produce new ones, never mutating input batches in place.
type RecordBatch struct {
	Fields  []Field
	Records []*ColumnVector
}

// NewRecordBatch builds an empty batch matching the schema.
func NewRecordBatch(schema *TableSchema, capacity int) *RecordBatch {
	fields := make([]Field, len(schema.Columns))
	copy(fields, schema.Columns)
	ret := &RecordBatch{
		Fields:  fields,
		Records: make([]*ColumnVector, len(fields)),
	}
	for i, f := range fields {
		ret.Records[i] = NewColumnVector(f, capacity)
	}
	return ret
}

func (batch *RecordBatch) RowCount() int {
	if len(batch.Records) == 0 {
		return 0
	}
	return batch.Records[0].RowCount()
}

func (batch *RecordBatch) ColumnCount() int {
	return len(batch.Records)
}

func (batch *RecordBatch) Column(i int) *ColumnVector {
	return batch.Records[i]
}

func (batch *RecordBatch) Schema() *TableSchema {
	ret := &TableSchema{Columns: make([]Field, len(batch.Fields))}
	copy(ret.Columns, batch.Fields)
	return ret
}

// SetColumn replaces column i. Builder-side helper, used while assembling a
// projection output before the batch is handed downstream.
func (batch *RecordBatch) SetColumn(i int, col *ColumnVector) {
	batch.Fields[i] = col.Field
	batch.Records[i] = col
}

// Append copies all rows of other onto batch. Builder-side helper for
// blocking operators that materialize their input.
func (batch *RecordBatch) Append(other *RecordBatch) {
	for i, col := range batch.Records {
		col.Appends(other.Records[i])
	}
}

// AppendRow copies a single row of other onto batch.
func (batch *RecordBatch) AppendRow(other *RecordBatch, row int) {
	for i, col := range batch.Records {
		col.AppendRow(other.Records[i], row)
	}
}

// Filter keeps rows where the boolean mask is valid and true.
func (batch *RecordBatch) Filter(mask *ColumnVector) *RecordBatch {
	ret := &RecordBatch{
		Fields:  batch.Fields,
		Records: make([]*ColumnVector, len(batch.Records)),
	}
	for i, col := range batch.Records {
		ret.Records[i] = col.Filter(mask)
	}
	return ret
}

// Slice copies rows [from, from+count), clamped to the batch length.
// Returns nil when from is past the end, matching the pull convention where
// nil means exhausted.
func (batch *RecordBatch) Slice(from, count int) *RecordBatch {
	if from >= batch.RowCount() {
		return nil
	}
	ret := &RecordBatch{
		Fields:  batch.Fields,
		Records: make([]*ColumnVector, len(batch.Records)),
	}
	for i, col := range batch.Records {
		ret.Records[i] = col.Slice(from, count)
	}
	return ret
}

// Gather builds a new batch by row index; -1 yields an all-null row.
func (batch *RecordBatch) Gather(indices []int32) *RecordBatch {
	ret := &RecordBatch{
		Fields:  batch.Fields,
		Records: make([]*ColumnVector, len(batch.Records)),
	}
	for i, col := range batch.Records {
		ret.Records[i] = col.Gather(indices)
	}
	return ret
}

// RowKey appends a canonical encoding of the given columns at row onto buf.
func (batch *RecordBatch) RowKey(buf []byte, row int, cols []int) []byte {
	for _, c := range cols {
		buf = batch.Records[c].AppendKeyBytes(buf, row)
	}
	return buf
}

func (batch *RecordBatch) String() string {
	var sb strings.Builder
	for i, f := range batch.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
	}
	sb.WriteByte('\n')
	for row := 0; row < batch.RowCount(); row++ {
		for i, col := range batch.Records {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(col.DatumAt(row).String())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
