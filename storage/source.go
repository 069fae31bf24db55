package storage

// Source is the pull contract the external I/O layer implements. The engine
// never parses file formats itself; a scan node just drains a Source. Next
// returns nil when the source is exhausted. Reset rewinds the source so the
// same plan can be executed again.
type Source interface {
	Schema() *TableSchema
	Next() (*RecordBatch, error)
	// EstimateRows is a cardinality hint for the optimizer, -1 when unknown.
	EstimateRows() int
	Reset()
}

// MemSource serves an in-memory batch in fixed-size chunks. It backs tests
// and frames built from literal columns.
type MemSource struct {
	schema    *TableSchema
	data      *RecordBatch
	chunkRows int
	i         int
}

const defaultChunkRows = 1 << 10

func NewMemSource(data *RecordBatch) *MemSource {
	return NewMemSourceChunked(data, defaultChunkRows)
}

func NewMemSourceChunked(data *RecordBatch, chunkRows int) *MemSource {
	if chunkRows <= 0 {
		chunkRows = defaultChunkRows
	}
	return &MemSource{schema: data.Schema(), data: data, chunkRows: chunkRows}
}

func (src *MemSource) Schema() *TableSchema {
	return src.schema
}

func (src *MemSource) Next() (*RecordBatch, error) {
	ret := src.data.Slice(src.i, src.chunkRows)
	if ret == nil {
		return nil, nil
	}
	src.i += ret.RowCount()
	return ret, nil
}

func (src *MemSource) EstimateRows() int {
	return src.data.RowCount()
}

func (src *MemSource) Reset() {
	src.i = 0
}
