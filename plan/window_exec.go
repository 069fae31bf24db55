package plan

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
)

// windowProjectExec is a projection whose expressions include window
// functions. Window functions need the whole input, so unlike a plain
// projection this one is blocking.
type windowProjectExec struct {
	input   PhysicalPlan
	columns []windowColumn
	schema  *storage.TableSchema
	ec      *ExecContext
	result  *storage.RecordBatch
	served  int
	done    bool
}

// windowColumn is one output column: either a plain compiled expression or a
// compiled window function.
type windowColumn struct {
	plain  physicalExpr
	window *physWindow
}

type physWindow struct {
	fn          WindowFunc
	child       physicalExpr // nil for row_number / rank
	childTP     storage.DType
	partitionBy []physicalExpr
	orderBy     []physicalSortKey
}

func newWindowProjectExec(input PhysicalPlan, proj *ProjectPlan, ec *ExecContext) (*windowProjectExec, error) {
	ret := &windowProjectExec{input: input, schema: proj.schema, ec: ec}
	for _, e := range proj.Exprs {
		core := unalias(e)
		win, ok := core.(*WindowExpr)
		if !ok {
			if e.HasWindow() {
				return nil, qerror.Typef("window expression must be the whole projection expression in %s", e)
			}
			pe, err := compileExpr(e, input.Schema(), ec)
			if err != nil {
				return nil, err
			}
			ret.columns = append(ret.columns, windowColumn{plain: pe})
			continue
		}
		pw := &physWindow{fn: win.Func}
		if win.Child != nil {
			child, err := compileExpr(win.Child, input.Schema(), ec)
			if err != nil {
				return nil, err
			}
			pw.child = child
			pw.childTP = child.field().TP
		}
		for _, pe := range win.PartitionBy {
			compiled, err := compileExpr(pe, input.Schema(), ec)
			if err != nil {
				return nil, err
			}
			pw.partitionBy = append(pw.partitionBy, compiled)
		}
		for _, key := range win.OrderBy {
			compiled, err := compileExpr(key.Expr, input.Schema(), ec)
			if err != nil {
				return nil, err
			}
			pw.orderBy = append(pw.orderBy, physicalSortKey{expr: compiled, desc: key.Desc})
		}
		ret.columns = append(ret.columns, windowColumn{window: pw})
	}
	return ret, nil
}

func (win *windowProjectExec) Schema() *storage.TableSchema {
	return win.schema
}

func (win *windowProjectExec) Next() (*storage.RecordBatch, error) {
	if win.done {
		return nil, nil
	}
	if win.result == nil {
		if err := win.compute(); err != nil {
			return nil, err
		}
	}
	if err := win.ec.checkCancelled(); err != nil {
		return nil, err
	}
	ret := win.result.Slice(win.served, win.ec.batchSize())
	if ret == nil {
		win.done = true
		return nil, nil
	}
	win.served += ret.RowCount()
	return ret, nil
}

func (win *windowProjectExec) compute() error {
	all := storage.NewRecordBatch(win.input.Schema(), 0)
	for {
		if err := win.ec.checkCancelled(); err != nil {
			return err
		}
		batch, err := win.input.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		all.Append(batch)
	}
	win.result = &storage.RecordBatch{
		Fields:  win.schema.Columns,
		Records: make([]*storage.ColumnVector, len(win.columns)),
	}
	for i, column := range win.columns {
		var col *storage.ColumnVector
		var err error
		if column.plain != nil {
			col, err = column.plain.eval(all)
		} else {
			col, err = column.window.eval(all, win.schema.Columns[i], win.ec)
		}
		if err != nil {
			return err
		}
		win.result.Records[i] = renameColumn(col, win.schema.Columns[i])
	}
	return nil
}

func (pw *physWindow) eval(all *storage.RecordBatch, out storage.Field, ec *ExecContext) (*storage.ColumnVector, error) {
	partitions, err := pw.partitionRows(all)
	if err != nil {
		return nil, err
	}
	keyCols := make([]*storage.ColumnVector, len(pw.orderBy))
	for i, key := range pw.orderBy {
		col, err := key.expr.eval(all)
		if err != nil {
			return nil, err
		}
		keyCols[i] = col
	}
	var childCol *storage.ColumnVector
	if pw.child != nil {
		childCol, err = pw.child.eval(all)
		if err != nil {
			return nil, err
		}
	}

	values := make([]storage.Datum, all.RowCount())
	for _, rows := range partitions {
		if err := ec.checkCancelled(); err != nil {
			return nil, err
		}
		if len(pw.orderBy) > 0 {
			sort.SliceStable(rows, func(a, b int) bool {
				for i, key := range pw.orderBy {
					c := compareCells(keyCols[i], int(rows[a]), int(rows[b]), key.desc, ec.NullsFirst)
					if c != 0 {
						return c < 0
					}
				}
				return false
			})
		}
		switch pw.fn {
		case WinRowNumber:
			for i, row := range rows {
				values[row] = storage.NewIntDatum(int64(i + 1))
			}
		case WinRank:
			rank := int64(1)
			for i, row := range rows {
				if i > 0 && !sameOrderKeys(keyCols, int(rows[i-1]), int(row), pw.orderBy, ec.NullsFirst) {
					rank = int64(i + 1)
				}
				values[row] = storage.NewIntDatum(rank)
			}
		default:
			f, _ := windowFuncToAgg(pw.fn)
			acc := makeAccumulator(f, pw.childTP)
			for _, row := range rows {
				if err := acc.step(childCol, int(row)); err != nil {
					return nil, err
				}
			}
			v := acc.value()
			for _, row := range rows {
				values[row] = v
			}
		}
	}
	ret := storage.NewColumnVector(out, len(values))
	for _, d := range values {
		ret.AppendDatum(d)
	}
	return ret, nil
}

// partitionRows splits row indices by partition key, partitions in first-seen
// order. No partition keys means one partition with every row.
func (pw *physWindow) partitionRows(all *storage.RecordBatch) ([][]int32, error) {
	if len(pw.partitionBy) == 0 {
		rows := make([]int32, all.RowCount())
		for i := range rows {
			rows[i] = int32(i)
		}
		return [][]int32{rows}, nil
	}
	keyCols := make([]*storage.ColumnVector, len(pw.partitionBy))
	for i, e := range pw.partitionBy {
		col, err := e.eval(all)
		if err != nil {
			return nil, err
		}
		keyCols[i] = col
	}
	type bucket struct {
		key string
		idx int
	}
	buckets := make(map[uint64][]bucket)
	var partitions [][]int32
	var buf []byte
	for row := 0; row < all.RowCount(); row++ {
		buf = buf[:0]
		for _, col := range keyCols {
			buf = col.AppendKeyBytes(buf, row)
		}
		h := xxhash.Sum64(buf)
		idx := -1
		for _, b := range buckets[h] {
			if b.key == string(buf) {
				idx = b.idx
				break
			}
		}
		if idx < 0 {
			idx = len(partitions)
			partitions = append(partitions, nil)
			buckets[h] = append(buckets[h], bucket{key: string(buf), idx: idx})
		}
		partitions[idx] = append(partitions[idx], int32(row))
	}
	return partitions, nil
}

func sameOrderKeys(keyCols []*storage.ColumnVector, a, b int, keys []physicalSortKey, nullsFirst bool) bool {
	for i, key := range keys {
		if compareCells(keyCols[i], a, b, key.desc, nullsFirst) != 0 {
			return false
		}
	}
	return true
}
