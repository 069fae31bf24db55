package plan

import (
	"sort"

	"github.com/xiaobogaga/miniframe/storage"
	"github.com/xiaobogaga/miniframe/util"
)

// scanExec drains a source, re-chunking oversized source batches down to the
// context batch size.
type scanExec struct {
	src     storage.Source
	schema  *storage.TableSchema
	ec      *ExecContext
	pending *storage.RecordBatch
	offset  int
	done    bool
}

func (scan *scanExec) Schema() *storage.TableSchema {
	return scan.schema
}

func (scan *scanExec) Next() (*storage.RecordBatch, error) {
	if scan.done {
		return nil, nil
	}
	if err := scan.ec.checkCancelled(); err != nil {
		return nil, err
	}
	for scan.pending == nil {
		batch, err := scan.src.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			scan.done = true
			return nil, nil
		}
		if batch.RowCount() == 0 {
			continue
		}
		scan.pending = batch
		scan.offset = 0
	}
	ret := scan.pending.Slice(scan.offset, scan.ec.batchSize())
	scan.offset += ret.RowCount()
	if scan.offset >= scan.pending.RowCount() {
		scan.pending = nil
	}
	return ret, nil
}

// filterExec keeps the rows where the predicate is true; null predicate rows
// drop.
type filterExec struct {
	input PhysicalPlan
	pred  physicalExpr
	ec    *ExecContext
}

func (sel *filterExec) Schema() *storage.TableSchema {
	return sel.input.Schema()
}

func (sel *filterExec) Next() (*storage.RecordBatch, error) {
	for {
		if err := sel.ec.checkCancelled(); err != nil {
			return nil, err
		}
		batch, err := sel.input.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return nil, nil
		}
		mask, err := sel.pred.eval(batch)
		if err != nil {
			return nil, err
		}
		out := batch.Filter(mask)
		if out.RowCount() > 0 {
			return out, nil
		}
	}
}

// projectExec evaluates one expression per output column.
type projectExec struct {
	input  PhysicalPlan
	exprs  []physicalExpr
	schema *storage.TableSchema
	ec     *ExecContext
}

func (proj *projectExec) Schema() *storage.TableSchema {
	return proj.schema
}

func (proj *projectExec) Next() (*storage.RecordBatch, error) {
	if err := proj.ec.checkCancelled(); err != nil {
		return nil, err
	}
	batch, err := proj.input.Next()
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	ret := &storage.RecordBatch{
		Fields:  make([]storage.Field, len(proj.exprs)),
		Records: make([]*storage.ColumnVector, len(proj.exprs)),
	}
	for i, e := range proj.exprs {
		col, err := e.eval(batch)
		if err != nil {
			return nil, err
		}
		ret.Fields[i] = proj.schema.Columns[i]
		ret.Records[i] = renameColumn(col, proj.schema.Columns[i])
	}
	return ret, nil
}

// limitExec serves count rows after skipping offset rows, then stops pulling
// from its input entirely.
type limitExec struct {
	input    PhysicalPlan
	offset   int
	count    int
	ec       *ExecContext
	skipped  int
	returned int
}

func (limit *limitExec) Schema() *storage.TableSchema {
	return limit.input.Schema()
}

func (limit *limitExec) Next() (*storage.RecordBatch, error) {
	for limit.returned < limit.count {
		if err := limit.ec.checkCancelled(); err != nil {
			return nil, err
		}
		batch, err := limit.input.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return nil, nil
		}
		if limit.skipped < limit.offset {
			skip := limit.offset - limit.skipped
			if skip >= batch.RowCount() {
				limit.skipped += batch.RowCount()
				continue
			}
			limit.skipped = limit.offset
			batch = batch.Slice(skip, batch.RowCount()-skip)
		}
		if want := limit.count - limit.returned; batch.RowCount() > want {
			batch = batch.Slice(0, want)
		}
		limit.returned += batch.RowCount()
		return batch, nil
	}
	return nil, nil
}

type physicalSortKey struct {
	expr physicalExpr
	desc bool
}

// sortExec materializes its whole input, stably sorts row indices and serves
// the result in batch-size chunks.
type sortExec struct {
	input  PhysicalPlan
	keys   []physicalSortKey
	ec     *ExecContext
	sorted *storage.RecordBatch
	served int
	done   bool
}

func (orderBy *sortExec) Schema() *storage.TableSchema {
	return orderBy.input.Schema()
}

func (orderBy *sortExec) Next() (*storage.RecordBatch, error) {
	if orderBy.done {
		return nil, nil
	}
	if orderBy.sorted == nil {
		if err := orderBy.materialize(); err != nil {
			return nil, err
		}
	}
	if err := orderBy.ec.checkCancelled(); err != nil {
		return nil, err
	}
	ret := orderBy.sorted.Slice(orderBy.served, orderBy.ec.batchSize())
	if ret == nil {
		orderBy.done = true
		return nil, nil
	}
	orderBy.served += ret.RowCount()
	return ret, nil
}

func (orderBy *sortExec) materialize() error {
	all := storage.NewRecordBatch(orderBy.input.Schema(), 0)
	for {
		if err := orderBy.ec.checkCancelled(); err != nil {
			return err
		}
		batch, err := orderBy.input.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		all.Append(batch)
	}
	keyCols := make([]*storage.ColumnVector, len(orderBy.keys))
	for i, key := range orderBy.keys {
		col, err := key.expr.eval(all)
		if err != nil {
			return err
		}
		keyCols[i] = col
	}
	indices := make([]int32, all.RowCount())
	for i := range indices {
		indices[i] = int32(i)
	}
	sort.SliceStable(indices, func(a, b int) bool {
		for i, key := range orderBy.keys {
			c := compareCells(keyCols[i], int(indices[a]), int(indices[b]), key.desc, orderBy.ec.NullsFirst)
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	orderBy.sorted = all.Gather(indices)
	return nil
}

// compareCells orders two cells of one column. Null placement is fixed by
// nullsFirst and does not flip with the sort direction.
func compareCells(col *storage.ColumnVector, a, b int, desc, nullsFirst bool) int {
	an, bn := col.IsNull(a), col.IsNull(b)
	if an || bn {
		if an == bn {
			return 0
		}
		if an == nullsFirst {
			return -1
		}
		return 1
	}
	c := storage.CompareValues(col.DatumAt(a), col.DatumAt(b))
	if desc {
		return -c
	}
	return c
}

// unionExec drains its branches in parallel on the worker pool, then serves
// the buffered chunks branch by branch, so concatenation order is stable no
// matter how the branches interleave.
type unionExec struct {
	inputs  []PhysicalPlan
	schema  *storage.TableSchema
	ec      *ExecContext
	buffers [][]*storage.RecordBatch
	branch  int
	i       int
}

func (union *unionExec) Schema() *storage.TableSchema {
	return union.schema
}

func (union *unionExec) Next() (*storage.RecordBatch, error) {
	if union.buffers == nil {
		if err := union.drain(); err != nil {
			return nil, err
		}
	}
	if err := union.ec.checkCancelled(); err != nil {
		return nil, err
	}
	for union.branch < len(union.buffers) {
		if union.i < len(union.buffers[union.branch]) {
			ret := union.buffers[union.branch][union.i]
			union.i++
			return ret, nil
		}
		union.branch++
		union.i = 0
	}
	return nil, nil
}

func (union *unionExec) drain() error {
	union.buffers = make([][]*storage.RecordBatch, len(union.inputs))
	errs := make([]error, len(union.inputs))
	tasks := make([]func(), len(union.inputs))
	for i := range union.inputs {
		i := i
		tasks[i] = func() {
			for {
				if err := union.ec.checkCancelled(); err != nil {
					errs[i] = err
					return
				}
				batch, err := union.inputs[i].Next()
				if err != nil {
					errs[i] = err
					return
				}
				if batch == nil {
					return
				}
				union.buffers[i] = append(union.buffers[i], batch)
			}
		}
	}
	util.RunParallel(union.ec.Pool, tasks...)
	for _, err := range errs {
		if err != nil {
			union.buffers = nil
			return err
		}
	}
	return nil
}
