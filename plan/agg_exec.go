package plan

import (
	"github.com/cespare/xxhash/v2"
	"github.com/xiaobogaga/miniframe/storage"
	"github.com/xiaobogaga/miniframe/util"
)

// aggExec is the blocking hash aggregation operator. Per-chunk partial tables
// are built in parallel on the worker pool, then merged sequentially in input
// chunk order, so group output order is deterministic first-seen order and
// first/last aggregates see rows in input order.
type aggExec struct {
	input       PhysicalPlan
	ec          *ExecContext
	groupExprs  []physicalExpr
	aggFuncs    []AggFunc
	aggChildren []physicalExpr
	aggChildTPs []storage.DType
	schema      *storage.TableSchema
	result      *storage.RecordBatch
	served      int
	done        bool
}

func newAggExec(input PhysicalPlan, agg *AggregatePlan, ec *ExecContext) (*aggExec, error) {
	ret := &aggExec{input: input, ec: ec, schema: agg.schema}
	for _, e := range agg.GroupBy {
		pe, err := compileExpr(e, input.Schema(), ec)
		if err != nil {
			return nil, err
		}
		ret.groupExprs = append(ret.groupExprs, pe)
	}
	for _, e := range agg.Aggs {
		core := aggCore(e)
		child, err := compileExpr(core.Child, input.Schema(), ec)
		if err != nil {
			return nil, err
		}
		ret.aggFuncs = append(ret.aggFuncs, core.Func)
		ret.aggChildren = append(ret.aggChildren, child)
		ret.aggChildTPs = append(ret.aggChildTPs, child.field().TP)
	}
	return ret, nil
}

func (agg *aggExec) Schema() *storage.TableSchema {
	return agg.schema
}

func (agg *aggExec) Next() (*storage.RecordBatch, error) {
	if agg.done {
		return nil, nil
	}
	if agg.result == nil {
		if err := agg.compute(); err != nil {
			return nil, err
		}
	}
	if err := agg.ec.checkCancelled(); err != nil {
		return nil, err
	}
	ret := agg.result.Slice(agg.served, agg.ec.batchSize())
	if ret == nil {
		agg.done = true
		return nil, nil
	}
	agg.served += ret.RowCount()
	return ret, nil
}

func (agg *aggExec) compute() error {
	var chunks []*storage.RecordBatch
	for {
		if err := agg.ec.checkCancelled(); err != nil {
			return err
		}
		batch, err := agg.input.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		chunks = append(chunks, batch)
	}

	partials := make([]*aggTable, len(chunks))
	errs := make([]error, len(chunks))
	tasks := make([]func(), len(chunks))
	for i := range chunks {
		i := i
		tasks[i] = func() {
			partials[i], errs[i] = agg.buildPartial(chunks[i])
		}
	}
	util.RunParallel(agg.ec.Pool, tasks...)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	global := newAggTable()
	for _, partial := range partials {
		if err := agg.ec.checkCancelled(); err != nil {
			return err
		}
		for _, g := range partial.groups {
			dst, created := global.findOrCreate(g.hash, g.key, g.keys)
			if created {
				dst.accs = agg.freshAccs()
			}
			for j, acc := range dst.accs {
				if err := acc.merge(g.accs[j]); err != nil {
					return err
				}
			}
		}
	}
	// A keyless aggregation over zero rows still yields one row: count 0,
	// everything else null.
	if len(agg.groupExprs) == 0 && len(global.groups) == 0 {
		g, _ := global.findOrCreate(0, "", nil)
		g.accs = agg.freshAccs()
	}

	agg.result = storage.NewRecordBatch(agg.schema, len(global.groups))
	keyCount := len(agg.groupExprs)
	for _, g := range global.groups {
		for i, d := range g.keys {
			agg.result.Records[i].AppendDatum(d)
		}
		for i, acc := range g.accs {
			agg.result.Records[keyCount+i].AppendDatum(acc.value())
		}
	}
	return nil
}

func (agg *aggExec) freshAccs() []accumulator {
	accs := make([]accumulator, len(agg.aggFuncs))
	for i, f := range agg.aggFuncs {
		accs[i] = makeAccumulator(f, agg.aggChildTPs[i])
	}
	return accs
}

func (agg *aggExec) buildPartial(chunk *storage.RecordBatch) (*aggTable, error) {
	keyCols := make([]*storage.ColumnVector, len(agg.groupExprs))
	for i, e := range agg.groupExprs {
		col, err := e.eval(chunk)
		if err != nil {
			return nil, err
		}
		keyCols[i] = col
	}
	childCols := make([]*storage.ColumnVector, len(agg.aggChildren))
	for i, e := range agg.aggChildren {
		col, err := e.eval(chunk)
		if err != nil {
			return nil, err
		}
		childCols[i] = col
	}

	table := newAggTable()
	var buf []byte
	for row := 0; row < chunk.RowCount(); row++ {
		buf = buf[:0]
		for _, col := range keyCols {
			buf = col.AppendKeyBytes(buf, row)
		}
		g, created := table.findOrCreate(xxhash.Sum64(buf), string(buf), nil)
		if created {
			g.keys = make([]storage.Datum, len(keyCols))
			for i, col := range keyCols {
				g.keys[i] = col.DatumAt(row)
			}
			g.accs = agg.freshAccs()
		}
		for i, acc := range g.accs {
			if err := acc.step(childCols[i], row); err != nil {
				return nil, err
			}
		}
	}
	return table, nil
}

// aggGroup is one hash table entry. key is the canonical key byte encoding;
// a null key cell encodes to its own tag, so null keys group together.
type aggGroup struct {
	hash uint64
	key  string
	keys []storage.Datum
	accs []accumulator
}

// aggTable is an insertion-ordered hash table keyed by canonical key bytes,
// with the full key kept per group to resolve hash collisions.
type aggTable struct {
	buckets map[uint64][]int
	groups  []*aggGroup
}

func newAggTable() *aggTable {
	return &aggTable{buckets: make(map[uint64][]int)}
}

func (t *aggTable) findOrCreate(hash uint64, key string, keys []storage.Datum) (*aggGroup, bool) {
	for _, idx := range t.buckets[hash] {
		if t.groups[idx].key == key {
			return t.groups[idx], false
		}
	}
	g := &aggGroup{hash: hash, key: key, keys: keys}
	t.buckets[hash] = append(t.buckets[hash], len(t.groups))
	t.groups = append(t.groups, g)
	return g, true
}
