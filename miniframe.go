// Package miniframe is a lazy, columnar query engine. A LazyFrame records a
// logical plan; nothing runs until Collect, which optimizes the plan,
// compiles it to a pull-based chunk executor and drains it.
package miniframe

import (
	"context"

	"github.com/xiaobogaga/miniframe/plan"
	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
)

// LazyFrame is an immutable query description. Every method returns a new
// frame; a construction error is carried along and surfaces on the next
// operation, so call chains stay linear.
type LazyFrame struct {
	plan plan.LogicalPlan
	err  error
}

// Scan starts a frame from a chunk source.
func Scan(src storage.Source) *LazyFrame {
	p, err := plan.NewScan(src)
	if err != nil {
		return &LazyFrame{err: err}
	}
	return &LazyFrame{plan: p}
}

// FromColumns starts a frame from in-memory columns. All columns must share
// one row count.
func FromColumns(cols ...*storage.ColumnVector) *LazyFrame {
	if len(cols) == 0 {
		return &LazyFrame{err: qerror.Schemaf("a frame needs at least one column")}
	}
	fields := make([]storage.Field, len(cols))
	for i, col := range cols {
		if col.RowCount() != cols[0].RowCount() {
			return &LazyFrame{err: qerror.Schemaf("column '%s' has %d rows, want %d",
				col.Field.Name, col.RowCount(), cols[0].RowCount())}
		}
		fields[i] = col.Field
	}
	schema, err := storage.NewTableSchema(fields)
	if err != nil {
		return &LazyFrame{err: err}
	}
	batch := &storage.RecordBatch{Fields: schema.Columns, Records: cols}
	return Scan(storage.NewMemSource(batch))
}

// Err returns the deferred construction error, nil when the chain is valid.
func (lf *LazyFrame) Err() error {
	return lf.err
}

// Schema returns the frame's output schema without executing anything.
func (lf *LazyFrame) Schema() (*storage.TableSchema, error) {
	if lf.err != nil {
		return nil, lf.err
	}
	return lf.plan.Schema(), nil
}

// Plan exposes the underlying logical plan, mostly for inspection in tests.
func (lf *LazyFrame) Plan() (plan.LogicalPlan, error) {
	if lf.err != nil {
		return nil, lf.err
	}
	return lf.plan, nil
}

func (lf *LazyFrame) wrap(p plan.LogicalPlan, err error) *LazyFrame {
	if err != nil {
		return &LazyFrame{err: err}
	}
	return &LazyFrame{plan: p}
}

// Filter keeps the rows where the predicate is true.
func (lf *LazyFrame) Filter(predicate plan.Expr) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	return lf.wrap(plan.NewFilter(lf.plan, predicate))
}

// Select projects the frame to exactly the given expressions.
func (lf *LazyFrame) Select(exprs ...plan.Expr) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	return lf.wrap(plan.NewProject(lf.plan, exprs...))
}

// WithColumns appends computed columns, replacing an existing column in place
// when the names collide.
func (lf *LazyFrame) WithColumns(exprs ...plan.Expr) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	schema := lf.plan.Schema()
	replace := make(map[string]plan.Expr)
	var added []plan.Expr
	for _, e := range exprs {
		f, err := e.ResultField(schema)
		if err != nil {
			return &LazyFrame{err: err}
		}
		if schema.HasColumn(f.Name) {
			replace[f.Name] = e
		} else {
			added = append(added, e)
		}
	}
	all := make([]plan.Expr, 0, schema.ColumnCount()+len(added))
	for _, f := range schema.Columns {
		if e, ok := replace[f.Name]; ok {
			all = append(all, e)
		} else {
			all = append(all, plan.Col(f.Name))
		}
	}
	all = append(all, added...)
	return lf.wrap(plan.NewProject(lf.plan, all...))
}

// Drop removes the named columns. Dropping an unknown column is an error.
func (lf *LazyFrame) Drop(names ...string) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	schema := lf.plan.Schema()
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		if !schema.HasColumn(name) {
			return &LazyFrame{err: qerror.Schemaf("cannot drop unknown column '%s'", name)}
		}
		drop[name] = true
	}
	var kept []plan.Expr
	for _, f := range schema.Columns {
		if !drop[f.Name] {
			kept = append(kept, plan.Col(f.Name))
		}
	}
	if len(kept) == 0 {
		return &LazyFrame{err: qerror.Schemaf("cannot drop every column")}
	}
	return lf.wrap(plan.NewProject(lf.plan, kept...))
}

// Rename renames columns through an old-name to new-name mapping.
func (lf *LazyFrame) Rename(mapping map[string]string) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	schema := lf.plan.Schema()
	for old := range mapping {
		if !schema.HasColumn(old) {
			return &LazyFrame{err: qerror.Schemaf("cannot rename unknown column '%s'", old)}
		}
	}
	exprs := make([]plan.Expr, schema.ColumnCount())
	for i, f := range schema.Columns {
		if to, ok := mapping[f.Name]; ok {
			exprs[i] = plan.Alias(plan.Col(f.Name), to)
		} else {
			exprs[i] = plan.Col(f.Name)
		}
	}
	return lf.wrap(plan.NewProject(lf.plan, exprs...))
}

// FillNull replaces null cells of the named column with the fallback value.
func (lf *LazyFrame) FillNull(name string, fallback plan.Expr) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	return lf.WithColumns(plan.FillNull(plan.Col(name), fallback))
}

// GroupedFrame is a frame with pending group keys, waiting for Agg.
type GroupedFrame struct {
	lf   *LazyFrame
	keys []plan.Expr
}

// GroupBy starts a grouped aggregation. Rows come out in first-seen key
// order.
func (lf *LazyFrame) GroupBy(keys ...plan.Expr) *GroupedFrame {
	return &GroupedFrame{lf: lf, keys: keys}
}

// Agg folds every group through the aggregate expressions.
func (g *GroupedFrame) Agg(aggs ...plan.Expr) *LazyFrame {
	if g.lf.err != nil {
		return g.lf
	}
	return g.lf.wrap(plan.NewAggregate(g.lf.plan, g.keys, aggs))
}

// Distinct keeps the first row of every distinct full-row value.
func (lf *LazyFrame) Distinct() *LazyFrame {
	if lf.err != nil {
		return lf
	}
	schema := lf.plan.Schema()
	keys := make([]plan.Expr, schema.ColumnCount())
	for i, f := range schema.Columns {
		keys[i] = plan.Col(f.Name)
	}
	return lf.wrap(plan.NewAggregate(lf.plan, keys, nil))
}

// Join joins two frames on equality keys. Right-side columns whose name
// collides with a left-side name come out suffixed.
func (lf *LazyFrame) Join(other *LazyFrame, kind plan.JoinKind, leftOn, rightOn []string) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	if other.err != nil {
		return other
	}
	return lf.wrap(plan.NewJoin(lf.plan, other.plan, kind, leftOn, rightOn))
}

// Cross pairs every row of lf with every row of other.
func (lf *LazyFrame) Cross(other *LazyFrame) *LazyFrame {
	return lf.Join(other, plan.CrossJoin, nil, nil)
}

// Sort orders the frame stably by the keys.
func (lf *LazyFrame) Sort(keys ...plan.SortKey) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	return lf.wrap(plan.NewSort(lf.plan, keys...))
}

// Limit keeps count rows after skipping offset rows.
func (lf *LazyFrame) Limit(offset, count int) *LazyFrame {
	if lf.err != nil {
		return lf
	}
	return lf.wrap(plan.NewLimit(lf.plan, offset, count))
}

// Head keeps the first n rows.
func (lf *LazyFrame) Head(n int) *LazyFrame {
	return lf.Limit(0, n)
}

// Concat stacks frames with identical schemas on top of each other.
func Concat(frames ...*LazyFrame) *LazyFrame {
	if len(frames) == 0 {
		return &LazyFrame{err: qerror.Schemaf("concat needs at least one frame")}
	}
	inputs := make([]plan.LogicalPlan, len(frames))
	for i, frame := range frames {
		if frame.err != nil {
			return frame
		}
		inputs[i] = frame.plan
	}
	p, err := plan.NewUnion(inputs...)
	if err != nil {
		return &LazyFrame{err: err}
	}
	return &LazyFrame{plan: p}
}

// Collect optimizes, compiles and runs the plan, materializing the whole
// result as one batch. ctx cancels the run between chunks.
func (lf *LazyFrame) Collect(ctx context.Context) (*storage.RecordBatch, error) {
	ec := plan.NewExecContext()
	ec.Ctx = ctx
	return lf.CollectWith(ec)
}

// CollectWith runs the plan under a caller-supplied execution context, for
// callers that tune batch size, cast mode, null ordering or the worker pool.
func (lf *LazyFrame) CollectWith(ec *plan.ExecContext) (*storage.RecordBatch, error) {
	if lf.err != nil {
		return nil, lf.err
	}
	return plan.Run(lf.plan, ec)
}

// Explain renders the optimized plan tree.
func (lf *LazyFrame) Explain() (string, error) {
	if lf.err != nil {
		return "", lf.err
	}
	optimized, err := plan.Optimize(lf.plan)
	if err != nil {
		return "", err
	}
	return plan.Explain(optimized), nil
}
