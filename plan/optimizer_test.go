package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xiaobogaga/miniframe/storage"
)

func findNodes(p LogicalPlan, match func(LogicalPlan) bool) []LogicalPlan {
	var ret []LogicalPlan
	if match(p) {
		ret = append(ret, p)
	}
	for _, child := range p.Children() {
		ret = append(ret, findNodes(child, match)...)
	}
	return ret
}

func filtersOf(p LogicalPlan) []*FilterPlan {
	nodes := findNodes(p, func(n LogicalPlan) bool {
		_, ok := n.(*FilterPlan)
		return ok
	})
	ret := make([]*FilterPlan, len(nodes))
	for i, n := range nodes {
		ret[i] = n.(*FilterPlan)
	}
	return ret
}

func mustOptimize(t *testing.T, p LogicalPlan) LogicalPlan {
	out, err := Optimize(p)
	require.NoError(t, err)
	return out
}

// drain compiles and runs a plan without optimizing it first.
func drain(t *testing.T, p LogicalPlan, ec *ExecContext) *storage.RecordBatch {
	exec, err := Compile(p, ec)
	require.NoError(t, err)
	ret := storage.NewRecordBatch(exec.Schema(), 0)
	for {
		batch, err := exec.Next()
		require.NoError(t, err)
		if batch == nil {
			return ret
		}
		ret.Append(batch)
	}
}

func TestPredicatePushdownThroughProject(t *testing.T) {
	scan := scanOf(t, 0, intsCol("a", 1, 5), intsCol("b", 2, 6), intsCol("c", 0, 0))
	proj, err := NewProject(scan, Alias(Add(Col("a"), Col("b")), "s"))
	require.NoError(t, err)
	filter, err := NewFilter(proj, Gt(Col("s"), IntLit(10)))
	require.NoError(t, err)

	opt := mustOptimize(t, filter)
	top, ok := opt.(*ProjectPlan)
	require.True(t, ok, Explain(opt))
	below, ok := top.Input.(*FilterPlan)
	require.True(t, ok, Explain(opt))
	// The filter now references the projection's defining expression.
	require.Equal(t, "((a + b) > 10)", below.Predicate.String())
}

func TestPredicatePushdownJoinSides(t *testing.T) {
	left := scanOf(t, 0, intsCol("id", 1, 2), intsCol("v", 10, 20))
	right := scanOf(t, 0, intsCol("id", 1, 2), intsCol("w", 1, 2))
	join, err := NewJoin(left, right, InnerJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)
	filter, err := NewFilter(join, And(Gt(Col("v"), IntLit(1)), Lt(Col("w"), IntLit(5))))
	require.NoError(t, err)

	opt := mustOptimize(t, filter)
	joins := findNodes(opt, func(n LogicalPlan) bool {
		_, ok := n.(*JoinPlan)
		return ok
	})
	require.Len(t, joins, 1)
	j := joins[0].(*JoinPlan)
	leftFilters := filtersOf(j.Left)
	rightFilters := filtersOf(j.Right)
	require.Len(t, leftFilters, 1)
	require.Len(t, rightFilters, 1)
	require.Equal(t, "(v > 1)", leftFilters[0].Predicate.String())
	require.Equal(t, "(w < 5)", rightFilters[0].Predicate.String())
	// Nothing remains above the join.
	_, topIsFilter := opt.(*FilterPlan)
	require.False(t, topIsFilter)
}

func TestPredicateStaysAboveOuterJoin(t *testing.T) {
	left := scanOf(t, 0, intsCol("id", 1), intsCol("v", 10))
	right := scanOf(t, 0, intsCol("id", 1), intsCol("w", 1))
	join, err := NewJoin(left, right, OuterJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)
	filter, err := NewFilter(join, Gt(Col("v"), IntLit(1)))
	require.NoError(t, err)

	opt := mustOptimize(t, filter)
	top, ok := opt.(*FilterPlan)
	require.True(t, ok, Explain(opt))
	_, ok = top.Input.(*JoinPlan)
	require.True(t, ok)
}

func TestPredicateNotPushedPastLimit(t *testing.T) {
	scan := scanOf(t, 0, intsCol("a", 1, 2, 3))
	limit, err := NewLimit(scan, 0, 2)
	require.NoError(t, err)
	filter, err := NewFilter(limit, Gt(Col("a"), IntLit(1)))
	require.NoError(t, err)

	opt := mustOptimize(t, filter)
	top, ok := opt.(*FilterPlan)
	require.True(t, ok, Explain(opt))
	_, ok = top.Input.(*LimitPlan)
	require.True(t, ok)
}

func TestProjectionPushdownPrunesScan(t *testing.T) {
	scan := scanOf(t, 0, intsCol("a", 1), intsCol("b", 2), intsCol("c", 3))
	proj, err := NewProject(scan, Col("a"))
	require.NoError(t, err)

	opt := mustOptimize(t, proj)
	top, ok := opt.(*ProjectPlan)
	require.True(t, ok, Explain(opt))
	require.Len(t, top.Exprs, 1)
	_, ok = top.Input.(*ScanPlan)
	require.True(t, ok, Explain(opt))
}

func TestProjectionPushdownKeepsFilterColumns(t *testing.T) {
	scan := scanOf(t, 0, intsCol("a", 1, 5), intsCol("b", 2, 6), intsCol("c", 3, 7))
	filter, err := NewFilter(scan, Gt(Col("b"), IntLit(3)))
	require.NoError(t, err)
	proj, err := NewProject(filter, Col("a"))
	require.NoError(t, err)

	opt := mustOptimize(t, proj)
	// The scan-side projection keeps b for the filter, the top keeps only a.
	require.Equal(t, []string{"a"}, opt.Schema().Names())
	ec := NewExecContext()
	out := drain(t, opt, ec)
	require.Equal(t, 1, out.RowCount())
	require.Equal(t, int64(5), out.Column(0).Int(0))
}

func TestSimplifyRemovesTrueFilter(t *testing.T) {
	scan := scanOf(t, 0, intsCol("a", 1))
	filter, err := NewFilter(scan, BoolLit(true))
	require.NoError(t, err)
	opt := mustOptimize(t, filter)
	_, ok := opt.(*ScanPlan)
	require.True(t, ok, Explain(opt))
}

func TestSimplifyFoldsConstants(t *testing.T) {
	scan := scanOf(t, 0, intsCol("a", 1))
	filter, err := NewFilter(scan, And(BoolLit(true), Gt(Col("a"), Add(IntLit(1), IntLit(2)))))
	require.NoError(t, err)
	opt := mustOptimize(t, filter)
	top, ok := opt.(*FilterPlan)
	require.True(t, ok, Explain(opt))
	require.Equal(t, "(a > 3)", top.Predicate.String())
}

func TestSimplifyRemovesRedundantCastAndIdentityProject(t *testing.T) {
	scan := scanOf(t, 0, intsCol("a", 1))
	proj, err := NewProject(scan, Cast(Col("a"), storage.Int64))
	require.NoError(t, err)
	opt := mustOptimize(t, proj)
	_, ok := opt.(*ScanPlan)
	require.True(t, ok, Explain(opt))
}

func TestCommonSubexprEvaluatedOnce(t *testing.T) {
	scan := scanOf(t, 0, intsCol("a", 1, 2, 3), intsCol("b", 4, 5, 6))
	proj, err := NewProject(scan,
		Alias(Add(Col("a"), Col("b")), "s"),
		Alias(Mul(Add(Col("a"), Col("b")), IntLit(2)), "d"))
	require.NoError(t, err)

	naive := make(map[string]int)
	ec := NewExecContext()
	ec.EvalHook = func(repr string) { naive[repr]++ }
	drain(t, proj, ec)
	require.Equal(t, 2, naive["(a + b)"])

	counts := make(map[string]int)
	ec = NewExecContext()
	ec.EvalHook = func(repr string) { counts[repr]++ }
	out, err := Run(proj, ec)
	require.NoError(t, err)
	require.Equal(t, 1, counts["(a + b)"])
	require.Equal(t, []string{"s", "d"}, out.Schema().Names())
	require.Equal(t, int64(5), out.Column(0).Int(0))
	require.Equal(t, int64(10), out.Column(1).Int(0))
	require.Equal(t, int64(9), out.Column(0).Int(2))
	require.Equal(t, int64(18), out.Column(1).Int(2))
}

func TestJoinStrategySelection(t *testing.T) {
	small := scanOf(t, 0, intsCol("id", 1, 2))
	bigVals := make([]interface{}, 64)
	for i := range bigVals {
		bigVals[i] = i
	}
	big := scanOf(t, 0, intsCol("id", bigVals...))

	join, err := NewJoin(small, big, InnerJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)
	opt := mustOptimize(t, join)
	require.True(t, opt.(*JoinPlan).BuildLeft, Explain(opt))

	join, err = NewJoin(big, small, InnerJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)
	opt = mustOptimize(t, join)
	require.False(t, opt.(*JoinPlan).BuildLeft)

	join, err = NewJoin(small, big, LeftJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)
	opt = mustOptimize(t, join)
	require.False(t, opt.(*JoinPlan).BuildLeft)

	cross, err := NewJoin(small, big, CrossJoin, nil, nil)
	require.NoError(t, err)
	opt = mustOptimize(t, cross)
	require.Equal(t, NestedLoopStrategy, opt.(*JoinPlan).Strategy)
}

func TestOptimizeIsIdempotent(t *testing.T) {
	left := scanOf(t, 0, intsCol("id", 1, 2), intsCol("v", 10, 20), intsCol("x", 0, 0))
	right := scanOf(t, 0, intsCol("id", 1, 2), intsCol("w", 1, 2))
	join, err := NewJoin(left, right, InnerJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)
	filter, err := NewFilter(join, Gt(Col("v"), IntLit(5)))
	require.NoError(t, err)
	proj, err := NewProject(filter,
		Alias(Add(Col("v"), Col("w")), "s"),
		Alias(Mul(Add(Col("v"), Col("w")), IntLit(3)), "t"))
	require.NoError(t, err)
	sorted, err := NewSort(proj, Asc(Col("s")))
	require.NoError(t, err)

	once := mustOptimize(t, sorted)
	twice := mustOptimize(t, once)
	require.Equal(t, Explain(once), Explain(twice))
}

func TestOptimizedPlanSameResult(t *testing.T) {
	left := scanOf(t, 2, intsCol("id", 1, 2, 2, 3, nil), intsCol("v", 10, 20, 30, 40, 50))
	right := scanOf(t, 2, intsCol("id", 2, 3, 4), strsCol("tag", "b", "c", "d"))
	join, err := NewJoin(left, right, LeftJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)
	filter, err := NewFilter(join, Gt(Col("v"), IntLit(5)))
	require.NoError(t, err)
	proj, err := NewProject(filter, Col("id"), Alias(Add(Col("v"), IntLit(1)), "v1"), Col("tag"))
	require.NoError(t, err)
	sorted, err := NewSort(proj, Asc(Col("v1")), Asc(Col("tag")))
	require.NoError(t, err)

	plain := drain(t, sorted, NewExecContext())
	optimized, err := Run(sorted, NewExecContext())
	require.NoError(t, err)
	require.Equal(t, plain.String(), optimized.String())
}
