package plan

import (
	"context"
	"math"
	"testing"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"
	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
)

// smallCtx exercises chunk boundaries: tiny batches everywhere.
func smallCtx() *ExecContext {
	ec := NewExecContext()
	ec.BatchSize = 2
	return ec
}

func colInts(t *testing.T, batch *storage.RecordBatch, i int) []interface{} {
	t.Helper()
	col := batch.Column(i)
	ret := make([]interface{}, col.RowCount())
	for row := 0; row < col.RowCount(); row++ {
		if col.IsNull(row) {
			continue
		}
		ret[row] = col.Int(row)
	}
	return ret
}

func TestFilterProjectEndToEnd(t *testing.T) {
	scan := scanOf(t, 2, intsCol("a", 1, 2, 3, 4, 5), intsCol("b", 10, 20, 30, 40, 50))
	filter, err := NewFilter(scan, Gt(Col("a"), IntLit(2)))
	require.NoError(t, err)
	proj, err := NewProject(filter, Alias(Add(Col("a"), Col("b")), "s"))
	require.NoError(t, err)

	out := drain(t, proj, smallCtx())
	require.Equal(t, []string{"s"}, out.Schema().Names())
	require.Equal(t, []interface{}{int64(33), int64(44), int64(55)}, colInts(t, out, 0))
}

func TestAggregateFirstSeenOrderSkipsNulls(t *testing.T) {
	scan := scanOf(t, 2, intsCol("id", 1, 2, 2, 3), intsCol("val", 10, nil, 20, 30))
	agg, err := NewAggregate(scan, []Expr{Col("id")}, []Expr{Sum(Col("val"))})
	require.NoError(t, err)

	out := drain(t, agg, smallCtx())
	require.Equal(t, []string{"id", "val"}, out.Schema().Names())
	require.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, colInts(t, out, 0))
	require.Equal(t, []interface{}{int64(10), int64(20), int64(30)}, colInts(t, out, 1))
}

func TestAggregateFunctions(t *testing.T) {
	scan := scanOf(t, 2, strsCol("g", "a", "a", "b", "b", "b"),
		intsCol("v", 4, nil, 1, 3, 2))
	agg, err := NewAggregate(scan, []Expr{Col("g")}, []Expr{
		Alias(Sum(Col("v")), "sum"),
		Alias(Count(Col("v")), "cnt"),
		Alias(Mean(Col("v")), "avg"),
		Alias(Min(Col("v")), "min"),
		Alias(Max(Col("v")), "max"),
		Alias(First(Col("v")), "first"),
		Alias(Last(Col("v")), "last"),
	})
	require.NoError(t, err)

	out := drain(t, agg, smallCtx())
	require.Equal(t, 2, out.RowCount())
	require.Equal(t, "a", out.Column(0).Str(0))
	require.Equal(t, int64(4), out.Column(1).Int(0))   // sum skips the null
	require.Equal(t, int64(1), out.Column(2).Int(0))   // count of non-nulls
	require.Equal(t, 4.0, out.Column(3).Float(0))
	require.Equal(t, int64(4), out.Column(6).Int(0))   // first
	require.Equal(t, int64(4), out.Column(7).Int(0))   // last non-null

	require.Equal(t, "b", out.Column(0).Str(1))
	require.Equal(t, int64(6), out.Column(1).Int(1))
	require.Equal(t, int64(3), out.Column(2).Int(1))
	require.Equal(t, 2.0, out.Column(3).Float(1))
	require.Equal(t, int64(1), out.Column(4).Int(1))
	require.Equal(t, int64(3), out.Column(5).Int(1))
	require.Equal(t, int64(1), out.Column(6).Int(1))
	require.Equal(t, int64(2), out.Column(7).Int(1))
}

func TestAggregateNullKeyIsItsOwnGroup(t *testing.T) {
	scan := scanOf(t, 2, intsCol("id", 1, nil, nil, 1), intsCol("v", 1, 2, 3, 4))
	agg, err := NewAggregate(scan, []Expr{Col("id")}, []Expr{Sum(Col("v"))})
	require.NoError(t, err)

	out := drain(t, agg, smallCtx())
	require.Equal(t, 2, out.RowCount())
	require.Equal(t, int64(1), out.Column(0).Int(0))
	require.Equal(t, int64(5), out.Column(1).Int(0))
	require.True(t, out.Column(0).IsNull(1))
	require.Equal(t, int64(5), out.Column(1).Int(1))
}

func TestKeylessAggregateOverEmptyInput(t *testing.T) {
	scan := scanOf(t, 0, intsCol("v"))
	agg, err := NewAggregate(scan, nil, []Expr{
		Alias(Count(Col("v")), "n"), Alias(Sum(Col("v")), "s")})
	require.NoError(t, err)

	out := drain(t, agg, smallCtx())
	require.Equal(t, 1, out.RowCount())
	require.Equal(t, int64(0), out.Column(0).Int(0))
	require.True(t, out.Column(1).IsNull(0))
}

func TestDistinctByAllColumns(t *testing.T) {
	scan := scanOf(t, 2, intsCol("a", 1, 1, 2, 1), strsCol("s", "x", "x", "y", "z"))
	agg, err := NewAggregate(scan, []Expr{Col("a"), Col("s")}, nil)
	require.NoError(t, err)

	out := drain(t, agg, smallCtx())
	require.Equal(t, 3, out.RowCount())
	require.Equal(t, []interface{}{int64(1), int64(2), int64(1)}, colInts(t, out, 0))
}

func TestAggregateSumOverflow(t *testing.T) {
	big := storage.NewColumnVector(storage.Field{Name: "v", TP: storage.Int64}, 2)
	big.AppendInt(1<<62 + 1<<61)
	big.AppendInt(1<<62 + 1<<61)
	scan := scanOf(t, 0, big)
	agg, err := NewAggregate(scan, nil, []Expr{Sum(Col("v"))})
	require.NoError(t, err)

	exec, err := Compile(agg, smallCtx())
	require.NoError(t, err)
	_, err = exec.Next()
	require.True(t, qerror.IsKind(err, qerror.Overflow))
}

func TestInnerJoinMultiplicity(t *testing.T) {
	left := scanOf(t, 2, intsCol("id", 1, 2, 2, 5), intsCol("v", 10, 20, 30, 40))
	right := scanOf(t, 2, intsCol("id", 2, 2, 3), strsCol("w", "a", "b", "c"))
	join, err := NewJoin(left, right, InnerJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)

	out := drain(t, join, smallCtx())
	// id=2 matches 2x2 rows, everything else matches nothing.
	require.Equal(t, 4, out.RowCount())
	require.Equal(t, []string{"id", "v", "id_right", "w"}, out.Schema().Names())
	for row := 0; row < 4; row++ {
		require.Equal(t, int64(2), out.Column(0).Int(row))
		require.Equal(t, int64(2), out.Column(2).Int(row))
	}
}

func TestLeftJoinPadsMisses(t *testing.T) {
	left := scanOf(t, 2, intsCol("id", 1, 2, nil), intsCol("v", 10, 20, 30))
	right := scanOf(t, 2, intsCol("id", 2), strsCol("w", "hit"))
	join, err := NewJoin(left, right, LeftJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)

	out := drain(t, join, smallCtx())
	require.Equal(t, 3, out.RowCount())
	// Row order follows the left side.
	require.True(t, out.Column(3).IsNull(0))
	require.Equal(t, "hit", out.Column(3).Str(1))
	// A null key never matches, the row is padded.
	require.True(t, out.Column(0).IsNull(2))
	require.True(t, out.Column(3).IsNull(2))
}

func TestOuterJoinEmitsBothSides(t *testing.T) {
	left := scanOf(t, 2, intsCol("id", 1, 2), intsCol("v", 10, 20))
	right := scanOf(t, 2, intsCol("id", 2, 3), strsCol("w", "b", "c"))
	join, err := NewJoin(left, right, OuterJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)

	out := drain(t, join, smallCtx())
	require.Equal(t, 3, out.RowCount())
	// Probe-side rows first (left order), then the unmatched build rows.
	require.Equal(t, int64(1), out.Column(0).Int(0))
	require.True(t, out.Column(2).IsNull(0))
	require.Equal(t, int64(2), out.Column(0).Int(1))
	require.Equal(t, "b", out.Column(3).Str(1))
	require.True(t, out.Column(0).IsNull(2))
	require.Equal(t, int64(3), out.Column(2).Int(2))
	require.Equal(t, "c", out.Column(3).Str(2))
}

func TestSemiAndAntiJoin(t *testing.T) {
	left := scanOf(t, 2, intsCol("id", 1, 2, 2, nil), intsCol("v", 10, 20, 30, 40))
	right := scanOf(t, 2, intsCol("id", 2, 2))
	semi, err := NewJoin(left, right, SemiJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)

	out := drain(t, semi, smallCtx())
	require.Equal(t, []string{"id", "v"}, out.Schema().Names())
	// A semi join never duplicates left rows.
	require.Equal(t, 2, out.RowCount())
	require.Equal(t, []interface{}{int64(20), int64(30)}, colInts(t, out, 1))

	anti, err := NewJoin(left, right, AntiJoin, []string{"id"}, []string{"id"})
	require.NoError(t, err)
	out = drain(t, anti, smallCtx())
	// The null-key row has no match, so the anti join keeps it.
	require.Equal(t, 2, out.RowCount())
	require.Equal(t, []interface{}{int64(10), int64(40)}, colInts(t, out, 1))
}

func TestCrossJoin(t *testing.T) {
	left := scanOf(t, 2, intsCol("a", 1, 2, 3))
	right := scanOf(t, 2, strsCol("b", "x", "y"))
	join, err := NewJoin(left, right, CrossJoin, nil, nil)
	require.NoError(t, err)

	out := drain(t, join, smallCtx())
	require.Equal(t, 6, out.RowCount())
	require.Equal(t, int64(1), out.Column(0).Int(0))
	require.Equal(t, "x", out.Column(1).Str(0))
	require.Equal(t, int64(1), out.Column(0).Int(1))
	require.Equal(t, "y", out.Column(1).Str(1))
	require.Equal(t, int64(3), out.Column(0).Int(5))
}

func TestSortNullPlacement(t *testing.T) {
	scan := scanOf(t, 2, intsCol("a", 3, nil, 1, 2, nil))
	sorted, err := NewSort(scan, Asc(Col("a")))
	require.NoError(t, err)

	out := drain(t, sorted, smallCtx())
	require.Equal(t, []interface{}{int64(1), int64(2), int64(3), nil, nil}, colInts(t, out, 0))

	// Descending flips values, nulls stay last.
	sorted, err = NewSort(scan, Desc(Col("a")))
	require.NoError(t, err)
	out = drain(t, sorted, smallCtx())
	require.Equal(t, []interface{}{int64(3), int64(2), int64(1), nil, nil}, colInts(t, out, 0))

	ec := smallCtx()
	ec.NullsFirst = true
	sorted, err = NewSort(scan, Asc(Col("a")))
	require.NoError(t, err)
	out = drain(t, sorted, ec)
	require.Equal(t, []interface{}{nil, nil, int64(1), int64(2), int64(3)}, colInts(t, out, 0))
}

func TestSortIsStable(t *testing.T) {
	scan := scanOf(t, 2, intsCol("k", 1, 1, 1, 0), intsCol("seq", 1, 2, 3, 4))
	sorted, err := NewSort(scan, Asc(Col("k")))
	require.NoError(t, err)
	out := drain(t, sorted, smallCtx())
	require.Equal(t, []interface{}{int64(4), int64(1), int64(2), int64(3)}, colInts(t, out, 1))
}

func TestLimitOffsetAcrossChunks(t *testing.T) {
	scan := scanOf(t, 2, intsCol("a", 1, 2, 3, 4, 5, 6, 7))
	limit, err := NewLimit(scan, 3, 2)
	require.NoError(t, err)
	out := drain(t, limit, smallCtx())
	require.Equal(t, []interface{}{int64(4), int64(5)}, colInts(t, out, 0))

	limit, err = NewLimit(scan, 6, 10)
	require.NoError(t, err)
	out = drain(t, limit, smallCtx())
	require.Equal(t, []interface{}{int64(7)}, colInts(t, out, 0))
}

func TestUnionKeepsBranchOrder(t *testing.T) {
	a := scanOf(t, 2, intsCol("v", 1, 2, 3))
	b := scanOf(t, 2, intsCol("v", 4))
	c := scanOf(t, 2, intsCol("v", 5, 6))
	union, err := NewUnion(a, b, c)
	require.NoError(t, err)

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	defer pool.Release()
	ec := smallCtx()
	ec.Pool = pool

	out := drain(t, union, ec)
	require.Equal(t, []interface{}{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6)},
		colInts(t, out, 0))
}

func TestAggregateWithPoolMatchesSequential(t *testing.T) {
	vals := make([]interface{}, 100)
	ids := make([]interface{}, 100)
	for i := range vals {
		ids[i] = i % 7
		vals[i] = i
	}
	build := func() *AggregatePlan {
		scan := scanOf(t, 3, intsCol("id", ids...), intsCol("v", vals...))
		agg, err := NewAggregate(scan, []Expr{Col("id")}, []Expr{Sum(Col("v")), Alias(First(Col("v")), "f")})
		require.NoError(t, err)
		return agg
	}

	sequential := drain(t, build(), smallCtx())

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	defer pool.Release()
	ec := smallCtx()
	ec.Pool = pool
	parallel := drain(t, build(), ec)

	require.Equal(t, sequential.String(), parallel.String())
}

func TestWindowRowNumberAndRank(t *testing.T) {
	scan := scanOf(t, 2,
		strsCol("g", "a", "a", "b", "a", "b"),
		intsCol("v", 3, 1, 5, 1, 5))
	proj, err := NewProject(scan,
		Col("g"), Col("v"),
		Alias(RowNumber([]Expr{Col("g")}, []SortKey{Asc(Col("v"))}), "rn"),
		Alias(Rank([]Expr{Col("g")}, []SortKey{Asc(Col("v"))}), "rk"))
	require.NoError(t, err)

	out := drain(t, proj, smallCtx())
	require.Equal(t, 5, out.RowCount())
	// Partition a rows are at input positions 0,1,3 with v = 3,1,1.
	require.Equal(t, int64(3), out.Column(2).Int(0)) // v=3 sorts last
	require.Equal(t, int64(1), out.Column(2).Int(1)) // first tie on v=1
	require.Equal(t, int64(2), out.Column(2).Int(3))
	require.Equal(t, int64(3), out.Column(3).Int(0)) // rank after the tie
	require.Equal(t, int64(1), out.Column(3).Int(1))
	require.Equal(t, int64(1), out.Column(3).Int(3)) // tied rank repeats
	// Partition b: v = 5,5.
	require.Equal(t, int64(1), out.Column(2).Int(2))
	require.Equal(t, int64(2), out.Column(2).Int(4))
	require.Equal(t, int64(1), out.Column(3).Int(4))
}

func TestWindowSumBroadcasts(t *testing.T) {
	scan := scanOf(t, 2,
		strsCol("g", "a", "b", "a", "b"),
		intsCol("v", 1, 10, 2, nil))
	proj, err := NewProject(scan,
		Col("v"),
		Alias(Over(WinSum, Col("v"), []Expr{Col("g")}, nil), "total"))
	require.NoError(t, err)

	out := drain(t, proj, smallCtx())
	require.Equal(t, []interface{}{int64(3), int64(10), int64(3), int64(10)}, colInts(t, out, 1))
}

func TestCastStrictVsLenientExecution(t *testing.T) {
	build := func() *ProjectPlan {
		scan := scanOf(t, 0, strsCol("s", "1", "oops"))
		proj, err := NewProject(scan, Cast(Col("s"), storage.Int64))
		require.NoError(t, err)
		return proj
	}

	exec, err := Compile(build(), NewExecContext())
	require.NoError(t, err)
	_, err = exec.Next()
	require.True(t, qerror.IsKind(err, qerror.Cast))

	ec := NewExecContext()
	ec.StrictCast = false
	out := drain(t, build(), ec)
	require.Equal(t, int64(1), out.Column(0).Int(0))
	require.True(t, out.Column(0).IsNull(1))
}

func TestFillNullExecution(t *testing.T) {
	scan := scanOf(t, 2, intsCol("v", 1, nil, 3))
	proj, err := NewProject(scan, FillNull(Col("v"), IntLit(0)))
	require.NoError(t, err)
	out := drain(t, proj, smallCtx())
	require.Equal(t, []interface{}{int64(1), int64(0), int64(3)}, colInts(t, out, 0))
}

func TestNegativeZeroFloatKeysMatch(t *testing.T) {
	negZero := math.Copysign(0, -1)

	left := scanOf(t, 0, floatsCol("k", negZero), intsCol("l", 1))
	right := scanOf(t, 0, floatsCol("k", 0.0), intsCol("r", 2))
	join, err := NewJoin(left, right, InnerJoin, []string{"k"}, []string{"k"})
	require.NoError(t, err)
	out := drain(t, join, smallCtx())
	require.Equal(t, 1, out.RowCount())
	require.Equal(t, int64(1), out.Column(1).Int(0))
	require.Equal(t, int64(2), out.Column(3).Int(0))

	scan := scanOf(t, 2, floatsCol("k", negZero, 0.0, negZero))
	agg, err := NewAggregate(scan, []Expr{Col("k")}, []Expr{Alias(Count(Col("k")), "n")})
	require.NoError(t, err)
	out = drain(t, agg, smallCtx())
	require.Equal(t, 1, out.RowCount())
	require.Equal(t, int64(3), out.Column(1).Int(0))
}

// emptyChunksExec yields empty chunks forever, so a limit above it can only
// stop through cancellation.
type emptyChunksExec struct {
	schema *storage.TableSchema
}

func (e *emptyChunksExec) Schema() *storage.TableSchema {
	return e.schema
}

func (e *emptyChunksExec) Next() (*storage.RecordBatch, error) {
	return storage.NewRecordBatch(e.schema, 0), nil
}

func TestLimitObservesCancellation(t *testing.T) {
	schema, err := storage.NewTableSchema([]storage.Field{{Name: "a", TP: storage.Int64}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ec := smallCtx()
	ec.Ctx = ctx
	limit := &limitExec{input: &emptyChunksExec{schema: schema}, count: 10, ec: ec}
	_, err = limit.Next()
	require.True(t, qerror.IsKind(err, qerror.Cancelled))
}

func TestCancellationStopsExecution(t *testing.T) {
	scan := scanOf(t, 2, intsCol("a", 1, 2, 3))
	sorted, err := NewSort(scan, Asc(Col("a")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ec := smallCtx()
	ec.Ctx = ctx
	exec, err := Compile(sorted, ec)
	require.NoError(t, err)
	_, err = exec.Next()
	require.True(t, qerror.IsKind(err, qerror.Cancelled))
}

func TestDateColumnsFlowThrough(t *testing.T) {
	days, err := storage.ParseDate("2024-01-02")
	require.NoError(t, err)
	dates := storage.NewColumnVector(storage.Field{Name: "d", TP: storage.Date}, 2)
	dates.AppendInt(days)
	dates.AppendInt(days + 10)
	scan := scanOf(t, 0, dates)
	filter, err := NewFilter(scan, Gt(Col("d"), Cast(StrLit("2024-01-05"), storage.Date)))
	require.NoError(t, err)

	out := drain(t, filter, smallCtx())
	require.Equal(t, 1, out.RowCount())
	require.Equal(t, "2024-01-12", storage.FormatDate(out.Column(0).Int(0)))
}
