package plan

import (
	"fmt"
	"strings"

	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
)

// LogicalPlan is a schema-validated, data-independent description of a
// relational computation. Nodes are immutable once built; constructors
// validate eagerly so a whole query can be checked before any I/O runs.
type LogicalPlan interface {
	Schema() *storage.TableSchema
	Children() []LogicalPlan
	String() string
}

// Explain renders the plan tree, one node per line, children indented.
func Explain(p LogicalPlan) string {
	var sb strings.Builder
	explainInto(&sb, p, 0)
	return sb.String()
}

func explainInto(sb *strings.Builder, p LogicalPlan, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(p.String())
	sb.WriteByte('\n')
	for _, child := range p.Children() {
		explainInto(sb, child, depth+1)
	}
}

// ScanPlan pulls chunks from an external source. The engine never parses
// formats itself; the source supplies schema-conforming chunks on demand.
type ScanPlan struct {
	Source storage.Source
	schema *storage.TableSchema
}

func NewScan(src storage.Source) (*ScanPlan, error) {
	schema, err := storage.NewTableSchema(src.Schema().Columns)
	if err != nil {
		return nil, err
	}
	return &ScanPlan{Source: src, schema: schema}, nil
}

func (scan *ScanPlan) Schema() *storage.TableSchema {
	return scan.schema
}

func (scan *ScanPlan) Children() []LogicalPlan {
	return nil
}

func (scan *ScanPlan) String() string {
	return fmt.Sprintf("Scan: %s", scan.schema)
}

// FilterPlan keeps the rows where the predicate is true. Null predicate rows
// are dropped.
type FilterPlan struct {
	Input     LogicalPlan
	Predicate Expr
}

func NewFilter(input LogicalPlan, predicate Expr) (*FilterPlan, error) {
	if predicate.HasAggr() {
		return nil, qerror.Schemaf("aggregate expression outside an Aggregate node: %s", predicate)
	}
	if predicate.HasWindow() {
		return nil, qerror.Typef("window expression in a filter predicate: %s", predicate)
	}
	f, err := predicate.ResultField(input.Schema())
	if err != nil {
		return nil, err
	}
	if f.TP != storage.Boolean {
		return nil, qerror.Typef("filter predicate %s returns %s, not bool", predicate, f.TP)
	}
	return &FilterPlan{Input: input, Predicate: predicate}, nil
}

func (sel *FilterPlan) Schema() *storage.TableSchema {
	// The schema is the same as the input schema.
	return sel.Input.Schema()
}

func (sel *FilterPlan) Children() []LogicalPlan {
	return []LogicalPlan{sel.Input}
}

func (sel *FilterPlan) String() string {
	return fmt.Sprintf("Filter: %s", sel.Predicate)
}

// ProjectPlan computes one output column per expression.
type ProjectPlan struct {
	Input  LogicalPlan
	Exprs  []Expr
	schema *storage.TableSchema
}

func NewProject(input LogicalPlan, exprs ...Expr) (*ProjectPlan, error) {
	if len(exprs) == 0 {
		return nil, qerror.Schemaf("projection needs at least one expression")
	}
	schema := &storage.TableSchema{}
	for _, e := range exprs {
		if e.HasAggr() {
			return nil, qerror.Schemaf("aggregate expression outside an Aggregate node: %s", e)
		}
		if e.HasWindow() {
			if _, ok := unalias(e).(*WindowExpr); !ok {
				return nil, qerror.Typef("window expression must be the whole projection expression in %s", e)
			}
		}
		f, err := e.ResultField(input.Schema())
		if err != nil {
			return nil, err
		}
		if schema.HasColumn(f.Name) {
			return nil, qerror.Schemaf("duplicate output column '%s' in projection", f.Name)
		}
		schema.AppendColumn(f)
	}
	return &ProjectPlan{Input: input, Exprs: exprs, schema: schema}, nil
}

func (proj *ProjectPlan) Schema() *storage.TableSchema {
	return proj.schema
}

func (proj *ProjectPlan) Children() []LogicalPlan {
	return []LogicalPlan{proj.Input}
}

func (proj *ProjectPlan) String() string {
	return fmt.Sprintf("Project: %s", exprsString(proj.Exprs))
}

func (proj *ProjectPlan) hasWindow() bool {
	for _, e := range proj.Exprs {
		if e.HasWindow() {
			return true
		}
	}
	return false
}

// AggregatePlan groups the input rows by the group expressions and folds
// every group through the aggregate expressions. Output rows come out in
// first-seen group order. With no aggregate expressions it degenerates to
// distinct-by-key.
type AggregatePlan struct {
	Input   LogicalPlan
	GroupBy []Expr
	Aggs    []Expr
	schema  *storage.TableSchema
}

func NewAggregate(input LogicalPlan, groupBy []Expr, aggs []Expr) (*AggregatePlan, error) {
	if len(groupBy) == 0 && len(aggs) == 0 {
		return nil, qerror.Schemaf("aggregate needs group keys or aggregate expressions")
	}
	schema := &storage.TableSchema{}
	for _, e := range groupBy {
		if e.HasAggr() || e.HasWindow() {
			return nil, qerror.Typef("invalid use of group function in group key %s", e)
		}
		f, err := e.ResultField(input.Schema())
		if err != nil {
			return nil, err
		}
		if schema.HasColumn(f.Name) {
			return nil, qerror.Schemaf("duplicate group key '%s'", f.Name)
		}
		schema.AppendColumn(f)
	}
	for _, e := range aggs {
		if !isAggRoot(e) {
			return nil, qerror.Typef("%s is not an aggregate expression", e)
		}
		f, err := e.ResultField(input.Schema())
		if err != nil {
			return nil, err
		}
		if schema.HasColumn(f.Name) {
			return nil, qerror.Schemaf("duplicate output column '%s' in aggregate", f.Name)
		}
		schema.AppendColumn(f)
	}
	return &AggregatePlan{Input: input, GroupBy: groupBy, Aggs: aggs, schema: schema}, nil
}

// isAggRoot accepts an AggExpr, possibly wrapped in aliases.
func isAggRoot(e Expr) bool {
	for {
		switch v := e.(type) {
		case *AggExpr:
			return true
		case *AliasExpr:
			e = v.Child
		default:
			return false
		}
	}
}

// aggCore unwraps aliases down to the AggExpr.
func aggCore(e Expr) *AggExpr {
	for {
		switch v := e.(type) {
		case *AggExpr:
			return v
		case *AliasExpr:
			e = v.Child
		default:
			panic("not an aggregate expression: " + e.String())
		}
	}
}

func (groupBy *AggregatePlan) Schema() *storage.TableSchema {
	return groupBy.schema
}

func (groupBy *AggregatePlan) Children() []LogicalPlan {
	return []LogicalPlan{groupBy.Input}
}

func (groupBy *AggregatePlan) String() string {
	return fmt.Sprintf("Aggregate: group=[%s] aggs=[%s]", exprsString(groupBy.GroupBy), exprsString(groupBy.Aggs))
}

type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	OuterJoin
	SemiJoin
	AntiJoin
	CrossJoin
)

var joinKindNames = map[JoinKind]string{
	InnerJoin: "inner",
	LeftJoin:  "left",
	OuterJoin: "outer",
	SemiJoin:  "semi",
	AntiJoin:  "anti",
	CrossJoin: "cross",
}

func (kind JoinKind) String() string {
	return joinKindNames[kind]
}

type JoinStrategy int

const (
	HashJoinStrategy JoinStrategy = iota
	NestedLoopStrategy
)

func (s JoinStrategy) String() string {
	if s == HashJoinStrategy {
		return "hash"
	}
	return "nested_loop"
}

// RightSuffix renames right-side columns that collide with left-side names
// in a join output.
const RightSuffix = "_right"

// JoinPlan joins two inputs on equality keys. Semi and anti joins return
// left rows with/without a match and never materialize right-side columns.
// Null keys never match. Strategy and build side are picked by the
// optimizer; the constructor defaults to hashing the right side.
type JoinPlan struct {
	Left      LogicalPlan
	Right     LogicalPlan
	Kind      JoinKind
	LeftKeys  []string
	RightKeys []string
	Strategy  JoinStrategy
	BuildLeft bool
	schema    *storage.TableSchema
}

func NewJoin(left, right LogicalPlan, kind JoinKind, leftKeys, rightKeys []string) (*JoinPlan, error) {
	if kind == CrossJoin {
		if len(leftKeys) != 0 || len(rightKeys) != 0 {
			return nil, qerror.JoinKeyf("cross join takes no keys")
		}
	} else {
		if len(leftKeys) == 0 || len(leftKeys) != len(rightKeys) {
			return nil, qerror.JoinKeyf("join key arity mismatch: %d left vs %d right", len(leftKeys), len(rightKeys))
		}
	}
	for i := range leftKeys {
		lf, ok := left.Schema().GetField(leftKeys[i])
		if !ok {
			return nil, qerror.Schemaf("unknown join key '%s' on the left side", leftKeys[i])
		}
		rf, ok := right.Schema().GetField(rightKeys[i])
		if !ok {
			return nil, qerror.Schemaf("unknown join key '%s' on the right side", rightKeys[i])
		}
		if lf.TP != rf.TP {
			return nil, qerror.JoinKeyf("join key dtype mismatch: %s is %s, %s is %s", lf.Name, lf.TP, rf.Name, rf.TP)
		}
	}
	strategy := HashJoinStrategy
	if kind == CrossJoin {
		strategy = NestedLoopStrategy
	}
	join := &JoinPlan{
		Left:      left,
		Right:     right,
		Kind:      kind,
		LeftKeys:  leftKeys,
		RightKeys: rightKeys,
		Strategy:  strategy,
	}
	join.schema = joinSchema(left.Schema(), right.Schema(), kind)
	return join, nil
}

func joinSchema(left, right *storage.TableSchema, kind JoinKind) *storage.TableSchema {
	if kind == SemiJoin || kind == AntiJoin {
		return left.Clone()
	}
	return left.Merge(right, RightSuffix)
}

func (join *JoinPlan) Schema() *storage.TableSchema {
	return join.schema
}

func (join *JoinPlan) Children() []LogicalPlan {
	return []LogicalPlan{join.Left, join.Right}
}

func (join *JoinPlan) String() string {
	build := "right"
	if join.BuildLeft {
		build = "left"
	}
	if join.Kind == CrossJoin {
		return fmt.Sprintf("Join(%s, %s)", join.Kind, join.Strategy)
	}
	return fmt.Sprintf("Join(%s, %s, build=%s): left_on=[%s] right_on=[%s]",
		join.Kind, join.Strategy, build,
		strings.Join(join.LeftKeys, ", "), strings.Join(join.RightKeys, ", "))
}

// SortPlan fully materializes its input and sorts it stably by the keys.
type SortPlan struct {
	Input LogicalPlan
	Keys  []SortKey
}

func NewSort(input LogicalPlan, keys ...SortKey) (*SortPlan, error) {
	if len(keys) == 0 {
		return nil, qerror.Schemaf("sort needs at least one key")
	}
	for _, key := range keys {
		if key.Expr.HasAggr() {
			return nil, qerror.Schemaf("aggregate expression outside an Aggregate node: %s", key.Expr)
		}
		if key.Expr.HasWindow() {
			return nil, qerror.Typef("window expression in a sort key: %s", key.Expr)
		}
		if _, err := key.Expr.ResultField(input.Schema()); err != nil {
			return nil, err
		}
	}
	return &SortPlan{Input: input, Keys: keys}, nil
}

func (orderBy *SortPlan) Schema() *storage.TableSchema {
	return orderBy.Input.Schema()
}

func (orderBy *SortPlan) Children() []LogicalPlan {
	return []LogicalPlan{orderBy.Input}
}

func (orderBy *SortPlan) String() string {
	return fmt.Sprintf("Sort: %s", sortKeysString(orderBy.Keys))
}

// LimitPlan returns count rows after skipping offset rows, then stops pulling
// from its input.
type LimitPlan struct {
	Input  LogicalPlan
	Offset int
	Count  int
}

func NewLimit(input LogicalPlan, offset, count int) (*LimitPlan, error) {
	if offset < 0 || count < 0 {
		return nil, qerror.Schemaf("limit offset and count must be non-negative")
	}
	return &LimitPlan{Input: input, Offset: offset, Count: count}, nil
}

func (limit *LimitPlan) Schema() *storage.TableSchema {
	return limit.Input.Schema()
}

func (limit *LimitPlan) Children() []LogicalPlan {
	return []LogicalPlan{limit.Input}
}

func (limit *LimitPlan) String() string {
	return fmt.Sprintf("Limit: offset=%d count=%d", limit.Offset, limit.Count)
}

// UnionPlan concatenates inputs with identical schemas. Branches are
// independent and may be evaluated in parallel.
type UnionPlan struct {
	Inputs []LogicalPlan
}

func NewUnion(inputs ...LogicalPlan) (*UnionPlan, error) {
	if len(inputs) == 0 {
		return nil, qerror.Schemaf("union needs at least one input")
	}
	first := inputs[0].Schema()
	for _, input := range inputs[1:] {
		if !first.Equal(input.Schema()) {
			return nil, qerror.Schemaf("union schema mismatch: %s vs %s", first, input.Schema())
		}
	}
	return &UnionPlan{Inputs: inputs}, nil
}

func (union *UnionPlan) Schema() *storage.TableSchema {
	return union.Inputs[0].Schema()
}

func (union *UnionPlan) Children() []LogicalPlan {
	return union.Inputs
}

func (union *UnionPlan) String() string {
	return fmt.Sprintf("Union: %d inputs", len(union.Inputs))
}
