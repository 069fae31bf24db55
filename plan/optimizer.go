package plan

import (
	"github.com/xiaobogaga/miniframe/storage"
	"github.com/xiaobogaga/miniframe/util"
)

var optLog = util.GetLog("optimizer")

// A rewrite pass is a pure Plan -> Plan function that preserves the output
// schema and the output row multiset. The pass order is fixed: a pushed-down
// predicate may reference columns that projection pushdown would otherwise
// prune, so predicates always move first.
type rewritePass struct {
	name string
	fn   func(LogicalPlan) (LogicalPlan, error)
}

func optimizerPasses() []rewritePass {
	return []rewritePass{
		{"predicate_pushdown", pushDownPredicates},
		{"projection_pushdown", pushDownProjections},
		{"common_subexpr_elim", eliminateCommonSubexprs},
		{"simplify", simplifyPlan},
		{"join_strategy", chooseJoinStrategies},
	}
}

// Optimize rewrites the plan through the fixed pass sequence. The sequence
// is a fixed point: optimizing an already optimized plan changes nothing.
func Optimize(p LogicalPlan) (LogicalPlan, error) {
	for _, pass := range optimizerPasses() {
		next, err := pass.fn(p)
		if err != nil {
			return nil, err
		}
		if Explain(next) != Explain(p) {
			optLog.DebugF("pass %s rewrote the plan", pass.name)
		}
		p = next
	}
	return p, nil
}

// replaceChildren rebuilds a node over new children through its constructor,
// revalidating and recomputing the schema.
func replaceChildren(p LogicalPlan, children []LogicalPlan) (LogicalPlan, error) {
	switch v := p.(type) {
	case *ScanPlan:
		return v, nil
	case *FilterPlan:
		return NewFilter(children[0], v.Predicate)
	case *ProjectPlan:
		return NewProject(children[0], v.Exprs...)
	case *AggregatePlan:
		return NewAggregate(children[0], v.GroupBy, v.Aggs)
	case *JoinPlan:
		join, err := NewJoin(children[0], children[1], v.Kind, v.LeftKeys, v.RightKeys)
		if err != nil {
			return nil, err
		}
		join.Strategy = v.Strategy
		join.BuildLeft = v.BuildLeft
		return join, nil
	case *SortPlan:
		return NewSort(children[0], v.Keys...)
	case *LimitPlan:
		return NewLimit(children[0], v.Offset, v.Count)
	case *UnionPlan:
		return NewUnion(children...)
	default:
		panic("unknown plan node")
	}
}

// rewriteBottomUp rebuilds the tree leaves-first, applying fn to every node.
func rewriteBottomUp(p LogicalPlan, fn func(LogicalPlan) (LogicalPlan, error)) (LogicalPlan, error) {
	children := p.Children()
	if len(children) > 0 {
		newChildren := make([]LogicalPlan, len(children))
		for i, child := range children {
			nc, err := rewriteBottomUp(child, fn)
			if err != nil {
				return nil, err
			}
			newChildren[i] = nc
		}
		var err error
		p, err = replaceChildren(p, newChildren)
		if err != nil {
			return nil, err
		}
	}
	return fn(p)
}

// simplifyPlan folds literal-only subexpressions, removes no-op filters and
// identity projections, drops redundant casts, and merges a pure
// column-selection projection into the projection below it.
func simplifyPlan(p LogicalPlan) (LogicalPlan, error) {
	return rewriteBottomUp(p, simplifyNode)
}

func simplifyNode(p LogicalPlan) (LogicalPlan, error) {
	switch v := p.(type) {
	case *FilterPlan:
		pred := simplifyExpr(v.Predicate, v.Input.Schema())
		if lit, ok := pred.(*LiteralExpr); ok && !lit.Value.Null && lit.Value.B {
			return v.Input, nil
		}
		return NewFilter(v.Input, pred)
	case *ProjectPlan:
		exprs := make([]Expr, len(v.Exprs))
		for i, e := range v.Exprs {
			exprs[i] = simplifyExpr(e, v.Input.Schema())
		}
		if isIdentityProject(exprs, v.Input.Schema()) {
			return v.Input, nil
		}
		if merged, ok := mergeSimpleProject(exprs, v.Input); ok {
			return merged, nil
		}
		return NewProject(v.Input, exprs...)
	case *AggregatePlan:
		groupBy := make([]Expr, len(v.GroupBy))
		for i, e := range v.GroupBy {
			groupBy[i] = simplifyExpr(e, v.Input.Schema())
		}
		aggs := make([]Expr, len(v.Aggs))
		for i, e := range v.Aggs {
			aggs[i] = simplifyExpr(e, v.Input.Schema())
		}
		return NewAggregate(v.Input, groupBy, aggs)
	case *SortPlan:
		keys := make([]SortKey, len(v.Keys))
		for i, key := range v.Keys {
			keys[i] = SortKey{Expr: simplifyExpr(key.Expr, v.Input.Schema()), Desc: key.Desc}
		}
		return NewSort(v.Input, keys...)
	default:
		return p, nil
	}
}

// isIdentityProject reports whether the projection reproduces its input
// schema column for column.
func isIdentityProject(exprs []Expr, input *storage.TableSchema) bool {
	if len(exprs) != input.ColumnCount() {
		return false
	}
	for i, e := range exprs {
		col, ok := e.(*ColumnExpr)
		if !ok || col.Name != input.Columns[i].Name {
			return false
		}
	}
	return true
}

// mergeSimpleProject collapses Project(cols...) over Project(...) into one
// projection when the outer one is a bare, unaliased column selection. Bare
// selections come out of projection pushdown; anything aliased or computed is
// left alone so common-subexpression splits stay split.
func mergeSimpleProject(exprs []Expr, input LogicalPlan) (LogicalPlan, bool) {
	inner, ok := input.(*ProjectPlan)
	if !ok || inner.hasWindow() {
		return nil, false
	}
	merged := make([]Expr, len(exprs))
	for i, e := range exprs {
		col, ok := e.(*ColumnExpr)
		if !ok {
			return nil, false
		}
		idx := inner.schema.IndexOf(col.Name)
		if idx < 0 {
			return nil, false
		}
		merged[i] = inner.Exprs[idx]
	}
	ret, err := NewProject(inner.Input, merged...)
	if err != nil {
		return nil, false
	}
	return ret, true
}

// simplifyExpr rewrites an expression bottom-up: constant folding plus
// redundant-cast removal. Folding never introduces an error the original
// expression would not hit; a fold that would fail (overflow, bad cast) is
// left in place to fail at execution time.
func simplifyExpr(e Expr, input *storage.TableSchema) Expr {
	children := e.Children()
	if len(children) > 0 {
		newChildren := make([]Expr, len(children))
		changed := false
		for i, child := range children {
			newChildren[i] = simplifyExpr(child, input)
			if newChildren[i] != child {
				changed = true
			}
		}
		if changed {
			e = e.withChildren(newChildren)
		}
	}
	switch v := e.(type) {
	case *BinaryExpr:
		return foldBinary(v)
	case *UnaryExpr:
		if lit, ok := v.Child.(*LiteralExpr); ok {
			if v.Op == UnNot {
				return Lit(storage.NotDatum(lit.Value))
			}
			if folded, err := storage.ArithDatum(storage.OpSub, "", storage.NewIntDatum(0), lit.Value); err == nil && lit.Value.TP == storage.Int64 {
				return Lit(folded)
			}
			if lit.Value.TP == storage.Float64 && !lit.Value.Null {
				return Lit(storage.NewFloatDatum(-lit.Value.F))
			}
		}
		return e
	case *CastExpr:
		if cf, err := v.Child.ResultField(input); err == nil && cf.TP == v.Target {
			return v.Child
		}
		if lit, ok := v.Child.(*LiteralExpr); ok {
			if lit.Value.Null {
				return NullLit(v.Target)
			}
			if folded, err := storage.CastDatum(lit.Value, v.Target, true); err == nil {
				return Lit(folded)
			}
		}
		return e
	default:
		return e
	}
}

func foldBinary(bin *BinaryExpr) Expr {
	lLit, lOK := bin.Left.(*LiteralExpr)
	rLit, rOK := bin.Right.(*LiteralExpr)
	switch bin.Op {
	case BinAnd:
		// Three-valued shortcuts: false absorbs, true is the identity.
		if lOK && !lLit.Value.Null {
			if !lLit.Value.B {
				return BoolLit(false)
			}
			return bin.Right
		}
		if rOK && !rLit.Value.Null {
			if !rLit.Value.B {
				return BoolLit(false)
			}
			return bin.Left
		}
		if lOK && rOK {
			return Lit(storage.AndDatum(lLit.Value, rLit.Value))
		}
		return bin
	case BinOr:
		if lOK && !lLit.Value.Null {
			if lLit.Value.B {
				return BoolLit(true)
			}
			return bin.Right
		}
		if rOK && !rLit.Value.Null {
			if rLit.Value.B {
				return BoolLit(true)
			}
			return bin.Left
		}
		if lOK && rOK {
			return Lit(storage.OrDatum(lLit.Value, rLit.Value))
		}
		return bin
	}
	if !lOK || !rOK {
		return bin
	}
	if bin.Op.isCmp() {
		if !storage.ComparableTypes(lLit.Value.TP, rLit.Value.TP) {
			return bin
		}
		return Lit(storage.CompareDatum(bin.Op.cmpOp(), lLit.Value, rLit.Value))
	}
	folded, err := storage.ArithDatum(bin.Op.arithOp(), "", lLit.Value, rLit.Value)
	if err != nil {
		return bin
	}
	return Lit(folded)
}

// chooseJoinStrategies picks hash vs nested-loop and the build side from
// estimated cardinalities. It chooses an algorithm, never changes rows.
func chooseJoinStrategies(p LogicalPlan) (LogicalPlan, error) {
	return rewriteBottomUp(p, func(node LogicalPlan) (LogicalPlan, error) {
		join, ok := node.(*JoinPlan)
		if !ok {
			return node, nil
		}
		rebuilt, err := NewJoin(join.Left, join.Right, join.Kind, join.LeftKeys, join.RightKeys)
		if err != nil {
			return nil, err
		}
		if join.Kind == CrossJoin {
			rebuilt.Strategy = NestedLoopStrategy
			return rebuilt, nil
		}
		rebuilt.Strategy = HashJoinStrategy
		// Only an inner join is symmetric enough to hash either side; the
		// other kinds need the right side in the table.
		if join.Kind == InnerJoin {
			l, r := estimateRows(join.Left), estimateRows(join.Right)
			if l >= 0 && (r < 0 || l < r) {
				rebuilt.BuildLeft = true
			}
		}
		return rebuilt, nil
	})
}

// estimateRows guesses output cardinality, -1 when unknown. Good enough to
// pick a hash-join build side; never trusted for correctness.
func estimateRows(p LogicalPlan) int {
	switch v := p.(type) {
	case *ScanPlan:
		return v.Source.EstimateRows()
	case *FilterPlan:
		n := estimateRows(v.Input)
		if n < 0 {
			return -1
		}
		return n / 2
	case *ProjectPlan:
		return estimateRows(v.Input)
	case *SortPlan:
		return estimateRows(v.Input)
	case *LimitPlan:
		n := estimateRows(v.Input)
		if n < 0 {
			return v.Count
		}
		if v.Count < n {
			return v.Count
		}
		return n
	case *AggregatePlan:
		n := estimateRows(v.Input)
		if n < 0 {
			return -1
		}
		return n/2 + 1
	case *JoinPlan:
		l, r := estimateRows(v.Left), estimateRows(v.Right)
		if l < 0 || r < 0 {
			return -1
		}
		if v.Kind == CrossJoin {
			return l * r
		}
		if l > r {
			return l
		}
		return r
	case *UnionPlan:
		total := 0
		for _, input := range v.Inputs {
			n := estimateRows(input)
			if n < 0 {
				return -1
			}
			total += n
		}
		return total
	default:
		return -1
	}
}
