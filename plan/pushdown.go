package plan

import (
	"github.com/xiaobogaga/miniframe/storage"
)

// pushDownPredicates moves filter clauses as close to the scans as possible.
// A conjunction is split into clauses and each clause sinks independently;
// clauses that cannot sink past a node are re-applied right above it.
func pushDownPredicates(p LogicalPlan) (LogicalPlan, error) {
	return pushPredicates(p, nil)
}

// pushPredicates returns a plan equivalent to Filter(and(preds...), p). The
// pending clauses are written against p's output schema.
func pushPredicates(p LogicalPlan, preds []Expr) (LogicalPlan, error) {
	switch v := p.(type) {
	case *FilterPlan:
		return pushPredicates(v.Input, append(preds, splitConjuncts(v.Predicate)...))
	case *ProjectPlan:
		if v.hasWindow() {
			// Rows may not be dropped before a window function sees them.
			input, err := pushPredicates(v.Input, nil)
			if err != nil {
				return nil, err
			}
			proj, err := NewProject(input, v.Exprs...)
			if err != nil {
				return nil, err
			}
			return applyFilters(proj, preds)
		}
		// A projection is row for row, so a clause sinks through it by
		// inlining the defining expressions.
		mapping := make(map[string]Expr, len(v.Exprs))
		for i, e := range v.Exprs {
			mapping[v.schema.Columns[i].Name] = unalias(e)
		}
		rewritten := make([]Expr, len(preds))
		for i, clause := range preds {
			rewritten[i] = substituteColumns(clause, mapping)
		}
		input, err := pushPredicates(v.Input, rewritten)
		if err != nil {
			return nil, err
		}
		return NewProject(input, v.Exprs...)
	case *AggregatePlan:
		return pushThroughAggregate(v, preds)
	case *JoinPlan:
		return pushThroughJoin(v, preds)
	case *SortPlan:
		// Filtering before a stable sort keeps the final order.
		input, err := pushPredicates(v.Input, preds)
		if err != nil {
			return nil, err
		}
		return NewSort(input, v.Keys...)
	case *LimitPlan:
		// Filtering below a limit changes which rows the limit keeps.
		input, err := pushPredicates(v.Input, nil)
		if err != nil {
			return nil, err
		}
		limit, err := NewLimit(input, v.Offset, v.Count)
		if err != nil {
			return nil, err
		}
		return applyFilters(limit, preds)
	case *UnionPlan:
		inputs := make([]LogicalPlan, len(v.Inputs))
		for i, input := range v.Inputs {
			ni, err := pushPredicates(input, preds)
			if err != nil {
				return nil, err
			}
			inputs[i] = ni
		}
		return NewUnion(inputs...)
	default:
		return applyFilters(p, preds)
	}
}

// pushThroughAggregate sinks the clauses that only touch pass-through group
// key columns. Filtering whole groups by their key equals filtering the input
// rows by the same key.
func pushThroughAggregate(agg *AggregatePlan, preds []Expr) (LogicalPlan, error) {
	keyCols := make(map[string]bool)
	for i, e := range agg.GroupBy {
		if _, ok := unalias(e).(*ColumnExpr); ok {
			keyCols[agg.schema.Columns[i].Name] = true
		}
	}
	mapping := make(map[string]Expr, len(keyCols))
	for i, e := range agg.GroupBy {
		if col, ok := unalias(e).(*ColumnExpr); ok {
			mapping[agg.schema.Columns[i].Name] = Col(col.Name)
		}
	}
	var below, residual []Expr
	for _, clause := range preds {
		if clauseRefsOnly(clause, keyCols) {
			below = append(below, substituteColumns(clause, mapping))
		} else {
			residual = append(residual, clause)
		}
	}
	input, err := pushPredicates(agg.Input, below)
	if err != nil {
		return nil, err
	}
	rebuilt, err := NewAggregate(input, agg.GroupBy, agg.Aggs)
	if err != nil {
		return nil, err
	}
	return applyFilters(rebuilt, residual)
}

// pushThroughJoin routes each clause to the side that produces every column
// it references, when the join kind allows it. Left clauses sink past inner,
// left, semi, anti and cross joins; right clauses only past inner and cross
// joins, where no padding can resurrect a filtered row. Outer joins pad both
// sides, so nothing sinks.
func pushThroughJoin(join *JoinPlan, preds []Expr) (LogicalPlan, error) {
	leftCount := join.Left.Schema().ColumnCount()
	leftCols := make(map[string]bool)
	rightCols := make(map[string]bool)
	toRight := make(map[string]Expr)
	for i, f := range join.schema.Columns {
		if i < leftCount || join.Kind == SemiJoin || join.Kind == AntiJoin {
			leftCols[f.Name] = true
		} else {
			rightCols[f.Name] = true
			orig := join.Right.Schema().Columns[i-leftCount].Name
			toRight[f.Name] = Col(orig)
		}
	}
	leftOK := join.Kind != OuterJoin
	rightOK := join.Kind == InnerJoin || join.Kind == CrossJoin

	var toLeftSide, toRightSide, residual []Expr
	for _, clause := range preds {
		switch {
		case leftOK && clauseRefsOnly(clause, leftCols):
			toLeftSide = append(toLeftSide, clause)
		case rightOK && clauseRefsOnly(clause, rightCols):
			toRightSide = append(toRightSide, substituteColumns(clause, toRight))
		default:
			residual = append(residual, clause)
		}
	}
	left, err := pushPredicates(join.Left, toLeftSide)
	if err != nil {
		return nil, err
	}
	right, err := pushPredicates(join.Right, toRightSide)
	if err != nil {
		return nil, err
	}
	rebuilt, err := NewJoin(left, right, join.Kind, join.LeftKeys, join.RightKeys)
	if err != nil {
		return nil, err
	}
	rebuilt.Strategy = join.Strategy
	rebuilt.BuildLeft = join.BuildLeft
	return applyFilters(rebuilt, residual)
}

func clauseRefsOnly(clause Expr, allowed map[string]bool) bool {
	free := make(map[string]bool)
	freeColumns(clause, free)
	for name := range free {
		if !allowed[name] {
			return false
		}
	}
	return true
}

func unalias(e Expr) Expr {
	for {
		as, ok := e.(*AliasExpr)
		if !ok {
			return e
		}
		e = as.Child
	}
}

func splitConjuncts(e Expr) []Expr {
	if bin, ok := e.(*BinaryExpr); ok && bin.Op == BinAnd {
		return append(splitConjuncts(bin.Left), splitConjuncts(bin.Right)...)
	}
	return []Expr{e}
}

func conjoin(preds []Expr) Expr {
	ret := preds[0]
	for _, clause := range preds[1:] {
		ret = And(ret, clause)
	}
	return ret
}

func applyFilters(p LogicalPlan, preds []Expr) (LogicalPlan, error) {
	if len(preds) == 0 {
		return p, nil
	}
	return NewFilter(p, conjoin(preds))
}

// pushDownProjections prunes columns nobody above needs, inserting a bare
// column selection right above each scan. required is the set of output
// columns the parent needs; nil means all of them. The returned plan exposes
// at least the required columns, in their original relative order.
func pushDownProjections(p LogicalPlan) (LogicalPlan, error) {
	return pruneColumns(p, nil)
}

func pruneColumns(p LogicalPlan, required map[string]bool) (LogicalPlan, error) {
	switch v := p.(type) {
	case *ScanPlan:
		return pruneScan(v, required)
	case *FilterPlan:
		input, err := pruneColumns(v.Input, addFree(required, v.Predicate))
		if err != nil {
			return nil, err
		}
		return NewFilter(input, v.Predicate)
	case *ProjectPlan:
		kept := v.Exprs
		if required != nil {
			kept = keptExprs(v.Exprs, v.schema, required)
		}
		// A projection fully determines what it reads, so pruning starts
		// here even when the parent needs every output column.
		childReq := make(map[string]bool)
		for _, e := range kept {
			freeColumns(e, childReq)
		}
		input, err := pruneColumns(v.Input, childReq)
		if err != nil {
			return nil, err
		}
		return NewProject(input, kept...)
	case *AggregatePlan:
		return pruneAggregate(v, required)
	case *SortPlan:
		childReq := required
		for _, key := range v.Keys {
			childReq = addFree(childReq, key.Expr)
		}
		input, err := pruneColumns(v.Input, childReq)
		if err != nil {
			return nil, err
		}
		return NewSort(input, v.Keys...)
	case *LimitPlan:
		input, err := pruneColumns(v.Input, required)
		if err != nil {
			return nil, err
		}
		return NewLimit(input, v.Offset, v.Count)
	case *JoinPlan:
		return pruneJoin(v, required)
	case *UnionPlan:
		return pruneUnion(v, required)
	default:
		return p, nil
	}
}

func pruneScan(scan *ScanPlan, required map[string]bool) (LogicalPlan, error) {
	if required == nil {
		return scan, nil
	}
	var exprs []Expr
	for _, f := range scan.schema.Columns {
		if required[f.Name] {
			exprs = append(exprs, Col(f.Name))
		}
	}
	if len(exprs) == scan.schema.ColumnCount() {
		return scan, nil
	}
	if len(exprs) == 0 {
		// A row-count-only consumer still needs one column to carry the rows.
		exprs = append(exprs, Col(scan.schema.Columns[0].Name))
	}
	return NewProject(scan, exprs...)
}

// keptExprs keeps the expressions whose output column somebody needs,
// preserving order. At least one expression survives so the projection stays
// valid for row-count-only parents.
func keptExprs(exprs []Expr, schema *storage.TableSchema, required map[string]bool) []Expr {
	var kept []Expr
	for i, e := range exprs {
		if required[schema.Columns[i].Name] {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, exprs[0])
	}
	return kept
}

func pruneAggregate(agg *AggregatePlan, required map[string]bool) (LogicalPlan, error) {
	aggs := agg.Aggs
	if required != nil {
		// Group keys always stay: dropping one would change the grouping.
		keys := len(agg.GroupBy)
		var kept []Expr
		for i, e := range agg.Aggs {
			if required[agg.schema.Columns[keys+i].Name] {
				kept = append(kept, e)
			}
		}
		if len(agg.GroupBy) == 0 && len(kept) == 0 {
			kept = append(kept, agg.Aggs[0])
		}
		aggs = kept
	}
	childReq := make(map[string]bool)
	for _, e := range agg.GroupBy {
		freeColumns(e, childReq)
	}
	for _, e := range aggs {
		freeColumns(e, childReq)
	}
	input, err := pruneColumns(agg.Input, childReq)
	if err != nil {
		return nil, err
	}
	return NewAggregate(input, agg.GroupBy, aggs)
}

func pruneJoin(join *JoinPlan, required map[string]bool) (LogicalPlan, error) {
	var leftReq, rightReq map[string]bool
	if required != nil {
		leftReq = make(map[string]bool)
		rightReq = make(map[string]bool)
		leftCount := join.Left.Schema().ColumnCount()
		for i, f := range join.schema.Columns {
			if !required[f.Name] {
				continue
			}
			if i < leftCount || join.Kind == SemiJoin || join.Kind == AntiJoin {
				leftReq[f.Name] = true
			} else {
				rightReq[join.Right.Schema().Columns[i-leftCount].Name] = true
			}
		}
		for _, key := range join.LeftKeys {
			leftReq[key] = true
		}
		for _, key := range join.RightKeys {
			rightReq[key] = true
		}
		// Keep any left column a kept right column collides with, so the
		// collision suffix on the right name stays stable.
		for name := range rightReq {
			if join.Left.Schema().HasColumn(name) {
				leftReq[name] = true
			}
		}
	}
	left, err := pruneColumns(join.Left, leftReq)
	if err != nil {
		return nil, err
	}
	right, err := pruneColumns(join.Right, rightReq)
	if err != nil {
		return nil, err
	}
	rebuilt, err := NewJoin(left, right, join.Kind, join.LeftKeys, join.RightKeys)
	if err != nil {
		return nil, err
	}
	rebuilt.Strategy = join.Strategy
	rebuilt.BuildLeft = join.BuildLeft
	return rebuilt, nil
}

// pruneUnion prunes every branch to the same column set, re-projecting each
// branch so the branch schemas stay identical.
func pruneUnion(union *UnionPlan, required map[string]bool) (LogicalPlan, error) {
	if required == nil {
		inputs := make([]LogicalPlan, len(union.Inputs))
		for i, input := range union.Inputs {
			ni, err := pruneColumns(input, nil)
			if err != nil {
				return nil, err
			}
			inputs[i] = ni
		}
		return NewUnion(inputs...)
	}
	schema := union.Schema()
	var target []string
	for _, f := range schema.Columns {
		if required[f.Name] {
			target = append(target, f.Name)
		}
	}
	if len(target) == 0 {
		target = append(target, schema.Columns[0].Name)
	}
	inputs := make([]LogicalPlan, len(union.Inputs))
	for i, input := range union.Inputs {
		ni, err := pruneColumns(input, sliceToSet(target))
		if err != nil {
			return nil, err
		}
		if !exactColumns(ni.Schema(), target) {
			exprs := make([]Expr, len(target))
			for j, name := range target {
				exprs[j] = Col(name)
			}
			ni, err = NewProject(ni, exprs...)
			if err != nil {
				return nil, err
			}
		}
		inputs[i] = ni
	}
	return NewUnion(inputs...)
}

func exactColumns(schema *storage.TableSchema, names []string) bool {
	if schema.ColumnCount() != len(names) {
		return false
	}
	for i, name := range names {
		if schema.Columns[i].Name != name {
			return false
		}
	}
	return true
}

func sliceToSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// addFree unions an expression's free columns into the required set, keeping
// the nil-means-all convention.
func addFree(required map[string]bool, e Expr) map[string]bool {
	if required == nil {
		return nil
	}
	merged := make(map[string]bool, len(required))
	for name := range required {
		merged[name] = true
	}
	freeColumns(e, merged)
	return merged
}
