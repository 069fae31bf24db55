package plan

import (
	"fmt"
)

// eliminateCommonSubexprs lowers subexpressions that occur more than once in
// a projection or aggregation into a projection below it, so each shared
// subtree is evaluated once per chunk. Structural equality is canonical
// string equality. Bare columns and literals are never lowered.
func eliminateCommonSubexprs(p LogicalPlan) (LogicalPlan, error) {
	return rewriteBottomUp(p, func(node LogicalPlan) (LogicalPlan, error) {
		switch v := node.(type) {
		case *ProjectPlan:
			if v.hasWindow() {
				return v, nil
			}
			return cseProject(v)
		case *AggregatePlan:
			return cseAggregate(v)
		default:
			return node, nil
		}
	})
}

// cseCandidate reports whether the node is worth lowering: a computed, pure
// node, not a reference or a rename.
func cseCandidate(e Expr) bool {
	switch e.(type) {
	case *BinaryExpr, *UnaryExpr, *CastExpr, *FillNullExpr:
		return !e.HasAggr() && !e.HasWindow()
	default:
		return false
	}
}

func countSubtrees(e Expr, counts map[string]int) {
	if cseCandidate(e) {
		counts[e.String()]++
	}
	for _, child := range e.Children() {
		countSubtrees(child, counts)
	}
}

// cseRewriter replaces repeated subtrees top-down. The outermost repeated
// subtree wins; its inner repeats stay inside the single lowered copy.
type cseRewriter struct {
	counts   map[string]int
	assigned map[string]string
	lowered  []Expr
	taken    func(name string) bool
	next     int
}

func (rw *cseRewriter) replace(e Expr) Expr {
	if cseCandidate(e) && rw.counts[e.String()] >= 2 {
		repr := e.String()
		name, ok := rw.assigned[repr]
		if !ok {
			name = rw.freshName()
			rw.assigned[repr] = name
			rw.lowered = append(rw.lowered, Alias(e, name))
		}
		return Col(name)
	}
	children := e.Children()
	if len(children) == 0 {
		return e
	}
	newChildren := make([]Expr, len(children))
	changed := false
	for i, child := range children {
		newChildren[i] = rw.replace(child)
		if newChildren[i] != child {
			changed = true
		}
	}
	if !changed {
		return e
	}
	return e.withChildren(newChildren)
}

func (rw *cseRewriter) freshName() string {
	for {
		name := fmt.Sprintf("_cse_%d", rw.next)
		rw.next++
		if !rw.taken(name) {
			return name
		}
	}
}

func cseProject(proj *ProjectPlan) (LogicalPlan, error) {
	counts := make(map[string]int)
	for _, e := range proj.Exprs {
		countSubtrees(e, counts)
	}
	if !hasRepeats(counts) {
		return proj, nil
	}
	input := proj.Input.Schema()
	rw := &cseRewriter{
		counts:   counts,
		assigned: make(map[string]string),
		taken:    input.HasColumn,
	}
	replaced := make([]Expr, len(proj.Exprs))
	for i, e := range proj.Exprs {
		replaced[i] = rw.replace(e)
	}
	lower, err := buildLowerProject(proj.Input, replaced, rw.lowered)
	if err != nil {
		return nil, err
	}
	upper := make([]Expr, len(replaced))
	for i, e := range replaced {
		upper[i] = keepName(e, proj.schema.Columns[i].Name, lower)
	}
	return NewProject(lower, upper...)
}

func cseAggregate(agg *AggregatePlan) (LogicalPlan, error) {
	counts := make(map[string]int)
	for _, e := range agg.GroupBy {
		countSubtrees(e, counts)
	}
	for _, e := range agg.Aggs {
		countSubtrees(e, counts)
	}
	if !hasRepeats(counts) {
		return agg, nil
	}
	input := agg.Input.Schema()
	rw := &cseRewriter{
		counts:   counts,
		assigned: make(map[string]string),
		taken:    input.HasColumn,
	}
	groupBy := make([]Expr, len(agg.GroupBy))
	for i, e := range agg.GroupBy {
		groupBy[i] = rw.replace(e)
	}
	aggs := make([]Expr, len(agg.Aggs))
	for i, e := range agg.Aggs {
		aggs[i] = rw.replace(e)
	}
	all := append(append([]Expr(nil), groupBy...), aggs...)
	lower, err := buildLowerProject(agg.Input, all, rw.lowered)
	if err != nil {
		return nil, err
	}
	for i := range groupBy {
		groupBy[i] = keepName(groupBy[i], agg.schema.Columns[i].Name, lower)
	}
	for i := range aggs {
		aggs[i] = keepName(aggs[i], agg.schema.Columns[len(groupBy)+i].Name, lower)
	}
	return NewAggregate(lower, groupBy, aggs)
}

func hasRepeats(counts map[string]int) bool {
	for _, n := range counts {
		if n >= 2 {
			return true
		}
	}
	return false
}

// buildLowerProject makes the projection computing the lowered subtrees. It
// passes through exactly the input columns the rewritten upper expressions
// still reference, in input order, so a later column-pruning pass finds
// nothing to remove.
func buildLowerProject(input LogicalPlan, upper []Expr, lowered []Expr) (LogicalPlan, error) {
	used := make(map[string]bool)
	for _, e := range upper {
		freeColumns(e, used)
	}
	var exprs []Expr
	for _, f := range input.Schema().Columns {
		if used[f.Name] {
			exprs = append(exprs, Col(f.Name))
		}
	}
	exprs = append(exprs, lowered...)
	return NewProject(input, exprs...)
}

// keepName re-aliases a rewritten expression when the rewrite changed its
// output column name.
func keepName(e Expr, want string, input LogicalPlan) Expr {
	f, err := e.ResultField(input.Schema())
	if err != nil || f.Name == want {
		return e
	}
	return Alias(e, want)
}
