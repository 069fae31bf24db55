package plan

import (
	"fmt"
	"strings"

	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
)

type WindowFunc int

const (
	WinRowNumber WindowFunc = iota
	WinRank
	WinSum
	WinCount
	WinMean
	WinMin
	WinMax
)

var windowNames = map[WindowFunc]string{
	WinRowNumber: "row_number",
	WinRank:      "rank",
	WinSum:       "sum",
	WinCount:     "count",
	WinMean:      "mean",
	WinMin:       "min",
	WinMax:       "max",
}

func (f WindowFunc) String() string {
	return windowNames[f]
}

func (f WindowFunc) needsChild() bool {
	return f != WinRowNumber && f != WinRank
}

// WindowExpr computes a per-row value over the rows of the same partition.
// It is only legal inside a Project, and makes that Project a blocking
// operator: the whole input must be seen before the first output row.
type WindowExpr struct {
	Func        WindowFunc
	Child       Expr // nil for row_number / rank
	PartitionBy []Expr
	OrderBy     []SortKey
}

func Over(f WindowFunc, child Expr, partitionBy []Expr, orderBy []SortKey) Expr {
	return &WindowExpr{Func: f, Child: child, PartitionBy: partitionBy, OrderBy: orderBy}
}

func RowNumber(partitionBy []Expr, orderBy []SortKey) Expr {
	return Over(WinRowNumber, nil, partitionBy, orderBy)
}

func Rank(partitionBy []Expr, orderBy []SortKey) Expr {
	return Over(WinRank, nil, partitionBy, orderBy)
}

func (win *WindowExpr) String() string {
	var sb strings.Builder
	if win.Child != nil {
		fmt.Fprintf(&sb, "%s(%s) over (", win.Func, win.Child)
	} else {
		fmt.Fprintf(&sb, "%s() over (", win.Func)
	}
	if len(win.PartitionBy) > 0 {
		sb.WriteString("partition by " + exprsString(win.PartitionBy))
	}
	if len(win.OrderBy) > 0 {
		if len(win.PartitionBy) > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString("order by " + sortKeysString(win.OrderBy))
	}
	sb.WriteByte(')')
	return sb.String()
}

func (win *WindowExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	for _, e := range win.allSubExprs() {
		if e.HasAggr() || e.HasWindow() {
			return storage.Field{}, qerror.Typef("nested aggregation or window in %s", win)
		}
		if _, err := e.ResultField(input); err != nil {
			return storage.Field{}, err
		}
	}
	if win.Func.needsChild() != (win.Child != nil) {
		return storage.Field{}, qerror.Typef("%s takes %d argument(s)", win.Func, boolToInt(win.Func.needsChild()))
	}
	if win.Func == WinRank && len(win.OrderBy) == 0 {
		return storage.Field{}, qerror.Typef("rank requires an order by clause")
	}
	if win.Child == nil {
		return storage.Field{Name: win.Func.String(), TP: storage.Int64}, nil
	}
	cf, err := win.Child.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	switch win.Func {
	case WinSum:
		if !cf.TP.IsNumeric() {
			return storage.Field{}, qerror.Typef("cannot sum %s", cf.TP)
		}
		return storage.Field{Name: cf.Name, TP: cf.TP}, nil
	case WinMean:
		if !cf.TP.IsNumeric() {
			return storage.Field{}, qerror.Typef("cannot take mean of %s", cf.TP)
		}
		return storage.Field{Name: cf.Name, TP: storage.Float64}, nil
	case WinCount:
		return storage.Field{Name: cf.Name, TP: storage.Int64}, nil
	default: // min, max
		return storage.Field{Name: cf.Name, TP: cf.TP}, nil
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (win *WindowExpr) allSubExprs() []Expr {
	ret := make([]Expr, 0, len(win.PartitionBy)+len(win.OrderBy)+1)
	if win.Child != nil {
		ret = append(ret, win.Child)
	}
	ret = append(ret, win.PartitionBy...)
	for _, key := range win.OrderBy {
		ret = append(ret, key.Expr)
	}
	return ret
}

func (win *WindowExpr) Children() []Expr {
	return win.allSubExprs()
}

func (win *WindowExpr) withChildren(children []Expr) Expr {
	ret := &WindowExpr{Func: win.Func, OrderBy: make([]SortKey, len(win.OrderBy))}
	i := 0
	if win.Child != nil {
		ret.Child = children[0]
		i = 1
	}
	ret.PartitionBy = append([]Expr(nil), children[i:i+len(win.PartitionBy)]...)
	i += len(win.PartitionBy)
	for j, key := range win.OrderBy {
		ret.OrderBy[j] = SortKey{Expr: children[i+j], Desc: key.Desc}
	}
	return ret
}

func (win *WindowExpr) HasAggr() bool   { return false }
func (win *WindowExpr) HasWindow() bool { return true }

// windowFuncToAgg maps the folding window functions onto the aggregate
// accumulators; the per-partition value is broadcast to every partition row.
func windowFuncToAgg(f WindowFunc) (AggFunc, bool) {
	switch f {
	case WinSum:
		return AggSum, true
	case WinCount:
		return AggCount, true
	case WinMean:
		return AggMean, true
	case WinMin:
		return AggMin, true
	case WinMax:
		return AggMax, true
	default:
		return 0, false
	}
}
