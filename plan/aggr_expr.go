package plan

import (
	"fmt"

	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
)

type AggFunc int

const (
	AggSum AggFunc = iota
	AggCount
	AggMean
	AggMin
	AggMax
	AggFirst
	AggLast
)

var aggNames = map[AggFunc]string{
	AggSum:   "sum",
	AggCount: "count",
	AggMean:  "mean",
	AggMin:   "min",
	AggMax:   "max",
	AggFirst: "first",
	AggLast:  "last",
}

func (f AggFunc) String() string {
	return aggNames[f]
}

// AggExpr folds its child's column into one value per group. Nulls are
// skipped: sum/mean/min/max return null only when every input is null, count
// counts non-null rows and is never null.
type AggExpr struct {
	Func  AggFunc
	Child Expr
}

func Sum(e Expr) Expr   { return &AggExpr{Func: AggSum, Child: e} }
func Count(e Expr) Expr { return &AggExpr{Func: AggCount, Child: e} }
func Mean(e Expr) Expr  { return &AggExpr{Func: AggMean, Child: e} }
func Min(e Expr) Expr   { return &AggExpr{Func: AggMin, Child: e} }
func Max(e Expr) Expr   { return &AggExpr{Func: AggMax, Child: e} }
func First(e Expr) Expr { return &AggExpr{Func: AggFirst, Child: e} }
func Last(e Expr) Expr  { return &AggExpr{Func: AggLast, Child: e} }

func (agg *AggExpr) String() string {
	return fmt.Sprintf("%s(%s)", agg.Func, agg.Child)
}

func (agg *AggExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	if agg.Child.HasAggr() {
		return storage.Field{}, qerror.Typef("nested aggregation in %s", agg)
	}
	if agg.Child.HasWindow() {
		return storage.Field{}, qerror.Typef("window expression inside aggregation in %s", agg)
	}
	cf, err := agg.Child.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	tp, err := aggResultType(agg.Func, cf.TP)
	if err != nil {
		return storage.Field{}, err
	}
	// The aggregated column keeps the child's name: sum(val) comes out as val.
	return storage.Field{Name: cf.Name, TP: tp}, nil
}

func aggResultType(f AggFunc, child storage.DType) (storage.DType, error) {
	switch f {
	case AggSum:
		if !child.IsNumeric() {
			return 0, qerror.Typef("cannot sum %s", child)
		}
		return child, nil
	case AggMean:
		if !child.IsNumeric() {
			return 0, qerror.Typef("cannot take mean of %s", child)
		}
		return storage.Float64, nil
	case AggCount:
		return storage.Int64, nil
	default: // min, max, first, last
		return child, nil
	}
}

func (agg *AggExpr) Children() []Expr {
	return []Expr{agg.Child}
}

func (agg *AggExpr) withChildren(children []Expr) Expr {
	return &AggExpr{Func: agg.Func, Child: children[0]}
}

func (agg *AggExpr) HasAggr() bool   { return true }
func (agg *AggExpr) HasWindow() bool { return agg.Child.HasWindow() }

// accumulator folds cells of one group. Partial accumulators built over
// disjoint chunks merge with an associative, commutative combine, so the
// fan-out/fan-in aggregation path gives the same result as a sequential fold
// (up to float rounding).
type accumulator interface {
	// step folds in one cell. Null cells are skipped by every function.
	step(col *storage.ColumnVector, row int) error
	merge(other accumulator) error
	value() storage.Datum
}

func makeAccumulator(f AggFunc, child storage.DType) accumulator {
	switch f {
	case AggSum:
		return &sumAcc{tp: child}
	case AggCount:
		return &countAcc{}
	case AggMean:
		return &meanAcc{}
	case AggMin:
		return &extremeAcc{tp: child, wantMax: false}
	case AggMax:
		return &extremeAcc{tp: child, wantMax: true}
	case AggFirst:
		return &edgeAcc{tp: child, wantLast: false}
	default:
		return &edgeAcc{tp: child, wantLast: true}
	}
}

type sumAcc struct {
	tp   storage.DType
	i    int64
	f    float64
	seen bool
}

func (acc *sumAcc) step(col *storage.ColumnVector, row int) error {
	if col.IsNull(row) {
		return nil
	}
	acc.seen = true
	if acc.tp == storage.Int64 {
		return acc.addInt(col.Int(row))
	}
	acc.f += col.Float(row)
	return nil
}

func (acc *sumAcc) addInt(v int64) error {
	c := acc.i + v
	if ((acc.i ^ c) & (v ^ c)) < 0 {
		return qerror.Overflowf("int64 overflow in sum")
	}
	acc.i = c
	return nil
}

func (acc *sumAcc) merge(other accumulator) error {
	o := other.(*sumAcc)
	if !o.seen {
		return nil
	}
	acc.seen = true
	if acc.tp == storage.Int64 {
		return acc.addInt(o.i)
	}
	acc.f += o.f
	return nil
}

func (acc *sumAcc) value() storage.Datum {
	if !acc.seen {
		return storage.NewNullDatum(acc.tp)
	}
	if acc.tp == storage.Int64 {
		return storage.NewIntDatum(acc.i)
	}
	return storage.NewFloatDatum(acc.f)
}

type countAcc struct {
	n int64
}

func (acc *countAcc) step(col *storage.ColumnVector, row int) error {
	if !col.IsNull(row) {
		acc.n++
	}
	return nil
}

func (acc *countAcc) merge(other accumulator) error {
	acc.n += other.(*countAcc).n
	return nil
}

func (acc *countAcc) value() storage.Datum {
	return storage.NewIntDatum(acc.n)
}

type meanAcc struct {
	sum float64
	n   int64
}

func (acc *meanAcc) step(col *storage.ColumnVector, row int) error {
	if col.IsNull(row) {
		return nil
	}
	if col.Field.TP == storage.Float64 {
		acc.sum += col.Float(row)
	} else {
		acc.sum += float64(col.Int(row))
	}
	acc.n++
	return nil
}

func (acc *meanAcc) merge(other accumulator) error {
	o := other.(*meanAcc)
	acc.sum += o.sum
	acc.n += o.n
	return nil
}

func (acc *meanAcc) value() storage.Datum {
	if acc.n == 0 {
		return storage.NewNullDatum(storage.Float64)
	}
	return storage.NewFloatDatum(acc.sum / float64(acc.n))
}

type extremeAcc struct {
	tp      storage.DType
	wantMax bool
	best    storage.Datum
	seen    bool
}

func (acc *extremeAcc) step(col *storage.ColumnVector, row int) error {
	if col.IsNull(row) {
		return nil
	}
	acc.take(col.DatumAt(row))
	return nil
}

func (acc *extremeAcc) take(d storage.Datum) {
	if !acc.seen {
		acc.best = d
		acc.seen = true
		return
	}
	c := storage.CompareValues(d, acc.best)
	if acc.wantMax && c > 0 || !acc.wantMax && c < 0 {
		acc.best = d
	}
}

func (acc *extremeAcc) merge(other accumulator) error {
	o := other.(*extremeAcc)
	if o.seen {
		acc.take(o.best)
	}
	return nil
}

func (acc *extremeAcc) value() storage.Datum {
	if !acc.seen {
		return storage.NewNullDatum(acc.tp)
	}
	return acc.best
}

// edgeAcc keeps the first (or last) non-null value in input order. Merge is
// only position-respecting when partials merge in chunk order, which the
// aggregate operator guarantees.
type edgeAcc struct {
	tp       storage.DType
	wantLast bool
	val      storage.Datum
	seen     bool
}

func (acc *edgeAcc) step(col *storage.ColumnVector, row int) error {
	if col.IsNull(row) {
		return nil
	}
	if acc.wantLast || !acc.seen {
		acc.val = col.DatumAt(row)
		acc.seen = true
	}
	return nil
}

func (acc *edgeAcc) merge(other accumulator) error {
	o := other.(*edgeAcc)
	if !o.seen {
		return nil
	}
	if acc.wantLast || !acc.seen {
		acc.val = o.val
		acc.seen = true
	}
	return nil
}

func (acc *edgeAcc) value() storage.Datum {
	if !acc.seen {
		return storage.NewNullDatum(acc.tp)
	}
	return acc.val
}
