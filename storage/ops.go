package storage

import (
	"math"
	"strconv"
	"strings"

	"github.com/xiaobogaga/miniframe/qerror"
)

// Vectorized kernels. Operand dtypes are validated when the expression is
// built, so dtype combinations that cannot appear at runtime panic here
// instead of returning errors. Runtime-reachable failures (overflow, bad
// casts, cancellation) are returned as errors.

type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	// Wrapping variants use two's-complement wraparound instead of failing
	// on overflow. Int64 only.
	OpAddWrap
	OpSubWrap
	OpMulWrap
)

var arithNames = map[ArithOp]string{
	OpAdd:     "+",
	OpSub:     "-",
	OpMul:     "*",
	OpDiv:     "/",
	OpMod:     "%",
	OpAddWrap: "+w",
	OpSubWrap: "-w",
	OpMulWrap: "*w",
}

func (op ArithOp) String() string {
	return arithNames[op]
}

func (op ArithOp) Wrapping() bool {
	return op == OpAddWrap || op == OpSubWrap || op == OpMulWrap
}

// ArithResultType computes the output dtype of an arithmetic op, widening
// Int64 to Float64 when the operands mix.
func ArithResultType(op ArithOp, l, r DType) (DType, error) {
	if !l.IsNumeric() || !r.IsNumeric() {
		return 0, qerror.Typef("cannot apply '%s' to %s and %s", op, l, r)
	}
	if op.Wrapping() && (l != Int64 || r != Int64) {
		return 0, qerror.Typef("wrapping '%s' requires int64 operands, got %s and %s", op, l, r)
	}
	if op == OpMod && (l != Int64 || r != Int64) {
		return 0, qerror.Typef("'%%' requires int64 operands, got %s and %s", l, r)
	}
	if l == Float64 || r == Float64 {
		return Float64, nil
	}
	return Int64, nil
}

func addCheck(a, b int64) (int64, bool) {
	c := a + b
	return c, ((a^c)&(b^c)) < 0
}

func subCheck(a, b int64) (int64, bool) {
	c := a - b
	return c, ((a^b)&(a^c)) < 0
}

func mulCheck(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	c := a * b
	if a == math.MinInt64 && b == -1 || b == math.MinInt64 && a == -1 {
		return c, true
	}
	return c, c/b != a
}

// Arith evaluates a binary arithmetic op over two equal-length columns. The
// output column is named name. Null operands produce null rows; checked int
// ops fail with OverflowError; int division/modulo by zero yields null.
func Arith(op ArithOp, name string, l, r *ColumnVector) (*ColumnVector, error) {
	tp, err := ArithResultType(op, l.Field.TP, r.Field.TP)
	if err != nil {
		panic("arith kernel on untypechecked operands: " + err.Error())
	}
	n := l.RowCount()
	field := Field{Name: name, TP: tp}
	if tp == Int64 {
		// Wrapping ops over fully valid buffers take the unrolled path.
		if op.Wrapping() && l.Valid.AllValid() && r.Valid.AllValid() {
			return arithInt64Fast(op, field, l, r), nil
		}
		ret := NewColumnVector(field, n)
		for i := 0; i < n; i++ {
			if l.IsNull(i) || r.IsNull(i) {
				ret.AppendNull()
				continue
			}
			v, err := arithInt64(op, l.Ints[i], r.Ints[i])
			if err != nil {
				return nil, err
			}
			if v.Null {
				ret.AppendNull()
				continue
			}
			ret.AppendInt(v.I)
		}
		return ret, nil
	}
	if op != OpDiv && l.Field.TP == Float64 && r.Field.TP == Float64 &&
		l.Valid.AllValid() && r.Valid.AllValid() {
		return arithFloat64Fast(op, field, l, r), nil
	}
	ret := NewColumnVector(field, n)
	for i := 0; i < n; i++ {
		if l.IsNull(i) || r.IsNull(i) {
			ret.AppendNull()
			continue
		}
		ret.AppendFloat(arithFloat64(op, l.numAt(i), r.numAt(i)))
	}
	return ret, nil
}

func arithFloat64Fast(op ArithOp, field Field, l, r *ColumnVector) *ColumnVector {
	n := l.RowCount()
	dst := make([]float64, n)
	switch op {
	case OpAdd:
		vectorAddFloat64(dst, l.Floats, r.Floats)
	case OpSub:
		vectorSubFloat64(dst, l.Floats, r.Floats)
	case OpMul:
		vectorMulFloat64(dst, l.Floats, r.Floats)
	}
	return &ColumnVector{Field: field, Floats: dst, Valid: fullValidBitmap(n)}
}

func arithInt64Fast(op ArithOp, field Field, l, r *ColumnVector) *ColumnVector {
	n := l.RowCount()
	dst := make([]int64, n)
	switch op {
	case OpAddWrap:
		vectorAddInt64(dst, l.Ints, r.Ints)
	case OpSubWrap:
		vectorSubInt64(dst, l.Ints, r.Ints)
	case OpMulWrap:
		vectorMulInt64(dst, l.Ints, r.Ints)
	}
	ret := &ColumnVector{Field: field, Ints: dst, Valid: fullValidBitmap(n)}
	return ret
}

func arithInt64(op ArithOp, a, b int64) (Datum, error) {
	switch op {
	case OpAdd:
		c, over := addCheck(a, b)
		if over {
			return Datum{}, qerror.Overflowf("int64 overflow on %d + %d", a, b)
		}
		return NewIntDatum(c), nil
	case OpSub:
		c, over := subCheck(a, b)
		if over {
			return Datum{}, qerror.Overflowf("int64 overflow on %d - %d", a, b)
		}
		return NewIntDatum(c), nil
	case OpMul:
		c, over := mulCheck(a, b)
		if over {
			return Datum{}, qerror.Overflowf("int64 overflow on %d * %d", a, b)
		}
		return NewIntDatum(c), nil
	case OpDiv:
		if b == 0 {
			return NewNullDatum(Int64), nil
		}
		if a == math.MinInt64 && b == -1 {
			return Datum{}, qerror.Overflowf("int64 overflow on %d / %d", a, b)
		}
		return NewIntDatum(a / b), nil
	case OpMod:
		if b == 0 {
			return NewNullDatum(Int64), nil
		}
		return NewIntDatum(a % b), nil
	case OpAddWrap:
		return NewIntDatum(a + b), nil
	case OpSubWrap:
		return NewIntDatum(a - b), nil
	case OpMulWrap:
		return NewIntDatum(a * b), nil
	default:
		panic("unknown arith op")
	}
}

func arithFloat64(op ArithOp, a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	default:
		panic("unknown float arith op")
	}
}

type CmpOp int

const (
	CmpEQ CmpOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

var cmpNames = map[CmpOp]string{
	CmpEQ: "=",
	CmpNE: "!=",
	CmpLT: "<",
	CmpLE: "<=",
	CmpGT: ">",
	CmpGE: ">=",
}

func (op CmpOp) String() string {
	return cmpNames[op]
}

// ComparableTypes reports whether two dtypes can be compared: numerics cross
// compare, everything else needs matching dtypes.
func ComparableTypes(l, r DType) bool {
	if l.IsNumeric() && r.IsNumeric() {
		return true
	}
	return l == r
}

// Compare evaluates a comparison over two columns into a Boolean column.
// A null operand yields a null result row.
func Compare(op CmpOp, name string, l, r *ColumnVector) (*ColumnVector, error) {
	if !ComparableTypes(l.Field.TP, r.Field.TP) {
		panic("compare kernel on incomparable dtypes " + l.Field.TP.String() + " and " + r.Field.TP.String())
	}
	n := l.RowCount()
	ret := NewColumnVector(Field{Name: name, TP: Boolean}, n)
	for i := 0; i < n; i++ {
		if l.IsNull(i) || r.IsNull(i) {
			ret.AppendNull()
			continue
		}
		ret.AppendBool(cmpHolds(op, CompareValues(l.DatumAt(i), r.DatumAt(i))))
	}
	return ret, nil
}

func cmpHolds(op CmpOp, c int) bool {
	switch op {
	case CmpEQ:
		return c == 0
	case CmpNE:
		return c != 0
	case CmpLT:
		return c < 0
	case CmpLE:
		return c <= 0
	case CmpGT:
		return c > 0
	case CmpGE:
		return c >= 0
	default:
		panic("unknown cmp op")
	}
}

// And evaluates three-valued logical and: null and false = false,
// null and true = null.
func And(name string, l, r *ColumnVector) *ColumnVector {
	n := l.RowCount()
	ret := NewColumnVector(Field{Name: name, TP: Boolean}, n)
	for i := 0; i < n; i++ {
		lNull, rNull := l.IsNull(i), r.IsNull(i)
		switch {
		case !lNull && !l.Bools[i], !rNull && !r.Bools[i]:
			ret.AppendBool(false)
		case lNull || rNull:
			ret.AppendNull()
		default:
			ret.AppendBool(true)
		}
	}
	return ret
}

// Or evaluates three-valued logical or: null or true = true,
// null or false = null.
func Or(name string, l, r *ColumnVector) *ColumnVector {
	n := l.RowCount()
	ret := NewColumnVector(Field{Name: name, TP: Boolean}, n)
	for i := 0; i < n; i++ {
		lNull, rNull := l.IsNull(i), r.IsNull(i)
		switch {
		case !lNull && l.Bools[i], !rNull && r.Bools[i]:
			ret.AppendBool(true)
		case lNull || rNull:
			ret.AppendNull()
		default:
			ret.AppendBool(false)
		}
	}
	return ret
}

// Not negates a boolean column, null stays null.
func Not(name string, c *ColumnVector) *ColumnVector {
	n := c.RowCount()
	ret := NewColumnVector(Field{Name: name, TP: Boolean}, n)
	for i := 0; i < n; i++ {
		if c.IsNull(i) {
			ret.AppendNull()
			continue
		}
		ret.AppendBool(!c.Bools[i])
	}
	return ret
}

// Neg negates a numeric column. Negating math.MinInt64 overflows.
func Neg(name string, c *ColumnVector) (*ColumnVector, error) {
	n := c.RowCount()
	ret := NewColumnVector(Field{Name: name, TP: c.Field.TP}, n)
	for i := 0; i < n; i++ {
		if c.IsNull(i) {
			ret.AppendNull()
			continue
		}
		if c.Field.TP == Float64 {
			ret.AppendFloat(-c.Floats[i])
			continue
		}
		if c.Ints[i] == math.MinInt64 {
			return nil, qerror.Overflowf("int64 overflow on -(%d)", c.Ints[i])
		}
		ret.AppendInt(-c.Ints[i])
	}
	return ret, nil
}

// CastOK reports whether a cast between two dtypes exists at all. Casts that
// exist can still fail per row (unparsable text, out-of-range float).
func CastOK(from, to DType) bool {
	if from == to {
		return true
	}
	switch to {
	case Int64:
		return from == Float64 || from == Utf8 || from == Boolean || from == Date
	case Float64:
		return from == Int64 || from == Utf8
	case Boolean:
		return from == Utf8 || from == Int64
	case Utf8:
		return true
	case Date:
		return from == Utf8 || from == Int64
	}
	return false
}

// Cast converts a column to the target dtype. In strict mode an unconvertible
// cell fails with CastError; in lenient mode it becomes null.
func Cast(col *ColumnVector, target DType, strict bool, name string) (*ColumnVector, error) {
	if !CastOK(col.Field.TP, target) {
		panic("cast kernel on unchecked dtypes " + col.Field.TP.String() + " to " + target.String())
	}
	n := col.RowCount()
	ret := NewColumnVector(Field{Name: name, TP: target}, n)
	for i := 0; i < n; i++ {
		if col.IsNull(i) {
			ret.AppendNull()
			continue
		}
		d, err := CastDatum(col.DatumAt(i), target, strict)
		if err != nil {
			return nil, err
		}
		ret.AppendDatum(d)
	}
	return ret, nil
}

// CastDatum converts one non-null datum to the target dtype.
func CastDatum(d Datum, target DType, strict bool) (Datum, error) {
	if d.TP == target {
		return d, nil
	}
	fail := func(format string, args ...interface{}) (Datum, error) {
		if strict {
			return Datum{}, qerror.Castf(format, args...)
		}
		return NewNullDatum(target), nil
	}
	switch target {
	case Int64:
		switch d.TP {
		case Float64:
			if math.IsNaN(d.F) || d.F >= math.MaxInt64 || d.F <= math.MinInt64 {
				return fail("float %v out of int64 range", d.F)
			}
			return NewIntDatum(int64(d.F)), nil
		case Boolean:
			if d.B {
				return NewIntDatum(1), nil
			}
			return NewIntDatum(0), nil
		case Date:
			return NewIntDatum(d.I), nil
		case Utf8:
			v, err := strconv.ParseInt(strings.TrimSpace(d.S), 10, 64)
			if err != nil {
				return fail("cannot parse '%s' as int64", d.S)
			}
			return NewIntDatum(v), nil
		}
	case Float64:
		switch d.TP {
		case Int64:
			return NewFloatDatum(float64(d.I)), nil
		case Utf8:
			v, err := strconv.ParseFloat(strings.TrimSpace(d.S), 64)
			if err != nil {
				return fail("cannot parse '%s' as float64", d.S)
			}
			return NewFloatDatum(v), nil
		}
	case Boolean:
		switch d.TP {
		case Int64:
			return NewBoolDatum(d.I != 0), nil
		case Utf8:
			switch strings.ToLower(strings.TrimSpace(d.S)) {
			case "true", "1":
				return NewBoolDatum(true), nil
			case "false", "0":
				return NewBoolDatum(false), nil
			}
			return fail("cannot parse '%s' as bool", d.S)
		}
	case Utf8:
		return NewStrDatum(d.String()), nil
	case Date:
		switch d.TP {
		case Int64:
			return NewDateDatum(d.I), nil
		case Utf8:
			days, err := ParseDate(strings.TrimSpace(d.S))
			if err != nil {
				return fail("cannot parse '%s' as date", d.S)
			}
			return NewDateDatum(days), nil
		}
	}
	panic("cast kernel on unchecked dtypes " + d.TP.String() + " to " + target.String())
}

// ArithDatum is the scalar counterpart of Arith, used for constant folding.
func ArithDatum(op ArithOp, name string, l, r Datum) (Datum, error) {
	tp, err := ArithResultType(op, l.TP, r.TP)
	if err != nil {
		return Datum{}, err
	}
	if l.Null || r.Null {
		return NewNullDatum(tp), nil
	}
	if tp == Int64 {
		return arithInt64(op, l.I, r.I)
	}
	return NewFloatDatum(arithFloat64(op, l.asFloat(), r.asFloat())), nil
}

// CompareDatum is the scalar counterpart of Compare.
func CompareDatum(op CmpOp, l, r Datum) Datum {
	if l.Null || r.Null {
		return NewNullDatum(Boolean)
	}
	return NewBoolDatum(cmpHolds(op, CompareValues(l, r)))
}

// AndDatum / OrDatum / NotDatum implement scalar three-valued logic.
func AndDatum(l, r Datum) Datum {
	switch {
	case !l.Null && !l.B, !r.Null && !r.B:
		return NewBoolDatum(false)
	case l.Null || r.Null:
		return NewNullDatum(Boolean)
	default:
		return NewBoolDatum(true)
	}
}

func OrDatum(l, r Datum) Datum {
	switch {
	case !l.Null && l.B, !r.Null && r.B:
		return NewBoolDatum(true)
	case l.Null || r.Null:
		return NewNullDatum(Boolean)
	default:
		return NewBoolDatum(false)
	}
}

func NotDatum(c Datum) Datum {
	if c.Null {
		return c
	}
	return NewBoolDatum(!c.B)
}

func fullValidBitmap(n int) *Bitmap {
	b := NewBitmap(n)
	for i := 0; i < n; i++ {
		b.Append(true)
	}
	return b
}
