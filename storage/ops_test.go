package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xiaobogaga/miniframe/qerror"
)

func intsCol(name string, vals ...interface{}) *ColumnVector {
	col := NewColumnVector(Field{Name: name, TP: Int64}, len(vals))
	for _, v := range vals {
		if v == nil {
			col.AppendNull()
		} else {
			col.AppendInt(int64(v.(int)))
		}
	}
	return col
}

func floatsCol(name string, vals ...interface{}) *ColumnVector {
	col := NewColumnVector(Field{Name: name, TP: Float64}, len(vals))
	for _, v := range vals {
		if v == nil {
			col.AppendNull()
		} else {
			col.AppendFloat(v.(float64))
		}
	}
	return col
}

func boolsCol(name string, vals ...interface{}) *ColumnVector {
	col := NewColumnVector(Field{Name: name, TP: Boolean}, len(vals))
	for _, v := range vals {
		if v == nil {
			col.AppendNull()
		} else {
			col.AppendBool(v.(bool))
		}
	}
	return col
}

func strsCol(name string, vals ...interface{}) *ColumnVector {
	col := NewColumnVector(Field{Name: name, TP: Utf8}, len(vals))
	for _, v := range vals {
		if v == nil {
			col.AppendNull()
		} else {
			col.AppendStr(v.(string))
		}
	}
	return col
}

func TestArithNullPropagation(t *testing.T) {
	l := intsCol("l", 1, nil, 3)
	r := intsCol("r", 10, 20, nil)
	out, err := Arith(OpAdd, "s", l, r)
	require.NoError(t, err)
	require.Equal(t, "s", out.Field.Name)
	require.Equal(t, int64(11), out.Int(0))
	require.True(t, out.IsNull(1))
	require.True(t, out.IsNull(2))
}

func TestArithWidensMixedNumerics(t *testing.T) {
	tp, err := ArithResultType(OpAdd, Int64, Float64)
	require.NoError(t, err)
	require.Equal(t, Float64, tp)

	l := intsCol("l", 1, 2)
	r := floatsCol("r", 0.5, 1.5)
	out, err := Arith(OpAdd, "s", l, r)
	require.NoError(t, err)
	require.Equal(t, Float64, out.Field.TP)
	require.Equal(t, 1.5, out.Float(0))
	require.Equal(t, 3.5, out.Float(1))
}

func TestArithOverflow(t *testing.T) {
	l := intsCol("l", 1)
	r := NewColumnVector(Field{Name: "r", TP: Int64}, 1)
	r.AppendInt(math.MaxInt64)
	_, err := Arith(OpAdd, "s", l, r)
	require.Error(t, err)
	require.True(t, qerror.IsKind(err, qerror.Overflow))
}

func TestArithWrapping(t *testing.T) {
	l := NewColumnVector(Field{Name: "l", TP: Int64}, 1)
	l.AppendInt(math.MaxInt64)
	r := intsCol("r", 1)
	out, err := Arith(OpAddWrap, "s", l, r)
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), out.Int(0))

	// Wrapping over a column with nulls leaves the fast path but still wraps.
	l2 := NewColumnVector(Field{Name: "l", TP: Int64}, 2)
	l2.AppendInt(math.MaxInt64)
	l2.AppendNull()
	r2 := intsCol("r", 1, 1)
	out, err = Arith(OpAddWrap, "s", l2, r2)
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), out.Int(0))
	require.True(t, out.IsNull(1))
}

func TestArithWrappingRequiresInt64(t *testing.T) {
	_, err := ArithResultType(OpAddWrap, Int64, Float64)
	require.True(t, qerror.IsKind(err, qerror.Type))
	_, err = ArithResultType(OpMod, Float64, Int64)
	require.True(t, qerror.IsKind(err, qerror.Type))
}

func TestDivModByZeroIsNull(t *testing.T) {
	l := intsCol("l", 7, 7)
	r := intsCol("r", 0, 2)
	out, err := Arith(OpDiv, "q", l, r)
	require.NoError(t, err)
	require.True(t, out.IsNull(0))
	require.Equal(t, int64(3), out.Int(1))

	out, err = Arith(OpMod, "m", l, r)
	require.NoError(t, err)
	require.True(t, out.IsNull(0))
	require.Equal(t, int64(1), out.Int(1))
}

func TestFloatDivByZero(t *testing.T) {
	l := floatsCol("l", 1.0)
	r := floatsCol("r", 0.0)
	out, err := Arith(OpDiv, "q", l, r)
	require.NoError(t, err)
	require.False(t, out.IsNull(0))
	require.True(t, math.IsInf(out.Float(0), 1))
}

func TestCompareNullPropagation(t *testing.T) {
	l := intsCol("l", 1, nil, 3)
	r := intsCol("r", 2, 2, 2)
	out, err := Compare(CmpLT, "c", l, r)
	require.NoError(t, err)
	require.True(t, out.Bool(0))
	require.True(t, out.IsNull(1))
	require.False(t, out.Bool(2))
}

func TestCompareCrossNumeric(t *testing.T) {
	l := intsCol("l", 1)
	r := floatsCol("r", 1.5)
	out, err := Compare(CmpLT, "c", l, r)
	require.NoError(t, err)
	require.True(t, out.Bool(0))
}

func TestKleeneAnd(t *testing.T) {
	// Rows: (T,T) (T,F) (T,N) (F,N) (N,N) (F,F)
	l := boolsCol("l", true, true, true, false, nil, false)
	r := boolsCol("r", true, false, nil, nil, nil, false)
	out := And("a", l, r)
	require.True(t, out.Bool(0))
	require.False(t, out.Bool(1))
	require.True(t, out.IsNull(2))
	require.False(t, out.Bool(3)) // false and null = false
	require.True(t, out.IsNull(4))
	require.False(t, out.Bool(5))
}

func TestKleeneOr(t *testing.T) {
	// Rows: (T,N) (F,N) (N,N) (F,F)
	l := boolsCol("l", true, false, nil, false)
	r := boolsCol("r", nil, nil, nil, false)
	out := Or("o", l, r)
	require.True(t, out.Bool(0)) // true or null = true
	require.True(t, out.IsNull(1))
	require.True(t, out.IsNull(2))
	require.False(t, out.Bool(3))
}

func TestNotAndNeg(t *testing.T) {
	b := boolsCol("b", true, nil, false)
	out := Not("n", b)
	require.False(t, out.Bool(0))
	require.True(t, out.IsNull(1))
	require.True(t, out.Bool(2))

	n := intsCol("n", 5, nil)
	neg, err := Neg("m", n)
	require.NoError(t, err)
	require.Equal(t, int64(-5), neg.Int(0))
	require.True(t, neg.IsNull(1))

	edge := NewColumnVector(Field{Name: "e", TP: Int64}, 1)
	edge.AppendInt(math.MinInt64)
	_, err = Neg("m", edge)
	require.True(t, qerror.IsKind(err, qerror.Overflow))
}

func TestCastStrictFailsLenientNulls(t *testing.T) {
	s := strsCol("s", "42", "nope", nil)
	_, err := Cast(s, Int64, true, "i")
	require.True(t, qerror.IsKind(err, qerror.Cast))

	out, err := Cast(s, Int64, false, "i")
	require.NoError(t, err)
	require.Equal(t, int64(42), out.Int(0))
	require.True(t, out.IsNull(1))
	require.True(t, out.IsNull(2))
}

func TestCastConversions(t *testing.T) {
	d, err := CastDatum(NewFloatDatum(3.9), Int64, true)
	require.NoError(t, err)
	require.Equal(t, int64(3), d.I)

	d, err = CastDatum(NewBoolDatum(true), Int64, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), d.I)

	d, err = CastDatum(NewIntDatum(0), Boolean, true)
	require.NoError(t, err)
	require.False(t, d.B)

	d, err = CastDatum(NewStrDatum(" 2.5 "), Float64, true)
	require.NoError(t, err)
	require.Equal(t, 2.5, d.F)

	d, err = CastDatum(NewStrDatum("2020-02-29"), Date, true)
	require.NoError(t, err)
	require.Equal(t, Date, d.TP)
	require.Equal(t, "2020-02-29", FormatDate(d.I))

	_, err = CastDatum(NewFloatDatum(math.NaN()), Int64, true)
	require.True(t, qerror.IsKind(err, qerror.Cast))
}

func TestCastOKMatrix(t *testing.T) {
	require.True(t, CastOK(Int64, Utf8))
	require.True(t, CastOK(Date, Int64))
	require.True(t, CastOK(Utf8, Date))
	require.False(t, CastOK(Boolean, Float64))
	require.False(t, CastOK(Date, Boolean))
}

func TestScalarFolding(t *testing.T) {
	d, err := ArithDatum(OpMul, "", NewIntDatum(6), NewIntDatum(7))
	require.NoError(t, err)
	require.Equal(t, int64(42), d.I)

	d, err = ArithDatum(OpAdd, "", NewIntDatum(1), NewNullDatum(Int64))
	require.NoError(t, err)
	require.True(t, d.Null)

	require.True(t, CompareDatum(CmpGT, NewIntDatum(2), NewFloatDatum(1.5)).B)
	require.True(t, CompareDatum(CmpEQ, NewNullDatum(Int64), NewIntDatum(1)).Null)

	require.False(t, AndDatum(NewNullDatum(Boolean), NewBoolDatum(false)).B)
	require.True(t, OrDatum(NewNullDatum(Boolean), NewBoolDatum(true)).B)
	require.True(t, NotDatum(NewNullDatum(Boolean)).Null)
}
