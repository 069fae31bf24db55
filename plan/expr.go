package plan

import (
	"fmt"
	"strings"

	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
)

// Expr is a node of the expression AST. Expressions are immutable,
// shared-by-reference trees: rewrites build new nodes around the same
// children, never mutate. String() is a canonical, fully parenthesized
// rendering, so two expressions are structurally equal exactly when their
// strings match.
type Expr interface {
	String() string
	// ResultField binds the expression against an input schema and computes
	// its output field. It fails with SchemaError for unknown columns and
	// TypeError for incompatible operand dtypes.
	ResultField(input *storage.TableSchema) (storage.Field, error)
	Children() []Expr
	withChildren(children []Expr) Expr
	HasAggr() bool
	HasWindow() bool
}

// freeColumns collects every column name the expression references.
func freeColumns(e Expr, into map[string]bool) {
	if col, ok := e.(*ColumnExpr); ok {
		into[col.Name] = true
		return
	}
	for _, child := range e.Children() {
		freeColumns(child, into)
	}
}

// substituteColumns rewrites column references through a mapping, used when a
// predicate moves below a projection. Names absent from the mapping stay.
func substituteColumns(e Expr, mapping map[string]Expr) Expr {
	if col, ok := e.(*ColumnExpr); ok {
		if repl, ok := mapping[col.Name]; ok {
			return repl
		}
		return e
	}
	children := e.Children()
	if len(children) == 0 {
		return e
	}
	newChildren := make([]Expr, len(children))
	for i, child := range children {
		newChildren[i] = substituteColumns(child, mapping)
	}
	return e.withChildren(newChildren)
}

// ColumnExpr references an input column by name.
type ColumnExpr struct {
	Name string
}

func Col(name string) Expr {
	return &ColumnExpr{Name: name}
}

func (col *ColumnExpr) String() string {
	return col.Name
}

func (col *ColumnExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	f, ok := input.GetField(col.Name)
	if !ok {
		return storage.Field{}, qerror.Schemaf("unknown column '%s' in %s", col.Name, input)
	}
	return f, nil
}

func (col *ColumnExpr) Children() []Expr {
	return nil
}

func (col *ColumnExpr) withChildren(children []Expr) Expr {
	return col
}

func (col *ColumnExpr) HasAggr() bool   { return false }
func (col *ColumnExpr) HasWindow() bool { return false }

// LiteralExpr holds one constant value. Its output column repeats the value
// on every row.
type LiteralExpr struct {
	Value storage.Datum
}

func Lit(value storage.Datum) Expr {
	return &LiteralExpr{Value: value}
}

func IntLit(v int64) Expr {
	return Lit(storage.NewIntDatum(v))
}

func FloatLit(v float64) Expr {
	return Lit(storage.NewFloatDatum(v))
}

func BoolLit(v bool) Expr {
	return Lit(storage.NewBoolDatum(v))
}

func StrLit(v string) Expr {
	return Lit(storage.NewStrDatum(v))
}

func NullLit(tp storage.DType) Expr {
	return Lit(storage.NewNullDatum(tp))
}

func (lit *LiteralExpr) String() string {
	if lit.Value.TP == storage.Utf8 && !lit.Value.Null {
		return "'" + lit.Value.S + "'"
	}
	if lit.Value.Null {
		return "null:" + lit.Value.TP.String()
	}
	return lit.Value.String()
}

func (lit *LiteralExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	return storage.Field{Name: "literal", TP: lit.Value.TP}, nil
}

func (lit *LiteralExpr) Children() []Expr {
	return nil
}

func (lit *LiteralExpr) withChildren(children []Expr) Expr {
	return lit
}

func (lit *LiteralExpr) HasAggr() bool   { return false }
func (lit *LiteralExpr) HasWindow() bool { return false }

// BinOp tags a BinaryExpr. Arithmetic ops are checked by default; the *Wrap
// variants wrap around on int64 overflow instead of failing.
type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinAddWrap
	BinSubWrap
	BinMulWrap
	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
	BinAnd
	BinOr
)

var binOpNames = map[BinOp]string{
	BinAdd: "+", BinSub: "-", BinMul: "*", BinDiv: "/", BinMod: "%",
	BinAddWrap: "+w", BinSubWrap: "-w", BinMulWrap: "*w",
	BinEq: "=", BinNe: "!=", BinLt: "<", BinLe: "<=", BinGt: ">", BinGe: ">=",
	BinAnd: "and", BinOr: "or",
}

func (op BinOp) String() string {
	return binOpNames[op]
}

func (op BinOp) isArith() bool {
	return op >= BinAdd && op <= BinMulWrap
}

func (op BinOp) isCmp() bool {
	return op >= BinEq && op <= BinGe
}

func (op BinOp) arithOp() storage.ArithOp {
	switch op {
	case BinAdd:
		return storage.OpAdd
	case BinSub:
		return storage.OpSub
	case BinMul:
		return storage.OpMul
	case BinDiv:
		return storage.OpDiv
	case BinMod:
		return storage.OpMod
	case BinAddWrap:
		return storage.OpAddWrap
	case BinSubWrap:
		return storage.OpSubWrap
	default:
		return storage.OpMulWrap
	}
}

func (op BinOp) cmpOp() storage.CmpOp {
	switch op {
	case BinEq:
		return storage.CmpEQ
	case BinNe:
		return storage.CmpNE
	case BinLt:
		return storage.CmpLT
	case BinLe:
		return storage.CmpLE
	case BinGt:
		return storage.CmpGT
	default:
		return storage.CmpGE
	}
}

type BinaryExpr struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func newBinary(op BinOp, left, right Expr) Expr {
	return &BinaryExpr{Op: op, Left: left, Right: right}
}

func Add(l, r Expr) Expr     { return newBinary(BinAdd, l, r) }
func Sub(l, r Expr) Expr     { return newBinary(BinSub, l, r) }
func Mul(l, r Expr) Expr     { return newBinary(BinMul, l, r) }
func Div(l, r Expr) Expr     { return newBinary(BinDiv, l, r) }
func Mod(l, r Expr) Expr     { return newBinary(BinMod, l, r) }
func AddWrap(l, r Expr) Expr { return newBinary(BinAddWrap, l, r) }
func SubWrap(l, r Expr) Expr { return newBinary(BinSubWrap, l, r) }
func MulWrap(l, r Expr) Expr { return newBinary(BinMulWrap, l, r) }
func Eq(l, r Expr) Expr      { return newBinary(BinEq, l, r) }
func Ne(l, r Expr) Expr      { return newBinary(BinNe, l, r) }
func Lt(l, r Expr) Expr      { return newBinary(BinLt, l, r) }
func Le(l, r Expr) Expr      { return newBinary(BinLe, l, r) }
func Gt(l, r Expr) Expr      { return newBinary(BinGt, l, r) }
func Ge(l, r Expr) Expr      { return newBinary(BinGe, l, r) }
func And(l, r Expr) Expr     { return newBinary(BinAnd, l, r) }
func Or(l, r Expr) Expr      { return newBinary(BinOr, l, r) }

func (bin *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", bin.Left, bin.Op, bin.Right)
}

func (bin *BinaryExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	lf, err := bin.Left.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	rf, err := bin.Right.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	// A derived column keeps the name of the leftmost column it was derived
	// from, so `(val + 1)` still comes out named val.
	name := lf.Name
	switch {
	case bin.Op.isArith():
		tp, err := storage.ArithResultType(bin.Op.arithOp(), lf.TP, rf.TP)
		if err != nil {
			return storage.Field{}, err
		}
		return storage.Field{Name: name, TP: tp}, nil
	case bin.Op.isCmp():
		if !storage.ComparableTypes(lf.TP, rf.TP) {
			return storage.Field{}, qerror.Typef("cannot compare %s to %s in %s", lf.TP, rf.TP, bin)
		}
		return storage.Field{Name: name, TP: storage.Boolean}, nil
	default: // and / or
		if lf.TP != storage.Boolean || rf.TP != storage.Boolean {
			return storage.Field{}, qerror.Typef("'%s' requires bool operands, got %s and %s", bin.Op, lf.TP, rf.TP)
		}
		return storage.Field{Name: name, TP: storage.Boolean}, nil
	}
}

func (bin *BinaryExpr) Children() []Expr {
	return []Expr{bin.Left, bin.Right}
}

func (bin *BinaryExpr) withChildren(children []Expr) Expr {
	return &BinaryExpr{Op: bin.Op, Left: children[0], Right: children[1]}
}

func (bin *BinaryExpr) HasAggr() bool {
	return bin.Left.HasAggr() || bin.Right.HasAggr()
}

func (bin *BinaryExpr) HasWindow() bool {
	return bin.Left.HasWindow() || bin.Right.HasWindow()
}

type UnOp int

const (
	UnNeg UnOp = iota
	UnNot
)

func (op UnOp) String() string {
	if op == UnNeg {
		return "-"
	}
	return "not"
}

type UnaryExpr struct {
	Op    UnOp
	Child Expr
}

func Neg(e Expr) Expr {
	return &UnaryExpr{Op: UnNeg, Child: e}
}

func Not(e Expr) Expr {
	return &UnaryExpr{Op: UnNot, Child: e}
}

func (un *UnaryExpr) String() string {
	return fmt.Sprintf("(%s %s)", un.Op, un.Child)
}

func (un *UnaryExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	cf, err := un.Child.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	switch un.Op {
	case UnNeg:
		if !cf.TP.IsNumeric() {
			return storage.Field{}, qerror.Typef("cannot negate %s in %s", cf.TP, un)
		}
		return storage.Field{Name: cf.Name, TP: cf.TP}, nil
	default:
		if cf.TP != storage.Boolean {
			return storage.Field{}, qerror.Typef("'not' requires a bool operand, got %s", cf.TP)
		}
		return storage.Field{Name: cf.Name, TP: storage.Boolean}, nil
	}
}

func (un *UnaryExpr) Children() []Expr {
	return []Expr{un.Child}
}

func (un *UnaryExpr) withChildren(children []Expr) Expr {
	return &UnaryExpr{Op: un.Op, Child: children[0]}
}

func (un *UnaryExpr) HasAggr() bool   { return un.Child.HasAggr() }
func (un *UnaryExpr) HasWindow() bool { return un.Child.HasWindow() }

// CastExpr converts its child to a target dtype. Whether an unconvertible
// cell fails or becomes null is decided by the execution context's cast mode.
type CastExpr struct {
	Child  Expr
	Target storage.DType
}

func Cast(e Expr, target storage.DType) Expr {
	return &CastExpr{Child: e, Target: target}
}

func (cast *CastExpr) String() string {
	return fmt.Sprintf("cast(%s as %s)", cast.Child, cast.Target)
}

func (cast *CastExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	cf, err := cast.Child.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	if !storage.CastOK(cf.TP, cast.Target) {
		return storage.Field{}, qerror.Typef("no cast from %s to %s", cf.TP, cast.Target)
	}
	return storage.Field{Name: cf.Name, TP: cast.Target}, nil
}

func (cast *CastExpr) Children() []Expr {
	return []Expr{cast.Child}
}

func (cast *CastExpr) withChildren(children []Expr) Expr {
	return &CastExpr{Child: children[0], Target: cast.Target}
}

func (cast *CastExpr) HasAggr() bool   { return cast.Child.HasAggr() }
func (cast *CastExpr) HasWindow() bool { return cast.Child.HasWindow() }

// AliasExpr renames its child's output column.
type AliasExpr struct {
	Child Expr
	Name  string
}

func Alias(e Expr, name string) Expr {
	return &AliasExpr{Child: e, Name: name}
}

func (as *AliasExpr) String() string {
	return fmt.Sprintf("%s as %s", as.Child, as.Name)
}

func (as *AliasExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	cf, err := as.Child.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	return storage.Field{Name: as.Name, TP: cf.TP}, nil
}

func (as *AliasExpr) Children() []Expr {
	return []Expr{as.Child}
}

func (as *AliasExpr) withChildren(children []Expr) Expr {
	return &AliasExpr{Child: children[0], Name: as.Name}
}

func (as *AliasExpr) HasAggr() bool   { return as.Child.HasAggr() }
func (as *AliasExpr) HasWindow() bool { return as.Child.HasWindow() }

// FillNullExpr replaces null cells of its child with the fallback value.
type FillNullExpr struct {
	Child    Expr
	Fallback Expr
}

func FillNull(child, fallback Expr) Expr {
	return &FillNullExpr{Child: child, Fallback: fallback}
}

func (fn *FillNullExpr) String() string {
	return fmt.Sprintf("fill_null(%s, %s)", fn.Child, fn.Fallback)
}

func (fn *FillNullExpr) ResultField(input *storage.TableSchema) (storage.Field, error) {
	cf, err := fn.Child.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	ff, err := fn.Fallback.ResultField(input)
	if err != nil {
		return storage.Field{}, err
	}
	if cf.TP != ff.TP {
		return storage.Field{}, qerror.Typef("fill_null fallback dtype %s does not match %s", ff.TP, cf.TP)
	}
	return cf, nil
}

func (fn *FillNullExpr) Children() []Expr {
	return []Expr{fn.Child, fn.Fallback}
}

func (fn *FillNullExpr) withChildren(children []Expr) Expr {
	return &FillNullExpr{Child: children[0], Fallback: children[1]}
}

func (fn *FillNullExpr) HasAggr() bool {
	return fn.Child.HasAggr() || fn.Fallback.HasAggr()
}

func (fn *FillNullExpr) HasWindow() bool {
	return fn.Child.HasWindow() || fn.Fallback.HasWindow()
}

// SortKey pairs an expression with a direction. Null placement comes from the
// execution context.
type SortKey struct {
	Expr Expr
	Desc bool
}

func Asc(e Expr) SortKey {
	return SortKey{Expr: e}
}

func Desc(e Expr) SortKey {
	return SortKey{Expr: e, Desc: true}
}

func (key SortKey) String() string {
	if key.Desc {
		return key.Expr.String() + " desc"
	}
	return key.Expr.String() + " asc"
}

func sortKeysString(keys []SortKey) string {
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = key.String()
	}
	return strings.Join(parts, ", ")
}

func exprsString(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
