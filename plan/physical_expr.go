package plan

import (
	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
)

// physicalExpr is a compiled expression: every column reference resolved to a
// position, the output field decided. eval never mutates the input batch.
type physicalExpr interface {
	field() storage.Field
	eval(batch *storage.RecordBatch) (*storage.ColumnVector, error)
}

// compileExpr binds an expression against the input schema. Aggregate and
// window expressions never reach here; their operators unpack them first.
func compileExpr(e Expr, input *storage.TableSchema, ec *ExecContext) (physicalExpr, error) {
	f, err := e.ResultField(input)
	if err != nil {
		return nil, err
	}
	switch v := e.(type) {
	case *ColumnExpr:
		return &physColumn{f: f, idx: input.IndexOf(v.Name)}, nil
	case *LiteralExpr:
		return &physLiteral{f: f, value: v.Value}, nil
	case *BinaryExpr:
		left, err := compileExpr(v.Left, input, ec)
		if err != nil {
			return nil, err
		}
		right, err := compileExpr(v.Right, input, ec)
		if err != nil {
			return nil, err
		}
		return &physBinary{f: f, op: v.Op, left: left, right: right, repr: v.String(), ec: ec}, nil
	case *UnaryExpr:
		child, err := compileExpr(v.Child, input, ec)
		if err != nil {
			return nil, err
		}
		return &physUnary{f: f, op: v.Op, child: child}, nil
	case *CastExpr:
		child, err := compileExpr(v.Child, input, ec)
		if err != nil {
			return nil, err
		}
		return &physCast{f: f, child: child, target: v.Target, strict: ec.StrictCast}, nil
	case *AliasExpr:
		child, err := compileExpr(v.Child, input, ec)
		if err != nil {
			return nil, err
		}
		return &physRename{f: f, child: child}, nil
	case *FillNullExpr:
		child, err := compileExpr(v.Child, input, ec)
		if err != nil {
			return nil, err
		}
		fallback, err := compileExpr(v.Fallback, input, ec)
		if err != nil {
			return nil, err
		}
		return &physFillNull{f: f, child: child, fallback: fallback}, nil
	default:
		return nil, qerror.Typef("cannot evaluate %s in this operator", e)
	}
}

// renameColumn shares the buffers of col under a new field.
func renameColumn(col *storage.ColumnVector, f storage.Field) *storage.ColumnVector {
	ret := *col
	ret.Field = f
	return &ret
}

type physColumn struct {
	f   storage.Field
	idx int
}

func (pc *physColumn) field() storage.Field { return pc.f }

func (pc *physColumn) eval(batch *storage.RecordBatch) (*storage.ColumnVector, error) {
	return batch.Column(pc.idx), nil
}

type physLiteral struct {
	f     storage.Field
	value storage.Datum
}

func (pl *physLiteral) field() storage.Field { return pl.f }

func (pl *physLiteral) eval(batch *storage.RecordBatch) (*storage.ColumnVector, error) {
	n := batch.RowCount()
	ret := storage.NewColumnVector(pl.f, n)
	for i := 0; i < n; i++ {
		ret.AppendDatum(pl.value)
	}
	return ret, nil
}

type physBinary struct {
	f     storage.Field
	op    BinOp
	left  physicalExpr
	right physicalExpr
	repr  string
	ec    *ExecContext
}

func (pb *physBinary) field() storage.Field { return pb.f }

func (pb *physBinary) eval(batch *storage.RecordBatch) (*storage.ColumnVector, error) {
	l, err := pb.left.eval(batch)
	if err != nil {
		return nil, err
	}
	r, err := pb.right.eval(batch)
	if err != nil {
		return nil, err
	}
	if pb.ec.EvalHook != nil {
		pb.ec.EvalHook(pb.repr)
	}
	switch {
	case pb.op.isArith():
		return storage.Arith(pb.op.arithOp(), pb.f.Name, l, r)
	case pb.op.isCmp():
		return storage.Compare(pb.op.cmpOp(), pb.f.Name, l, r)
	case pb.op == BinAnd:
		return storage.And(pb.f.Name, l, r), nil
	default:
		return storage.Or(pb.f.Name, l, r), nil
	}
}

type physUnary struct {
	f     storage.Field
	op    UnOp
	child physicalExpr
}

func (pu *physUnary) field() storage.Field { return pu.f }

func (pu *physUnary) eval(batch *storage.RecordBatch) (*storage.ColumnVector, error) {
	c, err := pu.child.eval(batch)
	if err != nil {
		return nil, err
	}
	if pu.op == UnNot {
		return storage.Not(pu.f.Name, c), nil
	}
	return storage.Neg(pu.f.Name, c)
}

type physCast struct {
	f      storage.Field
	child  physicalExpr
	target storage.DType
	strict bool
}

func (pc *physCast) field() storage.Field { return pc.f }

func (pc *physCast) eval(batch *storage.RecordBatch) (*storage.ColumnVector, error) {
	c, err := pc.child.eval(batch)
	if err != nil {
		return nil, err
	}
	return storage.Cast(c, pc.target, pc.strict, pc.f.Name)
}

type physRename struct {
	f     storage.Field
	child physicalExpr
}

func (pr *physRename) field() storage.Field { return pr.f }

func (pr *physRename) eval(batch *storage.RecordBatch) (*storage.ColumnVector, error) {
	c, err := pr.child.eval(batch)
	if err != nil {
		return nil, err
	}
	return renameColumn(c, pr.f), nil
}

type physFillNull struct {
	f        storage.Field
	child    physicalExpr
	fallback physicalExpr
}

func (pf *physFillNull) field() storage.Field { return pf.f }

func (pf *physFillNull) eval(batch *storage.RecordBatch) (*storage.ColumnVector, error) {
	c, err := pf.child.eval(batch)
	if err != nil {
		return nil, err
	}
	fb, err := pf.fallback.eval(batch)
	if err != nil {
		return nil, err
	}
	ret := storage.NewColumnVector(pf.f, c.RowCount())
	for i := 0; i < c.RowCount(); i++ {
		if c.IsNull(i) {
			ret.AppendDatum(fb.DatumAt(i))
		} else {
			ret.AppendRow(c, i)
		}
	}
	return ret, nil
}
