package plan

import (
	"context"

	"github.com/panjf2000/ants/v2"
	"github.com/xiaobogaga/miniframe/qerror"
	"github.com/xiaobogaga/miniframe/storage"
	"github.com/xiaobogaga/miniframe/util"
)

var execLog = util.GetLog("exec")

// ExecContext carries the execution-time knobs. It is threaded explicitly
// through every operator; nothing execution-related hides in package state.
type ExecContext struct {
	// Ctx cancels a running query between chunks.
	Ctx context.Context
	// BatchSize caps the rows per output chunk of every operator.
	BatchSize int
	// NullsFirst flips the default nulls-last sort placement.
	NullsFirst bool
	// StrictCast makes an unconvertible cast cell fail the query instead of
	// becoming null.
	StrictCast bool
	// Pool runs the parallel parts (union branches, aggregation partials).
	// Nil runs them inline.
	Pool *ants.Pool
	// EvalHook observes every binary expression evaluation, keyed by the
	// expression's canonical string. Test instrumentation.
	EvalHook func(expr string)
}

const defaultBatchSize = 1 << 12

func NewExecContext() *ExecContext {
	return &ExecContext{
		Ctx:        context.Background(),
		BatchSize:  defaultBatchSize,
		StrictCast: true,
	}
}

func (ec *ExecContext) batchSize() int {
	if ec.BatchSize <= 0 {
		return defaultBatchSize
	}
	return ec.BatchSize
}

// checkCancelled is polled between chunks by every operator.
func (ec *ExecContext) checkCancelled() error {
	if ec.Ctx == nil {
		return nil
	}
	select {
	case <-ec.Ctx.Done():
		return qerror.Cancelledf("query cancelled: %v", ec.Ctx.Err())
	default:
		return nil
	}
}

// PhysicalPlan is a pull-based operator. Next returns the next chunk, nil
// when exhausted. Once nil is returned every later call returns nil too.
type PhysicalPlan interface {
	Schema() *storage.TableSchema
	Next() (*storage.RecordBatch, error)
}

// Compile lowers a validated logical plan to a physical operator tree,
// resolving every column reference to a position. Sources are rewound so the
// same logical plan can be executed repeatedly.
func Compile(p LogicalPlan, ec *ExecContext) (PhysicalPlan, error) {
	switch v := p.(type) {
	case *ScanPlan:
		v.Source.Reset()
		return &scanExec{src: v.Source, schema: v.schema, ec: ec}, nil
	case *FilterPlan:
		input, err := Compile(v.Input, ec)
		if err != nil {
			return nil, err
		}
		pred, err := compileExpr(v.Predicate, input.Schema(), ec)
		if err != nil {
			return nil, err
		}
		return &filterExec{input: input, pred: pred, ec: ec}, nil
	case *ProjectPlan:
		input, err := Compile(v.Input, ec)
		if err != nil {
			return nil, err
		}
		if v.hasWindow() {
			return newWindowProjectExec(input, v, ec)
		}
		exprs := make([]physicalExpr, len(v.Exprs))
		for i, e := range v.Exprs {
			pe, err := compileExpr(e, input.Schema(), ec)
			if err != nil {
				return nil, err
			}
			exprs[i] = pe
		}
		return &projectExec{input: input, exprs: exprs, schema: v.schema, ec: ec}, nil
	case *AggregatePlan:
		input, err := Compile(v.Input, ec)
		if err != nil {
			return nil, err
		}
		return newAggExec(input, v, ec)
	case *JoinPlan:
		left, err := Compile(v.Left, ec)
		if err != nil {
			return nil, err
		}
		right, err := Compile(v.Right, ec)
		if err != nil {
			return nil, err
		}
		if v.Strategy == NestedLoopStrategy {
			return newCrossJoinExec(left, right, v, ec), nil
		}
		return newHashJoinExec(left, right, v, ec)
	case *SortPlan:
		input, err := Compile(v.Input, ec)
		if err != nil {
			return nil, err
		}
		keys := make([]physicalSortKey, len(v.Keys))
		for i, key := range v.Keys {
			pe, err := compileExpr(key.Expr, input.Schema(), ec)
			if err != nil {
				return nil, err
			}
			keys[i] = physicalSortKey{expr: pe, desc: key.Desc}
		}
		return &sortExec{input: input, keys: keys, ec: ec}, nil
	case *LimitPlan:
		input, err := Compile(v.Input, ec)
		if err != nil {
			return nil, err
		}
		return &limitExec{input: input, offset: v.Offset, count: v.Count, ec: ec}, nil
	case *UnionPlan:
		inputs := make([]PhysicalPlan, len(v.Inputs))
		for i, in := range v.Inputs {
			pi, err := Compile(in, ec)
			if err != nil {
				return nil, err
			}
			inputs[i] = pi
		}
		return &unionExec{inputs: inputs, schema: v.Schema(), ec: ec}, nil
	default:
		return nil, qerror.Schemaf("cannot compile plan node %s", p)
	}
}

// Run optimizes, compiles and fully drains a logical plan into one batch.
func Run(p LogicalPlan, ec *ExecContext) (*storage.RecordBatch, error) {
	optimized, err := Optimize(p)
	if err != nil {
		return nil, err
	}
	execLog.DebugF("executing plan:\n%s", Explain(optimized))
	exec, err := Compile(optimized, ec)
	if err != nil {
		return nil, err
	}
	ret := storage.NewRecordBatch(exec.Schema(), 0)
	for {
		batch, err := exec.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return ret, nil
		}
		ret.Append(batch)
	}
}
