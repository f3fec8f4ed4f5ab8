package interp

import (
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/runtime"
)

// ClosureBody returns the interpreted body of a closure scope.
func ClosureBody(scope *ir.Scope) runtime.BlockBody {
	return closureBody{scope: scope}
}

type closureBody struct {
	scope *ir.Scope
}

func (b closureBody) Scope() *ir.Scope { return b.scope }

// Yield runs the closure in a fresh block (or lambda) frame whose binding
// is chained to the captured one.
func (b closureBody) Yield(ctx *runtime.ThreadContext, blk *runtime.Block, args []runtime.Value, blockArg *runtime.Block) (runtime.Value, error) {
	ic, err := b.scope.InterpreterContext()
	if err != nil {
		return nil, runtime.Fatal(err)
	}
	if blk.Lambda {
		if err := CheckArity(ctx, b.scope, len(args)); err != nil {
			return nil, err
		}
	} else {
		args = procArgs(b.scope, args)
	}

	if err := ctx.EnterCall(); err != nil {
		return nil, err
	}
	defer ctx.LeaveCall()

	a := newActivation(ctx, ic, blk.Self, args, blockArg, blk.Class)
	a.closure = blk
	kind := runtime.BlockFrame
	if blk.Lambda {
		kind = runtime.LambdaFrame
	}
	a.pushFrame(kind)
	defer ctx.PopFrame()
	a.pushBinding()
	defer ctx.PopBinding()
	return Run(a, nil)
}

// procArgs spreads a lone array argument over a multi-parameter proc.
func procArgs(scope *ir.Scope, args []runtime.Value) []runtime.Value {
	if len(args) != 1 || scope.RequiredArgs+scope.OptionalArgs < 2 {
		return args
	}
	if arr, ok := args[0].(*runtime.Array); ok {
		return arr.Elems
	}
	return args
}
