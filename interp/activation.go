package interp

import (
	"fmt"

	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/runtime"
)

// Activation is the execution state of one run of an interpreter context:
// a method body, a module body or a closure body.
type Activation struct {
	Ctx       *runtime.ThreadContext
	IC        *ir.InterpreterContext
	Self      runtime.Value
	Args      []runtime.Value
	Block     *runtime.Block // closure passed to this activation
	ImplClass *runtime.Class

	// closure is the block being run, nil for method activations.
	closure *runtime.Block
	frame   *runtime.Frame
	binding *runtime.DynamicScope
	temps   []runtime.Value
	// exception is the unwind that redirected control to the current handler.
	exception error
}

func newActivation(ctx *runtime.ThreadContext, ic *ir.InterpreterContext, self runtime.Value, args []runtime.Value, block *runtime.Block, implClass *runtime.Class) *Activation {
	return &Activation{
		Ctx:       ctx,
		IC:        ic,
		Self:      self,
		Args:      args,
		Block:     block,
		ImplClass: implClass,
		temps:     make([]runtime.Value, ic.TempCount),
	}
}

// Runtime returns the guest runtime.
func (a *Activation) Runtime() *runtime.Runtime { return a.Ctx.Runtime }

// Frame returns the frame of this activation, or nil before one is pushed.
func (a *Activation) Frame() *runtime.Frame { return a.frame }

// Binding returns the local-variable scope of this activation, or nil.
func (a *Activation) Binding() *runtime.DynamicScope { return a.binding }

// Closure returns the block being run, or nil for a method activation.
func (a *Activation) Closure() *runtime.Block { return a.closure }

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// Operand evaluates op.
func (a *Activation) Operand(op ir.Operand) (runtime.Value, error) {
	switch x := op.(type) {
	case nil:
		return nil, nil
	case ir.TemporaryVariable:
		if x.ID < len(a.temps) {
			return a.temps[x.ID], nil
		}
		return nil, nil
	case ir.LocalVariable:
		return a.locals().Get(x.Depth, x.Offset), nil
	case ir.SelfVariable:
		return a.Self, nil
	case ir.Fixnum:
		return x.Value, nil
	case ir.Float:
		return x.Value, nil
	case ir.StringLiteral:
		return x.Value, nil
	case ir.Symbol:
		return runtime.Symbol(x.Name), nil
	case ir.NilOperand:
		return nil, nil
	case ir.Boolean:
		return x.Value, nil
	case *ir.ArrayLiteral:
		elems, err := a.Operands(x.Elems)
		if err != nil {
			return nil, err
		}
		return runtime.NewArray(elems...), nil
	case *ir.WrappedClosure:
		return a.newBlock(x), nil
	}
	return nil, runtime.Fatal(fmt.Errorf("interp: cannot evaluate operand %v (%T)", op, op))
}

// Operands evaluates ops in order.
func (a *Activation) Operands(ops []ir.Operand) ([]runtime.Value, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	vals := make([]runtime.Value, len(ops))
	for i, op := range ops {
		v, err := a.Operand(op)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// Set stores v into the result variable dst. A nil dst discards v.
func (a *Activation) Set(dst ir.Variable, v runtime.Value) error {
	switch x := dst.(type) {
	case nil:
	case ir.TemporaryVariable:
		if x.ID >= len(a.temps) {
			grown := make([]runtime.Value, x.ID+1)
			copy(grown, a.temps)
			a.temps = grown
		}
		a.temps[x.ID] = v
	case ir.LocalVariable:
		a.locals().Set(x.Depth, x.Offset, v)
	default:
		return runtime.Fatal(fmt.Errorf("interp: cannot assign to %v", dst))
	}
	return nil
}

// locals returns the binding, allocating an unpublished one when the scope
// runs without a pushed binding.
func (a *Activation) locals() *runtime.DynamicScope {
	if a.binding == nil {
		var parent *runtime.DynamicScope
		if a.closure != nil {
			parent = a.closure.Binding
		}
		a.binding = runtime.NewDynamicScope(a.IC.Scope.LocalCount(), parent)
	}
	return a.binding
}

// newBlock materializes a closure literal in this activation.
func (a *Activation) newBlock(w *ir.WrappedClosure) *runtime.Block {
	return &runtime.Block{
		Body:         ClosureBody(w.Closure),
		Self:         a.Self,
		Binding:      a.binding,
		Class:        a.ImplClass,
		Frame:        a.frame,
		ReturnTarget: a.returnTarget(),
		Lambda:       w.Lambda,
	}
}

// returnTarget is the frame a `return` inside a closure created here leaves.
func (a *Activation) returnTarget() *runtime.Frame {
	if a.closure == nil || a.closure.Lambda {
		return a.frame
	}
	return a.closure.ReturnTarget
}

func (a *Activation) closureOperand(op ir.Operand) (*runtime.Block, error) {
	if op == nil {
		return nil, nil
	}
	v, err := a.Operand(op)
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case nil:
		return nil, nil
	case *runtime.Block:
		return b, nil
	}
	return nil, a.Runtime().Raise("TypeError", "wrong argument type %s (expected Proc)", a.Runtime().ClassOf(v).Name())
}
