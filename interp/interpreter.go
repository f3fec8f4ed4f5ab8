package interp

import (
	"fmt"

	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/runtime"
)

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Interpret runs scope as a method or module body. It has the
// runtime.Entry signature.
func Interpret(ctx *runtime.ThreadContext, scope *ir.Scope, self runtime.Value, args []runtime.Value, block *runtime.Block, implClass *runtime.Class) (runtime.Value, error) {
	ic, err := scope.InterpreterContext()
	if err != nil {
		return nil, runtime.Fatal(err)
	}
	return Invoke(ctx, ic, nil, self, args, block, implClass)
}

// Invoke runs ic as a method activation. When steps is nil every
// instruction is interpreted; otherwise steps[pc] executes pc.
//
// Contexts built without the explicit call protocol get their frame and
// binding from here; otherwise the push/pop instructions manage them.
func Invoke(ctx *runtime.ThreadContext, ic *ir.InterpreterContext, steps []StepFunc, self runtime.Value, args []runtime.Value, block *runtime.Block, implClass *runtime.Class) (runtime.Value, error) {
	if err := ctx.EnterCall(); err != nil {
		return nil, err
	}
	defer ctx.LeaveCall()

	a := newActivation(ctx, ic, self, args, block, implClass)
	if !ic.CallProtocol {
		a.pushFrame(runtime.MethodFrame)
		defer ctx.PopFrame()
		a.pushBinding()
		defer ctx.PopBinding()
	}
	return Run(a, steps)
}

// CheckArity raises ArgumentError when n arguments do not fit scope.
func CheckArity(ctx *runtime.ThreadContext, scope *ir.Scope, n int) error {
	limit := scope.RequiredArgs + scope.OptionalArgs
	if n < scope.RequiredArgs || (!scope.RestArgs && n > limit) {
		expected := fmt.Sprint(scope.RequiredArgs)
		switch {
		case scope.RestArgs:
			expected += "+"
		case scope.OptionalArgs > 0:
			expected = fmt.Sprintf("%d..%d", scope.RequiredArgs, limit)
		}
		return ctx.Runtime.Raise("ArgumentError", "wrong number of arguments (given %d, expected %s)", n, expected)
	}
	return nil
}

func (a *Activation) pushFrame(kind runtime.FrameKind) {
	a.frame = &runtime.Frame{
		Kind:  kind,
		Name:  a.IC.Scope.Name,
		Self:  a.Self,
		Class: a.ImplClass,
		Block: a.Block,
	}
	a.Ctx.PushFrame(a.frame)
}

func (a *Activation) pushBinding() {
	var parent *runtime.DynamicScope
	if a.closure != nil {
		parent = a.closure.Binding
	}
	a.binding = runtime.NewDynamicScope(a.IC.Scope.LocalCount(), parent)
	a.Ctx.PushBinding(a.binding)
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// Run executes a until it returns or an unwind escapes it.
func Run(a *Activation, steps []StepFunc) (runtime.Value, error) {
	instrs := a.IC.Instrs
	pc := 0
	for pc < len(instrs) {
		var out Outcome
		if steps != nil {
			out = steps[pc](a, pc)
		} else {
			out = a.Step(pc)
		}
		if out.Kind == OutUnwind {
			out = a.route(pc, out.Err)
		}
		switch out.Kind {
		case OutNext:
			pc++
		case OutJump:
			pc = out.PC
		case OutReturn:
			return out.Value, nil
		case OutUnwind:
			return nil, out.Err
		}
	}
	return nil, nil
}

// route decides where an unwind raised at pc goes.
func (a *Activation) route(pc int, err error) Outcome {
	err = runtime.Fatal(err)

	if bj, ok := err.(*runtime.BreakJump); ok && bj.Target != nil && bj.Target == a.frame {
		switch in := a.IC.Instrs[pc].(type) {
		case *ir.CallInstr:
			return a.resume(pc, in.Result, bj.Value)
		case *ir.YieldInstr:
			return a.resume(pc, in.Result, bj.Value)
		}
	}

	if _, ok := err.(*runtime.RaiseException); ok {
		if target := a.IC.RescuerPC(pc); target >= 0 {
			a.exception = err
			return Jump(target)
		}
		return Unwind(err)
	}

	if target := a.IC.EnsurerPC(pc); target >= 0 {
		a.exception = err
		return Jump(target)
	}
	if nlr, ok := err.(*runtime.NonLocalReturn); ok && nlr.Target != nil && nlr.Target == a.frame {
		return Return(nlr.Value)
	}
	return Unwind(err)
}

func (a *Activation) resume(pc int, dst ir.Variable, v runtime.Value) Outcome {
	if err := a.Set(dst, v); err != nil {
		return Unwind(err)
	}
	return Jump(pc + 1)
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Step interprets the instruction at pc.
func (a *Activation) Step(pc int) Outcome {
	switch in := a.IC.Instrs[pc].(type) {
	case *ir.CopyInstr:
		v, err := a.Operand(in.Source)
		if err != nil {
			return Unwind(err)
		}
		return a.set(in.Result, v)

	case *ir.CallInstr:
		return a.Call(in)

	case *ir.YieldInstr:
		return a.Yield(in)

	case *ir.JumpInstr:
		return Jump(a.IC.JumpPCs[pc])

	case *ir.BranchInstr:
		taken, err := a.branchTaken(in)
		if err != nil {
			return Unwind(err)
		}
		if taken {
			return Jump(a.IC.JumpPCs[pc])
		}
		return Next()

	case *ir.ModuleVersionGuardInstr:
		ok, err := a.guardHolds(in)
		if err != nil {
			return Unwind(err)
		}
		if ok {
			return Next()
		}
		return Jump(a.IC.JumpPCs[pc])

	case *ir.ReturnInstr:
		v, err := a.Operand(in.Value)
		if err != nil {
			return Unwind(err)
		}
		return Return(v)

	case *ir.NonlocalReturnInstr:
		return a.nonlocalReturn(in)

	case *ir.BreakInstr:
		return a.breakOut(in)

	case *ir.ReceiveArgInstr:
		var v runtime.Value
		if in.Index < len(a.Args) {
			v = a.Args[in.Index]
		}
		return a.set(in.Result, v)

	case *ir.ReceiveOptArgInstr:
		if in.Index < len(a.Args) {
			return a.set(in.Result, a.Args[in.Index])
		}
		v, err := a.Operand(in.Default)
		if err != nil {
			return Unwind(err)
		}
		return a.set(in.Result, v)

	case *ir.ReceiveClosureInstr:
		var v runtime.Value
		if a.Block != nil {
			v = a.Block
		}
		return a.set(in.Result, v)

	case *ir.GetFieldInstr:
		obj, err := a.objectOperand(in.Object)
		if err != nil {
			return Unwind(err)
		}
		return a.set(in.Result, obj.GetField(in.Field))

	case *ir.PutFieldInstr:
		obj, err := a.objectOperand(in.Object)
		if err != nil {
			return Unwind(err)
		}
		v, err := a.Operand(in.Value)
		if err != nil {
			return Unwind(err)
		}
		obj.SetField(in.Field, v)
		return Next()

	case *ir.RaiseInstr:
		return Unwind(a.raise(in))

	case *ir.RethrowInstr:
		return Unwind(a.rethrow(in))

	case *ir.ReceiveExceptionInstr:
		return a.set(in.Result, a.receivedException(in.Any))

	case *ir.ExceptionMatchInstr:
		v, err := a.Operand(in.Exception)
		if err != nil {
			return Unwind(err)
		}
		_, isObj := v.(*runtime.Object)
		return a.set(in.Result, isObj && a.Runtime().IsKindOf(v, in.ClassName))

	case *ir.PushFrameInstr:
		kind := runtime.MethodFrame
		if a.closure != nil {
			kind = runtime.BlockFrame
		}
		a.pushFrame(kind)
		return Next()

	case *ir.PopFrameInstr:
		a.Ctx.PopFrame()
		return Next()

	case *ir.PushBindingInstr:
		a.pushBinding()
		return Next()

	case *ir.PopBindingInstr:
		a.Ctx.PopBinding()
		return Next()

	case *ir.ThreadPollInstr:
		if p := a.Runtime().Profiler(); p != nil {
			p.ClockTick()
		}
		return Next()

	case *ir.LabelInstr:
		return Next()
	}
	return Unwind(runtime.Fatal(fmt.Errorf("interp: cannot execute %v", a.IC.Instrs[pc])))
}

func (a *Activation) set(dst ir.Variable, v runtime.Value) Outcome {
	if err := a.Set(dst, v); err != nil {
		return Unwind(err)
	}
	return Next()
}

// Call dispatches a call instruction through its inline cache and reports
// it to the profiler.
func (a *Activation) Call(in *ir.CallInstr) Outcome {
	rt := a.Runtime()
	recv, err := a.Operand(in.Receiver)
	if err != nil {
		return Unwind(err)
	}
	args, err := a.Operands(in.Args)
	if err != nil {
		return Unwind(err)
	}
	blk, err := a.closureOperand(in.Closure)
	if err != nil {
		return Unwind(err)
	}

	class := rt.ClassOf(recv)
	cache := rt.CallSites.For(in)
	m := cache.Lookup(class)
	if m == nil {
		m = class.FindMethod(in.Name)
		if m == nil {
			return Unwind(rt.Raise("NoMethodError", "undefined method '%s' for %s", in.Name, class.Name()))
		}
		cache.Update(class, m)
	}
	if p := rt.Profiler(); p != nil {
		p.RecordCall(a.IC, in, m, class)
	}

	v, err := m.Call(a.Ctx, recv, args, blk)
	if err != nil {
		return Unwind(err)
	}
	return a.set(in.Result, v)
}

// Yield invokes the block operand of a yield instruction.
func (a *Activation) Yield(in *ir.YieldInstr) Outcome {
	blk, err := a.closureOperand(in.Block)
	if err != nil {
		return Unwind(err)
	}
	if blk == nil {
		return Unwind(a.Runtime().Raise("LocalJumpError", "no block given (yield)"))
	}
	args, err := a.Operands(in.Args)
	if err != nil {
		return Unwind(err)
	}
	v, err := blk.Call(a.Ctx, args, nil)
	if err != nil {
		return Unwind(err)
	}
	return a.set(in.Result, v)
}

func (a *Activation) branchTaken(in *ir.BranchInstr) (bool, error) {
	v1, err := a.Operand(in.Arg1)
	if err != nil {
		return false, err
	}
	switch in.Cond {
	case ir.BranchTrue:
		return runtime.Truthy(v1), nil
	case ir.BranchFalse:
		return !runtime.Truthy(v1), nil
	case ir.BranchNil:
		return v1 == nil, nil
	}
	v2, err := a.Operand(in.Arg2)
	if err != nil {
		return false, err
	}
	if in.Cond == ir.BranchEQ {
		return runtime.Equal(v1, v2), nil
	}
	return !runtime.Equal(v1, v2), nil
}

// guardHolds checks the deoptimization guard: the candidate's class must be
// the guarded module at the recorded generation.
func (a *Activation) guardHolds(in *ir.ModuleVersionGuardInstr) (bool, error) {
	v, err := a.Operand(in.Candidate)
	if err != nil {
		return false, err
	}
	module, ok := in.Module.(*runtime.Class)
	if !ok {
		return false, nil
	}
	return a.Runtime().ClassOf(v) == module && module.Generation() == in.Expected, nil
}

func (a *Activation) objectOperand(op ir.Operand) (*runtime.Object, error) {
	v, err := a.Operand(op)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*runtime.Object)
	if !ok {
		return nil, a.Runtime().Raise("TypeError", "%s has no instance variables", runtime.Inspect(v))
	}
	return obj, nil
}

// ---------------------------------------------------------------------------
// Exceptions and non-local exits
// ---------------------------------------------------------------------------

func (a *Activation) raise(in *ir.RaiseInstr) error {
	rt := a.Runtime()
	v, err := a.Operand(in.Message)
	if err != nil {
		return err
	}
	if obj, ok := v.(*runtime.Object); ok && obj.Class().IsException() {
		return &runtime.RaiseException{Exception: obj}
	}
	className := in.ClassName
	if className == "" {
		className = "RuntimeError"
	}
	return &runtime.RaiseException{Exception: rt.NewException(className, runtime.ToS(v))}
}

func (a *Activation) rethrow(in *ir.RethrowInstr) error {
	v, err := a.Operand(in.Exception)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case error:
		return x
	case *runtime.Object:
		if x.Class().IsException() {
			return &runtime.RaiseException{Exception: x}
		}
	}
	return runtime.Fatal(fmt.Errorf("interp: rethrow of %s", runtime.Inspect(v)))
}

// receivedException returns the stashed unwind as a guest value: the
// exception object for guest exceptions, and (when all is set) the unwind
// itself for the other kinds.
func (a *Activation) receivedException(all bool) runtime.Value {
	switch x := a.exception.(type) {
	case nil:
		return nil
	case *runtime.RaiseException:
		return x.Exception
	default:
		if all {
			return x
		}
		return nil
	}
}

func (a *Activation) nonlocalReturn(in *ir.NonlocalReturnInstr) Outcome {
	v, err := a.Operand(in.Value)
	if err != nil {
		return Unwind(err)
	}
	if a.closure == nil || a.closure.Lambda {
		return Return(v)
	}
	target := a.closure.ReturnTarget
	if !a.Ctx.IsOnStack(target) {
		return Unwind(a.Runtime().Raise("LocalJumpError", "unexpected return"))
	}
	return Unwind(&runtime.NonLocalReturn{Target: target, Value: v})
}

func (a *Activation) breakOut(in *ir.BreakInstr) Outcome {
	v, err := a.Operand(in.Value)
	if err != nil {
		return Unwind(err)
	}
	switch {
	case a.closure == nil:
		return Unwind(a.Runtime().Raise("LocalJumpError", "break from method body"))
	case a.closure.Lambda:
		return Return(v)
	case a.closure.Proc:
		return Unwind(a.Runtime().Raise("LocalJumpError", "break from proc-closure"))
	}
	target := a.closure.Frame
	if !a.Ctx.IsOnStack(target) {
		return Unwind(a.Runtime().Raise("LocalJumpError", "break from proc-closure"))
	}
	return Unwind(&runtime.BreakJump{Target: target, Value: v})
}
