package ir

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Instr is a single IR instruction. Instructions are immutable once built
// except for RenameVars, which rewrites variables in place.
type Instr interface {
	Operation() Operation
	Operands() []Operand
	String() string
	Clone(ci CloneInfo) Instr
	RenameVars(m map[Variable]Variable)
}

// ResultInstr is an instruction that writes a variable.
type ResultInstr interface {
	Instr
	ResultVariable() Variable
	SetResultVariable(v Variable)
}

// JumpTargetInstr is an instruction that names a jump target.
type JumpTargetInstr interface {
	Instr
	JumpTarget() *Label
}

var siteCounter atomic.Int64

// NextSiteID returns a process-unique call site identifier.
func NextSiteID() int64 {
	return siteCounter.Add(1)
}

func resultPrefix(v Variable) string {
	if v == nil {
		return ""
	}
	return v.String() + " = "
}

// ---------------------------------------------------------------------------
// Straight-line instructions
// ---------------------------------------------------------------------------

// LabelInstr marks a jump target in a flat instruction list.
type LabelInstr struct {
	Label *Label
}

func (i *LabelInstr) Operation() Operation             { return OpLabel }
func (i *LabelInstr) Operands() []Operand              { return nil }
func (i *LabelInstr) String() string                   { return i.Label.String() + ":" }
func (i *LabelInstr) RenameVars(map[Variable]Variable) {}
func (i *LabelInstr) Clone(ci CloneInfo) Instr         { return &LabelInstr{Label: cloneLabel(i.Label, ci)} }

// CopyInstr assigns Source to Result.
type CopyInstr struct {
	Result Variable
	Source Operand
}

func (i *CopyInstr) Operation() Operation         { return OpCopy }
func (i *CopyInstr) Operands() []Operand          { return []Operand{i.Source} }
func (i *CopyInstr) ResultVariable() Variable     { return i.Result }
func (i *CopyInstr) SetResultVariable(v Variable) { i.Result = v }
func (i *CopyInstr) String() string {
	return resultPrefix(i.Result) + "copy(" + operandString(i.Source) + ")"
}
func (i *CopyInstr) Clone(ci CloneInfo) Instr {
	return &CopyInstr{Result: cloneResult(i.Result, ci), Source: CloneOperand(i.Source, ci)}
}
func (i *CopyInstr) RenameVars(m map[Variable]Variable) {
	i.Result = renameResult(i.Result, m)
	i.Source = renameOperand(i.Source, m)
}

// ReceiveArgInstr reads positional argument Index; missing arguments read nil.
type ReceiveArgInstr struct {
	Result Variable
	Index  int
}

func (i *ReceiveArgInstr) Operation() Operation         { return OpReceiveArg }
func (i *ReceiveArgInstr) Operands() []Operand          { return nil }
func (i *ReceiveArgInstr) ResultVariable() Variable     { return i.Result }
func (i *ReceiveArgInstr) SetResultVariable(v Variable) { i.Result = v }
func (i *ReceiveArgInstr) String() string {
	return fmt.Sprintf("%srecv_arg(%d)", resultPrefix(i.Result), i.Index)
}
func (i *ReceiveArgInstr) Clone(ci CloneInfo) Instr {
	return &ReceiveArgInstr{Result: cloneResult(i.Result, ci), Index: i.Index}
}
func (i *ReceiveArgInstr) RenameVars(m map[Variable]Variable) { i.Result = renameResult(i.Result, m) }

// ReceiveOptArgInstr reads argument Index if it was passed, else Default.
type ReceiveOptArgInstr struct {
	Result  Variable
	Index   int
	Default Operand
}

func (i *ReceiveOptArgInstr) Operation() Operation         { return OpReceiveOptArg }
func (i *ReceiveOptArgInstr) Operands() []Operand          { return []Operand{i.Default} }
func (i *ReceiveOptArgInstr) ResultVariable() Variable     { return i.Result }
func (i *ReceiveOptArgInstr) SetResultVariable(v Variable) { i.Result = v }
func (i *ReceiveOptArgInstr) String() string {
	return fmt.Sprintf("%srecv_opt_arg(%d, %s)", resultPrefix(i.Result), i.Index, operandString(i.Default))
}
func (i *ReceiveOptArgInstr) Clone(ci CloneInfo) Instr {
	return &ReceiveOptArgInstr{Result: cloneResult(i.Result, ci), Index: i.Index, Default: CloneOperand(i.Default, ci)}
}
func (i *ReceiveOptArgInstr) RenameVars(m map[Variable]Variable) {
	i.Result = renameResult(i.Result, m)
	i.Default = renameOperand(i.Default, m)
}

// ReceiveClosureInstr reads the block passed to the activation (or nil).
type ReceiveClosureInstr struct {
	Result Variable
}

func (i *ReceiveClosureInstr) Operation() Operation         { return OpReceiveClosure }
func (i *ReceiveClosureInstr) Operands() []Operand          { return nil }
func (i *ReceiveClosureInstr) ResultVariable() Variable     { return i.Result }
func (i *ReceiveClosureInstr) SetResultVariable(v Variable) { i.Result = v }
func (i *ReceiveClosureInstr) String() string               { return resultPrefix(i.Result) + "recv_closure" }
func (i *ReceiveClosureInstr) Clone(ci CloneInfo) Instr {
	return &ReceiveClosureInstr{Result: cloneResult(i.Result, ci)}
}
func (i *ReceiveClosureInstr) RenameVars(m map[Variable]Variable) {
	i.Result = renameResult(i.Result, m)
}

// GetFieldInstr reads instance variable Field of Object.
type GetFieldInstr struct {
	Result Variable
	Object Operand
	Field  string
}

func (i *GetFieldInstr) Operation() Operation         { return OpGetField }
func (i *GetFieldInstr) Operands() []Operand          { return []Operand{i.Object} }
func (i *GetFieldInstr) ResultVariable() Variable     { return i.Result }
func (i *GetFieldInstr) SetResultVariable(v Variable) { i.Result = v }
func (i *GetFieldInstr) String() string {
	return fmt.Sprintf("%sget_field(%s, %s)", resultPrefix(i.Result), operandString(i.Object), i.Field)
}
func (i *GetFieldInstr) Clone(ci CloneInfo) Instr {
	return &GetFieldInstr{Result: cloneResult(i.Result, ci), Object: CloneOperand(i.Object, ci), Field: i.Field}
}
func (i *GetFieldInstr) RenameVars(m map[Variable]Variable) {
	i.Result = renameResult(i.Result, m)
	i.Object = renameOperand(i.Object, m)
}

// PutFieldInstr writes instance variable Field of Object.
type PutFieldInstr struct {
	Object Operand
	Field  string
	Value  Operand
}

func (i *PutFieldInstr) Operation() Operation { return OpPutField }
func (i *PutFieldInstr) Operands() []Operand  { return []Operand{i.Object, i.Value} }
func (i *PutFieldInstr) String() string {
	return fmt.Sprintf("put_field(%s, %s, %s)", operandString(i.Object), i.Field, operandString(i.Value))
}
func (i *PutFieldInstr) Clone(ci CloneInfo) Instr {
	return &PutFieldInstr{Object: CloneOperand(i.Object, ci), Field: i.Field, Value: CloneOperand(i.Value, ci)}
}
func (i *PutFieldInstr) RenameVars(m map[Variable]Variable) {
	i.Object = renameOperand(i.Object, m)
	i.Value = renameOperand(i.Value, m)
}

// ThreadPollInstr is a cooperative check point; the profiler counts these
// as clock ticks.
type ThreadPollInstr struct{}

func (i *ThreadPollInstr) Operation() Operation             { return OpThreadPoll }
func (i *ThreadPollInstr) Operands() []Operand              { return nil }
func (i *ThreadPollInstr) String() string                   { return "thread_poll" }
func (i *ThreadPollInstr) Clone(CloneInfo) Instr            { return &ThreadPollInstr{} }
func (i *ThreadPollInstr) RenameVars(map[Variable]Variable) {}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// CallType distinguishes explicit-receiver calls from self calls.
type CallType uint8

const (
	CallNormal     CallType = iota // recv.foo(...)
	CallFunctional                 // foo(...) ; private methods allowed
	CallVariable                   // foo      ; could have been a local
)

// CallInstr dispatches Name on Receiver.
type CallInstr struct {
	Result     Variable // nil when the value is unused
	Receiver   Operand
	Name       string
	Args       []Operand
	Closure    Operand // nil, a *WrappedClosure, or a variable holding a block
	Type       CallType
	SiteID     int64
	DontInline bool
}

// NewCallInstr builds a call with a fresh site id.
func NewCallInstr(result Variable, receiver Operand, name string, args []Operand, closure Operand) *CallInstr {
	callType := CallNormal
	if _, ok := receiver.(SelfVariable); ok {
		callType = CallFunctional
	}
	return &CallInstr{
		Result:   result,
		Receiver: receiver,
		Name:     name,
		Args:     args,
		Closure:  closure,
		Type:     callType,
		SiteID:   NextSiteID(),
	}
}

func (i *CallInstr) Operation() Operation         { return OpCall }
func (i *CallInstr) ResultVariable() Variable     { return i.Result }
func (i *CallInstr) SetResultVariable(v Variable) { i.Result = v }

func (i *CallInstr) Operands() []Operand {
	ops := make([]Operand, 0, len(i.Args)+2)
	ops = append(ops, i.Receiver)
	ops = append(ops, i.Args...)
	if i.Closure != nil {
		ops = append(ops, i.Closure)
	}
	return ops
}

func (i *CallInstr) String() string {
	var sb strings.Builder
	sb.WriteString(resultPrefix(i.Result))
	sb.WriteString("call(")
	sb.WriteString(operandString(i.Receiver))
	sb.WriteString(", :")
	sb.WriteString(i.Name)
	sb.WriteString(", [")
	sb.WriteString(joinOperands(i.Args))
	sb.WriteString("]")
	if i.Closure != nil {
		sb.WriteString(", &")
		sb.WriteString(i.Closure.String())
	}
	sb.WriteString(")")
	if i.DontInline {
		sb.WriteString(" noinline")
	}
	return sb.String()
}

// Clone keeps the site id; callers that create a distinct call site (the
// inliner) assign a fresh one.
func (i *CallInstr) Clone(ci CloneInfo) Instr {
	return &CallInstr{
		Result:     cloneResult(i.Result, ci),
		Receiver:   CloneOperand(i.Receiver, ci),
		Name:       i.Name,
		Args:       cloneOperands(i.Args, ci),
		Closure:    CloneOperand(i.Closure, ci),
		Type:       i.Type,
		SiteID:     i.SiteID,
		DontInline: i.DontInline,
	}
}

func (i *CallInstr) RenameVars(m map[Variable]Variable) {
	i.Result = renameResult(i.Result, m)
	i.Receiver = renameOperand(i.Receiver, m)
	i.Args = renameOperands(i.Args, m)
	if i.Closure != nil {
		i.Closure = renameOperand(i.Closure, m)
	}
}

// YieldInstr invokes Block with Args.
type YieldInstr struct {
	Result Variable
	Block  Operand
	Args   []Operand
}

func (i *YieldInstr) Operation() Operation         { return OpYield }
func (i *YieldInstr) ResultVariable() Variable     { return i.Result }
func (i *YieldInstr) SetResultVariable(v Variable) { i.Result = v }
func (i *YieldInstr) Operands() []Operand {
	return append([]Operand{i.Block}, i.Args...)
}
func (i *YieldInstr) String() string {
	return fmt.Sprintf("%syield(%s, [%s])", resultPrefix(i.Result), operandString(i.Block), joinOperands(i.Args))
}
func (i *YieldInstr) Clone(ci CloneInfo) Instr {
	return &YieldInstr{Result: cloneResult(i.Result, ci), Block: CloneOperand(i.Block, ci), Args: cloneOperands(i.Args, ci)}
}
func (i *YieldInstr) RenameVars(m map[Variable]Variable) {
	i.Result = renameResult(i.Result, m)
	i.Block = renameOperand(i.Block, m)
	i.Args = renameOperands(i.Args, m)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// JumpInstr unconditionally transfers control to Target.
type JumpInstr struct {
	Target *Label
}

func (i *JumpInstr) Operation() Operation             { return OpJump }
func (i *JumpInstr) Operands() []Operand              { return nil }
func (i *JumpInstr) JumpTarget() *Label               { return i.Target }
func (i *JumpInstr) String() string                   { return "jump " + i.Target.String() }
func (i *JumpInstr) Clone(ci CloneInfo) Instr         { return &JumpInstr{Target: cloneLabel(i.Target, ci)} }
func (i *JumpInstr) RenameVars(map[Variable]Variable) {}

// BranchCond selects the branch predicate.
type BranchCond uint8

const (
	BranchTrue  BranchCond = iota // Arg1 truthy
	BranchFalse                   // Arg1 falsy
	BranchNil                     // Arg1 == nil
	BranchEQ                      // Arg1 == Arg2 (identity/value equality)
	BranchNE                      // Arg1 != Arg2
)

var branchNames = [...]string{"b_true", "b_false", "b_nil", "beq", "bne"}

// BranchInstr jumps to Target when Cond holds, else falls through.
type BranchInstr struct {
	Cond   BranchCond
	Arg1   Operand
	Arg2   Operand
	Target *Label
}

func (i *BranchInstr) Operation() Operation { return OpBranch }
func (i *BranchInstr) JumpTarget() *Label   { return i.Target }
func (i *BranchInstr) Operands() []Operand {
	if i.Arg2 == nil {
		return []Operand{i.Arg1}
	}
	return []Operand{i.Arg1, i.Arg2}
}
func (i *BranchInstr) String() string {
	if i.Arg2 == nil {
		return fmt.Sprintf("%s(%s) %s", branchNames[i.Cond], operandString(i.Arg1), i.Target)
	}
	return fmt.Sprintf("%s(%s, %s) %s", branchNames[i.Cond], operandString(i.Arg1), operandString(i.Arg2), i.Target)
}
func (i *BranchInstr) Clone(ci CloneInfo) Instr {
	return &BranchInstr{Cond: i.Cond, Arg1: CloneOperand(i.Arg1, ci), Arg2: CloneOperand(i.Arg2, ci), Target: cloneLabel(i.Target, ci)}
}
func (i *BranchInstr) RenameVars(m map[Variable]Variable) {
	i.Arg1 = renameOperand(i.Arg1, m)
	if i.Arg2 != nil {
		i.Arg2 = renameOperand(i.Arg2, m)
	}
}

// ReturnInstr returns Value from the current activation.
type ReturnInstr struct {
	Value Operand
}

func (i *ReturnInstr) Operation() Operation { return OpReturn }
func (i *ReturnInstr) Operands() []Operand  { return []Operand{i.Value} }
func (i *ReturnInstr) String() string       { return "return(" + operandString(i.Value) + ")" }
func (i *ReturnInstr) Clone(ci CloneInfo) Instr {
	return &ReturnInstr{Value: CloneOperand(i.Value, ci)}
}
func (i *ReturnInstr) RenameVars(m map[Variable]Variable) { i.Value = renameOperand(i.Value, m) }

// NonlocalReturnInstr returns from the method (or lambda) enclosing a closure.
type NonlocalReturnInstr struct {
	Value Operand
}

func (i *NonlocalReturnInstr) Operation() Operation { return OpNonlocalReturn }
func (i *NonlocalReturnInstr) Operands() []Operand  { return []Operand{i.Value} }
func (i *NonlocalReturnInstr) String() string {
	return "nonlocal_return(" + operandString(i.Value) + ")"
}
func (i *NonlocalReturnInstr) Clone(ci CloneInfo) Instr {
	return &NonlocalReturnInstr{Value: CloneOperand(i.Value, ci)}
}
func (i *NonlocalReturnInstr) RenameVars(m map[Variable]Variable) {
	i.Value = renameOperand(i.Value, m)
}

// BreakInstr breaks out of the call that received the enclosing closure.
type BreakInstr struct {
	Value Operand
}

func (i *BreakInstr) Operation() Operation { return OpBreak }
func (i *BreakInstr) Operands() []Operand  { return []Operand{i.Value} }
func (i *BreakInstr) String() string       { return "break(" + operandString(i.Value) + ")" }
func (i *BreakInstr) Clone(ci CloneInfo) Instr {
	return &BreakInstr{Value: CloneOperand(i.Value, ci)}
}
func (i *BreakInstr) RenameVars(m map[Variable]Variable) { i.Value = renameOperand(i.Value, m) }

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// RaiseInstr raises a new guest exception of class ClassName.
type RaiseInstr struct {
	ClassName string
	Message   Operand
}

func (i *RaiseInstr) Operation() Operation { return OpRaise }
func (i *RaiseInstr) Operands() []Operand  { return []Operand{i.Message} }
func (i *RaiseInstr) String() string {
	return fmt.Sprintf("raise(%s, %s)", i.ClassName, operandString(i.Message))
}
func (i *RaiseInstr) Clone(ci CloneInfo) Instr {
	return &RaiseInstr{ClassName: i.ClassName, Message: CloneOperand(i.Message, ci)}
}
func (i *RaiseInstr) RenameVars(m map[Variable]Variable) { i.Message = renameOperand(i.Message, m) }

// RethrowInstr re-raises a previously received exception or unwind
// signal unchanged.
type RethrowInstr struct {
	Exception Operand
}

func (i *RethrowInstr) Operation() Operation { return OpRethrow }
func (i *RethrowInstr) Operands() []Operand  { return []Operand{i.Exception} }
func (i *RethrowInstr) String() string       { return "rethrow(" + operandString(i.Exception) + ")" }
func (i *RethrowInstr) Clone(ci CloneInfo) Instr {
	return &RethrowInstr{Exception: CloneOperand(i.Exception, ci)}
}
func (i *RethrowInstr) RenameVars(m map[Variable]Variable) {
	i.Exception = renameOperand(i.Exception, m)
}

// ReceiveExceptionInstr reads the exception stashed by the interpreter when
// it redirected control to a handler. With Any set it also receives unwind
// signals and fatal errors (ensure handlers, global ensure block).
type ReceiveExceptionInstr struct {
	Result Variable
	Any    bool
}

func (i *ReceiveExceptionInstr) Operation() Operation         { return OpReceiveException }
func (i *ReceiveExceptionInstr) Operands() []Operand          { return nil }
func (i *ReceiveExceptionInstr) ResultVariable() Variable     { return i.Result }
func (i *ReceiveExceptionInstr) SetResultVariable(v Variable) { i.Result = v }
func (i *ReceiveExceptionInstr) String() string {
	if i.Any {
		return resultPrefix(i.Result) + "recv_exception(any)"
	}
	return resultPrefix(i.Result) + "recv_exception"
}
func (i *ReceiveExceptionInstr) Clone(ci CloneInfo) Instr {
	return &ReceiveExceptionInstr{Result: cloneResult(i.Result, ci), Any: i.Any}
}
func (i *ReceiveExceptionInstr) RenameVars(m map[Variable]Variable) {
	i.Result = renameResult(i.Result, m)
}

// ExceptionMatchInstr tests whether Exception is a kind of ClassName.
type ExceptionMatchInstr struct {
	Result    Variable
	Exception Operand
	ClassName string
}

func (i *ExceptionMatchInstr) Operation() Operation         { return OpExceptionMatch }
func (i *ExceptionMatchInstr) Operands() []Operand          { return []Operand{i.Exception} }
func (i *ExceptionMatchInstr) ResultVariable() Variable     { return i.Result }
func (i *ExceptionMatchInstr) SetResultVariable(v Variable) { i.Result = v }
func (i *ExceptionMatchInstr) String() string {
	return fmt.Sprintf("%sexception_match(%s, %s)", resultPrefix(i.Result), operandString(i.Exception), i.ClassName)
}
func (i *ExceptionMatchInstr) Clone(ci CloneInfo) Instr {
	return &ExceptionMatchInstr{Result: cloneResult(i.Result, ci), Exception: CloneOperand(i.Exception, ci), ClassName: i.ClassName}
}
func (i *ExceptionMatchInstr) RenameVars(m map[Variable]Variable) {
	i.Result = renameResult(i.Result, m)
	i.Exception = renameOperand(i.Exception, m)
}

// ExceptionRegionStartInstr opens a protected region. Blocks created until
// the matching end marker are rescued by FirstRescue; Ensure (optional) is
// the region's ensure handler.
type ExceptionRegionStartInstr struct {
	Begin       *Label
	End         *Label
	FirstRescue *Label
	Ensure      *Label
}

func (i *ExceptionRegionStartInstr) Operation() Operation { return OpRegionStart }
func (i *ExceptionRegionStartInstr) Operands() []Operand  { return nil }
func (i *ExceptionRegionStartInstr) String() string {
	return fmt.Sprintf("region_start(%s, %s, rescue=%s, ensure=%s)", i.Begin, i.End, i.FirstRescue, i.Ensure)
}
func (i *ExceptionRegionStartInstr) Clone(ci CloneInfo) Instr {
	return &ExceptionRegionStartInstr{
		Begin:       cloneLabel(i.Begin, ci),
		End:         cloneLabel(i.End, ci),
		FirstRescue: cloneLabel(i.FirstRescue, ci),
		Ensure:      cloneLabel(i.Ensure, ci),
	}
}
func (i *ExceptionRegionStartInstr) RenameVars(map[Variable]Variable) {}

// ExceptionRegionEndInstr closes the innermost open region.
type ExceptionRegionEndInstr struct{}

func (i *ExceptionRegionEndInstr) Operation() Operation             { return OpRegionEnd }
func (i *ExceptionRegionEndInstr) Operands() []Operand              { return nil }
func (i *ExceptionRegionEndInstr) String() string                   { return "region_end" }
func (i *ExceptionRegionEndInstr) Clone(CloneInfo) Instr            { return &ExceptionRegionEndInstr{} }
func (i *ExceptionRegionEndInstr) RenameVars(map[Variable]Variable) {}

// ---------------------------------------------------------------------------
// Call protocol
// ---------------------------------------------------------------------------

// PushFrameInstr pushes the method frame onto the thread context.
type PushFrameInstr struct{}

func (i *PushFrameInstr) Operation() Operation             { return OpPushFrame }
func (i *PushFrameInstr) Operands() []Operand              { return nil }
func (i *PushFrameInstr) String() string                   { return "push_frame" }
func (i *PushFrameInstr) Clone(CloneInfo) Instr            { return &PushFrameInstr{} }
func (i *PushFrameInstr) RenameVars(map[Variable]Variable) {}

// PopFrameInstr pops the method frame.
type PopFrameInstr struct{}

func (i *PopFrameInstr) Operation() Operation             { return OpPopFrame }
func (i *PopFrameInstr) Operands() []Operand              { return nil }
func (i *PopFrameInstr) String() string                   { return "pop_frame" }
func (i *PopFrameInstr) Clone(CloneInfo) Instr            { return &PopFrameInstr{} }
func (i *PopFrameInstr) RenameVars(map[Variable]Variable) {}

// PushBindingInstr allocates the method's dynamic scope.
type PushBindingInstr struct{}

func (i *PushBindingInstr) Operation() Operation             { return OpPushBinding }
func (i *PushBindingInstr) Operands() []Operand              { return nil }
func (i *PushBindingInstr) String() string                   { return "push_binding" }
func (i *PushBindingInstr) Clone(CloneInfo) Instr            { return &PushBindingInstr{} }
func (i *PushBindingInstr) RenameVars(map[Variable]Variable) {}

// PopBindingInstr releases the method's dynamic scope.
type PopBindingInstr struct{}

func (i *PopBindingInstr) Operation() Operation             { return OpPopBinding }
func (i *PopBindingInstr) Operands() []Operand              { return nil }
func (i *PopBindingInstr) String() string                   { return "pop_binding" }
func (i *PopBindingInstr) Clone(CloneInfo) Instr            { return &PopBindingInstr{} }
func (i *PopBindingInstr) RenameVars(map[Variable]Variable) {}

// ModuleVersionGuardInstr falls through when Candidate's class is Module
// at generation Expected, and jumps to FailurePath otherwise.
type ModuleVersionGuardInstr struct {
	Candidate   Operand
	Module      VersionedModule
	Expected    uint64
	FailurePath *Label
}

func (i *ModuleVersionGuardInstr) Operation() Operation { return OpGuard }
func (i *ModuleVersionGuardInstr) Operands() []Operand  { return []Operand{i.Candidate} }
func (i *ModuleVersionGuardInstr) JumpTarget() *Label   { return i.FailurePath }
func (i *ModuleVersionGuardInstr) String() string {
	return fmt.Sprintf("guard(%s, %s@%d) else %s", operandString(i.Candidate), i.Module.Name(), i.Expected, i.FailurePath)
}
func (i *ModuleVersionGuardInstr) Clone(ci CloneInfo) Instr {
	return &ModuleVersionGuardInstr{
		Candidate:   CloneOperand(i.Candidate, ci),
		Module:      i.Module,
		Expected:    i.Expected,
		FailurePath: cloneLabel(i.FailurePath, ci),
	}
}
func (i *ModuleVersionGuardInstr) RenameVars(m map[Variable]Variable) {
	i.Candidate = renameOperand(i.Candidate, m)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// UsedVariablesOf returns the variables instr reads.
func UsedVariablesOf(instr Instr) []Variable {
	var vars []Variable
	for _, op := range instr.Operands() {
		vars = UsedVariables(vars, op)
	}
	return vars
}

// ResultOf returns the variable instr writes, or nil.
func ResultOf(instr Instr) Variable {
	if ri, ok := instr.(ResultInstr); ok {
		return ri.ResultVariable()
	}
	return nil
}
