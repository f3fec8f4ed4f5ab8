package runtime

import "github.com/chazu/garnet/ir"

// DynamicMethod is anything a class's method table can hold.
type DynamicMethod interface {
	Call(ctx *ThreadContext, self Value, args []Value, block *Block) (Value, error)
	Name() string
}

// IRMethod is a method whose body is an IR scope. The profiler and the
// inliner only consider IR methods.
type IRMethod interface {
	DynamicMethod
	Scope() *ir.Scope
	ImplementationClass() *Class
}

// Entry is the standard entry-point signature of executable code for a
// scope, interpreted or compiled.
type Entry func(ctx *ThreadContext, scope *ir.Scope, self Value, args []Value, block *Block, implClass *Class) (Value, error)

// NativeFunc implements a builtin.
type NativeFunc func(ctx *ThreadContext, self Value, args []Value, block *Block) (Value, error)

// NativeMethod is a builtin implemented in Go.
type NativeMethod struct {
	name  string
	arity int // -1 accepts any count
	fn    NativeFunc
}

// NewNativeMethod wraps fn. An arity of -1 disables the argument check.
func NewNativeMethod(name string, arity int, fn NativeFunc) *NativeMethod {
	return &NativeMethod{name: name, arity: arity, fn: fn}
}

func (m *NativeMethod) Name() string { return m.name }

func (m *NativeMethod) Call(ctx *ThreadContext, self Value, args []Value, block *Block) (Value, error) {
	if m.arity >= 0 && len(args) != m.arity {
		return nil, ctx.Runtime.Raise("ArgumentError", "wrong number of arguments (given %d, expected %d)", len(args), m.arity)
	}
	return m.fn(ctx, self, args, block)
}

// BlockBody executes a closure. The interpreter and the compiled backend
// provide implementations.
type BlockBody interface {
	Yield(ctx *ThreadContext, blk *Block, args []Value, blockArg *Block) (Value, error)
	Scope() *ir.Scope
}

// Block is a closure value (procs and lambdas).
type Block struct {
	Body    BlockBody
	Self    Value
	Binding *DynamicScope
	Class   *Class

	// Frame is the activation the closure literal was evaluated in; a
	// break leaves the call in that activation which received the block.
	Frame *Frame
	// ReturnTarget is the method (or lambda) frame a return inside the
	// closure leaves.
	ReturnTarget *Frame

	Lambda bool
	// Proc is set once the block was materialized with proc or Proc.new;
	// break from such a block is a LocalJumpError.
	Proc bool
}

// Call invokes the block.
func (b *Block) Call(ctx *ThreadContext, args []Value, blockArg *Block) (Value, error) {
	return b.Body.Yield(ctx, b, args, blockArg)
}

// AsLambda returns a lambda copy of b.
func (b *Block) AsLambda() *Block {
	c := *b
	c.Lambda = true
	return &c
}

// AsProc returns a proc copy of b.
func (b *Block) AsProc() *Block {
	c := *b
	c.Proc = true
	return &c
}
