package runtime

// FrameKind tells method frames from closure frames.
type FrameKind uint8

const (
	MethodFrame FrameKind = iota
	BlockFrame
	LambdaFrame
)

// Frame is one activation record on a thread's explicit frame chain.
// Non-local return and break targets are frames; an unwind whose target is
// no longer on the chain has escaped its defining activation.
type Frame struct {
	Kind  FrameKind
	Name  string
	Self  Value
	Class *Class
	Block *Block
	Prev  *Frame
}

// ThreadContext is the per-thread execution state: the frame chain, the
// binding stack and the guest call depth.
type ThreadContext struct {
	Runtime *Runtime

	frame        *Frame
	depth        int
	bindings     []*DynamicScope
	calls        int
	maxCallDepth int
}

// DefaultMaxCallDepth bounds guest recursion.
const DefaultMaxCallDepth = 10000

// NewThreadContext creates a context with an empty frame chain.
func NewThreadContext(rt *Runtime) *ThreadContext {
	return &ThreadContext{Runtime: rt, maxCallDepth: DefaultMaxCallDepth}
}

// SetMaxCallDepth overrides DefaultMaxCallDepth.
func (tc *ThreadContext) SetMaxCallDepth(n int) { tc.maxCallDepth = n }

// EnterCall accounts for one guest activation. Activations without a frame
// still count, so deep recursion fails with SystemStackError either way.
func (tc *ThreadContext) EnterCall() error {
	if tc.calls >= tc.maxCallDepth {
		return tc.Runtime.Raise("SystemStackError", "stack level too deep")
	}
	tc.calls++
	return nil
}

// LeaveCall undoes EnterCall.
func (tc *ThreadContext) LeaveCall() { tc.calls-- }

// CallDepth returns the number of active guest activations.
func (tc *ThreadContext) CallDepth() int { return tc.calls }

// PushFrame links f on top of the chain.
func (tc *ThreadContext) PushFrame(f *Frame) {
	f.Prev = tc.frame
	tc.frame = f
	tc.depth++
}

// PopFrame unlinks the top frame.
func (tc *ThreadContext) PopFrame() *Frame {
	f := tc.frame
	if f != nil {
		tc.frame = f.Prev
		tc.depth--
	}
	return f
}

// CurrentFrame returns the top frame, or nil.
func (tc *ThreadContext) CurrentFrame() *Frame { return tc.frame }

// FrameDepth returns the number of frames on the chain.
func (tc *ThreadContext) FrameDepth() int { return tc.depth }

// IsOnStack reports whether f is still on the frame chain.
func (tc *ThreadContext) IsOnStack(f *Frame) bool {
	if f == nil {
		return false
	}
	for cur := tc.frame; cur != nil; cur = cur.Prev {
		if cur == f {
			return true
		}
	}
	return false
}

// PushBinding makes ds the current binding.
func (tc *ThreadContext) PushBinding(ds *DynamicScope) {
	tc.bindings = append(tc.bindings, ds)
}

// PopBinding drops the current binding.
func (tc *ThreadContext) PopBinding() *DynamicScope {
	if len(tc.bindings) == 0 {
		return nil
	}
	ds := tc.bindings[len(tc.bindings)-1]
	tc.bindings = tc.bindings[:len(tc.bindings)-1]
	return ds
}

// BindingDepth returns the number of pushed bindings.
func (tc *ThreadContext) BindingDepth() int { return len(tc.bindings) }
