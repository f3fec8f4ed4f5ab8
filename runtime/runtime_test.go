package runtime

import (
	"bytes"
	"testing"

	"github.com/chazu/garnet/ir"
)

func TestInlineCacheMonomorphic(t *testing.T) {
	rt := New(nil)
	ic := &InlineCache{}
	class := rt.DefineClass("Point", rt.ObjectClass())
	m := NewNativeMethod("x", 0, nil)

	if got := ic.Lookup(class); got != nil {
		t.Error("Expected nil from empty cache")
	}
	ic.Update(class, m)
	if ic.State() != CacheMonomorphic {
		t.Errorf("Expected monomorphic state, got %v", ic.State())
	}
	if got := ic.Lookup(class); got != m {
		t.Error("Expected cache hit")
	}
}

func TestInlineCacheMissAfterRedefinition(t *testing.T) {
	rt := New(nil)
	ic := &InlineCache{}
	base := rt.DefineClass("Base", rt.ObjectClass())
	sub := rt.DefineClass("Sub", base)
	m := NewNativeMethod("x", 0, nil)
	ic.Update(sub, m)

	before := sub.Generation()
	base.DefineMethod("y", NewNativeMethod("y", 0, nil))
	if sub.Generation() == before {
		t.Fatal("Expected subclass generation to change when the superclass changes")
	}
	if got := ic.Lookup(sub); got != nil {
		t.Error("Expected a miss after an ancestor was modified")
	}
}

func TestInlineCacheMegamorphic(t *testing.T) {
	rt := New(nil)
	ic := &InlineCache{}
	m := NewNativeMethod("x", 0, nil)
	var last *Class
	for i := 0; i <= MaxPICEntries; i++ {
		last = rt.DefineClass(string(rune('A'+i))+"Shape", rt.ObjectClass())
		ic.Update(last, m)
	}
	if ic.State() != CacheMegamorphic {
		t.Errorf("Expected megamorphic, got %v", ic.State())
	}
	if got := ic.Lookup(last); got != nil {
		t.Error("Expected miss from megamorphic cache")
	}
}

func TestInlineCacheTableKeyedByInstruction(t *testing.T) {
	rt := New(nil)
	a := ir.NewCallInstr(nil, ir.Self, "foo", nil, nil)
	b := ir.NewCallInstr(nil, ir.Self, "foo", nil, nil)
	if rt.CallSites.For(a) != rt.CallSites.For(a) {
		t.Error("Expected same cache for the same instruction")
	}
	if rt.CallSites.For(a) == rt.CallSites.For(b) {
		t.Error("Expected distinct caches for distinct instructions")
	}
}

type countingProfiler struct {
	modified int
}

func (p *countingProfiler) ClockTick() {}
func (p *countingProfiler) RecordCall(*ir.InterpreterContext, *ir.CallInstr, DynamicMethod, *Class) {
}
func (p *countingProfiler) CodeModified() { p.modified++ }

func TestStructuralChangesNotifyProfiler(t *testing.T) {
	rt := New(nil)
	p := &countingProfiler{}
	rt.SetProfiler(p)
	c := rt.DefineClass("Widget", rt.ObjectClass())
	c.DefineMethod("a", NewNativeMethod("a", 0, nil))
	c.AliasMethod("b", "a")
	c.UndefMethod("a")
	if p.modified != 3 {
		t.Errorf("Expected 3 modifications, got %d", p.modified)
	}
	rt.SetProfiler(nil)
	c.DefineMethod("c", NewNativeMethod("c", 0, nil))
	if p.modified != 3 {
		t.Errorf("Expected detached profiler to see nothing, got %d", p.modified)
	}
}

func TestFrameChain(t *testing.T) {
	ctx := NewThreadContext(New(nil))
	outer := &Frame{Kind: MethodFrame, Name: "outer"}
	inner := &Frame{Kind: BlockFrame, Name: "inner"}
	ctx.PushFrame(outer)
	ctx.PushFrame(inner)
	if !ctx.IsOnStack(outer) || ctx.FrameDepth() != 2 {
		t.Errorf("Expected outer on a 2-deep stack, got depth %d", ctx.FrameDepth())
	}
	ctx.PopFrame()
	ctx.PopFrame()
	if ctx.IsOnStack(outer) {
		t.Error("Expected popped frame to be off the stack")
	}
	if ctx.IsOnStack(nil) {
		t.Error("Expected nil frame never to be on the stack")
	}
}

func TestEnterCallStackOverflow(t *testing.T) {
	ctx := NewThreadContext(New(nil))
	ctx.SetMaxCallDepth(3)
	for i := 0; i < 3; i++ {
		if err := ctx.EnterCall(); err != nil {
			t.Fatalf("Unexpected error at depth %d: %v", i, err)
		}
	}
	err := ctx.EnterCall()
	r, ok := AsRaise(err)
	if !ok || r.ClassName() != "SystemStackError" {
		t.Errorf("Expected SystemStackError, got %v", err)
	}
}

func TestIntegerBuiltins(t *testing.T) {
	rt := New(nil)
	ctx := NewThreadContext(rt)
	tests := []struct {
		op   string
		a, b Value
		want Value
	}{
		{"+", int64(2), int64(3), int64(5)},
		{"-", int64(2), int64(3), int64(-1)},
		{"*", int64(4), int64(3), int64(12)},
		{"/", int64(7), int64(2), int64(3)},
		{"/", int64(-7), int64(2), int64(-4)},
		{"%", int64(-7), int64(3), int64(2)},
		{"+", int64(1), 0.5, 1.5},
		{"<", int64(1), int64(2), true},
		{">=", int64(1), int64(2), false},
	}
	for _, tt := range tests {
		got, err := rt.CallMethod(ctx, tt.a, tt.op, []Value{tt.b}, nil)
		if err != nil {
			t.Errorf("%v %s %v: unexpected error %v", tt.a, tt.op, tt.b, err)
			continue
		}
		if !Equal(got, tt.want) {
			t.Errorf("%v %s %v: expected %v, got %v", tt.a, tt.op, tt.b, tt.want, got)
		}
	}
}

func TestDivisionByZeroRaises(t *testing.T) {
	rt := New(nil)
	_, err := rt.CallMethod(NewThreadContext(rt), int64(1), "/", []Value{int64(0)}, nil)
	r, ok := AsRaise(err)
	if !ok || r.ClassName() != "ZeroDivisionError" {
		t.Errorf("Expected ZeroDivisionError, got %v", err)
	}
}

func TestNoMethodError(t *testing.T) {
	rt := New(nil)
	_, err := rt.CallMethod(NewThreadContext(rt), int64(1), "frobnicate", nil, nil)
	if !rt.IsKindOf(mustRaise(t, err).Exception, "NameError") {
		t.Errorf("Expected NoMethodError to be a NameError, got %v", err)
	}
}

func TestArityCheck(t *testing.T) {
	rt := New(nil)
	_, err := rt.CallMethod(NewThreadContext(rt), int64(1), "+", nil, nil)
	if r := mustRaise(t, err); r.ClassName() != "ArgumentError" {
		t.Errorf("Expected ArgumentError, got %s", r.ClassName())
	}
}

func TestKernelRaiseForms(t *testing.T) {
	rt := New(nil)
	ctx := NewThreadContext(rt)
	obj := NewObject(rt.ObjectClass())

	_, err := rt.CallMethod(ctx, obj, "raise", []Value{"boom"}, nil)
	if r := mustRaise(t, err); r.ClassName() != "RuntimeError" || r.Message() != "boom" {
		t.Errorf("Expected RuntimeError: boom, got %v", err)
	}

	_, err = rt.CallMethod(ctx, obj, "raise", []Value{rt.ClassByName("TypeError"), "bad"}, nil)
	if r := mustRaise(t, err); r.ClassName() != "TypeError" || r.Message() != "bad" {
		t.Errorf("Expected TypeError: bad, got %v", err)
	}

	_, err = rt.CallMethod(ctx, obj, "raise", []Value{int64(3)}, nil)
	if r := mustRaise(t, err); r.ClassName() != "TypeError" {
		t.Errorf("Expected TypeError for a non-exception, got %v", err)
	}
}

func TestClassNewCallsInitialize(t *testing.T) {
	rt := New(nil)
	ctx := NewThreadContext(rt)
	exc, err := rt.CallMethod(ctx, rt.ClassByName("ArgumentError"), "new", []Value{"nope"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := rt.CallMethod(ctx, exc, "message", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "nope" {
		t.Errorf("Expected message nope, got %v", msg)
	}
}

func TestPuts(t *testing.T) {
	var out bytes.Buffer
	rt := New(&out)
	ctx := NewThreadContext(rt)
	_, err := rt.CallMethod(ctx, nil, "puts", []Value{int64(1), "two", NewArray(Symbol("three"), nil)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "1\ntwo\nthree\n\n"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestDynamicScopeDepth(t *testing.T) {
	outer := NewDynamicScope(1, nil)
	inner := NewDynamicScope(0, outer)
	inner.Set(1, 0, int64(7))
	if got := outer.Get(0, 0); got != int64(7) {
		t.Errorf("Expected 7, got %v", got)
	}
	inner.Set(0, 2, "x")
	if got := inner.Get(0, 2); got != "x" {
		t.Errorf("Expected grown slot to hold x, got %v", got)
	}
	if got := inner.Get(0, 9); got != nil {
		t.Errorf("Expected unset slot to read nil, got %v", got)
	}
}

func mustRaise(t *testing.T, err error) *RaiseException {
	t.Helper()
	r, ok := AsRaise(err)
	if !ok {
		t.Fatalf("Expected a guest exception, got %v", err)
	}
	return r
}
