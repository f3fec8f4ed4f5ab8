package methods

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chazu/garnet/codegen"
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/jit"
	"github.com/chazu/garnet/runtime"
)

// countingBackend wraps the reference backend, optionally failing.
type countingBackend struct {
	inner    *codegen.Backend
	compiles atomic.Int32
	fail     bool
}

func (b *countingBackend) Compile(scope *ir.Scope, symbol string) ([]byte, error) {
	b.compiles.Add(1)
	if b.fail {
		return nil, errors.New("backend exploded")
	}
	return b.inner.Compile(scope, symbol)
}

func (b *countingBackend) Define(scope *ir.Scope, symbol string, code []byte) (runtime.Entry, error) {
	return b.inner.Define(scope, symbol, code)
}

// double returns its argument times two.
func double() *ir.Scope {
	s := ir.NewMethodScope("Calc", "foo")
	s.RequiredArgs = 1
	x, r := s.LocalVariable("x"), s.NewTemp()
	s.Emit(
		&ir.ReceiveArgInstr{Result: x, Index: 0},
		ir.NewCallInstr(r, x, "*", []ir.Operand{ir.Fixnum{Value: 2}}, nil),
		&ir.ReturnInstr{Value: r},
	)
	return s
}

type fixture struct {
	rt      *runtime.Runtime
	ctx     *runtime.ThreadContext
	self    *runtime.Object
	method  *InterpretedIRMethod
	backend *countingBackend
	jit     *jit.JITCompiler
}

func newFixture(t *testing.T, threshold int, background, fail bool) *fixture {
	t.Helper()
	rt := runtime.New(nil)
	class := rt.DefineClass("Calc", rt.ObjectClass())
	b := &countingBackend{inner: codegen.New(), fail: fail}
	opts := jit.DefaultOptions()
	opts.Threshold = threshold
	opts.Background = background
	c := jit.NewJITCompiler(b, opts)
	t.Cleanup(c.Shutdown)

	config := DefaultConfig()
	config.JIT = c
	return &fixture{
		rt:      rt,
		ctx:     runtime.NewThreadContext(rt),
		self:    runtime.NewObject(class),
		method:  Define(class, double(), config),
		backend: b,
		jit:     c,
	}
}

func (f *fixture) call(t *testing.T, n int64) {
	t.Helper()
	got, err := f.rt.CallMethod(f.ctx, f.self, "foo", []runtime.Value{n}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != n*2 {
		t.Errorf("Expected %d, got %v", n*2, got)
	}
}

func TestFullBuildOnSecondCall(t *testing.T) {
	f := newFixture(t, 50, false, false)
	scope := f.method.Scope()

	f.call(t, 1)
	if scope.IsFullyBuilt() {
		t.Error("Expected scope to stay on the startup form after one call")
	}
	f.call(t, 2)
	if !scope.IsFullyBuilt() {
		t.Error("Expected scope to be fully built after two calls")
	}
	if n := f.method.CallCount(); n != 2 {
		t.Errorf("Expected call count 2, got %d", n)
	}
}

func TestThresholdSchedulesOneCompileAndFailureStaysInterpreted(t *testing.T) {
	f := newFixture(t, 5, true, true)

	for i := int64(1); i <= 4; i++ {
		f.call(t, i)
	}
	f.jit.Wait()
	if n := f.method.CallCount(); n != 4 {
		t.Errorf("Expected call count 4, got %d", n)
	}
	if s := f.jit.Stats(); s.Attempted != 0 {
		t.Errorf("Expected no compile before the threshold, got %d", s.Attempted)
	}

	f.call(t, 5)
	f.jit.Wait()
	if s := f.jit.Stats(); s.Attempted != 1 || s.Failed != 1 {
		t.Errorf("Expected 1 attempted and 1 failed, got %+v", s)
	}

	for i := int64(6); i <= 9; i++ {
		f.call(t, i)
	}
	f.jit.Wait()
	if n := f.backend.compiles.Load(); n != 1 {
		t.Errorf("Expected exactly 1 backend compile, got %d", n)
	}
	if s := f.jit.Stats(); s.Failed != 1 {
		t.Errorf("Expected failure counter 1, got %d", s.Failed)
	}
	if f.method.Compiled() != nil {
		t.Error("Expected method to remain interpreted")
	}
	if n := f.method.CallCount(); n != counterDisabled {
		t.Errorf("Expected counting to stop after the failure, got %d", n)
	}
}

func TestSuccessfulCompilePublishesEntry(t *testing.T) {
	f := newFixture(t, 3, false, false)

	for i := int64(1); i <= 3; i++ {
		f.call(t, i)
	}
	compiled := f.method.Compiled()
	if compiled == nil {
		t.Fatal("Expected compiled method after reaching the threshold")
	}
	if !compiled.HasExplicitCallProtocol() {
		t.Error("Expected fully built body to carry the explicit call protocol")
	}
	if f.method.CallCount() != counterDisabled {
		t.Errorf("Expected counter to be disabled, got %d", f.method.CallCount())
	}

	for i := int64(4); i <= 6; i++ {
		f.call(t, i)
	}
	if n := f.backend.compiles.Load(); n != 1 {
		t.Errorf("Expected 1 compile, got %d", n)
	}
	if s := f.jit.Stats(); s.Succeeded != 1 || s.LargestCode == 0 {
		t.Errorf("Expected 1 success with measured code, got %+v", s)
	}

	_, err := f.rt.CallMethod(f.ctx, f.self, "foo", nil, nil)
	if r, ok := runtime.AsRaise(err); !ok || r.ClassName() != "ArgumentError" {
		t.Errorf("Expected ArgumentError from compiled code, got %v", err)
	}
}

func TestConcurrentCallersTriggerOneCompile(t *testing.T) {
	f := newFixture(t, 50, true, false)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := runtime.NewThreadContext(f.rt)
			for i := int64(0); i < 40; i++ {
				got, err := f.method.Call(ctx, f.self, []runtime.Value{i}, nil)
				if err != nil || got != i*2 {
					t.Errorf("Expected %d, got %v (%v)", i*2, got, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	f.jit.Wait()

	if n := f.backend.compiles.Load(); n != 1 {
		t.Errorf("Expected exactly 1 compile, got %d", n)
	}
	if f.method.Compiled() == nil {
		t.Error("Expected compiled code to be published")
	}
}

func TestInstallIsFirstWins(t *testing.T) {
	m := NewInterpretedIRMethod(double(), nil, nil)
	entry := func(*runtime.ThreadContext, *ir.Scope, runtime.Value, []runtime.Value, *runtime.Block, *runtime.Class) (runtime.Value, error) {
		return nil, nil
	}
	if !m.Install(&jit.Compiled{Entry: entry, Symbol: "a"}) {
		t.Fatal("Expected first install to succeed")
	}
	if m.Install(&jit.Compiled{Entry: entry, Symbol: "b"}) {
		t.Error("Expected second install to be refused")
	}
	if got := m.Compiled().Symbol(); got != "a" {
		t.Errorf("Expected symbol a, got %s", got)
	}
	m.DisableJIT()
	if m.Compiled() == nil {
		t.Error("Expected DisableJIT to keep published code")
	}
}

func TestWithoutJITCountingStopsAfterFullBuild(t *testing.T) {
	rt := runtime.New(nil)
	class := rt.DefineClass("Calc", rt.ObjectClass())
	m := Define(class, double(), nil)
	ctx := runtime.NewThreadContext(rt)
	self := runtime.NewObject(class)

	for i := int64(0); i < 3; i++ {
		if _, err := m.Call(ctx, self, []runtime.Value{i}, nil); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if !m.Scope().IsFullyBuilt() {
		t.Error("Expected full build without a JIT")
	}
	if m.CallCount() != counterDisabled {
		t.Errorf("Expected counting to stop, got %d", m.CallCount())
	}
	if m.ImplementationClass() != class || m.Name() != "foo" {
		t.Error("Expected wrapper to report its class and name")
	}
}
