package jit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/passes"
	"github.com/chazu/garnet/runtime"
)

// fakeBackend produces a fixed artifact and an entry returning 7.
type fakeBackend struct {
	compiles   atomic.Int32
	defines    atomic.Int32
	compileErr error
	panicMsg   string
	gate       chan struct{}
}

func (b *fakeBackend) Compile(scope *ir.Scope, symbol string) ([]byte, error) {
	b.compiles.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	if b.compileErr != nil {
		return nil, b.compileErr
	}
	return []byte("artifact " + symbol), nil
}

func (b *fakeBackend) Define(scope *ir.Scope, symbol string, code []byte) (runtime.Entry, error) {
	b.defines.Add(1)
	return func(*runtime.ThreadContext, *ir.Scope, runtime.Value, []runtime.Value, *runtime.Block, *runtime.Class) (runtime.Value, error) {
		return int64(7), nil
	}, nil
}

// fakeMethod records what the compiler did to it.
type fakeMethod struct {
	scope *ir.Scope

	mu        sync.Mutex
	installed *Compiled
	disabled  bool
}

func (m *fakeMethod) Scope() *ir.Scope { return m.scope }

func (m *fakeMethod) Install(c *Compiled) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.installed != nil {
		return false
	}
	m.installed = c
	return true
}

func (m *fakeMethod) DisableJIT() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
}

func (m *fakeMethod) state() (*Compiled, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installed, m.disabled
}

func newMethod(t *testing.T, name string) *fakeMethod {
	t.Helper()
	s := ir.NewMethodScope("Foo", name)
	s.Emit(&ir.ReturnInstr{Value: ir.Fixnum{Value: 7}})
	if err := passes.DefaultPipeline().Run(s); err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	return &fakeMethod{scope: s}
}

func newContext() *runtime.ThreadContext {
	return runtime.NewThreadContext(runtime.New(nil))
}

func syncOptions() Options {
	opts := DefaultOptions()
	opts.Background = false
	return opts
}

func TestSynchronousCompileInstalls(t *testing.T) {
	b := &fakeBackend{}
	c := NewJITCompiler(b, syncOptions())
	m := newMethod(t, "bar")

	c.JITThresholdReached(m, newContext(), "Foo", "bar")

	compiled, disabled := m.state()
	if compiled == nil {
		t.Fatal("Expected compiled code to be installed")
	}
	if disabled {
		t.Error("Expected method not to be disabled")
	}
	if !strings.HasPrefix(compiled.Symbol, "Foo_bar_") {
		t.Errorf("Expected symbol to start with Foo_bar_, got %s", compiled.Symbol)
	}
	v, err := compiled.Entry(nil, m.scope, nil, nil, nil, nil)
	if err != nil || v != int64(7) {
		t.Errorf("Expected entry to return 7, got %v (%v)", v, err)
	}

	s := c.Stats()
	if s.Attempted != 1 || s.Succeeded != 1 || s.Failed != 0 {
		t.Errorf("Expected 1 attempted and 1 succeeded, got %+v", s)
	}
	if s.CodeSize != uint64(compiled.Size) || s.LargestCode != uint64(compiled.Size) {
		t.Errorf("Expected code size %d, got total %d largest %d", compiled.Size, s.CodeSize, s.LargestCode)
	}
}

func TestBackgroundCompileInstalls(t *testing.T) {
	b := &fakeBackend{}
	c := NewJITCompiler(b, DefaultOptions())
	defer c.Shutdown()

	methods := []*fakeMethod{newMethod(t, "a"), newMethod(t, "b"), newMethod(t, "c")}
	ctx := newContext()
	for _, m := range methods {
		c.JITThresholdReached(m, ctx, "Foo", m.scope.Name)
	}
	c.Wait()

	for _, m := range methods {
		if compiled, _ := m.state(); compiled == nil {
			t.Errorf("Expected %s to be compiled", m.scope.Name)
		}
	}
	if s := c.Stats(); s.Succeeded != 3 {
		t.Errorf("Expected 3 successful compiles, got %d", s.Succeeded)
	}
	if w := c.Executor().Workers(); w > DefaultMaxWorkers {
		t.Errorf("Expected at most %d workers, got %d", DefaultMaxWorkers, w)
	}
}

func TestExecutorRejectionFallsBackToSynchronousCompile(t *testing.T) {
	b := &fakeBackend{}
	c := NewJITCompiler(b, DefaultOptions())
	c.Executor().Shutdown()

	m := newMethod(t, "bar")
	c.JITThresholdReached(m, newContext(), "Foo", "bar")

	if compiled, _ := m.state(); compiled == nil {
		t.Fatal("Expected rejected task to be compiled on the caller")
	}
	if n := b.compiles.Load(); n != 1 {
		t.Errorf("Expected 1 backend compile, got %d", n)
	}
}

func TestExcludedMethodIsAbandoned(t *testing.T) {
	for _, entry := range []string{"Foo", "Foo#bar", "bar"} {
		b := &fakeBackend{}
		opts := syncOptions()
		opts.Exclude = []string{entry}
		c := NewJITCompiler(b, opts)
		m := newMethod(t, "bar")

		c.JITThresholdReached(m, newContext(), "Foo", "bar")

		compiled, disabled := m.state()
		if compiled != nil || !disabled {
			t.Errorf("Expected %q to exclude Foo#bar", entry)
		}
		if s := c.Stats(); s.Abandoned != 1 || s.Attempted != 0 {
			t.Errorf("Expected 1 abandoned and 0 attempted for %q, got %+v", entry, s)
		}
		if b.compiles.Load() != 0 {
			t.Errorf("Expected backend not to run for %q", entry)
		}
	}
}

func TestExclusionForms(t *testing.T) {
	x := NewExclusions([]string{"Foo", "Bar#baz", "qux", " "})
	if x.Len() != 3 {
		t.Errorf("Expected 3 entries, got %d", x.Len())
	}
	cases := []struct {
		class, method string
		want          bool
	}{
		{"Foo", "anything", true},
		{"Bar", "baz", true},
		{"Bar", "other", false},
		{"Baz", "qux", true},
		{"Baz", "baz", false},
	}
	for _, tc := range cases {
		if got := x.Excludes(tc.class, tc.method); got != tc.want {
			t.Errorf("Excludes(%s, %s): expected %v, got %v", tc.class, tc.method, tc.want, got)
		}
	}
	var none *Exclusions
	if none.Excludes("Foo", "bar") {
		t.Error("Expected nil exclusions to exclude nothing")
	}
}

func TestBackendFailureLeavesMethodInterpreted(t *testing.T) {
	b := &fakeBackend{compileErr: errors.New("no code for you")}
	c := NewJITCompiler(b, syncOptions())
	m := newMethod(t, "bar")

	c.JITThresholdReached(m, newContext(), "Foo", "bar")

	compiled, disabled := m.state()
	if compiled != nil {
		t.Error("Expected nothing installed after a failed compile")
	}
	if !disabled {
		t.Error("Expected further compiles to be disabled")
	}
	if s := c.Stats(); s.Attempted != 1 || s.Failed != 1 || s.Succeeded != 0 {
		t.Errorf("Expected 1 attempted and 1 failed, got %+v", s)
	}
}

func TestBackendPanicIsAFailure(t *testing.T) {
	b := &fakeBackend{panicMsg: "codegen exploded"}
	c := NewJITCompiler(b, syncOptions())
	m := newMethod(t, "bar")

	c.JITThresholdReached(m, newContext(), "Foo", "bar")

	if compiled, _ := m.state(); compiled != nil {
		t.Error("Expected nothing installed after a panic")
	}
	if s := c.Stats(); s.Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", s.Failed)
	}
}

func TestShutdownDiscardsLateResults(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{})}
	c := NewJITCompiler(b, DefaultOptions())
	m := newMethod(t, "bar")

	c.JITThresholdReached(m, newContext(), "Foo", "bar")
	deadline := time.Now().Add(5 * time.Second)
	for b.compiles.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Shutdown()
	close(b.gate)
	c.Wait()

	if compiled, _ := m.state(); compiled != nil {
		t.Error("Expected a compile finishing after shutdown to be discarded")
	}

	late := newMethod(t, "late")
	c.JITThresholdReached(late, newContext(), "Foo", "late")
	if compiled, disabled := late.state(); compiled != nil || !disabled {
		t.Error("Expected requests after shutdown to disable the method")
	}
}

func TestSymbolNaming(t *testing.T) {
	if got := Symbol("Foo", "bar", "abc", ""); got != "Foo_bar_abc" {
		t.Errorf("Expected Foo_bar_abc, got %s", got)
	}
	if got := Symbol("A::B", "<<", "abc", "s1"); got != "Ax3ax3aB_x3cx3c_abc_s1" {
		t.Errorf("Expected Ax3ax3aB_x3cx3c_abc_s1, got %s", got)
	}
	if Symbol("Foo", "+", "h", "") == Symbol("Foo", "-", "h", "") {
		t.Error("Expected operator methods to get distinct symbols")
	}
}

func TestSaltedSymbolsDifferPerRuntime(t *testing.T) {
	b := &fakeBackend{}
	c := NewJITCompiler(b, syncOptions())
	m1, m2 := newMethod(t, "bar"), newMethod(t, "bar")

	c.JITThresholdReached(m1, newContext(), "Foo", "bar")
	c.JITThresholdReached(m2, newContext(), "Foo", "bar")

	c1, _ := m1.state()
	c2, _ := m2.state()
	if c1 == nil || c2 == nil {
		t.Fatal("Expected both methods compiled")
	}
	if c1.Hash != c2.Hash {
		t.Errorf("Expected identical IR to hash the same, got %s and %s", c1.Hash, c2.Hash)
	}
	if c1.Symbol == c2.Symbol {
		t.Errorf("Expected salted symbols to differ, both %s", c1.Symbol)
	}
}

func TestCacheHitSkipsBackendCompile(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	b := &fakeBackend{}
	opts := syncOptions()
	opts.Cache = store
	c := NewJITCompiler(b, opts)

	first, second := newMethod(t, "bar"), newMethod(t, "bar")
	c.JITThresholdReached(first, newContext(), "Foo", "bar")
	c.JITThresholdReached(second, newContext(), "Foo", "bar")

	if n := b.compiles.Load(); n != 1 {
		t.Errorf("Expected 1 backend compile, got %d", n)
	}
	if n := b.defines.Load(); n != 2 {
		t.Errorf("Expected 2 defines, got %d", n)
	}
	compiled, _ := second.state()
	if compiled == nil || !compiled.FromCache {
		t.Error("Expected second compile to come from the cache")
	}
}

func TestUnwritableCacheDegrades(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewDirStore(filepath.Join(file, "cache")); err == nil {
		t.Error("Expected NewDirStore under a regular file to fail")
	}

	b := &fakeBackend{}
	opts := syncOptions()
	opts.Cache = &DirStore{dir: filepath.Join(file, "cache")}
	c := NewJITCompiler(b, opts)
	m := newMethod(t, "bar")

	c.JITThresholdReached(m, newContext(), "Foo", "bar")

	if compiled, _ := m.state(); compiled == nil {
		t.Error("Expected compile to succeed without a usable cache")
	}
	if s := c.Stats(); s.Failed != 0 {
		t.Errorf("Expected no failures, got %d", s.Failed)
	}
}

func TestNotFullyBuiltScopeFails(t *testing.T) {
	s := ir.NewMethodScope("Foo", "raw")
	s.Emit(&ir.ReturnInstr{Value: ir.Nil})
	m := &fakeMethod{scope: s}
	c := NewJITCompiler(&fakeBackend{}, syncOptions())

	c.JITThresholdReached(m, newContext(), "Foo", "raw")

	if s := c.Stats(); s.Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", s.Failed)
	}
}

func TestStatsString(t *testing.T) {
	s := Stats{Attempted: 3, Succeeded: 2, Failed: 1, CodeSize: 3000, LargestCode: 2000, CompileTime: 4 * time.Millisecond}
	if s.AverageCodeSize() != 1500 {
		t.Errorf("Expected average 1500, got %d", s.AverageCodeSize())
	}
	if s.AverageCompileTime() != 2*time.Millisecond {
		t.Errorf("Expected 2ms average, got %s", s.AverageCompileTime())
	}
	out := s.String()
	for _, want := range []string{"3 attempted", "2 compiled", "1 failed", "3.0 kB", "avg 1.5 kB"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
	if (Stats{}).AverageCodeSize() != 0 {
		t.Error("Expected zero average for no compiles")
	}
}
