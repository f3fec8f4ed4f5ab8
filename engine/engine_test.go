package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/garnet/config"
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/runtime"
)

func fix(n int64) ir.Operand { return ir.Fixnum{Value: n} }

func str(s string) ir.Operand { return ir.StringLiteral{Value: s} }

// safeDiv prints its arguments and returns a / b, or -1 when the division
// raises.
func safeDiv() *ir.Scope {
	s := ir.NewMethodScope("Calc", "safe_div")
	s.RequiredArgs = 2
	a, b, q, exc := s.NewTemp(), s.NewTemp(), s.NewTemp(), s.NewTemp()
	rescue := s.NewLabel("RESCUE")
	s.Emit(
		&ir.ReceiveArgInstr{Result: a, Index: 0},
		&ir.ReceiveArgInstr{Result: b, Index: 1},
		ir.NewCallInstr(nil, ir.Self, "puts", []ir.Operand{a, b}, nil),
		&ir.ExceptionRegionStartInstr{FirstRescue: rescue},
		ir.NewCallInstr(q, a, "/", []ir.Operand{b}, nil),
		&ir.ExceptionRegionEndInstr{},
		&ir.ReturnInstr{Value: q},
		&ir.LabelInstr{Label: rescue},
		&ir.ReceiveExceptionInstr{Result: exc},
		ir.NewCallInstr(nil, ir.Self, "puts", []ir.Operand{str("rescued")}, nil),
		&ir.ReturnInstr{Value: fix(-1)},
	)
	return s
}

// sumTo returns 1 + 2 + ... + n.
func sumTo() *ir.Scope {
	s := ir.NewMethodScope("Calc", "sum_to")
	s.RequiredArgs = 1
	n, acc, cond := s.LocalVariable("n"), s.LocalVariable("acc"), s.NewTemp()
	loop, done := s.NewLabel("LOOP"), s.NewLabel("DONE")
	s.Emit(
		&ir.ReceiveArgInstr{Result: n, Index: 0},
		&ir.CopyInstr{Result: acc, Source: fix(0)},
		&ir.LabelInstr{Label: loop},
		&ir.ThreadPollInstr{},
		ir.NewCallInstr(cond, n, "<=", []ir.Operand{fix(0)}, nil),
		&ir.BranchInstr{Cond: ir.BranchTrue, Arg1: cond, Target: done},
		ir.NewCallInstr(acc, acc, "+", []ir.Operand{n}, nil),
		ir.NewCallInstr(n, n, "-", []ir.Operand{fix(1)}, nil),
		&ir.JumpInstr{Target: loop},
		&ir.LabelInstr{Label: done},
		&ir.ReturnInstr{Value: acc},
	)
	return s
}

// shout raises a RuntimeError after printing.
func shout() *ir.Scope {
	s := ir.NewMethodScope("Calc", "shout")
	s.Emit(
		ir.NewCallInstr(nil, ir.Self, "puts", []ir.Operand{str("about to fail")}, nil),
		&ir.RaiseInstr{ClassName: "RuntimeError", Message: str("loud")},
	)
	return s
}

type outcome struct {
	value runtime.Value
	class string
	msg   string
	out   string
}

func run(t *testing.T, cfg *config.Config, build func() *ir.Scope, args ...runtime.Value) (outcome, bool) {
	t.Helper()
	var out bytes.Buffer
	e, err := New(cfg, &out)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Shutdown()

	m := e.Define(nil, build())
	ctx := e.NewThread()
	self := runtime.NewObject(m.ImplementationClass())
	v, err := e.Call(ctx, self, m.Name(), args...)
	e.Wait()

	o := outcome{value: v, out: out.String()}
	if r, ok := runtime.AsRaise(err); ok {
		o.class, o.msg = r.ClassName(), r.Message()
	} else if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d := ctx.FrameDepth(); d != 0 {
		t.Errorf("Expected frame depth 0, got %d", d)
	}
	return o, m.Compiled() != nil
}

func interpreted() *config.Config {
	c := config.Default()
	c.JIT.Enabled = false
	c.Profiler.Enabled = false
	return c
}

func compiledFirstCall() *config.Config {
	c := config.Default()
	c.JIT.Threshold = 1
	c.JIT.Background = false
	c.Profiler.Enabled = false
	return c
}

func TestCompiledAndInterpretedAgree(t *testing.T) {
	cases := []struct {
		name  string
		build func() *ir.Scope
		args  []runtime.Value
	}{
		{"quotient", safeDiv, []runtime.Value{int64(10), int64(2)}},
		{"rescued", safeDiv, []runtime.Value{int64(1), int64(0)}},
		{"arity", safeDiv, []runtime.Value{int64(1)}},
		{"loop", sumTo, []runtime.Value{int64(100)}},
		{"raise", shout, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want, _ := run(t, interpreted(), tc.build, tc.args...)
			got, compiled := run(t, compiledFirstCall(), tc.build, tc.args...)
			if !compiled {
				t.Fatal("Expected the method to be compiled on its first call")
			}
			if got != want {
				t.Errorf("Expected %+v, got %+v", want, got)
			}
		})
	}
}

// hotHost defines Integer#twice and Object#run(x) = x.twice.
func hotHost(e *Engine) *ir.Scope {
	twice := ir.NewMethodScope("Integer", "twice")
	sum := twice.NewTemp()
	twice.Emit(
		ir.NewCallInstr(sum, ir.Self, "+", []ir.Operand{ir.Self}, nil),
		&ir.ReturnInstr{Value: sum},
	)
	e.Define(e.Runtime.ClassByName("Integer"), twice)

	host := ir.NewMethodScope("Object", "run")
	host.RequiredArgs = 1
	x, r := host.NewTemp(), host.NewTemp()
	host.Emit(
		&ir.ReceiveArgInstr{Result: x, Index: 0},
		ir.NewCallInstr(r, x, "twice", nil, nil),
		&ir.ReturnInstr{Value: r},
	)
	e.Define(e.Runtime.ObjectClass(), host)
	return host
}

func TestRedefinitionAfterInliningTakesDeoptPath(t *testing.T) {
	cfg := config.Default()
	cfg.JIT.Enabled = false
	cfg.Profiler.QuiescentPeriods = 1
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Shutdown()

	host := hotHost(e)
	if r := e.Analyze(); r == nil || !r.Bootstrapping {
		t.Fatal("Expected the first analysis to be bootstrapping")
	}

	ctx := e.NewThread()
	self := runtime.NewObject(e.Runtime.ObjectClass())
	call := func() runtime.Value {
		t.Helper()
		v, err := e.Call(ctx, self, "run", int64(21))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		return v
	}
	for i := 0; i < 10; i++ {
		if got := call(); got != int64(42) {
			t.Fatalf("Expected 42, got %v", got)
		}
	}

	r := e.Analyze()
	if r == nil || len(r.Inlined) != 1 {
		t.Fatalf("Expected 1 inlined site, got %+v", r)
	}
	if r.Mutated[0] != host {
		t.Errorf("Expected run to be mutated, got %v", r.Mutated)
	}
	if got := call(); got != int64(42) {
		t.Errorf("Expected 42 on the inlined path, got %v", got)
	}

	zero := ir.NewMethodScope("Integer", "twice")
	zero.Emit(&ir.ReturnInstr{Value: fix(0)})
	e.Define(e.Runtime.ClassByName("Integer"), zero)

	if got := call(); got != int64(0) {
		t.Errorf("Expected the redefined method to answer 0, got %v", got)
	}
	if s := e.Stats(); s.Inliner.Inlined != 1 || s.Analyses != 2 {
		t.Errorf("Expected 1 inlined and 2 analyses, got %+v", s)
	}
}

func TestNewThreadUsesConfiguredCallDepth(t *testing.T) {
	cfg := interpreted()
	cfg.Interpreter.MaxCallDepth = 40
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s := ir.NewMethodScope("Calc", "forever")
	r := s.NewTemp()
	s.Emit(
		ir.NewCallInstr(r, ir.Self, "forever", nil, nil),
		&ir.ReturnInstr{Value: r},
	)
	m := e.Define(nil, s)

	ctx := e.NewThread()
	_, err = e.Call(ctx, runtime.NewObject(m.ImplementationClass()), "forever")
	if r, ok := runtime.AsRaise(err); !ok || r.ClassName() != "SystemStackError" {
		t.Errorf("Expected SystemStackError, got %v", err)
	}
	if d := ctx.CallDepth(); d != 0 {
		t.Errorf("Expected call depth 0, got %d", d)
	}
}

func TestCompiledArtifactsLandInCacheDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cfg := compiledFirstCall()
	cfg.JIT.CacheDir = dir

	for i := 0; i < 2; i++ {
		if _, compiled := run(t, cfg, sumTo, int64(3)); !compiled {
			t.Fatalf("Expected run %d to install compiled code", i)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || filepath.Ext(entries[0].Name()) != ".cbor" {
		t.Errorf("Expected one cached artifact, got %v", entries)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.JIT.Threshold = 0
	if _, err := New(cfg, nil); err == nil {
		t.Error("Expected an invalid configuration to be rejected")
	}
}
