package profiler

import (
	"testing"

	"github.com/chazu/garnet/inline"
	"github.com/chazu/garnet/interp"
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/passes"
	"github.com/chazu/garnet/runtime"
)

// irMethod interprets its scope on every call.
type irMethod struct {
	scope *ir.Scope
	class *runtime.Class
}

func (m irMethod) Name() string                        { return m.scope.Name }
func (m irMethod) Scope() *ir.Scope                    { return m.scope }
func (m irMethod) ImplementationClass() *runtime.Class { return m.class }

func (m irMethod) Call(ctx *runtime.ThreadContext, self runtime.Value, args []runtime.Value, blk *runtime.Block) (runtime.Value, error) {
	if err := interp.CheckArity(ctx, m.scope, len(args)); err != nil {
		return nil, err
	}
	return interp.Interpret(ctx, m.scope, self, args, blk, m.class)
}

func build(t *testing.T, s *ir.Scope) {
	t.Helper()
	if err := passes.DefaultPipeline().Run(s); err != nil {
		t.Fatalf("Pipeline failed for %s: %v", s.Name, err)
	}
}

func method(name string) irMethod {
	s := ir.NewMethodScope("Thing", name)
	s.Emit(&ir.ReturnInstr{Value: ir.Nil})
	return irMethod{scope: s}
}

func site() IRCallSite {
	host := ir.NewMethodScope("Object", "host")
	return IRCallSite{Scope: host, Call: ir.NewCallInstr(nil, ir.Self, "m", nil, nil)}
}

func TestMonomorphicSiteWithIdleSecondTarget(t *testing.T) {
	rt := runtime.New(nil)
	class := rt.DefineClass("Thing", rt.ObjectClass())
	a, b := method("a"), method("b")

	prof := NewCallSiteProfile(site())
	prof.Observe(a, class, 10)
	prof.Observe(b, class, 0)

	if !prof.IsMonomorphic() {
		t.Error("Expected {A: 10, B: 0} to be monomorphic")
	}
	if total := prof.Total(); total != 10 {
		t.Errorf("Expected total 10, got %d", total)
	}
	target, _ := prof.MonomorphicTarget()
	if target.Method.Scope() != a.scope || target.Class != class || target.Hits != 10 {
		t.Errorf("Expected target A on Thing with 10 hits, got %+v", target)
	}
}

func TestPolymorphicSite(t *testing.T) {
	rt := runtime.New(nil)
	class := rt.DefineClass("Thing", rt.ObjectClass())
	a, b := method("a"), method("b")

	prof := NewCallSiteProfile(site())
	prof.Observe(a, class, 5)
	prof.Observe(b, class, 5)

	if prof.IsMonomorphic() {
		t.Error("Expected {A: 5, B: 5} to be polymorphic")
	}
	if total := prof.Total(); total != 10 {
		t.Errorf("Expected total 10, got %d", total)
	}

	native := NewCallSiteProfile(site())
	native.Observe(nil, class, 3)
	if native.IsMonomorphic() {
		t.Error("Expected a site dispatching to native code not to be monomorphic")
	}
}

func TestBootstrappingGate(t *testing.T) {
	p := New(nil, Options{QuiescentPeriods: 3})

	p.CodeModified()
	if r := p.Analyze(); !r.Bootstrapping {
		t.Error("Expected analysis with modifications to be skipped")
	}
	if p.Modifications() != 0 {
		t.Errorf("Expected modification counter reset, got %d", p.Modifications())
	}
	for i := 1; i <= 2; i++ {
		if r := p.Analyze(); !r.Bootstrapping {
			t.Errorf("Expected quiescent period %d to still be bootstrapping", i)
		}
	}
	if r := p.Analyze(); r.Bootstrapping {
		t.Error("Expected analysis to run after 3 quiescent periods")
	}

	p.CodeModified()
	if r := p.Analyze(); !r.Bootstrapping {
		t.Error("Expected a modification to restart the bootstrapping count")
	}
}

func TestClockTickRunsAnalysisEveryPeriod(t *testing.T) {
	p := New(nil, Options{Period: 5, TickReset: 10})
	for i := 0; i < 4; i++ {
		p.ClockTick()
	}
	if p.Analyses() != 0 {
		t.Errorf("Expected no analysis before the period, got %d", p.Analyses())
	}
	p.ClockTick()
	if p.Analyses() != 1 {
		t.Errorf("Expected 1 analysis after one period, got %d", p.Analyses())
	}
	for i := 0; i < 5; i++ {
		p.ClockTick()
	}
	if p.Analyses() != 2 {
		t.Errorf("Expected 2 analyses, got %d", p.Analyses())
	}
	if p.Ticks() != 0 {
		t.Errorf("Expected tick counter reset, got %d", p.Ticks())
	}
}

// hotHost builds Numeric#twice and Object#run(x) = x.twice, fully built.
func hotHost(t *testing.T, rt *runtime.Runtime) (*ir.Scope, *ir.CallInstr) {
	t.Helper()
	numeric := rt.ClassByName("Numeric")
	twice := ir.NewMethodScope("Numeric", "twice")
	sum := twice.NewTemp()
	twice.Emit(
		ir.NewCallInstr(sum, ir.Self, "+", []ir.Operand{ir.Self}, nil),
		&ir.ReturnInstr{Value: sum},
	)
	build(t, twice)
	numeric.DefineMethod("twice", irMethod{scope: twice, class: numeric})

	host := ir.NewMethodScope("Object", "run")
	host.RequiredArgs = 1
	x, r := host.NewTemp(), host.NewTemp()
	call := ir.NewCallInstr(r, x, "twice", nil, nil)
	host.Emit(
		&ir.ReceiveArgInstr{Result: x, Index: 0},
		call,
		&ir.ReturnInstr{Value: r},
	)
	build(t, host)
	return host, call
}

func TestAnalyzeInlinesHotMonomorphicSite(t *testing.T) {
	rt := runtime.New(nil)
	ctx := runtime.NewThreadContext(rt)
	p := New(inline.New(0), Options{QuiescentPeriods: 1})
	rt.SetProfiler(p)

	host, call := hotHost(t, rt)
	// Flush the modifications made while defining methods.
	if r := p.Analyze(); !r.Bootstrapping {
		t.Fatal("Expected the first analysis to be bootstrapping")
	}

	run := func() runtime.Value {
		t.Helper()
		v, err := interp.Interpret(ctx, host, nil, []runtime.Value{int64(21)}, nil, rt.ObjectClass())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		return v
	}
	for i := 0; i < 10; i++ {
		run()
	}
	if prof := p.Profile(call.SiteID); prof == nil || prof.Total() != 10 {
		t.Fatalf("Expected 10 recorded calls at the site, got %v", prof)
	}

	version := host.Version()
	r := p.Analyze()
	if r.Bootstrapping {
		t.Fatal("Expected analysis to run")
	}
	if len(r.Inlined) != 1 || len(r.Failures) != 0 {
		t.Fatalf("Expected 1 inlined site, got %d (failures %v)", len(r.Inlined), r.Failures)
	}
	if len(r.Mutated) != 1 || r.Mutated[0] != host {
		t.Errorf("Expected host to be the only mutated scope, got %v", r.Mutated)
	}
	if host.Version() != version+1 {
		t.Errorf("Expected version bumped once to %d, got %d", version+1, host.Version())
	}
	if p.Profile(call.SiteID) != nil {
		t.Error("Expected the profile table to be discarded after analysis")
	}

	if got := run(); got != int64(42) {
		t.Errorf("Expected 42 after inlining, got %v", got)
	}
}

func TestAnalyzeSkipsPolymorphicSite(t *testing.T) {
	rt := runtime.New(nil)
	ctx := runtime.NewThreadContext(rt)
	p := New(inline.New(0), Options{QuiescentPeriods: 1})
	rt.SetProfiler(p)

	host, _ := hotHost(t, rt)
	floatTwice := ir.NewMethodScope("Float", "twice")
	floatTwice.Emit(&ir.ReturnInstr{Value: ir.Fixnum{Value: 0}})
	build(t, floatTwice)
	float := rt.ClassByName("Float")
	float.DefineMethod("twice", irMethod{scope: floatTwice, class: float})
	p.Analyze()

	for i := 0; i < 5; i++ {
		interp.Interpret(ctx, host, nil, []runtime.Value{int64(1)}, nil, rt.ObjectClass())
		interp.Interpret(ctx, host, nil, []runtime.Value{1.5}, nil, rt.ObjectClass())
	}

	version := host.Version()
	r := p.Analyze()
	if len(r.Candidates) != 0 || len(r.Inlined) != 0 {
		t.Errorf("Expected polymorphic site to be excluded, got %d candidates", len(r.Candidates))
	}
	// Ten calls at the host site and five at Numeric#twice's "+".
	if r.TotalCalls != 15 {
		t.Errorf("Expected 15 calls, got %d", r.TotalCalls)
	}
	if host.Version() != version {
		t.Error("Expected host to be untouched")
	}
}

func TestAnalyzeIsSerialized(t *testing.T) {
	p := New(nil, Options{})
	p.analyzeMu.Lock()
	if r := p.Analyze(); r != nil {
		t.Error("Expected a concurrent analysis to be skipped")
	}
	p.analyzeMu.Unlock()
	if r := p.Analyze(); r == nil {
		t.Error("Expected analysis to run once the lock is free")
	}
}
