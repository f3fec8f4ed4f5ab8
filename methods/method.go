// Package methods holds the dispatch wrappers installed in class method
// tables for IR methods.
//
// An InterpretedIRMethod counts its calls in an atomic dispatch box. The
// call that reaches the full-build threshold runs the pass pipeline on the
// scope; the call that reaches the JIT threshold hands the method to the
// JIT compiler, which may later publish a CompiledIRMethod into the same
// box. Callers never lock: every call loads the box once and either
// dispatches to the compiled code or interprets.
package methods

import (
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/garnet/interp"
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/jit"
	"github.com/chazu/garnet/passes"
	"github.com/chazu/garnet/runtime"
)

var log = commonlog.GetLogger("garnet.methods")

// DefaultFullBuildThreshold is the call count at which a scope is fully
// built.
const DefaultFullBuildThreshold = 2

// counterDisabled marks a box that no longer counts calls.
const counterDisabled = -1

// Config is shared by every wrapper of one engine.
type Config struct {
	FullBuildThreshold int
	Pipeline           *passes.Pipeline
	// JIT is nil when compilation is off.
	JIT *jit.JITCompiler
}

// DefaultConfig returns a configuration without a JIT.
func DefaultConfig() *Config {
	return &Config{
		FullBuildThreshold: DefaultFullBuildThreshold,
		Pipeline:           passes.DefaultPipeline(),
	}
}

func (c *Config) jitThreshold() int64 {
	if c.JIT == nil || c.JIT.Threshold() <= 0 {
		return 0
	}
	return int64(c.JIT.Threshold())
}

// dispatchState is an immutable snapshot of the box. It is replaced, never
// modified, so a reader sees the counter and the compiled code together.
type dispatchState struct {
	callCount int64
	compiled  *CompiledIRMethod
}

// InterpretedIRMethod runs its scope in the interpreter until compiled code
// is published for it.
type InterpretedIRMethod struct {
	scope     *ir.Scope
	implClass *runtime.Class
	config    *Config

	box atomic.Pointer[dispatchState]
}

// NewInterpretedIRMethod wraps scope, defined in implClass.
func NewInterpretedIRMethod(scope *ir.Scope, implClass *runtime.Class, config *Config) *InterpretedIRMethod {
	if config == nil {
		config = DefaultConfig()
	}
	m := &InterpretedIRMethod{scope: scope, implClass: implClass, config: config}
	m.box.Store(&dispatchState{})
	return m
}

// Define installs a new wrapper for scope in class under the scope's name.
func Define(class *runtime.Class, scope *ir.Scope, config *Config) *InterpretedIRMethod {
	m := NewInterpretedIRMethod(scope, class, config)
	class.DefineMethod(scope.Name, m)
	return m
}

func (m *InterpretedIRMethod) Name() string                        { return m.scope.Name }
func (m *InterpretedIRMethod) Scope() *ir.Scope                    { return m.scope }
func (m *InterpretedIRMethod) ImplementationClass() *runtime.Class { return m.implClass }

// CallCount returns the number of counted calls, or -1 once the method is
// compiled or excluded from compilation.
func (m *InterpretedIRMethod) CallCount() int64 { return m.box.Load().callCount }

// Compiled returns the published compiled method, or nil.
func (m *InterpretedIRMethod) Compiled() *CompiledIRMethod { return m.box.Load().compiled }

// Call dispatches one invocation.
func (m *InterpretedIRMethod) Call(ctx *runtime.ThreadContext, self runtime.Value, args []runtime.Value, block *runtime.Block) (runtime.Value, error) {
	st := m.box.Load()
	if st.compiled != nil {
		return st.compiled.Call(ctx, self, args, block)
	}
	if st.callCount != counterDisabled {
		if m.count(ctx) {
			if c := m.box.Load().compiled; c != nil {
				return c.Call(ctx, self, args, block)
			}
		}
	}
	if err := interp.CheckArity(ctx, m.scope, len(args)); err != nil {
		return nil, err
	}
	return interp.Interpret(ctx, m.scope, self, args, block, m.implClass)
}

// count increments the counter and acts on the thresholds it reaches. It
// reports whether the JIT was asked to compile during this call.
func (m *InterpretedIRMethod) count(ctx *runtime.ThreadContext) bool {
	build := int64(m.config.FullBuildThreshold)
	threshold := m.config.jitThreshold()
	for {
		st := m.box.Load()
		if st.compiled != nil || st.callCount == counterDisabled {
			return false
		}
		next := &dispatchState{callCount: st.callCount + 1}
		// Without a JIT nothing happens after the full build, so stop
		// counting.
		if threshold == 0 && next.callCount >= build {
			next.callCount = counterDisabled
		}
		if !m.box.CompareAndSwap(st, next) {
			continue
		}
		n := st.callCount + 1
		if n == build || (threshold != 0 && n == threshold) {
			m.fullBuild()
		}
		if threshold != 0 && n == threshold {
			m.config.JIT.JITThresholdReached(m, ctx, m.className(), m.scope.Name)
			return true
		}
		return false
	}
}

func (m *InterpretedIRMethod) fullBuild() {
	if m.scope.IsFullyBuilt() || m.config.Pipeline == nil {
		return
	}
	if err := m.config.Pipeline.Run(m.scope); err != nil {
		log.Warningf("full build of %s failed, staying on the startup form: %s", m.scope, err)
	}
}

func (m *InterpretedIRMethod) className() string {
	if m.implClass != nil {
		return m.implClass.Name()
	}
	return m.scope.ClassName
}

// Install publishes compiled code. The first publication wins.
func (m *InterpretedIRMethod) Install(c *jit.Compiled) bool {
	compiled := NewCompiledIRMethod(m.scope, m.implClass, c.Entry, c.Symbol)
	for {
		st := m.box.Load()
		if st.compiled != nil {
			return false
		}
		if m.box.CompareAndSwap(st, &dispatchState{callCount: counterDisabled, compiled: compiled}) {
			return true
		}
	}
}

// DisableJIT stops counting; the method stays interpreted.
func (m *InterpretedIRMethod) DisableJIT() {
	for {
		st := m.box.Load()
		if st.callCount == counterDisabled {
			return
		}
		if m.box.CompareAndSwap(st, &dispatchState{callCount: counterDisabled, compiled: st.compiled}) {
			return
		}
	}
}

// CompiledIRMethod calls backend code through the standard entry point.
type CompiledIRMethod struct {
	scope     *ir.Scope
	implClass *runtime.Class
	entry     runtime.Entry
	symbol    string

	// explicitProtocol is set when the compiled body pushes and pops its
	// own frame and binding.
	explicitProtocol bool
}

// NewCompiledIRMethod wraps entry, compiled from scope.
func NewCompiledIRMethod(scope *ir.Scope, implClass *runtime.Class, entry runtime.Entry, symbol string) *CompiledIRMethod {
	m := &CompiledIRMethod{scope: scope, implClass: implClass, entry: entry, symbol: symbol}
	if ic, err := scope.InterpreterContext(); err == nil {
		m.explicitProtocol = ic.CallProtocol
	}
	return m
}

func (m *CompiledIRMethod) Name() string                        { return m.scope.Name }
func (m *CompiledIRMethod) Scope() *ir.Scope                    { return m.scope }
func (m *CompiledIRMethod) ImplementationClass() *runtime.Class { return m.implClass }

// Symbol returns the name of the compiled unit.
func (m *CompiledIRMethod) Symbol() string { return m.symbol }

// HasExplicitCallProtocol reports whether the body manages its own frame.
func (m *CompiledIRMethod) HasExplicitCallProtocol() bool { return m.explicitProtocol }

func (m *CompiledIRMethod) Call(ctx *runtime.ThreadContext, self runtime.Value, args []runtime.Value, block *runtime.Block) (runtime.Value, error) {
	if err := interp.CheckArity(ctx, m.scope, len(args)); err != nil {
		return nil, err
	}
	return m.entry(ctx, m.scope, self, args, block, m.implClass)
}
