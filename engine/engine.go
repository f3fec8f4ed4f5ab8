// Package engine wires a runtime to the interpreter, the JIT and the
// profiler according to a configuration.
package engine

import (
	"io"

	"github.com/tliron/commonlog"

	"github.com/chazu/garnet/codegen"
	"github.com/chazu/garnet/config"
	"github.com/chazu/garnet/inline"
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/jit"
	"github.com/chazu/garnet/methods"
	"github.com/chazu/garnet/passes"
	"github.com/chazu/garnet/profiler"
	"github.com/chazu/garnet/runtime"
)

var log = commonlog.GetLogger("garnet.engine")

// Engine is one configured runtime instance.
type Engine struct {
	Runtime *runtime.Runtime
	Config  *config.Config

	// JIT is nil when compilation is disabled.
	JIT *jit.JITCompiler
	// Profiler is nil when profiling is disabled.
	Profiler *profiler.Profiler
	Inliner  *inline.Inliner

	methods *methods.Config
}

// New creates an engine writing guest output to out. A nil cfg selects
// config.Default().
func New(cfg *config.Config, out io.Writer) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		Runtime: runtime.New(out),
		Config:  cfg,
		Inliner: inline.New(cfg.Inliner.MaxInstrs),
		methods: &methods.Config{
			FullBuildThreshold: cfg.Interpreter.FullBuildThreshold,
			Pipeline:           passes.DefaultPipeline(),
		},
	}

	if cfg.JIT.Enabled {
		e.JIT = jit.NewJITCompiler(codegen.New(), jitOptions(cfg))
		e.methods.JIT = e.JIT
	}

	if cfg.Profiler.Enabled {
		e.Profiler = profiler.New(e.Inliner, profiler.Options{
			Period:           cfg.Profiler.Period,
			QuiescentPeriods: cfg.Profiler.QuiescentPeriods,
			MaxCandidates:    cfg.Profiler.MaxCandidates,
			CumulativeCutoff: cfg.Profiler.CumulativeCutoff,
			MinShare:         cfg.Profiler.MinShare,
		})
		e.Runtime.SetProfiler(e.Profiler)
	}

	log.Debugf("engine %s ready (jit %t, profiler %t)", e.Runtime.ID, e.JIT != nil, e.Profiler != nil)
	return e, nil
}

func jitOptions(cfg *config.Config) jit.Options {
	opts := jit.Options{
		Threshold:   cfg.JIT.Threshold,
		Background:  cfg.JIT.Background,
		MaxWorkers:  cfg.JIT.MaxWorkers,
		IdleTimeout: cfg.JIT.IdleTimeout.Duration,
		Exclude:     cfg.JIT.Exclude,
		SaltSymbols: cfg.JIT.SaltSymbols,
		Log:         cfg.JIT.Log,
	}
	opts.Cache = openCache(cfg.JIT)
	return opts
}

// openCache returns the configured artifact store. A store that cannot be
// opened leaves the JIT without a cache.
func openCache(c config.JIT) jit.Store {
	switch {
	case c.CacheDB != "":
		s, err := jit.NewSQLiteStore(c.CacheDB)
		if err != nil {
			log.Warningf("jit cache disabled: %s", err)
			return nil
		}
		return s
	case c.CacheDir != "":
		s, err := jit.NewDirStore(c.CacheDir)
		if err != nil {
			log.Warningf("jit cache disabled: %s", err)
			return nil
		}
		return s
	}
	return nil
}

// NewThread returns a thread context honoring the configured call depth.
func (e *Engine) NewThread() *runtime.ThreadContext {
	ctx := runtime.NewThreadContext(e.Runtime)
	ctx.SetMaxCallDepth(e.Config.Interpreter.MaxCallDepth)
	return ctx
}

// DefineClass returns the class called name, creating it under superclass
// when it does not exist. A nil superclass means Object.
func (e *Engine) DefineClass(name string, superclass *runtime.Class) *runtime.Class {
	if superclass == nil {
		superclass = e.Runtime.ObjectClass()
	}
	return e.Runtime.DefineClass(name, superclass)
}

// Define installs scope as an interpreted method of class. The scope's
// class name selects the class when class is nil.
func (e *Engine) Define(class *runtime.Class, scope *ir.Scope) *methods.InterpretedIRMethod {
	if class == nil {
		class = e.DefineClass(scope.ClassName, nil)
	}
	return methods.Define(class, scope, e.methods)
}

// Call sends name to recv on ctx.
func (e *Engine) Call(ctx *runtime.ThreadContext, recv runtime.Value, name string, args ...runtime.Value) (runtime.Value, error) {
	return e.Runtime.CallMethod(ctx, recv, name, args, nil)
}

// Analyze runs a profiler analysis immediately. It returns nil when
// profiling is disabled or an analysis is already running.
func (e *Engine) Analyze() *profiler.AnalysisReport {
	if e.Profiler == nil {
		return nil
	}
	return e.Profiler.Analyze()
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	JIT      jit.Stats
	Inliner  inline.Stats
	Analyses uint64
	// Call-site cache states.
	Monomorphic, Polymorphic, Megamorphic int
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	s := Stats{Inliner: e.Inliner.Stats()}
	if e.JIT != nil {
		s.JIT = e.JIT.Stats()
	}
	if e.Profiler != nil {
		s.Analyses = e.Profiler.Analyses()
	}
	s.Monomorphic, s.Polymorphic, s.Megamorphic = e.Runtime.CallSites.Stats()
	return s
}

// Wait blocks until queued compilations finish.
func (e *Engine) Wait() {
	if e.JIT != nil {
		e.JIT.Wait()
	}
}

// Shutdown stops the JIT and detaches the profiler. Methods keep working
// interpreted or with the code already installed.
func (e *Engine) Shutdown() {
	e.Runtime.SetProfiler(nil)
	if e.JIT != nil {
		e.JIT.Shutdown()
	}
}
