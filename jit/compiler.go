// Package jit schedules compilation of hot IR methods.
//
// A method wrapper calls JITThresholdReached once its call counter reaches
// the threshold. The compiler checks the exclusion list, then compiles the
// method's scope on a background Executor (or synchronously, if the
// executor rejects the task) through a Backend, and hands the result back
// to the method for publication. Failures are counted and logged; the
// method simply stays interpreted.
package jit

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"

	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/runtime"
)

var log = commonlog.GetLogger("garnet.jit")

const (
	DefaultThreshold   = 50
	DefaultMaxWorkers  = 2
	DefaultIdleTimeout = 60 * time.Second
)

// Backend turns a scope into executable code. Compile produces the
// artifact bytes; Define loads an artifact, verifying it against the scope.
type Backend interface {
	Compile(scope *ir.Scope, symbol string) ([]byte, error)
	Define(scope *ir.Scope, symbol string, code []byte) (runtime.Entry, error)
}

// Method is the dispatch wrapper of an interpreted method.
type Method interface {
	Scope() *ir.Scope
	// Install publishes compiled code. It returns false if the method was
	// already promoted.
	Install(c *Compiled) bool
	// DisableJIT stops further compile requests for the method.
	DisableJIT()
}

// Compiled is the result of a successful compile.
type Compiled struct {
	Entry  runtime.Entry
	Symbol string
	Hash   string
	Size   int
	// FromCache is set when the artifact came from the store.
	FromCache bool
}

// Options configures a JITCompiler.
type Options struct {
	Threshold   int
	Background  bool
	MaxWorkers  int
	IdleTimeout time.Duration
	Exclude     []string
	SaltSymbols bool
	// Log reports every successful compile at Info.
	Log   bool
	Cache Store
}

// DefaultOptions returns the stock settings.
func DefaultOptions() Options {
	return Options{
		Threshold:   DefaultThreshold,
		Background:  true,
		MaxWorkers:  DefaultMaxWorkers,
		IdleTimeout: DefaultIdleTimeout,
		SaltSymbols: true,
	}
}

// JITCompiler owns the executor, the exclusion list and the counters.
type JITCompiler struct {
	opts       Options
	backend    Backend
	exclusions *Exclusions
	executor   *Executor
	counters   counters
	closed     atomic.Bool
}

// NewJITCompiler creates a compiler for backend.
func NewJITCompiler(backend Backend, opts Options) *JITCompiler {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &JITCompiler{
		opts:       opts,
		backend:    backend,
		exclusions: NewExclusions(opts.Exclude),
		executor:   NewExecutor(opts.MaxWorkers, opts.IdleTimeout),
	}
}

// Threshold returns the call count at which methods are compiled.
func (c *JITCompiler) Threshold() int { return c.opts.Threshold }

// Stats returns a snapshot of the counters.
func (c *JITCompiler) Stats() Stats { return c.counters.snapshot() }

// Executor returns the background executor.
func (c *JITCompiler) Executor() *Executor { return c.executor }

// JITThresholdReached queues m for compilation, or compiles it on the
// calling goroutine when background compilation is off or the executor
// rejects the task.
func (c *JITCompiler) JITThresholdReached(m Method, ctx *runtime.ThreadContext, className, methodName string) {
	if c.closed.Load() {
		m.DisableJIT()
		return
	}
	if c.exclusions.Excludes(className, methodName) {
		m.DisableJIT()
		c.counters.abandoned.Add(1)
		log.Infof("not compiling excluded method %s#%s", className, methodName)
		return
	}

	var salt string
	if c.opts.SaltSymbols && ctx != nil && ctx.Runtime != nil {
		salt = Salt(ctx.Runtime.ID)
	}
	task := func() { c.compile(m, className, methodName, salt) }

	if !c.opts.Background {
		task()
		return
	}
	if err := c.executor.Submit(task); err != nil {
		log.Debugf("compiling %s#%s synchronously: %s", className, methodName, err)
		task()
	}
}

func (c *JITCompiler) compile(m Method, className, methodName, salt string) {
	c.counters.attempted.Add(1)
	start := time.Now()
	compiled, err := c.build(m.Scope(), className, methodName, salt)
	elapsed := time.Since(start)
	if err != nil {
		c.counters.failed.Add(1)
		m.DisableJIT()
		log.Warningf("could not compile %s#%s: %s", className, methodName, err)
		return
	}
	if c.closed.Load() {
		log.Debugf("discarding %s, compiled after shutdown", compiled.Symbol)
		return
	}
	if !m.Install(compiled) {
		return
	}
	c.counters.recordSuccess(compiled.Size, elapsed)
	if c.opts.Log {
		log.Infof("compiled %s#%s as %s (%s in %s)", className, methodName, compiled.Symbol, humanize.Bytes(uint64(compiled.Size)), elapsed)
	}
}

// build runs the backend. A panic in the backend is a failed compile.
func (c *JITCompiler) build(scope *ir.Scope, className, methodName, salt string) (compiled *Compiled, err error) {
	defer func() {
		if r := recover(); r != nil {
			compiled, err = nil, fmt.Errorf("backend panic: %v", r)
		}
	}()

	if !scope.IsFullyBuilt() {
		return nil, fmt.Errorf("%s is not fully built", scope)
	}
	hash, err := scope.ContentHash()
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", scope, err)
	}
	symbol := Symbol(className, methodName, hash, salt)

	code, fromCache := c.cached(hash)
	if !fromCache {
		if code, err = c.backend.Compile(scope, symbol); err != nil {
			return nil, fmt.Errorf("compiling %s: %w", symbol, err)
		}
		c.store(hash, symbol, code)
	}

	entry, err := c.backend.Define(scope, symbol, code)
	if err != nil {
		return nil, fmt.Errorf("defining %s: %w", symbol, err)
	}
	return &Compiled{
		Entry:     entry,
		Symbol:    symbol,
		Hash:      hash,
		Size:      len(code),
		FromCache: fromCache,
	}, nil
}

func (c *JITCompiler) cached(hash string) ([]byte, bool) {
	if c.opts.Cache == nil {
		return nil, false
	}
	a, err := c.opts.Cache.Load(hash)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Debugf("artifact cache: %s", err)
		}
		return nil, false
	}
	return a.Code, true
}

func (c *JITCompiler) store(hash, symbol string, code []byte) {
	if c.opts.Cache == nil {
		return
	}
	if err := c.opts.Cache.Save(NewArtifact(hash, symbol, code)); err != nil {
		log.Debugf("artifact cache: %s", err)
	}
}

// Wait blocks until queued compiles have finished.
func (c *JITCompiler) Wait() { c.executor.Wait() }

// Shutdown stops accepting work. Compiles already running finish, but
// their results are not installed.
func (c *JITCompiler) Shutdown() {
	if c.closed.Swap(true) {
		return
	}
	c.executor.Shutdown()
	if c.opts.Cache != nil {
		if err := c.opts.Cache.Close(); err != nil {
			log.Debugf("artifact cache: %s", err)
		}
	}
}
