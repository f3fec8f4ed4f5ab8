package ir

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ScopeKind classifies a lexical unit.
type ScopeKind uint8

const (
	MethodScope ScopeKind = iota
	ClosureScope
	ModuleBodyScope
	MetaModuleBodyScope // class << self
	EvalScope
	ScriptScope
)

var scopeKindNames = [...]string{"method", "closure", "module_body", "meta_module_body", "eval", "script"}

func (k ScopeKind) String() string {
	if int(k) < len(scopeKindNames) {
		return scopeKindNames[k]
	}
	return "unknown"
}

// ScopeFlag records static facts about a scope.
type ScopeFlag uint32

const (
	// FlagRequiresFrame: the body reads frame state (super, __method__,
	// backtrace) and always needs a frame.
	FlagRequiresFrame ScopeFlag = 1 << iota
	// FlagUsesEval: the body calls eval or binding.
	FlagUsesEval
	// FlagBindingHasEscaped: the dynamic scope may outlive the activation.
	FlagBindingHasEscaped
	// FlagCallProtocolExplicit: frame/binding push and pop instructions are
	// part of the IR and the method wrapper must not add them.
	FlagCallProtocolExplicit
	// FlagHasNonlocalReturn: some instruction is a nonlocal return.
	FlagHasNonlocalReturn
	// FlagHasBreak: some instruction is a break.
	FlagHasBreak
	// FlagHasYield: some instruction yields.
	FlagHasYield
)

// BuildState is the staged lifecycle of a scope.
type BuildState uint32

const (
	// Startup: only the flat instruction list exists.
	Startup BuildState = iota
	// CFGBuilt: the CFG exists and a minimal interpreter context can be made.
	CFGBuilt
	// FullyBuilt: the pass pipeline has run.
	FullyBuilt
)

func (s BuildState) String() string {
	switch s {
	case Startup:
		return "startup"
	case CFGBuilt:
		return "cfg_built"
	case FullyBuilt:
		return "fully_built"
	}
	return "unknown"
}

// Scope is a method, closure, module body or eval unit. It owns its CFG and
// nested closures; the lexical parent link is a back reference.
//
// The CFG is only touched under the scope lock (Mutate / View). Execution
// reads the published InterpreterContext, an immutable snapshot, so
// activations that started before a mutation keep running the old code.
type Scope struct {
	Name      string
	Kind      ScopeKind
	ClassName string // defining module, used for JIT naming and exclusions

	RequiredArgs int
	OptionalArgs int
	RestArgs     bool

	parent     *Scope
	closures   []*Scope
	localNames []string

	mu     sync.Mutex
	instrs []Instr
	cfg    *CFG

	tempCount  atomic.Int32
	labelCount atomic.Int32
	flags      atomic.Uint32
	state      atomic.Uint32
	version    atomic.Uint64

	ic       atomic.Pointer[InterpreterContext]
	hash     atomic.Pointer[string]
	analyses sync.Map
}

// NewScope creates a scope of the given kind. Closure scopes register
// themselves with their parent.
func NewScope(kind ScopeKind, name string, parent *Scope) *Scope {
	s := &Scope{Name: name, Kind: kind, parent: parent}
	if parent != nil {
		s.ClassName = parent.ClassName
		if kind == ClosureScope {
			parent.closures = append(parent.closures, s)
		}
	}
	return s
}

// NewMethodScope creates a method scope defined in className.
func NewMethodScope(className, name string) *Scope {
	s := NewScope(MethodScope, name, nil)
	s.ClassName = className
	return s
}

// NewClosureScope creates a block scope nested in parent.
func NewClosureScope(parent *Scope, name string) *Scope {
	return NewScope(ClosureScope, name, parent)
}

// Parent returns the lexical parent, or nil.
func (s *Scope) Parent() *Scope { return s.parent }

// Closures returns the closures nested directly in this scope.
func (s *Scope) Closures() []*Scope { return s.closures }

// HasClosures reports whether any closure is nested in this scope.
func (s *Scope) HasClosures() bool { return len(s.closures) > 0 }

// IsClosure reports whether s is a block scope.
func (s *Scope) IsClosure() bool { return s.Kind == ClosureScope }

// NearestMethodScope returns the closest enclosing non-closure scope.
func (s *Scope) NearestMethodScope() *Scope {
	cur := s
	for cur != nil && cur.Kind == ClosureScope {
		cur = cur.parent
	}
	return cur
}

// ---------------------------------------------------------------------------
// Construction helpers (used while the scope is being built, single-threaded)
// ---------------------------------------------------------------------------

// NewTemp allocates a fresh temporary variable.
func (s *Scope) NewTemp() TemporaryVariable {
	return TemporaryVariable{ID: int(s.tempCount.Add(1) - 1)}
}

// NewNamedTemp allocates a fresh temporary with a print name.
func (s *Scope) NewNamedTemp(name string) TemporaryVariable {
	t := s.NewTemp()
	t.Name = name
	return t
}

// TempCount returns the number of temporaries allocated so far.
func (s *Scope) TempCount() int { return int(s.tempCount.Load()) }

// NewLabel allocates a fresh label unique within this scope.
func (s *Scope) NewLabel(prefix string) *Label {
	return &Label{Prefix: prefix, ID: int(s.labelCount.Add(1))}
}

// LocalVariable resolves name to a local, looking through enclosing scopes
// for closures and defining it at depth 0 when not found.
func (s *Scope) LocalVariable(name string) LocalVariable {
	depth := 0
	for cur := s; cur != nil; cur = cur.parent {
		for i, n := range cur.localNames {
			if n == name {
				return LocalVariable{Name: name, Depth: depth, Offset: i}
			}
		}
		if cur.Kind != ClosureScope {
			break
		}
		depth++
	}
	s.localNames = append(s.localNames, name)
	return LocalVariable{Name: name, Depth: 0, Offset: len(s.localNames) - 1}
}

// LocalNames returns the names of this scope's own local slots.
func (s *Scope) LocalNames() []string { return s.localNames }

// LocalCount returns the number of local slots this scope's binding needs.
func (s *Scope) LocalCount() int { return len(s.localNames) }

// Emit appends instr to the flat instruction list.
func (s *Scope) Emit(instrs ...Instr) {
	s.instrs = append(s.instrs, instrs...)
}

// SetInstrs replaces the flat instruction list. It fails once the CFG
// exists.
func (s *Scope) SetInstrs(instrs []Instr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return ErrCFGAlreadyBuilt
	}
	s.instrs = append([]Instr(nil), instrs...)
	return nil
}

// Instrs returns the flat instruction list the CFG is built from.
func (s *Scope) Instrs() []Instr { return s.instrs }

// ---------------------------------------------------------------------------
// Flags and lifecycle
// ---------------------------------------------------------------------------

// HasFlag reports whether f is set.
func (s *Scope) HasFlag(f ScopeFlag) bool { return ScopeFlag(s.flags.Load())&f != 0 }

// SetFlag sets f.
func (s *Scope) SetFlag(f ScopeFlag) {
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// State returns the lifecycle stage.
func (s *Scope) State() BuildState { return BuildState(s.state.Load()) }

// IsFullyBuilt reports whether the pass pipeline has completed.
func (s *Scope) IsFullyBuilt() bool { return s.State() == FullyBuilt }

// MarkFullyBuilt advances the lifecycle to FullyBuilt.
func (s *Scope) MarkFullyBuilt() { s.state.Store(uint32(FullyBuilt)) }

// Version is bumped whenever the scope's code changes in a way that
// invalidates compiled artifacts or cached interpreter contexts.
func (s *Scope) Version() uint64 { return s.version.Load() }

// Invalidate bumps the version and discards the published interpreter
// context; the next execution re-linearizes.
func (s *Scope) Invalidate() {
	s.version.Add(1)
	s.ic.Store(nil)
	s.hash.Store(nil)
}

// ---------------------------------------------------------------------------
// Analyses
// ---------------------------------------------------------------------------

// Analysis returns a stored data-flow result.
func (s *Scope) Analysis(key string) (any, bool) {
	return s.analyses.Load(key)
}

// SetAnalysis stores a data-flow result.
func (s *Scope) SetAnalysis(key string, v any) {
	s.analyses.Store(key, v)
}

// InvalidateAnalysis drops a stored data-flow result.
func (s *Scope) InvalidateAnalysis(key string) {
	s.analyses.Delete(key)
}

// ---------------------------------------------------------------------------
// CFG access
// ---------------------------------------------------------------------------

func (s *Scope) ensureCFGLocked() (*CFG, error) {
	if s.cfg != nil {
		return s.cfg, nil
	}
	if len(s.instrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInstructions, s.Name)
	}
	cfg, err := Build(s, s.instrs)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	if s.State() == Startup {
		s.state.Store(uint32(CFGBuilt))
	}
	return cfg, nil
}

// EnsureCFG builds the CFG on first use and returns it.
func (s *Scope) EnsureCFG() (*CFG, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureCFGLocked()
}

// HasCFG reports whether the CFG has been built.
func (s *Scope) HasCFG() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg != nil
}

// View runs fn with read access to the CFG under the scope lock.
func (s *Scope) View(fn func(cfg *CFG) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.ensureCFGLocked()
	if err != nil {
		return err
	}
	return fn(cfg)
}

// Mutate runs fn with exclusive access to the CFG and discards the
// published interpreter context afterwards. The version is not bumped;
// callers that change semantics-visible code call Invalidate once when
// they are done.
func (s *Scope) Mutate(fn func(cfg *CFG) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.ensureCFGLocked()
	if err != nil {
		return err
	}
	err = fn(cfg)
	cfg.invalidateLinearization()
	s.ic.Store(nil)
	s.hash.Store(nil)
	return err
}

// InterpreterContext returns the published snapshot, linearizing the CFG
// when none exists.
func (s *Scope) InterpreterContext() (*InterpreterContext, error) {
	if ic := s.ic.Load(); ic != nil {
		return ic, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ic := s.ic.Load(); ic != nil {
		return ic, nil
	}
	cfg, err := s.ensureCFGLocked()
	if err != nil {
		return nil, err
	}
	ic, err := cfg.PrepareForInterpretation()
	if err != nil {
		return nil, err
	}
	s.ic.Store(ic)
	return ic, nil
}

// InstructionCount returns the size of the scope's code.
func (s *Scope) InstructionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return s.cfg.InstrCount()
	}
	return len(s.instrs)
}

func (s *Scope) String() string {
	return fmt.Sprintf("%s %s#%s", s.Kind, s.ClassName, s.Name)
}
