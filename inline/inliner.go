// Package inline splices a callee's CFG into a call site of another scope.
//
// Inlining is speculative: the spliced body runs only while the receiver's
// class is still the one the profiler saw, at the same generation. A
// ModuleVersionGuardInstr in front of the body branches to a failure block
// that re-issues the original call, marked so it is never inlined again.
package inline

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/passes"
)

// DefaultMaxInstrs is the callee size ceiling.
const DefaultMaxInstrs = 500

var (
	ErrCalleeTooLarge    = errors.New("inline: callee too large")
	ErrNotFullyBuilt     = errors.New("inline: callee not fully built")
	ErrInliningBlocked   = errors.New("inline: call site is blocked")
	ErrMultipleYields    = errors.New("inline: callee yields the block at more than one site")
	ErrRecursive         = errors.New("inline: recursive call site")
	ErrCallSiteNotFound  = errors.New("inline: call site not found in host")
	ErrUnsupportedCallee = errors.New("inline: callee cannot be inlined")
)

var log = commonlog.GetLogger("garnet.inline")

// Stats counts inliner outcomes.
type Stats struct {
	Inlined         uint64
	Refused         uint64
	ClosuresSpliced uint64
}

// Inliner performs guarded CFG inlining.
type Inliner struct {
	// MaxInstrs is the largest callee, in instructions, that is inlined.
	MaxInstrs int

	inlined atomic.Uint64
	refused atomic.Uint64
	spliced atomic.Uint64
}

// New creates an inliner. A non-positive maxInstrs selects
// DefaultMaxInstrs.
func New(maxInstrs int) *Inliner {
	if maxInstrs <= 0 {
		maxInstrs = DefaultMaxInstrs
	}
	return &Inliner{MaxInstrs: maxInstrs}
}

// Stats returns a snapshot of the counters.
func (in *Inliner) Stats() Stats {
	return Stats{
		Inlined:         in.inlined.Load(),
		Refused:         in.refused.Load(),
		ClosuresSpliced: in.spliced.Load(),
	}
}

// InlineMethod replaces call in host by the body of callee, guarded on the
// receiver being an instance of module at generation. The call is located
// by its site id, so a renamed copy of the instruction is found as well.
//
// The host's version is not bumped; callers inlining several sites of one
// scope invalidate it once when they are done.
func (in *Inliner) InlineMethod(host, callee *ir.Scope, call *ir.CallInstr, module ir.VersionedModule, generation uint64) error {
	spliced, err := in.inlineMethod(host, callee, call, module, generation)
	if err != nil {
		in.refused.Add(1)
		log.Debugf("not inlining %s into %s: %s", callee, host, err)
		return err
	}
	in.inlined.Add(1)
	if spliced {
		in.spliced.Add(1)
	}
	log.Infof("inlined %s into %s at site %d", callee, host, call.SiteID)
	return nil
}

func (in *Inliner) inlineMethod(host, callee *ir.Scope, call *ir.CallInstr, module ir.VersionedModule, generation uint64) (bool, error) {
	if call.DontInline {
		return false, ErrInliningBlocked
	}
	if callee == host {
		return false, ErrRecursive
	}
	if !callee.IsFullyBuilt() {
		return false, errors.Wrap(ErrNotFullyBuilt, callee.String())
	}
	if n := callee.InstructionCount(); n > in.MaxInstrs {
		return false, errors.Wrapf(ErrCalleeTooLarge, "%s has %d instructions, limit %d", callee, n, in.MaxInstrs)
	}
	if err := checkCallee(callee, call); err != nil {
		return false, err
	}

	body, err := snapshot(callee)
	if err != nil {
		return false, err
	}
	if body.framed || len(body.ownLocals) > 0 {
		return false, errors.Wrapf(ErrUnsupportedCallee, "%s keeps a frame or binding", callee)
	}

	var block *closureBody
	if wc, ok := call.Closure.(*ir.WrappedClosure); ok {
		if len(body.yields) > 1 {
			return false, errors.Wrapf(ErrMultipleYields, "%s yields at %d sites", callee, len(body.yields))
		}
		if block, err = prepareClosure(host, wc, body); err != nil {
			return false, err
		}
	}

	err = host.Mutate(func(cfg *ir.CFG) error {
		bb, idx := findSite(cfg, call.SiteID)
		if bb == nil {
			return errors.Wrapf(ErrCallSiteNotFound, "site %d in %s", call.SiteID, host)
		}
		site := bb.Instrs()[idx].(*ir.CallInstr)
		if err := spliceMethod(host, cfg, bb, idx, site, body, block, module, generation); err != nil {
			return err
		}
		cfg.CollapseStraightLineBBs()
		if err := cfg.Validate(); err != nil {
			return errors.WithMessagef(err, "after inlining %s into %s", callee, host)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	host.InvalidateAnalysis(passes.AnalysisLiveVariables)
	host.InvalidateAnalysis(passes.AnalysisLocalUsage)
	return block != nil, nil
}

// checkCallee applies the static guardrails that do not need the CFG.
func checkCallee(callee *ir.Scope, call *ir.CallInstr) error {
	switch {
	case callee.Kind != ir.MethodScope:
		return errors.Wrapf(ErrUnsupportedCallee, "%s is not a method", callee)
	case callee.HasClosures():
		return errors.Wrapf(ErrUnsupportedCallee, "%s has closures", callee)
	case callee.HasFlag(ir.FlagRequiresFrame | ir.FlagUsesEval | ir.FlagBindingHasEscaped):
		return errors.Wrapf(ErrUnsupportedCallee, "%s needs a frame or binding", callee)
	case callee.HasFlag(ir.FlagHasNonlocalReturn | ir.FlagHasBreak):
		return errors.Wrapf(ErrUnsupportedCallee, "%s exits non-locally", callee)
	case callee.RestArgs:
		return errors.Wrapf(ErrUnsupportedCallee, "%s takes a rest argument", callee)
	}
	if n := len(call.Args); n < callee.RequiredArgs || n > callee.RequiredArgs+callee.OptionalArgs {
		return errors.Wrapf(ErrUnsupportedCallee, "%s called with %d arguments", callee, n)
	}
	if !plainOperand(call.Receiver) {
		return errors.Wrapf(ErrUnsupportedCallee, "receiver %s", call.Receiver)
	}
	switch call.Closure.(type) {
	case nil, *ir.WrappedClosure:
	default:
		return errors.Wrapf(ErrUnsupportedCallee, "block argument %s is not a literal", call.Closure)
	}
	return nil
}

func plainOperand(op ir.Operand) bool {
	if _, ok := op.(ir.Variable); ok {
		return true
	}
	return ir.IsConstant(op)
}

// findSite locates the call instruction with the given site id.
func findSite(cfg *ir.CFG, siteID int64) (*ir.BasicBlock, int) {
	for _, bb := range cfg.Blocks() {
		for i, instr := range bb.Instrs() {
			if c, ok := instr.(*ir.CallInstr); ok && c.SiteID == siteID {
				return bb, i
			}
		}
	}
	return nil, -1
}

// spliceMethod performs the surgery at bb[idx]:
//
//	bb:      ...; recv = copy(receiver); args = copy(...); guard(recv) else FAIL
//	body:    cloned callee blocks; returns copy into the call result and jump to resume
//	FAIL:    the original call with DontInline; jump resume
//	resume:  the instructions that followed the call
func spliceMethod(host *ir.Scope, cfg *ir.CFG, bb *ir.BasicBlock, idx int, site *ir.CallInstr, body *snapshotBody, block *closureBody, module ir.VersionedModule, generation uint64) error {
	rescuer, ensurer := cfg.RescuerBBFor(bb), cfg.EnsurerBBFor(bb)

	bb.RemoveInstrAt(idx)
	resume := cfg.SplitAt(bb, idx)
	cfg.RemoveEdgeOfType(bb, resume, ir.EdgeFallThrough)

	recv := host.NewNamedTemp("inl_recv")
	bb.AddInstr(&ir.CopyInstr{Result: recv, Source: site.Receiver})
	args := copyArgs(host, bb, site.Args)

	fail := cfg.NewBlock(host.NewLabel("INLINE_FAIL"))
	deopt := site.Clone(keepNames{}).(*ir.CallInstr)
	deopt.DontInline = true
	deopt.SiteID = ir.NextSiteID()
	fail.AddInstr(deopt)
	fail.AddInstr(&ir.JumpInstr{Target: resume.Label()})
	cfg.AddEdge(fail, resume, ir.EdgeRegular)
	protect(cfg, fail, rescuer, ensurer)

	bb.AddInstr(&ir.ModuleVersionGuardInstr{
		Candidate:   recv,
		Module:      module,
		Expected:    generation,
		FailurePath: fail.Label(),
	})
	cfg.AddEdge(bb, fail, ir.EdgeRegular)

	ci := newCloner(host)
	ci.vars[ir.Self] = recv
	closure := site.Closure
	if closure == nil {
		closure = ir.Nil
	}
	s := &splicer{
		cfg:     cfg,
		ci:      ci,
		body:    body,
		resume:  resume,
		result:  site.Result,
		rescuer: rescuer,
		ensurer: ensurer,
		receive: receiveFrom(args, closure),
	}
	if err := s.run(bb); err != nil {
		return err
	}

	if block != nil && s.yield != nil {
		return spliceClosure(host, cfg, s.yieldBlock, s.yield, block)
	}
	return nil
}

// spliceClosure replaces yield in yb by the body of the block literal.
func spliceClosure(host *ir.Scope, cfg *ir.CFG, yb *ir.BasicBlock, yield *ir.YieldInstr, block *closureBody) error {
	idx := yb.IndexOf(yield)
	if idx < 0 {
		return errors.Wrapf(ir.ErrInvariant, "cloned yield missing from %s", yb.Label())
	}
	rescuer, ensurer := cfg.RescuerBBFor(yb), cfg.EnsurerBBFor(yb)

	yb.RemoveInstrAt(idx)
	after := cfg.SplitAt(yb, idx)
	cfg.RemoveEdgeOfType(yb, after, ir.EdgeFallThrough)

	args := copyArgs(host, yb, yield.Args)
	ci := newCloner(host)
	// Block-local variables start out nil on every call.
	for _, lv := range block.body.ownLocals {
		yb.AddInstr(&ir.CopyInstr{Result: ci.RenameVariable(lv), Source: ir.Nil})
	}

	s := &splicer{
		cfg:     cfg,
		ci:      ci,
		body:    block.body,
		resume:  after,
		result:  yield.Result,
		rescuer: rescuer,
		ensurer: ensurer,
		receive: receiveFrom(args, ir.Nil),
	}
	return s.run(yb)
}

func copyArgs(host *ir.Scope, bb *ir.BasicBlock, args []ir.Operand) []ir.Operand {
	out := make([]ir.Operand, len(args))
	for i, a := range args {
		if ir.IsConstant(a) {
			out[i] = a
			continue
		}
		t := host.NewNamedTemp("inl_arg")
		bb.AddInstr(&ir.CopyInstr{Result: t, Source: a})
		out[i] = t
	}
	return out
}

// protect installs handlers for a new block and wires its exception edges.
func protect(cfg *ir.CFG, bb, rescuer, ensurer *ir.BasicBlock) {
	cfg.SetRescuerBB(bb, rescuer)
	cfg.SetEnsurerBB(bb, ensurer)
	if !bb.CanRaise() {
		return
	}
	if rescuer != nil {
		cfg.AddEdge(bb, rescuer, ir.EdgeException)
	}
	if ensurer != nil && ensurer != rescuer {
		cfg.AddEdge(bb, ensurer, ir.EdgeException)
	}
}

// keepNames clones instructions without renaming anything.
type keepNames struct{}

func (keepNames) RenameVariable(v ir.Variable) ir.Variable { return v }
func (keepNames) RenameLabel(l *ir.Label) *ir.Label        { return l }
