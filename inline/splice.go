package inline

import (
	"github.com/pkg/errors"

	"github.com/chazu/garnet/ir"
)

// snapshotBody is a copy of a scope's CFG taken under its lock, so the
// host can be mutated without holding two scope locks.
type snapshotBody struct {
	scope   *ir.Scope
	blocks  []snapBlock
	first   ir.BlockID
	exit    ir.BlockID
	regions []*ir.ExceptionRegion

	// yields are the yield instructions whose block is the one the scope
	// received.
	yields    []*ir.YieldInstr
	ownLocals []ir.LocalVariable
	framed    bool
	nonlocal  bool
}

type snapBlock struct {
	id      ir.BlockID
	label   *ir.Label
	instrs  []ir.Instr
	edges   []ir.Edge
	rescuer ir.BlockID
	ensurer ir.BlockID
}

func snapshot(scope *ir.Scope) (*snapshotBody, error) {
	b := &snapshotBody{scope: scope}
	err := scope.View(func(cfg *ir.CFG) error {
		if cfg.GlobalEnsureBB() != nil {
			b.framed = true
		}
		first := cfg.FallThroughSuccessor(cfg.Entry())
		if first == nil {
			return errors.Wrapf(ir.ErrInvariant, "entry of %s has no fall-through successor", scope)
		}
		b.first = first.ID()
		b.exit = cfg.Exit().ID()
		b.regions = cfg.Regions()

		received := make(map[ir.Variable]bool)
		seen := make(map[ir.LocalVariable]bool)
		for _, bb := range cfg.Blocks() {
			if bb == cfg.Entry() || bb == cfg.Exit() {
				continue
			}
			sb := snapBlock{
				id:      bb.ID(),
				label:   bb.Label(),
				instrs:  append([]ir.Instr(nil), bb.Instrs()...),
				edges:   append([]ir.Edge(nil), cfg.OutgoingEdges(bb)...),
				rescuer: ir.NoBlock,
				ensurer: ir.NoBlock,
			}
			if r := cfg.RescuerBBFor(bb); r != nil {
				sb.rescuer = r.ID()
			}
			if e := cfg.EnsurerBBFor(bb); e != nil {
				sb.ensurer = e.ID()
			}
			for _, instr := range sb.instrs {
				switch x := instr.(type) {
				case *ir.ReceiveClosureInstr:
					received[x.Result] = true
				case *ir.PushFrameInstr, *ir.PushBindingInstr:
					b.framed = true
				case *ir.BreakInstr, *ir.NonlocalReturnInstr:
					b.nonlocal = true
				}
				for _, lv := range localsOf(instr) {
					if lv.Depth == 0 && !seen[lv] {
						seen[lv] = true
						b.ownLocals = append(b.ownLocals, lv)
					}
				}
			}
			b.blocks = append(b.blocks, sb)
		}
		for _, sb := range b.blocks {
			for _, instr := range sb.instrs {
				if y, ok := instr.(*ir.YieldInstr); ok {
					if v, ok := y.Block.(ir.Variable); ok && received[v] {
						b.yields = append(b.yields, y)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func localsOf(instr ir.Instr) []ir.LocalVariable {
	var out []ir.LocalVariable
	if lv, ok := ir.ResultOf(instr).(ir.LocalVariable); ok {
		out = append(out, lv)
	}
	for _, v := range ir.UsedVariablesOf(instr) {
		if lv, ok := v.(ir.LocalVariable); ok {
			out = append(out, lv)
		}
	}
	return out
}

// closureBody is a block literal that will replace the callee's yield.
type closureBody struct {
	scope *ir.Scope
	body  *snapshotBody
}

// prepareClosure vets the block literal passed at the call site. A block
// that could break or return through the call refuses the whole inlining;
// one that is merely awkward to splice is left to the yield at run time,
// and nil is returned.
func prepareClosure(host *ir.Scope, wc *ir.WrappedClosure, callee *snapshotBody) (*closureBody, error) {
	c := wc.Closure
	if c.HasClosures() {
		return nil, errors.Wrapf(ErrUnsupportedCallee, "block %s has nested closures", c.Name)
	}
	b, err := snapshot(c)
	if err != nil {
		return nil, err
	}
	if b.nonlocal {
		return nil, errors.Wrapf(ErrUnsupportedCallee, "block %s breaks or returns", c.Name)
	}
	if len(callee.yields) != 1 {
		return nil, nil
	}
	if wc.Lambda || c.Parent() != host || c.RestArgs || c.HasFlag(ir.FlagUsesEval|ir.FlagRequiresFrame) {
		return nil, nil
	}
	// A lone array argument would be splatted over several parameters.
	if len(callee.yields[0].Args) == 1 && c.RequiredArgs+c.OptionalArgs > 1 {
		return nil, nil
	}
	return &closureBody{scope: c, body: b}, nil
}

// cloner renames a spliced body into the host: temporaries and the body's
// own locals become fresh host temporaries, locals of enclosing scopes
// move one level in, and every label is replaced by a fresh host label.
type cloner struct {
	host   *ir.Scope
	vars   map[ir.Variable]ir.Variable
	labels map[*ir.Label]*ir.Label
}

func newCloner(host *ir.Scope) *cloner {
	return &cloner{
		host:   host,
		vars:   make(map[ir.Variable]ir.Variable),
		labels: make(map[*ir.Label]*ir.Label),
	}
}

func (c *cloner) RenameVariable(v ir.Variable) ir.Variable {
	if r, ok := c.vars[v]; ok {
		return r
	}
	var r ir.Variable
	switch x := v.(type) {
	case ir.TemporaryVariable:
		r = c.host.NewNamedTemp(x.Name)
	case ir.LocalVariable:
		if x.Depth == 0 {
			r = c.host.NewNamedTemp(x.Name)
		} else {
			r = ir.LocalVariable{Name: x.Name, Depth: x.Depth - 1, Offset: x.Offset}
		}
	default:
		return v
	}
	c.vars[v] = r
	return r
}

func (c *cloner) RenameLabel(l *ir.Label) *ir.Label {
	if r, ok := c.labels[l]; ok {
		return r
	}
	r := c.host.NewLabel(l.Prefix)
	c.labels[l] = r
	return r
}

// receiver rewrites the argument and block receive instructions of a
// spliced body, returning nil for anything else.
type receiver func(instr ir.Instr, ci *cloner) ir.Instr

func receiveFrom(args []ir.Operand, block ir.Operand) receiver {
	return func(instr ir.Instr, ci *cloner) ir.Instr {
		switch x := instr.(type) {
		case *ir.ReceiveArgInstr:
			var v ir.Operand = ir.Nil
			if x.Index < len(args) {
				v = args[x.Index]
			}
			return &ir.CopyInstr{Result: ci.RenameVariable(x.Result), Source: v}
		case *ir.ReceiveOptArgInstr:
			var v ir.Operand
			if x.Index < len(args) {
				v = args[x.Index]
			} else {
				v = ir.CloneOperand(x.Default, ci)
			}
			return &ir.CopyInstr{Result: ci.RenameVariable(x.Result), Source: v}
		case *ir.ReceiveClosureInstr:
			return &ir.CopyInstr{Result: ci.RenameVariable(x.Result), Source: block}
		}
		return nil
	}
}

// splicer clones one snapshot into the host CFG between a predecessor and
// a resume block.
type splicer struct {
	cfg     *ir.CFG
	ci      *cloner
	body    *snapshotBody
	resume  *ir.BasicBlock
	result  ir.Variable
	rescuer *ir.BasicBlock
	ensurer *ir.BasicBlock
	receive receiver

	// yield is the clone of the body's single block yield, if any.
	yield      *ir.YieldInstr
	yieldBlock *ir.BasicBlock
}

// run clones the blocks, wires them in after from and translates handler
// maps. Blocks the body left unprotected take the call site's handlers.
func (s *splicer) run(from *ir.BasicBlock) error {
	cfg := s.cfg
	blocks := make(map[ir.BlockID]*ir.BasicBlock, len(s.body.blocks))
	ids := make(map[ir.BlockID]ir.BlockID, len(s.body.blocks))
	for _, sb := range s.body.blocks {
		nb := cfg.NewBlock(s.ci.RenameLabel(sb.label))
		blocks[sb.id] = nb
		ids[sb.id] = nb.ID()
	}

	for _, sb := range s.body.blocks {
		nb := blocks[sb.id]
		returns := false
		for _, instr := range sb.instrs {
			if _, ok := instr.(*ir.ReturnInstr); ok {
				returns = true
			}
			s.translate(nb, instr)
		}
		for _, e := range sb.edges {
			switch {
			case e.Type == ir.EdgeException:
			case e.To == s.body.exit:
				if returns {
					cfg.AddEdge(nb, s.resume, ir.EdgeRegular)
				}
			default:
				to, ok := blocks[e.To]
				if !ok {
					return errors.Wrapf(ir.ErrInvariant, "%s of %s has an edge to a missing block", sb.label, s.body.scope)
				}
				cfg.AddEdge(nb, to, e.Type)
			}
		}

		rescuer, ensurer := s.rescuer, s.ensurer
		if sb.rescuer != ir.NoBlock {
			rescuer = blocks[sb.rescuer]
		}
		if sb.ensurer != ir.NoBlock {
			ensurer = blocks[sb.ensurer]
		}
		protect(cfg, nb, rescuer, ensurer)
		if last := nb.LastInstr(); last != nil && rescuer == nil {
			if op := last.Operation(); op == ir.OpRaise || op == ir.OpRethrow {
				cfg.AddEdge(nb, cfg.Exit(), ir.EdgeExit)
			}
		}
	}

	first, ok := blocks[s.body.first]
	if !ok {
		return errors.Wrapf(ir.ErrInvariant, "first block of %s was not cloned", s.body.scope)
	}
	cfg.AddEdge(from, first, ir.EdgeFallThrough)
	for _, r := range s.body.regions {
		cfg.AddRegion(ir.CloneRegion(r, s.ci, ids))
	}
	return nil
}

func (s *splicer) translate(nb *ir.BasicBlock, instr ir.Instr) {
	switch x := instr.(type) {
	case *ir.ReturnInstr:
		if s.result != nil {
			nb.AddInstr(&ir.CopyInstr{Result: s.result, Source: ir.CloneOperand(x.Value, s.ci)})
		}
		nb.AddInstr(&ir.JumpInstr{Target: s.resume.Label()})
		return
	case *ir.CallInstr:
		c := x.Clone(s.ci).(*ir.CallInstr)
		c.SiteID = ir.NextSiteID()
		nb.AddInstr(c)
		return
	case *ir.YieldInstr:
		c := x.Clone(s.ci).(*ir.YieldInstr)
		if len(s.body.yields) == 1 && s.body.yields[0] == x {
			s.yield, s.yieldBlock = c, nb
		}
		nb.AddInstr(c)
		return
	}
	if r := s.receive(instr, s.ci); r != nil {
		nb.AddInstr(r)
		return
	}
	nb.AddInstr(instr.Clone(s.ci))
}
