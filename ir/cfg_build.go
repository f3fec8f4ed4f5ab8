package ir

// Build constructs the CFG of scope from a flat instruction list.
//
// Blocks are split at labels, region markers and after every branch or
// control transfer. Region markers are removed and recorded as
// ExceptionRegions; each block inside a region gets the region's rescue
// block as rescuer and the nearest enclosing ensure block as ensurer. When
// the last block can fall off the end an implicit `return nil` is added.
// Blocks unreachable from entry are deleted.
func Build(scope *Scope, instrs []Instr) (*CFG, error) {
	c := newCFG(scope)
	b := &cfgBuilder{cfg: c, scope: scope, regionOf: make(map[BlockID]*ExceptionRegion)}
	if err := b.split(instrs); err != nil {
		return nil, err
	}
	if err := b.wire(); err != nil {
		return nil, err
	}
	c.removeUnreachable()
	return c, nil
}

type cfgBuilder struct {
	cfg   *CFG
	scope *Scope

	order    []*BasicBlock
	cur      *BasicBlock
	implicit bool
	stack    []*ExceptionRegion
	regionOf map[BlockID]*ExceptionRegion
}

func (b *cfgBuilder) top() *ExceptionRegion {
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}

// startBlock opens a new block. An empty block that was opened implicitly
// is reused instead, taking label if one is given.
func (b *cfgBuilder) startBlock(label *Label) error {
	c := b.cfg
	if label != nil {
		if _, dup := c.labels[label]; dup {
			return invariantf("duplicate label %s in %s", label, b.scope.Name)
		}
	}
	if b.cur != nil && b.cur.IsEmpty() && b.implicit {
		if label != nil {
			delete(c.labels, b.cur.label)
			b.cur.label = label
			c.labels[label] = b.cur.id
			b.implicit = false
		}
		b.regionOf[b.cur.id] = b.top()
		return nil
	}
	b.implicit = label == nil
	if label == nil {
		label = b.scope.NewLabel("_BB")
	}
	b.cur = c.NewBlock(label)
	b.order = append(b.order, b.cur)
	b.regionOf[b.cur.id] = b.top()
	return nil
}

func (b *cfgBuilder) split(instrs []Instr) error {
	if err := b.startBlock(nil); err != nil {
		return err
	}
	for _, instr := range instrs {
		switch in := instr.(type) {
		case *LabelInstr:
			if err := b.startBlock(in.Label); err != nil {
				return err
			}
		case *ExceptionRegionStartInstr:
			r := &ExceptionRegion{
				Start:       in.Begin,
				End:         in.End,
				FirstRescue: in.FirstRescue,
				Ensure:      in.Ensure,
				parent:      b.top(),
			}
			if r.parent != nil {
				r.parent.nested = append(r.parent.nested, r)
			} else {
				b.cfg.AddRegion(r)
			}
			b.stack = append(b.stack, r)
			if err := b.startBlock(nil); err != nil {
				return err
			}
		case *ExceptionRegionEndInstr:
			if len(b.stack) == 0 {
				return invariantf("unbalanced region end in %s", b.scope.Name)
			}
			b.stack = b.stack[:len(b.stack)-1]
			if err := b.startBlock(nil); err != nil {
				return err
			}
		default:
			b.cur.AddInstr(instr)
			b.noteFlags(instr)
			op := instr.Operation()
			if op.TransfersControl() || op.IsBranch() {
				if err := b.startBlock(nil); err != nil {
					return err
				}
			}
		}
	}
	if len(b.stack) != 0 {
		return invariantf("%d unterminated exception regions in %s", len(b.stack), b.scope.Name)
	}
	if last := b.cur.LastInstr(); last == nil || !last.Operation().TransfersControl() {
		b.cur.AddInstr(&ReturnInstr{Value: Nil})
	}
	return nil
}

func (b *cfgBuilder) noteFlags(instr Instr) {
	switch in := instr.(type) {
	case *NonlocalReturnInstr:
		b.scope.SetFlag(FlagHasNonlocalReturn)
	case *BreakInstr:
		b.scope.SetFlag(FlagHasBreak)
	case *YieldInstr:
		b.scope.SetFlag(FlagHasYield)
	case *CallInstr:
		switch in.Name {
		case "eval", "binding":
			b.scope.SetFlag(FlagUsesEval)
		case "block_given?", "__method__", "super":
			b.scope.SetFlag(FlagRequiresFrame)
		}
	}
}

// rescueLabel is the catch target for blocks directly inside r.
func rescueLabel(r *ExceptionRegion) *Label {
	for cur := r; cur != nil; cur = cur.parent {
		if cur.FirstRescue != nil {
			return cur.FirstRescue
		}
		if cur.Ensure != nil {
			return cur.Ensure
		}
	}
	return nil
}

func (b *cfgBuilder) resolve(l *Label) (*BasicBlock, error) {
	bb := b.cfg.BlockByLabel(l)
	if bb == nil {
		return nil, invariantf("unknown label %s in %s", l, b.scope.Name)
	}
	return bb, nil
}

func (b *cfgBuilder) wire() error {
	c := b.cfg
	exit := c.Exit()
	c.AddEdge(c.Entry(), b.order[0], EdgeFallThrough)

	for i, bb := range b.order {
		var next *BasicBlock
		if i+1 < len(b.order) {
			next = b.order[i+1]
		}

		var rescuer, ensurer *BasicBlock
		if r := b.regionOf[bb.id]; r != nil {
			r.blocks = append(r.blocks, bb.id)
			var err error
			if l := rescueLabel(r); l != nil {
				if rescuer, err = b.resolve(l); err != nil {
					return err
				}
				c.SetRescuerBB(bb, rescuer)
			}
			if l := r.ensureLabel(); l != nil {
				if ensurer, err = b.resolve(l); err != nil {
					return err
				}
				c.SetEnsurerBB(bb, ensurer)
			}
		}

		last := bb.LastInstr()
		var op Operation
		if last != nil {
			op = last.Operation()
		}
		switch {
		case last == nil || (!op.TransfersControl() && !op.IsBranch()):
			if next == nil {
				return invariantf("block %s falls off the end of %s", bb.label, b.scope.Name)
			}
			c.AddEdge(bb, next, EdgeFallThrough)
		case op == OpJump || op.IsBranch():
			target, err := b.resolve(last.(JumpTargetInstr).JumpTarget())
			if err != nil {
				return err
			}
			c.AddEdge(bb, target, EdgeRegular)
			if op.IsBranch() {
				c.AddEdge(bb, next, EdgeFallThrough)
			}
		case op == OpReturn || op == OpNonlocalReturn || op == OpBreak:
			c.AddEdge(bb, exit, EdgeExit)
		case op == OpRaise || op == OpRethrow:
			if rescuer == nil {
				c.AddEdge(bb, exit, EdgeExit)
			}
		}

		if bb.CanRaise() {
			if rescuer != nil {
				c.AddEdge(bb, rescuer, EdgeException)
			}
			if ensurer != nil && ensurer != rescuer {
				c.AddEdge(bb, ensurer, EdgeException)
			}
		}
	}
	return nil
}
