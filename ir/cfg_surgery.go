package ir

// ---------------------------------------------------------------------------
// Splitting
// ---------------------------------------------------------------------------

// SplitAt moves bb's instructions from idx onwards into a new block that
// inherits bb's outgoing edges and handlers. bb falls through into it.
func (c *CFG) SplitAt(bb *BasicBlock, idx int) *BasicBlock {
	tail := c.NewBlock(c.scope.NewLabel("_SPLIT"))
	tail.setInstrs(bb.instrs[idx:])
	bb.instrs = bb.instrs[:idx:idx]

	for _, e := range c.out[bb.id] {
		c.in[e.To] = filterEdges(c.in[e.To], func(x Edge) bool { return x.From != bb.id })
		moved := Edge{From: tail.id, To: e.To, Type: e.Type}
		c.out[tail.id] = append(c.out[tail.id], moved)
		c.in[e.To] = append(c.in[e.To], moved)
	}
	c.out[bb.id] = nil

	if r, ok := c.rescuers[bb.id]; ok {
		c.rescuers[tail.id] = r
	}
	if e, ok := c.ensurers[bb.id]; ok {
		c.ensurers[tail.id] = e
	}
	c.AddEdge(bb, tail, EdgeFallThrough)
	if bb.CanRaise() {
		for _, h := range []*BasicBlock{c.RescuerBBFor(bb), c.EnsurerBBFor(bb)} {
			if h != nil {
				c.AddEdge(bb, h, EdgeException)
			}
		}
	}
	return tail
}

// ---------------------------------------------------------------------------
// Merging
// ---------------------------------------------------------------------------

// normalSuccessorEdges returns the non-exception outgoing edges of bb.
func (c *CFG) normalSuccessorEdges(bb *BasicBlock) []Edge {
	var out []Edge
	for _, e := range c.out[bb.id] {
		if e.Type != EdgeException {
			out = append(out, e)
		}
	}
	return out
}

func (c *CFG) normalPredecessorEdges(bb *BasicBlock) []Edge {
	var out []Edge
	for _, e := range c.in[bb.id] {
		if e.Type != EdgeException {
			out = append(out, e)
		}
	}
	return out
}

// mergeCheck returns nil when a and b can be merged into one block.
func (c *CFG) mergeCheck(a, b *BasicBlock) error {
	if a == b {
		return invariantf("illegal merge: %s with itself", a.label)
	}
	if c.IsSpecial(a) || c.IsSpecial(b) {
		return invariantf("illegal merge: %s -> %s involves entry, exit or global ensure", a.label, b.label)
	}
	succs := c.normalSuccessorEdges(a)
	if len(succs) != 1 || succs[0].To != b.id {
		return invariantf("illegal merge: %s has %d normal successors", a.label, len(succs))
	}
	switch succs[0].Type {
	case EdgeFallThrough:
	case EdgeRegular:
		j, ok := a.LastInstr().(*JumpInstr)
		if !ok || j.Target != b.label {
			return invariantf("illegal merge: %s -> %s is a regular edge without a jump", a.label, b.label)
		}
	default:
		return invariantf("illegal merge: %s -> %s is a %s edge", a.label, b.label, succs[0].Type)
	}
	if preds := c.normalPredecessorEdges(b); len(preds) != 1 {
		return invariantf("illegal merge: %s has %d normal predecessors", b.label, len(preds))
	}
	if c.IsHandlerEntry(b) {
		return invariantf("illegal merge: %s is a handler entry", b.label)
	}
	if a.IsEmpty() || b.IsEmpty() {
		return nil
	}
	if c.rescuerID(a) != c.rescuerID(b) || c.ensurerID(a) != c.ensurerID(b) {
		return invariantf("illegal merge: %s and %s have different handlers", a.label, b.label)
	}
	return nil
}

func (c *CFG) rescuerID(bb *BasicBlock) BlockID {
	if id, ok := c.rescuers[bb.id]; ok {
		return id
	}
	return NoBlock
}

func (c *CFG) ensurerID(bb *BasicBlock) BlockID {
	if id, ok := c.ensurers[bb.id]; ok {
		return id
	}
	return NoBlock
}

// CanMerge reports whether MergeStraightlineBBs(a, b) would succeed.
func (c *CFG) CanMerge(a, b *BasicBlock) bool {
	return c.mergeCheck(a, b) == nil
}

// MergeStraightlineBBs appends b to a and removes b. It is legal only when
// a's single non-exception successor is b, b's single non-exception
// predecessor is a, b is not a handler entry, and both blocks have the same
// rescuer and ensurer unless one of them has no instructions. Anything else
// would silently change exception routing, so it is an invariant error.
func (c *CFG) MergeStraightlineBBs(a, b *BasicBlock) error {
	if err := c.mergeCheck(a, b); err != nil {
		return err
	}
	if j, ok := a.LastInstr().(*JumpInstr); ok && j.Target == b.label {
		a.instrs = a.instrs[:len(a.instrs)-1]
	}
	if a.IsEmpty() {
		c.copyHandlers(b, a)
	}
	a.instrs = append(a.instrs, b.instrs...)

	c.RemoveEdge(a, b)
	for _, e := range c.out[b.id] {
		to := c.blocks[e.To]
		if to == b {
			to = a
		}
		c.AddEdge(a, to, e.Type)
	}
	label := b.label
	c.RemoveBlock(b)
	c.labels[label] = a.id

	if a.CanRaise() {
		for _, h := range []*BasicBlock{c.RescuerBBFor(a), c.EnsurerBBFor(a)} {
			if h != nil {
				c.AddEdge(a, h, EdgeException)
			}
		}
	}
	return nil
}

func (c *CFG) copyHandlers(from, to *BasicBlock) {
	if r, ok := c.rescuers[from.id]; ok {
		c.rescuers[to.id] = r
	} else {
		delete(c.rescuers, to.id)
	}
	if e, ok := c.ensurers[from.id]; ok {
		c.ensurers[to.id] = e
	} else {
		delete(c.ensurers, to.id)
	}
}

// CollapseStraightLineBBs merges every legal straight-line pair until none
// is left. It returns the number of merges.
func (c *CFG) CollapseStraightLineBBs() int {
	merged := 0
	for changed := true; changed; {
		changed = false
		for _, a := range c.blocks {
			if a == nil || c.IsSpecial(a) {
				continue
			}
			for {
				succs := c.normalSuccessorEdges(a)
				if len(succs) != 1 {
					break
				}
				b := c.blocks[succs[0].To]
				if !c.CanMerge(a, b) {
					break
				}
				// CanMerge already checked every precondition.
				_ = c.MergeStraightlineBBs(a, b)
				merged++
				changed = true
			}
		}
	}
	return merged
}

// ---------------------------------------------------------------------------
// Renaming
// ---------------------------------------------------------------------------

type renameCloner struct {
	vars map[Variable]Variable
}

func (r renameCloner) RenameVariable(v Variable) Variable {
	if n, ok := r.vars[v]; ok {
		return n
	}
	return v
}

func (r renameCloner) RenameLabel(l *Label) *Label { return l }

// RenameVariables replaces every instruction that mentions a variable in m
// by a renamed copy. Instructions are replaced rather than rewritten in
// place because published interpreter contexts may share them.
func (c *CFG) RenameVariables(m map[Variable]Variable) {
	rc := renameCloner{vars: m}
	for _, bb := range c.blocks {
		if bb == nil {
			continue
		}
		for i, instr := range bb.instrs {
			if mentionsAny(instr, m) {
				bb.instrs[i] = instr.Clone(rc)
			}
		}
	}
	c.invalidateLinearization()
}

func mentionsAny(instr Instr, m map[Variable]Variable) bool {
	if v := ResultOf(instr); v != nil {
		if _, ok := m[v]; ok {
			return true
		}
	}
	for _, v := range UsedVariablesOf(instr) {
		if _, ok := m[v]; ok {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the structural invariants: edges connect live blocks and
// are mirrored, exit has no successors, handler maps point at live blocks,
// control transfers only end blocks, and every jump target resolves to a
// successor.
func (c *CFG) Validate() error {
	if c.blocks[c.entry] == nil || c.blocks[c.exit] == nil {
		return invariantf("missing entry or exit block")
	}
	if len(c.out[c.exit]) != 0 {
		return invariantf("exit block has %d outgoing edges", len(c.out[c.exit]))
	}
	for _, bb := range c.blocks {
		if bb == nil {
			continue
		}
		for _, e := range c.out[bb.id] {
			if c.Block(e.To) == nil {
				return invariantf("dangling edge %s -> #%d", bb.label, e.To)
			}
			if !containsEdge(c.in[e.To], e) {
				return invariantf("edge %s -> %s not mirrored", bb.label, c.blocks[e.To].label)
			}
		}
		for _, e := range c.in[bb.id] {
			if c.Block(e.From) == nil {
				return invariantf("dangling edge #%d -> %s", e.From, bb.label)
			}
		}
		for i, instr := range bb.instrs {
			op := instr.Operation()
			if op.IsMarker() {
				return invariantf("marker %s left in %s", instr, bb.label)
			}
			if i != len(bb.instrs)-1 && (op.TransfersControl() || op.IsBranch()) {
				// Linearization may place a jump right after a branch.
				_, jumpNext := bb.instrs[i+1].(*JumpInstr)
				if !op.IsBranch() || !jumpNext || i+2 != len(bb.instrs) {
					return invariantf("%s in the middle of %s", instr, bb.label)
				}
			}
			if jt, ok := instr.(JumpTargetInstr); ok {
				target := c.BlockByLabel(jt.JumpTarget())
				if target == nil {
					return invariantf("%s in %s jumps to an unknown label", instr, bb.label)
				}
				if !c.HasEdge(bb, target, EdgeRegular) {
					return invariantf("%s in %s has no matching edge", instr, bb.label)
				}
			}
		}
	}
	for from, to := range c.rescuers {
		if c.Block(from) == nil || c.Block(to) == nil {
			return invariantf("rescuer map entry #%d -> #%d names a removed block", from, to)
		}
	}
	for from, to := range c.ensurers {
		if c.Block(from) == nil || c.Block(to) == nil {
			return invariantf("ensurer map entry #%d -> #%d names a removed block", from, to)
		}
	}
	return nil
}

func containsEdge(edges []Edge, e Edge) bool {
	for _, x := range edges {
		if x == e {
			return true
		}
	}
	return false
}
