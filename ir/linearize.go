package ir

import "github.com/bits-and-blooms/bitset"

// Linearize orders the blocks for execution. The walk is depth first and
// always continues into a block's fall-through successor (or, failing that,
// its jump target) so straight-line code stays contiguous; the exit block
// comes last. A fall-through successor that cannot be placed directly after
// its predecessor gets an explicit jump and the edge is retyped REGULAR.
//
// The order is cached until the CFG changes, and recomputing it after the
// fix-ups yields the same order.
func (c *CFG) Linearize() []*BasicBlock {
	if c.linearized != nil {
		return c.linearized
	}

	visited := bitset.New(uint(len(c.blocks)))
	order := make([]*BasicBlock, 0, len(c.blocks))
	stack := []BlockID{c.entry}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Test(uint(id)) {
			continue
		}
		visited.Set(uint(id))
		bb := c.blocks[id]
		if id != c.exit {
			order = append(order, bb)
		}

		preferred := c.preferredSuccessor(bb)
		edges := c.out[id]
		for i := len(edges) - 1; i >= 0; i-- {
			to := edges[i].To
			if to == preferred || to == c.exit || visited.Test(uint(to)) {
				continue
			}
			stack = append(stack, to)
		}
		if preferred != NoBlock && preferred != c.exit && !visited.Test(uint(preferred)) {
			stack = append(stack, preferred)
		}
	}

	// Handler blocks are normally reached through exception edges; anything
	// still unplaced goes at the end in id order so its labels resolve.
	for _, bb := range c.blocks {
		if bb != nil && bb.id != c.exit && !visited.Test(uint(bb.id)) {
			order = append(order, bb)
		}
	}
	order = append(order, c.blocks[c.exit])

	for i, bb := range order[:len(order)-1] {
		ft := c.FallThroughSuccessor(bb)
		if ft == nil || order[i+1] == ft {
			continue
		}
		bb.AddInstr(&JumpInstr{Target: ft.label})
		c.retypeEdge(bb.id, ft.id, EdgeFallThrough, EdgeRegular)
	}

	c.linearized = order
	return order
}

// preferredSuccessor is the block that should follow bb in the layout.
func (c *CFG) preferredSuccessor(bb *BasicBlock) BlockID {
	for _, e := range c.out[bb.id] {
		if e.Type == EdgeFallThrough {
			return e.To
		}
	}
	if j, ok := bb.LastInstr().(*JumpInstr); ok {
		if id, ok := c.labels[j.Target]; ok {
			return id
		}
	}
	return NoBlock
}
