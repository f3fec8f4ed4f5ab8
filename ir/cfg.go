package ir

import (
	"sort"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// EdgeType classifies a CFG edge.
type EdgeType uint8

const (
	EdgeRegular EdgeType = iota
	EdgeException
	EdgeFallThrough
	EdgeExit
)

func (t EdgeType) String() string {
	switch t {
	case EdgeRegular:
		return "REGULAR"
	case EdgeException:
		return "EXCEPTION"
	case EdgeFallThrough:
		return "FALL_THROUGH"
	case EdgeExit:
		return "EXIT"
	}
	return "UNKNOWN"
}

// Edge is a typed, directed edge between two blocks of the same CFG.
type Edge struct {
	From BlockID
	To   BlockID
	Type EdgeType
}

// CFG is the control-flow graph of one scope. Blocks live in an arena
// indexed by BlockID; removed blocks leave a nil slot so ids stay stable.
type CFG struct {
	scope *Scope

	blocks []*BasicBlock
	out    [][]Edge
	in     [][]Edge
	labels map[*Label]BlockID

	entry BlockID
	exit  BlockID
	geb   BlockID

	rescuers map[BlockID]BlockID
	ensurers map[BlockID]BlockID
	regions  []*ExceptionRegion

	linearized []*BasicBlock
}

func newCFG(scope *Scope) *CFG {
	c := &CFG{
		scope:    scope,
		labels:   make(map[*Label]BlockID),
		rescuers: make(map[BlockID]BlockID),
		ensurers: make(map[BlockID]BlockID),
		geb:      NoBlock,
	}
	c.entry = c.NewBlock(scope.NewLabel("_ENTRY")).id
	c.exit = c.NewBlock(scope.NewLabel("_EXIT")).id
	return c
}

// Scope returns the owning scope.
func (c *CFG) Scope() *Scope { return c.scope }

// Entry returns the distinguished entry block.
func (c *CFG) Entry() *BasicBlock { return c.blocks[c.entry] }

// Exit returns the distinguished exit block.
func (c *CFG) Exit() *BasicBlock { return c.blocks[c.exit] }

// GlobalEnsureBB returns the global ensure block, or nil.
func (c *CFG) GlobalEnsureBB() *BasicBlock {
	if c.geb == NoBlock {
		return nil
	}
	return c.blocks[c.geb]
}

// IsSpecial reports whether bb is the entry, exit or global ensure block.
func (c *CFG) IsSpecial(bb *BasicBlock) bool {
	return bb.id == c.entry || bb.id == c.exit || bb.id == c.geb
}

// NewBlock adds an empty block named by label.
func (c *CFG) NewBlock(label *Label) *BasicBlock {
	bb := &BasicBlock{id: BlockID(len(c.blocks)), label: label}
	c.blocks = append(c.blocks, bb)
	c.out = append(c.out, nil)
	c.in = append(c.in, nil)
	c.labels[label] = bb.id
	c.invalidateLinearization()
	return bb
}

// Block returns the live block with the given id, or nil.
func (c *CFG) Block(id BlockID) *BasicBlock {
	if id < 0 || int(id) >= len(c.blocks) {
		return nil
	}
	return c.blocks[id]
}

// BlockByLabel resolves a label to its block, or nil.
func (c *CFG) BlockByLabel(l *Label) *BasicBlock {
	id, ok := c.labels[l]
	if !ok {
		return nil
	}
	return c.blocks[id]
}

// Blocks returns the live blocks in id order.
func (c *CFG) Blocks() []*BasicBlock {
	out := make([]*BasicBlock, 0, len(c.blocks))
	for _, bb := range c.blocks {
		if bb != nil {
			out = append(out, bb)
		}
	}
	return out
}

// BlockCount returns the number of live blocks.
func (c *CFG) BlockCount() int {
	n := 0
	for _, bb := range c.blocks {
		if bb != nil {
			n++
		}
	}
	return n
}

// MaxID returns one past the largest block id ever allocated.
func (c *CFG) MaxID() int { return len(c.blocks) }

// InstrCount returns the number of instructions over all live blocks.
func (c *CFG) InstrCount() int {
	n := 0
	for _, bb := range c.blocks {
		if bb != nil {
			n += len(bb.instrs)
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

// AddEdge adds a typed edge. Duplicate edges are ignored.
func (c *CFG) AddEdge(from, to *BasicBlock, t EdgeType) {
	for _, e := range c.out[from.id] {
		if e.To == to.id && e.Type == t {
			return
		}
	}
	e := Edge{From: from.id, To: to.id, Type: t}
	c.out[from.id] = append(c.out[from.id], e)
	c.in[to.id] = append(c.in[to.id], e)
	c.invalidateLinearization()
}

// RemoveEdge removes every edge from -> to regardless of type.
func (c *CFG) RemoveEdge(from, to *BasicBlock) {
	c.out[from.id] = filterEdges(c.out[from.id], func(e Edge) bool { return e.To != to.id })
	c.in[to.id] = filterEdges(c.in[to.id], func(e Edge) bool { return e.From != from.id })
	c.invalidateLinearization()
}

// RemoveEdgeOfType removes the from -> to edge of type t.
func (c *CFG) RemoveEdgeOfType(from, to *BasicBlock, t EdgeType) {
	c.out[from.id] = filterEdges(c.out[from.id], func(e Edge) bool { return e.To != to.id || e.Type != t })
	c.in[to.id] = filterEdges(c.in[to.id], func(e Edge) bool { return e.From != from.id || e.Type != t })
	c.invalidateLinearization()
}

// RemoveAllOutgoingEdges detaches every successor of bb.
func (c *CFG) RemoveAllOutgoingEdges(bb *BasicBlock) {
	for _, e := range c.out[bb.id] {
		c.in[e.To] = filterEdges(c.in[e.To], func(x Edge) bool { return x.From != bb.id })
	}
	c.out[bb.id] = nil
	c.invalidateLinearization()
}

// retypeEdge changes the type of the from -> to edge of type old.
func (c *CFG) retypeEdge(from, to BlockID, old, t EdgeType) {
	for i, e := range c.out[from] {
		if e.To == to && e.Type == old {
			c.out[from][i].Type = t
		}
	}
	for i, e := range c.in[to] {
		if e.From == from && e.Type == old {
			c.in[to][i].Type = t
		}
	}
}

func filterEdges(edges []Edge, keep func(Edge) bool) []Edge {
	out := edges[:0:0]
	for _, e := range edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// OutgoingEdges returns bb's outgoing edges in insertion order.
func (c *CFG) OutgoingEdges(bb *BasicBlock) []Edge { return c.out[bb.id] }

// IncomingEdges returns bb's incoming edges in insertion order.
func (c *CFG) IncomingEdges(bb *BasicBlock) []Edge { return c.in[bb.id] }

// Successors returns the distinct successors of bb in edge order.
func (c *CFG) Successors(bb *BasicBlock) []*BasicBlock {
	return c.distinct(c.out[bb.id], func(e Edge) BlockID { return e.To })
}

// Predecessors returns the distinct predecessors of bb in edge order.
func (c *CFG) Predecessors(bb *BasicBlock) []*BasicBlock {
	return c.distinct(c.in[bb.id], func(e Edge) BlockID { return e.From })
}

func (c *CFG) distinct(edges []Edge, end func(Edge) BlockID) []*BasicBlock {
	var out []*BasicBlock
	seen := make(map[BlockID]bool, len(edges))
	for _, e := range edges {
		id := end(e)
		if !seen[id] {
			seen[id] = true
			out = append(out, c.blocks[id])
		}
	}
	return out
}

// FallThroughSuccessor returns the block bb falls into, or nil.
func (c *CFG) FallThroughSuccessor(bb *BasicBlock) *BasicBlock {
	for _, e := range c.out[bb.id] {
		if e.Type == EdgeFallThrough {
			return c.blocks[e.To]
		}
	}
	return nil
}

// HasEdge reports whether an edge from -> to of type t exists.
func (c *CFG) HasEdge(from, to *BasicBlock, t EdgeType) bool {
	for _, e := range c.out[from.id] {
		if e.To == to.id && e.Type == t {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Rescuer / ensurer maps
// ---------------------------------------------------------------------------

// RescuerBBFor returns the block protecting bb against guest exceptions.
func (c *CFG) RescuerBBFor(bb *BasicBlock) *BasicBlock {
	if id, ok := c.rescuers[bb.id]; ok {
		return c.blocks[id]
	}
	return nil
}

// EnsurerBBFor returns the block running bb's ensure code on any unwind.
func (c *CFG) EnsurerBBFor(bb *BasicBlock) *BasicBlock {
	if id, ok := c.ensurers[bb.id]; ok {
		return c.blocks[id]
	}
	return nil
}

// SetRescuerBB sets (or, with nil, clears) bb's rescuer.
func (c *CFG) SetRescuerBB(bb, rescuer *BasicBlock) {
	if rescuer == nil {
		delete(c.rescuers, bb.id)
		return
	}
	c.rescuers[bb.id] = rescuer.id
}

// SetEnsurerBB sets (or, with nil, clears) bb's ensurer.
func (c *CFG) SetEnsurerBB(bb, ensurer *BasicBlock) {
	if ensurer == nil {
		delete(c.ensurers, bb.id)
		return
	}
	c.ensurers[bb.id] = ensurer.id
}

// IsHandlerEntry reports whether some block uses bb as rescuer or ensurer.
func (c *CFG) IsHandlerEntry(bb *BasicBlock) bool {
	for _, r := range c.rescuers {
		if r == bb.id {
			return true
		}
	}
	for _, e := range c.ensurers {
		if e == bb.id {
			return true
		}
	}
	return false
}

// AddGlobalEnsureBB installs geb as the catch-all handler: it becomes the
// rescuer of every block without one and the ensurer of every block without
// one. It must be called after all protected regions are known.
func (c *CFG) AddGlobalEnsureBB(geb *BasicBlock) {
	c.geb = geb.id
	for _, bb := range c.blocks {
		if bb == nil || c.IsSpecial(bb) {
			continue
		}
		if _, ok := c.rescuers[bb.id]; !ok {
			c.rescuers[bb.id] = geb.id
		}
		if _, ok := c.ensurers[bb.id]; !ok {
			c.ensurers[bb.id] = geb.id
		}
		if bb.CanRaise() {
			c.AddEdge(bb, geb, EdgeException)
		}
	}
	c.AddEdge(geb, c.Exit(), EdgeExit)
	c.invalidateLinearization()
}

// Regions returns the outermost exception regions.
func (c *CFG) Regions() []*ExceptionRegion { return c.regions }

// AddRegion records an outermost exception region.
func (c *CFG) AddRegion(r *ExceptionRegion) { c.regions = append(c.regions, r) }

// ---------------------------------------------------------------------------
// Reachability
// ---------------------------------------------------------------------------

func (c *CFG) reachableFrom(start BlockID, forward bool) *bitset.BitSet {
	seen := bitset.New(uint(len(c.blocks)))
	work := []BlockID{start}
	seen.Set(uint(start))
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		edges := c.out[id]
		if !forward {
			edges = c.in[id]
		}
		for _, e := range edges {
			next := e.To
			if !forward {
				next = e.From
			}
			if !seen.Test(uint(next)) {
				seen.Set(uint(next))
				work = append(work, next)
			}
		}
	}
	return seen
}

// Reachable returns the set of block ids reachable from entry.
func (c *CFG) Reachable() *bitset.BitSet {
	return c.reachableFrom(c.entry, true)
}

// DeadEnds returns the blocks reachable from entry that cannot reach exit.
func (c *CFG) DeadEnds() []*BasicBlock {
	fwd := c.reachableFrom(c.entry, true)
	bwd := c.reachableFrom(c.exit, false)
	var out []*BasicBlock
	for i, ok := fwd.NextSet(0); ok; i, ok = fwd.NextSet(i + 1) {
		if !bwd.Test(i) && c.blocks[i] != nil {
			out = append(out, c.blocks[i])
		}
	}
	return out
}

// RemoveBlock deletes bb with all its edges and handler map entries.
func (c *CFG) RemoveBlock(bb *BasicBlock) {
	id := bb.id
	for _, e := range c.out[id] {
		c.in[e.To] = filterEdges(c.in[e.To], func(x Edge) bool { return x.From != id })
	}
	for _, e := range c.in[id] {
		c.out[e.From] = filterEdges(c.out[e.From], func(x Edge) bool { return x.To != id })
	}
	c.out[id] = nil
	c.in[id] = nil
	delete(c.rescuers, id)
	delete(c.ensurers, id)
	for k, v := range c.rescuers {
		if v == id {
			delete(c.rescuers, k)
		}
	}
	for k, v := range c.ensurers {
		if v == id {
			delete(c.ensurers, k)
		}
	}
	if c.labels[bb.label] == id {
		delete(c.labels, bb.label)
	}
	if c.geb == id {
		c.geb = NoBlock
	}
	c.blocks[id] = nil
	c.invalidateLinearization()
}

// removeUnreachable deletes every block not reachable from entry, except
// exit.
func (c *CFG) removeUnreachable() {
	live := c.Reachable()
	for _, bb := range c.blocks {
		if bb == nil || bb.id == c.exit || live.Test(uint(bb.id)) {
			continue
		}
		c.RemoveBlock(bb)
	}
}

func (c *CFG) invalidateLinearization() {
	c.linearized = nil
}

// String dumps the CFG in id order.
func (c *CFG) String() string {
	var sb strings.Builder
	for _, bb := range c.Blocks() {
		sb.WriteString(bb.String())
		edges := append([]Edge(nil), c.out[bb.id]...)
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
		for _, e := range edges {
			sb.WriteString("  -> ")
			sb.WriteString(c.blocks[e.To].label.String())
			sb.WriteString(" (")
			sb.WriteString(e.Type.String())
			sb.WriteString(")\n")
		}
		if r := c.RescuerBBFor(bb); r != nil {
			sb.WriteString("  rescuer ")
			sb.WriteString(r.label.String())
			sb.WriteString("\n")
		}
		if e := c.EnsurerBBFor(bb); e != nil {
			sb.WriteString("  ensurer ")
			sb.WriteString(e.label.String())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
