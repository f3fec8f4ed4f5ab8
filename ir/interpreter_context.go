package ir

import "fmt"

// InterpreterContext is the immutable, linearized form of a scope that the
// interpreter and the reference JIT backend execute. Every instruction has
// a unique program counter (its index); per-PC tables give the resolved
// jump target and the rescuer/ensurer entry PCs (-1 when there is none).
type InterpreterContext struct {
	Scope        *Scope
	Instrs       []Instr
	JumpPCs      []int
	RescuePCs    []int
	EnsurePCs    []int
	TempCount    int
	CallProtocol bool
	Version      uint64
}

// Len returns the number of instructions.
func (ic *InterpreterContext) Len() int { return len(ic.Instrs) }

// RescuerPC returns the PC of the rescue handler protecting pc, or -1.
func (ic *InterpreterContext) RescuerPC(pc int) int {
	if pc < 0 || pc >= len(ic.RescuePCs) {
		return -1
	}
	return ic.RescuePCs[pc]
}

// EnsurerPC returns the PC of the ensure handler protecting pc, or -1.
func (ic *InterpreterContext) EnsurerPC(pc int) int {
	if pc < 0 || pc >= len(ic.EnsurePCs) {
		return -1
	}
	return ic.EnsurePCs[pc]
}

// PCOf returns the program counter of instr (by identity), or -1.
func (ic *InterpreterContext) PCOf(instr Instr) int {
	for pc, in := range ic.Instrs {
		if in == instr {
			return pc
		}
	}
	return -1
}

// String prints the instruction listing with program counters.
func (ic *InterpreterContext) String() string {
	s := ""
	for pc, instr := range ic.Instrs {
		s += fmt.Sprintf("%4d: %s", pc, instr)
		if r := ic.RescuePCs[pc]; r >= 0 {
			s += fmt.Sprintf("  [rescue %d]", r)
		}
		if e := ic.EnsurePCs[pc]; e >= 0 {
			s += fmt.Sprintf("  [ensure %d]", e)
		}
		s += "\n"
	}
	return s
}

// PrepareForInterpretation linearizes the CFG and resolves labels to PCs.
// An empty block's label resolves to the PC of the next instruction placed
// after it. A rescuer or ensurer block with no instructions is an invariant
// violation, as is a jump to a label that is not in the CFG.
func (c *CFG) PrepareForInterpretation() (*InterpreterContext, error) {
	order := c.Linearize()

	labelPC := make(map[*Label]int, len(order))
	blockPC := make(map[BlockID]int, len(order))
	n := 0
	for _, bb := range order {
		labelPC[bb.label] = n
		blockPC[bb.id] = n
		n += len(bb.instrs)
	}
	// Labels of merged-away blocks still resolve through the label map.
	for l, id := range c.labels {
		if _, ok := labelPC[l]; !ok {
			if pc, ok := blockPC[id]; ok {
				labelPC[l] = pc
			}
		}
	}

	ic := &InterpreterContext{
		Scope:        c.scope,
		Instrs:       make([]Instr, 0, n),
		JumpPCs:      make([]int, 0, n),
		RescuePCs:    make([]int, 0, n),
		EnsurePCs:    make([]int, 0, n),
		TempCount:    c.scope.TempCount(),
		CallProtocol: c.scope.HasFlag(FlagCallProtocolExplicit),
		Version:      c.scope.Version(),
	}

	handlerPC := func(h *BasicBlock, kind string, bb *BasicBlock) (int, error) {
		if h == nil {
			return -1, nil
		}
		if h.IsEmpty() {
			return 0, invariantf("%s block %s of %s is empty", kind, h.label, bb.label)
		}
		pc, ok := blockPC[h.id]
		if !ok {
			return 0, invariantf("%s block %s of %s was not linearized", kind, h.label, bb.label)
		}
		return pc, nil
	}

	for _, bb := range order {
		rescuePC, err := handlerPC(c.RescuerBBFor(bb), "rescuer", bb)
		if err != nil {
			return nil, err
		}
		ensurePC, err := handlerPC(c.EnsurerBBFor(bb), "ensurer", bb)
		if err != nil {
			return nil, err
		}
		for _, instr := range bb.instrs {
			jumpPC := -1
			if jt, ok := instr.(JumpTargetInstr); ok {
				pc, ok := labelPC[jt.JumpTarget()]
				if !ok {
					return nil, invariantf("%s in %s jumps to unknown label", instr, bb.label)
				}
				jumpPC = pc
			}
			ic.Instrs = append(ic.Instrs, instr)
			ic.JumpPCs = append(ic.JumpPCs, jumpPC)
			ic.RescuePCs = append(ic.RescuePCs, rescuePC)
			ic.EnsurePCs = append(ic.EnsurePCs, ensurePC)
		}
	}
	return ic, nil
}
