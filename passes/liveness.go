package passes

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/chazu/garnet/ir"
)

// AnalysisLiveVariables is the scope analysis key of *Liveness.
const AnalysisLiveVariables = "live_variables"

// Liveness is the solution of backward live-variable analysis over a CFG.
// Variables are numbered densely; sets are bitsets over those numbers.
type Liveness struct {
	index   map[ir.Variable]uint
	vars    []ir.Variable
	liveIn  map[ir.BlockID]*bitset.BitSet
	liveOut map[ir.BlockID]*bitset.BitSet
}

// LiveIn returns the variables live on entry to bb.
func (l *Liveness) LiveIn(bb *ir.BasicBlock) []ir.Variable { return l.decode(l.liveIn[bb.ID()]) }

// LiveOut returns the variables live on exit from bb.
func (l *Liveness) LiveOut(bb *ir.BasicBlock) []ir.Variable { return l.decode(l.liveOut[bb.ID()]) }

// IsLiveOut reports whether v is live on exit from bb.
func (l *Liveness) IsLiveOut(bb *ir.BasicBlock, v ir.Variable) bool {
	i, ok := l.index[v]
	set := l.liveOut[bb.ID()]
	return ok && set != nil && set.Test(i)
}

func (l *Liveness) decode(set *bitset.BitSet) []ir.Variable {
	if set == nil {
		return nil
	}
	var out []ir.Variable
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		out = append(out, l.vars[i])
	}
	return out
}

func (l *Liveness) id(v ir.Variable) uint {
	if i, ok := l.index[v]; ok {
		return i
	}
	i := uint(len(l.vars))
	l.index[v] = i
	l.vars = append(l.vars, v)
	return i
}

func (l *Liveness) newSet() *bitset.BitSet { return bitset.New(uint(len(l.vars))) }

// LiveVariables computes Liveness and stores it on the scope. Self and
// locals of outer scopes are not tracked.
type LiveVariables struct{}

func (LiveVariables) Name() string { return "live_variables" }

func (LiveVariables) Run(scope *ir.Scope, cfg *ir.CFG) error {
	scope.SetAnalysis(AnalysisLiveVariables, ComputeLiveness(cfg))
	return nil
}

func tracked(v ir.Variable) bool {
	switch x := v.(type) {
	case ir.TemporaryVariable:
		return true
	case ir.LocalVariable:
		return x.Depth == 0
	}
	return false
}

// ComputeLiveness solves liveness for cfg. An instruction that can raise
// also keeps alive everything live into its rescuer and ensurer.
func ComputeLiveness(cfg *ir.CFG) *Liveness {
	l := &Liveness{
		index:   make(map[ir.Variable]uint),
		liveIn:  make(map[ir.BlockID]*bitset.BitSet),
		liveOut: make(map[ir.BlockID]*bitset.BitSet),
	}
	blocks := cfg.Blocks()
	for _, bb := range blocks {
		for _, instr := range bb.Instrs() {
			if v := ir.ResultOf(instr); v != nil && tracked(v) {
				l.id(v)
			}
			for _, v := range ir.UsedVariablesOf(instr) {
				if tracked(v) {
					l.id(v)
				}
			}
		}
	}
	for _, bb := range blocks {
		l.liveIn[bb.ID()] = l.newSet()
		l.liveOut[bb.ID()] = l.newSet()
	}

	for changed := true; changed; {
		changed = false
		for i := len(blocks) - 1; i >= 0; i-- {
			bb := blocks[i]
			out := l.newSet()
			for _, succ := range cfg.Successors(bb) {
				out.InPlaceUnion(l.liveIn[succ.ID()])
			}
			in := l.transfer(cfg, bb, out.Clone(), nil)
			if !out.Equal(l.liveOut[bb.ID()]) || !in.Equal(l.liveIn[bb.ID()]) {
				l.liveOut[bb.ID()] = out
				l.liveIn[bb.ID()] = in
				changed = true
			}
		}
	}
	return l
}

// transfer walks bb backwards from live (the live-out set) and returns the
// live-in set. visit, when set, sees each instruction with the set live
// right after it.
func (l *Liveness) transfer(cfg *ir.CFG, bb *ir.BasicBlock, live *bitset.BitSet, visit func(idx int, liveAfter *bitset.BitSet)) *bitset.BitSet {
	instrs := bb.Instrs()
	handlers := l.handlerLiveIn(cfg, bb)
	for idx := len(instrs) - 1; idx >= 0; idx-- {
		instr := instrs[idx]
		if instr.Operation().CanRaise() && handlers != nil {
			live.InPlaceUnion(handlers)
		}
		if visit != nil {
			visit(idx, live)
		}
		if v := ir.ResultOf(instr); v != nil && tracked(v) {
			live.Clear(l.index[v])
		}
		for _, v := range ir.UsedVariablesOf(instr) {
			if tracked(v) {
				live.Set(l.index[v])
			}
		}
	}
	return live
}

func (l *Liveness) handlerLiveIn(cfg *ir.CFG, bb *ir.BasicBlock) *bitset.BitSet {
	var set *bitset.BitSet
	for _, h := range []*ir.BasicBlock{cfg.RescuerBBFor(bb), cfg.EnsurerBBFor(bb)} {
		if h == nil {
			continue
		}
		if in := l.liveIn[h.ID()]; in != nil {
			if set == nil {
				set = l.newSet()
			}
			set.InPlaceUnion(in)
		}
	}
	return set
}
