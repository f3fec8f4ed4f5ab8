package passes

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/chazu/garnet/ir"
)

// DeadCopyElimination removes copies into temporaries that are never read
// afterwards. Locals are left alone since a binding may expose them.
type DeadCopyElimination struct{}

func (DeadCopyElimination) Name() string { return "dead_copy_elimination" }

func (DeadCopyElimination) Run(scope *ir.Scope, cfg *ir.CFG) error {
	var live *Liveness
	if v, ok := scope.Analysis(AnalysisLiveVariables); ok {
		live = v.(*Liveness)
	} else {
		live = ComputeLiveness(cfg)
	}

	removed := 0
	for _, bb := range cfg.Blocks() {
		out := live.liveOut[bb.ID()]
		if out == nil {
			continue
		}
		var dead []int
		live.transfer(cfg, bb, out.Clone(), func(idx int, after *bitset.BitSet) {
			cp, ok := bb.Instrs()[idx].(*ir.CopyInstr)
			if !ok {
				return
			}
			tmp, ok := cp.Result.(ir.TemporaryVariable)
			if ok && !after.Test(live.index[tmp]) {
				dead = append(dead, idx)
			}
		})
		// dead is in descending index order. Handler entries must keep an
		// instruction.
		if len(dead) > 0 && len(dead) == bb.Len() && cfg.IsHandlerEntry(bb) {
			dead = dead[1:]
		}
		for _, idx := range dead {
			bb.RemoveInstrAt(idx)
		}
		removed += len(dead)
	}
	if removed > 0 {
		scope.InvalidateAnalysis(AnalysisLiveVariables)
	}
	return nil
}
