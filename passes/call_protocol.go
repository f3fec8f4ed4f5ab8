package passes

import (
	"errors"

	"github.com/chazu/garnet/ir"
)

// ErrCallProtocolAlreadyExplicit is returned when CallProtocol runs on a
// scope that already carries explicit push/pop instructions.
var ErrCallProtocolAlreadyExplicit = errors.New("passes: call protocol already explicit")

// CallProtocol makes frame and binding management explicit in the IR.
//
// The binding is kept only when something can observe it; otherwise the
// scope's locals become temporaries. The frame is kept when the scope
// asks for one or has closures, since non-local return and break find
// their target by frame. Pushes go in a new prologue block, pops before
// every return, and a global ensure block pops both on any unwind.
type CallProtocol struct{}

func (CallProtocol) Name() string { return "call_protocol" }

func (CallProtocol) Run(scope *ir.Scope, cfg *ir.CFG) error {
	if scope.HasFlag(ir.FlagCallProtocolExplicit) {
		return ErrCallProtocolAlreadyExplicit
	}
	if scope.Kind != ir.MethodScope && scope.Kind != ir.ModuleBodyScope {
		return nil
	}

	needsBinding := BindingRequired(scope)
	needsFrame := scope.HasFlag(ir.FlagRequiresFrame) || scope.HasClosures()

	if !needsBinding {
		promoteLocals(scope, cfg)
	}
	if needsFrame || needsBinding {
		insertPrologue(scope, cfg, needsFrame, needsBinding)
		insertEpilogues(scope, cfg, needsFrame, needsBinding)
		insertGlobalEnsure(scope, cfg, needsFrame, needsBinding)
	}

	scope.SetFlag(ir.FlagCallProtocolExplicit)
	scope.InvalidateAnalysis(AnalysisLiveVariables)
	return nil
}

// BindingRequired decides whether scope needs a heap binding. With usage
// data it is needed only when a closure touches the scope's locals; without
// it any closure forces one.
func BindingRequired(scope *ir.Scope) bool {
	if scope.HasFlag(ir.FlagUsesEval) || scope.HasFlag(ir.FlagBindingHasEscaped) {
		return true
	}
	if v, ok := scope.Analysis(AnalysisLocalUsage); ok {
		return v.(*LocalUsage).CapturedAny()
	}
	return scope.HasClosures()
}

func promoteLocals(scope *ir.Scope, cfg *ir.CFG) {
	m := make(map[ir.Variable]ir.Variable)
	for _, bb := range cfg.Blocks() {
		for _, instr := range bb.Instrs() {
			forEachLocal(instr, func(lv ir.LocalVariable) {
				if _, done := m[lv]; !done && lv.Depth == 0 {
					m[lv] = scope.NewNamedTemp(lv.Name)
				}
			})
		}
	}
	if len(m) > 0 {
		cfg.RenameVariables(m)
	}
}

func insertPrologue(scope *ir.Scope, cfg *ir.CFG, frame, binding bool) {
	entry := cfg.Entry()
	first := cfg.FallThroughSuccessor(entry)
	prologue := cfg.NewBlock(scope.NewLabel("PROLOGUE"))
	if frame {
		prologue.AddInstr(&ir.PushFrameInstr{})
	}
	if binding {
		prologue.AddInstr(&ir.PushBindingInstr{})
	}
	if first != nil {
		cfg.RemoveEdgeOfType(entry, first, ir.EdgeFallThrough)
		cfg.AddEdge(prologue, first, ir.EdgeFallThrough)
	}
	cfg.AddEdge(entry, prologue, ir.EdgeFallThrough)
}

func insertEpilogues(scope *ir.Scope, cfg *ir.CFG, frame, binding bool) {
	for _, bb := range cfg.Blocks() {
		ret, ok := bb.LastInstr().(*ir.ReturnInstr)
		if !ok {
			continue
		}
		idx := bb.Len() - 1
		if binding && readsLocal(ret.Value) {
			tmp := scope.NewTemp()
			bb.InsertInstr(idx, &ir.CopyInstr{Result: tmp, Source: ret.Value})
			idx++
			bb.ReplaceInstrAt(idx, &ir.ReturnInstr{Value: tmp})
		}
		if frame {
			bb.InsertInstr(idx, &ir.PopFrameInstr{})
		}
		if binding {
			bb.InsertInstr(idx, &ir.PopBindingInstr{})
		}
	}
}

func readsLocal(op ir.Operand) bool {
	for _, v := range ir.UsedVariables(nil, op) {
		if _, ok := v.(ir.LocalVariable); ok {
			return true
		}
	}
	return false
}

func insertGlobalEnsure(scope *ir.Scope, cfg *ir.CFG, frame, binding bool) {
	geb := cfg.NewBlock(scope.NewLabel("GLOBAL_ENSURE"))
	exc := scope.NewTemp()
	geb.AddInstr(&ir.ReceiveExceptionInstr{Result: exc, Any: true})
	if binding {
		geb.AddInstr(&ir.PopBindingInstr{})
	}
	if frame {
		geb.AddInstr(&ir.PopFrameInstr{})
	}
	geb.AddInstr(&ir.RethrowInstr{Exception: exc})
	cfg.AddGlobalEnsureBB(geb)
}
