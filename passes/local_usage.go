package passes

import "github.com/chazu/garnet/ir"

// AnalysisLocalUsage is the scope analysis key of *LocalUsage.
const AnalysisLocalUsage = "local_variable_usage"

// LocalUsage records which of a scope's own locals are touched, and which
// of them nested closures reach.
type LocalUsage struct {
	// Used holds the depth-0 locals the scope itself reads or writes.
	Used map[ir.LocalVariable]bool
	// Captured holds the names of locals some nested closure reads or writes.
	Captured map[string]bool
}

// CapturedAny reports whether any closure touches the scope's locals.
func (u *LocalUsage) CapturedAny() bool { return len(u.Captured) > 0 }

// LocalVariableUsage computes LocalUsage and stores it on the scope.
type LocalVariableUsage struct{}

func (LocalVariableUsage) Name() string { return "local_variable_usage" }

func (LocalVariableUsage) Run(scope *ir.Scope, cfg *ir.CFG) error {
	u := &LocalUsage{
		Used:     make(map[ir.LocalVariable]bool),
		Captured: make(map[string]bool),
	}
	for _, bb := range cfg.Blocks() {
		for _, instr := range bb.Instrs() {
			forEachLocal(instr, func(lv ir.LocalVariable) {
				if lv.Depth == 0 {
					u.Used[lv] = true
				}
			})
		}
	}
	for _, c := range scope.Closures() {
		collectCaptured(c, 1, u.Captured)
	}
	scope.SetAnalysis(AnalysisLocalUsage, u)
	return nil
}

// collectCaptured adds the locals closure reaches depth levels up.
func collectCaptured(closure *ir.Scope, depth int, into map[string]bool) {
	for _, instr := range closure.Instrs() {
		forEachLocal(instr, func(lv ir.LocalVariable) {
			if lv.Depth == depth {
				into[lv.Name] = true
			}
		})
	}
	for _, nested := range closure.Closures() {
		collectCaptured(nested, depth+1, into)
	}
}

func forEachLocal(instr ir.Instr, fn func(ir.LocalVariable)) {
	if lv, ok := ir.ResultOf(instr).(ir.LocalVariable); ok {
		fn(lv)
	}
	for _, v := range ir.UsedVariablesOf(instr) {
		if lv, ok := v.(ir.LocalVariable); ok {
			fn(lv)
		}
	}
}
