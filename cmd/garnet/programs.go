package main

import (
	"sort"

	"github.com/chazu/garnet/engine"
	"github.com/chazu/garnet/ir"
)

// program installs its methods into an engine and names the entry point,
// which takes one integer argument and is sent to a plain Object.
type program struct {
	describe string
	entry    string
	install  func(e *engine.Engine)
}

var programs = map[string]program{
	"fib": {
		describe: "naive recursive fibonacci",
		entry:    "fib",
		install: func(e *engine.Engine) {
			e.Define(e.Runtime.ObjectClass(), fib())
		},
	},
	"sum": {
		describe: "counting loop with integer arithmetic",
		entry:    "sum_to",
		install: func(e *engine.Engine) {
			e.Define(e.Runtime.ObjectClass(), sumTo())
		},
	},
	"inline": {
		describe: "loop over a small monomorphic call the profiler inlines",
		entry:    "bench",
		install: func(e *engine.Engine) {
			e.Define(e.Runtime.ClassByName("Integer"), twice())
			e.Define(e.Runtime.ObjectClass(), bench())
		},
	},
	"rescue": {
		describe: "loop raising and rescuing ZeroDivisionError",
		entry:    "rescue_loop",
		install: func(e *engine.Engine) {
			e.Define(e.Runtime.ObjectClass(), rescueLoop())
		},
	},
}

func programNames() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fix(n int64) ir.Operand { return ir.Fixnum{Value: n} }

func fib() *ir.Scope {
	s := ir.NewMethodScope("Object", "fib")
	s.RequiredArgs = 1
	n, small := s.LocalVariable("n"), s.NewTemp()
	a, fa, b, fb, r := s.NewTemp(), s.NewTemp(), s.NewTemp(), s.NewTemp(), s.NewTemp()
	recurse := s.NewLabel("RECURSE")
	s.Emit(
		&ir.ReceiveArgInstr{Result: n, Index: 0},
		ir.NewCallInstr(small, n, "<", []ir.Operand{fix(2)}, nil),
		&ir.BranchInstr{Cond: ir.BranchFalse, Arg1: small, Target: recurse},
		&ir.ReturnInstr{Value: n},
		&ir.LabelInstr{Label: recurse},
		ir.NewCallInstr(a, n, "-", []ir.Operand{fix(1)}, nil),
		ir.NewCallInstr(fa, ir.Self, "fib", []ir.Operand{a}, nil),
		ir.NewCallInstr(b, n, "-", []ir.Operand{fix(2)}, nil),
		ir.NewCallInstr(fb, ir.Self, "fib", []ir.Operand{b}, nil),
		ir.NewCallInstr(r, fa, "+", []ir.Operand{fb}, nil),
		&ir.ReturnInstr{Value: r},
	)
	return s
}

// countdown emits "acc = 0; while n > 0 { body; n -= 1 }; return acc".
func countdown(s *ir.Scope, body func(n, acc ir.Variable) []ir.Instr) {
	n, acc, done := s.LocalVariable("n"), s.LocalVariable("acc"), s.NewTemp()
	loop, exit := s.NewLabel("LOOP"), s.NewLabel("EXIT")
	s.Emit(
		&ir.ReceiveArgInstr{Result: n, Index: 0},
		&ir.CopyInstr{Result: acc, Source: fix(0)},
		&ir.LabelInstr{Label: loop},
		&ir.ThreadPollInstr{},
		ir.NewCallInstr(done, n, "<=", []ir.Operand{fix(0)}, nil),
		&ir.BranchInstr{Cond: ir.BranchTrue, Arg1: done, Target: exit},
	)
	s.Emit(body(n, acc)...)
	s.Emit(
		ir.NewCallInstr(n, n, "-", []ir.Operand{fix(1)}, nil),
		&ir.JumpInstr{Target: loop},
		&ir.LabelInstr{Label: exit},
		&ir.ReturnInstr{Value: acc},
	)
}

func sumTo() *ir.Scope {
	s := ir.NewMethodScope("Object", "sum_to")
	s.RequiredArgs = 1
	countdown(s, func(n, acc ir.Variable) []ir.Instr {
		return []ir.Instr{ir.NewCallInstr(acc, acc, "+", []ir.Operand{n}, nil)}
	})
	return s
}

func twice() *ir.Scope {
	s := ir.NewMethodScope("Integer", "twice")
	r := s.NewTemp()
	s.Emit(
		ir.NewCallInstr(r, ir.Self, "+", []ir.Operand{ir.Self}, nil),
		&ir.ReturnInstr{Value: r},
	)
	return s
}

func bench() *ir.Scope {
	s := ir.NewMethodScope("Object", "bench")
	s.RequiredArgs = 1
	countdown(s, func(n, acc ir.Variable) []ir.Instr {
		t := s.NewTemp()
		return []ir.Instr{
			ir.NewCallInstr(t, n, "twice", nil, nil),
			ir.NewCallInstr(acc, acc, "+", []ir.Operand{t}, nil),
		}
	})
	return s
}

// rescueLoop adds 1 for every n that divides 7 evenly by (n % 3) and
// rescues the ZeroDivisionError raised for the rest.
func rescueLoop() *ir.Scope {
	s := ir.NewMethodScope("Object", "rescue_loop")
	s.RequiredArgs = 1
	countdown(s, func(n, acc ir.Variable) []ir.Instr {
		m, q, exc := s.NewTemp(), s.NewTemp(), s.NewTemp()
		rescue, next := s.NewLabel("RESCUE"), s.NewLabel("NEXT")
		return []ir.Instr{
			ir.NewCallInstr(m, n, "%", []ir.Operand{fix(3)}, nil),
			&ir.ExceptionRegionStartInstr{FirstRescue: rescue},
			ir.NewCallInstr(q, fix(7), "/", []ir.Operand{m}, nil),
			&ir.ExceptionRegionEndInstr{},
			ir.NewCallInstr(acc, acc, "+", []ir.Operand{fix(1)}, nil),
			&ir.JumpInstr{Target: next},
			&ir.LabelInstr{Label: rescue},
			&ir.ReceiveExceptionInstr{Result: exc},
			&ir.LabelInstr{Label: next},
		}
	})
	return s
}
