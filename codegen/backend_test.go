package codegen

import (
	"bytes"
	"errors"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/chazu/garnet/interp"
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/passes"
	"github.com/chazu/garnet/runtime"
)

func fix(n int64) ir.Operand { return ir.Fixnum{Value: n} }

// safeDiv prints its arguments and returns a / b, or -1 when the division
// raises.
func safeDiv() *ir.Scope {
	s := ir.NewMethodScope("Object", "safe_div")
	s.RequiredArgs = 2
	a, b, q, exc := s.NewTemp(), s.NewTemp(), s.NewTemp(), s.NewTemp()
	rescue := s.NewLabel("RESCUE")
	s.Emit(
		&ir.ReceiveArgInstr{Result: a, Index: 0},
		&ir.ReceiveArgInstr{Result: b, Index: 1},
		ir.NewCallInstr(nil, ir.Self, "puts", []ir.Operand{a, b}, nil),
		&ir.ExceptionRegionStartInstr{FirstRescue: rescue},
		ir.NewCallInstr(q, a, "/", []ir.Operand{b}, nil),
		&ir.ExceptionRegionEndInstr{},
		&ir.ReturnInstr{Value: q},
		&ir.LabelInstr{Label: rescue},
		&ir.ReceiveExceptionInstr{Result: exc},
		ir.NewCallInstr(nil, ir.Self, "puts", []ir.Operand{ir.StringLiteral{Value: "rescued"}}, nil),
		&ir.ReturnInstr{Value: fix(-1)},
	)
	return s
}

type result struct {
	value runtime.Value
	err   error
	out   string
}

func runWith(t *testing.T, entry runtime.Entry, s *ir.Scope, args ...runtime.Value) result {
	t.Helper()
	var out bytes.Buffer
	rt := runtime.New(&out)
	ctx := runtime.NewThreadContext(rt)
	self := runtime.NewObject(rt.ObjectClass())
	v, err := entry(ctx, s, self, args, nil, rt.ObjectClass())
	if d := ctx.FrameDepth(); d != 0 {
		t.Errorf("Expected frame depth 0, got %d", d)
	}
	return result{value: v, err: err, out: out.String()}
}

func TestCompiledMatchesInterpreted(t *testing.T) {
	for _, built := range []bool{false, true} {
		s := safeDiv()
		if built {
			if err := passes.DefaultPipeline().Run(s); err != nil {
				t.Fatalf("Pipeline failed: %v", err)
			}
		}
		b := New()
		code, err := b.Compile(s, "Object_safe_div_x")
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		entry, err := b.Define(s, "Object_safe_div_x", code)
		if err != nil {
			t.Fatalf("Define failed: %v", err)
		}

		for _, args := range [][]runtime.Value{{int64(10), int64(2)}, {int64(1), int64(0)}} {
			want := runWith(t, interp.Interpret, s, args...)
			got := runWith(t, entry, s, args...)
			if got.value != want.value || (got.err == nil) != (want.err == nil) {
				t.Errorf("Expected %v (%v), got %v (%v)", want.value, want.err, got.value, got.err)
			}
			if got.out != want.out {
				t.Errorf("Expected output %q, got %q", want.out, got.out)
			}
		}
	}
}

func TestCompiledPropagatesUnhandledRaise(t *testing.T) {
	s := ir.NewMethodScope("Object", "boom")
	s.Emit(&ir.RaiseInstr{ClassName: "RuntimeError", Message: ir.StringLiteral{Value: "boom"}})
	b := New()
	code, err := b.Compile(s, "Object_boom")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	entry, err := b.Define(s, "Object_boom", code)
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	got := runWith(t, entry, s)
	r, ok := runtime.AsRaise(got.err)
	if !ok || r.Message() != "boom" {
		t.Errorf("Expected RuntimeError boom, got %v", got.err)
	}
}

func TestArtifactIsGoSource(t *testing.T) {
	s := safeDiv()
	code, err := New().Compile(s, "Object_safe_div_abc")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err := parser.ParseFile(token.NewFileSet(), "unit.go", code, parser.ParseComments); err != nil {
		t.Fatalf("Expected parseable Go source, got %v\n%s", err, code)
	}
	if !strings.Contains(string(code), "func Object_safe_div_abc(") {
		t.Errorf("Expected function named after the symbol in\n%s", code)
	}

	h, err := ParseHeader(code)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	hash, _ := s.ContentHash()
	ic, _ := s.InterpreterContext()
	if h.Symbol != "Object_safe_div_abc" || h.Hash != hash || h.Instrs != len(ic.Instrs) {
		t.Errorf("Expected header {Object_safe_div_abc %s %d}, got %+v", hash, len(ic.Instrs), h)
	}
}

func TestDefineRejectsForeignArtifact(t *testing.T) {
	b := New()
	code, err := b.Compile(safeDiv(), "Object_safe_div")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	other := ir.NewMethodScope("Object", "other")
	other.Emit(&ir.ReturnInstr{Value: fix(1)})
	if _, err := b.Define(other, "Object_other", code); !errors.Is(err, ErrVerification) {
		t.Errorf("Expected ErrVerification for a foreign artifact, got %v", err)
	}
	if _, err := b.Define(other, "Object_other", []byte("package jitcode\n")); !errors.Is(err, ErrVerification) {
		t.Errorf("Expected ErrVerification for a missing header, got %v", err)
	}
}

func TestStepsCoverEveryInstruction(t *testing.T) {
	s := safeDiv()
	ic, err := s.InterpreterContext()
	if err != nil {
		t.Fatalf("Linearization failed: %v", err)
	}
	steps := Steps(ic)
	if len(steps) != len(ic.Instrs) {
		t.Fatalf("Expected %d steps, got %d", len(ic.Instrs), len(steps))
	}
	for pc, step := range steps {
		if step == nil {
			t.Errorf("Expected a step for pc %d", pc)
		}
	}
}
