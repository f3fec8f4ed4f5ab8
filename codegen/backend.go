// Package codegen is the reference JIT backend.
//
// Compile renders a Go source file for a scope: a header naming the unit
// and the IR it was generated from, and one function whose switch has a
// case per program counter. The rendered bytes are the artifact the JIT
// measures and caches. Define checks an artifact's header against the
// scope and closure-compiles the scope's interpreter context into a step
// table that the interpreter loop runs with its usual unwind routing.
package codegen

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/chazu/garnet/interp"
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/runtime"
)

const (
	interpPath = "github.com/chazu/garnet/interp"
	irPath     = "github.com/chazu/garnet/ir"

	// PackageName is the package clause of rendered units.
	PackageName = "jitcode"
)

// ErrVerification means an artifact does not belong to the scope it is
// being defined for.
var ErrVerification = errors.New("codegen: artifact verification failed")

// Backend implements jit.Backend.
type Backend struct{}

// New creates the reference backend.
func New() *Backend { return &Backend{} }

// Header is the metadata carried at the top of a rendered unit.
type Header struct {
	Symbol string
	Hash   string
	Instrs int
}

// Compile renders scope as Go source under symbol.
func (b *Backend) Compile(scope *ir.Scope, symbol string) ([]byte, error) {
	ic, err := scope.InterpreterContext()
	if err != nil {
		return nil, fmt.Errorf("linearizing %s: %w", scope, err)
	}
	hash, err := scope.ContentHash()
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", scope, err)
	}

	f := jen.NewFile(PackageName)
	f.HeaderComment("Code generated by garnet. DO NOT EDIT.")
	f.HeaderComment("symbol: " + symbol)
	f.HeaderComment("hash: " + hash)
	f.HeaderComment("instrs: " + strconv.Itoa(len(ic.Instrs)))

	cases := make([]jen.Code, 0, len(ic.Instrs))
	for pc, instr := range ic.Instrs {
		cases = append(cases, jen.Case(jen.Lit(pc)).Block(
			jen.Comment(instr.String()),
			jen.Return(stepFor(ic, pc, instr)),
		))
	}

	f.Commentf("%s runs %s#%s.", symbol, scope.ClassName, scope.Name)
	f.Func().Id(symbol).Params(
		jen.Id("a").Op("*").Qual(interpPath, "Activation"),
		jen.Id("pc").Int(),
	).Qual(interpPath, "Outcome").Block(
		jen.Switch(jen.Id("pc")).Block(cases...),
		jen.Return(jen.Qual(interpPath, "Next").Call()),
	)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", symbol, err)
	}
	return buf.Bytes(), nil
}

// stepFor is the rendered body of one case.
func stepFor(ic *ir.InterpreterContext, pc int, instr ir.Instr) jen.Code {
	a := jen.Id("a")
	at := func(typ string) *jen.Statement {
		return jen.Id("a").Dot("IC").Dot("Instrs").Index(jen.Lit(pc)).Assert(jen.Op("*").Qual(irPath, typ))
	}
	switch instr.(type) {
	case *ir.JumpInstr:
		return jen.Qual(interpPath, "Jump").Call(jen.Lit(ic.JumpPCs[pc]))
	case *ir.CallInstr:
		return a.Dot("Call").Call(at("CallInstr"))
	case *ir.YieldInstr:
		return a.Dot("Yield").Call(at("YieldInstr"))
	case *ir.LabelInstr:
		return jen.Qual(interpPath, "Next").Call()
	}
	return a.Dot("Step").Call(jen.Id("pc"))
}

// ParseHeader reads the header of a rendered unit.
func ParseHeader(code []byte) (Header, error) {
	var h Header
	seen := 0
	sc := bufio.NewScanner(bytes.NewReader(code))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "package ") {
			break
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "// "), ": ")
		if !ok {
			continue
		}
		switch key {
		case "symbol":
			h.Symbol = value
			seen++
		case "hash":
			h.Hash = value
			seen++
		case "instrs":
			n, err := strconv.Atoi(value)
			if err != nil {
				return h, fmt.Errorf("%w: bad instruction count %q", ErrVerification, value)
			}
			h.Instrs = n
			seen++
		}
	}
	if seen != 3 {
		return h, fmt.Errorf("%w: incomplete header", ErrVerification)
	}
	return h, nil
}

// Define loads code for scope. The artifact's hash and instruction count
// must match the scope; the symbol may differ, since cached artifacts are
// shared between runtimes that salt their symbols differently.
func (b *Backend) Define(scope *ir.Scope, symbol string, code []byte) (runtime.Entry, error) {
	h, err := ParseHeader(code)
	if err != nil {
		return nil, err
	}
	ic, err := scope.InterpreterContext()
	if err != nil {
		return nil, fmt.Errorf("linearizing %s: %w", scope, err)
	}
	hash, err := scope.ContentHash()
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", scope, err)
	}
	if h.Hash != hash {
		return nil, fmt.Errorf("%w: %s was generated from %s, scope is %s", ErrVerification, symbol, h.Hash, hash)
	}
	if h.Instrs != len(ic.Instrs) {
		return nil, fmt.Errorf("%w: %s has %d instructions, scope has %d", ErrVerification, symbol, h.Instrs, len(ic.Instrs))
	}

	steps := Steps(ic)
	return func(ctx *runtime.ThreadContext, _ *ir.Scope, self runtime.Value, args []runtime.Value, block *runtime.Block, implClass *runtime.Class) (runtime.Value, error) {
		return interp.Invoke(ctx, ic, steps, self, args, block, implClass)
	}, nil
}

// Steps closure-compiles ic: each program counter gets a function
// specialized to its instruction.
func Steps(ic *ir.InterpreterContext) []interp.StepFunc {
	steps := make([]interp.StepFunc, len(ic.Instrs))
	for pc, instr := range ic.Instrs {
		steps[pc] = compileStep(ic, pc, instr)
	}
	return steps
}

func compileStep(ic *ir.InterpreterContext, pc int, instr ir.Instr) interp.StepFunc {
	switch in := instr.(type) {
	case *ir.JumpInstr:
		target := ic.JumpPCs[pc]
		return func(*interp.Activation, int) interp.Outcome { return interp.Jump(target) }

	case *ir.LabelInstr:
		return func(*interp.Activation, int) interp.Outcome { return interp.Next() }

	case *ir.CopyInstr:
		return func(a *interp.Activation, _ int) interp.Outcome {
			v, err := a.Operand(in.Source)
			if err != nil {
				return interp.Unwind(err)
			}
			if err := a.Set(in.Result, v); err != nil {
				return interp.Unwind(err)
			}
			return interp.Next()
		}

	case *ir.CallInstr:
		return func(a *interp.Activation, _ int) interp.Outcome { return a.Call(in) }

	case *ir.YieldInstr:
		return func(a *interp.Activation, _ int) interp.Outcome { return a.Yield(in) }

	case *ir.ReturnInstr:
		return func(a *interp.Activation, _ int) interp.Outcome {
			v, err := a.Operand(in.Value)
			if err != nil {
				return interp.Unwind(err)
			}
			return interp.Return(v)
		}
	}
	return func(a *interp.Activation, pc int) interp.Outcome { return a.Step(pc) }
}
