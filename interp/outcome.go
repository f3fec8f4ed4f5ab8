package interp

import "github.com/chazu/garnet/runtime"

// OutcomeKind tags the result of one step.
type OutcomeKind uint8

const (
	OutNext   OutcomeKind = iota // continue at pc+1
	OutJump                      // continue at PC
	OutReturn                    // leave the activation with Value
	OutUnwind                    // route Err
)

// Outcome is the result of executing one instruction.
type Outcome struct {
	Kind  OutcomeKind
	PC    int
	Value runtime.Value
	Err   error
}

// Next continues with the following instruction.
func Next() Outcome { return Outcome{Kind: OutNext} }

// Jump continues at pc.
func Jump(pc int) Outcome { return Outcome{Kind: OutJump, PC: pc} }

// Return leaves the activation with v.
func Return(v runtime.Value) Outcome { return Outcome{Kind: OutReturn, Value: v} }

// Unwind starts routing err.
func Unwind(err error) Outcome { return Outcome{Kind: OutUnwind, Err: err} }

// StepFunc executes the instruction at pc of a's context.
type StepFunc func(a *Activation, pc int) Outcome
