// Package interp executes linearized IR.
//
// An activation runs the instruction array of one immutable
// ir.InterpreterContext snapshot. Each instruction produces an Outcome:
// continue, jump, return, or unwind. Unwinds are Go errors of the kinds
// defined in package runtime and are routed to the rescuer or ensurer PC of
// the faulting instruction, or propagated to the caller.
//
// The same loop runs step tables produced by the reference JIT backend, so
// compiled code shares the routing rules with interpreted code.
package interp
