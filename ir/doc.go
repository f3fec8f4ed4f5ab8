// Package ir implements the intermediate representation executed by the
// garnet interpreter and consumed by the JIT.
//
// This package contains:
//   - Operands (variables, labels, constants, closure literals)
//   - Instructions and their operation flags
//   - Scopes (methods, closures, module bodies) and their lifecycle
//   - BasicBlocks and the control-flow graph, including exception regions
//     and the rescuer/ensurer maps
//   - CFG surgery used by passes and the inliner (split, merge, collapse)
//   - Linearization into an InterpreterContext with resolved program counters
package ir
