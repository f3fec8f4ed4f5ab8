package ir

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrInvariant is the cause of every structural invariant violation
// reported by this package. Such errors indicate a bug in CFG construction
// or in a pass, never a guest-program error, and carry a stack trace.
var ErrInvariant = stderrors.New("ir: invariant violation")

var (
	// ErrCFGAlreadyBuilt is returned when a scope's CFG would be rebuilt.
	ErrCFGAlreadyBuilt = stderrors.New("ir: CFG already built")
	// ErrNoInstructions is returned when building a CFG for a scope that
	// has neither instructions nor a CFG.
	ErrNoInstructions = stderrors.New("ir: scope has no instructions")
)

func invariantf(format string, args ...any) error {
	return errors.Wrapf(ErrInvariant, format, args...)
}

// IsInvariantViolation reports whether err stems from a broken IR invariant.
func IsInvariantViolation(err error) bool {
	return stderrors.Is(err, ErrInvariant)
}
