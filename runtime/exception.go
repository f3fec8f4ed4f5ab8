package runtime

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Unwinds
// ---------------------------------------------------------------------------

// Every non-local exit from an activation travels as a Go error of one of
// the types below. Guest exceptions are the only kind a rescue clause can
// catch; the other kinds only run ensure code on their way out.

// RaiseException carries a guest exception object.
type RaiseException struct {
	Exception *Object
}

func (e *RaiseException) Error() string {
	return fmt.Sprintf("%s: %s", e.Exception.Class().Name(), ToS(e.Exception.GetField("@message")))
}

// ClassName returns the exception's class name.
func (e *RaiseException) ClassName() string { return e.Exception.Class().Name() }

// Message returns the exception message.
func (e *RaiseException) Message() string { return ToS(e.Exception.GetField("@message")) }

// NonLocalReturn is a `return` from inside a closure. It unwinds until the
// activation running in Target, which returns Value.
type NonLocalReturn struct {
	Target *Frame
	Value  Value
}

func (e *NonLocalReturn) Error() string {
	return fmt.Sprintf("nonlocal return to %s", e.Target.Name)
}

// BreakJump is a `break` from inside a closure. It unwinds until the
// activation running in Target, where the call that received the closure
// evaluates to Value.
type BreakJump struct {
	Target *Frame
	Value  Value
}

func (e *BreakJump) Error() string {
	return fmt.Sprintf("break to %s", e.Target.Name)
}

// FatalError wraps an implementation error (a broken invariant, a failed
// interpreter context build). It runs ensure code but is never rescued.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err unless it already is an unwind.
func Fatal(err error) error {
	if err == nil || IsUnwind(err) {
		return err
	}
	return &FatalError{Err: err}
}

// IsUnwind reports whether err is one of the unwind kinds.
func IsUnwind(err error) bool {
	switch err.(type) {
	case *RaiseException, *NonLocalReturn, *BreakJump, *FatalError:
		return true
	}
	return false
}

// AsRaise extracts a guest exception from err.
func AsRaise(err error) (*RaiseException, bool) {
	var r *RaiseException
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// Exception construction
// ---------------------------------------------------------------------------

// NewException instantiates className with message. Unknown class names
// fall back to RuntimeError.
func (rt *Runtime) NewException(className, message string) *Object {
	class := rt.ClassByName(className)
	if class == nil || !class.IsException() {
		class = rt.ClassByName("RuntimeError")
	}
	exc := NewObject(class)
	exc.SetField("@message", message)
	return exc
}

// Raise builds a guest exception error.
func (rt *Runtime) Raise(className, format string, args ...any) error {
	return &RaiseException{Exception: rt.NewException(className, fmt.Sprintf(format, args...))}
}

// IsKindOf reports whether the exception object is an instance of className
// or one of its subclasses.
func (rt *Runtime) IsKindOf(v Value, className string) bool {
	class := rt.ClassByName(className)
	if class == nil {
		return false
	}
	return rt.ClassOf(v).IsSubclassOf(class)
}
