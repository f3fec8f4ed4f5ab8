package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Operand is anything an instruction can read.
type Operand interface {
	String() string
}

// Variable is an operand that can also be written by an instruction.
// Concrete variables are comparable values so they can key rename maps.
type Variable interface {
	Operand
	isVariable()
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// TemporaryVariable lives in the activation's temp array, indexed by ID.
type TemporaryVariable struct {
	ID   int
	Name string // optional, for printing
}

func (TemporaryVariable) isVariable() {}

func (t TemporaryVariable) String() string {
	if t.Name != "" {
		return "%" + t.Name + "_" + strconv.Itoa(t.ID)
	}
	return "%v_" + strconv.Itoa(t.ID)
}

// LocalVariable lives in a DynamicScope (binding). Depth counts how many
// lexical scopes up the variable is defined; Offset is its slot there.
type LocalVariable struct {
	Name   string
	Depth  int
	Offset int
}

func (LocalVariable) isVariable() {}

func (l LocalVariable) String() string {
	return fmt.Sprintf("%s(%d:%d)", l.Name, l.Depth, l.Offset)
}

// SelfVariable denotes the receiver of the current activation.
type SelfVariable struct{}

func (SelfVariable) isVariable() {}

func (SelfVariable) String() string { return "%self" }

// Self is the receiver variable.
var Self Variable = SelfVariable{}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// Fixnum is an integer literal.
type Fixnum struct{ Value int64 }

func (f Fixnum) String() string { return strconv.FormatInt(f.Value, 10) }

// Float is a float literal.
type Float struct{ Value float64 }

func (f Float) String() string { return strconv.FormatFloat(f.Value, 'g', -1, 64) }

// StringLiteral is a frozen string literal.
type StringLiteral struct{ Value string }

func (s StringLiteral) String() string { return strconv.Quote(s.Value) }

// Symbol is a symbol literal.
type Symbol struct{ Name string }

func (s Symbol) String() string { return ":" + s.Name }

// NilOperand is the nil literal.
type NilOperand struct{}

func (NilOperand) String() string { return "nil" }

// Nil is the nil literal.
var Nil Operand = NilOperand{}

// Boolean is true or false.
type Boolean struct{ Value bool }

func (b Boolean) String() string { return strconv.FormatBool(b.Value) }

var (
	True  Operand = Boolean{Value: true}
	False Operand = Boolean{Value: false}
)

// ArrayLiteral builds a fresh array from its element operands.
type ArrayLiteral struct {
	Elems []Operand
}

func (a *ArrayLiteral) String() string {
	return "[" + joinOperands(a.Elems) + "]"
}

// WrappedClosure is a closure literal. Evaluating it creates a block that
// captures the current binding, self and frame.
type WrappedClosure struct {
	Closure *Scope
	Lambda  bool
}

func (w *WrappedClosure) String() string {
	if w.Lambda {
		return "lambda<" + w.Closure.Name + ">"
	}
	return "closure<" + w.Closure.Name + ">"
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label names a jump target. Labels are compared by identity.
type Label struct {
	Prefix string
	ID     int
}

func (l *Label) String() string {
	if l == nil {
		return "<nil label>"
	}
	return l.Prefix + "_" + strconv.Itoa(l.ID)
}

// VersionedModule is the object-model view the deoptimization guard needs:
// an identity plus a generation token that changes whenever the module's
// method table (or an ancestor's) changes.
type VersionedModule interface {
	Name() string
	Generation() uint64
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func joinOperands(ops []Operand) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = operandString(op)
	}
	return strings.Join(parts, ", ")
}

func operandString(op Operand) string {
	if op == nil {
		return "-"
	}
	return op.String()
}

// IsConstant reports whether op has no runtime dependencies.
func IsConstant(op Operand) bool {
	switch o := op.(type) {
	case Fixnum, Float, StringLiteral, Symbol, NilOperand, Boolean:
		return true
	case *ArrayLiteral:
		for _, e := range o.Elems {
			if !IsConstant(e) {
				return false
			}
		}
		return true
	}
	return false
}

// UsedVariables appends the variables read by op to dst.
func UsedVariables(dst []Variable, op Operand) []Variable {
	switch o := op.(type) {
	case Variable:
		return append(dst, o)
	case *ArrayLiteral:
		for _, e := range o.Elems {
			dst = UsedVariables(dst, e)
		}
	}
	return dst
}

// renameOperand substitutes variables found in op according to m.
func renameOperand(op Operand, m map[Variable]Variable) Operand {
	switch o := op.(type) {
	case Variable:
		if r, ok := m[o]; ok {
			return r
		}
		return o
	case *ArrayLiteral:
		elems := make([]Operand, len(o.Elems))
		for i, e := range o.Elems {
			elems[i] = renameOperand(e, m)
		}
		return &ArrayLiteral{Elems: elems}
	}
	return op
}

func renameOperands(ops []Operand, m map[Variable]Variable) []Operand {
	if ops == nil {
		return nil
	}
	out := make([]Operand, len(ops))
	for i, op := range ops {
		out[i] = renameOperand(op, m)
	}
	return out
}

func renameResult(v Variable, m map[Variable]Variable) Variable {
	if v == nil {
		return nil
	}
	if r, ok := m[v]; ok {
		return r
	}
	return v
}

// CloneInfo drives instruction cloning: every variable and label in the
// source instruction is passed through it.
type CloneInfo interface {
	RenameVariable(v Variable) Variable
	RenameLabel(l *Label) *Label
}

// CloneOperand clones op through ci.
func CloneOperand(op Operand, ci CloneInfo) Operand {
	switch o := op.(type) {
	case nil:
		return nil
	case Variable:
		return ci.RenameVariable(o)
	case *ArrayLiteral:
		elems := make([]Operand, len(o.Elems))
		for i, e := range o.Elems {
			elems[i] = CloneOperand(e, ci)
		}
		return &ArrayLiteral{Elems: elems}
	}
	return op
}

func cloneOperands(ops []Operand, ci CloneInfo) []Operand {
	if ops == nil {
		return nil
	}
	out := make([]Operand, len(ops))
	for i, op := range ops {
		out[i] = CloneOperand(op, ci)
	}
	return out
}

func cloneResult(v Variable, ci CloneInfo) Variable {
	if v == nil {
		return nil
	}
	return ci.RenameVariable(v)
}

func cloneLabel(l *Label, ci CloneInfo) *Label {
	if l == nil {
		return nil
	}
	return ci.RenameLabel(l)
}
