package runtime

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a guest value. Go nil is the guest nil; the other
// representations are bool, int64, float64, string, Symbol, *Object,
// *Array, *Block and *Class.
type Value = any

// Symbol is an interned guest symbol.
type Symbol string

// Array is a mutable guest array.
type Array struct {
	Elems []Value
}

// NewArray wraps elems.
func NewArray(elems ...Value) *Array {
	return &Array{Elems: elems}
}

// Truthy implements guest truthiness: only nil and false are falsy.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	return true
}

// Equal implements value equality for immediates and identity otherwise.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case int64:
			return x == float64(y)
		}
		return false
	case *Array:
		y, ok := b.(*Array)
		if !ok || len(x.Elems) != len(y.Elems) {
			return false
		}
		for i := range x.Elems {
			if !Equal(x.Elems[i], y.Elems[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// Inspect renders v the way `p` would.
func Inspect(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	case Symbol:
		return ":" + string(x)
	case *Array:
		parts := make([]string, len(x.Elems))
		for i, e := range x.Elems {
			parts[i] = Inspect(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ToS(v)
}

// ToS renders v the way `puts` would.
func ToS(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case Symbol:
		return string(x)
	case *Object:
		if x.class.IsException() {
			return ToS(x.GetField("@message"))
		}
		return fmt.Sprintf("#<%s>", x.class.Name())
	case *Array:
		return Inspect(x)
	case *Block:
		if x.Lambda {
			return "#<Proc (lambda)>"
		}
		return "#<Proc>"
	case *Class:
		return x.Name()
	case error:
		return x.Error()
	}
	return fmt.Sprintf("%v", v)
}
