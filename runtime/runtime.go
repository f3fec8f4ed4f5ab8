package runtime

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chazu/garnet/ir"
)

// CallProfiler receives execution events from interpreted code. The
// profiler package implements it; a nil profiler disables profiling.
type CallProfiler interface {
	// ClockTick is called at every cooperative poll point.
	ClockTick()
	// RecordCall is called for every dispatched call in interpreted code.
	RecordCall(ic *ir.InterpreterContext, call *ir.CallInstr, target DynamicMethod, recvClass *Class)
	// CodeModified is called on every method definition, removal or alias.
	CodeModified()
}

// Runtime is one guest runtime instance: class table, output, dispatch
// caches and the attached profiler.
type Runtime struct {
	// ID distinguishes runtime instances in the same process.
	ID uuid.UUID
	// Out receives puts/print output.
	Out io.Writer
	// CallSites holds the per-call-instruction dispatch caches.
	CallSites InlineCacheTable

	profiler atomic.Pointer[profilerHolder]

	mu      sync.RWMutex
	classes map[string]*Class

	basicObjectClass *Class
	objectClass      *Class
	exceptionClass   *Class
	nilClass         *Class
	trueClass        *Class
	falseClass       *Class
	integerClass     *Class
	floatClass       *Class
	stringClass      *Class
	symbolClass      *Class
	arrayClass       *Class
	procClass        *Class
	classClass       *Class

	modifications atomic.Uint64
}

type profilerHolder struct {
	p CallProfiler
}

// New creates a runtime with the core classes and builtins installed.
// A nil out writes to stdout.
func New(out io.Writer) *Runtime {
	if out == nil {
		out = os.Stdout
	}
	rt := &Runtime{
		ID:      uuid.New(),
		Out:     out,
		classes: make(map[string]*Class),
	}
	rt.bootstrap()
	return rt
}

func (rt *Runtime) bootstrap() {
	rt.basicObjectClass = rt.DefineClass("BasicObject", nil)
	rt.objectClass = rt.DefineClass("Object", rt.basicObjectClass)
	module := rt.DefineClass("Module", rt.objectClass)
	rt.classClass = rt.DefineClass("Class", module)
	rt.nilClass = rt.DefineClass("NilClass", rt.objectClass)
	rt.trueClass = rt.DefineClass("TrueClass", rt.objectClass)
	rt.falseClass = rt.DefineClass("FalseClass", rt.objectClass)
	numeric := rt.DefineClass("Numeric", rt.objectClass)
	rt.integerClass = rt.DefineClass("Integer", numeric)
	rt.floatClass = rt.DefineClass("Float", numeric)
	rt.stringClass = rt.DefineClass("String", rt.objectClass)
	rt.symbolClass = rt.DefineClass("Symbol", rt.objectClass)
	rt.arrayClass = rt.DefineClass("Array", rt.objectClass)
	rt.procClass = rt.DefineClass("Proc", rt.objectClass)

	rt.exceptionClass = rt.DefineClass("Exception", rt.objectClass)
	rt.DefineClass("SystemStackError", rt.exceptionClass)
	standard := rt.DefineClass("StandardError", rt.exceptionClass)
	rt.DefineClass("RuntimeError", standard)
	rt.DefineClass("ArgumentError", standard)
	rt.DefineClass("TypeError", standard)
	rt.DefineClass("NameError", standard)
	rt.DefineClass("NoMethodError", rt.classes["NameError"])
	rt.DefineClass("ZeroDivisionError", standard)
	rt.DefineClass("IndexError", standard)
	rt.DefineClass("LocalJumpError", standard)

	installBuiltins(rt)
}

// DefineClass creates (or returns the existing) class name under superclass.
func (rt *Runtime) DefineClass(name string, superclass *Class) *Class {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if c, ok := rt.classes[name]; ok {
		return c
	}
	c := newClass(rt, name, superclass)
	rt.classes[name] = c
	return c
}

// ClassByName looks a class up by name.
func (rt *Runtime) ClassByName(name string) *Class {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.classes[name]
}

// ObjectClass returns Object.
func (rt *Runtime) ObjectClass() *Class { return rt.objectClass }

// ClassOf returns the class of any guest value.
func (rt *Runtime) ClassOf(v Value) *Class {
	switch x := v.(type) {
	case nil:
		return rt.nilClass
	case bool:
		if x {
			return rt.trueClass
		}
		return rt.falseClass
	case int64:
		return rt.integerClass
	case float64:
		return rt.floatClass
	case string:
		return rt.stringClass
	case Symbol:
		return rt.symbolClass
	case *Object:
		return x.class
	case *Array:
		return rt.arrayClass
	case *Block:
		return rt.procClass
	case *Class:
		return rt.classClass
	}
	return rt.objectClass
}

// ---------------------------------------------------------------------------
// Profiler hook
// ---------------------------------------------------------------------------

// SetProfiler attaches p; nil detaches.
func (rt *Runtime) SetProfiler(p CallProfiler) {
	if p == nil {
		rt.profiler.Store(nil)
		return
	}
	rt.profiler.Store(&profilerHolder{p: p})
}

// Profiler returns the attached profiler, or nil.
func (rt *Runtime) Profiler() CallProfiler {
	if h := rt.profiler.Load(); h != nil {
		return h.p
	}
	return nil
}

// Modifications returns how many structural changes the runtime has seen.
func (rt *Runtime) Modifications() uint64 { return rt.modifications.Load() }

func (rt *Runtime) codeModified() {
	rt.modifications.Add(1)
	if p := rt.Profiler(); p != nil {
		p.CodeModified()
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// FindMethod resolves name for recv or returns a NoMethodError.
func (rt *Runtime) FindMethod(recv Value, name string) (DynamicMethod, *Class, error) {
	class := rt.ClassOf(recv)
	m := class.FindMethod(name)
	if m == nil {
		return nil, class, rt.Raise("NoMethodError", "undefined method '%s' for %s", name, class.Name())
	}
	return m, class, nil
}

// CallMethod performs an uncached dynamic call.
func (rt *Runtime) CallMethod(ctx *ThreadContext, recv Value, name string, args []Value, block *Block) (Value, error) {
	m, _, err := rt.FindMethod(recv, name)
	if err != nil {
		return nil, err
	}
	return m.Call(ctx, recv, args, block)
}
