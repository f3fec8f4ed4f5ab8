package runtime

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Class: method table plus a generation token
// ---------------------------------------------------------------------------

// Class is a guest class. The generation token changes whenever the
// method table of the class or of any ancestor changes; inlined code guards
// on it.
type Class struct {
	name       string
	superclass *Class
	rt         *Runtime

	mu         sync.RWMutex
	methods    map[string]DynamicMethod
	subclasses []*Class

	generation atomic.Uint64
}

func newClass(rt *Runtime, name string, superclass *Class) *Class {
	c := &Class{
		name:       name,
		superclass: superclass,
		rt:         rt,
		methods:    make(map[string]DynamicMethod),
	}
	c.generation.Store(1)
	if superclass != nil {
		superclass.mu.Lock()
		superclass.subclasses = append(superclass.subclasses, c)
		superclass.mu.Unlock()
	}
	return c
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Superclass returns the parent class, or nil for BasicObject.
func (c *Class) Superclass() *Class { return c.superclass }

// Generation returns the current method-table generation.
func (c *Class) Generation() uint64 { return c.generation.Load() }

func (c *Class) String() string { return c.name }

// IsSubclassOf returns true if c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.superclass {
		if current == other {
			return true
		}
	}
	return false
}

// IsException reports whether instances of c are guest exceptions.
func (c *Class) IsException() bool {
	return c.rt != nil && c.rt.exceptionClass != nil && c.IsSubclassOf(c.rt.exceptionClass)
}

// Subclasses returns the direct subclasses.
func (c *Class) Subclasses() []*Class {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Class(nil), c.subclasses...)
}

// ---------------------------------------------------------------------------
// Method table
// ---------------------------------------------------------------------------

// DefineMethod installs m under name.
func (c *Class) DefineMethod(name string, m DynamicMethod) {
	c.mu.Lock()
	c.methods[name] = m
	c.mu.Unlock()
	c.structureChanged()
}

// UndefMethod removes name from this class's own table.
func (c *Class) UndefMethod(name string) bool {
	c.mu.Lock()
	_, ok := c.methods[name]
	delete(c.methods, name)
	c.mu.Unlock()
	if ok {
		c.structureChanged()
	}
	return ok
}

// AliasMethod makes newName refer to the method currently found for oldName.
func (c *Class) AliasMethod(newName, oldName string) bool {
	m := c.FindMethod(oldName)
	if m == nil {
		return false
	}
	c.mu.Lock()
	c.methods[newName] = m
	c.mu.Unlock()
	c.structureChanged()
	return true
}

// LocalMethod returns a method defined directly on c.
func (c *Class) LocalMethod(name string) DynamicMethod {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.methods[name]
}

// FindMethod looks name up along the superclass chain.
func (c *Class) FindMethod(name string) DynamicMethod {
	for cur := c; cur != nil; cur = cur.superclass {
		if m := cur.LocalMethod(name); m != nil {
			return m
		}
	}
	return nil
}

// MethodNames returns the names defined directly on c.
func (c *Class) MethodNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.methods))
	for n := range c.methods {
		names = append(names, n)
	}
	return names
}

// InvalidateCacheDescendants bumps the generation of c and of every class
// inheriting from it, so guards and call-site caches keyed on any of them
// miss.
func (c *Class) InvalidateCacheDescendants() {
	c.generation.Add(1)
	for _, sub := range c.Subclasses() {
		sub.InvalidateCacheDescendants()
	}
}

func (c *Class) structureChanged() {
	c.InvalidateCacheDescendants()
	if c.rt != nil {
		c.rt.codeModified()
	}
}
