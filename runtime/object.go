package runtime

import "sync"

// Object is an instance of a user or exception class.
type Object struct {
	class *Class

	mu    sync.RWMutex
	ivars map[string]Value
}

// NewObject allocates an instance of class.
func NewObject(class *Class) *Object {
	return &Object{class: class, ivars: make(map[string]Value)}
}

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

// GetField reads an instance variable; unset fields read nil.
func (o *Object) GetField(name string) Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ivars[name]
}

// SetField writes an instance variable.
func (o *Object) SetField(name string, v Value) {
	o.mu.Lock()
	o.ivars[name] = v
	o.mu.Unlock()
}
