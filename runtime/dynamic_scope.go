package runtime

// DynamicScope holds the local variable slots of one activation. Closures
// capture it and reach outer locals through the parent chain.
type DynamicScope struct {
	Values []Value
	Parent *DynamicScope
}

// NewDynamicScope allocates size slots under parent.
func NewDynamicScope(size int, parent *DynamicScope) *DynamicScope {
	return &DynamicScope{Values: make([]Value, size), Parent: parent}
}

func (ds *DynamicScope) at(depth int) *DynamicScope {
	cur := ds
	for ; depth > 0 && cur != nil; depth-- {
		cur = cur.Parent
	}
	return cur
}

// Get reads slot offset depth levels up; unset slots read nil.
func (ds *DynamicScope) Get(depth, offset int) Value {
	target := ds.at(depth)
	if target == nil || offset >= len(target.Values) {
		return nil
	}
	return target.Values[offset]
}

// Set writes slot offset depth levels up, growing the slot array when the
// scope gained locals after allocation.
func (ds *DynamicScope) Set(depth, offset int, v Value) {
	target := ds.at(depth)
	if target == nil {
		return
	}
	if offset >= len(target.Values) {
		grown := make([]Value, offset+1)
		copy(grown, target.Values)
		target.Values = grown
	}
	target.Values[offset] = v
}
