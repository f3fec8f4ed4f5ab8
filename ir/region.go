package ir

// ExceptionRegion is a protected range of blocks recorded while building
// the CFG from region markers. After construction the rescuer and ensurer
// maps are authoritative; regions are kept for inspection and cloning.
type ExceptionRegion struct {
	Start       *Label
	End         *Label
	FirstRescue *Label
	Ensure      *Label

	parent *ExceptionRegion
	nested []*ExceptionRegion
	blocks []BlockID
}

// Nested returns regions opened inside this one.
func (r *ExceptionRegion) Nested() []*ExceptionRegion { return r.nested }

// Blocks returns ids of the blocks directly protected by this region.
func (r *ExceptionRegion) Blocks() []BlockID { return r.blocks }

// ensureLabel returns the ensure handler in effect for blocks of r: the
// nearest enclosing region, starting at r, that has one.
func (r *ExceptionRegion) ensureLabel() *Label {
	for cur := r; cur != nil; cur = cur.parent {
		if cur.Ensure != nil {
			return cur.Ensure
		}
	}
	return nil
}

// CloneRegion copies r and its nested regions, mapping labels and block ids.
func CloneRegion(r *ExceptionRegion, ci CloneInfo, blockMap map[BlockID]BlockID) *ExceptionRegion {
	return cloneRegion(r, nil, ci, blockMap)
}

func cloneRegion(r *ExceptionRegion, parent *ExceptionRegion, ci CloneInfo, blockMap map[BlockID]BlockID) *ExceptionRegion {
	out := &ExceptionRegion{
		Start:       cloneLabel(r.Start, ci),
		End:         cloneLabel(r.End, ci),
		FirstRescue: cloneLabel(r.FirstRescue, ci),
		Ensure:      cloneLabel(r.Ensure, ci),
		parent:      parent,
	}
	for _, id := range r.blocks {
		if mapped, ok := blockMap[id]; ok {
			out.blocks = append(out.blocks, mapped)
		}
	}
	for _, n := range r.nested {
		out.nested = append(out.nested, cloneRegion(n, out, ci, blockMap))
	}
	return out
}
