package runtime

import (
	"sync"

	"github.com/chazu/garnet/ir"
)

// Inline caching for method dispatch.
//
// Each call instruction gets its own cache. A cache moves through
// Empty -> Monomorphic -> Polymorphic -> Megamorphic; entries remember the
// class generation they were filled at, so redefining a method anywhere in
// the receiver's ancestry turns the entry into a miss.

// CacheState represents the current state of an inline cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // Single (class, method) cached
	CachePolymorphic                   // 2-6 entries in PIC
	CacheMegamorphic                   // Too many types, use full lookup
)

// MaxPICEntries is the maximum number of entries in a polymorphic inline cache.
const MaxPICEntries = 6

type cacheEntry struct {
	class      *Class
	generation uint64
	method     DynamicMethod
}

// InlineCache is the dispatch cache of one call site.
type InlineCache struct {
	mu      sync.Mutex
	state   CacheState
	entries [MaxPICEntries]cacheEntry
	count   int

	hits   uint64
	misses uint64
}

// Lookup returns the cached method for class, or nil on a miss.
func (ic *InlineCache) Lookup(class *Class) DynamicMethod {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.state == CacheMonomorphic || ic.state == CachePolymorphic {
		gen := class.Generation()
		for i := 0; i < ic.count; i++ {
			e := &ic.entries[i]
			if e.class == class && e.generation == gen {
				ic.hits++
				return e.method
			}
		}
	}
	ic.misses++
	return nil
}

// Update records a (class, method) pair, upgrading the state as needed.
// A stale entry for the same class is refreshed in place.
func (ic *InlineCache) Update(class *Class, method DynamicMethod) {
	if method == nil {
		return
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()
	entry := cacheEntry{class: class, generation: class.Generation(), method: method}

	for i := 0; i < ic.count; i++ {
		if ic.entries[i].class == class {
			ic.entries[i] = entry
			return
		}
	}

	switch ic.state {
	case CacheEmpty:
		ic.state = CacheMonomorphic
		ic.entries[0] = entry
		ic.count = 1
	case CacheMonomorphic, CachePolymorphic:
		if ic.count < MaxPICEntries {
			ic.entries[ic.count] = entry
			ic.count++
			ic.state = CachePolymorphic
			return
		}
		ic.state = CacheMegamorphic
		ic.entries = [MaxPICEntries]cacheEntry{}
		ic.count = 0
	case CacheMegamorphic:
	}
}

// State returns the cache state.
func (ic *InlineCache) State() CacheState {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.state
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *InlineCache) HitRate() float64 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	total := ic.hits + ic.misses
	if total == 0 {
		return 0
	}
	return float64(ic.hits) * 100 / float64(total)
}

// InlineCacheTable maps call instructions to their caches.
type InlineCacheTable struct {
	caches sync.Map // *ir.CallInstr -> *InlineCache
}

// For returns the cache of call, creating it on first use.
func (t *InlineCacheTable) For(call *ir.CallInstr) *InlineCache {
	if c, ok := t.caches.Load(call); ok {
		return c.(*InlineCache)
	}
	c, _ := t.caches.LoadOrStore(call, &InlineCache{})
	return c.(*InlineCache)
}

// Stats returns how many caches are in each state.
func (t *InlineCacheTable) Stats() (mono, poly, mega int) {
	t.caches.Range(func(_, v any) bool {
		switch v.(*InlineCache).State() {
		case CacheMonomorphic:
			mono++
		case CachePolymorphic:
			poly++
		case CacheMegamorphic:
			mega++
		}
		return true
	})
	return
}
