package profiler

import (
	"sync"

	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/runtime"
)

// IRCallSite identifies a call instruction in the scope that contains it.
type IRCallSite struct {
	Scope *ir.Scope
	Call  *ir.CallInstr
}

// ID is the call's site id, which survives instruction renaming.
func (s IRCallSite) ID() int64 { return s.Call.SiteID }

func (s IRCallSite) String() string {
	return s.Scope.String() + ":" + s.Call.Name
}

// CallSiteProfile counts the targets one call site dispatched to during
// the current observation window.
type CallSiteProfile struct {
	Site IRCallSite

	mu      sync.Mutex
	targets map[*ir.Scope]*targetProfile
	// native counts dispatches to methods without an IR body.
	native uint64
}

type targetProfile struct {
	method  runtime.IRMethod
	hits    uint64
	classes map[*runtime.Class]uint64
}

// Target is the monomorphic target of a call site.
type Target struct {
	Method runtime.IRMethod
	// Class is the receiver class seen most often.
	Class *runtime.Class
	Hits  uint64
}

// NewCallSiteProfile starts an empty profile for site.
func NewCallSiteProfile(site IRCallSite) *CallSiteProfile {
	return &CallSiteProfile{Site: site, targets: make(map[*ir.Scope]*targetProfile)}
}

// Observe records n dispatches of the site to target with a receiver of
// class recvClass. A nil target is a method without an IR body.
func (p *CallSiteProfile) Observe(target runtime.IRMethod, recvClass *runtime.Class, n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if target == nil {
		p.native += n
		return
	}
	t := p.targets[target.Scope()]
	if t == nil {
		t = &targetProfile{method: target, classes: make(map[*runtime.Class]uint64)}
		p.targets[target.Scope()] = t
	}
	t.method = target
	t.hits += n
	t.classes[recvClass] += n
}

// Total returns the number of recorded dispatches.
func (p *CallSiteProfile) Total() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.native
	for _, t := range p.targets {
		total += t.hits
	}
	return total
}

// IsMonomorphic reports whether exactly one target scope was hit.
func (p *CallSiteProfile) IsMonomorphic() bool {
	_, ok := p.MonomorphicTarget()
	return ok
}

// MonomorphicTarget returns the single IR target of the site.
func (p *CallSiteProfile) MonomorphicTarget() (Target, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.native > 0 {
		return Target{}, false
	}
	var found *targetProfile
	for _, t := range p.targets {
		if t.hits == 0 {
			continue
		}
		if found != nil {
			return Target{}, false
		}
		found = t
	}
	if found == nil {
		return Target{}, false
	}
	var class *runtime.Class
	var best uint64
	for c, n := range found.classes {
		if n > best || (n == best && class != nil && c.Name() < class.Name()) {
			class, best = c, n
		}
	}
	return Target{Method: found.method, Class: class, Hits: found.hits}, true
}
