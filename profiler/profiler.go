// Package profiler drives inlining from call-site profiles.
//
// The interpreter reports every dispatched call and every poll point. Each
// period of ticks the profiler looks at the call sites seen since the last
// analysis, picks the hot monomorphic ones and asks the inliner to splice
// their targets into the calling scope. Analysis waits until the program
// has stopped defining methods for a few periods, so startup code is not
// inlined only to be invalidated.
package profiler

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/garnet/inline"
	"github.com/chazu/garnet/ir"
	"github.com/chazu/garnet/runtime"
)

var log = commonlog.GetLogger("garnet.profiler")

// Options tunes the analysis.
type Options struct {
	// Period is the number of ticks between analyses.
	Period int64
	// QuiescentPeriods is how many consecutive periods without code
	// modifications end the bootstrapping phase.
	QuiescentPeriods int
	MaxCandidates    int
	// CumulativeCutoff stops analysis once the inlined sites account for
	// this share of all calls.
	CumulativeCutoff float64
	// MinShare is the smallest share of all calls worth inlining.
	MinShare float64
	// TickReset is the tick count at which the counter wraps to zero.
	TickReset int64
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Period:           20000,
		QuiescentPeriods: 3,
		MaxCandidates:    100,
		CumulativeCutoff: 0.99,
		MinShare:         0.01,
		TickReset:        1000000,
	}
}

// Profiler implements runtime.CallProfiler.
type Profiler struct {
	opts    Options
	inliner *inline.Inliner

	sites         sync.Map // site id -> *CallSiteProfile
	ticks         atomic.Int64
	modifications atomic.Int64
	analyses      atomic.Uint64

	analyzeMu sync.Mutex
	quiescent int
}

// New creates a profiler that inlines with inliner.
func New(inliner *inline.Inliner, opts Options) *Profiler {
	d := DefaultOptions()
	if opts.Period <= 0 {
		opts.Period = d.Period
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = d.MaxCandidates
	}
	if opts.CumulativeCutoff <= 0 {
		opts.CumulativeCutoff = d.CumulativeCutoff
	}
	if opts.TickReset <= 0 {
		opts.TickReset = d.TickReset
	}
	if inliner == nil {
		inliner = inline.New(0)
	}
	return &Profiler{opts: opts, inliner: inliner}
}

// Ticks returns the current tick counter.
func (p *Profiler) Ticks() int64 { return p.ticks.Load() }

// Analyses returns how many analyses have run, bootstrapping ones included.
func (p *Profiler) Analyses() uint64 { return p.analyses.Load() }

// Modifications returns the code modifications seen in this window.
func (p *Profiler) Modifications() int64 { return p.modifications.Load() }

// ClockTick advances the tick counter and runs an analysis every period.
func (p *Profiler) ClockTick() {
	n := p.ticks.Add(1)
	if n%p.opts.Period == 0 {
		p.Analyze()
	}
	if n >= p.opts.TickReset {
		p.ticks.CompareAndSwap(n, 0)
	}
}

// CodeModified counts a structural change to the program.
func (p *Profiler) CodeModified() {
	p.modifications.Add(1)
}

// RecordCall counts one dispatch of call, made from ic, to target.
func (p *Profiler) RecordCall(ic *ir.InterpreterContext, call *ir.CallInstr, target runtime.DynamicMethod, recvClass *runtime.Class) {
	if call.DontInline {
		return
	}
	v, ok := p.sites.Load(call.SiteID)
	if !ok {
		v, _ = p.sites.LoadOrStore(call.SiteID, NewCallSiteProfile(IRCallSite{Scope: ic.Scope, Call: call}))
	}
	irm, _ := target.(runtime.IRMethod)
	v.(*CallSiteProfile).Observe(irm, recvClass, 1)
}

// Profile returns the current profile of a call site, or nil.
func (p *Profiler) Profile(siteID int64) *CallSiteProfile {
	if v, ok := p.sites.Load(siteID); ok {
		return v.(*CallSiteProfile)
	}
	return nil
}

// Failure is a candidate the inliner refused.
type Failure struct {
	Site IRCallSite
	Err  error
}

// AnalysisReport describes one analysis.
type AnalysisReport struct {
	// Bootstrapping is set when analysis was skipped because code was
	// still being defined.
	Bootstrapping bool
	Sites         int
	TotalCalls    uint64
	Candidates    []*CallSiteProfile
	Inlined       []IRCallSite
	Failures      []Failure
	// Mutated lists each changed scope once.
	Mutated []*ir.Scope
}

type candidate struct {
	profile *CallSiteProfile
	target  Target
}

// Analyze inlines the hot monomorphic call sites seen since the last
// analysis and starts a new observation window. It returns nil when another
// analysis is already running.
func (p *Profiler) Analyze() *AnalysisReport {
	if !p.analyzeMu.TryLock() {
		return nil
	}
	defer p.analyzeMu.Unlock()
	defer p.resetWindow()
	p.analyses.Add(1)

	report := &AnalysisReport{}
	if p.stillBootstrapping() {
		report.Bootstrapping = true
		log.Debugf("skipping analysis, code is still changing")
		return report
	}

	var cands []candidate
	p.sites.Range(func(_, v any) bool {
		prof := v.(*CallSiteProfile)
		report.Sites++
		report.TotalCalls += prof.Total()
		if c, ok := p.eligible(prof); ok {
			cands = append(cands, c)
		}
		return true
	})
	if report.TotalCalls == 0 {
		return report
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.target.Hits, a.target.Hits); c != 0 {
			return c
		}
		return cmp.Compare(a.profile.Site.ID(), b.profile.Site.ID())
	})

	mutated := make(map[*ir.Scope]bool)
	var covered uint64
	total := float64(report.TotalCalls)
	for i, c := range cands {
		if i >= p.opts.MaxCandidates {
			break
		}
		if float64(c.target.Hits)/total < p.opts.MinShare {
			break
		}
		report.Candidates = append(report.Candidates, c.profile)

		site := c.profile.Site
		class := c.target.Class
		err := p.inliner.InlineMethod(site.Scope, c.target.Method.Scope(), site.Call, class, class.Generation())
		if err != nil {
			report.Failures = append(report.Failures, Failure{Site: site, Err: err})
		} else {
			report.Inlined = append(report.Inlined, site)
			if !mutated[site.Scope] {
				mutated[site.Scope] = true
				report.Mutated = append(report.Mutated, site.Scope)
			}
		}

		covered += c.target.Hits
		if float64(covered)/total > p.opts.CumulativeCutoff {
			break
		}
	}

	for _, s := range report.Mutated {
		s.Invalidate()
	}
	if len(report.Inlined) > 0 {
		log.Infof("inlined %d of %d candidate call sites into %d scopes", len(report.Inlined), len(report.Candidates), len(report.Mutated))
	}
	return report
}

// eligible reports whether a profiled site can be inlined.
func (p *Profiler) eligible(prof *CallSiteProfile) (candidate, bool) {
	site := prof.Site
	if site.Call.DontInline || !site.Scope.IsFullyBuilt() {
		return candidate{}, false
	}
	t, ok := prof.MonomorphicTarget()
	if !ok || t.Class == nil {
		return candidate{}, false
	}
	if !t.Method.Scope().IsFullyBuilt() {
		return candidate{}, false
	}
	// The target must still be what the receiver class dispatches to.
	if live, ok := t.Class.FindMethod(site.Call.Name).(runtime.IRMethod); !ok || live.Scope() != t.Method.Scope() {
		return candidate{}, false
	}
	return candidate{profile: prof, target: t}, true
}

// stillBootstrapping counts quiescent periods. Must hold analyzeMu.
func (p *Profiler) stillBootstrapping() bool {
	if p.modifications.Swap(0) == 0 {
		p.quiescent++
	} else {
		p.quiescent = 0
	}
	return p.quiescent < p.opts.QuiescentPeriods
}

func (p *Profiler) resetWindow() {
	p.modifications.Store(0)
	p.sites.Range(func(k, _ any) bool {
		p.sites.Delete(k)
		return true
	})
}
