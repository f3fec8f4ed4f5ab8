// Package passes holds the compiler passes run on a scope's CFG when the
// scope is fully built: local-variable usage, liveness, dead-copy
// elimination and call-protocol insertion.
package passes

import (
	"fmt"

	"github.com/chazu/garnet/ir"
)

// Pass transforms or analyzes a CFG. Passes run under the scope lock.
type Pass interface {
	Name() string
	Run(scope *ir.Scope, cfg *ir.CFG) error
}

// Pipeline runs passes in order.
type Pipeline struct {
	passes []Pass
}

// NewPipeline creates a pipeline of the given passes.
func NewPipeline(passes ...Pass) *Pipeline {
	return &Pipeline{passes: passes}
}

// DefaultPipeline is the full-build pipeline.
func DefaultPipeline() *Pipeline {
	return NewPipeline(
		LocalVariableUsage{},
		LiveVariables{},
		DeadCopyElimination{},
		CallProtocol{},
	)
}

// Passes returns the pass names in order.
func (p *Pipeline) Passes() []string {
	names := make([]string, len(p.passes))
	for i, pass := range p.passes {
		names[i] = pass.Name()
	}
	return names
}

// Run executes the pipeline on scope and marks it fully built. A scope that
// is already fully built is left alone, so concurrent callers that raced
// to the build threshold run the pipeline once.
func (p *Pipeline) Run(scope *ir.Scope) error {
	if scope.IsFullyBuilt() {
		return nil
	}
	ran := false
	err := scope.Mutate(func(cfg *ir.CFG) error {
		if scope.IsFullyBuilt() {
			return nil
		}
		for _, pass := range p.passes {
			if err := pass.Run(scope, cfg); err != nil {
				return fmt.Errorf("%s on %s: %w", pass.Name(), scope.Name, err)
			}
		}
		ran = true
		return cfg.Validate()
	})
	if err != nil {
		return err
	}
	if ran {
		scope.MarkFullyBuilt()
	}
	return nil
}
