package ruleengine

import (
	"github.com/rafaeljc/heimdall-local/internal/depgraph"
	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

// FlagDependencyEvaluator checks the already computed result of another flag.
// The matcher key is the referenced flag id.
type FlagDependencyEvaluator struct{}

// Match implements Evaluator.
func (e *FlagDependencyEvaluator) Match(m flagdef.PropertyMatcher, input MatchInput) (bool, error) {
	if input.Resolve == nil {
		return false, inconclusive("flag dependency %s cannot be resolved", m.Key)
	}
	actual, ok := input.Resolve(m.Key)
	if !ok {
		return false, inconclusive("flag dependency %s has no local result", m.Key)
	}
	return depgraph.MatchFlagDependency(m.Value, actual), nil
}
