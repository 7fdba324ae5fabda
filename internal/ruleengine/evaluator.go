package ruleengine

import "github.com/rafaeljc/heimdall-local/internal/flagdef"

// Evaluator is implemented by every matcher strategy.
type Evaluator interface {
	// Match reports whether the matcher holds for the input.
	// An *InconclusiveMatchError means the answer cannot be decided locally.
	Match(m flagdef.PropertyMatcher, input MatchInput) (bool, error)
}

// MatchInput is everything a strategy may consult.
type MatchInput struct {
	// FlagKey is the flag whose conditions are being evaluated.
	FlagKey string

	Context  Context
	Snapshot *flagdef.Snapshot

	// AggregationGroup is the group type name of a group flag, empty otherwise.
	AggregationGroup string

	// Resolve returns the result already computed in this pass for the flag
	// with the given id. ok is false when the flag was not evaluated.
	Resolve func(id string) (flagdef.Value, bool)
}

// properties returns the property bag a matcher reads from.
func (in MatchInput) properties(m flagdef.PropertyMatcher) map[string]any {
	if m.Kind != flagdef.KindGroup {
		return in.Context.PersonProperties
	}

	group := in.AggregationGroup
	if m.GroupTypeIndex != nil {
		if name, ok := in.Snapshot.GroupTypeName(*m.GroupTypeIndex); ok {
			group = name
		}
	}
	return in.Context.GroupProperties[group]
}
