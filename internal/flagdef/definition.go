// Package flagdef defines the flag definition model used by local evaluation.
// Definitions are the stored targeting rules of a flag, not its evaluated result.
package flagdef

import (
	"encoding/json"
	"strconv"
)

// FlagDefinition mirrors a single flag entry of the local evaluation payload.
// ID is stable across renames; Key is the human-readable identifier used by the public API.
type FlagDefinition struct {
	ID      int64  `json:"id"`
	Key     string `json:"key"`
	Name    string `json:"name,omitempty"`
	Active  bool   `json:"active"`
	Deleted bool   `json:"deleted,omitempty"`

	// RolloutPercentage is the legacy flag-wide rollout. It only applies when
	// the flag has no condition groups.
	RolloutPercentage *float64 `json:"rollout_percentage,omitempty"`

	// EnsureExperienceContinuity flags depend on server-side state and cannot
	// be decided locally.
	EnsureExperienceContinuity bool `json:"ensure_experience_continuity,omitempty"`

	Filters Filters `json:"filters"`
}

// Filters holds the targeting configuration of a flag.
type Filters struct {
	// AggregationGroupTypeIndex turns the flag into a group flag. The index is
	// resolved to a group type name through the snapshot's group type mapping.
	AggregationGroupTypeIndex *int `json:"aggregation_group_type_index,omitempty"`

	Groups       []ConditionGroup `json:"groups,omitempty"`
	Multivariate *Multivariate    `json:"multivariate,omitempty"`

	// Payloads are keyed by variant key, or by "true" for boolean flags.
	Payloads map[string]json.RawMessage `json:"payloads,omitempty"`
}

// ConditionGroup is an AND of property matchers gated by an optional rollout.
type ConditionGroup struct {
	Properties        []PropertyMatcher `json:"properties,omitempty"`
	RolloutPercentage *float64          `json:"rollout_percentage,omitempty"`
	Variant           *string           `json:"variant,omitempty"`
}

// Multivariate lists the variants of a multivariate flag.
type Multivariate struct {
	Variants []Variant `json:"variants"`
}

// Variant is one arm of a multivariate flag.
type Variant struct {
	Key               string  `json:"key"`
	Name              string  `json:"name,omitempty"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

// IDString returns the id in the form used by flag-dependency matchers.
func (d *FlagDefinition) IDString() string {
	return strconv.FormatInt(d.ID, 10)
}

// Variants returns the multivariate variants, or nil for boolean flags.
func (d *FlagDefinition) Variants() []Variant {
	if d.Filters.Multivariate == nil {
		return nil
	}
	return d.Filters.Multivariate.Variants
}

// HasVariant reports whether key names one of the flag's variants.
func (d *FlagDefinition) HasVariant(key string) bool {
	for _, v := range d.Variants() {
		if v.Key == key {
			return true
		}
	}
	return false
}

// ConditionGroups returns the groups to evaluate. A flag without groups but
// with a legacy rollout percentage behaves like a single unconditioned group.
func (d *FlagDefinition) ConditionGroups() []ConditionGroup {
	if len(d.Filters.Groups) == 0 && d.RolloutPercentage != nil {
		return []ConditionGroup{{RolloutPercentage: d.RolloutPercentage}}
	}
	return d.Filters.Groups
}

// DependencyIDs returns the ids referenced by flag-type matchers, in
// declaration order and without duplicates.
func (d *FlagDefinition) DependencyIDs() []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, group := range d.Filters.Groups {
		for _, m := range group.Properties {
			if m.Kind != KindFlag {
				continue
			}
			if _, ok := seen[m.Key]; ok {
				continue
			}
			seen[m.Key] = struct{}{}
			ids = append(ids, m.Key)
		}
	}
	return ids
}

// Payload returns the payload stored under the given lookup key.
func (d *FlagDefinition) Payload(key string) (json.RawMessage, bool) {
	if d.Filters.Payloads == nil {
		return nil, false
	}
	p, ok := d.Filters.Payloads[key]
	if !ok || len(p) == 0 || string(p) == "null" {
		return nil, false
	}
	return p, true
}
