// Package ruleengine evaluates flag definitions locally.
//
// Matchers are dispatched to strategies keyed by matcher kind (property,
// cohort, flag dependency). Flags are evaluated in dependency order over a
// per-call copy of the dependency graph, which doubles as the memo table for
// that call.
package ruleengine

// Context is the data supplied with a flag check. It is never persisted.
type Context struct {
	// DistinctID identifies the person being evaluated. Required.
	DistinctID string `json:"distinct_id"`

	// Groups maps group type names (e.g. "company") to the group key.
	Groups map[string]string `json:"groups,omitempty"`

	// PersonProperties are the known properties of the person.
	PersonProperties map[string]any `json:"person_properties,omitempty"`

	// GroupProperties are keyed by group type name.
	GroupProperties map[string]map[string]any `json:"group_properties,omitempty"`
}
