package flagdef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MatcherKind discriminates the PropertyMatcher union.
type MatcherKind string

const (
	// KindPerson compares a person property.
	KindPerson MatcherKind = "person"
	// KindGroup compares a property of the group the flag aggregates by.
	KindGroup MatcherKind = "group"
	// KindCohort checks membership of a cohort definition from the snapshot.
	KindCohort MatcherKind = "cohort"
	// KindFlag references the evaluated result of another flag.
	// Key holds the referenced flag id as a string.
	KindFlag MatcherKind = "flag"
)

// Known reports whether the kind is handled by the rule engine.
func (k MatcherKind) Known() bool {
	switch k {
	case KindPerson, KindGroup, KindCohort, KindFlag:
		return true
	}
	return false
}

// PropertyMatcher is a single targeting condition.
type PropertyMatcher struct {
	Kind     MatcherKind `json:"type"`
	Key      string      `json:"key"`
	Value    any         `json:"value"`
	Operator string      `json:"operator,omitempty"`
	Negation bool        `json:"negation,omitempty"`

	GroupTypeIndex *int `json:"group_type_index,omitempty"`
}

// UnmarshalJSON defaults an empty kind to KindPerson.
func (m *PropertyMatcher) UnmarshalJSON(data []byte) error {
	type plain PropertyMatcher
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Kind == "" {
		p.Kind = KindPerson
	}
	*m = PropertyMatcher(p)
	return nil
}

// GroupOperator combines the members of a PropertyGroup.
type GroupOperator string

const (
	OperatorAnd GroupOperator = "AND"
	OperatorOr  GroupOperator = "OR"
)

// PropertyGroup is a cohort definition: a tree of AND/OR groups whose leaves
// are property matchers.
type PropertyGroup struct {
	Type     GroupOperator
	Groups   []PropertyGroup
	Matchers []PropertyMatcher
}

type wirePropertyGroup struct {
	Type   GroupOperator     `json:"type"`
	Values []json.RawMessage `json:"values"`
}

// UnmarshalJSON splits the mixed "values" array into nested groups and matchers.
func (g *PropertyGroup) UnmarshalJSON(data []byte) error {
	var w wirePropertyGroup
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := PropertyGroup{Type: GroupOperator(strings.ToUpper(string(w.Type)))}
	if out.Type == "" {
		out.Type = OperatorAnd
	}

	for i, raw := range w.Values {
		if isGroup(raw) {
			var child PropertyGroup
			if err := json.Unmarshal(raw, &child); err != nil {
				return fmt.Errorf("property group value %d: %w", i, err)
			}
			out.Groups = append(out.Groups, child)
			continue
		}
		var m PropertyMatcher
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("property group value %d: %w", i, err)
		}
		out.Matchers = append(out.Matchers, m)
	}

	*g = out
	return nil
}

// MarshalJSON writes the group back in the wire shape.
func (g PropertyGroup) MarshalJSON() ([]byte, error) {
	values := make([]any, 0, len(g.Groups)+len(g.Matchers))
	for _, child := range g.Groups {
		values = append(values, child)
	}
	for _, m := range g.Matchers {
		values = append(values, m)
	}
	return json.Marshal(struct {
		Type   GroupOperator `json:"type"`
		Values []any         `json:"values"`
	}{Type: g.Type, Values: values})
}

func isGroup(raw json.RawMessage) bool {
	var probe struct {
		Values json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe.Values) > 0 && bytes.HasPrefix(bytes.TrimSpace(probe.Values), []byte("["))
}
