package flagdef

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Snapshot is the complete set of definitions delivered by one fetch.
// A snapshot must not be mutated after it has been handed to the store.
type Snapshot struct {
	Flags []FlagDefinition `json:"flags"`

	// GroupTypeMapping maps group type indexes ("0", "1", ...) to group type names.
	GroupTypeMapping map[string]string `json:"group_type_mapping,omitempty"`

	// Cohorts maps cohort ids to their property definitions.
	Cohorts map[string]PropertyGroup `json:"cohorts,omitempty"`
}

// FlagCount returns the number of definitions, tolerating a nil snapshot.
func (s *Snapshot) FlagCount() int {
	if s == nil {
		return 0
	}
	return len(s.Flags)
}

// GroupTypeName resolves an aggregation group type index.
func (s *Snapshot) GroupTypeName(index int) (string, bool) {
	if s == nil || s.GroupTypeMapping == nil {
		return "", false
	}
	name, ok := s.GroupTypeMapping[strconv.Itoa(index)]
	return name, ok
}

// Cohort returns the definition of the cohort with the given id.
func (s *Snapshot) Cohort(id string) (PropertyGroup, bool) {
	if s == nil || s.Cohorts == nil {
		return PropertyGroup{}, false
	}
	c, ok := s.Cohorts[id]
	return c, ok
}

// Merge returns a new snapshot containing every flag of s, with flags of
// newer overriding those sharing a key. Flags only present in s are kept.
// Group type mappings and cohorts are merged the same way.
func (s *Snapshot) Merge(newer *Snapshot) *Snapshot {
	if s == nil {
		return newer
	}
	if newer == nil {
		return s
	}

	out := &Snapshot{
		Flags:            make([]FlagDefinition, 0, len(s.Flags)+len(newer.Flags)),
		GroupTypeMapping: make(map[string]string, len(s.GroupTypeMapping)+len(newer.GroupTypeMapping)),
		Cohorts:          make(map[string]PropertyGroup, len(s.Cohorts)+len(newer.Cohorts)),
	}

	position := make(map[string]int, len(s.Flags))
	for _, f := range s.Flags {
		position[f.Key] = len(out.Flags)
		out.Flags = append(out.Flags, f)
	}
	for _, f := range newer.Flags {
		if i, ok := position[f.Key]; ok {
			out.Flags[i] = f
			continue
		}
		position[f.Key] = len(out.Flags)
		out.Flags = append(out.Flags, f)
	}

	for k, v := range s.GroupTypeMapping {
		out.GroupTypeMapping[k] = v
	}
	for k, v := range newer.GroupTypeMapping {
		out.GroupTypeMapping[k] = v
	}
	for k, v := range s.Cohorts {
		out.Cohorts[k] = v
	}
	for k, v := range newer.Cohorts {
		out.Cohorts[k] = v
	}

	return out
}

// Decode parses a snapshot document. Flags without a key are rejected.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode flag definitions: %w", err)
	}
	for i := range s.Flags {
		if s.Flags[i].Key == "" {
			return nil, fmt.Errorf("failed to decode flag definitions: flag at index %d has no key", i)
		}
	}
	return &s, nil
}

// Encode serializes the snapshot in the same shape Decode accepts.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flag definitions: %w", err)
	}
	return data, nil
}
