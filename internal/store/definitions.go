// Package store holds the flag definitions currently used for local evaluation.
// The snapshot and the graph derived from it are published together as one
// immutable State, swapped atomically so readers never see a half-built graph.
package store

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rafaeljc/heimdall-local/internal/depgraph"
	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

// State is an evaluation-ready view of one snapshot. It must be treated as
// read-only; evaluations work on FilterByKeys copies of Graph.
type State struct {
	Snapshot *flagdef.Snapshot
	Graph    *depgraph.Graph
	IDToKey  map[string]string

	// Removed lists the flags dropped from Graph because of cyclic dependencies.
	Removed []string

	LoadedAt time.Time

	byKey map[string]*flagdef.FlagDefinition
}

// Flag returns the definition for key. Flags removed from the graph are still
// returned here; use Evaluable to know whether a flag can be evaluated.
func (s *State) Flag(key string) (*flagdef.FlagDefinition, bool) {
	if s == nil {
		return nil, false
	}
	def, ok := s.byKey[key]
	return def, ok
}

// Evaluable reports whether key is present in the acyclic graph.
func (s *State) Evaluable(key string) bool {
	return s != nil && s.Graph.Has(key)
}

// Keys returns the keys of every evaluable flag, sorted.
func (s *State) Keys() []string {
	if s == nil {
		return nil
	}
	return s.Graph.Keys()
}

// FlagCount returns the number of definitions in the snapshot.
func (s *State) FlagCount() int {
	if s == nil {
		return 0
	}
	return s.Snapshot.FlagCount()
}

// DefinitionStore publishes the current State.
type DefinitionStore struct {
	logger  *slog.Logger
	current atomic.Pointer[State]
	now     func() time.Time
}

// New creates an empty store.
func New(logger *slog.Logger) *DefinitionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefinitionStore{logger: logger, now: time.Now}
}

// Swap builds the graph for snapshot and makes it the current state.
// Flags removed because of cycles are logged.
func (s *DefinitionStore) Swap(snapshot *flagdef.Snapshot) *State {
	if snapshot == nil {
		snapshot = &flagdef.Snapshot{}
	}

	result := depgraph.Build(snapshot.Flags)
	if len(result.Removed) > 0 {
		s.logger.Warn("flags disabled due to cyclic dependencies",
			slog.Any("flags", result.Removed),
		)
	}

	byKey := make(map[string]*flagdef.FlagDefinition, len(snapshot.Flags))
	for i := range snapshot.Flags {
		byKey[snapshot.Flags[i].Key] = &snapshot.Flags[i]
	}

	next := &State{
		Snapshot: snapshot,
		Graph:    result.Graph,
		IDToKey:  result.IDToKey,
		Removed:  result.Removed,
		LoadedAt: s.now(),
		byKey:    byKey,
	}
	s.current.Store(next)

	s.logger.Debug("flag definitions swapped",
		slog.Int("flags", snapshot.FlagCount()),
		slog.Int("evaluable", result.Graph.Len()),
	)
	return next
}

// Current returns the current state, or nil before the first Swap.
func (s *DefinitionStore) Current() *State {
	return s.current.Load()
}

// FlagCount returns the number of flags currently held, zero before the first Swap.
func (s *DefinitionStore) FlagCount() int {
	return s.Current().FlagCount()
}
