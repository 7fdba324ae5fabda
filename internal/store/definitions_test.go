package store

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

func dependentFlag(id int64, key, ref string) flagdef.FlagDefinition {
	return flagdef.FlagDefinition{
		ID:     id,
		Key:    key,
		Active: true,
		Filters: flagdef.Filters{Groups: []flagdef.ConditionGroup{{
			Properties: []flagdef.PropertyMatcher{{Kind: flagdef.KindFlag, Key: ref, Value: true}},
		}}},
	}
}

func TestDefinitionStore_Swap(t *testing.T) {
	t.Parallel()

	t.Run("Should start empty", func(t *testing.T) {
		t.Parallel()

		s := New(nil)

		assert.Nil(t, s.Current())
		assert.Equal(t, 0, s.FlagCount())
	})

	t.Run("Should publish graph and lookups together", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		s := New(slog.New(slog.NewTextHandler(&buf, nil)))
		snap := &flagdef.Snapshot{Flags: []flagdef.FlagDefinition{
			dependentFlag(1, "flagA", "2"),
			dependentFlag(2, "flagB", "1"),
			{ID: 3, Key: "flagC", Active: true},
		}}

		// Act
		state := s.Swap(snap)

		// Assert
		require.Same(t, state, s.Current())
		assert.Equal(t, 3, s.FlagCount())
		assert.Equal(t, []string{"flagC"}, state.Keys())
		assert.Equal(t, []string{"flagA", "flagB"}, state.Removed)
		assert.False(t, state.Evaluable("flagA"))

		def, ok := state.Flag("flagA")
		require.True(t, ok, "removed flags keep their definition")
		assert.Equal(t, int64(1), def.ID)

		assert.Contains(t, buf.String(), "flags disabled due to cyclic dependencies")
	})

	t.Run("Should treat a nil snapshot as empty", func(t *testing.T) {
		t.Parallel()

		s := New(nil)
		state := s.Swap(nil)

		require.NotNil(t, state)
		assert.Equal(t, 0, state.FlagCount())
	})
}

func TestDefinitionStore_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Swap(&flagdef.Snapshot{Flags: []flagdef.FlagDefinition{{ID: 1, Key: "a"}}})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				s.Swap(&flagdef.Snapshot{Flags: []flagdef.FlagDefinition{{ID: 1, Key: "a"}, {ID: 2, Key: "b"}}})
				return
			}
			state := s.Current()
			assert.Equal(t, state.FlagCount(), len(state.Snapshot.Flags))
			assert.True(t, state.Evaluable("a"))
		}(i)
	}
	wg.Wait()
}
