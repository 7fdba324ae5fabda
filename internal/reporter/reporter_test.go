package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestReporter(t *testing.T, sink Sink, opts Options) *Reporter {
	t.Helper()
	r, err := New(nil, sink, opts)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestReporter_FlagCalled(t *testing.T) {
	t.Parallel()

	t.Run("Should emit the flag called event", func(t *testing.T) {
		t.Parallel()

		// Arrange
		sink := &recordingSink{}
		r := newTestReporter(t, sink, Options{IncludePayload: true})
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		r.now = func() time.Time { return fixed }

		// Act
		r.FlagCalled(context.Background(), "user-1", "checkout", flagdef.VariantValue("blue"), json.RawMessage(`{"color":"blue"}`))

		// Assert
		require.Equal(t, 1, sink.count())
		event := sink.events[0]
		assert.Equal(t, FlagCalledEvent, event.Event)
		assert.Equal(t, "user-1", event.DistinctID)
		assert.Equal(t, fixed, event.Timestamp)
		assert.NotEmpty(t, event.UUID)
		assert.Equal(t, "checkout", event.Properties["$feature_flag"])
		assert.Equal(t, "blue", event.Properties["$feature_flag_response"])
		assert.JSONEq(t, `{"color":"blue"}`, string(event.Properties["$feature_flag_payload"].(json.RawMessage)))
	})

	t.Run("Should deduplicate identical combinations", func(t *testing.T) {
		t.Parallel()

		// Arrange
		sink := &recordingSink{}
		r := newTestReporter(t, sink, Options{})

		// Act
		for range 5 {
			r.FlagCalled(context.Background(), "user-1", "checkout", flagdef.True, nil)
		}
		r.FlagCalled(context.Background(), "user-1", "checkout", flagdef.False, nil)
		r.FlagCalled(context.Background(), "user-2", "checkout", flagdef.True, nil)

		// Assert
		assert.Equal(t, 3, sink.count())
		_, hasPayload := sink.events[0].Properties["$feature_flag_payload"]
		assert.False(t, hasPayload)
	})

	t.Run("Should retry combinations whose delivery failed", func(t *testing.T) {
		t.Parallel()

		// Arrange
		sink := &recordingSink{err: errors.New("network down")}
		r := newTestReporter(t, sink, Options{})

		// Act
		r.FlagCalled(context.Background(), "user-1", "checkout", flagdef.True, nil)
		sink.mu.Lock()
		sink.err = nil
		sink.mu.Unlock()
		r.FlagCalled(context.Background(), "user-1", "checkout", flagdef.True, nil)

		// Assert
		assert.Equal(t, 1, sink.count())
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("Should panic when sink is nil", func(t *testing.T) {
		t.Parallel()

		assert.PanicsWithValue(t, "reporter: sink cannot be nil", func() {
			_, _ = New(nil, nil, Options{})
		})
	})
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	// Arrange
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	// Act
	err := sink.Send(context.Background(), Event{
		UUID:       "id-1",
		DistinctID: "user-1",
		Properties: map[string]any{"$feature_flag": "checkout", "$feature_flag_response": true},
	})

	// Assert
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "feature flag called")
	assert.Contains(t, buf.String(), "flag=checkout")
	assert.Contains(t, buf.String(), "distinct_id=user-1")
}
