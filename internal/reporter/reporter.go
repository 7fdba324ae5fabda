// Package reporter emits "$feature_flag_called" events for local evaluations.
// Each (distinct id, flag, value) combination is reported once per TTL window.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
	"github.com/rafaeljc/heimdall-local/internal/observability"
)

// FlagCalledEvent is the name of the emitted event.
const FlagCalledEvent = "$feature_flag_called"

const (
	// DefaultCapacity bounds the dedupe cache.
	DefaultCapacity = 50_000
	// DefaultTTL is how long a reported combination stays deduplicated.
	DefaultTTL = time.Hour
)

// Event is one flag-called event.
type Event struct {
	UUID       string         `json:"uuid"`
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink delivers events. Implementations own batching and transport.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// Options configures a Reporter.
type Options struct {
	Capacity int
	TTL      time.Duration

	// IncludePayload adds the evaluated payload to event properties.
	IncludePayload bool
}

// Reporter deduplicates and forwards flag-called events to a Sink.
type Reporter struct {
	logger         *slog.Logger
	sink           Sink
	seen           otter.Cache[string, struct{}]
	includePayload bool
	now            func() time.Time
}

// New creates a Reporter. The sink is required.
func New(logger *slog.Logger, sink Sink, opts Options) (*Reporter, error) {
	if sink == nil {
		panic("reporter: sink cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	seen, err := otter.MustBuilder[string, struct{}](opts.Capacity).WithTTL(opts.TTL).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build dedupe cache: %w", err)
	}

	return &Reporter{
		logger:         logger,
		sink:           sink,
		seen:           seen,
		includePayload: opts.IncludePayload,
		now:            time.Now,
	}, nil
}

// FlagCalled reports that key evaluated to value for distinctID. Repeated
// combinations within the TTL are dropped. Delivery errors are logged, never returned.
func (r *Reporter) FlagCalled(ctx context.Context, distinctID, key string, value flagdef.Value, payload json.RawMessage) {
	dedupeKey := strings.Join([]string{distinctID, key, value.String()}, "\x00")
	if !r.seen.SetIfAbsent(dedupeKey, struct{}{}) {
		observability.ReporterEventsTotal.WithLabelValues("deduplicated").Inc()
		return
	}
	observability.ReporterDedupeItems.Set(float64(r.seen.Size()))

	props := map[string]any{
		"$feature_flag":          key,
		"$feature_flag_response": value.Interface(),
		"locally_evaluated":      true,
	}
	if r.includePayload && len(payload) > 0 {
		props["$feature_flag_payload"] = payload
	}

	event := Event{
		UUID:       uuid.NewString(),
		Event:      FlagCalledEvent,
		DistinctID: distinctID,
		Properties: props,
		Timestamp:  r.now().UTC(),
	}

	if err := r.sink.Send(ctx, event); err != nil {
		// Forget the combination so the next evaluation retries.
		r.seen.Delete(dedupeKey)
		observability.ReporterEventsTotal.WithLabelValues("fail").Inc()
		r.logger.Warn("failed to report flag call",
			slog.String("flag", key),
			slog.Any("error", err),
		)
		return
	}
	observability.ReporterEventsTotal.WithLabelValues("sent").Inc()
}

// Close releases the dedupe cache.
func (r *Reporter) Close() {
	r.seen.Close()
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs each event at Info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Send implements Sink.
func (s *LogSink) Send(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "feature flag called",
		slog.String("uuid", event.UUID),
		slog.String("distinct_id", event.DistinctID),
		slog.Any("flag", event.Properties["$feature_flag"]),
		slog.Any("response", event.Properties["$feature_flag_response"]),
	)
	return nil
}
