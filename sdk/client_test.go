package sdk_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
	"github.com/rafaeljc/heimdall-local/sdk"
)

// --- Fakes ---

type stubFetcher struct {
	calls   atomic.Int32
	release chan struct{}

	mu       sync.Mutex
	snapshot *flagdef.Snapshot
	err      error
}

func (f *stubFetcher) Fetch(ctx context.Context) (*sdk.FetchResult, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &sdk.FetchResult{Snapshot: f.snapshot}, nil
}

func (f *stubFetcher) set(snapshot *flagdef.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot, f.err = snapshot, err
}

type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) FlagCalled(_ context.Context, distinctID, key string, value sdk.Value, _ json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, distinctID+"/"+key+"/"+value.String())
}

func (r *recordingReporter) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// --- Helpers ---

func definitions() *flagdef.Snapshot {
	return &flagdef.Snapshot{
		Flags: []flagdef.FlagDefinition{
			{
				ID:     1,
				Key:    "beta",
				Active: true,
				Filters: flagdef.Filters{
					Groups:   []flagdef.ConditionGroup{{}},
					Payloads: map[string]json.RawMessage{"true": json.RawMessage(`{"color":"blue"}`)},
				},
			},
			{
				ID:      2,
				Key:     "off",
				Active:  false,
				Filters: flagdef.Filters{Groups: []flagdef.ConditionGroup{{}}},
			},
		},
	}
}

func newClient(t *testing.T, fetcher sdk.Fetcher, opts ...func(*sdk.Options)) *sdk.Client {
	t.Helper()

	options := sdk.Options{Fetcher: fetcher, PollInterval: time.Hour}
	for _, opt := range opts {
		opt(&options)
	}

	client, err := sdk.New(options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })
	return client
}

// --- Tests ---

func TestNew(t *testing.T) {
	t.Parallel()

	// Act
	client, err := sdk.New(sdk.Options{})

	// Assert
	assert.Nil(t, client)
	assert.ErrorIs(t, err, sdk.ErrMissingFetcher)
}

func TestClient_GetFeatureFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		key       string
		wantValue sdk.Value
		wantOK    bool
	}{
		{name: "Should enable a flag whose condition matches everyone", key: "beta", wantValue: flagdef.True, wantOK: true},
		{name: "Should disable an inactive flag", key: "off", wantValue: flagdef.False, wantOK: true},
		{name: "Should leave an unknown flag undecided", key: "missing", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			client := newClient(t, &stubFetcher{snapshot: definitions()})

			// Act
			value, ok := client.GetFeatureFlag(context.Background(), tt.key, sdk.Context{DistinctID: "user-1"})

			// Assert
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantValue, value)
			}
		})
	}
}

func TestClient_FirstUseTriggersSingleFetch(t *testing.T) {
	t.Parallel()

	// Arrange
	fetcher := &stubFetcher{snapshot: definitions(), release: make(chan struct{})}
	client := newClient(t, fetcher)

	const callers = 20
	var started sync.WaitGroup
	var wg sync.WaitGroup
	results := make([]bool, callers)

	// Act
	for i := range callers {
		started.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			results[i], _ = client.IsFeatureEnabled(context.Background(), "beta", sdk.Context{DistinctID: "user-1"})
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), fetcher.calls.Load())
	for _, enabled := range results {
		assert.True(t, enabled)
	}
}

func TestClient_FirstEvaluationFetchesOnce(t *testing.T) {
	t.Parallel()

	// Arrange
	fetcher := &stubFetcher{snapshot: definitions()}
	client := newClient(t, fetcher)

	// Act
	enabled, ok := client.IsFeatureEnabled(context.Background(), "beta", sdk.Context{DistinctID: "user-1"})
	time.Sleep(50 * time.Millisecond) // give the poller's initial cycle time to run

	// Assert
	assert.True(t, ok)
	assert.True(t, enabled)
	assert.Equal(t, int32(1), fetcher.calls.Load(), "first use and the poller must share one fetch")
}

func TestClient_GetFeatureFlagAndPayload(t *testing.T) {
	t.Parallel()

	// Arrange
	reporter := &recordingReporter{}
	client := newClient(t, &stubFetcher{snapshot: definitions()}, func(o *sdk.Options) { o.Reporter = reporter })

	tests := []struct {
		name        string
		key         string
		wantValue   sdk.Value
		wantPayload string
		wantOK      bool
	}{
		{name: "Should return the value and its payload", key: "beta", wantValue: flagdef.True, wantPayload: `{"color":"blue"}`, wantOK: true},
		{name: "Should return no payload for a disabled value", key: "off", wantValue: flagdef.False, wantOK: true},
		{name: "Should report unknown flags as undecided", key: "missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			value, payload, ok := client.GetFeatureFlagAndPayload(context.Background(), tt.key, sdk.Context{DistinctID: "user-1"})

			// Assert
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantValue, value)
			if tt.wantPayload == "" {
				assert.Nil(t, payload)
				return
			}
			assert.JSONEq(t, tt.wantPayload, string(payload))
		})
	}

	assert.Equal(t, []string{"user-1/beta/true", "user-1/off/false"}, reporter.recorded(), "each decided evaluation is reported once")
}

func TestClient_Readiness(t *testing.T) {
	t.Parallel()

	t.Run("Should become ready after the first load", func(t *testing.T) {
		t.Parallel()

		// Arrange
		client := newClient(t, &stubFetcher{snapshot: definitions()})
		loaded := make(chan int, 1)
		client.OnDefinitionsLoaded(func(count int) { loaded <- count })

		// Act
		ready := client.WaitUntilReady(time.Second)

		// Assert
		assert.True(t, ready)
		assert.True(t, client.IsReady())
		assert.Equal(t, 2, <-loaded)

		status := client.Status()
		assert.True(t, status.Ready)
		assert.Equal(t, 2, status.FlagCount)
		assert.Empty(t, status.CyclicFlags)
		assert.False(t, status.LoadedAt.IsZero())
	})

	t.Run("Should time out while the fetch keeps failing", func(t *testing.T) {
		t.Parallel()

		// Arrange
		client := newClient(t, &stubFetcher{err: errors.New("service down")})

		// Act
		ready := client.WaitUntilReady(50 * time.Millisecond)

		// Assert
		assert.False(t, ready)
		assert.False(t, client.Status().Ready)
	})
}

func TestClient_ReloadFeatureFlags(t *testing.T) {
	t.Parallel()

	// Arrange
	fetcher := &stubFetcher{snapshot: definitions()}
	client := newClient(t, fetcher)
	require.True(t, client.WaitUntilReady(time.Second))

	updated := definitions()
	updated.Flags[1].Active = true
	fetcher.set(updated, nil)

	// Act
	err := client.ReloadFeatureFlags(context.Background())

	// Assert
	require.NoError(t, err)
	enabled, ok := client.IsFeatureEnabled(context.Background(), "off", sdk.Context{DistinctID: "user-1"})
	assert.True(t, ok)
	assert.True(t, enabled)
}

func TestClient_ReloadFeatureFlags_KeepsLastGoodDefinitions(t *testing.T) {
	t.Parallel()

	// Arrange
	fetcher := &stubFetcher{snapshot: definitions()}
	client := newClient(t, fetcher)
	require.True(t, client.WaitUntilReady(time.Second))
	fetcher.set(nil, errors.New("service down"))

	// Act
	err := client.ReloadFeatureFlags(context.Background())

	// Assert
	assert.ErrorIs(t, err, sdk.ErrFetch)
	enabled, ok := client.IsFeatureEnabled(context.Background(), "beta", sdk.Context{DistinctID: "user-1"})
	assert.True(t, ok)
	assert.True(t, enabled)
}

func TestClient_GetAllFlagsAndPayloads(t *testing.T) {
	t.Parallel()

	// Arrange
	client := newClient(t, &stubFetcher{snapshot: definitions()})

	// Act
	values, payloads := client.GetAllFlagsAndPayloads(context.Background(), sdk.Context{DistinctID: "user-1"})

	// Assert
	assert.Equal(t, map[string]sdk.Value{"beta": flagdef.True, "off": flagdef.False}, values)
	require.Contains(t, payloads, "beta")
	assert.JSONEq(t, `{"color":"blue"}`, string(payloads["beta"]))
	assert.NotContains(t, payloads, "off")

	payload, ok := client.GetFeatureFlagPayload(context.Background(), "beta", sdk.Context{DistinctID: "user-1"})
	assert.True(t, ok)
	assert.JSONEq(t, `{"color":"blue"}`, string(payload))

	subset := client.GetAllFlags(context.Background(), sdk.Context{DistinctID: "user-1"}, "off", "missing")
	assert.Equal(t, map[string]sdk.Value{"off": flagdef.False}, subset)
}

func TestClient_Reporter(t *testing.T) {
	t.Parallel()

	// Arrange
	reporter := &recordingReporter{}
	client := newClient(t, &stubFetcher{snapshot: definitions()}, func(o *sdk.Options) { o.Reporter = reporter })

	// Act
	client.GetFeatureFlag(context.Background(), "beta", sdk.Context{DistinctID: "user-1"})
	client.GetFeatureFlag(context.Background(), "missing", sdk.Context{DistinctID: "user-1"})

	// Assert
	assert.Equal(t, []string{"user-1/beta/true"}, reporter.recorded())
}

func TestClient_IndependentInstances(t *testing.T) {
	t.Parallel()

	// Arrange
	first := newClient(t, &stubFetcher{snapshot: definitions()})
	other := definitions()
	other.Flags[0].Active = false
	second := newClient(t, &stubFetcher{snapshot: other})

	// Act
	firstEnabled, _ := first.IsFeatureEnabled(context.Background(), "beta", sdk.Context{DistinctID: "user-1"})
	secondEnabled, _ := second.IsFeatureEnabled(context.Background(), "beta", sdk.Context{DistinctID: "user-1"})

	// Assert
	assert.True(t, firstEnabled)
	assert.False(t, secondEnabled)
}

func TestClient_Shutdown(t *testing.T) {
	t.Parallel()

	// Arrange
	client, err := sdk.New(sdk.Options{Fetcher: &stubFetcher{snapshot: definitions()}, PollInterval: time.Hour})
	require.NoError(t, err)
	require.True(t, client.WaitUntilReady(time.Second))

	// Act
	first := client.Shutdown(context.Background())
	second := client.Shutdown(context.Background())

	// Assert
	assert.NoError(t, first)
	assert.NoError(t, second)
	assert.True(t, client.IsReady(), "readiness is never revoked")
}
