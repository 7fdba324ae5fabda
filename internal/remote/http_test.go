package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitionsBody = `{
	"flags": [
		{"id": 1, "key": "beta-feature", "active": true, "filters": {"groups": [{"properties": [], "rollout_percentage": 100}]}},
		{"id": 2, "key": "dark-mode", "active": false, "filters": {}}
	],
	"group_type_mapping": {"0": "company"},
	"cohorts": {}
}`

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *HTTPFetcher {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	fetcher, err := NewHTTPFetcher(nil, HTTPOptions{
		BaseURL:        server.URL,
		ProjectToken:   "phc_project",
		PersonalAPIKey: "phx_secret",
		MaxRetries:     2,
		RetryBackoff:   time.Millisecond,
		Client:         server.Client(),
	})
	require.NoError(t, err)
	return fetcher
}

func TestNewHTTPFetcher(t *testing.T) {
	t.Parallel()

	t.Run("Should reject base URLs without host", func(t *testing.T) {
		t.Parallel()

		_, err := NewHTTPFetcher(nil, HTTPOptions{BaseURL: "not a url"})

		assert.Error(t, err)
	})

	t.Run("Should build the local evaluation endpoint", func(t *testing.T) {
		t.Parallel()

		fetcher, err := NewHTTPFetcher(nil, HTTPOptions{BaseURL: "https://flags.example.com/", ProjectToken: "abc"})

		require.NoError(t, err)
		assert.Equal(t, "https://flags.example.com/api/feature_flag/local_evaluation?send_cohorts=true&token=abc", fetcher.endpoint)
	})
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	t.Parallel()

	t.Run("Should authenticate and decode the definitions", func(t *testing.T) {
		t.Parallel()

		// Arrange
		fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, LocalEvaluationPath, r.URL.Path)
			assert.Equal(t, "phc_project", r.URL.Query().Get("token"))
			assert.Equal(t, "Bearer phx_secret", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(definitionsBody))
		})

		// Act
		result, err := fetcher.Fetch(context.Background())

		// Assert
		require.NoError(t, err)
		require.NotNil(t, result.Snapshot)
		assert.False(t, result.NotModified)
		assert.False(t, result.ErrorsWhileComputing)
		assert.Equal(t, 2, result.Snapshot.FlagCount())
		assert.Equal(t, "company", result.Snapshot.GroupTypeMapping["0"])
	})

	t.Run("Should send the last ETag and report not modified", func(t *testing.T) {
		t.Parallel()

		// Arrange
		fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(definitionsBody))
		})

		// Act
		first, err := fetcher.Fetch(context.Background())
		require.NoError(t, err)
		second, err := fetcher.Fetch(context.Background())
		require.NoError(t, err)

		// Assert
		assert.False(t, first.NotModified)
		assert.True(t, second.NotModified)
		assert.Nil(t, second.Snapshot)
	})

	t.Run("Should flag partial responses and drop the ETag", func(t *testing.T) {
		t.Parallel()

		var sawETag atomic.Bool
		fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("If-None-Match") != "" {
				sawETag.Store(true)
			}
			w.Header().Set("ETag", `"partial"`)
			_, _ = w.Write([]byte(`{"flags": [{"id": 1, "key": "a"}], "errors_while_computing_flags": true}`))
		})

		result, err := fetcher.Fetch(context.Background())
		require.NoError(t, err)
		_, err = fetcher.Fetch(context.Background())
		require.NoError(t, err)

		assert.True(t, result.ErrorsWhileComputing)
		assert.False(t, sawETag.Load())
	})

	t.Run("Should retry server errors", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var calls atomic.Int32
		fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(definitionsBody))
		})

		// Act
		result, err := fetcher.Fetch(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, result.Snapshot.FlagCount())
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Should give up after the configured retries", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := fetcher.Fetch(context.Background())

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
	})

	t.Run("Should not retry client errors", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var calls atomic.Int32
		fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"invalid personal API key"}`))
		})

		// Act
		_, err := fetcher.Fetch(context.Background())

		// Assert
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "invalid personal API key")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Should not retry malformed documents", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`{"flags": [{"id": 1}]}`))
		})

		_, err := fetcher.Fetch(context.Background())

		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestAPIError_Retryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   bool
	}{
		{status: http.StatusBadRequest, want: false},
		{status: http.StatusUnauthorized, want: false},
		{status: http.StatusPaymentRequired, want: false},
		{status: http.StatusTooManyRequests, want: true},
		{status: http.StatusInternalServerError, want: true},
		{status: http.StatusGatewayTimeout, want: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, (&APIError{StatusCode: tt.status}).Retryable())
		})
	}
}
