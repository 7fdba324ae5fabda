// Package remote implements the sources flag definitions are fetched from:
// the remote definitions service and a local JSON file.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rafaeljc/heimdall-local/internal/coordinator"
	"github.com/rafaeljc/heimdall-local/internal/flagdef"
	"github.com/rafaeljc/heimdall-local/internal/observability"
)

const (
	// LocalEvaluationPath is the definitions endpoint, relative to the base URL.
	LocalEvaluationPath = "/api/feature_flag/local_evaluation"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 1 << 10
)

var tracer = otel.Tracer("github.com/rafaeljc/heimdall-local/internal/remote")

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	BaseURL        string
	ProjectToken   string
	PersonalAPIKey string
	Timeout        time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration

	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
}

// HTTPFetcher fetches definitions from the remote service. It remembers the
// last ETag and reports unchanged definitions as NotModified.
type HTTPFetcher struct {
	logger   *slog.Logger
	client   *http.Client
	endpoint string
	apiKey   string
	retries  int
	backoff  time.Duration

	mu   sync.Mutex
	etag string
}

// NewHTTPFetcher creates a fetcher. It returns an error when BaseURL cannot be parsed.
func NewHTTPFetcher(logger *slog.Logger, opts HTTPOptions) (*HTTPFetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("remote: invalid base URL %q", opts.BaseURL)
	}
	endpoint := base.JoinPath(LocalEvaluationPath)
	query := endpoint.Query()
	if opts.ProjectToken != "" {
		query.Set("token", opts.ProjectToken)
	}
	query.Set("send_cohorts", "true")
	endpoint.RawQuery = query.Encode()

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	backoffInterval := opts.RetryBackoff
	if backoffInterval <= 0 {
		backoffInterval = 500 * time.Millisecond
	}

	return &HTTPFetcher{
		logger:   logger,
		client:   client,
		endpoint: endpoint.String(),
		apiKey:   opts.PersonalAPIKey,
		retries:  max(opts.MaxRetries, 0),
		backoff:  backoffInterval,
	}, nil
}

// definitionsResponse is the part of the response body not covered by flagdef.Snapshot.
type definitionsResponse struct {
	ErrorsWhileComputing bool `json:"errors_while_computing_flags"`
}

// Fetch implements coordinator.Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*coordinator.FetchResult, error) {
	ctx, span := tracer.Start(ctx, "remote.Fetch")
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RemoteFetchDuration.Observe(time.Since(start).Seconds())
	}()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.backoff
	exp.MaxInterval = f.backoff * 8

	attempt := 0
	result, err := backoff.Retry(ctx, func() (*coordinator.FetchResult, error) {
		attempt++
		res, err := f.fetchOnce(ctx)
		if err == nil {
			return res, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(f.retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.RemoteFetchTotal.WithLabelValues("retry").Inc()
			f.logger.Warn("definitions fetch failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", next),
				slog.Any("error", err),
			)
		}),
	)

	span.SetAttributes(attribute.Int("remote.attempts", attempt))
	if err != nil {
		observability.RemoteFetchTotal.WithLabelValues("fail").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	if result.NotModified {
		observability.RemoteFetchTotal.WithLabelValues("not_modified").Inc()
	} else {
		observability.RemoteFetchTotal.WithLabelValues("success").Inc()
		span.SetAttributes(attribute.Int("remote.flags", result.Snapshot.FlagCount()))
	}
	return result, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context) (*coordinator.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	f.mu.Lock()
	etag := f.etag
	f.mu.Unlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &coordinator.FetchResult{NotModified: true}, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	snapshot, err := flagdef.Decode(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	var envelope definitionsResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}

	// A partial response must not become the baseline for If-None-Match.
	f.mu.Lock()
	if envelope.ErrorsWhileComputing {
		f.etag = ""
	} else {
		f.etag = resp.Header.Get("ETag")
	}
	f.mu.Unlock()

	return &coordinator.FetchResult{
		Snapshot:             snapshot,
		ErrorsWhileComputing: envelope.ErrorsWhileComputing,
	}, nil
}
