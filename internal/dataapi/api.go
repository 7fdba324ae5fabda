// Package dataapi exposes local flag evaluation over HTTP so that processes
// written in other languages can share one evaluation daemon.
package dataapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/heimdall-local/internal/config"
	"github.com/rafaeljc/heimdall-local/sdk"
)

// Evaluator is the part of the SDK client the API serves.
type Evaluator interface {
	GetFeatureFlagAndPayload(ctx context.Context, key string, evalCtx sdk.Context) (sdk.Value, json.RawMessage, bool)
	GetAllFlagsAndPayloads(ctx context.Context, evalCtx sdk.Context, keys ...string) (map[string]sdk.Value, map[string]json.RawMessage)
	ReloadFeatureFlags(ctx context.Context) error
	Status() sdk.Status
}

// API holds the router and the dependencies of the evaluation endpoints.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	logger    *slog.Logger
	evaluator Evaluator

	// apiKeyHash is the hex SHA-256 of the accepted key. Empty disables auth.
	apiKeyHash   string
	maxBodyBytes int64
}

// NewAPI creates the API. It panics if evaluator or cfg is nil.
func NewAPI(logger *slog.Logger, evaluator Evaluator, cfg *config.ServerConfig) *API {
	if evaluator == nil {
		panic("dataapi: evaluator cannot be nil")
	}
	if cfg == nil {
		panic("dataapi: config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := &API{
		Router:       chi.NewRouter(),
		logger:       logger,
		evaluator:    evaluator,
		apiKeyHash:   cfg.APIKeyHash,
		maxBodyBytes: cfg.MaxBodyBytes,
	}

	if api.apiKeyHash == "" {
		logger.Warn("sidecar API authentication is disabled")
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the middleware stack and the endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(requestMetrics)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)
		r.Use(a.limitBody)

		r.Get("/status", a.handleStatus)
		r.Post("/reload", a.handleReload)

		r.Route("/flags", func(r chi.Router) {
			r.Post("/evaluate", a.handleEvaluateAll)
			r.Post("/{key}/evaluate", a.handleEvaluate)
		})
	})
}

// handleHealthCheck reports that the process serves HTTP. Readiness lives on
// the observability server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
