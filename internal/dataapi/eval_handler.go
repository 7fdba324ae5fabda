package dataapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/heimdall-local/internal/logger"
	"github.com/rafaeljc/heimdall-local/internal/validation"
)

// handleEvaluate processes POST /api/v1/flags/{key}/evaluate.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := validation.FlagKey(key); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_KEY", err.Error())
		return
	}
	r = r.WithContext(logger.With(r.Context(), slog.String("flag_key", key)))

	var req EvaluateRequest
	if !a.decode(w, r, &req) {
		return
	}

	evalCtx := req.Context()
	resp := EvaluateResponse{Key: key}
	if value, payload, ok := a.evaluator.GetFeatureFlagAndPayload(r.Context(), key, evalCtx); ok {
		resp.Value = &value
		resp.Evaluated = true
		resp.Payload = payload
	}

	logger.FromContext(r.Context()).Debug("flag evaluated", slog.Bool("evaluated", resp.Evaluated))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleEvaluateAll processes POST /api/v1/flags/evaluate.
func (a *API) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	var req EvaluateAllRequest
	if !a.decode(w, r, &req) {
		return
	}

	flags, payloads := a.evaluator.GetAllFlagsAndPayloads(r.Context(), req.Context(), req.Keys...)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, EvaluateAllResponse{Flags: flags, Payloads: payloads})
}

// handleStatus processes GET /api/v1/status.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.evaluator.Status())
}

// handleReload processes POST /api/v1/reload.
func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := a.evaluator.ReloadFeatureFlags(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("manual reload failed", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadGateway, "ERR_RELOAD_FAILED", "Failed to reload flag definitions")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.evaluator.Status())
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "ERR_BODY_TOO_LARGE", "Request body too large")
			return false
		}
		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return false
	}

	if err := validation.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", err.Error())
		return false
	}
	return true
}
