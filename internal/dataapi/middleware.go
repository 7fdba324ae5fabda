package dataapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/heimdall-local/internal/logger"
	"github.com/rafaeljc/heimdall-local/internal/observability"
)

// APIKeyHeader carries the caller's key. "Authorization: Bearer <key>" is accepted too.
const APIKeyHeader = "X-API-Key"

// requestLogger injects a request-scoped logger into the context and logs
// the outcome of each request.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqLogger := a.logger.With(
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLogger)))

		// Info for success, Warn for 4xx, Error for 5xx.
		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		reqLogger.Log(r.Context(), level, "HTTP request completed",
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// requestMetrics records latency and counts labelled by route pattern, so
// flag keys never become label values.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		observability.SidecarReqDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		observability.SidecarReqTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}

// authenticateAPIKey compares the SHA-256 of the presented key with the
// configured hash in constant time. It is a pass-through when no hash is set.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKeyHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if key == "" {
			writeError(w, r, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "API key is required")
			return
		}

		sum := sha256.Sum256([]byte(key))
		presented := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(presented), []byte(strings.ToLower(a.apiKeyHash))) != 1 {
			logger.FromContext(r.Context()).Warn("rejected request with invalid API key")
			writeError(w, r, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// limitBody caps request bodies at the configured size.
func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}
