package dataapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/rafaeljc/heimdall-local/internal/config"
	"github.com/rafaeljc/heimdall-local/internal/validation"
)

// Server runs the API on its own listener.
type Server struct {
	logger *slog.Logger
	cfg    *config.ServerConfig
	server *http.Server
}

// NewServer wraps api in an http.Server configured from cfg.
func NewServer(logger *slog.Logger, api *API, cfg *config.ServerConfig) *Server {
	validation.AssertNotNil(api, "sidecar api")
	validation.AssertNotNil(cfg, "sidecar server config")
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		logger: logger,
		cfg:    cfg,
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:           api.Router,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Start serves in a background goroutine. Listener failures are sent on the
// returned channel, which is closed when serving stops.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		s.logger.Info("starting sidecar API",
			slog.String("addr", s.server.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled),
		)

		var err error
		if s.cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("sidecar API failed", slog.String("error", err.Error()))
			errCh <- err
		}
	}()

	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping sidecar API")
	return s.server.Shutdown(ctx)
}
