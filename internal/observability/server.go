package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaeljc/heimdall-local/internal/config"
)

// Server serves the probes and the Prometheus endpoint on the admin port,
// apart from evaluation traffic.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	router   *chi.Mux
	server   *http.Server
	checkers []Checker
}

// NewServer creates the admin server. checkers gate the readiness probe.
func NewServer(logger *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	if cfg == nil {
		panic("observability: config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		router:   chi.NewRouter(),
		checkers: checkers,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.NoCache)

	s.router.Get(cfg.LivenessPath, s.liveness)
	s.router.Get(cfg.ReadinessPath, s.readiness)
	s.router.Method(http.MethodGet, cfg.MetricsPath, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		EnableOpenMetrics: true,
	}))

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:              net.JoinHostPort("", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Timeout,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       s.cfg.Timeout * 3,
	}

	go func() {
		s.logger.Info("starting observability server",
			slog.String("addr", s.server.Addr),
			slog.String("readiness_path", s.cfg.ReadinessPath),
			slog.String("metrics_path", s.cfg.MetricsPath),
		)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops the server. It is a no-op when Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
