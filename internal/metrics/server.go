package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/secretgov/internal/logging"
)

// ServerConfig holds configuration for the metrics HTTP server.
type ServerConfig struct {
	Enabled      bool
	Port         int
	Path         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default metrics server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:      false,
		Port:         9090,
		Path:         "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves Prometheus metrics plus a liveness endpoint.
type Server struct {
	config ServerConfig
	server *http.Server
	logger *logging.Logger
	health func() bool
}

// NewServer creates a metrics server. health, when non-nil, backs /health.
func NewServer(config ServerConfig, logger *logging.Logger, health func() bool) *Server {
	return &Server{
		config: config,
		logger: logger,
		health: health,
	}
}

// Handler returns the mux served by Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil && !s.health() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("DEGRADED"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start starts the metrics HTTP server in the background.
func (s *Server) Start() error {
	if !s.config.Enabled {
		return nil
	}

	InitMetrics()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// metrics are non-critical
			s.logger.Error("metrics server error: %v", err)
		}
	}()

	s.logger.Info("Serving metrics on %s%s", s.server.Addr, s.config.Path)
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
