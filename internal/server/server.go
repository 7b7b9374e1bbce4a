package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/livemon/internal/health"
	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
)

// Server provides HTTP endpoints for metrics and health checks
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	logger        *logging.Logger
}

// Config holds server configuration
type Config struct {
	MetricsAddress  string
	MetricsPath     string
	HealthAddress   string
	LivenessPath    string
	ReadinessPath   string
	MetricsRegistry *prometheus.Registry
	HealthChecker   *health.Checker
	Logger          *logging.Logger
}

// New creates a new server
func New(cfg Config) *Server {
	s := &Server{
		logger: cfg.Logger,
	}

	// Create metrics server
	if cfg.MetricsAddress != "" && cfg.MetricsRegistry != nil {
		s.metricsServer = newHTTPServer(cfg.MetricsAddress, MetricsHandler(cfg.MetricsRegistry, cfg.MetricsPath))
	}

	// Create health server
	if cfg.HealthAddress != "" && cfg.HealthChecker != nil {
		s.healthServer = newHTTPServer(cfg.HealthAddress, HealthHandler(cfg.HealthChecker, cfg.LivenessPath, cfg.ReadinessPath))
	}

	return s
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// MetricsHandler serves the registry at path (default /metrics)
func MetricsHandler(registry *prometheus.Registry, path string) http.Handler {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	return mux
}

// HealthHandler serves /health plus the liveness and readiness probes
func HealthHandler(checker *health.Checker, livenessPath, readinessPath string) http.Handler {
	if livenessPath == "" {
		livenessPath = "/health/live"
	}
	if readinessPath == "" {
		readinessPath = "/health/ready"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(livenessPath, checker.LivenessHandler())
	mux.HandleFunc(readinessPath, checker.ReadinessHandler())
	mux.HandleFunc("/health", checker.HTTPHandler())
	return mux
}

// Start starts the servers
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	// Start metrics server
	if s.metricsServer != nil {
		go func() {
			s.logger.Info().
				Str("address", s.metricsServer.Addr).
				Msg("Starting metrics server")

			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Start health server
	if s.healthServer != nil {
		go func() {
			s.logger.Info().
				Str("address", s.healthServer.Addr).
				Msg("Starting health server")

			if err := s.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("health server error: %w", err)
			}
		}()
	}

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the servers
func (s *Server) Stop(ctx context.Context) error {
	var err error

	if s.metricsServer != nil {
		s.logger.Info().Msg("Shutting down metrics server")
		if shutdownErr := s.metricsServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down metrics server")
			err = shutdownErr
		}
	}

	if s.healthServer != nil {
		s.logger.Info().Msg("Shutting down health server")
		if shutdownErr := s.healthServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down health server")
			if err == nil {
				err = shutdownErr
			}
		}
	}

	return err
}
