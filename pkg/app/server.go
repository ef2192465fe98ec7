package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/verdantiq/sensor-pipeline/pkg/pipeline"
)

// Server holds the components of the ingestion microservice: the pipeline
// service plus an HTTP endpoint for health probes.
type Server struct {
	logger     zerolog.Logger
	config     *Config
	service    *pipeline.Service
	httpServer *http.Server
}

// NewServer creates and configures a new Server instance.
func NewServer(cfg *Config, service *pipeline.Service, logger zerolog.Logger) *Server {
	return &Server{
		logger:  logger,
		config:  cfg,
		service: service,
	}
}

// Start runs the pipeline service and then blocks serving health checks.
func (s *Server) Start() error {
	s.logger.Info().Msg("Starting server...")

	if err := s.service.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline service: %w", err)
	}
	s.logger.Info().Msg("Pipeline service started.")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	s.httpServer = &http.Server{
		Addr:    s.config.HTTPPort,
		Handler: mux,
	}

	s.logger.Info().Str("address", s.config.HTTPPort).Msg("Starting health check server.")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health check server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops all components of the service.
func (s *Server) Shutdown() {
	s.logger.Info().Msg("Shutting down server...")

	// Stop the pipeline first so in-flight events finish before the
	// process is reported unhealthy.
	s.service.Stop()
	s.logger.Info().Msg("Pipeline service stopped.")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error during health check server shutdown.")
		} else {
			s.logger.Info().Msg("Health check server stopped.")
		}
	}
}

// healthzHandler responds to health check probes.
func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
