// Package server exposes a persisted summary bundle over HTTP so that synthetic
// data can be drawn on demand.
package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/internal/generators/stratified"
	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/observability/health"
	"github.com/inferloop/ipdsynth/internal/observability/metrics"
	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger
	config     *Config
	metrics    *metrics.PrometheusMetrics
	health     *health.HealthMonitor

	store     interfaces.ArtifactStore
	schema    config.Schema
	simulator *stratified.Simulator

	mu     sync.RWMutex
	bundle *models.Bundle
}

// NewServer creates a new HTTP server instance. The bundle is not read until Reload.
func NewServer(cfg *Config, store interfaces.ArtifactStore, schema config.Schema, logger *logrus.Logger, m *metrics.PrometheusMetrics) (*Server, error) {
	if store == nil {
		return nil, errors.NewConfigurationError("server needs an artifact store")
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = getDefaultConfig()
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		config:    cfg,
		metrics:   m,
		store:     store,
		schema:    schema,
		simulator: stratified.NewSimulator(&stratified.SimulatorConfig{SmallCellMax: cfg.SmallCell}, logger, m),
		health:    health.NewHealthMonitor(cfg.HealthTimeout, logger),
	}
	s.registerHealthChecks()
	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Reload reads the bundle from the store and swaps it in. Requests already running
// keep the bundle they started with.
func (s *Server) Reload(ctx context.Context) error {
	bundle, err := s.store.LoadBundle(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bundle = bundle
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"run_id": bundle.RunID,
		"strata": len(bundle.Strata),
	}).Info("Loaded summary bundle")
	return nil
}

// registerHealthChecks reports a missing bundle as degraded and an unreachable store
// as unhealthy.
func (s *Server) registerHealthChecks() {
	s.health.RegisterCheck("bundle", false, func(context.Context) error {
		if s.currentBundle() == nil {
			return errors.NewStorageError(errors.CodeArtifactNotFound, "no summary bundle loaded")
		}
		return nil
	})
	if p, ok := s.store.(interfaces.Pinger); ok {
		s.health.RegisterCheck("storage", true, p.Ping)
	}
}

func (s *Server) currentBundle() *models.Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bundle
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.config.Addr).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "HTTP server failed")
	}
	return nil
}

// Shutdown gracefully stops the server, waiting at most the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
