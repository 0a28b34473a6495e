package server

import (
	"net/http"

	"github.com/inferloop/ipdsynth/pkg/constants"
)

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix(constants.APIPrefix).Subrouter()
	api.HandleFunc("/strata", s.handleStrata).Methods(http.MethodGet)
	api.HandleFunc("/synthesize", s.handleSynthesize).Methods(http.MethodPost)
	api.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost)
}

// setupMiddleware installs middleware outermost first.
func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}
