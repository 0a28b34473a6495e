package server

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/internal/dataset"
	"github.com/inferloop/ipdsynth/internal/generators/stratified"
	"github.com/inferloop/ipdsynth/internal/observability/health"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	*health.SystemStatus
	BundleLoaded bool `json:"bundle_loaded"`
}

// StratumView is one entry of the strata listing.
type StratumView struct {
	ID     int      `json:"id"`
	Levels []string `json:"levels"`
	N      string   `json:"n"`
}

// StrataResponse lists the strata of the loaded bundle. Counts are the released,
// possibly suppressed values.
type StrataResponse struct {
	RunID       string        `json:"run_id"`
	Categorical []string      `json:"categorical"`
	Continuous  []string      `json:"continuous"`
	Strata      []StratumView `json:"strata"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if status.OverallStatus == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, HealthResponse{SystemStatus: status, BundleLoaded: s.currentBundle() != nil})
}

func (s *Server) handleStrata(w http.ResponseWriter, r *http.Request) {
	bundle := s.currentBundle()
	if bundle == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "NO_BUNDLE", "no summary bundle loaded")
		return
	}

	resp := StrataResponse{
		RunID:       bundle.RunID,
		Categorical: bundle.Categorical,
		Continuous:  bundle.Continuous,
		Strata:      make([]StratumView, 0, len(bundle.Strata)),
	}
	for _, st := range bundle.Strata {
		view := StratumView{ID: st.ID, Levels: st.Levels, N: constants.MissingValueLiteral}
		if summary, ok := bundle.Summaries[st.ID]; ok {
			view.N = summary.Count.String()
		}
		resp.Strata = append(resp.Strata, view)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSynthesize draws one synthetic table and returns it as CSV. The optional
// seed query parameter makes the draw reproducible.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	bundle := s.currentBundle()
	if bundle == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "NO_BUNDLE", "no summary bundle loaded")
		return
	}

	var seed uint64
	if raw := r.URL.Query().Get("seed"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			s.writeError(w, r, http.StatusBadRequest, errors.CodeInvalidInput, "seed must be a positive integer")
			return
		}
		seed = parsed
	}

	generator := stratified.NewGenerator(&stratified.GeneratorConfig{Seed: seed, Workers: s.config.Workers},
		s.simulator, s.logger, s.metrics)
	result, err := generator.Reconstruct(r.Context(), bundle, s.schema)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := dataset.WriteCSV(r.Context(), &buf, result.Data); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	extrapolated := 0
	for _, warning := range result.Warnings {
		extrapolated += warning.Count
	}
	for _, f := range result.Failures.List() {
		s.logger.WithFields(logrus.Fields{
			"request_id": getRequestID(r),
			"unit":       f.Kind,
			"id":         f.ID,
		}).WithError(f.Err).Warn("Unit skipped during synthesis")
	}

	h := w.Header()
	h.Set(constants.HeaderContentType, constants.ContentTypeCSV)
	h.Set(constants.HeaderRunID, bundle.RunID)
	h.Set(constants.HeaderFailures, strconv.Itoa(len(result.Failures.List())))
	h.Set(constants.HeaderWarnings, strconv.Itoa(extrapolated))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.WithError(err).WithField("request_id", getRequestID(r)).Warn("Failed to write response")
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Reload(r.Context()); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	bundle := s.currentBundle()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": bundle.RunID,
		"strata": len(bundle.Strata),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.logger.WithFields(logrus.Fields{
		"request_id": getRequestID(r),
		"status":     status,
		"code":       code,
	}).Warn(message)
	s.writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeInternalError
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		code = appErr.Code
	}
	s.writeError(w, r, errors.HTTPStatus(err), code, err.Error())
}
