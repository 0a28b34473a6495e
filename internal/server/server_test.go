package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/normalization"
	"github.com/inferloop/ipdsynth/internal/observability/metrics"
	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

type stubStore struct {
	bundle *models.Bundle
	err    error
}

func (s *stubStore) SaveBundle(ctx context.Context, bundle *models.Bundle) error {
	s.bundle = bundle
	return nil
}

func (s *stubStore) LoadBundle(ctx context.Context) (*models.Bundle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.bundle, nil
}

func (s *stubStore) Close() error { return nil }

func testSchema() config.Schema {
	return config.Schema{Variables: []config.Variable{
		{Name: "arm", Role: config.RoleCategorical},
		{Name: "age", Role: config.RoleContinuous},
		{Name: "bmi", Role: config.RoleContinuous},
	}}
}

func testBundle() *models.Bundle {
	b := models.NewBundle("run-1", []string{"arm"}, []string{"age", "bmi"})
	b.Strata = []models.Stratum{{ID: 1, Levels: []string{"control"}}, {ID: 2, Levels: []string{"treated"}}}
	pair := models.Pair{A: "age", B: "bmi"}

	control := models.NewStratumSummary(1)
	control.Count = models.Count{N: 20}
	control.Mean["age"], control.SD["age"] = 55, 8
	control.Mean["bmi"], control.SD["bmi"] = 27, 3
	control.Corr[pair] = 0.3

	treated := models.NewStratumSummary(2)
	treated.Count = models.Count{Suppressed: true}
	treated.Mean["age"], treated.SD["age"] = 60, 7
	treated.Mean["bmi"], treated.SD["bmi"] = 28, 4
	treated.Corr[pair] = 0.2

	b.Summaries[1] = control
	b.Summaries[2] = treated
	b.Tables["age"] = normalization.IdentityTable("age")
	b.Tables["bmi"] = normalization.IdentityTable("bmi")
	return b
}

func newTestServer(t *testing.T, store interfaces.ArtifactStore) (*Server, *metrics.PrometheusMetrics) {
	t.Helper()
	return newConfiguredServer(t, &Config{Workers: 2}, store)
}

func newConfiguredServer(t *testing.T, cfg *Config, store interfaces.ArtifactStore) (*Server, *metrics.PrometheusMetrics) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m, err := metrics.NewPrometheusMetrics("ipdsynth_test")
	require.NoError(t, err)
	srv, err := NewServer(cfg, store, testSchema(), logger, m)
	require.NoError(t, err)
	return srv, m
}

func do(srv *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(nil, nil, testSchema(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestHealthBeforeAndAfterReload(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{bundle: testBundle()})

	rec := do(srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bundle_loaded":false`)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.NotEmpty(t, rec.Header().Get(constants.HeaderRequestID))

	require.NoError(t, srv.Reload(context.Background()))
	rec = do(srv, http.MethodGet, "/health")
	assert.Contains(t, rec.Body.String(), `"bundle_loaded":true`)
}

type pingStore struct {
	stubStore
	pingErr error
}

func (s *pingStore) Ping(context.Context) error { return s.pingErr }

func TestHealthReportsStorage(t *testing.T) {
	store := &pingStore{stubStore: stubStore{bundle: testBundle()}}
	srv, _ := newTestServer(t, store)
	require.NoError(t, srv.Reload(context.Background()))

	rec := do(srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"storage"`)

	store.pingErr = errors.NewStorageError(errors.CodeReadFailed, "disk gone")
	rec = do(srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), "disk gone")
}

func TestStrataWithoutBundle(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{bundle: testBundle()})

	rec := do(srv, http.MethodGet, "/api/v1/strata")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_BUNDLE")
}

func TestStrataListsReleasedCounts(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{bundle: testBundle()})
	require.NoError(t, srv.Reload(context.Background()))

	rec := do(srv, http.MethodGet, "/api/v1/strata")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.ContentTypeJSON, rec.Header().Get(constants.HeaderContentType))

	var resp StrataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, []string{"arm"}, resp.Categorical)
	require.Len(t, resp.Strata, 2)
	assert.Equal(t, "20", resp.Strata[0].N)
	assert.Equal(t, models.Count{Suppressed: true}.String(), resp.Strata[1].N)
	assert.Equal(t, []string{"treated"}, resp.Strata[1].Levels)
}

func TestSynthesizeUsesConfiguredSmallCell(t *testing.T) {
	srv, _ := newConfiguredServer(t, &Config{Workers: 2, SmallCell: 1}, &stubStore{bundle: testBundle()})
	require.NoError(t, srv.Reload(context.Background()))

	for _, seed := range []string{"1", "2", "3", "4", "5"} {
		rec := do(srv, http.MethodPost, "/api/v1/synthesize?seed="+seed)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		// header, 20 control records and the single record a bound of 1 allows
		assert.Len(t, lines, 22, "seed %s", seed)
	}
}

func TestSynthesizeIsReproducible(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{bundle: testBundle()})
	require.NoError(t, srv.Reload(context.Background()))

	first := do(srv, http.MethodPost, "/api/v1/synthesize?seed=42")
	second := do(srv, http.MethodPost, "/api/v1/synthesize?seed=42")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, constants.ContentTypeCSV, first.Header().Get(constants.HeaderContentType))
	assert.Equal(t, "run-1", first.Header().Get(constants.HeaderRunID))
	assert.Equal(t, "0", first.Header().Get(constants.HeaderFailures))
	assert.Equal(t, "0", first.Header().Get(constants.HeaderWarnings))
	assert.Equal(t, first.Body.String(), second.Body.String())

	records, err := csv.NewReader(strings.NewReader(first.Body.String())).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, []string{"arm", "age", "bmi"}, records[0])

	// 20 control rows plus a suppressed stratum of 1 to 10 rows
	rows := len(records) - 1
	assert.GreaterOrEqual(t, rows, 21)
	assert.LessOrEqual(t, rows, 30)
	control := 0
	for _, r := range records[1:] {
		if r[0] == "control" {
			control++
		}
	}
	assert.Equal(t, 20, control)
}

func TestSynthesizeRejectsBadSeed(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{bundle: testBundle()})
	require.NoError(t, srv.Reload(context.Background()))

	for _, seed := range []string{"abc", "-1", "0"} {
		rec := do(srv, http.MethodPost, "/api/v1/synthesize?seed="+seed)
		assert.Equal(t, http.StatusBadRequest, rec.Code, seed)
	}
}

func TestSynthesizeSchemaMismatch(t *testing.T) {
	bundle := testBundle()
	bundle.Continuous = []string{"age"}
	srv, _ := newTestServer(t, &stubStore{bundle: bundle})
	require.NoError(t, srv.Reload(context.Background()))

	rec := do(srv, http.MethodPost, "/api/v1/synthesize?seed=1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.CodeDimensionMismatch)
}

func TestReloadMissingArtifact(t *testing.T) {
	store := &stubStore{err: errors.NewStorageError(errors.CodeArtifactNotFound, "missing sheet strata_counts")}
	srv, _ := newTestServer(t, store)

	rec := do(srv, http.MethodPost, "/api/v1/reload")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.err = nil
	store.bundle = testBundle()
	rec = do(srv, http.MethodPost, "/api/v1/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{bundle: testBundle()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(constants.HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(constants.HeaderRequestID))
}

func TestMetricsRecordRoutes(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{bundle: testBundle()})
	require.NoError(t, srv.Reload(context.Background()))
	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/v1/synthesize?seed=7").Code)

	rec := do(srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ipdsynth_test_http_requests_total")
	assert.Contains(t, body, `route="/api/v1/synthesize"`)
	assert.Contains(t, body, "ipdsynth_test_strata_simulated_total 2")
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, &stubStore{bundle: testBundle()})
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}
