// Package stratified regenerates synthetic individuals from per-stratum summaries by
// sampling a multivariate normal on the transformed scale.
package stratified

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/observability/metrics"
	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// SimulatorConfig contains configuration for stratum simulation
type SimulatorConfig struct {
	// EigenTolerance is the relative eigenvalue tolerance of the PSD check and the
	// eigenvalue floor of the repair.
	EigenTolerance float64 `json:"eigen_tolerance"`
	RepairMaxIter  int     `json:"repair_max_iter"`
	// SmallCellMax is the upper bound of the uniform draw replacing a suppressed count
	// that does not record its own threshold.
	SmallCellMax int `json:"small_cell_max"`
}

// Simulator draws synthetic individuals for a single stratum.
type Simulator struct {
	config  *SimulatorConfig
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics
}

// Draw is the simulated block of one stratum, one row per individual with columns in
// variable order, still on the transformed scale.
type Draw struct {
	StratumID int
	N         int
	Values    [][]float64
	// Repaired is set when the covariance needed a nearest-PSD replacement.
	Repaired bool
}

// NewSimulator creates a new stratum simulator
func NewSimulator(config *SimulatorConfig, logger *logrus.Logger, m *metrics.PrometheusMetrics) *Simulator {
	if config == nil {
		config = &SimulatorConfig{}
	}
	if config.EigenTolerance <= 0 {
		config.EigenTolerance = constants.DefaultEigenTolerance
	}
	if config.RepairMaxIter <= 0 {
		config.RepairMaxIter = constants.DefaultRepairMaxIter
	}
	if config.SmallCellMax <= 0 {
		config.SmallCellMax = constants.SmallCellThreshold
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Simulator{config: config, logger: logger, metrics: m}
}

// Simulate resolves the stratum size, builds C = diag(sd)·R·diag(sd), repairs it to
// the nearest positive-semidefinite matrix when needed and draws n vectors from N(mean, C).
func (s *Simulator) Simulate(variables []string, summary *models.StratumSummary, rng *rand.Rand) (*Draw, error) {
	if err := checkDimensions(variables, summary); err != nil {
		return nil, err
	}

	n := summary.Count.N
	if summary.Count.Suppressed {
		bound := summary.Count.Max
		if bound <= 0 {
			bound = s.config.SmallCellMax
		}
		n = rng.IntN(bound) + 1
	}
	draw := &Draw{StratumID: summary.ID, N: n}
	if n == 0 {
		return draw, nil
	}

	p := len(variables)
	mean := make([]float64, p)
	sd := make([]float64, p)
	for i, v := range variables {
		mean[i] = summary.Mean[v]
		sd[i] = summary.SD[v]
		if math.IsNaN(mean[i]) || math.IsInf(mean[i], 0) {
			return nil, errors.NewDegenerateStratumError("stratum %d: mean of %s is not finite", summary.ID, v)
		}
	}

	corr := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		corr.SetSym(i, i, 1)
		for j := i + 1; j < p; j++ {
			corr.SetSym(i, j, summary.Corr[models.Pair{A: variables[i], B: variables[j]}])
		}
	}

	cov, err := mathutil.CovarianceFromCorrelation(sd, corr)
	if err != nil {
		return nil, errors.NewDimensionMismatchError("stratum %d: %v", summary.ID, err)
	}

	sigma, repaired, err := s.repair(summary.ID, cov)
	if err != nil {
		return nil, err
	}
	draw.Repaired = repaired

	normal, ok := distmv.NewNormal(mean, sigma, rng)
	if !ok {
		return nil, errors.NewDegenerateStratumError("stratum %d: covariance is not positive definite after repair", summary.ID)
	}

	draw.Values = make([][]float64, n)
	for i := range draw.Values {
		draw.Values[i] = normal.Rand(nil)
	}
	return draw, nil
}

// repair returns a positive definite covariance for sampling. The bool reports a
// genuine repair, i.e. the input was not positive semidefinite within tolerance.
// Matrices that are PSD but singular are nudged by the eigenvalue floor only.
func (s *Simulator) repair(id int, cov *mat.SymDense) (*mat.SymDense, bool, error) {
	if !mathutil.IsFinite(cov) {
		return nil, false, errors.NewDegenerateStratumError("stratum %d: covariance has non-finite entries", id)
	}
	if mathutil.IsPositiveDefinite(cov) {
		return cov, false, nil
	}

	indefinite := !mathutil.IsPositiveSemidefinite(cov, s.config.EigenTolerance)
	repaired, passes, err := mathutil.NearestPSD(cov, s.config.EigenTolerance, s.config.RepairMaxIter)
	if err != nil {
		return nil, false, errors.WrapError(err, errors.ErrorTypeDegenerateStratum, errors.CodeDegenerateStratum,
			"covariance repair failed").WithContext("stratum_id", id)
	}

	fields := logrus.Fields{
		"stratum_id": id,
		"passes":     passes,
		"distance":   mathutil.FrobeniusDistance(cov, repaired),
	}
	if indefinite {
		s.metrics.RecordCovarianceRepair()
		s.logger.WithFields(fields).Info("Replaced indefinite covariance with nearest positive-semidefinite matrix")
	} else {
		s.logger.WithFields(fields).Debug("Nudged singular covariance to positive definite")
	}
	return repaired, indefinite, nil
}

// checkDimensions verifies that mean, sd and correlation cover exactly the same variables.
func checkDimensions(variables []string, summary *models.StratumSummary) error {
	want := make(map[string]bool, len(variables))
	for _, v := range variables {
		want[v] = true
	}

	check := func(what string, got map[string]float64) error {
		if len(got) != len(want) {
			return errors.NewDimensionMismatchError("stratum %d: %s covers %v, expected %v",
				summary.ID, what, sortedKeys(got), variables)
		}
		for v := range got {
			if !want[v] {
				return errors.NewDimensionMismatchError("stratum %d: %s has unknown variable %s", summary.ID, what, v)
			}
		}
		return nil
	}
	if err := check("mean", summary.Mean); err != nil {
		return err
	}
	if err := check("sd", summary.SD); err != nil {
		return err
	}

	pairs := models.Pairs(variables)
	if len(summary.Corr) != len(pairs) {
		return errors.NewDimensionMismatchError("stratum %d: correlation has %d pairs, expected %d",
			summary.ID, len(summary.Corr), len(pairs))
	}
	for _, p := range pairs {
		if _, ok := summary.Corr[p]; !ok {
			return errors.NewDimensionMismatchError("stratum %d: correlation missing pair %s", summary.ID, p.Column())
		}
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
