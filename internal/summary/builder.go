// Package summary turns an individual-level table into the releasable summary bundle:
// per-variable quantile tables, per-stratum moments and correlations on the normal
// scale, and the disclosure pass over all of them.
package summary

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/internal/dataset"
	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/normalization"
	"github.com/inferloop/ipdsynth/internal/observability/metrics"
	"github.com/inferloop/ipdsynth/internal/privacy"
	"github.com/inferloop/ipdsynth/internal/simplify"
	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// BuilderConfig contains configuration for summarization
type BuilderConfig struct {
	QuantileCap  int     `json:"quantile_cap"`
	CurveStep    float64 `json:"curve_step"`
	LogitFitMax  int     `json:"logit_fit_max"`
	EpsilonStart float64 `json:"epsilon_start"`
	EpsilonStep  float64 `json:"epsilon_step"`
	EpsilonMax   float64 `json:"epsilon_max"`
	Seed         uint64  `json:"seed"`
	Workers      int     `json:"workers"`
	// Diagnostics, when set, receives every normalization fit report.
	Diagnostics func(normalization.FitReport) `json:"-"`
}

// Builder produces summary bundles.
type Builder struct {
	config     *BuilderConfig
	disclosure *privacy.Disclosure
	logger     *logrus.Logger
	metrics    *metrics.PrometheusMetrics
}

// Result is the outcome of one summarization.
type Result struct {
	Bundle     *models.Bundle
	Failures   *errors.Failures
	Warnings   []errors.Warning
	Disclosure *privacy.Report
	// Simplification records the epsilon search per transformed variable.
	Simplification map[string]simplify.Result
	Duration       time.Duration
}

// NewBuilder creates a new summary builder
func NewBuilder(config *BuilderConfig, disclosure *privacy.Disclosure, logger *logrus.Logger, m *metrics.PrometheusMetrics) *Builder {
	if config == nil {
		config = &BuilderConfig{}
	}
	if config.QuantileCap < 2 {
		config.QuantileCap = constants.DefaultQuantileCap
	}
	if config.CurveStep <= 0 || config.CurveStep >= 1 {
		config.CurveStep = constants.DefaultCurveStep
	}
	if config.LogitFitMax <= 0 {
		config.LogitFitMax = constants.DefaultLogitFitMax
	}
	if config.EpsilonStep <= 0 || config.EpsilonMax < config.EpsilonStart {
		config.EpsilonStart = constants.DefaultEpsilonStart
		config.EpsilonStep = constants.DefaultEpsilonStep
		config.EpsilonMax = constants.DefaultEpsilonMax
	}
	if config.Workers <= 0 {
		config.Workers = constants.DefaultWorkers
	}
	if config.Seed == 0 {
		config.Seed = uint64(time.Now().UnixNano())
	}
	if logger == nil {
		logger = logrus.New()
	}
	if disclosure == nil {
		disclosure = privacy.NewDisclosure(nil, logger)
	}
	return &Builder{config: config, disclosure: disclosure, logger: logger, metrics: m}
}

// variableFit is the per-variable output of the first phase.
type variableFit struct {
	table       *normalization.Table
	transformed []float64
	ties        int
	search      *simplify.Result
}

// Build summarizes ds. Variables that cannot be normalized are reported in the result
// failures and summarized as missing; every other variable and stratum proceeds.
func (b *Builder) Build(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	start := time.Now()
	if ds == nil {
		return nil, errors.NewInvalidInputError("no input data")
	}
	if err := ds.Schema.Validate(); err != nil {
		return nil, err
	}

	categorical := config.VariableNames(ds.Schema.Categorical())
	continuous := config.VariableNames(ds.Schema.Continuous())
	bundle := models.NewBundle(uuid.New().String(), categorical, continuous)
	failures := errors.NewFailures()

	b.logger.WithFields(logrus.Fields{
		"run_id":      bundle.RunID,
		"rows":        ds.Rows(),
		"continuous":  len(continuous),
		"categorical": len(categorical),
	}).Info("Starting summarization")

	fits, err := b.fitVariables(ctx, ds, failures)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Bundle:         bundle,
		Failures:       failures,
		Simplification: make(map[string]simplify.Result),
	}
	columns := make(map[string][]float64, len(continuous))
	for _, v := range continuous {
		fit, ok := fits[v]
		if !ok {
			columns[v] = missingColumn(ds.Rows())
			continue
		}
		bundle.Tables[v] = fit.table
		columns[v] = fit.transformed
		if fit.ties > 0 {
			result.Warnings = append(result.Warnings, errors.Warning{Kind: errors.TiesWarning, Variable: v, Count: fit.ties})
			b.metrics.RecordWarning(string(errors.TiesWarning), fit.ties)
		}
		if fit.search != nil {
			result.Simplification[v] = *fit.search
		}
	}

	strata, members := Stratify(ds, categorical)
	bundle.Strata = strata
	summaries, err := b.summarizeStrata(ctx, strata, members, continuous, columns)
	if err != nil {
		return nil, err
	}
	bundle.Summaries = summaries

	report, err := b.disclosure.Apply(bundle, rand.New(rand.NewPCG(b.config.Seed, 0)))
	if err != nil {
		return nil, err
	}
	result.Disclosure = report
	result.Duration = time.Since(start)

	b.logger.WithFields(logrus.Fields{
		"run_id":   bundle.RunID,
		"strata":   len(strata),
		"tables":   len(bundle.Tables),
		"failed":   len(failures.List()),
		"duration": result.Duration,
	}).Info("Completed summarization")
	return result, nil
}

func (b *Builder) fitVariables(ctx context.Context, ds *dataset.Dataset, failures *errors.Failures) (map[string]*variableFit, error) {
	vars := ds.Schema.Continuous()
	fits := make([]*variableFit, len(vars))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(b.config.Workers)
	for i, v := range vars {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fit, err := b.fitVariable(v, ds.Continuous[v.Name])
			if err != nil {
				failures.Add(errors.UnitVariable, v.Name, err)
				b.metrics.RecordUnitFailure(string(errors.UnitVariable), string(errors.TypeOf(err)))
				b.logger.WithError(err).WithField("variable", v.Name).Error("Skipping variable")
				return nil
			}
			fits[i] = fit
			b.metrics.RecordVariableFitted(v.Transform)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*variableFit, len(vars))
	for i, v := range vars {
		if fits[i] != nil {
			out[v.Name] = fits[i]
		}
	}
	return out, nil
}

// fitVariable normalizes one column and compresses its quantile curve into a table.
func (b *Builder) fitVariable(v config.Variable, x []float64) (*variableFit, error) {
	if !v.Transform {
		for i, value := range x {
			if math.IsInf(value, 0) {
				return nil, errors.NewInvalidInputError("variable %s has a non-finite value at row %d", v.Name, i)
			}
		}
		return &variableFit{
			table:       normalization.IdentityTable(v.Name),
			transformed: append([]float64(nil), x...),
		}, nil
	}

	norm, err := normalization.Fit(v.Name, x, normalization.Options{
		LogitFitMax: b.config.LogitFitMax,
		Diagnostics: b.config.Diagnostics,
	}, b.logger)
	if err != nil {
		return nil, err
	}

	curve := simplify.Dedup(norm.QuantileCurve(b.config.CurveStep))
	if len(curve) < 2 {
		return nil, errors.NewInvalidInputError("variable %s has a single distinct value", v.Name)
	}
	search, err := simplify.FindSimplification(curve, b.config.QuantileCap,
		b.config.EpsilonStart, b.config.EpsilonStep, b.config.EpsilonMax)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError,
			"failed to simplify quantile curve of "+v.Name)
	}
	if !search.Reached {
		b.logger.WithFields(logrus.Fields{
			"variable": v.Name,
			"points":   len(search.Points),
			"cap":      b.config.QuantileCap,
			"epsilon":  search.Epsilon,
		}).Warn("Quantile table exceeds the point cap at the epsilon ceiling")
	}

	table, err := normalization.NewTable(v.Name, search.Points, norm.Model())
	if err != nil {
		return nil, err
	}
	b.logger.WithFields(logrus.Fields{
		"variable":   v.Name,
		"points":     len(search.Points),
		"epsilon":    search.Epsilon,
		"iterations": search.Iterations,
	}).Debug("Built quantile table")

	return &variableFit{
		table:       table,
		transformed: norm.Transformed(),
		ties:        norm.Ties(),
		search:      &search,
	}, nil
}

// Stratify groups the rows of ds by their categorical levels. Strata are sorted by
// level tuple and numbered from 1; members lists the row indices of each stratum in
// the same order.
func Stratify(ds *dataset.Dataset, categorical []string) ([]models.Stratum, [][]int) {
	byKey := make(map[string]int)
	var (
		strata  []models.Stratum
		members [][]int
	)
	for r := 0; r < ds.Rows(); r++ {
		levels := make([]string, len(categorical))
		for i, name := range categorical {
			levels[i] = ds.Categorical[name][r]
		}
		key := models.StratumKey(levels)
		idx, ok := byKey[key]
		if !ok {
			idx = len(strata)
			byKey[key] = idx
			strata = append(strata, models.Stratum{Levels: levels})
			members = append(members, nil)
		}
		members[idx] = append(members[idx], r)
	}

	order := make([]int, len(strata))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return lessLevels(strata[order[i]].Levels, strata[order[j]].Levels) })

	sortedStrata := make([]models.Stratum, len(strata))
	sortedMembers := make([][]int, len(strata))
	for k, i := range order {
		sortedStrata[k] = models.Stratum{ID: k + 1, Levels: strata[i].Levels}
		sortedMembers[k] = members[i]
	}
	return sortedStrata, sortedMembers
}

func lessLevels(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (b *Builder) summarizeStrata(ctx context.Context, strata []models.Stratum, members [][]int, vars []string, columns map[string][]float64) (map[int]*models.StratumSummary, error) {
	out := make([]*models.StratumSummary, len(strata))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(b.config.Workers)
	for i, s := range strata {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = summarizeStratum(s.ID, members[i], vars, columns)
			b.metrics.RecordStratumSummarized()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	summaries := make(map[int]*models.StratumSummary, len(out))
	for _, s := range out {
		summaries[s.ID] = s
	}
	return summaries, nil
}

// summarizeStratum computes mean, sd and pairwise-complete correlations of the
// transformed columns over the stratum's rows.
func summarizeStratum(id int, rows []int, vars []string, columns map[string][]float64) *models.StratumSummary {
	summary := models.NewStratumSummary(id)
	summary.Count = models.Count{N: len(rows)}

	values := make(map[string][]float64, len(vars))
	for _, v := range vars {
		column := make([]float64, len(rows))
		for k, r := range rows {
			column[k] = columns[v][r]
		}
		values[v] = column
		summary.Mean[v] = mathutil.Mean(column)
		summary.SD[v] = mathutil.StandardDeviation(column)
	}
	for _, p := range models.Pairs(vars) {
		summary.Corr[p] = mathutil.Correlation(values[p.A], values[p.B])
	}
	return summary
}

func missingColumn(n int) []float64 {
	column := make([]float64, n)
	for i := range column {
		column[i] = math.NaN()
	}
	return column
}

// StratumLabel renders a stratum for logs and reports.
func StratumLabel(s models.Stratum, categorical []string) string {
	if len(categorical) == 0 {
		return "all"
	}
	label := ""
	for i, name := range categorical {
		if i > 0 {
			label += ", "
		}
		label += name + "=" + s.Levels[i]
	}
	return label + " (#" + strconv.Itoa(s.ID) + ")"
}
