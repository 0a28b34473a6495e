package stratified

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/internal/dataset"
	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/observability/metrics"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// GeneratorConfig contains configuration for reconstruction
type GeneratorConfig struct {
	// Seed drives every draw. Each stratum gets its own stream derived from Seed and
	// the stratum id, so output does not depend on Workers.
	Seed    uint64 `json:"seed"`
	Workers int    `json:"workers"`
}

// Generator reconstructs a synthetic IPD table from a summary bundle.
type Generator struct {
	config    *GeneratorConfig
	simulator *Simulator
	logger    *logrus.Logger
	metrics   *metrics.PrometheusMetrics
}

// Result is the outcome of one reconstruction. Data holds every stratum that could be
// simulated; Failures lists the ones that could not.
type Result struct {
	Data     *dataset.Dataset
	Failures *errors.Failures
	Warnings []errors.Warning
	Repaired []int
	Duration time.Duration
}

// NewGenerator creates a new stratified generator
func NewGenerator(config *GeneratorConfig, simulator *Simulator, logger *logrus.Logger, m *metrics.PrometheusMetrics) *Generator {
	if config == nil {
		config = &GeneratorConfig{}
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
	if simulator == nil {
		simulator = NewSimulator(nil, logger, m)
	}
	return &Generator{config: config, simulator: simulator, logger: logger, metrics: m}
}

// StratumRand returns the deterministic random stream for one stratum.
func StratumRand(seed uint64, stratumID int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(stratumID)))
}

type stratumOutput struct {
	stratum models.Stratum
	columns map[string][]float64
	n       int
}

// Reconstruct simulates every stratum of bundle and maps the draws back to the original
// scale through the shared quantile tables. The output follows schema. Per-stratum and
// per-variable failures are collected in the result instead of aborting the run.
func (g *Generator) Reconstruct(ctx context.Context, bundle *models.Bundle, schema config.Schema) (*Result, error) {
	start := time.Now()
	if err := checkBundleSchema(bundle, schema); err != nil {
		return nil, err
	}

	failures := errors.NewFailures()
	variables := bundle.Continuous

	// a variable whose table is missing or invalid is emitted as NA everywhere
	usable := make(map[string]bool, len(variables))
	for _, v := range variables {
		table, ok := bundle.Tables[v]
		switch {
		case !ok:
			failures.Add(errors.UnitVariable, v, errors.NewDimensionMismatchError("no quantile table for %s", v))
		case table.Validate() != nil:
			failures.Add(errors.UnitVariable, v, table.Validate())
		default:
			usable[v] = true
		}
	}

	strata := append([]models.Stratum(nil), bundle.Strata...)
	sort.Slice(strata, func(i, j int) bool { return strata[i].ID < strata[j].ID })

	g.logger.WithFields(logrus.Fields{
		"run_id":  bundle.RunID,
		"strata":  len(strata),
		"workers": g.config.Workers,
		"seed":    g.config.Seed,
	}).Info("Starting stratified reconstruction")

	outputs := make([]*stratumOutput, len(strata))
	var (
		mu       sync.Mutex
		warnings = make(map[string]int)
		repaired []int
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.config.Workers)
	for i, stratum := range strata {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			id := strconv.Itoa(stratum.ID)
			summary, ok := bundle.Summaries[stratum.ID]
			if !ok {
				g.fail(failures, id, errors.NewDimensionMismatchError("stratum %d has no summary", stratum.ID))
				return nil
			}

			began := time.Now()
			draw, err := g.simulator.Simulate(variables, summary, StratumRand(g.config.Seed, stratum.ID))
			if err != nil {
				g.fail(failures, id, err)
				return nil
			}

			out := &stratumOutput{stratum: stratum, n: draw.N, columns: make(map[string][]float64, len(variables))}
			for j, v := range variables {
				column := make([]float64, draw.N)
				for r := range draw.Values {
					column[r] = draw.Values[r][j]
				}
				if !usable[v] {
					for r := range column {
						column[r] = math.NaN()
					}
					out.columns[v] = column
					continue
				}
				values, warning, err := bundle.Tables[v].Inverse(column)
				if err != nil {
					g.fail(failures, id, err)
					return nil
				}
				if warning != nil {
					mu.Lock()
					warnings[v] += warning.Count
					mu.Unlock()
				}
				out.columns[v] = values
			}

			if draw.Repaired {
				mu.Lock()
				repaired = append(repaired, stratum.ID)
				mu.Unlock()
			}
			outputs[i] = out
			g.metrics.RecordStratumSimulated(draw.N, time.Since(began))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	data := dataset.New(schema)
	for _, out := range outputs {
		if out == nil {
			continue
		}
		if err := data.Append(toDataset(schema, bundle.Categorical, out)); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to assemble output")
		}
	}

	result := &Result{
		Data:     data,
		Failures: failures,
		Warnings: collectWarnings(warnings),
		Repaired: repaired,
		Duration: time.Since(start),
	}
	sort.Ints(result.Repaired)
	for _, w := range result.Warnings {
		g.metrics.RecordWarning(string(w.Kind), w.Count)
		g.logger.WithFields(logrus.Fields{
			"variable": w.Variable,
			"count":    w.Count,
			"warning":  w.Kind,
		}).Warn("Simulated values outside the quantile table were extrapolated")
	}

	g.logger.WithFields(logrus.Fields{
		"run_id":   bundle.RunID,
		"records":  data.Rows(),
		"failed":   len(failures.List()),
		"repaired": len(repaired),
		"duration": result.Duration,
	}).Info("Completed stratified reconstruction")
	return result, nil
}

func (g *Generator) fail(failures *errors.Failures, id string, err error) {
	failures.Add(errors.UnitStratum, id, err)
	g.metrics.RecordUnitFailure(string(errors.UnitStratum), string(errors.TypeOf(err)))
	g.logger.WithError(err).WithField("stratum_id", id).Error("Skipping stratum")
}

func toDataset(schema config.Schema, categorical []string, out *stratumOutput) *dataset.Dataset {
	ds := dataset.New(schema)
	levels := make(map[string]string, len(categorical))
	for i, name := range categorical {
		levels[name] = out.stratum.Levels[i]
	}
	for r := 0; r < out.n; r++ {
		continuous := make(map[string]float64, len(out.columns))
		for v, column := range out.columns {
			continuous[v] = column[r]
		}
		// AppendRow only fails on schema gaps, which checkBundleSchema rules out
		_ = ds.AppendRow(continuous, levels)
	}
	return ds
}

func collectWarnings(counts map[string]int) []errors.Warning {
	out := make([]errors.Warning, 0, len(counts))
	for v, c := range counts {
		out = append(out, errors.Warning{Kind: errors.ExtrapolationWarning, Variable: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Variable < out[j].Variable })
	return out
}

// checkBundleSchema verifies the bundle describes the same variables as schema.
func checkBundleSchema(bundle *models.Bundle, schema config.Schema) error {
	if bundle == nil {
		return errors.NewInvalidInputError("no summary bundle")
	}
	if err := sameNames("categorical", bundle.Categorical, config.VariableNames(schema.Categorical())); err != nil {
		return err
	}
	if err := sameNames("continuous", bundle.Continuous, config.VariableNames(schema.Continuous())); err != nil {
		return err
	}
	for _, s := range bundle.Strata {
		if len(s.Levels) != len(bundle.Categorical) {
			return errors.NewDimensionMismatchError("stratum %d has %d levels, expected %d",
				s.ID, len(s.Levels), len(bundle.Categorical))
		}
	}
	return nil
}

func sameNames(role string, got, want []string) error {
	a := append([]string(nil), got...)
	b := append([]string(nil), want...)
	sort.Strings(a)
	sort.Strings(b)
	if fmt.Sprint(a) != fmt.Sprint(b) {
		return errors.NewDimensionMismatchError("summary %s variables %v do not match schema %v", role, got, want)
	}
	return nil
}
