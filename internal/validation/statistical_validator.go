// Package validation measures how closely a synthetic IPD table reproduces the
// original one.
package validation

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/internal/dataset"
	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/summary"
	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
	"github.com/inferloop/ipdsynth/internal/validation/tests"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// StatisticalValidatorConfig contains configuration for fidelity validation
type StatisticalValidatorConfig struct {
	SignificanceLevel float64 `json:"significance_level"`
}

// StatisticalValidator compares original and synthetic tables.
type StatisticalValidator struct {
	config *StatisticalValidatorConfig
	logger *logrus.Logger
}

// VariableReport compares one continuous variable.
type VariableReport struct {
	Variable         string              `json:"variable"`
	OriginalMean     float64             `json:"original_mean"`
	SyntheticMean    float64             `json:"synthetic_mean"`
	OriginalSD       float64             `json:"original_sd"`
	SyntheticSD      float64             `json:"synthetic_sd"`
	OriginalMissing  int                 `json:"original_missing"`
	SyntheticMissing int                 `json:"synthetic_missing"`
	KS               *tests.KSTestResult `json:"ks,omitempty"`
	Skipped          string              `json:"skipped,omitempty"`
}

// StratumReport compares the size of one stratum.
type StratumReport struct {
	Levels    []string `json:"levels"`
	Original  int      `json:"original"`
	Synthetic int      `json:"synthetic"`
}

// Report is the outcome of one comparison.
type Report struct {
	OriginalRows  int              `json:"original_rows"`
	SyntheticRows int              `json:"synthetic_rows"`
	Variables     []VariableReport `json:"variables"`
	Strata        []StratumReport  `json:"strata"`
	// CorrelationMAE is the mean absolute difference of the pairwise correlations.
	CorrelationMAE float64       `json:"correlation_mae"`
	Tables         []TableReport `json:"tables,omitempty"`
}

// TableReport checks how well a stored quantile table still normalizes the original
// values it was fitted on.
type TableReport struct {
	Variable     string              `json:"variable"`
	Points       int                 `json:"points"`
	Coverage     float64             `json:"coverage"`
	Extrapolated int                 `json:"extrapolated"`
	Normality    *tests.KSTestResult `json:"normality,omitempty"`
	Skipped      string              `json:"skipped,omitempty"`
}

// NewStatisticalValidator creates a new statistical validator
func NewStatisticalValidator(config *StatisticalValidatorConfig, logger *logrus.Logger) *StatisticalValidator {
	if config == nil || config.SignificanceLevel <= 0 || config.SignificanceLevel >= 1 {
		config = &StatisticalValidatorConfig{SignificanceLevel: 0.05}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &StatisticalValidator{config: config, logger: logger}
}

// Compare runs a two-sample KS test per continuous variable, compares the stratum
// sizes and the correlation structure of both tables.
func (v *StatisticalValidator) Compare(ctx context.Context, original, synthetic *dataset.Dataset) (*Report, error) {
	if original == nil || synthetic == nil {
		return nil, errors.NewInvalidInputError("both tables are required")
	}
	continuous := config.VariableNames(original.Schema.Continuous())
	categorical := config.VariableNames(original.Schema.Categorical())
	for _, name := range continuous {
		if _, ok := synthetic.Continuous[name]; !ok {
			return nil, errors.NewDimensionMismatchError("synthetic table has no column %s", name)
		}
	}
	for _, name := range categorical {
		if _, ok := synthetic.Categorical[name]; !ok {
			return nil, errors.NewDimensionMismatchError("synthetic table has no column %s", name)
		}
	}

	report := &Report{OriginalRows: original.Rows(), SyntheticRows: synthetic.Rows()}
	for _, name := range continuous {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Variables = append(report.Variables, v.compareVariable(name, original.Continuous[name], synthetic.Continuous[name]))
	}

	report.Strata = compareStrata(original, synthetic, categorical)
	report.CorrelationMAE = correlationMAE(original, synthetic, continuous)

	v.logger.WithFields(logrus.Fields{
		"variables":       len(report.Variables),
		"strata":          len(report.Strata),
		"correlation_mae": report.CorrelationMAE,
	}).Info("Completed fidelity validation")
	return report, nil
}

func (v *StatisticalValidator) compareVariable(name string, original, synthetic []float64) VariableReport {
	a := mathutil.DropMissing(original)
	b := mathutil.DropMissing(synthetic)
	r := VariableReport{
		Variable:         name,
		OriginalMissing:  len(original) - len(a),
		SyntheticMissing: len(synthetic) - len(b),
		OriginalMean:     math.NaN(),
		SyntheticMean:    math.NaN(),
		OriginalSD:       math.NaN(),
		SyntheticSD:      math.NaN(),
	}
	if len(a) > 1 {
		r.OriginalMean, r.OriginalSD = stat.MeanStdDev(a, nil)
	}
	if len(b) > 1 {
		r.SyntheticMean, r.SyntheticSD = stat.MeanStdDev(b, nil)
	}

	ks, err := tests.TwoSampleKSTest(a, b, v.config.SignificanceLevel)
	if err != nil {
		r.Skipped = err.Error()
		v.logger.WithField("variable", name).WithError(err).Debug("Skipping KS test")
		return r
	}
	r.KS = ks
	return r
}

// CheckTables maps every transformed variable of original through its table in bundle
// and tests the result against the standard normal.
func (v *StatisticalValidator) CheckTables(ctx context.Context, bundle *models.Bundle, original *dataset.Dataset) ([]TableReport, error) {
	if bundle == nil || original == nil {
		return nil, errors.NewInvalidInputError("bundle and original table are required")
	}
	var out []TableReport
	for _, name := range bundle.Continuous {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		table, ok := bundle.Tables[name]
		if !ok || table.Identity {
			continue
		}
		values, ok := original.Continuous[name]
		if !ok {
			return nil, errors.NewDimensionMismatchError("original table has no column %s", name)
		}

		r := TableReport{Variable: name, Points: len(table.Points)}
		normal, warning, err := table.Forward(values)
		if err != nil {
			r.Skipped = err.Error()
			out = append(out, r)
			continue
		}
		r.Coverage = table.Coverage(values)
		if warning != nil {
			r.Extrapolated = warning.Count
		}
		if r.Normality, err = tests.NormalityKSTest(normal, v.config.SignificanceLevel); err != nil {
			r.Skipped = err.Error()
		}
		out = append(out, r)
	}
	return out, nil
}

func compareStrata(original, synthetic *dataset.Dataset, categorical []string) []StratumReport {
	byKey := make(map[string]*StratumReport)
	count := func(ds *dataset.Dataset, synthetic bool) {
		strata, members := summary.Stratify(ds, categorical)
		for i, s := range strata {
			key := models.StratumKey(s.Levels)
			r, ok := byKey[key]
			if !ok {
				r = &StratumReport{Levels: s.Levels}
				byKey[key] = r
			}
			if synthetic {
				r.Synthetic = len(members[i])
			} else {
				r.Original = len(members[i])
			}
		}
	}
	count(original, false)
	count(synthetic, true)

	out := make([]StratumReport, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return models.StratumKey(out[i].Levels) < models.StratumKey(out[j].Levels)
	})
	return out
}

func correlationMAE(original, synthetic *dataset.Dataset, continuous []string) float64 {
	total, n := 0.0, 0
	for _, p := range models.Pairs(continuous) {
		a := mathutil.Correlation(original.Continuous[p.A], original.Continuous[p.B])
		b := mathutil.Correlation(synthetic.Continuous[p.A], synthetic.Continuous[p.B])
		if math.IsNaN(a) || math.IsNaN(b) {
			continue
		}
		total += math.Abs(a - b)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return total / float64(n)
}

// WriteText renders the report as aligned text tables.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "rows\toriginal %d\tsynthetic %d\n\n", r.OriginalRows, r.SyntheticRows)
	fmt.Fprintln(tw, "variable\tmean (orig/syn)\tsd (orig/syn)\tKS D\tp-value\tresult")
	for _, v := range r.Variables {
		result := v.Skipped
		d, p := "-", "-"
		if v.KS != nil {
			d = fmt.Sprintf("%.4f", v.KS.Statistic)
			p = fmt.Sprintf("%.4f", v.KS.PValue)
			result = "similar"
			if v.KS.IsSignificant {
				result = "differs"
			}
		}
		fmt.Fprintf(tw, "%s\t%.3f / %.3f\t%.3f / %.3f\t%s\t%s\t%s\n",
			v.Variable, v.OriginalMean, v.SyntheticMean, v.OriginalSD, v.SyntheticSD, d, p, result)
	}
	fmt.Fprintf(tw, "\ncorrelation MAE\t%.4f\n\n", r.CorrelationMAE)
	fmt.Fprintln(tw, "stratum\toriginal n\tsynthetic n")
	for _, s := range r.Strata {
		fmt.Fprintf(tw, "%v\t%d\t%d\n", s.Levels, s.Original, s.Synthetic)
	}
	if len(r.Tables) > 0 {
		fmt.Fprintln(tw, "\ntable\tpoints\tcoverage\textrapolated\tnormality D\tp-value")
		for _, t := range r.Tables {
			d, p := "-", "-"
			if t.Normality != nil {
				d = fmt.Sprintf("%.4f", t.Normality.Statistic)
				p = fmt.Sprintf("%.4f", t.Normality.PValue)
			}
			fmt.Fprintf(tw, "%s\t%d\t%.3f\t%d\t%s\t%s\n", t.Variable, t.Points, t.Coverage, t.Extrapolated, d, p)
		}
	}
	return tw.Flush()
}
