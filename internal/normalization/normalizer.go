// Package normalization implements the rank-based order-quantile transform that maps a
// continuous variable onto a standard normal scale, together with its inverse and the
// logistic tail model used outside the observed domain.
package normalization

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// Options controls a normalization fit
type Options struct {
	// LogitFitMax caps the observations used to fit the tail model (n_logit_fit).
	LogitFitMax int
	// Diagnostics, when set, receives a report after every fit.
	Diagnostics func(FitReport)
}

// FitReport summarizes one fit for optional diagnostics consumers.
type FitReport struct {
	Variable  string
	N         int
	Missing   int
	Ties      int
	Reference []mathutil.Point
	Model     Logistic
	BiasLow   float64
	BiasHigh  float64
	Tails     bool
}

// Normalizer holds a fitted order-quantile transform for one variable. It is
// immutable after Fit and safe for concurrent use.
type Normalizer struct {
	name        string
	values      []float64
	transformed []float64
	sortedX     []float64
	sortedT     []float64
	ties        int
	mapping     *curveMapping
	logger      *logrus.Logger
}

// Fit ranks the non-missing values of x, maps them to t = Φ⁻¹((rank−0.5)/n) and fits
// the logistic tail model. Missing values are NaN and stay NaN in the transformed output.
func Fit(name string, x []float64, opts Options, logger *logrus.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.LogitFitMax <= 0 {
		opts.LogitFitMax = constants.DefaultLogitFitMax
	}

	observed := make([]float64, 0, len(x))
	positions := make([]int, 0, len(x))
	for i, v := range x {
		if math.IsInf(v, 0) {
			return nil, errors.NewInvalidInputError("variable %s has a non-finite value at row %d", name, i)
		}
		if math.IsNaN(v) {
			continue
		}
		observed = append(observed, v)
		positions = append(positions, i)
	}
	n := len(observed)
	if n == 0 {
		return nil, errors.NewInvalidInputError("variable %s has no non-missing values", name)
	}

	ranks, ties := mathutil.AverageRanks(observed)
	transformed := make([]float64, len(x))
	for i := range transformed {
		transformed[i] = math.NaN()
	}
	fractions := make([]float64, n)
	for i, r := range ranks {
		fractions[i] = (r - 0.5) / float64(n)
		transformed[positions[i]] = distuv.UnitNormal.Quantile(fractions[i])
	}

	if ties > 0 {
		logger.WithFields(logrus.Fields{
			"variable": name,
			"tied":     ties,
			"warning":  errors.TiesWarning,
		}).Warn("Tied values present, transformed distribution is only approximately normal")
	}

	// reference table: one (x, t) pair per distinct value
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return observed[order[a]] < observed[order[b]] })

	sortedX := make([]float64, n)
	sortedT := make([]float64, n)
	reference := make([]mathutil.Point, 0, n)
	for k, i := range order {
		sortedX[k] = observed[i]
		sortedT[k] = transformed[positions[i]]
		if len(reference) == 0 || observed[i] > reference[len(reference)-1].X {
			reference = append(reference, mathutil.Point{X: observed[i], Y: sortedT[k]})
		}
	}

	model, err := fitTailModel(sortedX, opts.LogitFitMax)
	if err != nil {
		logger.WithError(err).WithField("variable", name).
			Warn("Tail model unavailable, out-of-domain values will be clamped to the observed range")
	}

	mapping, err := newCurveMapping(reference, model)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError,
			"failed to build reference table for "+name)
	}

	norm := &Normalizer{
		name:        name,
		values:      x,
		transformed: transformed,
		sortedX:     sortedX,
		sortedT:     sortedT,
		ties:        ties,
		mapping:     mapping,
		logger:      logger,
	}

	logger.WithFields(logrus.Fields{
		"variable": name,
		"n":        n,
		"missing":  len(x) - n,
		"distinct": len(reference),
	}).Debug("Fitted order-quantile normalization")

	if opts.Diagnostics != nil {
		opts.Diagnostics(norm.Report())
	}
	return norm, nil
}

// fitTailModel selects up to limit observations evenly spaced by rank from the sorted
// values and fits the logistic model of rank fraction on value.
func fitTailModel(sorted []float64, limit int) (Logistic, error) {
	n := len(sorted)
	m := limit
	if n < m {
		m = n
	}
	xs := make([]float64, m)
	ps := make([]float64, m)
	for i := 0; i < m; i++ {
		k := 0
		if m > 1 {
			k = int(math.Round(float64(i) * float64(n-1) / float64(m-1)))
		}
		xs[i] = sorted[k]
		ps[i] = (float64(k) + 0.5) / float64(n)
	}
	return FitLogistic(xs, ps)
}

// Name returns the variable name
func (n *Normalizer) Name() string {
	return n.name
}

// Ties returns the number of observations sharing a value with another observation.
func (n *Normalizer) Ties() int {
	return n.ties
}

// Model returns the fitted tail model.
func (n *Normalizer) Model() Logistic {
	return n.mapping.model
}

// Transformed returns the normal scores aligned with the fitted input.
func (n *Normalizer) Transformed() []float64 {
	out := make([]float64, len(n.transformed))
	copy(out, n.transformed)
	return out
}

// Forward maps original-scale values to the normal scale. The warning is non-nil when
// any value required extrapolation.
func (n *Normalizer) Forward(x []float64) ([]float64, *errors.Warning) {
	return applyMapping(n.name, x, n.mapping.toNormal, n.logger)
}

// Inverse maps normal-scale values back to the original scale.
func (n *Normalizer) Inverse(t []float64) ([]float64, *errors.Warning) {
	return applyMapping(n.name, t, n.mapping.toOriginal, n.logger)
}

// QuantileCurve returns (x-quantile, t-quantile) pairs at probabilities 0, step, ..., 1.
func (n *Normalizer) QuantileCurve(step float64) []mathutil.Point {
	if step <= 0 || step >= 1 {
		step = constants.DefaultCurveStep
	}
	k := int(math.Round(1 / step))
	curve := make([]mathutil.Point, 0, k+1)
	for i := 0; i <= k; i++ {
		p := math.Min(float64(i)*step, 1)
		curve = append(curve, mathutil.Point{
			X: mathutil.Quantile(n.sortedX, p),
			Y: mathutil.Quantile(n.sortedT, p),
		})
	}
	return curve
}

// Report describes the fit for diagnostics.
func (n *Normalizer) Report() FitReport {
	return FitReport{
		Variable:  n.name,
		N:         len(n.sortedX),
		Missing:   len(n.values) - len(n.sortedX),
		Ties:      n.ties,
		Reference: append([]mathutil.Point(nil), n.mapping.points...),
		Model:     n.mapping.model,
		BiasLow:   n.mapping.biasLow,
		BiasHigh:  n.mapping.biasHigh,
		Tails:     n.mapping.tails,
	}
}

func applyMapping(name string, in []float64, fn func(float64) (float64, bool), logger *logrus.Logger) ([]float64, *errors.Warning) {
	out := make([]float64, len(in))
	extrapolated := 0
	for i, v := range in {
		var ext bool
		out[i], ext = fn(v)
		if ext {
			extrapolated++
		}
	}
	if extrapolated == 0 {
		return out, nil
	}
	warning := &errors.Warning{Kind: errors.ExtrapolationWarning, Variable: name, Count: extrapolated}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"variable": name,
			"count":    extrapolated,
			"warning":  warning.Kind,
		}).Debug("Values outside the fitted domain were extrapolated")
	}
	return out, warning
}
