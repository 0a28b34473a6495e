package normalization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// probability clamp of Probability
	probEpsilon = 1e-15
	// below this log-probability Φ⁻¹ switches from gonum's quantile to the
	// asymptotic tail expansion, exp(-700) still being a normal float64
	minLogProb = -700
	// below this score log Φ switches from erfc to the tail expansion
	minErfcScore = -35
)

var logSqrt2Pi = 0.5 * math.Log(2*math.Pi)

// Logistic is the tail model used outside the observed domain:
// P(x) = σ(Intercept + Slope·(x−Center)/Scale).
type Logistic struct {
	Intercept float64 `json:"intercept"`
	Slope     float64 `json:"slope"`
	Center    float64 `json:"center"`
	Scale     float64 `json:"scale"`
}

// Valid reports whether the model is usable for extrapolation. A non-positive slope
// would make the tails decreasing.
func (l Logistic) Valid() bool {
	return l.Slope > 0 && l.Scale > 0 &&
		!math.IsNaN(l.Intercept) && !math.IsInf(l.Intercept, 0) &&
		!math.IsInf(l.Slope, 0) && !math.IsNaN(l.Center) && !math.IsInf(l.Center, 0) &&
		!math.IsInf(l.Scale, 0)
}

func (l Logistic) eta(x float64) float64 {
	return l.Intercept + l.Slope*(x-l.Center)/l.Scale
}

// Probability evaluates the fitted rank fraction at x.
func (l Logistic) Probability(x float64) float64 {
	return clampProbability(sigmoid(l.eta(x)))
}

// NormalScore maps x to the normal quantile of its fitted rank fraction. The smaller
// tail probability is carried as a logarithm, so the score keeps increasing in x long
// after σ itself has rounded to 0 or 1.
func (l Logistic) NormalScore(x float64) float64 {
	eta := l.eta(x)
	if eta > 0 {
		// 1 − σ(η) = σ(−η)
		return -normalQuantileLog(-softplus(eta))
	}
	return normalQuantileLog(-softplus(-eta))
}

// InvertNormalScore solves NormalScore(x) = t for x.
func (l Logistic) InvertNormalScore(t float64) float64 {
	var logit float64
	if t > 0 {
		logit = -lowerLogit(-t)
	} else {
		logit = lowerLogit(t)
	}
	return l.Center + l.Scale*(logit-l.Intercept)/l.Slope
}

// normalQuantileLog returns Φ⁻¹(p) from logP = log p, for p ≤ 1/2.
func normalQuantileLog(logP float64) float64 {
	if math.IsInf(logP, -1) {
		return math.Inf(-1)
	}
	if logP > minLogProb {
		return distuv.UnitNormal.Quantile(math.Exp(logP))
	}
	// solve log Φ(−z) = logP by Newton on the tail expansion
	target := -logP - logSqrt2Pi
	z := math.Sqrt(2 * target)
	for i := 0; i < 20; i++ {
		f := z*z/2 + math.Log(z) - tailSeries(z) - target
		step := f / (z + 1/z)
		z -= step
		if math.Abs(step) <= 1e-14*z {
			break
		}
	}
	return -z
}

// logNormalCDF returns log Φ(t) for t ≤ 0.
func logNormalCDF(t float64) float64 {
	if t > minErfcScore {
		return math.Log(0.5 * math.Erfc(-t/math.Sqrt2))
	}
	z := -t
	return -z*z/2 - math.Log(z) - logSqrt2Pi + tailSeries(z)
}

// lowerLogit returns logit(Φ(t)) for t ≤ 0.
func lowerLogit(t float64) float64 {
	logP := logNormalCDF(t)
	return logP - math.Log1p(-math.Exp(logP))
}

// tailSeries is log(1 − 1/z² + 3/z⁴ − 15/z⁶), the correction to Φ(−z) ≈ φ(z)/z.
func tailSeries(z float64) float64 {
	u := 1 / (z * z)
	return math.Log1p(u * (-1 + u*(3-15*u)))
}

// FitLogistic regresses rank fractions p on raw values x by minimizing the binomial
// deviance. x is standardized first so the optimizer works on a unit scale.
func FitLogistic(x, p []float64) (Logistic, error) {
	if len(x) != len(p) {
		return Logistic{}, fmt.Errorf("logistic fit: %d values but %d fractions", len(x), len(p))
	}
	if len(x) < 2 {
		return Logistic{}, fmt.Errorf("logistic fit: need at least 2 observations, got %d", len(x))
	}

	center, scale := stat.MeanStdDev(x, nil)
	if scale == 0 || math.IsNaN(scale) {
		return Logistic{}, fmt.Errorf("logistic fit: values have zero spread")
	}

	z := make([]float64, len(x))
	for i, v := range x {
		z[i] = (v - center) / scale
	}
	m := float64(len(z))

	problem := optimize.Problem{
		Func: func(beta []float64) float64 {
			loss := 0.0
			for i := range z {
				eta := beta[0] + beta[1]*z[i]
				loss += softplus(eta) - p[i]*eta
			}
			return loss / m
		},
		Grad: func(grad, beta []float64) {
			grad[0], grad[1] = 0, 0
			for i := range z {
				r := sigmoid(beta[0]+beta[1]*z[i]) - p[i]
				grad[0] += r
				grad[1] += r * z[i]
			}
			grad[0] /= m
			grad[1] /= m
		},
	}

	result, err := optimize.Minimize(problem, []float64{0, 1}, nil, &optimize.BFGS{})
	if result == nil {
		return Logistic{}, fmt.Errorf("logistic fit: %w", err)
	}

	model := Logistic{
		Intercept: result.X[0],
		Slope:     result.X[1],
		Center:    center,
		Scale:     scale,
	}
	if !model.Valid() {
		return model, fmt.Errorf("logistic fit: degenerate model (slope %g)", model.Slope)
	}
	return model, nil
}

func sigmoid(eta float64) float64 {
	if eta >= 0 {
		return 1 / (1 + math.Exp(-eta))
	}
	e := math.Exp(eta)
	return e / (1 + e)
}

// softplus computes log(1+e^eta) without overflow.
func softplus(eta float64) float64 {
	if eta > 0 {
		return eta + math.Log1p(math.Exp(-eta))
	}
	return math.Log1p(math.Exp(eta))
}

func clampProbability(p float64) float64 {
	return math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
}
