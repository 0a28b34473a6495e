package tests

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// KSTestResult contains detailed results of the Kolmogorov-Smirnov test
type KSTestResult struct {
	TestName           string  `json:"test_name"`
	Statistic          float64 `json:"statistic"`
	PValue             float64 `json:"p_value"`
	CriticalValue      float64 `json:"critical_value"`
	IsSignificant      bool    `json:"is_significant"`
	AlphaLevel         float64 `json:"alpha_level"`
	SampleSize1        int     `json:"sample_size_1"`
	SampleSize2        int     `json:"sample_size_2,omitempty"`
	DifferenceLocation float64 `json:"difference_location"`
	Interpretation     string  `json:"interpretation"`
}

// MinSampleSize is the smallest sample either KS test accepts.
const MinSampleSize = 5

// TwoSampleKSTest performs two-sample Kolmogorov-Smirnov test. NaN values are ignored.
func TwoSampleKSTest(sample1, sample2 []float64, alpha float64) (*KSTestResult, error) {
	sorted1 := sortedFinite(sample1)
	sorted2 := sortedFinite(sample2)
	n1, n2 := len(sorted1), len(sorted2)
	if n1 < MinSampleSize || n2 < MinSampleSize {
		return nil, errors.New("Kolmogorov-Smirnov test requires at least 5 observations in each sample")
	}

	maxDiff, diffLocation := calculateTwoSampleKSStatistic(sorted1, sorted2)
	ne := float64(n1) * float64(n2) / float64(n1+n2)
	criticalValue := criticalCoefficient(alpha) / math.Sqrt(ne)
	pValue := kolmogorovPValue(maxDiff, ne)
	isSignificant := maxDiff > criticalValue

	return &KSTestResult{
		TestName:           "Two-Sample Kolmogorov-Smirnov Test",
		Statistic:          maxDiff,
		PValue:             pValue,
		CriticalValue:      criticalValue,
		IsSignificant:      isSignificant,
		AlphaLevel:         alpha,
		SampleSize1:        n1,
		SampleSize2:        n2,
		DifferenceLocation: diffLocation,
		Interpretation:     interpret(isSignificant, maxDiff, pValue),
	}, nil
}

// NormalityKSTest compares a sample to the standard normal distribution, which is what
// a normalized variable should follow.
func NormalityKSTest(sample []float64, alpha float64) (*KSTestResult, error) {
	sorted := sortedFinite(sample)
	n := len(sorted)
	if n < MinSampleSize {
		return nil, errors.New("Kolmogorov-Smirnov test requires at least 5 observations")
	}

	var maxDiff, diffLocation float64
	for i, x := range sorted {
		cdf := distuv.UnitNormal.CDF(x)
		lower := math.Abs(cdf - float64(i)/float64(n))
		upper := math.Abs(float64(i+1)/float64(n) - cdf)
		if d := math.Max(lower, upper); d > maxDiff {
			maxDiff = d
			diffLocation = x
		}
	}

	criticalValue := criticalCoefficient(alpha) / math.Sqrt(float64(n))
	pValue := kolmogorovPValue(maxDiff, float64(n))
	isSignificant := maxDiff > criticalValue

	return &KSTestResult{
		TestName:           "One-Sample Kolmogorov-Smirnov Test (standard normal)",
		Statistic:          maxDiff,
		PValue:             pValue,
		CriticalValue:      criticalValue,
		IsSignificant:      isSignificant,
		AlphaLevel:         alpha,
		SampleSize1:        n,
		DifferenceLocation: diffLocation,
		Interpretation:     interpret(isSignificant, maxDiff, pValue),
	}, nil
}

// calculateTwoSampleKSStatistic calculates the KS statistic for two samples
func calculateTwoSampleKSStatistic(sorted1, sorted2 []float64) (float64, float64) {
	n1, n2 := len(sorted1), len(sorted2)
	var maxDiff, diffLocation float64

	i1, i2 := 0, 0
	for i1 < n1 || i2 < n2 {
		var x float64
		switch {
		case i1 >= n1:
			x = sorted2[i2]
		case i2 >= n2:
			x = sorted1[i1]
		default:
			x = math.Min(sorted1[i1], sorted2[i2])
		}

		for i1 < n1 && sorted1[i1] <= x {
			i1++
		}
		for i2 < n2 && sorted2[i2] <= x {
			i2++
		}

		diff := math.Abs(float64(i1)/float64(n1) - float64(i2)/float64(n2))
		if diff > maxDiff {
			maxDiff = diff
			diffLocation = x
		}
	}
	return maxDiff, diffLocation
}

func criticalCoefficient(alpha float64) float64 {
	switch {
	case alpha <= 0.01:
		return 1.63
	case alpha <= 0.05:
		return 1.36
	case alpha <= 0.10:
		return 1.22
	default:
		return 1.36
	}
}

// kolmogorovPValue evaluates the asymptotic Kolmogorov distribution tail
// Q(λ) = 2 Σ (−1)^(k−1) exp(−2k²λ²) with the Stephens small-sample correction.
func kolmogorovPValue(d, ne float64) float64 {
	if d <= 0 {
		return 1
	}
	sq := math.Sqrt(ne)
	lambda := (sq + 0.12 + 0.11/sq) * d
	if lambda < 0.2 {
		return 1
	}

	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	return math.Max(0, math.Min(1, 2*sum))
}

func sortedFinite(sample []float64) []float64 {
	out := make([]float64, 0, len(sample))
	for _, v := range sample {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func interpret(significant bool, d, p float64) string {
	if significant {
		return fmt.Sprintf("Distributions differ (D=%.4f, p=%.4f)", d, p)
	}
	return fmt.Sprintf("No significant difference between distributions (D=%.4f, p=%.4f)", d, p)
}
