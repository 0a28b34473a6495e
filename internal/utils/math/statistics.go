package math

import (
	"math"
	"sort"
)

// Mean calculates the arithmetic mean of the non-missing values, NaN if there are none.
func Mean(values []float64) float64 {
	sum := 0.0
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Variance calculates the sample variance (n-1) of the non-missing values.
// Fewer than two observations give NaN.
func Variance(values []float64) float64 {
	mean := Mean(values)
	sumSquaredDiff := 0.0
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		diff := v - mean
		sumSquaredDiff += diff * diff
		n++
	}
	if n <= 1 {
		return math.NaN()
	}
	return sumSquaredDiff / float64(n-1)
}

// StandardDeviation calculates the sample standard deviation of the non-missing values
func StandardDeviation(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Correlation calculates the Pearson correlation over pairwise-complete observations.
// It returns NaN when fewer than three complete pairs exist or either side is constant.
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) {
		return math.NaN()
	}

	var xs, ys []float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 3 {
		return math.NaN()
	}

	meanX := Mean(xs)
	meanY := Mean(ys)

	numerator := 0.0
	sumXSq := 0.0
	sumYSq := 0.0
	for i := range xs {
		diffX := xs[i] - meanX
		diffY := ys[i] - meanY
		numerator += diffX * diffY
		sumXSq += diffX * diffX
		sumYSq += diffY * diffY
	}

	denominator := math.Sqrt(sumXSq * sumYSq)
	if denominator == 0 {
		return math.NaN()
	}
	r := numerator / denominator
	return math.Max(-1, math.Min(1, r))
}

// Round rounds x half away from zero to the given number of decimal digits. NaN passes through.
func Round(x float64, digits int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	scale := math.Pow(10, float64(digits))
	return math.Round(x*scale) / scale
}

// Quantile returns the p-th quantile (0..1) of an ascending slice using linear
// interpolation between order statistics.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	h := p * float64(n-1)
	lower := int(math.Floor(h))
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	weight := h - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// AverageRanks assigns 1-based ranks to values, giving tied values the mean of the
// ranks they span. It also returns how many values share a rank with another value.
func AverageRanks(values []float64) ([]float64, int) {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})

	ranks := make([]float64, n)
	tied := 0
	for i := 0; i < n; {
		j := i + 1
		for j < n && values[idx[j]] == values[idx[i]] {
			j++
		}
		// positions i..j-1 hold ranks i+1..j
		avg := float64(i+1+j) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		if j-i > 1 {
			tied += j - i
		}
		i = j
	}
	return ranks, tied
}

// DropMissing returns the non-NaN values of values in their original order.
func DropMissing(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
