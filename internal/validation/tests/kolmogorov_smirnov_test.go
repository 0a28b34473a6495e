package tests

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func sequence(from, to float64) []float64 {
	var out []float64
	for x := from; x <= to; x++ {
		out = append(out, x)
	}
	return out
}

func TestTwoSampleKSTestIdentical(t *testing.T) {
	a := sequence(1, 20)
	result, err := TwoSampleKSTest(a, a, 0.05)
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.Statistic)
	assert.Equal(t, 1.0, result.PValue)
	assert.False(t, result.IsSignificant)
	assert.Equal(t, 20, result.SampleSize1)
	assert.Equal(t, 20, result.SampleSize2)
}

func TestTwoSampleKSTestDisjoint(t *testing.T) {
	result, err := TwoSampleKSTest(sequence(1, 10), sequence(11, 20), 0.05)
	require.NoError(t, err)

	assert.Equal(t, 1.0, result.Statistic)
	assert.Equal(t, 10.0, result.DifferenceLocation)
	assert.InDelta(t, 1.36/math.Sqrt(5), result.CriticalValue, 1e-12)
	assert.True(t, result.IsSignificant)
	assert.Less(t, result.PValue, 1e-4)
	assert.Contains(t, result.Interpretation, "differ")
}

func TestTwoSampleKSTestIgnoresMissing(t *testing.T) {
	a := append(sequence(1, 6), math.NaN(), math.Inf(1))
	result, err := TwoSampleKSTest(a, sequence(1, 6), 0.05)
	require.NoError(t, err)

	assert.Equal(t, 6, result.SampleSize1)
	assert.Equal(t, 0.0, result.Statistic)
}

func TestTwoSampleKSTestTooSmall(t *testing.T) {
	_, err := TwoSampleKSTest([]float64{1, 2, 3, 4}, sequence(1, 10), 0.05)
	assert.Error(t, err)

	_, err = TwoSampleKSTest(sequence(1, 10), []float64{1, 2, math.NaN(), 4, 5}, 0.05)
	assert.Error(t, err)
}

func TestNormalityKSTest(t *testing.T) {
	n := 100
	sample := make([]float64, n)
	for i := range sample {
		sample[i] = distuv.UnitNormal.Quantile((float64(i) + 0.5) / float64(n))
	}
	result, err := NormalityKSTest(sample, 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 0.5/float64(n), result.Statistic, 1e-9)
	assert.False(t, result.IsSignificant)
	assert.Equal(t, 1.0, result.PValue)

	shifted := make([]float64, n)
	for i := range sample {
		shifted[i] = sample[i] + 2
	}
	result, err = NormalityKSTest(shifted, 0.05)
	require.NoError(t, err)
	assert.True(t, result.IsSignificant)
	assert.Greater(t, result.Statistic, 0.6)
}

func TestNormalityKSTestTooSmall(t *testing.T) {
	_, err := NormalityKSTest([]float64{0, 1, math.NaN(), 2, -1}, 0.05)
	assert.Error(t, err)
}

func TestCriticalCoefficient(t *testing.T) {
	assert.Equal(t, 1.63, criticalCoefficient(0.01))
	assert.Equal(t, 1.36, criticalCoefficient(0.05))
	assert.Equal(t, 1.22, criticalCoefficient(0.1))
	assert.Equal(t, 1.36, criticalCoefficient(0.5))
}

func TestKolmogorovPValueBounds(t *testing.T) {
	assert.Equal(t, 1.0, kolmogorovPValue(0, 50))
	assert.Equal(t, 1.0, kolmogorovPValue(0.01, 50))

	prev := 1.0
	for _, d := range []float64{0.1, 0.2, 0.3, 0.5} {
		p := kolmogorovPValue(d, 50)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, prev)
		prev = p
	}
}
