package math

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMomentsSkipMissing(t *testing.T) {
	values := []float64{1, 2, math.NaN(), 3, 4}
	assert.InDelta(t, 2.5, Mean(values), 1e-12)
	assert.InDelta(t, 5.0/3.0, Variance(values), 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), StandardDeviation(values), 1e-12)

	assert.True(t, math.IsNaN(Mean([]float64{math.NaN()})))
	assert.True(t, math.IsNaN(Variance([]float64{7})))
}

func TestCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, Correlation(x, []float64{2, 4, 6, 8, 10}), 1e-12)
	assert.InDelta(t, -1.0, Correlation(x, []float64{5, 4, 3, 2, 1}), 1e-12)

	// pairwise complete: the NaN row is dropped on both sides
	assert.InDelta(t, 1.0, Correlation([]float64{1, 2, math.NaN(), 4}, []float64{1, 2, 3, 4}), 1e-12)

	assert.True(t, math.IsNaN(Correlation([]float64{1, 2}, []float64{1, 2})), "fewer than three pairs")
	assert.True(t, math.IsNaN(Correlation(x, []float64{3, 3, 3, 3, 3})), "constant side")
	assert.True(t, math.IsNaN(Correlation(x, x[:4])), "length mismatch")
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.12, Round(0.1249, 2))
	assert.Equal(t, -0.13, Round(-0.125, 2))
	assert.True(t, math.IsNaN(Round(math.NaN(), 2)))
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, Quantile(sorted, 0))
	assert.Equal(t, 5.0, Quantile(sorted, 1))
	assert.Equal(t, 3.0, Quantile(sorted, 0.5))
	assert.InDelta(t, 1.4, Quantile(sorted, 0.1), 1e-12)
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestAverageRanks(t *testing.T) {
	ranks, tied := AverageRanks([]float64{10, 20, 20, 5, 30})
	assert.Equal(t, []float64{2, 3.5, 3.5, 1, 5}, ranks)
	assert.Equal(t, 2, tied)

	ranks, tied = AverageRanks([]float64{3, 1, 2})
	assert.Equal(t, []float64{3, 1, 2}, ranks)
	assert.Zero(t, tied)
}

func TestDropMissing(t *testing.T) {
	assert.Equal(t, []float64{3, 1}, DropMissing([]float64{math.NaN(), 3, math.NaN(), 1}))
}

func TestLinearInterpolator(t *testing.T) {
	li, err := NewLinearInterpolator([]Point{{X: 2, Y: 20}, {X: 0, Y: 0}, {X: 1, Y: 10}})
	require.NoError(t, err)

	assert.Equal(t, Point{X: 0, Y: 0}, li.Min())
	assert.Equal(t, Point{X: 2, Y: 20}, li.Max())
	assert.InDelta(t, 15.0, li.Interpolate(1.5), 1e-12)
	assert.Equal(t, 10.0, li.Interpolate(1))
	assert.True(t, math.IsNaN(li.Interpolate(-0.1)))
	assert.True(t, math.IsNaN(li.Interpolate(2.1)))

	inv, err := li.Swapped()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, inv.Interpolate(15), 1e-12)

	_, err = NewLinearInterpolator([]Point{{X: 0, Y: 0}})
	assert.Error(t, err)
}

func TestNearestPSDRepairsIndefinite(t *testing.T) {
	// pairwise correlations that no joint distribution can have
	a := mat.NewSymDense(3, []float64{
		1, 0.9, -0.9,
		0.9, 1, 0.9,
		-0.9, 0.9, 1,
	})
	require.False(t, IsPositiveSemidefinite(a, 1e-10))

	repaired, passes, err := NearestPSD(a, 1e-8, 20)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, passes, 1)
	assert.True(t, IsPositiveDefinite(repaired))
	assert.True(t, IsSymmetric(repaired, 1e-12))
	assert.Less(t, FrobeniusDistance(a, repaired), 1.5)
}

func TestNearestPSDSmallNegativeEigenvalue(t *testing.T) {
	// Q·diag(2, 1, -1e-3)·Qᵀ for a rotation Q that mixes all three axes
	c1, s1 := math.Cos(math.Pi/6), math.Sin(math.Pi/6)
	c2, s2 := math.Cos(math.Pi/4), math.Sin(math.Pi/4)
	rz := mat.NewDense(3, 3, []float64{c1, -s1, 0, s1, c1, 0, 0, 0, 1})
	rx := mat.NewDense(3, 3, []float64{1, 0, 0, 0, c2, -s2, 0, s2, c2})
	var q, qd, full mat.Dense
	q.Mul(rz, rx)
	qd.Mul(&q, mat.NewDiagDense(3, []float64{2, 1, -1e-3}))
	full.Mul(&qd, q.T())

	a := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			a.SetSym(i, j, (full.At(i, j)+full.At(j, i))/2)
		}
	}
	require.False(t, IsPositiveSemidefinite(a, 1e-10))

	repaired, passes, err := NearestPSD(a, 1e-8, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, passes, 1)
	assert.True(t, IsPositiveSemidefinite(repaired, 1e-10))
	// the repair only has to remove the negative eigenvalue
	assert.Less(t, FrobeniusDistance(a, repaired), 2e-3)
}

func TestNearestPSDKeepsPositiveDefinite(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1})
	repaired, passes, err := NearestPSD(a, 1e-8, 20)
	require.NoError(t, err)
	assert.Zero(t, passes)
	assert.True(t, mat.EqualApprox(a, repaired, 1e-12))
}

func TestNearestPSDRejectsNonFinite(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, math.NaN(), math.NaN(), 1})
	_, _, err := NearestPSD(a, 1e-8, 5)
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestCovarianceFromCorrelation(t *testing.T) {
	corr := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1})
	cov, err := CovarianceFromCorrelation([]float64{2, 3}, corr)
	require.NoError(t, err)
	assert.Equal(t, 4.0, cov.At(0, 0))
	assert.Equal(t, 3.0, cov.At(0, 1))
	assert.Equal(t, 9.0, cov.At(1, 1))

	_, err = CovarianceFromCorrelation([]float64{1}, corr)
	assert.Error(t, err)
}
