package math

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNotConverged is returned when a matrix could not be made positive definite.
var ErrNotConverged = errors.New("positive definite repair did not converge")

// IsFinite reports whether every entry of a is finite.
func IsFinite(a mat.Matrix) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := a.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// IsSymmetric checks a for symmetry within an absolute tolerance.
func IsSymmetric(a mat.Matrix, tol float64) bool {
	r, c := a.Dims()
	if r != c {
		return false
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if math.Abs(a.At(i, j)-a.At(j, i)) > tol {
				return false
			}
		}
	}
	return true
}

// IsPositiveDefinite reports whether a Cholesky factorization of a succeeds.
func IsPositiveDefinite(a mat.Symmetric) bool {
	var chol mat.Cholesky
	return chol.Factorize(a)
}

// IsPositiveSemidefinite checks that the smallest eigenvalue of a is not below
// -tol scaled by the largest eigenvalue magnitude.
func IsPositiveSemidefinite(a mat.Symmetric, tol float64) bool {
	if !IsFinite(a) {
		return false
	}
	var eig mat.EigenSym
	if !eig.Factorize(a, false) {
		return false
	}
	values := eig.Values(nil)
	scale := 1.0
	for _, v := range values {
		scale = math.Max(scale, math.Abs(v))
	}
	for _, v := range values {
		if v < -tol*scale {
			return false
		}
	}
	return true
}

// NearestPSD returns the symmetric positive-semidefinite matrix closest to a in
// Frobenius norm, nudged to strictly positive definite so it admits a Cholesky
// factor. Negative eigenvalues are clipped to a floor of tol times the largest
// eigenvalue; the floor grows tenfold on each pass until the factorization succeeds.
// The second return value is the number of repair passes applied.
func NearestPSD(a mat.Symmetric, tol float64, maxIter int) (*mat.SymDense, int, error) {
	n := a.SymmetricDim()
	if !IsFinite(a) {
		return nil, 0, fmt.Errorf("%w: matrix has non-finite entries", ErrNotConverged)
	}

	current := mat.NewSymDense(n, nil)
	current.CopySym(a)
	if IsPositiveDefinite(current) {
		return current, 0, nil
	}

	floor := tol
	for iter := 1; iter <= maxIter; iter++ {
		var eig mat.EigenSym
		if !eig.Factorize(current, true) {
			return nil, iter, fmt.Errorf("%w: eigen decomposition failed", ErrNotConverged)
		}
		values := eig.Values(nil)
		var vectors mat.Dense
		eig.VectorsTo(&vectors)

		scale := 0.0
		for _, v := range values {
			scale = math.Max(scale, math.Abs(v))
		}
		if scale == 0 {
			scale = 1
		}
		for i, v := range values {
			if v < floor*scale {
				values[i] = floor * scale
			}
		}

		// V * diag(values) * V^T, symmetrized
		var scaled mat.Dense
		scaled.Mul(&vectors, mat.NewDiagDense(n, values))
		var rebuilt mat.Dense
		rebuilt.Mul(&scaled, vectors.T())
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				current.SetSym(i, j, (rebuilt.At(i, j)+rebuilt.At(j, i))/2)
			}
		}

		if IsPositiveDefinite(current) {
			return current, iter, nil
		}
		floor *= 10
	}
	return nil, maxIter, ErrNotConverged
}

// CovarianceFromCorrelation builds diag(sd) * corr * diag(sd).
func CovarianceFromCorrelation(sd []float64, corr mat.Symmetric) (*mat.SymDense, error) {
	n := corr.SymmetricDim()
	if len(sd) != n {
		return nil, fmt.Errorf("sd has %d entries, correlation is %dx%d", len(sd), n, n)
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, sd[i]*corr.At(i, j)*sd[j])
		}
	}
	return cov, nil
}

// FrobeniusDistance returns ||a - b||_F.
func FrobeniusDistance(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	return mat.Norm(&diff, 2)
}
