package math

import (
	"errors"
	"math"
	"sort"
)

// Point represents a 2D point for interpolation
type Point struct {
	X, Y float64
}

// LinearInterpolator interpolates linearly between points sorted by X. Unlike a
// general interpolator it never extrapolates: lookups outside [X0, Xn] return NaN so
// callers can route them to a dedicated tail model.
type LinearInterpolator struct {
	points []Point
}

// NewLinearInterpolator creates a new linear interpolator
func NewLinearInterpolator(points []Point) (*LinearInterpolator, error) {
	if len(points) < 2 {
		return nil, errors.New("need at least 2 points for linear interpolation")
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].X < sorted[j].X
	})

	return &LinearInterpolator{points: sorted}, nil
}

// Min returns the first point.
func (li *LinearInterpolator) Min() Point {
	return li.points[0]
}

// Max returns the last point.
func (li *LinearInterpolator) Max() Point {
	return li.points[len(li.points)-1]
}

// Interpolate performs linear interpolation at x, NaN when x is NaN or out of range.
func (li *LinearInterpolator) Interpolate(x float64) float64 {
	n := len(li.points)
	if math.IsNaN(x) || x < li.points[0].X || x > li.points[n-1].X {
		return math.NaN()
	}

	// first index whose X >= x
	i := sort.Search(n, func(k int) bool { return li.points[k].X >= x })
	if li.points[i].X == x {
		return li.points[i].Y
	}

	x1, y1 := li.points[i-1].X, li.points[i-1].Y
	x2, y2 := li.points[i].X, li.points[i].Y
	if x2 == x1 {
		return y1
	}
	return y1 + (y2-y1)*(x-x1)/(x2-x1)
}

// InterpolateRange interpolates multiple x values
func (li *LinearInterpolator) InterpolateRange(xValues []float64) []float64 {
	results := make([]float64, len(xValues))
	for i, x := range xValues {
		results[i] = li.Interpolate(x)
	}
	return results
}

// Swapped returns an interpolator over the same curve with X and Y exchanged, used for
// inverting a monotone relationship.
func (li *LinearInterpolator) Swapped() (*LinearInterpolator, error) {
	swapped := make([]Point, len(li.points))
	for i, p := range li.points {
		swapped[i] = Point{X: p.Y, Y: p.X}
	}
	return NewLinearInterpolator(swapped)
}
