// Package simplify reduces a monotone quantile curve to a handful of control points
// with Ramer–Douglas–Peucker polyline simplification.
package simplify

import (
	"fmt"
	"math"

	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
)

// Point is a curve vertex (original value, transformed value).
type Point = mathutil.Point

type segment struct {
	first, last int
}

// RDP keeps the endpoints of points and every interior point whose perpendicular
// distance from the chord of its enclosing segment exceeds eps. It walks segments with
// an explicit stack, so deep curves cannot overflow the call stack.
func RDP(points []Point, eps float64) []Point {
	n := len(points)
	if n <= 2 {
		return append([]Point(nil), points...)
	}

	keep := make([]bool, n)
	keep[0], keep[n-1] = true, true

	stack := []segment{{0, n - 1}}
	for len(stack) > 0 {
		seg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seg.last-seg.first < 2 {
			continue
		}

		index, dmax := -1, 0.0
		for i := seg.first + 1; i < seg.last; i++ {
			d := perpendicularDistance(points[i], points[seg.first], points[seg.last])
			if d > dmax {
				index, dmax = i, d
			}
		}
		if index < 0 || dmax <= eps {
			continue
		}
		keep[index] = true
		stack = append(stack, segment{seg.first, index}, segment{index, seg.last})
	}

	out := make([]Point, 0, n)
	for i, k := range keep {
		if k {
			out = append(out, points[i])
		}
	}
	return out
}

func perpendicularDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	return math.Abs(dy*p.X-dx*p.Y+b.X*a.Y-b.Y*a.X) / length
}

// Result is the outcome of an epsilon search.
type Result struct {
	Points     []Point
	Epsilon    float64
	Iterations int
	// Reached reports whether maxPoints was met within the epsilon ceiling.
	Reached bool
}

// FindSimplification runs RDP starting at eps0 and increases epsilon by step until the
// point count is at most maxPoints or epsMax is reached. The search makes at most
// ceil((epsMax-eps0)/step)+1 RDP passes; the last pass uses epsMax itself. When the
// ceiling is reached first the simplification at the ceiling is returned with
// Reached=false.
func FindSimplification(curve []Point, maxPoints int, eps0, step, epsMax float64) (Result, error) {
	switch {
	case len(curve) < 2:
		return Result{}, fmt.Errorf("curve needs at least 2 points, got %d", len(curve))
	case maxPoints < 2:
		return Result{}, fmt.Errorf("maxPoints must be at least 2, got %d", maxPoints)
	case eps0 < 0 || step <= 0 || epsMax < eps0:
		return Result{}, fmt.Errorf("invalid epsilon search [%g, %g] step %g", eps0, epsMax, step)
	}

	passes := MaxPasses(eps0, step, epsMax)
	var res Result
	for iter := 0; iter < passes; iter++ {
		eps := math.Min(eps0+float64(iter)*step, epsMax)
		if iter == passes-1 {
			eps = epsMax
		}
		points := RDP(curve, eps)
		res = Result{Points: points, Epsilon: eps, Iterations: iter + 1, Reached: len(points) <= maxPoints}
		if res.Reached {
			break
		}
	}
	return res, nil
}

// MaxPasses is the number of RDP passes FindSimplification makes when the target is
// never met: ceil((epsMax-eps0)/step)+1.
func MaxPasses(eps0, step, epsMax float64) int {
	return int(math.Ceil((epsMax-eps0)/step-1e-9)) + 1
}

// Dedup drops points that do not strictly increase in both coordinates over the last
// kept point, keeping the first representative of each tie. The final point of the
// curve is always retained so the result spans the full observed domain.
func Dedup(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}
	out := []Point{points[0]}
	for _, p := range points[1:] {
		last := out[len(out)-1]
		if p.X > last.X && p.Y > last.Y {
			out = append(out, p)
		}
	}

	end := points[len(points)-1]
	last := out[len(out)-1]
	if last != end && len(out) > 1 {
		prev := out[len(out)-2]
		if end.X > prev.X && end.Y > prev.Y {
			out[len(out)-1] = end
		}
	}
	return out
}
