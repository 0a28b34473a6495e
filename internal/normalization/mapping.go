package normalization

import (
	"fmt"
	"math"

	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
)

// curveMapping pairs a monotone (original, transformed) point set with the logistic
// tail model. Interior lookups interpolate; lookups beyond either endpoint use the
// tail model shifted so that it meets the curve exactly at that endpoint.
type curveMapping struct {
	points   []mathutil.Point
	forward  *mathutil.LinearInterpolator
	inverse  *mathutil.LinearInterpolator
	model    Logistic
	tails    bool
	biasLow  float64
	biasHigh float64
}

func newCurveMapping(points []mathutil.Point, model Logistic) (*curveMapping, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("curve has no points")
	}
	for i := 1; i < len(points); i++ {
		if !(points[i].X > points[i-1].X) || !(points[i].Y > points[i-1].Y) {
			return nil, fmt.Errorf("curve is not strictly increasing at point %d", i)
		}
	}

	m := &curveMapping{points: points, model: model}
	if len(points) >= 2 {
		var err error
		if m.forward, err = mathutil.NewLinearInterpolator(points); err != nil {
			return nil, err
		}
		if m.inverse, err = m.forward.Swapped(); err != nil {
			return nil, err
		}
	}

	if model.Valid() {
		lo, hi := points[0], points[len(points)-1]
		// offset = empirical endpoint minus model endpoint, so model+offset meets the curve
		m.biasLow = lo.Y - model.NormalScore(lo.X)
		m.biasHigh = hi.Y - model.NormalScore(hi.X)
		m.tails = !math.IsNaN(m.biasLow) && !math.IsNaN(m.biasHigh) &&
			!math.IsInf(m.biasLow, 0) && !math.IsInf(m.biasHigh, 0)
	}
	return m, nil
}

func (m *curveMapping) lo() mathutil.Point { return m.points[0] }
func (m *curveMapping) hi() mathutil.Point { return m.points[len(m.points)-1] }

// toNormal maps an original-scale value. The bool reports extrapolation.
func (m *curveMapping) toNormal(x float64) (float64, bool) {
	if math.IsNaN(x) {
		return math.NaN(), false
	}
	lo, hi := m.lo(), m.hi()
	switch {
	case x < lo.X:
		if !m.tails {
			return lo.Y, true
		}
		return math.Min(m.model.NormalScore(x)+m.biasLow, lo.Y), true
	case x > hi.X:
		if !m.tails {
			return hi.Y, true
		}
		return math.Max(m.model.NormalScore(x)+m.biasHigh, hi.Y), true
	}
	if m.forward == nil {
		return lo.Y, false
	}
	return m.forward.Interpolate(x), false
}

// toOriginal maps a normal-scale value back. The bool reports extrapolation.
func (m *curveMapping) toOriginal(t float64) (float64, bool) {
	if math.IsNaN(t) {
		return math.NaN(), false
	}
	lo, hi := m.lo(), m.hi()
	switch {
	case t < lo.Y:
		if !m.tails {
			return lo.X, true
		}
		return math.Min(m.model.InvertNormalScore(t-m.biasLow), lo.X), true
	case t > hi.Y:
		if !m.tails {
			return hi.X, true
		}
		return math.Max(m.model.InvertNormalScore(t-m.biasHigh), hi.X), true
	}
	if m.inverse == nil {
		return lo.X, false
	}
	return m.inverse.Interpolate(t), false
}
