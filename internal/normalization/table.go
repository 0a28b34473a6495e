package normalization

import (
	"fmt"
	"math"
	"sync"

	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// Table is the persisted back-transformation for one variable: a compact, strictly
// increasing set of (original, transformed) quantile points and the tail model. It
// encodes a population-level relationship and is shared read-only across strata.
type Table struct {
	Variable string           `json:"variable"`
	Points   []mathutil.Point `json:"points"`
	Model    Logistic         `json:"model"`
	// Identity marks variables that are summarized on their original scale.
	Identity bool `json:"identity"`

	once    sync.Once
	mapping *curveMapping
	err     error
}

// NewTable builds a validated table.
func NewTable(variable string, points []mathutil.Point, model Logistic) (*Table, error) {
	t := &Table{Variable: variable, Points: points, Model: model}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// IdentityTable returns a table that passes values through unchanged.
func IdentityTable(variable string) *Table {
	return &Table{Variable: variable, Identity: true}
}

// Validate checks that the table has at least two points and is strictly increasing
// in both coordinates.
func (t *Table) Validate() error {
	if t.Identity {
		return nil
	}
	if len(t.Points) < 2 {
		return errors.NewInvalidInputError("quantile table for %s has %d points, need at least 2", t.Variable, len(t.Points))
	}
	for i, p := range t.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return errors.NewInvalidInputError("quantile table for %s has a non-finite point at %d", t.Variable, i)
		}
		if i > 0 && (p.X <= t.Points[i-1].X || p.Y <= t.Points[i-1].Y) {
			return errors.NewInvalidInputError("quantile table for %s is not strictly increasing at point %d", t.Variable, i)
		}
	}
	return nil
}

func (t *Table) build() (*curveMapping, error) {
	t.once.Do(func() {
		if err := t.Validate(); err != nil {
			t.err = err
			return
		}
		t.mapping, t.err = newCurveMapping(t.Points, t.Model)
		if t.err != nil {
			t.err = fmt.Errorf("quantile table for %s: %w", t.Variable, t.err)
		}
	})
	return t.mapping, t.err
}

// Forward maps original-scale values to the normal scale using the compact points.
func (t *Table) Forward(x []float64) ([]float64, *errors.Warning, error) {
	if t.Identity {
		return append([]float64(nil), x...), nil, nil
	}
	m, err := t.build()
	if err != nil {
		return nil, nil, err
	}
	out, warning := applyMapping(t.Variable, x, m.toNormal, nil)
	return out, warning, nil
}

// Inverse maps simulated normal-scale values back to the original scale.
func (t *Table) Inverse(values []float64) ([]float64, *errors.Warning, error) {
	if t.Identity {
		return append([]float64(nil), values...), nil, nil
	}
	m, err := t.build()
	if err != nil {
		return nil, nil, err
	}
	out, warning := applyMapping(t.Variable, values, m.toOriginal, nil)
	return out, warning, nil
}

// Coverage returns the fraction of observed values that fall inside the table's
// interpolation range.
func (t *Table) Coverage(observed []float64) float64 {
	if t.Identity {
		return 1
	}
	lo, hi := t.Points[0].X, t.Points[len(t.Points)-1].X
	inside, total := 0, 0
	for _, v := range observed {
		if math.IsNaN(v) {
			continue
		}
		total++
		if v >= lo && v <= hi {
			inside++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(inside) / float64(total)
}
