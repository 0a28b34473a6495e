package errors

import "fmt"

// WarningKind identifies recoverable, expected conditions.
type WarningKind string

const (
	// TiesWarning means ranks were averaged, so the transform is only approximately normal.
	TiesWarning WarningKind = "ties"
	// ExtrapolationWarning means values fell outside the fitted domain and used the logistic tail.
	ExtrapolationWarning WarningKind = "extrapolation"
)

// Warning is logged and reported, never returned as an error.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	Variable string      `json:"variable"`
	Count    int         `json:"count"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s warning on %s (%d values)", w.Kind, w.Variable, w.Count)
}
