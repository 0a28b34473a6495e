package errors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// UnitKind names the scope a fatal error is confined to.
type UnitKind string

const (
	UnitVariable UnitKind = "variable"
	UnitStratum  UnitKind = "stratum"
)

// Failure is one unit of work that could not be completed.
type Failure struct {
	Kind UnitKind `json:"kind"`
	ID   string   `json:"id"`
	Err  error    `json:"-"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s: %v", f.Kind, f.ID, f.Err)
}

// Failures collects per-unit failures while sibling units keep running.
// It is safe for concurrent use.
type Failures struct {
	mu    sync.Mutex
	items []Failure
}

// NewFailures creates an empty failure set
func NewFailures() *Failures {
	return &Failures{}
}

// Add records a failure for the given unit
func (f *Failures) Add(kind UnitKind, id string, err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, Failure{Kind: kind, ID: id, Err: err})
}

// Merge appends every failure of other.
func (f *Failures) Merge(other *Failures) {
	if other == nil {
		return
	}
	for _, item := range other.List() {
		f.Add(item.Kind, item.ID, item.Err)
	}
}

// HasErrors checks if there are any failures
func (f *Failures) HasErrors() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items) > 0
}

// List returns failures ordered by kind then id.
func (f *Failures) List() []Failure {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	out := make([]Failure, len(f.items))
	copy(out, f.items)
	f.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Error implements the error interface so a non-empty set can be returned as one.
func (f *Failures) Error() string {
	items := f.List()
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.String())
	}
	return fmt.Sprintf("%d unit(s) failed: %s", len(items), strings.Join(lines, "; "))
}

// Err returns nil for an empty set and the set itself otherwise.
func (f *Failures) Err() error {
	if !f.HasErrors() {
		return nil
	}
	return f
}
