// Package models defines the persisted summary bundle shared by summarization,
// disclosure control, storage and reconstruction.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/inferloop/ipdsynth/internal/normalization"
	"github.com/inferloop/ipdsynth/pkg/constants"
)

// PairSeparator joins two variable names into a correlation column name.
const PairSeparator = constants.PairSeparator

// Count is a stratum size, either the literal value or a small-cell sentinel "≤Max".
type Count struct {
	N          int  `json:"n"`
	Suppressed bool `json:"suppressed"`
	// Max is the threshold a suppressed count is known not to exceed. Zero means the
	// threshold is not recorded.
	Max int `json:"max,omitempty"`
}

// SuppressedCount is the count reported for a stratum of at most threshold individuals.
func SuppressedCount(threshold int) Count {
	return Count{Suppressed: true, Max: threshold}
}

// Bound returns the threshold of a suppressed count, the default one when unrecorded.
func (c Count) Bound() int {
	if c.Max > 0 {
		return c.Max
	}
	return constants.SmallCellThreshold
}

// String renders the persisted form of the count.
func (c Count) String() string {
	if c.Suppressed {
		return constants.SmallCellPrefix + strconv.Itoa(c.Bound())
	}
	return strconv.Itoa(c.N)
}

// ParseCount reads a persisted count.
func ParseCount(s string) (Count, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, constants.SmallCellPrefix); ok {
		threshold, err := strconv.Atoi(rest)
		if err != nil || threshold < 1 {
			return Count{}, fmt.Errorf("invalid small-cell sentinel %q", s)
		}
		return SuppressedCount(threshold), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Count{}, fmt.Errorf("invalid stratum count %q", s)
	}
	return Count{N: n}, nil
}

// Pair is an unordered variable pair, stored with A before B in variable order.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Column returns the correlation column name for the pair.
func (p Pair) Column() string {
	return p.A + PairSeparator + p.B
}

// ParsePair splits a correlation column name.
func ParsePair(column string) (Pair, error) {
	parts := strings.Split(column, PairSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid correlation column %q", column)
	}
	return Pair{A: parts[0], B: parts[1]}, nil
}

// Pairs enumerates the unordered pairs of vars in order.
func Pairs(vars []string) []Pair {
	pairs := make([]Pair, 0, len(vars)*(len(vars)-1)/2)
	for i := 0; i < len(vars); i++ {
		for j := i + 1; j < len(vars); j++ {
			pairs = append(pairs, Pair{A: vars[i], B: vars[j]})
		}
	}
	return pairs
}

// Stratum is one unique combination of categorical levels.
type Stratum struct {
	ID     int      `json:"id"`
	Levels []string `json:"levels"`
}

// Key joins the levels into a map key.
func (s Stratum) Key() string {
	return StratumKey(s.Levels)
}

// StratumKey joins levels with a separator that cannot appear in CSV-parsed cells.
func StratumKey(levels []string) string {
	return strings.Join(levels, "\x1f")
}

// StratumSummary holds the per-stratum statistics on the transformed scale. Maps are
// keyed by variable name (correlations by pair) so that inconsistencies between the
// persisted tables stay detectable.
type StratumSummary struct {
	ID    int                `json:"id"`
	Count Count              `json:"count"`
	Mean  map[string]float64 `json:"mean"`
	SD    map[string]float64 `json:"sd"`
	Corr  map[Pair]float64   `json:"corr"`
}

// NewStratumSummary allocates an empty summary.
func NewStratumSummary(id int) *StratumSummary {
	return &StratumSummary{
		ID:   id,
		Mean: make(map[string]float64),
		SD:   make(map[string]float64),
		Corr: make(map[Pair]float64),
	}
}

// PairSummary is the cross-stratum distribution of one correlation among strata
// large enough to estimate it.
type PairSummary struct {
	Pair   Pair    `json:"pair"`
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	Strata int     `json:"strata"`
}

// Bundle is the complete persisted summary of one IPD table.
type Bundle struct {
	RunID       string                          `json:"run_id"`
	CreatedAt   time.Time                       `json:"created_at"`
	Categorical []string                        `json:"categorical"`
	Continuous  []string                        `json:"continuous"`
	Strata      []Stratum                       `json:"strata"`
	Summaries   map[int]*StratumSummary         `json:"summaries"`
	CorrSummary []PairSummary                   `json:"corr_summary"`
	Tables      map[string]*normalization.Table `json:"tables"`
}

// NewBundle allocates an empty bundle.
func NewBundle(runID string, categorical, continuous []string) *Bundle {
	return &Bundle{
		RunID:       runID,
		CreatedAt:   time.Now().UTC(),
		Categorical: categorical,
		Continuous:  continuous,
		Summaries:   make(map[int]*StratumSummary),
		Tables:      make(map[string]*normalization.Table),
	}
}

// Pairs enumerates the correlation pairs of the continuous variables.
func (b *Bundle) Pairs() []Pair {
	return Pairs(b.Continuous)
}

// Stratum returns the lookup row for id.
func (b *Bundle) Stratum(id int) (Stratum, bool) {
	for _, s := range b.Strata {
		if s.ID == id {
			return s, true
		}
	}
	return Stratum{}, false
}

// PairSummaryFor returns the cross-stratum summary of p.
func (b *Bundle) PairSummaryFor(p Pair) (PairSummary, bool) {
	for _, ps := range b.CorrSummary {
		if ps.Pair == p {
			return ps, true
		}
	}
	return PairSummary{}, false
}
