// Package privacy applies statistical disclosure control to a summary bundle before it
// leaves the data custodian.
package privacy

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inferloop/ipdsynth/internal/models"
	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// DisclosureConfig contains configuration for disclosure control
type DisclosureConfig struct {
	// SmallCell is the largest count replaced by the sentinel.
	SmallCell int `json:"small_cell"`
	// CorrMinN is the stratum size a correlation needs to enter the cross-stratum summary.
	CorrMinN    int     `json:"corr_min_n"`
	RoundDigits int     `json:"round_digits"`
	JitterLow   float64 `json:"jitter_low"`
	JitterHigh  float64 `json:"jitter_high"`
}

// Disclosure rounds, imputes and suppresses the released statistics.
type Disclosure struct {
	config *DisclosureConfig
	logger *logrus.Logger
}

// Report counts what one Apply call changed.
type Report struct {
	ImputedCorrelations int `json:"imputed_correlations"`
	ReplacedSDs         int `json:"replaced_sds"`
	ImputedMeans        int `json:"imputed_means"`
	SuppressedCounts    int `json:"suppressed_counts"`
}

// NewDisclosure creates a disclosure control pass
func NewDisclosure(config *DisclosureConfig, logger *logrus.Logger) *Disclosure {
	if config == nil {
		config = getDefaultDisclosureConfig()
	}
	if config.SmallCell <= 0 {
		config.SmallCell = constants.SmallCellThreshold
	}
	if config.CorrMinN <= 0 {
		config.CorrMinN = constants.DefaultCorrMinN
	}
	if config.JitterLow <= 0 || config.JitterHigh < config.JitterLow {
		config.JitterLow = constants.DefaultJitterLow
		config.JitterHigh = constants.DefaultJitterHigh
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Disclosure{config: config, logger: logger}
}

// Apply runs the disclosure pass in place. It expects the raw stratum counts, so it
// must run exactly once, after summarization and before persistence. All draws come
// from rng in stratum id order, so a fixed seed gives a fixed bundle.
func (d *Disclosure) Apply(bundle *models.Bundle, rng *rand.Rand) (*Report, error) {
	if bundle == nil {
		return nil, errors.NewInvalidInputError("no summary bundle")
	}
	for _, s := range bundle.Summaries {
		if s.Count.Suppressed {
			return nil, errors.NewInvalidInputError("stratum %d is already suppressed", s.ID)
		}
	}

	ids := sortedIDs(bundle)
	report := &Report{}

	bundle.CorrSummary = CrossStratumSummary(bundle, d.config.CorrMinN)
	d.imputeCorrelations(bundle, ids, rng, report)
	d.imputeMeans(bundle, ids, report)
	d.replaceSDs(bundle, ids, rng, report)

	for i := range bundle.CorrSummary {
		bundle.CorrSummary[i].Mean = mathutil.Round(bundle.CorrSummary[i].Mean, d.config.RoundDigits)
		bundle.CorrSummary[i].SD = mathutil.Round(bundle.CorrSummary[i].SD, d.config.RoundDigits)
	}

	for _, id := range ids {
		s := bundle.Summaries[id]
		if s.Count.N <= d.config.SmallCell {
			s.Count = models.SuppressedCount(d.config.SmallCell)
			report.SuppressedCounts++
		}
	}

	d.logger.WithFields(logrus.Fields{
		"run_id":               bundle.RunID,
		"imputed_correlations": report.ImputedCorrelations,
		"replaced_sds":         report.ReplacedSDs,
		"imputed_means":        report.ImputedMeans,
		"suppressed_counts":    report.SuppressedCounts,
	}).Info("Applied disclosure control")
	return report, nil
}

// CrossStratumSummary computes, for every pair, the mean and standard deviation of the
// finite stratum correlations among strata with more than minN individuals. Pairs
// without any such stratum get mean 0 and sd 0; a single stratum gives sd 0.
func CrossStratumSummary(bundle *models.Bundle, minN int) []models.PairSummary {
	pairs := bundle.Pairs()
	out := make([]models.PairSummary, 0, len(pairs))
	for _, p := range pairs {
		var values []float64
		for _, id := range sortedIDs(bundle) {
			s := bundle.Summaries[id]
			if s.Count.Suppressed || s.Count.N <= minN {
				continue
			}
			if r, ok := s.Corr[p]; ok && !math.IsNaN(r) {
				values = append(values, r)
			}
		}

		ps := models.PairSummary{Pair: p, Strata: len(values)}
		switch len(values) {
		case 0:
		case 1:
			ps.Mean = values[0]
		default:
			ps.Mean, ps.SD = stat.MeanStdDev(values, nil)
		}
		out = append(out, ps)
	}
	return out
}

func (d *Disclosure) imputeCorrelations(bundle *models.Bundle, ids []int, rng *rand.Rand, report *Report) {
	pairs := bundle.Pairs()
	dists := make(map[models.Pair]distuv.Normal, len(pairs))
	for _, ps := range bundle.CorrSummary {
		dists[ps.Pair] = distuv.Normal{Mu: ps.Mean, Sigma: ps.SD, Src: rng}
	}

	for _, id := range ids {
		s := bundle.Summaries[id]
		for _, p := range pairs {
			r, ok := s.Corr[p]
			if !ok || math.IsNaN(r) {
				r = clamp(dists[p].Rand(), -1, 1)
				report.ImputedCorrelations++
			}
			s.Corr[p] = mathutil.Round(r, d.config.RoundDigits)
		}
	}
}

// imputeMeans fills a variable that is missing for a whole stratum with the average of
// the other strata's means, zero when none is available.
func (d *Disclosure) imputeMeans(bundle *models.Bundle, ids []int, report *Report) {
	for _, v := range bundle.Continuous {
		fallback := averageFinite(bundle, ids, func(s *models.StratumSummary) float64 { return s.Mean[v] })
		if math.IsNaN(fallback) {
			fallback = 0
		}
		for _, id := range ids {
			s := bundle.Summaries[id]
			m, ok := s.Mean[v]
			if !ok || math.IsNaN(m) || math.IsInf(m, 0) {
				m = fallback
				report.ImputedMeans++
			}
			s.Mean[v] = mathutil.Round(m, d.config.RoundDigits)
		}
	}
}

// replaceSDs swaps zero or missing standard deviations for the variable's average sd
// over the other strata, jittered multiplicatively. A variable with no usable sd at all
// falls back to 1, the sd of the transformed scale.
func (d *Disclosure) replaceSDs(bundle *models.Bundle, ids []int, rng *rand.Rand, report *Report) {
	jitter := distuv.Uniform{Min: d.config.JitterLow, Max: d.config.JitterHigh, Src: rng}
	for _, v := range bundle.Continuous {
		avg := averageFinite(bundle, ids, func(s *models.StratumSummary) float64 {
			if sd := s.SD[v]; sd > 0 {
				return sd
			}
			return math.NaN()
		})
		if math.IsNaN(avg) {
			avg = 1
		}
		for _, id := range ids {
			s := bundle.Summaries[id]
			sd, ok := s.SD[v]
			if !ok || math.IsNaN(sd) || sd <= 0 {
				sd = avg * jitter.Rand()
				report.ReplacedSDs++
			}
			s.SD[v] = mathutil.Round(sd, d.config.RoundDigits)
		}
	}
}

func averageFinite(bundle *models.Bundle, ids []int, value func(*models.StratumSummary) float64) float64 {
	values := make([]float64, 0, len(ids))
	for _, id := range ids {
		if x := value(bundle.Summaries[id]); !math.IsNaN(x) && !math.IsInf(x, 0) {
			values = append(values, x)
		}
	}
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

func sortedIDs(bundle *models.Bundle) []int {
	ids := make([]int, 0, len(bundle.Summaries))
	for id := range bundle.Summaries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func getDefaultDisclosureConfig() *DisclosureConfig {
	return &DisclosureConfig{
		SmallCell:   constants.SmallCellThreshold,
		CorrMinN:    constants.DefaultCorrMinN,
		RoundDigits: constants.DefaultRoundDigits,
		JitterLow:   constants.DefaultJitterLow,
		JitterHigh:  constants.DefaultJitterHigh,
	}
}
