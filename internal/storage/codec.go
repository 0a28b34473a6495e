package storage

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/normalization"
	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// Sheet names of a persisted bundle.
const (
	SheetManifest     = "manifest"
	SheetLookup       = "strata_lookup"
	SheetCounts       = "strata_counts"
	SheetMoments      = "strata_moments"
	SheetCorrelations = "strata_correlations"
	SheetCorrSummary  = "correlation_summary"
	SheetQuantiles    = "quantile_tables"
)

// SheetNames lists every sheet in write order.
var SheetNames = []string{
	SheetManifest, SheetLookup, SheetCounts, SheetMoments,
	SheetCorrelations, SheetCorrSummary, SheetQuantiles,
}

const (
	colStratumID = "stratum_id"
	suffixMean   = "_mean"
	suffixSD     = "_sd"

	kindPoint    = "point"
	kindLocation = "logit_location"
	kindScale    = "logit_scale"
	kindIdentity = "identity"
)

// EncodeBundle renders a bundle as sheets. Strata appear in id order and variables in
// bundle order, so encoding is deterministic.
func EncodeBundle(bundle *models.Bundle) []*interfaces.Sheet {
	ids := make([]int, 0, len(bundle.Strata))
	for _, s := range bundle.Strata {
		ids = append(ids, s.ID)
	}
	sort.Ints(ids)

	manifest := &interfaces.Sheet{Name: SheetManifest, Header: []string{"key", "value"}, Rows: [][]string{
		{"run_id", bundle.RunID},
		{"created_at", bundle.CreatedAt.UTC().Format(time.RFC3339)},
		{"categorical", strings.Join(bundle.Categorical, constants.ListSeparator)},
		{"continuous", strings.Join(bundle.Continuous, constants.ListSeparator)},
	}}

	lookup := &interfaces.Sheet{Name: SheetLookup, Header: append([]string{colStratumID}, bundle.Categorical...)}
	for _, id := range ids {
		s, _ := bundle.Stratum(id)
		lookup.Rows = append(lookup.Rows, append([]string{strconv.Itoa(id)}, s.Levels...))
	}

	counts := &interfaces.Sheet{Name: SheetCounts, Header: []string{colStratumID, "n"}}
	momentsHeader := []string{colStratumID}
	for _, v := range bundle.Continuous {
		momentsHeader = append(momentsHeader, v+suffixMean, v+suffixSD)
	}
	moments := &interfaces.Sheet{Name: SheetMoments, Header: momentsHeader}
	pairs := bundle.Pairs()
	corrHeader := []string{colStratumID}
	for _, p := range pairs {
		corrHeader = append(corrHeader, p.Column())
	}
	corr := &interfaces.Sheet{Name: SheetCorrelations, Header: corrHeader}

	for _, id := range ids {
		summary, ok := bundle.Summaries[id]
		if !ok {
			continue
		}
		sid := strconv.Itoa(id)
		counts.Rows = append(counts.Rows, []string{sid, summary.Count.String()})

		stats := []string{sid}
		for _, v := range bundle.Continuous {
			stats = append(stats, formatFloat(summary.Mean[v]), formatFloat(summary.SD[v]))
		}
		moments.Rows = append(moments.Rows, stats)

		row := []string{sid}
		for _, p := range pairs {
			r, ok := summary.Corr[p]
			if !ok {
				r = math.NaN()
			}
			row = append(row, formatFloat(r))
		}
		corr.Rows = append(corr.Rows, row)
	}

	corrSummary := &interfaces.Sheet{Name: SheetCorrSummary, Header: []string{"pair", "mean", "sd", "strata"}}
	for _, ps := range bundle.CorrSummary {
		corrSummary.Rows = append(corrSummary.Rows, []string{
			ps.Pair.Column(), formatFloat(ps.Mean), formatFloat(ps.SD), strconv.Itoa(ps.Strata),
		})
	}

	quantiles := &interfaces.Sheet{Name: SheetQuantiles, Header: []string{"variable", "kind", "x", "t"}}
	for _, v := range bundle.Continuous {
		table, ok := bundle.Tables[v]
		if !ok {
			continue
		}
		if table.Identity {
			quantiles.Rows = append(quantiles.Rows, []string{v, kindIdentity, "", ""})
			continue
		}
		for _, p := range table.Points {
			quantiles.Rows = append(quantiles.Rows, []string{v, kindPoint, formatFloat(p.X), formatFloat(p.Y)})
		}
		m := table.Model
		quantiles.Rows = append(quantiles.Rows,
			[]string{v, kindLocation, formatFloat(m.Intercept), formatFloat(m.Slope)},
			[]string{v, kindScale, formatFloat(m.Center), formatFloat(m.Scale)},
		)
	}

	return []*interfaces.Sheet{manifest, lookup, counts, moments, corr, corrSummary, quantiles}
}

// DecodeBundle rebuilds a bundle from sheets. It only rejects sheets it cannot parse;
// disagreements between sheets, such as a stratum whose moments miss a variable, are
// kept so that reconstruction can report them for the affected stratum alone.
func DecodeBundle(sheets map[string]*interfaces.Sheet) (*models.Bundle, error) {
	for _, name := range SheetNames {
		if name == SheetManifest || name == SheetCorrSummary {
			continue
		}
		if _, ok := sheets[name]; !ok {
			return nil, errors.NewStorageError(errors.CodeArtifactNotFound, "missing sheet "+name)
		}
	}

	lookup := sheets[SheetLookup]
	if len(lookup.Header) == 0 || lookup.Header[0] != colStratumID {
		return nil, decodeError(SheetLookup, "first column must be %s", colStratumID)
	}
	moments := sheets[SheetMoments]
	continuous, err := momentVariables(moments.Header)
	if err != nil {
		return nil, err
	}

	bundle := models.NewBundle("", append([]string(nil), lookup.Header[1:]...), continuous)
	if m, ok := sheets[SheetManifest]; ok {
		for _, row := range m.Rows {
			if len(row) < 2 {
				continue
			}
			switch row[0] {
			case "run_id":
				bundle.RunID = row[1]
			case "created_at":
				if ts, err := time.Parse(time.RFC3339, row[1]); err == nil {
					bundle.CreatedAt = ts
				}
			}
		}
	}

	for i, row := range lookup.Rows {
		id, err := parseID(row)
		if err != nil || len(row) != len(lookup.Header) {
			return nil, decodeError(SheetLookup, "malformed row %d", i+1)
		}
		bundle.Strata = append(bundle.Strata, models.Stratum{ID: id, Levels: append([]string(nil), row[1:]...)})
	}

	for i, row := range sheets[SheetCounts].Rows {
		id, err := parseID(row)
		if err != nil || len(row) < 2 {
			return nil, decodeError(SheetCounts, "malformed row %d", i+1)
		}
		count, err := models.ParseCount(row[1])
		if err != nil {
			return nil, decodeError(SheetCounts, "row %d: %v", i+1, err)
		}
		summaryFor(bundle, id).Count = count
	}

	for i, row := range moments.Rows {
		id, err := parseID(row)
		if err != nil || len(row) != len(moments.Header) {
			return nil, decodeError(SheetMoments, "malformed row %d", i+1)
		}
		summary := summaryFor(bundle, id)
		for j, v := range bundle.Continuous {
			mean, err := parseFloat(row[2*j+1])
			if err != nil {
				return nil, decodeError(SheetMoments, "row %d column %s: %v", i+1, v+suffixMean, err)
			}
			sd, err := parseFloat(row[2*j+2])
			if err != nil {
				return nil, decodeError(SheetMoments, "row %d column %s: %v", i+1, v+suffixSD, err)
			}
			summary.Mean[v], summary.SD[v] = mean, sd
		}
	}

	corr := sheets[SheetCorrelations]
	pairs := make([]models.Pair, 0, len(corr.Header))
	for _, column := range corr.Header[1:] {
		p, err := models.ParsePair(column)
		if err != nil {
			return nil, decodeError(SheetCorrelations, "%v", err)
		}
		pairs = append(pairs, p)
	}
	for i, row := range corr.Rows {
		id, err := parseID(row)
		if err != nil || len(row) != len(corr.Header) {
			return nil, decodeError(SheetCorrelations, "malformed row %d", i+1)
		}
		summary := summaryFor(bundle, id)
		for j, p := range pairs {
			value, err := parseFloat(row[j+1])
			if err != nil {
				return nil, decodeError(SheetCorrelations, "row %d column %s: %v", i+1, p.Column(), err)
			}
			summary.Corr[p] = value
		}
	}

	if cs, ok := sheets[SheetCorrSummary]; ok {
		for i, row := range cs.Rows {
			if len(row) < 4 {
				return nil, decodeError(SheetCorrSummary, "malformed row %d", i+1)
			}
			p, err := models.ParsePair(row[0])
			if err != nil {
				return nil, decodeError(SheetCorrSummary, "%v", err)
			}
			mean, err1 := parseFloat(row[1])
			sd, err2 := parseFloat(row[2])
			strata, err3 := strconv.Atoi(row[3])
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, decodeError(SheetCorrSummary, "malformed row %d", i+1)
			}
			bundle.CorrSummary = append(bundle.CorrSummary, models.PairSummary{Pair: p, Mean: mean, SD: sd, Strata: strata})
		}
	}

	tables, err := decodeTables(sheets[SheetQuantiles])
	if err != nil {
		return nil, err
	}
	bundle.Tables = tables
	return bundle, nil
}

// momentVariables recovers the continuous variables from a moments header of the form
// stratum_id, v_mean, v_sd, ...
func momentVariables(header []string) ([]string, error) {
	if len(header) == 0 || header[0] != colStratumID || len(header)%2 != 1 {
		return nil, decodeError(SheetMoments, "header must be %s followed by <variable>%s, <variable>%s pairs",
			colStratumID, suffixMean, suffixSD)
	}
	vars := make([]string, 0, len(header)/2)
	for i := 1; i < len(header); i += 2 {
		v := strings.TrimSuffix(header[i], suffixMean)
		if v == header[i] || v == "" || header[i+1] != v+suffixSD {
			return nil, decodeError(SheetMoments, "columns %q, %q are not a mean/sd pair", header[i], header[i+1])
		}
		vars = append(vars, v)
	}
	return vars, nil
}

func decodeTables(sheet *interfaces.Sheet) (map[string]*normalization.Table, error) {
	tables := make(map[string]*normalization.Table)
	get := func(v string) *normalization.Table {
		t, ok := tables[v]
		if !ok {
			t = &normalization.Table{Variable: v}
			tables[v] = t
		}
		return t
	}

	for i, row := range sheet.Rows {
		if len(row) < 4 {
			return nil, decodeError(SheetQuantiles, "malformed row %d", i+1)
		}
		v, kind := row[0], row[1]
		if kind == kindIdentity {
			get(v).Identity = true
			continue
		}
		a, err1 := parseFloat(row[2])
		b, err2 := parseFloat(row[3])
		if err1 != nil || err2 != nil {
			return nil, decodeError(SheetQuantiles, "malformed row %d", i+1)
		}
		t := get(v)
		switch kind {
		case kindPoint:
			t.Points = append(t.Points, mathutil.Point{X: a, Y: b})
		case kindLocation:
			t.Model.Intercept, t.Model.Slope = a, b
		case kindScale:
			t.Model.Center, t.Model.Scale = a, b
		default:
			return nil, decodeError(SheetQuantiles, "row %d: unknown kind %q", i+1, kind)
		}
	}
	return tables, nil
}

func summaryFor(bundle *models.Bundle, id int) *models.StratumSummary {
	s, ok := bundle.Summaries[id]
	if !ok {
		s = models.NewStratumSummary(id)
		bundle.Summaries[id] = s
	}
	return s
}

func parseID(row []string) (int, error) {
	if len(row) == 0 {
		return 0, fmt.Errorf("empty row")
	}
	return strconv.Atoi(strings.TrimSpace(row[0]))
}

func parseFloat(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || cell == constants.MissingValueLiteral {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return constants.MissingValueLiteral
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func decodeError(sheet, format string, args ...interface{}) error {
	return errors.NewInvalidInputError("sheet %s: %s", sheet, fmt.Sprintf(format, args...))
}
