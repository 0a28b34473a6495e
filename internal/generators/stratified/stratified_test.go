package stratified

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/normalization"
	mathutil "github.com/inferloop/ipdsynth/internal/utils/math"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

var vars = []string{"a", "b", "c"}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func summaryOf(id, n int, rab, rac, rbc float64) *models.StratumSummary {
	s := models.NewStratumSummary(id)
	s.Count = models.Count{N: n}
	for i, v := range vars {
		s.Mean[v] = float64(i + 1)
		s.SD[v] = float64(i + 1)
	}
	s.Corr[models.Pair{A: "a", B: "b"}] = rab
	s.Corr[models.Pair{A: "a", B: "c"}] = rac
	s.Corr[models.Pair{A: "b", B: "c"}] = rbc
	return s
}

func column(draw *Draw, j int) []float64 {
	out := make([]float64, draw.N)
	for i, row := range draw.Values {
		out[i] = row[j]
	}
	return out
}

func TestSimulateRecoversMoments(t *testing.T) {
	sim := NewSimulator(nil, quietLogger(), nil)
	draw, err := sim.Simulate(vars, summaryOf(1, 20000, 0.5, 0, -0.3), StratumRand(3, 1))
	require.NoError(t, err)
	require.Equal(t, 20000, draw.N)
	assert.False(t, draw.Repaired)

	for j := range vars {
		mean, sd := stat.MeanStdDev(column(draw, j), nil)
		assert.InDelta(t, float64(j+1), mean, 0.05*float64(j+1), vars[j])
		assert.InDelta(t, float64(j+1), sd, 0.05*float64(j+1), vars[j])
	}
	assert.InDelta(t, 0.5, stat.Correlation(column(draw, 0), column(draw, 1), nil), 0.03)
	assert.InDelta(t, -0.3, stat.Correlation(column(draw, 1), column(draw, 2), nil), 0.03)
}

func TestSimulateIsDeterministic(t *testing.T) {
	sim := NewSimulator(nil, quietLogger(), nil)
	summary := summaryOf(4, 50, 0.2, 0.1, 0.3)

	a, err := sim.Simulate(vars, summary, StratumRand(9, 4))
	require.NoError(t, err)
	b, err := sim.Simulate(vars, summary, StratumRand(9, 4))
	require.NoError(t, err)
	assert.Equal(t, a.Values, b.Values)

	c, err := sim.Simulate(vars, summary, StratumRand(9, 5))
	require.NoError(t, err)
	assert.NotEqual(t, a.Values, c.Values)
}

func TestSimulateRepairsIndefiniteCorrelation(t *testing.T) {
	sim := NewSimulator(nil, quietLogger(), nil)
	draw, err := sim.Simulate(vars, summaryOf(2, 100, 0.9, -0.9, 0.9), StratumRand(1, 2))
	require.NoError(t, err)
	assert.True(t, draw.Repaired)
	assert.Len(t, draw.Values, 100)
}

func TestSimulateSingularIsNotRepaired(t *testing.T) {
	sim := NewSimulator(nil, quietLogger(), nil)
	// perfectly correlated columns are positive semidefinite but not definite
	draw, err := sim.Simulate(vars, summaryOf(3, 10, 1, 1, 1), StratumRand(1, 3))
	require.NoError(t, err)
	assert.False(t, draw.Repaired)
}

func TestSimulateCounts(t *testing.T) {
	sim := NewSimulator(nil, quietLogger(), nil)

	empty := summaryOf(1, 0, 0, 0, 0)
	draw, err := sim.Simulate(vars, empty, StratumRand(1, 1))
	require.NoError(t, err)
	assert.Zero(t, draw.N)
	assert.Empty(t, draw.Values)

	small := summaryOf(2, 0, 0, 0, 0)
	small.Count = models.Count{Suppressed: true}
	rng := rand.New(rand.NewPCG(5, 5))
	for i := 0; i < 50; i++ {
		draw, err := sim.Simulate(vars, small, rng)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, draw.N, 1)
		assert.LessOrEqual(t, draw.N, 10)
	}
}

func TestSimulateSingleRecordExample(t *testing.T) {
	pair := []string{"x", "y"}
	summary := models.NewStratumSummary(1)
	summary.Count = models.Count{N: 1}
	summary.Mean["x"], summary.SD["x"] = 0, 1
	summary.Mean["y"], summary.SD["y"] = 0, 1
	summary.Corr[models.Pair{A: "x", B: "y"}] = 0.5

	sim := NewSimulator(nil, quietLogger(), nil)
	first, err := sim.Simulate(pair, summary, StratumRand(7, 1))
	require.NoError(t, err)
	require.Equal(t, 1, first.N)
	require.Len(t, first.Values, 1)
	require.Len(t, first.Values[0], 2)
	assert.False(t, first.Repaired)

	again, err := sim.Simulate(pair, summary, StratumRand(7, 1))
	require.NoError(t, err)
	assert.Equal(t, first.Values, again.Values)

	other, err := sim.Simulate(pair, summary, StratumRand(8, 1))
	require.NoError(t, err)
	assert.NotEqual(t, first.Values, other.Values)
}

func TestSimulateSmallCellBound(t *testing.T) {
	sim := NewSimulator(&SimulatorConfig{SmallCellMax: 3}, quietLogger(), nil)
	rng := rand.New(rand.NewPCG(9, 9))

	unrecorded := summaryOf(1, 0, 0, 0, 0)
	unrecorded.Count = models.Count{Suppressed: true}
	recorded := summaryOf(2, 0, 0, 0, 0)
	recorded.Count = models.SuppressedCount(5)

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		draw, err := sim.Simulate(vars, unrecorded, rng)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, draw.N, 1)
		assert.LessOrEqual(t, draw.N, 3)

		draw, err = sim.Simulate(vars, recorded, rng)
		require.NoError(t, err)
		assert.LessOrEqual(t, draw.N, 5)
		seen[draw.N] = true
	}
	// the recorded threshold wins over the configured one
	assert.True(t, seen[4] || seen[5])
}

func TestSimulateRejectsInconsistentSummaries(t *testing.T) {
	sim := NewSimulator(nil, quietLogger(), nil)

	missingPair := summaryOf(1, 10, 0, 0, 0)
	delete(missingPair.Corr, models.Pair{A: "a", B: "c"})
	_, err := sim.Simulate(vars, missingPair, StratumRand(1, 1))
	assert.ErrorIs(t, err, errors.ErrDimensionMismatch)

	extraVar := summaryOf(1, 10, 0, 0, 0)
	extraVar.SD["d"] = 1
	_, err = sim.Simulate(vars, extraVar, StratumRand(1, 1))
	assert.ErrorIs(t, err, errors.ErrDimensionMismatch)

	nanMean := summaryOf(1, 10, 0, 0, 0)
	nanMean.Mean["b"] = math.NaN()
	_, err = sim.Simulate(vars, nanMean, StratumRand(1, 1))
	assert.ErrorIs(t, err, errors.ErrDegenerateStratum)

	nanSD := summaryOf(1, 10, 0, 0, 0)
	nanSD.SD["b"] = math.NaN()
	_, err = sim.Simulate(vars, nanSD, StratumRand(1, 1))
	assert.ErrorIs(t, err, errors.ErrDegenerateStratum)
}

func testSchema() config.Schema {
	return config.Schema{Variables: []config.Variable{
		{Name: "site", Role: config.RoleCategorical},
		{Name: "a", Role: config.RoleContinuous, Transform: true},
		{Name: "b", Role: config.RoleContinuous},
		{Name: "c", Role: config.RoleContinuous},
	}}
}

func testBundle() *models.Bundle {
	b := models.NewBundle("run", []string{"site"}, vars)
	b.Strata = []models.Stratum{
		{ID: 1, Levels: []string{"north"}},
		{ID: 2, Levels: []string{"south"}},
		{ID: 3, Levels: []string{"west"}},
	}
	b.Summaries[1] = summaryOf(1, 40, 0.3, 0.1, 0.2)
	b.Summaries[2] = summaryOf(2, 25, 0.9, -0.9, 0.9)
	b.Summaries[3] = summaryOf(3, 15, 0, 0, 0)
	for _, s := range b.Summaries {
		s.Mean["a"], s.SD["a"] = 0, 1
	}

	table, err := normalization.NewTable("a", []mathutil.Point{{X: 10, Y: -2}, {X: 20, Y: 0}, {X: 40, Y: 2}},
		normalization.Logistic{Intercept: 0, Slope: 1.5, Center: 22, Scale: 8})
	if err != nil {
		panic(err)
	}
	b.Tables["a"] = table
	b.Tables["b"] = normalization.IdentityTable("b")
	b.Tables["c"] = normalization.IdentityTable("c")
	return b
}

func reconstruct(t *testing.T, bundle *models.Bundle, seed uint64, workers int) *Result {
	t.Helper()
	gen := NewGenerator(&GeneratorConfig{Seed: seed, Workers: workers}, NewSimulator(nil, quietLogger(), nil), quietLogger(), nil)
	res, err := gen.Reconstruct(context.Background(), bundle, testSchema())
	require.NoError(t, err)
	return res
}

func TestReconstruct(t *testing.T) {
	res := reconstruct(t, testBundle(), 42, 2)

	assert.Equal(t, 80, res.Data.Rows())
	assert.False(t, res.Failures.HasErrors())
	assert.Equal(t, []int{2}, res.Repaired)

	sites := map[string]int{}
	for _, s := range res.Data.Categorical["site"] {
		sites[s]++
	}
	assert.Equal(t, map[string]int{"north": 40, "south": 25, "west": 15}, sites)

	// the transformed variable comes back on the original scale
	for _, v := range res.Data.Continuous["a"] {
		assert.False(t, math.IsNaN(v))
	}
	mean := stat.Mean(res.Data.Continuous["a"], nil)
	assert.InDelta(t, 20, mean, 5)
}

func TestReconstructIndependentOfWorkers(t *testing.T) {
	one := reconstruct(t, testBundle(), 7, 1)
	many := reconstruct(t, testBundle(), 7, 8)
	assert.Equal(t, one.Data.Continuous, many.Data.Continuous)
	assert.Equal(t, one.Data.Categorical, many.Data.Categorical)

	other := reconstruct(t, testBundle(), 8, 1)
	assert.NotEqual(t, one.Data.Continuous["b"], other.Data.Continuous["b"])
}

func TestReconstructIsolatesFailures(t *testing.T) {
	bundle := testBundle()
	delete(bundle.Summaries, 3)
	bundle.Summaries[2].Mean["b"] = math.NaN()
	delete(bundle.Tables, "c")

	res := reconstruct(t, bundle, 1, 4)
	assert.Equal(t, 40, res.Data.Rows())

	failures := res.Failures.List()
	require.Len(t, failures, 3)
	kinds := map[string]errors.UnitKind{}
	for _, f := range failures {
		kinds[f.ID] = f.Kind
	}
	assert.Equal(t, errors.UnitVariable, kinds["c"])
	assert.Equal(t, errors.UnitStratum, kinds["2"])
	assert.Equal(t, errors.UnitStratum, kinds["3"])

	for _, v := range res.Data.Continuous["c"] {
		assert.True(t, math.IsNaN(v))
	}
}

func TestReconstructSchemaMismatch(t *testing.T) {
	bundle := testBundle()
	bundle.Categorical = []string{"region"}

	gen := NewGenerator(&GeneratorConfig{Seed: 1}, nil, quietLogger(), nil)
	_, err := gen.Reconstruct(context.Background(), bundle, testSchema())
	assert.ErrorIs(t, err, errors.ErrDimensionMismatch)

	_, err = gen.Reconstruct(context.Background(), nil, testSchema())
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestReconstructCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := NewGenerator(&GeneratorConfig{Seed: 1, Workers: 1}, nil, quietLogger(), nil)
	_, err := gen.Reconstruct(ctx, testBundle(), testSchema())
	assert.ErrorIs(t, err, context.Canceled)
}
