package engine

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskengine/internal/simulation"
)

// flakyCalculator fails on a configurable call number and succeeds
// otherwise, returning a constant per path time.
type flakyCalculator struct {
	failOnCall int
	panicMode  bool
	badShape   bool
	calls      int
}

func (c *flakyCalculator) NPVCurrency() string { return "EUR" }

func (c *flakyCalculator) SimulatePath(path *simulation.MultiPath, reuseLastEvents bool) ([]float64, error) {
	c.calls++
	if c.calls == c.failOnCall {
		if c.panicMode {
			panic("boom")
		}
		return nil, fmt.Errorf("regression basis is singular")
	}
	n := path.PathSize()
	if c.badShape {
		n--
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.0
	}
	return out, nil
}

func (c *flakyCalculator) SimulatePathEnsemble(pathTimes []float64, paths [][]simulation.RandomVariable,
	relevantTimes []bool, moveStateToPreviousTime bool) ([]simulation.RandomVariable, error) {

	c.calls++
	if c.calls == c.failOnCall {
		if c.panicMode {
			panic("boom")
		}
		return nil, fmt.Errorf("regression basis is singular")
	}
	relevant := 0
	for _, ok := range relevantTimes {
		if ok {
			relevant++
		}
	}
	if c.badShape {
		relevant--
	}
	out := make([]simulation.RandomVariable, relevant+1)
	for i := range out {
		out[i] = simulation.NewRandomVariable(2)
		for j := range out[i] {
			out[i][j] = 1.0
		}
	}
	return out, nil
}

func testPath() *simulation.MultiPath {
	return simulation.NewMultiPath(1, []float64{0, 0.5, 1.0})
}

func TestSimulateSinglePathSoftFailure(t *testing.T) {
	// The failing sample gets a zero-filled result; surrounding samples
	// are untouched.
	calc := &flakyCalculator{failOnCall: 2}
	log := zerolog.Nop()

	res := simulateSinglePath(calc, testPath(), false, "T1", 0, log)
	assert.Equal(t, []float64{1, 1, 1}, res)

	res = simulateSinglePath(calc, testPath(), false, "T1", 1, log)
	assert.Equal(t, []float64{0, 0, 0}, res)

	res = simulateSinglePath(calc, testPath(), false, "T1", 2, log)
	assert.Equal(t, []float64{1, 1, 1}, res)
}

func TestSimulateSinglePathRecoversPanic(t *testing.T) {
	calc := &flakyCalculator{failOnCall: 1, panicMode: true}
	res := simulateSinglePath(calc, testPath(), false, "T1", 0, zerolog.Nop())
	assert.Equal(t, []float64{0, 0, 0}, res)
}

func TestSimulateSinglePathRejectsWrongShape(t *testing.T) {
	calc := &flakyCalculator{badShape: true}
	res := simulateSinglePath(calc, testPath(), false, "T1", 0, zerolog.Nop())
	assert.Equal(t, []float64{0, 0, 0}, res)
}

func mvInputs() ([]float64, [][]simulation.RandomVariable, []bool) {
	pathTimes := []float64{0.5, 1.0}
	paths := make([][]simulation.RandomVariable, 2)
	for j := range paths {
		paths[j] = []simulation.RandomVariable{simulation.NewRandomVariable(2)}
	}
	return pathTimes, paths, []bool{true, true}
}

func TestSimulateMultiVariatesSoftFailure(t *testing.T) {
	pathTimes, paths, relevant := mvInputs()
	log := zerolog.Nop()

	calc := &flakyCalculator{failOnCall: 1}
	res := simulateMultiVariates(calc, pathTimes, paths, relevant, false, 2, "T1", log)
	// Zero fallback spans the full time grid plus the T0 entry.
	require.Len(t, res, len(pathTimes)+1)
	for _, rv := range res {
		assert.Equal(t, simulation.RandomVariable{0, 0}, rv)
	}

	calc = &flakyCalculator{failOnCall: 1, panicMode: true}
	res = simulateMultiVariates(calc, pathTimes, paths, relevant, false, 2, "T1", log)
	require.Len(t, res, len(pathTimes)+1)

	calc = &flakyCalculator{badShape: true}
	res = simulateMultiVariates(calc, pathTimes, paths, relevant, false, 2, "T1", log)
	require.Len(t, res, len(pathTimes)+1)
	assert.Equal(t, simulation.RandomVariable{0, 0}, res[0])
}

func TestSimulateMultiVariatesPassesThrough(t *testing.T) {
	pathTimes, paths, relevant := mvInputs()
	calc := &flakyCalculator{}
	res := simulateMultiVariates(calc, pathTimes, paths, relevant, false, 2, "T1", zerolog.Nop())
	require.Len(t, res, 3)
	assert.Equal(t, simulation.RandomVariable{1, 1}, res[0])
}

func TestEffectiveSimulationPath(t *testing.T) {
	asof := testAsof
	grid, err := simulation.NewDateGridWithCloseOut(asof, valuationDates(), 14)
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 1, 42, true, true)
	require.NoError(t, err)

	// One state coordinate, distinct values per grid step.
	full := simulation.NewMultiPath(1, grid.Times())
	for k := 0; k < full.PathSize(); k++ {
		full.Set(0, k, float64(k))
	}

	val := effectiveSimulationPath(sgd, full, false)
	co := effectiveSimulationPath(sgd, full, true)

	// Both sub-paths live on the valuation time grid.
	wantTimes := grid.ValuationTimeGrid()
	require.Equal(t, len(wantTimes), val.PathSize())
	require.Equal(t, len(wantTimes), co.PathSize())
	for k := range wantTimes {
		assert.Equal(t, wantTimes[k], val.Time(k))
		assert.Equal(t, wantTimes[k], co.Time(k))
	}

	// The valuation sub-path carries valuation-step states, the
	// close-out sub-path carries close-out-step states relabeled onto
	// the valuation times. Grid steps: val, close-out, val, close-out.
	assert.Equal(t, 0.0, val.At(0, 0))
	assert.Equal(t, 1.0, val.At(0, 1))
	assert.Equal(t, 3.0, val.At(0, 2))
	assert.Equal(t, 0.0, co.At(0, 0))
	assert.Equal(t, 2.0, co.At(0, 1))
	assert.Equal(t, 4.0, co.At(0, 2))
}
