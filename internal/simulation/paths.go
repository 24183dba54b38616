package simulation

import (
	"math/rand"
)

// MultiPath is one realized path of the joint state process over a time
// grid. Values are indexed [state coordinate][time index]; time index 0
// is asof.
type MultiPath struct {
	times  []float64
	values [][]float64
}

// NewMultiPath allocates a path for the given number of state
// coordinates over the given time grid.
func NewMultiPath(assetNumber int, times []float64) *MultiPath {
	values := make([][]float64, assetNumber)
	for i := range values {
		values[i] = make([]float64, len(times))
	}
	return &MultiPath{times: times, values: values}
}

// AssetNumber returns the number of state coordinates.
func (p *MultiPath) AssetNumber() int { return len(p.values) }

// PathSize returns the number of time points (including asof).
func (p *MultiPath) PathSize() int { return len(p.times) }

// Time returns the year fraction of time index k.
func (p *MultiPath) Time(k int) float64 { return p.times[k] }

// At returns the value of state coordinate i at time index k.
func (p *MultiPath) At(i, k int) float64 { return p.values[i][k] }

// Set sets the value of state coordinate i at time index k.
func (p *MultiPath) Set(i, k int, v float64) { p.values[i][k] = v }

// RandomVariable is a value batched across all Monte Carlo samples.
type RandomVariable []float64

// NewRandomVariable returns a zero-initialized random variable of the
// given sample count.
func NewRandomVariable(samples int) RandomVariable {
	return make(RandomVariable, samples)
}

// MultiPathGenerator draws correlated state process paths from a seeded
// pseudo random sequence. The sequence is fully determined by the seed:
// the same seed yields the same path sequence. Monte Carlo simulation
// does not require crypto-grade randomness, so math/rand is used.
type MultiPathGenerator struct {
	model *CrossAssetModel
	times []float64
	rng   *rand.Rand

	// scratch buffers reused across draws
	z          []float64
	correlated []float64
}

// NewMultiPathGenerator creates a generator over the given time grid.
// Each generator owns its random source; generators never share state,
// which keeps worker threads isolated.
func NewMultiPathGenerator(model *CrossAssetModel, times []float64, seed int64) *MultiPathGenerator {
	dim := model.StateDim()
	//nolint:gosec // G404: Monte Carlo simulation doesn't require crypto-grade randomness
	return &MultiPathGenerator{
		model:      model,
		times:      times,
		rng:        rand.New(rand.NewSource(seed)),
		z:          make([]float64, dim),
		correlated: make([]float64, dim),
	}
}

// Next draws the next path of the deterministic sequence.
func (g *MultiPathGenerator) Next() *MultiPath {
	dim := g.model.StateDim()
	path := NewMultiPath(dim, g.times)

	state := g.model.InitialState()
	for i := 0; i < dim; i++ {
		path.Set(i, 0, state[i])
	}

	for k := 1; k < len(g.times); k++ {
		t0, t1 := g.times[k-1], g.times[k]
		for i := 0; i < dim; i++ {
			g.z[i] = g.rng.NormFloat64()
		}
		g.model.Correlate(g.correlated, g.z)
		for i := 0; i < dim; i++ {
			state[i] += g.model.StepDrift(i, t0, t1) + g.model.StepVol(i, t0, t1)*g.correlated[i]
			path.Set(i, k, state[i])
		}
	}
	return path
}
