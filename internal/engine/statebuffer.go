package engine

import (
	"math"

	"github.com/aristath/riskengine/internal/simulation"
)

// stateBuffer caches FX levels and IR state variables over the full grid
// (valuation + close-out dates, including T0), one sample column at a
// time. It is built once per run and reused by every trade: single-path
// calculators consume the column of the current sample, the
// multi-variates phase needs state across all times and samples.
type stateBuffer struct {
	// fx[ccy-1][timeIdx][sample] holds the FX level (exponentiated
	// log-FX) of non-base currency ccy. The base currency has no entry,
	// its level is 1 by definition.
	fx [][][]float64
	// irState[ccy][timeIdx][sample] holds the IR state variable.
	irState [][][]float64
}

func newStateBuffer(model *simulation.CrossAssetModel, numTimes, samples int) *stateBuffer {
	b := &stateBuffer{
		fx:      make([][][]float64, model.Components(simulation.AssetFX)),
		irState: make([][][]float64, model.Components(simulation.AssetIR)),
	}
	for k := range b.fx {
		b.fx[k] = make([][]float64, numTimes)
		for j := range b.fx[k] {
			b.fx[k][j] = make([]float64, samples)
		}
	}
	for k := range b.irState {
		b.irState[k] = make([][]float64, numTimes)
		for j := range b.irState[k] {
			b.irState[k][j] = make([]float64, samples)
		}
	}
	return b
}

// populate fills the sample column i of both buffers from one realized
// path.
func (b *stateBuffer) populate(model *simulation.CrossAssetModel, path *simulation.MultiPath, sample int) {
	for k := range b.fx {
		coord := model.PIdx(simulation.AssetFX, k)
		for j := 0; j < path.PathSize(); j++ {
			b.fx[k][j][sample] = math.Exp(path.At(coord, j))
		}
	}
	for k := range b.irState {
		coord := model.PIdx(simulation.AssetIR, k)
		for j := 0; j < path.PathSize(); j++ {
			b.irState[k][j][sample] = path.At(coord, j)
		}
	}
}

// FX returns the conversion factor from currency ccyIndex into base at a
// grid time and sample; 1 for the base currency itself.
func (b *stateBuffer) FX(ccyIndex, timeIndex, sample int) float64 {
	if ccyIndex == 0 {
		return 1.0
	}
	return b.fx[ccyIndex-1][timeIndex][sample]
}

// State returns the IR state of a currency at a grid time and sample.
func (b *stateBuffer) State(ccyIndex, timeIndex, sample int) float64 {
	return b.irState[ccyIndex][timeIndex][sample]
}

// NumRatio returns the local-to-base numeraire ratio used to discount
// valuation-date values; 1 for the base currency.
func (b *stateBuffer) NumRatio(model *simulation.CrossAssetModel, ccyIndex, timeIndex int, t float64, sample int) float64 {
	if ccyIndex == 0 {
		return 1.0
	}
	stateBase := b.State(0, timeIndex, sample)
	stateCurr := b.State(ccyIndex, timeIndex, sample)
	return model.Numeraire(ccyIndex, t, stateCurr) / model.Numeraire(0, t, stateBase)
}

// Num returns the raw (un-ratioed) numeraire of a currency, used to
// inflate close-out values.
func (b *stateBuffer) Num(model *simulation.CrossAssetModel, ccyIndex, timeIndex int, t float64, sample int) float64 {
	return model.Numeraire(ccyIndex, t, b.State(ccyIndex, timeIndex, sample))
}
