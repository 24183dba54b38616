package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/portfolio"
	"github.com/aristath/riskengine/internal/simulation"
)

// The adapters below normalize the two calculator protocols into calls
// that fail softly: an error (or panic) inside one trade's calculator is
// logged with trade and sample identity and replaced by a zero-filled
// result of the expected shape, so a single misbehaving trade cannot
// invalidate the whole Monte Carlo batch.

// simulateSinglePath evaluates a single-path calculator for one sample.
func simulateSinglePath(calc portfolio.SinglePathCalculator, path *simulation.MultiPath,
	reuseLastEvents bool, tradeLabel string, sample int, log zerolog.Logger) (res []float64) {

	zeros := func() []float64 { return make([]float64, path.PathSize()) }
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("trade_id", tradeLabel).Int("sample", sample).
				Interface("panic", r).Msg("Calculator panicked, substituting zero result")
			res = zeros()
		}
	}()

	values, err := calc.SimulatePath(path, reuseLastEvents)
	if err != nil {
		log.Error().Str("trade_id", tradeLabel).Int("sample", sample).Err(err).
			Msg("Calculator evaluation failed, substituting zero result")
		return zeros()
	}
	if len(values) != path.PathSize() {
		log.Error().Str("trade_id", tradeLabel).Int("sample", sample).
			Err(fmt.Errorf("calculator returned %d values for %d path times", len(values), path.PathSize())).
			Msg("Calculator result has wrong shape, substituting zero result")
		return zeros()
	}
	return values
}

// simulateMultiVariates evaluates a multi-variates calculator once for
// the whole path ensemble. The zero fallback is shaped over the full
// time grid, a superset of any relevant-times selection.
func simulateMultiVariates(calc portfolio.MultiVariatesCalculator, pathTimes []float64,
	paths [][]simulation.RandomVariable, relevantTimes []bool, moveStateToPreviousTime bool,
	samples int, tradeLabel string, log zerolog.Logger) (res []simulation.RandomVariable) {

	zeros := func() []simulation.RandomVariable {
		out := make([]simulation.RandomVariable, len(pathTimes)+1)
		for i := range out {
			out[i] = simulation.NewRandomVariable(samples)
		}
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("trade_id", tradeLabel).
				Interface("panic", r).Msg("Calculator panicked, substituting zero result")
			res = zeros()
		}
	}()

	values, err := calc.SimulatePathEnsemble(pathTimes, paths, relevantTimes, moveStateToPreviousTime)
	if err != nil {
		log.Error().Str("trade_id", tradeLabel).Err(err).
			Msg("Calculator batch evaluation failed, substituting zero result")
		return zeros()
	}
	relevant := 0
	for _, ok := range relevantTimes {
		if ok {
			relevant++
		}
	}
	if len(values) != relevant+1 {
		log.Error().Str("trade_id", tradeLabel).
			Err(fmt.Errorf("calculator returned %d batches for %d relevant times", len(values), relevant)).
			Msg("Calculator batch result has wrong shape, substituting zero result")
		return zeros()
	}
	return values
}

// effectiveSimulationPath filters a path for grids with close-out lag in
// sticky-date MPOR mode. With processCloseOutDates the path is filtered
// on close-out dates and those values are relabeled onto the valuation
// time grid (close-out risk factors, valuation-date times); without it
// the path is filtered on valuation dates.
func effectiveSimulationPath(sgd *simulation.ScenarioGeneratorData, p *simulation.MultiPath,
	processCloseOutDates bool) *simulation.MultiPath {

	grid := sgd.Grid()
	filtered := simulation.NewMultiPath(p.AssetNumber(), grid.ValuationTimeGrid())
	idx := 0
	for i := 0; i < p.PathSize(); i++ {
		keep := i == 0
		if i > 0 {
			if processCloseOutDates {
				keep = grid.IsCloseOutDate(i - 1)
			} else {
				keep = grid.IsValuationDate(i - 1)
			}
		}
		if !keep {
			continue
		}
		for j := 0; j < p.AssetNumber(); j++ {
			filtered.Set(j, idx, p.At(j, i))
		}
		idx++
	}
	return filtered
}
