package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/cube"
	"github.com/aristath/riskengine/internal/market"
	"github.com/aristath/riskengine/internal/portfolio"
	"github.com/aristath/riskengine/internal/scenario"
	"github.com/aristath/riskengine/internal/simulation"
)

// CoreStats summarizes one core engine run. ExtractedCalculators vs
// PortfolioSize is the caller's completeness proxy: trades whose
// calculator extraction failed are excluded from the run.
type CoreStats struct {
	PortfolioSize         int
	ExtractedCalculators  int
	ExtractionTime        time.Duration
	PathGenerationTime    time.Duration
	ValuationTime         time.Duration
	ScenarioDataWriteTime time.Duration
	TotalTime             time.Duration
}

// amcEntry is one successfully extracted calculator with everything the
// loop needs per trade: the output cube row, the currency index, the
// effective multiplier and the label for error logging.
type amcEntry struct {
	calc       portfolio.AmcCalculator
	tradeID    int
	tradeLabel string
	ccyIndex   int
	multiplier float64
}

// asdIndexEntry is one index fixing series prepared for aggregation
// scenario data writing.
type asdIndexEntry struct {
	name     string
	ccyIndex int
	tenor    float64
}

// runCore drives the simulation for one portfolio against one model and
// populates the output cube, and optionally the aggregation scenario
// data sink. It is the shared body of the single-threaded engine and of
// every worker thread.
func runCore(p *portfolio.Portfolio, model *simulation.CrossAssetModel, mkt *market.Market,
	sgd *simulation.ScenarioGeneratorData, aggDataCurrencies, aggDataIndices []string,
	asd scenario.Data, out cube.Cube, prog *ProgressReporter, log zerolog.Logger) (*CoreStats, error) {

	stats := &CoreStats{PortfolioSize: p.Size()}
	timerTotal := time.Now()
	grid := sgd.Grid()
	samples := out.Samples()

	prog.Report("Starting AMC valuation")

	// Prepare aggregation scenario data lookups.

	var asdCcyIndex []int
	var asdCcyCode []string
	var asdIndices []asdIndexEntry
	if asd != nil {
		log.Debug().Msg("Collecting information for aggregation scenario data")
		for _, c := range aggDataCurrencies {
			if c == model.BaseCurrency() {
				continue
			}
			ccyIndex, err := model.CcyIndex(c)
			if err != nil {
				return nil, fmt.Errorf("aggregation scenario data currency: %w", err)
			}
			asdCcyIndex = append(asdCcyIndex, ccyIndex)
			asdCcyCode = append(asdCcyCode, c)
		}
		for _, name := range aggDataIndices {
			idx, err := mkt.IborIndex(name)
			if err != nil {
				log.Error().Str("index", name).Err(err).Msg("Index not found in market, skipping")
				continue
			}
			ccyIndex, err := model.CcyIndex(idx.Currency)
			if err != nil {
				return nil, fmt.Errorf("aggregation scenario data index %q: %w", name, err)
			}
			asdIndices = append(asdIndices, asdIndexEntry{name: name, ccyIndex: ccyIndex, tenor: idx.Tenor()})
		}
	} else {
		log.Debug().Msg("No aggregation scenario data sink attached")
	}

	// Extract AMC calculators. Trades that fail to build are excluded
	// and logged as structured trade errors; the run continues.

	log.Debug().Msg("Extracting AMC calculators")
	timer := time.Now()
	factory := portfolio.NewCalculatorFactory(model)
	entries := make([]amcEntry, 0, p.Size())
	for _, trade := range p.Trades() {
		calc, err := factory.Build(trade)
		if err != nil {
			var tradeErr *portfolio.TradeError
			evt := log.Error().Str("trade_id", trade.ID).Str("trade_type", trade.Type)
			if errors.As(err, &tradeErr) {
				evt = evt.Str("action", tradeErr.Action)
			}
			evt.Err(err).Msg("Error building trade for AMC simulation")
			prog.Add(1, fmt.Sprintf("Skipped trade %s", trade.ID))
			continue
		}
		ccyIndex, err := model.CcyIndex(calc.NPVCurrency())
		if err != nil {
			return nil, fmt.Errorf("calculator currency for trade %q: %w", trade.ID, err)
		}
		tradeID, ok := out.IDsAndIndexes()[trade.ID]
		if !ok {
			return nil, fmt.Errorf("trade id %q is not present in output cube", trade.ID)
		}
		entries = append(entries, amcEntry{
			calc:       calc,
			tradeID:    tradeID,
			tradeLabel: trade.ID,
			ccyIndex:   ccyIndex,
			multiplier: trade.Multiplier(),
		})
		prog.Add(1, fmt.Sprintf("Extracted calculator for %s", trade.ID))
	}
	stats.ExtractionTime = time.Since(timer)
	stats.ExtractedCalculators = len(entries)
	log.Info().
		Int("extracted", len(entries)).
		Int("portfolio_size", p.Size()).
		Msg("Extracted AMC calculators")

	// Buffers for FX levels and IR states over the full grid including
	// T0, plus the path ensemble cache for the multi-variates phase.

	times := grid.Times()
	numTimes := len(times)
	buffer := newStateBuffer(model, numTimes, samples)

	pathTimes := times[1:]
	nStates := model.StateDim()
	paths := make([][]simulation.RandomVariable, len(pathTimes))
	for j := range paths {
		paths[j] = make([]simulation.RandomVariable, nStates)
		for k := range paths[j] {
			paths[j][k] = simulation.NewRandomVariable(samples)
		}
	}

	// Phase 1: sample loop. Fills the buffers and the path cache, runs
	// the single-path calculators and writes aggregation scenario data.

	generator := simulation.NewMultiPathGenerator(model, times, sgd.Seed())
	log.Debug().Msg("Running simulation (single-path calculators, scenario data, state buffers)")

	for i := 0; i < samples; i++ {
		timer = time.Now()
		path := generator.Next()
		stats.PathGenerationTime += time.Since(timer)

		buffer.populate(model, path, i)
		for k := 0; k < nStates; k++ {
			for j := range pathTimes {
				paths[j][k][i] = path.At(k, j+1)
			}
		}

		timer = time.Now()
		for _, e := range entries {
			calc, ok := e.calc.(portfolio.SinglePathCalculator)
			if !ok {
				continue
			}
			if err := evaluateSinglePathEntry(e, calc, path, i, model, sgd, buffer, out, log); err != nil {
				return nil, err
			}
		}
		stats.ValuationTime += time.Since(timer)

		if asd != nil {
			timer = time.Now()
			if err := writeScenarioData(asd, model, sgd, buffer, path, i, asdCcyIndex, asdCcyCode, asdIndices); err != nil {
				return nil, err
			}
			stats.ScenarioDataWriteTime += time.Since(timer)
		}
	}
	prog.Add(1, "Sample loop finished")

	// Phase 2: multi-variates calculators, one batched call per trade
	// against the cached path ensemble.

	log.Debug().Msg("Running simulation (multi-variates calculators)")
	timer = time.Now()

	allTimes := make([]bool, len(pathTimes))
	valuationTimes := make([]bool, len(pathTimes))
	closeOutTimes := make([]bool, len(pathTimes))
	for i := range pathTimes {
		allTimes[i] = true
		valuationTimes[i] = grid.IsValuationDate(i)
		closeOutTimes[i] = grid.IsCloseOutDate(i)
	}

	for _, e := range entries {
		calc, ok := e.calc.(portfolio.MultiVariatesCalculator)
		if !ok {
			continue
		}
		err := evaluateMultiVariatesEntry(e, calc, pathTimes, paths, allTimes, valuationTimes, closeOutTimes,
			samples, model, sgd, buffer, out, log)
		if err != nil {
			return nil, err
		}
		prog.Add(0, fmt.Sprintf("Evaluated batch calculator for %s", e.tradeLabel))
	}
	stats.ValuationTime += time.Since(timer)
	prog.Add(1, "Batch evaluation finished")

	stats.TotalTime = time.Since(timerTotal)
	residual := stats.TotalTime - stats.ExtractionTime - stats.PathGenerationTime - stats.ValuationTime - stats.ScenarioDataWriteTime
	log.Info().
		Dur("extraction", stats.ExtractionTime).
		Dur("path_generation", stats.PathGenerationTime).
		Dur("valuation", stats.ValuationTime).
		Dur("scenario_data", stats.ScenarioDataWriteTime).
		Dur("residual", residual).
		Dur("total", stats.TotalTime).
		Msg("AMC valuation core finished")

	return stats, nil
}

// evaluateSinglePathEntry runs one single-path calculator for one sample
// and writes the scaled results into the cube, honoring the close-out
// lag mode.
func evaluateSinglePathEntry(e amcEntry, calc portfolio.SinglePathCalculator, path *simulation.MultiPath,
	sample int, model *simulation.CrossAssetModel, sgd *simulation.ScenarioGeneratorData,
	buffer *stateBuffer, out cube.Cube, log zerolog.Logger) error {

	grid := sgd.Grid()
	times := grid.Times()

	setT0 := func(raw float64) error {
		v := raw * buffer.FX(e.ccyIndex, 0, sample) *
			buffer.NumRatio(model, e.ccyIndex, 0, 0.0, sample) * e.multiplier
		return out.SetT0(v, e.tradeID, cube.DepthValuation)
	}

	if !sgd.WithCloseOutLag() {
		// No close-out lag: every grid time is a valuation time, results
		// map 1:1 to depth-0 columns.
		res := simulateSinglePath(calc, path, false, e.tradeLabel, sample, log)
		if err := setT0(res[0]); err != nil {
			return err
		}
		for k := 1; k < len(res); k++ {
			t := times[k]
			v := res[k] * buffer.FX(e.ccyIndex, k, sample) *
				buffer.NumRatio(model, e.ccyIndex, k, t, sample) * e.multiplier
			if err := out.Set(v, e.tradeID, k-1, sample, cube.DepthValuation); err != nil {
				return err
			}
		}
		return nil
	}

	if sgd.WithMporStickyDate() {
		// Sticky-date MPOR: the valuation and close-out legs are
		// evaluated as two separate filtered sub-paths; the close-out
		// sub-path reuses the valuation dates (and the last events), not
		// the valuations.
		res := simulateSinglePath(calc, effectiveSimulationPath(sgd, path, false), false, e.tradeLabel, sample, log)
		resCout := simulateSinglePath(calc, effectiveSimulationPath(sgd, path, true), true, e.tradeLabel, sample, log)
		if err := setT0(res[0]); err != nil {
			return err
		}
		dateIndex := -1
		for k := 0; k < grid.Size(); k++ {
			t := times[k+1]
			tm := times[k]
			if grid.IsCloseOutDate(k) {
				if dateIndex < 0 {
					return fmt.Errorf("first date in grid must be a valuation date")
				}
				v := resCout[dateIndex+1] * buffer.FX(e.ccyIndex, k+1, sample) *
					buffer.Num(model, e.ccyIndex, k+1, tm, sample) * e.multiplier
				if err := out.Set(v, e.tradeID, dateIndex, sample, cube.DepthCloseOut); err != nil {
					return err
				}
			}
			if grid.IsValuationDate(k) {
				dateIndex++
				v := res[dateIndex+1] * buffer.FX(e.ccyIndex, k+1, sample) *
					buffer.NumRatio(model, e.ccyIndex, k+1, t, sample) * e.multiplier
				if err := out.Set(v, e.tradeID, dateIndex, sample, cube.DepthValuation); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// Actual-date MPOR: simulate all times in one go; depth 0 on
	// valuation steps with the numeraire ratio, depth 1 on close-out
	// steps with the raw numeraire (forward value, not discounted).
	res := simulateSinglePath(calc, path, false, e.tradeLabel, sample, log)
	if err := setT0(res[0]); err != nil {
		return err
	}
	dateIndex := -1
	for k := 1; k < len(res); k++ {
		t := times[k]
		if grid.IsCloseOutDate(k - 1) {
			if dateIndex < 0 {
				return fmt.Errorf("first date in grid must be a valuation date")
			}
			v := res[k] * buffer.FX(e.ccyIndex, k, sample) *
				buffer.Num(model, e.ccyIndex, k, t, sample) * e.multiplier
			if err := out.Set(v, e.tradeID, dateIndex, sample, cube.DepthCloseOut); err != nil {
				return err
			}
		}
		if grid.IsValuationDate(k - 1) {
			dateIndex++
			v := res[k] * buffer.FX(e.ccyIndex, k, sample) *
				buffer.NumRatio(model, e.ccyIndex, k, t, sample) * e.multiplier
			if err := out.Set(v, e.tradeID, dateIndex, sample, cube.DepthValuation); err != nil {
				return err
			}
		}
	}
	return nil
}

// evaluateMultiVariatesEntry runs one multi-variates calculator against
// the full cached ensemble and unpacks the per-sample batches into the
// cube, honoring the close-out lag mode.
func evaluateMultiVariatesEntry(e amcEntry, calc portfolio.MultiVariatesCalculator,
	pathTimes []float64, paths [][]simulation.RandomVariable,
	allTimes, valuationTimes, closeOutTimes []bool, samples int,
	model *simulation.CrossAssetModel, sgd *simulation.ScenarioGeneratorData,
	buffer *stateBuffer, out cube.Cube, log zerolog.Logger) error {

	grid := sgd.Grid()
	times := grid.Times()

	setT0 := func(rv simulation.RandomVariable) error {
		v := rv[0] * buffer.FX(e.ccyIndex, 0, 0) *
			buffer.NumRatio(model, e.ccyIndex, 0, 0.0, 0) * e.multiplier
		return out.SetT0(v, e.tradeID, cube.DepthValuation)
	}

	if !sgd.WithCloseOutLag() {
		res := simulateMultiVariates(calc, pathTimes, paths, allTimes, false, samples, e.tradeLabel, log)
		if err := setT0(res[0]); err != nil {
			return err
		}
		for k := 1; k < len(res); k++ {
			t := times[k]
			for i := 0; i < samples; i++ {
				v := res[k][i] * buffer.FX(e.ccyIndex, k, i) *
					buffer.NumRatio(model, e.ccyIndex, k, t, i) * e.multiplier
				if err := out.Set(v, e.tradeID, k-1, i, cube.DepthValuation); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if sgd.WithMporStickyDate() {
		// Simulate the valuation times, then the close-out times with
		// the states moved back onto the valuation times.
		res := simulateMultiVariates(calc, pathTimes, paths, valuationTimes, false, samples, e.tradeLabel, log)
		resLag := simulateMultiVariates(calc, pathTimes, paths, closeOutTimes, true, samples, e.tradeLabel, log)
		if err := setT0(res[0]); err != nil {
			return err
		}
		dateIndex := -1
		for k := 0; k < grid.Size(); k++ {
			t := times[k+1]
			tm := times[k]
			if grid.IsCloseOutDate(k) {
				if dateIndex < 0 {
					return fmt.Errorf("first date in grid must be a valuation date")
				}
				for i := 0; i < samples; i++ {
					v := resLag[dateIndex+1][i] * buffer.FX(e.ccyIndex, k+1, i) *
						buffer.Num(model, e.ccyIndex, k+1, tm, i) * e.multiplier
					if err := out.Set(v, e.tradeID, dateIndex, i, cube.DepthCloseOut); err != nil {
						return err
					}
				}
			}
			if grid.IsValuationDate(k) {
				dateIndex++
				for i := 0; i < samples; i++ {
					v := res[dateIndex+1][i] * buffer.FX(e.ccyIndex, k+1, i) *
						buffer.NumRatio(model, e.ccyIndex, k+1, t, i) * e.multiplier
					if err := out.Set(v, e.tradeID, dateIndex, i, cube.DepthValuation); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	// Actual-date MPOR.
	res := simulateMultiVariates(calc, pathTimes, paths, allTimes, false, samples, e.tradeLabel, log)
	if err := setT0(res[0]); err != nil {
		return err
	}
	dateIndex := -1
	for k := 1; k < len(res); k++ {
		t := times[k]
		if grid.IsCloseOutDate(k - 1) {
			if dateIndex < 0 {
				return fmt.Errorf("first date in grid must be a valuation date")
			}
			for i := 0; i < samples; i++ {
				v := res[k][i] * buffer.FX(e.ccyIndex, k, i) *
					buffer.Num(model, e.ccyIndex, k, t, i) * e.multiplier
				if err := out.Set(v, e.tradeID, dateIndex, i, cube.DepthCloseOut); err != nil {
					return err
				}
			}
		}
		if grid.IsValuationDate(k - 1) {
			dateIndex++
			for i := 0; i < samples; i++ {
				v := res[k][i] * buffer.FX(e.ccyIndex, k, i) *
					buffer.NumRatio(model, e.ccyIndex, k, t, i) * e.multiplier
				if err := out.Set(v, e.tradeID, dateIndex, i, cube.DepthValuation); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeScenarioData records the numeraire, FX spots and projected index
// fixings at every valuation date for one sample. Rows are indexed by
// valuation-date ordinal regardless of MPOR mode.
func writeScenarioData(asd scenario.Data, model *simulation.CrossAssetModel,
	sgd *simulation.ScenarioGeneratorData, buffer *stateBuffer, path *simulation.MultiPath,
	sample int, asdCcyIndex []int, asdCcyCode []string, asdIndices []asdIndexEntry) error {

	grid := sgd.Grid()
	times := grid.Times()
	dateIndex := 0
	for k := 1; k < len(times); k++ {
		if !grid.IsValuationDate(k - 1) {
			continue
		}
		t := times[k]
		numeraire := model.Numeraire(0, t, path.At(0, k))
		if err := asd.Set(dateIndex, sample, numeraire, scenario.Numeraire, ""); err != nil {
			return err
		}
		for j, ccyIndex := range asdCcyIndex {
			if err := asd.Set(dateIndex, sample, buffer.FX(ccyIndex, k, sample), scenario.FXSpot, asdCcyCode[j]); err != nil {
				return err
			}
		}
		for _, idx := range asdIndices {
			fixing := model.ForwardRate(idx.ccyIndex, t, idx.tenor, buffer.State(idx.ccyIndex, k, sample))
			if err := asd.Set(dateIndex, sample, fixing, scenario.IndexFixing, idx.name); err != nil {
				return err
			}
		}
		dateIndex++
	}
	return nil
}
