package engine

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aristath/riskengine/internal/cube"
	"github.com/aristath/riskengine/internal/market"
	"github.com/aristath/riskengine/internal/portfolio"
	"github.com/aristath/riskengine/internal/scenario"
	"github.com/aristath/riskengine/internal/simulation"
)

// Engine is the single-threaded AMC valuation engine. It binds a built
// model and market to scenario parameters and populates caller-provided
// cubes, one portfolio per BuildCube call.
type Engine struct {
	sgd   *simulation.ScenarioGeneratorData
	model *simulation.CrossAssetModel
	mkt   *market.Market

	aggDataCurrencies []string
	aggDataIndices    []string
	asd               scenario.Data
	callback          ProgressCallback

	log zerolog.Logger
}

// NewEngine validates the preconditions shared by every run and returns
// a ready engine. Violations here are fatal, there is nothing sensible
// to simulate without them.
func NewEngine(sgd *simulation.ScenarioGeneratorData, model *simulation.CrossAssetModel, mkt *market.Market) (*Engine, error) {
	if sgd == nil {
		return nil, fmt.Errorf("engine: scenario generator data is required")
	}
	if model == nil {
		return nil, fmt.Errorf("engine: model is required")
	}
	if sgd.Seed() == 0 {
		return nil, fmt.Errorf("engine: seed must be non-zero")
	}
	if model.DayCount() != sgd.Grid().DayCount() {
		return nil, fmt.Errorf("engine: model day count %q does not match grid day count %q",
			model.DayCount(), sgd.Grid().DayCount())
	}
	return &Engine{
		sgd:   sgd,
		model: model,
		mkt:   mkt,
		log:   log.With().Str("component", "engine").Logger(),
	}, nil
}

// SetAggregationData attaches an aggregation scenario data sink and the
// currencies and index names to record. The market is required for index
// resolution.
func (e *Engine) SetAggregationData(asd scenario.Data, currencies, indices []string) error {
	if asd != nil && e.mkt == nil {
		return fmt.Errorf("engine: market is required when aggregation scenario data is requested")
	}
	e.asd = asd
	e.aggDataCurrencies = currencies
	e.aggDataIndices = indices
	return nil
}

// SetProgressCallback registers a progress callback for subsequent runs.
func (e *Engine) SetProgressCallback(cb ProgressCallback) { e.callback = cb }

// BuildCube runs the simulation for one portfolio into the given cube.
func (e *Engine) BuildCube(p *portfolio.Portfolio, out cube.Cube) (*CoreStats, error) {
	if err := e.checkCube(p, out); err != nil {
		return nil, err
	}
	if e.asd != nil {
		if e.asd.NumDates() != len(e.sgd.Grid().ValuationDates()) {
			return nil, fmt.Errorf("engine: aggregation scenario data has %d dates, grid has %d valuation dates",
				e.asd.NumDates(), len(e.sgd.Grid().ValuationDates()))
		}
		if e.asd.Samples() != out.Samples() {
			return nil, fmt.Errorf("engine: aggregation scenario data has %d samples, cube has %d",
				e.asd.Samples(), out.Samples())
		}
	}
	prog := NewProgressReporter(p.Size()+2, e.callback)
	return runCore(p, e.model, e.mkt, e.sgd, e.aggDataCurrencies, e.aggDataIndices, e.asd, out, prog, e.log)
}

func (e *Engine) checkCube(p *portfolio.Portfolio, out cube.Cube) error {
	if p == nil || p.Size() == 0 {
		return fmt.Errorf("engine: portfolio is empty")
	}
	if out == nil {
		return fmt.Errorf("engine: output cube is required")
	}
	if out.NumIDs() != p.Size() {
		return fmt.Errorf("engine: cube holds %d ids, portfolio has %d trades", out.NumIDs(), p.Size())
	}
	if got, want := out.NumDates(), len(e.sgd.Grid().ValuationDates()); got != want {
		return fmt.Errorf("engine: cube holds %d dates, grid has %d valuation dates", got, want)
	}
	if out.Samples() != e.sgd.Samples() {
		return fmt.Errorf("engine: cube holds %d samples, scenario data requests %d", out.Samples(), e.sgd.Samples())
	}
	if e.sgd.WithCloseOutLag() && out.Depth() < 2 {
		return fmt.Errorf("engine: close-out lag requires cube depth >= 2, got %d", out.Depth())
	}
	if out.Depth() < 1 {
		return fmt.Errorf("engine: cube depth must be >= 1, got %d", out.Depth())
	}
	return nil
}
