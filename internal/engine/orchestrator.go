package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aristath/riskengine/internal/cube"
	"github.com/aristath/riskengine/internal/market"
	"github.com/aristath/riskengine/internal/portfolio"
	"github.com/aristath/riskengine/internal/scenario"
	"github.com/aristath/riskengine/internal/simulation"
)

// WorkerState tracks how far a worker got through its per-thread build
// pipeline. Mostly useful in logs when a worker fails.
type WorkerState int

const (
	WorkerIdle WorkerState = iota
	WorkerMarketBuilt
	WorkerModelBuilt
	WorkerPortfolioBuilt
	WorkerSimulating
	WorkerDone
	WorkerFailed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerMarketBuilt:
		return "market_built"
	case WorkerModelBuilt:
		return "model_built"
	case WorkerPortfolioBuilt:
		return "portfolio_built"
	case WorkerSimulating:
		return "simulating"
	case WorkerDone:
		return "done"
	case WorkerFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// WorkerResult is the outcome of one worker thread.
type WorkerResult struct {
	WorkerID             int
	State                WorkerState
	TradeCount           int
	ExtractedCalculators int
	Err                  error
	Stats                *CoreStats
}

// RunReport summarizes a multi-threaded run.
type RunReport struct {
	RunID   string
	Threads int
	Workers []WorkerResult
	Total   time.Duration
}

// MiniCubeFactory creates the per-worker output cube for a portfolio
// slice. It lets callers choose the cube implementation while the
// orchestrator controls the dimensions.
type MiniCubeFactory func(asof time.Time, ids []string, dates []time.Time, samples, depth int) (cube.Cube, error)

// MultiThreadedEngine splits the portfolio round-robin over a number of
// workers, rebuilds market, model and portfolio independently inside
// each worker from a cloned loader snapshot, runs the core engine per
// slice into a mini-cube and joins the mini-cubes into one output cube.
type MultiThreadedEngine struct {
	sgd      *simulation.ScenarioGeneratorData
	snapshot *market.LoaderSnapshot
	threads  int

	aggDataCurrencies []string
	aggDataIndices    []string
	asd               scenario.Data
	callback          ProgressCallback
	cubeFactory       MiniCubeFactory

	log zerolog.Logger
}

// NewMultiThreadedEngine validates the shared run parameters. The loader
// snapshot is the single source every worker clones its market data
// from.
func NewMultiThreadedEngine(sgd *simulation.ScenarioGeneratorData, snapshot *market.LoaderSnapshot, threads int) (*MultiThreadedEngine, error) {
	if sgd == nil {
		return nil, fmt.Errorf("engine: scenario generator data is required")
	}
	if snapshot == nil {
		return nil, fmt.Errorf("engine: loader snapshot is required")
	}
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if sgd.Seed() == 0 {
		return nil, fmt.Errorf("engine: seed must be non-zero")
	}
	if threads <= 0 {
		return nil, fmt.Errorf("engine: threads must be positive, got %d", threads)
	}
	e := &MultiThreadedEngine{
		sgd:      sgd,
		snapshot: snapshot,
		threads:  threads,
		log:      log.With().Str("component", "engine_mt").Logger(),
	}
	e.cubeFactory = func(asof time.Time, ids []string, dates []time.Time, samples, depth int) (cube.Cube, error) {
		return cube.NewInMemoryCube(asof, ids, dates, samples, depth)
	}
	return e, nil
}

// SetAggregationData attaches an aggregation scenario data sink. Only
// worker 0 writes to it.
func (e *MultiThreadedEngine) SetAggregationData(asd scenario.Data, currencies, indices []string) {
	e.asd = asd
	e.aggDataCurrencies = currencies
	e.aggDataIndices = indices
}

// SetProgressCallback registers a progress callback shared by all
// workers.
func (e *MultiThreadedEngine) SetProgressCallback(cb ProgressCallback) { e.callback = cb }

// SetMiniCubeFactory overrides the per-worker cube implementation.
func (e *MultiThreadedEngine) SetMiniCubeFactory(f MiniCubeFactory) { e.cubeFactory = f }

// workerInput is everything a worker needs, marshalled to forms safe to
// cross the thread boundary: the portfolio as text, the market data as
// an owned snapshot clone, the settings as an immutable copy.
type workerInput struct {
	workerID      int
	portfolioText string
	tradeIDs      []string
	snapshot      *market.LoaderSnapshot
	settings      simulation.SettingsSnapshot
	writeASD      bool
}

// BuildCube runs the portfolio over all workers and returns the joined
// cube spanning the full portfolio in its original trade order.
func (e *MultiThreadedEngine) BuildCube(p *portfolio.Portfolio) (cube.Cube, *RunReport, error) {
	if p == nil || p.Size() == 0 {
		return nil, nil, fmt.Errorf("engine: portfolio is empty")
	}
	runID := uuid.New().String()
	started := time.Now()
	logger := e.log.With().Str("run_id", runID).Logger()

	slices := p.Split(e.threads)
	logger.Info().
		Int("threads", len(slices)).
		Int("trades", p.Size()).
		Int("samples", e.sgd.Samples()).
		Msg("Starting multi-threaded AMC valuation")

	// Total progress ticks: per-trade extraction plus two phase ticks
	// per worker.
	prog := NewProgressReporter(p.Size()+2*len(slices), e.callback)

	settings := simulation.GlobalSettings().Snapshot()

	inputs := make([]workerInput, len(slices))
	for i, slice := range slices {
		text, err := slice.ToJSON()
		if err != nil {
			return nil, nil, fmt.Errorf("engine: serializing portfolio slice %d: %w", i, err)
		}
		clone, err := e.snapshot.Clone()
		if err != nil {
			return nil, nil, fmt.Errorf("engine: cloning loader snapshot for worker %d: %w", i, err)
		}
		inputs[i] = workerInput{
			workerID:      i,
			portfolioText: text,
			tradeIDs:      slice.IDs(),
			snapshot:      clone,
			settings:      settings,
			writeASD:      i == 0 && e.asd != nil,
		}
	}

	miniCubes := make([]cube.Cube, len(slices))
	results := make([]WorkerResult, len(slices))

	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(in workerInput) {
			defer wg.Done()
			miniCubes[in.workerID], results[in.workerID] = e.runWorker(in, prog, logger)
		}(inputs[i])
	}
	wg.Wait()

	var failed []string
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Sprintf("worker %d (%s): %v", r.WorkerID, r.State, r.Err))
		}
	}
	report := &RunReport{RunID: runID, Threads: len(slices), Workers: results, Total: time.Since(started)}
	if len(failed) > 0 {
		return nil, report, fmt.Errorf("engine: %d of %d workers failed: %s", len(failed), len(slices), strings.Join(failed, "; "))
	}

	joined, err := cube.NewJointCube(miniCubes, p.IDs(), true)
	if err != nil {
		return nil, report, fmt.Errorf("engine: joining worker cubes: %w", err)
	}

	logger.Info().
		Dur("total", report.Total).
		Int("threads", len(slices)).
		Msg("Multi-threaded AMC valuation finished")
	return joined, report, nil
}

// runWorker executes one worker thread end to end: rebuild market and
// model from the owned snapshot, deserialize the portfolio slice, run
// the core engine into a mini-cube. Panics are converted into worker
// failures so one bad worker cannot take the process down.
func (e *MultiThreadedEngine) runWorker(in workerInput, prog *ProgressReporter, logger zerolog.Logger) (out cube.Cube, res WorkerResult) {
	res = WorkerResult{WorkerID: in.workerID, State: WorkerIdle}
	wlog := logger.With().Int("worker", in.workerID).Logger()

	defer func() {
		if r := recover(); r != nil {
			res.State = WorkerFailed
			res.Err = fmt.Errorf("panic: %v", r)
			wlog.Error().Interface("panic", r).Msg("Worker panicked")
			out = nil
		}
	}()

	mkt, err := in.snapshot.BuildMarket()
	if err != nil {
		res.State, res.Err = WorkerFailed, fmt.Errorf("building market: %w", err)
		return nil, res
	}
	res.State = WorkerMarketBuilt

	modelData, err := in.snapshot.BuildModelData()
	if err != nil {
		res.State, res.Err = WorkerFailed, fmt.Errorf("building model data: %w", err)
		return nil, res
	}
	model, err := simulation.NewCrossAssetModel(modelData)
	if err != nil {
		res.State, res.Err = WorkerFailed, fmt.Errorf("calibrating model: %w", err)
		return nil, res
	}
	res.State = WorkerModelBuilt

	slice, err := portfolio.FromJSON(in.portfolioText)
	if err != nil {
		res.State, res.Err = WorkerFailed, fmt.Errorf("deserializing portfolio slice: %w", err)
		return nil, res
	}
	res.State = WorkerPortfolioBuilt
	res.TradeCount = slice.Size()

	// Each worker draws from its own generator; the offset seed keeps
	// workers decorrelated while the overall run stays reproducible for
	// a fixed thread count.
	grid := e.sgd.Grid()
	sgd, err := simulation.NewScenarioGeneratorData(grid, e.sgd.Samples(),
		e.sgd.Seed()+int64(in.workerID), e.sgd.WithCloseOutLag(), e.sgd.WithMporStickyDate())
	if err != nil {
		res.State, res.Err = WorkerFailed, fmt.Errorf("scenario data: %w", err)
		return nil, res
	}

	// The settings snapshot travels with the worker instead of being read
	// from the global instance, which the orchestrating thread may mutate
	// while workers run.
	if !in.settings.EvaluationDate.IsZero() && !in.settings.EvaluationDate.Equal(grid.Asof()) {
		res.State, res.Err = WorkerFailed, fmt.Errorf("evaluation date %s does not match grid asof %s",
			in.settings.EvaluationDate.Format("2006-01-02"), grid.Asof().Format("2006-01-02"))
		return nil, res
	}

	depth := 1
	if sgd.WithCloseOutLag() {
		depth = 2
	}
	mini, err := e.cubeFactory(grid.Asof(), in.tradeIDs, grid.ValuationDates(), sgd.Samples(), depth)
	if err != nil {
		res.State, res.Err = WorkerFailed, fmt.Errorf("creating mini-cube: %w", err)
		return nil, res
	}

	var asd scenario.Data
	var asdCurrencies, asdIndices []string
	if in.writeASD {
		asd = e.asd
		asdCurrencies = e.aggDataCurrencies
		asdIndices = e.aggDataIndices
	}

	res.State = WorkerSimulating
	wlog.Debug().Int("trades", slice.Size()).Str("state", res.State.String()).Msg("Worker pipeline built, simulating")

	stats, err := runCore(slice, model, mkt, sgd, asdCurrencies, asdIndices, asd, mini, prog, wlog)
	if err != nil {
		res.State, res.Err = WorkerFailed, err
		return nil, res
	}
	res.State = WorkerDone
	res.Stats = stats
	res.ExtractedCalculators = stats.ExtractedCalculators
	return mini, res
}
