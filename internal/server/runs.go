package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/cube"
	"github.com/aristath/riskengine/internal/engine"
	"github.com/aristath/riskengine/internal/market"
	"github.com/aristath/riskengine/internal/portfolio"
	"github.com/aristath/riskengine/internal/scenario"
	"github.com/aristath/riskengine/internal/simulation"
)

// RunStatus is the lifecycle state of a valuation run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRequest is the JSON body of a run submission.
type RunRequest struct {
	Asof           string            `json:"asof"`
	ValuationDates []string          `json:"valuationDates"`
	Samples        int               `json:"samples"`
	Threads        int               `json:"threads"`
	Seed           int64             `json:"seed"`
	CloseOutLag    int               `json:"closeOutLagDays"`
	MporStickyDate bool              `json:"mporStickyDate"`
	Trades         []portfolio.Trade `json:"trades"`
	Aggregation    *AggregationSpec  `json:"aggregation,omitempty"`
}

// AggregationSpec requests aggregation scenario data alongside the cube.
type AggregationSpec struct {
	Currencies []string `json:"currencies"`
	Indices    []string `json:"indices"`
}

// ProgressUpdate is one progress tick pushed to stream subscribers.
type ProgressUpdate struct {
	RunID     string `json:"runId"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
	Status    string `json:"status"`
}

// TradeResult is the per-trade summary exposed once a run completes.
type TradeResult struct {
	TradeID    string    `json:"tradeId"`
	T0         float64   `json:"t0"`
	MeanByDate []float64 `json:"meanByDate"`
}

// Run is one tracked valuation run.
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	SubmittedAt time.Time  `json:"submittedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Error       string     `json:"error,omitempty"`

	Samples int `json:"samples"`
	Threads int `json:"threads"`
	Trades  int `json:"trades"`

	Results []TradeResult     `json:"results,omitempty"`
	Report  *engine.RunReport `json:"report,omitempty"`

	last ProgressUpdate
	subs map[chan ProgressUpdate]struct{}
}

// RunManager owns the run registry and executes runs asynchronously.
type RunManager struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	repo     *market.Repository
	defaults RunDefaults
	log      zerolog.Logger
}

// RunDefaults fills request fields the caller left zero.
type RunDefaults struct {
	Samples int
	Threads int
	Seed    int64
}

// NewRunManager creates a manager loading market data through the given
// repository.
func NewRunManager(repo *market.Repository, defaults RunDefaults, log zerolog.Logger) *RunManager {
	return &RunManager{
		runs:     make(map[string]*Run),
		repo:     repo,
		defaults: defaults,
		log:      log.With().Str("component", "run_manager").Logger(),
	}
}

// Submit validates a request, registers a run and starts it in the
// background.
func (m *RunManager) Submit(req RunRequest) (*Run, error) {
	if len(req.Trades) == 0 {
		return nil, fmt.Errorf("run request: no trades")
	}
	if len(req.ValuationDates) == 0 {
		return nil, fmt.Errorf("run request: no valuation dates")
	}
	asof, err := time.Parse("2006-01-02", req.Asof)
	if err != nil {
		return nil, fmt.Errorf("run request: invalid asof: %w", err)
	}
	dates := make([]time.Time, len(req.ValuationDates))
	for i, d := range req.ValuationDates {
		dates[i], err = time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("run request: invalid valuation date %q: %w", d, err)
		}
	}
	if req.Samples <= 0 {
		req.Samples = m.defaults.Samples
	}
	if req.Threads <= 0 {
		req.Threads = m.defaults.Threads
	}
	if req.Seed == 0 {
		req.Seed = m.defaults.Seed
	}

	p := portfolio.New()
	for _, t := range req.Trades {
		if err := p.Add(t); err != nil {
			return nil, fmt.Errorf("run request: %w", err)
		}
	}

	run := &Run{
		ID:          uuid.New().String(),
		Status:      RunPending,
		SubmittedAt: time.Now().UTC(),
		Samples:     req.Samples,
		Threads:     req.Threads,
		Trades:      p.Size(),
		subs:        make(map[chan ProgressUpdate]struct{}),
	}
	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	go m.execute(run, req, asof, dates, p)

	cp := *run
	cp.subs = nil
	return &cp, nil
}

// Get returns a copy of a run by id. Copies decouple JSON encoding from
// the executing goroutine.
func (m *RunManager) Get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	cp := *run
	cp.subs = nil
	return &cp, true
}

// List returns copies of all runs, newest first.
func (m *RunManager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		cp := *r
		cp.subs = nil
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

// Subscribe attaches a progress channel to a run. The returned cancel
// function detaches it.
func (m *RunManager) Subscribe(id string) (<-chan ProgressUpdate, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil, fmt.Errorf("run %q not found", id)
	}
	ch := make(chan ProgressUpdate, 64)
	// A run that already finished has no more ticks coming: replay the
	// terminal state and close immediately.
	if run.Status == RunCompleted || run.Status == RunFailed {
		ch <- ProgressUpdate{
			RunID: run.ID, Completed: run.last.Completed, Total: run.last.Total,
			Message: "run " + string(run.Status), Status: string(run.Status),
		}
		close(ch)
		return ch, func() {}, nil
	}
	run.subs[ch] = struct{}{}
	// Replay the latest known position so late subscribers see state
	// immediately.
	if run.last.Total > 0 {
		ch <- run.last
	}
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := run.subs[ch]; ok {
			delete(run.subs, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (m *RunManager) broadcast(run *Run, update ProgressUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.last = update
	for ch := range run.subs {
		select {
		case ch <- update:
		default: // slow subscriber, drop the tick
		}
	}
}

func (m *RunManager) finish(run *Run, results []TradeResult, report *engine.RunReport, err error) {
	now := time.Now().UTC()
	m.mu.Lock()
	run.FinishedAt = &now
	run.Report = report
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	} else {
		run.Status = RunCompleted
		run.Results = results
	}
	status := run.Status
	last := run.last
	for ch := range run.subs {
		delete(run.subs, ch)
		select {
		case ch <- ProgressUpdate{RunID: run.ID, Completed: last.Completed, Total: last.Total, Message: "run " + string(status), Status: string(status)}:
		default:
		}
		close(ch)
	}
	m.mu.Unlock()
}

func (m *RunManager) execute(run *Run, req RunRequest, asof time.Time, dates []time.Time, p *portfolio.Portfolio) {
	now := time.Now().UTC()
	m.mu.Lock()
	run.Status = RunRunning
	run.StartedAt = &now
	m.mu.Unlock()

	snapshot, err := m.repo.LoadSnapshot(asof)
	if err != nil {
		m.finish(run, nil, nil, fmt.Errorf("loading market snapshot: %w", err))
		return
	}

	grid, err := simulation.NewDateGridWithCloseOut(asof, dates, req.CloseOutLag)
	if err != nil {
		m.finish(run, nil, nil, err)
		return
	}
	withLag := req.CloseOutLag > 0
	sgd, err := simulation.NewScenarioGeneratorData(grid, req.Samples, req.Seed, withLag, req.MporStickyDate)
	if err != nil {
		m.finish(run, nil, nil, err)
		return
	}

	eng, err := engine.NewMultiThreadedEngine(sgd, snapshot, req.Threads)
	if err != nil {
		m.finish(run, nil, nil, err)
		return
	}
	if req.Aggregation != nil {
		asd, err := scenario.NewInMemoryData(len(grid.ValuationDates()), req.Samples)
		if err != nil {
			m.finish(run, nil, nil, err)
			return
		}
		eng.SetAggregationData(asd, req.Aggregation.Currencies, req.Aggregation.Indices)
	}
	eng.SetProgressCallback(func(completed, total int, message string) {
		m.broadcast(run, ProgressUpdate{
			RunID: run.ID, Completed: completed, Total: total,
			Message: message, Status: string(RunRunning),
		})
	})

	out, report, err := eng.BuildCube(p)
	if err != nil {
		m.log.Error().Str("run_id", run.ID).Err(err).Msg("Valuation run failed")
		m.finish(run, nil, report, err)
		return
	}

	results, err := summarize(out, p.IDs())
	if err != nil {
		m.finish(run, nil, report, err)
		return
	}
	m.log.Info().Str("run_id", run.ID).Int("trades", p.Size()).Msg("Valuation run completed")
	m.finish(run, results, report, nil)
}

// summarize reduces the cube to per-trade T0 values and per-date sample
// means.
func summarize(c cube.Cube, ids []string) ([]TradeResult, error) {
	idx := c.IDsAndIndexes()
	out := make([]TradeResult, 0, len(ids))
	for _, id := range ids {
		row := idx[id]
		t0, err := c.GetT0(row, cube.DepthValuation)
		if err != nil {
			return nil, err
		}
		means := make([]float64, c.NumDates())
		for d := 0; d < c.NumDates(); d++ {
			var sum float64
			for s := 0; s < c.Samples(); s++ {
				v, err := c.Get(row, d, s, cube.DepthValuation)
				if err != nil {
					return nil, err
				}
				sum += v
			}
			means[d] = sum / float64(c.Samples())
		}
		out = append(out, TradeResult{TradeID: id, T0: t0, MeanByDate: means})
	}
	return out, nil
}

// handleSubmitRun accepts a run request and returns the registered run.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	run, err := s.runs.Submit(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// handleListRuns returns all known runs.
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.List())
}

// handleGetRun returns one run with its results.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("run not found"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}
