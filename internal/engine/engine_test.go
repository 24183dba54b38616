package engine

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskengine/internal/cube"
	"github.com/aristath/riskengine/internal/market"
	"github.com/aristath/riskengine/internal/portfolio"
	"github.com/aristath/riskengine/internal/scenario"
	"github.com/aristath/riskengine/internal/simulation"
)

var testAsof = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

func testSnapshot() *market.LoaderSnapshot {
	return &market.LoaderSnapshot{
		Asof:         testAsof,
		BaseCurrency: "EUR",
		Currencies:   []string{"EUR", "USD"},
		FXSpots:      map[string]float64{"USD": 0.92},
		ZeroRates:    map[string]float64{"EUR": 0.02, "USD": 0.045},
		IRVols:       map[string]float64{"EUR": 0.01, "USD": 0.012},
		Reversions:   map[string]float64{"EUR": 0.03, "USD": 0.02},
		FXVols:       map[string]float64{"USD": 0.10},
		Indices: map[string]market.IndexConfig{
			"USD-LIBOR-3M": {Name: "USD-LIBOR-3M", Currency: "USD", TenorMonths: 3},
		},
	}
}

// zeroVolSnapshot makes every path deterministic so cube values have a
// closed form.
func zeroVolSnapshot() *market.LoaderSnapshot {
	s := testSnapshot()
	s.IRVols = map[string]float64{"EUR": 0, "USD": 0}
	s.FXVols = map[string]float64{"USD": 0}
	return s
}

func buildModelAndMarket(t *testing.T, s *market.LoaderSnapshot) (*simulation.CrossAssetModel, *market.Market) {
	t.Helper()
	mkt, err := s.BuildMarket()
	require.NoError(t, err)
	data, err := s.BuildModelData()
	require.NoError(t, err)
	model, err := simulation.NewCrossAssetModel(data)
	require.NoError(t, err)
	return model, mkt
}

func valuationDates() []time.Time {
	return []time.Time{
		time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
	}
}

func testPortfolio(t *testing.T, trades ...portfolio.Trade) *portfolio.Portfolio {
	t.Helper()
	p := portfolio.New()
	for _, tr := range trades {
		require.NoError(t, p.Add(tr))
	}
	return p
}

func cashflowTrade(id, ccy string, notional float64) portfolio.Trade {
	return portfolio.Trade{
		ID: id, Type: portfolio.TradeTypeCashflow, Currency: ccy,
		Notional: notional, Quantity: 1, Long: true, MaturityYears: 2,
	}
}

func basketTrade(id, ccy string, notional float64) portfolio.Trade {
	return portfolio.Trade{
		ID: id, Type: portfolio.TradeTypeCashflowBasket, Currency: ccy,
		Notional: notional, Quantity: 1, Long: true, MaturityYears: 2,
	}
}

func runEngine(t *testing.T, s *market.LoaderSnapshot, p *portfolio.Portfolio, samples int, seed int64) cube.Cube {
	t.Helper()
	model, mkt := buildModelAndMarket(t, s)
	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, samples, seed, false, false)
	require.NoError(t, err)
	eng, err := NewEngine(sgd, model, mkt)
	require.NoError(t, err)
	out, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates(), samples, 1)
	require.NoError(t, err)
	stats, err := eng.BuildCube(p, out)
	require.NoError(t, err)
	require.Equal(t, p.Size(), stats.ExtractedCalculators)
	return out
}

func TestEngineDeterminism(t *testing.T) {
	p := testPortfolio(t,
		cashflowTrade("T1", "EUR", 1000),
		cashflowTrade("T2", "USD", 500),
		basketTrade("T3", "USD", 750),
	)

	c1 := runEngine(t, testSnapshot(), p, 25, 42)
	c2 := runEngine(t, testSnapshot(), p, 25, 42)

	for id := 0; id < c1.NumIDs(); id++ {
		v1, err := c1.GetT0(id, cube.DepthValuation)
		require.NoError(t, err)
		v2, err := c2.GetT0(id, cube.DepthValuation)
		require.NoError(t, err)
		assert.Equal(t, v1, v2)
		for d := 0; d < c1.NumDates(); d++ {
			for s := 0; s < c1.Samples(); s++ {
				v1, err = c1.Get(id, d, s, cube.DepthValuation)
				require.NoError(t, err)
				v2, err = c2.Get(id, d, s, cube.DepthValuation)
				require.NoError(t, err)
				assert.Equal(t, v1, v2, "id %d date %d sample %d", id, d, s)
			}
		}
	}
}

func TestEngineT0Values(t *testing.T) {
	p := testPortfolio(t,
		cashflowTrade("T1", "EUR", 1000),
		cashflowTrade("T2", "USD", 500),
		basketTrade("T3", "USD", 500),
	)
	out := runEngine(t, testSnapshot(), p, 10, 42)

	// T0 is deterministic: discounted notional, converted at today's FX
	// spot, independent of paths and protocol.
	got, err := out.GetT0(0, cube.DepthValuation)
	require.NoError(t, err)
	assert.InDelta(t, 1000*math.Exp(-0.02*2), got, 1e-9)

	wantUSD := 500 * math.Exp(-0.045*2) * 0.92
	got, err = out.GetT0(1, cube.DepthValuation)
	require.NoError(t, err)
	assert.InDelta(t, wantUSD, got, 1e-9)

	// The batched protocol must agree with the per-path protocol at T0.
	got, err = out.GetT0(2, cube.DepthValuation)
	require.NoError(t, err)
	assert.InDelta(t, wantUSD, got, 1e-9)
}

func TestEngineZeroVolClosedForm(t *testing.T) {
	p := testPortfolio(t, cashflowTrade("T1", "EUR", 1000), basketTrade("T2", "EUR", 1000))
	out := runEngine(t, zeroVolSnapshot(), p, 4, 42)

	// With zero vols every sample carries the same deflated value
	// N P(t, T) P(0, t) = N exp(-r T), constant across dates.
	for id := 0; id < out.NumIDs(); id++ {
		for d := 0; d < out.NumDates(); d++ {
			want := 1000 * math.Exp(-0.02*2)
			for s := 0; s < out.Samples(); s++ {
				got, err := out.Get(id, d, s, cube.DepthValuation)
				require.NoError(t, err)
				assert.InDelta(t, want, got, 1e-9, "id %d date %d sample %d", id, d, s)
			}
		}
	}
}

func TestEngineSinglePathAndBatchedAgree(t *testing.T) {
	// Same payoff through both protocols must produce identical cube
	// values sample by sample: they see the same cached paths.
	p := testPortfolio(t, cashflowTrade("SP", "USD", 1000), basketTrade("MV", "USD", 1000))
	out := runEngine(t, testSnapshot(), p, 20, 7)

	for d := 0; d < out.NumDates(); d++ {
		for s := 0; s < out.Samples(); s++ {
			sp, err := out.Get(0, d, s, cube.DepthValuation)
			require.NoError(t, err)
			mv, err := out.Get(1, d, s, cube.DepthValuation)
			require.NoError(t, err)
			assert.InDelta(t, sp, mv, 1e-9, "date %d sample %d", d, s)
		}
	}
}

func TestEngineExcludesFailingTrades(t *testing.T) {
	bad := portfolio.Trade{ID: "BAD", Type: "swaption", Currency: "EUR", Notional: 100, Quantity: 1, Long: true, MaturityYears: 1}
	p := testPortfolio(t, cashflowTrade("T1", "EUR", 1000), bad, cashflowTrade("T2", "USD", 500))

	model, mkt := buildModelAndMarket(t, testSnapshot())
	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 5, 42, false, false)
	require.NoError(t, err)
	eng, err := NewEngine(sgd, model, mkt)
	require.NoError(t, err)
	out, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates(), 5, 1)
	require.NoError(t, err)

	stats, err := eng.BuildCube(p, out)
	require.NoError(t, err, "a failing trade must not fail the run")
	assert.Equal(t, 2, stats.ExtractedCalculators)
	assert.Equal(t, 3, stats.PortfolioSize)

	// The excluded trade's rows stay zero, the others are populated.
	got, err := out.GetT0(1, cube.DepthValuation)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
	got, err = out.Get(1, 0, 0, cube.DepthValuation)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
	got, err = out.GetT0(0, cube.DepthValuation)
	require.NoError(t, err)
	assert.NotEqual(t, 0.0, got)
}

func closeOutRun(t *testing.T, sticky bool) (cube.Cube, *simulation.DateGrid) {
	t.Helper()
	model, mkt := buildModelAndMarket(t, zeroVolSnapshot())
	grid, err := simulation.NewDateGridWithCloseOut(testAsof, valuationDates(), 14)
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 3, 42, true, sticky)
	require.NoError(t, err)
	eng, err := NewEngine(sgd, model, mkt)
	require.NoError(t, err)

	p := testPortfolio(t, cashflowTrade("T1", "EUR", 1000), basketTrade("T2", "EUR", 1000))
	out, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates(), 3, 2)
	require.NoError(t, err)
	_, err = eng.BuildCube(p, out)
	require.NoError(t, err)
	return out, grid
}

func TestEngineCloseOutActualDate(t *testing.T) {
	out, grid := closeOutRun(t, false)

	// Valuation dates are grid steps 0 and 2, close-out dates 1 and 3.
	valTimes := grid.ValuationTimeGrid()[1:]
	var closeOutTimes []float64
	for k := 0; k < grid.Size(); k++ {
		if grid.IsCloseOutDate(k) {
			closeOutTimes = append(closeOutTimes, grid.Times()[k+1])
		}
	}
	require.Len(t, closeOutTimes, 2)

	for id := 0; id < out.NumIDs(); id++ {
		for d := 0; d < out.NumDates(); d++ {
			tv, tc := valTimes[d], closeOutTimes[d]
			// Depth 0: base-deflated valuation value, N exp(-r T).
			wantVal := 1000 * math.Exp(-0.02*2)
			// Depth 1: undeflated close-out value, N P(tc, T).
			wantClose := 1000 * math.Exp(-0.02*(2-tc))
			for s := 0; s < out.Samples(); s++ {
				got, err := out.Get(id, d, s, cube.DepthValuation)
				require.NoError(t, err)
				assert.InDelta(t, wantVal, got, 1e-9, "id %d date %d (t=%f)", id, d, tv)
				got, err = out.Get(id, d, s, cube.DepthCloseOut)
				require.NoError(t, err)
				assert.InDelta(t, wantClose, got, 1e-9, "id %d date %d", id, d)
			}
		}
	}
}

func TestEngineCloseOutStickyDate(t *testing.T) {
	out, grid := closeOutRun(t, true)

	// Sticky-date convention: close-out values are computed with the
	// valuation-date times, so the close-out column uses tv, not tc.
	valTimes := grid.ValuationTimeGrid()[1:]
	for id := 0; id < out.NumIDs(); id++ {
		for d := 0; d < out.NumDates(); d++ {
			tv := valTimes[d]
			wantClose := 1000 * math.Exp(-0.02*(2-tv))
			for s := 0; s < out.Samples(); s++ {
				got, err := out.Get(id, d, s, cube.DepthCloseOut)
				require.NoError(t, err)
				assert.InDelta(t, wantClose, got, 1e-9, "id %d date %d", id, d)
			}
		}
	}
}

func TestEngineZeroLagGridEquivalence(t *testing.T) {
	// A close-out grid with zero lag is the plain valuation grid; runs
	// over both must agree exactly.
	p := testPortfolio(t, cashflowTrade("T1", "USD", 1000))

	run := func(grid *simulation.DateGrid) cube.Cube {
		model, mkt := buildModelAndMarket(t, testSnapshot())
		sgd, err := simulation.NewScenarioGeneratorData(grid, 10, 42, false, false)
		require.NoError(t, err)
		eng, err := NewEngine(sgd, model, mkt)
		require.NoError(t, err)
		out, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates(), 10, 1)
		require.NoError(t, err)
		_, err = eng.BuildCube(p, out)
		require.NoError(t, err)
		return out
	}

	plain, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	lagged, err := simulation.NewDateGridWithCloseOut(testAsof, valuationDates(), 0)
	require.NoError(t, err)

	c1, c2 := run(plain), run(lagged)
	for d := 0; d < c1.NumDates(); d++ {
		for s := 0; s < c1.Samples(); s++ {
			v1, err := c1.Get(0, d, s, cube.DepthValuation)
			require.NoError(t, err)
			v2, err := c2.Get(0, d, s, cube.DepthValuation)
			require.NoError(t, err)
			assert.Equal(t, v1, v2)
		}
	}
}

func TestEngineAggregationScenarioData(t *testing.T) {
	model, mkt := buildModelAndMarket(t, zeroVolSnapshot())
	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 3, 42, false, false)
	require.NoError(t, err)
	eng, err := NewEngine(sgd, model, mkt)
	require.NoError(t, err)

	asd, err := scenario.NewInMemoryData(len(grid.ValuationDates()), 3)
	require.NoError(t, err)
	require.NoError(t, eng.SetAggregationData(asd, []string{"EUR", "USD"}, []string{"USD-LIBOR-3M"}))

	p := testPortfolio(t, cashflowTrade("T1", "EUR", 1000))
	out, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates(), 3, 1)
	require.NoError(t, err)
	_, err = eng.BuildCube(p, out)
	require.NoError(t, err)

	for d := 0; d < asd.NumDates(); d++ {
		tv := grid.Times()[d+1]
		num, err := asd.Get(d, 0, scenario.Numeraire, "")
		require.NoError(t, err)
		assert.InDelta(t, math.Exp(0.02*tv), num, 1e-9, "zero-vol numeraire is the inverse discount factor")

		fx, err := asd.Get(d, 1, scenario.FXSpot, "USD")
		require.NoError(t, err)
		wantFX := 0.92 * math.Exp((0.02-0.045)*tv)
		assert.InDelta(t, wantFX, fx, 1e-9)

		fix, err := asd.Get(d, 2, scenario.IndexFixing, "USD-LIBOR-3M")
		require.NoError(t, err)
		wantFix := (math.Exp(0.045*0.25) - 1) / 0.25
		assert.InDelta(t, wantFix, fix, 1e-9)
	}

	// The base currency is never recorded as an FX spot.
	_, err = asd.Get(0, 0, scenario.FXSpot, "EUR")
	assert.Error(t, err)
}

func TestEnginePreconditions(t *testing.T) {
	model, mkt := buildModelAndMarket(t, testSnapshot())
	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 5, 42, false, false)
	require.NoError(t, err)

	_, err = NewEngine(nil, model, mkt)
	assert.Error(t, err)
	_, err = NewEngine(sgd, nil, mkt)
	assert.Error(t, err)

	eng, err := NewEngine(sgd, model, mkt)
	require.NoError(t, err)

	p := testPortfolio(t, cashflowTrade("T1", "EUR", 1000))
	_, err = eng.BuildCube(portfolio.New(), nil)
	assert.Error(t, err, "empty portfolio")

	// Mismatched cube dimensions are fatal.
	wrongSamples, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates(), 99, 1)
	require.NoError(t, err)
	_, err = eng.BuildCube(p, wrongSamples)
	assert.Error(t, err)

	wrongDates, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates()[:1], 5, 1)
	require.NoError(t, err)
	_, err = eng.BuildCube(p, wrongDates)
	assert.Error(t, err)

	wrongIDs, err := cube.NewInMemoryCube(testAsof, []string{"T1", "T2"}, grid.ValuationDates(), 5, 1)
	require.NoError(t, err)
	_, err = eng.BuildCube(p, wrongIDs)
	assert.Error(t, err)
}

func TestEngineRequiresDepthTwoWithCloseOutLag(t *testing.T) {
	model, mkt := buildModelAndMarket(t, testSnapshot())
	grid, err := simulation.NewDateGridWithCloseOut(testAsof, valuationDates(), 14)
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 5, 42, true, false)
	require.NoError(t, err)
	eng, err := NewEngine(sgd, model, mkt)
	require.NoError(t, err)

	p := testPortfolio(t, cashflowTrade("T1", "EUR", 1000))
	shallow, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates(), 5, 1)
	require.NoError(t, err)
	_, err = eng.BuildCube(p, shallow)
	assert.Error(t, err)
}

func TestMultiThreadedEngine(t *testing.T) {
	p := testPortfolio(t,
		cashflowTrade("T1", "EUR", 1000),
		cashflowTrade("T2", "USD", 500),
		basketTrade("T3", "USD", 750),
		cashflowTrade("T4", "EUR", 250),
		basketTrade("T5", "EUR", 100),
	)
	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 10, 42, false, false)
	require.NoError(t, err)
	eng, err := NewMultiThreadedEngine(sgd, testSnapshot(), 2)
	require.NoError(t, err)

	out, report, err := eng.BuildCube(p)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 2, report.Threads)
	total := 0
	for _, w := range report.Workers {
		assert.Equal(t, WorkerDone, w.State)
		assert.NoError(t, w.Err)
		total += w.TradeCount
	}
	assert.Equal(t, p.Size(), total, "workers must partition the portfolio completely")

	// The joint cube spans the full portfolio in original trade order.
	require.Equal(t, p.Size(), out.NumIDs())
	idx := out.IDsAndIndexes()
	for i, id := range p.IDs() {
		assert.Equal(t, i, idx[id])
	}

	// T0 values are path independent, so they hold for any thread split.
	got, err := out.GetT0(idx["T2"], cube.DepthValuation)
	require.NoError(t, err)
	assert.InDelta(t, 500*math.Exp(-0.045*2)*0.92, got, 1e-9)
	got, err = out.GetT0(idx["T4"], cube.DepthValuation)
	require.NoError(t, err)
	assert.InDelta(t, 250*math.Exp(-0.02*2), got, 1e-9)
}

func TestMultiThreadedEngineSingleWorkerMatchesEngine(t *testing.T) {
	p := testPortfolio(t, cashflowTrade("T1", "EUR", 1000), cashflowTrade("T2", "USD", 500))
	single := runEngine(t, testSnapshot(), p, 15, 42)

	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 15, 42, false, false)
	require.NoError(t, err)
	eng, err := NewMultiThreadedEngine(sgd, testSnapshot(), 1)
	require.NoError(t, err)
	multi, _, err := eng.BuildCube(p)
	require.NoError(t, err)

	for id := 0; id < single.NumIDs(); id++ {
		for d := 0; d < single.NumDates(); d++ {
			for s := 0; s < single.Samples(); s++ {
				v1, err := single.Get(id, d, s, cube.DepthValuation)
				require.NoError(t, err)
				v2, err := multi.Get(id, d, s, cube.DepthValuation)
				require.NoError(t, err)
				assert.Equal(t, v1, v2, "id %d date %d sample %d", id, d, s)
			}
		}
	}
}

func TestMultiThreadedEngineAggregatesWorkerFailures(t *testing.T) {
	p := testPortfolio(t,
		cashflowTrade("T1", "EUR", 1000),
		cashflowTrade("T2", "USD", 500),
		cashflowTrade("T3", "EUR", 250),
	)
	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 5, 42, false, false)
	require.NoError(t, err)
	eng, err := NewMultiThreadedEngine(sgd, testSnapshot(), 3)
	require.NoError(t, err)

	// Break the mini-cube build for worker 1 only; every other worker
	// must still finish and be joined into the failure report.
	eng.SetMiniCubeFactory(func(asof time.Time, ids []string, dates []time.Time, samples, depth int) (cube.Cube, error) {
		if len(ids) > 0 && ids[0] == "T2" {
			return nil, fmt.Errorf("no space left")
		}
		return cube.NewInMemoryCube(asof, ids, dates, samples, depth)
	})

	_, report, err := eng.BuildCube(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 1")
	require.NotNil(t, report)

	states := map[WorkerState]int{}
	for _, w := range report.Workers {
		states[w.State]++
	}
	assert.Equal(t, 1, states[WorkerFailed])
	assert.Equal(t, 2, states[WorkerDone])
}

func TestMultiThreadedEnginePreconditions(t *testing.T) {
	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 5, 42, false, false)
	require.NoError(t, err)

	_, err = NewMultiThreadedEngine(nil, testSnapshot(), 2)
	assert.Error(t, err)
	_, err = NewMultiThreadedEngine(sgd, nil, 2)
	assert.Error(t, err)
	_, err = NewMultiThreadedEngine(sgd, testSnapshot(), 0)
	assert.Error(t, err)

	bad := testSnapshot()
	bad.Currencies = nil
	_, err = NewMultiThreadedEngine(sgd, bad, 2)
	assert.Error(t, err)

	eng, err := NewMultiThreadedEngine(sgd, testSnapshot(), 2)
	require.NoError(t, err)
	_, _, err = eng.BuildCube(portfolio.New())
	assert.Error(t, err)
}

func TestProgressReporter(t *testing.T) {
	var gotCompleted, gotTotal int
	var gotMessage string
	r := NewProgressReporter(10, func(completed, total int, message string) {
		gotCompleted, gotTotal, gotMessage = completed, total, message
	})

	r.Add(3, "first")
	assert.Equal(t, 3, gotCompleted)
	assert.Equal(t, 10, gotTotal)
	assert.Equal(t, "first", gotMessage)

	r.Add(2, "second")
	assert.Equal(t, 5, gotCompleted)
	assert.Equal(t, 5, r.Completed())
	assert.Equal(t, 10, r.Total())

	r.Report("phase")
	assert.Equal(t, 5, gotCompleted)
	assert.Equal(t, "phase", gotMessage)
}

func TestProgressCallbackCountsTicks(t *testing.T) {
	p := testPortfolio(t, cashflowTrade("T1", "EUR", 1000), cashflowTrade("T2", "USD", 500))
	model, mkt := buildModelAndMarket(t, testSnapshot())
	grid, err := simulation.NewDateGrid(testAsof, valuationDates())
	require.NoError(t, err)
	sgd, err := simulation.NewScenarioGeneratorData(grid, 5, 42, false, false)
	require.NoError(t, err)
	eng, err := NewEngine(sgd, model, mkt)
	require.NoError(t, err)

	var last int
	eng.SetProgressCallback(func(completed, total int, message string) {
		assert.Equal(t, p.Size()+2, total)
		last = completed
	})

	out, err := cube.NewInMemoryCube(testAsof, p.IDs(), grid.ValuationDates(), 5, 1)
	require.NoError(t, err)
	_, err = eng.BuildCube(p, out)
	require.NoError(t, err)
	assert.Equal(t, p.Size()+2, last, "progress must end at the total")
}
