// Package simulation provides the scenario date grid, the cross asset
// model and the multi-path generator driving Monte Carlo valuation runs.
package simulation

import (
	"fmt"
	"sort"
	"time"
)

// DayCountAct365F is the day count convention used across the engine.
// The model and the grid must agree on it, the engine checks this.
const DayCountAct365F = "ACT/365F"

// YearFraction returns the ACT/365F year fraction between two dates.
func YearFraction(start, end time.Time) float64 {
	return end.Sub(start).Hours() / 24.0 / 365.0
}

// DateGrid is the ordered simulation date grid. It holds the union of
// valuation and close-out dates (asof itself is not part of dates), a
// valuation/close-out flag per grid step and the derived time grid.
//
// The time grid has one more entry than the date grid: Times()[0] is
// always 0 (asof), Times()[k] corresponds to Dates()[k-1].
type DateGrid struct {
	asof            time.Time
	dates           []time.Time
	isValuationDate []bool
	isCloseOutDate  []bool
	times           []float64
	dayCount        string
}

// NewDateGrid builds a grid where every date is a valuation date.
func NewDateGrid(asof time.Time, valuationDates []time.Time) (*DateGrid, error) {
	g := &DateGrid{asof: asof, dayCount: DayCountAct365F}
	for _, d := range valuationDates {
		if !d.After(asof) {
			return nil, fmt.Errorf("grid date %s is not after asof %s", d.Format("2006-01-02"), asof.Format("2006-01-02"))
		}
		g.dates = append(g.dates, d)
		g.isValuationDate = append(g.isValuationDate, true)
		g.isCloseOutDate = append(g.isCloseOutDate, false)
	}
	if !sort.SliceIsSorted(g.dates, func(i, j int) bool { return g.dates[i].Before(g.dates[j]) }) {
		return nil, fmt.Errorf("grid dates are not strictly increasing")
	}
	g.buildTimes()
	return g, nil
}

// NewDateGridWithCloseOut builds a grid interleaving each valuation date
// with a close-out date lagged by closeOutLagDays calendar days (the
// margin period of risk). A zero lag collapses to a plain valuation grid.
func NewDateGridWithCloseOut(asof time.Time, valuationDates []time.Time, closeOutLagDays int) (*DateGrid, error) {
	if closeOutLagDays < 0 {
		return nil, fmt.Errorf("close-out lag must be non-negative, got %d", closeOutLagDays)
	}
	if closeOutLagDays == 0 {
		return NewDateGrid(asof, valuationDates)
	}
	type step struct {
		date     time.Time
		closeOut bool
	}
	var steps []step
	for _, d := range valuationDates {
		steps = append(steps, step{date: d, closeOut: false})
		steps = append(steps, step{date: d.AddDate(0, 0, closeOutLagDays), closeOut: true})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].date.Before(steps[j].date) })

	g := &DateGrid{asof: asof, dayCount: DayCountAct365F}
	for _, s := range steps {
		if !s.date.After(asof) {
			return nil, fmt.Errorf("grid date %s is not after asof %s", s.date.Format("2006-01-02"), asof.Format("2006-01-02"))
		}
		g.dates = append(g.dates, s.date)
		g.isValuationDate = append(g.isValuationDate, !s.closeOut)
		g.isCloseOutDate = append(g.isCloseOutDate, s.closeOut)
	}
	if g.Size() > 0 && g.isCloseOutDate[0] {
		return nil, fmt.Errorf("first date in grid must be a valuation date")
	}
	g.buildTimes()
	return g, nil
}

func (g *DateGrid) buildTimes() {
	g.times = make([]float64, len(g.dates)+1)
	g.times[0] = 0
	for i, d := range g.dates {
		g.times[i+1] = YearFraction(g.asof, d)
	}
}

// Asof returns the grid anchor date (grid step 0).
func (g *DateGrid) Asof() time.Time { return g.asof }

// Size returns the number of grid dates (excluding asof).
func (g *DateGrid) Size() int { return len(g.dates) }

// Dates returns the grid dates, excluding asof.
func (g *DateGrid) Dates() []time.Time { return g.dates }

// Times returns the time grid including 0 (asof) at index 0.
func (g *DateGrid) Times() []float64 { return g.times }

// DayCount returns the day count convention of the time grid.
func (g *DateGrid) DayCount() string { return g.dayCount }

// IsValuationDate reports whether grid date k is a valuation date.
func (g *DateGrid) IsValuationDate(k int) bool { return g.isValuationDate[k] }

// IsCloseOutDate reports whether grid date k is a close-out date.
func (g *DateGrid) IsCloseOutDate(k int) bool { return g.isCloseOutDate[k] }

// ValuationDates returns the valuation-flagged dates in grid order.
func (g *DateGrid) ValuationDates() []time.Time {
	var out []time.Time
	for i, d := range g.dates {
		if g.isValuationDate[i] {
			out = append(out, d)
		}
	}
	return out
}

// ValuationTimeGrid returns the time grid restricted to asof plus the
// valuation-flagged steps. Used to relabel sticky-date close-out
// sub-paths onto the valuation grid.
func (g *DateGrid) ValuationTimeGrid() []float64 {
	out := []float64{0}
	for i := range g.dates {
		if g.isValuationDate[i] {
			out = append(out, g.times[i+1])
		}
	}
	return out
}

// ScenarioGeneratorData bundles the grid with the sampling parameters of
// one simulation run.
type ScenarioGeneratorData struct {
	grid           *DateGrid
	seed           int64
	samples        int
	closeOutLag    bool
	mporStickyDate bool
}

// NewScenarioGeneratorData validates and bundles the scenario parameters.
// Sticky-date MPOR mode only makes sense on a grid with close-out lag.
func NewScenarioGeneratorData(grid *DateGrid, samples int, seed int64, closeOutLag, mporStickyDate bool) (*ScenarioGeneratorData, error) {
	if grid == nil || grid.Size() == 0 {
		return nil, fmt.Errorf("scenario generator data: empty date grid")
	}
	if samples <= 0 {
		return nil, fmt.Errorf("scenario generator data: samples must be positive, got %d", samples)
	}
	if mporStickyDate && !closeOutLag {
		return nil, fmt.Errorf("scenario generator data: sticky-date mpor mode requires close-out lag")
	}
	if closeOutLag && !grid.IsValuationDate(0) {
		return nil, fmt.Errorf("scenario generator data: first date in grid must be a valuation date")
	}
	return &ScenarioGeneratorData{
		grid:           grid,
		seed:           seed,
		samples:        samples,
		closeOutLag:    closeOutLag,
		mporStickyDate: mporStickyDate,
	}, nil
}

// Grid returns the underlying date grid.
func (s *ScenarioGeneratorData) Grid() *DateGrid { return s.grid }

// Seed returns the path generator seed.
func (s *ScenarioGeneratorData) Seed() int64 { return s.seed }

// Samples returns the number of Monte Carlo samples.
func (s *ScenarioGeneratorData) Samples() int { return s.samples }

// WithCloseOutLag reports whether the grid models a margin period of risk.
func (s *ScenarioGeneratorData) WithCloseOutLag() bool { return s.closeOutLag }

// WithMporStickyDate reports whether close-out values are computed with
// valuation-date risk factors (sticky date convention).
func (s *ScenarioGeneratorData) WithMporStickyDate() bool { return s.mporStickyDate }
