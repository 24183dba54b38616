// Package cube provides the multi-dimensional NPV result store filled by
// the valuation engine: trade x date x sample x depth, plus a T0 slice.
package cube

import (
	"fmt"
	"time"
)

// Depth indices used by exposure simulations with a margin period of
// risk.
const (
	// DepthValuation holds discounted valuation-date NPVs.
	DepthValuation = 0
	// DepthCloseOut holds forward-inflated close-out NPVs.
	DepthCloseOut = 1
)

// Cube is the write target of a valuation run and the read interface of
// downstream aggregation.
type Cube interface {
	// Extents
	NumIDs() int
	NumDates() int
	Samples() int
	Depth() int

	// IDsAndIndexes returns the trade id -> row index mapping.
	IDsAndIndexes() map[string]int
	Dates() []time.Time
	Asof() time.Time

	GetT0(id, depth int) (float64, error)
	SetT0(value float64, id, depth int) error
	Get(id, date, sample, depth int) (float64, error)
	Set(value float64, id, date, sample, depth int) error
}

// InMemoryCube is a dense in-memory Cube.
type InMemoryCube struct {
	asof    time.Time
	ids     []string
	idIdx   map[string]int
	dates   []time.Time
	samples int
	depth   int

	t0   [][]float64     // [id][depth]
	data [][][][]float64 // [id][date][sample][depth]
}

// NewInMemoryCube allocates a zero-filled cube. The id order given here
// defines the row order of the cube.
func NewInMemoryCube(asof time.Time, ids []string, dates []time.Time, samples, depth int) (*InMemoryCube, error) {
	if samples <= 0 {
		return nil, fmt.Errorf("cube: samples must be positive, got %d", samples)
	}
	if depth <= 0 {
		return nil, fmt.Errorf("cube: depth must be positive, got %d", depth)
	}
	idIdx := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := idIdx[id]; ok {
			return nil, fmt.Errorf("cube: duplicate id %q", id)
		}
		idIdx[id] = i
	}
	c := &InMemoryCube{
		asof:    asof,
		ids:     append([]string{}, ids...),
		idIdx:   idIdx,
		dates:   append([]time.Time{}, dates...),
		samples: samples,
		depth:   depth,
		t0:      make([][]float64, len(ids)),
		data:    make([][][][]float64, len(ids)),
	}
	for i := range ids {
		c.t0[i] = make([]float64, depth)
		c.data[i] = make([][][]float64, len(dates))
		for d := range dates {
			c.data[i][d] = make([][]float64, samples)
			for s := 0; s < samples; s++ {
				c.data[i][d][s] = make([]float64, depth)
			}
		}
	}
	return c, nil
}

// NumIDs returns the number of trade ids.
func (c *InMemoryCube) NumIDs() int { return len(c.ids) }

// NumDates returns the number of cube dates.
func (c *InMemoryCube) NumDates() int { return len(c.dates) }

// Samples returns the number of Monte Carlo samples.
func (c *InMemoryCube) Samples() int { return c.samples }

// Depth returns the cube depth.
func (c *InMemoryCube) Depth() int { return c.depth }

// IDsAndIndexes returns the trade id -> row index mapping.
func (c *InMemoryCube) IDsAndIndexes() map[string]int { return c.idIdx }

// Dates returns the cube dates.
func (c *InMemoryCube) Dates() []time.Time { return c.dates }

// Asof returns the cube anchor date.
func (c *InMemoryCube) Asof() time.Time { return c.asof }

func (c *InMemoryCube) check(id, date, sample, depth int) error {
	if id < 0 || id >= len(c.ids) {
		return fmt.Errorf("cube: id index %d out of range [0,%d)", id, len(c.ids))
	}
	if date < 0 || date >= len(c.dates) {
		return fmt.Errorf("cube: date index %d out of range [0,%d)", date, len(c.dates))
	}
	if sample < 0 || sample >= c.samples {
		return fmt.Errorf("cube: sample index %d out of range [0,%d)", sample, c.samples)
	}
	if depth < 0 || depth >= c.depth {
		return fmt.Errorf("cube: depth index %d out of range [0,%d)", depth, c.depth)
	}
	return nil
}

// GetT0 returns the T0 value of a trade.
func (c *InMemoryCube) GetT0(id, depth int) (float64, error) {
	if id < 0 || id >= len(c.ids) || depth < 0 || depth >= c.depth {
		return 0, fmt.Errorf("cube: t0 index (%d,%d) out of range", id, depth)
	}
	return c.t0[id][depth], nil
}

// SetT0 sets the T0 value of a trade.
func (c *InMemoryCube) SetT0(value float64, id, depth int) error {
	if id < 0 || id >= len(c.ids) || depth < 0 || depth >= c.depth {
		return fmt.Errorf("cube: t0 index (%d,%d) out of range", id, depth)
	}
	c.t0[id][depth] = value
	return nil
}

// Get returns one cube entry.
func (c *InMemoryCube) Get(id, date, sample, depth int) (float64, error) {
	if err := c.check(id, date, sample, depth); err != nil {
		return 0, err
	}
	return c.data[id][date][sample][depth], nil
}

// Set writes one cube entry.
func (c *InMemoryCube) Set(value float64, id, date, sample, depth int) error {
	if err := c.check(id, date, sample, depth); err != nil {
		return err
	}
	c.data[id][date][sample][depth] = value
	return nil
}
