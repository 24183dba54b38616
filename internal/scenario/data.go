// Package scenario provides the aggregation scenario data sink populated
// alongside the result cube: per valuation date and sample, the model
// numeraire, FX spots and index fixings used by downstream exposure
// aggregation.
package scenario

import (
	"fmt"
)

// DataType identifies a kind of aggregation scenario data.
type DataType int

const (
	// Numeraire is the base currency numeraire value.
	Numeraire DataType = iota
	// FXSpot is a simulated FX spot, qualified by currency code.
	FXSpot
	// IndexFixing is a projected index fixing, qualified by index name.
	IndexFixing
)

// String returns the wire name of the data type.
func (t DataType) String() string {
	switch t {
	case Numeraire:
		return "numeraire"
	case FXSpot:
		return "fx_spot"
	case IndexFixing:
		return "index_fixing"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Key addresses one data series: a type plus an optional qualifier
// (currency code for FX spots, index name for fixings).
type Key struct {
	Type      DataType
	Qualifier string
}

// Data is the write interface handed to the valuation engine. Only the
// designated writer worker writes to it, and only on valuation dates.
type Data interface {
	Set(dateIndex, sample int, value float64, t DataType, qualifier string) error
	Get(dateIndex, sample int, t DataType, qualifier string) (float64, error)
	NumDates() int
	Samples() int
}

// InMemoryData is a dense in-memory Data implementation. Series are
// allocated lazily on first write.
type InMemoryData struct {
	numDates int
	samples  int
	series   map[Key][][]float64
}

// NewInMemoryData allocates a sink for the given valuation-date count
// and sample count.
func NewInMemoryData(numDates, samples int) (*InMemoryData, error) {
	if numDates <= 0 || samples <= 0 {
		return nil, fmt.Errorf("scenario data: dimensions must be positive, got %d dates x %d samples", numDates, samples)
	}
	return &InMemoryData{
		numDates: numDates,
		samples:  samples,
		series:   make(map[Key][][]float64),
	}, nil
}

// NumDates returns the number of valuation dates.
func (d *InMemoryData) NumDates() int { return d.numDates }

// Samples returns the number of Monte Carlo samples.
func (d *InMemoryData) Samples() int { return d.samples }

func (d *InMemoryData) check(dateIndex, sample int) error {
	if dateIndex < 0 || dateIndex >= d.numDates {
		return fmt.Errorf("scenario data: date index %d out of range [0,%d)", dateIndex, d.numDates)
	}
	if sample < 0 || sample >= d.samples {
		return fmt.Errorf("scenario data: sample %d out of range [0,%d)", sample, d.samples)
	}
	return nil
}

// Set writes one scalar.
func (d *InMemoryData) Set(dateIndex, sample int, value float64, t DataType, qualifier string) error {
	if err := d.check(dateIndex, sample); err != nil {
		return err
	}
	key := Key{Type: t, Qualifier: qualifier}
	s, ok := d.series[key]
	if !ok {
		s = make([][]float64, d.numDates)
		for i := range s {
			s[i] = make([]float64, d.samples)
		}
		d.series[key] = s
	}
	s[dateIndex][sample] = value
	return nil
}

// Get reads one scalar; reading a series that was never written is an
// error.
func (d *InMemoryData) Get(dateIndex, sample int, t DataType, qualifier string) (float64, error) {
	if err := d.check(dateIndex, sample); err != nil {
		return 0, err
	}
	s, ok := d.series[Key{Type: t, Qualifier: qualifier}]
	if !ok {
		return 0, fmt.Errorf("scenario data: no series for %s %q", t, qualifier)
	}
	return s[dateIndex][sample], nil
}

// Keys returns the series keys written so far.
func (d *InMemoryData) Keys() []Key {
	out := make([]Key, 0, len(d.series))
	for k := range d.series {
		out = append(out, k)
	}
	return out
}
