// Package market provides the market snapshot the engine consumes: FX
// spots, flat zero rates, model parameters per currency, index
// definitions and fixings. Curve and volatility calibration happens
// upstream; this package only stores and serves the calibrated numbers.
package market

import (
	"fmt"
)

// IndexConfig describes a projectable rates index.
type IndexConfig struct {
	Name        string `msgpack:"name" json:"name"`
	Currency    string `msgpack:"currency" json:"currency"`
	TenorMonths int    `msgpack:"tenorMonths" json:"tenorMonths"`
}

// Tenor returns the index tenor as a year fraction.
func (i IndexConfig) Tenor() float64 { return float64(i.TenorMonths) / 12.0 }

// Market is the read-only market object used for aggregation scenario
// data lookups and model building. It is built from a loader snapshot
// and never mutated during a run.
type Market struct {
	baseCurrency string
	currencies   []string
	fxSpots      map[string]float64 // base units per unit of currency
	zeroRates    map[string]float64
	indices      map[string]IndexConfig
	fixings      map[string]float64
}

// FXSpot returns the spot of a currency against the base currency.
func (m *Market) FXSpot(ccy string) (float64, error) {
	if ccy == m.baseCurrency {
		return 1.0, nil
	}
	v, ok := m.fxSpots[ccy]
	if !ok {
		return 0, fmt.Errorf("fx spot %s/%s not found in market", ccy, m.baseCurrency)
	}
	return v, nil
}

// ZeroRate returns the flat continuously compounded zero rate of a
// currency.
func (m *Market) ZeroRate(ccy string) (float64, error) {
	v, ok := m.zeroRates[ccy]
	if !ok {
		return 0, fmt.Errorf("zero rate for %s not found in market", ccy)
	}
	return v, nil
}

// IborIndex returns the configuration of a rates index.
func (m *Market) IborIndex(name string) (IndexConfig, error) {
	idx, ok := m.indices[name]
	if !ok {
		return IndexConfig{}, fmt.Errorf("index %q not found in market", name)
	}
	return idx, nil
}

// Fixing returns the last known fixing of an index.
func (m *Market) Fixing(name string) (float64, error) {
	v, ok := m.fixings[name]
	if !ok {
		return 0, fmt.Errorf("fixing for %q not found in market", name)
	}
	return v, nil
}

// BaseCurrency returns the market base currency.
func (m *Market) BaseCurrency() string { return m.baseCurrency }

// Currencies returns the currency codes in model order (base first).
func (m *Market) Currencies() []string { return m.currencies }
