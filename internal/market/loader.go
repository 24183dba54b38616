package market

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/riskengine/internal/simulation"
)

// LoaderSnapshot is the immutable market data snapshot shared across
// worker threads. Workers never use it directly: each worker takes a
// Clone and builds its own Market and model from the clone, so no market
// state is shared between threads.
type LoaderSnapshot struct {
	Asof         time.Time              `msgpack:"asof"`
	BaseCurrency string                 `msgpack:"baseCurrency"`
	Currencies   []string               `msgpack:"currencies"` // model order, base first
	FXSpots      map[string]float64     `msgpack:"fxSpots"`
	ZeroRates    map[string]float64     `msgpack:"zeroRates"`
	IRVols       map[string]float64     `msgpack:"irVols"`
	Reversions   map[string]float64     `msgpack:"reversions"`
	FXVols       map[string]float64     `msgpack:"fxVols"`
	Correlation  [][]float64            `msgpack:"correlation"`
	Indices      map[string]IndexConfig `msgpack:"indices"`
	Fixings      map[string]float64     `msgpack:"fixings"`
}

// Clone deep-copies the snapshot through a msgpack round trip. Cheap
// relative to a model build, and guarantees the clone shares no maps or
// slices with the original.
func (s *LoaderSnapshot) Clone() (*LoaderSnapshot, error) {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize loader snapshot: %w", err)
	}
	var out LoaderSnapshot
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to deserialize loader snapshot: %w", err)
	}
	return &out, nil
}

// Validate checks the snapshot is complete enough to build a market and
// a model from.
func (s *LoaderSnapshot) Validate() error {
	if len(s.Currencies) == 0 {
		return fmt.Errorf("loader snapshot: no currencies")
	}
	if s.BaseCurrency == "" || s.Currencies[0] != s.BaseCurrency {
		return fmt.Errorf("loader snapshot: first currency must be the base currency %q", s.BaseCurrency)
	}
	for _, c := range s.Currencies {
		if _, ok := s.ZeroRates[c]; !ok {
			return fmt.Errorf("loader snapshot: missing zero rate for %s", c)
		}
		if c == s.BaseCurrency {
			continue
		}
		if _, ok := s.FXSpots[c]; !ok {
			return fmt.Errorf("loader snapshot: missing fx spot for %s", c)
		}
	}
	return nil
}

// BuildMarket materializes the read-only market object from the
// snapshot.
func (s *LoaderSnapshot) BuildMarket() (*Market, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	m := &Market{
		baseCurrency: s.BaseCurrency,
		currencies:   append([]string{}, s.Currencies...),
		fxSpots:      make(map[string]float64, len(s.FXSpots)),
		zeroRates:    make(map[string]float64, len(s.ZeroRates)),
		indices:      make(map[string]IndexConfig, len(s.Indices)),
		fixings:      make(map[string]float64, len(s.Fixings)),
	}
	for k, v := range s.FXSpots {
		m.fxSpots[k] = v
	}
	for k, v := range s.ZeroRates {
		m.zeroRates[k] = v
	}
	for k, v := range s.Indices {
		m.indices[k] = v
	}
	for k, v := range s.Fixings {
		m.fixings[k] = v
	}
	return m, nil
}

// BuildModelData assembles the cross asset model description from the
// snapshot. Missing vols and reversions default to zero (deterministic
// component), a missing correlation defaults to the identity.
func (s *LoaderSnapshot) BuildModelData() (simulation.CrossAssetModelData, error) {
	if err := s.Validate(); err != nil {
		return simulation.CrossAssetModelData{}, err
	}
	data := simulation.CrossAssetModelData{DayCount: simulation.DayCountAct365F}
	for _, c := range s.Currencies {
		p := simulation.CurrencyParams{
			Currency:  c,
			Rate:      s.ZeroRates[c],
			Reversion: s.Reversions[c],
			IRVol:     s.IRVols[c],
		}
		if c == s.BaseCurrency {
			p.FXSpot = 1.0
		} else {
			p.FXSpot = s.FXSpots[c]
			p.FXVol = s.FXVols[c]
		}
		data.Currencies = append(data.Currencies, p)
	}
	dim := 2*len(s.Currencies) - 1
	if len(s.Correlation) == 0 {
		data.Correlation = identityMatrix(dim)
	} else {
		data.Correlation = s.Correlation
	}
	return data, nil
}

func identityMatrix(dim int) [][]float64 {
	out := make([][]float64, dim)
	for i := range out {
		out[i] = make([]float64, dim)
		out[i][i] = 1.0
	}
	return out
}
