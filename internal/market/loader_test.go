package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *LoaderSnapshot {
	return &LoaderSnapshot{
		Asof:         time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		BaseCurrency: "EUR",
		Currencies:   []string{"EUR", "USD"},
		FXSpots:      map[string]float64{"USD": 0.92},
		ZeroRates:    map[string]float64{"EUR": 0.02, "USD": 0.045},
		IRVols:       map[string]float64{"EUR": 0.01, "USD": 0.012},
		Reversions:   map[string]float64{"EUR": 0.03, "USD": 0.02},
		FXVols:       map[string]float64{"USD": 0.10},
		Indices: map[string]IndexConfig{
			"USD-LIBOR-3M": {Name: "USD-LIBOR-3M", Currency: "USD", TenorMonths: 3},
		},
		Fixings: map[string]float64{"USD-LIBOR-3M": 0.043},
	}
}

func TestSnapshotValidate(t *testing.T) {
	require.NoError(t, testSnapshot().Validate())

	s := testSnapshot()
	s.Currencies = nil
	assert.Error(t, s.Validate())

	s = testSnapshot()
	s.Currencies = []string{"USD", "EUR"}
	assert.Error(t, s.Validate(), "base currency must come first")

	s = testSnapshot()
	delete(s.ZeroRates, "USD")
	assert.Error(t, s.Validate())

	s = testSnapshot()
	delete(s.FXSpots, "USD")
	assert.Error(t, s.Validate())
}

func TestSnapshotCloneIsIsolated(t *testing.T) {
	orig := testSnapshot()
	clone, err := orig.Clone()
	require.NoError(t, err)

	assert.Equal(t, orig.BaseCurrency, clone.BaseCurrency)
	assert.Equal(t, orig.FXSpots, clone.FXSpots)
	assert.Equal(t, orig.Indices, clone.Indices)

	// Mutating the clone must not leak into the original.
	clone.FXSpots["USD"] = 99
	clone.Currencies[0] = "XXX"
	clone.ZeroRates["GBP"] = 0.05
	assert.Equal(t, 0.92, orig.FXSpots["USD"])
	assert.Equal(t, "EUR", orig.Currencies[0])
	assert.NotContains(t, orig.ZeroRates, "GBP")
}

func TestBuildMarket(t *testing.T) {
	m, err := testSnapshot().BuildMarket()
	require.NoError(t, err)

	spot, err := m.FXSpot("USD")
	require.NoError(t, err)
	assert.Equal(t, 0.92, spot)

	spot, err = m.FXSpot("EUR")
	require.NoError(t, err)
	assert.Equal(t, 1.0, spot, "base currency spot is 1 by definition")

	_, err = m.FXSpot("JPY")
	assert.Error(t, err)

	idx, err := m.IborIndex("USD-LIBOR-3M")
	require.NoError(t, err)
	assert.Equal(t, "USD", idx.Currency)
	assert.InDelta(t, 0.25, idx.Tenor(), 1e-12)

	fix, err := m.Fixing("USD-LIBOR-3M")
	require.NoError(t, err)
	assert.Equal(t, 0.043, fix)
}

func TestBuildModelData(t *testing.T) {
	data, err := testSnapshot().BuildModelData()
	require.NoError(t, err)

	require.Len(t, data.Currencies, 2)
	assert.Equal(t, "EUR", data.Currencies[0].Currency)
	assert.Equal(t, 1.0, data.Currencies[0].FXSpot)
	assert.Equal(t, 0.92, data.Currencies[1].FXSpot)
	assert.Equal(t, 0.10, data.Currencies[1].FXVol)

	// Missing correlation defaults to the identity over 2n-1 factors.
	require.Len(t, data.Correlation, 3)
	for i := range data.Correlation {
		for j := range data.Correlation[i] {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.Equal(t, want, data.Correlation[i][j])
		}
	}
}
