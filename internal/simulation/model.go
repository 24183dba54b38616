package simulation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// AssetType selects a component family of the cross asset model.
type AssetType int

const (
	// AssetIR selects the interest rate components (one per currency).
	AssetIR AssetType = iota
	// AssetFX selects the FX components (one per non-base currency).
	AssetFX
)

// CurrencyParams holds the calibrated parameters of one currency in the
// cross asset model. Calibration itself happens upstream; the engine only
// consumes the resulting constants.
type CurrencyParams struct {
	Currency  string  `msgpack:"currency" json:"currency"`
	Rate      float64 `msgpack:"rate" json:"rate"`           // flat continuously compounded zero rate
	Reversion float64 `msgpack:"reversion" json:"reversion"` // IR mean reversion
	IRVol     float64 `msgpack:"irVol" json:"irVol"`         // IR state volatility
	FXVol     float64 `msgpack:"fxVol" json:"fxVol"`         // FX vol vs base, ignored for the base currency
	FXSpot    float64 `msgpack:"fxSpot" json:"fxSpot"`       // units of base per unit of currency, 1 for base
}

// CrossAssetModelData is the serializable description of a cross asset
// model. Currency 0 is the base currency. Correlation is the factor
// correlation matrix over the state dimensions (nIR + nFX), row-major.
type CrossAssetModelData struct {
	Currencies  []CurrencyParams `msgpack:"currencies" json:"currencies"`
	Correlation [][]float64      `msgpack:"correlation" json:"correlation"`
	DayCount    string           `msgpack:"dayCount" json:"dayCount"`
}

// CrossAssetModel is a multi-currency LGM1F + lognormal FX model with
// constant parameters. It exposes the state process layout, numeraires
// and discount factors the valuation engine needs; it is read-only after
// construction.
type CrossAssetModel struct {
	data     CurrencySet
	dayCount string
	chol     *mat.TriDense // lower triangular factor loadings
}

// CurrencySet is the ordered currency parameter list of a built model.
type CurrencySet []CurrencyParams

// NewCrossAssetModel builds a model from its data. The correlation
// matrix must be symmetric positive definite; gonum's Cholesky
// factorization is used to turn it into factor loadings.
func NewCrossAssetModel(data CrossAssetModelData) (*CrossAssetModel, error) {
	n := len(data.Currencies)
	if n == 0 {
		return nil, fmt.Errorf("cross asset model: no currencies")
	}
	if data.Currencies[0].FXSpot != 1.0 && data.Currencies[0].FXSpot != 0 {
		return nil, fmt.Errorf("cross asset model: base currency fx spot must be 1, got %f", data.Currencies[0].FXSpot)
	}
	dim := 2*n - 1 // nIR + nFX
	if len(data.Correlation) != dim {
		return nil, fmt.Errorf("cross asset model: correlation matrix dimension %d does not match state dimension %d", len(data.Correlation), dim)
	}
	flat := make([]float64, 0, dim*dim)
	for i, row := range data.Correlation {
		if len(row) != dim {
			return nil, fmt.Errorf("cross asset model: correlation row %d has length %d, want %d", i, len(row), dim)
		}
		flat = append(flat, row...)
	}
	var ch mat.Cholesky
	if ok := ch.Factorize(mat.NewSymDense(dim, flat)); !ok {
		return nil, fmt.Errorf("cross asset model: correlation matrix is not positive definite")
	}
	l := mat.NewTriDense(dim, mat.Lower, nil)
	ch.LTo(l)

	dayCount := data.DayCount
	if dayCount == "" {
		dayCount = DayCountAct365F
	}
	return &CrossAssetModel{data: append(CurrencySet{}, data.Currencies...), dayCount: dayCount, chol: l}, nil
}

// Components returns the number of model components of the given type.
func (m *CrossAssetModel) Components(t AssetType) int {
	switch t {
	case AssetIR:
		return len(m.data)
	case AssetFX:
		return len(m.data) - 1
	}
	return 0
}

// StateDim returns the dimension of the joint state process.
func (m *CrossAssetModel) StateDim() int { return 2*len(m.data) - 1 }

// PIdx maps a component to its coordinate in the state process: IR
// components first (one per currency), then FX components (one per
// non-base currency).
func (m *CrossAssetModel) PIdx(t AssetType, k int) int {
	if t == AssetIR {
		return k
	}
	return len(m.data) + k
}

// BaseCurrency returns the model's base currency code.
func (m *CrossAssetModel) BaseCurrency() string { return m.data[0].Currency }

// DayCount returns the model's day count convention.
func (m *CrossAssetModel) DayCount() string { return m.dayCount }

// CcyIndex returns the model index of a currency code.
func (m *CrossAssetModel) CcyIndex(ccy string) (int, error) {
	for i, c := range m.data {
		if c.Currency == ccy {
			return i, nil
		}
	}
	return 0, fmt.Errorf("currency %q not in cross asset model", ccy)
}

// Currency returns the parameters of currency i.
func (m *CrossAssetModel) Currency(i int) CurrencyParams { return m.data[i] }

// h is the LGM H function, (1 - exp(-a t)) / a, with the a -> 0 limit t.
func (m *CrossAssetModel) h(ccy int, t float64) float64 {
	a := m.data[ccy].Reversion
	if math.Abs(a) < 1e-10 {
		return t
	}
	return (1 - math.Exp(-a*t)) / a
}

// zeta is the cumulated state variance, sigma^2 t for constant vol.
func (m *CrossAssetModel) zeta(ccy int, t float64) float64 {
	s := m.data[ccy].IRVol
	return s * s * t
}

// Discount returns the T0 discount factor of currency ccy for maturity t.
func (m *CrossAssetModel) Discount(ccy int, t float64) float64 {
	return math.Exp(-m.data[ccy].Rate * t)
}

// Numeraire returns the LGM bank account numeraire of currency ccy at
// time t given the IR state value. At t=0 the numeraire is 1 for any
// state.
func (m *CrossAssetModel) Numeraire(ccy int, t float64, state float64) float64 {
	h := m.h(ccy, t)
	return math.Exp(h*state+0.5*h*h*m.zeta(ccy, t)) / m.Discount(ccy, t)
}

// ZeroBond returns the model-implied zero bond P(t, T) of currency ccy
// conditional on the IR state at t.
func (m *CrossAssetModel) ZeroBond(ccy int, t, maturity float64, state float64) float64 {
	ht := m.h(ccy, t)
	hT := m.h(ccy, maturity)
	return m.Discount(ccy, maturity) / m.Discount(ccy, t) *
		math.Exp(-(hT-ht)*state-0.5*(hT*hT-ht*ht)*m.zeta(ccy, t))
}

// ForwardRate returns the simply compounded forward rate of currency ccy
// over [t, t+tenor] conditional on the IR state at t. Used to project
// index fixings along a path.
func (m *CrossAssetModel) ForwardRate(ccy int, t, tenor float64, state float64) float64 {
	p := m.ZeroBond(ccy, t, t+tenor, state)
	return (1/p - 1) / tenor
}

// InitialState returns the state process value at time 0: zero IR states
// and the log FX spots.
func (m *CrossAssetModel) InitialState() []float64 {
	state := make([]float64, m.StateDim())
	for k := 1; k < len(m.data); k++ {
		state[m.PIdx(AssetFX, k-1)] = math.Log(m.data[k].FXSpot)
	}
	return state
}

// StepDrift returns the deterministic drift of state coordinate idx over
// [t0, t1]. IR states are driftless; log FX drifts with the rate
// differential and the Ito correction.
func (m *CrossAssetModel) StepDrift(idx int, t0, t1 float64) float64 {
	n := len(m.data)
	if idx < n {
		return 0
	}
	ccy := idx - n + 1
	dt := t1 - t0
	v := m.data[ccy].FXVol
	return (m.data[0].Rate - m.data[ccy].Rate - 0.5*v*v) * dt
}

// StepVol returns the standard deviation of the increment of state
// coordinate idx over [t0, t1] before correlation is applied.
func (m *CrossAssetModel) StepVol(idx int, t0, t1 float64) float64 {
	n := len(m.data)
	dt := t1 - t0
	if idx < n {
		return m.data[idx].IRVol * math.Sqrt(dt)
	}
	ccy := idx - n + 1
	return m.data[ccy].FXVol * math.Sqrt(dt)
}

// Correlate applies the Cholesky factor of the correlation matrix to a
// vector of independent standard normals, in place into dst.
func (m *CrossAssetModel) Correlate(dst, z []float64) {
	dim := m.StateDim()
	for i := 0; i < dim; i++ {
		var acc float64
		for j := 0; j <= i; j++ {
			acc += m.chol.At(i, j) * z[j]
		}
		dst[i] = acc
	}
}
