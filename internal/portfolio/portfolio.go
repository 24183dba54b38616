// Package portfolio provides the trade container consumed by the
// valuation engine, the AMC calculator capability extracted from built
// trades, and the textual portfolio form used to hand trade slices to
// worker threads.
package portfolio

import (
	"encoding/json"
	"fmt"
)

// Trade is one position in a portfolio. Parsing trades from external
// persisted formats is out of scope; this struct is the engine-internal
// representation and its JSON form is only used to cross the worker
// thread boundary.
type Trade struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Currency string  `json:"currency"`
	Notional float64 `json:"notional"`
	Quantity float64 `json:"quantity"`
	Long     bool    `json:"long"`

	// MaturityYears is the cashflow time as a year fraction from asof.
	MaturityYears float64 `json:"maturityYears"`
}

// Multiplier returns the effective multiplier of the trade: quantity
// signed by direction.
func (t Trade) Multiplier() float64 {
	m := t.Quantity
	if !t.Long {
		m = -m
	}
	return m
}

// Portfolio is an ordered set of trades with unique ids.
type Portfolio struct {
	trades []Trade
	idx    map[string]int
}

// New creates an empty portfolio.
func New() *Portfolio {
	return &Portfolio{idx: make(map[string]int)}
}

// Add appends a trade; duplicate ids are rejected.
func (p *Portfolio) Add(t Trade) error {
	if t.ID == "" {
		return fmt.Errorf("portfolio: trade with empty id")
	}
	if _, ok := p.idx[t.ID]; ok {
		return fmt.Errorf("portfolio: duplicate trade id %q", t.ID)
	}
	p.idx[t.ID] = len(p.trades)
	p.trades = append(p.trades, t)
	return nil
}

// Size returns the number of trades.
func (p *Portfolio) Size() int { return len(p.trades) }

// Trades returns the trades in insertion order.
func (p *Portfolio) Trades() []Trade { return p.trades }

// IDs returns the trade ids in insertion order.
func (p *Portfolio) IDs() []string {
	out := make([]string, len(p.trades))
	for i, t := range p.trades {
		out[i] = t.ID
	}
	return out
}

// Split partitions the portfolio round-robin into min(n, size) slices.
// Every trade lands in exactly one slice.
func (p *Portfolio) Split(n int) []*Portfolio {
	if n > len(p.trades) {
		n = len(p.trades)
	}
	if n <= 0 {
		return nil
	}
	slices := make([]*Portfolio, n)
	for i := range slices {
		slices[i] = New()
	}
	for i, t := range p.trades {
		// Add cannot fail here: ids were unique in the source portfolio.
		_ = slices[i%n].Add(t)
	}
	return slices
}

// ToJSON serializes the portfolio to its self-contained textual form.
func (p *Portfolio) ToJSON() (string, error) {
	raw, err := json.Marshal(p.trades)
	if err != nil {
		return "", fmt.Errorf("portfolio: failed to serialize: %w", err)
	}
	return string(raw), nil
}

// FromJSON reloads a portfolio from its textual form.
func FromJSON(s string) (*Portfolio, error) {
	var trades []Trade
	if err := json.Unmarshal([]byte(s), &trades); err != nil {
		return nil, fmt.Errorf("portfolio: failed to deserialize: %w", err)
	}
	p := New()
	for _, t := range trades {
		if err := p.Add(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// TradeError is a structured per-trade error raised while building or
// extracting a calculator. Trades carrying one are excluded from the
// run; the engine logs them and continues.
type TradeError struct {
	TradeID   string
	TradeType string
	Action    string
	Err       error
}

// Error implements the error interface.
func (e *TradeError) Error() string {
	return fmt.Sprintf("trade %q (%s): %s: %v", e.TradeID, e.TradeType, e.Action, e.Err)
}

// Unwrap returns the underlying error.
func (e *TradeError) Unwrap() error { return e.Err }
