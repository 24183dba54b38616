package market

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/database"
)

// Repository loads market data snapshots from the market database.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new market data repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "market_repository").Logger(),
	}
}

// InitSchema creates the market data tables if they do not exist.
func (r *Repository) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS currencies (
		position INTEGER PRIMARY KEY,
		code TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS market_quotes (
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (kind, key)
	);
	CREATE TABLE IF NOT EXISTS index_definitions (
		name TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		tenor_months INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS index_fixings (
		name TEXT PRIMARY KEY,
		value REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS correlations (
		row INTEGER NOT NULL,
		col INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (row, col)
	);`
	if _, err := r.db.Conn().Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize market schema: %w", err)
	}
	return nil
}

// Quote kinds stored in market_quotes.
const (
	QuoteFXSpot    = "fx_spot"
	QuoteZeroRate  = "zero_rate"
	QuoteIRVol     = "ir_vol"
	QuoteReversion = "reversion"
	QuoteFXVol     = "fx_vol"
)

// LoadSnapshot reads the full market snapshot for the given asof date.
func (r *Repository) LoadSnapshot(asof time.Time) (*LoaderSnapshot, error) {
	snap := &LoaderSnapshot{
		Asof:       asof,
		FXSpots:    make(map[string]float64),
		ZeroRates:  make(map[string]float64),
		IRVols:     make(map[string]float64),
		Reversions: make(map[string]float64),
		FXVols:     make(map[string]float64),
		Indices:    make(map[string]IndexConfig),
		Fixings:    make(map[string]float64),
	}

	rows, err := r.db.Conn().Query(`SELECT code FROM currencies ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load currencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		snap.Currencies = append(snap.Currencies, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate currencies: %w", err)
	}
	if len(snap.Currencies) == 0 {
		return nil, fmt.Errorf("no currencies configured in market database")
	}
	snap.BaseCurrency = snap.Currencies[0]

	quoteRows, err := r.db.Conn().Query(`SELECT kind, key, value FROM market_quotes`)
	if err != nil {
		return nil, fmt.Errorf("failed to load market quotes: %w", err)
	}
	defer quoteRows.Close()
	for quoteRows.Next() {
		var kind, key string
		var value float64
		if err := quoteRows.Scan(&kind, &key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan market quote: %w", err)
		}
		switch kind {
		case QuoteFXSpot:
			snap.FXSpots[key] = value
		case QuoteZeroRate:
			snap.ZeroRates[key] = value
		case QuoteIRVol:
			snap.IRVols[key] = value
		case QuoteReversion:
			snap.Reversions[key] = value
		case QuoteFXVol:
			snap.FXVols[key] = value
		default:
			r.log.Warn().Str("kind", kind).Str("key", key).Msg("Unknown market quote kind, skipping")
		}
	}
	if err := quoteRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate market quotes: %w", err)
	}

	idxRows, err := r.db.Conn().Query(`SELECT name, currency, tenor_months FROM index_definitions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load index definitions: %w", err)
	}
	defer idxRows.Close()
	for idxRows.Next() {
		var idx IndexConfig
		if err := idxRows.Scan(&idx.Name, &idx.Currency, &idx.TenorMonths); err != nil {
			return nil, fmt.Errorf("failed to scan index definition: %w", err)
		}
		snap.Indices[idx.Name] = idx
	}
	if err := idxRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate index definitions: %w", err)
	}

	fixRows, err := r.db.Conn().Query(`SELECT name, value FROM index_fixings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load index fixings: %w", err)
	}
	defer fixRows.Close()
	for fixRows.Next() {
		var name string
		var value float64
		if err := fixRows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan index fixing: %w", err)
		}
		snap.Fixings[name] = value
	}
	if err := fixRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate index fixings: %w", err)
	}

	dim := 2*len(snap.Currencies) - 1
	corrRows, err := r.db.Conn().Query(`SELECT row, col, value FROM correlations`)
	if err != nil {
		return nil, fmt.Errorf("failed to load correlations: %w", err)
	}
	defer corrRows.Close()
	corr := identityMatrix(dim)
	found := false
	for corrRows.Next() {
		var row, col int
		var value float64
		if err := corrRows.Scan(&row, &col, &value); err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}
		if row < 0 || row >= dim || col < 0 || col >= dim {
			return nil, fmt.Errorf("correlation entry (%d,%d) outside state dimension %d", row, col, dim)
		}
		corr[row][col] = value
		corr[col][row] = value
		found = true
	}
	if err := corrRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate correlations: %w", err)
	}
	if found {
		snap.Correlation = corr
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}

	r.log.Info().
		Int("currencies", len(snap.Currencies)).
		Int("indices", len(snap.Indices)).
		Time("asof", asof).
		Msg("Loaded market snapshot")

	return snap, nil
}

// SaveQuote upserts one market quote. Used by the CLI seeding path and
// by tests.
func (r *Repository) SaveQuote(kind, key string, value float64) error {
	_, err := r.db.Conn().Exec(
		`INSERT INTO market_quotes (kind, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(kind, key) DO UPDATE SET value = excluded.value`,
		kind, key, value)
	if err != nil {
		return fmt.Errorf("failed to save market quote %s/%s: %w", kind, key, err)
	}
	return nil
}

// SaveCurrencies replaces the currency list. Position 0 is the base
// currency.
func (r *Repository) SaveCurrencies(codes []string) error {
	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin currency transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM currencies`); err != nil {
		return fmt.Errorf("failed to clear currencies: %w", err)
	}
	for i, code := range codes {
		if _, err := tx.Exec(`INSERT INTO currencies (position, code) VALUES (?, ?)`, i, code); err != nil {
			return fmt.Errorf("failed to insert currency %s: %w", code, err)
		}
	}
	return tx.Commit()
}
