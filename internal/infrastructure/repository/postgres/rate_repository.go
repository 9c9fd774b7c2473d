package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

// RateRepository stores the single user-overridable exchange-rate table.
// An empty table falls back to the built-in reference rates, so a fresh
// database works without seeding.
type RateRepository struct {
	db *sql.DB
}

func NewRateRepository(db *sql.DB) *RateRepository {
	return &RateRepository{db: db}
}

func (r *RateRepository) Get(ctx context.Context) (domain.ExchangeRateTable, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT rates, as_of
FROM exchange_rates
WHERE id = 1
`)

	var ratesRaw []byte
	var asOf time.Time
	if err := row.Scan(&ratesRaw, &asOf); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultExchangeRates(), nil
		}
		return domain.ExchangeRateTable{}, fmt.Errorf("scan rates: %w", err)
	}

	var rates map[string]float64
	if err := json.Unmarshal(ratesRaw, &rates); err != nil {
		return domain.ExchangeRateTable{}, fmt.Errorf("unmarshal rates: %w", err)
	}
	return domain.ExchangeRateTable{Rates: rates, AsOf: asOf}, nil
}

func (r *RateRepository) Replace(ctx context.Context, table domain.ExchangeRateTable) error {
	ratesJSON, err := json.Marshal(table.Rates)
	if err != nil {
		return fmt.Errorf("marshal rates: %w", err)
	}
	asOf := table.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO exchange_rates (id, rates, as_of)
VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET rates = EXCLUDED.rates, as_of = EXCLUDED.as_of
`, ratesJSON, asOf)
	if err != nil {
		return fmt.Errorf("replace rates: %w", err)
	}
	return nil
}
