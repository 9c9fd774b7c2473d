package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

// RateUseCase manages the user-overridable exchange-rate table. Overrides
// are rejected while any run is active: a run works on the table it
// snapshotted at start, and swapping rates under an active run would make
// its output unexplainable.
type RateUseCase struct {
	rates ports.RateRepository
	runs  ports.RunRepository
}

func NewRateUseCase(rates ports.RateRepository, runs ports.RunRepository) *RateUseCase {
	return &RateUseCase{rates: rates, runs: runs}
}

func (uc *RateUseCase) Get(ctx context.Context) (domain.ExchangeRateTable, error) {
	table, err := uc.rates.Get(ctx)
	if err != nil {
		return domain.ExchangeRateTable{}, fmt.Errorf("load exchange rates: %w", err)
	}
	return table, nil
}

func (uc *RateUseCase) Update(ctx context.Context, table domain.ExchangeRateTable) error {
	if len(table.Rates) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "update rates", errors.New("empty rate table"))
	}
	normalized := make(map[string]float64, len(table.Rates))
	for currency, rate := range table.Rates {
		code := strings.ToUpper(strings.TrimSpace(currency))
		if len(code) != 3 {
			return domain.WrapError(domain.ErrInvalidInput, "update rates",
				fmt.Errorf("invalid currency code %q", currency))
		}
		if rate <= 0 {
			return domain.WrapError(domain.ErrInvalidInput, "update rates",
				fmt.Errorf("rate for %s must be positive, got %v", code, rate))
		}
		normalized[code] = rate
	}

	active, err := uc.runs.AnyActive(ctx)
	if err != nil {
		return fmt.Errorf("check active runs: %w", err)
	}
	if active {
		return domain.WrapError(domain.ErrRunActive, "update rates",
			errors.New("rates are frozen while an analysis run is in progress"))
	}

	asOf := table.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	if err := uc.rates.Replace(ctx, domain.ExchangeRateTable{Rates: normalized, AsOf: asOf}); err != nil {
		return fmt.Errorf("replace exchange rates: %w", err)
	}
	return nil
}
