package domain

import (
	"strings"
	"time"
)

// ExchangeRateTable maps ISO currency codes to their EUR conversion rate
// (1 unit of currency = Rate EUR). The table is snapshotted into a run at
// start and read-shared during normalization; user overrides apply only
// between runs.
type ExchangeRateTable struct {
	Rates map[string]float64 `json:"rates"`
	AsOf  time.Time          `json:"as_of"`
}

// DefaultExchangeRates returns the built-in 2024 reference rates.
func DefaultExchangeRates() ExchangeRateTable {
	return ExchangeRateTable{
		Rates: map[string]float64{
			"EUR": 1.0000,
			"GBP": 1.1812,
			"USD": 0.9204,
			"CHF": 1.0418,
			"CAD": 0.6812,
		},
	}
}

// Rate returns the EUR rate for a currency code, case-insensitive.
func (t ExchangeRateTable) Rate(currency string) (float64, bool) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" || cur == "EUR" {
		return 1.0, true
	}
	r, ok := t.Rates[cur]
	return r, ok
}

// ToEUR converts an amount in the given currency to EUR.
func (t ExchangeRateTable) ToEUR(amount float64, currency string) (float64, bool) {
	rate, ok := t.Rate(currency)
	if !ok {
		return 0, false
	}
	return amount * rate, true
}

// Valid reports whether the table is structurally usable: every rate must be
// strictly positive.
func (t ExchangeRateTable) Valid() bool {
	for _, r := range t.Rates {
		if r <= 0 {
			return false
		}
	}
	return true
}
