package normalize

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource records where a rate table came from
type RateSource string

const (
	RateSourceLive     RateSource = "live"
	RateSourceCache    RateSource = "cache"
	RateSourceFallback RateSource = "fallback"
)

// PriceScale is the number of decimals settlement prices are rounded to
const PriceScale = 2

// FallbackRates is the static table used when no live rates are available
var FallbackRates = map[string]string{
	"EUR": "1.1715",
	"SGD": "0.7518",
	"GBP": "1.27",
	"CNY": "0.14",
}

// ExchangeRateTable maps currency codes to their rate into the settlement
// currency. It is immutable once built.
type ExchangeRateTable struct {
	settlement string
	rates      map[string]decimal.Decimal
	source     RateSource
	fetchedAt  time.Time
}

// NewExchangeRateTable builds a table. The settlement currency's own rate
// is always exactly one, whatever the input says.
func NewExchangeRateTable(settlement string, rates map[string]decimal.Decimal, source RateSource, fetchedAt time.Time) *ExchangeRateTable {
	copied := make(map[string]decimal.Decimal, len(rates)+1)
	for code, rate := range rates {
		copied[code] = rate
	}
	copied[settlement] = decimal.NewFromInt(1)

	return &ExchangeRateTable{
		settlement: settlement,
		rates:      copied,
		source:     source,
		fetchedAt:  fetchedAt,
	}
}

// NewFallbackTable builds the static fallback table
func NewFallbackTable(settlement string) *ExchangeRateTable {
	rates := make(map[string]decimal.Decimal, len(FallbackRates))
	for code, rate := range FallbackRates {
		rates[code] = decimal.RequireFromString(rate)
	}
	return NewExchangeRateTable(settlement, rates, RateSourceFallback, time.Time{})
}

// Settlement returns the settlement currency code
func (t *ExchangeRateTable) Settlement() string {
	return t.settlement
}

// Source returns where the table came from
func (t *ExchangeRateTable) Source() RateSource {
	return t.source
}

// FetchedAt returns when the table was fetched, zero for the fallback
func (t *ExchangeRateTable) FetchedAt() time.Time {
	return t.fetchedAt
}

// Rate returns the rate for code into the settlement currency
func (t *ExchangeRateTable) Rate(code string) (decimal.Decimal, bool) {
	rate, ok := t.rates[code]
	return rate, ok
}

// Currencies returns the known currency codes, sorted
func (t *ExchangeRateTable) Currencies() []string {
	codes := make([]string, 0, len(t.rates))
	for code := range t.rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Convert converts amount in currency into the settlement currency,
// rounded half away from zero to PriceScale decimals. Amounts already in
// the settlement currency are returned unchanged.
func (t *ExchangeRateTable) Convert(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if currency == t.settlement {
		return amount, nil
	}

	rate, ok := t.rates[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no exchange rate for %s", currency)
	}
	return amount.Mul(rate).Round(PriceScale), nil
}
