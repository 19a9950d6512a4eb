package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"globalpass/esimworker/helpers"
	"globalpass/esimworker/internal/normalize"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
	"globalpass/esimworker/services/cache"
)

const (
	// DefaultURL quotes every currency against one US dollar
	DefaultURL = "https://open.er-api.com/v6/latest/USD"

	// DefaultTimeout bounds the rates request
	DefaultTimeout = 10 * time.Second

	cacheKey = "esim_exchange_rates"
	cacheTTL = 7 * 24 * time.Hour

	// rateScale is the number of decimals a derived rate keeps
	rateScale = 4
)

// apiResponse is the subset of the rates API answer we read
type apiResponse struct {
	Result   string                     `json:"result"`
	BaseCode string                     `json:"base_code"`
	Rates    map[string]decimal.Decimal `json:"rates"`
}

// cachedTable is the last good table as stored in memcache
type cachedTable struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Rates     map[string]string `json:"rates"`
}

// Loader builds the exchange rate table for a run
type Loader struct {
	Client     *resty.Client
	URL        string
	CacheSvc   cache.CacheService
	Settlement string
	Now        func() time.Time
	log        *logger.Logger
}

// NewLoader creates a loader for url. cacheSvc may be nil.
func NewLoader(url string, timeout time.Duration, cacheSvc cache.CacheService) *Loader {
	if url == "" {
		url = DefaultURL
	}
	return &Loader{
		Client:     helpers.NewClient(timeout),
		URL:        url,
		CacheSvc:   cacheSvc,
		Settlement: "USD",
		Now:        time.Now,
		log:        logger.ForRates(),
	}
}

// Load returns the live table, else the last good table from the cache,
// else the static fallback. It never fails.
func (l *Loader) Load(ctx context.Context) *normalize.ExchangeRateTable {
	table, err := l.fetch(ctx)
	if err == nil {
		l.store(table)
		l.log.Info().Int("currencies", len(table.Currencies())).Msg("Loaded live exchange rates")
		return table
	}
	l.log.Warn().Err(err).Str("url", l.URL).Msg("Live exchange rates unavailable")

	if cached, err := l.cached(); err == nil {
		l.log.Info().Time("fetched_at", cached.FetchedAt()).Msg("Using cached exchange rates")
		return cached
	} else if l.CacheSvc != nil {
		l.log.Debug().Err(err).Msg("No cached exchange rates")
	}

	l.log.Warn().Msg("Using static fallback exchange rates")
	return normalize.NewFallbackTable(l.Settlement)
}

func (l *Loader) fetch(ctx context.Context) (*normalize.ExchangeRateTable, error) {
	var body apiResponse
	resp, err := l.Client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		ForceContentType("application/json").
		SetResult(&body).
		Get(l.URL)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &helpers.StatusError{URL: l.URL, StatusCode: resp.StatusCode()}
	}
	if body.Result != "" && body.Result != "success" {
		return nil, fmt.Errorf("rates API answered %q", body.Result)
	}
	if body.BaseCode != "" && body.BaseCode != l.Settlement {
		return nil, fmt.Errorf("rates quoted against %s, want %s", body.BaseCode, l.Settlement)
	}

	rates := Invert(body.Rates)
	if len(rates) == 0 {
		return nil, fmt.Errorf("rates API returned no usable rates")
	}
	return normalize.NewExchangeRateTable(l.Settlement, rates, normalize.RateSourceLive, l.Now().UTC()), nil
}

// Invert turns amounts per settlement unit into rates to the settlement
// currency, rounded to four decimals. Non-positive quotes are skipped.
func Invert(quoted map[string]decimal.Decimal) map[string]decimal.Decimal {
	one := decimal.NewFromInt(1)
	rates := make(map[string]decimal.Decimal, len(quoted))
	for code, q := range quoted {
		if !q.IsPositive() {
			continue
		}
		rates[code] = one.DivRound(q, rateScale)
	}
	return rates
}

func (l *Loader) store(table *normalize.ExchangeRateTable) {
	if l.CacheSvc == nil {
		return
	}

	entry := cachedTable{FetchedAt: table.FetchedAt(), Rates: make(map[string]string)}
	for _, code := range table.Currencies() {
		rate, _ := table.Rate(code)
		entry.Rates[code] = rate.String()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := l.CacheSvc.Set(cacheKey, data, cacheTTL); err != nil {
		l.log.Warn().Err(errors.NewCache("rates", "failed to cache exchange rates", err)).Msg("Cache write failed")
	}
}

func (l *Loader) cached() (*normalize.ExchangeRateTable, error) {
	if l.CacheSvc == nil {
		return nil, fmt.Errorf("cache disabled")
	}

	data, err := l.CacheSvc.Get(cacheKey)
	if err != nil {
		return nil, errors.NewCache("rates", "failed to read cached exchange rates", err)
	}

	var entry cachedTable
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.NewCache("rates", "corrupt cached exchange rates", err)
	}

	rates := make(map[string]decimal.Decimal, len(entry.Rates))
	for code, s := range entry.Rates {
		rate, err := decimal.NewFromString(s)
		if err != nil {
			return nil, errors.NewCache("rates", "corrupt cached rate for "+code, err)
		}
		rates[code] = rate
	}
	return normalize.NewExchangeRateTable(l.Settlement, rates, normalize.RateSourceCache, entry.FetchedAt), nil
}
