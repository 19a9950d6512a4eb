package crawler

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"

	"globalpass/esimworker/helpers"
	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
	"globalpass/esimworker/services/cache"
)

// HTTPPageSource fetches pages over HTTP with rate limiting
type HTTPPageSource struct {
	Client   *resty.Client
	CacheSvc cache.CacheService
}

// NewHTTPPageSource creates a page source whose requests time out after timeout.
// cacheSvc may be nil, which disables the rate-limit block.
func NewHTTPPageSource(timeout time.Duration, cacheSvc cache.CacheService) *HTTPPageSource {
	return &HTTPPageSource{
		Client:   helpers.NewClient(timeout),
		CacheSvc: cacheSvc,
	}
}

// Fetch fetches the page of src for country. While a source is marked as
// rate limited in the cache, fetches fail without touching the network.
func (p *HTTPPageSource) Fetch(ctx context.Context, src Source, country model.Country) (Page, error) {
	url := src.URL(country)
	log := logger.ForSource(src.ID).WithField("country", country.Name)

	// Check if the source is rate limited
	if p.CacheSvc != nil {
		if _, err := p.CacheSvc.Get(src.CacheKey()); err == nil {
			return Page{}, errors.NewRateLimit(src.Provider, src.BlockTime).WithCountry(country.Name)
		}
	}

	reader, err := helpers.FetchWithRandomHeaders(ctx, p.Client, url)
	if err != nil {
		var statusErr *helpers.StatusError
		if stderrors.As(err, &statusErr) && statusErr.RateLimited() {
			p.block(src, log)
			return Page{}, errors.NewRateLimit(src.Provider, src.BlockTime).WithCountry(country.Name)
		}
		return Page{}, errors.NewFetch(src.Provider, fmt.Sprintf("failed to fetch %s", url), err).WithCountry(country.Name)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return Page{}, errors.NewFetch(src.Provider, fmt.Sprintf("failed to read %s", url), err).WithCountry(country.Name)
	}

	log.Debug().Str("url", url).Int("bytes", len(body)).Msg("Fetched page")
	return Page{URL: url, Body: body}, nil
}

func (p *HTTPPageSource) block(src Source, log *logger.Logger) {
	if p.CacheSvc == nil || src.BlockTime <= 0 {
		return
	}

	value := []byte(fmt.Sprintf("%d", int(src.BlockTime.Seconds())))
	if err := p.CacheSvc.Set(src.CacheKey(), value, src.BlockTime); err != nil {
		log.Warn().Err(err).Msg("Failed to set rate limit marker")
		return
	}
	log.Warn().Dur("block", src.BlockTime).Msg("Source rate limited, blocking further requests")
}
