package crawler

import (
	"context"
	"time"

	"globalpass/esimworker/helpers"
	"globalpass/esimworker/internal/model"
)

// Extraction is the result of one extraction pass over a page
type Extraction struct {
	Fragments []model.PageFragment
	// Rejected counts candidates dropped because a field could not be matched
	Rejected int
}

// Extractor pulls candidate plan fragments out of raw page content
type Extractor interface {
	// Strategy returns the registry name of the extractor
	Strategy() string

	// Extract returns the fragments found in content, in document order.
	// An error means the document itself could not be parsed.
	Extract(sourceID string, content []byte) (Extraction, error)
}

// Selectors contains CSS selectors and patterns for an extraction strategy.
// Empty fields fall back to the strategy defaults.
type Selectors struct {
	Offer       string // Elements holding one complete offer
	Title       string // Elements holding plan titles (link-text)
	Price       string // Elements holding price links (link-text)
	Attribute   string // Attribute carrying the offer hint (attribute-hint)
	TitleRegex  string // Title pattern with amount and validity groups (link-text)
	StripPrefix string // Leading label removed from offer text
	Currency    string // Currency stated by the API contract (json-api)
}

// Source is one retailer page or API the worker collects from
type Source struct {
	ID          string
	Provider    string
	URLTemplate string
	Extractor   Extractor
	BlockTime   time.Duration
}

// URL returns the page URL for country
func (s Source) URL(country model.Country) string {
	return helpers.ExpandURL(s.URLTemplate, country.Slug(s.ID))
}

// CacheKey is the rate-limit marker key of the source
func (s Source) CacheKey() string {
	return s.ID + "_rate_limited"
}

// Page is raw content fetched for one (source, country) pair
type Page struct {
	URL  string
	Body []byte
}

// PageSource retrieves raw pages
type PageSource interface {
	Fetch(ctx context.Context, src Source, country model.Country) (Page, error)
}
