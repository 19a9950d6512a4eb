package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementCurrency is the currency every canonical plan is priced in
const SettlementCurrency = "USD"

// DefaultNetwork is used when a source does not name the operator
const DefaultNetwork = "Local Operators"

// PageFragment is one candidate offer pulled out of a page.
// Extractors only emit fragments whose tokens are all set.
type PageFragment struct {
	SourceID      string `json:"source_id"`
	RawText       string `json:"raw_text"`
	AmountToken   string `json:"amount"`
	ValidityToken string `json:"validity"`
	PriceToken    string `json:"price"`
	CurrencyToken string `json:"currency"`
	NetworkToken  string `json:"network,omitempty"`
}

// DataAllowance is either a fixed number of gigabytes or unlimited
type DataAllowance struct {
	Unlimited bool
	GB        decimal.Decimal
}

// Unlimited returns the unlimited allowance
func Unlimited() DataAllowance {
	return DataAllowance{Unlimited: true}
}

// FixedGB returns a fixed allowance of gb gigabytes
func FixedGB(gb decimal.Decimal) DataAllowance {
	return DataAllowance{GB: gb}
}

// String renders the allowance the way plan labels use it, e.g. "3GB"
func (a DataAllowance) String() string {
	if a.Unlimited {
		return "Unlimited"
	}
	return a.GB.String() + "GB"
}

// Type returns the data type column value
func (a DataAllowance) Type() string {
	if a.Unlimited {
		return "Unlimited"
	}
	return "Data"
}

// Equal compares two allowances by value
func (a DataAllowance) Equal(b DataAllowance) bool {
	if a.Unlimited || b.Unlimited {
		return a.Unlimited == b.Unlimited
	}
	return a.GB.Equal(b.GB)
}

// Money is an amount in a given currency
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}

// Offer is a normalized offer, ready to be assembled into a plan
type Offer struct {
	SourceID        string
	Provider        string
	Country         string
	Allowance       DataAllowance
	ValidityDays    int
	Price           Money
	SettlementPrice decimal.Decimal
	Network         string
	SourceURL       string
}

// ValidityLabel renders days as "1 Day" or "n Days"
func ValidityLabel(days int) string {
	if days == 1 {
		return "1 Day"
	}
	return fmt.Sprintf("%d Days", days)
}

// PlanLabel derives the label part of the natural key
func PlanLabel(a DataAllowance, days int) string {
	return a.String() + " " + ValidityLabel(days)
}

// NaturalKey identifies a plan across runs
type NaturalKey struct {
	Provider string `json:"provider"`
	Country  string `json:"country"`
	Label    string `json:"plan_label"`
}

func (k NaturalKey) String() string {
	return strings.Join([]string{k.Provider, k.Country, k.Label}, "|")
}

// Plan is the canonical, persisted representation of an offer
type Plan struct {
	Key             NaturalKey
	Allowance       DataAllowance
	ValidityDays    int
	SettlementPrice decimal.Decimal
	Currency        string
	Network         string
	SourceURL       string
	RawMetadata     string
	LastChecked     time.Time
}

// Equal reports whether two plans are value-for-value identical
func (p Plan) Equal(o Plan) bool {
	return p.Key == o.Key &&
		p.Allowance.Equal(o.Allowance) &&
		p.ValidityDays == o.ValidityDays &&
		p.SettlementPrice.Equal(o.SettlementPrice) &&
		p.Currency == o.Currency &&
		p.Network == o.Network &&
		p.SourceURL == o.SourceURL &&
		p.RawMetadata == o.RawMetadata &&
		p.LastChecked.Equal(o.LastChecked)
}

// Validity returns the validity label of the plan
func (p Plan) Validity() string {
	return ValidityLabel(p.ValidityDays)
}

// PlanName is the display name stored alongside the key, e.g. "Japan 3GB 7 Days"
func (p Plan) PlanName() string {
	return p.Key.Country + " " + p.Key.Label
}

// Country is one scrape target with its per-source URL slugs
type Country struct {
	Name  string            `json:"name"`
	Slugs map[string]string `json:"slugs"`
}

// Slug returns the slug the given source uses for this country
func (c Country) Slug(sourceID string) string {
	if s, ok := c.Slugs[sourceID]; ok && s != "" {
		return s
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c.Name)), " ", "-")
}
