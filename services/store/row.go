package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/internal/normalize"
)

// Row is the persisted shape of a plan, shared by every backend
type Row struct {
	Provider     string `json:"provider"`
	Country      string `json:"country"`
	PlanLabel    string `json:"plan_label"`
	PlanName     string `json:"plan_name"`
	DataAmount   string `json:"data_amount"`
	DataType     string `json:"data_type"`
	Validity     string `json:"validity"`
	ValidityDays int    `json:"validity_days"`
	// Price decodes from a JSON string or number
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Network     string          `json:"network"`
	SourceURL   string          `json:"source_url"`
	RawData     string          `json:"raw_data"`
	LastChecked string          `json:"last_checked"`
}

// RowFromPlan converts a plan to its persisted row
func RowFromPlan(p model.Plan) Row {
	return Row{
		Provider:     p.Key.Provider,
		Country:      p.Key.Country,
		PlanLabel:    p.Key.Label,
		PlanName:     p.PlanName(),
		DataAmount:   p.Allowance.String(),
		DataType:     p.Allowance.Type(),
		Validity:     p.Validity(),
		ValidityDays: p.ValidityDays,
		Price:        p.SettlementPrice,
		Currency:     p.Currency,
		Network:      p.Network,
		SourceURL:    p.SourceURL,
		RawData:      p.RawMetadata,
		LastChecked:  p.LastChecked.UTC().Format(time.RFC3339),
	}
}

// Plan converts the row back to a plan
func (r Row) Plan() (model.Plan, error) {
	allowance, err := normalize.ParseAllowance(r.DataAmount)
	if err != nil {
		return model.Plan{}, fmt.Errorf("row %s/%s/%s: %w", r.Provider, r.Country, r.PlanLabel, err)
	}

	if r.Price.IsNegative() {
		return model.Plan{}, fmt.Errorf("row %s/%s/%s: negative price %s", r.Provider, r.Country, r.PlanLabel, r.Price)
	}

	checked, err := parseChecked(r.LastChecked)
	if err != nil {
		return model.Plan{}, fmt.Errorf("row %s/%s/%s: invalid last_checked %q: %w", r.Provider, r.Country, r.PlanLabel, r.LastChecked, err)
	}

	return model.Plan{
		Key: model.NaturalKey{
			Provider: r.Provider,
			Country:  r.Country,
			Label:    r.PlanLabel,
		},
		Allowance:       allowance,
		ValidityDays:    r.ValidityDays,
		SettlementPrice: r.Price,
		Currency:        r.Currency,
		Network:         r.Network,
		SourceURL:       r.SourceURL,
		RawMetadata:     r.RawData,
		LastChecked:     checked.UTC(),
	}, nil
}

// checkedLayouts are the timestamp forms backends hand back. Postgres
// timestamp columns without a zone hold UTC.
var checkedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseChecked(value string) (time.Time, error) {
	var firstErr error
	for _, layout := range checkedLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// priceText renders a price with two decimals unless that would drop digits
func priceText(d decimal.Decimal) string {
	if d.Equal(d.Round(normalize.PriceScale)) {
		return d.StringFixed(normalize.PriceScale)
	}
	return d.String()
}

// columns in table order
var columns = []string{
	"provider", "country", "plan_label", "plan_name", "data_amount", "data_type",
	"validity", "validity_days", "price", "currency", "network", "source_url",
	"raw_data", "last_checked",
}

var keyColumns = []string{"provider", "country", "plan_label"}

func (r Row) values() []any {
	return []any{
		r.Provider, r.Country, r.PlanLabel, r.PlanName, r.DataAmount, r.DataType,
		r.Validity, r.ValidityDays, priceText(r.Price), r.Currency, r.Network, r.SourceURL,
		r.RawData, r.LastChecked,
	}
}

func (r *Row) pointers() []any {
	return []any{
		&r.Provider, &r.Country, &r.PlanLabel, &r.PlanName, &r.DataAmount, &r.DataType,
		&r.Validity, &r.ValidityDays, &r.Price, &r.Currency, &r.Network, &r.SourceURL,
		&r.RawData, &r.LastChecked,
	}
}
