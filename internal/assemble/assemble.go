package assemble

import (
	"encoding/json"
	"time"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/logger"
)

// Result is the output of one assembly pass
type Result struct {
	Plans      []model.Plan
	Collisions int
	Duplicates int
}

// Assembler builds canonical plans from normalized offers
type Assembler struct {
	Now    func() time.Time
	Logger *logger.Logger
}

// New creates an assembler using the wall clock
func New(log *logger.Logger) *Assembler {
	if log == nil {
		log = logger.Nop()
	}
	return &Assembler{Now: time.Now, Logger: log}
}

type rawMetadata struct {
	SourceID         string `json:"source_id"`
	OriginalPrice    string `json:"original_price"`
	OriginalCurrency string `json:"original_currency"`
	USDPrice         string `json:"usd_price"`
	Currency         string `json:"currency"`
	Data             string `json:"data"`
	Validity         string `json:"validity"`
}

// Assemble deduplicates offers by natural key, keeping the first one seen.
// Every plan of one pass shares the same last_checked timestamp.
func (a *Assembler) Assemble(offers []model.Offer) Result {
	checked := a.Now().UTC().Truncate(time.Second)

	plans := make([]model.Plan, 0, len(offers))
	for _, offer := range offers {
		plans = append(plans, a.build(offer, checked))
	}

	var result Result
	result.Plans, result.Collisions, result.Duplicates = NewDeduper(a.Logger).Keep(plans)
	return result
}

func (a *Assembler) build(offer model.Offer, checked time.Time) model.Plan {
	// a struct of strings always encodes
	meta, _ := json.Marshal(rawMetadata{
		SourceID:         offer.SourceID,
		OriginalPrice:    offer.Price.Amount.StringFixed(2),
		OriginalCurrency: offer.Price.Currency,
		USDPrice:         offer.SettlementPrice.StringFixed(2),
		Currency:         model.SettlementCurrency,
		Data:             offer.Allowance.String(),
		Validity:         model.ValidityLabel(offer.ValidityDays),
	})

	return model.Plan{
		Key: model.NaturalKey{
			Provider: offer.Provider,
			Country:  offer.Country,
			Label:    model.PlanLabel(offer.Allowance, offer.ValidityDays),
		},
		Allowance:       offer.Allowance,
		ValidityDays:    offer.ValidityDays,
		SettlementPrice: offer.SettlementPrice,
		Currency:        model.SettlementCurrency,
		Network:         offer.Network,
		SourceURL:       offer.SourceURL,
		RawMetadata:     string(meta),
		LastChecked:     checked,
	}
}
