package normalize

import (
	"fmt"
	"strings"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/pkg/errors"
)

// Normalizer turns page fragments of one provider into offers priced in
// the settlement currency of its rate table.
type Normalizer struct {
	Provider string
	Rates    *ExchangeRateTable
}

// New creates a normalizer for provider
func New(provider string, rates *ExchangeRateTable) *Normalizer {
	return &Normalizer{Provider: provider, Rates: rates}
}

// Normalize converts one fragment. A fragment that cannot be parsed or
// priced is returned as a parse rejection.
func (n *Normalizer) Normalize(country string, f model.PageFragment) (model.Offer, error) {
	allowance, err := ParseAllowance(f.AmountToken)
	if err != nil {
		return model.Offer{}, n.reject(country, f, err)
	}

	days, err := ParseValidity(f.ValidityToken)
	if err != nil {
		return model.Offer{}, n.reject(country, f, err)
	}

	amount, err := ParseAmount(f.PriceToken)
	if err != nil {
		return model.Offer{}, n.reject(country, f, err)
	}

	currency, err := CurrencyCode(f.CurrencyToken)
	if err != nil {
		return model.Offer{}, n.reject(country, f, err)
	}

	settlement, err := n.Rates.Convert(amount, currency)
	if err != nil {
		return model.Offer{}, n.reject(country, f, err)
	}

	network := strings.TrimSpace(f.NetworkToken)
	if network == "" {
		network = model.DefaultNetwork
	}

	return model.Offer{
		SourceID:        f.SourceID,
		Provider:        n.Provider,
		Country:         country,
		Allowance:       allowance,
		ValidityDays:    days,
		Price:           model.Money{Amount: amount, Currency: currency},
		SettlementPrice: settlement,
		Network:         network,
	}, nil
}

// NormalizeAll normalizes fragments in order, stamping each offer with
// sourceURL. Rejections are returned alongside the accepted offers.
func (n *Normalizer) NormalizeAll(country, sourceURL string, fragments []model.PageFragment) ([]model.Offer, []error) {
	offers := make([]model.Offer, 0, len(fragments))
	var rejected []error

	for _, f := range fragments {
		offer, err := n.Normalize(country, f)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		offer.SourceURL = sourceURL
		offers = append(offers, offer)
	}
	return offers, rejected
}

func (n *Normalizer) reject(country string, f model.PageFragment, err error) error {
	msg := fmt.Sprintf("rejected fragment %q: %v", f.RawText, err)
	return errors.NewParse(n.Provider, msg).WithCountry(country)
}
