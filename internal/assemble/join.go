package assemble

import (
	"strings"

	"globalpass/esimworker/helpers"
	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/internal/normalize"
)

// Title is a plan title listed apart from its price, e.g. "3 GB - 7 Days"
type Title struct {
	RawText       string
	AmountToken   string
	ValidityToken string
}

// PriceEntry is a price listed apart from its title, e.g. "3GB7.50 €"
type PriceEntry struct {
	RawText       string
	AmountToken   string
	PriceToken    string
	CurrencyToken string
}

// JoinByAmount pairs titles with prices sharing the same data amount.
// Each title takes the first price in document order not already taken.
// Titles left without a price are returned as unmatched.
func JoinByAmount(sourceID string, titles []Title, prices []PriceEntry) ([]model.PageFragment, []Title) {
	used := make([]bool, len(prices))
	var fragments []model.PageFragment
	var unmatched []Title

	for _, title := range titles {
		key := amountKey(title.AmountToken)
		matched := false

		for i, price := range prices {
			if used[i] || amountKey(price.AmountToken) != key {
				continue
			}
			used[i] = true
			matched = true

			fragments = append(fragments, model.PageFragment{
				SourceID:      sourceID,
				RawText:       title.RawText + " | " + price.RawText,
				AmountToken:   title.AmountToken,
				ValidityToken: title.ValidityToken,
				PriceToken:    price.PriceToken,
				CurrencyToken: price.CurrencyToken,
			})
			break
		}

		if !matched {
			unmatched = append(unmatched, title)
		}
	}

	return fragments, unmatched
}

// amountKey normalizes "3 GB", "3GB" and "3072 MB" to the same key
func amountKey(token string) string {
	if allowance, err := normalize.ParseAllowance(token); err == nil {
		return allowance.String()
	}
	return strings.ToUpper(helpers.CollapseSpaces(token))
}
