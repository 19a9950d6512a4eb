package crawler

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"globalpass/esimworker/helpers"
	"globalpass/esimworker/internal/model"
)

var (
	amountTokenRegex   = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s*(?:GB|MB)|unlimited`)
	validityTokenRegex = regexp.MustCompile(`(?i)\d+\s*days?`)

	// "7 days" header links
	validityHeaderRegex = regexp.MustCompile(`(?i)^\d+\s*days?$`)
	// "1GB4.00 €", "Unlimited7.50 €"
	amountPrefixRegex = regexp.MustCompile(`(?i)^(\d+(?:[.,]\d+)?\s*(?:GB|MB)|unlimited)\s*(.*)$`)
)

// ConfigurableExtractor holds the selectors shared by the HTML strategies
type ConfigurableExtractor struct {
	Selectors Selectors
}

// createDocument creates a goquery document from raw content
func (c *ConfigurableExtractor) createDocument(content []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("HTML parse error: %w", err)
	}
	return doc, nil
}

// offerText returns the normalized text of one offer element
func (c *ConfigurableExtractor) offerText(s *goquery.Selection) string {
	text := helpers.CollapseSpaces(s.Text())
	if c.Selectors.StripPrefix != "" {
		text = strings.TrimSpace(strings.TrimPrefix(text, c.Selectors.StripPrefix))
	}
	return text
}

// fragmentFromText matches amount, validity and price in one piece of text.
// candidate is false when the text does not look like an offer at all.
func fragmentFromText(sourceID, text string) (fragment model.PageFragment, candidate, ok bool) {
	amount := amountTokenRegex.FindString(text)
	if amount == "" {
		return model.PageFragment{}, false, false
	}

	validity := validityTokenRegex.FindString(text)
	price, found := ParsePrice(text)
	if validity == "" || !found {
		return model.PageFragment{}, true, false
	}

	return model.PageFragment{
		SourceID:      sourceID,
		RawText:       text,
		AmountToken:   amount,
		ValidityToken: validity,
		PriceToken:    price.Amount,
		CurrencyToken: price.Currency,
	}, true, true
}

// splitAmountPrefix splits link text such as "1GB4.00 €" into its amount
// and the remainder
func splitAmountPrefix(text string) (amount, rest string, ok bool) {
	m := amountPrefixRegex.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}
