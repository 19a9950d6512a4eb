package crawler

import (
	"regexp"
	"strings"
)

const amountPattern = `(?P<amount>\d+(?:,\d{3})*(?:[.,]\d+)?)`

// PriceMatch is a price found in a piece of text
type PriceMatch struct {
	Rule     string
	Amount   string
	Currency string
	Start    int
	End      int
}

type priceRule struct {
	name     string
	pattern  *regexp.Regexp
	currency string // fixed currency, empty when the rule captures a code
}

func newPriceRule(name, pattern, currency string) priceRule {
	return priceRule{
		name:     name,
		pattern:  regexp.MustCompile(strings.ReplaceAll(pattern, "AMT", amountPattern)),
		currency: currency,
	}
}

// The price that starts first in the text wins, so "S$5" is never read as
// USD. On a tie the earlier rule decides.
var priceRules = []priceRule{
	newPriceRule("US$X", `US\$\s*AMT`, "USD"),
	newPriceRule("S$X", `S\$\s*AMT`, "SGD"),
	newPriceRule("$X USD", `\$\s*AMT\s*USD\b`, "USD"),
	newPriceRule("$X", `\$\s*AMT`, "USD"),
	newPriceRule("€X", `€\s*AMT`, "EUR"),
	newPriceRule("X €", `AMT\s*€`, "EUR"),
	newPriceRule("£X", `£\s*AMT`, "GBP"),
	newPriceRule("X CODE", `AMT\s*(?P<code>USD|EUR|SGD|GBP)\b`, ""),
	newPriceRule("CODE X", `\b(?P<code>USD|EUR|SGD|GBP)\s*AMT`, ""),
}

func (r priceRule) find(text string) (PriceMatch, bool) {
	loc := r.pattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return PriceMatch{}, false
	}

	match := PriceMatch{Rule: r.name, Currency: r.currency, Start: loc[0], End: loc[1]}
	for i, name := range r.pattern.SubexpNames() {
		if loc[2*i] < 0 {
			continue
		}
		switch name {
		case "amount":
			match.Amount = text[loc[2*i]:loc[2*i+1]]
		case "code":
			match.Currency = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return match, match.Amount != "" && match.Currency != ""
}

// ParsePrice finds the leftmost price in text using the per-symbol rules
func ParsePrice(text string) (PriceMatch, bool) {
	var best PriceMatch
	found := false
	for _, rule := range priceRules {
		match, ok := rule.find(text)
		if ok && (!found || match.Start < best.Start) {
			best, found = match, true
		}
	}
	return best, found
}

// ParsePriceExact parses text that must consist of a price and nothing else
func ParsePriceExact(text string) (PriceMatch, bool) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	match, ok := ParsePrice(text)
	if !ok || match.Start != 0 || match.End != len(text) {
		return PriceMatch{}, false
	}
	return match, true
}
