package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"globalpass/esimworker/helpers"
	"globalpass/esimworker/internal/assemble"
	"globalpass/esimworker/internal/model"
)

// Strategy names
const (
	StrategySingleToken   = "single-token"
	StrategySiblingSplit  = "sibling-split"
	StrategyLinkText      = "link-text"
	StrategyAttributeHint = "attribute-hint"
	StrategyJSONAPI       = "json-api"
)

// SingleTokenExtractor reads offers whose amount, validity and price share
// one element, e.g. "1 GB For 7 DAYS USD 4"
type SingleTokenExtractor struct {
	ConfigurableExtractor
}

func (e *SingleTokenExtractor) Strategy() string { return StrategySingleToken }

func (e *SingleTokenExtractor) Extract(sourceID string, content []byte) (Extraction, error) {
	doc, err := e.createDocument(content)
	if err != nil {
		return Extraction{}, err
	}

	var out Extraction
	doc.Find(e.Selectors.Offer).Each(func(_ int, s *goquery.Selection) {
		fragment, candidate, ok := fragmentFromText(sourceID, e.offerText(s))
		switch {
		case ok:
			out.Fragments = append(out.Fragments, fragment)
		case candidate:
			out.Rejected++
		}
	})
	return out, nil
}

// SiblingSplitExtractor reads pages where a validity header element is
// followed by sibling price elements carrying the amount, e.g. "7 days"
// then "1GB4.00 €" and "3GB9.00 €"
type SiblingSplitExtractor struct {
	ConfigurableExtractor
}

func (e *SiblingSplitExtractor) Strategy() string { return StrategySiblingSplit }

func (e *SiblingSplitExtractor) Extract(sourceID string, content []byte) (Extraction, error) {
	doc, err := e.createDocument(content)
	if err != nil {
		return Extraction{}, err
	}

	var out Extraction
	var validity string
	doc.Find(e.Selectors.Offer).Each(func(_ int, s *goquery.Selection) {
		text := e.offerText(s)
		if validityHeaderRegex.MatchString(text) {
			validity = text
			return
		}

		amount, rest, ok := splitAmountPrefix(text)
		if !ok || rest == "" {
			return
		}

		price, found := ParsePriceExact(rest)
		if !found || validity == "" {
			out.Rejected++
			return
		}

		out.Fragments = append(out.Fragments, model.PageFragment{
			SourceID:      sourceID,
			RawText:       validity + " | " + text,
			AmountToken:   amount,
			ValidityToken: validity,
			PriceToken:    price.Amount,
			CurrencyToken: price.Currency,
		})
	})
	return out, nil
}

// LinkTextExtractor reads pages that list plan titles in embedded scripts
// and prices in link text, joining both by data amount
type LinkTextExtractor struct {
	ConfigurableExtractor
	titleRegex *regexp.Regexp
}

func (e *LinkTextExtractor) Strategy() string { return StrategyLinkText }

func (e *LinkTextExtractor) Extract(sourceID string, content []byte) (Extraction, error) {
	doc, err := e.createDocument(content)
	if err != nil {
		return Extraction{}, err
	}

	var out Extraction
	var titles []assemble.Title
	seen := make(map[string]bool)

	doc.Find(e.Selectors.Title).Each(func(_ int, s *goquery.Selection) {
		for _, m := range e.titleRegex.FindAllStringSubmatch(s.Text(), -1) {
			amount, validity := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			raw := amount + " - " + validity
			if seen[raw] {
				continue
			}
			seen[raw] = true
			titles = append(titles, assemble.Title{RawText: raw, AmountToken: amount, ValidityToken: validity})
		}
	})

	var prices []assemble.PriceEntry
	doc.Find(e.Selectors.Price).Each(func(_ int, s *goquery.Selection) {
		text := e.offerText(s)
		amount, rest, ok := splitAmountPrefix(text)
		if !ok || rest == "" {
			return
		}

		price, found := ParsePriceExact(rest)
		if !found {
			out.Rejected++
			return
		}
		prices = append(prices, assemble.PriceEntry{
			RawText:       text,
			AmountToken:   amount,
			PriceToken:    price.Amount,
			CurrencyToken: price.Currency,
		})
	})

	fragments, unmatched := assemble.JoinByAmount(sourceID, titles, prices)
	out.Fragments = fragments
	out.Rejected += len(unmatched)
	return out, nil
}

// AttributeHintExtractor reads offers described by an attribute, e.g.
// hint="Select 1 GB - 3 Days for $4.00 USD."
type AttributeHintExtractor struct {
	ConfigurableExtractor
}

func (e *AttributeHintExtractor) Strategy() string { return StrategyAttributeHint }

func (e *AttributeHintExtractor) Extract(sourceID string, content []byte) (Extraction, error) {
	doc, err := e.createDocument(content)
	if err != nil {
		return Extraction{}, err
	}

	var out Extraction
	doc.Find(e.Selectors.Offer).Each(func(_ int, s *goquery.Selection) {
		hint, exists := s.Attr(e.Selectors.Attribute)
		if !exists {
			return
		}

		fragment, candidate, ok := fragmentFromText(sourceID, helpers.CollapseSpaces(hint))
		switch {
		case ok:
			out.Fragments = append(out.Fragments, fragment)
		case candidate:
			out.Rejected++
		}
	})
	return out, nil
}

// JSONAPIExtractor reads a native plan API, e.g.
// {"data":[{"data":"3","validity":7,"price":"4.00","operator":"Docomo"}]}.
// The API contract states the currency, so it comes from the selectors.
type JSONAPIExtractor struct {
	Selectors Selectors
}

type apiPlan struct {
	Data     any    `json:"data"`
	Validity any    `json:"validity"`
	Price    any    `json:"price"`
	Operator string `json:"operator"`
}

type apiResponse struct {
	Data []apiPlan `json:"data"`
}

var numericRegex = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

func (e *JSONAPIExtractor) Strategy() string { return StrategyJSONAPI }

func (e *JSONAPIExtractor) Extract(sourceID string, content []byte) (Extraction, error) {
	decoder := json.NewDecoder(bytes.NewReader(content))
	decoder.UseNumber()

	var resp apiResponse
	if err := decoder.Decode(&resp); err != nil {
		return Extraction{}, fmt.Errorf("JSON parse error: %w", err)
	}

	var out Extraction
	for _, p := range resp.Data {
		amount := apiToken(p.Data)
		if numericRegex.MatchString(amount) {
			amount += " GB"
		}

		validity := apiToken(p.Validity)
		if numericRegex.MatchString(validity) {
			validity += " days"
		}

		price := apiToken(p.Price)
		if amount == "" || validity == "" || price == "" {
			out.Rejected++
			continue
		}

		out.Fragments = append(out.Fragments, model.PageFragment{
			SourceID:      sourceID,
			RawText:       fmt.Sprintf("%s %s %s %s", amount, validity, price, e.Selectors.Currency),
			AmountToken:   amount,
			ValidityToken: validity,
			PriceToken:    price,
			CurrencyToken: e.Selectors.Currency,
			NetworkToken:  strings.TrimSpace(p.Operator),
		})
	}
	return out, nil
}

func apiToken(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
