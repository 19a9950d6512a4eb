package crawler

import (
	"fmt"
	"regexp"
	"sort"
)

// ExtractorFactory builds an extractor from fully resolved selectors
type ExtractorFactory func(sel Selectors) (Extractor, error)

type strategyEntry struct {
	factory  ExtractorFactory
	defaults Selectors
}

var registry = map[string]strategyEntry{
	StrategySingleToken: {
		defaults: Selectors{Offer: "li", StripPrefix: "Plan Details"},
		factory: func(sel Selectors) (Extractor, error) {
			return &SingleTokenExtractor{ConfigurableExtractor{Selectors: sel}}, nil
		},
	},
	StrategySiblingSplit: {
		defaults: Selectors{Offer: "a"},
		factory: func(sel Selectors) (Extractor, error) {
			return &SiblingSplitExtractor{ConfigurableExtractor{Selectors: sel}}, nil
		},
	},
	StrategyLinkText: {
		defaults: Selectors{
			Title:      "script",
			Price:      "a",
			TitleRegex: `"(\d+(?:\.\d+)?\s?GB) - (\d+ Days?)"`,
		},
		factory: func(sel Selectors) (Extractor, error) {
			re, err := regexp.Compile(sel.TitleRegex)
			if err != nil {
				return nil, fmt.Errorf("invalid title regex: %w", err)
			}
			if re.NumSubexp() < 2 {
				return nil, fmt.Errorf("title regex needs amount and validity groups: %s", sel.TitleRegex)
			}
			return &LinkTextExtractor{ConfigurableExtractor: ConfigurableExtractor{Selectors: sel}, titleRegex: re}, nil
		},
	},
	StrategyAttributeHint: {
		defaults: Selectors{Offer: "a[hint]", Attribute: "hint"},
		factory: func(sel Selectors) (Extractor, error) {
			return &AttributeHintExtractor{ConfigurableExtractor{Selectors: sel}}, nil
		},
	},
	StrategyJSONAPI: {
		defaults: Selectors{Currency: "USD"},
		factory: func(sel Selectors) (Extractor, error) {
			return &JSONAPIExtractor{Selectors: sel}, nil
		},
	},
}

// NewExtractor creates the named extractor. Non-empty override fields
// replace the strategy defaults.
func NewExtractor(strategy string, overrides Selectors) (Extractor, error) {
	entry, ok := registry[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown extraction strategy %q", strategy)
	}
	return entry.factory(mergeSelectors(entry.defaults, overrides))
}

// DefaultSelectors returns the default selectors of a strategy
func DefaultSelectors(strategy string) (Selectors, bool) {
	entry, ok := registry[strategy]
	return entry.defaults, ok
}

// Strategies returns the registered strategy names, sorted
func Strategies() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mergeSelectors(base, overrides Selectors) Selectors {
	pick := func(def, override string) string {
		if override != "" {
			return override
		}
		return def
	}

	return Selectors{
		Offer:       pick(base.Offer, overrides.Offer),
		Title:       pick(base.Title, overrides.Title),
		Price:       pick(base.Price, overrides.Price),
		Attribute:   pick(base.Attribute, overrides.Attribute),
		TitleRegex:  pick(base.TitleRegex, overrides.TitleRegex),
		StripPrefix: pick(base.StripPrefix, overrides.StripPrefix),
		Currency:    pick(base.Currency, overrides.Currency),
	}
}
