package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// 1,234.56
	groupedAmountRegex = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	// 4,50
	decimalCommaRegex = regexp.MustCompile(`^\d+,\d{1,2}$`)
	plainAmountRegex  = regexp.MustCompile(`^\d+(\.\d+)?$`)

	currencyCodeRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

var currencySymbols = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"US$": "USD",
	"S$":  "SGD",
	"£":   "GBP",
	"¥":   "JPY",
}

// ParseAmount parses a price token into a non-negative decimal
func ParseAmount(token string) (decimal.Decimal, error) {
	token = strings.TrimSpace(token)

	var clean string
	switch {
	case plainAmountRegex.MatchString(token):
		clean = token
	case groupedAmountRegex.MatchString(token):
		clean = strings.ReplaceAll(token, ",", "")
	case decimalCommaRegex.MatchString(token):
		clean = strings.Replace(token, ",", ".", 1)
	default:
		return decimal.Zero, fmt.Errorf("unrecognized price %q", token)
	}

	amount, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", token, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("price must not be negative, got %s", token)
	}
	return amount, nil
}

// CurrencyCode maps a currency token (ISO code or symbol) to an ISO code
func CurrencyCode(token string) (string, error) {
	token = strings.TrimSpace(token)
	if code, ok := currencySymbols[token]; ok {
		return code, nil
	}

	code := strings.ToUpper(token)
	if !currencyCodeRegex.MatchString(code) {
		return "", fmt.Errorf("unrecognized currency %q", token)
	}
	return code, nil
}
