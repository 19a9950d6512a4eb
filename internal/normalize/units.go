package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"globalpass/esimworker/internal/model"
)

// GBPrecision is the number of decimals kept when converting MB to GB
const GBPrecision = 4

var (
	allowanceRegex = regexp.MustCompile(`(?i)^(\d+(?:[.,]\d+)?)\s*(GB|MB)$`)
	unlimitedRegex = regexp.MustCompile(`(?i)^unlimited(?:\s*data)?$`)
	validityRegex  = regexp.MustCompile(`(?i)^(?:for\s+)?(\d+)\s*days?$`)

	mbPerGB = decimal.NewFromInt(1024)
)

// ParseAllowance parses "3 GB", "1.5GB", "500 MB" or "Unlimited"
func ParseAllowance(token string) (model.DataAllowance, error) {
	token = strings.TrimSpace(token)
	if unlimitedRegex.MatchString(token) {
		return model.Unlimited(), nil
	}

	m := allowanceRegex.FindStringSubmatch(token)
	if m == nil {
		return model.DataAllowance{}, fmt.Errorf("unrecognized data allowance %q", token)
	}

	value, err := decimal.NewFromString(strings.Replace(m[1], ",", ".", 1))
	if err != nil {
		return model.DataAllowance{}, fmt.Errorf("invalid data amount %q: %w", m[1], err)
	}

	if strings.EqualFold(m[2], "MB") {
		value = value.DivRound(mbPerGB, GBPrecision)
	}
	return model.FixedGB(value), nil
}

// ParseValidity parses "7 Days", "1 day" or "For 30 DAYS" into a day count
func ParseValidity(token string) (int, error) {
	token = strings.TrimSpace(token)
	m := validityRegex.FindStringSubmatch(token)
	if m == nil {
		return 0, fmt.Errorf("unrecognized validity %q", token)
	}

	days, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid validity %q: %w", token, err)
	}
	if days <= 0 {
		return 0, fmt.Errorf("validity must be positive, got %d", days)
	}
	return days, nil
}
