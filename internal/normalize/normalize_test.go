package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/pkg/errors"
)

func eurTable() *ExchangeRateTable {
	return NewExchangeRateTable("USD", map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("1.1715"),
	}, RateSourceLive, time.Now())
}

func TestParseAllowance(t *testing.T) {
	tests := []struct {
		token     string
		want      string
		unlimited bool
	}{
		{"3 GB", "3", false},
		{"1GB", "1", false},
		{"1.5 gb", "1.5", false},
		{"500 MB", "0.4883", false},
		{"1024MB", "1", false},
		{"Unlimited", "", true},
		{"UNLIMITED", "", true},
		{"unlimited data", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseAllowance(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.unlimited, got.Unlimited)
			if !tt.unlimited {
				assert.True(t, got.GB.Equal(decimal.RequireFromString(tt.want)), "got %s", got.GB)
			}
		})
	}

	for _, bad := range []string{"", "3 TB", "GB", "lots"} {
		_, err := ParseAllowance(bad)
		assert.Error(t, err, bad)
	}
}

func TestUnlimitedIsNeverNumeric(t *testing.T) {
	a, err := ParseAllowance("Unlimited")
	require.NoError(t, err)
	assert.True(t, a.GB.IsZero())
	assert.Equal(t, "Unlimited", a.String())
	assert.False(t, a.Equal(model.FixedGB(decimal.Zero)))
}

func TestParseValidity(t *testing.T) {
	valid := map[string]int{
		"7 Days":     7,
		"1 day":      1,
		"30 DAYS":    30,
		"For 7 DAYS": 7,
		"15days":     15,
	}
	for token, want := range valid {
		got, err := ParseValidity(token)
		require.NoError(t, err, token)
		assert.Equal(t, want, got, token)
	}

	for _, bad := range []string{"", "0 days", "a week", "7"} {
		_, err := ParseValidity(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAmount(t *testing.T) {
	valid := map[string]string{
		"4":        "4",
		"7.50":     "7.5",
		"1,234.56": "1234.56",
		"4,50":     "4.5",
	}
	for token, want := range valid {
		got, err := ParseAmount(token)
		require.NoError(t, err, token)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s: got %s", token, got)
	}

	for _, bad := range []string{"-4.00", "", "abc", "4.5.6"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestCurrencyCode(t *testing.T) {
	for token, want := range map[string]string{"€": "EUR", "$": "USD", "S$": "SGD", "£": "GBP", "usd": "USD", "EUR": "EUR"} {
		got, err := CurrencyCode(token)
		require.NoError(t, err, token)
		assert.Equal(t, want, got)
	}

	_, err := CurrencyCode("euros")
	assert.Error(t, err)
}

func TestExchangeRateTable(t *testing.T) {
	table := NewExchangeRateTable("USD", map[string]decimal.Decimal{
		"USD": decimal.RequireFromString("0.99"),
		"EUR": decimal.RequireFromString("1.1715"),
	}, RateSourceLive, time.Now())

	usd, ok := table.Rate("USD")
	require.True(t, ok)
	assert.True(t, usd.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, []string{"EUR", "USD"}, table.Currencies())

	_, err := table.Convert(decimal.NewFromInt(1), "JPY")
	assert.Error(t, err)
}

func TestConvertRoundsHalfAwayFromZero(t *testing.T) {
	table := NewExchangeRateTable("USD", map[string]decimal.Decimal{
		"XXX": decimal.RequireFromString("0.5"),
	}, RateSourceLive, time.Now())

	// 0.25 * 0.5 = 0.125
	got, err := table.Convert(decimal.RequireFromString("0.25"), "XXX")
	require.NoError(t, err)
	assert.Equal(t, "0.13", got.StringFixed(2))
}

func TestSettlementCurrencyRoundTrip(t *testing.T) {
	table := eurTable()
	for _, s := range []string{"0", "4", "4.005", "12.345", "99.99", "1234.5678"} {
		amount := decimal.RequireFromString(s)
		got, err := table.Convert(amount, "USD")
		require.NoError(t, err)
		assert.True(t, got.Equal(amount), "%s became %s", s, got)
	}
}

func TestFallbackTable(t *testing.T) {
	table := NewFallbackTable("USD")
	assert.Equal(t, RateSourceFallback, table.Source())

	eur, ok := table.Rate("EUR")
	require.True(t, ok)
	assert.Equal(t, "1.1715", eur.String())

	sgd, ok := table.Rate("SGD")
	require.True(t, ok)
	assert.Equal(t, "0.7518", sgd.String())
}

func TestNormalizeEuroOffer(t *testing.T) {
	n := New("Airalo", eurTable())

	offer, err := n.Normalize("Japan", model.PageFragment{
		SourceID:      "airalo",
		RawText:       "3GB7.50 €",
		AmountToken:   "3 GB",
		ValidityToken: "7 Days",
		PriceToken:    "7.50",
		CurrencyToken: "EUR",
	})
	require.NoError(t, err)

	assert.Equal(t, "Airalo", offer.Provider)
	assert.Equal(t, "Japan", offer.Country)
	assert.Equal(t, 7, offer.ValidityDays)
	assert.Equal(t, "EUR", offer.Price.Currency)
	assert.Equal(t, "8.79", offer.SettlementPrice.StringFixed(2))
	assert.Equal(t, model.DefaultNetwork, offer.Network)
	assert.Equal(t, "3GB 7 Days", model.PlanLabel(offer.Allowance, offer.ValidityDays))
}

func TestNormalizeRejections(t *testing.T) {
	n := New("Nomad", eurTable())
	base := model.PageFragment{
		SourceID:      "nomad",
		RawText:       "1 GB For 7 DAYS USD 4",
		AmountToken:   "1 GB",
		ValidityToken: "For 7 DAYS",
		PriceToken:    "4",
		CurrencyToken: "USD",
	}

	_, err := n.Normalize("Japan", base)
	require.NoError(t, err)

	unknownCurrency := base
	unknownCurrency.CurrencyToken = "SGD"
	_, err = n.Normalize("Japan", unknownCurrency)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))

	noValidity := base
	noValidity.ValidityToken = "forever"
	_, err = n.Normalize("Japan", noValidity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nomad/Japan")
}

func TestNormalizeAll(t *testing.T) {
	n := New("Nomad", eurTable())
	fragments := []model.PageFragment{
		{SourceID: "nomad", AmountToken: "1 GB", ValidityToken: "7 days", PriceToken: "4", CurrencyToken: "USD", NetworkToken: "NTT Docomo"},
		{SourceID: "nomad", AmountToken: "1 GB", ValidityToken: "7 days", PriceToken: "4", CurrencyToken: "JPY"},
		{SourceID: "nomad", AmountToken: "3 GB", ValidityToken: "15 days", PriceToken: "9.50", CurrencyToken: "EUR"},
	}

	offers, rejected := n.NormalizeAll("Japan", "https://example.test/japan", fragments)
	require.Len(t, offers, 2)
	assert.Len(t, rejected, 1)

	assert.Equal(t, "NTT Docomo", offers[0].Network)
	assert.Equal(t, "4", offers[0].SettlementPrice.String())
	assert.Equal(t, "https://example.test/japan", offers[1].SourceURL)
	assert.Equal(t, "11.13", offers[1].SettlementPrice.StringFixed(2))
}
