package assemble

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalpass/esimworker/internal/model"
)

func TestJoinByAmount(t *testing.T) {
	titles := []Title{
		{RawText: "1 GB - 7 Days", AmountToken: "1 GB", ValidityToken: "7 Days"},
		{RawText: "3 GB - 30 Days", AmountToken: "3 GB", ValidityToken: "30 Days"},
		{RawText: "1 GB - 3 Days", AmountToken: "1 GB", ValidityToken: "3 Days"},
		{RawText: "20 GB - 30 Days", AmountToken: "20 GB", ValidityToken: "30 Days"},
	}
	prices := []PriceEntry{
		{RawText: "1GB4.00 €", AmountToken: "1GB", PriceToken: "4.00", CurrencyToken: "€"},
		{RawText: "1GB4.50 €", AmountToken: "1GB", PriceToken: "4.50", CurrencyToken: "€"},
		{RawText: "3GB9.00 €", AmountToken: "3GB", PriceToken: "9.00", CurrencyToken: "€"},
	}

	fragments, unmatched := JoinByAmount("airalo", titles, prices)

	want := []model.PageFragment{
		{SourceID: "airalo", RawText: "1 GB - 7 Days | 1GB4.00 €", AmountToken: "1 GB", ValidityToken: "7 Days", PriceToken: "4.00", CurrencyToken: "€"},
		{SourceID: "airalo", RawText: "3 GB - 30 Days | 3GB9.00 €", AmountToken: "3 GB", ValidityToken: "30 Days", PriceToken: "9.00", CurrencyToken: "€"},
		{SourceID: "airalo", RawText: "1 GB - 3 Days | 1GB4.50 €", AmountToken: "1 GB", ValidityToken: "3 Days", PriceToken: "4.50", CurrencyToken: "€"},
	}
	if diff := cmp.Diff(want, fragments); diff != "" {
		t.Errorf("JoinByAmount() mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, unmatched, 1)
	assert.Equal(t, "20 GB - 30 Days", unmatched[0].RawText)
}

func TestJoinByAmountNormalizesUnits(t *testing.T) {
	titles := []Title{{RawText: "3 GB - 7 Days", AmountToken: "3 GB", ValidityToken: "7 Days"}}
	prices := []PriceEntry{{RawText: "3072MB 9.00 USD", AmountToken: "3072MB", PriceToken: "9.00", CurrencyToken: "USD"}}

	fragments, unmatched := JoinByAmount("airalo", titles, prices)
	require.Len(t, fragments, 1)
	assert.Empty(t, unmatched)
	assert.Equal(t, "9.00", fragments[0].PriceToken)
}

func TestJoinByAmountNoPrices(t *testing.T) {
	titles := []Title{{RawText: "1 GB - 7 Days", AmountToken: "1 GB", ValidityToken: "7 Days"}}

	fragments, unmatched := JoinByAmount("airalo", titles, nil)
	assert.Empty(t, fragments)
	assert.Len(t, unmatched, 1)
}
