package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalpass/esimworker/config"
	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/internal/reconcile"
)

var checked = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func testPlan(provider, country string, allowance model.DataAllowance, days int, price string) model.Plan {
	return model.Plan{
		Key:             model.NaturalKey{Provider: provider, Country: country, Label: model.PlanLabel(allowance, days)},
		Allowance:       allowance,
		ValidityDays:    days,
		SettlementPrice: decimal.RequireFromString(price),
		Currency:        model.SettlementCurrency,
		Network:         model.DefaultNetwork,
		SourceURL:       "https://www.airalo.com/japan-esim",
		RawMetadata:     `{"original_price":"7.50","original_currency":"EUR"}`,
		LastChecked:     checked,
	}
}

func testPlans() []model.Plan {
	return []model.Plan{
		testPlan("Airalo", "Japan", model.FixedGB(decimal.NewFromInt(3)), 7, "8.79"),
		testPlan("Airalo", "Japan", model.FixedGB(decimal.RequireFromString("0.4883")), 1, "2.00"),
		testPlan("Airalo", "Japan", model.Unlimited(), 3, "12.50"),
		testPlan("Nomad", "Japan", model.FixedGB(decimal.NewFromInt(1)), 7, "4"),
	}
}

func TestRowRoundTrip(t *testing.T) {
	for _, p := range testPlans() {
		row := RowFromPlan(p)
		got, err := row.Plan()
		require.NoError(t, err)
		assert.True(t, p.Equal(got), "%s did not survive the round trip", p.Key)
	}

	row := RowFromPlan(testPlans()[0])
	assert.Equal(t, "Japan 3GB 7 Days", row.PlanName)
	assert.Equal(t, "3GB", row.DataAmount)
	assert.Equal(t, "Data", row.DataType)
	assert.Equal(t, "7 Days", row.Validity)
	assert.Equal(t, "8.79", row.Price.StringFixed(2))
	assert.Equal(t, "2026-01-05T10:00:00Z", row.LastChecked)

	unlimited := RowFromPlan(testPlans()[2])
	assert.Equal(t, "Unlimited", unlimited.DataAmount)
	assert.Equal(t, "Unlimited", unlimited.DataType)

	assert.Equal(t, "4.00", priceText(RowFromPlan(testPlans()[3]).Price))
}

func TestRowKeepsEveryPriceDigit(t *testing.T) {
	p := testPlan("Nomad", "Japan", model.FixedGB(decimal.NewFromInt(1)), 7, "4.005")
	row := RowFromPlan(p)
	assert.Equal(t, "4.005", priceText(row.Price))

	got, err := row.Plan()
	require.NoError(t, err)
	assert.True(t, p.Equal(got))
}

func TestRowParsesZonelessTimestamps(t *testing.T) {
	for _, value := range []string{
		"2026-01-05T10:00:00Z",
		"2026-01-05T10:00:00+00:00",
		"2026-01-05T10:00:00",
		"2026-01-05 10:00:00",
		"2026-01-05T11:00:00+01:00",
	} {
		row := RowFromPlan(testPlans()[0])
		row.LastChecked = value
		got, err := row.Plan()
		require.NoError(t, err, value)
		assert.True(t, checked.Equal(got.LastChecked), value)
	}
}

func TestRowPlanRejectsCorruptRows(t *testing.T) {
	row := RowFromPlan(testPlans()[0])
	row.Price = decimal.RequireFromString("-1")
	_, err := row.Plan()
	assert.Error(t, err)

	row = RowFromPlan(testPlans()[0])
	row.LastChecked = "yesterday"
	_, err = row.Plan()
	assert.Error(t, err)
}

// exerciseStore runs the reconcile contract against a backend
func exerciseStore(t *testing.T, s reconcile.Store) {
	t.Helper()
	ctx := context.Background()
	plans := testPlans()

	for _, p := range plans {
		_, found, err := s.Lookup(ctx, p.Key)
		require.NoError(t, err)
		assert.False(t, found)
		require.NoError(t, s.Insert(ctx, p))
	}

	got, found, err := s.Lookup(ctx, plans[0].Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, plans[0].Equal(got))

	changed := plans[0]
	changed.SettlementPrice = decimal.RequireFromString("9.10")
	require.NoError(t, s.Update(ctx, changed))

	got, _, err = s.Lookup(ctx, changed.Key)
	require.NoError(t, err)
	assert.Equal(t, "9.10", got.SettlementPrice.StringFixed(2))

	deleted, err := s.DeleteByProvider(ctx, "Airalo")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, found, err = s.Lookup(ctx, plans[0].Key)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.Lookup(ctx, plans[3].Key)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)

	rows := s.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Nomad", rows[0].Provider)

	err := s.Insert(context.Background(), testPlans()[3])
	assert.Error(t, err)
}

func TestMemoryStoreIsTwoStepOnly(t *testing.T) {
	var s reconcile.Store = NewMemoryStore()
	_, ok := s.(reconcile.AtomicUpserter)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	cfg := config.LoadConfig()
	cfg.StoreBackend = config.BackendMemory
	backend, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, backend)

	cfg.StoreBackend = config.BackendSQLite
	cfg.DatabaseURL = ":memory:"
	backend, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, backend)
	require.NoError(t, backend.Close())

	cfg.StoreBackend = config.BackendPostgREST
	cfg.SupabaseURL = "https://project.supabase.co"
	backend, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &PostgRESTStore{}, backend)

	cfg.StoreBackend = "mongo"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}
