package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalpass/esimworker/config"
	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/internal/report"
	"globalpass/esimworker/pkg/errors"
	"globalpass/esimworker/services/worker"
)

// airaloPage lists plan titles in a script and prices in links
const airaloPage = `
<!DOCTYPE html>
<html>
<head>
    <title>Japan eSIM</title>
    <script>window.__PLANS__ = {"titles":["1 GB - 7 Days","3 GB - 7 Days"]};</script>
</head>
<body>
    <a href="/japan/1">1GB4.00 €</a>
    <a href="/japan/3">3GB7.50 €</a>
    <a href="/help">Help</a>
</body>
</html>
`

// nomadPage carries amount, validity and price in one token
const nomadPage = `
<!DOCTYPE html>
<html>
<body>
    <ul>
        <li>Plan Details 1 GB For 7 DAYS USD 4</li>
        <li>Plan Details 5 GB For 30 DAYS USD 12.50</li>
    </ul>
</body>
</html>
`

const ratesBody = `{"result":"success","base_code":"USD","rates":{"USD":1,"EUR":0.8536,"SGD":1.3302}}`

// testSite serves both retailers and the rates API, counting requests
type testSite struct {
	server   *httptest.Server
	requests atomic.Int64
}

func newTestSite(t *testing.T, pages map[string]string) *testSite {
	t.Helper()
	site := &testSite{}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.requests.Add(1)
		if r.URL.Path == "/rates" {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, ratesBody)
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, body)
	}))
	t.Cleanup(site.server.Close)
	return site
}

func defaultPages() map[string]string {
	return map[string]string{
		"/airalo/japan-esim": airaloPage,
		"/nomad/japan-esim":  nomadPage,
	}
}

// setTestEnv points the configuration at site and an on-disk sqlite file
func setTestEnv(t *testing.T, site *testSite) string {
	t.Helper()
	dir := t.TempDir()

	targets := filepath.Join(dir, "targets.json")
	require.NoError(t, os.WriteFile(targets, []byte(`[{"name":"Japan"}]`), 0o644))

	dbPath := filepath.Join(dir, "plans.db")
	t.Setenv("STORE_BACKEND", config.BackendSQLite)
	t.Setenv("DATABASE_URL", dbPath)
	t.Setenv("LOAD_MODE", config.LoadModeUpsert)
	t.Setenv("FETCH_TIMEOUT_SECONDS", "5")
	t.Setenv("AIRALO_URL", site.server.URL+"/airalo/{slug}-esim")
	t.Setenv("AIRALO_STRATEGY", "link-text")
	t.Setenv("NOMAD_URL", site.server.URL+"/nomad/{slug}-esim")
	t.Setenv("NOMAD_STRATEGY", "single-token")
	t.Setenv("RATES_URL", site.server.URL+"/rates")
	t.Setenv("TARGETS_FILE", targets)
	t.Setenv("MEMCACHE_ADDR", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SMTP_SERVER", "")
	return dbPath
}

func newIntegrationWorker(t *testing.T, ctx context.Context) (*worker.Worker, *Services) {
	t.Helper()
	cfg, err := loadConfig(nil)
	require.NoError(t, err)

	services, err := initializeServices(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(services.Cleanup)

	opts, err := workerOptions(cfg)
	require.NoError(t, err)
	return worker.NewWorker(services.Dependencies(), opts), services
}

// TestIntegration runs the whole pipeline against local pages and sqlite
func TestIntegration(t *testing.T) {
	ctx := context.Background()
	site := newTestSite(t, defaultPages())
	setTestEnv(t, site)

	w, services := newIntegrationWorker(t, ctx)

	first := w.RunOnce(ctx)
	assert.Equal(t, "live", first.RateSource)
	assert.Empty(t, first.FailedTargets)
	assert.Equal(t, 4, first.TotalPlans)
	assert.Equal(t, 4, first.Inserted)
	assert.Zero(t, first.PersistFailed)
	assert.Equal(t, report.ExitOK, first.ExitCode())

	// EUR 7.50 at 1.1715 settles at USD 8.79
	plan, found, err := services.Store.Lookup(ctx, model.NaturalKey{Provider: "Airalo", Country: "Japan", Label: "3GB 7 Days"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "8.79", plan.SettlementPrice.StringFixed(2))
	assert.Equal(t, model.SettlementCurrency, plan.Currency)
	assert.Equal(t, "Japan 3GB 7 Days", plan.PlanName())
	assert.Contains(t, plan.RawMetadata, `"original_price":"7.50"`)
	assert.Contains(t, plan.RawMetadata, `"original_currency":"EUR"`)

	// USD prices pass through unchanged
	plan, found, err = services.Store.Lookup(ctx, model.NaturalKey{Provider: "Nomad", Country: "Japan", Label: "5GB 30 Days"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "12.50", plan.SettlementPrice.StringFixed(2))

	// rerunning never inserts again
	second := w.RunOnce(ctx)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 4, second.Unchanged+second.Updated)
}

func TestRunOnceCommand(t *testing.T) {
	site := newTestSite(t, defaultPages())
	setTestEnv(t, site)

	err := runOnce(context.Background(), onceFlags{dryRun: true, source: "nomad", country: "japan"})
	assert.NoError(t, err)
}

func TestRunOnceCommandEveryTargetFails(t *testing.T) {
	site := newTestSite(t, map[string]string{})
	setTestEnv(t, site)

	err := runOnce(context.Background(), onceFlags{})
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, report.ExitFailed, exit.code)
}

func TestRunOnceCommandRejectsConfigurationBeforeFetching(t *testing.T) {
	site := newTestSite(t, defaultPages())
	setTestEnv(t, site)
	t.Setenv("STORE_BACKEND", config.BackendPostgREST)
	t.Setenv("SUPABASE_URL", "")

	err := runOnce(context.Background(), onceFlags{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
	assert.Zero(t, site.requests.Load())

	err = runOnce(context.Background(), onceFlags{mode: "merge", dryRun: true})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
	assert.Zero(t, site.requests.Load())
}

func TestRunOnceCommandUnknownTarget(t *testing.T) {
	site := newTestSite(t, defaultPages())
	setTestEnv(t, site)

	err := runOnce(context.Background(), onceFlags{dryRun: true, country: "Atlantis"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
	assert.Zero(t, site.requests.Load())
}
