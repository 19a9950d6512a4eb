package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/pkg/errors"
)

// Store backends
const (
	BackendPostgREST = "postgrest"
	BackendSQLite    = "sqlite"
	BackendLibSQL    = "libsql"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Load modes
const (
	LoadModeUpsert  = "upsert"
	LoadModeReplace = "replace"
)

const (
	minFetchTimeout = 5 * time.Second
	maxFetchTimeout = 60 * time.Second
)

// Config represents the application configuration
type Config struct {
	// Store configuration
	StoreBackend string
	SupabaseURL  string
	SupabaseKey  string
	DatabaseURL  string
	StoreTable   string
	LoadMode     string

	// Pipeline configuration
	FetchTimeout      time.Duration
	CrawlInterval     time.Duration
	WorkerConcurrency int
	PersistMaxRetries int
	RatesURL          string

	// Sources
	AiraloURL      string
	AiraloStrategy string
	NomadURL       string
	NomadStrategy  string

	// Targets
	TargetsFile string
	Targets     []model.Country

	// Memcache configuration
	MemcacheAddr string

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamMaxLength int64

	// Alerting
	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	AlertEmail   string

	// Environment
	Environment string

	// malformed lists variables that did not parse
	malformed []string
}

// LoadConfig loads the configuration from environment variables with defaults.
// Malformed numbers are reported by Validate.
func LoadConfig() *Config {
	c := &Config{
		StoreBackend:   getEnv("STORE_BACKEND", BackendPostgREST),
		SupabaseURL:    getEnv("SUPABASE_URL", ""),
		SupabaseKey:    getEnv("SUPABASE_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		StoreTable:     getEnv("STORE_TABLE", "esim_packages"),
		LoadMode:       getEnv("LOAD_MODE", LoadModeUpsert),
		RatesURL:       getEnv("RATES_URL", "https://open.er-api.com/v6/latest/USD"),
		AiraloURL:      getEnv("AIRALO_URL", "https://www.airalo.com/{slug}-esim"),
		AiraloStrategy: getEnv("AIRALO_STRATEGY", "link-text"),
		NomadURL:       getEnv("NOMAD_URL", "https://www.getnomad.app/{slug}-esim"),
		NomadStrategy:  getEnv("NOMAD_STRATEGY", "single-token"),
		TargetsFile:    getEnv("TARGETS_FILE", ""),
		MemcacheAddr:   getEnv("MEMCACHE_ADDR", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisStream:    getEnv("REDIS_STREAM", "esim:reports"),
		SMTPServer:     getEnv("SMTP_SERVER", ""),
		SMTPUser:       getEnv("SMTP_USER", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		AlertEmail:     getEnv("ALERT_EMAIL", ""),
		Environment:    getEnv("ESIM_ENVIRONMENT", "development"),
	}

	c.FetchTimeout = time.Duration(c.getEnvInt("FETCH_TIMEOUT_SECONDS", 15)) * time.Second
	c.CrawlInterval = time.Duration(c.getEnvInt("CRAWL_INTERVAL_SECONDS", 86400)) * time.Second
	c.WorkerConcurrency = c.getEnvInt("WORKER_CONCURRENCY", 1)
	c.PersistMaxRetries = c.getEnvInt("PERSIST_MAX_RETRIES", 3)
	c.RedisDB = c.getEnvInt("REDIS_DB", 0)
	c.RedisStreamMaxLength = int64(c.getEnvInt("REDIS_STREAM_MAX_LENGTH", 1000))
	c.SMTPPort = c.getEnvInt("SMTP_PORT", 587)

	return c
}

// Validate checks the configuration and loads the target list. It must
// be called before any network activity.
func (c *Config) Validate() error {
	if len(c.malformed) > 0 {
		return errors.NewConfiguration(fmt.Sprintf("malformed integer in %s", strings.Join(c.malformed, ", ")), nil)
	}

	switch c.StoreBackend {
	case BackendPostgREST:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return errors.NewConfiguration("SUPABASE_URL and SUPABASE_KEY are required for the postgrest backend", nil)
		}
	case BackendSQLite, BackendLibSQL, BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.NewConfiguration(fmt.Sprintf("DATABASE_URL is required for the %s backend", c.StoreBackend), nil)
		}
	case BackendMemory:
	default:
		return errors.NewConfiguration(fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend), nil)
	}

	if c.StoreTable == "" {
		return errors.NewConfiguration("STORE_TABLE must not be empty", nil)
	}

	if c.LoadMode != LoadModeUpsert && c.LoadMode != LoadModeReplace {
		return errors.NewConfiguration(fmt.Sprintf("unknown LOAD_MODE %q", c.LoadMode), nil)
	}

	if c.FetchTimeout < minFetchTimeout || c.FetchTimeout > maxFetchTimeout {
		return errors.NewConfiguration(fmt.Sprintf("FETCH_TIMEOUT_SECONDS must be between %d and %d",
			int(minFetchTimeout.Seconds()), int(maxFetchTimeout.Seconds())), nil)
	}

	if c.CrawlInterval <= 0 {
		return errors.NewConfiguration("CRAWL_INTERVAL_SECONDS must be positive", nil)
	}
	if c.WorkerConcurrency < 1 {
		return errors.NewConfiguration("WORKER_CONCURRENCY must be at least 1", nil)
	}
	if c.PersistMaxRetries < 0 {
		return errors.NewConfiguration("PERSIST_MAX_RETRIES must not be negative", nil)
	}

	targets, err := LoadTargets(c.TargetsFile)
	if err != nil {
		return errors.NewConfiguration("failed to load targets", err)
	}
	if len(targets) == 0 {
		return errors.NewConfiguration("target list is empty", nil)
	}
	c.Targets = targets

	return nil
}

// LoadTargets reads the target countries from a JSON file, or returns
// the built-in list when path is empty
func LoadTargets(path string) ([]model.Country, error) {
	if path == "" {
		return DefaultTargets(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var targets []model.Country
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("invalid targets file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("target %d has no name", i)
		}
		if seen[strings.ToLower(name)] {
			return nil, fmt.Errorf("target %q is listed more than once", name)
		}
		seen[strings.ToLower(name)] = true
	}
	return targets, nil
}

// DefaultTargets returns the built-in list of countries
func DefaultTargets() []model.Country {
	return []model.Country{
		{Name: "USA", Slugs: map[string]string{"airalo": "united-states", "nomad": "united-states"}},
		{Name: "Japan"},
		{Name: "Thailand"},
		{Name: "UK", Slugs: map[string]string{"airalo": "united-kingdom", "nomad": "united-kingdom"}},
		{Name: "France"},
		{Name: "Germany"},
		{Name: "Italy"},
		{Name: "Spain"},
		{Name: "South Korea"},
		{Name: "Singapore"},
		{Name: "Australia"},
		{Name: "Canada"},
		{Name: "China"},
		{Name: "Hong Kong"},
		{Name: "Taiwan"},
		{Name: "Malaysia"},
		{Name: "Vietnam"},
		{Name: "Indonesia"},
		{Name: "Philippines"},
		{Name: "India"},
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt reads an integer variable, recording it as malformed when it
// does not parse
func (c *Config) getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		c.malformed = append(c.malformed, key)
		return defaultValue
	}
	return n
}
