package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"globalpass/esimworker/config"
	"globalpass/esimworker/internal/crawler"
	"globalpass/esimworker/internal/reconcile"
	"globalpass/esimworker/internal/report"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
	"globalpass/esimworker/services/alert"
	"globalpass/esimworker/services/cache"
	"globalpass/esimworker/services/publisher"
	"globalpass/esimworker/services/rates"
	"globalpass/esimworker/services/store"
	"globalpass/esimworker/services/worker"
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()

	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if stderrors.As(err, &exit) {
			os.Exit(exit.code)
		}
		logger.LogError("cli", err, "Command failed")
		os.Exit(report.ExitFailed)
	}
}

// onceFlags are the flags of the once command
type onceFlags struct {
	mode    string
	dryRun  bool
	source  string
	country string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "esimworker",
		Short:         "Collect eSIM plan prices and keep the plan table current",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run on the configured crawl interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduled()
		},
	})

	var flags onceFlags
	once := &cobra.Command{
		Use:   "once",
		Short: "Run once, print the report and exit with its code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), flags)
		},
	}
	once.Flags().StringVar(&flags.mode, "mode", "", "load mode: upsert or replace (default LOAD_MODE)")
	once.Flags().BoolVar(&flags.dryRun, "dry-run", false, "collect and reconcile against an in-memory store")
	once.Flags().StringVar(&flags.source, "source", "", "only collect from this source id")
	once.Flags().StringVar(&flags.country, "country", "", "only collect this country")
	root.AddCommand(once)

	return root
}

// loadConfig loads and validates the configuration. Nothing touches the
// network before it succeeds.
func loadConfig(apply func(cfg *config.Config)) (*config.Config, error) {
	cfg := config.LoadConfig()
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runOnce(ctx context.Context, flags onceFlags) error {
	cfg, err := loadConfig(func(cfg *config.Config) {
		if flags.mode != "" {
			cfg.LoadMode = flags.mode
		}
		if flags.dryRun {
			cfg.StoreBackend = config.BackendMemory
		}
	})
	if err != nil {
		return err
	}

	services, err := initializeServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Cleanup()

	sources := crawler.FilterSources(services.Sources, flags.source)
	countries := crawler.FilterCountries(cfg.Targets, flags.country)
	if len(sources) == 0 || len(countries) == 0 {
		return errors.NewConfiguration(fmt.Sprintf("no targets match source %q and country %q", flags.source, flags.country), nil)
	}

	opts, err := workerOptions(cfg)
	if err != nil {
		return err
	}
	opts.Countries = countries
	opts.DryRun = flags.dryRun

	deps := services.Dependencies()
	deps.Sources = sources

	rep := worker.NewWorker(deps, opts).RunOnce(ctx)
	rep.Render(os.Stdout)

	if code := rep.ExitCode(); code != report.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

func runScheduled() error {
	log := logger.ForWorker()

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("store", cfg.StoreBackend).
		Dur("crawl_interval", cfg.CrawlInterval).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Cleanup()

	opts, err := workerOptions(cfg)
	if err != nil {
		return err
	}
	opts.Alerts = true

	w := worker.NewWorker(services.Dependencies(), opts)

	// Start worker in a goroutine
	workerDone := make(chan error, 1)
	go func() {
		log.Info().
			Int("sources", len(services.Sources)).
			Int("countries", len(cfg.Targets)).
			Msg("Starting eSIM worker")
		workerDone <- w.Start(ctx)
	}()

	// Wait for shutdown signal or worker error
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		<-workerDone
	case err := <-workerDone:
		if err != nil && !stderrors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Worker exited with error")
		}
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully...")
	return nil
}

func workerOptions(cfg *config.Config) (worker.Options, error) {
	mode, err := reconcile.ParseMode(cfg.LoadMode)
	if err != nil {
		return worker.Options{}, errors.NewConfiguration("invalid load mode", err)
	}
	return worker.Options{
		Countries:   cfg.Targets,
		Mode:        mode,
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  cfg.PersistMaxRetries,
		Interval:    cfg.CrawlInterval,
	}, nil
}

// Services holds all the initialized services
type Services struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Store     store.Backend
	Alerter   alert.Alerter
	Rates     *rates.Loader
	Pages     *crawler.HTTPPageSource
	Sources   []crawler.Source
}

// Dependencies returns the worker dependencies backed by s
func (s *Services) Dependencies() worker.Dependencies {
	return worker.Dependencies{
		Sources:   s.Sources,
		Pages:     s.Pages,
		Rates:     s.Rates,
		Store:     s.Store,
		Publisher: s.Publisher,
		Alerter:   s.Alerter,
	}
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{}

	sources, err := crawler.CreateSources(cfg)
	if err != nil {
		return nil, err
	}
	services.Sources = sources

	// Memcache is optional
	services.Cache = cache.New(cfg.MemcacheAddr)
	if services.Cache != nil {
		logger.ForCache().Info().Str("addr", cfg.MemcacheAddr).Msg("Using Memcache")
	}

	services.Pages = crawler.NewHTTPPageSource(cfg.FetchTimeout, services.Cache)
	services.Rates = rates.NewLoader(cfg.RatesURL, rates.DefaultTimeout, services.Cache)

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	services.Store = st
	logger.ForStore().Info().Str("backend", cfg.StoreBackend).Str("table", cfg.StoreTable).Msg("Opened plan store")

	if cfg.RedisAddr != "" {
		services.Publisher = publisher.NewRedisPublisher(
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamMaxLength,
		)
		logger.ForPublisher().Info().
			Str("addr", cfg.RedisAddr).
			Int("db", cfg.RedisDB).
			Str("stream", cfg.RedisStream).
			Msg("Publishing reports to Redis")
	}

	services.Alerter = alert.New(alert.SMTPConfig{
		Server:   cfg.SMTPServer,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		To:       cfg.AlertEmail,
	})

	return services, nil
}
