package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"globalpass/esimworker/internal/assemble"
	"globalpass/esimworker/internal/crawler"
	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/internal/normalize"
	"globalpass/esimworker/internal/reconcile"
	"globalpass/esimworker/internal/report"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
	"globalpass/esimworker/services/alert"
	"globalpass/esimworker/services/publisher"
)

// reportKey is the stream field carrying the encoded report
const reportKey = "b64_report"

// RateLoader provides the exchange rate table of a run
type RateLoader interface {
	Load(ctx context.Context) *normalize.ExchangeRateTable
}

// Dependencies holds all service dependencies
type Dependencies struct {
	Sources []crawler.Source
	Pages   crawler.PageSource
	Rates   RateLoader
	Store   reconcile.Store
	// Publisher and Alerter are optional
	Publisher publisher.Publisher
	Alerter   alert.Alerter
}

// Options controls how runs are executed
type Options struct {
	Countries   []model.Country
	Mode        reconcile.Mode
	DryRun      bool
	Concurrency int
	MaxRetries  int
	Interval    time.Duration
	// Alerts sends an alert after runs with failed targets
	Alerts bool
}

// Worker handles the collect, reconcile and report process
type Worker struct {
	deps Dependencies
	opts Options
	log  *logger.Logger
	now  func() time.Time
}

// NewWorker creates a new worker
func NewWorker(deps Dependencies, opts Options) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Mode == "" {
		opts.Mode = reconcile.ModeUpsert
	}
	return &Worker{
		deps: deps,
		opts: opts,
		log:  logger.ForWorker(),
		now:  time.Now,
	}
}

// target is one (source, country) pair
type target struct {
	source  crawler.Source
	country model.Country
}

// collected is what one target produced
type collected struct {
	target
	plans      []model.Plan
	collisions int
	duplicates int
	rejected   int
	err        error
}

// Start runs until ctx is cancelled, waiting the configured interval
// between runs
func (w *Worker) Start(ctx context.Context) error {
	for {
		rep := w.RunOnce(ctx)
		w.log.Info().
			Str("run_id", rep.RunID).
			Dur("elapsed", rep.Elapsed).
			Int("plans", rep.TotalPlans).
			Int("failed_targets", len(rep.FailedTargets)).
			Msg("Run finished")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.Interval):
		}
	}
}

// RunOnce performs one full run and returns its report. Failures of
// single targets or plans are recorded in the report, never returned.
func (w *Worker) RunOnce(ctx context.Context) *report.Report {
	rep := report.New(string(w.opts.Mode), w.now())
	rep.DryRun = w.opts.DryRun
	log := w.log.WithField("run_id", rep.RunID)

	rates := w.deps.Rates.Load(ctx)
	rep.RateSource = string(rates.Source())

	results := w.collect(ctx, rates, rep.StartedAt)
	dedupe(results, log)
	for _, c := range results {
		rep.AddAssembly(c.collisions, c.duplicates, c.rejected)
		if c.err != nil {
			rep.TargetFailed(c.source.ID, c.country.Name, c.err)
			log.Error().Err(c.err).
				Str("source", c.source.ID).
				Str("country", c.country.Name).
				Msg("Target failed")
			continue
		}
		rep.TargetSucceeded(c.source.ID, len(c.plans))
	}

	engine := reconcile.NewEngine(w.deps.Store, w.opts.MaxRetries)
	switch w.opts.Mode {
	case reconcile.ModeReplace:
		w.replace(ctx, engine, results, rep, log)
	default:
		w.upsert(ctx, engine, results, rep)
	}

	rep.Finish(w.now())
	w.publish(ctx, rep, log)
	if w.opts.Alerts && rep.HasFailures() {
		w.alert(ctx, rep, log)
	}
	return rep
}

// targets lists every (source, country) pair, sources first
func (w *Worker) targets() []target {
	targets := make([]target, 0, len(w.deps.Sources)*len(w.opts.Countries))
	for _, src := range w.deps.Sources {
		for _, country := range w.opts.Countries {
			targets = append(targets, target{source: src, country: country})
		}
	}
	return targets
}

// collect runs fetch, extract, normalize and assemble for every target.
// Results keep target order whatever the concurrency. Every plan of the
// run is stamped with checked.
func (w *Worker) collect(ctx context.Context, rates *normalize.ExchangeRateTable, checked time.Time) []collected {
	targets := w.targets()
	results := make([]collected, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = w.collectTarget(gctx, rates, checked, t)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// dedupe keeps the first plan per natural key across the whole run, in
// target order
func dedupe(results []collected, log *logger.Logger) {
	d := assemble.NewDeduper(log)
	for i := range results {
		c := &results[i]
		if c.err != nil {
			continue
		}
		kept, collisions, duplicates := d.Keep(c.plans)
		c.plans = kept
		c.collisions += collisions
		c.duplicates += duplicates
	}
}

func (w *Worker) collectTarget(ctx context.Context, rates *normalize.ExchangeRateTable, checked time.Time, t target) collected {
	out := collected{target: t}
	src := t.source
	log := logger.ForSource(src.ID).WithFields(logger.Fields{
		"provider": src.Provider,
		"country":  t.country.Name,
	})

	page, err := w.deps.Pages.Fetch(ctx, src, t.country)
	if err != nil {
		out.err = err
		return out
	}

	extraction, err := src.Extractor.Extract(src.ID, page.Body)
	if err != nil {
		out.err = errors.NewParse(src.Provider, fmt.Sprintf("failed to parse %s: %v", page.URL, err)).WithCountry(t.country.Name)
		return out
	}

	offers, rejections := normalize.New(src.Provider, rates).NormalizeAll(t.country.Name, page.URL, extraction.Fragments)
	for _, r := range rejections {
		log.Debug().Err(r).Msg("Fragment rejected")
	}

	assembler := assemble.New(log)
	assembler.Now = func() time.Time { return checked }
	assembled := assembler.Assemble(offers)
	out.plans = assembled.Plans
	out.collisions = assembled.Collisions
	out.duplicates = assembled.Duplicates
	out.rejected = extraction.Rejected + len(rejections)

	if len(out.plans) == 0 {
		out.err = errors.NewParse(src.Provider, fmt.Sprintf("no plans found on %s", page.URL)).WithCountry(t.country.Name)
		return out
	}

	log.Info().
		Int("plans", len(out.plans)).
		Int("rejected", out.rejected).
		Int("collisions", out.collisions).
		Msg("Target collected")
	return out
}

// upsert reconciles each target's batch in collection order
func (w *Worker) upsert(ctx context.Context, engine *reconcile.Engine, results []collected, rep *report.Report) {
	for _, c := range results {
		if c.err != nil {
			continue
		}
		res := engine.Reconcile(ctx, c.plans)
		rep.AddPersistence(c.plans, res)
	}
}

// replace clears and reloads each provider once with all of its plans.
// A provider without any plans this run keeps its rows.
func (w *Worker) replace(ctx context.Context, engine *reconcile.Engine, results []collected, rep *report.Report, log *logger.Logger) {
	var providers []string
	batches := make(map[string][]model.Plan)
	for _, c := range results {
		provider := c.source.Provider
		if _, ok := batches[provider]; !ok {
			providers = append(providers, provider)
			batches[provider] = nil
		}
		if c.err == nil {
			batches[provider] = append(batches[provider], c.plans...)
		}
	}

	for _, provider := range providers {
		batch := batches[provider]
		if len(batch) == 0 {
			log.Warn().Str("provider", provider).Msg("No plans collected, keeping existing rows")
			continue
		}

		res, err := engine.Replace(ctx, provider, batch)
		if err != nil {
			log.Error().Err(err).Str("provider", provider).Msg("Replace failed")
		}
		rep.AddPersistence(batch, res)
	}
}

func (w *Worker) publish(ctx context.Context, rep *report.Report, log *logger.Logger) {
	if w.deps.Publisher == nil {
		return
	}

	data, err := rep.JSON()
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode report")
		return
	}
	if err := w.deps.Publisher.Publish(ctx, reportKey, data); err != nil {
		log.Error().Err(err).Msg("Failed to publish report")
	}
}

func (w *Worker) alert(ctx context.Context, rep *report.Report, log *logger.Logger) {
	if w.deps.Alerter == nil {
		return
	}
	if err := w.deps.Alerter.Alert(ctx, rep.AlertSubject(), rep.AlertBody()); err != nil {
		log.Error().Err(err).Msg("Failed to send alert")
	}
}
