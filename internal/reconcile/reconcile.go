package reconcile

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
)

// Store is a persistence backend keyed by natural key
type Store interface {
	// Lookup returns the persisted plan for key, if any
	Lookup(ctx context.Context, key model.NaturalKey) (model.Plan, bool, error)

	// Insert stores a new plan
	Insert(ctx context.Context, plan model.Plan) error

	// Update overwrites the plan sharing the same natural key
	Update(ctx context.Context, plan model.Plan) error

	// DeleteByProvider removes every plan of provider
	DeleteByProvider(ctx context.Context, provider string) (int, error)
}

// Outcome is what happened to one plan
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AtomicUpserter is implemented by stores that can insert-or-update a
// plan in a single conditional write
type AtomicUpserter interface {
	Upsert(ctx context.Context, plan model.Plan) (Outcome, error)
}

// Mode selects how a run loads plans
type Mode string

const (
	// ModeUpsert reconciles every plan by natural key
	ModeUpsert Mode = "upsert"
	// ModeReplace deletes a provider's rows, then inserts the fresh batch
	ModeReplace Mode = "replace"
)

// ParseMode parses a load mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUpsert, ModeReplace:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown load mode %q", s)
	}
}

// Result counts the outcomes of a batch
type Result struct {
	Inserted   int
	Updated    int
	Unchanged  int
	Failed     int
	FailedKeys []model.NaturalKey
	Errors     []error
}

// Written is the number of plans that reached the store
func (r Result) Written() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// Add merges o into r
func (r *Result) Add(o Result) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Failed += o.Failed
	r.FailedKeys = append(r.FailedKeys, o.FailedKeys...)
	r.Errors = append(r.Errors, o.Errors...)
}

func (r *Result) record(o Outcome) {
	switch o {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeUnchanged:
		r.Unchanged++
	}
}

func (r *Result) fail(key model.NaturalKey, err error) {
	r.Failed++
	r.FailedKeys = append(r.FailedKeys, key)
	r.Errors = append(r.Errors, err)
}

// Engine applies plan batches to a store with bounded retries
type Engine struct {
	Store      Store
	MaxRetries uint64
	NewBackOff func() backoff.BackOff
	Logger     *logger.Logger
}

// NewEngine creates an engine retrying each I/O step up to maxRetries times
func NewEngine(store Store, maxRetries int) *Engine {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Engine{
		Store:      store,
		MaxRetries: uint64(maxRetries),
		NewBackOff: defaultBackOff,
		Logger:     logger.ForReconcile(),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Reconcile inserts or updates every plan of batch, in order. A plan that
// still fails after its retries is recorded as failed and the batch goes on.
func (e *Engine) Reconcile(ctx context.Context, batch []model.Plan) Result {
	var result Result

	for _, plan := range batch {
		var outcome Outcome
		err := e.retry(ctx, plan.Key.String(), func() error {
			var err error
			outcome, err = e.apply(ctx, plan)
			return err
		})
		if err != nil {
			result.fail(plan.Key, err)
			e.Logger.Error().Err(err).Str("key", plan.Key.String()).Msg("Plan failed after retries")
			continue
		}

		result.record(outcome)
		e.Logger.Debug().Str("key", plan.Key.String()).Str("outcome", outcome.String()).Msg("Plan reconciled")
	}

	return result
}

// apply runs the per-plan state machine once
func (e *Engine) apply(ctx context.Context, plan model.Plan) (Outcome, error) {
	if upserter, ok := e.Store.(AtomicUpserter); ok {
		return upserter.Upsert(ctx, plan)
	}

	// Two-step fallback: not atomic, a concurrent writer can slip in
	// between the lookup and the write.
	existing, found, err := e.Store.Lookup(ctx, plan.Key)
	if err != nil {
		return 0, err
	}

	if !found {
		if err := e.Store.Insert(ctx, plan); err != nil {
			return 0, err
		}
		return OutcomeInserted, nil
	}

	if existing.Equal(plan) {
		return OutcomeUnchanged, nil
	}

	if err := e.Store.Update(ctx, plan); err != nil {
		return 0, err
	}
	return OutcomeUpdated, nil
}

// Replace deletes every persisted plan of provider, then inserts batch
// unconditionally. If the delete fails, nothing is inserted.
func (e *Engine) Replace(ctx context.Context, provider string, batch []model.Plan) (Result, error) {
	var result Result

	var deleted int
	err := e.retry(ctx, "delete:"+provider, func() error {
		var err error
		deleted, err = e.Store.DeleteByProvider(ctx, provider)
		return err
	})
	if err != nil {
		for _, plan := range batch {
			result.fail(plan.Key, err)
		}
		return result, errors.NewPersistence(provider, "failed to clear provider rows", err, false)
	}

	e.Logger.Info().Str("provider", provider).Int("deleted", deleted).Msg("Cleared provider rows")

	for _, plan := range batch {
		err := e.retry(ctx, plan.Key.String(), func() error {
			return e.Store.Insert(ctx, plan)
		})
		if err != nil {
			result.fail(plan.Key, err)
			e.Logger.Error().Err(err).Str("key", plan.Key.String()).Msg("Insert failed after retries")
			continue
		}
		result.Inserted++
	}

	return result, nil
}

func (e *Engine) retry(ctx context.Context, name string, op func() error) error {
	operation := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(e.NewBackOff(), e.MaxRetries), ctx)
	return backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		e.Logger.Warn().Err(err).Str("op", name).Dur("wait", wait).Msg("Retrying store operation")
	})
}

// retryable treats untyped errors as transient
func retryable(err error) bool {
	var pe *errors.PipelineError
	if stderrors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return true
}
