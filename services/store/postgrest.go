package store

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/internal/normalize"
	"globalpass/esimworker/internal/reconcile"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
)

// PostgRESTStore persists plans in a hosted table through its REST API
type PostgRESTStore struct {
	client *resty.Client
	table  string
	log    *logger.Logger
}

// NewPostgRESTStore creates a store for table on the project at baseURL
func NewPostgRESTStore(baseURL, apiKey, table string, timeout time.Duration) *PostgRESTStore {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/rest/v1").
		SetTimeout(timeout).
		SetHeader("apikey", apiKey).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &PostgRESTStore{
		client: client,
		table:  table,
		log:    logger.ForStore().WithField("backend", "postgrest"),
	}
}

func keyFilter(key model.NaturalKey) map[string]string {
	return map[string]string{
		"provider":   "eq." + key.Provider,
		"country":    "eq." + key.Country,
		"plan_label": "eq." + key.Label,
	}
}

// check turns transport failures and error statuses into persistence
// errors. Server-side and throttling answers are retryable, other 4xx are not.
func (s *PostgRESTStore) check(provider, op string, resp *resty.Response, err error) error {
	if err != nil {
		if resp != nil && resp.RawResponse != nil && resp.IsSuccess() {
			return errors.NewPersistence(provider, op+" response undecodable", err, false)
		}
		return errors.NewPersistence(provider, op+" request failed", err, true)
	}
	if resp.IsSuccess() {
		return nil
	}

	status := resp.StatusCode()
	retryable := status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
	cause := fmt.Errorf("status %d: %s", status, strings.TrimSpace(resp.String()))
	return errors.NewPersistence(provider, op+" rejected", cause, retryable)
}

// Lookup returns the plan stored under key
func (s *PostgRESTStore) Lookup(ctx context.Context, key model.NaturalKey) (model.Plan, bool, error) {
	var rows []Row
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(keyFilter(key)).
		SetQueryParam("select", "*").
		SetResult(&rows).
		Get("/" + s.table)
	if err := s.check(key.Provider, "lookup", resp, err); err != nil {
		return model.Plan{}, false, err
	}

	if len(rows) == 0 {
		return model.Plan{}, false, nil
	}

	plan, err := rows[0].Plan()
	if err != nil {
		return model.Plan{}, false, errors.NewPersistence(key.Provider, "corrupt row", err, false)
	}
	return plan, true, nil
}

// Insert stores a new plan
func (s *PostgRESTStore) Insert(ctx context.Context, plan model.Plan) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(RowFromPlan(plan)).
		Post("/" + s.table)
	return s.check(plan.Key.Provider, "insert", resp, err)
}

// Update overwrites the plan sharing the same natural key
func (s *PostgRESTStore) Update(ctx context.Context, plan model.Plan) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetQueryParams(keyFilter(plan.Key)).
		SetBody(RowFromPlan(plan)).
		Patch("/" + s.table)
	return s.check(plan.Key.Provider, "update", resp, err)
}

// Upsert writes plan with a single merge-duplicates request keyed by the
// natural key. The preceding lookup only classifies the outcome.
func (s *PostgRESTStore) Upsert(ctx context.Context, plan model.Plan) (reconcile.Outcome, error) {
	existing, found, err := s.Lookup(ctx, plan.Key)
	if err != nil {
		return 0, err
	}
	if found && (existing.Equal(plan) || existing.Equal(atColumnScale(plan))) {
		return reconcile.OutcomeUnchanged, nil
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetQueryParam("on_conflict", strings.Join(keyColumns, ",")).
		SetBody([]Row{RowFromPlan(plan)}).
		Post("/" + s.table)
	if err := s.check(plan.Key.Provider, "upsert", resp, err); err != nil {
		return 0, err
	}

	if found {
		return reconcile.OutcomeUpdated, nil
	}
	return reconcile.OutcomeInserted, nil
}

// atColumnScale returns plan as a DECIMAL(10, 2) price column holds it
func atColumnScale(plan model.Plan) model.Plan {
	plan.SettlementPrice = plan.SettlementPrice.Round(normalize.PriceScale)
	return plan
}

// DeleteByProvider removes every plan of provider
func (s *PostgRESTStore) DeleteByProvider(ctx context.Context, provider string) (int, error) {
	var deleted []Row
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("provider", "eq."+provider).
		SetResult(&deleted).
		Delete("/" + s.table)
	if err := s.check(provider, "delete", resp, err); err != nil {
		return 0, err
	}

	s.log.Debug().Str("provider", provider).Int("rows", len(deleted)).Msg("Deleted provider rows")
	return len(deleted), nil
}

// Close is a no-op
func (s *PostgRESTStore) Close() error {
	return nil
}
