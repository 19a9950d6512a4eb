package store

import (
	"context"
	"sort"
	"sync"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/pkg/errors"
)

// MemoryStore keeps rows in memory. It only offers the two-step
// lookup/write path and backs dry runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[model.NaturalKey]Row
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[model.NaturalKey]Row)}
}

// Lookup returns the plan stored under key
func (s *MemoryStore) Lookup(ctx context.Context, key model.NaturalKey) (model.Plan, bool, error) {
	s.mu.RLock()
	row, ok := s.rows[key]
	s.mu.RUnlock()

	if !ok {
		return model.Plan{}, false, nil
	}
	plan, err := row.Plan()
	if err != nil {
		return model.Plan{}, false, errors.NewPersistence(key.Provider, "corrupt row", err, false)
	}
	return plan, true, nil
}

// Insert stores a new plan
func (s *MemoryStore) Insert(ctx context.Context, plan model.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[plan.Key]; exists {
		return errors.NewPersistence(plan.Key.Provider, "duplicate key "+plan.Key.String(), nil, false)
	}
	s.rows[plan.Key] = RowFromPlan(plan)
	return nil
}

// Update overwrites an existing plan
func (s *MemoryStore) Update(ctx context.Context, plan model.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[plan.Key]; !exists {
		return errors.NewPersistence(plan.Key.Provider, "no row for "+plan.Key.String(), nil, false)
	}
	s.rows[plan.Key] = RowFromPlan(plan)
	return nil
}

// DeleteByProvider removes every plan of provider
func (s *MemoryStore) DeleteByProvider(ctx context.Context, provider string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.rows {
		if key.Provider == provider {
			delete(s.rows, key)
			n++
		}
	}
	return n, nil
}

// Rows returns a snapshot of the stored rows ordered by key
func (s *MemoryStore) Rows() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]Row, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		return a.PlanLabel < b.PlanLabel
	})
	return rows
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
