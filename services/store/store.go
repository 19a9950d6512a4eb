package store

import (
	"context"
	"fmt"
	"io"

	"globalpass/esimworker/config"
	"globalpass/esimworker/internal/reconcile"
	"globalpass/esimworker/pkg/errors"
)

// Backend is a reconcile store that holds resources
type Backend interface {
	reconcile.Store
	io.Closer
}

// Open creates the backend selected by the configuration
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgREST:
		return NewPostgRESTStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.StoreTable, cfg.FetchTimeout), nil
	case config.BackendSQLite, config.BackendLibSQL, config.BackendPostgres:
		s, err := OpenSQL(ctx, cfg.StoreBackend, cfg.DatabaseURL, cfg.StoreTable)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.NewConfiguration(fmt.Sprintf("unknown store backend %q", cfg.StoreBackend), nil)
	}
}
