package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/internal/reconcile"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
)

//go:embed schema.sql
var schema string

var tableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dialect covers the differences between the supported SQL drivers
type dialect struct {
	driver string
	// distinct is the null-safe inequality operator
	distinct string
	numbered bool
}

func (d dialect) placeholder(i int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

var dialects = map[string]dialect{
	"sqlite":   {driver: "sqlite", distinct: "IS NOT"},
	"libsql":   {driver: "libsql", distinct: "IS NOT"},
	"postgres": {driver: "postgres", distinct: "IS DISTINCT FROM", numbered: true},
}

// SQLStore persists plans in a SQL table and upserts atomically with
// INSERT ... ON CONFLICT
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect dialect
	log     *logger.Logger

	lookupSQL string
	existsSQL string
	insertSQL string
	updateSQL string
	upsertSQL string
	deleteSQL string
}

// OpenSQL opens a database with the named driver (sqlite, libsql or
// postgres) and applies the schema
func OpenSQL(ctx context.Context, driver, dsn, table string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, errors.NewConfiguration(fmt.Sprintf("unsupported SQL driver %q", driver), nil)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.NewPersistence(driver, "failed to open database", err, false)
	}
	if driver == "sqlite" {
		// a single connection keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}

	s, err := NewSQLStore(ctx, db, driver, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and applies the schema
func NewSQLStore(ctx context.Context, db *sql.DB, driver, table string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, errors.NewConfiguration(fmt.Sprintf("unsupported SQL driver %q", driver), nil)
	}
	if !tableNameRegex.MatchString(table) {
		return nil, errors.NewConfiguration(fmt.Sprintf("invalid table name %q", table), nil)
	}

	s := &SQLStore{db: db, table: table, dialect: d, log: logger.ForStore().WithField("driver", driver)}
	s.prepareStatements()

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ddl := strings.ReplaceAll(schema, "{{table}}", s.table)
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewPersistence(s.dialect.driver, "failed to apply schema", err, false)
		}
	}
	return nil
}

func (s *SQLStore) prepareStatements() {
	ph := func(from, n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = s.dialect.placeholder(from + i)
		}
		return out
	}

	keyWhere := func(from int) string {
		parts := make([]string, len(keyColumns))
		for i, c := range keyColumns {
			parts[i] = fmt.Sprintf("%s = %s", c, s.dialect.placeholder(from+i))
		}
		return strings.Join(parts, " AND ")
	}

	nonKey := columns[len(keyColumns):]

	cols := strings.Join(columns, ", ")
	s.lookupSQL = fmt.Sprintf("SELECT %s FROM %s WHERE %s", cols, s.table, keyWhere(1))
	s.existsSQL = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", s.table, keyWhere(1))
	s.insertSQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table, cols, strings.Join(ph(1, len(columns)), ", "))

	sets := make([]string, len(nonKey))
	for i, c := range nonKey {
		sets[i] = fmt.Sprintf("%s = %s", c, s.dialect.placeholder(i+1))
	}
	s.updateSQL = fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.table, strings.Join(sets, ", "), keyWhere(len(nonKey)+1))

	excluded := make([]string, len(nonKey))
	changed := make([]string, len(nonKey))
	for i, c := range nonKey {
		excluded[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		changed[i] = fmt.Sprintf("%s.%s %s excluded.%s", s.table, c, s.dialect.distinct, c)
	}
	s.upsertSQL = fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s WHERE %s",
		s.insertSQL, strings.Join(keyColumns, ", "), strings.Join(excluded, ", "), strings.Join(changed, " OR "))

	s.deleteSQL = fmt.Sprintf("DELETE FROM %s WHERE provider = %s", s.table, s.dialect.placeholder(1))
}

func keyArgs(key model.NaturalKey) []any {
	return []any{key.Provider, key.Country, key.Label}
}

func (s *SQLStore) persistenceError(provider, msg string, err error) error {
	return errors.NewPersistence(provider, msg, err, true)
}

// Lookup returns the plan stored under key
func (s *SQLStore) Lookup(ctx context.Context, key model.NaturalKey) (model.Plan, bool, error) {
	var row Row
	err := s.db.QueryRowContext(ctx, s.lookupSQL, keyArgs(key)...).Scan(row.pointers()...)
	if err == sql.ErrNoRows {
		return model.Plan{}, false, nil
	}
	if err != nil {
		return model.Plan{}, false, s.persistenceError(key.Provider, "lookup failed", err)
	}

	plan, err := row.Plan()
	if err != nil {
		return model.Plan{}, false, errors.NewPersistence(key.Provider, "corrupt row", err, false)
	}
	return plan, true, nil
}

// Insert stores a new plan
func (s *SQLStore) Insert(ctx context.Context, plan model.Plan) error {
	if _, err := s.db.ExecContext(ctx, s.insertSQL, RowFromPlan(plan).values()...); err != nil {
		return s.persistenceError(plan.Key.Provider, "insert failed", err)
	}
	return nil
}

// Update overwrites the plan sharing the same natural key
func (s *SQLStore) Update(ctx context.Context, plan model.Plan) error {
	values := RowFromPlan(plan).values()
	args := append(values[len(keyColumns):], keyArgs(plan.Key)...)

	if _, err := s.db.ExecContext(ctx, s.updateSQL, args...); err != nil {
		return s.persistenceError(plan.Key.Provider, "update failed", err)
	}
	return nil
}

// Upsert inserts or updates plan with one conditional write. Rows that
// already hold the same values are left untouched.
func (s *SQLStore) Upsert(ctx context.Context, plan model.Plan) (reconcile.Outcome, error) {
	var existing int
	if err := s.db.QueryRowContext(ctx, s.existsSQL, keyArgs(plan.Key)...).Scan(&existing); err != nil {
		return 0, s.persistenceError(plan.Key.Provider, "lookup failed", err)
	}

	res, err := s.db.ExecContext(ctx, s.upsertSQL, RowFromPlan(plan).values()...)
	if err != nil {
		return 0, s.persistenceError(plan.Key.Provider, "upsert failed", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, s.persistenceError(plan.Key.Provider, "upsert result unavailable", err)
	}

	switch {
	case existing == 0:
		return reconcile.OutcomeInserted, nil
	case affected == 0:
		return reconcile.OutcomeUnchanged, nil
	default:
		return reconcile.OutcomeUpdated, nil
	}
}

// DeleteByProvider removes every plan of provider
func (s *SQLStore) DeleteByProvider(ctx context.Context, provider string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.deleteSQL, provider)
	if err != nil {
		return 0, s.persistenceError(provider, "delete failed", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.persistenceError(provider, "delete result unavailable", err)
	}
	s.log.Debug().Str("provider", provider).Int64("rows", n).Msg("Deleted provider rows")
	return int(n), nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}
