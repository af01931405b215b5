// Package database provides the high-level pgkit facade over the pooled
// PostgreSQL connection.
package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/kestreldb/pgkit/config"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/observability"
	"github.com/kestreldb/pgkit/pool"
)

// Row is a database row keyed by column name.
type Row = map[string]any

// DB is the database facade. It owns a pool manager and offers query
// execution, scoped transactions, and health probes. Construct with New and
// inject it, or use the process-wide Init/Instance accessors.
type DB struct {
	cfg config.Config

	mu      sync.Mutex
	manager *pool.Manager

	healthWarn rate.Sometimes
}

// New constructs a facade for the given configuration. The pool is opened
// lazily; call Connect to open it eagerly.
func New(cfg config.Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DB{
		cfg:        cfg,
		healthWarn: rate.Sometimes{Interval: 30 * time.Second},
	}, nil
}

// Config returns the configuration the facade was built with.
func (db *DB) Config() config.Config {
	return db.cfg
}

// Connect opens the connection pool. Calling Connect on a connected facade
// is a no-op.
func (db *DB) Connect(ctx context.Context) error {
	mgr, err := db.getManager()
	if err != nil {
		return err
	}
	if _, err := mgr.Pool(ctx); err != nil {
		return err
	}
	return nil
}

// Disconnect closes the pool and drops the facade's reference to it. The
// facade may be reconnected afterwards.
func (db *DB) Disconnect() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.manager != nil {
		db.manager.Close()
		db.manager = nil
		observability.Log().Info("database disconnected",
			observability.F("database", db.cfg.Database))
	}
}

func (db *DB) getManager() (*pool.Manager, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.manager == nil {
		mgr, err := pool.New(db.cfg)
		if err != nil {
			return nil, err
		}
		db.manager = mgr
	}
	return db.manager, nil
}

// WithConn runs fn with a pooled connection, releasing it on every exit path.
func (db *DB) WithConn(ctx context.Context, fn func(*pgxpool.Conn) error) error {
	mgr, err := db.getManager()
	if err != nil {
		return err
	}
	return mgr.WithConn(ctx, fn)
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics; exactly one
// of commit or rollback happens per invocation.
func (db *DB) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithConn(ctx, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return errs.New(errs.KindConnection,
				errs.WithOp("withTx"),
				errs.WithMessage("begin transaction"),
				errs.WithCause(err))
		}
		done := false
		defer func() {
			if !done {
				_ = tx.Rollback(ctx)
			}
		}()
		if err := fn(tx); err != nil {
			done = true
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				observability.Log().Warn("transaction rollback failed",
					observability.F("error", rbErr))
			}
			return err
		}
		done = true
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// Exec runs a parameterized statement and returns the affected-row count.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	mgr, err := db.getManager()
	if err != nil {
		return 0, err
	}
	p, err := mgr.Pool(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := p.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExecMany runs the statement once per parameter set, batched inside a single
// transaction, and returns the total affected-row count.
func (db *DB) ExecMany(ctx context.Context, sql string, paramSets [][]any) (int64, error) {
	if len(paramSets) == 0 {
		return 0, nil
	}
	var total int64
	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, params := range paramSets {
			batch.Queue(sql, params...)
		}
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range paramSets {
			tag, err := results.Exec()
			if err != nil {
				return fmt.Errorf("execMany: %w", err)
			}
			total += tag.RowsAffected()
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// FetchRow returns the first result row as a column map, or nil when the
// query matches nothing.
func (db *DB) FetchRow(ctx context.Context, sql string, args ...any) (Row, error) {
	rows, err := db.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetchRow: %w", err)
	}
	return row, nil
}

// FetchAll returns every result row as a column map.
func (db *DB) FetchAll(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := db.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("fetchAll: %w", err)
	}
	return out, nil
}

// FetchRowValues returns the first result row as an ordered value tuple, or
// nil when the query matches nothing.
func (db *DB) FetchRowValues(ctx context.Context, sql string, args ...any) ([]any, error) {
	rows, err := db.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetchRowValues: %w", err)
		}
		return nil, nil
	}
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("fetchRowValues: %w", err)
	}
	return values, nil
}

// FetchAllValues returns every result row as an ordered value tuple.
func (db *DB) FetchAllValues(ctx context.Context, sql string, args ...any) ([][]any, error) {
	rows, err := db.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("fetchAllValues: %w", err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetchAllValues: %w", err)
	}
	return out, nil
}

// FetchValue returns the first column of the first row, or nil when the
// query matches nothing.
func (db *DB) FetchValue(ctx context.Context, sql string, args ...any) (any, error) {
	mgr, err := db.getManager()
	if err != nil {
		return nil, err
	}
	p, err := mgr.Pool(ctx)
	if err != nil {
		return nil, err
	}
	var value any
	err = p.QueryRow(ctx, sql, args...).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetchValue: %w", err)
	}
	return value, nil
}

func (db *DB) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	mgr, err := db.getManager()
	if err != nil {
		return nil, err
	}
	p, err := mgr.Pool(ctx)
	if err != nil {
		return nil, err
	}
	return p.Query(ctx, sql, args...)
}

// TableExists reports whether a table exists in the given schema
// ("public" when empty).
func (db *DB) TableExists(ctx context.Context, table, schema string) (bool, error) {
	if schema == "" {
		schema = "public"
	}
	const probe = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`
	value, err := db.FetchValue(ctx, probe, schema, table)
	if err != nil {
		return false, err
	}
	exists, _ := value.(bool)
	return exists, nil
}

// HealthCheck runs a trivial query and reports reachability, swallowing and
// logging the underlying error.
func (db *DB) HealthCheck(ctx context.Context) bool {
	value, err := db.FetchValue(ctx, "SELECT 1")
	if err != nil {
		db.healthWarn.Do(func() {
			observability.Log().Warn("health check failed",
				observability.F("database", db.cfg.Database),
				observability.F("error", err))
		})
		return false
	}
	return value != nil
}

// Stats reports connection-pool statistics, with the not-initialized
// sentinel before the first connection.
func (db *DB) Stats() pool.Stats {
	db.mu.Lock()
	mgr := db.manager
	db.mu.Unlock()
	if mgr == nil {
		return pool.Stats{Status: pool.StatusNotInitialized}
	}
	return mgr.Stats()
}
