package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestreldb/pgkit/database"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/observability"
)

// MigrationsTable is the bookkeeping table that records applied migrations.
const MigrationsTable = "pgkit_migrations"

// RunStatus reports the outcome of a Run call.
type RunStatus string

const (
	// StatusApplied means the migration SQL executed and was recorded.
	StatusApplied RunStatus = "applied"
	// StatusSkipped means the migration was already recorded and Run was
	// asked to skip applied migrations.
	StatusSkipped RunStatus = "skipped"
)

// AppliedMigration is one row of the bookkeeping table.
type AppliedMigration struct {
	Name      string
	AppliedAt time.Time
}

// Migrations tracks named one-shot migrations in a bookkeeping table.
type Migrations struct {
	db *database.DB
}

// NewMigrations constructs a migration tracker.
func NewMigrations(db *database.DB) *Migrations {
	return &Migrations{db: db}
}

// InitTable creates the bookkeeping table when missing.
func (m *Migrations) InitTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pgx.Identifier{MigrationsTable}.Sanitize())
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindSchema, "initTable", err, errs.WithTable(MigrationsTable))
	}
	return nil
}

// IsApplied reports whether a named migration has been recorded.
func (m *Migrations) IsApplied(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1)`,
		pgx.Identifier{MigrationsTable}.Sanitize())
	value, err := m.db.FetchValue(ctx, query, name)
	if err != nil {
		return false, errs.Wrap(errs.KindSchema, "isApplied", err, errs.WithMigration(name))
	}
	applied, _ := value.(bool)
	return applied, nil
}

// MarkApplied records a migration without executing any SQL.
func (m *Migrations) MarkApplied(ctx context.Context, name string) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		pgx.Identifier{MigrationsTable}.Sanitize())
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindSchema, "markApplied", err, errs.WithMigration(name))
	}
	return nil
}

// Applied returns the recorded migrations in application order.
func (m *Migrations) Applied(ctx context.Context) ([]AppliedMigration, error) {
	query := fmt.Sprintf(`SELECT name, applied_at FROM %s ORDER BY id`,
		pgx.Identifier{MigrationsTable}.Sanitize())
	rows, err := m.db.FetchAll(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.KindSchema, "applied", err)
	}
	out := make([]AppliedMigration, 0, len(rows))
	for _, row := range rows {
		rec := AppliedMigration{}
		if v, ok := row["name"].(string); ok {
			rec.Name = v
		}
		if v, ok := row["applied_at"].(time.Time); ok {
			rec.AppliedAt = v
		}
		out = append(out, rec)
	}
	return out, nil
}

// Run executes a named migration. The SQL and the bookkeeping insert commit
// in a single transaction so a failed migration leaves no record behind.
// When skipIfApplied is set and the name is already recorded, the SQL does
// not execute and StatusSkipped is returned.
func (m *Migrations) Run(ctx context.Context, name, sql string, skipIfApplied bool) (RunStatus, error) {
	if name == "" {
		return "", errs.New(errs.KindSchema,
			errs.WithOp("run"),
			errs.WithMessage("migration name must not be empty"))
	}
	if err := m.InitTable(ctx); err != nil {
		return "", err
	}
	if skipIfApplied {
		applied, err := m.IsApplied(ctx, name)
		if err != nil {
			return "", err
		}
		if applied {
			observability.Log().Debug("migration already applied",
				observability.F("migration", name))
			return StatusSkipped, nil
		}
	}
	record := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		pgx.Identifier{MigrationsTable}.Sanitize())
	err := m.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, execErr := tx.Exec(ctx, sql); execErr != nil {
			return execErr
		}
		_, execErr := tx.Exec(ctx, record, name)
		return execErr
	})
	if err != nil {
		return "", errs.Wrap(errs.KindSchema, "run", err, errs.WithMigration(name))
	}
	observability.Log().Info("migration applied", observability.F("migration", name))
	return StatusApplied, nil
}
