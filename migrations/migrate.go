// Package migrations wires golang-migrate execution for versioned schema
// changes.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migdb "github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kestreldb/pgkit/lib/telemetry"
	"github.com/kestreldb/pgkit/observability"
)

var (
	errNotDirectory = errors.New("migrations path must be a directory")

	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// Apply ensures the migrations located at migrationsDir are applied to the
// Postgres instance reachable via dsn.
func Apply(ctx context.Context, dsn, migrationsDir string) error {
	return run(ctx, dsn, migrationsDir, nil, func(m *migrate.Migrate) error { return m.Up() }, "apply")
}

// ApplyFS applies migrations from an in-memory filesystem such as an
// embed.FS. The dir argument names the subdirectory holding the SQL files.
func ApplyFS(ctx context.Context, dsn string, files fs.FS, dir string) error {
	return run(ctx, dsn, dir, files, func(m *migrate.Migrate) error { return m.Up() }, "apply")
}

// Rollback reverts the most recent steps migrations at migrationsDir.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int) error {
	if steps < 1 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return run(ctx, dsn, migrationsDir, nil, func(m *migrate.Migrate) error { return m.Steps(-steps) }, "rollback")
}

func run(ctx context.Context, dsn, dir string, files fs.FS, step func(*migrate.Migrate) error, action string) error {
	if files == nil {
		resolved, err := resolveDir(dir)
		if err != nil {
			return err
		}
		dir = resolved
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			observability.Log().Warn("migrations connection close",
				observability.F("error", cerr.Error()))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := newInstance(dir, files, driver)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			observability.Log().Warn("migrations source close",
				observability.F("error", sourceErr.Error()))
		}
		if dbErr != nil {
			observability.Log().Warn("migrations db close",
				observability.F("error", dbErr.Error()))
		}
	}()

	observability.Log().Info("running database migrations",
		observability.F("path", dir),
		observability.F("action", action))

	if err := step(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, "noop", dir)
			observability.Log().Info("database migrations up-to-date")
			return nil
		}
		recordMigrationMetric(ctx, "failed", dir)
		return fmt.Errorf("%s migrations: %w", action, err)
	}

	observability.Log().Info("database migrations completed",
		observability.F("action", action))
	recordMigrationMetric(ctx, action, dir)

	return nil
}

func newInstance(dir string, files fs.FS, driver migdb.Driver) (*migrate.Migrate, error) {
	if files != nil {
		source, err := iofs.New(files, dir)
		if err != nil {
			return nil, fmt.Errorf("initialise iofs source: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
		if err != nil {
			return nil, fmt.Errorf("initialise migrate instance: %w", err)
		}
		return m, nil
	}

	m, err := migrate.NewWithDatabaseInstance(fileURL(dir), "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("initialise migrate instance: %w", err)
	}
	return m, nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}

func recordMigrationMetric(ctx context.Context, result, path string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("pgkit.migrations")
		counter, err := meter.Int64Counter("pgkit_db_migrations_total",
			metric.WithDescription("Total migrations executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("environment", telemetry.Environment()),
		attribute.String("result", result),
	}
	if path != "" {
		attrs = append(attrs, attribute.String("migrations_path", path))
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
