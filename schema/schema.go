// Package schema manages database schema operations and simple migration
// tracking for pgkit.
package schema

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/kestreldb/pgkit/database"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/observability"
)

// Manager performs schema-level operations through the database facade.
type Manager struct {
	db *database.DB
}

// NewManager constructs a schema manager.
func NewManager(db *database.DB) *Manager {
	return &Manager{db: db}
}

// TableExists reports whether a table exists in the given schema.
func (m *Manager) TableExists(ctx context.Context, table, schemaName string) (bool, error) {
	return m.db.TableExists(ctx, table, schemaName)
}

// SchemaExists reports whether a schema exists.
func (m *Manager) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	const probe = `
		SELECT EXISTS (
			SELECT FROM information_schema.schemata
			WHERE schema_name = $1
		)`
	value, err := m.db.FetchValue(ctx, probe, schemaName)
	if err != nil {
		return false, errs.Wrap(errs.KindSchema, "schemaExists", err)
	}
	exists, _ := value.(bool)
	return exists, nil
}

// CreateSchema creates a database schema.
func (m *Manager) CreateSchema(ctx context.Context, schemaName string, ifNotExists bool) error {
	stmt := "CREATE SCHEMA "
	if ifNotExists {
		stmt += "IF NOT EXISTS "
	}
	stmt += pgx.Identifier{schemaName}.Sanitize()
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindSchema, "createSchema", err,
			errs.WithMessage(fmt.Sprintf("create schema %q", schemaName)))
	}
	observability.Log().Info("schema created", observability.F("schema", schemaName))
	return nil
}

// ExecuteSQLFile applies an SQL file within a transaction.
func (m *Manager) ExecuteSQLFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.KindSchema,
			errs.WithOp("executeSQLFile"),
			errs.WithMessage(fmt.Sprintf("SQL file not found: %s", path)),
			errs.WithCause(err))
	}
	if err := m.ExecuteSQL(ctx, string(raw)); err != nil {
		return err
	}
	observability.Log().Info("executed SQL file", observability.F("path", path))
	return nil
}

// ExecuteSQL applies raw SQL within a transaction.
func (m *Manager) ExecuteSQL(ctx context.Context, sql string) error {
	err := m.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, sql)
		return execErr
	})
	if err != nil {
		return errs.Wrap(errs.KindSchema, "executeSQL", err)
	}
	return nil
}

// Tables lists base tables in a schema ("public" when empty).
func (m *Manager) Tables(ctx context.Context, schemaName string) ([]string, error) {
	if schemaName == "" {
		schemaName = "public"
	}
	const query = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	rows, err := m.db.FetchAllValues(ctx, query, schemaName)
	if err != nil {
		return nil, errs.Wrap(errs.KindSchema, "tables", err)
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			if name, ok := row[0].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Column describes one column of a table.
type Column struct {
	Name     string
	DataType string
	Nullable bool
	Default  string
}

// Columns returns column metadata for a table in ordinal order.
func (m *Manager) Columns(ctx context.Context, table, schemaName string) ([]Column, error) {
	if schemaName == "" {
		schemaName = "public"
	}
	const query = `
		SELECT
			column_name,
			data_type,
			is_nullable,
			column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`
	rows, err := m.db.FetchAll(ctx, query, schemaName, table)
	if err != nil {
		return nil, errs.Wrap(errs.KindSchema, "columns", err, errs.WithTable(table))
	}
	out := make([]Column, 0, len(rows))
	for _, row := range rows {
		col := Column{}
		if v, ok := row["column_name"].(string); ok {
			col.Name = v
		}
		if v, ok := row["data_type"].(string); ok {
			col.DataType = v
		}
		if v, ok := row["is_nullable"].(string); ok {
			col.Nullable = v == "YES"
		}
		if v, ok := row["column_default"].(string); ok {
			col.Default = v
		}
		out = append(out, col)
	}
	return out, nil
}

// DropTable drops a table.
func (m *Manager) DropTable(ctx context.Context, table, schemaName string, cascade, ifExists bool) error {
	if schemaName == "" {
		schemaName = "public"
	}
	stmt := "DROP TABLE "
	if ifExists {
		stmt += "IF EXISTS "
	}
	stmt += pgx.Identifier{schemaName, table}.Sanitize()
	if cascade {
		stmt += " CASCADE"
	}
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindSchema, "dropTable", err, errs.WithTable(table))
	}
	observability.Log().Info("table dropped",
		observability.F("schema", schemaName),
		observability.F("table", table))
	return nil
}

// Init applies the initial schema from a file or a literal SQL string.
func (m *Manager) Init(ctx context.Context, sqlFile, sqlContent string) error {
	switch {
	case sqlFile != "":
		return m.ExecuteSQLFile(ctx, sqlFile)
	case sqlContent != "":
		return m.ExecuteSQL(ctx, sqlContent)
	default:
		return errs.New(errs.KindSchema,
			errs.WithOp("init"),
			errs.WithMessage("either an SQL file or SQL content must be provided"))
	}
}
