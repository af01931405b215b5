// Package users manages PostgreSQL roles through the database facade.
package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestreldb/pgkit/database"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/observability"
)

// CreateOptions controls role attributes for CreateUser.
type CreateOptions struct {
	Superuser   bool
	CreateDB    bool
	CreateRole  bool
	NoLogin     bool
	NoInherit   bool
	ConnLimit   int
	ValidUntil  time.Time
	IfNotExists bool
}

// User describes one PostgreSQL role.
type User struct {
	Name       string
	Superuser  bool
	CreateDB   bool
	CreateRole bool
	CanLogin   bool
	ConnLimit  int
}

// Manager performs role operations.
type Manager struct {
	db *database.DB
}

// NewManager constructs a user manager.
func NewManager(db *database.DB) *Manager {
	return &Manager{db: db}
}

// Exists reports whether a role exists.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	const probe = `SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`
	value, err := m.db.FetchValue(ctx, probe, name)
	if err != nil {
		return false, errs.Wrap(errs.KindUserManagement, "exists", err)
	}
	exists, _ := value.(bool)
	return exists, nil
}

// Create creates a login role with the given password.
func (m *Manager) Create(ctx context.Context, name, password string, opts CreateOptions) error {
	if name == "" {
		return errs.New(errs.KindUserManagement,
			errs.WithOp("create"),
			errs.WithMessage("role name must not be empty"))
	}
	if opts.IfNotExists {
		exists, err := m.Exists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			observability.Log().Debug("role already exists", observability.F("role", name))
			return nil
		}
	}
	stmt := "CREATE ROLE " + pgx.Identifier{name}.Sanitize() + " WITH " + strings.Join(roleAttributes(password, opts), " ")
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindUserManagement, "create", err,
			errs.WithMessage(fmt.Sprintf("create role %q", name)))
	}
	observability.Log().Info("role created", observability.F("role", name))
	return nil
}

// Drop removes a role.
func (m *Manager) Drop(ctx context.Context, name string, ifExists bool) error {
	stmt := "DROP ROLE "
	if ifExists {
		stmt += "IF EXISTS "
	}
	stmt += pgx.Identifier{name}.Sanitize()
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindUserManagement, "drop", err,
			errs.WithMessage(fmt.Sprintf("drop role %q", name)))
	}
	observability.Log().Info("role dropped", observability.F("role", name))
	return nil
}

// ChangePassword sets a new password for a role.
func (m *Manager) ChangePassword(ctx context.Context, name, password string) error {
	stmt := "ALTER ROLE " + pgx.Identifier{name}.Sanitize() + " WITH PASSWORD " + quoteLiteral(password)
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindUserManagement, "changePassword", err,
			errs.WithMessage(fmt.Sprintf("alter role %q", name)))
	}
	observability.Log().Info("role password changed", observability.F("role", name))
	return nil
}

// GrantDatabase grants all privileges on a database to a role.
func (m *Manager) GrantDatabase(ctx context.Context, role, dbName string) error {
	stmt := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
		pgx.Identifier{dbName}.Sanitize(), pgx.Identifier{role}.Sanitize())
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindUserManagement, "grantDatabase", err,
			errs.WithMessage(fmt.Sprintf("grant database %q to %q", dbName, role)))
	}
	return nil
}

// GrantSchema grants usage and object privileges on a schema to a role.
func (m *Manager) GrantSchema(ctx context.Context, role, schemaName string) error {
	roleIdent := pgx.Identifier{role}.Sanitize()
	schemaIdent := pgx.Identifier{schemaName}.Sanitize()
	statements := []string{
		fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", schemaIdent, roleIdent),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA %s TO %s", schemaIdent, roleIdent),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA %s TO %s", schemaIdent, roleIdent),
	}
	for _, stmt := range statements {
		if _, err := m.db.Exec(ctx, stmt); err != nil {
			return errs.Wrap(errs.KindUserManagement, "grantSchema", err,
				errs.WithMessage(fmt.Sprintf("grant schema %q to %q", schemaName, role)))
		}
	}
	return nil
}

// GrantTable grants privileges on a table to a role. An empty privilege list
// grants ALL.
func (m *Manager) GrantTable(ctx context.Context, role, table, schemaName string, privileges []string) error {
	clause, err := privilegeList(privileges)
	if err != nil {
		return errs.New(errs.KindUserManagement,
			errs.WithOp("grantTable"),
			errs.WithTable(table),
			errs.WithCause(err))
	}
	stmt := fmt.Sprintf("GRANT %s ON TABLE %s TO %s",
		clause,
		qualifiedTable(table, schemaName),
		pgx.Identifier{role}.Sanitize())
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindUserManagement, "grantTable", err,
			errs.WithTable(table))
	}
	return nil
}

// RevokeTable revokes privileges on a table from a role. An empty privilege
// list revokes ALL.
func (m *Manager) RevokeTable(ctx context.Context, role, table, schemaName string, privileges []string) error {
	clause, err := privilegeList(privileges)
	if err != nil {
		return errs.New(errs.KindUserManagement,
			errs.WithOp("revokeTable"),
			errs.WithTable(table),
			errs.WithCause(err))
	}
	stmt := fmt.Sprintf("REVOKE %s ON TABLE %s FROM %s",
		clause,
		qualifiedTable(table, schemaName),
		pgx.Identifier{role}.Sanitize())
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.KindUserManagement, "revokeTable", err,
			errs.WithTable(table))
	}
	return nil
}

// List returns the non-system roles visible in pg_roles.
func (m *Manager) List(ctx context.Context) ([]User, error) {
	const query = `
		SELECT rolname, rolsuper, rolcreatedb, rolcreaterole, rolcanlogin, rolconnlimit
		FROM pg_roles
		WHERE rolname NOT LIKE 'pg\_%'
		ORDER BY rolname`
	rows, err := m.db.FetchAll(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.KindUserManagement, "list", err)
	}
	out := make([]User, 0, len(rows))
	for _, row := range rows {
		u := User{}
		if v, ok := row["rolname"].(string); ok {
			u.Name = v
		}
		if v, ok := row["rolsuper"].(bool); ok {
			u.Superuser = v
		}
		if v, ok := row["rolcreatedb"].(bool); ok {
			u.CreateDB = v
		}
		if v, ok := row["rolcreaterole"].(bool); ok {
			u.CreateRole = v
		}
		if v, ok := row["rolcanlogin"].(bool); ok {
			u.CanLogin = v
		}
		switch v := row["rolconnlimit"].(type) {
		case int32:
			u.ConnLimit = int(v)
		case int64:
			u.ConnLimit = int(v)
		}
		out = append(out, u)
	}
	return out, nil
}

func roleAttributes(password string, opts CreateOptions) []string {
	attrs := make([]string, 0, 6)
	if opts.NoLogin {
		attrs = append(attrs, "NOLOGIN")
	} else {
		attrs = append(attrs, "LOGIN")
	}
	if password != "" {
		attrs = append(attrs, "PASSWORD "+quoteLiteral(password))
	}
	if opts.Superuser {
		attrs = append(attrs, "SUPERUSER")
	}
	if opts.CreateDB {
		attrs = append(attrs, "CREATEDB")
	}
	if opts.CreateRole {
		attrs = append(attrs, "CREATEROLE")
	}
	if opts.NoInherit {
		attrs = append(attrs, "NOINHERIT")
	}
	if opts.ConnLimit > 0 {
		attrs = append(attrs, fmt.Sprintf("CONNECTION LIMIT %d", opts.ConnLimit))
	}
	if !opts.ValidUntil.IsZero() {
		attrs = append(attrs, "VALID UNTIL "+quoteLiteral(opts.ValidUntil.Format(time.RFC3339)))
	}
	return attrs
}

// quoteLiteral wraps a string as a single-quoted SQL literal. Role DDL does
// not accept bind parameters for passwords.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func qualifiedTable(table, schemaName string) string {
	if schemaName == "" {
		schemaName = "public"
	}
	return pgx.Identifier{schemaName, table}.Sanitize()
}

var allowedPrivileges = map[string]struct{}{
	"SELECT": {}, "INSERT": {}, "UPDATE": {}, "DELETE": {},
	"TRUNCATE": {}, "REFERENCES": {}, "TRIGGER": {},
}

// privilegeList renders a comma-separated privilege clause. Only table
// privilege keywords are accepted.
func privilegeList(privileges []string) (string, error) {
	if len(privileges) == 0 {
		return "ALL PRIVILEGES", nil
	}
	kept := make([]string, 0, len(privileges))
	for _, p := range privileges {
		upper := strings.ToUpper(strings.TrimSpace(p))
		if _, ok := allowedPrivileges[upper]; !ok {
			return "", fmt.Errorf("unknown table privilege %q", p)
		}
		kept = append(kept, upper)
	}
	return strings.Join(kept, ", "), nil
}
