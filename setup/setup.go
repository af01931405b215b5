// Package setup provisions databases and roles for first-run initialisation.
package setup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestreldb/pgkit/config"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/observability"
)

const probeTimeout = 5 * time.Second

// Options steers EnsureDatabase.
type Options struct {
	// SchemaPath optionally names a SQL file applied once the database is
	// reachable.
	SchemaPath string
	// SchemaSQL optionally holds schema SQL (alternative to SchemaPath).
	SchemaSQL string
	// AdminUser and AdminPassword provide elevated credentials for
	// provisioning. When empty, the Prompter is consulted.
	AdminUser     string
	AdminPassword string
	// Prompter supplies admin credentials interactively. Nil means
	// non-interactive: provisioning fails when credentials are missing.
	Prompter CredentialPrompter
}

// CheckConnection reports whether the application credentials can reach the
// configured database. Uses a direct connection, not the pool.
func CheckConnection(ctx context.Context, cfg config.Config) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := pgx.Connect(probeCtx, cfg.DSN())
	if err != nil {
		observability.Log().Debug("connection check failed",
			observability.F("database", cfg.Database),
			observability.F("error", err))
		return false
	}
	defer func() { _ = conn.Close(ctx) }()

	var one int
	if err := conn.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return false
	}
	return one == 1
}

// EnsureDatabase makes sure the configured database and role exist and are
// reachable with the application credentials, provisioning them with admin
// credentials when the initial probe fails, then applies schema SQL when
// provided.
func EnsureDatabase(ctx context.Context, cfg config.Config, opts Options) error {
	if !CheckConnection(ctx, cfg) {
		observability.Log().Info("connection failed, attempting setup",
			observability.F("database", cfg.Database))

		adminUser, adminPassword, err := adminCredentials(opts)
		if err != nil {
			return err
		}
		if err := Provision(ctx, cfg, adminUser, adminPassword); err != nil {
			return err
		}
		if !CheckConnection(ctx, cfg) {
			return errs.New(errs.KindConnection,
				errs.WithOp("ensureDatabase"),
				errs.WithMessage("connection still fails after setup"))
		}
	}

	if opts.SchemaPath != "" || opts.SchemaSQL != "" {
		return InitSchema(ctx, cfg, opts.SchemaPath, opts.SchemaSQL)
	}
	return nil
}

func adminCredentials(opts Options) (string, string, error) {
	user, password := opts.AdminUser, opts.AdminPassword
	if user != "" && password != "" {
		return user, password, nil
	}
	if opts.Prompter == nil {
		return "", "", errs.New(errs.KindConnection,
			errs.WithOp("ensureDatabase"),
			errs.WithMessage("admin credentials required for database setup"))
	}
	promptedUser, promptedPassword, err := opts.Prompter.AdminCredentials()
	if err != nil {
		return "", "", errs.New(errs.KindConnection,
			errs.WithOp("ensureDatabase"),
			errs.WithMessage("prompt for admin credentials"),
			errs.WithCause(err))
	}
	if user == "" {
		user = promptedUser
	}
	if password == "" {
		password = promptedPassword
	}
	return user, password, nil
}

// Provision creates the configured database and role with elevated
// credentials and grants the role full privileges on both.
func Provision(ctx context.Context, cfg config.Config, adminUser, adminPassword string) error {
	observability.Log().Info("provisioning database",
		observability.F("database", cfg.Database),
		observability.F("user", cfg.User),
		observability.F("admin", adminUser))

	conn, err := pgx.Connect(ctx, cfg.AdminDSN(adminUser, adminPassword, ""))
	if err != nil {
		return errs.New(errs.KindConnection,
			errs.WithOp("provision"),
			errs.WithMessage("connect with admin credentials"),
			errs.WithCause(err))
	}
	defer func() { _ = conn.Close(ctx) }()

	if err := ensureDatabaseExists(ctx, conn, cfg.Database); err != nil {
		return err
	}
	if err := ensureRoleExists(ctx, conn, cfg.User, cfg.Password); err != nil {
		return err
	}

	grantDB := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
		pgx.Identifier{cfg.Database}.Sanitize(),
		pgx.Identifier{cfg.User}.Sanitize())
	if _, err := conn.Exec(ctx, grantDB); err != nil {
		return errs.New(errs.KindUserManagement,
			errs.WithOp("provision"),
			errs.WithMessage(fmt.Sprintf("grant database privileges to %q", cfg.User)),
			errs.WithCause(err))
	}

	return grantSchemaPrivileges(ctx, cfg, adminUser, adminPassword)
}

func ensureDatabaseExists(ctx context.Context, conn *pgx.Conn, name string) error {
	var exists bool
	err := conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return errs.New(errs.KindConnection,
			errs.WithOp("provision"),
			errs.WithMessage("check database existence"),
			errs.WithCause(err))
	}
	if exists {
		observability.Log().Info("database already exists", observability.F("database", name))
		return nil
	}
	// CREATE DATABASE cannot run inside a transaction or take bind params.
	stmt := "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return errs.New(errs.KindConnection,
			errs.WithOp("provision"),
			errs.WithMessage(fmt.Sprintf("create database %q", name)),
			errs.WithCause(err))
	}
	observability.Log().Info("database created", observability.F("database", name))
	return nil
}

func ensureRoleExists(ctx context.Context, conn *pgx.Conn, user, password string) error {
	var exists bool
	err := conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", user).Scan(&exists)
	if err != nil {
		return errs.New(errs.KindUserManagement,
			errs.WithOp("provision"),
			errs.WithMessage("check role existence"),
			errs.WithCause(err))
	}
	var stmt string
	if exists {
		// Reset the password so it matches the application configuration.
		stmt = fmt.Sprintf("ALTER ROLE %s WITH PASSWORD %s",
			pgx.Identifier{user}.Sanitize(), quoteLiteral(password))
	} else {
		stmt = fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s",
			pgx.Identifier{user}.Sanitize(), quoteLiteral(password))
	}
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return errs.New(errs.KindUserManagement,
			errs.WithOp("provision"),
			errs.WithMessage(fmt.Sprintf("create or update role %q", user)),
			errs.WithCause(err))
	}
	observability.Log().Info("role ensured", observability.F("user", user))
	return nil
}

func grantSchemaPrivileges(ctx context.Context, cfg config.Config, adminUser, adminPassword string) error {
	conn, err := pgx.Connect(ctx, cfg.AdminDSN(adminUser, adminPassword, cfg.Database))
	if err != nil {
		return errs.New(errs.KindConnection,
			errs.WithOp("provision"),
			errs.WithMessage("connect to target database for schema grants"),
			errs.WithCause(err))
	}
	defer func() { _ = conn.Close(ctx) }()

	user := pgx.Identifier{cfg.User}.Sanitize()
	statements := []string{
		"GRANT ALL ON SCHEMA public TO " + user,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON TABLES TO " + user,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON SEQUENCES TO " + user,
	}
	for _, stmt := range statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return errs.New(errs.KindUserManagement,
				errs.WithOp("provision"),
				errs.WithMessage(fmt.Sprintf("grant schema privileges to %q", cfg.User)),
				errs.WithCause(err))
		}
	}
	return nil
}

// InitSchema applies schema SQL from a file or literal string over a direct
// connection.
func InitSchema(ctx context.Context, cfg config.Config, schemaPath, schemaSQL string) error {
	if schemaPath == "" && schemaSQL == "" {
		return errs.New(errs.KindSchema,
			errs.WithOp("initSchema"),
			errs.WithMessage("either a schema path or schema SQL must be provided"))
	}
	if schemaPath != "" {
		raw, err := os.ReadFile(schemaPath)
		if err != nil {
			return errs.New(errs.KindSchema,
				errs.WithOp("initSchema"),
				errs.WithMessage(fmt.Sprintf("schema file not found: %s", schemaPath)),
				errs.WithCause(err))
		}
		schemaSQL = string(raw)
	}

	conn, err := pgx.Connect(ctx, cfg.DSN())
	if err != nil {
		return errs.New(errs.KindConnection,
			errs.WithOp("initSchema"),
			errs.WithMessage("connect for schema initialisation"),
			errs.WithCause(err))
	}
	defer func() { _ = conn.Close(ctx) }()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return errs.New(errs.KindSchema,
			errs.WithOp("initSchema"),
			errs.WithMessage("begin schema transaction"),
			errs.WithCause(err))
	}
	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		_ = tx.Rollback(ctx)
		return errs.New(errs.KindSchema,
			errs.WithOp("initSchema"),
			errs.WithMessage("apply schema SQL"),
			errs.WithCause(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.New(errs.KindSchema,
			errs.WithOp("initSchema"),
			errs.WithMessage("commit schema transaction"),
			errs.WithCause(err))
	}
	observability.Log().Info("schema initialized")
	return nil
}

// quoteLiteral renders a string as a single-quoted SQL literal. Needed for
// role DDL, which cannot take bind parameters.
func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
