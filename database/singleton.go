package database

import (
	"context"
	"sync"

	"github.com/kestreldb/pgkit/config"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/observability"
	"github.com/kestreldb/pgkit/setup"
)

// Options steers Init.
type Options struct {
	// Config for the facade. When nil, configuration is loaded from the
	// environment with the default prefix.
	Config *config.Config
	// SchemaPath optionally names a SQL file applied during initialisation.
	SchemaPath string
	// SchemaSQL optionally holds schema SQL applied during initialisation
	// (alternative to SchemaPath).
	SchemaSQL string
	// AutoSetup provisions the database and role when the application
	// credentials cannot connect.
	AutoSetup bool
	// Prompter supplies admin credentials for provisioning. A nil Prompter
	// makes provisioning non-interactive.
	Prompter setup.CredentialPrompter
}

var (
	instanceMu sync.Mutex
	instance   *DB
)

// Init initialises the process-wide facade and returns it. When a singleton
// already exists it is returned unchanged: configuration and schema options
// are not reapplied. Otherwise Init optionally provisions the database and
// applies schema SQL, then connects and stores the facade.
func Init(ctx context.Context, opts Options) (*DB, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		observability.Log().Debug("database already initialized, returning existing instance")
		return instance, nil
	}

	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := config.FromEnv("")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	observability.Log().Info("initializing database",
		observability.F("database", cfg.Database),
		observability.F("host", cfg.Host),
		observability.F("port", cfg.Port))

	if opts.AutoSetup {
		err := setup.EnsureDatabase(ctx, cfg, setup.Options{
			SchemaPath: opts.SchemaPath,
			SchemaSQL:  opts.SchemaSQL,
			Prompter:   opts.Prompter,
		})
		if err != nil {
			return nil, err
		}
	} else if opts.SchemaPath != "" || opts.SchemaSQL != "" {
		if err := setup.InitSchema(ctx, cfg, opts.SchemaPath, opts.SchemaSQL); err != nil {
			return nil, err
		}
	}

	db, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}

	instance = db
	observability.Log().Info("database initialization complete")
	return instance, nil
}

// Instance returns the singleton created by Init.
func Instance() (*DB, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return nil, errs.New(errs.KindConnection,
			errs.WithOp("instance"),
			errs.WithMessage("database not initialized, call database.Init first"))
	}
	return instance, nil
}

// Initialized reports whether Init has completed successfully.
func Initialized() bool {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance != nil
}

// ResetInstance disconnects and forgets the singleton. Intended for tests
// and explicit reinitialisation with different configuration.
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		instance.Disconnect()
		instance = nil
		observability.Log().Debug("database singleton reset")
	}
}
