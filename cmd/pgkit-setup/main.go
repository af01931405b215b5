// Command pgkit-setup provisions a PostgreSQL database, role, and schema for
// first-run deployments.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kestreldb/pgkit/config"
	"github.com/kestreldb/pgkit/observability"
	"github.com/kestreldb/pgkit/setup"
)

const defaultTimeout = 60 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    = flag.String("config", "", "YAML configuration file (defaults to environment variables)")
		envPrefix     = flag.String("env-prefix", "", "Environment variable prefix (default PGKIT_)")
		schemaPath    = flag.String("schema", "", "SQL file applied after provisioning")
		adminUser     = flag.String("admin-user", "", "Admin role used for provisioning (prompts when empty)")
		adminPassword = flag.String("admin-password", "", "Admin password (prompts when empty)")
		checkOnly     = flag.Bool("check", false, "Only probe connectivity with the application credentials")
		timeout       = flag.Duration("timeout", defaultTimeout, "Overall setup deadline")
	)
	flag.Parse()

	observability.SetLogger(observability.NewSlogLogger(slog.New(
		slog.NewTextHandler(os.Stdout, nil))))

	var (
		cfg config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.FromEnv(*envPrefix)
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *checkOnly {
		if !setup.CheckConnection(ctx, cfg) {
			return fmt.Errorf("cannot connect to %s", cfg.String())
		}
		fmt.Printf("connection ok: %s\n", cfg.String())
		return nil
	}

	opts := setup.Options{
		SchemaPath:    *schemaPath,
		AdminUser:     *adminUser,
		AdminPassword: *adminPassword,
	}
	if *adminUser == "" || *adminPassword == "" {
		opts.Prompter = setup.TerminalPrompter{DefaultUser: "postgres"}
	}
	if err := setup.EnsureDatabase(ctx, cfg, opts); err != nil {
		return err
	}
	fmt.Printf("database ready: %s\n", cfg.String())
	return nil
}
