package setup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestreldb/pgkit/config"
	"github.com/kestreldb/pgkit/errs"
)

func unreachableConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.New(
		config.WithHost("127.0.0.1"),
		config.WithPort(1),
		config.WithConnectTimeout(time.Second),
		config.WithSSLMode(config.SSLDisable),
	)
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	return cfg
}

func TestCheckConnectionUnreachable(t *testing.T) {
	if CheckConnection(context.Background(), unreachableConfig(t)) {
		t.Fatalf("expected probe to fail against a closed port")
	}
}

func TestEnsureDatabaseRequiresAdminCredentials(t *testing.T) {
	err := EnsureDatabase(context.Background(), unreachableConfig(t), Options{})
	if !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	var e *errs.E
	if !errors.As(err, &e) || e.Message == "" {
		t.Fatalf("expected a descriptive message, got %v", err)
	}
}

func TestEnsureDatabasePrompterErrorPropagates(t *testing.T) {
	prompter := failingPrompter{err: errors.New("tty unavailable")}
	err := EnsureDatabase(context.Background(), unreachableConfig(t), Options{Prompter: prompter})
	if !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if !errors.Is(err, prompter.err) {
		t.Fatalf("expected prompter failure as cause, got %v", err)
	}
}

type failingPrompter struct{ err error }

func (p failingPrompter) AdminCredentials() (string, string, error) {
	return "", "", p.err
}

func TestStaticPrompter(t *testing.T) {
	user, password, err := StaticPrompter{User: "postgres", Password: "pw"}.AdminCredentials()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != "postgres" || password != "pw" {
		t.Fatalf("unexpected credentials: %s/%s", user, password)
	}
}

func TestInitSchemaRequiresInput(t *testing.T) {
	err := InitSchema(context.Background(), unreachableConfig(t), "", "")
	if !errs.IsKind(err, errs.KindSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestInitSchemaMissingFile(t *testing.T) {
	err := InitSchema(context.Background(), unreachableConfig(t), "/nonexistent/schema.sql", "")
	if !errs.IsKind(err, errs.KindSchema) {
		t.Fatalf("expected schema error for missing file, got %v", err)
	}
}

func TestQuoteLiteralEscapesQuotes(t *testing.T) {
	if got := quoteLiteral("o'brien"); got != "'o''brien'" {
		t.Fatalf("unexpected literal quoting: %s", got)
	}
}
