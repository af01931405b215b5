package database

import (
	"context"
	"strings"
	"testing"

	"github.com/kestreldb/pgkit/config"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/pool"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.New(
		config.WithHost("localhost"),
		config.WithDatabase("pgkit_test"),
		config.WithCredentials("pgkit", "secret"),
		config.WithCheckConnection(false),
	)
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(config.Config{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errs.IsKind(err, errs.KindConfiguration) {
		t.Fatalf("expected configuration kind, got %v", errs.KindOf(err))
	}
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	db, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := db.Config().Database; got != "pgkit_test" {
		t.Fatalf("unexpected database: %q", got)
	}
}

func TestStatsBeforeConnect(t *testing.T) {
	db, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	stats := db.Stats()
	if stats.Status != pool.StatusNotInitialized {
		t.Fatalf("expected %q, got %q", pool.StatusNotInitialized, stats.Status)
	}
	if !strings.Contains(stats.String(), pool.StatusNotInitialized) {
		t.Fatalf("stats string should carry status: %s", stats.String())
	}
}

func TestDisconnectWithoutConnect(t *testing.T) {
	db, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	db.Disconnect()
	db.Disconnect()
	if db.Stats().Status != pool.StatusNotInitialized {
		t.Fatal("disconnect must leave the facade uninitialised")
	}
}

func TestExecManyEmptyInput(t *testing.T) {
	db, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	affected, err := db.ExecMany(context.Background(), "UPDATE t SET x = $1", nil)
	if err != nil {
		t.Fatalf("execMany with no param sets: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected zero affected rows, got %d", affected)
	}
}
