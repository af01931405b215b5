package schema

import (
	"context"
	"strings"
	"testing"

	"github.com/kestreldb/pgkit/errs"
)

func TestInitRequiresInput(t *testing.T) {
	mgr := NewManager(nil)
	err := mgr.Init(context.Background(), "", "")
	if err == nil {
		t.Fatal("expected error when neither file nor content provided")
	}
	if !errs.IsKind(err, errs.KindSchema) {
		t.Fatalf("expected schema kind, got %v", errs.KindOf(err))
	}
}

func TestExecuteSQLFileMissing(t *testing.T) {
	mgr := NewManager(nil)
	err := mgr.ExecuteSQLFile(context.Background(), "/nonexistent/schema.sql")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errs.IsKind(err, errs.KindSchema) {
		t.Fatalf("expected schema kind, got %v", errs.KindOf(err))
	}
	if !strings.Contains(err.Error(), "/nonexistent/schema.sql") {
		t.Fatalf("error should name the missing path: %v", err)
	}
}

func TestRunRejectsEmptyName(t *testing.T) {
	m := NewMigrations(nil)
	_, err := m.Run(context.Background(), "", "CREATE TABLE t (id INT)", true)
	if err == nil {
		t.Fatal("expected error for empty migration name")
	}
	if !errs.IsKind(err, errs.KindSchema) {
		t.Fatalf("expected schema kind, got %v", errs.KindOf(err))
	}
}

func TestRunStatusValues(t *testing.T) {
	if StatusApplied == StatusSkipped {
		t.Fatal("statuses must be distinct")
	}
	if string(StatusApplied) != "applied" || string(StatusSkipped) != "skipped" {
		t.Fatalf("unexpected status values: %q %q", StatusApplied, StatusSkipped)
	}
}
