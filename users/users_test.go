package users

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kestreldb/pgkit/errs"
)

func TestCreateRejectsEmptyName(t *testing.T) {
	m := NewManager(nil)
	err := m.Create(context.Background(), "", "secret", CreateOptions{})
	if err == nil {
		t.Fatal("expected error for empty role name")
	}
	if !errs.IsKind(err, errs.KindUserManagement) {
		t.Fatalf("expected user management kind, got %v", errs.KindOf(err))
	}
}

func TestRoleAttributesDefaults(t *testing.T) {
	attrs := roleAttributes("secret", CreateOptions{})
	joined := strings.Join(attrs, " ")
	if !strings.HasPrefix(joined, "LOGIN ") {
		t.Fatalf("expected LOGIN first, got %q", joined)
	}
	if !strings.Contains(joined, "PASSWORD 'secret'") {
		t.Fatalf("expected password literal, got %q", joined)
	}
	for _, forbidden := range []string{"SUPERUSER", "CREATEDB", "CREATEROLE", "CONNECTION LIMIT", "VALID UNTIL"} {
		if strings.Contains(joined, forbidden) {
			t.Fatalf("unexpected attribute %s in %q", forbidden, joined)
		}
	}
}

func TestRoleAttributesAllOptions(t *testing.T) {
	until := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	attrs := roleAttributes("", CreateOptions{
		Superuser:  true,
		CreateDB:   true,
		CreateRole: true,
		NoLogin:    true,
		NoInherit:  true,
		ConnLimit:  10,
		ValidUntil: until,
	})
	joined := strings.Join(attrs, " ")
	for _, want := range []string{"NOLOGIN", "NOINHERIT", "SUPERUSER", "CREATEDB", "CREATEROLE", "CONNECTION LIMIT 10", "VALID UNTIL '2030-01-02T03:04:05Z'"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %s in %q", want, joined)
		}
	}
	if strings.Contains(joined, "PASSWORD") {
		t.Fatalf("empty password must not emit PASSWORD clause: %q", joined)
	}
}

func TestPrivilegeList(t *testing.T) {
	got, err := privilegeList(nil)
	if err != nil || got != "ALL PRIVILEGES" {
		t.Fatalf("empty list should grant all, got %q err=%v", got, err)
	}
	got, err = privilegeList([]string{"select", " Insert "})
	if err != nil || got != "SELECT, INSERT" {
		t.Fatalf("unexpected privilege clause: %q err=%v", got, err)
	}
	if _, err = privilegeList([]string{"DROP TABLE x; --"}); err == nil {
		t.Fatal("unknown keywords must be rejected")
	}
}

func TestGrantTableRejectsUnknownPrivilege(t *testing.T) {
	m := NewManager(nil)
	err := m.GrantTable(context.Background(), "app", "accounts", "", []string{"EXPLODE"})
	if err == nil {
		t.Fatal("expected error for unknown privilege")
	}
	if !errs.IsKind(err, errs.KindUserManagement) {
		t.Fatalf("expected user management kind, got %v", errs.KindOf(err))
	}
}

func TestQuoteLiteralEscapesQuotes(t *testing.T) {
	got := quoteLiteral("o'brien")
	if got != "'o''brien'" {
		t.Fatalf("unexpected literal: %q", got)
	}
}
