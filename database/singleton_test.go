package database

import (
	"testing"

	"github.com/kestreldb/pgkit/errs"
)

func TestInstanceBeforeInit(t *testing.T) {
	ResetInstance()
	_, err := Instance()
	if err == nil {
		t.Fatal("expected error before Init")
	}
	if !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("expected connection kind, got %v", errs.KindOf(err))
	}
	if Initialized() {
		t.Fatal("Initialized must be false before Init")
	}
}

func TestResetInstanceIdempotent(t *testing.T) {
	ResetInstance()
	ResetInstance()
	if Initialized() {
		t.Fatal("reset must leave no singleton behind")
	}
}
