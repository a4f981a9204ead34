package domain

import (
	"errors"
	"testing"
)

func TestDuplicateTaskError_Unwrap(t *testing.T) {
	err := NewDuplicateTask("reconcile")
	if !errors.Is(err, ErrDuplicateTask) {
		t.Fatal("expected errors.Is(err, ErrDuplicateTask)")
	}
	var dte *DuplicateTaskError
	if !errors.As(err, &dte) || dte.ID != "reconcile" {
		t.Fatalf("expected DuplicateTaskError with id, got %v", err)
	}
}

func TestMigrationError_Unwrap(t *testing.T) {
	err := &MigrationError{Version: 3, Err: ErrPersistence}
	if !errors.Is(err, ErrPersistence) {
		t.Fatal("expected wrapped ErrPersistence")
	}
	if err.Error() != "migration v3: persistence error" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
