package keyring

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestPassphraseLifecycle(t *testing.T) {
	keyring.MockInit()

	const account = "5f0c2d4e-8a1b-4c3d-9e2f-0a1b2c3d4e5f"

	if HasPassphrase(account) {
		t.Fatal("Fresh keyring should be empty")
	}
	if _, err := GetPassphrase(account); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := SavePassphrase(account, "correct horse"); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if !HasPassphrase(account) {
		t.Error("Passphrase should be stored")
	}

	got, err := GetPassphrase(account)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got != "correct horse" {
		t.Errorf("Passphrase mismatch: got %q", got)
	}

	if HasPassphrase("other") {
		t.Error("Accounts must not share entries")
	}

	if err := DeletePassphrase(account); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if HasPassphrase(account) {
		t.Error("Passphrase should be gone")
	}
	if err := DeletePassphrase(account); err != nil {
		t.Errorf("Deleting an absent entry should succeed, got %v", err)
	}
}

func TestKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))

	if err := SavePassphrase("a", "b"); err == nil {
		t.Error("Expected save error")
	}
	if HasPassphrase("a") {
		t.Error("Unavailable keyring has no entries")
	}
}
