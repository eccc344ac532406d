// Package keyring keeps the file-cipher passphrase in the OS keyring.
//
// Entries are stored under the "lockbox" service, with the index install ID
// as the account, so two lockbox directories never share a passphrase.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "lockbox"

// ErrNotFound is returned when no passphrase is stored for the account.
var ErrNotFound = keyring.ErrNotFound

// SavePassphrase stores a passphrase in the OS keyring
func SavePassphrase(account string, passphrase string) error {
	if err := keyring.Set(serviceName, account, passphrase); err != nil {
		return fmt.Errorf("failed to save passphrase to keyring: %w", err)
	}
	return nil
}

// GetPassphrase retrieves a passphrase from the OS keyring
func GetPassphrase(account string) (string, error) {
	return keyring.Get(serviceName, account)
}

// DeletePassphrase removes a passphrase from the OS keyring. Deleting an
// absent entry is not an error.
func DeletePassphrase(account string) error {
	err := keyring.Delete(serviceName, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete passphrase from keyring: %w", err)
	}
	return nil
}

// HasPassphrase checks if a passphrase is stored in the keyring
func HasPassphrase(account string) bool {
	_, err := keyring.Get(serviceName, account)
	return err == nil
}
