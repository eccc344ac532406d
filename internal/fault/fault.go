// Package fault defines the lockbox error taxonomy.
//
// Library packages wrap these sentinels with fmt.Errorf("...: %w", ...) and
// callers test for them with errors.Is. The interactive shell maps them to a
// Kind and renders Message(kind), which never reveals which half of a
// credential was wrong.
package fault

import (
	"errors"
	"fmt"
)

var (
	ErrKeyMissing         = errors.New("key file missing")
	ErrKeyInvalidLength   = errors.New("key file has invalid length")
	ErrMalformedRecord    = errors.New("malformed credential record")
	ErrCipherFailure      = errors.New("cipher failure")
	ErrFileIO             = errors.New("file I/O failure")
	ErrCredentialMismatch = errors.New("credentials do not match")
)

// Kind classifies an outcome for the shell.
type Kind int

const (
	KindNone Kind = iota
	KindAuthenticated
	KindRejected
	KindMalformedRecord
	KindKeyMissing
	KindKeyInvalidLength
	KindCipherFailure
	KindFileIO
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindAuthenticated:
		return "Authenticated"
	case KindRejected:
		return "Rejected"
	case KindMalformedRecord:
		return "MalformedRecord"
	case KindKeyMissing:
		return "KeyMissing"
	case KindKeyInvalidLength:
		return "KeyInvalidLength"
	case KindCipherFailure:
		return "CipherFailure"
	case KindFileIO:
		return "FileIO"
	default:
		return "Unknown"
	}
}

// KindOf classifies err. A nil error is KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrKeyMissing):
		return KindKeyMissing
	case errors.Is(err, ErrKeyInvalidLength):
		return KindKeyInvalidLength
	case errors.Is(err, ErrMalformedRecord):
		return KindMalformedRecord
	case errors.Is(err, ErrCredentialMismatch):
		return KindRejected
	case errors.Is(err, ErrCipherFailure):
		return KindCipherFailure
	case errors.Is(err, ErrFileIO):
		return KindFileIO
	default:
		return KindUnknown
	}
}

// IsSetupError reports whether the user has to fix their installation
// (key file, permissions) before retrying.
func (k Kind) IsSetupError() bool {
	return k == KindKeyMissing || k == KindKeyInvalidLength || k == KindFileIO
}

// Message returns the text shown to the user for kind.
func Message(kind Kind, keyPath string) string {
	switch kind {
	case KindAuthenticated:
		return "login successful"
	case KindRejected, KindMalformedRecord:
		return "login failed"
	case KindKeyMissing:
		return fmt.Sprintf("no key file found; configure a 32-byte key file at %s (or run 'lockbox keygen')", keyPath)
	case KindKeyInvalidLength:
		return fmt.Sprintf("key file %s must contain exactly 32 bytes", keyPath)
	case KindCipherFailure:
		return "decryption failed: wrong key or passphrase, or the data is corrupted"
	case KindFileIO:
		return "file access failed; check that the file exists and is readable and writable"
	default:
		return "unexpected error"
	}
}

// IO wraps a filesystem error so it classifies as KindFileIO.
func IO(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrFileIO, op, path, err)
}

// Cipher wraps a decrypt/decode/deserialize error so it classifies as KindCipherFailure.
func Cipher(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCipherFailure, op, err)
}
