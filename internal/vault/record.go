package vault

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/fault"
	"github.com/illarion/lockbox/internal/keys"
)

// EmptySentinel is the placeholder content of an uninitialized vault.
const EmptySentinel = `{"username":"","password":""}`

const separator = ":"

// AuthRecord is the plaintext credential pair.
type AuthRecord struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Matches compares both fields in constant time.
func (r AuthRecord) Matches(username, password string) bool {
	userOK := crypto.ConstantTimeCompare([]byte(r.Username), []byte(username))
	passOK := crypto.ConstantTimeCompare([]byte(r.Password), []byte(password))
	return userOK && passOK
}

// EncodeRecord encrypts record under key with a fresh random IV and returns
// the stored form hex(iv):hex(ciphertext).
func EncodeRecord(key *keys.MasterKey, record AuthRecord) (string, error) {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	defer crypto.ClearBytes(plaintext)

	iv, err := crypto.GenerateRandom(crypto.IVSize)
	if err != nil {
		return "", err
	}

	ciphertext, err := crypto.EncryptCBC(key.Bytes(), iv, plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt record: %w", err)
	}

	return hex.EncodeToString(iv) + separator + hex.EncodeToString(ciphertext), nil
}

// DecodeRecord parses and decrypts a stored record. A record that does not
// split into two non-empty hex tokens with a 16-byte IV fails with
// fault.ErrMalformedRecord; a record that parses but does not decrypt or
// deserialize fails with fault.ErrCipherFailure.
func DecodeRecord(key *keys.MasterKey, stored string) (AuthRecord, error) {
	var record AuthRecord

	iv, ciphertext, err := splitRecord(stored)
	if err != nil {
		return record, err
	}

	plaintext, err := crypto.DecryptCBC(key.Bytes(), iv, ciphertext)
	if err != nil {
		return record, fault.Cipher("decrypt record", err)
	}
	defer crypto.ClearBytes(plaintext)

	if err := json.Unmarshal(plaintext, &record); err != nil {
		return AuthRecord{}, fault.Cipher("decode record", err)
	}
	return record, nil
}

func splitRecord(stored string) (iv, ciphertext []byte, err error) {
	parts := strings.Split(stored, separator)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("%w: expected 2 tokens, got %d", fault.ErrMalformedRecord, len(parts))
	}
	if parts[0] == "" || parts[1] == "" {
		return nil, nil, fmt.Errorf("%w: empty token", fault.ErrMalformedRecord)
	}

	iv, err = hex.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: iv: %w", fault.ErrMalformedRecord, err)
	}
	if len(iv) != crypto.IVSize {
		return nil, nil, fmt.Errorf("%w: iv has %d bytes", fault.ErrMalformedRecord, len(iv))
	}

	ciphertext, err = hex.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext: %w", fault.ErrMalformedRecord, err)
	}
	return iv, ciphertext, nil
}

// normalize strips NUL padding left by earlier truncating writes and
// surrounding whitespace.
func normalize(content []byte) string {
	return strings.TrimSpace(strings.ReplaceAll(string(content), "\x00", ""))
}

func isUninitialized(content string) bool {
	return content == "" || content == EmptySentinel
}
