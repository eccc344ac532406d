// Package crypto provides cryptographic operations for lockbox.
//
// Credential records use AES-256-CBC with:
//   - 32-byte master key loaded from the key file
//   - 16-byte random IV per encryption, supplied by the caller
//   - PKCS7 padding
//
// File containers use XChaCha20-Poly1305 in fixed-size chunks with:
//   - 32-byte key derived from the passphrase via Argon2id
//   - 16-byte random salt and 15-byte nonce prefix stored in the header
//   - chunk counter and final-chunk flag bound into every nonce
//   - the whole header authenticated as associated data
//
// Truncation, reordering, trailing data and header tampering all fail
// authentication.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
package crypto
