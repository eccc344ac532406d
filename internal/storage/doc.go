// Package storage provides the BBolt index of sealed files.
//
// Database structure uses two buckets:
//   - config: schema version, timestamps, the install ID used as the
//     keyring account
//   - sealed: one JSON SealedEntry per file currently holding a container,
//     keyed by absolute path
//
// The index is bookkeeping only. It never holds key material or file
// contents, so 'lockbox status' works before login.
//
// BBolt's exclusive file lock is held while the index is open. Opening with
// a timeout turns a second running instance into ErrLocked instead of a
// hang.
package storage
