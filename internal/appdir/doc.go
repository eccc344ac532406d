// Package appdir confines lockbox state to the per-user directory
// <user-config-dir>/lockbox.
//
// The directory holds:
//   - secret_key: the raw 32-byte master key (provided by the user)
//   - vault: the encrypted credential record
//   - index.db: the bbolt index of sealed files
//   - config.yaml: optional configuration
//
// All reads and writes go through an os.Root, so a symlink planted in the
// directory cannot redirect them elsewhere.
package appdir
