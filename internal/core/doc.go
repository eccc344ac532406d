// Package core wires the lockbox components into one application service.
//
// A Lockbox owns:
//   - the lockbox directory (key, vault, index, optional config)
//   - the login Session, sequencing key loading and credential checks
//   - the file Cipher, built on first use from the resolved passphrase
//   - the sealed-file index, whose lock keeps a second instance out
//   - a background Worker for file jobs with completion messages
//
// File operations are refused with ErrNotAuthenticated until Login has
// succeeded in this process. Status, Inspect and key generation work
// before login since they never read secrets.
package core
