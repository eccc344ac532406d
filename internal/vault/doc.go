// Package vault stores and verifies the single lockbox credential record.
//
// On-disk format of <dir>/vault (UTF-8 text):
//   - empty, or {"username":"","password":""}: not initialized
//   - otherwise hex(iv):hex(ciphertext)
//
// The ciphertext is AES-256-CBC/PKCS7 of the JSON record
// {"username":"<u>","password":"<p>"} under the master key, with a fresh
// random 16-byte IV on every write. The first successful login writes the
// record; later logins only read it.
package vault
