package core

import (
	"context"
	"os"
	"time"

	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/filecipher"
	"github.com/illarion/lockbox/internal/session"
	"github.com/illarion/lockbox/internal/storage"
)

// Sealed file states reported by Status
const (
	FileSealed  = "sealed"
	FileMissing = "missing"
	FileChanged = "changed"
)

// FileStatus is an index entry checked against the filesystem.
type FileStatus struct {
	storage.SealedEntry
	Status string
}

// StatusInfo contains status information
type StatusInfo struct {
	Dir              string
	KeyPath          string
	KeyErr           error // nil when the key file is usable
	VaultInitialized bool
	State            session.State
	KeyringStored    bool
	Algorithm        string
	Params           crypto.Params
	LastModified     time.Time

	Files        []FileStatus
	SealedCount  int
	MissingCount int
	ChangedCount int
	TotalSize    int64
}

// Status reports the installation and index state. It needs no login and
// never reads key material into the result.
func (l *Lockbox) Status(ctx context.Context) (*StatusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status := &StatusInfo{
		Dir:           l.dir.Root(),
		KeyPath:       l.keys.Path(),
		KeyErr:        l.keys.Check(),
		State:         l.session.State(),
		KeyringStored: l.HasStoredPassphrase(),
		Algorithm:     "XChaCha20-Poly1305 / Argon2id",
		Params:        l.cfg.Cipher.Params(),
		Files:         make([]FileStatus, 0),
	}

	initialized, err := l.vault.Initialized()
	if err != nil {
		return nil, err
	}
	status.VaultInitialized = initialized

	if modified, err := l.db.GetModified(); err == nil {
		status.LastModified = modified
	}

	entries, err := l.db.ListSealed()
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fs := FileStatus{SealedEntry: entry, Status: checkSealed(entry)}
		switch fs.Status {
		case FileSealed:
			status.SealedCount++
			status.TotalSize += entry.Size
		case FileMissing:
			status.MissingCount++
		default:
			status.ChangedCount++
		}
		status.Files = append(status.Files, fs)
	}

	return status, nil
}

// checkSealed compares an index entry with the file on disk.
func checkSealed(entry storage.SealedEntry) string {
	info, err := os.Stat(entry.Path)
	if os.IsNotExist(err) {
		return FileMissing
	}
	if err != nil {
		return FileChanged
	}

	sealed, err := filecipher.IsSealed(entry.Path)
	if err != nil || !sealed {
		return FileChanged
	}
	if info.Size() != entry.SealedSize {
		return FileChanged
	}
	return FileSealed
}
