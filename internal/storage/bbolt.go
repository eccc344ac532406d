package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

// FileName is the index database inside the lockbox directory.
const FileName = "index.db"

// Bucket names
var (
	ConfigBucket = []byte("config") // version, timestamps, install ID
	SealedBucket = []byte("sealed") // absolute path -> SealedEntry
)

// Config keys
var (
	ConfigVersion   = []byte("version")
	ConfigCreated   = []byte("created")
	ConfigModified  = []byte("modified")
	ConfigInstallID = []byte("install_id")
)

var (
	// ErrLocked means another process holds the index open.
	ErrLocked = errors.New("index is locked by another process")
	// ErrNotSealed is returned by GetSealed for paths not in the index.
	ErrNotSealed = errors.New("file is not in the sealed index")
)

// SealedEntry records a file that currently holds a container.
type SealedEntry struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`       // plaintext size at seal time
	SealedSize int64     `json:"sealedSize"` // container size
	ModTime    time.Time `json:"modTime"`    // mtime after sealing
	SealedAt   time.Time `json:"sealedAt"`
}

// Storage provides BBolt-based storage for the sealed-file index
type Storage struct {
	db      *bolt.DB
	timeout time.Duration
}

// rename is swapped out in tests to simulate a failing replace.
var rename = os.Rename

// Open opens or creates the index at path. If another process holds the
// lock for longer than timeout, Open fails with ErrLocked.
func Open(path string, timeout time.Duration) (*Storage, error) {
	s := &Storage{timeout: timeout}
	db, err := s.open(path)
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

func (s *Storage) open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return db, nil
}

// Close closes the database and releases the lock
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.db.Path()
}

// Initialize creates the bucket structure. It is idempotent: the creation
// time of an existing index is kept.
func (s *Storage) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, SealedBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}

		created, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks if the database has been initialized
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

func touch(tx *bolt.Tx) error {
	modified, _ := time.Now().MarshalBinary()
	return tx.Bucket(ConfigBucket).Put(ConfigModified, modified)
}

// GetModified retrieves the last modified timestamp
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

// InstallID returns the random identifier of this installation, creating
// it on first use. It names the keyring entry holding the passphrase.
func (s *Storage) InstallID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		if data := config.Get(ConfigInstallID); data != nil {
			id = string(data)
			return nil
		}

		u, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate install ID: %w", err)
		}
		id = u.String()
		return config.Put(ConfigInstallID, []byte(id))
	})
	return id, err
}

// RecordSealed adds or replaces the entry for e.Path
func (s *Storage) RecordSealed(e SealedEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(SealedBucket).Put([]byte(e.Path), data); err != nil {
			return err
		}
		return touch(tx)
	})
}

// RemoveSealed drops path from the index. Missing paths are not an error.
func (s *Storage) RemoveSealed(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sealed := tx.Bucket(SealedBucket)
		if sealed.Get([]byte(path)) == nil {
			return nil
		}
		if err := sealed.Delete([]byte(path)); err != nil {
			return err
		}
		return touch(tx)
	})
}

// GetSealed returns the entry for path or ErrNotSealed
func (s *Storage) GetSealed(path string) (SealedEntry, error) {
	var entry SealedEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		sealed := tx.Bucket(SealedBucket)
		if sealed == nil {
			return fmt.Errorf("sealed bucket not found")
		}
		data := sealed.Get([]byte(path))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotSealed, path)
		}
		return json.Unmarshal(data, &entry)
	})
	return entry, err
}

// ListSealed returns all entries in path byte order
func (s *Storage) ListSealed() ([]SealedEntry, error) {
	var entries []SealedEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		sealed := tx.Bucket(SealedBucket)
		if sealed == nil {
			return fmt.Errorf("sealed bucket not found")
		}
		return sealed.ForEach(func(k, v []byte) error {
			var entry SealedEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt entry %q: %w", k, err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after many files have been decrypted. On failure the
// original index stays open and unchanged.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	// Leftover from an interrupted run
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale compact database: %w", err)
	}

	// Create new database
	dst, err := s.open(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucket(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	if err := replace(srcPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return errors.Join(err, s.reopen(srcPath))
	}
	return s.reopen(srcPath)
}

// replace moves tmpPath over srcPath, restoring the original if the
// second rename fails.
func replace(srcPath, tmpPath string) error {
	backupPath := srcPath + ".backup"
	if err := rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := rename(tmpPath, srcPath); err != nil {
		if rerr := rename(backupPath, srcPath); rerr != nil {
			return fmt.Errorf("failed to replace database: %w (original left at %s: %v)", err, backupPath, rerr)
		}
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)
	return nil
}

func (s *Storage) reopen(path string) error {
	db, err := s.open(path)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}
	s.db = db
	return nil
}
