package appdir

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	Name           = "lockbox"
	DirPermSecure  = 0700 // Directory: owner rwx only
	FilePermSecure = 0600 // File: owner rw only
)

var (
	ErrNameEscapes = errors.New("name escapes lockbox directory")
	ErrEmptyName   = errors.New("empty name not allowed")
)

// Dir provides file operations confined to the lockbox directory using
// Go 1.24's os.Root API. Symlinks pointing outside the directory are refused.
type Dir struct {
	root *os.Root
	path string
}

// DefaultPath returns <user-config-dir>/lockbox.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(base, Name), nil
}

// Open opens an existing lockbox directory without creating anything.
func Open(path string) (*Dir, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open lockbox directory: %w", err)
	}

	return &Dir{
		root: root,
		path: absPath,
	}, nil
}

// Ensure creates the lockbox directory if needed and opens it.
func Ensure(path string) (*Dir, error) {
	if err := os.MkdirAll(path, DirPermSecure); err != nil {
		return nil, fmt.Errorf("failed to create lockbox directory: %w", err)
	}
	return Open(path)
}

// Close releases the directory handle.
func (d *Dir) Close() error {
	if d.root != nil {
		return d.root.Close()
	}
	return nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string {
	return d.path
}

// Path returns the absolute path of name inside the directory. It is meant
// for display and for APIs that need a plain path (bbolt); reads and writes
// go through the Dir methods.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.path, filepath.FromSlash(name))
}

// ValidateName rejects empty names and names that are not local
// (absolute, containing .., or reserved on Windows).
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %s", ErrNameEscapes, name)
	}
	return nil
}

// ReadFile reads a file inside the directory.
func (d *Dir) ReadFile(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid name: %w", err)
	}

	f, err := d.root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// OpenFile opens a file inside the directory.
func (d *Dir) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid name: %w", err)
	}
	return d.root.OpenFile(name, flag, perm)
}

// Stat stats a file inside the directory.
func (d *Dir) Stat(name string) (os.FileInfo, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid name: %w", err)
	}
	return d.root.Stat(name)
}

// CreateExclusive writes data to a new file, failing with fs.ErrExist if
// the file is already present.
func (d *Dir) CreateExclusive(name string, data []byte, perm os.FileMode) error {
	f, err := d.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		d.root.Remove(name)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		d.root.Remove(name)
		return err
	}
	return f.Close()
}
