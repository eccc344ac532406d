// Package keys locates and validates the lockbox master key.
//
// The key is 32 raw bytes stored by the user at
// <user-config-dir>/lockbox/secret_key. Loading never creates or repairs the
// file; Generate exists only for the explicit 'lockbox keygen' command.
package keys

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/illarion/lockbox/internal/appdir"
	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/fault"
)

const (
	FileName = "secret_key"
	Size     = crypto.KeySize
)

var ErrKeyExists = errors.New("key file already exists")

// MasterKey is the 256-bit credential encryption key.
type MasterKey [Size]byte

// Bytes returns the key as a slice aliasing k.
func (k *MasterKey) Bytes() []byte {
	return k[:]
}

// Destroy zeroes the key.
func (k *MasterKey) Destroy() {
	crypto.ClearBytes(k[:])
}

func (k MasterKey) String() string {
	return "[redacted]"
}

// LogValue keeps the key out of structured logs.
func (k MasterKey) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

// Provider loads the master key from the lockbox directory.
type Provider struct {
	dir *appdir.Dir
}

// NewProvider creates a Provider reading from dir.
func NewProvider(dir *appdir.Dir) *Provider {
	return &Provider{dir: dir}
}

// Path returns the absolute key file path.
func (p *Provider) Path() string {
	return p.dir.Path(FileName)
}

// Load reads and validates the key file. It fails with fault.ErrKeyMissing
// when the file does not exist and fault.ErrKeyInvalidLength when it is not
// exactly 32 bytes long.
func (p *Provider) Load() (MasterKey, error) {
	var key MasterKey

	raw, err := p.dir.ReadFile(FileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return key, fmt.Errorf("%w: %s", fault.ErrKeyMissing, p.Path())
		}
		return key, fault.IO("read", p.Path(), err)
	}
	defer crypto.ClearBytes(raw)

	if len(raw) != Size {
		return key, fmt.Errorf("%w: %s has %d bytes, want %d", fault.ErrKeyInvalidLength, p.Path(), len(raw), Size)
	}

	copy(key[:], raw)
	return key, nil
}

// Check reports the key file state without returning key material.
func (p *Provider) Check() error {
	key, err := p.Load()
	key.Destroy()
	return err
}

// Generate writes a fresh random key to dir. It refuses to replace an
// existing key file.
func Generate(dir *appdir.Dir) error {
	key, err := crypto.GenerateRandom(Size)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(key)

	if err := dir.CreateExclusive(FileName, key, appdir.FilePermSecure); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, dir.Path(FileName))
		}
		return fault.IO("create", dir.Path(FileName), err)
	}
	return nil
}
