// Package filecipher encrypts and decrypts user-selected files in place
// with a passphrase-based container (see internal/crypto).
//
// Both operations are all-or-nothing: the complete result is built in
// memory and then swapped in through a temporary file and a rename, so the
// file is either fully converted or left byte-for-byte unchanged.
package filecipher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/fault"
	"github.com/illarion/lockbox/internal/logging"
)

var (
	ErrNoPassphrase  = errors.New("no passphrase configured")
	ErrIsDirectory   = errors.New("is a directory")
	ErrAlreadySealed = errors.New("file is already encrypted")
)

// Result describes a completed file operation. Elapsed is informational.
type Result struct {
	Details    FileDetails
	OutputSize int64
	Elapsed    time.Duration
}

// Cipher seals and opens files under a configured passphrase.
type Cipher struct {
	passphrase []byte
	params     crypto.Params
	logger     logging.Logger
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithParams overrides the container parameters used for new containers.
// Decryption always uses the parameters recorded in the file.
func WithParams(p crypto.Params) Option {
	return func(c *Cipher) {
		c.params = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Cipher) {
		c.logger = l
	}
}

// New creates a Cipher. The passphrase is copied; call Destroy to zero it.
func New(passphrase []byte, opts ...Option) (*Cipher, error) {
	if len(passphrase) == 0 {
		return nil, ErrNoPassphrase
	}

	c := &Cipher{
		passphrase: append([]byte(nil), passphrase...),
		params:     crypto.DefaultParams(),
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.params.Validate(); err != nil {
		return nil, err
	}
	c.logger = c.logger.With("component", "filecipher")
	return c, nil
}

// Destroy zeroes the passphrase.
func (c *Cipher) Destroy() {
	crypto.ClearBytes(c.passphrase)
}

// Encrypt replaces the file at path with a container holding its contents.
// A file that is already a container is left alone with ErrAlreadySealed.
func (c *Cipher) Encrypt(ctx context.Context, path string) (Result, error) {
	start := time.Now()

	abs, plaintext, info, err := readTarget(path)
	if err != nil {
		return Result{}, err
	}
	defer crypto.ClearBytes(plaintext)

	if crypto.IsContainer(plaintext) {
		return Result{}, fmt.Errorf("%w: %s", ErrAlreadySealed, abs)
	}

	sealed, err := crypto.Seal(c.passphrase, plaintext, c.params)
	if err != nil {
		return Result{}, fmt.Errorf("failed to seal %s: %w", abs, err)
	}

	if err := writeAtomic(abs, sealed, info.Mode()); err != nil {
		return Result{}, err
	}

	res := Result{
		Details:    newDetails(abs, info.Size(), false),
		OutputSize: int64(len(sealed)),
		Elapsed:    time.Since(start),
	}
	c.logger.Info(ctx, "file encrypted", "path", abs, "size", res.Details.Size, "elapsed", res.Elapsed)
	return res, nil
}

// Decrypt replaces the container at path with the recovered plaintext. On
// any failure the file is left untouched; failures to open the container
// wrap fault.ErrCipherFailure.
func (c *Cipher) Decrypt(ctx context.Context, path string) (Result, error) {
	start := time.Now()

	abs, sealed, info, err := readTarget(path)
	if err != nil {
		return Result{}, err
	}

	plaintext, err := crypto.Open(c.passphrase, sealed)
	if err != nil {
		c.logger.Warn(ctx, "file could not be decrypted", "path", abs, "error", err)
		return Result{}, fault.Cipher("open container "+abs, err)
	}
	defer crypto.ClearBytes(plaintext)

	if err := writeAtomic(abs, plaintext, info.Mode()); err != nil {
		return Result{}, err
	}

	res := Result{
		Details:    newDetails(abs, info.Size(), true),
		OutputSize: int64(len(plaintext)),
		Elapsed:    time.Since(start),
	}
	c.logger.Info(ctx, "file decrypted", "path", abs, "size", res.OutputSize, "elapsed", res.Elapsed)
	return res, nil
}

// resolve returns the absolute path with symlinks followed, so the rename
// replaces the target rather than the link.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fault.IO("resolve", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fault.IO("resolve", abs, err)
	}
	return resolved, nil
}

func readTarget(path string) (string, []byte, os.FileInfo, error) {
	abs, err := resolve(path)
	if err != nil {
		return "", nil, nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, nil, fault.IO("stat", abs, err)
	}
	if info.IsDir() {
		return "", nil, nil, fault.IO("read", abs, ErrIsDirectory)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", nil, nil, fault.IO("read", abs, err)
	}
	return abs, data, info, nil
}

// writeAtomic replaces path with data via a temporary file in the same
// directory. The original is untouched unless the rename succeeds.
func writeAtomic(path string, data []byte, mode os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".lockbox-*")
	if err != nil {
		return fault.IO("create temp for", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fault.IO("write", tmpPath, err)
	}
	if err = tmp.Chmod(mode.Perm()); err != nil {
		return fault.IO("chmod", tmpPath, err)
	}
	if err = tmp.Sync(); err != nil {
		return fault.IO("sync", tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return fault.IO("close", tmpPath, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fault.IO("replace", path, err)
	}
	return nil
}
