package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/illarion/lockbox/internal/appdir"
	"github.com/illarion/lockbox/internal/config"
	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/filecipher"
	"github.com/illarion/lockbox/internal/keyring"
	"github.com/illarion/lockbox/internal/keys"
	"github.com/illarion/lockbox/internal/logging"
	"github.com/illarion/lockbox/internal/session"
	"github.com/illarion/lockbox/internal/storage"
	"github.com/illarion/lockbox/internal/vault"
)

var (
	ErrNotAuthenticated   = errors.New("not logged in")
	ErrInstanceRunning    = errors.New("another lockbox instance is running")
	ErrPassphraseRequired = errors.New("passphrase required")
	ErrClosed             = errors.New("lockbox is closed")
	ErrPassphraseMismatch = errors.New("passphrase does not open the sealed files")
)

// PassphrasePrompt asks the user for the file passphrase. It is the last
// source tried, after configuration and the OS keyring.
type PassphrasePrompt func(ctx context.Context) ([]byte, error)

// Option configures a Lockbox.
type Option func(*Lockbox)

// WithPassphrasePrompt sets the interactive passphrase source.
func WithPassphrasePrompt(p PassphrasePrompt) Option {
	return func(l *Lockbox) {
		l.prompt = p
	}
}

// Lockbox is the application service.
type Lockbox struct {
	cfg     *config.Config
	dir     *appdir.Dir
	db      *storage.Storage
	keys    *keys.Provider
	vault   *vault.Vault
	session *session.Session
	logger  logging.Logger
	prompt  PassphrasePrompt

	mu     sync.Mutex
	cipher *filecipher.Cipher
	closed bool

	worker    *Worker
	closeOnce sync.Once
	closeErr  error
}

// Open prepares the lockbox directory and takes the index lock. A second
// process gets ErrInstanceRunning once cfg.LockTimeout expires.
func Open(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*Lockbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := appdir.Ensure(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", cfg.Dir, err)
	}

	db, err := storage.Open(dir.Path(storage.FileName), cfg.LockTimeout)
	if err != nil {
		dir.Close()
		if errors.Is(err, storage.ErrLocked) {
			return nil, fmt.Errorf("%w: %w", ErrInstanceRunning, err)
		}
		return nil, err
	}
	initialized, err := db.IsInitialized()
	if err == nil && !initialized {
		err = db.Initialize()
	}
	if err != nil {
		db.Close()
		dir.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}

	provider := keys.NewProvider(dir)
	v := vault.New(dir, logger)

	l := &Lockbox{
		cfg:     cfg,
		dir:     dir,
		db:      db,
		keys:    provider,
		vault:   v,
		session: session.New(provider, v, logger),
		logger:  logger.With("component", "core"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.worker = newWorker(l, l.logger)

	l.logger.Debug(ctx, "lockbox opened", "dir", dir.Root(), "new_index", !initialized)
	return l, nil
}

// Close stops the worker after queued jobs finish and releases the index.
func (l *Lockbox) Close() error {
	l.closeOnce.Do(func() {
		l.worker.close()

		l.mu.Lock()
		l.closed = true
		if l.cipher != nil {
			l.cipher.Destroy()
			l.cipher = nil
		}
		l.mu.Unlock()

		l.closeErr = errors.Join(l.db.Close(), l.dir.Close())
	})
	return l.closeErr
}

// Dir returns the lockbox directory.
func (l *Lockbox) Dir() string {
	return l.dir.Root()
}

// KeyPath returns where the master key is expected.
func (l *Lockbox) KeyPath() string {
	return l.keys.Path()
}

// Login checks the credentials; see session.Session.Login.
func (l *Lockbox) Login(ctx context.Context, username, password string) (vault.Outcome, error) {
	return l.session.Login(ctx, username, password)
}

// State returns the login state.
func (l *Lockbox) State() session.State {
	return l.session.State()
}

// GenerateKey writes a new master key. It never replaces an existing one.
func (l *Lockbox) GenerateKey(ctx context.Context) error {
	if err := keys.Generate(l.dir); err != nil {
		return err
	}
	l.logger.Info(ctx, "master key generated", "path", l.keys.Path())
	return nil
}

// Inspect returns file details without reading the contents beyond the
// container magic.
func (l *Lockbox) Inspect(path string) (filecipher.FileDetails, error) {
	return filecipher.Inspect(path)
}

// IndexEntry returns what the index recorded when path was sealed, or
// storage.ErrNotSealed. path must be the resolved path from FileDetails.
func (l *Lockbox) IndexEntry(path string) (storage.SealedEntry, error) {
	return l.db.GetSealed(path)
}

// Encrypt seals the file at path and records it in the index. A file that
// is already sealed fails with filecipher.ErrAlreadySealed and its index
// entry is left as it was.
func (l *Lockbox) Encrypt(ctx context.Context, path string) (filecipher.Result, error) {
	c, err := l.fileCipher(ctx)
	if err != nil {
		return filecipher.Result{}, err
	}

	res, err := c.Encrypt(ctx, path)
	if err != nil {
		return res, err
	}

	entry := storage.SealedEntry{
		Path:       res.Details.Path,
		Size:       res.Details.Size,
		SealedSize: res.OutputSize,
		SealedAt:   time.Now(),
	}
	if info, err := os.Stat(res.Details.Path); err == nil {
		entry.ModTime = info.ModTime()
	}
	if err := l.db.RecordSealed(entry); err != nil {
		l.logger.Warn(ctx, "failed to update index", "path", entry.Path, "error", err)
	}
	return res, nil
}

// Decrypt opens the container at path and drops it from the index.
func (l *Lockbox) Decrypt(ctx context.Context, path string) (filecipher.Result, error) {
	c, err := l.fileCipher(ctx)
	if err != nil {
		return filecipher.Result{}, err
	}

	res, err := c.Decrypt(ctx, path)
	if err != nil {
		return res, err
	}

	if err := l.db.RemoveSealed(res.Details.Path); err != nil {
		l.logger.Warn(ctx, "failed to update index", "path", res.Details.Path, "error", err)
	}
	return res, nil
}

// Submit queues a file job on the background worker. See Worker.Submit.
func (l *Lockbox) Submit(ctx context.Context, req Request) <-chan Completion {
	return l.worker.Submit(ctx, req)
}

// Compact rewrites the index to reclaim free pages.
func (l *Lockbox) Compact(ctx context.Context) error {
	if err := l.db.Compact(); err != nil {
		return err
	}
	l.logger.Info(ctx, "index compacted", "path", l.db.Path())
	return nil
}

// fileCipher returns the cipher, resolving the passphrase on first use.
func (l *Lockbox) fileCipher(ctx context.Context) (*filecipher.Cipher, error) {
	if l.session.State() != session.Authenticated {
		return nil, ErrNotAuthenticated
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if l.cipher != nil {
		return l.cipher, nil
	}

	pass, err := l.resolvePassphrase(ctx)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(pass)

	c, err := filecipher.New(pass,
		filecipher.WithParams(l.cfg.Cipher.Params()),
		filecipher.WithLogger(l.logger),
	)
	if err != nil {
		return nil, err
	}
	l.cipher = c
	return c, nil
}

// resolvePassphrase tries configuration, then the OS keyring, then the
// interactive prompt.
func (l *Lockbox) resolvePassphrase(ctx context.Context) ([]byte, error) {
	if l.cfg.Passphrase != "" {
		l.logger.Debug(ctx, "passphrase from configuration")
		return []byte(l.cfg.Passphrase), nil
	}

	if account, err := l.db.InstallID(); err == nil {
		if pass, err := keyring.GetPassphrase(account); err == nil && pass != "" {
			l.logger.Debug(ctx, "passphrase from keyring")
			return []byte(pass), nil
		}
	}

	if l.prompt == nil {
		return nil, ErrPassphraseRequired
	}
	pass, err := l.prompt(ctx)
	if err != nil {
		return nil, err
	}
	if len(pass) == 0 {
		return nil, ErrPassphraseRequired
	}
	return pass, nil
}

// SavePassphrase stores pass in the OS keyring for this installation. It
// requires a login. When the index lists sealed files, pass must open the
// first of them that still holds a container.
func (l *Lockbox) SavePassphrase(ctx context.Context, pass []byte) error {
	if l.session.State() != session.Authenticated {
		return ErrNotAuthenticated
	}
	if err := l.checkPassphrase(ctx, pass); err != nil {
		return err
	}

	account, err := l.db.InstallID()
	if err != nil {
		return err
	}
	return keyring.SavePassphrase(account, string(pass))
}

func (l *Lockbox) checkPassphrase(ctx context.Context, pass []byte) error {
	entries, err := l.db.ListSealed()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if sealed, err := filecipher.IsSealed(e.Path); err != nil || !sealed {
			continue
		}
		err := filecipher.CheckPassphrase(pass, e.Path)
		if errors.Is(err, crypto.ErrAuthFailed) {
			return fmt.Errorf("%w: %s", ErrPassphraseMismatch, e.Path)
		}
		if err != nil {
			l.logger.Debug(ctx, "skipping unreadable container", "path", e.Path, "error", err)
			continue
		}
		l.logger.Debug(ctx, "passphrase verified", "path", e.Path)
		return nil
	}
	return nil
}

// ForgetPassphrase removes the stored passphrase, if any.
func (l *Lockbox) ForgetPassphrase() error {
	account, err := l.db.InstallID()
	if err != nil {
		return err
	}
	return keyring.DeletePassphrase(account)
}

// HasStoredPassphrase reports whether the keyring holds a passphrase.
func (l *Lockbox) HasStoredPassphrase() bool {
	account, err := l.db.InstallID()
	if err != nil {
		return false
	}
	return keyring.HasPassphrase(account)
}
