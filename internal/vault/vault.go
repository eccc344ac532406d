package vault

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/illarion/lockbox/internal/appdir"
	"github.com/illarion/lockbox/internal/fault"
	"github.com/illarion/lockbox/internal/keys"
	"github.com/illarion/lockbox/internal/logging"
)

// FileName is the vault file inside the lockbox directory.
const FileName = "vault"

// Outcome is the result of a VerifyOrBootstrap call.
type Outcome int

const (
	// OutcomeError accompanies a non-nil error.
	OutcomeError Outcome = iota
	// OutcomeIgnored means the input was empty and no file was touched.
	OutcomeIgnored
	OutcomeAuthenticated
	OutcomeRejected
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeRejected:
		return "rejected"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "error"
	}
}

// Kind maps the outcome onto the shell-facing taxonomy.
func (o Outcome) Kind() fault.Kind {
	switch o {
	case OutcomeAuthenticated:
		return fault.KindAuthenticated
	case OutcomeRejected:
		return fault.KindRejected
	case OutcomeMalformed:
		return fault.KindMalformedRecord
	default:
		return fault.KindNone
	}
}

// Err returns the sentinel for outcomes that are failures, nil otherwise.
func (o Outcome) Err() error {
	switch o {
	case OutcomeRejected:
		return fault.ErrCredentialMismatch
	case OutcomeMalformed:
		return fault.ErrMalformedRecord
	default:
		return nil
	}
}

// Vault stores the single encrypted credential record.
type Vault struct {
	dir    *appdir.Dir
	logger logging.Logger
}

// New creates a Vault backed by the vault file in dir.
func New(dir *appdir.Dir, logger logging.Logger) *Vault {
	return &Vault{
		dir:    dir,
		logger: logger.With("component", "vault"),
	}
}

// Path returns the absolute vault file path.
func (v *Vault) Path() string {
	return v.dir.Path(FileName)
}

// VerifyOrBootstrap authenticates username and password against the stored
// record. An empty or sentinel vault is initialized with the given
// credentials. A populated vault is never modified.
//
// Empty username or password yields OutcomeIgnored without any file access.
// Errors wrap fault.ErrFileIO or fault.ErrCipherFailure.
func (v *Vault) VerifyOrBootstrap(ctx context.Context, key *keys.MasterKey, username, password string) (Outcome, error) {
	if username == "" || password == "" {
		return OutcomeIgnored, nil
	}

	f, err := v.dir.OpenFile(FileName, os.O_RDWR|os.O_CREATE, appdir.FilePermSecure)
	if err != nil {
		return OutcomeError, fault.IO("open", v.Path(), err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return OutcomeError, fault.IO("read", v.Path(), err)
	}
	content := normalize(raw)

	if isUninitialized(content) {
		return v.bootstrap(ctx, f, key, username, password)
	}

	record, err := DecodeRecord(key, content)
	if errors.Is(err, fault.ErrMalformedRecord) {
		v.logger.Warn(ctx, "stored credential is malformed", "error", err)
		return OutcomeMalformed, nil
	}
	if err != nil {
		v.logger.Warn(ctx, "stored credential could not be decrypted", "error", err)
		return OutcomeError, err
	}

	if !record.Matches(username, password) {
		v.logger.Debug(ctx, "credential mismatch")
		return OutcomeRejected, nil
	}
	v.logger.Debug(ctx, "credential verified")
	return OutcomeAuthenticated, nil
}

func (v *Vault) bootstrap(ctx context.Context, f *os.File, key *keys.MasterKey, username, password string) (Outcome, error) {
	stored, err := EncodeRecord(key, AuthRecord{Username: username, Password: password})
	if err != nil {
		return OutcomeError, err
	}

	if err := f.Truncate(0); err != nil {
		return OutcomeError, fault.IO("truncate", v.Path(), err)
	}
	if _, err := f.WriteAt([]byte(stored), 0); err != nil {
		return OutcomeError, fault.IO("write", v.Path(), err)
	}
	if err := f.Sync(); err != nil {
		return OutcomeError, fault.IO("sync", v.Path(), err)
	}

	v.logger.Info(ctx, "vault initialized", "path", v.Path())
	return OutcomeAuthenticated, nil
}

// Initialized reports whether a credential has been stored. It never
// creates the vault file.
func (v *Vault) Initialized() (bool, error) {
	raw, err := v.dir.ReadFile(FileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fault.IO("read", v.Path(), err)
	}
	return !isUninitialized(normalize(raw)), nil
}
