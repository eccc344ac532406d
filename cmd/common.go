package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/illarion/lockbox/internal/core"
	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/fault"
	"github.com/illarion/lockbox/internal/filecipher"
	"github.com/illarion/lockbox/internal/keys"
	"github.com/illarion/lockbox/internal/vault"
)

var errEmptyCredentials = errors.New("username and password are required")

// exitError marks an error that has already been shown to the user.
type exitError struct {
	err error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func successMark() string { return color.GreenString("✓") }
func errorMark() string   { return color.RedString("✗") }
func warnMark() string    { return color.YellowString("!") }

func formatSize(size int64) string {
	return humanize.IBytes(uint64(max(size, 0)))
}

// message returns the user-facing text for err.
func message(err error, keyPath string) string {
	switch {
	case errors.Is(err, core.ErrInstanceRunning):
		return "another lockbox process is running; try again when it has finished"
	case errors.Is(err, core.ErrPassphraseRequired):
		return "no file passphrase: set LOCKBOX_PASSPHRASE, run 'lockbox keyring save', or run from a terminal"
	case errors.Is(err, core.ErrNotAuthenticated):
		return "not logged in"
	case errors.Is(err, keys.ErrKeyExists):
		return fmt.Sprintf("a key file already exists at %s; remove it first if you really want a new key", keyPath)
	case errors.Is(err, core.ErrPassphraseMismatch):
		return "the passphrase does not decrypt the files already sealed; nothing was saved"
	case errors.Is(err, filecipher.ErrAlreadySealed):
		return "file is already encrypted"
	case errors.Is(err, errEmptyCredentials):
		return err.Error()
	}

	kind := fault.KindOf(err)
	if kind == fault.KindUnknown {
		return err.Error()
	}
	return fault.Message(kind, keyPath)
}

// HandleError prints the message for err and returns an error that
// Execute will not print again.
func (a *app) HandleError(ctx context.Context, err error, keyPath string) error {
	fmt.Fprintf(a.errOut, "%s %s\n", errorMark(), message(err, keyPath))
	if fault.KindOf(err).IsSetupError() {
		fmt.Fprintf(a.errOut, "  run 'lockbox status' to check the installation\n")
	}
	if a.logger != nil {
		a.logger.Debug(ctx, "command failed", "error", err, "kind", fault.KindOf(err))
	}
	return &exitError{err: err}
}

// login prompts for credentials and authenticates the session of lb.
func (a *app) login(ctx context.Context, lb *core.Lockbox) error {
	username := a.user
	if username == "" {
		var err error
		username, err = a.prompter.ReadLine("Username: ")
		if err != nil {
			return err
		}
	}

	password, err := a.prompter.ReadPassword("Password: ")
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(password)

	outcome, err := lb.Login(ctx, username, string(password))
	if err != nil {
		return a.HandleError(ctx, err, lb.KeyPath())
	}

	switch outcome {
	case vault.OutcomeAuthenticated:
		return nil
	case vault.OutcomeIgnored:
		return a.HandleError(ctx, errEmptyCredentials, lb.KeyPath())
	default:
		return a.HandleError(ctx, outcome.Err(), lb.KeyPath())
	}
}
