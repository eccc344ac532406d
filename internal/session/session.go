// Package session tracks whether the local user has logged in.
//
// A Session starts LoggedOut and moves to Authenticated on the first
// successful login. There is no logout; a process exits instead.
package session

import (
	"context"
	"sync"

	"github.com/illarion/lockbox/internal/keys"
	"github.com/illarion/lockbox/internal/logging"
	"github.com/illarion/lockbox/internal/vault"
)

// State is the login state of a Session.
type State int

const (
	LoggedOut State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "logged out"
}

// KeyLoader supplies the master key for one login attempt.
type KeyLoader interface {
	Load() (keys.MasterKey, error)
}

// Verifier checks credentials against the stored record.
type Verifier interface {
	VerifyOrBootstrap(ctx context.Context, key *keys.MasterKey, username, password string) (vault.Outcome, error)
}

// Session sequences key loading and credential verification.
type Session struct {
	mu       sync.Mutex
	state    State
	loader   KeyLoader
	verifier Verifier
	logger   logging.Logger
}

// New creates a LoggedOut session.
func New(loader KeyLoader, verifier Verifier, logger logging.Logger) *Session {
	return &Session{
		loader:   loader,
		verifier: verifier,
		logger:   logger.With("component", "session"),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Login verifies username and password. Empty input returns
// vault.OutcomeIgnored without loading the key. The session becomes
// Authenticated only on vault.OutcomeAuthenticated and is never moved back
// to LoggedOut.
//
// Key errors wrap fault.ErrKeyMissing or fault.ErrKeyInvalidLength; the
// vault is not touched in that case.
func (s *Session) Login(ctx context.Context, username, password string) (vault.Outcome, error) {
	if username == "" || password == "" {
		return vault.OutcomeIgnored, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.loader.Load()
	if err != nil {
		key.Destroy()
		s.logger.Warn(ctx, "master key unavailable", "error", err)
		return vault.OutcomeError, err
	}
	defer key.Destroy()

	outcome, err := s.verifier.VerifyOrBootstrap(ctx, &key, username, password)
	if err != nil {
		return outcome, err
	}

	if outcome == vault.OutcomeAuthenticated && s.state != Authenticated {
		s.state = Authenticated
		s.logger.Info(ctx, "logged in", "user", username)
	}
	return outcome, nil
}
