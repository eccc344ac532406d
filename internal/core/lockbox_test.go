package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/illarion/lockbox/internal/config"
	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/fault"
	"github.com/illarion/lockbox/internal/filecipher"
	"github.com/illarion/lockbox/internal/keys"
	"github.com/illarion/lockbox/internal/logging"
	"github.com/illarion/lockbox/internal/session"
	"github.com/illarion/lockbox/internal/storage"
	"github.com/illarion/lockbox/internal/vault"
)

func TestMain(m *testing.M) {
	gokeyring.MockInit()
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Dir:         t.TempDir(),
		Passphrase:  "test passphrase",
		Log:         config.LogConfig{Level: "debug", Format: "text"},
		Cipher:      config.CipherConfig{Time: 1, Memory: 1024, Threads: 1, ChunkSize: crypto.MinChunkSize},
		LockTimeout: 100 * time.Millisecond,
	}
}

func openTest(t *testing.T, cfg *config.Config, opts ...Option) *Lockbox {
	t.Helper()
	lb, err := Open(context.Background(), cfg, logging.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { lb.Close() })
	return lb
}

func loggedIn(t *testing.T, cfg *config.Config, opts ...Option) *Lockbox {
	t.Helper()
	lb := openTest(t, cfg, opts...)
	require.NoError(t, lb.GenerateKey(context.Background()))
	outcome, err := lb.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	require.Equal(t, vault.OutcomeAuthenticated, outcome)
	return lb
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestFileOpsRequireLogin(t *testing.T) {
	lb := openTest(t, testConfig(t))
	path := writeFile(t, "hello")

	_, err := lb.Encrypt(context.Background(), path)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = lb.Decrypt(context.Background(), path)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLoginFlow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	lb := openTest(t, cfg)

	// No key yet
	outcome, err := lb.Login(ctx, "alice", "s3cret")
	assert.Equal(t, vault.OutcomeError, outcome)
	assert.Equal(t, fault.KindKeyMissing, fault.KindOf(err))
	assert.Equal(t, session.LoggedOut, lb.State())
	_, statErr := os.Stat(filepath.Join(cfg.Dir, vault.FileName))
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, lb.GenerateKey(ctx))
	assert.ErrorIs(t, lb.GenerateKey(ctx), keys.ErrKeyExists)

	outcome, err = lb.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, vault.OutcomeAuthenticated, outcome)
	assert.Equal(t, session.Authenticated, lb.State())

	outcome, err = lb.Login(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.Equal(t, vault.OutcomeRejected, outcome)
	assert.Equal(t, session.Authenticated, lb.State(), "no downgrade")
}

func TestEncryptDecryptUpdatesIndex(t *testing.T) {
	ctx := context.Background()
	lb := loggedIn(t, testConfig(t))
	path := writeFile(t, "quarterly numbers")

	res, err := lb.Encrypt(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, len("quarterly numbers"), res.Details.Size)

	status, err := lb.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Files, 1)
	assert.Equal(t, FileSealed, status.Files[0].Status)
	assert.Equal(t, res.Details.Path, status.Files[0].Path)
	assert.Equal(t, 1, status.SealedCount)
	assert.True(t, status.VaultInitialized)
	assert.NoError(t, status.KeyErr)

	_, err = lb.Decrypt(ctx, path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(data))

	status, err = lb.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.Files)
}

func TestEncryptTwiceKeepsIndexEntry(t *testing.T) {
	ctx := context.Background()
	lb := loggedIn(t, testConfig(t))
	path := writeFile(t, "sealed once")

	res, err := lb.Encrypt(ctx, path)
	require.NoError(t, err)
	before, err := lb.IndexEntry(res.Details.Path)
	require.NoError(t, err)
	assert.EqualValues(t, len("sealed once"), before.Size)
	assert.Equal(t, res.OutputSize, before.SealedSize)

	_, err = lb.Encrypt(ctx, path)
	require.ErrorIs(t, err, filecipher.ErrAlreadySealed)

	after, err := lb.IndexEntry(res.Details.Path)
	require.NoError(t, err)
	assert.Equal(t, before.Size, after.Size)
	assert.Equal(t, before.SealedSize, after.SealedSize)

	_, err = lb.Decrypt(ctx, path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sealed once", string(data))

	_, err = lb.IndexEntry(res.Details.Path)
	assert.ErrorIs(t, err, storage.ErrNotSealed)
}

func TestDecryptFailureKeepsIndex(t *testing.T) {
	ctx := context.Background()
	lb := loggedIn(t, testConfig(t))
	path := writeFile(t, "not sealed")

	_, err := lb.Decrypt(ctx, path)
	assert.ErrorIs(t, err, fault.ErrCipherFailure)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not sealed", string(data))
}

func TestStatusDetectsMissingAndChanged(t *testing.T) {
	ctx := context.Background()
	lb := loggedIn(t, testConfig(t))

	gone := writeFile(t, "a")
	changed := writeFile(t, "b")
	for _, p := range []string{gone, changed} {
		_, err := lb.Encrypt(ctx, p)
		require.NoError(t, err)
	}

	require.NoError(t, os.Remove(gone))
	require.NoError(t, os.WriteFile(changed, []byte("overwritten"), 0600))

	status, err := lb.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.SealedCount)
	assert.Equal(t, 1, status.MissingCount)
	assert.Equal(t, 1, status.ChangedCount)
}

func TestStatusBeforeLogin(t *testing.T) {
	lb := openTest(t, testConfig(t))

	status, err := lb.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.LoggedOut, status.State)
	assert.False(t, status.VaultInitialized)
	assert.ErrorIs(t, status.KeyErr, fault.ErrKeyMissing)
	assert.Equal(t, lb.KeyPath(), status.KeyPath)
}

func TestSecondInstanceIsRefused(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock semantics")
	}
	cfg := testConfig(t)
	openTest(t, cfg)

	_, err := Open(context.Background(), cfg, logging.Nop())
	assert.ErrorIs(t, err, ErrInstanceRunning)
}

func TestPassphraseFromKeyring(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Passphrase = ""

	lb := loggedIn(t, cfg, WithPassphrasePrompt(func(context.Context) ([]byte, error) {
		t.Fatal("prompt must not be used when the keyring has a passphrase")
		return nil, nil
	}))
	require.NoError(t, lb.SavePassphrase(ctx, []byte("keyring passphrase")))
	assert.True(t, lb.HasStoredPassphrase())

	path := writeFile(t, "data")
	_, err := lb.Encrypt(ctx, path)
	require.NoError(t, err)
	require.NoError(t, lb.Close())

	// Same passphrase supplied through configuration opens the file
	cfg2 := *cfg
	cfg2.Passphrase = "keyring passphrase"
	lb2 := openTest(t, &cfg2)
	_, err = lb2.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	_, err = lb2.Decrypt(ctx, path)
	require.NoError(t, err)

	require.NoError(t, lb2.ForgetPassphrase())
	assert.False(t, lb2.HasStoredPassphrase())
}

func TestSavePassphraseChecksSealedFiles(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	assert.ErrorIs(t, openTest(t, testConfig(t)).SavePassphrase(ctx, []byte("x")), ErrNotAuthenticated)

	lb := loggedIn(t, cfg)
	gone := writeFile(t, "removed later")
	kept := writeFile(t, "kept")
	for _, p := range []string{gone, kept} {
		_, err := lb.Encrypt(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, os.Remove(gone))

	err := lb.SavePassphrase(ctx, []byte("not the file passphrase"))
	assert.ErrorIs(t, err, ErrPassphraseMismatch)
	assert.False(t, lb.HasStoredPassphrase())

	require.NoError(t, lb.SavePassphrase(ctx, []byte(cfg.Passphrase)))
	assert.True(t, lb.HasStoredPassphrase())
	require.NoError(t, lb.ForgetPassphrase())

	// Nothing left to check against once every file is decrypted
	_, err = lb.Decrypt(ctx, kept)
	require.NoError(t, err)
	require.NoError(t, lb.SavePassphrase(ctx, []byte("fresh start")))
	require.NoError(t, lb.ForgetPassphrase())
}

func TestPassphrasePromptIsAskedOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Passphrase = ""

	calls := 0
	lb := loggedIn(t, cfg, WithPassphrasePrompt(func(context.Context) ([]byte, error) {
		calls++
		return []byte("typed"), nil
	}))

	for range 2 {
		_, err := lb.Encrypt(ctx, writeFile(t, "x"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}

func TestNoPassphraseSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Passphrase = ""
	lb := loggedIn(t, cfg)

	_, err := lb.Encrypt(context.Background(), writeFile(t, "x"))
	assert.ErrorIs(t, err, ErrPassphraseRequired)
}

func TestPromptErrorIsReturned(t *testing.T) {
	cfg := testConfig(t)
	cfg.Passphrase = ""
	boom := errors.New("tty gone")
	lb := loggedIn(t, cfg, WithPassphrasePrompt(func(context.Context) ([]byte, error) {
		return nil, boom
	}))

	_, err := lb.Encrypt(context.Background(), writeFile(t, "x"))
	assert.ErrorIs(t, err, boom)
}

func TestSubmitDeliversCompletion(t *testing.T) {
	ctx := context.Background()
	lb := loggedIn(t, testConfig(t))
	path := writeFile(t, "background")

	c := <-lb.Submit(ctx, Request{Op: OpEncrypt, Path: path})
	require.NoError(t, c.Err)
	assert.Equal(t, path, c.Request.Path)
	assert.True(t, c.Result.OutputSize > 0)

	c = <-lb.Submit(ctx, Request{Op: OpDecrypt, Path: path})
	require.NoError(t, c.Err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "background", string(data))
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	lb := loggedIn(t, testConfig(t))
	path := writeFile(t, "x")
	_, err := lb.Encrypt(ctx, path)
	require.NoError(t, err)

	require.NoError(t, lb.Compact(ctx))

	status, err := lb.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status.Files, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	lb, err := Open(context.Background(), testConfig(t), logging.Nop())
	require.NoError(t, err)
	require.NoError(t, lb.Close())
	require.NoError(t, lb.Close())

	c := <-lb.Submit(context.Background(), Request{Path: "/x"})
	assert.ErrorIs(t, c.Err, ErrClosed)
}
