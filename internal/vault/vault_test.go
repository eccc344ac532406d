package vault

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/lockbox/internal/appdir"
	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/fault"
	"github.com/illarion/lockbox/internal/keys"
	"github.com/illarion/lockbox/internal/logging"
)

var storedPattern = regexp.MustCompile(`^[0-9a-f]{32}:[0-9a-f]+$`)

func testKey(b byte) *keys.MasterKey {
	var k keys.MasterKey
	for i := range k {
		k[i] = b
	}
	return &k
}

func newVault(t *testing.T) (*Vault, string) {
	t.Helper()
	base := t.TempDir()
	dir, err := appdir.Open(base)
	require.NoError(t, err)
	t.Cleanup(func() { dir.Close() })
	return New(dir, logging.Nop()), filepath.Join(base, FileName)
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func TestRecordRoundTrip(t *testing.T) {
	key := testKey(7)
	records := []AuthRecord{
		{Username: "alice", Password: "s3cret"},
		{Username: "bob", Password: strings.Repeat("p", 100)},
		{Username: "ünïcødé", Password: `quo"tes:and<tags>`},
	}

	for _, rec := range records {
		stored, err := EncodeRecord(key, rec)
		require.NoError(t, err)
		assert.Regexp(t, storedPattern, stored)

		got, err := DecodeRecord(key, stored)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	}
}

func TestEncodeUsesFreshIV(t *testing.T) {
	key := testKey(7)
	rec := AuthRecord{Username: "alice", Password: "s3cret"}

	first, err := EncodeRecord(key, rec)
	require.NoError(t, err)
	second, err := EncodeRecord(key, rec)
	require.NoError(t, err)

	assert.NotEqual(t, strings.Split(first, ":")[0], strings.Split(second, ":")[0])
	assert.NotEqual(t, first, second)
}

func TestDecodeMalformed(t *testing.T) {
	key := testKey(1)
	iv := strings.Repeat("ab", 16)

	for _, stored := range []string{
		"not-a-record",
		"a:b:c",
		":" + iv,
		iv + ":",
		"zz:" + iv,
		iv + ":xyz",
		"abcd:" + iv, // 2-byte IV
	} {
		_, err := DecodeRecord(key, stored)
		assert.ErrorIs(t, err, fault.ErrMalformedRecord, stored)
	}
}

func TestDecodeWrongKeyIsCipherFailure(t *testing.T) {
	stored, err := EncodeRecord(testKey(1), AuthRecord{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)

	_, err = DecodeRecord(testKey(2), stored)
	assert.ErrorIs(t, err, fault.ErrCipherFailure)
}

func TestDecodeNonJSONIsCipherFailure(t *testing.T) {
	key := testKey(3)
	iv := make([]byte, 16)
	// Valid ciphertext of a non-JSON plaintext
	ct, err := crypto.EncryptCBC(key.Bytes(), iv, []byte("plain words"))
	require.NoError(t, err)

	_, err = DecodeRecord(key, hex.EncodeToString(iv)+":"+hex.EncodeToString(ct))
	assert.ErrorIs(t, err, fault.ErrCipherFailure)
}

func TestBootstrapThenVerify(t *testing.T) {
	ctx := context.Background()
	v, path := newVault(t)
	key := testKey(9)

	outcome, err := v.VerifyOrBootstrap(ctx, key, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, outcome)

	stored := readFile(t, path)
	assert.Regexp(t, storedPattern, string(stored))

	outcome, err = v.VerifyOrBootstrap(ctx, key, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, outcome)
	assert.Equal(t, stored, readFile(t, path), "verify must not rewrite the vault")

	outcome, err = v.VerifyOrBootstrap(ctx, key, "alice", "wrong")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, stored, readFile(t, path))

	outcome, err = v.VerifyOrBootstrap(ctx, key, "mallory", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, stored, readFile(t, path))
}

func TestBootstrapFromSentinel(t *testing.T) {
	ctx := context.Background()
	v, path := newVault(t)
	require.NoError(t, os.WriteFile(path, []byte(EmptySentinel), 0600))

	initialized, err := v.Initialized()
	require.NoError(t, err)
	assert.False(t, initialized)

	outcome, err := v.VerifyOrBootstrap(ctx, testKey(1), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, outcome)
	assert.Regexp(t, storedPattern, string(readFile(t, path)))

	initialized, err = v.Initialized()
	require.NoError(t, err)
	assert.True(t, initialized)
}

func TestNullPaddingIsStripped(t *testing.T) {
	ctx := context.Background()
	key := testKey(4)
	v, path := newVault(t)

	stored, err := EncodeRecord(key, AuthRecord{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(make([]byte, 40), []byte(stored+"\n")...), 0600))

	outcome, err := v.VerifyOrBootstrap(ctx, key, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, outcome)

	// Null-only content counts as empty
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0600))
	outcome, err = v.VerifyOrBootstrap(ctx, key, "bob", "pw")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, outcome)
	assert.Regexp(t, storedPattern, string(readFile(t, path)))
}

func TestMalformedVaultFailsClosed(t *testing.T) {
	ctx := context.Background()
	v, path := newVault(t)
	require.NoError(t, os.WriteFile(path, []byte("not-a-record"), 0600))

	outcome, err := v.VerifyOrBootstrap(ctx, testKey(1), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, outcome)
	assert.Equal(t, []byte("not-a-record"), readFile(t, path), "malformed vault must not be treated as fresh")
}

func TestWrongKeyReportsCipherFailure(t *testing.T) {
	ctx := context.Background()
	v, path := newVault(t)

	_, err := v.VerifyOrBootstrap(ctx, testKey(1), "alice", "s3cret")
	require.NoError(t, err)
	before := readFile(t, path)

	outcome, err := v.VerifyOrBootstrap(ctx, testKey(2), "alice", "s3cret")
	assert.Equal(t, OutcomeError, outcome)
	assert.ErrorIs(t, err, fault.ErrCipherFailure)
	assert.Equal(t, before, readFile(t, path))
}

func TestEmptyInputIsIgnored(t *testing.T) {
	ctx := context.Background()
	v, path := newVault(t)

	for _, in := range [][2]string{{"", "pw"}, {"alice", ""}, {"", ""}} {
		outcome, err := v.VerifyOrBootstrap(ctx, testKey(1), in[0], in[1])
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	}

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no file I/O for empty input")
}

func TestInitializedWithoutFile(t *testing.T) {
	v, path := newVault(t)

	initialized, err := v.Initialized()
	require.NoError(t, err)
	assert.False(t, initialized)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOutcomeMapping(t *testing.T) {
	assert.Equal(t, fault.KindAuthenticated, OutcomeAuthenticated.Kind())
	assert.Equal(t, fault.KindRejected, OutcomeRejected.Kind())
	assert.Equal(t, fault.KindMalformedRecord, OutcomeMalformed.Kind())
	assert.ErrorIs(t, OutcomeRejected.Err(), fault.ErrCredentialMismatch)
	assert.ErrorIs(t, OutcomeMalformed.Err(), fault.ErrMalformedRecord)
	assert.NoError(t, OutcomeAuthenticated.Err())
	assert.Equal(t, "rejected", OutcomeRejected.String())
}
