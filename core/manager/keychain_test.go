package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")[:32]
}

func TestKeychainPutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keychain.enc")
	k, err := OpenKeychain(path, testKey())
	require.NoError(t, err)
	defer k.Close(context.Background())

	_, ok := k.Get("conn1")
	require.False(t, ok)

	k.Put("conn1", []byte("secret"))
	got, ok := k.Get("conn1")
	require.True(t, ok)
	require.Equal(t, []byte("secret"), got)

	k.Delete("conn1")
	_, ok = k.Get("conn1")
	require.False(t, ok)
}

func TestKeychainPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keychain.enc")
	key := testKey()

	k1, err := OpenKeychain(path, key)
	require.NoError(t, err)
	k1.Put("conn1", []byte("secret"))
	require.NoError(t, k1.Close(context.Background()))

	// OpenKeychain wipes the key slice it is given, so reopen with a fresh copy.
	k2, err := OpenKeychain(path, testKey())
	require.NoError(t, err)
	defer k2.Close(context.Background())

	got, ok := k2.Get("conn1")
	require.True(t, ok)
	require.Equal(t, []byte("secret"), got)
}

func TestKeychainFindAndConsumeIsSingleUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keychain.enc")
	k, err := OpenKeychain(path, testKey())
	require.NoError(t, err)
	defer k.Close(context.Background())

	id, secret := k.NewCredential()
	require.NotEmpty(t, id)

	gotID, ok := k.FindAndConsume(secret)
	require.True(t, ok)
	require.Equal(t, id, gotID)

	_, ok = k.FindAndConsume(secret)
	require.False(t, ok)
}

func TestKeychainFindAndConsumeRejectsUnknownSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keychain.enc")
	k, err := OpenKeychain(path, testKey())
	require.NoError(t, err)
	defer k.Close(context.Background())

	_, ok := k.FindAndConsume([]byte("never stored"))
	require.False(t, ok)
}

func TestOpenKeychainRejectsWrongKeySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keychain.enc")
	_, err := OpenKeychain(path, []byte("too short"))
	require.Error(t, err)
}

func TestOpenKeychainStartsEmptyWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.enc")
	k, err := OpenKeychain(path, testKey())
	require.NoError(t, err)
	defer k.Close(context.Background())

	_, ok := k.Get("anything")
	require.False(t, ok)
}

func TestKeychainSecondCloseWithExpiredContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keychain.enc")
	k, err := OpenKeychain(path, testKey())
	require.NoError(t, err)

	require.NoError(t, k.Close(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	// The second Close finds both the already-closed done channel and the
	// expired context ready; select picks either, so the result may be nil
	// or the context's error. It must return rather than block.
	_ = k.Close(ctx)
}
