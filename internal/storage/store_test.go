package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestWriteReadDelete(t *testing.T) {
	store := newTestStore(t)

	key := SharedKey("abc123")
	require.NoError(t, store.Write(key, []byte("<html>hello</html>")))

	body, err := store.Read(key)
	require.NoError(t, err)
	require.Equal(t, "<html>hello</html>", string(body))

	ok, err := store.Exists(key)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Delete(key))
	ok, err = store.Exists(key)
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting a missing object is not an error.
	require.NoError(t, store.Delete(key))
}

func TestWriteOnce(t *testing.T) {
	store := newTestStore(t)

	key := SharedKey("abc123")
	require.NoError(t, store.Write(key, []byte("first")))
	require.NoError(t, store.Write(key, []byte("second")))

	body, err := store.Read(key)
	require.NoError(t, err)
	require.Equal(t, "first", string(body))
}

func TestKeyNamespaces(t *testing.T) {
	private := NewPrivateKey(7)
	require.True(t, strings.HasPrefix(private, "users/7/"))
	require.True(t, strings.HasSuffix(private, ".html"))
	require.NotEqual(t, private, NewPrivateKey(7))

	require.Equal(t, "shared/abc.html", SharedKey("abc"))
	require.Equal(t, "community/abc.html", CommunityKey("abc"))
}

func TestInvalidKeysRejected(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{"../escape.html", "/abs/path.html", "."} {
		require.Error(t, store.Write(key, []byte("x")), "key %q", key)
		_, err := store.Read(key)
		require.Error(t, err, "key %q", key)
	}
}

func TestWriteFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	// A plain file where the namespace directory should be makes the
	// write's MkdirAll fail regardless of process privileges.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared"), []byte("x"), 0644))

	err = store.Write(SharedKey("abc"), []byte("body"))
	require.ErrorIs(t, err, ErrStorageWrite)
}
