package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// exerciseStore runs the common lifecycle contract against a Store.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "job/a.res", []byte("alpha")))
	require.NoError(t, store.Put(ctx, "job/b.res", []byte("beta")))
	require.NoError(t, store.Put(ctx, "other/c.res", []byte("gamma")))

	data, err := store.Get(ctx, "job/a.res")
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), data)

	// Overwrite replaces the previous blob.
	require.NoError(t, store.Put(ctx, "job/a.res", []byte("alpha2")))
	data, err = store.Get(ctx, "job/a.res")
	require.NoError(t, err)
	require.Equal(t, []byte("alpha2"), data)

	names, err := store.List(ctx, "job/")
	require.NoError(t, err)
	require.Equal(t, []string{"job/a.res", "job/b.res"}, names)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"job/a.res", "job/b.res", "other/c.res"}, names)

	require.NoError(t, store.Delete(ctx, "job/a.res"))
	_, err = store.Get(ctx, "job/a.res")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent blob is not an error.
	require.NoError(t, store.Delete(ctx, "job/a.res"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	src := []byte("original")
	require.NoError(t, store.Put(ctx, "blob", src))
	src[0] = 'X'

	got, err := store.Get(ctx, "blob")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)

	// Mutating the returned slice must not leak back into the store.
	got[0] = 'Y'
	again, err := store.Get(ctx, "blob")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), again)
}

func TestLocalStore(t *testing.T) {
	exerciseStore(t, NewLocalStore(t.TempDir()))
}

func TestLocalStoreEmptyRoot(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir() + "/does-not-exist-yet")

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, names)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewLocalStore(t.TempDir())
	require.Error(t, store.Put(ctx, "blob", []byte("x")))
	_, err := store.Get(ctx, "blob")
	require.Error(t, err)
}
