package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "recordings/42/call-abc.wav"
	payload := []byte("RIFF....WAVEfmt")

	require.NoError(t, store.Put(ctx, key, bytes.NewReader(payload), "audio/wav"))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFilesystemStoreGetMissing(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "recordings/missing.wav")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFilesystemStoreDeleteIdempotent(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a/b.wav", bytes.NewReader([]byte("x")), "audio/wav"))
	require.NoError(t, store.Delete(ctx, "a/b.wav"))
	require.NoError(t, store.Delete(ctx, "a/b.wav"))

	exists, err := store.Exists(ctx, "a/b.wav")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFilesystemStoreRejectsTraversal(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../escape.wav", bytes.NewReader(nil), "audio/wav")
	assert.Error(t, err)

	_, err = store.Get(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}
