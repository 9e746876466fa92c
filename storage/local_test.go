package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundtrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	contents := []byte("%PDF-1.4 fake")

	key, err := store.Upload(ctx, uuid.New(), "informe final.pdf", bytes.NewReader(contents))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "peticiones/"))
	assert.NotContains(t, key, " ")

	reader, err := store.Download(ctx, key)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestLocalStorageDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key, err := store.Upload(ctx, uuid.New(), "foto.png", bytes.NewReader([]byte{0x89, 0x50}))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Download(ctx, key)
	assert.Error(t, err)

	// Deleting an already-absent blob is not an error
	assert.NoError(t, store.Delete(ctx, key))
}

func TestGenerateStorageKeySanitizesNames(t *testing.T) {
	id := uuid.New()
	key := generateStorageKey(id, `..\evil name/file.pdf`)

	assert.True(t, strings.HasPrefix(key, "peticiones/"))
	assert.Contains(t, key, id.String())
	assert.False(t, strings.ContainsAny(strings.TrimPrefix(key, "peticiones/"), ` \`))
}
