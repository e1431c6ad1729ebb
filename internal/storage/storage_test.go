package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/straye-as/sales-pipeline-api/internal/config"
	"github.com/straye-as/sales-pipeline-api/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalStore(t *testing.T) {
	base := t.TempDir()
	store, err := storage.NewLocalStore(base)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		content := []byte(`{"dealId":42}`)
		size, err := store.Put(ctx, "deals/2024/05/deal-42.json", "application/json", bytes.NewReader(content))
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), size)

		_, err = os.Stat(filepath.Join(base, "deals", "2024", "05", "deal-42.json"))
		assert.NoError(t, err)

		rc, err := store.Get(ctx, "deals/2024/05/deal-42.json")
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "deals/missing.json")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		_, err := store.Put(ctx, "tmp/x.json", "application/json", bytes.NewReader([]byte("{}")))
		require.NoError(t, err)
		assert.NoError(t, store.Delete(ctx, "tmp/x.json"))
		assert.NoError(t, store.Delete(ctx, "tmp/x.json"))
	})

	t.Run("keys cannot escape the base path", func(t *testing.T) {
		_, err := store.Put(ctx, "../outside.json", "application/json", bytes.NewReader([]byte("{}")))
		assert.Error(t, err)
		_, err = store.Get(ctx, "..")
		assert.Error(t, err)
	})
}

func TestNewStore(t *testing.T) {
	logger := zap.NewNop()

	t.Run("local mode", func(t *testing.T) {
		store, err := storage.NewStore(&config.StorageConfig{Mode: "local", LocalBasePath: t.TempDir()}, logger)
		require.NoError(t, err)
		assert.IsType(t, &storage.LocalStore{}, store)
	})

	t.Run("azure mode needs a connection string", func(t *testing.T) {
		_, err := storage.NewStore(&config.StorageConfig{Mode: "azure"}, logger)
		assert.Error(t, err)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := storage.NewStore(&config.StorageConfig{Mode: "ftp"}, logger)
		assert.Error(t, err)
	})
}
