package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auction/internal/config"
	"github.com/xtrntr/auction/internal/storage/memory"
	"github.com/xtrntr/auction/internal/storage/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.Config{Storage: config.StorageMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	store, err = Open(ctx, config.Config{
		Storage:    config.StorageSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "nested", "auction.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, store)
	assert.NoError(t, store.Close())

	_, err = Open(ctx, config.Config{Storage: "mongo"})
	assert.Error(t, err)
}
