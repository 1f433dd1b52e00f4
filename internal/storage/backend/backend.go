// Package backend opens the Store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtrntr/auction/internal/config"
	"github.com/xtrntr/auction/internal/db"
	"github.com/xtrntr/auction/internal/storage"
	"github.com/xtrntr/auction/internal/storage/memory"
	"github.com/xtrntr/auction/internal/storage/sqlite"
	"github.com/xtrntr/auction/migrations"
)

// Open connects to the configured backend and applies its schema
func Open(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, config.Connect)
		defer cancel()
		database, err := db.NewDB(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		schema, err := migrations.FS.ReadFile("001_init.sql")
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to read schema: %w", err)
		}
		if err := database.Migrate(ctx, string(schema)); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil

	case config.StorageSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.StorageMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}
