package database

import (
	"fmt"
	"os"
	"path/filepath"

	"ardrive-sync/internal/config"
	"ardrive-sync/internal/engine"
)

// NewStoreFromConfig creates a Store implementation based on the database
// config type. Each profile gets its own database file; switching profiles
// means closing one store and opening another.
func NewStoreFromConfig(cfg config.DatabaseConfig, profile string) (engine.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		dir := filepath.Join(cfg.DataDir, profile)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(dir, "sync.db"))
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
