// Package storage provides the durable key/value backends used for local client state.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/pngprotect/internal/config"
)

// KVStore holds opaque values under string keys
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store combines the key/value interface with lifecycle methods.
type Store interface {
	KVStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
