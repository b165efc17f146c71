// Package storage opens the persistent store the reference backend runs on.
package storage

import (
	"context"
	"fmt"

	"poolcore/internal/config"
	"poolcore/internal/infra/persistence/memory"
	"poolcore/internal/infra/persistence/postgres"
	"poolcore/internal/infra/persistence/sqlite"
	"poolcore/pkg/domain"
)

// Store is a persistent store that may hold external resources.
type Store interface {
	domain.PersistentStore
	Close() error
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Close() error { return nil }

// Open selects a backend from cfg.Driver (memory when empty). Options apply
// to the in-memory state every backend keeps.
func Open(ctx context.Context, cfg config.Storage, opts ...memory.Option) (Store, error) {
	switch cfg.Driver {
	case "", config.StorageMemory:
		return memoryStore{memory.NewStore(opts...)}, nil
	case config.StorageSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoragePostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
