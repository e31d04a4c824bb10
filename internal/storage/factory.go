package storage

import (
	"fmt"

	"github.com/signalsfoundry/intrusion-game/internal/config"
)

// NewStore builds the backend named by cfg.Backend. The returned store still
// needs Init.
func NewStore(cfg config.Storage) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.ModelsDir, cfg.LogsDir), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// CloseIfSupported closes stores that hold resources.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
