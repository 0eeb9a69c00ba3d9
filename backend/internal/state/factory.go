package state

import (
	"fmt"

	"vcmplayer/backend/pkg/config"
)

// Open creates the Store selected by STATE_BACKEND. Callers never depend on
// a concrete backend, so swapping one in is a config change.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StateBackend {
	case "file":
		return NewFileStore(cfg.StatePath)
	case "sqlite":
		return NewSQLiteStore(cfg.StatePath)
	case "badger":
		return NewBadgerStore(cfg.StatePath)
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StateBackend)
	}
}
