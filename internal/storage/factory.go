package storage

import (
	"fmt"

	"github.com/psg-sentry/sentry/internal/config"
	"github.com/psg-sentry/sentry/internal/database"
	"github.com/psg-sentry/sentry/internal/storage/gormstore"
	"github.com/psg-sentry/sentry/internal/storage/memory"
	"github.com/rs/zerolog"
)

// Storage types accepted in storage.type.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypeDatabase = "database"
)

// NewBackend creates a storage backend based on configuration. Database
// backends are connected here; Init still has to be called.
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case TypeMemory:
		return memory.New(cfg.Memory), nil
	case TypeSQLite:
		mgr := database.NewManager(cfg.Database, "", log)
		if err := mgr.ConnectSqlite(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		return gormstore.New(mgr, 0), nil
	case TypeDatabase:
		mgr := database.NewManager(cfg.Database, cfg.SQLite.Path, log)
		if err := mgr.Connect(); err != nil {
			return nil, err
		}
		return gormstore.New(mgr, cfg.SQLite.DumpInterval), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
