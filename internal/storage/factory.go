package storage

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/storage/memory"
	postgresstorage "github.com/bzfsd/bzfsd/internal/storage/postgres"
	sqlitestorage "github.com/bzfsd/bzfsd/internal/storage/sqlite"
	wsstorage "github.com/bzfsd/bzfsd/internal/storage/websocket"
)

// NewBackend creates a storage backend based on configuration. The
// backend is not initialized yet.
func NewBackend(cfg config.StorageConfig, log *slog.Logger, dbLog zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgresstorage.New(cfg.Postgres, cfg.SQLite.DumpPath, log, dbLog)
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, log)
	case "websocket":
		if cfg.Websocket.URL == "" {
			return nil, fmt.Errorf("websocket storage needs a url")
		}
		return wsstorage.New(cfg.Websocket, log), nil
	case "memory", "":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
