// Package postgres implements the storage.Backend interface on PostgreSQL.
// When the server is unreachable at startup the history goes to the
// in-memory SQLite database instead and is dumped to a file on close.
package postgres

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/database"
	gormstorage "github.com/bzfsd/bzfsd/internal/storage/gorm"

	"github.com/rs/zerolog"
)

// Backend wraps the GORM backend with connection management.
type Backend struct {
	*gormstorage.Backend
	manager      *database.Manager
	fallbackPath string
	log          *slog.Logger
}

// New connects to cfg. fallbackPath receives the local dump when Postgres
// could not be reached.
func New(cfg config.DBConfig, fallbackPath string, log *slog.Logger, dbLog zerolog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	m := database.NewManager(dbLog)
	if err := m.Connect(cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if m.ShouldSaveLocal {
		log.Warn("postgres unavailable, recording to local sqlite", "fallback", fallbackPath)
	}
	return &Backend{
		Backend:      gormstorage.New(gormstorage.Dependencies{DB: m.DB, Logger: log}),
		manager:      m,
		fallbackPath: fallbackPath,
		log:          log,
	}, nil
}

// Local reports whether the backend fell back to SQLite.
func (b *Backend) Local() bool { return b.manager.ShouldSaveLocal }

// Init migrates the schema.
func (b *Backend) Init() error {
	if err := b.manager.Setup(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

// Close ends any open match, dumps a local fallback and releases the pool.
func (b *Backend) Close() error {
	err := b.Backend.Close()
	if b.Local() && b.fallbackPath != "" {
		err = errors.Join(err, b.manager.DumpMemoryToDisk(b.fallbackPath))
	}
	return errors.Join(err, b.manager.Close())
}
