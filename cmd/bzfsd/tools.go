package main

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/database"
	"github.com/bzfsd/bzfsd/internal/logging"
)

// runTool handles the maintenance subcommands that work on the match
// history database instead of starting the server.
func runTool(cfg *config.Config, args []string) error {
	switch strings.ToLower(args[0]) {
	case "setupdb":
		return setupDB(cfg)
	case "getjson":
		if len(args) < 2 {
			return fmt.Errorf("no match ids provided")
		}
		return getJSON(cfg, args[1:])
	case "migratebackups":
		dir := filepath.Dir(cfg.Storage.SQLite.DumpPath)
		if len(args) > 1 {
			dir = args[1]
		}
		return migrateBackups(cfg, dir)
	}
	return fmt.Errorf("unknown command %q (want setupdb, getjson or migratebackups)", args[0])
}

func connectPostgres(cfg *config.Config) (*database.Manager, error) {
	m := database.NewManager(logging.NewZerolog(os.Stderr, cfg.LogLevel))
	db, err := m.GetPostgresDB(cfg.Storage.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	m.DB, m.SqlDB, m.IsValid = db, sqlDB, true
	return m, nil
}

func setupDB(cfg *config.Config) error {
	m, err := connectPostgres(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Setup(); err != nil {
		return err
	}
	Logger.Info("DB setup complete.")
	return nil
}

// getJSON writes each match's history to <uuid>.json.gz in the working
// directory.
func getJSON(cfg *config.Config, ids []string) error {
	m, err := connectPostgres(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	for _, id := range ids {
		start := time.Now()
		match, err := database.LoadMatch(m.DB, id)
		if err != nil {
			return err
		}
		path := id + ".json.gz"
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		gz := gzip.NewWriter(f)
		enc := json.NewEncoder(gz)
		enc.SetIndent("", "  ")
		err = enc.Encode(match)
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		Logger.Info("exported match", "uuid", id, "path", path, "duration", time.Since(start))
	}
	return nil
}

// migrateBackups copies local SQLite dumps into postgres and renames each
// one to .migrated once it is in.
func migrateBackups(cfg *config.Config, dir string) error {
	paths, err := database.GetBackupDBPaths(dir)
	if err != nil {
		return fmt.Errorf("error getting backup database paths: %w", err)
	}
	m, err := connectPostgres(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Setup(); err != nil {
		return err
	}

	var migrated []string
	for _, path := range paths {
		src, err := database.OpenSqlite(path)
		if err != nil {
			return fmt.Errorf("error opening %s: %w", path, err)
		}
		n, err := database.MigrateBackup(src, m.DB)
		if sqlDB, cerr := src.DB(); cerr == nil {
			sqlDB.Close()
		}
		if err != nil {
			return fmt.Errorf("error migrating %s: %w", path, err)
		}
		if err := os.Rename(path, path+".migrated"); err != nil {
			Logger.Error("error renaming sqlite file", "error", err, "path", path)
		}
		Logger.Info("migrated backup", "path", path, "matches", n)
		migrated = append(migrated, path)
	}
	Logger.Info("Successfully migrated backups", "count", len(migrated), "paths", migrated)
	return nil
}
