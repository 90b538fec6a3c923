package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bzfsd/bzfsd/internal/model"
)

// GetBackupDBPaths lists the SQLite dumps in dir that were not migrated yet.
func GetBackupDBPaths(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.db"))
}

// LoadMatch reads a match and its whole history, events in time order.
func LoadMatch(db *gorm.DB, uuid string) (*model.Match, error) {
	byTime := func(tx *gorm.DB) *gorm.DB { return tx.Order("time ASC") }
	var m model.Match
	err := db.
		Preload("PlayerSessions", func(tx *gorm.DB) *gorm.DB { return tx.Order("joined_at ASC") }).
		Preload("KillEvents", byTime).
		Preload("CaptureEvents", byTime).
		Preload("FlagEvents", byTime).
		Preload("GameEvents", byTime).
		Where("uuid = ?", uuid).
		First(&m).Error
	if err != nil {
		return nil, fmt.Errorf("loading match %s: %w", uuid, err)
	}
	return &m, nil
}

// MigrateBackup copies every match in src that dst does not have yet,
// with its history and performance samples, in one transaction. Returns
// the number of matches copied.
func MigrateBackup(src, dst *gorm.DB) (int, error) {
	var uuids []string
	if err := src.Model(&model.Match{}).Order("started_at ASC").Pluck("uuid", &uuids).Error; err != nil {
		return 0, fmt.Errorf("listing matches: %w", err)
	}

	copied := 0
	err := dst.Transaction(func(tx *gorm.DB) error {
		for _, id := range uuids {
			var existing model.Match
			err := tx.Where("uuid = ?", id).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			m, err := LoadMatch(src, id)
			if err != nil {
				return err
			}
			if err := copyMatch(tx, m); err != nil {
				return fmt.Errorf("copying match %s: %w", id, err)
			}

			var perf []model.ServerPerformance
			if err := src.Where("match_uuid = ?", id).Find(&perf).Error; err != nil {
				return err
			}
			if len(perf) > 0 {
				if err := tx.Create(&perf).Error; err != nil {
					return fmt.Errorf("copying performance samples: %w", err)
				}
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

// copyMatch inserts m under a new primary key and points its rows at it.
func copyMatch(tx *gorm.DB, m *model.Match) error {
	row := *m
	row.ID = 0
	row.PlayerSessions, row.KillEvents, row.CaptureEvents, row.FlagEvents, row.GameEvents = nil, nil, nil, nil, nil
	if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
		return err
	}

	for i := range m.PlayerSessions {
		m.PlayerSessions[i].ID, m.PlayerSessions[i].MatchID = 0, row.ID
	}
	for i := range m.KillEvents {
		m.KillEvents[i].ID, m.KillEvents[i].MatchID = 0, row.ID
	}
	for i := range m.CaptureEvents {
		m.CaptureEvents[i].ID, m.CaptureEvents[i].MatchID = 0, row.ID
	}
	for i := range m.FlagEvents {
		m.FlagEvents[i].ID, m.FlagEvents[i].MatchID = 0, row.ID
	}
	for i := range m.GameEvents {
		m.GameEvents[i].ID, m.GameEvents[i].MatchID = 0, row.ID
	}

	if err := createRows(tx, m.PlayerSessions); err != nil {
		return err
	}
	if err := createRows(tx, m.KillEvents); err != nil {
		return err
	}
	if err := createRows(tx, m.CaptureEvents); err != nil {
		return err
	}
	if err := createRows(tx, m.FlagEvents); err != nil {
		return err
	}
	return createRows(tx, m.GameEvents)
}

func createRows[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Omit(clause.Associations).Create(&rows).Error
}
