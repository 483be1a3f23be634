// Package migrations runs the data fixes that AutoMigrate cannot express.
package migrations

import (
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration records one applied data migration.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// Migration is a named, run-once change over existing rows.
type Migration struct {
	ID string
	Fn func(*gorm.DB) error
}

// registered runs in order. Append only, ids never change.
var registered = []Migration{
	{ID: "00001_normalize_user_addresses", Fn: normalizeUserAddresses},
	{ID: "00002_backfill_scheduler_timezone", Fn: backfillSchedulerTimezone},
}

// RunOnce applies fn inside a transaction unless migrationID is already
// recorded. The record is written in the same transaction as fn.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data_migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		err := tx.Take(&DataMigration{}, "id = ?", migrationID).Error
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}
		if err := tx.Create(&DataMigration{ID: migrationID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		logger.WithField("migration", migrationID).Info("[database] data migration applied")
		return nil
	})
}

// Run applies every registered migration that has not run yet.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	for _, m := range registered {
		if err := RunOnce(db, m.ID, m.Fn); err != nil {
			return err
		}
	}
	return nil
}
