package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

var addressTables = []string{"trading_orders", "schedulers", "advance_triggers"}

// normalizeUserAddresses lower-cases wallet addresses written before lookups
// became case-insensitive.
func normalizeUserAddresses(db *gorm.DB) error {
	for _, table := range addressTables {
		if !db.Migrator().HasTable(table) {
			continue
		}
		if err := db.Exec(fmt.Sprintf("UPDATE %s SET user_address = LOWER(TRIM(user_address)) WHERE user_address <> LOWER(TRIM(user_address))", table)).Error; err != nil {
			return fmt.Errorf("normalize user_address on %s: %w", table, err)
		}
	}
	return nil
}

// backfillSchedulerTimezone defaults schedulers without a timezone to UTC.
func backfillSchedulerTimezone(db *gorm.DB) error {
	if !db.Migrator().HasTable("schedulers") {
		return nil
	}
	if err := db.Exec("UPDATE schedulers SET timezone = 'UTC' WHERE timezone IS NULL OR timezone = ''").Error; err != nil {
		return fmt.Errorf("backfill schedulers.timezone: %w", err)
	}
	return nil
}
