package database

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OpenInMemory opens a migrated, private sqlite database that lives as long as
// the returned handle. The pool is pinned to one connection so every query sees
// the same in-memory schema.
func OpenInMemory() (*gorm.DB, error) {
	config := Config{
		Driver:       DriverSQLite,
		GormLogLevel: 1,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := Open(config, dsn)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}
