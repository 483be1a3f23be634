package repository

import (
	"context"

	"gorm.io/gorm"

	"triggerexecutor/src/database"
)

// Store bundles the engine repositories over one connection or transaction.
type Store struct {
	db *gorm.DB

	Orders        *TradingOrderRepository
	Schedulers    *SchedulerRepository
	Triggers      *AdvanceTriggerRepository
	ExecutionLogs *ExecutionLogRepository
	Exceptions    *ExceptionRepository
}

// NewStore binds every repository to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Orders:        &TradingOrderRepository{db: db},
		Schedulers:    &SchedulerRepository{db: db},
		Triggers:      &AdvanceTriggerRepository{db: db},
		ExecutionLogs: &ExecutionLogRepository{db: db},
		Exceptions:    &ExceptionRepository{db: db},
	}
}

// NewMainStore binds every repository to MainDB.
func NewMainStore() *Store {
	return NewStore(database.MainDB)
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a single transaction. Returning an
// error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
