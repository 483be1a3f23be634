package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"triggerexecutor/src/database"
	"triggerexecutor/src/model"
)

// ExecutionLogRepository appends and reads the per-fire execution history.
type ExecutionLogRepository struct {
	db *gorm.DB
}

func NewExecutionLogRepository() *ExecutionLogRepository {
	return &ExecutionLogRepository{db: database.MainDB}
}

func (r *ExecutionLogRepository) WithDB(db *gorm.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

func (r *ExecutionLogRepository) Create(ctx context.Context, entry *model.ExecutionLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "ExecutionLogRepository",
			"op":       "Create",
			"order_id": entry.TradingOrderID,
			"source":   entry.Source,
		}).WithError(err).Error("Failed to create execution log")
		return err
	}
	return nil
}

// FindByTradingOrderID returns the history of an order, oldest first.
func (r *ExecutionLogRepository) FindByTradingOrderID(ctx context.Context, orderID uint) ([]model.ExecutionLog, error) {
	var logs []model.ExecutionLog

	err := r.db.WithContext(ctx).
		Where("trading_order_id = ?", orderID).
		Order("id ASC").
		Find(&logs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "ExecutionLogRepository",
			"op":       "FindByTradingOrderID",
			"order_id": orderID,
		}).WithError(err).Error("Failed to list execution logs")
		return nil, err
	}

	return logs, nil
}
