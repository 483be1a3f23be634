package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"triggerexecutor/src/database"
	"triggerexecutor/src/model"
)

// SchedulerRepository persists time-based child triggers.
type SchedulerRepository struct {
	db *gorm.DB
}

func NewSchedulerRepository() *SchedulerRepository {
	return &SchedulerRepository{db: database.MainDB}
}

func (r *SchedulerRepository) WithDB(db *gorm.DB) *SchedulerRepository {
	return &SchedulerRepository{db: db}
}

func (r *SchedulerRepository) Create(ctx context.Context, s *model.Scheduler) error {
	s.UserAddress = model.NormalizeAddress(s.UserAddress)
	if s.Status == "" {
		s.Status = model.SchedulerStatusPending
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}

	if err := r.db.WithContext(ctx).Omit("TradingOrder").Create(s).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "SchedulerRepository",
			"op":       "Create",
			"order_id": s.TradingOrderID,
		}).WithError(err).Error("Failed to create scheduler")
		return err
	}

	return nil
}

// FindByID fetches a scheduler. Returns (nil, nil) if not found.
func (r *SchedulerRepository) FindByID(ctx context.Context, id uint) (*model.Scheduler, error) {
	var s model.Scheduler

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":         "SchedulerRepository",
			"op":           "FindByID",
			"scheduler_id": id,
		}).WithError(err).Error("Failed to fetch scheduler")
		return nil, err
	}

	return &s, nil
}

// FindByTradingOrderID lists the schedulers of an order.
func (r *SchedulerRepository) FindByTradingOrderID(ctx context.Context, orderID uint) ([]model.Scheduler, error) {
	var schedulers []model.Scheduler

	err := r.db.WithContext(ctx).
		Where("trading_order_id = ?", orderID).
		Order("id ASC").
		Find(&schedulers).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "SchedulerRepository",
			"op":       "FindByTradingOrderID",
			"order_id": orderID,
		}).WithError(err).Error("Failed to list schedulers of order")
		return nil, err
	}

	return schedulers, nil
}

// FindByUserAddress lists the schedulers of a user joined with their parent orders.
func (r *SchedulerRepository) FindByUserAddress(ctx context.Context, address string) ([]model.Scheduler, error) {
	var schedulers []model.Scheduler

	err := r.db.WithContext(ctx).
		Preload("TradingOrder").
		Where("user_address = ?", model.NormalizeAddress(address)).
		Order("id DESC").
		Find(&schedulers).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "SchedulerRepository",
			"op":           "FindByUserAddress",
			"user_address": address,
		}).WithError(err).Error("Failed to list schedulers of user")
		return nil, err
	}

	return schedulers, nil
}

// FindByStatus lists schedulers in any of the given statuses.
func (r *SchedulerRepository) FindByStatus(ctx context.Context, statuses ...model.SchedulerStatus) ([]model.Scheduler, error) {
	var schedulers []model.Scheduler

	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("id ASC").
		Find(&schedulers).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "SchedulerRepository",
			"op":       "FindByStatus",
			"statuses": statuses,
		}).WithError(err).Error("Failed to list schedulers by status")
		return nil, err
	}

	return schedulers, nil
}

// FindStaleActive lists ACTIVE schedulers whose next fire is before cutoff and
// which have not been touched since, i.e. their queued job was lost.
func (r *SchedulerRepository) FindStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]model.Scheduler, error) {
	var schedulers []model.Scheduler

	err := r.db.WithContext(ctx).
		Where("status = ? AND next_execution_at < ? AND updated_at < ?", model.SchedulerStatusActive, cutoff, cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&schedulers).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SchedulerRepository",
			"op":   "FindStaleActive",
		}).WithError(err).Error("Failed to list stale active schedulers")
		return nil, err
	}

	return schedulers, nil
}

func (r *SchedulerRepository) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&model.Scheduler{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "SchedulerRepository",
			"op":           "Update",
			"scheduler_id": id,
		}).WithError(err).Error("Failed to update scheduler")
	}
	return err
}

// TransitionStatus applies fields only while the scheduler is in one of from.
// It reports whether a row changed.
func (r *SchedulerRepository) TransitionStatus(
	ctx context.Context,
	id uint,
	from []model.SchedulerStatus,
	fields map[string]interface{},
) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Scheduler{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "SchedulerRepository",
			"op":           "TransitionStatus",
			"scheduler_id": id,
		}).WithError(res.Error).Error("Failed to transition scheduler")
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}
