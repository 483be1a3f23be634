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

// AdvanceTriggerRepository persists market-condition child triggers.
type AdvanceTriggerRepository struct {
	db *gorm.DB
}

func NewAdvanceTriggerRepository() *AdvanceTriggerRepository {
	return &AdvanceTriggerRepository{db: database.MainDB}
}

func (r *AdvanceTriggerRepository) WithDB(db *gorm.DB) *AdvanceTriggerRepository {
	return &AdvanceTriggerRepository{db: db}
}

func (r *AdvanceTriggerRepository) Create(ctx context.Context, t *model.AdvanceTrigger) error {
	t.UserAddress = model.NormalizeAddress(t.UserAddress)
	if t.Status == "" {
		t.Status = model.AdvanceTriggerStatusPending
	}

	if err := r.db.WithContext(ctx).Omit("TradingOrder").Create(t).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "AdvanceTriggerRepository",
			"op":       "Create",
			"order_id": t.TradingOrderID,
		}).WithError(err).Error("Failed to create advance trigger")
		return err
	}

	return nil
}

// FindByID fetches a trigger. Returns (nil, nil) if not found.
func (r *AdvanceTriggerRepository) FindByID(ctx context.Context, id uint) (*model.AdvanceTrigger, error) {
	var t model.AdvanceTrigger

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "AdvanceTriggerRepository",
			"op":         "FindByID",
			"trigger_id": id,
		}).WithError(err).Error("Failed to fetch advance trigger")
		return nil, err
	}

	return &t, nil
}

func (r *AdvanceTriggerRepository) FindByTradingOrderID(ctx context.Context, orderID uint) ([]model.AdvanceTrigger, error) {
	var triggers []model.AdvanceTrigger

	err := r.db.WithContext(ctx).
		Where("trading_order_id = ?", orderID).
		Order("id ASC").
		Find(&triggers).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "AdvanceTriggerRepository",
			"op":       "FindByTradingOrderID",
			"order_id": orderID,
		}).WithError(err).Error("Failed to list advance triggers of order")
		return nil, err
	}

	return triggers, nil
}

// FindByUserAddress lists the triggers of a user joined with their parent orders.
func (r *AdvanceTriggerRepository) FindByUserAddress(ctx context.Context, address string) ([]model.AdvanceTrigger, error) {
	var triggers []model.AdvanceTrigger

	err := r.db.WithContext(ctx).
		Preload("TradingOrder").
		Where("user_address = ?", model.NormalizeAddress(address)).
		Order("id DESC").
		Find(&triggers).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "AdvanceTriggerRepository",
			"op":           "FindByUserAddress",
			"user_address": address,
		}).WithError(err).Error("Failed to list advance triggers of user")
		return nil, err
	}

	return triggers, nil
}

// FindByStatusAndTypes lists triggers in status whose type is one of types.
func (r *AdvanceTriggerRepository) FindByStatusAndTypes(
	ctx context.Context,
	status model.AdvanceTriggerStatus,
	types []model.AdvanceTriggerType,
) ([]model.AdvanceTrigger, error) {
	var triggers []model.AdvanceTrigger

	err := r.db.WithContext(ctx).
		Where("status = ? AND trigger_type IN ?", status, types).
		Order("id ASC").
		Find(&triggers).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "AdvanceTriggerRepository",
			"op":     "FindByStatusAndTypes",
			"status": status,
			"types":  types,
		}).WithError(err).Error("Failed to list advance triggers")
		return nil, err
	}

	return triggers, nil
}

func (r *AdvanceTriggerRepository) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&model.AdvanceTrigger{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AdvanceTriggerRepository",
			"op":         "Update",
			"trigger_id": id,
		}).WithError(err).Error("Failed to update advance trigger")
	}
	return err
}

// TransitionStatus applies fields only while the trigger is in one of from.
func (r *AdvanceTriggerRepository) TransitionStatus(
	ctx context.Context,
	id uint,
	from []model.AdvanceTriggerStatus,
	fields map[string]interface{},
) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.AdvanceTrigger{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AdvanceTriggerRepository",
			"op":         "TransitionStatus",
			"trigger_id": id,
		}).WithError(res.Error).Error("Failed to transition advance trigger")
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

// ClaimPending moves a PENDING trigger to ACTIVE. Only one caller across all
// engine instances can win the claim for a given trigger.
func (r *AdvanceTriggerRepository) ClaimPending(ctx context.Context, id uint) (bool, error) {
	claimed, err := r.TransitionStatus(ctx, id,
		[]model.AdvanceTriggerStatus{model.AdvanceTriggerStatusPending},
		map[string]interface{}{"status": model.AdvanceTriggerStatusActive},
	)
	if err != nil {
		return false, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "AdvanceTriggerRepository",
		"op":         "ClaimPending",
		"trigger_id": id,
		"claimed":    claimed,
	}).Debug("Advance trigger claim attempted")

	return claimed, nil
}

// FindStaleActive lists triggers claimed before cutoff that never reached a
// terminal status, which happens when the claiming process dies mid-execution.
func (r *AdvanceTriggerRepository) FindStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]model.AdvanceTrigger, error) {
	var triggers []model.AdvanceTrigger

	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.AdvanceTriggerStatusActive, cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&triggers).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AdvanceTriggerRepository",
			"op":   "FindStaleActive",
		}).WithError(err).Error("Failed to list stale active triggers")
		return nil, err
	}

	return triggers, nil
}
