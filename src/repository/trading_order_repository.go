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

// TradingOrderRepository handles CRUD and guarded status transitions for trading orders.
type TradingOrderRepository struct {
	db *gorm.DB
}

// NewTradingOrderRepository creates a repository bound to the MainDB connection.
func NewTradingOrderRepository() *TradingOrderRepository {
	return &TradingOrderRepository{db: database.MainDB}
}

// WithDB returns a copy bound to db. Useful for tests and transactions.
func (r *TradingOrderRepository) WithDB(db *gorm.DB) *TradingOrderRepository {
	return &TradingOrderRepository{db: db}
}

// Create inserts a new order. The user address is stored normalized.
func (r *TradingOrderRepository) Create(ctx context.Context, order *model.TradingOrder) error {
	order.UserAddress = model.NormalizeAddress(order.UserAddress)
	if order.Status == "" {
		order.Status = model.TradingOrderStatusPending
	}

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "TradingOrderRepository",
			"op":           "Create",
			"user_address": order.UserAddress,
			"asset":        order.Asset,
		}).WithError(err).Error("Failed to create trading order")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "TradingOrderRepository",
		"op":       "Create",
		"order_id": order.ID,
	}).Debug("Trading order created")

	return nil
}

// FindByID fetches a single order. Returns (nil, nil) if not found.
func (r *TradingOrderRepository) FindByID(ctx context.Context, id uint) (*model.TradingOrder, error) {
	var order model.TradingOrder

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "TradingOrderRepository",
			"op":       "FindByID",
			"order_id": id,
		}).WithError(err).Error("Failed to fetch trading order")
		return nil, err
	}

	return &order, nil
}

// FindByUserAddress lists the orders of a user, newest first.
func (r *TradingOrderRepository) FindByUserAddress(ctx context.Context, address string) ([]model.TradingOrder, error) {
	var orders []model.TradingOrder

	err := r.db.WithContext(ctx).
		Where("user_address = ?", model.NormalizeAddress(address)).
		Order("created_at DESC, id DESC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "TradingOrderRepository",
			"op":           "FindByUserAddress",
			"user_address": address,
		}).WithError(err).Error("Failed to list trading orders")
		return nil, err
	}

	return orders, nil
}

// FindByStatus lists orders in the given status, oldest first.
func (r *TradingOrderRepository) FindByStatus(ctx context.Context, status model.TradingOrderStatus) ([]model.TradingOrder, error) {
	var orders []model.TradingOrder

	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradingOrderRepository",
			"op":     "FindByStatus",
			"status": status,
		}).WithError(err).Error("Failed to list trading orders by status")
		return nil, err
	}

	return orders, nil
}

// Update applies a partial update without any status guard.
func (r *TradingOrderRepository) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&model.TradingOrder{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradingOrderRepository",
			"op":       "Update",
			"order_id": id,
		}).WithError(err).Error("Failed to update trading order")
	}
	return err
}

// TransitionStatus moves the order to next only if its current status allows it,
// applying fields in the same statement. It reports whether a row changed.
func (r *TradingOrderRepository) TransitionStatus(
	ctx context.Context,
	id uint,
	next model.TradingOrderStatus,
	fields map[string]interface{},
) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = next

	res := r.db.WithContext(ctx).
		Model(&model.TradingOrder{}).
		Where("id = ? AND status IN ?", id, model.OrderStatusesAllowing(next)).
		Updates(updates)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradingOrderRepository",
			"op":       "TransitionStatus",
			"order_id": id,
			"next":     next,
		}).WithError(res.Error).Error("Failed to transition trading order")
		return false, res.Error
	}

	changed := res.RowsAffected > 0
	logger.WithFields(map[string]interface{}{
		"repo":     "TradingOrderRepository",
		"op":       "TransitionStatus",
		"order_id": id,
		"next":     next,
		"changed":  changed,
	}).Debug("Trading order transition applied")

	return changed, nil
}

// FindOrphaned lists PENDING orders created before cutoff that no longer have
// any live scheduler or advance trigger.
func (r *TradingOrderRepository) FindOrphaned(ctx context.Context, cutoff time.Time, limit int) ([]model.TradingOrder, error) {
	var orders []model.TradingOrder

	liveSchedulers := r.db.Model(&model.Scheduler{}).
		Select("1").
		Where("schedulers.trading_order_id = trading_orders.id AND schedulers.status IN ?", model.LiveSchedulerStatuses)
	liveTriggers := r.db.Model(&model.AdvanceTrigger{}).
		Select("1").
		Where("advance_triggers.trading_order_id = trading_orders.id AND advance_triggers.status IN ?", model.LiveAdvanceTriggerStatuses)

	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.TradingOrderStatusPending, cutoff).
		Where("NOT EXISTS (?)", liveSchedulers).
		Where("NOT EXISTS (?)", liveTriggers).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradingOrderRepository",
			"op":   "FindOrphaned",
		}).WithError(err).Error("Failed to list orphaned trading orders")
		return nil, err
	}

	return orders, nil
}
