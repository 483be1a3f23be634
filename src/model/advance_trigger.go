package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdvanceTrigger drives a TradingOrder by a market condition on TriggerAsset.
type AdvanceTrigger struct {
	ID               uint                 `gorm:"primaryKey" json:"id"`
	TradingOrderID   uint                 `gorm:"not null;index" json:"trading_order_id"`
	UserAddress      string               `gorm:"size:42;not null;index" json:"user_address"`
	TriggerType      AdvanceTriggerType   `gorm:"size:40;not null;index:idx_advance_trigger_status_type,priority:2" json:"trigger_type"`
	TriggerAsset     string               `gorm:"size:50;not null" json:"trigger_asset"`
	TriggerValue     decimal.Decimal      `gorm:"type:numeric;not null" json:"trigger_value"`
	TriggerDirection TriggerDirection     `gorm:"size:20;not null" json:"trigger_direction"`
	Status           AdvanceTriggerStatus `gorm:"size:20;not null;default:PENDING;index:idx_advance_trigger_status_type,priority:1" json:"status"`
	TriggeredAt      *time.Time           `json:"triggered_at,omitempty"`
	TriggeredValue   decimal.NullDecimal  `gorm:"type:numeric" json:"triggered_value"`
	ErrorMessage     *string              `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`

	TradingOrder *TradingOrder `gorm:"constraint:OnDelete:CASCADE" json:"trading_order,omitempty"`
}

func (AdvanceTrigger) TableName() string {
	return "advance_triggers"
}

// Matches applies the trigger direction to an observed value.
// MORE_THAN and LESS_THAN are strict.
func (t *AdvanceTrigger) Matches(observed decimal.Decimal) bool {
	switch t.TriggerDirection {
	case TriggerDirectionMoreThan:
		return observed.GreaterThan(t.TriggerValue)
	case TriggerDirectionLessThan:
		return observed.LessThan(t.TriggerValue)
	default:
		return false
	}
}
