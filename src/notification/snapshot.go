package notification

import (
	"context"
	"fmt"

	"triggerexecutor/src/repository"
)

// Snapshotter builds the rows of one channel for one user.
type Snapshotter interface {
	Snapshot(ctx context.Context, address string, channel Channel) (interface{}, error)
}

// StoreSnapshots reads snapshots straight from the store, so every push
// reflects the committed state.
type StoreSnapshots struct {
	store *repository.Store
}

func NewStoreSnapshots(store *repository.Store) *StoreSnapshots {
	return &StoreSnapshots{store: store}
}

func (s *StoreSnapshots) Snapshot(ctx context.Context, address string, channel Channel) (interface{}, error) {
	switch channel {
	case ChannelSchedulers:
		schedulers, err := s.store.Schedulers.FindByUserAddress(ctx, address)
		if err != nil {
			return nil, err
		}
		rows := make([]SchedulerRow, 0, len(schedulers))
		for _, sc := range schedulers {
			rows = append(rows, SchedulerRow{
				ID:              sc.ID,
				TriggerType:     sc.TriggerType,
				ScheduledAt:     sc.ScheduledAt,
				CronExpression:  sc.CronExpression,
				Timezone:        sc.Timezone,
				Status:          sc.Status,
				LastExecutedAt:  sc.LastExecutedAt,
				NextExecutionAt: sc.NextExecutionAt,
				ExecutionCount:  sc.ExecutionCount,
				ErrorMessage:    sc.ErrorMessage,
				CreatedAt:       sc.CreatedAt,
				OrderFields:     orderFields(sc.TradingOrder),
			})
		}
		return rows, nil

	case ChannelAdvanceTriggers:
		triggers, err := s.store.Triggers.FindByUserAddress(ctx, address)
		if err != nil {
			return nil, err
		}
		rows := make([]AdvanceTriggerRow, 0, len(triggers))
		for _, t := range triggers {
			rows = append(rows, AdvanceTriggerRow{
				ID:               t.ID,
				TriggerType:      t.TriggerType,
				TriggerAsset:     t.TriggerAsset,
				TriggerValue:     t.TriggerValue,
				TriggerDirection: t.TriggerDirection,
				Status:           t.Status,
				TriggeredAt:      t.TriggeredAt,
				TriggeredValue:   t.TriggeredValue,
				ErrorMessage:     t.ErrorMessage,
				CreatedAt:        t.CreatedAt,
				OrderFields:      orderFields(t.TradingOrder),
			})
		}
		return rows, nil

	default:
		return nil, fmt.Errorf("no snapshot for channel %q", channel)
	}
}
