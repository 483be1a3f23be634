package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"triggerexecutor/src/database"
	"triggerexecutor/src/model"
)

func newMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func newOrder(address string) *model.TradingOrder {
	return &model.TradingOrder{
		UserAddress:   address,
		ExecutionType: model.ExecutionTypePerpetual,
		Side:          model.OrderSideBuy,
		Asset:         "ETH",
		SizeUSD:       decimal.NewFromInt(100),
		Leverage:      5,
	}
}

func TestTradingOrderRepositoryCreateAndFind(t *testing.T) {
	db := newMemoryDB(t)
	repo := (&TradingOrderRepository{}).WithDB(db)
	ctx := context.Background()

	order := newOrder(" 0xAbC ")
	require.NoError(t, repo.Create(ctx, order))
	require.NotZero(t, order.ID)
	assert.Equal(t, "0xabc", order.UserAddress)
	assert.Equal(t, model.TradingOrderStatusPending, order.Status)

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.SizeUSD.Equal(decimal.NewFromInt(100)))

	missing, err := repo.FindByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	byUser, err := repo.FindByUserAddress(ctx, "0XABC")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestTradingOrderRepositoryTransitionStatusIsGuarded(t *testing.T) {
	db := newMemoryDB(t)
	repo := (&TradingOrderRepository{}).WithDB(db)
	ctx := context.Background()

	order := newOrder("0xabc")
	require.NoError(t, repo.Create(ctx, order))

	changed, err := repo.TransitionStatus(ctx, order.ID, model.TradingOrderStatusExecuted, map[string]interface{}{
		"external_tx_id": "tx-1",
		"executed_at":    time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, changed)

	// EXECUTED -> EXECUTED refreshes the external id
	changed, err = repo.TransitionStatus(ctx, order.ID, model.TradingOrderStatusExecuted, map[string]interface{}{
		"external_tx_id": "tx-2",
	})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.TransitionStatus(ctx, order.ID, model.TradingOrderStatusCanceled, nil)
	require.NoError(t, err)
	assert.False(t, changed, "an executed order must not be canceled")

	changed, err = repo.TransitionStatus(ctx, order.ID, model.TradingOrderStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, changed)

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradingOrderStatusExecuted, found.Status)
	require.NotNil(t, found.ExternalTxID)
	assert.Equal(t, "tx-2", *found.ExternalTxID)
}

func TestTradingOrderRepositoryFindOrphaned(t *testing.T) {
	db := newMemoryDB(t)
	orders := (&TradingOrderRepository{}).WithDB(db)
	schedulers := (&SchedulerRepository{}).WithDB(db)
	ctx := context.Background()

	orphan := newOrder("0xabc")
	live := newOrder("0xabc")
	done := newOrder("0xabc")
	for _, o := range []*model.TradingOrder{orphan, live, done} {
		require.NoError(t, orders.Create(ctx, o))
	}

	at := time.Now().Add(time.Hour)
	require.NoError(t, schedulers.Create(ctx, &model.Scheduler{
		TradingOrderID: live.ID,
		UserAddress:    "0xabc",
		TriggerType:    model.SchedulerTypeScheduled,
		ScheduledAt:    &at,
		Status:         model.SchedulerStatusActive,
	}))
	require.NoError(t, schedulers.Create(ctx, &model.Scheduler{
		TradingOrderID: orphan.ID,
		UserAddress:    "0xabc",
		TriggerType:    model.SchedulerTypeScheduled,
		ScheduledAt:    &at,
		Status:         model.SchedulerStatusFailed,
	}))
	_, err := orders.TransitionStatus(ctx, done.ID, model.TradingOrderStatusCanceled, nil)
	require.NoError(t, err)

	found, err := orders.FindOrphaned(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, orphan.ID, found[0].ID)

	found, err = orders.FindOrphaned(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, found, "orders inside the grace period are not orphans")
}

func TestTradingOrderRepositoryTransitionSQL(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&TradingOrderRepository{}).WithDB(mockDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "trading_orders" SET "status"=$1,"updated_at"=$2 WHERE id = $3 AND status IN ($4)`)).
		WithArgs(model.TradingOrderStatusCanceled, sqlmock.AnyArg(), uint(7), model.TradingOrderStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	changed, err := repo.TransitionStatus(context.Background(), 7, model.TradingOrderStatusCanceled, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatalf("expected no change when no row matched")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
