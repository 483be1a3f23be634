package migrations

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestRunOnceRecordsAndSkips(t *testing.T) {
	db := openTestDB(t)

	calls := 0
	fn := func(*gorm.DB) error {
		calls++
		return nil
	}

	require.NoError(t, RunOnce(db, "00099_test", fn))
	require.NoError(t, RunOnce(db, "00099_test", fn))
	require.Equal(t, 1, calls)

	var count int64
	require.NoError(t, db.Model(&DataMigration{}).Where("id = ?", "00099_test").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRunOnceDoesNotRecordFailures(t *testing.T) {
	db := openTestDB(t)

	err := RunOnce(db, "00098_fail", func(*gorm.DB) error { return errors.New("boom") })
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&DataMigration{}).Where("id = ?", "00098_fail").Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestRunOnceValidatesArguments(t *testing.T) {
	db := openTestDB(t)
	require.Error(t, RunOnce(db, "", func(*gorm.DB) error { return nil }))
	require.Error(t, RunOnce(db, "00097_nil", nil))
	require.NoError(t, RunOnce(nil, "anything", nil))
}

func TestBackfillsNormalizeRows(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("CREATE TABLE trading_orders (id integer primary key, user_address text)").Error)
	require.NoError(t, db.Exec("CREATE TABLE schedulers (id integer primary key, user_address text, timezone text)").Error)
	require.NoError(t, db.Exec("INSERT INTO trading_orders (id, user_address) VALUES (1, ' 0xABCdef ')").Error)
	require.NoError(t, db.Exec("INSERT INTO schedulers (id, user_address, timezone) VALUES (1, '0xABC', '')").Error)

	require.NoError(t, Run(db))

	var address string
	require.NoError(t, db.Raw("SELECT user_address FROM trading_orders WHERE id = 1").Scan(&address).Error)
	require.Equal(t, "0xabcdef", address)

	var tz string
	require.NoError(t, db.Raw("SELECT timezone FROM schedulers WHERE id = 1").Scan(&tz).Error)
	require.Equal(t, "UTC", tz)
}
