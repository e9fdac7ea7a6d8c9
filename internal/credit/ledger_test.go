package credit

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestLedger(t *testing.T) (*GormLedger, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	ledger := NewGormLedger(db)
	require.NoError(t, ledger.AutoMigrate())

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return ledger, db
}

func seedBalance(t *testing.T, db *gorm.DB, userID string, credits int) {
	t.Helper()
	require.NoError(t, db.Create(&Balance{UserID: userID, Credits: credits}).Error)
}

func TestCheck(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 100)

	ok, err := ledger.Check(ctx, "user-1", 50)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Check(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Check(ctx, "user-1", 101)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ledger.Check(ctx, "no-such-user", 1)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeduct_MovesBalanceAndRecordsTransaction(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 100)

	require.NoError(t, ledger.Deduct(ctx, "user-1", 50, "video generation", "proj-1"))

	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "user-1").Error)
	assert.Equal(t, 50, balance.Credits)

	var txns []Transaction
	require.NoError(t, db.Find(&txns).Error)
	require.Len(t, txns, 1)
	assert.Equal(t, "user-1", txns[0].UserID)
	assert.Equal(t, "proj-1", txns[0].ProjectID)
	assert.Equal(t, 50, txns[0].Amount)
	assert.Equal(t, "video generation", txns[0].Reason)
}

func TestDeduct_Insufficient(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 30)

	err := ledger.Deduct(ctx, "user-1", 50, "video generation", "proj-1")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// Neither the balance nor the audit trail moved.
	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "user-1").Error)
	assert.Equal(t, 30, balance.Credits)

	var count int64
	require.NoError(t, db.Model(&Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeduct_UnknownUser(t *testing.T) {
	ledger, _ := newTestLedger(t)

	err := ledger.Deduct(context.Background(), "ghost", 10, "video generation", "proj-1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeduct_ZeroAmount(t *testing.T) {
	ledger, _ := newTestLedger(t)

	err := ledger.Deduct(context.Background(), "user-1", 0, "noop", "proj-1")
	assert.ErrorIs(t, err, ErrZeroAmount)
}

func TestDeduct_NegativeAmountRefunds(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 0)

	require.NoError(t, ledger.Deduct(ctx, "user-1", -50, "refund: workflow setup failed", "proj-1"))

	var balance Balance
	require.NoError(t, db.First(&balance, "user_id = ?", "user-1").Error)
	assert.Equal(t, 50, balance.Credits)

	var txn Transaction
	require.NoError(t, db.First(&txn).Error)
	assert.Equal(t, -50, txn.Amount)
}
