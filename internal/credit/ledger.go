// Package credit provides the prepaid credit ledger: balance checks,
// deductions, refunds, and the audit trail of transactions. Premium
// generation paths reserve credits before the first provider submission;
// refunds replay the deduction with a negative amount so every movement
// leaves a transaction row.
package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Static errors for ledger operations.
var (
	// ErrInsufficientCredits is returned when a deduction would overdraw the
	// user's balance.
	ErrInsufficientCredits = errors.New("credit: insufficient credits")
	// ErrUserNotFound is returned when the user has no balance row.
	ErrUserNotFound = errors.New("credit: user not found")
	// ErrZeroAmount is returned when a deduction of zero is requested.
	ErrZeroAmount = errors.New("credit: amount must be non-zero")
)

// Balance is a user's prepaid credit balance row.
type Balance struct {
	UserID    string `gorm:"primaryKey;size:36"`
	Credits   int
	UpdatedAt time.Time
}

// TableName sets the table name for Balance.
func (Balance) TableName() string { return "credit_balances" }

// Transaction is one audited credit movement. Amount is positive for a
// deduction and negative for a refund.
type Transaction struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:36;index"`
	ProjectID string `gorm:"size:36;index"`
	Amount    int
	Reason    string `gorm:"size:256"`
	CreatedAt time.Time
}

// TableName sets the table name for Transaction.
func (Transaction) TableName() string { return "credit_transactions" }

// Ledger defines the credit accounting contract used by workflow setup.
type Ledger interface {
	// Check reports whether the user can afford the amount.
	Check(ctx context.Context, userID string, amount int) (bool, error)

	// Deduct moves amount credits out of the user's balance and records a
	// transaction. A negative amount is a refund. Returns
	// ErrInsufficientCredits when the balance cannot cover a deduction.
	Deduct(ctx context.Context, userID string, amount int, reason, projectID string) error
}

// Compile-time check that GormLedger implements Ledger.
var _ Ledger = (*GormLedger)(nil)

// GormLedger is the GORM-backed implementation of Ledger.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates a ledger over an opened GORM connection.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// AutoMigrate creates or updates the ledger tables.
func (l *GormLedger) AutoMigrate() error {
	if err := l.db.AutoMigrate(&Balance{}, &Transaction{}); err != nil {
		return fmt.Errorf("credit: migrate: %w", err)
	}
	return nil
}

// Check reports whether the user can afford the amount.
func (l *GormLedger) Check(ctx context.Context, userID string, amount int) (bool, error) {
	var balance Balance
	err := l.db.WithContext(ctx).First(&balance, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("credit: check: %w", err)
	}
	return balance.Credits >= amount, nil
}

// Deduct moves amount credits and records the transaction atomically. The
// balance update is conditional on sufficient funds so concurrent deductions
// cannot overdraw.
func (l *GormLedger) Deduct(ctx context.Context, userID string, amount int, reason, projectID string) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&Balance{}).Where("user_id = ?", userID)
		if amount > 0 {
			update = update.Where("credits >= ?", amount)
		}
		res := update.Update("credits", gorm.Expr("credits - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("credit: deduct: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&Balance{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
				return fmt.Errorf("credit: deduct: %w", err)
			}
			if count == 0 {
				return ErrUserNotFound
			}
			return ErrInsufficientCredits
		}

		txn := Transaction{
			ID:        uuid.NewString(),
			UserID:    userID,
			ProjectID: projectID,
			Amount:    amount,
			Reason:    reason,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("credit: record transaction: %w", err)
		}
		return nil
	})
}
