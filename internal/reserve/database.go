package reserve

import (
	"errors"
	"time"

	"github.com/poimarket/market-api/internal/errs"
	"github.com/poimarket/market-api/internal/idempotency"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateActionWithIdempotency creates the ledger action and its idempotency
// record in one transaction.
func (d *Database) CreateActionWithIdempotency(action *LedgerAction, guard *idempotency.Guard, commandType, key string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(action).Error; err != nil {
			return err
		}
		return guard.Register(tx, action.ActorID, commandType, key, action.ActionID)
	})
}

func (d *Database) GetAction(actionID string) (*LedgerAction, error) {
	var action LedgerAction
	if err := d.db.Where("action_id = ?", actionID).First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &action, nil
}

// PendingActions returns PENDING ledger actions for the settlement
// processor, oldest first.
func (d *Database) PendingActions() ([]LedgerAction, error) {
	var actions []LedgerAction
	err := d.db.Where("status = ?", StatusPending).Order("created_at ASC").Find(&actions).Error
	return actions, err
}

// SettleAction advances a PENDING action to a terminal status via
// compare-and-set, writing the settlement result and execution time once.
func (d *Database) SettleAction(actionID, toStatus, result string) (bool, error) {
	now := time.Now()
	res := d.db.Model(&LedgerAction{}).
		Where("action_id = ? AND status = ?", actionID, StatusPending).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"result":      result,
			"executed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (d *Database) GetBalance(asset string) (*Balance, error) {
	var balance Balance
	if err := d.db.Where("asset = ?", asset).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

// BalanceAmount returns the held amount for an asset, zero when the asset
// has no balance row yet.
func (d *Database) BalanceAmount(asset string) (decimal.Decimal, error) {
	balance, err := d.GetBalance(asset)
	if err != nil {
		return decimal.Zero, err
	}
	if balance == nil {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(balance.Amount)
	if err != nil {
		return decimal.Zero, errs.Internal("corrupt balance amount for "+asset, err)
	}
	return amount, nil
}

// AdjustBalance applies a signed delta to an asset balance inside a
// transaction, creating the row on first credit. A debit below zero fails
// with InsufficientResource.
func (d *Database) AdjustBalance(asset string, delta decimal.Decimal) (*Balance, error) {
	var adjusted *Balance
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var balance Balance
		err := tx.Where("asset = ?", asset).First(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			balance = Balance{Asset: asset, Amount: "0"}
		} else if err != nil {
			return err
		}

		current, err := decimal.NewFromString(balance.Amount)
		if err != nil {
			return errs.Internal("corrupt balance amount for "+asset, err)
		}

		next := current.Add(delta)
		if next.IsNegative() {
			return errs.InsufficientResource("insufficient %s balance", asset)
		}

		balance.Amount = next.String()
		balance.UpdatedAt = time.Now()
		if err := tx.Save(&balance).Error; err != nil {
			return err
		}
		adjusted = &balance
		return nil
	})
	return adjusted, err
}
