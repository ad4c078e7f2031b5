package market

import (
	"errors"
	"time"

	"github.com/poimarket/market-api/internal/idempotency"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateOrderWithIdempotency creates the order row and its idempotency
// record in one transaction, so a retried command either sees both or
// neither.
func (d *Database) CreateOrderWithIdempotency(order *Order, guard *idempotency.Guard, commandType, key string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return guard.Register(tx, order.OwnerID, commandType, key, order.OrderID)
	})
}

func (d *Database) GetOrder(orderID string) (*Order, error) {
	var order Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderForOwner(orderID, ownerID string) (*Order, error) {
	var order Order
	if err := d.db.Where("order_id = ? AND owner_id = ?", orderID, ownerID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders returns one page of the owner's orders plus the unpaged total,
// newest first. An empty status means no status filter.
func (d *Database) ListOrders(ownerID, status string, limit, offset int) ([]Order, int64, error) {
	query := d.db.Model(&Order{}).Where("owner_id = ?", ownerID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []Order
	err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdatePendingOrder rewrites amount fields only while the row is still
// PENDING. Returns false when the compare-and-set missed, meaning the order
// reached a terminal state in the meantime.
func (d *Database) UpdatePendingOrder(orderID, amountIn, quotedAmountOut string) (bool, error) {
	result := d.db.Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, StatusPending).
		Updates(map[string]interface{}{
			"amount_in":         amountIn,
			"quoted_amount_out": quotedAmountOut,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// TransitionOrder advances a PENDING order to a terminal status via
// compare-and-set, so a late settlement can never trample a cancel.
func (d *Database) TransitionOrder(orderID, toStatus, amountOut string) (bool, error) {
	updates := map[string]interface{}{
		"status":     toStatus,
		"updated_at": time.Now(),
	}
	if amountOut != "" {
		updates["amount_out"] = amountOut
	}

	result := d.db.Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, StatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// PendingOrdersForPair returns all PENDING orders trading the pair in
// either direction.
func (d *Database) PendingOrdersForPair(quoteToken, baseToken string) ([]Order, error) {
	var orders []Order
	err := d.db.Where(
		"status = ? AND ((token_in = ? AND token_out = ?) OR (token_in = ? AND token_out = ?))",
		StatusPending, quoteToken, baseToken, baseToken, quoteToken,
	).Find(&orders).Error
	return orders, err
}

// PendingOrdersBefore returns PENDING orders created before the cutoff,
// used by the settlement processor.
func (d *Database) PendingOrdersBefore(cutoff time.Time) ([]Order, error) {
	var orders []Order
	err := d.db.Where("status = ? AND created_at < ?", StatusPending, cutoff).Find(&orders).Error
	return orders, err
}

func (d *Database) CreateTrade(trade *Trade) error {
	return d.db.Create(trade).Error
}

// TradesForPair returns the most recent settled trades for the pair, newest
// first.
func (d *Database) TradesForPair(quoteToken, baseToken string, limit int) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where(
		"(token_in = ? AND token_out = ?) OR (token_in = ? AND token_out = ?)",
		quoteToken, baseToken, baseToken, quoteToken,
	).Order("executed_at DESC, id DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// TradesForPairSince returns the pair's settled trades inside the window,
// oldest first.
func (d *Database) TradesForPairSince(quoteToken, baseToken string, since time.Time) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where(
		"((token_in = ? AND token_out = ?) OR (token_in = ? AND token_out = ?)) AND executed_at >= ?",
		quoteToken, baseToken, baseToken, quoteToken, since,
	).Order("executed_at ASC, id ASC").Find(&trades).Error
	return trades, err
}

// LatestTrade returns the most recent settled trade for the pair, or nil.
func (d *Database) LatestTrade(quoteToken, baseToken string) (*Trade, error) {
	var trade Trade
	err := d.db.Where(
		"(token_in = ? AND token_out = ?) OR (token_in = ? AND token_out = ?)",
		quoteToken, baseToken, baseToken, quoteToken,
	).Order("executed_at DESC, id DESC").First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) TradesForOrder(orderID string) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("order_id = ?", orderID).Order("executed_at ASC").Find(&trades).Error
	return trades, err
}
