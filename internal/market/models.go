package market

import (
	"time"

	"gorm.io/gorm"
)

// Order statuses. PENDING is the only non-terminal state.
const (
	StatusPending  = "PENDING"
	StatusFilled   = "FILLED"
	StatusPartial  = "PARTIAL"
	StatusCanceled = "CANCELED"
	StatusFailed   = "FAILED"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order is a persisted market command. Amounts are decimal strings;
// quoted_amount_out is computed once at creation and never recomputed.
type Order struct {
	gorm.Model      `json:"-"`
	OrderID         string    `gorm:"uniqueIndex" json:"order_id"`
	OwnerID         string    `gorm:"uniqueIndex:idx_orders_owner_idem" json:"owner_id"`
	Side            string    `json:"side"` // buy or sell
	TokenIn         string    `json:"token_in"`
	TokenOut        string    `json:"token_out"`
	AmountIn        string    `json:"amount_in"`
	QuotedAmountOut string    `json:"quoted_amount_out"`
	AmountOut       string    `json:"amount_out,omitempty"` // set on settlement
	FeeBps          int64     `json:"fee_bps"`
	Status          string    `json:"status"`
	IdempotencyKey  string    `gorm:"uniqueIndex:idx_orders_owner_idem" json:"idempotency_key"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether the order has left the PENDING state.
func (o *Order) Terminal() bool {
	return o.Status != StatusPending
}

// Trade is a settled fill, written only by the settlement processor.
// Price is quote per base; Amount is quote-token volume.
type Trade struct {
	gorm.Model `json:"-"`
	TradeID    string    `gorm:"uniqueIndex" json:"trade_id"`
	OrderID    string    `json:"order_id"`
	OwnerID    string    `json:"owner_id"`
	Side       string    `json:"side"`
	TokenIn    string    `json:"token_in"`
	TokenOut   string    `json:"token_out"`
	Price      string    `json:"price"`
	Amount     string    `json:"amount"`
	ExecutedAt time.Time `json:"executed_at"`
}

// CreateOrderRequest is the POST /orders body.
type CreateOrderRequest struct {
	Side           string `json:"side"`
	TokenIn        string `json:"token_in"`
	TokenOut       string `json:"token_out"`
	AmountIn       string `json:"amount_in"`
	IdempotencyKey string `json:"idempotency_key"`
}

// UpdateOrderRequest is the PUT /orders/:order_id body.
type UpdateOrderRequest struct {
	AmountIn string `json:"amount_in"`
}

// ListOrdersResponse is the paginated GET /orders payload.
type ListOrdersResponse struct {
	Orders  []Order `json:"orders"`
	Total   int64   `json:"total"`
	HasMore bool    `json:"has_more"`
}

// OrderDetail is the GET /orders/:order_id payload.
type OrderDetail struct {
	Order  Order   `json:"order"`
	Trades []Trade `json:"trades"`
}

// PriceLevel is a single bucketed entry in the synthetic orderbook.
type PriceLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// Orderbook is the derived bid/ask projection of pending orders for a pair.
// It is advisory and never persisted.
type Orderbook struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Stats is the derived 24h trading statistics view for a pair.
type Stats struct {
	Price     string `json:"price"`
	Change24h string `json:"change_24h"`
	Volume24h string `json:"volume_24h"`
	High24h   string `json:"high_24h"`
	Low24h    string `json:"low_24h"`
	TVL       string `json:"tvl"`
}
