package reserve

import (
	"time"

	"gorm.io/gorm"
)

// Ledger action types.
const (
	TypeBuyback  = "buyback"
	TypeWithdraw = "withdraw"
)

// Ledger action statuses. PENDING is the only non-terminal state.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// BuybackPayload are the command fields specific to a buyback action.
type BuybackPayload struct {
	AmountIn     string `json:"amount_in"`
	MinOut       string `json:"min_out"`
	EstimatedOut string `json:"estimated_out"`
}

// WithdrawPayload are the command fields specific to a withdraw action.
type WithdrawPayload struct {
	Amount      string `json:"amount"`
	Asset       string `json:"asset"`
	Destination string `json:"destination"`
}

// LedgerAction is a persisted treasury command. Exactly one of the payload
// variants is set, matching Type, so payload corruption is caught at the
// type level rather than at read time.
type LedgerAction struct {
	gorm.Model     `json:"-"`
	ActionID       string           `gorm:"uniqueIndex" json:"action_id"`
	ActorID        string           `gorm:"uniqueIndex:idx_actions_actor_type_key" json:"actor_id"`
	Type           string           `gorm:"uniqueIndex:idx_actions_actor_type_key" json:"type"`
	IdempotencyKey string           `gorm:"uniqueIndex:idx_actions_actor_type_key" json:"idempotency_key"`
	Buyback        *BuybackPayload  `gorm:"embedded;embeddedPrefix:buyback_" json:"buyback,omitempty"`
	Withdraw       *WithdrawPayload `gorm:"embedded;embeddedPrefix:withdraw_" json:"withdraw,omitempty"`
	Status         string           `json:"status"`
	Result         string           `json:"result,omitempty"` // settlement reference, set once
	CreatedAt      time.Time        `json:"created_at"`
	ExecutedAt     *time.Time       `json:"executed_at,omitempty"`
}

// Terminal reports whether the action has left the PENDING state.
func (a *LedgerAction) Terminal() bool {
	return a.Status != StatusPending
}

// Balance is the reserve pool's holding of one asset.
type Balance struct {
	gorm.Model `json:"-"`
	Asset      string    `gorm:"uniqueIndex" json:"asset"`
	Amount     string    `json:"amount"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BuybackRequest is the POST /reserve/buyback body.
type BuybackRequest struct {
	AmountIn       string `json:"amount_in"`
	MinOut         string `json:"min_out"`
	IdempotencyKey string `json:"idempotency_key"`
}

// WithdrawRequest is the POST /reserve/withdraw body.
type WithdrawRequest struct {
	Amount         string `json:"amount"`
	Asset          string `json:"asset"`
	Destination    string `json:"destination"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CreditRequest is the internal balance top-up body.
type CreditRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}
