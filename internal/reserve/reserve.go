package reserve

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/poimarket/market-api/internal/auth"
	"github.com/poimarket/market-api/internal/errs"
	"github.com/poimarket/market-api/internal/idempotency"
	"github.com/poimarket/market-api/internal/pricing"
	"github.com/poimarket/market-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Command types scoping treasury idempotency keys.
const (
	CommandBuyback  = "reserve.buyback"
	CommandWithdraw = "reserve.withdraw"
)

// Service handles reserve-pool treasury commands
type Service struct {
	db         *Database
	guard      *idempotency.Guard
	estimator  pricing.Estimator
	quoteAsset string
	baseAsset  string
}

// NewService creates a new reserve service. Buybacks spend quoteAsset to
// re-acquire baseAsset.
func NewService(gormDB *gorm.DB, estimator pricing.Estimator, quoteAsset, baseAsset string) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		guard:      idempotency.NewGuard(gormDB),
		estimator:  estimator,
		quoteAsset: quoteAsset,
		baseAsset:  baseAsset,
	}
}

// QuoteAsset returns the asset buybacks spend.
func (s *Service) QuoteAsset() string { return s.quoteAsset }

// BaseAsset returns the asset buybacks re-acquire.
func (s *Service) BaseAsset() string { return s.baseAsset }

// GetDB exposes the database wrapper for the settlement processor.
func (s *Service) GetDB() *Database { return s.db }

// Buyback accepts an idempotency-guarded buyback action. It requires
// sufficient quote-asset balance and rejects quotes that violate the
// caller's slippage bound. The second return value reports a replay.
func (s *Service) Buyback(actorID string, req BuybackRequest) (*LedgerAction, bool, error) {
	record, err := s.guard.Resolve(actorID, CommandBuyback, req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if record != nil {
		return s.replay(record.ResourceID)
	}

	amountIn, err := parsePositiveAmount(req.AmountIn, "amount_in")
	if err != nil {
		return nil, false, err
	}
	minOut, err := decimal.NewFromString(req.MinOut)
	if err != nil || minOut.IsNegative() {
		return nil, false, errs.Validation("min_out must be a non-negative decimal string")
	}

	balance, err := s.db.BalanceAmount(s.quoteAsset)
	if err != nil {
		return nil, false, err
	}
	if balance.LessThan(amountIn) {
		return nil, false, errs.InsufficientResource(
			"reserve holds %s %s, buyback needs %s", balance.String(), s.quoteAsset, amountIn.String())
	}

	estimated := s.estimator.EstimateAmountOut(amountIn)
	if estimated.LessThan(minOut) {
		return nil, false, errs.InsufficientResource(
			"estimated output %s is below min_out %s", estimated.String(), minOut.String())
	}

	action := &LedgerAction{
		ActionID:       "ACT_" + uuid.New().String(),
		ActorID:        actorID,
		Type:           TypeBuyback,
		IdempotencyKey: req.IdempotencyKey,
		Buyback: &BuybackPayload{
			AmountIn:     amountIn.String(),
			MinOut:       minOut.String(),
			EstimatedOut: estimated.StringFixed(pricing.Precision),
		},
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	return s.create(action, CommandBuyback, req.IdempotencyKey)
}

// Withdraw accepts an idempotency-guarded withdraw action. It requires
// sufficient balance of the named asset; there is no slippage bound.
func (s *Service) Withdraw(actorID string, req WithdrawRequest) (*LedgerAction, bool, error) {
	record, err := s.guard.Resolve(actorID, CommandWithdraw, req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if record != nil {
		return s.replay(record.ResourceID)
	}

	amount, err := parsePositiveAmount(req.Amount, "amount")
	if err != nil {
		return nil, false, err
	}
	if req.Asset == "" {
		return nil, false, errs.Validation("asset is required")
	}
	if req.Destination == "" {
		return nil, false, errs.Validation("destination is required")
	}

	balance, err := s.db.BalanceAmount(req.Asset)
	if err != nil {
		return nil, false, err
	}
	if balance.LessThan(amount) {
		return nil, false, errs.InsufficientResource(
			"reserve holds %s %s, withdraw needs %s", balance.String(), req.Asset, amount.String())
	}

	action := &LedgerAction{
		ActionID:       "ACT_" + uuid.New().String(),
		ActorID:        actorID,
		Type:           TypeWithdraw,
		IdempotencyKey: req.IdempotencyKey,
		Withdraw: &WithdrawPayload{
			Amount:      amount.String(),
			Asset:       req.Asset,
			Destination: req.Destination,
		},
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	return s.create(action, CommandWithdraw, req.IdempotencyKey)
}

// CreditBalance tops up an asset balance (internal/operational use).
func (s *Service) CreditBalance(req CreditRequest) (*Balance, error) {
	amount, err := parsePositiveAmount(req.Amount, "amount")
	if err != nil {
		return nil, err
	}
	if req.Asset == "" {
		return nil, errs.Validation("asset is required")
	}
	return s.db.AdjustBalance(req.Asset, amount)
}

func (s *Service) create(action *LedgerAction, commandType, key string) (*LedgerAction, bool, error) {
	err := s.db.CreateActionWithIdempotency(action, s.guard, commandType, key)
	if idempotency.IsDuplicate(err) {
		// Concurrent duplicate submission; return the winning row.
		record, rerr := s.guard.Resolve(action.ActorID, commandType, key)
		if rerr != nil {
			return nil, false, rerr
		}
		if record != nil {
			return s.replay(record.ResourceID)
		}
		return nil, false, errs.Internal("duplicate action insert with no winning row", err)
	}
	if err != nil {
		return nil, false, err
	}

	log.Info().
		Str("action_id", action.ActionID).
		Str("actor_id", action.ActorID).
		Str("type", action.Type).
		Msg("ledger action accepted")

	return action, false, nil
}

func (s *Service) replay(actionID string) (*LedgerAction, bool, error) {
	existing, err := s.db.GetAction(actionID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errs.Internal("idempotency record points at missing action", nil)
	}
	return existing, true, nil
}

func parsePositiveAmount(raw, field string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errs.Validation("%s must be a decimal string", field)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errs.Validation("%s must be positive", field)
	}
	return amount, nil
}

// GinHandlers contains HTTP handlers for reserve endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for reserve endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// BuybackHandler handles POST requests for treasury buybacks
// Requires the treasury capability
func (h *GinHandlers) BuybackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := requireTreasury(c)
		if !ok {
			return
		}

		var req BuybackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		action, _, err := h.service.Buyback(actorID, req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Accepted(c, action)
	}
}

// WithdrawHandler handles POST requests for treasury withdrawals
// Requires the treasury capability
func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := requireTreasury(c)
		if !ok {
			return
		}

		var req WithdrawRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		action, _, err := h.service.Withdraw(actorID, req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Accepted(c, action)
	}
}

// CreditBalanceHandler handles internal POST requests to top up reserve
// balances
func (h *GinHandlers) CreditBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		balance, err := h.service.CreditBalance(req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, balance)
	}
}

func requireTreasury(c *gin.Context) (string, bool) {
	actorID := auth.GetClientID(c)
	if actorID == "" {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}
	if !auth.CanManageReserve(auth.GetRole(c)) {
		response.Forbidden(c, "Role may not manage the reserve pool")
		return "", false
	}
	return actorID, true
}
