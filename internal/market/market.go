package market

import (
	"strconv"
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

// CommandCreateOrder scopes order-creation idempotency keys.
const CommandCreateOrder = "order.create"

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxTradesLimit   = 500
)

// Service handles market order commands and the derived market-data views
type Service struct {
	db        *Database
	guard     *idempotency.Guard
	estimator pricing.Estimator
}

// NewService creates a new market service with the given database
// connection and pricing regime
func NewService(gormDB *gorm.DB, estimator pricing.Estimator) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		guard:     idempotency.NewGuard(gormDB),
		estimator: estimator,
	}
}

// CreateOrder creates a new order with idempotency support. A replayed
// command returns the previously persisted order verbatim; validation and
// pricing only run for new commands. The second return value reports
// whether this was a replay.
func (s *Service) CreateOrder(ownerID string, req CreateOrderRequest) (*Order, bool, error) {
	record, err := s.guard.Resolve(ownerID, CommandCreateOrder, req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if record != nil {
		existing, err := s.db.GetOrder(record.ResourceID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, errs.Internal("idempotency record points at missing order", nil)
		}
		return existing, true, nil
	}

	amountIn, err := validateCreateOrder(req)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	order := &Order{
		OrderID:         "ORD_" + uuid.New().String(),
		OwnerID:         ownerID,
		Side:            req.Side,
		TokenIn:         req.TokenIn,
		TokenOut:        req.TokenOut,
		AmountIn:        amountIn.String(),
		QuotedAmountOut: s.estimator.EstimateAmountOut(amountIn).StringFixed(pricing.Precision),
		FeeBps:          s.estimator.FeeBps,
		Status:          StatusPending,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.CreateOrderWithIdempotency(order, s.guard, CommandCreateOrder, req.IdempotencyKey)
	if idempotency.IsDuplicate(err) {
		// A concurrent duplicate submission won the insert race. Re-read
		// the winning row and return it as a replay.
		record, rerr := s.guard.Resolve(ownerID, CommandCreateOrder, req.IdempotencyKey)
		if rerr != nil {
			return nil, false, rerr
		}
		if record != nil {
			existing, gerr := s.db.GetOrder(record.ResourceID)
			if gerr != nil {
				return nil, false, gerr
			}
			if existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, errs.Internal("duplicate order insert with no winning row", err)
	}
	if err != nil {
		return nil, false, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("owner_id", ownerID).
		Str("side", order.Side).
		Str("amount_in", order.AmountIn).
		Str("quoted_amount_out", order.QuotedAmountOut).
		Msg("order created")

	return order, false, nil
}

// UpdateOrder re-prices a PENDING order with a new input amount. Any other
// status is a state conflict.
func (s *Service) UpdateOrder(ownerID, orderID string, req UpdateOrderRequest) (*Order, error) {
	order, err := s.db.GetOrderForOwner(orderID, ownerID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errs.NotFound("order %s not found", orderID)
	}
	if order.Terminal() {
		return nil, errs.StateConflict("order %s is %s and can no longer be updated", orderID, order.Status)
	}

	amountIn, err := parsePositiveAmount(req.AmountIn, "amount_in")
	if err != nil {
		return nil, err
	}

	quoted := s.estimator.EstimateAmountOut(amountIn).StringFixed(pricing.Precision)
	updated, err := s.db.UpdatePendingOrder(orderID, amountIn.String(), quoted)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errs.StateConflict("order %s left PENDING before the update applied", orderID)
	}

	return s.db.GetOrderForOwner(orderID, ownerID)
}

// CancelOrder transitions a PENDING order to CANCELED. Any other status is
// a state conflict.
func (s *Service) CancelOrder(ownerID, orderID string) (*Order, error) {
	order, err := s.db.GetOrderForOwner(orderID, ownerID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errs.NotFound("order %s not found", orderID)
	}
	if order.Terminal() {
		return nil, errs.StateConflict("order %s is %s and cannot be canceled", orderID, order.Status)
	}

	canceled, err := s.db.TransitionOrder(orderID, StatusCanceled, "")
	if err != nil {
		return nil, err
	}
	if !canceled {
		return nil, errs.StateConflict("order %s left PENDING before the cancel applied", orderID)
	}

	log.Info().Str("order_id", orderID).Str("owner_id", ownerID).Msg("order canceled")

	return s.db.GetOrderForOwner(orderID, ownerID)
}

// GetOrder returns the owner's order together with its settled trades.
// Lookups never cross owner boundaries, even by direct id.
func (s *Service) GetOrder(ownerID, orderID string) (*OrderDetail, error) {
	order, err := s.db.GetOrderForOwner(orderID, ownerID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errs.NotFound("order %s not found", orderID)
	}

	trades, err := s.db.TradesForOrder(orderID)
	if err != nil {
		return nil, err
	}

	return &OrderDetail{Order: *order, Trades: trades}, nil
}

// ListOrders returns one page of the owner's orders, optionally filtered by
// status.
func (s *Service) ListOrders(ownerID, status string, limit, offset int) (*ListOrdersResponse, error) {
	if status != "" && !validStatus(status) {
		return nil, errs.Validation("unknown status %q", status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	orders, total, err := s.db.ListOrders(ownerID, status, limit, offset)
	if err != nil {
		return nil, err
	}

	return &ListOrdersResponse{
		Orders:  orders,
		Total:   total,
		HasMore: int64(offset+len(orders)) < total,
	}, nil
}

func validateCreateOrder(req CreateOrderRequest) (decimal.Decimal, error) {
	if req.Side != SideBuy && req.Side != SideSell {
		return decimal.Zero, errs.Validation("side must be %q or %q", SideBuy, SideSell)
	}
	if req.TokenIn == "" || req.TokenOut == "" {
		return decimal.Zero, errs.Validation("token_in and token_out are required")
	}
	if req.TokenIn == req.TokenOut {
		return decimal.Zero, errs.Validation("token_in and token_out must differ")
	}
	return parsePositiveAmount(req.AmountIn, "amount_in")
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

func validStatus(status string) bool {
	switch status {
	case StatusPending, StatusFilled, StatusPartial, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// GinHandlers contains HTTP handlers for order and market-data endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for market endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to create new orders
// Requires a valid JWT token; the idempotency key travels in the body
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := requireTrader(c)
		if !ok {
			return
		}

		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, replayed, err := h.service.CreateOrder(ownerID, req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if replayed {
			response.OK(c, order)
			return
		}
		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for the caller's orders
// Query parameters: status, limit, offset
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := requireTrader(c)
		if !ok {
			return
		}

		limit, err := intQuery(c, "limit", 0)
		if err != nil {
			response.BadRequest(c, "limit must be an integer")
			return
		}
		offset, err := intQuery(c, "offset", 0)
		if err != nil {
			response.BadRequest(c, "offset must be an integer")
			return
		}

		page, err := h.service.ListOrders(ownerID, c.Query("status"), limit, offset)
		response.Handle(c, page, err)
	}
}

// GetOrderHandler handles GET requests for a single order with its trades
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := requireTrader(c)
		if !ok {
			return
		}

		detail, err := h.service.GetOrder(ownerID, c.Param("order_id"))
		response.Handle(c, detail, err)
	}
}

// UpdateOrderHandler handles PUT requests to re-price a PENDING order
// URL parameter: order_id
func (h *GinHandlers) UpdateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := requireTrader(c)
		if !ok {
			return
		}

		var req UpdateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.UpdateOrder(ownerID, c.Param("order_id"), req)
		response.Handle(c, order, err)
	}
}

// CancelOrderHandler handles DELETE requests to cancel a PENDING order
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := requireTrader(c)
		if !ok {
			return
		}

		order, err := h.service.CancelOrder(ownerID, c.Param("order_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, gin.H{"order_id": order.OrderID, "status": order.Status})
	}
}

// OrderbookHandler handles GET requests for the synthetic orderbook
// Query parameter: pair (QUOTE-BASE)
func (h *GinHandlers) OrderbookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pair, err := ParsePair(c.Query("pair"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		book, err := h.service.Orderbook(pair)
		response.Handle(c, book, err)
	}
}

// TradesHandler handles GET requests for recent settled trades
// Query parameters: pair, limit
func (h *GinHandlers) TradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pair, err := ParsePair(c.Query("pair"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		limit, err := intQuery(c, "limit", 100)
		if err != nil {
			response.BadRequest(c, "limit must be an integer")
			return
		}

		trades, err := h.service.Trades(pair, limit)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, gin.H{"trades": trades})
	}
}

// StatsHandler handles GET requests for rolling 24h market statistics
// Query parameter: pair
func (h *GinHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pair, err := ParsePair(c.Query("pair"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		stats, err := h.service.Stats(pair, time.Now())
		response.Handle(c, stats, err)
	}
}

func requireTrader(c *gin.Context) (string, bool) {
	ownerID := auth.GetClientID(c)
	if ownerID == "" {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}
	if !auth.CanTrade(auth.GetRole(c)) {
		response.Forbidden(c, "Role may not manage orders")
		return "", false
	}
	return ownerID, true
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
