package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/poimarket/market-api/internal/errs"
	"github.com/poimarket/market-api/internal/market"
	"github.com/poimarket/market-api/internal/reserve"
	"github.com/poimarket/market-api/internal/taxreport"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Processor advances PENDING ledger rows to their terminal states. Every
// transition is a compare-and-set on status, so a row that a user canceled
// in the meantime is simply skipped.
type Processor struct {
	orders      *market.Database
	reserves    *reserve.Database
	reports     *taxreport.Database
	quoteAsset  string // asset buybacks spend
	baseAsset   string // asset buybacks re-acquire
	interval    time.Duration
	settleDelay time.Duration // minimum age before a PENDING row settles
}

func NewProcessor(gormDB *gorm.DB, quoteAsset, baseAsset string, interval, settleDelay time.Duration) *Processor {
	return &Processor{
		orders:      market.NewDatabase(gormDB),
		reserves:    reserve.NewDatabase(gormDB),
		reports:     taxreport.NewDatabase(gormDB),
		quoteAsset:  quoteAsset,
		baseAsset:   baseAsset,
		interval:    interval,
		settleDelay: settleDelay,
	}
}

// Start begins the settlement processing loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Msg("starting settlement processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if err := p.settleOrders(); err != nil {
				logger.Error().Err(err).Msg("failed to settle pending orders")
			}
			if err := p.executeActions(); err != nil {
				logger.Error().Err(err).Msg("failed to execute pending ledger actions")
			}
			if err := p.generateReportFiles(); err != nil {
				logger.Error().Err(err).Msg("failed to generate report files")
			}
		}
	}
}

// settleOrders fills PENDING orders older than the settle delay at their
// quoted amount and records the resulting trade.
func (p *Processor) settleOrders() error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	orders, err := p.orders.PendingOrdersBefore(time.Now().Add(-p.settleDelay))
	if err != nil {
		return err
	}
	if len(orders) > 0 {
		logger.Info().Int("pending_count", len(orders)).Msg("settling pending orders")
	}

	for _, order := range orders {
		amountIn, errIn := decimal.NewFromString(order.AmountIn)
		amountOut, errOut := decimal.NewFromString(order.QuotedAmountOut)
		if errIn != nil || errOut != nil || amountIn.LessThanOrEqual(decimal.Zero) || amountOut.LessThanOrEqual(decimal.Zero) {
			if _, err := p.orders.TransitionOrder(order.OrderID, market.StatusFailed, ""); err != nil {
				logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to fail malformed order")
			}
			continue
		}

		filled, err := p.orders.TransitionOrder(order.OrderID, market.StatusFilled, order.QuotedAmountOut)
		if err != nil {
			logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to fill order")
			continue
		}
		if !filled {
			// Lost the race against a cancel; nothing to record.
			logger.Debug().Str("order_id", order.OrderID).Msg("order left PENDING before settlement")
			continue
		}

		// Trade price is quote per base: a buyer spends the quote token,
		// a seller receives it.
		var price, amount decimal.Decimal
		if order.Side == market.SideBuy {
			price = amountIn.Div(amountOut)
			amount = amountIn
		} else {
			price = amountOut.Div(amountIn)
			amount = amountOut
		}

		trade := &market.Trade{
			TradeID:    "TRD_" + uuid.New().String(),
			OrderID:    order.OrderID,
			OwnerID:    order.OwnerID,
			Side:       order.Side,
			TokenIn:    order.TokenIn,
			TokenOut:   order.TokenOut,
			Price:      price.Round(8).String(),
			Amount:     amount.Round(8).String(),
			ExecutedAt: time.Now(),
		}
		if err := p.orders.CreateTrade(trade); err != nil {
			logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to record trade")
			continue
		}

		logger.Info().
			Str("order_id", order.OrderID).
			Str("trade_id", trade.TradeID).
			Str("price", trade.Price).
			Msg("order settled")
	}

	return nil
}

// executeActions settles PENDING treasury actions against the reserve
// balances. Balance shortfalls at execution time terminate the action as
// FAILED rather than leaving it in limbo.
func (p *Processor) executeActions() error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	actions, err := p.reserves.PendingActions()
	if err != nil {
		return err
	}

	for _, action := range actions {
		var execErr error
		switch action.Type {
		case reserve.TypeBuyback:
			execErr = p.executeBuyback(action)
		case reserve.TypeWithdraw:
			execErr = p.executeWithdraw(action)
		default:
			execErr = errs.Internal("unknown action type "+action.Type, nil)
		}

		if execErr != nil {
			if errs.IsKind(execErr, errs.KindInsufficientResource) {
				if _, err := p.reserves.SettleAction(action.ActionID, reserve.StatusFailed, execErr.Error()); err != nil {
					logger.Error().Err(err).Str("action_id", action.ActionID).Msg("failed to fail action")
				}
				logger.Warn().Str("action_id", action.ActionID).Msg("action failed on insufficient balance")
				continue
			}
			logger.Error().Err(execErr).Str("action_id", action.ActionID).Msg("action execution failed")
			continue
		}

		reference := "STL_" + uuid.New().String()
		settled, err := p.reserves.SettleAction(action.ActionID, reserve.StatusSuccess, reference)
		if err != nil {
			logger.Error().Err(err).Str("action_id", action.ActionID).Msg("failed to settle action")
			continue
		}
		if settled {
			logger.Info().
				Str("action_id", action.ActionID).
				Str("type", action.Type).
				Str("result", reference).
				Msg("ledger action executed")
		}
	}

	return nil
}

func (p *Processor) executeBuyback(action reserve.LedgerAction) error {
	if action.Buyback == nil {
		return errs.Internal("buyback action "+action.ActionID+" has no payload", nil)
	}

	amountIn, err := decimal.NewFromString(action.Buyback.AmountIn)
	if err != nil {
		return errs.Internal("corrupt buyback amount on "+action.ActionID, err)
	}
	estimatedOut, err := decimal.NewFromString(action.Buyback.EstimatedOut)
	if err != nil {
		return errs.Internal("corrupt buyback estimate on "+action.ActionID, err)
	}

	if _, err := p.reserves.AdjustBalance(p.quoteAsset, amountIn.Neg()); err != nil {
		return err
	}
	_, err = p.reserves.AdjustBalance(p.baseAsset, estimatedOut)
	return err
}

func (p *Processor) executeWithdraw(action reserve.LedgerAction) error {
	if action.Withdraw == nil {
		return errs.Internal("withdraw action "+action.ActionID+" has no payload", nil)
	}

	amount, err := decimal.NewFromString(action.Withdraw.Amount)
	if err != nil {
		return errs.Internal("corrupt withdraw amount on "+action.ActionID, err)
	}

	_, err = p.reserves.AdjustBalance(action.Withdraw.Asset, amount.Neg())
	return err
}

// generateReportFiles assigns a file location to reports that lack one.
func (p *Processor) generateReportFiles() error {
	reports, err := p.reports.ReportsWithoutFile()
	if err != nil {
		return err
	}

	for _, report := range reports {
		fileURL := "/reports/" + report.ReportID + ".csv"
		if err := p.reports.SetFileURL(report.ReportID, fileURL); err != nil {
			log.Error().Err(err).Str("report_id", report.ReportID).Msg("failed to set report file url")
			continue
		}
		log.Info().Str("report_id", report.ReportID).Str("file_url", fileURL).Msg("report file generated")
	}

	return nil
}
