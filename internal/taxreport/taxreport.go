package taxreport

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

// CommandGenerate scopes report-generation idempotency keys.
const CommandGenerate = "tax.report"

const dateLayout = "2006-01-02"

// Service handles tax report generation
type Service struct {
	db    *Database
	guard *idempotency.Guard
}

// NewService creates a new tax report service with the given database
// connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		guard: idempotency.NewGuard(gormDB),
	}
}

// GetDB exposes the database wrapper for the settlement processor.
func (s *Service) GetDB() *Database { return s.db }

// GenerateReport creates an idempotency-guarded tax report by summing the
// merchant's settled orders in the period. Replays return the stored report
// without recomputation. The second return value reports a replay.
func (s *Service) GenerateReport(merchantID string, req GenerateReportRequest) (*TaxReport, bool, error) {
	record, err := s.guard.Resolve(merchantID, CommandGenerate, req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if record != nil {
		return s.replay(record.ResourceID)
	}

	start, err := time.Parse(dateLayout, req.PeriodStart)
	if err != nil {
		return nil, false, errs.Validation("period_start must be a %s date", dateLayout)
	}
	end, err := time.Parse(dateLayout, req.PeriodEnd)
	if err != nil {
		return nil, false, errs.Validation("period_end must be a %s date", dateLayout)
	}
	if end.Before(start) {
		return nil, false, errs.Validation("period_end must not precede period_start")
	}

	// The period is inclusive of the end date.
	orders, err := s.db.SettledOrdersInPeriod(merchantID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, false, err
	}

	gross := decimal.Zero
	fees := decimal.Zero
	for _, order := range orders {
		amountIn, err := decimal.NewFromString(order.AmountIn)
		if err != nil {
			return nil, false, errs.Internal("corrupt amount on order "+order.OrderID, err)
		}
		gross = gross.Add(amountIn)
		fees = fees.Add(pricing.FeeAmount(amountIn, order.FeeBps))
	}
	net := gross.Sub(fees)

	report := &TaxReport{
		ReportID:       "RPT_" + uuid.New().String(),
		MerchantID:     merchantID,
		PeriodStart:    start,
		PeriodEnd:      end,
		GrossSales:     gross.StringFixed(pricing.Precision),
		PlatformFees:   fees.StringFixed(pricing.Precision),
		NetAmount:      net.StringFixed(pricing.Precision),
		TaxableAmount:  net.StringFixed(pricing.Precision),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}

	err = s.db.CreateReportWithIdempotency(report, s.guard, CommandGenerate, req.IdempotencyKey)
	if idempotency.IsDuplicate(err) {
		// Concurrent duplicate submission; return the winning row.
		record, rerr := s.guard.Resolve(merchantID, CommandGenerate, req.IdempotencyKey)
		if rerr != nil {
			return nil, false, rerr
		}
		if record != nil {
			return s.replay(record.ResourceID)
		}
		return nil, false, errs.Internal("duplicate report insert with no winning row", err)
	}
	if err != nil {
		return nil, false, err
	}

	log.Info().
		Str("report_id", report.ReportID).
		Str("merchant_id", merchantID).
		Str("period_start", req.PeriodStart).
		Str("period_end", req.PeriodEnd).
		Int("orders_summed", len(orders)).
		Msg("tax report generated")

	return report, false, nil
}

func (s *Service) replay(reportID string) (*TaxReport, bool, error) {
	existing, err := s.db.GetReport(reportID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errs.Internal("idempotency record points at missing report", nil)
	}
	return existing, true, nil
}

// GinHandlers contains HTTP handlers for tax report endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for tax report endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateReportHandler handles POST requests to generate tax reports
// Requires the report-generation capability
func (h *GinHandlers) GenerateReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID := auth.GetClientID(c)
		if merchantID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		if !auth.CanGenerateReports(auth.GetRole(c)) {
			response.Forbidden(c, "Role may not generate tax reports")
			return
		}

		var req GenerateReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		report, replayed, err := h.service.GenerateReport(merchantID, req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if replayed {
			response.OK(c, report)
			return
		}
		response.Success(c, report)
	}
}
