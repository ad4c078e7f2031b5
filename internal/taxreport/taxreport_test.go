package taxreport_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poimarket/market-api/internal/database"
	"github.com/poimarket/market-api/internal/errs"
	"github.com/poimarket/market-api/internal/market"
	"github.com/poimarket/market-api/internal/taxreport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*taxreport.Service, *gorm.DB) {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"), "USDC", "POI")
	require.NoError(t, err)
	return taxreport.NewService(db), db
}

func seedSettledOrder(t *testing.T, db *gorm.DB, ownerID, amountIn, status string, settledAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&market.Order{
		OrderID:         "ORD_" + uuid.New().String(),
		OwnerID:         ownerID,
		Side:            market.SideBuy,
		TokenIn:         "USDC",
		TokenOut:        "POI",
		AmountIn:        amountIn,
		QuotedAmountOut: amountIn,
		FeeBps:          10,
		Status:          status,
		IdempotencyKey:  uuid.New().String(),
		CreatedAt:       settledAt.Add(-time.Hour),
		UpdatedAt:       settledAt,
	}).Error)
}

func julyRequest(key string) taxreport.GenerateReportRequest {
	return taxreport.GenerateReportRequest{
		PeriodStart:    "2026-07-01",
		PeriodEnd:      "2026-07-31",
		IdempotencyKey: key,
	}
}

func TestGenerateReport(t *testing.T) {
	inPeriod := time.Date(2026, 7, 10, 14, 0, 0, 0, time.UTC)

	t.Run("sums the merchant's settled orders in the period", func(t *testing.T) {
		service, db := newTestService(t)

		seedSettledOrder(t, db, "merchant-1", "100", market.StatusFilled, inPeriod)
		seedSettledOrder(t, db, "merchant-1", "250", market.StatusPartial, inPeriod.Add(24*time.Hour))
		// None of these may contribute.
		seedSettledOrder(t, db, "merchant-1", "999", market.StatusCanceled, inPeriod)
		seedSettledOrder(t, db, "merchant-1", "999", market.StatusFilled, inPeriod.AddDate(0, 2, 0))
		seedSettledOrder(t, db, "merchant-2", "999", market.StatusFilled, inPeriod)

		report, replay, err := service.GenerateReport("merchant-1", julyRequest(uuid.New().String()))
		require.NoError(t, err)
		assert.False(t, replay)
		assert.Equal(t, "350.00000000", report.GrossSales)
		assert.Equal(t, "0.35000000", report.PlatformFees)
		assert.Equal(t, "349.65000000", report.NetAmount)
		assert.Equal(t, "349.65000000", report.TaxableAmount)
		assert.Empty(t, report.FileURL)
	})

	t.Run("the period end date is inclusive", func(t *testing.T) {
		service, db := newTestService(t)

		seedSettledOrder(t, db, "merchant-1", "100",
			market.StatusFilled, time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC))

		report, _, err := service.GenerateReport("merchant-1", julyRequest(uuid.New().String()))
		require.NoError(t, err)
		assert.Equal(t, "100.00000000", report.GrossSales)
	})

	t.Run("an empty period yields a zero report", func(t *testing.T) {
		service, _ := newTestService(t)

		report, _, err := service.GenerateReport("merchant-1", julyRequest(uuid.New().String()))
		require.NoError(t, err)
		assert.Equal(t, "0.00000000", report.GrossSales)
		assert.Equal(t, "0.00000000", report.PlatformFees)
		assert.Equal(t, "0.00000000", report.NetAmount)
	})

	t.Run("replays do not recompute", func(t *testing.T) {
		service, db := newTestService(t)

		seedSettledOrder(t, db, "merchant-1", "100", market.StatusFilled, inPeriod)

		key := uuid.New().String()
		first, _, err := service.GenerateReport("merchant-1", julyRequest(key))
		require.NoError(t, err)

		// New settlements after the first generation must not leak into the
		// replayed report.
		seedSettledOrder(t, db, "merchant-1", "500", market.StatusFilled, inPeriod)

		second, replay, err := service.GenerateReport("merchant-1", julyRequest(key))
		require.NoError(t, err)
		assert.True(t, replay)
		assert.Equal(t, first.ReportID, second.ReportID)
		assert.Equal(t, "100.00000000", second.GrossSales)
	})

	t.Run("keys are scoped per merchant", func(t *testing.T) {
		service, _ := newTestService(t)

		key := uuid.New().String()
		first, _, err := service.GenerateReport("merchant-1", julyRequest(key))
		require.NoError(t, err)
		second, replay, err := service.GenerateReport("merchant-2", julyRequest(key))
		require.NoError(t, err)
		assert.False(t, replay)
		assert.NotEqual(t, first.ReportID, second.ReportID)
	})

	t.Run("validates the request", func(t *testing.T) {
		service, _ := newTestService(t)

		cases := []struct {
			name string
			req  taxreport.GenerateReportRequest
		}{
			{"missing key", taxreport.GenerateReportRequest{PeriodStart: "2026-07-01", PeriodEnd: "2026-07-31"}},
			{"bad start date", taxreport.GenerateReportRequest{PeriodStart: "July 1st", PeriodEnd: "2026-07-31", IdempotencyKey: uuid.New().String()}},
			{"bad end date", taxreport.GenerateReportRequest{PeriodStart: "2026-07-01", PeriodEnd: "31/07/2026", IdempotencyKey: uuid.New().String()}},
			{"inverted period", taxreport.GenerateReportRequest{PeriodStart: "2026-07-31", PeriodEnd: "2026-07-01", IdempotencyKey: uuid.New().String()}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, _, err := service.GenerateReport("merchant-1", tc.req)
				assert.True(t, errs.IsKind(err, errs.KindValidation))
			})
		}
	})
}
