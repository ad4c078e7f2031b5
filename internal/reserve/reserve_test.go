package reserve_test

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/poimarket/market-api/internal/database"
	"github.com/poimarket/market-api/internal/errs"
	"github.com/poimarket/market-api/internal/pricing"
	"github.com/poimarket/market-api/internal/reserve"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *reserve.Service {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"), "USDC", "POI")
	require.NoError(t, err)
	return reserve.NewService(db, pricing.NewEstimator(10, 150), "USDC", "POI")
}

func creditQuote(t *testing.T, service *reserve.Service, amount string) {
	t.Helper()
	_, err := service.CreditBalance(reserve.CreditRequest{Asset: "USDC", Amount: amount})
	require.NoError(t, err)
}

func TestBuyback(t *testing.T) {
	t.Run("accepts a funded buyback with the quoted estimate", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "1000")

		action, replay, err := service.Buyback("treasury-1", reserve.BuybackRequest{
			AmountIn:       "500",
			MinOut:         "400",
			IdempotencyKey: uuid.New().String(),
		})
		require.NoError(t, err)
		assert.False(t, replay)
		assert.Equal(t, reserve.TypeBuyback, action.Type)
		assert.Equal(t, reserve.StatusPending, action.Status)
		require.NotNil(t, action.Buyback)
		assert.Equal(t, "500", action.Buyback.AmountIn)
		assert.Equal(t, "492.00750000", action.Buyback.EstimatedOut)
		assert.Nil(t, action.ExecutedAt)
	})

	t.Run("replays the original action for a repeated key", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "1000")

		key := uuid.New().String()
		req := reserve.BuybackRequest{AmountIn: "500", MinOut: "400", IdempotencyKey: key}

		first, _, err := service.Buyback("treasury-1", req)
		require.NoError(t, err)

		second, replay, err := service.Buyback("treasury-1", req)
		require.NoError(t, err)
		assert.True(t, replay)
		assert.Equal(t, first.ActionID, second.ActionID)

		actions, err := service.GetDB().PendingActions()
		require.NoError(t, err)
		assert.Len(t, actions, 1)
	})

	t.Run("rejects a buyback the reserve cannot fund", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "100")

		_, _, err := service.Buyback("treasury-1", reserve.BuybackRequest{
			AmountIn:       "500",
			MinOut:         "0",
			IdempotencyKey: uuid.New().String(),
		})
		assert.True(t, errs.IsKind(err, errs.KindInsufficientResource))
	})

	t.Run("rejects a min_out above the estimate", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "1000")

		// 500 in estimates to 492.0075 out, so 493 is unreachable.
		_, _, err := service.Buyback("treasury-1", reserve.BuybackRequest{
			AmountIn:       "500",
			MinOut:         "493",
			IdempotencyKey: uuid.New().String(),
		})
		assert.True(t, errs.IsKind(err, errs.KindInsufficientResource))
	})

	t.Run("validates the request", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "1000")

		cases := []struct {
			name string
			req  reserve.BuybackRequest
		}{
			{"missing key", reserve.BuybackRequest{AmountIn: "500", MinOut: "0"}},
			{"non-decimal amount", reserve.BuybackRequest{AmountIn: "lots", MinOut: "0", IdempotencyKey: uuid.New().String()}},
			{"zero amount", reserve.BuybackRequest{AmountIn: "0", MinOut: "0", IdempotencyKey: uuid.New().String()}},
			{"negative min_out", reserve.BuybackRequest{AmountIn: "500", MinOut: "-1", IdempotencyKey: uuid.New().String()}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, _, err := service.Buyback("treasury-1", tc.req)
				assert.True(t, errs.IsKind(err, errs.KindValidation))
			})
		}
	})
}

func TestWithdraw(t *testing.T) {
	t.Run("accepts a funded withdrawal", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "1000")

		action, replay, err := service.Withdraw("treasury-1", reserve.WithdrawRequest{
			Amount:         "250",
			Asset:          "USDC",
			Destination:    "0xabc",
			IdempotencyKey: uuid.New().String(),
		})
		require.NoError(t, err)
		assert.False(t, replay)
		assert.Equal(t, reserve.TypeWithdraw, action.Type)
		assert.Equal(t, reserve.StatusPending, action.Status)
		require.NotNil(t, action.Withdraw)
		assert.Equal(t, "250", action.Withdraw.Amount)
		assert.Equal(t, "0xabc", action.Withdraw.Destination)
	})

	t.Run("rejects a withdrawal the reserve cannot fund", func(t *testing.T) {
		service := newTestService(t)

		_, _, err := service.Withdraw("treasury-1", reserve.WithdrawRequest{
			Amount:         "5",
			Asset:          "USDC",
			Destination:    "0xabc",
			IdempotencyKey: uuid.New().String(),
		})
		assert.True(t, errs.IsKind(err, errs.KindInsufficientResource))
	})

	t.Run("validates the request", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "1000")

		cases := []struct {
			name string
			req  reserve.WithdrawRequest
		}{
			{"missing asset", reserve.WithdrawRequest{Amount: "10", Destination: "0xabc", IdempotencyKey: uuid.New().String()}},
			{"missing destination", reserve.WithdrawRequest{Amount: "10", Asset: "USDC", IdempotencyKey: uuid.New().String()}},
			{"negative amount", reserve.WithdrawRequest{Amount: "-10", Asset: "USDC", Destination: "0xabc", IdempotencyKey: uuid.New().String()}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, _, err := service.Withdraw("treasury-1", tc.req)
				assert.True(t, errs.IsKind(err, errs.KindValidation))
			})
		}
	})

	t.Run("replays the original action for a repeated key", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "1000")

		key := uuid.New().String()
		req := reserve.WithdrawRequest{Amount: "100", Asset: "USDC", Destination: "0xabc", IdempotencyKey: key}

		first, _, err := service.Withdraw("treasury-1", req)
		require.NoError(t, err)
		second, replay, err := service.Withdraw("treasury-1", req)
		require.NoError(t, err)
		assert.True(t, replay)
		assert.Equal(t, first.ActionID, second.ActionID)
	})

	t.Run("keys are scoped per command type", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "1000")

		key := uuid.New().String()
		buyback, _, err := service.Buyback("treasury-1", reserve.BuybackRequest{
			AmountIn: "100", MinOut: "0", IdempotencyKey: key,
		})
		require.NoError(t, err)

		withdraw, replay, err := service.Withdraw("treasury-1", reserve.WithdrawRequest{
			Amount: "100", Asset: "USDC", Destination: "0xabc", IdempotencyKey: key,
		})
		require.NoError(t, err)
		assert.False(t, replay)
		assert.NotEqual(t, buyback.ActionID, withdraw.ActionID)
	})
}

func TestBalances(t *testing.T) {
	t.Run("credits accumulate", func(t *testing.T) {
		service := newTestService(t)

		balance, err := service.CreditBalance(reserve.CreditRequest{Asset: "USDC", Amount: "100"})
		require.NoError(t, err)
		assert.Equal(t, "100", balance.Amount)

		balance, err = service.CreditBalance(reserve.CreditRequest{Asset: "USDC", Amount: "50.5"})
		require.NoError(t, err)
		assert.Equal(t, "150.5", balance.Amount)
	})

	t.Run("credit validates asset and amount", func(t *testing.T) {
		service := newTestService(t)

		_, err := service.CreditBalance(reserve.CreditRequest{Asset: "", Amount: "100"})
		assert.True(t, errs.IsKind(err, errs.KindValidation))

		_, err = service.CreditBalance(reserve.CreditRequest{Asset: "USDC", Amount: "0"})
		assert.True(t, errs.IsKind(err, errs.KindValidation))
	})

	t.Run("a debit below zero is rejected", func(t *testing.T) {
		service := newTestService(t)
		creditQuote(t, service, "100")

		_, err := service.GetDB().AdjustBalance("USDC", decimal.NewFromInt(-150))
		assert.True(t, errs.IsKind(err, errs.KindInsufficientResource))

		// The failed debit must not touch the stored balance.
		amount, err := service.GetDB().BalanceAmount("USDC")
		require.NoError(t, err)
		assert.Equal(t, "100", amount.String())
	})
}
