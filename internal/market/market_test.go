package market_test

import (
	"path/filepath"
	"testing"

	"github.com/poimarket/market-api/internal/database"
	"github.com/poimarket/market-api/internal/errs"
	"github.com/poimarket/market-api/internal/market"
	"github.com/poimarket/market-api/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*market.Service, *gorm.DB) {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"), "USDC", "POI")
	require.NoError(t, err)
	return market.NewService(db, pricing.NewEstimator(10, 150)), db
}

func buyRequest(key string) market.CreateOrderRequest {
	return market.CreateOrderRequest{
		Side:           market.SideBuy,
		TokenIn:        "USDC",
		TokenOut:       "POI",
		AmountIn:       "250",
		IdempotencyKey: key,
	}
}

func TestCreateOrder(t *testing.T) {
	service, db := newTestService(t)

	t.Run("creates a pending order with a quoted estimate", func(t *testing.T) {
		order, replayed, err := service.CreateOrder("client-a", buyRequest("k1"))
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.NotEmpty(t, order.OrderID)
		assert.Equal(t, market.StatusPending, order.Status)
		assert.Equal(t, "246.00375000", order.QuotedAmountOut)
		assert.Equal(t, int64(10), order.FeeBps)
	})

	t.Run("identical resubmission replays the stored order", func(t *testing.T) {
		first, _, err := service.CreateOrder("client-a", buyRequest("k2"))
		require.NoError(t, err)

		second, replayed, err := service.CreateOrder("client-a", buyRequest("k2"))
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, first.OrderID, second.OrderID)
		assert.Equal(t, first.QuotedAmountOut, second.QuotedAmountOut)

		var count int64
		require.NoError(t, db.Model(&market.Order{}).
			Where("owner_id = ? AND idempotency_key = ?", "client-a", "k2").
			Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("same key under another owner creates a separate order", func(t *testing.T) {
		mine, _, err := service.CreateOrder("client-a", buyRequest("k3"))
		require.NoError(t, err)

		theirs, replayed, err := service.CreateOrder("client-b", buyRequest("k3"))
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.NotEqual(t, mine.OrderID, theirs.OrderID)
	})

	t.Run("validation failures", func(t *testing.T) {
		cases := map[string]market.CreateOrderRequest{
			"bad side": {Side: "hold", TokenIn: "USDC", TokenOut: "POI", AmountIn: "10", IdempotencyKey: "v1"},
			"missing tokens": {Side: market.SideBuy, AmountIn: "10", IdempotencyKey: "v2"},
			"same tokens": {Side: market.SideBuy, TokenIn: "POI", TokenOut: "POI", AmountIn: "10", IdempotencyKey: "v3"},
			"zero amount": {Side: market.SideBuy, TokenIn: "USDC", TokenOut: "POI", AmountIn: "0", IdempotencyKey: "v4"},
			"negative amount": {Side: market.SideBuy, TokenIn: "USDC", TokenOut: "POI", AmountIn: "-3", IdempotencyKey: "v5"},
			"garbage amount": {Side: market.SideBuy, TokenIn: "USDC", TokenOut: "POI", AmountIn: "ten", IdempotencyKey: "v6"},
			"missing key": buyRequest(""),
		}

		for name, req := range cases {
			_, _, err := service.CreateOrder("client-a", req)
			assert.True(t, errs.IsKind(err, errs.KindValidation), "case %q: %v", name, err)
		}
	})
}

func TestOrderLifecycle(t *testing.T) {
	service, _ := newTestService(t)

	t.Run("update re-prices a pending order", func(t *testing.T) {
		order, _, err := service.CreateOrder("client-a", buyRequest("u1"))
		require.NoError(t, err)

		updated, err := service.UpdateOrder("client-a", order.OrderID, market.UpdateOrderRequest{AmountIn: "100"})
		require.NoError(t, err)
		assert.Equal(t, "100", updated.AmountIn)
		assert.Equal(t, "98.40150000", updated.QuotedAmountOut)
		assert.Equal(t, market.StatusPending, updated.Status)
	})

	t.Run("cancel then mutate conflicts", func(t *testing.T) {
		order, _, err := service.CreateOrder("client-a", buyRequest("c1"))
		require.NoError(t, err)

		canceled, err := service.CancelOrder("client-a", order.OrderID)
		require.NoError(t, err)
		assert.Equal(t, market.StatusCanceled, canceled.Status)

		_, err = service.CancelOrder("client-a", order.OrderID)
		assert.True(t, errs.IsKind(err, errs.KindStateConflict))

		_, err = service.UpdateOrder("client-a", order.OrderID, market.UpdateOrderRequest{AmountIn: "5"})
		assert.True(t, errs.IsKind(err, errs.KindStateConflict))
	})

	t.Run("replay still works after the order reached a terminal state", func(t *testing.T) {
		order, _, err := service.CreateOrder("client-a", buyRequest("c2"))
		require.NoError(t, err)
		_, err = service.CancelOrder("client-a", order.OrderID)
		require.NoError(t, err)

		replayedOrder, replayed, err := service.CreateOrder("client-a", buyRequest("c2"))
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, market.StatusCanceled, replayedOrder.Status)
	})

	t.Run("mutating a missing order is not found", func(t *testing.T) {
		_, err := service.CancelOrder("client-a", "ORD_missing")
		assert.True(t, errs.IsKind(err, errs.KindNotFound))
	})
}

func TestOwnershipIsolation(t *testing.T) {
	service, _ := newTestService(t)

	order, _, err := service.CreateOrder("client-a", buyRequest("o1"))
	require.NoError(t, err)

	t.Run("direct lookup by another owner is not found", func(t *testing.T) {
		_, err := service.GetOrder("client-b", order.OrderID)
		assert.True(t, errs.IsKind(err, errs.KindNotFound))
	})

	t.Run("mutation by another owner is not found", func(t *testing.T) {
		_, err := service.CancelOrder("client-b", order.OrderID)
		assert.True(t, errs.IsKind(err, errs.KindNotFound))

		_, err = service.UpdateOrder("client-b", order.OrderID, market.UpdateOrderRequest{AmountIn: "9"})
		assert.True(t, errs.IsKind(err, errs.KindNotFound))
	})

	t.Run("listing never crosses owners", func(t *testing.T) {
		page, err := service.ListOrders("client-b", "", 50, 0)
		require.NoError(t, err)
		for _, listed := range page.Orders {
			assert.NotEqual(t, "client-a", listed.OwnerID)
		}
	})
}

func TestListOrders(t *testing.T) {
	service, _ := newTestService(t)

	for _, key := range []string{"l1", "l2", "l3"} {
		_, _, err := service.CreateOrder("client-a", buyRequest(key))
		require.NoError(t, err)
	}
	canceled, _, err := service.CreateOrder("client-a", buyRequest("l4"))
	require.NoError(t, err)
	_, err = service.CancelOrder("client-a", canceled.OrderID)
	require.NoError(t, err)

	t.Run("paginates with totals", func(t *testing.T) {
		page, err := service.ListOrders("client-a", "", 2, 0)
		require.NoError(t, err)
		assert.Len(t, page.Orders, 2)
		assert.Equal(t, int64(4), page.Total)
		assert.True(t, page.HasMore)

		page, err = service.ListOrders("client-a", "", 2, 2)
		require.NoError(t, err)
		assert.Len(t, page.Orders, 2)
		assert.False(t, page.HasMore)
	})

	t.Run("filters by status", func(t *testing.T) {
		page, err := service.ListOrders("client-a", market.StatusCanceled, 50, 0)
		require.NoError(t, err)
		require.Len(t, page.Orders, 1)
		assert.Equal(t, canceled.OrderID, page.Orders[0].OrderID)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := service.ListOrders("client-a", "SETTLING", 50, 0)
		assert.True(t, errs.IsKind(err, errs.KindValidation))
	})
}
