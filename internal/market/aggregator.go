package market

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/poimarket/market-api/internal/errs"
	"github.com/poimarket/market-api/internal/pricing"
	"github.com/shopspring/decimal"
)

// bucketPrecision is the decimal places prices are rounded to when bucketing
// orderbook levels.
const bucketPrecision = 3

// statsWindow is the rolling window for market statistics.
const statsWindow = 24 * time.Hour

// Pair is a quote/base trading pair parsed from "QUOTE-BASE".
type Pair struct {
	Quote string
	Base  string
}

func (p Pair) String() string {
	return p.Quote + "-" + p.Base
}

// ParsePair parses a "QUOTE-BASE" pair string.
func ParsePair(raw string) (Pair, error) {
	parts := strings.Split(raw, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, errs.Validation("pair must have the form QUOTE-BASE")
	}
	if parts[0] == parts[1] {
		return Pair{}, errs.Validation("pair tokens must differ")
	}
	return Pair{Quote: parts[0], Base: parts[1]}, nil
}

// Orderbook projects the pair's PENDING orders into bucketed bid/ask levels.
// Bids sort descending and asks ascending, best price first. The projection
// is advisory; nothing here mutates the ledger.
func (s *Service) Orderbook(pair Pair) (*Orderbook, error) {
	orders, err := s.db.PendingOrdersForPair(pair.Quote, pair.Base)
	if err != nil {
		return nil, err
	}

	bids := map[string]decimal.Decimal{}
	asks := map[string]decimal.Decimal{}
	var updatedAt time.Time

	for _, order := range orders {
		price, quantity, ok := classify(order, pair)
		if !ok {
			continue
		}

		key := price.StringFixed(bucketPrecision)
		if order.Side == SideBuy {
			bids[key] = bids[key].Add(quantity)
		} else {
			asks[key] = asks[key].Add(quantity)
		}
		if order.UpdatedAt.After(updatedAt) {
			updatedAt = order.UpdatedAt
		}
	}

	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return &Orderbook{
		Bids:      sortLevels(bids, true),
		Asks:      sortLevels(asks, false),
		UpdatedAt: updatedAt,
	}, nil
}

// Trades returns the pair's most recent settled trades.
func (s *Service) Trades(pair Pair, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxTradesLimit {
		limit = maxTradesLimit
	}
	trades, err := s.db.TradesForPair(pair.Quote, pair.Base, limit)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []Trade{}
	}
	return trades, nil
}

// Stats computes the pair's rolling 24h statistics from settled trades,
// plus the synthetic liquidity contributed by PENDING orders.
func (s *Service) Stats(pair Pair, now time.Time) (*Stats, error) {
	latest, err := s.db.LatestTrade(pair.Quote, pair.Base)
	if err != nil {
		return nil, err
	}

	price := decimal.Zero
	if latest != nil {
		price = parseAmount(latest.Price)
	}

	window, err := s.db.TradesForPairSince(pair.Quote, pair.Base, now.Add(-statsWindow))
	if err != nil {
		return nil, err
	}

	volume := decimal.Zero
	high := decimal.Zero
	low := decimal.Zero
	for i, trade := range window {
		tradePrice := parseAmount(trade.Price)
		volume = volume.Add(parseAmount(trade.Amount))
		if i == 0 || tradePrice.GreaterThan(high) {
			high = tradePrice
		}
		if i == 0 || tradePrice.LessThan(low) {
			low = tradePrice
		}
	}
	if len(window) == 0 {
		high = price
		low = price
	}

	tvl, err := s.syntheticLiquidity(pair)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Price:     price.StringFixed(pricing.Precision),
		Change24h: changePercent(window),
		Volume24h: volume.StringFixed(pricing.Precision),
		High24h:   high.StringFixed(pricing.Precision),
		Low24h:    low.StringFixed(pricing.Precision),
		TVL:       tvl.StringFixed(pricing.Precision),
	}, nil
}

// syntheticLiquidity sums each PENDING order's quote-token-equivalent
// contribution, using the same direction logic as the orderbook projection.
func (s *Service) syntheticLiquidity(pair Pair) (decimal.Decimal, error) {
	orders, err := s.db.PendingOrdersForPair(pair.Quote, pair.Base)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, order := range orders {
		amountIn := parseAmount(order.AmountIn)
		quotedOut := parseAmount(order.QuotedAmountOut)
		if amountIn.LessThanOrEqual(decimal.Zero) || quotedOut.LessThanOrEqual(decimal.Zero) {
			continue
		}

		switch {
		case order.TokenIn == pair.Quote && order.TokenOut == pair.Base:
			total = total.Add(amountIn)
		case order.TokenIn == pair.Base && order.TokenOut == pair.Quote:
			total = total.Add(quotedOut)
		}
	}
	return total, nil
}

// classify derives the orderbook price and quantity for one pending order.
// Orders with non-positive amounts, or tokens that match neither direction
// of the pair, are skipped.
func classify(order Order, pair Pair) (price, quantity decimal.Decimal, ok bool) {
	amountIn := parseAmount(order.AmountIn)
	quotedOut := parseAmount(order.QuotedAmountOut)
	if amountIn.LessThanOrEqual(decimal.Zero) || quotedOut.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, false
	}

	switch {
	case order.TokenIn == pair.Quote && order.TokenOut == pair.Base:
		return amountIn.Div(quotedOut), quotedOut, true
	case order.TokenIn == pair.Base && order.TokenOut == pair.Quote:
		return quotedOut.Div(amountIn), amountIn, true
	}
	return decimal.Zero, decimal.Zero, false
}

// sortLevels flattens price buckets into a sorted slice, best price first.
func sortLevels(buckets map[string]decimal.Decimal, descending bool) []PriceLevel {
	prices := make([]decimal.Decimal, 0, len(buckets))
	for key := range buckets {
		prices = append(prices, decimal.RequireFromString(key))
	}
	sort.Slice(prices, func(i, j int) bool {
		if descending {
			return prices[i].GreaterThan(prices[j])
		}
		return prices[i].LessThan(prices[j])
	})

	levels := make([]PriceLevel, 0, len(prices))
	for _, price := range prices {
		key := price.StringFixed(bucketPrecision)
		levels = append(levels, PriceLevel{
			Price:  key,
			Amount: buckets[key].StringFixed(pricing.Precision),
		})
	}
	return levels
}

// changePercent formats the signed percentage change between the oldest and
// latest trade prices in the window. A zero or invalid baseline yields
// "0.0%".
func changePercent(window []Trade) string {
	if len(window) == 0 {
		return "0.0%"
	}

	oldest := parseAmount(window[0].Price)
	latest := parseAmount(window[len(window)-1].Price)
	if oldest.LessThanOrEqual(decimal.Zero) {
		return "0.0%"
	}

	change := latest.Sub(oldest).Div(oldest).Mul(decimal.NewFromInt(100)).Round(2)
	if change.IsNegative() {
		return change.StringFixed(2) + "%"
	}
	return fmt.Sprintf("+%s%%", change.StringFixed(2))
}

// parseAmount reads a stored decimal string, treating corrupt values as
// zero so a bad row degrades the view instead of failing it.
func parseAmount(raw string) decimal.Decimal {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return amount
}
