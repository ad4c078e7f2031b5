package pricing

import (
	"github.com/shopspring/decimal"
)

const (
	// DefaultFeeBps is the platform trading fee applied to every order.
	DefaultFeeBps = 10
	// DefaultSlippageBps is the fixed slippage allowance baked into quotes.
	DefaultSlippageBps = 150

	// Precision is the fractional digit count for all quoted amounts.
	Precision = 8
)

var tenThousand = decimal.NewFromInt(10000)

// Estimator computes deterministic output estimates for a given fee and
// slippage regime. It performs no I/O and holds no mutable state.
type Estimator struct {
	FeeBps      int64
	SlippageBps int64
}

// NewEstimator returns an estimator for the given fee/slippage regime.
func NewEstimator(feeBps, slippageBps int64) Estimator {
	return Estimator{FeeBps: feeBps, SlippageBps: slippageBps}
}

// EstimateAmountOut returns amountIn reduced by the fee and slippage
// multipliers, rounded to the fixed precision. Non-positive input yields
// zero.
func (e Estimator) EstimateAmountOut(amountIn decimal.Decimal) decimal.Decimal {
	if amountIn.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	feeMultiplier := bpsMultiplier(e.FeeBps)
	slippageMultiplier := bpsMultiplier(e.SlippageBps)

	return amountIn.Mul(feeMultiplier).Mul(slippageMultiplier).Round(Precision)
}

// EstimateString is the decimal-string form of EstimateAmountOut. Inputs
// that fail to parse, or are non-positive, yield "0".
func (e Estimator) EstimateString(amountIn string) string {
	in, err := decimal.NewFromString(amountIn)
	if err != nil || in.LessThanOrEqual(decimal.Zero) {
		return "0"
	}
	return e.EstimateAmountOut(in).StringFixed(Precision)
}

// FeeAmount returns the platform fee charged on amountIn at the given rate,
// rounded to the fixed precision.
func FeeAmount(amountIn decimal.Decimal, feeBps int64) decimal.Decimal {
	return amountIn.Mul(decimal.NewFromInt(feeBps)).Div(tenThousand).Round(Precision)
}

// bpsMultiplier converts a basis-point deduction into a multiplier,
// e.g. 10 bps -> 0.999.
func bpsMultiplier(bps int64) decimal.Decimal {
	return tenThousand.Sub(decimal.NewFromInt(bps)).Div(tenThousand)
}
