package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration, populated from the environment.
type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	DBPath    string `envconfig:"DB_PATH" default:"market.db"`
	JWTSecret string `envconfig:"JWT_SECRET" default:"poimarket-secret-key"`

	// Fee and slippage applied by the pricing estimator, in basis points.
	// Passed explicitly into the estimator so alternate regimes can be
	// exercised in tests.
	FeeBps      int64 `envconfig:"FEE_BPS" default:"10"`
	SlippageBps int64 `envconfig:"SLIPPAGE_BPS" default:"150"`

	// Assets the reserve pool trades: buybacks spend the quote asset to
	// re-acquire the platform token.
	ReserveQuoteAsset string `envconfig:"RESERVE_QUOTE_ASSET" default:"USDC"`
	ReserveBaseAsset  string `envconfig:"RESERVE_BASE_ASSET" default:"POI"`

	// Settlement processor cadence and the minimum age of a PENDING row
	// before it is eligible for settlement.
	SettleInterval time.Duration `envconfig:"SETTLE_INTERVAL" default:"30s"`
	SettleDelay    time.Duration `envconfig:"SETTLE_DELAY" default:"1m"`
}

func Get() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env config: %w", err)
	}
	return &cfg, nil
}
