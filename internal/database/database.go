package database

import (
	"fmt"

	"github.com/poimarket/market-api/internal/database/migrations"
	"github.com/poimarket/market-api/internal/idempotency"
	"github.com/poimarket/market-api/internal/market"
	"github.com/poimarket/market-api/internal/reserve"
	"github.com/poimarket/market-api/internal/taxreport"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection.
// TranslateError is enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey; the idempotency guard depends on this.
func NewDatabase(path string, reserveAssets ...string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&market.Order{},
		&market.Trade{},
		&reserve.LedgerAction{},
		&reserve.Balance{},
		&taxreport.TaxReport{},
		&idempotency.Record{},
	)
	if err != nil {
		return nil, err
	}

	if err := migrations.AddMarketIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.SeedReserveBalances(db, reserveAssets...); err != nil {
		return nil, fmt.Errorf("failed to seed reserve balances: %w", err)
	}

	return db, nil
}
