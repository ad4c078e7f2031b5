package migrations

import (
	"github.com/poimarket/market-api/internal/reserve"
	"gorm.io/gorm"
)

// SeedReserveBalances ensures a zero balance row exists for the assets the
// reserve pool trades, so balance reads and adjustments always find a row.
func SeedReserveBalances(db *gorm.DB, assets ...string) error {
	for _, asset := range assets {
		var count int64
		if err := db.Model(&reserve.Balance{}).Where("asset = ?", asset).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&reserve.Balance{Asset: asset, Amount: "0"}).Error; err != nil {
			return err
		}
	}
	return nil
}
