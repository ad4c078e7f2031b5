package taxreport

import (
	"errors"
	"time"

	"github.com/poimarket/market-api/internal/idempotency"
	"github.com/poimarket/market-api/internal/market"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateReportWithIdempotency creates the report row and its idempotency
// record in one transaction.
func (d *Database) CreateReportWithIdempotency(report *TaxReport, guard *idempotency.Guard, commandType, key string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(report).Error; err != nil {
			return err
		}
		return guard.Register(tx, report.MerchantID, commandType, key, report.ReportID)
	})
}

func (d *Database) GetReport(reportID string) (*TaxReport, error) {
	var report TaxReport
	if err := d.db.Where("report_id = ?", reportID).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// SettledOrdersInPeriod returns the merchant's FILLED and PARTIAL orders
// whose settlement fell inside [start, end), judged by updated_at since the
// terminal transition is the row's last write.
func (d *Database) SettledOrdersInPeriod(merchantID string, start, end time.Time) ([]market.Order, error) {
	var orders []market.Order
	err := d.db.Where(
		"owner_id = ? AND status IN ? AND updated_at >= ? AND updated_at < ?",
		merchantID, []string{market.StatusFilled, market.StatusPartial}, start, end,
	).Find(&orders).Error
	return orders, err
}

// ReportsWithoutFile returns reports whose file has not been generated yet.
func (d *Database) ReportsWithoutFile() ([]TaxReport, error) {
	var reports []TaxReport
	err := d.db.Where("file_url = ?", "").Find(&reports).Error
	return reports, err
}

// SetFileURL records the generated report file location, once.
func (d *Database) SetFileURL(reportID, fileURL string) error {
	return d.db.Model(&TaxReport{}).
		Where("report_id = ? AND file_url = ?", reportID, "").
		Update("file_url", fileURL).Error
}
