package taxreport

import (
	"time"

	"gorm.io/gorm"
)

// TaxReport is an immutable sales/fee summary for a merchant's period.
// Amounts are recomputed from the order ledger at creation time and never
// supplied by the caller; a replay returns the stored report even if the
// underlying order data changed since.
type TaxReport struct {
	gorm.Model     `json:"-"`
	ReportID       string    `gorm:"uniqueIndex" json:"report_id"`
	MerchantID     string    `gorm:"uniqueIndex:idx_reports_merchant_key" json:"merchant_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	GrossSales     string    `json:"gross_sales"`
	PlatformFees   string    `json:"platform_fees"`
	NetAmount      string    `json:"net_amount"`
	TaxableAmount  string    `json:"taxable_amount"`
	IdempotencyKey string    `gorm:"uniqueIndex:idx_reports_merchant_key" json:"idempotency_key"`
	FileURL        string    `json:"file_url,omitempty"` // empty until generated
	CreatedAt      time.Time `json:"created_at"`
}

// GenerateReportRequest is the POST /tax-reports body. Periods are calendar
// dates in 2006-01-02 form.
type GenerateReportRequest struct {
	PeriodStart    string `json:"period_start"`
	PeriodEnd      string `json:"period_end"`
	IdempotencyKey string `json:"idempotency_key"`
}
