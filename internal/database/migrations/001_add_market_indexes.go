package migrations

import (
	"gorm.io/gorm"
)

// AddMarketIndexes creates the query-path indexes the aggregator and the
// settlement processor depend on.
func AddMarketIndexes(db *gorm.DB) error {
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for pair scans on pending orders
		`CREATE INDEX IF NOT EXISTS idx_orders_status_tokens
		 ON orders(status, token_in, token_out)`,

		// Index for owner-scoped listings
		`CREATE INDEX IF NOT EXISTS idx_orders_owner_status
		 ON orders(owner_id, status)`,

		// Index for time-window trade queries
		`CREATE INDEX IF NOT EXISTS idx_trades_executed_at
		 ON trades(executed_at)`,

		// Composite index for pair-scoped trade queries
		`CREATE INDEX IF NOT EXISTS idx_trades_tokens
		 ON trades(token_in, token_out)`,

		// Index for the settlement processor's pending-action scan
		`CREATE INDEX IF NOT EXISTS idx_ledger_actions_status
		 ON ledger_actions(status)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
