package db

import (
	"autotrader/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Opportunity{},
		&models.TradeResult{},
		&models.Position{},
		&models.PortfolioSnapshot{},
		&models.ParameterRecord{},
		&models.ParameterUpdate{},
		&models.CycleSummary{},
		&models.ModuleDailyStats{},
		&models.SystemSetting{},
	)
}
