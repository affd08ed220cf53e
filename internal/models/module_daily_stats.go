package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ModuleDailyStats struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ModuleName string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_module_daily;index"`
	Date       time.Time `gorm:"type:date;not null;uniqueIndex:idx_module_daily;index"`

	TradesCount int `gorm:"not null;default:0"`
	WinCount    int `gorm:"not null;default:0"`
	LossCount   int `gorm:"not null;default:0"`

	PnL           decimal.Decimal `gorm:"column:pnl;type:numeric(30,10);not null;default:0"`
	AvgConfidence decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	AvgHoldHours  decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ModuleDailyStats) TableName() string {
	return "module_daily_stats"
}
