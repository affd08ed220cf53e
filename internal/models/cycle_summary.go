package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CycleSummary is the persisted per-cycle report surfaced to operators.
type CycleSummary struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	StartedAt  time.Time `gorm:"type:timestamptz;not null;index"`
	FinishedAt time.Time `gorm:"type:timestamptz;not null"`

	Opportunities   int `gorm:"not null;default:0"`
	OrdersSubmitted int `gorm:"not null;default:0"`
	OrdersFilled    int `gorm:"not null;default:0"`
	ExitsTriggered  int `gorm:"not null;default:0"`
	Rejections      int `gorm:"not null;default:0"`

	// SkippedModules lists modules skipped this cycle with reasons.
	SkippedModules datatypes.JSON `gorm:"type:jsonb"`
	Degraded       bool           `gorm:"not null;index"`

	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	DataSource string `gorm:"type:varchar(20);not null;default:'live'"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (CycleSummary) TableName() string {
	return "cycle_summaries"
}
