package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PortfolioSnapshot is the per-cycle view of account state, rebuilt from the
// brokerage feed every cycle rather than accumulated locally.
type PortfolioSnapshot struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	SnapshotAt time.Time `gorm:"type:timestamptz;not null;uniqueIndex"`

	TotalEquity decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Cash        decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	// ExposureByClass maps asset class -> current notional exposure.
	ExposureByClass datatypes.JSON `gorm:"type:jsonb"`

	OpenPositions    int             `gorm:"not null"`
	DailyRealizedPnL decimal.Decimal `gorm:"column:daily_realized_pnl;type:numeric(30,10);not null"`

	DataSource string `gorm:"type:varchar(20);not null;default:'live'"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}
