package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position mirrors the brokerage's authoritative state for one symbol.
// AvgEntryPrice always comes from the account feed, never recomputed locally.
type Position struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol     string `gorm:"type:varchar(30);not null;uniqueIndex"`
	AssetClass string `gorm:"type:varchar(20);not null;index"`
	ModuleName string `gorm:"type:varchar(50);not null;index"`

	Quantity      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	AvgEntryPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	CurrentPrice  decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	// LadderRung is the highest profit-protection rung already taken, so a
	// rung fires once per position.
	LadderRung int `gorm:"not null;default:0"`

	Status   string     `gorm:"type:varchar(20);not null;default:'open';index"`
	OpenedAt time.Time  `gorm:"type:timestamptz;not null"`
	ClosedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}

// Notional is the current market value of the position.
func (p Position) Notional() decimal.Decimal {
	price := p.CurrentPrice
	if price.LessThanOrEqual(decimal.Zero) {
		price = p.AvgEntryPrice
	}
	return p.Quantity.Mul(price)
}

// UnrealizedPnLPct returns the fractional unrealized gain against entry.
func (p Position) UnrealizedPnLPct() decimal.Decimal {
	if p.AvgEntryPrice.LessThanOrEqual(decimal.Zero) || p.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.AvgEntryPrice).Div(p.AvgEntryPrice)
}
