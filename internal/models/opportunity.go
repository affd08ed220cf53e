package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Opportunity is a candidate trade proposed by a strategy module. Immutable
// once recorded; one opportunity yields at most one order attempt.
type Opportunity struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	ModuleName string `gorm:"type:varchar(50);not null;index"`

	Symbol     string `gorm:"type:varchar(30);not null;index"`
	AssetClass string `gorm:"type:varchar(20);not null;index"`

	// Action is "enter" or "exit".
	Action string `gorm:"type:varchar(10);not null"`

	// ProposedNotional is the requested size in account currency.
	ProposedNotional decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Confidence  float64 `gorm:"not null"`
	StrategyTag string  `gorm:"type:varchar(50);index"`

	// ParamsSnapshot carries the module parameter values in effect when the
	// opportunity was produced, for later optimizer attribution.
	ParamsSnapshot datatypes.JSON `gorm:"type:jsonb"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"`

	// DataSource is "live" or "simulated"; simulated inputs must stay visible
	// on every downstream record.
	DataSource string `gorm:"type:varchar(20);not null;default:'live'"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Opportunity) TableName() string {
	return "opportunities"
}
