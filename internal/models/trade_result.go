package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TradeKindEntry = "entry"
	TradeKindExit  = "exit"
)

const (
	TradeStatusRejected  = "rejected"
	TradeStatusSubmitted = "submitted"
	TradeStatusFilled    = "filled"
	TradeStatusFailed    = "failed"
	TradeStatusCancelled = "cancelled"
)

// TradeResult is the append-only outcome record for one order attempt.
// Kind is explicit: callers must never infer the role of a result from which
// fields happen to be populated.
type TradeResult struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	OpportunityID uint64 `gorm:"not null;index"`
	Opportunity   Opportunity

	Kind   string `gorm:"type:varchar(10);not null;index"`
	Status string `gorm:"type:varchar(20);not null;index"`

	ModuleName string `gorm:"type:varchar(50);not null;index"`
	Symbol     string `gorm:"type:varchar(30);not null;index"`
	AssetClass string `gorm:"type:varchar(20);not null;index"`

	OrderID string `gorm:"type:varchar(64);index"`

	FilledQty   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	FilledPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	// RealizedPnL is set only on exit results, computed against the
	// authoritative average entry price at fill time. Entry results keep NULL.
	RealizedPnL *decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10)"`

	// Reason carries the risk rejection or exit trigger verbatim.
	Reason   string         `gorm:"type:varchar(80);index"`
	Metadata datatypes.JSON `gorm:"type:jsonb"`

	DataSource string `gorm:"type:varchar(20);not null;default:'live'"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (TradeResult) TableName() string {
	return "trade_results"
}

// Successful applies the kind-specific success rule: an entry succeeds when it
// fills; an exit succeeds only when it fills with positive realized P&L.
func (r TradeResult) Successful() bool {
	if r.Status != TradeStatusFilled {
		return false
	}
	if r.Kind == TradeKindExit {
		return r.RealizedPnL != nil && r.RealizedPnL.GreaterThan(decimal.Zero)
	}
	return true
}
