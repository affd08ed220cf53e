package broker

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DataSourceLive      = "live"
	DataSourceSimulated = "simulated"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	OrderStatusNew             = "new"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
	OrderStatusExpired         = "expired"
)

// OrderRequest is a single order attempt. ClientOrderID is the caller's
// idempotency token; resubmitting with the same ID must not double-fill.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	OrderType     string
}

type OrderState struct {
	OrderID        string
	Status         string
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	UpdatedAt      time.Time
}

// Terminal reports whether the order reached a state that will not change.
func (s OrderState) Terminal() bool {
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

type BrokerPosition struct {
	Symbol        string
	AssetClass    string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
}

// AccountState is the authoritative account view from the brokerage.
type AccountState struct {
	Equity     decimal.Decimal
	Cash       decimal.Decimal
	Positions  []BrokerPosition
	DataSource string
	AsOf       time.Time
}
