package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderGateway is the brokerage order surface.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)
}

// AccountFeed is the authoritative account/position source, refreshed every
// cycle. Implementations must never return locally-accumulated state.
type AccountFeed interface {
	AccountState(ctx context.Context) (AccountState, error)
}

// Quoter serves the latest known price for a symbol.
type Quoter interface {
	Quote(symbol string) (decimal.Decimal, bool)
}

// WaitForTerminal polls order status until the order reaches a terminal
// state. Recording a trade result from the pre-submission quote instead of
// the reported fill is forbidden; this is the only supported path to a fill
// price.
func WaitForTerminal(ctx context.Context, gw OrderGateway, orderID string, interval, timeout time.Duration) (OrderState, error) {
	if gw == nil {
		return OrderState{}, fmt.Errorf("order gateway is nil")
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		state, err := gw.GetOrderStatus(ctx, orderID)
		if err == nil && state.Terminal() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return OrderState{}, fmt.Errorf("order %s status poll: %w", orderID, err)
			}
			return state, fmt.Errorf("order %s not terminal before deadline: %w", orderID, ctx.Err())
		case <-t.C:
		}
	}
}
