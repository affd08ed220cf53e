package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSimulatedFillsAtQuote(t *testing.T) {
	sim := NewSimulated(decimal.NewFromInt(100000))
	sim.SetQuote("BTC-USD", "crypto", decimal.NewFromInt(100))

	id, err := sim.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "c-1",
		Symbol:        "BTC-USD",
		Side:          SideBuy,
		Quantity:      decimal.NewFromInt(20),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	state, err := sim.GetOrderStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.Status != OrderStatusFilled {
		t.Fatalf("status = %s, want filled", state.Status)
	}
	if !state.FilledAvgPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("fill price = %s, want 100", state.FilledAvgPrice)
	}
	if !state.FilledQty.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("fill qty = %s, want 20", state.FilledQty)
	}

	acct, err := sim.AccountState(context.Background())
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.DataSource != DataSourceSimulated {
		t.Fatalf("data source = %s, want simulated", acct.DataSource)
	}
	if !acct.Cash.Equal(decimal.NewFromInt(98000)) {
		t.Fatalf("cash = %s, want 98000", acct.Cash)
	}
	// Position marked at the quote, so equity is unchanged by the fill.
	if !acct.Equity.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("equity = %s, want 100000", acct.Equity)
	}
	if len(acct.Positions) != 1 || acct.Positions[0].AssetClass != "crypto" {
		t.Fatalf("positions = %+v, want one crypto position", acct.Positions)
	}
}

func TestSimulatedIdempotentOnClientOrderID(t *testing.T) {
	sim := NewSimulated(decimal.NewFromInt(100000))
	sim.SetQuote("SPY", "equity", decimal.NewFromInt(400))

	req := OrderRequest{
		ClientOrderID: "retry-1",
		Symbol:        "SPY",
		Side:          SideBuy,
		Quantity:      decimal.NewFromInt(5),
	}
	first, err := sim.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := sim.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first != second {
		t.Fatalf("retry created a new order: %s vs %s", first, second)
	}
	acct, err := sim.AccountState(context.Background())
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !acct.Positions[0].Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("qty = %s, retry double-filled", acct.Positions[0].Quantity)
	}
}

func TestSimulatedRejectsWithoutQuote(t *testing.T) {
	sim := NewSimulated(decimal.NewFromInt(100000))

	id, err := sim.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "c-2",
		Symbol:        "UNKNOWN",
		Side:          SideBuy,
		Quantity:      decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	state, err := sim.GetOrderStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.Status != OrderStatusRejected {
		t.Fatalf("status = %s, want rejected", state.Status)
	}
}

func TestSimulatedSellRealizesCash(t *testing.T) {
	sim := NewSimulated(decimal.NewFromInt(100000))
	sim.SetQuote("EUR-USD", "fx", decimal.NewFromInt(100))

	if _, err := sim.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "buy", Symbol: "EUR-USD", Side: SideBuy, Quantity: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	sim.SetQuote("EUR-USD", "fx", decimal.NewFromInt(110))
	if _, err := sim.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "sell", Symbol: "EUR-USD", Side: SideSell, Quantity: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}

	acct, err := sim.AccountState(context.Background())
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if len(acct.Positions) != 0 {
		t.Fatalf("positions = %+v, want flat", acct.Positions)
	}
	if !acct.Cash.Equal(decimal.NewFromInt(100100)) {
		t.Fatalf("cash = %s, want 100100", acct.Cash)
	}
}

type slowGateway struct {
	states []OrderState
	calls  int
}

func (g *slowGateway) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	return "slow-1", nil
}

func (g *slowGateway) GetOrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	state := g.states[g.calls]
	if g.calls < len(g.states)-1 {
		g.calls++
	}
	return state, nil
}

func TestWaitForTerminalPollsUntilFilled(t *testing.T) {
	gw := &slowGateway{states: []OrderState{
		{OrderID: "slow-1", Status: OrderStatusNew},
		{OrderID: "slow-1", Status: OrderStatusPartiallyFilled},
		{OrderID: "slow-1", Status: OrderStatusFilled, FilledQty: decimal.NewFromInt(3), FilledAvgPrice: decimal.NewFromInt(50)},
	}}
	state, err := WaitForTerminal(context.Background(), gw, "slow-1", time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if state.Status != OrderStatusFilled {
		t.Fatalf("status = %s, want filled", state.Status)
	}
	if !state.FilledAvgPrice.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("fill price = %s, want 50", state.FilledAvgPrice)
	}
}

func TestWaitForTerminalTimesOut(t *testing.T) {
	gw := &slowGateway{states: []OrderState{{OrderID: "slow-1", Status: OrderStatusNew}}}
	state, err := WaitForTerminal(context.Background(), gw, "slow-1", time.Millisecond, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if state.Terminal() {
		t.Fatalf("state = %+v, want non-terminal", state)
	}
}
