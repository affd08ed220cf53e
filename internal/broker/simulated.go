package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Simulated is an in-process gateway and account feed used when no real
// brokerage is configured. Every AccountState it serves carries
// DataSourceSimulated so downstream records stay distinguishable from real
// executions.
type Simulated struct {
	mu sync.Mutex

	cash      decimal.Decimal
	quotes    map[string]decimal.Decimal
	classes   map[string]string
	positions map[string]BrokerPosition
	orders    map[string]OrderState
	byClient  map[string]string

	seq int
}

func NewSimulated(startingCash decimal.Decimal) *Simulated {
	return &Simulated{
		cash:      startingCash,
		quotes:    map[string]decimal.Decimal{},
		classes:   map[string]string{},
		positions: map[string]BrokerPosition{},
		orders:    map[string]OrderState{},
		byClient:  map[string]string{},
	}
}

// SetQuote sets the current price for a symbol and registers its asset class.
func (s *Simulated) SetQuote(symbol, assetClass string, price decimal.Decimal) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = price
	s.classes[symbol] = strings.ToLower(strings.TrimSpace(assetClass))
}

func (s *Simulated) Quote(symbol string) (decimal.Decimal, bool) {
	if s == nil {
		return decimal.Zero, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.quotes[symbol]
	return price, ok
}

func (s *Simulated) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	if s == nil {
		return "", fmt.Errorf("simulated gateway is nil")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ClientOrderID != "" {
		if existing, ok := s.byClient[req.ClientOrderID]; ok {
			return existing, nil
		}
	}
	price, ok := s.quotes[req.Symbol]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		s.seq++
		id := fmt.Sprintf("sim-%d", s.seq)
		s.orders[id] = OrderState{OrderID: id, Status: OrderStatusRejected, UpdatedAt: time.Now().UTC()}
		if req.ClientOrderID != "" {
			s.byClient[req.ClientOrderID] = id
		}
		return id, nil
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("quantity must be positive")
	}

	s.seq++
	id := fmt.Sprintf("sim-%d", s.seq)
	s.fill(id, req, price)
	if req.ClientOrderID != "" {
		s.byClient[req.ClientOrderID] = id
	}
	return id, nil
}

func (s *Simulated) fill(id string, req OrderRequest, price decimal.Decimal) {
	now := time.Now().UTC()
	s.orders[id] = OrderState{
		OrderID:        id,
		Status:         OrderStatusFilled,
		FilledQty:      req.Quantity,
		FilledAvgPrice: price,
		UpdatedAt:      now,
	}

	pos := s.positions[req.Symbol]
	pos.Symbol = req.Symbol
	pos.AssetClass = s.classes[req.Symbol]
	notional := req.Quantity.Mul(price)
	if strings.EqualFold(req.Side, SideBuy) {
		total := pos.Quantity.Add(req.Quantity)
		if total.GreaterThan(decimal.Zero) {
			cost := pos.AvgEntryPrice.Mul(pos.Quantity).Add(notional)
			pos.AvgEntryPrice = cost.Div(total)
		}
		pos.Quantity = total
		s.cash = s.cash.Sub(notional)
	} else {
		pos.Quantity = pos.Quantity.Sub(req.Quantity)
		s.cash = s.cash.Add(notional)
	}
	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		delete(s.positions, req.Symbol)
		return
	}
	s.positions[req.Symbol] = pos
}

func (s *Simulated) GetOrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	if s == nil {
		return OrderState{}, fmt.Errorf("simulated gateway is nil")
	}
	if err := ctx.Err(); err != nil {
		return OrderState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.orders[orderID]
	if !ok {
		return OrderState{}, fmt.Errorf("unknown order %s", orderID)
	}
	return state, nil
}

func (s *Simulated) AccountState(ctx context.Context) (AccountState, error) {
	if s == nil {
		return AccountState{}, fmt.Errorf("simulated gateway is nil")
	}
	if err := ctx.Err(); err != nil {
		return AccountState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := AccountState{
		Cash:       s.cash,
		Equity:     s.cash,
		DataSource: DataSourceSimulated,
		AsOf:       time.Now().UTC(),
	}
	for _, pos := range s.positions {
		out.Positions = append(out.Positions, pos)
		if price, ok := s.quotes[pos.Symbol]; ok {
			out.Equity = out.Equity.Add(pos.Quantity.Mul(price))
		} else {
			out.Equity = out.Equity.Add(pos.Quantity.Mul(pos.AvgEntryPrice))
		}
	}
	return out, nil
}

var (
	_ OrderGateway = (*Simulated)(nil)
	_ AccountFeed  = (*Simulated)(nil)
	_ Quoter       = (*Simulated)(nil)
)
