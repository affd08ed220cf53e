package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type quoteEnvelope struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type QuoteStreamOptions struct {
	URL        string
	Symbols    []string
	BackoffMin time.Duration
	BackoffMax time.Duration
	Logger     *zap.Logger
}

// QuoteStream keeps a live price cache from the brokerage market-data
// websocket, reconnecting with jittered backoff.
type QuoteStream struct {
	opts QuoteStreamOptions

	mu     sync.RWMutex
	quotes map[string]decimal.Decimal
}

func NewQuoteStream(opts QuoteStreamOptions) *QuoteStream {
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &QuoteStream{
		opts:   opts,
		quotes: map[string]decimal.Decimal{},
	}
}

func (s *QuoteStream) Quote(symbol string) (decimal.Decimal, bool) {
	if s == nil {
		return decimal.Zero, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.quotes[symbol]
	return price, ok
}

func (s *QuoteStream) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("quote stream is nil")
	}
	if strings.TrimSpace(s.opts.URL) == "" {
		return fmt.Errorf("quote stream url is empty")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
		if err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("quote stream connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		conn.SetReadLimit(1 << 20)
		if err := s.subscribe(ctx, conn); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("quote stream subscribe failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("quote stream connected", zap.Int("symbols", len(s.opts.Symbols)))
		}
		backoff = s.opts.BackoffMin

		err = s.consume(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("quote stream read failed", zap.Error(err))
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *QuoteStream) subscribe(ctx context.Context, conn *websocket.Conn) error {
	payload, err := json.Marshal(map[string]any{
		"action":      "subscribe",
		"trades":      s.opts.Symbols,
		"quotes":      s.opts.Symbols,
		"minute_bars": []string{},
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (s *QuoteStream) consume(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env quoteEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Symbol == "" || env.Price == "" {
			continue
		}
		price, err := decimal.NewFromString(env.Price)
		if err != nil || price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		s.mu.Lock()
		s.quotes[env.Symbol] = price
		s.mu.Unlock()
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Quoter = (*QuoteStream)(nil)
