package strategy

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"autotrader/internal/broker"
)

const maxHistory = 512

// priceHistory is a per-symbol rolling window of observed quotes. Modules
// append one observation per cycle from the shared quoter.
type priceHistory struct {
	mu     sync.Mutex
	series map[string][]float64
}

func newPriceHistory() *priceHistory {
	return &priceHistory{series: map[string][]float64{}}
}

func (h *priceHistory) observe(quotes broker.Quoter, symbols []string) {
	if h == nil || quotes == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sym := range symbols {
		price, ok := quotes.Quote(sym)
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		s := append(h.series[sym], price.InexactFloat64())
		if len(s) > maxHistory {
			s = s[len(s)-maxHistory:]
		}
		h.series[sym] = s
	}
}

// window returns the most recent n observations, oldest first, or nil when
// fewer than n exist.
func (h *priceHistory) window(symbol string, n int) []float64 {
	if h == nil || n <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.series[symbol]
	if len(s) < n {
		return nil
	}
	out := make([]float64, n)
	copy(out, s[len(s)-n:])
	return out
}

func (h *priceHistory) last(symbol string) (float64, bool) {
	if h == nil {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.series[symbol]
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}
