package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"autotrader/internal/broker"
	"autotrader/internal/models"
	"autotrader/internal/params"
	"autotrader/internal/risk"
)

const (
	equityTrendName = "equity_trend"

	paramBreakoutPct = "breakout_pct"
	paramTrendWindow = "trend_window"
)

// EquityTrend enters on a breakout above the rolling high of the lookback
// window. The window length itself is a discrete tunable.
type EquityTrend struct {
	Quotes    broker.Quoter
	Params    *params.Store
	Logger    *zap.Logger
	Watchlist []string

	history *priceHistory
}

func NewEquityTrend(quotes broker.Quoter, ps *params.Store, logger *zap.Logger, symbols []string) *EquityTrend {
	return &EquityTrend{
		Quotes:    quotes,
		Params:    ps,
		Logger:    logger,
		Watchlist: symbols,
		history:   newPriceHistory(),
	}
}

func (s *EquityTrend) Name() string       { return equityTrendName }
func (s *EquityTrend) AssetClass() string { return "equity" }
func (s *EquityTrend) Symbols() []string  { return s.Watchlist }

func (s *EquityTrend) Declarations() []models.ParameterRecord {
	return []models.ParameterRecord{
		{
			ModuleName: equityTrendName,
			Name:       paramBreakoutPct,
			Value:      0.005,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.001,
			MaxBound:   0.03,
		},
		{
			ModuleName:    equityTrendName,
			Name:          paramTrendWindow,
			Value:         20,
			ValueType:     models.ParamTypeDiscrete,
			AllowedValues: datatypes.JSON([]byte(`[10, 20, 40]`)),
		},
		{
			ModuleName: equityTrendName,
			Name:       paramProposedEquityPct,
			Value:      0.05,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.01,
			MaxBound:   0.20,
		},
	}
}

func (s *EquityTrend) Analyze(ctx context.Context, snap risk.Snapshot) ([]models.Opportunity, error) {
	if s == nil || s.Quotes == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.history.observe(s.Quotes, s.Watchlist)

	breakout := s.Params.Value(equityTrendName, paramBreakoutPct, 0.005)
	window := int(s.Params.Value(equityTrendName, paramTrendWindow, 20))
	if window < 2 {
		window = 20
	}
	equityPct := s.Params.Value(equityTrendName, paramProposedEquityPct, 0.05)
	now := time.Now().UTC()

	var out []models.Opportunity
	for _, sym := range s.Watchlist {
		series := s.history.window(sym, window+1)
		if series == nil {
			continue
		}
		last := series[len(series)-1]
		prior := series[:len(series)-1]
		high := prior[0]
		for _, v := range prior {
			if v > high {
				high = v
			}
		}
		if high <= 0 {
			continue
		}
		over := (last - high) / high
		if over < breakout {
			continue
		}
		confidence := clamp01(0.5 + 0.5*over/(3*breakout))
		meta, _ := json.Marshal(map[string]any{
			"rolling_high": high,
			"price":        last,
			"window":       window,
		})
		out = append(out, models.Opportunity{
			ModuleName:       equityTrendName,
			Symbol:           sym,
			AssetClass:       s.AssetClass(),
			Action:           "enter",
			ProposedNotional: snap.TotalEquity.Mul(decimal.NewFromFloat(equityPct)),
			Confidence:       confidence,
			StrategyTag:      fmt.Sprintf("breakout_%.4f", over),
			Metadata:         datatypes.JSON(meta),
			DataSource:       snap.DataSource,
			CreatedAt:        now,
		})
	}
	return out, nil
}

// Monitor reports how far price has pulled back from the rolling high: at the
// high the trend is intact, three breakout-widths below it the breakout is
// considered failed.
func (s *EquityTrend) Monitor(ctx context.Context, positions []models.Position) map[string]float64 {
	if s == nil || len(positions) == 0 {
		return nil
	}
	breakout := s.Params.Value(equityTrendName, paramBreakoutPct, 0.005)
	window := int(s.Params.Value(equityTrendName, paramTrendWindow, 20))
	if breakout <= 0 || window < 2 {
		return nil
	}
	out := map[string]float64{}
	for _, pos := range positions {
		series := s.history.window(pos.Symbol, window)
		if series == nil {
			continue
		}
		last := series[len(series)-1]
		high := series[0]
		for _, v := range series {
			if v > high {
				high = v
			}
		}
		if high <= 0 {
			continue
		}
		depth := (high - last) / high
		out[pos.Symbol] = clamp01(depth / (3 * breakout))
	}
	return out
}

var _ Module = (*EquityTrend)(nil)
