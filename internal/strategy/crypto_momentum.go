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
	cryptoMomentumName = "crypto_momentum"

	paramMomentumThreshold = "momentum_threshold"
	paramMinConfidence     = "min_confidence"
	paramProposedEquityPct = "proposed_equity_pct"
)

// CryptoMomentum enters when the short moving average runs ahead of the long
// one by more than the momentum threshold. Confidence scales with how far the
// spread exceeds the threshold.
type CryptoMomentum struct {
	Quotes    broker.Quoter
	Params    *params.Store
	Logger    *zap.Logger
	Watchlist []string

	history *priceHistory
}

func NewCryptoMomentum(quotes broker.Quoter, ps *params.Store, logger *zap.Logger, symbols []string) *CryptoMomentum {
	return &CryptoMomentum{
		Quotes:    quotes,
		Params:    ps,
		Logger:    logger,
		Watchlist: symbols,
		history:   newPriceHistory(),
	}
}

func (s *CryptoMomentum) Name() string       { return cryptoMomentumName }
func (s *CryptoMomentum) AssetClass() string { return "crypto" }
func (s *CryptoMomentum) Symbols() []string  { return s.Watchlist }

func (s *CryptoMomentum) Declarations() []models.ParameterRecord {
	return []models.ParameterRecord{
		{
			ModuleName: cryptoMomentumName,
			Name:       paramMomentumThreshold,
			Value:      0.01,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.002,
			MaxBound:   0.05,
		},
		{
			ModuleName:    cryptoMomentumName,
			Name:          paramMinConfidence,
			Value:         0.45,
			ValueType:     models.ParamTypeDiscrete,
			AllowedValues: datatypes.JSON([]byte(`[0.45, 0.6, 0.75]`)),
		},
		{
			ModuleName: cryptoMomentumName,
			Name:       paramProposedEquityPct,
			Value:      0.05,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.01,
			MaxBound:   0.15,
		},
	}
}

func (s *CryptoMomentum) Analyze(ctx context.Context, snap risk.Snapshot) ([]models.Opportunity, error) {
	if s == nil || s.Quotes == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.history.observe(s.Quotes, s.Watchlist)

	threshold := s.Params.Value(cryptoMomentumName, paramMomentumThreshold, 0.01)
	minConf := s.Params.Value(cryptoMomentumName, paramMinConfidence, 0.45)
	equityPct := s.Params.Value(cryptoMomentumName, paramProposedEquityPct, 0.05)
	now := time.Now().UTC()

	var out []models.Opportunity
	for _, sym := range s.Watchlist {
		long := s.history.window(sym, 30)
		if long == nil {
			continue
		}
		short := long[len(long)-8:]
		longMA := mean(long)
		if longMA <= 0 {
			continue
		}
		spread := (mean(short) - longMA) / longMA
		if spread < threshold {
			continue
		}
		// Saturate confidence at twice the threshold above it.
		confidence := clamp01(0.5 + 0.5*(spread-threshold)/(2*threshold))
		if confidence < minConf {
			continue
		}
		price, _ := s.history.last(sym)
		meta, _ := json.Marshal(map[string]any{
			"spread":    spread,
			"threshold": threshold,
			"price":     price,
		})
		out = append(out, models.Opportunity{
			ModuleName:       cryptoMomentumName,
			Symbol:           sym,
			AssetClass:       s.AssetClass(),
			Action:           "enter",
			ProposedNotional: snap.TotalEquity.Mul(decimal.NewFromFloat(equityPct)),
			Confidence:       confidence,
			StrategyTag:      fmt.Sprintf("momentum_%.4f", spread),
			Metadata:         datatypes.JSON(meta),
			DataSource:       snap.DataSource,
			CreatedAt:        now,
		})
	}
	if len(out) > 0 && s.Logger != nil {
		s.Logger.Debug("momentum opportunities", zap.Int("count", len(out)))
	}
	return out, nil
}

// Monitor reads the same moving-average spread as Analyze: a spread at or
// below -threshold is a confirmed reversal, a spread back at +threshold means
// the move is intact.
func (s *CryptoMomentum) Monitor(ctx context.Context, positions []models.Position) map[string]float64 {
	if s == nil || len(positions) == 0 {
		return nil
	}
	threshold := s.Params.Value(cryptoMomentumName, paramMomentumThreshold, 0.01)
	if threshold <= 0 {
		return nil
	}
	out := map[string]float64{}
	for _, pos := range positions {
		long := s.history.window(pos.Symbol, 30)
		if long == nil {
			continue
		}
		longMA := mean(long)
		if longMA <= 0 {
			continue
		}
		spread := (mean(long[len(long)-8:]) - longMA) / longMA
		out[pos.Symbol] = clamp01(0.5 - 0.5*spread/threshold)
	}
	return out
}

var _ Module = (*CryptoMomentum)(nil)
