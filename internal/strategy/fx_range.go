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
	fxRangeName = "fx_range"

	paramBandZ = "band_z"
)

// FXRange is a mean-reversion module: it enters when price dips more than
// band_z standard deviations below the rolling mean, betting on a revert.
type FXRange struct {
	Quotes    broker.Quoter
	Params    *params.Store
	Logger    *zap.Logger
	Watchlist []string

	history *priceHistory
}

func NewFXRange(quotes broker.Quoter, ps *params.Store, logger *zap.Logger, symbols []string) *FXRange {
	return &FXRange{
		Quotes:    quotes,
		Params:    ps,
		Logger:    logger,
		Watchlist: symbols,
		history:   newPriceHistory(),
	}
}

func (s *FXRange) Name() string       { return fxRangeName }
func (s *FXRange) AssetClass() string { return "fx" }
func (s *FXRange) Symbols() []string  { return s.Watchlist }

func (s *FXRange) Declarations() []models.ParameterRecord {
	return []models.ParameterRecord{
		{
			ModuleName: fxRangeName,
			Name:       paramBandZ,
			Value:      1.5,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.5,
			MaxBound:   3.0,
		},
		{
			ModuleName: fxRangeName,
			Name:       paramProposedEquityPct,
			Value:      0.04,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.01,
			MaxBound:   0.10,
		},
	}
}

func (s *FXRange) Analyze(ctx context.Context, snap risk.Snapshot) ([]models.Opportunity, error) {
	if s == nil || s.Quotes == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.history.observe(s.Quotes, s.Watchlist)

	bandZ := s.Params.Value(fxRangeName, paramBandZ, 1.5)
	equityPct := s.Params.Value(fxRangeName, paramProposedEquityPct, 0.04)
	now := time.Now().UTC()

	var out []models.Opportunity
	for _, sym := range s.Watchlist {
		series := s.history.window(sym, 40)
		if series == nil {
			continue
		}
		last := series[len(series)-1]
		m := mean(series)
		sd := stddev(series)
		if sd <= 0 || m <= 0 {
			continue
		}
		z := (m - last) / sd
		if z < bandZ {
			continue
		}
		confidence := clamp01(0.45 + 0.2*(z-bandZ))
		meta, _ := json.Marshal(map[string]any{
			"mean":   m,
			"stddev": sd,
			"z":      z,
			"price":  last,
		})
		out = append(out, models.Opportunity{
			ModuleName:       fxRangeName,
			Symbol:           sym,
			AssetClass:       s.AssetClass(),
			Action:           "enter",
			ProposedNotional: snap.TotalEquity.Mul(decimal.NewFromFloat(equityPct)),
			Confidence:       confidence,
			StrategyTag:      fmt.Sprintf("revert_z_%.2f", z),
			Metadata:         datatypes.JSON(meta),
			DataSource:       snap.DataSource,
			CreatedAt:        now,
		})
	}
	return out, nil
}

// Monitor tracks the revert thesis: entries happen at z >= band_z below the
// mean, so a z back at zero means the revert completed and a negative z means
// price overshot the mean entirely.
func (s *FXRange) Monitor(ctx context.Context, positions []models.Position) map[string]float64 {
	if s == nil || len(positions) == 0 {
		return nil
	}
	bandZ := s.Params.Value(fxRangeName, paramBandZ, 1.5)
	if bandZ <= 0 {
		return nil
	}
	out := map[string]float64{}
	for _, pos := range positions {
		series := s.history.window(pos.Symbol, 40)
		if series == nil {
			continue
		}
		last := series[len(series)-1]
		m := mean(series)
		sd := stddev(series)
		if sd <= 0 || m <= 0 {
			continue
		}
		z := (m - last) / sd
		out[pos.Symbol] = clamp01(0.5 - 0.5*z/bandZ)
	}
	return out
}

var _ Module = (*FXRange)(nil)
