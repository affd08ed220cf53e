package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// DailyStatsService rolls trade results up into per-module daily rows.
type DailyStatsService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Flags  *SystemSettingsService
}

func (s *DailyStatsService) Run(ctx context.Context, interval time.Duration) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("daily stats run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

type dailyAccumulator struct {
	trades    int
	wins      int
	losses    int
	pnl       decimal.Decimal
	confSum   float64
	confCount int
}

func (s *DailyStatsService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureDailyStats, true) {
		return nil
	}
	now := time.Now().UTC()
	since := now.Add(-30 * 24 * time.Hour)

	asc := true
	const page = 500
	acc := map[string]map[string]*dailyAccumulator{}
	for offset := 0; ; offset += page {
		trades, err := s.Repo.ListTradeResults(ctx, repository.ListTradeResultsParams{
			Limit:           page,
			Offset:          offset,
			Since:           &since,
			OrderBy:         "created_at",
			Asc:             &asc,
			WithOpportunity: true,
		})
		if err != nil {
			return err
		}
		for _, tr := range trades {
			if tr.Kind != models.TradeKindExit || tr.Status != models.TradeStatusFilled {
				continue
			}
			day := tr.CreatedAt.UTC().Format("2006-01-02")
			if acc[tr.ModuleName] == nil {
				acc[tr.ModuleName] = map[string]*dailyAccumulator{}
			}
			a := acc[tr.ModuleName][day]
			if a == nil {
				a = &dailyAccumulator{}
				acc[tr.ModuleName][day] = a
			}
			a.trades++
			if tr.RealizedPnL != nil {
				a.pnl = a.pnl.Add(*tr.RealizedPnL)
				if tr.RealizedPnL.GreaterThan(decimal.Zero) {
					a.wins++
				} else {
					a.losses++
				}
			}
			if tr.Opportunity.ID != 0 {
				a.confSum += tr.Opportunity.Confidence
				a.confCount++
			}
		}
		if len(trades) < page {
			break
		}
	}

	for module, days := range acc {
		for day, a := range days {
			date, err := time.Parse("2006-01-02", day)
			if err != nil {
				continue
			}
			avgConf := 0.0
			if a.confCount > 0 {
				avgConf = a.confSum / float64(a.confCount)
			}
			item := &models.ModuleDailyStats{
				ModuleName:    module,
				Date:          date,
				TradesCount:   a.trades,
				WinCount:      a.wins,
				LossCount:     a.losses,
				PnL:           a.pnl,
				AvgConfidence: decimal.NewFromFloat(avgConf),
			}
			if err := s.Repo.UpsertModuleDailyStats(ctx, item); err != nil {
				return err
			}
		}
	}
	if s.Logger != nil {
		s.Logger.Info("daily stats rebuilt", zap.Int("modules", len(acc)))
	}
	return nil
}
