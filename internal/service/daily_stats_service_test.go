package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

type statsStubRepo struct {
	repository.Repository

	trades   []models.TradeResult
	upserted []models.ModuleDailyStats
}

func (s *statsStubRepo) ListTradeResults(ctx context.Context, p repository.ListTradeResultsParams) ([]models.TradeResult, error) {
	if p.Offset > 0 {
		return nil, nil
	}
	return s.trades, nil
}

func (s *statsStubRepo) UpsertModuleDailyStats(ctx context.Context, item *models.ModuleDailyStats) error {
	s.upserted = append(s.upserted, *item)
	return nil
}

func filledExit(module string, at time.Time, pnl float64, confidence float64) models.TradeResult {
	realized := decimal.NewFromFloat(pnl)
	return models.TradeResult{
		Kind:        models.TradeKindExit,
		Status:      models.TradeStatusFilled,
		ModuleName:  module,
		RealizedPnL: &realized,
		CreatedAt:   at,
		Opportunity: models.Opportunity{ID: 1, Confidence: confidence},
	}
}

func TestDailyStatsAggregatesPerModuleDay(t *testing.T) {
	at := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	repo := &statsStubRepo{trades: []models.TradeResult{
		filledExit("crypto_momentum", at, 10, 0.5),
		filledExit("crypto_momentum", at.Add(time.Hour), -5, 0.75),
		filledExit("crypto_momentum", at.Add(2*time.Hour), 20, 1.0),
		// Entries and unfilled exits never count.
		{Kind: models.TradeKindEntry, Status: models.TradeStatusFilled, ModuleName: "crypto_momentum", CreatedAt: at},
		{Kind: models.TradeKindExit, Status: models.TradeStatusFailed, ModuleName: "crypto_momentum", CreatedAt: at},
	}}
	svc := &DailyStatsService{Repo: repo}

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("expected one daily row, got %d", len(repo.upserted))
	}
	row := repo.upserted[0]
	if row.ModuleName != "crypto_momentum" || row.Date.Format("2006-01-02") != "2026-08-20" {
		t.Fatalf("unexpected row key %+v", row)
	}
	if row.TradesCount != 3 || row.WinCount != 2 || row.LossCount != 1 {
		t.Fatalf("unexpected counts %+v", row)
	}
	if !row.PnL.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected pnl 25, got %s", row.PnL)
	}
	if !row.AvgConfidence.Equal(decimal.NewFromFloat(0.75)) {
		t.Fatalf("expected avg confidence 0.75, got %s", row.AvgConfidence)
	}
}
