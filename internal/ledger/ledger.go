package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// Ledger is the append-only record of trades and their outcomes. Rows are
// only ever inserted; corrections happen as new rows, never as updates.
type Ledger struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (l *Ledger) insert(ctx context.Context, res *models.TradeResult) error {
	if l == nil || l.Repo == nil {
		return fmt.Errorf("ledger is not wired to a repository")
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	if err := l.Repo.InsertTradeResult(ctx, res); err != nil {
		return fmt.Errorf("append trade result: %w", err)
	}
	if l.Logger != nil {
		l.Logger.Info("trade recorded",
			zap.String("kind", res.Kind),
			zap.String("status", res.Status),
			zap.String("module", res.ModuleName),
			zap.String("symbol", res.Symbol),
			zap.String("reason", res.Reason),
		)
	}
	return nil
}

// RecordEntry appends an entry result. Entries never carry realized PnL.
func (l *Ledger) RecordEntry(ctx context.Context, opp models.Opportunity, orderID string, filledQty, filledPrice decimal.Decimal, status string, metadata datatypes.JSON) (*models.TradeResult, error) {
	res := &models.TradeResult{
		OpportunityID: opp.ID,
		Kind:          models.TradeKindEntry,
		Status:        status,
		ModuleName:    opp.ModuleName,
		Symbol:        opp.Symbol,
		AssetClass:    opp.AssetClass,
		OrderID:       orderID,
		FilledQty:     filledQty,
		FilledPrice:   filledPrice,
		RealizedPnL:   nil,
		Metadata:      metadata,
		DataSource:    opp.DataSource,
	}
	if err := l.insert(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// RecordExit appends an exit result with its realized PnL and the verbatim
// exit reason that triggered it. Realized PnL only exists once the exit
// actually filled; unfilled attempts stay null.
func (l *Ledger) RecordExit(ctx context.Context, opp models.Opportunity, orderID string, filledQty, filledPrice, realizedPnL decimal.Decimal, status, reason string, metadata datatypes.JSON) (*models.TradeResult, error) {
	res := &models.TradeResult{
		OpportunityID: opp.ID,
		Kind:          models.TradeKindExit,
		Status:        status,
		ModuleName:    opp.ModuleName,
		Symbol:        opp.Symbol,
		AssetClass:    opp.AssetClass,
		OrderID:       orderID,
		FilledQty:     filledQty,
		FilledPrice:   filledPrice,
		Reason:        reason,
		Metadata:      metadata,
		DataSource:    opp.DataSource,
	}
	if status == models.TradeStatusFilled {
		res.RealizedPnL = &realizedPnL
	}
	if err := l.insert(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// RecordRejection appends a rejected proposal so the optimizer sees what the
// risk engine turned away, not just what traded.
func (l *Ledger) RecordRejection(ctx context.Context, opp models.Opportunity, reason string) (*models.TradeResult, error) {
	res := &models.TradeResult{
		OpportunityID: opp.ID,
		Kind:          models.TradeKindEntry,
		Status:        models.TradeStatusRejected,
		ModuleName:    opp.ModuleName,
		Symbol:        opp.Symbol,
		AssetClass:    opp.AssetClass,
		Reason:        reason,
		DataSource:    opp.DataSource,
	}
	if opp.Action == "exit" {
		res.Kind = models.TradeKindExit
	}
	if err := l.insert(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Window returns the trade results since the cutoff with their originating
// opportunities, for outcome attribution.
func (l *Ledger) Window(ctx context.Context, since time.Time) ([]models.TradeResult, error) {
	if l == nil || l.Repo == nil {
		return nil, nil
	}
	asc := true
	const page = 500
	var out []models.TradeResult
	for offset := 0; ; offset += page {
		batch, err := l.Repo.ListTradeResults(ctx, repository.ListTradeResultsParams{
			Limit:           page,
			Offset:          offset,
			Since:           &since,
			OrderBy:         "created_at",
			Asc:             &asc,
			WithOpportunity: true,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < page {
			return out, nil
		}
	}
}

// RealizedPnLSince sums realized PnL on exit rows from the cutoff forward.
func (l *Ledger) RealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	if l == nil || l.Repo == nil {
		return decimal.Zero, nil
	}
	return l.Repo.SumRealizedPnLSince(ctx, since)
}
