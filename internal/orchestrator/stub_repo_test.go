package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// stubRepo is an in-memory Repository covering what a cycle touches. The
// embedded interface panics on anything unimplemented, which is the point.
type stubRepo struct {
	repository.Repository

	opportunities []models.Opportunity
	trades        []models.TradeResult
	positions     map[string]*models.Position
	snapshots     []models.PortfolioSnapshot
	summaries     []models.CycleSummary
	paramUpdates  []models.ParameterUpdate
	paramRecords  map[string]models.ParameterRecord
	settings      map[string]models.SystemSetting

	nextID uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		positions:    map[string]*models.Position{},
		paramRecords: map[string]models.ParameterRecord{},
		settings:     map[string]models.SystemSetting{},
	}
}

func (s *stubRepo) InsertOpportunity(ctx context.Context, item *models.Opportunity) error {
	s.nextID++
	item.ID = s.nextID
	s.opportunities = append(s.opportunities, *item)
	return nil
}

func (s *stubRepo) InsertTradeResult(ctx context.Context, item *models.TradeResult) error {
	s.trades = append(s.trades, *item)
	return nil
}

func (s *stubRepo) ListTradeResults(ctx context.Context, params repository.ListTradeResultsParams) ([]models.TradeResult, error) {
	if params.Offset > 0 {
		return nil, nil
	}
	return s.trades, nil
}

func (s *stubRepo) SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tr := range s.trades {
		if tr.Kind == models.TradeKindExit && tr.RealizedPnL != nil {
			sum = sum.Add(*tr.RealizedPnL)
		}
	}
	return sum, nil
}

func (s *stubRepo) UpsertPosition(ctx context.Context, item *models.Position) error {
	if item.ID == 0 {
		s.nextID++
		item.ID = s.nextID
	}
	cp := *item
	s.positions[item.Symbol] = &cp
	return nil
}

func (s *stubRepo) GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error) {
	pos, ok := s.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (s *stubRepo) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	var out []models.Position
	for _, pos := range s.positions {
		if pos.Status == "open" {
			out = append(out, *pos)
		}
	}
	return out, nil
}

func (s *stubRepo) ReducePosition(ctx context.Context, id uint64, newQty decimal.Decimal, ladderRung int) error {
	for _, pos := range s.positions {
		if pos.ID == id {
			pos.Quantity = newQty
			pos.LadderRung = ladderRung
		}
	}
	return nil
}

func (s *stubRepo) ClosePosition(ctx context.Context, id uint64, closedAt time.Time) error {
	for _, pos := range s.positions {
		if pos.ID == id {
			pos.Status = "closed"
			pos.Quantity = decimal.Zero
			pos.ClosedAt = &closedAt
		}
	}
	return nil
}

func (s *stubRepo) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	s.snapshots = append(s.snapshots, *item)
	return nil
}

func (s *stubRepo) InsertCycleSummary(ctx context.Context, item *models.CycleSummary) error {
	s.summaries = append(s.summaries, *item)
	return nil
}

func (s *stubRepo) InsertParameterUpdate(ctx context.Context, item *models.ParameterUpdate) error {
	s.paramUpdates = append(s.paramUpdates, *item)
	return nil
}

func (s *stubRepo) UpsertParameterRecord(ctx context.Context, item *models.ParameterRecord) error {
	s.paramRecords[item.ModuleName+"/"+item.Name] = *item
	return nil
}

func (s *stubRepo) GetParameterRecord(ctx context.Context, moduleName, name string) (*models.ParameterRecord, error) {
	rec, ok := s.paramRecords[moduleName+"/"+name]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (s *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	s.settings[item.Key] = *item
	return nil
}

func (s *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	cp := item
	return &cp, nil
}
