package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// stubRepo overrides only the methods the ledger touches; anything else
// panics through the embedded nil interface.
type stubRepo struct {
	repository.Repository

	inserted []models.TradeResult
	pages    [][]models.TradeResult
	calls    int
}

func (s *stubRepo) InsertTradeResult(ctx context.Context, item *models.TradeResult) error {
	s.inserted = append(s.inserted, *item)
	return nil
}

func (s *stubRepo) ListTradeResults(ctx context.Context, params repository.ListTradeResultsParams) ([]models.TradeResult, error) {
	if !params.WithOpportunity {
		return nil, nil
	}
	if s.calls >= len(s.pages) {
		return nil, nil
	}
	page := s.pages[s.calls]
	s.calls++
	return page, nil
}

func (s *stubRepo) SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	return decimal.NewFromInt(-1234), nil
}

func testOpp() models.Opportunity {
	return models.Opportunity{
		ID:         7,
		ModuleName: "crypto_momentum",
		Symbol:     "BTC-USD",
		AssetClass: "crypto",
		Action:     "enter",
		DataSource: "simulated",
	}
}

func TestRecordEntryNeverCarriesRealizedPnL(t *testing.T) {
	repo := &stubRepo{}
	l := &Ledger{Repo: repo}
	res, err := l.RecordEntry(context.Background(), testOpp(), "ord-1",
		decimal.NewFromInt(2), decimal.NewFromInt(100), models.TradeStatusFilled, nil)
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}
	if res.RealizedPnL != nil {
		t.Fatalf("entry result must not carry realized pnl")
	}
	if res.Kind != models.TradeKindEntry || res.OpportunityID != 7 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Successful() {
		t.Fatalf("filled entry should count as successful")
	}
}

func TestRecordExitKeepsReasonVerbatim(t *testing.T) {
	repo := &stubRepo{}
	l := &Ledger{Repo: repo}
	opp := testOpp()
	opp.Action = "exit"
	res, err := l.RecordExit(context.Background(), opp, "ord-2",
		decimal.NewFromInt(1), decimal.NewFromInt(95),
		decimal.NewFromInt(-5), models.TradeStatusFilled, "stop_loss", nil)
	if err != nil {
		t.Fatalf("record exit: %v", err)
	}
	if res.Reason != "stop_loss" {
		t.Fatalf("reason rewritten: %q", res.Reason)
	}
	if res.RealizedPnL == nil || !res.RealizedPnL.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("expected pnl -5, got %v", res.RealizedPnL)
	}
	// Filled but unprofitable: not a success.
	if res.Successful() {
		t.Fatalf("losing exit must not count as successful")
	}
}

func TestRecordExitWithoutFillLeavesPnLUnset(t *testing.T) {
	repo := &stubRepo{}
	l := &Ledger{Repo: repo}
	opp := testOpp()
	opp.Action = "exit"
	for _, status := range []string{models.TradeStatusFailed, models.TradeStatusRejected, models.TradeStatusCancelled} {
		res, err := l.RecordExit(context.Background(), opp, "ord-3",
			decimal.Zero, decimal.Zero, decimal.Zero, status, "stop_loss", nil)
		if err != nil {
			t.Fatalf("record exit (%s): %v", status, err)
		}
		// Nothing traded, so there is no realized number to report.
		if res.RealizedPnL != nil {
			t.Fatalf("%s exit must not carry realized pnl, got %v", status, res.RealizedPnL)
		}
	}
}

func TestRecordRejectionTracksOpportunityKind(t *testing.T) {
	repo := &stubRepo{}
	l := &Ledger{Repo: repo}
	if _, err := l.RecordRejection(context.Background(), testOpp(), "daily_loss_halt"); err != nil {
		t.Fatalf("record rejection: %v", err)
	}
	got := repo.inserted[0]
	if got.Status != models.TradeStatusRejected || got.Kind != models.TradeKindEntry {
		t.Fatalf("unexpected rejection row %+v", got)
	}
	if got.Reason != "daily_loss_halt" {
		t.Fatalf("reason rewritten: %q", got.Reason)
	}
}

func TestWindowPaginatesUntilShortPage(t *testing.T) {
	full := make([]models.TradeResult, 500)
	tail := make([]models.TradeResult, 3)
	repo := &stubRepo{pages: [][]models.TradeResult{full, tail}}
	l := &Ledger{Repo: repo}
	out, err := l.Window(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(out) != 503 {
		t.Fatalf("expected 503 rows, got %d", len(out))
	}
	if repo.calls != 2 {
		t.Fatalf("expected 2 pages fetched, got %d", repo.calls)
	}
}
