package strategy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"autotrader/internal/models"
	"autotrader/internal/risk"
)

type fakeQuoter struct {
	prices map[string]decimal.Decimal
}

func (f *fakeQuoter) Quote(symbol string) (decimal.Decimal, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

func (f *fakeQuoter) set(symbol string, price float64) {
	f.prices[symbol] = decimal.NewFromFloat(price)
}

func testSnap() risk.Snapshot {
	return risk.Snapshot{TotalEquity: decimal.NewFromInt(100000)}
}

func TestCryptoMomentumSignalsOnSpread(t *testing.T) {
	q := &fakeQuoter{prices: map[string]decimal.Decimal{}}
	m := NewCryptoMomentum(q, nil, nil, []string{"BTC-USD"})
	ctx := context.Background()

	// Flat for 30 ticks: no signal.
	for i := 0; i < 30; i++ {
		q.set("BTC-USD", 100)
		opps, err := m.Analyze(ctx, testSnap())
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if len(opps) != 0 {
			t.Fatalf("flat series produced opportunity at tick %d", i)
		}
	}

	// Sharp ramp: short MA pulls ahead of the long MA.
	price := 100.0
	var got int
	for i := 0; i < 10; i++ {
		price *= 1.02
		q.set("BTC-USD", price)
		opps, err := m.Analyze(ctx, testSnap())
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		got += len(opps)
		for _, opp := range opps {
			if opp.Action != "enter" || opp.ModuleName != "crypto_momentum" {
				t.Fatalf("unexpected opportunity %+v", opp)
			}
			if opp.Confidence < 0.45 {
				t.Fatalf("confidence below floor: %v", opp.Confidence)
			}
			// 5% of 100k equity.
			if !opp.ProposedNotional.Equal(decimal.NewFromInt(5000)) {
				t.Fatalf("expected proposed 5000, got %s", opp.ProposedNotional)
			}
		}
	}
	if got == 0 {
		t.Fatalf("ramp never produced an opportunity")
	}
}

func TestEquityTrendBreakout(t *testing.T) {
	q := &fakeQuoter{prices: map[string]decimal.Decimal{}}
	m := NewEquityTrend(q, nil, nil, []string{"SPY"})
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		q.set("SPY", 400)
		if opps, _ := m.Analyze(ctx, testSnap()); len(opps) != 0 {
			t.Fatalf("no breakout yet at tick %d", i)
		}
	}
	q.set("SPY", 410)
	opps, err := m.Analyze(ctx, testSnap())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("expected one breakout opportunity, got %d", len(opps))
	}
	if opps[0].AssetClass != "equity" || opps[0].Symbol != "SPY" {
		t.Fatalf("unexpected opportunity %+v", opps[0])
	}
}

func TestFXRangeMeanReversion(t *testing.T) {
	q := &fakeQuoter{prices: map[string]decimal.Decimal{}}
	m := NewFXRange(q, nil, nil, []string{"EUR-USD"})
	ctx := context.Background()

	// Oscillate to build up a usable stddev.
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			q.set("EUR-USD", 1.10)
		} else {
			q.set("EUR-USD", 1.11)
		}
		m.Analyze(ctx, testSnap())
	}
	// Dip far below the mean.
	q.set("EUR-USD", 1.05)
	opps, err := m.Analyze(ctx, testSnap())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("expected one revert opportunity, got %d", len(opps))
	}
	if opps[0].ModuleName != "fx_range" || opps[0].Action != "enter" {
		t.Fatalf("unexpected opportunity %+v", opps[0])
	}
}

func TestCryptoMomentumMonitorTracksReversal(t *testing.T) {
	q := &fakeQuoter{prices: map[string]decimal.Decimal{}}
	m := NewCryptoMomentum(q, nil, nil, []string{"BTC-USD"})
	ctx := context.Background()
	positions := []models.Position{{Symbol: "BTC-USD"}}

	// Steady ramp: the short MA leads the long one, so the move is intact.
	price := 100.0
	for i := 0; i < 30; i++ {
		price *= 1.01
		q.set("BTC-USD", price)
		m.Analyze(ctx, testSnap())
	}
	up, ok := m.Monitor(ctx, positions)["BTC-USD"]
	if !ok {
		t.Fatalf("no estimate for tracked symbol")
	}
	if up > 0.25 {
		t.Fatalf("intact move should read low, got %v", up)
	}

	// Roll over hard: the short MA drops through the long one.
	for i := 0; i < 15; i++ {
		price *= 0.98
		q.set("BTC-USD", price)
		m.Analyze(ctx, testSnap())
	}
	down, ok := m.Monitor(ctx, positions)["BTC-USD"]
	if !ok {
		t.Fatalf("no estimate after rollover")
	}
	if down < 0.75 {
		t.Fatalf("rollover should read high, got %v", down)
	}

	// Untracked symbols contribute nothing rather than a zero estimate.
	if _, ok := m.Monitor(ctx, []models.Position{{Symbol: "DOGE-USD"}})["DOGE-USD"]; ok {
		t.Fatalf("unknown symbol should have no estimate")
	}
}

func TestDeclarationsCoverTunables(t *testing.T) {
	mods := []Module{
		NewCryptoMomentum(nil, nil, nil, nil),
		NewEquityTrend(nil, nil, nil, nil),
		NewFXRange(nil, nil, nil, nil),
	}
	for _, m := range mods {
		decls := m.Declarations()
		if len(decls) == 0 {
			t.Fatalf("%s declares no parameters", m.Name())
		}
		for _, d := range decls {
			if d.ModuleName != m.Name() {
				t.Fatalf("%s declaration carries module %q", m.Name(), d.ModuleName)
			}
			if d.ValueType != "continuous" && d.ValueType != "discrete" {
				t.Fatalf("%s/%s: bad value type %q", d.ModuleName, d.Name, d.ValueType)
			}
		}
	}
}
