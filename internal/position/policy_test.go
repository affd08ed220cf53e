package position

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/config"
	"autotrader/internal/models"
	"autotrader/internal/risk"
)

func testPolicy() *Policy {
	return &Policy{
		Config: config.ExitConfig{
			StopLossPct:           0.10,
			MinHold:               30 * time.Minute,
			LadderGains:           []float64{0.06, 0.10, 0.15},
			LadderFracs:           []float64{0.20, 0.30, 0.40},
			FullTargetPct:         0.25,
			RebalanceMinProfitPct: 0.005,
		},
		Risk: &risk.Engine{
			Config: config.RiskConfig{
				ClassCeilings: map[string]float64{"crypto": 0.30},
			},
		},
	}
}

func openPosition(entry, current float64, openedAgo time.Duration, now time.Time) models.Position {
	return models.Position{
		Symbol:        "BTC-USD",
		AssetClass:    "crypto",
		ModuleName:    "crypto_momentum",
		Quantity:      decimal.NewFromInt(2),
		AvgEntryPrice: decimal.NewFromFloat(entry),
		CurrentPrice:  decimal.NewFromFloat(current),
		Status:        "open",
		OpenedAt:      now.Add(-openedAgo),
	}
}

func flatSnapshot() risk.Snapshot {
	return risk.Snapshot{
		TotalEquity:     decimal.NewFromInt(100000),
		ExposureByClass: map[string]decimal.Decimal{},
	}
}

func TestStopLossBeatsMinHold(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	// Open for 2 minutes, down 12%.
	pos := openPosition(100, 88, 2*time.Minute, now)
	dec := p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{})
	if !dec.ShouldExit {
		t.Fatalf("expected stop-loss exit")
	}
	if dec.Reason != ReasonStopLoss {
		t.Fatalf("expected %s, got %q", ReasonStopLoss, dec.Reason)
	}
	if !dec.Fraction.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("stop-loss must close fully, got fraction %s", dec.Fraction)
	}
}

func TestMinHoldGatesEverythingElse(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	// Up 30% but only open for 5 minutes.
	pos := openPosition(100, 130, 5*time.Minute, now)
	dec := p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{})
	if dec.ShouldExit {
		t.Fatalf("min-hold should block non-stop-loss exit, got %q", dec.Reason)
	}
}

func TestLadderFiresOnceAtConfiguredFraction(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	// Up 6%, past min hold: first rung exits exactly 20%.
	pos := openPosition(100, 106, 2*time.Hour, now)
	dec := p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{})
	if !dec.ShouldExit {
		t.Fatalf("expected first rung to fire")
	}
	if !strings.HasPrefix(dec.Reason, "profit_protection_rung_") {
		t.Fatalf("unexpected reason %q", dec.Reason)
	}
	if !dec.Fraction.Equal(decimal.NewFromFloat(0.20)) {
		t.Fatalf("expected fraction 0.20, got %s", dec.Fraction)
	}
	if dec.NewRung != 1 {
		t.Fatalf("expected rung 1, got %d", dec.NewRung)
	}

	// Same gain with the rung recorded: nothing fires again.
	pos.LadderRung = 1
	dec = p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{})
	if dec.ShouldExit {
		t.Fatalf("rung must fire once, got %q", dec.Reason)
	}
}

func TestLadderSkipsToHighestSatisfiedRung(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	// Gap up 12% in one cycle: rung 2 fires at 30%.
	pos := openPosition(100, 112, 2*time.Hour, now)
	dec := p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{})
	if !dec.ShouldExit || dec.NewRung != 2 {
		t.Fatalf("expected rung 2, got %+v", dec)
	}
	if !dec.Fraction.Equal(decimal.NewFromFloat(0.30)) {
		t.Fatalf("expected fraction 0.30, got %s", dec.Fraction)
	}
}

func TestFullTargetAfterLadderExhausted(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	pos := openPosition(100, 126, 2*time.Hour, now)
	pos.LadderRung = 3
	dec := p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{})
	if !dec.ShouldExit || dec.Reason != ReasonFullTarget {
		t.Fatalf("expected full target, got %+v", dec)
	}
	if !dec.Fraction.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("full target must close fully, got %s", dec.Fraction)
	}
}

func TestFullTargetBeatsLadderAboveTopThreshold(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	// Up 30% with no rungs taken: above the top threshold the whole position
	// exits, the ladder never gets a say.
	pos := openPosition(100, 130, 2*time.Hour, now)
	dec := p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{})
	if !dec.ShouldExit || dec.Reason != ReasonFullTarget {
		t.Fatalf("expected full target, got %+v", dec)
	}
	if !dec.Fraction.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("full target must close fully, got %s", dec.Fraction)
	}
}

func TestReversalSignalExit(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	// Down 5% past min hold: halfway to the stop. With a maxed reversal
	// estimate and regime pressure the weighted score clears the threshold.
	pos := openPosition(100, 95, 2*time.Hour, now)
	dec := p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{Reversal: 1, RegimeRisk: 1})
	if !dec.ShouldExit || dec.Reason != ReasonReversal {
		t.Fatalf("expected reversal exit, got %+v", dec)
	}
	if !dec.Fraction.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("reversal exit closes fully, got %s", dec.Fraction)
	}

	// Reversal estimate alone stays below the threshold.
	dec = p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{Reversal: 1})
	if dec.ShouldExit {
		t.Fatalf("reversal alone must not exit, got %q", dec.Reason)
	}

	// Min hold still gates the reversal signal.
	young := openPosition(100, 95, 5*time.Minute, now)
	dec = p.Evaluate(young, flatSnapshot(), risk.SessionPrimary, now, Signals{Reversal: 1, RegimeRisk: 1})
	if dec.ShouldExit {
		t.Fatalf("min-hold should block reversal exit, got %q", dec.Reason)
	}
}

func TestRebalanceRequiresMarginalProfit(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	snap := flatSnapshot()
	// 31k crypto exposure against a 30k limit.
	snap.ExposureByClass["crypto"] = decimal.NewFromInt(31000)

	// Down 2%: over-allocated but not profitable, so hold.
	pos := openPosition(100, 98, 2*time.Hour, now)
	dec := p.Evaluate(pos, snap, risk.SessionPrimary, now, Signals{})
	if dec.ShouldExit {
		t.Fatalf("unprofitable position must not rebalance, got %q", dec.Reason)
	}

	// Up 2%: trim the excess. Notional 2 * 102 = 204, excess 1000 > 204,
	// so the whole position goes.
	pos = openPosition(100, 102, 2*time.Hour, now)
	dec = p.Evaluate(pos, snap, risk.SessionPrimary, now, Signals{})
	if !dec.ShouldExit || dec.Reason != ReasonOverAllocRebal {
		t.Fatalf("expected rebalance exit, got %+v", dec)
	}
	if !dec.Fraction.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("excess above notional closes fully, got %s", dec.Fraction)
	}
}

func TestRebalanceTrimsOnlyExcess(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	snap := flatSnapshot()
	snap.ExposureByClass["crypto"] = decimal.NewFromInt(30500)

	pos := openPosition(100, 102, 2*time.Hour, now)
	pos.Quantity = decimal.NewFromInt(20) // notional 2040
	dec := p.Evaluate(pos, snap, risk.SessionPrimary, now, Signals{})
	if !dec.ShouldExit || dec.Reason != ReasonOverAllocRebal {
		t.Fatalf("expected rebalance trim, got %+v", dec)
	}
	if dec.Fraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		t.Fatalf("expected partial trim, got %s", dec.Fraction)
	}
	// Trimmed notional covers the 500 excess.
	trimmed := dec.Fraction.Mul(pos.Notional())
	if trimmed.Sub(decimal.NewFromInt(500)).Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
		t.Fatalf("trim should cover the 500 excess, got %s", trimmed)
	}
}

func TestHoldWhenNothingApplies(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	pos := openPosition(100, 103, 2*time.Hour, now)
	dec := p.Evaluate(pos, flatSnapshot(), risk.SessionPrimary, now, Signals{})
	if dec.ShouldExit {
		t.Fatalf("expected hold, got %q", dec.Reason)
	}
}
