package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/config"
	"autotrader/internal/models"
)

func testEngine() *Engine {
	return &Engine{
		Config: config.RiskConfig{
			MaxOpenPositions: 10,
			RiskPerTradePct:  0.02,
			DailyLossPct:     0.03,
			PerSymbolCapPct:  0.10,
			ClassCeilings:    map[string]float64{"crypto": 0.30, "equity": 0.50, "fx": 0.25},
			OffHoursCeilings: map[string]float64{"crypto": 0.20, "equity": 0.30, "fx": 0.15},
			OffHoursStartUTC: 21,
			OffHoursEndUTC:   13,
		},
	}
}

func testSnapshot() Snapshot {
	return Snapshot{
		TotalEquity: decimal.NewFromInt(100000),
		Cash:        decimal.NewFromInt(60000),
		ExposureByClass: map[string]decimal.Decimal{
			"crypto": decimal.NewFromInt(28000),
		},
		OpenPositions: 3,
	}
}

func entryOpp(notional int64, confidence float64) models.Opportunity {
	return models.Opportunity{
		ModuleName:       "crypto_momentum",
		Symbol:           "BTC-USD",
		AssetClass:       "crypto",
		Action:           "enter",
		ProposedNotional: decimal.NewFromInt(notional),
		Confidence:       confidence,
	}
}

func TestValidateAndSizeResizesToClassHeadroom(t *testing.T) {
	eng := testEngine()
	dec := eng.ValidateAndSize(entryOpp(5000, 1.0), testSnapshot(), SessionPrimary)
	if !dec.Accepted {
		t.Fatalf("expected accept, got reject: %s", dec.Reason)
	}
	if dec.SizedNotional.GreaterThan(decimal.NewFromInt(2000)) {
		t.Fatalf("expected size capped at 2000, got %s", dec.SizedNotional)
	}
	if !dec.SizedNotional.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected full headroom 2000, got %s", dec.SizedNotional)
	}
}

func TestValidateAndSizeRejectsWhenClassExhausted(t *testing.T) {
	eng := testEngine()
	snap := testSnapshot()
	snap.ExposureByClass["crypto"] = decimal.NewFromInt(30000)
	dec := eng.ValidateAndSize(entryOpp(1000, 0.8), snap, SessionPrimary)
	if dec.Accepted {
		t.Fatalf("expected reject, got accept with size %s", dec.SizedNotional)
	}
	if dec.Reason != "class_allocation_exhausted" {
		t.Fatalf("unexpected reason %q", dec.Reason)
	}
}

func TestValidateAndSizePositionCountCheckedFirst(t *testing.T) {
	eng := testEngine()
	snap := testSnapshot()
	snap.OpenPositions = 10
	// Class is exhausted too; the count check must win the race.
	snap.ExposureByClass["crypto"] = decimal.NewFromInt(40000)
	dec := eng.ValidateAndSize(entryOpp(1000, 0.8), snap, SessionPrimary)
	if dec.Accepted {
		t.Fatalf("expected reject")
	}
	if dec.Reason != "position_count_ceiling" {
		t.Fatalf("expected position_count_ceiling, got %q", dec.Reason)
	}
}

func TestValidateAndSizeDailyLossHalt(t *testing.T) {
	eng := testEngine()
	snap := testSnapshot()
	snap.DailyRealizedPnL = decimal.NewFromInt(-3000)
	dec := eng.ValidateAndSize(entryOpp(1000, 0.9), snap, SessionPrimary)
	if dec.Accepted {
		t.Fatalf("expected daily loss halt")
	}
	if dec.Reason != "daily_loss_halt" {
		t.Fatalf("unexpected reason %q", dec.Reason)
	}

	// Exits are never blocked by the halt.
	exit := entryOpp(1000, 0.9)
	exit.Action = "exit"
	dec = eng.ValidateAndSize(exit, snap, SessionPrimary)
	if !dec.Accepted {
		t.Fatalf("exit should pass during halt, got %s", dec.Reason)
	}
}

func TestValidateAndSizeConfidenceScaling(t *testing.T) {
	eng := testEngine()
	snap := testSnapshot()
	snap.ExposureByClass = map[string]decimal.Decimal{}

	dec := eng.ValidateAndSize(entryOpp(50000, 0.5), snap, SessionPrimary)
	if !dec.Accepted {
		t.Fatalf("expected accept, got %s", dec.Reason)
	}
	// 100000 * 0.02 * 0.5 = 1000
	if !dec.SizedNotional.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000, got %s", dec.SizedNotional)
	}

	// A proposal smaller than the computed base is never inflated.
	dec = eng.ValidateAndSize(entryOpp(300, 0.5), snap, SessionPrimary)
	if !dec.Accepted || !dec.SizedNotional.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected proposal 300 to pass through, got %s (%s)", dec.SizedNotional, dec.Reason)
	}
}

func TestValidateAndSizePerSymbolCap(t *testing.T) {
	eng := testEngine()
	eng.Config.RiskPerTradePct = 0.5
	eng.Config.ClassCeilings = map[string]float64{}
	snap := testSnapshot()
	dec := eng.ValidateAndSize(entryOpp(40000, 1.0), snap, SessionPrimary)
	if !dec.Accepted {
		t.Fatalf("expected accept, got %s", dec.Reason)
	}
	// Per-symbol cap: 100000 * 0.10 = 10000.
	if !dec.SizedNotional.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected 10000, got %s", dec.SizedNotional)
	}
}

func TestValidateAndSizePerSymbolCapCountsExistingExposure(t *testing.T) {
	eng := testEngine()
	eng.Config.RiskPerTradePct = 0.5
	eng.Config.ClassCeilings = map[string]float64{}
	snap := testSnapshot()

	// Symbol already at the 10% cap: a fresh proposal is rejected, not
	// accepted on top of it.
	snap.ExposureBySymbol = map[string]decimal.Decimal{
		"BTC-USD": decimal.NewFromInt(10000),
	}
	dec := eng.ValidateAndSize(entryOpp(10000, 1.0), snap, SessionPrimary)
	if dec.Accepted {
		t.Fatalf("expected reject at cap, got accept with size %s", dec.SizedNotional)
	}
	if dec.Reason != "per_symbol_cap_exhausted" {
		t.Fatalf("unexpected reason %q", dec.Reason)
	}

	// Partially consumed cap leaves only the remainder.
	snap.ExposureBySymbol["BTC-USD"] = decimal.NewFromInt(6000)
	dec = eng.ValidateAndSize(entryOpp(10000, 1.0), snap, SessionPrimary)
	if !dec.Accepted {
		t.Fatalf("expected accept, got %s", dec.Reason)
	}
	if !dec.SizedNotional.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("expected remaining headroom 4000, got %s", dec.SizedNotional)
	}
}

func TestValidateAndSizeIdempotent(t *testing.T) {
	eng := testEngine()
	snap := testSnapshot()
	opp := entryOpp(5000, 0.7)
	first := eng.ValidateAndSize(opp, snap, SessionPrimary)
	for i := 0; i < 5; i++ {
		again := eng.ValidateAndSize(opp, snap, SessionPrimary)
		if again.Accepted != first.Accepted || again.Reason != first.Reason ||
			!again.SizedNotional.Equal(first.SizedNotional) {
			t.Fatalf("decision drifted on repeat %d: %+v vs %+v", i, again, first)
		}
	}
}

func TestSessionAtWrapsMidnight(t *testing.T) {
	eng := testEngine()
	cases := []struct {
		hour int
		want Session
	}{
		{22, SessionOffHours},
		{2, SessionOffHours},
		{12, SessionOffHours},
		{13, SessionPrimary},
		{20, SessionPrimary},
	}
	for _, tc := range cases {
		at := time.Date(2024, 3, 5, tc.hour, 30, 0, 0, time.UTC)
		if got := eng.SessionAt(at); got != tc.want {
			t.Fatalf("hour %d: expected %s, got %s", tc.hour, tc.want, got)
		}
	}
}

func TestCeilingForSessionAware(t *testing.T) {
	eng := testEngine()
	if got := eng.CeilingFor(SessionPrimary, "crypto"); got != 0.30 {
		t.Fatalf("primary crypto ceiling: got %v", got)
	}
	if got := eng.CeilingFor(SessionOffHours, "crypto"); got != 0.20 {
		t.Fatalf("off-hours crypto ceiling: got %v", got)
	}
	// Unknown class in the off-hours table falls back to the primary table.
	eng.Config.OffHoursCeilings = map[string]float64{}
	if got := eng.CeilingFor(SessionOffHours, "crypto"); got != 0.30 {
		t.Fatalf("fallback ceiling: got %v", got)
	}
}

func TestOverAllocatedUsesSameCeiling(t *testing.T) {
	eng := testEngine()
	snap := testSnapshot()
	snap.ExposureByClass["crypto"] = decimal.NewFromInt(31000)
	if !eng.OverAllocated(snap, SessionPrimary, "crypto") {
		t.Fatalf("expected over-allocated at 31k against 30k limit")
	}
	snap.ExposureByClass["crypto"] = decimal.NewFromInt(29000)
	if eng.OverAllocated(snap, SessionPrimary, "crypto") {
		t.Fatalf("expected within limit at 29k")
	}
	// Off-hours limit is 20k, so 29k is over there.
	if !eng.OverAllocated(snap, SessionOffHours, "crypto") {
		t.Fatalf("expected over-allocated under off-hours ceiling")
	}
}
