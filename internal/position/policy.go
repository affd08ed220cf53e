package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrader/internal/config"
	"autotrader/internal/models"
	"autotrader/internal/params"
	"autotrader/internal/risk"
)

// ExitModule is the module name the policy's tunable parameters live under.
const ExitModule = "exit_policy"

const (
	ParamStopLoss   = "stop_loss_pct"
	ParamFullTarget = "full_target_pct"
)

const (
	ReasonStopLoss         = "stop_loss"
	ReasonFullTarget       = "full_target"
	ReasonReversal         = "reversal_signal"
	ReasonOverAllocRebal   = "over_allocation_rebalance"
	reasonProfitProtection = "profit_protection_rung_%d"
)

// Advisory-exit weights. These are fixed: runtime tuning of exit behavior
// goes only through the optimizer-managed parameters, never through the
// weights themselves.
const (
	weightReversal = 0.5
	weightRegime   = 0.3
	weightDrawdown = 0.2

	reversalExitThreshold = 0.75
)

// Signals carries the advisory inputs evaluated alongside price state: the
// owning module's reversal-probability estimate for the position and the
// portfolio-level regime pressure, both in [0,1]. Zero values are neutral.
type Signals struct {
	Reversal   float64
	RegimeRisk float64
}

// Decision describes what, if anything, to exit. Fraction is the share of the
// current quantity to close; 1 closes the position. Reason is recorded on the
// resulting trade exactly as produced here.
type Decision struct {
	ShouldExit bool
	Fraction   decimal.Decimal
	Reason     string
	// NewRung is the ladder rung to persist after a profit-protection exit.
	NewRung int
}

func hold() Decision { return Decision{} }

func fullExit(reason string) Decision {
	return Decision{ShouldExit: true, Fraction: decimal.NewFromInt(1), Reason: reason}
}

// Policy decides exits for open positions. Checks run in fixed precedence:
// stop-loss first and unconditionally, then the minimum-hold gate for every
// other reason, then the full target, the profit-protection ladder, the
// weighted reversal signal, and last the over-allocation rebalance.
type Policy struct {
	Config config.ExitConfig
	Risk   *risk.Engine
	Params *params.Store
	Logger *zap.Logger
}

func (p *Policy) stopLossPct() float64 {
	v := p.Config.StopLossPct
	if p.Params != nil {
		v = p.Params.Value(ExitModule, ParamStopLoss, v)
	}
	return v
}

func (p *Policy) fullTargetPct() float64 {
	v := p.Config.FullTargetPct
	if p.Params != nil {
		v = p.Params.Value(ExitModule, ParamFullTarget, v)
	}
	return v
}

// Evaluate returns the exit decision for one position at one instant.
func (p *Policy) Evaluate(pos models.Position, snap risk.Snapshot, session risk.Session, now time.Time, sig Signals) Decision {
	if p == nil || pos.Quantity.LessThanOrEqual(decimal.Zero) {
		return hold()
	}
	gain := pos.UnrealizedPnLPct()

	// Stop-loss outranks everything, including the minimum hold.
	sl := p.stopLossPct()
	if sl > 0 {
		if gain.LessThanOrEqual(decimal.NewFromFloat(-sl)) {
			return fullExit(ReasonStopLoss)
		}
	}

	if p.Config.MinHold > 0 && now.Sub(pos.OpenedAt) < p.Config.MinHold {
		return hold()
	}

	// Above the top threshold the position exits fully; the ladder only
	// manages gains below it.
	if ft := p.fullTargetPct(); ft > 0 && gain.GreaterThanOrEqual(decimal.NewFromFloat(ft)) {
		return fullExit(ReasonFullTarget)
	}

	// Profit-protection ladder: fire the highest satisfied rung not yet taken,
	// exiting that rung's fraction of the remaining quantity.
	if dec, ok := p.ladderDecision(pos, gain); ok {
		return dec
	}

	if p.reversalScore(gain, sl, sig) >= reversalExitThreshold {
		return fullExit(ReasonReversal)
	}

	// Rebalance out of an over-allocated class, but only when the position is
	// at least marginally profitable.
	if p.Risk != nil && p.Risk.OverAllocated(snap, session, pos.AssetClass) {
		if gain.GreaterThanOrEqual(decimal.NewFromFloat(p.Config.RebalanceMinProfitPct)) {
			return p.rebalanceDecision(pos, snap, session)
		}
	}

	return hold()
}

// reversalScore combines the module's reversal estimate, the regime pressure,
// and how far the position has drawn down toward its stop into one weighted
// score.
func (p *Policy) reversalScore(gain decimal.Decimal, stopLoss float64, sig Signals) float64 {
	drawdown := 0.0
	if stopLoss > 0 && gain.IsNegative() {
		drawdown = clamp01(gain.Neg().InexactFloat64() / stopLoss)
	}
	return weightReversal*clamp01(sig.Reversal) +
		weightRegime*clamp01(sig.RegimeRisk) +
		weightDrawdown*drawdown
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (p *Policy) ladderDecision(pos models.Position, gain decimal.Decimal) (Decision, bool) {
	rungs := len(p.Config.LadderGains)
	if rungs == 0 || rungs != len(p.Config.LadderFracs) {
		return hold(), false
	}
	best := -1
	for i := 0; i < rungs; i++ {
		if i < pos.LadderRung {
			continue
		}
		if gain.GreaterThanOrEqual(decimal.NewFromFloat(p.Config.LadderGains[i])) {
			best = i
		}
	}
	if best < 0 {
		return hold(), false
	}
	frac := decimal.NewFromFloat(p.Config.LadderFracs[best])
	if frac.LessThanOrEqual(decimal.Zero) || frac.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return hold(), false
	}
	return Decision{
		ShouldExit: true,
		Fraction:   frac,
		Reason:     fmt.Sprintf(reasonProfitProtection, best+1),
		NewRung:    best + 1,
	}, true
}

// rebalanceDecision trims just enough of the position to bring its asset
// class back under the ceiling, closing it fully when the excess is larger
// than the position.
func (p *Policy) rebalanceDecision(pos models.Position, snap risk.Snapshot, session risk.Session) Decision {
	ceiling := p.Risk.CeilingFor(session, pos.AssetClass)
	limit := snap.TotalEquity.Mul(decimal.NewFromFloat(ceiling))
	excess := snap.Exposure(pos.AssetClass).Sub(limit)
	notional := pos.Notional()
	if excess.LessThanOrEqual(decimal.Zero) || notional.LessThanOrEqual(decimal.Zero) {
		return hold()
	}
	if excess.GreaterThanOrEqual(notional) {
		return fullExit(ReasonOverAllocRebal)
	}
	return Decision{
		ShouldExit: true,
		Fraction:   excess.Div(notional),
		Reason:     ReasonOverAllocRebal,
	}
}
