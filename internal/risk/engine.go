package risk

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/models"
	"autotrader/internal/params"
)

type Session string

const (
	SessionPrimary  Session = "primary"
	SessionOffHours Session = "off_hours"
)

// RiskModule is the module name the engine's tunable parameters live under
// in the parameter store.
const RiskModule = "risk_engine"

const (
	ParamRiskPerTrade = "risk_per_trade_pct"
)

// Snapshot is the read-only portfolio view for one cycle, built fresh from
// the account feed.
type Snapshot struct {
	TotalEquity      decimal.Decimal
	Cash             decimal.Decimal
	ExposureByClass  map[string]decimal.Decimal
	ExposureBySymbol map[string]decimal.Decimal
	OpenPositions    int
	DailyRealizedPnL decimal.Decimal
	DataSource       string
	AsOf             time.Time
}

// NewSnapshot derives the cycle snapshot from authoritative account state.
func NewSnapshot(state broker.AccountState, dailyRealizedPnL decimal.Decimal, quotes broker.Quoter) Snapshot {
	snap := Snapshot{
		TotalEquity:      state.Equity,
		Cash:             state.Cash,
		ExposureByClass:  map[string]decimal.Decimal{},
		ExposureBySymbol: map[string]decimal.Decimal{},
		OpenPositions:    len(state.Positions),
		DailyRealizedPnL: dailyRealizedPnL,
		DataSource:       state.DataSource,
		AsOf:             state.AsOf,
	}
	for _, pos := range state.Positions {
		price := pos.AvgEntryPrice
		if quotes != nil {
			if q, ok := quotes.Quote(pos.Symbol); ok && q.GreaterThan(decimal.Zero) {
				price = q
			}
		}
		class := strings.ToLower(strings.TrimSpace(pos.AssetClass))
		notional := pos.Quantity.Mul(price)
		snap.ExposureByClass[class] = snap.ExposureByClass[class].Add(notional)
		snap.ExposureBySymbol[pos.Symbol] = snap.ExposureBySymbol[pos.Symbol].Add(notional)
	}
	return snap
}

func (s Snapshot) Exposure(assetClass string) decimal.Decimal {
	return s.ExposureByClass[strings.ToLower(strings.TrimSpace(assetClass))]
}

func (s Snapshot) SymbolExposure(symbol string) decimal.Decimal {
	return s.ExposureBySymbol[symbol]
}

type Decision struct {
	Accepted bool
	// SizedNotional is the approved order size in account currency.
	SizedNotional decimal.Decimal
	Reason        string
}

func Accept(notional decimal.Decimal) Decision {
	return Decision{Accepted: true, SizedNotional: notional}
}

func Reject(reason string) Decision {
	return Decision{Accepted: false, Reason: reason}
}

// Engine is the single authority turning opportunities into sized orders.
// ValidateAndSize is a pure function of its inputs so identical snapshots
// always yield identical decisions.
type Engine struct {
	Config config.RiskConfig
	Params *params.Store
	Logger *zap.Logger
}

// SessionAt maps a wall-clock instant to the trading session in effect.
// The off-hours window wraps midnight when start > end.
func (e *Engine) SessionAt(t time.Time) Session {
	if e == nil {
		return SessionPrimary
	}
	start := e.Config.OffHoursStartUTC
	end := e.Config.OffHoursEndUTC
	if start == end {
		return SessionPrimary
	}
	hour := t.UTC().Hour()
	if start < end {
		if hour >= start && hour < end {
			return SessionOffHours
		}
		return SessionPrimary
	}
	if hour >= start || hour < end {
		return SessionOffHours
	}
	return SessionPrimary
}

// CeilingFor is the single allocation-ceiling lookup. Entry sizing and the
// over-allocation exit check both go through here; introducing a second
// constant for the same ceiling is how entries and exits drift apart.
func (e *Engine) CeilingFor(session Session, assetClass string) float64 {
	if e == nil {
		return 0
	}
	assetClass = strings.ToLower(strings.TrimSpace(assetClass))
	if session == SessionOffHours {
		if v, ok := e.Config.OffHoursCeilings[assetClass]; ok {
			return v
		}
	}
	return e.Config.ClassCeilings[assetClass]
}

// ValidateAndSize runs the ordered entry checks, short-circuiting on the
// first failure, and sizes the accepted order from confidence and the
// risk-per-trade fraction. Exit opportunities pass through unchanged: they
// reduce exposure and are gated by the exit policy instead.
func (e *Engine) ValidateAndSize(opp models.Opportunity, snap Snapshot, session Session) Decision {
	if e == nil {
		return Reject("risk engine unavailable")
	}
	if opp.ProposedNotional.LessThanOrEqual(decimal.Zero) {
		return Reject("non_positive_size")
	}
	if strings.EqualFold(opp.Action, "exit") {
		return Accept(opp.ProposedNotional)
	}

	// (a) global open-position-count ceiling.
	if e.Config.MaxOpenPositions > 0 && snap.OpenPositions >= e.Config.MaxOpenPositions {
		return Reject("position_count_ceiling")
	}

	// (b) per-asset-class allocation ceiling. Over-cap proposals with
	// remaining headroom are resized, not rejected.
	ceiling := e.CeilingFor(session, opp.AssetClass)
	headroom := decimal.Zero
	if ceiling > 0 {
		limit := snap.TotalEquity.Mul(decimal.NewFromFloat(ceiling))
		headroom = limit.Sub(snap.Exposure(opp.AssetClass))
		if headroom.LessThanOrEqual(decimal.Zero) {
			return Reject("class_allocation_exhausted")
		}
	}

	// (c) daily realized-loss ceiling halts new entries for the day.
	if e.Config.DailyLossPct > 0 {
		lossLimit := snap.TotalEquity.Mul(decimal.NewFromFloat(e.Config.DailyLossPct))
		if snap.DailyRealizedPnL.LessThanOrEqual(lossLimit.Neg()) {
			return Reject("daily_loss_halt")
		}
	}

	// (d) per-symbol maximum as a fraction of equity. The cap bounds the whole
	// position, so existing exposure in the symbol consumes it.
	symbolHeadroom := decimal.Zero
	haveSymbolCap := e.Config.PerSymbolCapPct > 0
	if haveSymbolCap {
		symbolCap := snap.TotalEquity.Mul(decimal.NewFromFloat(e.Config.PerSymbolCapPct))
		symbolHeadroom = symbolCap.Sub(snap.SymbolExposure(opp.Symbol))
		if symbolHeadroom.LessThanOrEqual(decimal.Zero) {
			return Reject("per_symbol_cap_exhausted")
		}
	}

	sized := e.baseSize(opp.Confidence, snap.TotalEquity)
	if opp.ProposedNotional.LessThan(sized) {
		sized = opp.ProposedNotional
	}
	if ceiling > 0 && sized.GreaterThan(headroom) {
		sized = headroom
	}
	if haveSymbolCap && sized.GreaterThan(symbolHeadroom) {
		sized = symbolHeadroom
	}
	if sized.LessThanOrEqual(decimal.Zero) {
		return Reject("sized_to_zero")
	}
	return Accept(sized)
}

func (e *Engine) baseSize(confidence float64, equity decimal.Decimal) decimal.Decimal {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	perTrade := e.Config.RiskPerTradePct
	if e.Params != nil {
		perTrade = e.Params.Value(RiskModule, ParamRiskPerTrade, perTrade)
	}
	if perTrade <= 0 {
		return decimal.Zero
	}
	return equity.
		Mul(decimal.NewFromFloat(perTrade)).
		Mul(decimal.NewFromFloat(confidence))
}

// OverAllocated reports whether an asset class currently exceeds its ceiling,
// using the same lookup as entry validation.
func (e *Engine) OverAllocated(snap Snapshot, session Session, assetClass string) bool {
	if e == nil {
		return false
	}
	ceiling := e.CeilingFor(session, assetClass)
	if ceiling <= 0 {
		return false
	}
	limit := snap.TotalEquity.Mul(decimal.NewFromFloat(ceiling))
	return snap.Exposure(assetClass).GreaterThan(limit)
}
