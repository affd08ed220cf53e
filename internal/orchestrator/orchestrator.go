package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/ledger"
	"autotrader/internal/models"
	"autotrader/internal/optimizer"
	"autotrader/internal/params"
	"autotrader/internal/position"
	"autotrader/internal/repository"
	"autotrader/internal/risk"
	"autotrader/internal/service"
	"autotrader/internal/strategy"
)

// Orchestrator drives the trading loop: one cycle refreshes portfolio state,
// runs entry analysis, manages exits, and every N cycles invokes the
// parameter optimizer. A failing module never takes the cycle down; its
// panic is recovered, logged, and the module skipped until next cycle.
type Orchestrator struct {
	Config    config.Config
	Repo      repository.Repository
	Gateway   broker.OrderGateway
	Feed      broker.AccountFeed
	Quotes    broker.Quoter
	Risk      *risk.Engine
	Exits     *position.Policy
	Ledger    *ledger.Ledger
	Params    *params.Store
	Optimizer *optimizer.Optimizer
	Modules   []strategy.Module
	Settings  *service.SystemSettingsService
	Logger    *zap.Logger

	mu         sync.Mutex
	cycleCount int
	lastCycle  time.Time
}

// LastCycle reports when the most recent cycle finished, for health checks.
func (o *Orchestrator) LastCycle() time.Time {
	if o == nil {
		return time.Time{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCycle
}

// Run executes cycles on the configured interval until the context ends.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := o.Config.Cycle.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.Settings.IsEnabled(ctx, service.FeatureCycle, true) {
				continue
			}
			if err := o.RunCycle(ctx, time.Now().UTC()); err != nil {
				if o.Logger != nil {
					o.Logger.Error("cycle failed", zap.Error(err))
				}
			}
		}
	}
}

type cycleState struct {
	summary models.CycleSummary
	skipped []string
}

// RunCycle executes one full decision cycle. The cycle budget is soft: it is
// checked between modules and phases, never mid-operation.
func (o *Orchestrator) RunCycle(ctx context.Context, now time.Time) error {
	if o == nil {
		return fmt.Errorf("orchestrator is nil")
	}
	budget := o.Config.Cycle.Budget
	if budget <= 0 {
		budget = 45 * time.Second
	}
	deadline := now.Add(budget)

	state := &cycleState{summary: models.CycleSummary{StartedAt: now}}

	snap, err := o.refreshPortfolio(ctx, now)
	if err != nil {
		return fmt.Errorf("refresh portfolio: %w", err)
	}
	state.summary.DataSource = snap.DataSource
	session := o.Risk.SessionAt(now)

	if o.Settings.IsEnabled(ctx, service.FeatureEntries, true) {
		o.runEntries(ctx, state, snap, session, deadline)
	} else if o.Logger != nil {
		o.Logger.Warn("entries halted by kill-switch, exits continue")
	}

	// Entries change exposure; exits decide against a fresh snapshot.
	snap, err = o.refreshPortfolio(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("refresh portfolio before exits: %w", err)
	}
	o.runExits(ctx, state, snap, session, time.Now().UTC())

	o.maybeOptimize(ctx, state, now)

	finished := time.Now().UTC()
	state.summary.FinishedAt = finished
	state.summary.Degraded = state.summary.Degraded || len(state.skipped) > 0
	if len(state.skipped) > 0 {
		raw, _ := json.Marshal(state.skipped)
		state.summary.SkippedModules = datatypes.JSON(raw)
	}
	if pnl, err := o.Ledger.RealizedPnLSince(ctx, startOfDay(now)); err == nil {
		state.summary.RealizedPnL = pnl
	}
	if o.Repo != nil {
		if err := o.Repo.InsertCycleSummary(ctx, &state.summary); err != nil && o.Logger != nil {
			o.Logger.Error("persist cycle summary failed", zap.Error(err))
		}
	}

	o.mu.Lock()
	o.cycleCount++
	o.lastCycle = finished
	o.mu.Unlock()
	return nil
}

// refreshPortfolio pulls authoritative account state, mirrors it into the
// positions table, and returns the cycle snapshot. Local position state is
// rebuilt from the feed every time, never accumulated.
func (o *Orchestrator) refreshPortfolio(ctx context.Context, now time.Time) (risk.Snapshot, error) {
	if o.Feed == nil {
		return risk.Snapshot{}, fmt.Errorf("no account feed configured")
	}
	state, err := o.Feed.AccountState(ctx)
	if err != nil {
		return risk.Snapshot{}, err
	}
	dailyPnL, err := o.Ledger.RealizedPnLSince(ctx, startOfDay(now))
	if err != nil {
		return risk.Snapshot{}, err
	}
	snap := risk.NewSnapshot(state, dailyPnL, o.Quotes)

	if err := o.syncPositions(ctx, state, now); err != nil {
		return risk.Snapshot{}, err
	}
	if o.Settings.IsEnabled(ctx, service.FeaturePortfolioSnapshot, true) {
		o.persistSnapshot(ctx, snap, now)
	}
	return snap, nil
}

func (o *Orchestrator) syncPositions(ctx context.Context, state broker.AccountState, now time.Time) error {
	if o.Repo == nil {
		return nil
	}
	seen := map[string]bool{}
	for _, bp := range state.Positions {
		seen[bp.Symbol] = true
		existing, err := o.Repo.GetPositionBySymbol(ctx, bp.Symbol)
		if err != nil {
			return err
		}
		pos := models.Position{
			Symbol:        bp.Symbol,
			AssetClass:    bp.AssetClass,
			Quantity:      bp.Quantity,
			AvgEntryPrice: bp.AvgEntryPrice,
			Status:        "open",
			OpenedAt:      now,
		}
		if existing != nil {
			pos.ID = existing.ID
			pos.ModuleName = existing.ModuleName
			pos.LadderRung = existing.LadderRung
			pos.OpenedAt = existing.OpenedAt
			if existing.Status == "open" {
				pos.Status = existing.Status
			}
		}
		if o.Quotes != nil {
			if q, ok := o.Quotes.Quote(bp.Symbol); ok {
				pos.CurrentPrice = q
			}
		}
		if pos.CurrentPrice.LessThanOrEqual(decimal.Zero) {
			pos.CurrentPrice = bp.AvgEntryPrice
		}
		if err := o.Repo.UpsertPosition(ctx, &pos); err != nil {
			return err
		}
	}
	// Anything open locally but gone from the feed was closed out of band.
	open, err := o.Repo.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range open {
		if seen[pos.Symbol] {
			continue
		}
		if err := o.Repo.ClosePosition(ctx, pos.ID, now); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) persistSnapshot(ctx context.Context, snap risk.Snapshot, now time.Time) {
	if o.Repo == nil {
		return
	}
	exposure := map[string]string{}
	for class, notional := range snap.ExposureByClass {
		exposure[class] = notional.String()
	}
	raw, _ := json.Marshal(exposure)
	item := &models.PortfolioSnapshot{
		SnapshotAt:       now,
		TotalEquity:      snap.TotalEquity,
		Cash:             snap.Cash,
		ExposureByClass:  datatypes.JSON(raw),
		OpenPositions:    snap.OpenPositions,
		DailyRealizedPnL: snap.DailyRealizedPnL,
		DataSource:       snap.DataSource,
	}
	if err := o.Repo.InsertPortfolioSnapshot(ctx, item); err != nil && o.Logger != nil {
		o.Logger.Error("persist portfolio snapshot failed", zap.Error(err))
	}
}

func (o *Orchestrator) runEntries(ctx context.Context, state *cycleState, snap risk.Snapshot, session risk.Session, deadline time.Time) {
	for _, module := range o.Modules {
		if time.Now().After(deadline) {
			state.skipped = append(state.skipped, module.Name())
			if o.Logger != nil {
				o.Logger.Warn("cycle budget exhausted, skipping module", zap.String("module", module.Name()))
			}
			continue
		}
		opps := o.analyzeModule(ctx, state, module, snap)
		for _, opp := range opps {
			o.handleEntry(ctx, state, opp, &snap, session)
		}
	}
}

// analyzeModule isolates one module's analysis behind a recover so a panic
// degrades the cycle instead of killing the process.
func (o *Orchestrator) analyzeModule(ctx context.Context, state *cycleState, module strategy.Module, snap risk.Snapshot) (opps []models.Opportunity) {
	defer func() {
		if r := recover(); r != nil {
			state.summary.Degraded = true
			state.skipped = append(state.skipped, module.Name())
			if o.Logger != nil {
				o.Logger.Error("module panicked",
					zap.String("module", module.Name()),
					zap.Any("panic", r),
				)
			}
			opps = nil
		}
	}()
	out, err := module.Analyze(ctx, snap)
	if err != nil {
		state.summary.Degraded = true
		if o.Logger != nil {
			o.Logger.Error("module analyze failed",
				zap.String("module", module.Name()),
				zap.Error(err),
			)
		}
		return nil
	}
	return out
}

func (o *Orchestrator) handleEntry(ctx context.Context, state *cycleState, opp models.Opportunity, snap *risk.Snapshot, session risk.Session) {
	state.summary.Opportunities++
	o.stampParams(&opp)
	if o.Repo != nil {
		if err := o.Repo.InsertOpportunity(ctx, &opp); err != nil {
			if o.Logger != nil {
				o.Logger.Error("persist opportunity failed", zap.Error(err))
			}
			return
		}
	}

	decision := o.Risk.ValidateAndSize(opp, *snap, session)
	if !decision.Accepted {
		state.summary.Rejections++
		if _, err := o.Ledger.RecordRejection(ctx, opp, decision.Reason); err != nil && o.Logger != nil {
			o.Logger.Error("record rejection failed", zap.Error(err))
		}
		return
	}

	price, ok := o.quoteFor(opp.Symbol)
	if !ok {
		state.summary.Rejections++
		_, _ = o.Ledger.RecordRejection(ctx, opp, "no_quote")
		return
	}
	qty := decision.SizedNotional.Div(price)
	final := o.executeOrder(ctx, state, broker.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        opp.Symbol,
		Side:          broker.SideBuy,
		Quantity:      qty,
	})
	status := statusFromOrder(final)
	if _, err := o.Ledger.RecordEntry(ctx, opp, final.OrderID, final.FilledQty, final.FilledAvgPrice, status, nil); err != nil {
		if o.Logger != nil {
			o.Logger.Error("record entry failed", zap.Error(err))
		}
		return
	}
	if status != models.TradeStatusFilled {
		return
	}
	state.summary.OrdersFilled++
	snap.OpenPositions++
	class := strings.ToLower(opp.AssetClass)
	filled := final.FilledQty.Mul(final.FilledAvgPrice)
	snap.ExposureByClass[class] = snap.ExposureByClass[class].Add(filled)
	if snap.ExposureBySymbol == nil {
		snap.ExposureBySymbol = map[string]decimal.Decimal{}
	}
	snap.ExposureBySymbol[opp.Symbol] = snap.ExposureBySymbol[opp.Symbol].Add(filled)
	o.recordEntryPosition(ctx, opp, final)
}

func (o *Orchestrator) recordEntryPosition(ctx context.Context, opp models.Opportunity, final broker.OrderState) {
	if o.Repo == nil {
		return
	}
	now := time.Now().UTC()
	pos := models.Position{
		Symbol:        opp.Symbol,
		AssetClass:    strings.ToLower(opp.AssetClass),
		ModuleName:    opp.ModuleName,
		Quantity:      final.FilledQty,
		AvgEntryPrice: final.FilledAvgPrice,
		CurrentPrice:  final.FilledAvgPrice,
		Status:        "open",
		OpenedAt:      now,
	}
	if existing, err := o.Repo.GetPositionBySymbol(ctx, opp.Symbol); err == nil && existing != nil {
		pos.ID = existing.ID
		pos.LadderRung = existing.LadderRung
		if existing.Status == "open" {
			pos.OpenedAt = existing.OpenedAt
			pos.Quantity = existing.Quantity.Add(final.FilledQty)
			// Average entry stays feed-authoritative; next sync corrects it.
		}
	}
	if err := o.Repo.UpsertPosition(ctx, &pos); err != nil && o.Logger != nil {
		o.Logger.Error("persist position failed", zap.Error(err))
	}
}

func (o *Orchestrator) runExits(ctx context.Context, state *cycleState, snap risk.Snapshot, session risk.Session, now time.Time) {
	if o.Repo == nil || o.Exits == nil {
		return
	}
	open, err := o.Repo.ListOpenPositions(ctx)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Error("list open positions failed", zap.Error(err))
		}
		return
	}
	reversals := o.monitorPositions(ctx, open)
	regime := o.regimeRisk(snap)
	for _, pos := range open {
		if price, ok := o.quoteFor(pos.Symbol); ok {
			pos.CurrentPrice = price
		}
		decision := o.Exits.Evaluate(pos, snap, session, now, position.Signals{
			Reversal:   reversals[pos.Symbol],
			RegimeRisk: regime,
		})
		if !decision.ShouldExit {
			continue
		}
		o.executeExit(ctx, state, pos, decision)
	}
}

// monitorPositions collects each owning module's reversal estimates for the
// positions it manages. A panicking module just contributes no estimates.
func (o *Orchestrator) monitorPositions(ctx context.Context, open []models.Position) map[string]float64 {
	byModule := map[string][]models.Position{}
	for _, pos := range open {
		byModule[pos.ModuleName] = append(byModule[pos.ModuleName], pos)
	}
	out := map[string]float64{}
	for _, module := range o.Modules {
		positions := byModule[module.Name()]
		if len(positions) == 0 {
			continue
		}
		for symbol, estimate := range o.monitorModule(ctx, module, positions) {
			out[symbol] = estimate
		}
	}
	return out
}

func (o *Orchestrator) monitorModule(ctx context.Context, module strategy.Module, positions []models.Position) (estimates map[string]float64) {
	defer func() {
		if r := recover(); r != nil {
			estimates = nil
			if o.Logger != nil {
				o.Logger.Error("module monitor panicked",
					zap.String("module", module.Name()),
					zap.Any("panic", r),
				)
			}
		}
	}()
	return module.Monitor(ctx, positions)
}

// regimeRisk rises from 0 to 1 as the day's realized losses approach the
// daily halt limit.
func (o *Orchestrator) regimeRisk(snap risk.Snapshot) float64 {
	if o.Risk == nil || o.Risk.Config.DailyLossPct <= 0 {
		return 0
	}
	limit := snap.TotalEquity.Mul(decimal.NewFromFloat(o.Risk.Config.DailyLossPct))
	if limit.LessThanOrEqual(decimal.Zero) || !snap.DailyRealizedPnL.IsNegative() {
		return 0
	}
	ratio := snap.DailyRealizedPnL.Neg().Div(limit).InexactFloat64()
	if ratio > 1 {
		return 1
	}
	return ratio
}

func (o *Orchestrator) executeExit(ctx context.Context, state *cycleState, pos models.Position, decision position.Decision) {
	qty := pos.Quantity.Mul(decision.Fraction)
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}
	opp := models.Opportunity{
		ModuleName:       pos.ModuleName,
		Symbol:           pos.Symbol,
		AssetClass:       pos.AssetClass,
		Action:           "exit",
		ProposedNotional: qty.Mul(pos.CurrentPrice),
		Confidence:       1,
		StrategyTag:      decision.Reason,
		DataSource:       state.summary.DataSource,
		CreatedAt:        time.Now().UTC(),
	}
	o.stampParams(&opp)
	if o.Repo != nil {
		if err := o.Repo.InsertOpportunity(ctx, &opp); err != nil && o.Logger != nil {
			o.Logger.Error("persist exit opportunity failed", zap.Error(err))
		}
	}

	final := o.executeOrder(ctx, state, broker.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        pos.Symbol,
		Side:          broker.SideSell,
		Quantity:      qty,
	})
	status := statusFromOrder(final)
	var realized decimal.Decimal
	if status == models.TradeStatusFilled {
		// Realized PnL uses the actual fill price, never a quote.
		realized = final.FilledAvgPrice.Sub(pos.AvgEntryPrice).Mul(final.FilledQty)
	}
	if _, err := o.Ledger.RecordExit(ctx, opp, final.OrderID, final.FilledQty, final.FilledAvgPrice, realized, status, decision.Reason, nil); err != nil {
		if o.Logger != nil {
			o.Logger.Error("record exit failed", zap.Error(err))
		}
		return
	}
	if status != models.TradeStatusFilled {
		return
	}
	state.summary.ExitsTriggered++
	state.summary.OrdersFilled++

	remaining := pos.Quantity.Sub(final.FilledQty)
	if o.Repo == nil {
		return
	}
	if remaining.LessThanOrEqual(decimal.Zero) {
		if err := o.Repo.ClosePosition(ctx, pos.ID, time.Now().UTC()); err != nil && o.Logger != nil {
			o.Logger.Error("close position failed", zap.Error(err))
		}
		return
	}
	rung := pos.LadderRung
	if decision.NewRung > rung {
		rung = decision.NewRung
	}
	if err := o.Repo.ReducePosition(ctx, pos.ID, remaining, rung); err != nil && o.Logger != nil {
		o.Logger.Error("reduce position failed", zap.Error(err))
	}
}

// executeOrder submits and then polls until the order reaches a terminal
// state. Recorded fill prices always come from the final order state.
func (o *Orchestrator) executeOrder(ctx context.Context, state *cycleState, req broker.OrderRequest) broker.OrderState {
	state.summary.OrdersSubmitted++
	orderID, err := o.Gateway.SubmitOrder(ctx, req)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Error("order submit failed",
				zap.String("symbol", req.Symbol),
				zap.String("side", req.Side),
				zap.Error(err),
			)
		}
		return broker.OrderState{Status: broker.OrderStatusRejected}
	}
	final, err := broker.WaitForTerminal(ctx, o.Gateway, orderID,
		o.Config.Cycle.FillPollInterval, o.Config.Cycle.FillPollTimeout)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Error("order did not reach terminal state",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		return broker.OrderState{OrderID: orderID, Status: broker.OrderStatusExpired}
	}
	return final
}

func (o *Orchestrator) maybeOptimize(ctx context.Context, state *cycleState, now time.Time) {
	if o.Optimizer == nil {
		return
	}
	everyN := o.Config.Cycle.OptimizeEveryN
	if everyN <= 0 {
		everyN = 60
	}
	o.mu.Lock()
	due := (o.cycleCount+1)%everyN == 0
	o.mu.Unlock()
	if !due || !o.Settings.IsEnabled(ctx, service.FeatureOptimizer, true) {
		return
	}
	proposals, err := o.Optimizer.Run(ctx, now)
	if err != nil {
		state.summary.Degraded = true
		if o.Logger != nil {
			o.Logger.Error("optimizer run failed", zap.Error(err))
		}
		return
	}
	o.ApplyParameterUpdates(ctx, proposals)
}

// ApplyParameterUpdates applies optimizer proposals through the parameter
// store's bounds check and writes one audit row per proposal, applied or not.
func (o *Orchestrator) ApplyParameterUpdates(ctx context.Context, proposals []optimizer.Proposal) {
	for _, p := range proposals {
		update := &models.ParameterUpdate{
			ModuleName:          p.ModuleName,
			Name:                p.Name,
			OldValue:            p.OldValue,
			NewValue:            p.NewValue,
			ExpectedImprovement: p.ExpectedImprovement,
			SampleSize:          p.SampleSize,
			Applied:             true,
		}
		if err := o.Params.Apply(ctx, p.ModuleName, p.Name, p.NewValue, p.SampleSize); err != nil {
			update.Applied = false
			update.RejectReason = err.Error()
		}
		if o.Logger != nil {
			o.Logger.Info("parameter update",
				zap.String("module", p.ModuleName),
				zap.String("name", p.Name),
				zap.Float64("old", p.OldValue),
				zap.Float64("new", p.NewValue),
				zap.Bool("applied", update.Applied),
				zap.String("reject_reason", update.RejectReason),
			)
		}
		if o.Repo != nil {
			if err := o.Repo.InsertParameterUpdate(ctx, update); err != nil && o.Logger != nil {
				o.Logger.Error("persist parameter update failed", zap.Error(err))
			}
		}
	}
}

// stampParams records the parameter values live at decision time: the
// module's own tunables plus the shared risk-engine and exit-policy values,
// the latter namespaced as "owner/name" so the optimizer attributes their
// outcomes to the owning module rather than the trade's module.
func (o *Orchestrator) stampParams(opp *models.Opportunity) {
	if o.Params == nil {
		return
	}
	merged := map[string]float64{}
	for name, value := range o.Params.Snapshot(opp.ModuleName) {
		merged[name] = value
	}
	for _, owner := range []string{risk.RiskModule, position.ExitModule} {
		if owner == opp.ModuleName {
			continue
		}
		for name, value := range o.Params.Snapshot(owner) {
			merged[owner+"/"+name] = value
		}
	}
	if len(merged) == 0 {
		return
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return
	}
	opp.ParamsSnapshot = datatypes.JSON(raw)
}

func (o *Orchestrator) quoteFor(symbol string) (decimal.Decimal, bool) {
	if o.Quotes == nil {
		return decimal.Zero, false
	}
	price, ok := o.Quotes.Quote(symbol)
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, false
	}
	return price, true
}

func statusFromOrder(state broker.OrderState) string {
	switch state.Status {
	case broker.OrderStatusFilled:
		return models.TradeStatusFilled
	case broker.OrderStatusCancelled:
		return models.TradeStatusCancelled
	case broker.OrderStatusRejected:
		return models.TradeStatusRejected
	default:
		return models.TradeStatusFailed
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
