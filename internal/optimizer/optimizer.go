package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/config"
	"autotrader/internal/ledger"
	"autotrader/internal/models"
	"autotrader/internal/params"
)

// Proposal is one suggested parameter change. The orchestrator decides
// whether to apply it; the optimizer never mutates live parameters itself.
type Proposal struct {
	ModuleName          string
	Name                string
	OldValue            float64
	NewValue            float64
	ExpectedImprovement float64
	Confidence          float64
	SampleSize          int
}

type sample struct {
	value   float64
	outcome float64
}

// Optimizer mines the recent trade window for parameter values that
// outperformed the current setting. Gatekeeping is deliberately strict: too
// few samples, too little value variance, or weak confidence all mean no
// proposal, and at most MaxChangesPerRun proposals survive one run.
type Optimizer struct {
	Config config.OptimizerConfig
	Ledger *ledger.Ledger
	Params *params.Store
	Logger *zap.Logger
}

func (o *Optimizer) Run(ctx context.Context, now time.Time) ([]Proposal, error) {
	if o == nil || o.Ledger == nil || o.Params == nil {
		return nil, nil
	}
	windowDays := o.Config.WindowDays
	if windowDays <= 0 {
		windowDays = 14
	}
	since := now.AddDate(0, 0, -windowDays)
	trades, err := o.Ledger.Window(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load optimizer window: %w", err)
	}

	groups := groupSamples(trades)
	var proposals []Proposal
	for key, samples := range groups {
		module, name := key.module, key.name
		rec, ok := o.Params.Record(module, name)
		if !ok {
			continue
		}
		p, ok := o.propose(rec, samples)
		if !ok {
			continue
		}
		proposals = append(proposals, p)
	}

	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].ExpectedImprovement > proposals[j].ExpectedImprovement
	})
	maxChanges := o.Config.MaxChangesPerRun
	if maxChanges <= 0 {
		maxChanges = 3
	}
	if len(proposals) > maxChanges {
		proposals = proposals[:maxChanges]
	}
	if o.Logger != nil {
		o.Logger.Info("optimizer run finished",
			zap.Int("window_trades", len(trades)),
			zap.Int("groups", len(groups)),
			zap.Int("proposals", len(proposals)),
		)
	}
	return proposals, nil
}

type groupKey struct {
	module string
	name   string
}

// groupSamples attributes each filled exit's outcome to the parameter values
// that were live when its opportunity was generated. Outcomes are realized
// PnL as a fraction of the exit notional. Bare snapshot keys belong to the
// trade's own module; "owner/name" keys belong to the shared engine that
// declared them (risk engine, exit policy).
func groupSamples(trades []models.TradeResult) map[groupKey][]sample {
	out := map[groupKey][]sample{}
	for _, tr := range trades {
		if tr.Kind != models.TradeKindExit || tr.Status != models.TradeStatusFilled {
			continue
		}
		if tr.RealizedPnL == nil {
			continue
		}
		notional := tr.FilledQty.Mul(tr.FilledPrice)
		if notional.IsZero() {
			continue
		}
		outcome := tr.RealizedPnL.Div(notional).InexactFloat64()
		if len(tr.Opportunity.ParamsSnapshot) == 0 {
			continue
		}
		var snapshot map[string]float64
		if err := json.Unmarshal(tr.Opportunity.ParamsSnapshot, &snapshot); err != nil {
			continue
		}
		for name, value := range snapshot {
			module := tr.ModuleName
			if owner, bare, found := strings.Cut(name, "/"); found {
				module, name = owner, bare
			}
			key := groupKey{module: module, name: name}
			out[key] = append(out[key], sample{value: value, outcome: outcome})
		}
	}
	return out
}

func (o *Optimizer) propose(rec models.ParameterRecord, samples []sample) (Proposal, bool) {
	minSamples := o.Config.MinSamples
	if minSamples <= 0 {
		minSamples = 20
	}
	if len(samples) < minSamples {
		return Proposal{}, false
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.value
	}
	minVar := o.Config.MinValueVariance
	if minVar <= 0 {
		minVar = 1e-6
	}
	if varianceOf(values) < minVar {
		return Proposal{}, false
	}

	var p Proposal
	var ok bool
	switch rec.ValueType {
	case models.ParamTypeDiscrete:
		p, ok = o.proposeDiscrete(rec, samples)
	default:
		p, ok = o.proposeContinuous(rec, samples)
	}
	if !ok {
		return Proposal{}, false
	}
	minConf := o.Config.MinConfidence
	if minConf <= 0 {
		minConf = 0.6
	}
	if p.Confidence < minConf {
		return Proposal{}, false
	}
	if p.ExpectedImprovement <= 0 {
		return Proposal{}, false
	}
	if math.Abs(p.NewValue-p.OldValue) < 1e-9 {
		return Proposal{}, false
	}
	if !rec.InBounds(p.NewValue) {
		return Proposal{}, false
	}
	return p, true
}

// proposeContinuous fits a quadratic surrogate over (value, outcome) pairs
// and picks the candidate maximizing predicted outcome plus an exploration
// bonus for regions far from already sampled values.
func (o *Optimizer) proposeContinuous(rec models.ParameterRecord, samples []sample) (Proposal, bool) {
	if rec.MaxBound <= rec.MinBound {
		return Proposal{}, false
	}
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.value
		ys[i] = s.outcome
	}
	a, b, c, r2, ok := fitQuadratic(xs, ys)
	if !ok {
		return Proposal{}, false
	}

	spread := math.Sqrt(varianceOf(ys))
	span := rec.MaxBound - rec.MinBound
	bonus := o.Config.ExplorationBonus

	const steps = 40
	bestValue := rec.Value
	bestScore := math.Inf(-1)
	for i := 0; i <= steps; i++ {
		v := rec.MinBound + span*float64(i)/steps
		score := predictQuadratic(a, b, c, v)
		if bonus > 0 && spread > 0 {
			score += bonus * spread * nearestDistance(v, xs) / span
		}
		if score > bestScore {
			bestScore = score
			bestValue = v
		}
	}

	improvement := predictQuadratic(a, b, c, bestValue) - predictQuadratic(a, b, c, rec.Value)
	return Proposal{
		ModuleName:          rec.ModuleName,
		Name:                rec.Name,
		OldValue:            rec.Value,
		NewValue:            bestValue,
		ExpectedImprovement: improvement,
		Confidence:          r2,
		SampleSize:          len(samples),
	}, true
}

// proposeDiscrete compares mean outcome per observed value, requiring a
// minimum support behind each candidate before trusting its mean.
func (o *Optimizer) proposeDiscrete(rec models.ParameterRecord, samples []sample) (Proposal, bool) {
	minSupport := o.Config.MinSamples / 2
	if minSupport < 5 {
		minSupport = 5
	}
	byValue := map[float64][]float64{}
	for _, s := range samples {
		byValue[s.value] = append(byValue[s.value], s.outcome)
	}

	current, hasCurrent := byValue[rec.Value]
	bestValue := rec.Value
	bestMean := math.Inf(-1)
	var bestOutcomes []float64
	for value, outcomes := range byValue {
		if len(outcomes) < minSupport {
			continue
		}
		m := meanOf(outcomes)
		if m > bestMean {
			bestMean = m
			bestValue = value
			bestOutcomes = outcomes
		}
	}
	if math.IsInf(bestMean, -1) || bestValue == rec.Value {
		return Proposal{}, false
	}

	currentMean := 0.0
	currentVar := 0.0
	currentN := 1
	if hasCurrent && len(current) > 0 {
		currentMean = meanOf(current)
		currentVar = varianceOf(current)
		currentN = len(current)
	}
	se := math.Sqrt(varianceOf(bestOutcomes)/float64(len(bestOutcomes)) + currentVar/float64(currentN))
	improvement := bestMean - currentMean
	confidence := 1.0
	if se > 0 {
		t := improvement / se
		if t <= 0 {
			return Proposal{}, false
		}
		confidence = t / (1 + t)
	}
	return Proposal{
		ModuleName:          rec.ModuleName,
		Name:                rec.Name,
		OldValue:            rec.Value,
		NewValue:            bestValue,
		ExpectedImprovement: improvement,
		Confidence:          confidence,
		SampleSize:          len(samples),
	}, true
}

func nearestDistance(v float64, xs []float64) float64 {
	best := math.Inf(1)
	for _, x := range xs {
		d := math.Abs(v - x)
		if d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		return 0
	}
	return best
}
