package strategy

import (
	"context"

	"autotrader/internal/models"
	"autotrader/internal/risk"
)

// Module is one decision module. Analyze observes current prices and returns
// entry opportunities; it never submits orders itself. Monitor estimates, for
// each open position the module owns, the probability that the entry signal
// has reversed, in [0,1]; symbols the module has no view on are absent from
// the result. Declarations lists the module's tunable parameters for the
// parameter store.
type Module interface {
	Name() string
	AssetClass() string
	Symbols() []string
	Declarations() []models.ParameterRecord
	Analyze(ctx context.Context, snap risk.Snapshot) ([]models.Opportunity, error)
	Monitor(ctx context.Context, positions []models.Position) map[string]float64
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
