package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/models"
)

// Repository is the persistence surface for the trading loop. Opportunity and
// trade-result writes are append-only; parameter state is key/value.
type Repository interface {
	// Ledger: opportunities and trade results.
	InsertOpportunity(ctx context.Context, item *models.Opportunity) error
	ListOpportunities(ctx context.Context, params ListOpportunitiesParams) ([]models.Opportunity, error)
	CountOpportunities(ctx context.Context, params ListOpportunitiesParams) (int64, error)

	InsertTradeResult(ctx context.Context, item *models.TradeResult) error
	ListTradeResults(ctx context.Context, params ListTradeResultsParams) ([]models.TradeResult, error)
	CountTradeResults(ctx context.Context, params ListTradeResultsParams) (int64, error)
	SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error)

	// Positions.
	UpsertPosition(ctx context.Context, item *models.Position) error
	GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error)
	ListOpenPositions(ctx context.Context) ([]models.Position, error)
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)
	CountPositions(ctx context.Context, params ListPositionsParams) (int64, error)
	ReducePosition(ctx context.Context, id uint64, newQty decimal.Decimal, ladderRung int) error
	ClosePosition(ctx context.Context, id uint64, closedAt time.Time) error

	// Portfolio snapshots.
	InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error
	ListPortfolioSnapshots(ctx context.Context, params ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error)
	DeletePortfolioSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)

	// Parameter state and audit.
	UpsertParameterRecord(ctx context.Context, item *models.ParameterRecord) error
	GetParameterRecord(ctx context.Context, moduleName, name string) (*models.ParameterRecord, error)
	ListParameterRecords(ctx context.Context, moduleName *string) ([]models.ParameterRecord, error)
	InsertParameterUpdate(ctx context.Context, item *models.ParameterUpdate) error
	ListParameterUpdates(ctx context.Context, params ListParameterUpdatesParams) ([]models.ParameterUpdate, error)

	// Cycle summaries.
	InsertCycleSummary(ctx context.Context, item *models.CycleSummary) error
	GetLatestCycleSummary(ctx context.Context) (*models.CycleSummary, error)
	ListCycleSummaries(ctx context.Context, params ListCycleSummariesParams) ([]models.CycleSummary, error)
	CountCycleSummaries(ctx context.Context, params ListCycleSummariesParams) (int64, error)

	// Module daily stats.
	UpsertModuleDailyStats(ctx context.Context, item *models.ModuleDailyStats) error
	ListModuleDailyStats(ctx context.Context, params ListDailyStatsParams) ([]models.ModuleDailyStats, error)

	// System settings.
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

type ListOpportunitiesParams struct {
	Limit      int
	Offset     int
	ModuleName *string
	Symbol     *string
	Action     *string
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}

type ListTradeResultsParams struct {
	Limit      int
	Offset     int
	ModuleName *string
	Symbol     *string
	Kind       *string
	Status     *string
	Since      *time.Time
	Until      *time.Time
	OrderBy    string
	Asc        *bool

	// WithOpportunity preloads the originating opportunity row.
	WithOpportunity bool
}

type ListPositionsParams struct {
	Limit      int
	Offset     int
	Status     *string
	ModuleName *string
	AssetClass *string
	OrderBy    string
	Asc        *bool
}

type ListPortfolioSnapshotsParams struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

type ListParameterUpdatesParams struct {
	Limit      int
	Offset     int
	ModuleName *string
	Applied    *bool
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}

type ListCycleSummariesParams struct {
	Limit    int
	Offset   int
	Degraded *bool
	Since    *time.Time
	OrderBy  string
	Asc      *bool
}

type ListDailyStatsParams struct {
	Limit      int
	Offset     int
	ModuleName *string
	Since      *time.Time
	Until      *time.Time
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
