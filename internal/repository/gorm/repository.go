package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- ledger ------------------------------------------------------------------

func (s *Store) InsertOpportunity(ctx context.Context, item *models.Opportunity) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) ([]models.Opportunity, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.opportunityQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Opportunity
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOpportunities(ctx context.Context, params repository.ListOpportunitiesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.opportunityQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) opportunityQuery(ctx context.Context, params repository.ListOpportunitiesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Opportunity{})
	if params.ModuleName != nil && strings.TrimSpace(*params.ModuleName) != "" {
		query = query.Where("module_name = ?", strings.TrimSpace(*params.ModuleName))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("action = ?", strings.TrimSpace(*params.Action))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) InsertTradeResult(ctx context.Context, item *models.TradeResult) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTradeResults(ctx context.Context, params repository.ListTradeResultsParams) ([]models.TradeResult, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.tradeResultQuery(ctx, params)
	if params.WithOpportunity {
		query = query.Preload("Opportunity")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.TradeResult
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTradeResults(ctx context.Context, params repository.ListTradeResultsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.tradeResultQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) tradeResultQuery(ctx context.Context, params repository.ListTradeResultsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.TradeResult{})
	if params.ModuleName != nil && strings.TrimSpace(*params.ModuleName) != "" {
		query = query.Where("module_name = ?", strings.TrimSpace(*params.ModuleName))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("created_at < ?", *params.Until)
	}
	return query
}

func (s *Store) SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var raw *string
	err := s.db.WithContext(ctx).
		Model(&models.TradeResult{}).
		Select("COALESCE(SUM(realized_pnl), 0)::text").
		Where("kind = ?", models.TradeKindExit).
		Where("realized_pnl IS NOT NULL").
		Where("created_at >= ?", since).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// --- positions ---------------------------------------------------------------

func (s *Store) UpsertPosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Symbol) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"asset_class",
			"module_name",
			"quantity",
			"avg_entry_price",
			"current_price",
			"ladder_rung",
			"status",
			"opened_at",
			"closed_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).Model(&models.Position{}).Where("symbol = ?", symbol).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	if err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("status = ?", "open").
		Order("opened_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.positionQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "opened_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Position
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.positionQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) positionQuery(ctx context.Context, params repository.ListPositionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.ModuleName != nil && strings.TrimSpace(*params.ModuleName) != "" {
		query = query.Where("module_name = ?", strings.TrimSpace(*params.ModuleName))
	}
	if params.AssetClass != nil && strings.TrimSpace(*params.AssetClass) != "" {
		query = query.Where("asset_class = ?", strings.TrimSpace(*params.AssetClass))
	}
	return query
}

func (s *Store) ReducePosition(ctx context.Context, id uint64, newQty decimal.Decimal, ladderRung int) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"quantity":    newQty,
			"ladder_rung": ladderRung,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (s *Store) ClosePosition(ctx context.Context, id uint64, closedAt time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     "closed",
			"quantity":   decimal.Zero,
			"closed_at":  closedAt,
			"updated_at": closedAt,
		}).Error
}

// --- portfolio snapshots -----------------------------------------------------

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PortfolioSnapshot{})
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("snapshot_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("snapshot_at < ?", *params.Until)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.PortfolioSnapshot
	if err := query.Order("snapshot_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeletePortfolioSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil || before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("snapshot_at < ?", before).
		Delete(&models.PortfolioSnapshot{})
	return res.RowsAffected, res.Error
}

// --- parameters --------------------------------------------------------------

func (s *Store) UpsertParameterRecord(ctx context.Context, item *models.ParameterRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.ModuleName) == "" || strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "module_name"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"value_type",
			"min_bound",
			"max_bound",
			"allowed_values",
			"sample_size",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetParameterRecord(ctx context.Context, moduleName, name string) (*models.ParameterRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	moduleName = strings.TrimSpace(moduleName)
	name = strings.TrimSpace(name)
	if moduleName == "" || name == "" {
		return nil, nil
	}
	var item models.ParameterRecord
	err := s.db.WithContext(ctx).
		Model(&models.ParameterRecord{}).
		Where("module_name = ?", moduleName).
		Where("name = ?", name).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListParameterRecords(ctx context.Context, moduleName *string) ([]models.ParameterRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ParameterRecord{})
	if moduleName != nil && strings.TrimSpace(*moduleName) != "" {
		query = query.Where("module_name = ?", strings.TrimSpace(*moduleName))
	}
	var items []models.ParameterRecord
	if err := query.Order("module_name asc, name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertParameterUpdate(ctx context.Context, item *models.ParameterUpdate) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListParameterUpdates(ctx context.Context, params repository.ListParameterUpdatesParams) ([]models.ParameterUpdate, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ParameterUpdate{})
	if params.ModuleName != nil && strings.TrimSpace(*params.ModuleName) != "" {
		query = query.Where("module_name = ?", strings.TrimSpace(*params.ModuleName))
	}
	if params.Applied != nil {
		query = query.Where("applied = ?", *params.Applied)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.ParameterUpdate
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- cycle summaries ---------------------------------------------------------

func (s *Store) InsertCycleSummary(ctx context.Context, item *models.CycleSummary) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetLatestCycleSummary(ctx context.Context) (*models.CycleSummary, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CycleSummary
	err := s.db.WithContext(ctx).
		Model(&models.CycleSummary{}).
		Order("started_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCycleSummaries(ctx context.Context, params repository.ListCycleSummariesParams) ([]models.CycleSummary, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.cycleSummaryQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "started_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.CycleSummary
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCycleSummaries(ctx context.Context, params repository.ListCycleSummariesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.cycleSummaryQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) cycleSummaryQuery(ctx context.Context, params repository.ListCycleSummariesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.CycleSummary{})
	if params.Degraded != nil {
		query = query.Where("degraded = ?", *params.Degraded)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("started_at >= ?", *params.Since)
	}
	return query
}

// --- module daily stats ------------------------------------------------------

func (s *Store) UpsertModuleDailyStats(ctx context.Context, item *models.ModuleDailyStats) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.ModuleName) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "module_name"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"trades_count",
			"win_count",
			"loss_count",
			"pnl",
			"avg_confidence",
			"avg_hold_hours",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListModuleDailyStats(ctx context.Context, params repository.ListDailyStatsParams) ([]models.ModuleDailyStats, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ModuleDailyStats{})
	if params.ModuleName != nil && strings.TrimSpace(*params.ModuleName) != "" {
		query = query.Where("module_name = ?", strings.TrimSpace(*params.ModuleName))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("date >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("date <= ?", *params.Until)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.ModuleDailyStats
	if err := query.Order("date desc, module_name asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- system settings ---------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.systemSettingQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.systemSettingQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) systemSettingQuery(ctx context.Context, params repository.ListSystemSettingsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	return query
}

// --- helpers -----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)
