package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

const (
	// FeatureEntries is the kill-switch: when off, the loop stops opening new
	// positions but keeps managing exits for the ones already open.
	FeatureEntries = "feature.entries"

	FeatureCycle             = "feature.cycle"
	FeatureOptimizer         = "feature.optimizer"
	FeaturePortfolioSnapshot = "feature.portfolio_snapshot"
	FeatureDailyStats        = "feature.daily_stats"
	FeatureQuoteStream       = "feature.quote_stream"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureEntries:           true,
		FeatureCycle:             true,
		FeatureOptimizer:         true,
		FeaturePortfolioSnapshot: true,
		FeatureDailyStats:        true,
		FeatureQuoteStream:       false, // requires broker.stream_url
	}
}

type SystemSettingsService struct {
	Repo repository.Repository
}

func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			// Upgrade OFF → ON: if the default is now true but the stored
			// value is false, update it. Never turn an ON switch OFF. The
			// kill-switch is operator-owned and never auto-upgraded.
			if enabled && key != FeatureEntries {
				var current bool
				if err := json.Unmarshal(existing.Value, &current); err == nil && !current {
					raw, _ := json.Marshal(true)
					existing.Value = datatypes.JSON(raw)
					existing.UpdatedAt = now
					if err := s.Repo.UpsertSystemSetting(ctx, existing); err != nil {
						return err
					}
				}
			}
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}
