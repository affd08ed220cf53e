package params

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/models"
	"autotrader/internal/repository"
)

// Store holds the live values of every tunable decision parameter. Modules
// and the risk engine read through it; the only write path is Apply, invoked
// by the orchestrator when it accepts an optimizer proposal.
type Store struct {
	Repo   repository.Repository
	Logger *zap.Logger

	mu      sync.RWMutex
	records map[string]map[string]models.ParameterRecord
}

func key(module string) string { return strings.TrimSpace(module) }

// Declare registers a parameter with its default value and bounds. An already
// persisted record wins over the declared default so tuned values survive
// restarts.
func (s *Store) Declare(ctx context.Context, rec models.ParameterRecord) error {
	if s == nil {
		return nil
	}
	rec.ModuleName = key(rec.ModuleName)
	rec.Name = strings.TrimSpace(rec.Name)
	if rec.ModuleName == "" || rec.Name == "" {
		return fmt.Errorf("parameter declaration needs module and name")
	}
	if s.Repo != nil {
		existing, err := s.Repo.GetParameterRecord(ctx, rec.ModuleName, rec.Name)
		if err != nil {
			return fmt.Errorf("load parameter %s/%s: %w", rec.ModuleName, rec.Name, err)
		}
		if existing != nil {
			rec.Value = existing.Value
			rec.SampleSize = existing.SampleSize
		}
		now := time.Now().UTC()
		rec.UpdatedAt = now
		if err := s.Repo.UpsertParameterRecord(ctx, &rec); err != nil {
			return fmt.Errorf("persist parameter %s/%s: %w", rec.ModuleName, rec.Name, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = map[string]map[string]models.ParameterRecord{}
	}
	if s.records[rec.ModuleName] == nil {
		s.records[rec.ModuleName] = map[string]models.ParameterRecord{}
	}
	s.records[rec.ModuleName][rec.Name] = rec
	return nil
}

// Value returns the current value or the fallback when undeclared.
func (s *Store) Value(module, name string, fallback float64) float64 {
	if s == nil {
		return fallback
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byName, ok := s.records[key(module)]; ok {
		if rec, ok := byName[strings.TrimSpace(name)]; ok {
			return rec.Value
		}
	}
	return fallback
}

// Record returns a copy of the declared record, if any.
func (s *Store) Record(module, name string) (models.ParameterRecord, bool) {
	if s == nil {
		return models.ParameterRecord{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName, ok := s.records[key(module)]
	if !ok {
		return models.ParameterRecord{}, false
	}
	rec, ok := byName[strings.TrimSpace(name)]
	return rec, ok
}

// Snapshot returns the parameter values for one module, used to stamp
// opportunities for later attribution.
func (s *Store) Snapshot(module string) map[string]float64 {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName, ok := s.records[key(module)]
	if !ok || len(byName) == 0 {
		return nil
	}
	out := make(map[string]float64, len(byName))
	for name, rec := range byName {
		out[name] = rec.Value
	}
	return out
}

// Modules lists the modules with declared parameters.
func (s *Store) Modules() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for module := range s.records {
		out = append(out, module)
	}
	return out
}

// Apply mutates a declared parameter after bounds verification and persists
// the new value. Out-of-bounds values are rejected, never clamped.
func (s *Store) Apply(ctx context.Context, module, name string, value float64, sampleSize int) error {
	if s == nil {
		return fmt.Errorf("parameter store is nil")
	}
	module = key(module)
	name = strings.TrimSpace(name)

	s.mu.Lock()
	byName, ok := s.records[module]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("module %q has no declared parameters", module)
	}
	rec, ok := byName[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("parameter %s/%s is not declared", module, name)
	}
	if !rec.InBounds(value) {
		s.mu.Unlock()
		return fmt.Errorf("parameter %s/%s: value %v out of bounds [%v, %v]", module, name, value, rec.MinBound, rec.MaxBound)
	}
	rec.Value = value
	rec.SampleSize = sampleSize
	rec.UpdatedAt = time.Now().UTC()
	byName[name] = rec
	s.mu.Unlock()

	if s.Repo != nil {
		if err := s.Repo.UpsertParameterRecord(ctx, &rec); err != nil {
			return fmt.Errorf("persist parameter %s/%s: %w", module, name, err)
		}
	}
	if s.Logger != nil {
		s.Logger.Info("parameter applied",
			zap.String("module", module),
			zap.String("name", name),
			zap.Float64("value", value),
			zap.Int("sample_size", sampleSize),
		)
	}
	return nil
}
