package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// RecordDecision appends one decision to the audit trail. Decisions are
// immutable once written.
func (r *Repository) RecordDecision(ctx context.Context, decision *models.DecisionRecord) error {
	if decision.ID == uuid.Nil {
		decision.ID = uuid.New()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}
	if err := r.conn(ctx).Create(decision).Error; err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// DecisionsForGameweek returns the decisions logged against one gameweek,
// newest first.
func (r *Repository) DecisionsForGameweek(ctx context.Context, gameweek int) ([]models.DecisionRecord, error) {
	var decisions []models.DecisionRecord
	err := r.conn(ctx).Where("gameweek = ?", gameweek).
		Order("created_at DESC").Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load gameweek %d decisions: %w", gameweek, err)
	}
	return decisions, nil
}

// RecentDecisions returns the latest decisions across all gameweeks.
func (r *Repository) RecentDecisions(ctx context.Context, limit int) ([]models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var decisions []models.DecisionRecord
	if err := r.conn(ctx).Order("created_at DESC").Limit(limit).Find(&decisions).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent decisions: %w", err)
	}
	return decisions, nil
}

// UpsertPredictions writes prediction rows keyed by (player-code, gameweek).
// Re-running a prediction for the same key replaces it: most recent wins.
func (r *Repository) UpsertPredictions(ctx context.Context, rows []models.PlayerPrediction) error {
	if len(rows) == 0 {
		return nil
	}
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			rows[i].UpdatedAt = time.Now().UTC()
			var existing models.PlayerPrediction
			err := tx.Where("player_code = ? AND gameweek = ?", rows[i].PlayerCode, rows[i].Gameweek).
				First(&existing).Error
			if err == nil {
				rows[i].ID = existing.ID
				rows[i].CreatedAt = existing.CreatedAt
				if err := tx.Model(&existing).Select("*").Omit("id", "created_at").Updates(&rows[i]).Error; err != nil {
					return fmt.Errorf("failed to update prediction for code %d gw %d: %w",
						rows[i].PlayerCode, rows[i].Gameweek, err)
				}
				continue
			}
			if !notFound(err) {
				return err
			}
			if err := tx.Create(&rows[i]).Error; err != nil {
				return fmt.Errorf("failed to create prediction for code %d gw %d: %w",
					rows[i].PlayerCode, rows[i].Gameweek, err)
			}
		}
		return nil
	})
}

// PredictionsForGameweek returns every prediction row for one gameweek.
func (r *Repository) PredictionsForGameweek(ctx context.Context, gameweek int) ([]models.PlayerPrediction, error) {
	var rows []models.PlayerPrediction
	if err := r.conn(ctx).Where("gameweek = ?", gameweek).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load gameweek %d predictions: %w", gameweek, err)
	}
	return rows, nil
}

// FillPredictionOutcome writes the observed points and signed error onto a
// prediction row after its gameweek completes.
func (r *Repository) FillPredictionOutcome(ctx context.Context, playerCode int64, gameweek int, actual float64) error {
	var row models.PlayerPrediction
	err := r.conn(ctx).Where("player_code = ? AND gameweek = ?", playerCode, gameweek).First(&row).Error
	if err != nil {
		if notFound(err) {
			return fmt.Errorf("%w: prediction for code %d gw %d", ErrNotFound, playerCode, gameweek)
		}
		return err
	}
	predErr := row.PredictedPoints - actual
	return r.conn(ctx).Model(&row).Updates(map[string]interface{}{
		"actual_points": actual,
		"error":         predErr,
		"updated_at":    time.Now().UTC(),
	}).Error
}

// GetLearningMetrics returns every bias-correction cell.
func (r *Repository) GetLearningMetrics(ctx context.Context) ([]models.LearningMetric, error) {
	var metrics []models.LearningMetric
	if err := r.conn(ctx).Find(&metrics).Error; err != nil {
		return nil, fmt.Errorf("failed to load learning metrics: %w", err)
	}
	return metrics, nil
}

// UpsertLearningMetric writes one bias-correction cell keyed by (scope, key).
func (r *Repository) UpsertLearningMetric(ctx context.Context, metric *models.LearningMetric) error {
	metric.UpdatedAt = time.Now().UTC()
	var existing models.LearningMetric
	err := r.conn(ctx).Where("scope = ? AND key = ?", metric.Scope, metric.Key).First(&existing).Error
	if err == nil {
		metric.ID = existing.ID
		return r.conn(ctx).Model(&existing).Select("*").Omit("id").Updates(metric).Error
	}
	if !notFound(err) {
		return fmt.Errorf("failed to load metric %s/%s: %w", metric.Scope, metric.Key, err)
	}
	if err := r.conn(ctx).Create(metric).Error; err != nil {
		return fmt.Errorf("failed to create metric %s/%s: %w", metric.Scope, metric.Key, err)
	}
	return nil
}

// SnapshotAgentPerformance appends one health snapshot per agent.
func (r *Repository) SnapshotAgentPerformance(ctx context.Context, rows []models.AgentPerformance) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].SnapshotAt.IsZero() {
			rows[i].SnapshotAt = time.Now().UTC()
		}
	}
	if err := r.conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to snapshot agent performance: %w", err)
	}
	return nil
}

// RegisterModel records one loaded prediction artifact, replacing the row
// for the same (position, version).
func (r *Repository) RegisterModel(ctx context.Context, entry *models.ModelRegistryEntry) error {
	entry.LoadedAt = time.Now().UTC()
	var existing models.ModelRegistryEntry
	err := r.conn(ctx).Where("position = ? AND version = ?", entry.Position, entry.Version).
		First(&existing).Error
	if err == nil {
		entry.ID = existing.ID
		return r.conn(ctx).Model(&existing).Select("*").Omit("id").Updates(entry).Error
	}
	if !notFound(err) {
		return fmt.Errorf("failed to load model registry row: %w", err)
	}
	if err := r.conn(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to register model %s/%s: %w", entry.Position, entry.Version, err)
	}
	return nil
}

// RecordModelPredictions appends raw model outputs for audit.
func (r *Repository) RecordModelPredictions(ctx context.Context, rows []models.ModelPrediction) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to record model predictions: %w", err)
	}
	return nil
}

// UpsertModelPerformance writes one accuracy row keyed by (version, gameweek).
func (r *Repository) UpsertModelPerformance(ctx context.Context, perf *models.ModelPerformance) error {
	var existing models.ModelPerformance
	err := r.conn(ctx).Where("model_version = ? AND gameweek = ?", perf.ModelVersion, perf.Gameweek).
		First(&existing).Error
	if err == nil {
		perf.ID = existing.ID
		perf.CreatedAt = existing.CreatedAt
		return r.conn(ctx).Model(&existing).Select("*").Omit("id", "created_at").Updates(perf).Error
	}
	if !notFound(err) {
		return fmt.Errorf("failed to load model performance row: %w", err)
	}
	if err := r.conn(ctx).Create(perf).Error; err != nil {
		return fmt.Errorf("failed to record model performance: %w", err)
	}
	return nil
}
