package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// DecisionRecord is the append-only audit trail of everything the system
// decided, with the reasoning that produced it.
type DecisionRecord struct {
	ID            uuid.UUID      `gorm:"primaryKey;type:uuid" json:"id"`
	Gameweek      int            `gorm:"not null;index" json:"gameweek"`
	Kind          string         `gorm:"not null;index" json:"kind"` // team-selection, transfer, captain, chip, rankings, analysis
	Data          datatypes.JSON `gorm:"type:jsonb" json:"data"`
	Reasoning     string         `json:"reasoning"`
	ExpectedValue float64        `json:"expected_value"`
	Confidence    float64        `json:"confidence"`
	Agent         string         `gorm:"index" json:"agent"`
	CreatedAt     time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (DecisionRecord) TableName() string { return "decisions" }

// PlayerPrediction is keyed by (player-code, gameweek); the most recent
// prediction for the key wins on re-run. Actual and Error are filled by the
// learning store after the gameweek completes.
type PlayerPrediction struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PlayerCode      int64     `gorm:"not null;uniqueIndex:idx_pred_code_gw" json:"player_code"`
	PlayerID        int       `gorm:"not null;index" json:"player_id"`
	Gameweek        int       `gorm:"not null;uniqueIndex:idx_pred_code_gw" json:"gameweek"`
	PredictedPoints float64   `gorm:"not null" json:"predicted_points"`
	Confidence      float64   `json:"confidence"`
	ModelVersion    string    `json:"model_version"`
	ActualPoints    *float64  `json:"actual_points"`
	Error           *float64  `json:"error"`
	CreatedAt       time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (PlayerPrediction) TableName() string { return "player_predictions" }

// LearningMetric is one bias-correction cell, keyed by scope ("position" or
// "bracket") and the key within it. MeanError is signed (predicted - actual):
// a positive value means the models over-predict for the cell.
type LearningMetric struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Scope       string    `gorm:"not null;uniqueIndex:idx_metric_scope_key" json:"scope"`
	Key         string    `gorm:"not null;uniqueIndex:idx_metric_scope_key" json:"key"`
	SampleCount int       `gorm:"not null;default:0" json:"sample_count"`
	MeanError   float64   `json:"mean_error"`
	MAE         float64   `json:"mae"`
	Gameweek    int       `json:"gameweek"` // last gameweek folded in
	UpdatedAt   time.Time `json:"updated_at"`
}

func (LearningMetric) TableName() string { return "learning_metrics" }

// AgentPerformance is a periodic health snapshot per agent.
type AgentPerformance struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Agent           string         `gorm:"not null;index" json:"agent"`
	Running         bool           `json:"running"`
	EventsProcessed int64          `json:"events_processed"`
	EventsPublished int64          `json:"events_published"`
	LastError       string         `json:"last_error"`
	SubscribedKinds pq.StringArray `gorm:"type:text[]" json:"subscribed_kinds"`
	SnapshotAt      time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"snapshot_at"`
}

func (AgentPerformance) TableName() string { return "agent_performance" }

// ModelRegistryEntry describes one loaded prediction artifact.
type ModelRegistryEntry struct {
	ID       uint           `gorm:"primaryKey" json:"id"`
	Position string         `gorm:"not null;uniqueIndex:idx_model_pos_version" json:"position"`
	Version  string         `gorm:"not null;uniqueIndex:idx_model_pos_version" json:"version"`
	Path     string         `json:"path"`
	Features pq.StringArray `gorm:"type:text[]" json:"features"`
	Active   bool           `gorm:"default:true" json:"active"`
	LoadedAt time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"loaded_at"`
}

func (ModelRegistryEntry) TableName() string { return "model_registry" }

// ModelPrediction is the raw (pre-adjustment) model output for audit.
type ModelPrediction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ModelVersion string    `gorm:"not null;index" json:"model_version"`
	PlayerCode   int64     `gorm:"not null" json:"player_code"`
	Gameweek     int       `gorm:"not null;index" json:"gameweek"`
	Raw          float64   `json:"raw"`
	Adjusted     float64   `json:"adjusted"`
	CreatedAt    time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ModelPrediction) TableName() string { return "model_predictions" }

// ModelPerformance aggregates per-model accuracy per completed gameweek.
type ModelPerformance struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ModelVersion string    `gorm:"not null;uniqueIndex:idx_perf_version_gw" json:"model_version"`
	Gameweek     int       `gorm:"not null;uniqueIndex:idx_perf_version_gw" json:"gameweek"`
	MAE          float64   `json:"mae"`
	Bias         float64   `json:"bias"`
	SampleCount  int       `json:"sample_count"`
	CreatedAt    time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ModelPerformance) TableName() string { return "model_performance" }
