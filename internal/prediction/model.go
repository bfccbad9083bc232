package prediction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// Model is an opaque scorer: features in, expected points out. Artifacts
// are evaluated, never trained, here.
type Model interface {
	Predict(features []float64) float64
	Version() string
	Features() []string
}

// LinearModel is a weight vector plus intercept over a named feature
// ordering. This is the artifact shape the registry loads from disk.
type LinearModel struct {
	ModelVersion string    `json:"version"`
	FeatureNames []string  `json:"features"`
	Weights      []float64 `json:"weights"`
	Intercept    float64   `json:"intercept"`
}

func (m *LinearModel) Predict(features []float64) float64 {
	if len(features) != len(m.Weights) {
		return 0
	}
	return floats.Dot(m.Weights, features) + m.Intercept
}

func (m *LinearModel) Version() string    { return m.ModelVersion }
func (m *LinearModel) Features() []string { return m.FeatureNames }

// Registry holds the per-position models. Positions without an artifact
// fall back to the form-based estimate.
type Registry struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	models map[models.Position]Model
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger: logger,
		models: make(map[models.Position]Model),
	}
}

// artifact file names per position inside the models directory.
var artifactNames = map[models.Position]string{
	models.Goalkeeper: "gk.json",
	models.Defender:   "def.json",
	models.Midfielder: "mid.json",
	models.Forward:    "fwd.json",
}

// LoadDir loads every position artifact present in dir. Missing files are
// not errors: those positions use the fallback. Returns how many loaded.
func (r *Registry) LoadDir(dir string) int {
	loaded := 0
	for pos, name := range artifactNames {
		path := filepath.Join(dir, name)
		model, err := loadArtifact(path)
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.WithError(err).WithField("path", path).Warn("Failed to load model artifact")
			}
			continue
		}
		r.Register(pos, model)
		loaded++
	}
	r.logger.WithFields(logrus.Fields{
		"dir":    dir,
		"loaded": loaded,
	}).Info("Model artifacts loaded")
	return loaded
}

func loadArtifact(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var model LinearModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact %s: %w", path, err)
	}
	if len(model.Weights) != len(model.FeatureNames) {
		return nil, fmt.Errorf("model artifact %s: %d weights for %d features",
			path, len(model.Weights), len(model.FeatureNames))
	}
	return &model, nil
}

// Register installs a model for a position, replacing any previous one.
func (r *Registry) Register(pos models.Position, model Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[pos] = model
}

// For returns the model for a position, or nil when absent.
func (r *Registry) For(pos models.Position) Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[pos]
}

// Positions lists the positions with a loaded model.
func (r *Registry) Positions() []models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Position, 0, len(r.models))
	for _, pos := range models.AllPositions {
		if _, ok := r.models[pos]; ok {
			out = append(out, pos)
		}
	}
	return out
}
