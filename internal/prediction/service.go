package prediction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// Options suppress the post-model adjustments when a caller wants raw
// output (e.g. for explanation or evaluation).
type Options struct {
	SkipBiasCorrection bool
	SkipNewsAdjustment bool
}

// Explanation is the breakdown returned by ExplainPrediction.
type Explanation struct {
	PlayerID      int                `json:"player_id"`
	Name          string             `json:"name"`
	Gameweek      int                `json:"gameweek"`
	Raw           float64            `json:"raw"`
	BiasApplied   float64            `json:"bias_applied"`
	NewsFactor    float64            `json:"news_factor"`
	Final         float64            `json:"final"`
	ModelVersion  string             `json:"model_version"`
	UsedFallback  bool               `json:"used_fallback"`
	FeatureVector map[string]float64 `json:"features"`
}

// ModelInfo describes the loaded artifacts.
type ModelInfo struct {
	Positions      []string `json:"positions"`
	Versions       []string `json:"versions"`
	FeatureColumns []string `json:"feature_columns"`
	FallbackInUse  bool     `json:"fallback_in_use"`
}

// Service is the synchronous prediction facade. It assembles features per
// player, invokes the position model (or the form fallback), applies the
// learning store's bias corrections and scales down doubtful players.
type Service struct {
	repo     *storage.Repository
	registry *Registry
	logger   *logrus.Logger

	mu               sync.Mutex
	fallbackReported map[models.Position]bool
}

// NewService wires the facade.
func NewService(repo *storage.Repository, registry *Registry, logger *logrus.Logger) *Service {
	return &Service{
		repo:             repo,
		registry:         registry,
		logger:           logger,
		fallbackReported: make(map[models.Position]bool),
	}
}

// PredictPoints returns expected points per requested player id for the
// gameweek. Missing ids map to 0. Results persist to player_predictions
// (most recent wins) with raw outputs logged for audit.
func (s *Service) PredictPoints(ctx context.Context, playerIDs []int, gameweek int, opts Options) (map[int]float64, error) {
	if len(playerIDs) == 0 {
		return map[int]float64{}, nil
	}

	corrections, err := s.loadCorrections(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Bias corrections unavailable; predicting uncorrected")
		corrections = nil
	}

	out := make(map[int]float64, len(playerIDs))
	var predictionRows []models.PlayerPrediction
	var auditRows []models.ModelPrediction

	for _, id := range playerIDs {
		player, err := s.repo.GetPlayer(ctx, id)
		if err != nil {
			out[id] = 0
			continue
		}

		raw, version, _ := s.rawPredict(ctx, player, gameweek)
		final := raw
		if !opts.SkipBiasCorrection && corrections != nil {
			final += corrections.offsetFor(player)
		}
		if !opts.SkipNewsAdjustment {
			final *= models.PlayingChance(player.Status, player.ChanceOfPlaying)
		}
		if final < 0 {
			final = 0
		}
		out[id] = final

		predictionRows = append(predictionRows, models.PlayerPrediction{
			PlayerCode:      player.Code,
			PlayerID:        player.ID,
			Gameweek:        gameweek,
			PredictedPoints: final,
			Confidence:      confidenceFor(player),
			ModelVersion:    version,
			CreatedAt:       time.Now().UTC(),
		})
		auditRows = append(auditRows, models.ModelPrediction{
			ModelVersion: version,
			PlayerCode:   player.Code,
			Gameweek:     gameweek,
			Raw:          raw,
			Adjusted:     final,
		})
	}

	if err := s.repo.UpsertPredictions(ctx, predictionRows); err != nil {
		s.logger.WithError(err).Warn("Failed to persist predictions")
	}
	if err := s.repo.RecordModelPredictions(ctx, auditRows); err != nil {
		s.logger.WithError(err).Warn("Failed to persist model audit rows")
	}

	return out, nil
}

// PredictAll predicts for every player, optionally skipping those whose
// availability rules them out entirely.
func (s *Service) PredictAll(ctx context.Context, gameweek int, excludeUnavailable bool) (map[int]float64, error) {
	players, err := s.repo.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("prediction: list players: %w", err)
	}
	ids := make([]int, 0, len(players))
	for _, p := range players {
		if excludeUnavailable && (p.Status == models.StatusInjured ||
			p.Status == models.StatusSuspended || p.Status == models.StatusUnavailable) {
			continue
		}
		ids = append(ids, p.ID)
	}
	return s.PredictPoints(ctx, ids, gameweek, Options{})
}

// rawPredict invokes the position model or the fallback. The fallback is
// reported once per position per run to keep logs quiet.
func (s *Service) rawPredict(ctx context.Context, player *models.Player, gameweek int) (float64, string, bool) {
	model := s.registry.For(player.Position())
	if model == nil {
		s.reportFallback(player.Position())
		return fallbackEstimate(player), "fallback-form-v1", true
	}
	features := assembleFeatures(ctx, s.repo, player, gameweek)
	return model.Predict(features), model.Version(), false
}

func (s *Service) reportFallback(pos models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallbackReported[pos] {
		return
	}
	s.fallbackReported[pos] = true
	s.logger.WithField("position", pos.String()).Info("No model artifact for position; using form fallback")
}

// corrections caches the learning store's additive bias cells for one
// prediction run.
type corrections struct {
	byPosition map[string]float64
	byBracket  map[string]float64
}

// offsetFor returns the additive correction for one player: position cell
// plus price-bracket cell. Corrections are the negated mean error, so an
// over-predicting cell pulls the estimate down.
func (c *corrections) offsetFor(p *models.Player) float64 {
	return -c.byPosition[p.Position().String()] - c.byBracket[models.PriceBracket(p.NowCost)]
}

func (s *Service) loadCorrections(ctx context.Context) (*corrections, error) {
	metrics, err := s.repo.GetLearningMetrics(ctx)
	if err != nil {
		return nil, err
	}
	c := &corrections{
		byPosition: make(map[string]float64),
		byBracket:  make(map[string]float64),
	}
	for _, m := range metrics {
		// Thin cells are noise, not signal.
		if m.SampleCount < 10 {
			continue
		}
		switch m.Scope {
		case "position":
			c.byPosition[m.Key] = m.MeanError
		case "bracket":
			c.byBracket[m.Key] = m.MeanError
		}
	}
	return c, nil
}

// confidenceFor estimates how much to trust one prediction from sample
// size and availability.
func confidenceFor(p *models.Player) float64 {
	games := float64(p.Minutes) / 90.0
	confidence := 0.3 + games/38.0
	if confidence > 0.9 {
		confidence = 0.9
	}
	confidence *= models.PlayingChance(p.Status, p.ChanceOfPlaying)
	return confidence
}

// GetModelInfo reports the loaded artifacts.
func (s *Service) GetModelInfo() ModelInfo {
	info := ModelInfo{FeatureColumns: FeatureNames}
	positions := s.registry.Positions()
	for _, pos := range positions {
		info.Positions = append(info.Positions, pos.String())
		if m := s.registry.For(pos); m != nil {
			info.Versions = append(info.Versions, m.Version())
		}
	}
	info.FallbackInUse = len(positions) < len(models.AllPositions)
	return info
}

// ExplainPrediction breaks one prediction into raw model output, bias
// correction, news scaling and the feature vector behind it.
func (s *Service) ExplainPrediction(ctx context.Context, playerID, gameweek int) (*Explanation, error) {
	player, err := s.repo.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	raw, version, usedFallback := s.rawPredict(ctx, player, gameweek)

	bias := 0.0
	if c, err := s.loadCorrections(ctx); err == nil && c != nil {
		bias = c.offsetFor(player)
	}
	newsFactor := models.PlayingChance(player.Status, player.ChanceOfPlaying)

	final := (raw + bias) * newsFactor
	if final < 0 {
		final = 0
	}

	features := assembleFeatures(ctx, s.repo, player, gameweek)
	vector := make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		vector[name] = features[i]
	}

	return &Explanation{
		PlayerID:      player.ID,
		Name:          player.WebName,
		Gameweek:      gameweek,
		Raw:           raw,
		BiasApplied:   bias,
		NewsFactor:    newsFactor,
		Final:         final,
		ModelVersion:  version,
		UsedFallback:  usedFallback,
		FeatureVector: vector,
	}, nil
}
