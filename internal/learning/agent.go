package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gorm.io/datatypes"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/providers"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

const agentName = "learning"

// LiveFetcher is the slice of the data gateway the learner needs: outcome
// points for a completed gameweek.
type LiveFetcher interface {
	FetchLive(ctx context.Context, gameweek int, force bool) *providers.LiveData
}

// selectionNote is what the learner remembers about a published selection
// until the gameweek completes and it can be reviewed against outcomes.
type selectionNote struct {
	expectedTotal float64
	captainID     int
	transfers     int
	hitCost       int
	chip          string
}

// Agent closes the loop: it watches the team's own decisions, joins
// predictions with realized points when a gameweek completes, folds the
// errors into the bias-correction tables the prediction service consults,
// scores each model version, and keeps the team Elo ratings current.
type Agent struct {
	repo    *storage.Repository
	fetcher LiveFetcher
	logger  *logrus.Logger

	mu    sync.Mutex
	notes map[int]*selectionNote
}

func New(repo *storage.Repository, fetcher LiveFetcher, logger *logrus.Logger) *Agent {
	return &Agent{
		repo:    repo,
		fetcher: fetcher,
		logger:  logger,
		notes:   make(map[int]*selectionNote),
	}
}

func (a *Agent) Name() string { return agentName }

func (a *Agent) Kinds() []events.Kind {
	return []events.Kind{
		events.KindTeamSelected,
		events.KindTeamTransferExecuted,
		events.KindTeamCaptainSelected,
		events.KindTeamChipUsed,
		events.KindGameweekCompleted,
	}
}

func (a *Agent) HandleEvent(ctx context.Context, event *events.Event) error {
	switch event.Kind {
	case events.KindTeamSelected:
		var payload events.TeamSelectedPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		a.noteSelection(payload)
		return nil

	case events.KindTeamTransferExecuted:
		var payload events.TransferPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		a.noteFor(payload.Gameweek).hitCost += payload.HitCost
		return nil

	case events.KindTeamCaptainSelected:
		var payload events.CaptainSelectedPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		a.noteFor(payload.Gameweek).captainID = payload.Captain.PlayerID
		return nil

	case events.KindTeamChipUsed:
		var payload events.ChipUsedPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		a.noteFor(payload.Gameweek).chip = payload.Chip
		return nil

	case events.KindGameweekCompleted:
		var payload events.GameweekCompletedPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		return a.CompleteGameweek(ctx, payload.Gameweek)
	}
	return nil
}

func (a *Agent) noteSelection(payload events.TeamSelectedPayload) {
	note := a.noteFor(payload.Gameweek)
	note.expectedTotal = payload.ExpectedTot
	note.captainID = payload.Captain.PlayerID
	note.transfers = payload.Transfers
	note.hitCost = payload.HitCost
	note.chip = payload.Chip
}

func (a *Agent) noteFor(gameweek int) *selectionNote {
	a.mu.Lock()
	defer a.mu.Unlock()
	note, ok := a.notes[gameweek]
	if !ok {
		note = &selectionNote{}
		a.notes[gameweek] = note
	}
	return note
}

// CompleteGameweek runs the full post-mortem for one finished gameweek.
func (a *Agent) CompleteGameweek(ctx context.Context, gameweek int) error {
	log := a.logger.WithFields(logrus.Fields{"agent": agentName, "gameweek": gameweek})
	log.Info("Closing the loop on completed gameweek")

	actuals := a.actualPoints(ctx, gameweek)
	if len(actuals) == 0 {
		log.Warn("No outcome data available, learning pass skipped")
		return nil
	}

	scored, err := a.scorePredictions(ctx, gameweek, actuals)
	if err != nil {
		return err
	}
	if len(scored) > 0 {
		if err := a.foldBiasTables(ctx, gameweek, scored); err != nil {
			log.WithError(err).Warn("Failed to update bias tables")
		}
		a.scoreModels(ctx, gameweek, scored)
	}

	if err := a.updateElo(ctx, gameweek); err != nil {
		log.WithError(err).Warn("Failed to update Elo ratings")
	}

	a.reviewSelection(ctx, gameweek, actuals)

	log.WithField("predictions_scored", len(scored)).Info("Learning pass complete")
	return nil
}

// actualPoints prefers the live endpoint and falls back to the stored
// history rows when the gateway has nothing.
func (a *Agent) actualPoints(ctx context.Context, gameweek int) map[int]float64 {
	actuals := make(map[int]float64)
	if a.fetcher != nil {
		if live := a.fetcher.FetchLive(ctx, gameweek, true); live != nil {
			for _, el := range live.Elements {
				actuals[el.ID] = float64(el.Stats.TotalPoints)
			}
		}
	}
	if len(actuals) > 0 {
		return actuals
	}

	rows, err := a.repo.HistoryForGameweek(ctx, gameweek)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to load history fallback")
		return actuals
	}
	for _, row := range rows {
		actuals[row.PlayerID] = float64(row.TotalPoints)
	}
	return actuals
}

// scoredPrediction pairs one filled prediction with the player context the
// bias tables key on.
type scoredPrediction struct {
	prediction models.PlayerPrediction
	err        float64 // predicted - actual, signed
	position   models.Position
	bracket    string
}

func (a *Agent) scorePredictions(ctx context.Context, gameweek int, actuals map[int]float64) ([]scoredPrediction, error) {
	predictions, err := a.repo.PredictionsForGameweek(ctx, gameweek)
	if err != nil {
		return nil, fmt.Errorf("failed to load predictions: %w", err)
	}

	players, err := a.repo.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load players: %w", err)
	}
	byID := make(map[int]models.Player, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	var scored []scoredPrediction
	for _, pred := range predictions {
		actual, ok := actuals[pred.PlayerID]
		if !ok {
			continue
		}
		if err := a.repo.FillPredictionOutcome(ctx, pred.PlayerCode, gameweek, actual); err != nil {
			a.logger.WithError(err).WithField("player_code", pred.PlayerCode).
				Warn("Failed to fill prediction outcome")
			continue
		}
		player, ok := byID[pred.PlayerID]
		if !ok {
			continue
		}
		scored = append(scored, scoredPrediction{
			prediction: pred,
			err:        pred.PredictedPoints - actual,
			position:   player.Position(),
			bracket:    models.PriceBracket(player.NowCost),
		})
	}
	return scored, nil
}

// foldBiasTables aggregates the week's signed errors into the per-position
// and per-bracket correction cells. A cell already stamped with this
// gameweek is left alone so a replayed event cannot double-count.
func (a *Agent) foldBiasTables(ctx context.Context, gameweek int, scored []scoredPrediction) error {
	type cellKey struct {
		scope string
		key   string
	}
	sums := make(map[cellKey][]float64)
	for _, s := range scored {
		sums[cellKey{"position", s.position.String()}] = append(sums[cellKey{"position", s.position.String()}], s.err)
		sums[cellKey{"bracket", s.bracket}] = append(sums[cellKey{"bracket", s.bracket}], s.err)
	}

	existing, err := a.repo.GetLearningMetrics(ctx)
	if err != nil {
		return err
	}
	current := make(map[cellKey]models.LearningMetric, len(existing))
	for _, m := range existing {
		current[cellKey{m.Scope, m.Key}] = m
	}

	for key, errs := range sums {
		metric := current[key]
		if metric.Gameweek >= gameweek && metric.SampleCount > 0 {
			continue
		}
		sum := 0.0
		absSum := 0.0
		for _, e := range errs {
			sum += e
			absSum += math.Abs(e)
		}
		n := len(errs)
		total := metric.SampleCount + n
		metric.Scope = key.scope
		metric.Key = key.key
		metric.MeanError = (metric.MeanError*float64(metric.SampleCount) + sum) / float64(total)
		metric.MAE = (metric.MAE*float64(metric.SampleCount) + absSum) / float64(total)
		metric.SampleCount = total
		metric.Gameweek = gameweek
		if err := a.repo.UpsertLearningMetric(ctx, &metric); err != nil {
			return err
		}
	}
	return nil
}

// scoreModels writes per-model-version MAE and signed bias for the week.
func (a *Agent) scoreModels(ctx context.Context, gameweek int, scored []scoredPrediction) {
	byVersion := make(map[string][]float64)
	for _, s := range scored {
		version := s.prediction.ModelVersion
		if version == "" {
			continue
		}
		byVersion[version] = append(byVersion[version], s.err)
	}

	for version, errs := range byVersion {
		abs := make([]float64, len(errs))
		for i, e := range errs {
			abs[i] = math.Abs(e)
		}
		perf := &models.ModelPerformance{
			ModelVersion: version,
			Gameweek:     gameweek,
			MAE:          stat.Mean(abs, nil),
			Bias:         stat.Mean(errs, nil),
			SampleCount:  len(errs),
		}
		if err := a.repo.UpsertModelPerformance(ctx, perf); err != nil {
			a.logger.WithError(err).WithField("model_version", version).
				Warn("Failed to record model performance")
		}
	}
}

// reviewSelection scores the week's own decision against what actually
// happened and appends the verdict to the decision log.
func (a *Agent) reviewSelection(ctx context.Context, gameweek int, actuals map[int]float64) {
	a.mu.Lock()
	note, ok := a.notes[gameweek]
	if ok {
		delete(a.notes, gameweek)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	captainActual := actuals[note.captainID]
	data, err := json.Marshal(map[string]interface{}{
		"expected_total": note.expectedTotal,
		"captain_id":     note.captainID,
		"captain_actual": captainActual,
		"transfers":      note.transfers,
		"hit_cost":       note.hitCost,
		"chip":           note.chip,
	})
	if err != nil {
		return
	}
	record := &models.DecisionRecord{
		Gameweek:  gameweek,
		Kind:      "selection-review",
		Data:      datatypes.JSON(data),
		Reasoning: fmt.Sprintf("captain returned %.0f points against an expected squad total of %.1f", captainActual, note.expectedTotal),
		Agent:     agentName,
	}
	if err := a.repo.RecordDecision(ctx, record); err != nil {
		a.logger.WithError(err).Warn("Failed to record selection review")
	}
}
