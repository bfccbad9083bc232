package pricewatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/prediction"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

const agentName = "price-watch"

// scoringWindow is how far back unscored calls are pulled when the post
// pulse settles yesterday's predictions.
const scoringWindow = 48 * time.Hour

// Classifier is the slice of the prediction service the watcher needs.
type Classifier interface {
	PredictPriceChanges(ctx context.Context, playerIDs []int) (map[int]prediction.PriceCall, error)
}

// Agent watches the nightly price window: the pre pulse snapshots transfer
// momentum and flags imminent moves, the post pulse confirms what actually
// changed and scores the calls.
type Agent struct {
	repo          *storage.Repository
	bus           *events.Bus
	classifier    Classifier
	minConfidence float64
	logger        *logrus.Logger
}

func New(repo *storage.Repository, bus *events.Bus, classifier Classifier, minConfidence float64, logger *logrus.Logger) *Agent {
	if minConfidence <= 0 {
		minConfidence = 0.7
	}
	return &Agent{
		repo:          repo,
		bus:           bus,
		classifier:    classifier,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

func (a *Agent) Name() string { return agentName }

func (a *Agent) Kinds() []events.Kind {
	return []events.Kind{events.KindPriceCheck}
}

func (a *Agent) HandleEvent(ctx context.Context, event *events.Event) error {
	var payload events.PriceCheckPayload
	if err := event.PayloadAs(&payload); err != nil {
		return err
	}
	switch payload.Phase {
	case "pre":
		return a.PrePulse(ctx)
	case "post":
		return a.PostPulse(ctx)
	}
	return fmt.Errorf("unknown price check phase %q", payload.Phase)
}

// PrePulse snapshots every player's transfer momentum ahead of the price
// window and flags the moves the classifier is confident about.
func (a *Agent) PrePulse(ctx context.Context) error {
	players, err := a.repo.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load players: %w", err)
	}
	if err := a.snapshot(ctx, players, "pre"); err != nil {
		return err
	}

	ids := make([]int, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.ID)
	}
	calls, err := a.classifier.PredictPriceChanges(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to classify price moves: %w", err)
	}

	var flagged []models.PricePrediction
	for _, call := range calls {
		if call.Label == "hold" || call.Confidence < a.minConfidence {
			continue
		}
		flagged = append(flagged, models.PricePrediction{
			PlayerID:     call.PlayerID,
			Name:         call.Name,
			Label:        call.Label,
			Confidence:   call.Confidence,
			NetTransfers: call.NetTransfers,
			Phase:        "pre",
		})

		kind := events.KindPriceRisePredicted
		if call.Label == "fall" {
			kind = events.KindPriceFallPredicted
		}
		if err := a.publish(ctx, kind, events.PriceMovePayload{
			PlayerID:   call.PlayerID,
			Name:       call.Name,
			Label:      call.Label,
			Confidence: call.Confidence,
			NetMoves:   call.NetTransfers,
		}); err != nil {
			return err
		}
	}

	if len(flagged) > 0 {
		if err := a.repo.RecordPricePredictions(ctx, flagged); err != nil {
			return fmt.Errorf("failed to persist price predictions: %w", err)
		}
	}
	a.logger.WithFields(logrus.Fields{
		"agent":   agentName,
		"players": len(players),
		"flagged": len(flagged),
	}).Info("Pre-window price pulse complete")
	return nil
}

// PostPulse diffs current costs against the pre-window snapshot, records
// the confirmed moves and scores outstanding calls against them.
func (a *Agent) PostPulse(ctx context.Context) error {
	players, err := a.repo.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load players: %w", err)
	}
	previous, err := a.repo.LatestSnapshots(ctx, "pre")
	if err != nil {
		return fmt.Errorf("failed to load previous snapshots: %w", err)
	}

	gameweek := 0
	if gw, err := a.repo.CurrentGameweek(ctx); err == nil {
		gameweek = gw.ID
	}

	moved := make(map[int]string) // player id -> rise/fall
	var changes []models.PriceChange
	for _, p := range players {
		prev, ok := previous[p.ID]
		if !ok || p.NowCost == prev.NowCost {
			continue
		}
		direction := "rise"
		if p.NowCost < prev.NowCost {
			direction = "fall"
		}
		moved[p.ID] = direction
		changes = append(changes, models.PriceChange{
			PlayerID:  p.ID,
			Name:      p.WebName,
			OldCost:   prev.NowCost,
			NewCost:   p.NowCost,
			Direction: direction,
			Gameweek:  gameweek,
		})
		if err := a.publish(ctx, events.KindPriceChangeDetected, events.PriceChangePayload{
			PlayerID: p.ID,
			Name:     p.WebName,
			OldCost:  prev.NowCost,
			NewCost:  p.NowCost,
		}); err != nil {
			return err
		}
	}
	if len(changes) > 0 {
		if err := a.repo.RecordPriceChanges(ctx, changes); err != nil {
			return fmt.Errorf("failed to persist price changes: %w", err)
		}
	}

	if err := a.scoreCalls(ctx, moved); err != nil {
		a.logger.WithError(err).Warn("Failed to score price calls")
	}

	if err := a.snapshot(ctx, players, "post"); err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{
		"agent":   agentName,
		"changes": len(changes),
	}).Info("Post-window price pulse complete")
	return nil
}

// scoreCalls settles every unscored prediction in the window against the
// confirmed moves. A confident call that did not materialize means the
// player's price is effectively stuck, which is worth surfacing.
func (a *Agent) scoreCalls(ctx context.Context, moved map[int]string) error {
	pending, err := a.repo.UnscoredPricePredictions(ctx, time.Now().UTC().Add(-scoringWindow))
	if err != nil {
		return err
	}

	scored, correct := 0, 0
	for _, call := range pending {
		outcome, ok := moved[call.PlayerID]
		if !ok {
			outcome = "hold"
		}
		hit := outcome == call.Label
		if err := a.repo.ScorePricePrediction(ctx, call.ID, outcome, hit); err != nil {
			a.logger.WithError(err).WithField("prediction_id", call.ID).
				Warn("Failed to score price call")
			continue
		}
		scored++
		if hit {
			correct++
			continue
		}
		if !ok {
			if err := a.publish(ctx, events.KindPlayerPriceLocked, events.PlayerStatusPayload{
				PlayerID: call.PlayerID,
				Name:     call.Name,
				Status:   "price_locked",
				News:     fmt.Sprintf("predicted %s at %.0f%% confidence did not materialize", call.Label, call.Confidence*100),
			}); err != nil {
				return err
			}
		}
	}

	if scored > 0 {
		day := time.Now().UTC().Truncate(24 * time.Hour)
		if err := a.repo.UpsertPriceModelPerformance(ctx, day, scored, correct); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) snapshot(ctx context.Context, players []models.Player, phase string) error {
	rows := make([]models.TransferSnapshot, 0, len(players))
	now := time.Now().UTC()
	for _, p := range players {
		rows = append(rows, models.TransferSnapshot{
			PlayerID:          p.ID,
			TransfersInEvent:  p.TransfersInEvent,
			TransfersOutEvent: p.TransfersOutEvent,
			NetTransfers:      p.TransfersInEvent - p.TransfersOutEvent,
			NowCost:           p.NowCost,
			SelectedByPercent: p.SelectedByPercent,
			Phase:             phase,
			SnapshotAt:        now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := a.repo.RecordTransferSnapshots(ctx, rows); err != nil {
		return fmt.Errorf("failed to record %s snapshots: %w", phase, err)
	}
	return nil
}

func (a *Agent) publish(ctx context.Context, kind events.Kind, payload interface{}) error {
	event, err := events.New(kind, payload, events.WithSource(agentName))
	if err != nil {
		return err
	}
	if _, err := a.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	return nil
}
