package analyzers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// Minimum sample sizes shared by the analyzers.
const (
	minGamesPlayed    = 3
	minMinutesForXG   = 270
	recentGamesWindow = 6
)

// publishAnalysis publishes a specialty completion event and records the
// result as an audit decision. Analysis events correlate to the data.updated
// (or analysis.requested) event that caused them.
func publishAnalysis(ctx context.Context, bus *events.Bus, repo *storage.Repository, logger *logrus.Logger,
	agent string, kind events.Kind, gameweek int, payload interface{}, correlationID string) error {

	opts := []events.Option{events.WithSource(agent)}
	if correlationID != "" {
		opts = append(opts, events.WithCorrelation(correlationID))
	}
	event, err := events.New(kind, payload, opts...)
	if err != nil {
		return err
	}
	if _, err := bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("%s publish %s: %w", agent, kind, err)
	}

	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := &models.DecisionRecord{
		Gameweek: gameweek,
		Kind:     "analysis",
		Data:     datatypes.JSON(blob),
		Agent:    agent,
	}
	if err := repo.RecordDecision(ctx, record); err != nil {
		// Audit failure must not fail the analysis itself.
		logger.WithError(err).WithField("agent", agent).Warn("Failed to record analysis decision")
	}
	return nil
}

// topN returns the first n entries of a ranked slice.
func topN(ranked []events.RankedPlayer, n int) []events.RankedPlayer {
	if len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}

// estimatedGames approximates appearances from season minutes.
func estimatedGames(minutes int) float64 {
	return float64(minutes) / 90.0
}
