package analyzers

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// performanceDelta is the gap between actual and expected goal involvement
// at which a player is flagged as over- or under-performing.
const performanceDelta = 2.0

// XGAnalyzer ranks attacking players by expected goal involvement per 90
// and flags finishing over- and under-performance. Only players past the
// minutes floor are considered.
type XGAnalyzer struct {
	repo   *storage.Repository
	bus    *events.Bus
	logger *logrus.Logger

	mu     sync.RWMutex
	latest *events.XGAnalysisPayload
}

func NewXGAnalyzer(repo *storage.Repository, bus *events.Bus, logger *logrus.Logger) *XGAnalyzer {
	return &XGAnalyzer{repo: repo, bus: bus, logger: logger}
}

func (a *XGAnalyzer) Name() string { return "xg-analyzer" }

func (a *XGAnalyzer) Kinds() []events.Kind {
	return []events.Kind{events.KindDataUpdated, events.KindAnalysisRequested}
}

func (a *XGAnalyzer) HandleEvent(ctx context.Context, event *events.Event) error {
	gameweek := gameweekFromTrigger(event)
	return a.Analyze(ctx, gameweek, event.ID)
}

func (a *XGAnalyzer) Latest() *events.XGAnalysisPayload {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Analyze recomputes the expected-goals picture and publishes
// analysis.xg_completed.
func (a *XGAnalyzer) Analyze(ctx context.Context, gameweek int, correlationID string) error {
	var involvement, over, under []events.RankedPlayer

	for _, pos := range []models.Position{models.Defender, models.Midfielder, models.Forward} {
		players, err := a.repo.ListPlayersByPosition(ctx, pos)
		if err != nil {
			return err
		}
		for _, p := range players {
			if p.Minutes < minMinutesForXG {
				continue
			}

			xgiPer90 := p.ExpectedGIP90
			if xgiPer90 == 0 && p.Minutes > 0 {
				xgiPer90 = p.ExpectedGI / (float64(p.Minutes) / 90.0)
			}
			involvement = append(involvement, events.RankedPlayer{
				PlayerID: p.ID,
				Name:     p.WebName,
				Position: pos.String(),
				Score:    xgiPer90,
			})

			actual := float64(p.GoalsScored + p.Assists)
			delta := actual - p.ExpectedGI
			entry := events.RankedPlayer{
				PlayerID: p.ID,
				Name:     p.WebName,
				Position: pos.String(),
				Score:    delta,
			}
			switch {
			case delta >= performanceDelta:
				over = append(over, entry)
			case delta <= -performanceDelta:
				under = append(under, entry)
			}
		}
	}

	sort.Slice(involvement, func(i, j int) bool {
		if involvement[i].Score != involvement[j].Score {
			return involvement[i].Score > involvement[j].Score
		}
		return involvement[i].PlayerID < involvement[j].PlayerID
	})
	sort.Slice(over, func(i, j int) bool { return over[i].Score > over[j].Score })
	sort.Slice(under, func(i, j int) bool { return under[i].Score < under[j].Score })

	payload := events.XGAnalysisPayload{
		Gameweek:        gameweek,
		TopInvolvement:  topN(involvement, 20),
		Overperformers:  topN(over, 10),
		Underperformers: topN(under, 10),
	}

	a.mu.Lock()
	a.latest = &payload
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"gameweek": gameweek,
		"ranked":   len(involvement),
		"over":     len(payload.Overperformers),
		"under":    len(payload.Underperformers),
	}).Info("Expected-goals analysis complete")

	return publishAnalysis(ctx, a.bus, a.repo, a.logger,
		a.Name(), events.KindAnalysisXGCompleted, gameweek, payload, correlationID)
}
