package analyzers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// completionWindow bounds how long the value analyzer waits for the three
// upstream analyses before proceeding with whatever arrived.
const completionWindow = 60 * time.Second

// Weights is the value composite's weight vector. Calibration parameters
// loaded from config, revisited between seasons.
type Weights struct {
	Base      float64
	Defensive float64
	Fixture   float64
	XG        float64
}

// DefaultWeights is the calibrated starting point.
var DefaultWeights = Weights{Base: 0.35, Defensive: 0.25, Fixture: 0.20, XG: 0.20}

// pendingJoin buffers the upstream analyses for one gameweek until the set
// is complete or the window lapses.
type pendingJoin struct {
	dc      *events.DCAnalysisPayload
	fixture *events.FixtureAnalysisPayload
	xg      *events.XGAnalysisPayload
	timer   *time.Timer
}

func (p *pendingJoin) complete() bool {
	return p.dc != nil && p.fixture != nil && p.xg != nil
}

// ValueAnalyzer joins the specialty analyses with price-per-point into a
// composite value score per player, published as per-position rankings.
type ValueAnalyzer struct {
	repo    *storage.Repository
	bus     *events.Bus
	logger  *logrus.Logger
	weights Weights

	mu      sync.Mutex
	pending map[int]*pendingJoin
	latest  *events.ValueRankingsPayload
}

func NewValueAnalyzer(repo *storage.Repository, bus *events.Bus, weights Weights, logger *logrus.Logger) *ValueAnalyzer {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &ValueAnalyzer{
		repo:    repo,
		bus:     bus,
		logger:  logger,
		weights: weights,
		pending: make(map[int]*pendingJoin),
	}
}

func (a *ValueAnalyzer) Name() string { return "value-analyzer" }

func (a *ValueAnalyzer) Kinds() []events.Kind {
	return []events.Kind{
		events.KindAnalysisDCCompleted,
		events.KindAnalysisFixtureCompleted,
		events.KindAnalysisXGCompleted,
	}
}

// HandleEvent buffers one upstream analysis. The join key is the gameweek
// carried in the payload; correlation ids tie the set together when all
// three analyses stem from the same refresh.
func (a *ValueAnalyzer) HandleEvent(ctx context.Context, event *events.Event) error {
	var gameweek int

	a.mu.Lock()
	switch event.Kind {
	case events.KindAnalysisDCCompleted:
		var p events.DCAnalysisPayload
		if err := event.PayloadAs(&p); err != nil {
			a.mu.Unlock()
			return err
		}
		gameweek = p.Gameweek
		a.joinFor(ctx, gameweek, event.CorrelationID).dc = &p
	case events.KindAnalysisFixtureCompleted:
		var p events.FixtureAnalysisPayload
		if err := event.PayloadAs(&p); err != nil {
			a.mu.Unlock()
			return err
		}
		gameweek = p.Gameweek
		a.joinFor(ctx, gameweek, event.CorrelationID).fixture = &p
	case events.KindAnalysisXGCompleted:
		var p events.XGAnalysisPayload
		if err := event.PayloadAs(&p); err != nil {
			a.mu.Unlock()
			return err
		}
		gameweek = p.Gameweek
		a.joinFor(ctx, gameweek, event.CorrelationID).xg = &p
	default:
		a.mu.Unlock()
		return nil
	}

	join := a.pending[gameweek]
	ready := join != nil && join.complete()
	if ready {
		join.timer.Stop()
		delete(a.pending, gameweek)
	}
	a.mu.Unlock()

	if ready {
		return a.publishRankings(ctx, gameweek, join, false, event.CorrelationID)
	}
	return nil
}

// joinFor returns the buffer for a gameweek, arming the completion timer on
// first touch. Caller holds the mutex.
func (a *ValueAnalyzer) joinFor(ctx context.Context, gameweek int, correlationID string) *pendingJoin {
	if join, ok := a.pending[gameweek]; ok {
		return join
	}
	join := &pendingJoin{}
	join.timer = time.AfterFunc(completionWindow, func() {
		a.onWindowLapsed(gameweek, correlationID)
	})
	a.pending[gameweek] = join
	return join
}

// onWindowLapsed publishes with whatever partial set arrived.
func (a *ValueAnalyzer) onWindowLapsed(gameweek int, correlationID string) {
	a.mu.Lock()
	join, ok := a.pending[gameweek]
	if ok {
		delete(a.pending, gameweek)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.logger.WithField("gameweek", gameweek).Warn("Analysis join window lapsed; publishing partial value rankings")
	a.warn(ctx, gameweek)
	if err := a.publishRankings(ctx, gameweek, join, true, correlationID); err != nil {
		a.logger.WithError(err).Error("Failed to publish partial value rankings")
	}
}

func (a *ValueAnalyzer) warn(ctx context.Context, gameweek int) {
	event, err := events.New(events.KindNotificationWarning, events.NotificationPayload{
		Level:   "warning",
		Title:   "Partial value rankings",
		Message: "Not all analyses arrived within the join window; rankings computed from partial inputs",
		Agent:   a.Name(),
	}, events.WithSource(a.Name()))
	if err != nil {
		return
	}
	if _, err := a.bus.Publish(ctx, event); err != nil {
		a.logger.WithError(err).Warn("Failed to publish partial-rankings warning")
	}
}

// Latest returns the most recent rankings, nil before the first run.
func (a *ValueAnalyzer) Latest() *events.ValueRankingsPayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

// publishRankings computes the composite and announces
// analysis.value_rankings_completed.
func (a *ValueAnalyzer) publishRankings(ctx context.Context, gameweek int, join *pendingJoin, partial bool, correlationID string) error {
	players, err := a.repo.ListPlayers(ctx)
	if err != nil {
		return err
	}
	teams, err := a.repo.ListTeams(ctx)
	if err != nil {
		return err
	}
	teamShort := make(map[int]string, len(teams))
	for _, t := range teams {
		teamShort[t.ID] = t.ShortName
	}

	dcScores := rankedToMap(joinDC(join))
	xgScores := rankedToMap(joinXG(join))

	byPosition := make(map[string][]events.RankedPlayer, 4)
	for _, p := range players {
		if estimatedGames(p.Minutes) < minGamesPlayed {
			continue
		}
		score := a.composite(&p, teamShort, dcScores, xgScores, join)
		byPosition[p.Position().String()] = append(byPosition[p.Position().String()], events.RankedPlayer{
			PlayerID: p.ID,
			Name:     p.WebName,
			Team:     teamShort[p.TeamID],
			Position: p.Position().String(),
			Score:    score,
		})
	}

	for pos := range byPosition {
		ranked := byPosition[pos]
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].Score != ranked[j].Score {
				return ranked[i].Score > ranked[j].Score
			}
			return ranked[i].PlayerID < ranked[j].PlayerID
		})
		byPosition[pos] = topN(ranked, 15)
	}

	payload := events.ValueRankingsPayload{
		Gameweek:   gameweek,
		ByPosition: byPosition,
		Partial:    partial,
	}

	a.mu.Lock()
	a.latest = &payload
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"gameweek": gameweek,
		"partial":  partial,
	}).Info("Value rankings complete")

	return publishAnalysis(ctx, a.bus, a.repo, a.logger,
		a.Name(), events.KindAnalysisValueRankingsDone, gameweek, payload, correlationID)
}

// composite blends the four signals. Each component is normalised to a
// rough 0-10 band before weighting so no single signal dominates by scale.
func (a *ValueAnalyzer) composite(p *models.Player, teamShort map[int]string, dc, xg map[int]float64, join *pendingJoin) float64 {
	games := estimatedGames(p.Minutes)
	base := 0.0
	if games > 0 {
		pointsPerGame := float64(p.TotalPoints) / games
		base = pointsPerGame / p.Price() * 10 // points per game per million
	}

	defensive := dc[p.ID] * 10 // consistency is already 0-1

	fixture := 5.0 // neutral when the fixture analysis is absent
	if join != nil && join.fixture != nil {
		if difficulty, ok := join.fixture.Difficult[teamShort[p.TeamID]]; ok {
			// Difficulty 1 (easiest) maps to 10, difficulty 5 to 0.
			fixture = (5 - difficulty) * 2.5
		}
	}

	xgScore := xg[p.ID] * 8 // xGI/90 rarely exceeds ~1.25

	return a.weights.Base*base +
		a.weights.Defensive*defensive +
		a.weights.Fixture*fixture +
		a.weights.XG*xgScore
}

func joinDC(join *pendingJoin) []events.RankedPlayer {
	if join == nil || join.dc == nil {
		return nil
	}
	return append(append([]events.RankedPlayer{}, join.dc.TopDefenders...), join.dc.TopMidfield...)
}

func joinXG(join *pendingJoin) []events.RankedPlayer {
	if join == nil || join.xg == nil {
		return nil
	}
	return join.xg.TopInvolvement
}

func rankedToMap(ranked []events.RankedPlayer) map[int]float64 {
	out := make(map[int]float64, len(ranked))
	for _, r := range ranked {
		out[r.PlayerID] = r.Score
	}
	return out
}
