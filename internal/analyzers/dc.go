package analyzers

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/rules"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// DCAnalyzer ranks defenders and midfielders on how reliably they earn
// defensive-contribution points, and on DC points per million spent.
// Direct defensive counters from the detail endpoint are used when history
// rows exist; otherwise the season BPS total stands in as a proxy.
type DCAnalyzer struct {
	repo   *storage.Repository
	bus    *events.Bus
	logger *logrus.Logger

	mu     sync.RWMutex
	latest *events.DCAnalysisPayload
}

func NewDCAnalyzer(repo *storage.Repository, bus *events.Bus, logger *logrus.Logger) *DCAnalyzer {
	return &DCAnalyzer{repo: repo, bus: bus, logger: logger}
}

func (a *DCAnalyzer) Name() string { return "dc-analyzer" }

func (a *DCAnalyzer) Kinds() []events.Kind {
	return []events.Kind{events.KindDataUpdated, events.KindAnalysisRequested}
}

func (a *DCAnalyzer) HandleEvent(ctx context.Context, event *events.Event) error {
	gameweek := gameweekFromTrigger(event)
	return a.Analyze(ctx, gameweek, event.ID)
}

// Latest returns the most recent analysis, nil before the first run.
func (a *DCAnalyzer) Latest() *events.DCAnalysisPayload {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// dcScore is one player's defensive-contribution profile.
type dcScore struct {
	player      models.Player
	consistency float64
	perMillion  float64
	proxy       bool
}

// Analyze recomputes the rankings and publishes analysis.dc_completed.
func (a *DCAnalyzer) Analyze(ctx context.Context, gameweek int, correlationID string) error {
	var scored []dcScore
	usedProxy := false

	for _, pos := range []models.Position{models.Defender, models.Midfielder} {
		players, err := a.repo.ListPlayersByPosition(ctx, pos)
		if err != nil {
			return err
		}
		for _, p := range players {
			if estimatedGames(p.Minutes) < minGamesPlayed {
				continue
			}
			score, proxy := a.scorePlayer(ctx, &p)
			if score == nil {
				continue
			}
			if proxy {
				usedProxy = true
			}
			scored = append(scored, *score)
		}
	}

	payload := events.DCAnalysisPayload{
		Gameweek:      gameweek,
		TopDefenders:  rankDC(scored, models.Defender),
		TopMidfield:   rankDC(scored, models.Midfielder),
		ProxyEstimate: usedProxy,
	}

	a.mu.Lock()
	a.latest = &payload
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"gameweek":  gameweek,
		"defenders": len(payload.TopDefenders),
		"midfield":  len(payload.TopMidfield),
		"proxy":     usedProxy,
	}).Info("Defensive-contribution analysis complete")

	return publishAnalysis(ctx, a.bus, a.repo, a.logger,
		a.Name(), events.KindAnalysisDCCompleted, gameweek, payload, correlationID)
}

// scorePlayer computes consistency and value from recent history rows, or
// from season aggregates when typed history is absent.
func (a *DCAnalyzer) scorePlayer(ctx context.Context, p *models.Player) (*dcScore, bool) {
	history, err := a.repo.HistoryForPlayer(ctx, p.ID, recentGamesWindow)
	if err != nil {
		a.logger.WithError(err).WithField("player_id", p.ID).Debug("History load failed; using proxy")
		history = nil
	}

	played := 0
	earned := 0
	for _, row := range history {
		if row.Minutes == 0 {
			continue
		}
		played++
		stats := rules.GameweekStats{CBI: row.CBI, Tackles: row.Tackles, Recoveries: row.Recoveries}
		if rules.DefensiveContribution(p.Position(), stats) > 0 {
			earned++
		}
	}

	if played >= minGamesPlayed {
		return &dcScore{
			player:      *p,
			consistency: float64(earned) / float64(played),
			perMillion:  float64(p.DefContribution) / p.Price(),
		}, false
	}

	// Proxy path: no usable history. Use the season DC total against
	// estimated appearances, leaning on BPS when the direct counter is
	// missing too.
	games := estimatedGames(p.Minutes)
	if games < minGamesPlayed {
		return nil, false
	}
	dcTotal := float64(p.DefContribution)
	if dcTotal == 0 && p.BPS > 0 {
		dcTotal = float64(p.BPS) / 20.0
	}
	consistency := dcTotal / games
	if consistency > 1 {
		consistency = 1
	}
	return &dcScore{
		player:      *p,
		consistency: consistency,
		perMillion:  dcTotal / p.Price(),
		proxy:       true,
	}, true
}

// rankDC sorts one position's scores by consistency, then per-million value,
// then lower id, and converts the top entries to the wire shape.
func rankDC(scored []dcScore, pos models.Position) []events.RankedPlayer {
	var subset []dcScore
	for _, s := range scored {
		if s.player.Position() == pos {
			subset = append(subset, s)
		}
	}
	sort.Slice(subset, func(i, j int) bool {
		if subset[i].consistency != subset[j].consistency {
			return subset[i].consistency > subset[j].consistency
		}
		if subset[i].perMillion != subset[j].perMillion {
			return subset[i].perMillion > subset[j].perMillion
		}
		return subset[i].player.ID < subset[j].player.ID
	})

	ranked := make([]events.RankedPlayer, 0, len(subset))
	for _, s := range subset {
		ranked = append(ranked, events.RankedPlayer{
			PlayerID: s.player.ID,
			Name:     s.player.WebName,
			Position: pos.String(),
			Score:    s.consistency,
		})
	}
	return topN(ranked, 20)
}

// gameweekFromTrigger extracts the target gameweek from the triggering
// event's payload, defaulting to 0 (meaning "current") when absent.
func gameweekFromTrigger(event *events.Event) int {
	switch event.Kind {
	case events.KindDataUpdated:
		var p events.DataUpdatedPayload
		if err := event.PayloadAs(&p); err == nil {
			return p.CurrentGameweek
		}
	case events.KindAnalysisRequested:
		var p events.AnalysisRequestedPayload
		if err := event.PayloadAs(&p); err == nil {
			return p.Gameweek
		}
	}
	return 0
}
