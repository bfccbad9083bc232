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

// Fixture difficulty classification thresholds over the six-gameweek
// horizon.
const (
	fixtureHorizon   = 6
	easyThreshold    = 2.5
	hardThreshold    = 3.5
	swingThreshold   = 1.0
	eloBaseline      = 1500.0
	eloPerDifficulty = 400.0 // Elo delta equivalent to one difficulty step
)

// FixtureAnalyzer classifies every team's upcoming run of fixtures and
// flags difficulty swings between the two halves of the horizon. Elo
// ratings maintained by the learning store shade the raw upstream
// difficulty as a secondary signal.
type FixtureAnalyzer struct {
	repo   *storage.Repository
	bus    *events.Bus
	logger *logrus.Logger

	mu     sync.RWMutex
	latest *events.FixtureAnalysisPayload
}

func NewFixtureAnalyzer(repo *storage.Repository, bus *events.Bus, logger *logrus.Logger) *FixtureAnalyzer {
	return &FixtureAnalyzer{repo: repo, bus: bus, logger: logger}
}

func (a *FixtureAnalyzer) Name() string { return "fixture-analyzer" }

func (a *FixtureAnalyzer) Kinds() []events.Kind {
	return []events.Kind{events.KindDataUpdated, events.KindAnalysisRequested}
}

func (a *FixtureAnalyzer) HandleEvent(ctx context.Context, event *events.Event) error {
	gameweek := gameweekFromTrigger(event)
	return a.Analyze(ctx, gameweek, event.ID)
}

func (a *FixtureAnalyzer) Latest() *events.FixtureAnalysisPayload {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Analyze computes per-team mean difficulty over the horizon starting at
// the given gameweek and publishes analysis.fixture_completed.
func (a *FixtureAnalyzer) Analyze(ctx context.Context, gameweek int, correlationID string) error {
	if gameweek == 0 {
		current, err := a.repo.CurrentGameweek(ctx)
		if err != nil {
			return err
		}
		gameweek = current.ID
	}

	teams, err := a.repo.ListTeams(ctx)
	if err != nil {
		return err
	}
	fixtures, err := a.repo.FixturesBetween(ctx, gameweek+1, fixtureHorizon)
	if err != nil {
		return err
	}
	elo, err := a.repo.GetEloRatings(ctx)
	if err != nil {
		a.logger.WithError(err).Debug("Elo ratings unavailable; using raw difficulty")
		elo = nil
	}

	payload := events.FixtureAnalysisPayload{
		Gameweek:  gameweek,
		Difficult: make(map[string]float64, len(teams)),
	}

	for _, team := range teams {
		first, second := a.halfDifficulties(team.ID, gameweek, fixtures, elo)
		if first == 0 && second == 0 {
			continue // blank run, nothing scheduled yet
		}
		mean := (first + second) / 2
		payload.Difficult[team.ShortName] = mean

		switch {
		case mean <= easyThreshold:
			payload.Easy = append(payload.Easy, team.ShortName)
		case mean >= hardThreshold:
			payload.Hard = append(payload.Hard, team.ShortName)
		}
		if diff := first - second; diff >= swingThreshold || -diff >= swingThreshold {
			payload.Swings = append(payload.Swings, team.ShortName)
		}
	}
	sort.Strings(payload.Easy)
	sort.Strings(payload.Hard)
	sort.Strings(payload.Swings)

	a.mu.Lock()
	a.latest = &payload
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"gameweek": gameweek,
		"easy":     len(payload.Easy),
		"hard":     len(payload.Hard),
		"swings":   len(payload.Swings),
	}).Info("Fixture analysis complete")

	return publishAnalysis(ctx, a.bus, a.repo, a.logger,
		a.Name(), events.KindAnalysisFixtureCompleted, gameweek, payload, correlationID)
}

// halfDifficulties returns the mean adjusted difficulty of a team's
// fixtures in the first and second halves of the horizon. A team with no
// fixture in a half contributes zero for that half.
func (a *FixtureAnalyzer) halfDifficulties(teamID, fromGameweek int, fixtures []models.Fixture, elo map[int]models.EloRating) (float64, float64) {
	half := fixtureHorizon / 2
	var firstSum, secondSum float64
	var firstN, secondN int

	for _, f := range fixtures {
		var difficulty float64
		var opponent int
		switch teamID {
		case f.TeamH:
			difficulty = float64(f.TeamHDifficulty)
			opponent = f.TeamA
		case f.TeamA:
			difficulty = float64(f.TeamADifficulty)
			opponent = f.TeamH
		default:
			continue
		}

		if elo != nil {
			if rating, ok := elo[opponent]; ok && rating.Played > 0 {
				difficulty += (rating.Rating - eloBaseline) / eloPerDifficulty
			}
		}

		offset := f.Event - fromGameweek - 1
		if offset < half {
			firstSum += difficulty
			firstN++
		} else {
			secondSum += difficulty
			secondN++
		}
	}

	var first, second float64
	if firstN > 0 {
		first = firstSum / float64(firstN)
	}
	if secondN > 0 {
		second = secondSum / float64(secondN)
	}
	return first, second
}
