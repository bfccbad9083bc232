package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/cache"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/providers"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// Cache TTLs per upstream resource. Live data moves during matches; the
// rest is slow.
const (
	bootstrapTTL    = 6 * time.Hour
	fixturesTTL     = 12 * time.Hour
	playerDetailTTL = 24 * time.Hour
	liveTTL         = 60 * time.Second
)

// Service is the read-through gateway to the upstream FPL API. Fetches fill
// the shared cache; UpdateAllData persists through the repository and
// announces data.updated. Network failures return empty results so the
// pipeline stays responsive; callers distinguish by presence of expected
// content.
type Service struct {
	fpl    *providers.FPLClient
	cache  cache.Store
	repo   *storage.Repository
	bus    *events.Bus
	logger *logrus.Logger

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewService wires the gateway.
func NewService(fpl *providers.FPLClient, store cache.Store, repo *storage.Repository, bus *events.Bus, logger *logrus.Logger) *Service {
	return &Service{
		fpl:    fpl,
		cache:  store,
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
}

// Name implements agent.Logic.
func (s *Service) Name() string { return "data-gateway" }

// Kinds implements agent.Logic.
func (s *Service) Kinds() []events.Kind {
	return []events.Kind{events.KindDataRefreshRequested}
}

// HandleEvent reacts to refresh requests by re-syncing everything.
func (s *Service) HandleEvent(ctx context.Context, event *events.Event) error {
	var payload events.DataRefreshRequestedPayload
	if err := event.PayloadAs(&payload); err != nil {
		s.logger.WithError(err).Warn("Refresh request without readable payload; forcing full refresh")
		payload.Force = true
	}
	return s.UpdateAllData(ctx, payload.Force, event.ID)
}

// FetchBootstrap returns the bootstrap payload, from cache within the TTL.
// On upstream failure it returns an empty record and logs; no event is
// emitted.
func (s *Service) FetchBootstrap(ctx context.Context, force bool) *providers.Bootstrap {
	const key = "bootstrap"

	if !force {
		var cached providers.Bootstrap
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached
		}
	}

	bootstrap, err := s.fpl.GetBootstrap(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Bootstrap fetch failed; returning empty record")
		return &providers.Bootstrap{}
	}

	if err := s.cache.Set(ctx, key, bootstrap, bootstrapTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to cache bootstrap")
	}
	return bootstrap
}

// FetchFixtures returns fixtures for one gameweek (or the whole season when
// gameweek is 0), cached for 12 hours.
func (s *Service) FetchFixtures(ctx context.Context, gameweek int, force bool) []providers.FixtureDTO {
	key := "fixtures:all"
	if gameweek > 0 {
		key = fmt.Sprintf("fixtures:%d", gameweek)
	}

	if !force {
		var cached []providers.FixtureDTO
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached
		}
	}

	fixtures, err := s.fpl.GetFixtures(ctx, gameweek)
	if err != nil {
		s.logger.WithError(err).Warn("Fixtures fetch failed; returning empty list")
		return nil
	}

	if err := s.cache.Set(ctx, key, fixtures, fixturesTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to cache fixtures")
	}
	return fixtures
}

// FetchPlayerDetail returns one player's detailed history, cached for a day.
func (s *Service) FetchPlayerDetail(ctx context.Context, playerID int, force bool) *providers.PlayerSummary {
	key := fmt.Sprintf("player:%d", playerID)

	if !force {
		var cached providers.PlayerSummary
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached
		}
	}

	summary, err := s.fpl.GetPlayerSummary(ctx, playerID)
	if err != nil {
		s.logger.WithError(err).WithField("player_id", playerID).Warn("Player detail fetch failed")
		return &providers.PlayerSummary{}
	}

	if err := s.cache.Set(ctx, key, summary, playerDetailTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to cache player detail")
	}
	return summary
}

// FetchLive returns in-gameweek scoring for every player, cached briefly.
func (s *Service) FetchLive(ctx context.Context, gameweek int, force bool) *providers.LiveData {
	key := fmt.Sprintf("live:gw%d", gameweek)

	if !force {
		var cached providers.LiveData
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached
		}
	}

	live, err := s.fpl.GetLiveData(ctx, gameweek)
	if err != nil {
		s.logger.WithError(err).WithField("gameweek", gameweek).Warn("Live data fetch failed")
		return &providers.LiveData{}
	}

	if err := s.cache.Set(ctx, key, live, liveTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to cache live data")
	}
	return live
}

// UpdateAllData fetches bootstrap and fixtures in parallel, persists the
// derived rows and publishes data.updated. correlationID links the outcome
// to the triggering event when there is one.
func (s *Service) UpdateAllData(ctx context.Context, force bool, correlationID string) error {
	started := time.Now()

	var (
		wg        sync.WaitGroup
		bootstrap *providers.Bootstrap
		fixtures  []providers.FixtureDTO
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		bootstrap = s.FetchBootstrap(ctx, force)
	}()
	go func() {
		defer wg.Done()
		fixtures = s.FetchFixtures(ctx, 0, force)
	}()
	wg.Wait()

	if len(bootstrap.Elements) == 0 {
		s.logger.Warn("Bootstrap came back empty; skipping persist and update event")
		return nil
	}

	prev := s.loadAvailabilitySnapshot(ctx)

	players := make([]models.Player, 0, len(bootstrap.Elements))
	for i := range bootstrap.Elements {
		players = append(players, playerFromElement(&bootstrap.Elements[i]))
	}
	teams := make([]models.Team, 0, len(bootstrap.Teams))
	for _, t := range bootstrap.Teams {
		teams = append(teams, models.Team{
			ID:                  t.ID,
			Code:                t.Code,
			Name:                t.Name,
			ShortName:           t.ShortName,
			StrengthAttackHome:  t.StrengthAttackHome,
			StrengthAttackAway:  t.StrengthAttackAway,
			StrengthDefenceHome: t.StrengthDefenceHome,
			StrengthDefenceAway: t.StrengthDefenceAway,
		})
	}
	gameweeks := make([]models.Gameweek, 0, len(bootstrap.Events))
	for _, gw := range bootstrap.Events {
		gameweeks = append(gameweeks, models.Gameweek{
			ID:           gw.ID,
			Name:         gw.Name,
			DeadlineTime: gw.DeadlineTime,
			Finished:     gw.Finished,
			IsCurrent:    gw.IsCurrent,
			IsNext:       gw.IsNext,
		})
	}
	fixtureRows := make([]models.Fixture, 0, len(fixtures))
	for _, f := range fixtures {
		event := 0
		if f.Event != nil {
			event = *f.Event
		}
		fixtureRows = append(fixtureRows, models.Fixture{
			ID:              f.ID,
			Event:           event,
			TeamH:           f.TeamH,
			TeamA:           f.TeamA,
			TeamHDifficulty: f.TeamHDifficulty,
			TeamADifficulty: f.TeamADifficulty,
			TeamHScore:      f.TeamHScore,
			TeamAScore:      f.TeamAScore,
			Finished:        f.Finished,
			Started:         f.Started,
			KickoffTime:     f.KickoffTime,
		})
	}

	if err := s.repo.UpsertPlayers(ctx, players); err != nil {
		return fmt.Errorf("persist players: %w", err)
	}
	if err := s.repo.UpsertTeams(ctx, teams); err != nil {
		return fmt.Errorf("persist teams: %w", err)
	}
	if err := s.repo.UpsertGameweeks(ctx, gameweeks); err != nil {
		return fmt.Errorf("persist gameweeks: %w", err)
	}
	if err := s.repo.UpsertFixtures(ctx, fixtureRows); err != nil {
		return fmt.Errorf("persist fixtures: %w", err)
	}

	s.mu.Lock()
	s.lastRefresh = time.Now().UTC()
	s.mu.Unlock()

	s.publishAvailabilityChanges(ctx, prev, bootstrap.Elements, correlationID)
	s.saveAvailabilitySnapshot(ctx, bootstrap.Elements)

	payload := events.DataUpdatedPayload{
		PlayersUpdated:  len(players),
		TeamsUpdated:    len(teams),
		FixturesUpdated: len(fixtureRows),
		CurrentGameweek: bootstrap.CurrentGameweek(),
		Forced:          force,
	}
	opts := []events.Option{events.WithSource(s.Name())}
	if correlationID != "" {
		opts = append(opts, events.WithCorrelation(correlationID))
	}
	event, err := events.New(events.KindDataUpdated, payload, opts...)
	if err != nil {
		return err
	}
	if _, err := s.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish data.updated: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"players":  len(players),
		"fixtures": len(fixtureRows),
		"gameweek": payload.CurrentGameweek,
		"took":     time.Since(started).Round(time.Millisecond),
	}).Info("Data refresh complete")
	return nil
}

// SyncPlayerDetail pulls one player's detail endpoint and persists the
// per-gameweek and past-season rows.
func (s *Service) SyncPlayerDetail(ctx context.Context, playerID int, code int64, force bool) error {
	summary := s.FetchPlayerDetail(ctx, playerID, force)
	if len(summary.History) == 0 && len(summary.HistoryPast) == 0 {
		return nil
	}

	rows := make([]models.PlayerGameweekHistory, 0, len(summary.History))
	for _, h := range summary.History {
		rows = append(rows, models.PlayerGameweekHistory{
			PlayerID:        playerID,
			Gameweek:        h.Round,
			OpponentTeam:    h.OpponentTeam,
			WasHome:         h.WasHome,
			Minutes:         h.Minutes,
			TotalPoints:     h.TotalPoints,
			GoalsScored:     h.GoalsScored,
			Assists:         h.Assists,
			CleanSheets:     h.CleanSheets,
			GoalsConceded:   h.GoalsConceded,
			OwnGoals:        h.OwnGoals,
			PenaltiesSaved:  h.PenaltiesSaved,
			PenaltiesMissed: h.PenaltiesMissed,
			YellowCards:     h.YellowCards,
			RedCards:        h.RedCards,
			Saves:           h.Saves,
			Bonus:           h.Bonus,
			BPS:             h.BPS,
			ExpectedGoals:   providers.ParseStat(h.ExpectedGoals),
			ExpectedAssists: providers.ParseStat(h.ExpectedAssists),
			CBI:             h.CBI,
			Tackles:         h.Tackles,
			Recoveries:      h.Recoveries,
			Value:           h.Value,
		})
	}
	if err := s.repo.UpsertPlayerHistory(ctx, rows); err != nil {
		return fmt.Errorf("persist player %d history: %w", playerID, err)
	}

	past := make([]models.HistoricalPlayer, 0, len(summary.HistoryPast))
	for _, p := range summary.HistoryPast {
		rowCode := p.ElementCode
		if rowCode == 0 {
			rowCode = code
		}
		past = append(past, models.HistoricalPlayer{
			Code:        rowCode,
			SeasonName:  p.SeasonName,
			StartCost:   p.StartCost,
			EndCost:     p.EndCost,
			TotalPoints: p.TotalPoints,
			Minutes:     p.Minutes,
			GoalsScored: p.GoalsScored,
			Assists:     p.Assists,
			CleanSheets: p.CleanSheets,
		})
	}
	if err := s.repo.UpsertHistoricalPlayers(ctx, past); err != nil {
		return fmt.Errorf("persist player %d past seasons: %w", playerID, err)
	}
	return nil
}

// LastRefresh reports when UpdateAllData last completed.
func (s *Service) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

func playerFromElement(e *providers.ElementDTO) models.Player {
	return models.Player{
		ID:                 e.ID,
		Code:               e.Code,
		WebName:            e.WebName,
		ElementType:        e.ElementType,
		TeamID:             e.Team,
		NowCost:            e.NowCost,
		TotalPoints:        e.TotalPoints,
		Minutes:            e.Minutes,
		Status:             models.Availability(e.Status),
		ChanceOfPlaying:    e.ChanceOfPlayingNextRound,
		News:               e.News,
		SelectedByPercent:  e.OwnershipValue(),
		Form:               e.FormValue(),
		PointsPerGame:      e.PointsPerGameValue(),
		GoalsScored:        e.GoalsScored,
		Assists:            e.Assists,
		CleanSheets:        e.CleanSheets,
		GoalsConceded:      e.GoalsConceded,
		Saves:              e.Saves,
		BPS:                e.BPS,
		CBI:                e.CBI,
		Tackles:            e.Tackles,
		Recoveries:         e.Recoveries,
		DefContribution:    e.DefensiveContribution,
		TransfersInEvent:   e.TransfersInEvent,
		TransfersOutEvent:  e.TransfersOutEvent,
		CostChangeEvent:    e.CostChangeEvent,
		CostChangeStart:    e.CostChangeStart,
		ExpectedGoals:      e.XGValue(),
		ExpectedAssists:    e.XAValue(),
		ExpectedGI:         e.XGIValue(),
		ExpectedGoalsP90:   e.ExpectedGoalsPer90,
		ExpectedAssistsP90: e.ExpectedAssistsPer90,
		ExpectedGIP90:      e.ExpectedGIPer90,
	}
}
