package rivals

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/providers"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

const agentName = "rival-tracker"

// rivalWindow is how many entries either side of us count as rivals worth
// tracking closely.
const rivalWindow = 5

// LeagueClient is the slice of the upstream client the tracker needs.
type LeagueClient interface {
	GetLeagueStandings(ctx context.Context, leagueID int64, page int) (*providers.LeagueStandings, error)
	GetEntryHistory(ctx context.Context, entryID int64) (*providers.EntryHistory, error)
}

// Agent keeps the competitive context fresh: mini-league standings, the
// nearest rivals and which chips they have already burned. The synthesis
// engine reads this to set the week's posture.
type Agent struct {
	repo     *storage.Repository
	bus      *events.Bus
	client   LeagueClient
	leagueID int64
	entryID  int64
	logger   *logrus.Logger
}

func New(repo *storage.Repository, bus *events.Bus, client LeagueClient, leagueID, entryID int64, logger *logrus.Logger) *Agent {
	return &Agent{
		repo:     repo,
		bus:      bus,
		client:   client,
		leagueID: leagueID,
		entryID:  entryID,
		logger:   logger,
	}
}

func (a *Agent) Name() string { return agentName }

func (a *Agent) Kinds() []events.Kind {
	return []events.Kind{events.KindDataUpdated}
}

func (a *Agent) HandleEvent(ctx context.Context, event *events.Event) error {
	var payload events.DataUpdatedPayload
	if err := event.PayloadAs(&payload); err != nil {
		return err
	}
	return a.Refresh(ctx, payload.CurrentGameweek)
}

// Refresh pulls the league table, persists the standings history and the
// nearest-rival view, then infers chip usage from each rival's public
// entry history.
func (a *Agent) Refresh(ctx context.Context, gameweek int) error {
	if a.leagueID == 0 {
		return nil
	}
	log := a.logger.WithFields(logrus.Fields{"agent": agentName, "league_id": a.leagueID})

	standings, err := a.client.GetLeagueStandings(ctx, a.leagueID, 1)
	if err != nil {
		return fmt.Errorf("failed to fetch league standings: %w", err)
	}
	results := standings.Standings.Results
	if len(results) == 0 {
		log.Warn("League standings empty")
		return nil
	}

	ourRank, ourTotal, found := a.findUs(results)
	if !found {
		log.WithField("entry_id", a.entryID).Warn("Our entry is not on the first standings page")
	}

	history := make([]models.LeagueStandingRow, 0, len(results))
	for _, row := range results {
		history = append(history, models.LeagueStandingRow{
			LeagueID:   a.leagueID,
			EntryID:    row.Entry,
			EntryName:  row.EntryName,
			PlayerName: row.PlayerName,
			Rank:       row.Rank,
			LastRank:   row.LastRank,
			Total:      row.Total,
			Gameweek:   gameweek,
		})
	}

	rivals := nearestRivals(results, a.entryID, ourRank, ourTotal)
	if err := a.repo.RecordStandings(ctx, history, rivals); err != nil {
		return fmt.Errorf("failed to persist standings: %w", err)
	}

	a.inferChips(ctx, rivals)

	log.WithFields(logrus.Fields{
		"entries":  len(results),
		"rivals":   len(rivals),
		"our_rank": ourRank,
	}).Info("Competitive context refreshed")
	return nil
}

func (a *Agent) findUs(results []providers.StandingRowDTO) (rank, total int, found bool) {
	for _, row := range results {
		if row.Entry == a.entryID {
			return row.Rank, row.Total, true
		}
	}
	return 0, 0, false
}

// nearestRivals keeps the window of entries closest to us by rank. When we
// are not on the page the whole top of the table is the competition.
func nearestRivals(results []providers.StandingRowDTO, ourEntry int64, ourRank, ourTotal int) []models.LeagueRival {
	type scored struct {
		row      providers.StandingRowDTO
		distance int
	}
	var candidates []scored
	for _, row := range results {
		if row.Entry == ourEntry {
			continue
		}
		distance := row.Rank - ourRank
		if distance < 0 {
			distance = -distance
		}
		candidates = append(candidates, scored{row: row, distance: distance})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].row.Rank < candidates[j].row.Rank
	})

	limit := 2 * rivalWindow
	if len(candidates) < limit {
		limit = len(candidates)
	}
	rivals := make([]models.LeagueRival, 0, limit)
	for _, c := range candidates[:limit] {
		rivals = append(rivals, models.LeagueRival{
			EntryID:    c.row.Entry,
			EntryName:  c.row.EntryName,
			PlayerName: c.row.PlayerName,
			Rank:       c.row.Rank,
			Total:      c.row.Total,
			GapToUs:    c.row.Total - ourTotal,
			IsAbove:    c.row.Rank < ourRank,
		})
	}
	sort.Slice(rivals, func(i, j int) bool { return rivals[i].Rank < rivals[j].Rank })
	return rivals
}

// inferChips reads each rival's public history for chip plays. Fetch
// failures skip the rival; the rest of the context still lands.
func (a *Agent) inferChips(ctx context.Context, rivals []models.LeagueRival) {
	for _, rival := range rivals {
		entryHistory, err := a.client.GetEntryHistory(ctx, rival.EntryID)
		if err != nil {
			a.logger.WithError(err).WithField("entry_id", rival.EntryID).
				Warn("Failed to fetch rival history")
			continue
		}
		for _, play := range entryHistory.Chips {
			chip, ok := chipFromAPI(play.Name)
			if !ok {
				continue
			}
			if err := a.repo.RecordRivalChip(ctx, rival.EntryID, chip, play.Event); err != nil {
				a.logger.WithError(err).WithField("entry_id", rival.EntryID).
					Warn("Failed to record rival chip")
			}
		}
	}
}

// chipFromAPI maps the upstream chip tags onto our chip set.
func chipFromAPI(name string) (models.Chip, bool) {
	switch name {
	case "wildcard":
		return models.ChipWildcard, true
	case "bboost":
		return models.ChipBenchBoost, true
	case "3xc":
		return models.ChipTripleCaptain, true
	case "freehit":
		return models.ChipFreeHit, true
	}
	return "", false
}
