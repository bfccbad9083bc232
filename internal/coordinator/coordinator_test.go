package coordinator

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/optimizer"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
	"github.com/jolyonbrown/ron-clanker-sub001/pkg/database"
)

type recordBroker struct {
	mu        sync.Mutex
	published []events.Message
}

func (r *recordBroker) Ping(ctx context.Context) error { return nil }

func (r *recordBroker) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, events.Message{Channel: channel, Payload: string(payload)})
	return 1, nil
}

func (r *recordBroker) HistoryAdd(context.Context, string, float64, []byte) error { return nil }
func (r *recordBroker) HistoryTrim(context.Context, string, int64) error          { return nil }
func (r *recordBroker) HistoryRange(context.Context, string, int64) ([]string, error) {
	return nil, nil
}
func (r *recordBroker) Subscribe(context.Context, ...string) events.Subscription { return nil }

func (r *recordBroker) eventsOn(t *testing.T, channel string) []*events.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, msg := range r.published {
		if msg.Channel != channel {
			continue
		}
		event, err := events.Decode([]byte(msg.Payload))
		require.NoError(t, err)
		out = append(out, event)
	}
	return out
}

type stubPredictor struct {
	points map[int]float64
}

func (s *stubPredictor) PredictAll(ctx context.Context, gameweek int, excludeUnavailable bool) (map[int]float64, error) {
	return s.points, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newCoordinator(t *testing.T, points map[int]float64) (*Coordinator, *storage.Repository, *recordBroker) {
	t.Helper()
	db, err := database.NewSQLite(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := storage.NewRepository(db, testLogger())
	require.NoError(t, repo.Migrate())

	broker := &recordBroker{}
	bus := events.NewBus(broker, "fpl", testLogger())
	require.NoError(t, bus.Connect(context.Background()))

	predictor := &stubPredictor{points: points}
	advisor := optimizer.NewAdvisor(repo, bus, testLogger())
	c := New(repo, bus, predictor, advisor, nil, optimizer.DefaultHorizon, testLogger())
	return c, repo, broker
}

// seedSquad installs the standard fifteen as the live squad and mirrors it
// into the players table so the pool lookups succeed.
func seedSquad(t *testing.T, repo *storage.Repository, bank int) {
	t.Helper()
	ctx := context.Background()

	positions := []struct {
		elementType int
		count       int
		cost        int
	}{
		{1, 2, 45}, {2, 5, 50}, {3, 5, 70}, {4, 3, 75},
	}

	var slots []models.MyTeamSlot
	var players []models.Player
	id := 0
	for _, p := range positions {
		for i := 0; i < p.count; i++ {
			id++
			slots = append(slots, models.MyTeamSlot{
				PlayerID:      id,
				Code:          int64(1000 + id),
				Name:          playerName(id),
				ElementType:   p.elementType,
				TeamID:        id,
				PurchasePrice: p.cost,
				SellingPrice:  p.cost,
			})
			players = append(players, models.Player{
				ID:          id,
				Code:        int64(1000 + id),
				WebName:     playerName(id),
				ElementType: p.elementType,
				TeamID:      id,
				NowCost:     p.cost,
				Status:      models.StatusAvailable,
			})
		}
	}
	require.NoError(t, repo.UpsertPlayers(ctx, players))
	state := &models.TeamState{Bank: bank, FreeTransfers: 1}
	require.NoError(t, repo.ReplaceMyTeam(ctx, slots, state))
}

func playerName(id int) string {
	names := []string{"", "Pope", "Raya", "Gabriel", "Saliba", "Trippier", "Porro", "Gvardiol",
		"Saka", "Palmer", "Foden", "Gordon", "Mbeumo", "Haaland", "Watkins", "Isak"}
	if id < len(names) {
		return names[id]
	}
	return "Player"
}

// spendAllChips removes chip plays from consideration so selection tests
// exercise the plain transfer path.
func spendAllChips(t *testing.T, repo *storage.Repository, half int) {
	t.Helper()
	ctx := context.Background()
	for i, chip := range models.AllChips {
		require.NoError(t, repo.MarkChipUsed(ctx, chip, half, i+1))
	}
}

func evenPoints(value float64) map[int]float64 {
	points := make(map[int]float64, models.SquadSize)
	for id := 1; id <= models.SquadSize; id++ {
		points[id] = value
	}
	return points
}

func TestRunSelectionRollWritesDraftAndPublishes(t *testing.T) {
	c, repo, broker := newCoordinator(t, evenPoints(3.0))
	seedSquad(t, repo, 10)
	spendAllChips(t, repo, 1)
	ctx := context.Background()

	require.NoError(t, c.RunSelection(ctx, 7, "requested", ""))

	draft, err := repo.GetDraft(ctx, 7)
	require.NoError(t, err)
	require.Len(t, draft, models.SquadSize)
	assert.Equal(t, 1, draft[0].Slot)
	assert.Equal(t, "", draft[0].Chip)

	selected := broker.eventsOn(t, "fpl:team.selected")
	require.Len(t, selected, 1)
	var payload events.TeamSelectedPayload
	require.NoError(t, selected[0].PayloadAs(&payload))
	assert.Equal(t, 7, payload.Gameweek)
	assert.Zero(t, payload.Transfers)
	assert.Zero(t, payload.HitCost)
	assert.NotEmpty(t, payload.Formation)
	assert.NotEmpty(t, payload.Announcement)
	assert.Len(t, payload.Starting, models.StartingSize)
	assert.Len(t, payload.Bench, models.SquadSize-models.StartingSize)

	// No transfer events on a roll; captaincy always announced.
	assert.Empty(t, broker.eventsOn(t, "fpl:team.transfer_executed"))
	assert.Len(t, broker.eventsOn(t, "fpl:team.captain_selected"), 1)

	decisions, err := repo.DecisionsForGameweek(ctx, 7)
	require.NoError(t, err)
	kinds := make(map[string]int)
	for _, d := range decisions {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds["team-selection"])
	assert.Equal(t, 1, kinds["captain"])
	assert.Zero(t, kinds["transfer"])
}

func TestValidateAcceptsFullySpentSquad(t *testing.T) {
	// A legal fifteen costing 915 with 10 in the bank spends within the
	// 1000 budget. Validation must judge it against purchases plus bank,
	// not the leftover bank alone.
	c, repo, _ := newCoordinator(t, evenPoints(3.0))
	seedSquad(t, repo, 10)
	ctx := context.Background()

	squad, err := c.loadSquad(ctx)
	require.NoError(t, err)
	require.Equal(t, 915, squad.PurchaseTotal())
	require.Equal(t, 10, squad.Bank)

	lineup, err := optimizer.ChooseLineup(squad, evenPoints(3.0))
	require.NoError(t, err)

	assert.Empty(t, c.validate(squad, lineup))
}

func TestRunSelectionMakesUpgradeTransfer(t *testing.T) {
	points := evenPoints(3.0)
	// Forward 15 is weak; pool forward 99 is a big upgrade within funds.
	points[15] = 0.5
	points[99] = 6.0
	c, repo, broker := newCoordinator(t, points)
	seedSquad(t, repo, 10)
	spendAllChips(t, repo, 1)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{{
		ID:          99,
		Code:        1099,
		WebName:     "Wood",
		ElementType: 4,
		TeamID:      20,
		NowCost:     75,
		Status:      models.StatusAvailable,
	}}))

	require.NoError(t, c.RunSelection(ctx, 7, "requested", ""))

	executed := broker.eventsOn(t, "fpl:team.transfer_executed")
	require.Len(t, executed, 1)
	var transfer events.TransferPayload
	require.NoError(t, executed[0].PayloadAs(&transfer))
	assert.Equal(t, 15, transfer.OutID)
	assert.Equal(t, 99, transfer.InID)
	assert.True(t, transfer.Free)
	assert.Zero(t, transfer.HitCost)

	draft, err := repo.GetDraft(ctx, 7)
	require.NoError(t, err)
	ids := make(map[int]bool, len(draft))
	for _, d := range draft {
		ids[d.PlayerID] = true
	}
	assert.True(t, ids[99])
	assert.False(t, ids[15])

	decisions, err := repo.DecisionsForGameweek(ctx, 7)
	require.NoError(t, err)
	var transferRecords int
	for _, d := range decisions {
		if d.Kind == "transfer" {
			transferRecords++
		}
	}
	assert.Equal(t, 1, transferRecords)
}

func TestRunSelectionFailsClosedWithoutSquad(t *testing.T) {
	c, repo, broker := newCoordinator(t, evenPoints(3.0))
	ctx := context.Background()

	require.NoError(t, c.RunSelection(ctx, 7, "requested", ""))

	draft, err := repo.GetDraft(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, draft)
	assert.Empty(t, broker.eventsOn(t, "fpl:team.selected"))

	errs := broker.eventsOn(t, "fpl:notification.error")
	require.Len(t, errs, 1)
	var note events.NotificationPayload
	require.NoError(t, errs[0].PayloadAs(&note))
	assert.Equal(t, "error", note.Level)
	assert.Contains(t, note.Message, "GW7")
}

func TestRunSelectionReRunOverwritesDraft(t *testing.T) {
	c, repo, _ := newCoordinator(t, evenPoints(3.0))
	seedSquad(t, repo, 10)
	spendAllChips(t, repo, 1)
	ctx := context.Background()

	require.NoError(t, c.RunSelection(ctx, 9, "planning-48h", ""))
	require.NoError(t, c.RunSelection(ctx, 9, "planning-6h", ""))

	draft, err := repo.GetDraft(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, draft, models.SquadSize)
}

func TestPromoteDraftAppliesMembershipChange(t *testing.T) {
	c, repo, _ := newCoordinator(t, evenPoints(3.0))
	seedSquad(t, repo, 10)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{{
		ID:          99,
		Code:        1099,
		WebName:     "Wood",
		ElementType: 4,
		TeamID:      20,
		NowCost:     70,
		Status:      models.StatusAvailable,
	}}))

	// Draft swaps forward 15 for 99 and keeps everyone else.
	current, err := repo.GetMyTeam(ctx)
	require.NoError(t, err)
	var draft []models.DraftSlot
	slot := 1
	for _, s := range current {
		playerID, name, teamID := s.PlayerID, s.Name, s.TeamID
		if s.PlayerID == 15 {
			playerID, name, teamID = 99, "Wood", 20
		}
		draft = append(draft, models.DraftSlot{
			Slot:        slot,
			PlayerID:    playerID,
			Name:        name,
			ElementType: s.ElementType,
			TeamID:      teamID,
			IsCaptain:   slot == 1,
			IsVice:      slot == 2,
		})
		slot++
	}
	require.NoError(t, repo.SaveDraft(ctx, 8, draft))

	require.NoError(t, c.promoteDraft(ctx, 8))

	squad, err := repo.GetMyTeam(ctx)
	require.NoError(t, err)
	require.Len(t, squad, models.SquadSize)
	ids := make(map[int]models.MyTeamSlot, len(squad))
	for _, s := range squad {
		ids[s.PlayerID] = s
	}
	require.Contains(t, ids, 99)
	assert.NotContains(t, ids, 15)
	assert.Equal(t, 70, ids[99].PurchasePrice)
	// Carried players keep their purchase history.
	assert.Equal(t, 45, ids[1].PurchasePrice)

	transfers, err := repo.TransfersForGameweek(ctx, 8)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, 15, transfers[0].PlayerOut)
	assert.Equal(t, 99, transfers[0].PlayerIn)
	assert.True(t, transfers[0].Free)

	state, err := repo.GetTeamState(ctx)
	require.NoError(t, err)
	// Sold at 75, bought at 70: bank 10 -> 15. One free transfer used, one
	// accrued.
	assert.Equal(t, 15, state.Bank)
	assert.Equal(t, 1, state.FreeTransfers)
	assert.Equal(t, 8, state.Gameweek)
}

func TestPromoteDraftMarksChipAndSkipsFreeHitMembership(t *testing.T) {
	c, repo, _ := newCoordinator(t, evenPoints(3.0))
	seedSquad(t, repo, 10)
	ctx := context.Background()

	current, err := repo.GetMyTeam(ctx)
	require.NoError(t, err)
	var draft []models.DraftSlot
	for i, s := range current {
		draft = append(draft, models.DraftSlot{
			Slot:        i + 1,
			PlayerID:    1000 + i, // entirely different one-week squad
			ElementType: s.ElementType,
			Chip:        string(models.ChipFreeHit),
		})
	}
	require.NoError(t, repo.SaveDraft(ctx, 5, draft))

	require.NoError(t, c.promoteDraft(ctx, 5))

	squad, err := repo.GetMyTeam(ctx)
	require.NoError(t, err)
	require.Len(t, squad, models.SquadSize)
	assert.Equal(t, 1, squad[0].PlayerID)

	used, err := repo.ChipUsed(ctx, models.ChipFreeHit, 1)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestRollTransfers(t *testing.T) {
	assert.Equal(t, 2, rollTransfers(1, 0))
	assert.Equal(t, 1, rollTransfers(1, 1))
	assert.Equal(t, 1, rollTransfers(0, 2))
	assert.Equal(t, maxFreeTransfers, rollTransfers(maxFreeTransfers, 0))
}
