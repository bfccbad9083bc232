package synthesis

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
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
	"github.com/jolyonbrown/ron-clanker-sub001/pkg/database"
)

// recordBroker captures publishes; nothing is delivered back.
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

func (r *recordBroker) eventsOn(channel string) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, msg := range r.published {
		if msg.Channel != channel {
			continue
		}
		if event, err := events.Decode([]byte(msg.Payload)); err == nil {
			out = append(out, event)
		}
	}
	return out
}

type stubPredictor struct {
	points map[int]float64
}

func (s *stubPredictor) PredictAll(context.Context, int, bool) (map[int]float64, error) {
	return s.points, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRepo(t *testing.T) *storage.Repository {
	t.Helper()
	db, err := database.NewSQLite(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := storage.NewRepository(db, testLogger())
	require.NoError(t, repo.Migrate())
	return repo
}

func newTestEngine(t *testing.T, points map[int]float64) (*Engine, *storage.Repository, *recordBroker) {
	t.Helper()
	repo := testRepo(t)
	broker := &recordBroker{}
	bus := events.NewBus(broker, "fpl", testLogger())
	require.NoError(t, bus.Connect(context.Background()))
	engine := NewEngine(repo, bus, &stubPredictor{points: points}, testLogger())
	return engine, repo, broker
}

func handle(t *testing.T, engine *Engine, kind events.Kind, payload interface{}) {
	t.Helper()
	event, err := events.New(kind, payload)
	require.NoError(t, err)
	require.NoError(t, engine.HandleEvent(context.Background(), event))
}

func fullAnalysisSet(t *testing.T, engine *Engine, gameweek int) {
	t.Helper()
	handle(t, engine, events.KindAnalysisDCCompleted, events.DCAnalysisPayload{Gameweek: gameweek})
	handle(t, engine, events.KindAnalysisFixtureCompleted, events.FixtureAnalysisPayload{Gameweek: gameweek})
	handle(t, engine, events.KindAnalysisXGCompleted, events.XGAnalysisPayload{Gameweek: gameweek})
	handle(t, engine, events.KindAnalysisValueRankingsDone, events.ValueRankingsPayload{
		Gameweek: gameweek,
		ByPosition: map[string][]events.RankedPlayer{
			"MID": {
				{PlayerID: 1, Name: "Salah", Position: "MID", Score: 9.1},
				{PlayerID: 2, Name: "Gordon", Position: "MID", Score: 7.4},
			},
			"FWD": {
				{PlayerID: 3, Name: "Watkins", Position: "FWD", Score: 8.2},
			},
		},
	})
}

func TestClassifyPosture(t *testing.T) {
	assert.Equal(t, PostureDefensive, classifyPosture(0))
	assert.Equal(t, PostureDefensive, classifyPosture(40))
	assert.Equal(t, PostureBalanced, classifyPosture(-30))
	assert.Equal(t, PostureBalancedDifferentials, classifyPosture(-120))
	assert.Equal(t, PostureAggressive, classifyPosture(-250))
}

func TestSynthesizeOnCompleteSet(t *testing.T) {
	engine, repo, broker := newTestEngine(t, map[int]float64{1: 8.5, 2: 5.0, 3: 6.2})
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{
		{ID: 1, Code: 1001, WebName: "Salah", ElementType: 3, TeamID: 1, NowCost: 130, SelectedByPercent: 55.0, Status: models.StatusAvailable},
		{ID: 2, Code: 1002, WebName: "Gordon", ElementType: 3, TeamID: 2, NowCost: 75, SelectedByPercent: 9.0, Status: models.StatusAvailable},
		{ID: 3, Code: 1003, WebName: "Watkins", ElementType: 4, TeamID: 3, NowCost: 90, SelectedByPercent: 72.0, Status: models.StatusInjured, News: "Hamstring"},
	}))

	fullAnalysisSet(t, engine, 5)

	rec := engine.Latest()
	require.NotNil(t, rec)
	assert.Equal(t, 5, rec.Gameweek)
	assert.Equal(t, PostureDefensive, rec.Posture, "no rivals tracked reads as leading")
	assert.False(t, rec.Partial)

	require.NotNil(t, rec.Captain)
	assert.Equal(t, 1, rec.Captain.PlayerID)
	assert.Nil(t, rec.Differential, "defensive weeks carry no differential pick")

	require.Len(t, rec.TemplateRisks, 1)
	assert.Equal(t, 3, rec.TemplateRisks[0].PlayerID)

	require.NotEmpty(t, rec.TopValue)
	assert.Equal(t, 1, rec.TopValue[0].PlayerID, "ordered by composite score")
	assert.Len(t, rec.Shortlists["MID"], 2)

	// Announced to the coordinator.
	announced := broker.eventsOn("fpl:" + string(events.KindDecisionRequired))
	require.Len(t, announced, 1)
	var payload events.DecisionRequiredPayload
	require.NoError(t, announced[0].PayloadAs(&payload))
	assert.Equal(t, 5, payload.Gameweek)
	assert.Equal(t, "rankings-completed", payload.Reason)

	// Recorded for the audit trail.
	decisions, err := repo.DecisionsForGameweek(ctx, 5)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "rankings", decisions[0].Kind)
}

func TestSynthesizeAggressivePostureAddsDifferential(t *testing.T) {
	engine, repo, broker := newTestEngine(t, map[int]float64{1: 8.5, 2: 7.9})
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{
		{ID: 1, Code: 1001, WebName: "Salah", ElementType: 3, TeamID: 1, NowCost: 130, SelectedByPercent: 55.0, Status: models.StatusAvailable},
		{ID: 2, Code: 1002, WebName: "Gordon", ElementType: 3, TeamID: 2, NowCost: 75, SelectedByPercent: 9.0, Status: models.StatusAvailable},
	}))
	require.NoError(t, repo.RecordStandings(ctx,
		[]models.LeagueStandingRow{{LeagueID: 7, EntryID: 42, EntryName: "Rival FC", Rank: 1, Total: 900, Gameweek: 4}},
		[]models.LeagueRival{{EntryID: 42, EntryName: "Rival FC", Rank: 1, Total: 900, GapToUs: 260, IsAbove: true}},
	))

	fullAnalysisSet(t, engine, 6)

	rec := engine.Latest()
	require.NotNil(t, rec)
	assert.Equal(t, PostureAggressive, rec.Posture)
	assert.Equal(t, -260, rec.GapToLeader)

	require.NotNil(t, rec.Captain)
	assert.Equal(t, 1, rec.Captain.PlayerID)
	require.NotNil(t, rec.Differential)
	assert.Equal(t, 2, rec.Differential.PlayerID)
	assert.Less(t, rec.Differential.Ownership, 15.0)

	announced := broker.eventsOn("fpl:" + string(events.KindDecisionRequired))
	require.Len(t, announced, 1)
	var payload events.DecisionRequiredPayload
	require.NoError(t, announced[0].PayloadAs(&payload))
	assert.Equal(t, PostureAggressive, payload.Posture)
}

func TestWindowLapseProceedsPartial(t *testing.T) {
	engine, repo, broker := newTestEngine(t, map[int]float64{1: 4.0})
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{
		{ID: 1, Code: 1001, WebName: "Solo", ElementType: 4, TeamID: 1, NowCost: 60, SelectedByPercent: 5.0, Status: models.StatusAvailable},
	}))

	// Only one analysis arrives before the window lapses.
	handle(t, engine, events.KindAnalysisValueRankingsDone, events.ValueRankingsPayload{
		Gameweek: 8,
		ByPosition: map[string][]events.RankedPlayer{
			"FWD": {{PlayerID: 1, Name: "Solo", Position: "FWD", Score: 4.4}},
		},
	})
	engine.onWindowLapsed(8, "")

	rec := engine.Latest()
	require.NotNil(t, rec)
	assert.True(t, rec.Partial)
	assert.Equal(t, 8, rec.Gameweek)
	require.NotEmpty(t, rec.TopValue)

	warnings := broker.eventsOn("fpl:" + string(events.KindNotificationWarning))
	assert.NotEmpty(t, warnings)

	// A second lapse for the same gameweek is a no-op.
	engine.onWindowLapsed(8, "")
	announced := broker.eventsOn("fpl:" + string(events.KindDecisionRequired))
	assert.Len(t, announced, 1)
}
