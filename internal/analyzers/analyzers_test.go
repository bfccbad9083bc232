package analyzers

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

func (r *recordBroker) eventsOn(channel string) []events.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Message
	for _, msg := range r.published {
		if msg.Channel == channel {
			out = append(out, msg)
		}
	}
	return out
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T) (*storage.Repository, *events.Bus, *recordBroker) {
	t.Helper()
	db, err := database.NewSQLite(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := storage.NewRepository(db, testLogger())
	require.NoError(t, repo.Migrate())

	broker := &recordBroker{}
	bus := events.NewBus(broker, "fpl", testLogger())
	require.NoError(t, bus.Connect(context.Background()))
	return repo, bus, broker
}

func seedTeams(t *testing.T, repo *storage.Repository) {
	t.Helper()
	require.NoError(t, repo.UpsertTeams(context.Background(), []models.Team{
		{ID: 1, Code: 3, Name: "Arsenal", ShortName: "ARS"},
		{ID: 2, Code: 14, Name: "Liverpool", ShortName: "LIV"},
		{ID: 3, Code: 91, Name: "Bournemouth", ShortName: "BOU"},
	}))
}

func decodeAnalysis(t *testing.T, msgs []events.Message, dest interface{}) *events.Event {
	t.Helper()
	require.NotEmpty(t, msgs)
	event, err := events.Decode([]byte(msgs[0].Payload))
	require.NoError(t, err)
	require.NoError(t, event.PayloadAs(dest))
	return event
}

func TestFixtureAnalyzerClassifiesRuns(t *testing.T) {
	repo, bus, broker := newFixture(t)
	seedTeams(t, repo)
	ctx := context.Background()

	// Six gameweeks from GW8: Arsenal all easy, Liverpool all hard,
	// Bournemouth swings easy-to-hard across the horizon halves.
	var fixtures []models.Fixture
	for i := 0; i < 6; i++ {
		event := 8 + i
		fixtures = append(fixtures, models.Fixture{
			ID: 100 + i, Event: event,
			TeamH: 1, TeamHDifficulty: 2,
			TeamA: 2, TeamADifficulty: 4,
		})
		difficulty := 2
		if i >= 3 {
			difficulty = 4
		}
		fixtures = append(fixtures, models.Fixture{
			ID: 200 + i, Event: event,
			TeamH: 3, TeamHDifficulty: difficulty,
			TeamA: 19, TeamADifficulty: 3,
		})
	}
	require.NoError(t, repo.UpsertFixtures(ctx, fixtures))

	a := NewFixtureAnalyzer(repo, bus, testLogger())
	require.NoError(t, a.Analyze(ctx, 7, "corr-1"))

	var payload events.FixtureAnalysisPayload
	event := decodeAnalysis(t, broker.eventsOn("fpl:analysis.fixture_completed"), &payload)
	assert.Equal(t, "corr-1", event.CorrelationID)

	assert.Equal(t, []string{"ARS"}, payload.Easy)
	assert.Equal(t, []string{"LIV"}, payload.Hard)
	assert.Equal(t, []string{"BOU"}, payload.Swings)
	assert.InDelta(t, 2.0, payload.Difficult["ARS"], 0.01)
	assert.InDelta(t, 3.0, payload.Difficult["BOU"], 0.01)

	require.NotNil(t, a.Latest())

	decisions, err := repo.DecisionsForGameweek(ctx, 7)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "analysis", decisions[0].Kind)
}

func TestFixtureAnalyzerEloShadesDifficulty(t *testing.T) {
	repo, bus, broker := newFixture(t)
	seedTeams(t, repo)
	ctx := context.Background()

	var fixtures []models.Fixture
	for i := 0; i < 6; i++ {
		fixtures = append(fixtures, models.Fixture{
			ID: 300 + i, Event: 8 + i,
			TeamH: 1, TeamHDifficulty: 2,
			TeamA: 2, TeamADifficulty: 4,
		})
	}
	require.NoError(t, repo.UpsertFixtures(ctx, fixtures))

	// A 1900-rated opponent adds a full difficulty step, pushing Arsenal's
	// nominally easy run to neutral.
	require.NoError(t, repo.SaveEloRating(ctx, &models.EloRating{TeamID: 2, Rating: 1900, Played: 5}))

	a := NewFixtureAnalyzer(repo, bus, testLogger())
	require.NoError(t, a.Analyze(ctx, 7, ""))

	var payload events.FixtureAnalysisPayload
	decodeAnalysis(t, broker.eventsOn("fpl:analysis.fixture_completed"), &payload)

	assert.NotContains(t, payload.Easy, "ARS")
	assert.InDelta(t, 3.0, payload.Difficult["ARS"], 0.01)
}

func TestDCAnalyzerConsistencyFromHistory(t *testing.T) {
	repo, bus, broker := newFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{
		{ID: 1, Code: 101, WebName: "Gabriel", ElementType: 2, TeamID: 1, NowCost: 60,
			Minutes: 900, DefContribution: 40},
		{ID: 2, Code: 102, WebName: "Trippier", ElementType: 2, TeamID: 2, NowCost: 55,
			Minutes: 900, DefContribution: 4},
	}))

	var history []models.PlayerGameweekHistory
	for gw := 1; gw <= 6; gw++ {
		// Gabriel clears the defender counter threshold every week,
		// Trippier never does.
		history = append(history,
			models.PlayerGameweekHistory{PlayerID: 1, Gameweek: gw, Minutes: 90, CBI: 8, Tackles: 4},
			models.PlayerGameweekHistory{PlayerID: 2, Gameweek: gw, Minutes: 90, CBI: 2, Tackles: 1},
		)
	}
	require.NoError(t, repo.UpsertPlayerHistory(ctx, history))

	a := NewDCAnalyzer(repo, bus, testLogger())
	require.NoError(t, a.Analyze(ctx, 7, ""))

	var payload events.DCAnalysisPayload
	decodeAnalysis(t, broker.eventsOn("fpl:analysis.dc_completed"), &payload)

	require.Len(t, payload.TopDefenders, 2)
	assert.Equal(t, "Gabriel", payload.TopDefenders[0].Name)
	assert.InDelta(t, 1.0, payload.TopDefenders[0].Score, 0.001)
	assert.InDelta(t, 0.0, payload.TopDefenders[1].Score, 0.001)
	assert.False(t, payload.ProxyEstimate)
}

func TestDCAnalyzerFallsBackToProxy(t *testing.T) {
	repo, bus, broker := newFixture(t)
	ctx := context.Background()

	// Plenty of minutes but no per-gameweek rows: the season aggregate
	// stands in.
	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{
		{ID: 3, Code: 103, WebName: "Rice", ElementType: 3, TeamID: 1, NowCost: 65,
			Minutes: 900, BPS: 200},
	}))

	a := NewDCAnalyzer(repo, bus, testLogger())
	require.NoError(t, a.Analyze(ctx, 7, ""))

	var payload events.DCAnalysisPayload
	decodeAnalysis(t, broker.eventsOn("fpl:analysis.dc_completed"), &payload)

	require.Len(t, payload.TopMidfield, 1)
	assert.Equal(t, "Rice", payload.TopMidfield[0].Name)
	assert.True(t, payload.ProxyEstimate)
}

func TestXGAnalyzerFlagsFinishingDeltas(t *testing.T) {
	repo, bus, broker := newFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{
		{ID: 1, Code: 101, WebName: "Haaland", ElementType: 4, TeamID: 1, NowCost: 140,
			Minutes: 900, GoalsScored: 10, Assists: 2, ExpectedGI: 8.0, ExpectedGIP90: 1.1},
		{ID: 2, Code: 102, WebName: "Darwin", ElementType: 4, TeamID: 2, NowCost: 75,
			Minutes: 900, GoalsScored: 1, Assists: 0, ExpectedGI: 5.0, ExpectedGIP90: 0.6},
		{ID: 3, Code: 103, WebName: "Watkins", ElementType: 4, TeamID: 3, NowCost: 85,
			Minutes: 900, GoalsScored: 5, Assists: 1, ExpectedGI: 6.0, ExpectedGIP90: 0.7},
		{ID: 4, Code: 104, WebName: "SubFwd", ElementType: 4, TeamID: 3, NowCost: 45,
			Minutes: 100, GoalsScored: 3, ExpectedGI: 0.2},
	}))

	a := NewXGAnalyzer(repo, bus, testLogger())
	require.NoError(t, a.Analyze(ctx, 7, ""))

	var payload events.XGAnalysisPayload
	decodeAnalysis(t, broker.eventsOn("fpl:analysis.xg_completed"), &payload)

	// The low-minutes forward is excluded entirely.
	require.Len(t, payload.TopInvolvement, 3)
	assert.Equal(t, "Haaland", payload.TopInvolvement[0].Name)

	require.Len(t, payload.Overperformers, 1)
	assert.Equal(t, "Haaland", payload.Overperformers[0].Name)
	assert.InDelta(t, 4.0, payload.Overperformers[0].Score, 0.01)

	require.Len(t, payload.Underperformers, 1)
	assert.Equal(t, "Darwin", payload.Underperformers[0].Name)
}

func TestValueAnalyzerJoinsAndRanks(t *testing.T) {
	repo, bus, broker := newFixture(t)
	seedTeams(t, repo)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayers(ctx, []models.Player{
		{ID: 1, Code: 101, WebName: "Gabriel", ElementType: 2, TeamID: 1, NowCost: 60,
			Minutes: 900, TotalPoints: 60},
		{ID: 2, Code: 102, WebName: "Trippier", ElementType: 2, TeamID: 2, NowCost: 60,
			Minutes: 900, TotalPoints: 30},
	}))

	a := NewValueAnalyzer(repo, bus, Weights{}, testLogger())

	send := func(kind events.Kind, payload interface{}) {
		event, err := events.New(kind, payload, events.WithCorrelation("corr-9"))
		require.NoError(t, err)
		require.NoError(t, a.HandleEvent(ctx, event))
	}

	send(events.KindAnalysisDCCompleted, events.DCAnalysisPayload{
		Gameweek:     7,
		TopDefenders: []events.RankedPlayer{{PlayerID: 1, Name: "Gabriel", Score: 0.9}},
	})
	send(events.KindAnalysisFixtureCompleted, events.FixtureAnalysisPayload{
		Gameweek:  7,
		Difficult: map[string]float64{"ARS": 2.0, "LIV": 4.5},
	})

	// Two of three inputs buffered: nothing published yet.
	assert.Empty(t, broker.eventsOn("fpl:analysis.value_rankings_completed"))

	send(events.KindAnalysisXGCompleted, events.XGAnalysisPayload{
		Gameweek:       7,
		TopInvolvement: []events.RankedPlayer{{PlayerID: 1, Name: "Gabriel", Score: 0.5}},
	})

	var payload events.ValueRankingsPayload
	event := decodeAnalysis(t, broker.eventsOn("fpl:analysis.value_rankings_completed"), &payload)
	assert.Equal(t, "corr-9", event.CorrelationID)
	assert.False(t, payload.Partial)

	defenders := payload.ByPosition[models.Defender.String()]
	require.Len(t, defenders, 2)
	assert.Equal(t, "Gabriel", defenders[0].Name)
	assert.Greater(t, defenders[0].Score, defenders[1].Score)

	require.NotNil(t, a.Latest())
	assert.Equal(t, 7, a.Latest().Gameweek)
}

func TestGameweekFromTrigger(t *testing.T) {
	updated, err := events.New(events.KindDataUpdated, events.DataUpdatedPayload{CurrentGameweek: 11})
	require.NoError(t, err)
	assert.Equal(t, 11, gameweekFromTrigger(updated))

	requested, err := events.New(events.KindAnalysisRequested, events.AnalysisRequestedPayload{Gameweek: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, gameweekFromTrigger(requested))
}
