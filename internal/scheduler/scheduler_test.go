package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/cache"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/gateway"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/providers"
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

// testNow is the fixed clock every scheduler test runs against.
var testNow = time.Date(2025, 10, 3, 12, 0, 0, 0, time.UTC)

type gameweekFixture struct {
	ID          int
	Deadline    time.Time
	Finished    bool
	DataChecked bool
}

func bootstrapServer(t *testing.T, gameweeks []gameweekFixture) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bootstrap-static/" {
			http.NotFound(w, r)
			return
		}
		rows := make([]map[string]interface{}, 0, len(gameweeks))
		for _, gw := range gameweeks {
			rows = append(rows, map[string]interface{}{
				"id":            gw.ID,
				"name":          "Gameweek",
				"deadline_time": gw.Deadline.Format(time.RFC3339),
				"finished":      gw.Finished,
				"data_checked":  gw.DataChecked,
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"events":   rows,
			"teams":    []map[string]interface{}{},
			"elements": []map[string]interface{}{},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newScheduler(t *testing.T, gameweeks []gameweekFixture) (*Scheduler, *recordBroker) {
	t.Helper()

	db, err := database.NewSQLite(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := storage.NewRepository(db, testLogger())
	require.NoError(t, repo.Migrate())

	broker := &recordBroker{}
	bus := events.NewBus(broker, "fpl", testLogger())
	require.NoError(t, bus.Connect(context.Background()))

	server := bootstrapServer(t, gameweeks)
	client := providers.NewFPLClient(server.URL, testLogger())
	t.Cleanup(client.Close)

	gw := gateway.NewService(client, cache.NewMemory(), repo, bus, testLogger())
	s := New(gw, cache.NewMemory(), bus, testLogger())
	s.SetClock(func() time.Time { return testNow })
	return s, broker
}

func decodeFirst(t *testing.T, msgs []events.Message) *events.Event {
	t.Helper()
	require.NotEmpty(t, msgs)
	event, err := events.Decode([]byte(msgs[0].Payload))
	require.NoError(t, err)
	return event
}

func TestCheckDeadlinesFiresActivePlanningTrigger(t *testing.T) {
	s, broker := newScheduler(t, []gameweekFixture{
		{ID: 7, Deadline: testNow.Add(24*time.Hour + 30*time.Minute)},
	})

	require.NoError(t, s.CheckDeadlines(context.Background()))

	planning := broker.eventsOn("fpl:gameweek.planning")
	require.Len(t, planning, 1)

	var payload events.GameweekPlanningPayload
	require.NoError(t, decodeFirst(t, planning).PayloadAs(&payload))
	assert.Equal(t, 7, payload.Gameweek)
	assert.Equal(t, "24h", payload.Trigger)

	assert.Empty(t, broker.eventsOn("fpl:gameweek.deadline_approaching"))
}

func TestCheckDeadlinesCriticalInsideTwoHours(t *testing.T) {
	s, broker := newScheduler(t, []gameweekFixture{
		{ID: 8, Deadline: testNow.Add(90 * time.Minute)},
	})

	require.NoError(t, s.CheckDeadlines(context.Background()))

	// 1.5h out: no planning offset is within its window, but the critical
	// reminder fires.
	assert.Empty(t, broker.eventsOn("fpl:gameweek.planning"))

	approaching := broker.eventsOn("fpl:gameweek.deadline_approaching")
	require.Len(t, approaching, 1)

	event := decodeFirst(t, approaching)
	assert.Equal(t, events.PriorityCritical, event.Priority)

	var payload events.DeadlineApproachingPayload
	require.NoError(t, event.PayloadAs(&payload))
	assert.Equal(t, 8, payload.Gameweek)
	assert.InDelta(t, 1.5, payload.HoursLeft, 0.01)
}

func TestGameweekStartedPublishedOnce(t *testing.T) {
	s, broker := newScheduler(t, []gameweekFixture{
		{ID: 7, Deadline: testNow.Add(-30 * time.Minute)},
		{ID: 8, Deadline: testNow.Add(7 * 24 * time.Hour)},
	})
	ctx := context.Background()

	require.NoError(t, s.CheckDeadlines(ctx))
	require.NoError(t, s.CheckDeadlines(ctx))

	started := broker.eventsOn("fpl:gameweek.started")
	require.Len(t, started, 1)

	var payload events.GameweekStartedPayload
	require.NoError(t, decodeFirst(t, started).PayloadAs(&payload))
	assert.Equal(t, 7, payload.Gameweek)
}

func TestWeeklyReviewOncePerFinishedGameweek(t *testing.T) {
	s, broker := newScheduler(t, []gameweekFixture{
		{ID: 5, Deadline: testNow.Add(-14 * 24 * time.Hour), Finished: true, DataChecked: true},
		{ID: 6, Deadline: testNow.Add(-7 * 24 * time.Hour), Finished: true, DataChecked: false},
		{ID: 7, Deadline: testNow.Add(24 * time.Hour)},
	})
	ctx := context.Background()

	require.NoError(t, s.WeeklyReview(ctx))
	require.NoError(t, s.WeeklyReview(ctx))

	// Only the data-checked gameweek completes, and only once.
	completed := broker.eventsOn("fpl:gameweek.completed")
	require.Len(t, completed, 1)

	var payload events.GameweekCompletedPayload
	require.NoError(t, decodeFirst(t, completed).PayloadAs(&payload))
	assert.Equal(t, 5, payload.Gameweek)
}

func TestNextDeadlineSkipsFinishedGameweeks(t *testing.T) {
	s, _ := newScheduler(t, []gameweekFixture{
		{ID: 6, Deadline: testNow.Add(-7 * 24 * time.Hour), Finished: true, DataChecked: true},
		{ID: 7, Deadline: testNow.Add(48 * time.Hour)},
	})

	deadline := s.NextDeadline(context.Background())
	require.NotNil(t, deadline)
	assert.Equal(t, 7, deadline.Gameweek)
	assert.InDelta(t, 48.0, deadline.HoursUntil, 0.01)
}

func TestPricePulseValidatesPhase(t *testing.T) {
	s, broker := newScheduler(t, nil)
	ctx := context.Background()

	require.NoError(t, s.PricePulse(ctx, "pre"))
	require.NoError(t, s.PricePulse(ctx, "post"))
	assert.Error(t, s.PricePulse(ctx, "midnight"))

	checks := broker.eventsOn("fpl:price.check")
	assert.Len(t, checks, 2)
}

func TestDailyRefreshPublishesRequest(t *testing.T) {
	s, broker := newScheduler(t, nil)

	require.NoError(t, s.DailyRefresh(context.Background()))

	refreshes := broker.eventsOn("fpl:data.refresh_requested")
	require.Len(t, refreshes, 1)

	var payload events.DataRefreshRequestedPayload
	require.NoError(t, decodeFirst(t, refreshes).PayloadAs(&payload))
	assert.Equal(t, "scheduled-daily-refresh", payload.Trigger)
}
