package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
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
	history   []string
}

func (r *recordBroker) Ping(ctx context.Context) error { return nil }

func (r *recordBroker) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, events.Message{Channel: channel, Payload: string(payload)})
	return 1, nil
}

func (r *recordBroker) HistoryAdd(ctx context.Context, key string, score float64, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, string(payload))
	return nil
}

func (r *recordBroker) HistoryTrim(context.Context, string, int64) error { return nil }

func (r *recordBroker) HistoryRange(ctx context.Context, key string, limit int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.history))
	for i := len(r.history) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		out = append(out, r.history[i])
	}
	return out, nil
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

func newServer(t *testing.T) (*Server, *storage.Repository, *recordBroker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewSQLite(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := storage.NewRepository(db, testLogger())
	require.NoError(t, repo.Migrate())

	broker := &recordBroker{}
	bus := events.NewBus(broker, "fpl", testLogger())
	require.NoError(t, bus.Connect(context.Background()))

	return NewServer(repo, bus, nil, nil, nil, testLogger()), repo, broker
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func seedGameweek(t *testing.T, repo *storage.Repository, id int) {
	t.Helper()
	require.NoError(t, repo.UpsertGameweeks(context.Background(), []models.Gameweek{
		{ID: id, Name: "Gameweek", IsCurrent: true},
	}))
}

func TestHealthAndReadiness(t *testing.T) {
	srv, _, _ := newServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = doRequest(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["status"])
}

func TestGetEventsFiltersByKind(t *testing.T) {
	srv, _, broker := newServer(t)
	ctx := context.Background()

	for _, kind := range []events.Kind{events.KindPriceCheck, events.KindDataUpdated, events.KindPriceCheck} {
		event, err := events.New(kind, nil)
		require.NoError(t, err)
		data, err := json.Marshal(event)
		require.NoError(t, err)
		require.NoError(t, broker.HistoryAdd(ctx, "fpl:events:history", float64(event.Timestamp.UnixNano()), data))
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/events?kind=price.check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/events?kind=not.a.kind", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/events?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSquadReturnsSlotsAndState(t *testing.T) {
	srv, repo, _ := newServer(t)
	ctx := context.Background()

	state, err := repo.GetTeamState(ctx)
	require.NoError(t, err)
	state.Bank = 25
	require.NoError(t, repo.ReplaceMyTeam(ctx, []models.MyTeamSlot{
		{PlayerID: 1, Code: 101, Name: "Raya", ElementType: 1, TeamID: 1, PurchasePrice: 55, SellingPrice: 55},
	}, state))

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/squad", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	squad, ok := body["squad"].([]interface{})
	require.True(t, ok)
	assert.Len(t, squad, 1)
	stateBody, ok := body["state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(25), stateBody["bank"])
}

func TestGetDraftMissingGameweekIs404(t *testing.T) {
	srv, repo, _ := newServer(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveDraft(ctx, 7, []models.DraftSlot{
		{Gameweek: 7, Slot: 1, PlayerID: 1, Name: "Raya", ElementType: 1, Formation: "3-4-3"},
	}))

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/draft/7", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/draft/8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/draft/zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRefreshPublishesEvent(t *testing.T) {
	srv, _, broker := newServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/trigger/refresh?force=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	published := broker.eventsOn("fpl:data.refresh_requested")
	require.Len(t, published, 1)

	event, err := events.Decode([]byte(published[0].Payload))
	require.NoError(t, err)
	assert.Equal(t, "api", event.Source)

	var payload events.DataRefreshRequestedPayload
	require.NoError(t, event.PayloadAs(&payload))
	assert.Equal(t, "manual", payload.Trigger)
	assert.True(t, payload.Force)
}

func TestTriggerSelectionDefaultsToCurrentGameweek(t *testing.T) {
	srv, repo, broker := newServer(t)
	seedGameweek(t, repo, 12)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/trigger/selection", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(12), decodeBody(t, rec)["gameweek"])

	published := broker.eventsOn("fpl:team.selection_requested")
	require.Len(t, published, 1)

	event, err := events.Decode([]byte(published[0].Payload))
	require.NoError(t, err)
	assert.Equal(t, events.PriorityHigh, event.Priority)

	var payload events.SelectionRequestedPayload
	require.NoError(t, event.PayloadAs(&payload))
	assert.Equal(t, 12, payload.Gameweek)
	assert.Equal(t, "manual", payload.Reason)
}

func TestTriggerSelectionExplicitGameweek(t *testing.T) {
	srv, _, broker := newServer(t)

	body, err := json.Marshal(map[string]interface{}{"gameweek": 20, "reason": "injury news"})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/trigger/selection", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	published := broker.eventsOn("fpl:team.selection_requested")
	require.Len(t, published, 1)

	event, err := events.Decode([]byte(published[0].Payload))
	require.NoError(t, err)

	var payload events.SelectionRequestedPayload
	require.NoError(t, event.PayloadAs(&payload))
	assert.Equal(t, 20, payload.Gameweek)
	assert.Equal(t, "injury news", payload.Reason)
}

func TestGetDecisionsUsesCurrentGameweek(t *testing.T) {
	srv, repo, _ := newServer(t)
	seedGameweek(t, repo, 9)
	ctx := context.Background()

	require.NoError(t, repo.RecordDecision(ctx, &models.DecisionRecord{
		Gameweek: 9, Kind: "captain", Reasoning: "form pick", Agent: "coordinator",
	}))

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/decisions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(9), body["gameweek"])
	assert.Equal(t, float64(1), body["count"])
}
