package feed

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(testLogger())
	require.NoError(t, hub.OnStart(context.Background()))
	t.Cleanup(func() { hub.OnStop(context.Background()) })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d connected clients, have %d", want, hub.ConnectionCount())
}

func TestHubSubscribesToEveryKind(t *testing.T) {
	hub := NewHub(testLogger())
	assert.Equal(t, events.AllKinds, hub.Kinds())
	assert.Equal(t, "event-feed", hub.Name())
}

func TestBroadcastReachesConnectedClient(t *testing.T) {
	hub, url := testHub(t)

	conn := dial(t, url)
	waitForClients(t, hub, 1)

	event, err := events.New(events.KindTeamCaptainSelected, events.CaptainSelectedPayload{
		Gameweek: 12,
		Captain:  events.PickRef{PlayerID: 2, Name: "Haaland"},
	}, events.WithSource("coordinator"))
	require.NoError(t, err)

	require.NoError(t, hub.HandleEvent(context.Background(), event))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var received events.Event
	require.NoError(t, json.Unmarshal(data, &received))
	assert.Equal(t, events.KindTeamCaptainSelected, received.Kind)
	assert.Equal(t, "coordinator", received.Source)

	var payload events.CaptainSelectedPayload
	require.NoError(t, received.PayloadAs(&payload))
	assert.Equal(t, 12, payload.Gameweek)
	assert.Equal(t, "Haaland", payload.Captain.Name)
}

func TestBroadcastFansOutToAllClients(t *testing.T) {
	hub, url := testHub(t)

	first := dial(t, url)
	second := dial(t, url)
	waitForClients(t, hub, 2)

	event, err := events.New(events.KindGameweekStarted, events.GameweekStartedPayload{Gameweek: 9})
	require.NoError(t, err)
	require.NoError(t, hub.HandleEvent(context.Background(), event))

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var received events.Event
		require.NoError(t, json.Unmarshal(data, &received))
		assert.Equal(t, events.KindGameweekStarted, received.Kind)
	}
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	hub, url := testHub(t)

	conn := dial(t, url)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
