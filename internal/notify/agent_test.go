package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

func capture(t *testing.T) (*Agent, *[]message) {
	t.Helper()
	var received []message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received = append(received, msg)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, testLogger()), &received
}

func TestTeamSelectionUsesBlocks(t *testing.T) {
	agent, received := capture(t)

	event, err := events.New(events.KindTeamSelected, events.TeamSelectedPayload{
		Gameweek:  9,
		Formation: "3-5-2",
		Starting: []events.PickRef{
			{PlayerID: 1, Name: "Raya"}, {PlayerID: 2, Name: "Gabriel"},
		},
		Bench:        []events.PickRef{{PlayerID: 3, Name: "Pope"}},
		Captain:      events.PickRef{PlayerID: 4, Name: "Haaland"},
		ViceCaptain:  events.PickRef{PlayerID: 5, Name: "Salah"},
		Transfers:    1,
		HitCost:      4,
		Announcement: "The lads know what to do.",
	})
	require.NoError(t, err)
	require.NoError(t, agent.HandleEvent(context.Background(), event))

	require.Len(t, *received, 1)
	msg := (*received)[0]
	assert.Contains(t, msg.Text, "GW9")
	assert.Contains(t, msg.Text, "Haaland (c)")
	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Contains(t, msg.Blocks[1].Text.Text, "*Transfers:* 1 (-4)")
	assert.Contains(t, msg.Blocks[2].Text.Text, "The lads know what to do.")
}

func TestNotificationPlainText(t *testing.T) {
	agent, received := capture(t)

	event, err := events.New(events.KindNotificationError, events.NotificationPayload{
		Level:   "error",
		Title:   "GW9 selection failed",
		Message: "squad holds 14 players, need 15",
	})
	require.NoError(t, err)
	require.NoError(t, agent.HandleEvent(context.Background(), event))

	require.Len(t, *received, 1)
	assert.Contains(t, (*received)[0].Text, "GW9 selection failed")
	assert.Empty(t, (*received)[0].Blocks)
}

func TestDeadlineReminder(t *testing.T) {
	agent, received := capture(t)

	event, err := events.New(events.KindGameweekDeadlineApproaching, events.DeadlineApproachingPayload{
		Gameweek:  12,
		Deadline:  time.Date(2026, 1, 10, 11, 0, 0, 0, time.UTC),
		HoursLeft: 24,
	})
	require.NoError(t, err)
	require.NoError(t, agent.HandleEvent(context.Background(), event))

	require.Len(t, *received, 1)
	assert.Contains(t, (*received)[0].Text, "GW12 deadline in 24 hours")
}

func TestDisabledWithoutURL(t *testing.T) {
	agent := New("", testLogger())
	assert.False(t, agent.Enabled())

	event, err := events.New(events.KindNotificationInfo, events.NotificationPayload{Message: "hello"})
	require.NoError(t, err)
	assert.NoError(t, agent.HandleEvent(context.Background(), event))
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	agent := New(srv.URL, testLogger())

	event, err := events.New(events.KindNotificationInfo, events.NotificationPayload{Message: "hello"})
	require.NoError(t, err)
	assert.NoError(t, agent.HandleEvent(context.Background(), event))
}
