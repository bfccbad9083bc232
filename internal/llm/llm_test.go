package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-key", "test-model", testLogger())
	c.baseURL = srv.URL
	return c, srv
}

func TestGenerateReturnsFirstTextBlock(t *testing.T) {
	var gotVersion, gotKey string
	var gotReq request
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(response{
			Content: []contentBlock{{Type: "text", Text: "Ron has spoken."}},
		})
	})

	text, err := c.Generate(context.Background(), "be terse", "announce the team")
	require.NoError(t, err)
	assert.Equal(t, "Ron has spoken.", text)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "be terse", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestGenerateDisabledWithoutKey(t *testing.T) {
	c := NewClient("", "test-model", testLogger())
	_, err := c.Generate(context.Background(), "", "anything")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.False(t, c.Available())
}

func TestGenerateDoesNotRetryAuthFailure(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(apiError{Type: "authentication_error", Message: "bad key"})
	})

	_, err := c.Generate(context.Background(), "", "announce")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "status 401")
}

func TestGenerateRetriesServerError(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(response{
			Content: []contentBlock{{Type: "text", Text: "recovered"}},
		})
	})

	text, err := c.Generate(context.Background(), "", "announce")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 3, calls)
}

func TestAnnouncerFallsBackToTemplate(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	a := NewAnnouncer(c, testLogger())

	sel := Selection{
		Gameweek: 12,
		Captain:  "Haaland",
		Vice:     "Salah",
		Chip:     "bench-boost",
		Transfers: []TransferLine{
			{Out: "Darwin", In: "Watkins", InCost: 9.0, OutSold: 7.5},
		},
		HitCost: 4,
	}
	text := a.Announce(context.Background(), sel)
	assert.Contains(t, text, "GW12")
	assert.Contains(t, text, "Darwin out, Watkins in")
	assert.Contains(t, text, "(-4 hit)")
	assert.Contains(t, text, "bench-boost")
	assert.Contains(t, text, "Haaland wears the armband with Salah as vice.")
}

func TestAnnouncerUsesModelWhenAvailable(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req request
		json.NewDecoder(r.Body).Decode(&req)
		// The prompt should carry the structured selection facts.
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, "Captain: Haaland")
		assert.Contains(t, req.Messages[0].Content, "roll the free transfer")
		json.NewEncoder(w).Encode(response{
			Content: []contentBlock{{Type: "text", Text: "  A quiet week for the club.  "}},
		})
	})
	a := NewAnnouncer(c, testLogger())

	text := a.Announce(context.Background(), Selection{Gameweek: 3, Captain: "Haaland", Vice: "Salah"})
	assert.Equal(t, "A quiet week for the club.", text)
}

func TestTemplateNoTransfersNoChip(t *testing.T) {
	text := TemplateAnnouncement(Selection{Gameweek: 1, Captain: "Saka", Vice: "Palmer"})
	assert.True(t, strings.HasPrefix(text, "GW1 team news: no transfers this week."))
	assert.NotContains(t, text, "Playing the")
}
