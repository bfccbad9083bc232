package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the public FPL API root.
const DefaultBaseURL = "https://fantasy.premierleague.com/api"

// ErrNotFound marks a 404 from the API, e.g. an unknown entry or player.
var ErrNotFound = errors.New("fpl: resource not found")

// FPLClient fetches from the FPL API with rate limiting, retries and a
// circuit breaker. All methods are safe for concurrent use; the rate limiter
// spaces requests.
type FPLClient struct {
	httpClient    *http.Client
	logger        *logrus.Logger
	baseURL       string
	rateLimiter   *time.Ticker
	retryAttempts int
	userAgent     string
	breaker       *gobreaker.CircuitBreaker

	trackerMu    sync.Mutex
	requestCount int
	lastReset    time.Time
}

// NewFPLClient creates a client against the given API root. An empty baseURL
// uses the public API.
func NewFPLClient(baseURL string, logger *logrus.Logger) *FPLClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "fpl-api",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit":    name,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Info("FPL API circuit breaker state changed")
		},
	})
	return &FPLClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:        logger,
		baseURL:       baseURL,
		rateLimiter:   time.NewTicker(250 * time.Millisecond),
		retryAttempts: 3,
		userAgent:     "gaffer/1.0",
		breaker:       breaker,
		lastReset:     time.Now(),
	}
}

// Close stops the rate limiter.
func (c *FPLClient) Close() {
	c.rateLimiter.Stop()
}

// GetBootstrap fetches the bootstrap-static payload: gameweeks, teams and
// every player's season-to-date stats.
func (c *FPLClient) GetBootstrap(ctx context.Context) (*Bootstrap, error) {
	var bootstrap Bootstrap
	if err := c.makeRequest(ctx, "/bootstrap-static/", &bootstrap); err != nil {
		return nil, fmt.Errorf("failed to fetch bootstrap: %w", err)
	}
	return &bootstrap, nil
}

// GetFixtures fetches fixtures, for one gameweek when gameweek > 0 or the
// whole season otherwise.
func (c *FPLClient) GetFixtures(ctx context.Context, gameweek int) ([]FixtureDTO, error) {
	path := "/fixtures/"
	if gameweek > 0 {
		path = fmt.Sprintf("/fixtures/?event=%d", gameweek)
	}
	var fixtures []FixtureDTO
	if err := c.makeRequest(ctx, path, &fixtures); err != nil {
		return nil, fmt.Errorf("failed to fetch fixtures: %w", err)
	}
	return fixtures, nil
}

// GetPlayerSummary fetches one player's detailed history and upcoming
// fixtures.
func (c *FPLClient) GetPlayerSummary(ctx context.Context, playerID int) (*PlayerSummary, error) {
	var summary PlayerSummary
	if err := c.makeRequest(ctx, fmt.Sprintf("/element-summary/%d/", playerID), &summary); err != nil {
		return nil, fmt.Errorf("failed to fetch player %d summary: %w", playerID, err)
	}
	return &summary, nil
}

// GetLiveData fetches in-gameweek scoring for every player.
func (c *FPLClient) GetLiveData(ctx context.Context, gameweek int) (*LiveData, error) {
	var live LiveData
	if err := c.makeRequest(ctx, fmt.Sprintf("/event/%d/live/", gameweek), &live); err != nil {
		return nil, fmt.Errorf("failed to fetch gameweek %d live data: %w", gameweek, err)
	}
	return &live, nil
}

// GetEntry fetches a manager's profile.
func (c *FPLClient) GetEntry(ctx context.Context, entryID int64) (*Entry, error) {
	var entry Entry
	if err := c.makeRequest(ctx, fmt.Sprintf("/entry/%d/", entryID), &entry); err != nil {
		return nil, fmt.Errorf("failed to fetch entry %d: %w", entryID, err)
	}
	return &entry, nil
}

// GetEntryPicks fetches a manager's submitted picks for a gameweek.
func (c *FPLClient) GetEntryPicks(ctx context.Context, entryID int64, gameweek int) (*EntryPicks, error) {
	var picks EntryPicks
	path := fmt.Sprintf("/entry/%d/event/%d/picks/", entryID, gameweek)
	if err := c.makeRequest(ctx, path, &picks); err != nil {
		return nil, fmt.Errorf("failed to fetch entry %d picks for gameweek %d: %w", entryID, gameweek, err)
	}
	return &picks, nil
}

// GetEntryHistory fetches a manager's season history including chip plays.
func (c *FPLClient) GetEntryHistory(ctx context.Context, entryID int64) (*EntryHistory, error) {
	var history EntryHistory
	if err := c.makeRequest(ctx, fmt.Sprintf("/entry/%d/history/", entryID), &history); err != nil {
		return nil, fmt.Errorf("failed to fetch entry %d history: %w", entryID, err)
	}
	return &history, nil
}

// GetLeagueStandings fetches one page of a classic league table. Pages start
// at 1.
func (c *FPLClient) GetLeagueStandings(ctx context.Context, leagueID int64, page int) (*LeagueStandings, error) {
	if page < 1 {
		page = 1
	}
	var standings LeagueStandings
	path := fmt.Sprintf("/leagues-classic/%d/standings/?page_standings=%d", leagueID, page)
	if err := c.makeRequest(ctx, path, &standings); err != nil {
		return nil, fmt.Errorf("failed to fetch league %d standings: %w", leagueID, err)
	}
	return &standings, nil
}

// makeRequest performs a GET behind the circuit breaker with rate limiting
// and retries. 404s fail fast with ErrNotFound; server errors and rate
// limiting back off exponentially.
func (c *FPLClient) makeRequest(ctx context.Context, path string, target interface{}) error {
	select {
	case <-c.rateLimiter.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.trackRequest()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doRequest(ctx, path, target)
	})
	return err
}

func (c *FPLClient) doRequest(ctx context.Context, path string, target interface{}) error {
	url := c.baseURL + path
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to read response body: %w", err)
			}
			if err := json.Unmarshal(body, target); err != nil {
				c.logger.WithFields(logrus.Fields{
					"url":             url,
					"response_length": len(body),
				}).WithError(err).Error("Failed to decode FPL API response")
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		case http.StatusForbidden:
			return fmt.Errorf("access forbidden for %s", path)
		case http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited on %s", path)
		default:
			lastErr = fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode)
		}

		c.logger.WithFields(logrus.Fields{
			"url":     url,
			"status":  resp.StatusCode,
			"attempt": attempt + 1,
		}).Warn("FPL API request failed")
	}

	return fmt.Errorf("failed after %d attempts: %w", c.retryAttempts, lastErr)
}

// trackRequest counts API calls, resetting daily.
func (c *FPLClient) trackRequest() {
	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()

	now := time.Now()
	if now.Day() != c.lastReset.Day() {
		c.requestCount = 0
		c.lastReset = now
	}
	c.requestCount++
}

// RequestCount reports API calls made since the daily reset.
func (c *FPLClient) RequestCount() int {
	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()
	return c.requestCount
}
