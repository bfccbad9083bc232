// Package api is the operator surface: health probes, state reads and
// manual triggers. It is infrastructure for running the engine, not a
// product UI; nothing here mutates the squad directly.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/agent"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/feed"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/scheduler"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
	applogger "github.com/jolyonbrown/ron-clanker-sub001/pkg/logger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Server hosts the gin router and the HTTP listener.
type Server struct {
	router *gin.Engine
	http   *http.Server

	repo   *storage.Repository
	bus    *events.Bus
	runner *scheduler.Runner
	hub    *feed.Hub
	agents []*agent.Agent
	logger *logrus.Logger
}

// NewServer wires the routes. Runner and hub may be nil in tests; the
// affected endpoints degrade rather than panic.
func NewServer(repo *storage.Repository, bus *events.Bus, runner *scheduler.Runner, hub *feed.Hub, agents []*agent.Agent, logger *logrus.Logger) *Server {
	s := &Server{
		repo:   repo,
		bus:    bus,
		runner: runner,
		hub:    hub,
		agents: agents,
		logger: logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	// Request logs go through the shared process logger; keep it pointed
	// at the injected instance.
	applogger.Logger = logger
	router.Use(corsMiddleware())
	router.Use(loggingMiddleware())

	router.GET("/health", s.healthCheck)
	router.GET("/ready", s.readinessCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/events", s.getEvents)
		v1.GET("/decisions", s.getDecisions)
		v1.GET("/predictions/:gw", s.getPredictions)
		v1.GET("/squad", s.getSquad)
		v1.GET("/draft/:gw", s.getDraft)

		v1.POST("/trigger/refresh", s.triggerRefresh)
		v1.POST("/trigger/selection", s.triggerSelection)

		if hub != nil {
			v1.GET("/ws", hub.HandleWebSocket)
		}
	}

	s.router = router
	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the HTTP listener until Shutdown.
func (s *Server) Start(port string) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.WithField("addr", s.http.Addr).Info("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "gaffer",
	})
}

func (s *Server) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.repo.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "database connection failed",
		})
		return
	}

	if health := s.bus.Health(ctx); !health.Connected {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "event bus disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) getStatus(c *gin.Context) {
	agentStats := make([]agent.Stats, 0, len(s.agents))
	for _, a := range s.agents {
		agentStats = append(agentStats, a.Stats())
	}

	var jobs []scheduler.JobInfo
	if s.runner != nil {
		jobs = s.runner.Jobs()
	}

	feedClients := 0
	if s.hub != nil {
		feedClients = s.hub.ConnectionCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"agents":       agentStats,
		"jobs":         jobs,
		"bus_health":   s.bus.Health(c.Request.Context()),
		"bus_stats":    s.bus.Stats(),
		"feed_clients": feedClients,
		"timestamp":    time.Now().UTC(),
	})
}

func (s *Server) getEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if parsed > maxEventLimit {
			parsed = maxEventLimit
		}
		limit = parsed
	}

	var kind *events.Kind
	if raw := c.Query("kind"); raw != "" {
		parsed, err := events.ParseKind(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown event kind %q", raw)})
			return
		}
		kind = &parsed
	}

	history := s.bus.History(c.Request.Context(), limit, kind)
	c.JSON(http.StatusOK, gin.H{
		"events": history,
		"count":  len(history),
	})
}

func (s *Server) getDecisions(c *gin.Context) {
	gw, ok := s.gameweekParam(c, c.Query("gw"))
	if !ok {
		return
	}

	decisions, err := s.repo.DecisionsForGameweek(c.Request.Context(), gw)
	if err != nil {
		s.internalError(c, err, "Failed to load decisions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gameweek":  gw,
		"decisions": decisions,
		"count":     len(decisions),
	})
}

func (s *Server) getPredictions(c *gin.Context) {
	gw, err := strconv.Atoi(c.Param("gw"))
	if err != nil || gw < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameweek must be a positive integer"})
		return
	}

	predictions, err := s.repo.PredictionsForGameweek(c.Request.Context(), gw)
	if err != nil {
		s.internalError(c, err, "Failed to load predictions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gameweek":    gw,
		"predictions": predictions,
		"count":       len(predictions),
	})
}

func (s *Server) getSquad(c *gin.Context) {
	ctx := c.Request.Context()

	squad, err := s.repo.GetMyTeam(ctx)
	if err != nil {
		s.internalError(c, err, "Failed to load squad")
		return
	}

	state, err := s.repo.GetTeamState(ctx)
	if err != nil {
		s.internalError(c, err, "Failed to load team state")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"squad": squad,
		"state": state,
	})
}

func (s *Server) getDraft(c *gin.Context) {
	gw, err := strconv.Atoi(c.Param("gw"))
	if err != nil || gw < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameweek must be a positive integer"})
		return
	}

	draft, err := s.repo.GetDraft(c.Request.Context(), gw)
	if err != nil {
		s.internalError(c, err, "Failed to load draft")
		return
	}
	if len(draft) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no draft for gameweek %d", gw)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gameweek": gw,
		"draft":    draft,
	})
}

func (s *Server) triggerRefresh(c *gin.Context) {
	event, err := events.New(events.KindDataRefreshRequested, events.DataRefreshRequestedPayload{
		Trigger: "manual",
		Force:   c.Query("force") == "true",
	}, events.WithSource("api"))
	if err != nil {
		s.internalError(c, err, "Failed to build refresh event")
		return
	}

	if _, err := s.bus.Publish(c.Request.Context(), event); err != nil {
		s.internalError(c, err, "Failed to publish refresh event")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"event_id": event.ID,
	})
}

func (s *Server) triggerSelection(c *gin.Context) {
	var body struct {
		Gameweek int    `json:"gameweek"`
		Reason   string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	gw, ok := s.gameweekParam(c, strconv.Itoa(body.Gameweek))
	if !ok {
		return
	}

	reason := body.Reason
	if reason == "" {
		reason = "manual"
	}

	event, err := events.New(events.KindTeamSelectionRequested, events.SelectionRequestedPayload{
		Gameweek: gw,
		Reason:   reason,
	}, events.WithSource("api"), events.WithPriority(events.PriorityHigh))
	if err != nil {
		s.internalError(c, err, "Failed to build selection event")
		return
	}

	if _, err := s.bus.Publish(c.Request.Context(), event); err != nil {
		s.internalError(c, err, "Failed to publish selection event")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"gameweek": gw,
		"event_id": event.ID,
	})
}

// gameweekParam resolves an explicit gameweek string, falling back to the
// store's current gameweek when absent or zero. Writes the error response
// itself and reports success through the bool.
func (s *Server) gameweekParam(c *gin.Context, raw string) (int, bool) {
	if raw != "" && raw != "0" {
		gw, err := strconv.Atoi(raw)
		if err != nil || gw < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "gameweek must be a positive integer"})
			return 0, false
		}
		return gw, true
	}

	current, err := s.repo.CurrentGameweek(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no current gameweek known, pass one explicitly"})
		return 0, false
	}
	return current.ID, true
}

func (s *Server) internalError(c *gin.Context, err error, msg string) {
	s.logger.WithError(err).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		applogger.WithHTTPContext(c.Request.Method, c.FullPath(), c.Writer.Status()).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Debug("Request handled")
	}
}
