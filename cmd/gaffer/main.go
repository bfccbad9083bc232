// gaffer is the single-process manager: every agent, the scheduler and the
// operator API share one binary, wired over Redis pub/sub and Postgres.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/agent"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/analyzers"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/api"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/cache"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/config"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/coordinator"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/feed"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/gateway"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/learning"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/llm"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/notify"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/optimizer"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/prediction"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/pricewatch"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/providers"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/rivals"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/scheduler"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/synthesis"
	"github.com/jolyonbrown/ron-clanker-sub001/pkg/database"
	applogger "github.com/jolyonbrown/ron-clanker-sub001/pkg/logger"
)

const shutdownGrace = 30 * time.Second

func main() {
	bootLog := logrus.New()
	bootLog.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.WithError(err).Fatal("Failed to load configuration")
	}

	logger := applogger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.WithFields(logrus.Fields{
		"service": "gaffer",
		"port":    cfg.Port,
		"env":     cfg.Env,
	}).Info("Starting gaffer")

	// Storage and broker are hard dependencies: no degraded mode, exit.
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	repo := storage.NewRepository(db, logger)
	if err := repo.Migrate(); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	redisClient, err := initRedis(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	bus := events.NewBus(events.NewRedisBroker(redisClient), cfg.EventPrefix, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bus.Connect(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to connect event bus")
	}
	if err := bus.StartListening(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start event listener")
	}

	store := cache.NewRedisCache(redisClient, cfg.EventPrefix, logger)
	fplClient := providers.NewFPLClient(cfg.FPLBaseURL, logger)

	// Services behind the agents.
	gatewaySvc := gateway.NewService(fplClient, store, repo, bus, logger)

	registry := prediction.NewRegistry(logger)
	registry.LoadDir(cfg.ModelsDir)
	predictor := prediction.NewService(repo, registry, logger)

	advisor := optimizer.NewAdvisor(repo, bus, logger)

	llmClient := llm.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger)
	announcer := llm.NewAnnouncer(llmClient, logger)

	weights := analyzers.Weights{
		Base:      cfg.ValueWeightBase,
		Defensive: cfg.ValueWeightDefensive,
		Fixture:   cfg.ValueWeightFixture,
		XG:        cfg.ValueWeightXG,
	}

	hub := feed.NewHub(logger)

	logics := []agent.Logic{
		gatewaySvc,
		analyzers.NewFixtureAnalyzer(repo, bus, logger),
		analyzers.NewDCAnalyzer(repo, bus, logger),
		analyzers.NewXGAnalyzer(repo, bus, logger),
		analyzers.NewValueAnalyzer(repo, bus, weights, logger),
		synthesis.NewEngine(repo, bus, predictor, logger),
		coordinator.New(repo, bus, predictor, advisor, announcer, cfg.TransferHorizon, logger),
		learning.New(repo, gatewaySvc, logger),
		pricewatch.New(repo, bus, predictor, cfg.PriceConfidenceThreshold, logger),
		rivals.New(repo, bus, fplClient, cfg.LeagueID, cfg.TeamID, logger),
		notify.New(cfg.WebhookURL, logger),
		hub,
	}

	agents := make([]*agent.Agent, 0, len(logics))
	for _, logic := range logics {
		a := agent.New(logic, bus, logger)
		if err := a.Start(ctx); err != nil {
			applogger.WithAgent(a.Name()).WithError(err).Fatal("Failed to start agent")
		}
		applogger.WithAgent(a.Name()).Info("Agent started")
		agents = append(agents, a)
	}

	sched := scheduler.New(gatewaySvc, store, bus, logger)
	runner := scheduler.NewRunner(sched, logger)
	if err := runner.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	server := api.NewServer(repo, bus, runner, hub, agents, logger)
	go func() {
		if err := server.Start(cfg.Port); err != nil {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	publishLifecycle(ctx, bus, events.KindSystemStartup)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	publishLifecycle(shutdownCtx, bus, events.KindSystemShutdown)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}
	runner.Stop()

	for i := len(agents) - 1; i >= 0; i-- {
		if err := agents[i].Stop(shutdownCtx); err != nil {
			applogger.WithAgent(agents[i].Name()).WithError(err).Warn("Agent stop failed")
		}
	}

	bus.StopListening()
	if err := bus.Disconnect(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Event bus disconnect failed")
	}
	cancel()

	logger.Info("Gaffer exited")
}

func initRedis(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

func publishLifecycle(ctx context.Context, bus *events.Bus, kind events.Kind) {
	event, err := events.New(kind, nil, events.WithSource("gaffer"))
	if err != nil {
		return
	}
	if _, err := bus.Publish(ctx, event); err != nil {
		applogger.WithEvent(event.ID, string(kind)).WithError(err).Warn("Lifecycle event publish failed")
		return
	}
	applogger.WithEvent(event.ID, string(kind)).Debug("Lifecycle event published")
}
