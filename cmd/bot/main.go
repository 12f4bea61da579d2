// Package main is the entry point for the game-time tracker service.
//
// The service consumes voice and activity events relayed from the Discord
// gateway, tracks play sessions per (user, community) pair, accumulates
// playtime into per-player aggregates, evaluates level and title milestones,
// and announces progress back into each community's log channel.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: session and player aggregates, no external dependencies
// - Application: tracker state machine, queries, event handlers
// - Infrastructure: PostgreSQL and Redis persistence, Discord REST client
// - Interface: HTTP ingest and read API
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gametime-hub/gametime-tracker/config"
	"github.com/gametime-hub/gametime-tracker/internal/application/eventhandler"
	"github.com/gametime-hub/gametime-tracker/internal/application/query"
	"github.com/gametime-hub/gametime-tracker/internal/application/tracker"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
	"github.com/gametime-hub/gametime-tracker/internal/infrastructure/external/discord"
	"github.com/gametime-hub/gametime-tracker/internal/infrastructure/messaging"
	"github.com/gametime-hub/gametime-tracker/internal/infrastructure/persistence/postgres"
	"github.com/gametime-hub/gametime-tracker/internal/infrastructure/persistence/redis"
	httpserver "github.com/gametime-hub/gametime-tracker/internal/interface/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting game-time tracker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (presence mirror + read cache, optional)
	// ─────────────────────────────────────────────────────────────────────────
	// The cache-dependent collaborators take interfaces, so the variables
	// stay nil interfaces (not typed nil pointers) when Redis is absent.
	var (
		redisCache     *redis.Cache
		presenceMirror *redis.VoicePresenceMirror
		readCache      query.ReadCache
		profileCache   eventhandler.ProfileCache
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			// Presence mirroring is advisory and reads fall back to the
			// database, so a missing Redis is a degradation, not a failure.
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			presenceMirror = redis.NewVoicePresenceMirror(redisCache)
			readModelCache := redis.NewReadModelCache(redisCache)
			readCache = readModelCache
			profileCache = readModelCache
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	sessionRepo := postgres.NewSessionRepository(dbConn)
	playerRepo := postgres.NewPlayerRepository(dbConn)
	commitStore := postgres.NewEndCommitStore(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	busConfig.AsyncMode = true
	eventBus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. DISCORD CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Discord client...")
	discordCfg := discord.DefaultClientConfig(cfg.Discord.Token)
	discordCfg.BaseURL = cfg.Discord.BaseURL
	discordCfg.LogChannelName = cfg.Discord.LogChannelName
	discordCfg.Timeout = cfg.Discord.RequestTimeout
	discordCfg.Logger = log
	discordCfg.Debug = cfg.App.Debug
	discordClient := discord.NewClient(discordCfg)
	discordAdapter := discord.NewAdapter(discordClient)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")

	sessionHandler := eventhandler.NewOnSessionHandler(discordAdapter, log,
		eventhandler.SessionNotificationConfig{
			AnnounceStarts: cfg.Discord.AnnounceStarts,
		})
	progressionHandler := eventhandler.NewOnProgressionHandler(discordAdapter,
		discordAdapter, profileCache, log,
		eventhandler.ProgressionConfig{
			GrantRoles: cfg.Discord.GrantRoles,
		})

	subscriptions := map[shared.EventType]shared.EventHandler{
		shared.EventSessionStarted: sessionHandler.HandleStarted,
		shared.EventSessionEnded:   sessionHandler.HandleEnded,
		shared.EventLevelUp:        progressionHandler.HandleLevelUp,
		shared.EventTitleEarned:    progressionHandler.HandleTitleEarned,
	}
	for eventType, handler := range subscriptions {
		if err := eventBus.Subscribe(eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe %s handler: %w", eventType, err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. TRACKER + JANITOR
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing session tracker...")

	trackerCfg := tracker.DefaultConfig()
	trackerCfg.StoreTimeout = cfg.Tracker.StoreTimeout

	var presence tracker.VoicePresence = noopPresence{}
	if presenceMirror != nil {
		presence = presenceMirror
	}

	evaluator := tracker.NewMilestoneEvaluator(nil, nil)
	sessionTracker := tracker.New(trackerCfg, sessionRepo, playerRepo,
		commitStore, presence, evaluator, eventBus, log)

	if cfg.Janitor.Enabled {
		janitor := tracker.NewJanitor(tracker.JanitorConfig{
			Interval:      cfg.Janitor.Interval,
			MaxSessionAge: cfg.Janitor.MaxSessionAge,
			BatchSize:     cfg.Janitor.BatchSize,
		}, sessionTracker)
		go janitor.Run(ctx)
		log.Info("stale session janitor started",
			"interval", cfg.Janitor.Interval,
			"max_session_age", cfg.Janitor.MaxSessionAge,
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. QUERY HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	leaderboardQuery := query.NewGetLeaderboardHandler(playerRepo, readCache, log)
	profileQuery := query.NewGetProfileHandler(playerRepo, readCache, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.IngestToken = cfg.HTTP.IngestToken
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.EnableMetrics = cfg.Observability.MetricsEnabled

	healthChecks := map[string]httpserver.HealthChecker{
		"postgres": dbConn,
	}
	if redisCache != nil {
		healthChecks["redis"] = redisCache
	}

	httpServer := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Tracker:               sessionTracker,
		GetLeaderboardHandler: leaderboardQuery,
		GetProfileHandler:     profileQuery,
		HealthChecks:          healthChecks,
		Logger:                log,
	})

	errCh := httpServer.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 12. RUN + GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("game-time tracker is running", "http_address", httpCfg.Address())

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", "error", err)
			return err
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	// Event bus, Redis, and the database close through defers. The bus closes
	// first so in-flight notifications drain before their clients go away.
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging from the observability config.
func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Observability.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.App.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" || cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// noopPresence stands in for the Redis presence mirror when Redis is
// disabled. Every lookup misses, so the tracker relies on the voice flag
// each observation carries.
type noopPresence struct{}

func (noopPresence) SetVoiceState(ctx context.Context, key shared.PlayerKey, inVoice bool, channelLabel string) error {
	return nil
}

func (noopPresence) SetCurrentGame(ctx context.Context, key shared.PlayerKey, game string) error {
	return nil
}

func (noopPresence) Snapshot(ctx context.Context, key shared.PlayerKey) (*tracker.PresenceSnapshot, error) {
	return nil, nil
}
