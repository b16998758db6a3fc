package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/hamoodtechit/hamoodsoft/internal/app"
	"github.com/hamoodtechit/hamoodsoft/internal/events"
	jobmetrics "github.com/hamoodtechit/hamoodsoft/internal/jobs"
	platformcache "github.com/hamoodtechit/hamoodsoft/internal/platform/cache"
	"github.com/hamoodtechit/hamoodsoft/internal/remotecache"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	"github.com/hamoodtechit/hamoodsoft/internal/upstream"
	"github.com/hamoodtechit/hamoodsoft/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// The worker shares the session snapshot with the gateway so its
	// upstream calls ride the same token.
	snapshots := session.NewSnapshotStore(redisClient, cfg.SnapshotScope, cfg.SnapshotTTL)
	store := session.NewStore(logger, snapshots)
	if err := store.Hydrate(ctx); err != nil {
		logger.Warn("session hydrate", slog.Any("error", err))
	}

	broker := events.NewBroker()
	store.AttachRefreshListener(broker)

	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, store, broker, logger)
	cache := remotecache.New(client, store, logger, remotecache.Config{
		ProfileTTL:    cfg.ProfileTTL,
		BusinessesTTL: cfg.BusinessesTTL,
		RolesTTL:      cfg.RolesTTL,
	})

	refreshHandlers := jobs.NewRefreshHandlers(cache, logger, jobmetrics.NewMetrics(nil))

	businessesTask, err := jobs.NewBusinessesRefreshTask(jobs.RefreshPayload{Reason: "cron"})
	if err != nil {
		logger.Error("build businesses refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	rolesTask, err := jobs.NewRolesRefreshTask(jobs.RefreshPayload{Reason: "cron"})
	if err != nil {
		logger.Error("build roles refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:    logger,
		Refresh:   refreshHandlers,
		Cron: []jobs.CronRegistration{
			{Spec: "*/10 * * * *", Task: businessesTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: rolesTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
