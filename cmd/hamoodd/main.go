package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hamoodtechit/hamoodsoft/internal/app"
	"github.com/hamoodtechit/hamoodsoft/internal/audit"
	"github.com/hamoodtechit/hamoodsoft/internal/authz"
	"github.com/hamoodtechit/hamoodsoft/internal/events"
	"github.com/hamoodtechit/hamoodsoft/internal/observability"
	platformcache "github.com/hamoodtechit/hamoodsoft/internal/platform/cache"
	platformdb "github.com/hamoodtechit/hamoodsoft/internal/platform/db"
	"github.com/hamoodtechit/hamoodsoft/internal/remotecache"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	"github.com/hamoodtechit/hamoodsoft/internal/sessionapi"
	"github.com/hamoodtechit/hamoodsoft/internal/tenant"
	"github.com/hamoodtechit/hamoodsoft/internal/upstream"
	"github.com/hamoodtechit/hamoodsoft/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	auditLogger := audit.NewLogger(nil)
	if cfg.AuditEnabled() {
		pool, err := platformdb.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		auditLogger = audit.NewLogger(pool)
	}

	snapshots := session.NewSnapshotStore(redisClient, cfg.SnapshotScope, cfg.SnapshotTTL)
	store := session.NewStore(logger, snapshots)

	broker := events.NewBroker()
	store.AttachRefreshListener(broker)

	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, store, broker, logger)
	cache := remotecache.New(client, store, logger, remotecache.Config{
		ProfileTTL:    cfg.ProfileTTL,
		BusinessesTTL: cfg.BusinessesTTL,
		RolesTTL:      cfg.RolesTTL,
	})

	if err := store.Hydrate(ctx); err != nil {
		logger.Warn("session hydrate", slog.Any("error", err))
	}
	if snap := store.Snapshot(); snap.IsAuthenticated {
		cache.SeedBusinesses(snap.Businesses)
		cache.StoreProfile(snap.User)
	}

	metrics := observability.NewMetrics()
	unsubscribe := broker.Subscribe(func(events.TokenRefreshed) {
		metrics.IncTokenRefresh()
	})
	defer unsubscribe()

	resolver := authz.NewSessionResolver(store, cache, auditLogger, logger)
	defer resolver.Wait()
	coordinator := tenant.NewCoordinator(store, cache, client, auditLogger, logger)
	coordinator.OnSwitch(metrics.IncTenantSwitch)
	defer coordinator.Wait()

	sessionHandler := sessionapi.NewHandler(logger, store, cache, client)
	tenantHandler := tenant.NewHandler(logger, coordinator, cache, client, store)
	permissionsHandler := authz.NewPermissionsHandler(logger, resolver)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionHandler:     sessionHandler,
		TenantHandler:      tenantHandler,
		PermissionsHandler: permissionsHandler,
		JobsHandler:        jobsHandler,
		Authz:              authz.Middleware{Resolver: resolver, Session: store, Logger: logger},
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
