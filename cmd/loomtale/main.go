package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/loomtale/loomtale/internal/app"
	"github.com/loomtale/loomtale/internal/auth"
	"github.com/loomtale/loomtale/internal/generation"
	"github.com/loomtale/loomtale/internal/observability"
	"github.com/loomtale/loomtale/internal/platform/cache"
	"github.com/loomtale/loomtale/internal/platform/db"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/rbac"
	"github.com/loomtale/loomtale/internal/shared"
	"github.com/loomtale/loomtale/internal/stats"
	"github.com/loomtale/loomtale/internal/users"
	"github.com/loomtale/loomtale/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	catalog := policy.DefaultCatalog()
	metrics := observability.NewMetrics()
	guards := rbac.Middleware{Catalog: catalog, Logger: logger, Metrics: metrics}

	sessionManager := shared.NewSessionManager(redisClient, "loomtale_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, guards)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, catalog, logger)
	usersHandler := users.NewHandler(logger, usersService, guards)

	generator := generation.NewHTTPGenerator(cfg.LLMEndpoint, cfg.LLMAPIKey, cfg.LLMTimeout)
	batchStore := generation.NewBatchStore(redisClient, cfg.BatchResultTTL)
	generationService := generation.NewService(generator, batchStore, queue, logger)
	generationHandler := generation.NewHandler(logger, generationService, guards)

	statsService := stats.NewService(usersRepo, inspector)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		Authenticators: []auth.Authenticator{
			auth.NewAPIKeyAuthenticator(authRepo),
			auth.NewSessionAuthenticator(authRepo),
		},
		RBACMiddleware:    guards,
		AuthHandler:       authHandler,
		CatalogHandler:    rbac.NewCatalogHandler(logger, catalog, guards),
		GenerationHandler: generationHandler,
		UsersHandler:      usersHandler,
		StatsHandler:      stats.NewHandler(logger, statsService, guards),
		JobHandler:        jobs.NewHandler(inspector, logger, guards),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
