package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"agenthub.dev/dispatch/common/id"
	"agenthub.dev/dispatch/common/logger"
	"agenthub.dev/dispatch/common/otel"
	"agenthub.dev/dispatch/core/config"
	"agenthub.dev/dispatch/core/db"
	"agenthub.dev/dispatch/internal/http/handler"
	"agenthub.dev/dispatch/internal/http/middleware"
	httprouter "agenthub.dev/dispatch/internal/http/router"
	"agenthub.dev/dispatch/internal/manager"
	"agenthub.dev/dispatch/internal/orchestrator"
	"agenthub.dev/dispatch/internal/signing"
	"agenthub.dev/dispatch/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "dispatch starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := database.InitSchema(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to initialize database schema", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected")

	privateKey, err := signing.LoadPrivateKey(cfg.Signer.PrivateKeyPath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load signing key", "error", err)
		os.Exit(1)
	}

	jobStore := store.NewRedisJobStore(redisClient, store.RedisJobStoreConfig{
		JobRetention:   cfg.Queue.JobRetention,
		IdempotencyTTL: cfg.Queue.IdempotencyTTL,
	})
	workerRegistry := store.NewRedisWorkerRegistry(redisClient)
	projectStore := store.NewPGProjectStore(database.Pool())

	mgr := manager.New(jobStore, signing.NewSigner(privateKey), manager.Config{
		MonthlyCeilingUSD:  cfg.Quota.MonthlyCeilingUSD,
		MaxQueuedPerTenant: cfg.Queue.MaxQueuedPerTenant,
		FetchBlock:         cfg.Queue.FetchBlock,
		DefaultTimeoutSec:  int(cfg.Flow.JobTimeoutDefault.Seconds()),
	})

	waiter := orchestrator.NewWaiter(jobStore, cfg.Flow.PollInterval)
	mgr.SetNotifier(waiter)

	engine := orchestrator.NewEngine(
		projectStore,
		mgr,
		waiter,
		orchestrator.NewRedisPublisher(redisClient, slog.Default()),
		orchestrator.Config{
			StepCeiling: cfg.Flow.StepCeiling,
			RetryLimit:  cfg.Flow.ReviewerRetryLimit,
		},
	)

	resolver, err := loadResolver(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load user tokens", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.Handlers{
		Jobs:          handler.NewJobHandler(mgr),
		Workers:       handler.NewWorkerHandler(workerRegistry, jobStore),
		Orchestration: handler.NewOrchestrationHandler(engine, projectStore),
		Redis:         redisClient,
	}, resolver)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func loadResolver(cfg config.Config) (middleware.UserResolver, error) {
	if cfg.Auth.UserTokensPath == "" {
		return middleware.NewStaticResolver(nil), nil
	}
	return middleware.LoadStaticResolver(cfg.Auth.UserTokensPath)
}

func setupRouter(cfg config.Config, h httprouter.Handlers, resolver middleware.UserResolver) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	httprouter.SetupRoutes(router, h, httprouter.Config{
		WorkerToken:  cfg.Worker.Token,
		UserResolver: resolver,
	})

	return router
}

const banner = `
██████╗ ██╗███████╗██████╗  █████╗ ████████╗ ██████╗██╗  ██╗
██╔══██╗██║██╔════╝██╔══██╗██╔══██╗╚══██╔══╝██╔════╝██║  ██║
██║  ██║██║███████╗██████╔╝███████║   ██║   ██║     ███████║
██║  ██║██║╚════██║██╔═══╝ ██╔══██║   ██║   ██║     ██╔══██║
██████╔╝██║███████║██║     ██║  ██║   ██║   ╚██████╗██║  ██║
╚═════╝ ╚═╝╚══════╝╚═╝     ╚═╝  ╚═╝    ╚═════╝╚═╝  ╚═╝
`
