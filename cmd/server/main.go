package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/visgate-ai/deploy-orchestrator/internal/api"
	"github.com/visgate-ai/deploy-orchestrator/internal/config"
	"github.com/visgate-ai/deploy-orchestrator/internal/hfclient"
	"github.com/visgate-ai/deploy-orchestrator/internal/logring"
	"github.com/visgate-ai/deploy-orchestrator/internal/modelresolver"
	"github.com/visgate-ai/deploy-orchestrator/internal/orchestrator"
	"github.com/visgate-ai/deploy-orchestrator/internal/provider"
	"github.com/visgate-ai/deploy-orchestrator/internal/provider/runpod"
	"github.com/visgate-ai/deploy-orchestrator/internal/ratelimit"
	"github.com/visgate-ai/deploy-orchestrator/internal/secretcache"
	"github.com/visgate-ai/deploy-orchestrator/internal/store"
	"github.com/visgate-ai/deploy-orchestrator/internal/webhook"
	"github.com/visgate-ai/deploy-orchestrator/pkg/cache"
	"github.com/visgate-ai/deploy-orchestrator/pkg/database"
	"github.com/visgate-ai/deploy-orchestrator/pkg/events"
	"github.com/visgate-ai/deploy-orchestrator/pkg/metrics"
	"github.com/visgate-ai/deploy-orchestrator/pkg/telemetry"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting deploy-orchestrator")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	tracerProvider, err := telemetry.Init(telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down tracer provider", zap.Error(err))
		}
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	redisCache, err := cache.New(cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()
	logger.Info("connected to Redis")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.NewMigrator(db.Pool).Up(ctx); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("migrations applied")

	deploymentStore := store.NewCachedStore(store.NewPostgresStore(db), redisCache, cfg.Redis.CacheTTL)

	hf := hfclient.New(10 * time.Second)
	resolver := modelresolver.New(hf)

	providers := provider.NewRegistry()
	providers.Register("runpod", runpod.NewClient(runpod.Config{
		GraphQLURL: cfg.Runpod.GraphQLURL,
		MaxRetries: cfg.Runpod.MaxRetries,
	}, logger))

	secrets := secretcache.New()
	logs := logring.New()
	notifier := webhook.New(logger)
	bus := events.NewBus(logger)

	userLimit := ratelimit.New(cfg.RateLimit.RequestsPerMinutePerUser, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, "user")
	ipLimit := ratelimit.New(cfg.RateLimit.RequestsPerMinutePerIP, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, "ip")

	engine := orchestrator.New(deploymentStore, resolver, providers, secrets, notifier, bus, cfg, logger)
	logger.Info("initialized orchestration engine")

	bus.Subscribe(events.EventDeploymentFailed, func(ctx context.Context, e events.Event) error {
		logger.Warn("deployment failed", zap.String("deployment_id", e.DeploymentID), zap.Any("payload", e.Payload))
		return nil
	})

	depsHealth := func() map[string]bool {
		healthCtx, healthCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer healthCancel()
		dbHealthy := db.Health(healthCtx) == nil
		redisHealthy := redisCache.Health(healthCtx) == nil
		metrics.UpdateDependencyHealth("database", dbHealthy)
		metrics.UpdateDependencyHealth("redis", redisHealthy)
		return map[string]bool{"database": dbHealthy, "redis": redisHealthy}
	}

	apiServer := api.New(api.Deps{
		Store:      deploymentStore,
		Engine:      engine,
		Resolver:   resolver,
		Logs:       logs,
		UserLimit:  userLimit,
		IPLimit:    ipLimit,
		Config:     cfg,
		Logger:     logger,
		DepsHealth: depsHealth,
	})

	go statusGauge(ctx, deploymentStore, logger)
	go sweepLoop(ctx, userLimit, ipLimit, logs)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// statusGauge periodically publishes the per-status deployment counts to the
// DeploymentsByStatus gauge, a ticking background reporter owned by main
// rather than by any one component.
func statusGauge(ctx context.Context, s store.Store, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := s.CountByStatus(ctx)
			if err != nil {
				logger.Warn("failed to refresh status gauge", zap.Error(err))
				continue
			}
			for status, count := range counts {
				metrics.DeploymentsByStatus.WithLabelValues(status).Set(float64(count))
			}
		}
	}
}

// sweepLoop bounds memory for the process-local rate limiters and log ring,
// evicting idle subjects/deployments on a fixed interval.
func sweepLoop(ctx context.Context, userLimit, ipLimit *ratelimit.Limiter, logs *logring.Ring) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			userLimit.Sweep()
			ipLimit.Sweep()
			logs.Sweep()
		}
	}
}
