package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mobile-build-orchestrator/internal/api"
	"mobile-build-orchestrator/internal/config"
	"mobile-build-orchestrator/internal/logging"
	"mobile-build-orchestrator/internal/models"
	"mobile-build-orchestrator/internal/pipeline"
	"mobile-build-orchestrator/internal/ratelimit"
	"mobile-build-orchestrator/internal/runner"
	"mobile-build-orchestrator/internal/secrets"
	"mobile-build-orchestrator/internal/store"
	"mobile-build-orchestrator/internal/telemetry"
	"mobile-build-orchestrator/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	box, err := secrets.NewBox(cfg.CredentialKey)
	if err != nil {
		log.Fatalf("credential key: %v", err)
	}

	recorder, err := pipeline.NewRecorder(ctx, cfg, st)
	if err != nil {
		log.Fatalf("init artifact recorder: %v", err)
	}

	run := runner.New(cfg.StepTimeout)
	flutter := pipeline.NewFlutterPipeline(run, st, box, recorder)
	pipelines := map[string]pipeline.Pipeline{
		models.TargetExpo:    pipeline.NewExpoPipeline(run, st, box, recorder),
		models.TargetFlutter: flutter,
		models.TargetWebWrap: pipeline.NewWebWrapPipeline(flutter, recorder, cfg.AutoBuildWebWrap),
	}

	executor := worker.NewExecutor(st, st, pipelines, cfg.MaxLogLines, logger)
	claimer := worker.NewClaimer(st, cfg.ClaimBatchSize, logger)
	scheduler := worker.NewScheduler(claimer, executor, st, cfg.SchedulerEnabled, cfg.PollInterval, logger)
	trigger := worker.NewTrigger(st, executor, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTenantLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	server := api.New(cfg, st, trigger, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("orchestrator listening",
		"port", cfg.HTTPPort,
		"scheduler_enabled", cfg.SchedulerEnabled,
		"poll_interval", cfg.PollInterval.String())
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
