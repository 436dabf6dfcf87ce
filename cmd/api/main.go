package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opsforge/engine/internal/api"
	"github.com/opsforge/engine/internal/api/handlers"
	"github.com/opsforge/engine/internal/orchestrator"
	"github.com/opsforge/engine/internal/realtime"
	"github.com/opsforge/engine/internal/repository"
	"github.com/opsforge/engine/internal/runner"
	"github.com/opsforge/engine/internal/services"
	"github.com/opsforge/engine/pkg/config"
	"github.com/opsforge/engine/pkg/database"
	"github.com/opsforge/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()

	if _, err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Named("api")

	log.Info("starting deployment engine api",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	deploymentRepo := repository.NewDeploymentRepository(db)
	operationRepo := repository.NewOperationRepository(db)
	driftRepo := repository.NewDriftRepository(db)
	templateRepo := repository.NewTemplateRepository(db)

	workingDir := cfg.WorkingDir
	if workingDir == "" {
		workingDir = os.TempDir()
	} else if err := os.MkdirAll(workingDir, 0o755); err != nil {
		log.Fatal("failed to create working dir", zap.Error(err))
	}

	// The API never executes operations itself; its orchestrator serves
	// workspace reads (state, plan, resource ops) and the apply gate.
	orch := orchestrator.New(orchestrator.Options{
		TerraformBin: cfg.TerraformBin,
		BaseDir:      workingDir,
	}, runner.New(), templateRepo, deploymentRepo, operationRepo, driftRepo, orchestrator.NopNotifier{})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer asynqClient.Close()

	deploymentSvc := services.NewDeploymentService(deploymentRepo, templateRepo)
	operationSvc := services.NewOperationService(deploymentRepo, operationRepo, templateRepo, orch, asynqClient)
	driftSvc := services.NewDriftService(deploymentRepo, driftRepo)

	// Hub serves websocket sessions; the forwarder replays worker events
	// published on redis into it.
	hub := realtime.NewHub(cfg.HeartbeatInterval, cfg.LivenessTimeout)
	go hub.Run(ctx)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	forwarder := realtime.NewForwarder(rdb, hub)
	go forwarder.Run(ctx)

	router := api.NewRouter(api.Dependencies{
		DeploymentsHandler: handlers.NewDeploymentsHandler(deploymentSvc),
		OperationsHandler:  handlers.NewOperationsHandler(operationSvc),
		DriftHandler:       handlers.NewDriftHandler(driftSvc, operationSvc),
		ResourcesHandler:   handlers.NewResourcesHandler(deploymentRepo, orch),
		WSHandler:          handlers.NewWSHandler(hub),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
