package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opsforge/engine/internal/orchestrator"
	"github.com/opsforge/engine/internal/queue/tasks"
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
	log := logger.Named("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
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

	// Progress events go out over redis pub/sub; the api process forwards
	// them into its websocket hub.
	notifier := realtime.NewPublisher(rdb)

	orch := orchestrator.New(orchestrator.Options{
		TerraformBin: cfg.TerraformBin,
		BaseDir:      workingDir,
	}, runner.New(), templateRepo, deploymentRepo, operationRepo, driftRepo, notifier)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer asynqClient.Close()

	operationSvc := services.NewOperationService(deploymentRepo, operationRepo, templateRepo, orch, asynqClient)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	mux := asynq.NewServeMux()
	handler := tasks.NewOperationTaskHandler(orch)
	mux.HandleFunc(services.TypeOperationRun, handler.HandleOperationRun)

	sweeper := tasks.NewDriftSweeper(deploymentRepo, operationSvc)
	mux.HandleFunc(tasks.TypeDriftSweep, sweeper.HandleDriftSweep)

	// Periodic drift sweep over ready deployments.
	var scheduler *asynq.Scheduler
	if cfg.DriftSweepInterval > 0 {
		scheduler = asynq.NewScheduler(
			asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       0,
			},
			nil,
		)
		if _, err := scheduler.Register(
			"@every "+cfg.DriftSweepInterval.String(),
			asynq.NewTask(tasks.TypeDriftSweep, nil, asynq.MaxRetry(0)),
		); err != nil {
			log.Fatal("register drift sweep schedule failed", zap.Error(err))
		}
		go func() {
			if err := scheduler.Run(); err != nil {
				logger.L().Error("drift sweep scheduler stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	cancel()
	if scheduler != nil {
		scheduler.Shutdown()
	}
	srv.Shutdown()
}
