// Automata Launcher — запускает runs pipelines как ECS tasks.
//
// Launcher:
//   - Обслуживает HTTP API для pipelines и runs
//   - Запускает и останавливает runs по запросам из RabbitMQ и через polling
//   - Сверяет статусы runs с ECS (только реплика-лидер)
//
// Конфигурация: YAML-файл из --config или AUTOMATA_CONFIG, переменные
// окружения DB_URL, RABBITMQ_URL, LAUNCHER_PORT.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/automata-ecs/internal/api"
	"github.com/shaiso/automata-ecs/internal/config"
	"github.com/shaiso/automata-ecs/internal/coordinator"
	"github.com/shaiso/automata-ecs/internal/ecs"
	"github.com/shaiso/automata-ecs/internal/launcher"
	"github.com/shaiso/automata-ecs/internal/monitor"
	"github.com/shaiso/automata-ecs/internal/mq"
	"github.com/shaiso/automata-ecs/internal/repo"
	"github.com/shaiso/automata-ecs/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTOMATA_CONFIG"), "path to YAML config")
	flag.Parse()

	logger := telemetry.SetupLogger("automata-launcher")
	logger.Info("starting automata-launcher")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// AWS
	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.RunLauncher.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.RunLauncher.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	ecsClient := ecs.NewFromConfig(awsCfg, logger)

	launcherCfg := launcher.Config{
		Client:     ecsClient,
		Cluster:    cfg.RunLauncher.Cluster,
		BaseFamily: cfg.RunLauncher.TaskDefinition,
		LaunchType: cfg.RunLauncher.LaunchType,
		Network:    cfg.RunLauncher.Network(),
		Entrypoint: cfg.RunLauncher.Entrypoint,
		Logger:     logger,
	}

	if cfg.RunLauncher.Discover {
		d, err := launcher.Discover(ctx, &http.Client{Timeout: 5 * time.Second}, ecsClient, ec2.NewFromConfig(awsCfg))
		if err != nil {
			logger.Error("failed to discover own task", "error", err)
			os.Exit(1)
		}
		d.Apply(&launcherCfg)
		logger.Info("discovered own task",
			"task_arn", d.TaskARN,
			"cluster", launcherCfg.Cluster,
			"base_family", launcherCfg.BaseFamily,
		)
	}

	// DB
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready")

	runRepo := repo.NewRunRepo(pool)
	pipelineRepo := repo.NewPipelineRepo(pool)
	launcherCfg.Runs = runRepo

	// RabbitMQ
	var publisher *mq.Publisher
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
		launcherCfg.Publisher = publisher
		logger.Info("RabbitMQ connected")
	}

	l := launcher.New(launcherCfg)

	coord := coordinator.New(coordinator.Config{
		Launcher:  l,
		Runs:      runRepo,
		Pipelines: pipelineRepo,
		Conn:      mqConn,
		Logger:    logger,
	})
	coord.Start(ctx)

	schedule, err := config.ParseSchedule(cfg.Monitor.Schedule)
	if err != nil {
		logger.Error("invalid monitor schedule", "error", err)
		os.Exit(1)
	}
	mon := monitor.New(monitor.Config{
		Tasks:     ecsClient,
		Runs:      runRepo,
		Leader:    repo.NewLeader(pool, monitor.LeaderLockKey),
		Schedule:  schedule,
		BatchSize: cfg.Monitor.BatchSize,
		Logger:    logger,
	})
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		mon.Run(ctx)
	}()

	apiCfg := api.Config{
		Runs:      runRepo,
		Pipelines: pipelineRepo,
		Launcher:  l,
		Logger:    logger,
	}
	if publisher != nil {
		apiCfg.Queue = publisher
	}
	handler := api.NewHandler(apiCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("LAUNCHER_PORT"); v != "" {
		addr = ":" + v
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	coord.Stop()
	<-monDone

	logger.Info("automata-launcher stopped")
}
