// Conveyor Worker — выполняет отдельные stages.
//
// Worker:
//   - Получает stage.ready из RabbitMQ (и polling'ом QUEUED stages)
//   - Выполняет build, test, upload или report через внешние инструменты
//   - Сохраняет артефакты и отчёты в хранилище
//   - Публикует stage.completed
//
// Workers масштабируются горизонтально; stage забирает ровно один из них.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Conveyor/internal/artifact"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/report"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-worker")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	checks := []telemetry.ReadinessCheck{{Name: "postgres", Check: pool.Ping}}

	if cfg.Artifact.Backend == artifact.BackendMemory {
		logger.Warn("in-memory artifact store is not shared between workers; use minio or s3 in production")
	}
	store, err := artifact.New(ctx, cfg.Artifact)
	if err != nil {
		logger.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}

	execCfg := worker.ExecutorConfig{
		Store:           store,
		SourceRepo:      cfg.SourceDir,
		IndexRepository: cfg.IndexRepositoryURL,
		ReportOptions:   cfg.ReportOptions(),
		Logger:          logger,
	}
	if cfg.ReportingEnabled() {
		client, err := report.NewClient(cfg.ReportClient())
		if err != nil {
			logger.Error("failed to create report client", "error", err)
			os.Exit(1)
		}
		execCfg.Reports = client
	}

	workerCfg := worker.Config{
		Stages:      repo.NewStageRepo(pool),
		Registry:    worker.NewDefaultRegistry(execCfg),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
	}

	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		checks = append(checks, telemetry.ReadinessCheck{Name: "rabbitmq", Check: mqConn.Check})
		logger.Info("RabbitMQ connected")

		workerCfg.Conn = mqConn
		workerCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	w := worker.New(workerCfg)
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	server := telemetry.NewServiceServer(cfg.MetricsPort, checks...)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("conveyor-worker stopped")
}
