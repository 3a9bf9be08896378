// Conveyor Orchestrator — ведёт runs по графу stages.
//
// Orchestrator:
//   - Получает новые runs из RabbitMQ (run.pending) или polling'ом
//   - Строит граф build → test × N → upload, report
//   - Сохраняет готовые stages и публикует stage.ready
//   - По stage.completed продвигает граф и финализирует runs
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-orchestrator")

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

	orchCfg := orchestrator.Config{
		Runs:   repo.NewRunRepo(pool),
		Stages: repo.NewStageRepo(pool),
		Logger: logger,
	}

	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		checks = append(checks, telemetry.ReadinessCheck{Name: "rabbitmq", Check: mqConn.Check})
		logger.Info("RabbitMQ connected")

		orchCfg.Conn = mqConn
		orchCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	orch := orchestrator.New(orchCfg)
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
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

	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("conveyor-orchestrator stopped")
}
