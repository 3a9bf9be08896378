// Conveyor Scheduler — запускает pipeline по расписанию.
//
// Каждый тик находит due schedules и передаёт SCHEDULE-триггеры Dispatcher'у.
// Тики выполняет только лидер (advisory lock в Postgres), поэтому
// экземпляров может быть несколько.
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
	"github.com/shaiso/Conveyor/internal/dispatch"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// schedLockKey — ключ advisory lock лидера.
const schedLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-scheduler")

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

	dispatchCfg := dispatch.Config{Runs: repo.NewRunRepo(pool), Logger: logger}
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, runs will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		checks = append(checks, telemetry.ReadinessCheck{Name: "rabbitmq", Check: mqConn.Check})
		dispatchCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	sched := scheduler.New(scheduler.Config{
		Schedules:  repo.NewScheduleRepo(pool),
		Dispatcher: dispatch.New(dispatchCfg),
		Leader:     repo.NewLeaderLock(pool, schedLockKey),
		Interval:   cfg.SchedulerInterval,
		Logger:     logger,
	})

	server := telemetry.NewServiceServer(cfg.MetricsPort, checks...)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sched.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("conveyor-scheduler stopped")
}
