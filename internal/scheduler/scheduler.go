package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/dispatch"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Default configuration values.
const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// ScheduleStore — хранилище schedules. Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
}

// Dispatcher создаёт run по триггеру. Реализуется dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, t dispatch.Trigger) (*domain.Run, bool, error)
}

// Leader — распределённая блокировка лидера. Реализуется repo.LeaderLock.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules  ScheduleStore
	dispatcher Dispatcher
	leader     Leader
	logger     *slog.Logger
	batchSize  int
	interval   time.Duration
	now        func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules  ScheduleStore
	Dispatcher Dispatcher

	// Leader — опционально; без него тики выполняет каждый экземпляр.
	Leader Leader

	Logger    *slog.Logger
	BatchSize int           // количество schedules за один тик (default: 100)
	Interval  time.Duration // интервал тиков в Run (default: 1s)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules:  cfg.Schedules,
		dispatcher: cfg.Dispatcher,
		leader:     cfg.Leader,
		logger:     logger,
		batchSize:  batchSize,
		interval:   interval,
		now:        time.Now,
	}
}

// Run вызывает Tick с интервалом, пока ctx не отменён.
// Тик выполняется только экземпляром, который держит лидерство.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	defer func() {
		if s.leader == nil {
			return
		}
		if err := s.leader.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release leadership", "error", err)
		}
	}()

	leading := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.leader != nil {
			ok, err := s.leader.TryAcquire(ctx)
			if err != nil {
				s.logger.Error("leader election failed", "error", err)
				continue
			}
			if ok != leading {
				s.logger.Info("leadership changed", "leader", ok)
				leading = ok
			}
			if !ok {
				continue
			}
		}

		if err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого передаёт SCHEDULE-триггер Dispatcher'у
// 3. Обновляет next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		processed++
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"runs_created", created,
	)

	return nil
}

// IdempotencyKey — ключ run для конкретного срабатывания schedule: "{schedule_id}_{next_due_at_unix}".
func IdempotencyKey(sched *domain.Schedule) string {
	var due int64
	if sched.NextDueAt != nil {
		due = sched.NextDueAt.Unix()
	}
	return fmt.Sprintf("%s_%d", sched.ID, due)
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// Ключ гарантирует один run на одно срабатывание, даже если тик повторится
	// до обновления next_due_at.
	run, created, err := s.dispatcher.Dispatch(ctx, dispatch.Trigger{
		Kind:           domain.TriggerSchedule,
		Category:       sched.Category,
		GitRef:         sched.GitRef,
		PushToIndex:    sched.PushToIndex,
		IdempotencyKey: IdempotencyKey(sched),
	})
	if err != nil {
		return false, fmt.Errorf("dispatch: %w", err)
	}

	if created {
		s.logger.Info("created run from schedule",
			"run_id", run.ID,
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
		)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Schedule некорректный — next_due_at не трогаем
		s.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		return created, nil
	}

	sched.RecordRun(run.ID, nextDue)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return created, fmt.Errorf("update schedule: %w", err)
	}

	return created, nil
}
