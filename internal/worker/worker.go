package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 10
	defaultConcurrency  = 4
	defaultStageTimeout = 60 * time.Minute
)

// StageStore — хранилище stages, нужное Worker'у. Реализуется repo.StageRepo.
type StageStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Stage, error)
	Claim(ctx context.Context, stage *domain.Stage) error
	Update(ctx context.Context, stage *domain.Stage) error
	ListQueued(ctx context.Context, limit int) ([]domain.Stage, error)
}

// Publisher сообщает оркестратору о завершённых stages. Реализуется mq.Publisher.
type Publisher interface {
	PublishStageCompleted(ctx context.Context, payload mq.StageCompletedPayload) error
}

// Worker выполняет отдельные stages.
//
// Worker — stateless компонент системы, который:
//   - Получает stages из очереди RabbitMQ (event-driven)
//   - Периодически проверяет queued stages в БД (polling fallback)
//   - Забирает stage атомарно (QUEUED → RUNNING), поэтому один stage выполняется один раз
//   - Выполняет stage executor'ом по его типу (build, test, upload, report)
//   - Отправляет результат в очередь stages.completed
//
// Повторов нет: упавший stage остаётся FAILED.
type Worker struct {
	stages    StageStore
	publisher Publisher
	conn      *mq.Connection

	registry *Registry

	consumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int
	concurrency  int
	stageTimeout time.Duration

	// sem ограничивает число одновременно выполняемых stages.
	sem chan struct{}

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Stages    StageStore
	Publisher Publisher

	// Conn — соединение с RabbitMQ; nil означает только polling.
	Conn *mq.Connection

	// Registry — executor'ы stages (обязателен; обычно NewDefaultRegistry()).
	Registry *Registry

	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество stages за один poll (default: 10)
	Concurrency  int           // одновременно выполняемые stages (default: 4)

	// StageTimeout — таймаут stage без собственного таймаута (default: 60m).
	StageTimeout time.Duration

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	stageTimeout := cfg.StageTimeout
	if stageTimeout <= 0 {
		stageTimeout = defaultStageTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewDefaultRegistry(ExecutorConfig{Logger: logger})
	}

	return &Worker{
		stages:       cfg.Stages,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		registry:     registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		concurrency:  concurrency,
		stageTimeout: stageTimeout,
		sem:          make(chan struct{}, concurrency),
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для stages.ready (если есть соединение)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"concurrency", w.concurrency,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueStagesReady),
			Handler:  w.handleStageReady,
			Prefetch: w.concurrency,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("stage consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения выполняемых stages.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем stages, созданные пока были выключены)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll забирает пачку queued stages и выполняет их параллельно, не больше concurrency.
func (w *Worker) poll(ctx context.Context) {
	stages, err := w.stages.ListQueued(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list queued stages", "error", err)
		return
	}

	if len(stages) == 0 {
		return
	}

	w.logger.Debug("poll found queued stages", "count", len(stages))

	var wg sync.WaitGroup
	for i := range stages {
		id := stages[i].ID
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.processStage(ctx, id)
			if err != nil && !errors.Is(err, ErrStageNotQueued) {
				w.logger.Error("failed to process stage from poll", "stage_id", id, "error", err)
			}
		}()
	}
	wg.Wait()
}
