package orchestrator

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
	defaultBatchSize    = 100
)

// RunStore — хранилище runs, нужное Orchestrator'у. Реализуется repo.RunRepo.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
	ListRunning(ctx context.Context, limit int) ([]domain.Run, error)
}

// StageStore — хранилище stages. Реализуется repo.StageRepo.
type StageStore interface {
	Create(ctx context.Context, stage *domain.Stage) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Stage, error)
	GetByNode(ctx context.Context, runID uuid.UUID, nodeID string) (*domain.Stage, error)
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Stage, error)
}

// Publisher отправляет stages worker'ам. Реализуется mq.Publisher.
type Publisher interface {
	PublishStageReady(ctx context.Context, payload mq.StageReadyPayload) error
}

// Orchestrator управляет выполнением runs.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending runs в БД (polling fallback)
//   - Строит граф stages для каждого run
//   - Создаёт stages для готовых узлов и сохраняет пропущенные
//   - Отслеживает завершение stages
//   - Финализирует runs (SUCCEEDED/FAILED)
//
// Упавший stage не отменяет соседние: run завершается только когда весь граф терминален.
type Orchestrator struct {
	runs      RunStore
	stages    StageStore
	publisher Publisher
	conn      *mq.Connection

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	runConsumer   *mq.Consumer
	stageConsumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Runs      RunStore
	Stages    StageStore
	Publisher Publisher

	// Conn — соединение с RabbitMQ. Если nil, работает только polling.
	Conn *mq.Connection

	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		runs:         cfg.Runs,
		stages:       cfg.Stages,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		activeRuns:   make(map[uuid.UUID]*RunState),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для runs.pending
//   - Consumer для stages.completed
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	if o.conn != nil {
		o.runConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsPending),
			Handler:  o.handleRunPending,
			Prefetch: 10,
		})
		o.stageConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueStagesCompleted),
			Handler:  o.handleStageCompleted,
			Prefetch: 10,
		})

		for _, c := range []*mq.Consumer{o.runConsumer, o.stageConsumer} {
			o.wg.Add(1)
			go func(c *mq.Consumer) {
				defer o.wg.Done()
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer error", "error", err)
				}
			}(c)
		}
	}

	o.recoverRunning(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator и ждёт завершения горутин.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.runConsumer != nil {
		o.runConsumer.Stop()
	}
	if o.stageConsumer != nil {
		o.stageConsumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped", "active_runs", o.ActiveRunsCount())
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs, созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	o.reconcileActive(ctx)

	runs, err := o.runs.ListPending(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending runs", "error", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]
		if o.isRunActive(run.ID) {
			continue
		}
		if err := o.processRun(ctx, run.ID); err != nil {
			o.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// recoverRunning восстанавливает runs, оставшиеся в RUNNING после рестарта,
// и продвигает их граф: события о завершении stages могли прийти, пока сервис был выключен.
func (o *Orchestrator) recoverRunning(ctx context.Context) {
	runs, err := o.runs.ListRunning(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list running runs", "error", err)
		return
	}

	for i := range runs {
		state, err := o.restoreRunState(ctx, runs[i].ID)
		if err != nil {
			o.logger.Error("failed to restore run", "run_id", runs[i].ID, "error", err)
			continue
		}
		if state == nil {
			continue
		}
		if err := o.advance(ctx, state); err != nil {
			o.logger.Error("failed to advance restored run", "run_id", runs[i].ID, "error", err)
		}
	}
}

// reconcileActive догоняет stages, которые завершились, но событие stage.completed потерялось.
func (o *Orchestrator) reconcileActive(ctx context.Context) {
	o.mu.RLock()
	states := make([]*RunState, 0, len(o.activeRuns))
	for _, state := range o.activeRuns {
		states = append(states, state)
	}
	o.mu.RUnlock()

	for _, state := range states {
		stored, err := o.stages.ListByRunID(ctx, state.RunID())
		if err != nil {
			o.logger.Error("failed to list stages", "run_id", state.RunID(), "error", err)
			continue
		}

		changed := false
		for i := range stored {
			stage := &stored[i]
			if !stage.Status.IsTerminal() || state.Status(stage.NodeID).IsTerminal() {
				continue
			}
			if err := state.MarkStageFinished(stage); err != nil {
				o.logger.Warn("cannot reconcile stage", "run_id", stage.RunID, "node_id", stage.NodeID, "error", err)
				continue
			}
			changed = true
		}

		if changed {
			if err := o.advance(ctx, state); err != nil {
				o.logger.Error("failed to advance reconciled run", "run_id", state.RunID(), "error", err)
			}
		}
	}
}

func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

func (o *Orchestrator) getActiveRun(runID uuid.UUID) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeRuns[runID]
}

func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}
	o.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных и сообщает, был ли он там.
// Только вызов, вернувший true, финализирует run.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, exists := o.activeRuns[runID]
	delete(o.activeRuns, runID)
	return exists
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	state := o.getActiveRun(runID)
	if state == nil {
		return RunStats{}, false
	}
	return state.Stats(), true
}
