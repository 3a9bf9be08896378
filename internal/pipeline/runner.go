package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

// Default configuration values.
const (
	defaultConcurrency  = 4
	defaultStageTimeout = 60 * time.Minute
)

// StageRecorder получает каждое изменение stage: запуск, завершение, пропуск.
// Вызовы приходят из разных горутин.
type StageRecorder interface {
	Record(ctx context.Context, stage domain.Stage)
}

// RecorderFunc адаптирует функцию к StageRecorder.
type RecorderFunc func(ctx context.Context, stage domain.Stage)

// Record реализует StageRecorder.
func (f RecorderFunc) Record(ctx context.Context, stage domain.Stage) { f(ctx, stage) }

// Config — конфигурация Runner.
type Config struct {
	// Registry — executor'ы stages (обязателен).
	Registry *worker.Registry

	// Concurrency — сколько stages выполняется одновременно (default: 4).
	Concurrency int

	// StageTimeout — таймаут stage без собственного таймаута (default: 60m).
	StageTimeout time.Duration

	Recorder StageRecorder
	Logger   *slog.Logger
}

// Runner выполняет run целиком в одном процессе.
//
// Граф и его решения те же, что у Orchestrator'а: тесты запускаются параллельно
// после build, upload ждёт завершения всех тестов, report выполняется всегда.
// Упавший stage не отменяет соседние.
type Runner struct {
	registry     *worker.Registry
	concurrency  int
	stageTimeout time.Duration
	recorder     StageRecorder
	logger       *slog.Logger
}

// Summary — итог выполнения run.
type Summary struct {
	RunID      uuid.UUID        `json:"run_id"`
	Name       string           `json:"name"`
	Status     domain.RunStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	ArtifactID string           `json:"artifact_id,omitempty"`
	Duration   time.Duration    `json:"duration"`

	// Stages — stages в порядке графа.
	Stages []domain.Stage `json:"stages"`
}

// Stage возвращает stage узла.
func (s *Summary) Stage(nodeID string) (domain.Stage, bool) {
	for _, st := range s.Stages {
		if st.NodeID == nodeID {
			return st, true
		}
	}
	return domain.Stage{}, false
}

// New создаёт Runner.
func New(cfg Config) *Runner {
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

	return &Runner{
		registry:     cfg.Registry,
		concurrency:  concurrency,
		stageTimeout: stageTimeout,
		recorder:     cfg.Recorder,
		logger:       logger,
	}
}

// Run выполняет run и возвращает итог.
//
// Ошибка возвращается только если run невалиден. Отмена ctx останавливает запуск новых
// stages и прерывает выполняемые; безусловные stages (report) всё равно выполняются
// в отложенном finally-обработчике на контексте без отмены.
func (r *Runner) Run(ctx context.Context, run *domain.Run) (summary *Summary, err error) {
	if r.registry == nil {
		return nil, fmt.Errorf("pipeline: registry is required")
	}

	state := orchestrator.NewRunState(run)
	if err := state.Initialize(); err != nil {
		return nil, err
	}

	logger := telemetry.WithRunID(r.logger, run.ID.String())
	run.MarkRunning()
	logger.Info("run started",
		"name", run.Name(),
		"category", run.Category,
		"git_ref", run.GitRef,
		"tests", len(run.TestConfigs),
	)

	defer func() {
		r.finalize(ctx, state, logger)
		summary = r.summarize(ctx, state, logger)
	}()

	// done буферизован на все узлы: горутины не блокируются на отправке,
	// пока цикл ждёт свободный слот в группе.
	done := make(chan domain.Stage, len(state.Graph.Nodes))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	inflight := 0
	for {
		if ctx.Err() == nil {
			plan := state.Advance()
			for _, st := range plan.Skipped {
				r.skipped(ctx, *st, logger)
			}
			for _, st := range plan.Ready {
				stage := *st
				inflight++
				g.Go(func() error {
					done <- r.execute(ctx, stage, logger)
					return nil
				})
			}
		}

		if inflight == 0 {
			break
		}

		stage := <-done
		inflight--
		if err := state.MarkStageFinished(&stage); err != nil {
			logger.Error("cannot record stage", "node_id", stage.NodeID, "error", err)
		}
	}

	// Группа не возвращает ошибок: провал stage отражается в его статусе.
	_ = g.Wait()
	return nil, nil // summary заполняет отложенный обработчик
}

// finalize выполняет безусловные stages, которые не успели начаться, и подводит итог.
func (r *Runner) finalize(ctx context.Context, state *orchestrator.RunState, logger *slog.Logger) {
	detached := context.WithoutCancel(ctx)
	for _, st := range state.ForceFinalizers() {
		logger.Warn("running finalizer after interrupted run", "node_id", st.NodeID)
		stage := r.execute(detached, *st, logger)
		if err := state.MarkStageFinished(&stage); err != nil {
			logger.Error("cannot record stage", "node_id", stage.NodeID, "error", err)
		}
	}
}

// summarize применяет итог графа к run.
func (r *Runner) summarize(ctx context.Context, state *orchestrator.RunState, logger *slog.Logger) *Summary {
	run := state.Run
	run.ArtifactID = state.ArtifactID()

	status, msg := state.Outcome()
	if !state.IsComplete() && ctx.Err() != nil {
		status = domain.RunStatusFailed
		msg = fmt.Sprintf("interrupted: %v", context.Cause(ctx))
	}
	if status == domain.RunStatusSucceeded {
		run.MarkSucceeded()
	} else {
		run.MarkFailed(msg)
	}
	telemetry.RunFinished(string(run.Category), string(run.Status))

	summary := &Summary{
		RunID:      run.ID,
		Name:       run.Name(),
		Status:     run.Status,
		Error:      run.Error,
		ArtifactID: run.ArtifactID,
		Duration:   run.Duration(),
	}
	for _, node := range state.Graph.GetExecutableNodes() {
		if st := state.Stage(node.ID); st != nil {
			summary.Stages = append(summary.Stages, *st)
		}
	}

	stats := state.Stats()
	logger.Info("run finished",
		"status", run.Status,
		"duration", summary.Duration,
		"succeeded", stats.SucceededStages,
		"failed", stats.FailedStages,
		"skipped", stats.SkippedStages,
	)
	return summary
}

// execute выполняет один stage на копии и возвращает его терминальное состояние.
func (r *Runner) execute(ctx context.Context, stage domain.Stage, logger *slog.Logger) domain.Stage {
	logger = telemetry.WithStage(logger, stage.ID.String(), stage.NodeID)

	stage.MarkRunning()
	r.record(ctx, stage)
	logger.Info("stage started", "kind", stage.Kind)

	res, execErr := r.registry.Execute(telemetry.WithLogger(ctx, logger), &stage, r.stageTimeout)
	msg := worker.Finish(&stage, res, execErr)

	telemetry.StageFinished(string(stage.Kind), string(stage.Status), stage.Duration())
	switch {
	case execErr != nil:
		logger.Error("stage failed", "duration", stage.Duration(), "error", execErr)
	case msg != "":
		logger.Warn("stage failed", "duration", stage.Duration(), "error", msg)
	default:
		logger.Info("stage succeeded", "duration", stage.Duration())
	}

	r.record(ctx, stage)
	return stage
}

func (r *Runner) skipped(ctx context.Context, stage domain.Stage, logger *slog.Logger) {
	telemetry.StageFinished(string(stage.Kind), string(stage.Status), 0)
	logger.Info("stage skipped", "node_id", stage.NodeID, "reason", stage.Error)
	r.record(ctx, stage)
}

func (r *Runner) record(ctx context.Context, stage domain.Stage) {
	if r.recorder != nil {
		r.recorder.Record(context.WithoutCancel(ctx), stage)
	}
}
