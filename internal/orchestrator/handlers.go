package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// handleRunPending обрабатывает событие о новом pending run.
func (o *Orchestrator) handleRunPending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&delivery.Message)
	if err != nil {
		return err
	}

	o.logger.Debug("received run.pending event", "run_id", payload.RunID)

	if o.isRunActive(payload.RunID) {
		return nil
	}

	err = o.processRun(ctx, payload.RunID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRunNotPending), errors.Is(err, ErrRunAlreadyActive), errors.Is(err, ErrInvalidRun):
		o.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
		return nil
	case errors.Is(err, ErrRunNotFound):
		return mq.Permanent(err)
	default:
		o.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}
}

// handleStageCompleted обрабатывает событие о завершённом stage.
func (o *Orchestrator) handleStageCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StageCompletedPayload](&delivery.Message)
	if err != nil {
		return err
	}

	o.logger.Debug("received stage.completed event",
		"stage_id", payload.StageID,
		"run_id", payload.RunID,
		"node_id", payload.NodeID,
		"status", payload.Status,
	)

	err = o.processStageCompleted(ctx, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStageNotFound), errors.Is(err, ErrNodeNotFound), errors.Is(err, ErrStageNotTerminal):
		return mq.Permanent(err)
	default:
		o.logger.Error("failed to process stage completion",
			"stage_id", payload.StageID,
			"run_id", payload.RunID,
			"error", err,
		)
		return err
	}
}

// processRun запускает новый run: валидирует параметры, строит граф
// и отправляет первые stages.
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	state := NewRunState(run)
	if err := state.Initialize(); err != nil {
		return o.failRun(ctx, run, err)
	}

	if err := o.addActiveRun(state); err != nil {
		return err
	}

	run.MarkRunning()
	if err := o.runs.Update(ctx, run); err != nil {
		o.removeActiveRun(runID)
		return fmt.Errorf("update run to running: %w", err)
	}

	o.logger.Info("run started",
		"run_id", runID,
		"name", run.Name(),
		"category", run.Category,
		"git_ref", run.GitRef,
		"test_configs", len(run.TestConfigs),
	)

	if err := o.advance(ctx, state); err != nil {
		// Run остаётся активным: следующий stage.completed или рестарт продвинет его снова.
		o.logger.Error("failed to dispatch initial stages", "run_id", runID, "error", err)
	}
	return nil
}

// processStageCompleted фиксирует результат stage и продвигает граф.
func (o *Orchestrator) processStageCompleted(ctx context.Context, payload mq.StageCompletedPayload) error {
	state := o.getActiveRun(payload.RunID)
	if state == nil {
		var err error
		state, err = o.restoreRunState(ctx, payload.RunID)
		if err != nil {
			return fmt.Errorf("restore run state: %w", err)
		}
		if state == nil {
			o.logger.Debug("run not active and cannot restore", "run_id", payload.RunID)
			return nil
		}
	}

	// Результаты stage берём из БД: событие несёт только статус.
	stage, err := o.stages.GetByID(ctx, payload.StageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStageNotFound, payload.StageID)
		}
		return fmt.Errorf("get stage: %w", err)
	}
	if stage.RunID != payload.RunID {
		return fmt.Errorf("%w: %s does not belong to run %s", ErrStageNotFound, stage.ID, payload.RunID)
	}

	if err := state.MarkStageFinished(stage); err != nil {
		return err
	}

	if stage.Status == domain.StageStatusFailed {
		o.logger.Warn("stage failed",
			"run_id", payload.RunID,
			"node_id", stage.NodeID,
			"error", stage.Error,
		)
	}

	return o.advance(ctx, state)
}

// advance применяет решения графа: сохраняет пропущенные stages,
// создаёт и публикует готовые, финализирует run, когда граф терминален.
func (o *Orchestrator) advance(ctx context.Context, state *RunState) error {
	var errs []error
	for {
		plan := state.Advance()

		for _, stage := range plan.Skipped {
			if err := o.stages.Create(ctx, stage); err != nil && !errors.Is(err, repo.ErrAlreadyExists) {
				errs = append(errs, fmt.Errorf("persist skipped %s: %w", stage.NodeID, err))
				continue
			}
			telemetry.StageFinished(string(stage.Kind), string(stage.Status), 0)
			o.logger.Info("stage skipped",
				"run_id", stage.RunID,
				"node_id", stage.NodeID,
				"reason", stage.Error,
			)
		}

		// Принятый из БД завершённый stage открывает следующие узлы.
		adoptedTerminal := false
		for _, stage := range plan.Ready {
			terminal, err := o.dispatchStage(ctx, state, stage)
			if err != nil {
				errs = append(errs, err)
			}
			adoptedTerminal = adoptedTerminal || terminal
		}

		if !adoptedTerminal {
			break
		}
	}

	if state.IsComplete() {
		if err := o.completeRun(ctx, state); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// dispatchStage сохраняет stage и публикует stage.ready.
// Если stage узла уже есть в БД, RunState принимает сохранённую запись;
// возвращает true, когда эта запись уже терминальна.
func (o *Orchestrator) dispatchStage(ctx context.Context, state *RunState, stage *domain.Stage) (bool, error) {
	err := o.stages.Create(ctx, stage)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return o.adoptStage(ctx, state, stage)
	}
	if err != nil {
		state.Release(stage.NodeID)
		return false, fmt.Errorf("create stage %s: %w", stage.NodeID, err)
	}

	o.publishReady(ctx, stage)
	o.logger.Debug("stage dispatched",
		"stage_id", stage.ID,
		"run_id", stage.RunID,
		"node_id", stage.NodeID,
		"kind", stage.Kind,
	)
	return false, nil
}

// adoptStage подхватывает stage, созданный предыдущим экземпляром orchestrator'а.
func (o *Orchestrator) adoptStage(ctx context.Context, state *RunState, stage *domain.Stage) (bool, error) {
	existing, err := o.stages.GetByNode(ctx, stage.RunID, stage.NodeID)
	if err != nil {
		state.Release(stage.NodeID)
		return false, fmt.Errorf("load existing stage %s: %w", stage.NodeID, err)
	}
	if err := state.Adopt(existing); err != nil {
		return false, err
	}

	o.logger.Info("adopted existing stage",
		"stage_id", existing.ID,
		"run_id", existing.RunID,
		"node_id", existing.NodeID,
		"status", existing.Status,
	)

	switch {
	case existing.Status == domain.StageStatusQueued:
		// Сообщение могло потеряться вместе с прежним orchestrator'ом; claim у worker'а атомарный.
		o.publishReady(ctx, existing)
		return false, nil
	case existing.Status.IsTerminal():
		return true, nil
	default:
		return false, nil
	}
}

// publishReady публикует stage.ready. Без publisher (или при ошибке публикации)
// worker заберёт stage через polling.
func (o *Orchestrator) publishReady(ctx context.Context, stage *domain.Stage) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishStageReady(ctx, mq.StageReadyPayload{
		StageID: stage.ID,
		RunID:   stage.RunID,
		NodeID:  stage.NodeID,
		Kind:    string(stage.Kind),
	})
	if err != nil {
		o.logger.Warn("failed to publish stage.ready",
			"stage_id", stage.ID,
			"run_id", stage.RunID,
			"error", err,
		)
	}
}

// completeRun выставляет итоговый статус run: build и все тесты.
func (o *Orchestrator) completeRun(ctx context.Context, state *RunState) error {
	if !o.removeActiveRun(state.RunID()) {
		return nil
	}

	run := state.Run
	run.ArtifactID = state.ArtifactID()

	status, msg := state.Outcome()
	if status == domain.RunStatusSucceeded {
		run.MarkSucceeded()
		o.logger.Info("run succeeded",
			"run_id", run.ID,
			"duration", run.Duration(),
		)
	} else {
		run.MarkFailed(msg)
		o.logger.Warn("run failed",
			"run_id", run.ID,
			"reason", msg,
			"failed_stages", state.GetFailedStages(),
			"duration", run.Duration(),
		)
	}

	telemetry.RunFinished(string(run.Category), string(run.Status))

	if err := o.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// failRun переводит run в FAILED до начала выполнения (невалидные параметры).
func (o *Orchestrator) failRun(ctx context.Context, run *domain.Run, cause error) error {
	run.MarkFailed(cause.Error())
	telemetry.RunFinished(string(run.Category), string(run.Status))

	if err := o.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}

	o.logger.Warn("run rejected", "run_id", run.ID, "error", cause)
	return cause
}

// restoreRunState восстанавливает RunState из БД.
// Используется, когда stage.completed приходит для run, которого нет в памяти
// (после рестарта Orchestrator).
func (o *Orchestrator) restoreRunState(ctx context.Context, runID uuid.UUID) (*RunState, error) {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	if run.Status != domain.RunStatusRunning {
		return nil, nil
	}

	state := NewRunState(run)
	if err := state.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}

	stages, err := o.stages.ListByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	state.RestoreFromStages(stages)

	if err := o.addActiveRun(state); err != nil {
		if errors.Is(err, ErrRunAlreadyActive) {
			return o.getActiveRun(runID), nil
		}
		return nil, err
	}

	o.logger.Info("run state restored",
		"run_id", runID,
		"stats", state.Stats(),
	)
	return state, nil
}
