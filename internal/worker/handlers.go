package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// handleStageReady обрабатывает событие о новом stage из очереди stages.ready.
func (w *Worker) handleStageReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StageReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse stage.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received stage.ready event",
		"stage_id", payload.StageID,
		"run_id", payload.RunID,
		"node_id", payload.NodeID,
	)

	if err := w.processStage(ctx, payload.StageID); err != nil {
		switch {
		// Ожидаемые ситуации — ack без ошибки
		case errors.Is(err, ErrStageNotQueued):
			w.logger.Debug("stage not processed", "stage_id", payload.StageID, "reason", err)
			return nil
		case errors.Is(err, ErrStageNotFound):
			return mq.Permanent(err)
		}
		w.logger.Error("failed to process stage", "stage_id", payload.StageID, "error", err)
		return err
	}

	return nil
}

// processStage забирает stage, выполняет его и сохраняет результат.
func (w *Worker) processStage(ctx context.Context, stageID uuid.UUID) error {
	select {
	case w.sem <- struct{}{}:
		defer func() { <-w.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	// 1. Загружаем stage из БД
	stage, err := w.stages.GetByID(ctx, stageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStageNotFound, stageID)
		}
		return fmt.Errorf("get stage: %w", err)
	}

	// 2. Проверяем статус
	if stage.Status != domain.StageStatusQueued {
		return ErrStageNotQueued
	}

	// 3. Забираем stage атомарно
	stage.MarkRunning()
	if err := w.stages.Claim(ctx, stage); err != nil {
		if errors.Is(err, repo.ErrStageClaimed) {
			return ErrStageNotQueued
		}
		return fmt.Errorf("claim stage: %w", err)
	}

	logger := telemetry.WithStage(w.logger, stage.ID.String(), stage.NodeID).With("run_id", stage.RunID)
	logger.Info("stage started", "kind", stage.Kind)

	// 4. Выполняем. Результат сохраняется даже если контекст worker'а отменён.
	res, execErr := w.registry.Execute(telemetry.WithLogger(ctx, logger), stage, w.stageTimeout)
	errMsg := Finish(stage, res, execErr)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := w.stages.Update(saveCtx, stage); err != nil {
		return fmt.Errorf("update stage to %s: %w", stage.Status, err)
	}

	telemetry.StageFinished(string(stage.Kind), string(stage.Status), stage.Duration())

	switch {
	case execErr != nil:
		logger.Error("stage failed", "duration", stage.Duration(), "error", execErr)
	case errMsg != "":
		logger.Warn("stage failed", "duration", stage.Duration(), "error", errMsg)
	default:
		logger.Info("stage succeeded", "duration", stage.Duration())
	}

	w.publishCompletion(saveCtx, stage)
	return nil
}

// publishCompletion публикует событие stage.completed.
func (w *Worker) publishCompletion(ctx context.Context, stage *domain.Stage) {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping stage.completed publish",
			"stage_id", stage.ID,
		)
		return
	}

	payload := mq.StageCompletedPayload{
		StageID: stage.ID,
		RunID:   stage.RunID,
		NodeID:  stage.NodeID,
		Status:  string(stage.Status),
		Error:   stage.Error,
	}

	if err := w.publisher.PublishStageCompleted(ctx, payload); err != nil {
		// stage уже сохранён в БД, оркестратор подхватит его через polling
		w.logger.Warn("failed to publish stage.completed",
			"stage_id", stage.ID,
			"error", err,
		)
	}
}
