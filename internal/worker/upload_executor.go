package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// UploadExecutor публикует артефакт в индекс пакетов, если у run включён push.
// Результаты тестов на публикацию не влияют.
type UploadExecutor struct {
	cfg ExecutorConfig
}

// Execute выполняет upload stage.
func (e *UploadExecutor) Execute(ctx context.Context, stage *domain.Stage) (*ExecutionResult, error) {
	in := stage.Input
	if !in.PushToIndex {
		e.cfg.Logger.Info("push to index disabled, nothing to publish", "run_id", in.RunID)
		return &ExecutionResult{Output: &domain.StageOutput{Published: false}}, nil
	}
	if in.ArtifactID == "" {
		return Failed(nil, "%v: nothing to publish", ErrNoArtifact), nil
	}

	dir, cleanup, err := e.cfg.workspace(stage)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	wheel, err := e.cfg.fetchArtifact(ctx, in, dir)
	if err != nil {
		return nil, err
	}

	tctx := newStageContext(in, e.cfg.SourceRepo, dir)
	tctx.SetPath("wheel", wheel)
	tctx.SetPath("repository", e.cfg.IndexRepository)

	out := &domain.StageOutput{ArtifactID: in.ArtifactID}
	st, err := runStep(ctx, e.cfg.Runner, e.cfg.Logger, e.cfg.Commands.Upload, tctx, dir)
	out.Log = st.log
	if err != nil {
		return stepFailure(out, fmt.Errorf("upload: %w", err))
	}

	out.Published = true
	e.cfg.Logger.Info("artifact published", "run_id", in.RunID, "artifact", in.ArtifactID)
	return &ExecutionResult{Output: out}, nil
}
