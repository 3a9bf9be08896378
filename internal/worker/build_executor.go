package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shaiso/Conveyor/internal/artifact"
	"github.com/shaiso/Conveyor/internal/domain"
)

// BuildExecutor собирает пакет из исходников по git ref и сохраняет
// единственный артефакт run в хранилище.
type BuildExecutor struct {
	cfg ExecutorConfig
}

// Execute выполняет build stage.
func (e *BuildExecutor) Execute(ctx context.Context, stage *domain.Stage) (*ExecutionResult, error) {
	in := stage.Input
	if e.cfg.Store == nil {
		return nil, fmt.Errorf("%w: artifact store is not configured", ErrInvalidInput)
	}

	dir, cleanup, err := e.cfg.workspace(stage)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	tctx := newStageContext(in, e.cfg.SourceRepo, dir)
	out := &domain.StageOutput{}

	log, err := checkout(ctx, e.cfg.Runner, e.cfg.Logger, *e.cfg.Commands, tctx)
	out.Log = log
	if err != nil {
		return stepFailure(out, err)
	}

	st, err := runStep(ctx, e.cfg.Runner, e.cfg.Logger, e.cfg.Commands.Build, tctx, tctx.Paths["source"])
	out.Log = appendLog(out.Log, st.log)
	if err != nil {
		return stepFailure(out, fmt.Errorf("build: %w", err))
	}

	wheels, err := filepath.Glob(filepath.Join(tctx.Paths["dist"], "*.whl"))
	if err != nil {
		return nil, fmt.Errorf("find wheel: %w", err)
	}
	if len(wheels) != 1 {
		return Failed(out, "build produced %d wheels, expected exactly one", len(wheels)), nil
	}

	obj, err := artifact.PutFile(ctx, e.cfg.Store, artifact.DistKey(in.RunID, wheels[0]), wheels[0])
	if err != nil {
		return &ExecutionResult{Output: out}, fmt.Errorf("store artifact: %w", err)
	}
	out.ArtifactID = obj.Key

	e.cfg.Logger.Info("artifact stored",
		"run_id", in.RunID,
		"artifact", obj.Key,
		"size", obj.Size,
		"content_type", obj.ContentType,
	)
	return &ExecutionResult{Output: out}, nil
}

// stepFailure разделяет ошибки шага: ненулевой код выхода и некорректный шаблон
// являются логической ошибкой stage, остальное — инфраструктурной.
func stepFailure(out *domain.StageOutput, err error) (*ExecutionResult, error) {
	if errors.Is(err, ErrCommandFailed) || errors.Is(err, ErrInvalidInput) {
		return Failed(out, "%v", err), nil
	}
	return &ExecutionResult{Output: out}, err
}
