package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shaiso/Conveyor/internal/artifact"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Имена отчётов в хранилище.
const (
	junitReportFile    = "junit.xml"
	coverageReportFile = "coverage.xml"
)

// TestExecutor устанавливает артефакт в отдельное окружение интерпретатора
// конфигурации и запускает тестовый набор.
//
// Код выхода тестов становится статусом stage. Рабочий каталог с окружением
// удаляется до того, как stage сообщит о результате, в том числе при таймауте.
type TestExecutor struct {
	cfg ExecutorConfig
}

// Execute выполняет test stage.
func (e *TestExecutor) Execute(ctx context.Context, stage *domain.Stage) (*ExecutionResult, error) {
	in := stage.Input
	if in.Test == nil {
		return nil, fmt.Errorf("%w: test configuration is missing", ErrInvalidInput)
	}
	if in.ArtifactID == "" {
		return Failed(nil, "%v: build did not produce an artifact", ErrNoArtifact), nil
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
	venv := filepath.Join(dir, "venv")
	tctx.SetPath("wheel", wheel)
	tctx.SetPath("venv", venv)
	tctx.SetPath("python", filepath.Join(venv, "bin", "python"))
	tctx.SetPath("tests", filepath.Join(tctx.Paths["source"], "tests"))
	tctx.SetPath("report", filepath.Join(dir, "reports", junitReportFile))
	tctx.SetPath("coverage", filepath.Join(dir, "reports", coverageReportFile))

	if err := os.MkdirAll(filepath.Join(dir, "reports"), 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}

	out := &domain.StageOutput{}
	log, err := checkout(ctx, e.cfg.Runner, e.cfg.Logger, *e.cfg.Commands, tctx)
	out.Log = log
	if err != nil {
		return stepFailure(out, err)
	}

	for _, tmpl := range [][]string{e.cfg.Commands.Venv, e.cfg.Commands.Install} {
		st, err := runStep(ctx, e.cfg.Runner, e.cfg.Logger, tmpl, tctx, dir)
		out.Log = appendLog(out.Log, st.log)
		if err != nil {
			return stepFailure(out, fmt.Errorf("prepare environment python %s: %w", in.Test.Python, err))
		}
	}

	st, err := runStep(ctx, e.cfg.Runner, e.cfg.Logger, e.cfg.Commands.Test, tctx, tctx.Paths["source"])
	out.Log = appendLog(out.Log, st.log)
	out.ExitCode = st.res.ExitCode
	if err != nil && !errors.Is(err, ErrCommandFailed) {
		return &ExecutionResult{Output: out}, err
	}

	// Отчёты сохраняются и для упавшего набора.
	key := in.Test.Key()
	ref, err := e.storeReport(ctx, in, key, tctx.Paths["report"], junitReportFile)
	if err != nil {
		return &ExecutionResult{Output: out}, err
	}
	out.ReportRef = ref
	if in.Test.Coverage {
		ref, err := e.storeReport(ctx, in, key, tctx.Paths["coverage"], coverageReportFile)
		if err != nil {
			return &ExecutionResult{Output: out}, err
		}
		out.CoverageRef = ref
	}

	if out.ExitCode != 0 {
		return Failed(out, "test suite for %s exited with status %d", key, out.ExitCode), nil
	}
	return &ExecutionResult{Output: out}, nil
}

// storeReport сохраняет отчёт, если тестовый инструмент его создал.
func (e *TestExecutor) storeReport(ctx context.Context, in domain.StageInput, configKey, file, name string) (string, error) {
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		e.cfg.Logger.Warn("report file was not produced", "config", configKey, "file", name)
		return "", nil
	}

	obj, err := artifact.PutFile(ctx, e.cfg.Store, artifact.ReportKey(in.RunID, configKey, name), file)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return obj.Key, nil
}
