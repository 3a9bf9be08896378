package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaiso/Conveyor/internal/artifact"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/report"
)

// ReportSubmitter отправляет документ в сервис отчётов. Реализуется report.Client.
type ReportSubmitter interface {
	Submit(ctx context.Context, doc report.Document) (report.Receipt, error)
}

// ExecutorConfig — общие зависимости executor'ов.
type ExecutorConfig struct {
	// Runner запускает внешние инструменты (default: ExecRunner).
	Runner CommandRunner

	// Store — хранилище артефактов и отчётов.
	Store artifact.Store

	// Commands — шаблоны команд (default: DefaultCommands()).
	Commands *Commands

	// SourceRepo — адрес git-репозитория пакета.
	SourceRepo string

	// IndexRepository — адрес индекса пакетов для upload; пустой — индекс по умолчанию twine.
	IndexRepository string

	// WorkRoot — каталог для временных рабочих каталогов stages (default: os.TempDir()).
	WorkRoot string

	// Reports — клиент сервиса отчётов; nil означает, что документ только логируется.
	Reports       ReportSubmitter
	ReportOptions report.Options

	Logger *slog.Logger
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.Runner == nil {
		c.Runner = ExecRunner{}
	}
	if c.Commands == nil {
		cmds := DefaultCommands()
		c.Commands = &cmds
	}
	if c.WorkRoot == "" {
		c.WorkRoot = os.TempDir()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// NewDefaultRegistry создаёт реестр с executor'ами build, test, upload и report.
func NewDefaultRegistry(cfg ExecutorConfig) *Registry {
	cfg = cfg.withDefaults()

	r := NewRegistry()
	r.Register(domain.StageBuild, &BuildExecutor{cfg: cfg})
	r.Register(domain.StageTest, &TestExecutor{cfg: cfg})
	r.Register(domain.StageUpload, &UploadExecutor{cfg: cfg})
	r.Register(domain.StageReport, &ReportExecutor{cfg: cfg})
	return r
}

// workspace создаёт временный рабочий каталог stage. cleanup удаляет его.
func (c ExecutorConfig) workspace(stage *domain.Stage) (string, func(), error) {
	prefix := fmt.Sprintf("conveyor-%s-%s-", shortID(stage), strings.ReplaceAll(stage.NodeID, ".", "-"))
	dir, err := os.MkdirTemp(c.WorkRoot, prefix)
	if err != nil {
		return "", nil, fmt.Errorf("create workspace: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			c.Logger.Warn("failed to clean up workspace", "dir", dir, "error", err)
			return
		}
		c.Logger.Debug("workspace cleaned up", "dir", dir)
	}
	return dir, cleanup, nil
}

// fetchArtifact скачивает артефакт run в dir/dist и возвращает локальный путь.
func (c ExecutorConfig) fetchArtifact(ctx context.Context, in domain.StageInput, dir string) (string, error) {
	if c.Store == nil {
		return "", fmt.Errorf("%w: artifact store is not configured", ErrInvalidInput)
	}
	local := filepath.Join(dir, "dist", filepath.Base(in.ArtifactID))
	if err := artifact.Download(ctx, c.Store, in.ArtifactID, local); err != nil {
		return "", fmt.Errorf("fetch artifact %s: %w", in.ArtifactID, err)
	}
	return local, nil
}

func shortID(stage *domain.Stage) string {
	return stage.RunID.String()[:8]
}

// appendLog склеивает вывод шагов, оставляя хвост не длиннее maxLogTail.
func appendLog(log, more string) string {
	log += more
	if len(log) > maxLogTail {
		log = log[len(log)-maxLogTail:]
	}
	return log
}
