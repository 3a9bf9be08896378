package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/report"
)

// ReportExecutor отправляет итоговый документ run в сервис отчётов.
//
// Выполняется всегда, в том числе после неудачного build: отсутствие артефакта
// записывается в документ как failure. Ошибка отправки не повторяется и
// влияет только на статус этого stage.
type ReportExecutor struct {
	cfg ExecutorConfig
}

// Execute выполняет report stage.
func (e *ReportExecutor) Execute(ctx context.Context, stage *domain.Stage) (*ExecutionResult, error) {
	in := stage.Input

	doc, err := report.BuildDocument(in, e.cfg.ReportOptions)
	if err != nil {
		return nil, fmt.Errorf("build report document: %w", err)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal report document: %w", err)
	}
	out := &domain.StageOutput{ArtifactID: in.ArtifactID, Log: string(body)}

	if e.cfg.Reports == nil {
		e.cfg.Logger.Warn("report service not configured, document logged only",
			"run_id", in.RunID,
			"status", doc.Status,
		)
		return &ExecutionResult{Output: out}, nil
	}

	receipt, err := e.cfg.Reports.Submit(ctx, doc)
	if err != nil {
		return Failed(out, "submit report: %v", err), nil
	}
	out.ReportURL = receipt.URL

	e.cfg.Logger.Info("report submitted",
		"run_id", in.RunID,
		"status", doc.Status,
		"report_id", receipt.ID,
	)
	return &ExecutionResult{Output: out}, nil
}
