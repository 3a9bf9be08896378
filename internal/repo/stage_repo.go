package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

const stageColumns = `id, run_id, node_id, kind, status, input, output,
	started_at, finished_at, error, created_at`

// StageRepo — репозиторий для работы со stages.
type StageRepo struct {
	pool *pgxpool.Pool
}

// NewStageRepo создаёт новый StageRepo.
func NewStageRepo(pool *pgxpool.Pool) *StageRepo {
	return &StageRepo{pool: pool}
}

// Create создаёт stage. Пара (run_id, node_id) уникальна:
// повторное создание возвращает ErrAlreadyExists.
func (r *StageRepo) Create(ctx context.Context, stage *domain.Stage) error {
	inputJSON, err := json.Marshal(stage.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	outputJSON, err := marshalOutput(stage.Output)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO stages (id, run_id, node_id, kind, status, input, output,
		                    started_at, finished_at, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		stage.ID,
		stage.RunID,
		stage.NodeID,
		stage.Kind,
		stage.Status,
		inputJSON,
		outputJSON,
		stage.StartedAt,
		stage.FinishedAt,
		nullString(stage.Error),
		stage.CreatedAt,
	)
	if err != nil {
		return mapWriteError("insert stage", err)
	}
	return nil
}

// GetByID возвращает stage по ID.
func (r *StageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE id = $1`
	return scanStage(r.pool.QueryRow(ctx, query, id))
}

// GetByNode возвращает stage узла nodeID в run.
func (r *StageRepo) GetByNode(ctx context.Context, runID uuid.UUID, nodeID string) (*domain.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE run_id = $1 AND node_id = $2`
	return scanStage(r.pool.QueryRow(ctx, query, runID, nodeID))
}

// ListByRunID возвращает все stages run в порядке создания.
func (r *StageRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Stage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM stages
		WHERE run_id = $1
		ORDER BY created_at ASC, node_id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return collectStages(rows)
}

// Update сохраняет статус и результаты stage.
func (r *StageRepo) Update(ctx context.Context, stage *domain.Stage) error {
	outputJSON, err := marshalOutput(stage.Output)
	if err != nil {
		return err
	}

	query := `
		UPDATE stages
		SET status = $2, output = $3, started_at = $4, finished_at = $5, error = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		stage.ID,
		stage.Status,
		outputJSON,
		stage.StartedAt,
		stage.FinishedAt,
		nullString(stage.Error),
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim атомарно переводит stage из QUEUED в RUNNING.
// Если stage уже взят другим worker'ом, возвращает ErrStageClaimed.
func (r *StageRepo) Claim(ctx context.Context, stage *domain.Stage) error {
	query := `
		UPDATE stages
		SET status = 'RUNNING', started_at = $2
		WHERE id = $1 AND status = 'QUEUED'
	`
	result, err := r.pool.Exec(ctx, query, stage.ID, stage.StartedAt)
	if err != nil {
		return fmt.Errorf("claim stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStageClaimed
	}
	return nil
}

// ListQueued возвращает stages в статусе QUEUED (для polling fallback worker'а).
func (r *StageRepo) ListQueued(ctx context.Context, limit int) ([]domain.Stage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM stages
		WHERE status = 'QUEUED'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued stages: %w", err)
	}
	return collectStages(rows)
}

func marshalOutput(out *domain.StageOutput) ([]byte, error) {
	if out == nil {
		return nil, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return data, nil
}

func collectStages(rows pgx.Rows) ([]domain.Stage, error) {
	defer rows.Close()

	var stages []domain.Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *stage)
	}
	return stages, rows.Err()
}

func scanStage(row pgx.Row) (*domain.Stage, error) {
	var s domain.Stage
	var inputJSON, outputJSON []byte
	var errMsg *string

	err := row.Scan(
		&s.ID,
		&s.RunID,
		&s.NodeID,
		&s.Kind,
		&s.Status,
		&inputJSON,
		&outputJSON,
		&s.StartedAt,
		&s.FinishedAt,
		&errMsg,
		&s.CreatedAt,
	)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan stage: %w", err)
	}

	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &s.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if outputJSON != nil {
		s.Output = &domain.StageOutput{}
		if err := json.Unmarshal(outputJSON, s.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	s.Error = derefString(errMsg)

	return &s, nil
}
