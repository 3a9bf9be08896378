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

const runColumns = `id, category, trigger, git_ref, push_to_index, test_configs, status,
	artifact_id, started_at, finished_at, error, idempotency_key, created_at`

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
// Повторный idempotency_key возвращает ErrAlreadyExists.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	configsJSON, err := json.Marshal(run.TestConfigs)
	if err != nil {
		return fmt.Errorf("marshal test configs: %w", err)
	}

	query := `
		INSERT INTO runs (id, category, trigger, git_ref, push_to_index, test_configs,
		                  status, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Category,
		run.Trigger,
		run.GitRef,
		run.PushToIndex,
		configsJSON,
		run.Status,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if err != nil {
		return mapWriteError("insert run", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE idempotency_key = $1`
	return scanRun(r.pool.QueryRow(ctx, query, key))
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Category *domain.Category
	Status   *domain.RunStatus
	Limit    int
	Offset   int
}

// List возвращает список runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR category = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query, filter.Category, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// Update сохраняет поля жизненного цикла run.
// Параметры запуска не перезаписываются.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, artifact_id = $3, started_at = $4, finished_at = $5, error = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		nullString(run.ArtifactID),
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending возвращает runs в статусе PENDING (для polling fallback).
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	return r.listByStatus(ctx, domain.RunStatusPending, limit)
}

// ListRunning возвращает runs в статусе RUNNING.
// Orchestrator использует их для восстановления состояния после рестарта.
func (r *RunRepo) ListRunning(ctx context.Context, limit int) ([]domain.Run, error) {
	return r.listByStatus(ctx, domain.RunStatusRunning, limit)
}

func (r *RunRepo) listByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s runs: %w", status, err)
	}
	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun читает run из строки результата. pgx.Rows тоже реализует pgx.Row.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var configsJSON []byte
	var artifactID, errMsg, idempKey *string

	err := row.Scan(
		&run.ID,
		&run.Category,
		&run.Trigger,
		&run.GitRef,
		&run.PushToIndex,
		&configsJSON,
		&run.Status,
		&artifactID,
		&run.StartedAt,
		&run.FinishedAt,
		&errMsg,
		&idempKey,
		&run.CreatedAt,
	)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if configsJSON != nil {
		if err := json.Unmarshal(configsJSON, &run.TestConfigs); err != nil {
			return nil, fmt.Errorf("unmarshal test configs: %w", err)
		}
	}
	run.ArtifactID = derefString(artifactID)
	run.Error = derefString(errMsg)
	run.IdempotencyKey = derefString(idempKey)

	return &run, nil
}
