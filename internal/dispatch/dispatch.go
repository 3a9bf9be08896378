package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// ErrInvalidTrigger — параметры триггера не прошли валидацию.
var ErrInvalidTrigger = errors.New("invalid trigger")

// nightlyRunner — метка исполнителя ночной матрицы.
const nightlyRunner = "ubuntu-22.04"

// NightlyTestConfigs возвращает фиксированную матрицу для ночных и плановых run.
func NightlyTestConfigs() []domain.TestConfig {
	return []domain.TestConfig{
		{Python: "3.9.17", Runner: nightlyRunner, TimeoutMin: 40},
		{Python: "3.10.12", Runner: nightlyRunner, TimeoutMin: 40},
		{Python: "3.11.4", Runner: nightlyRunner, TimeoutMin: 40, Coverage: true},
		{Python: "3.12.6", Runner: nightlyRunner, TimeoutMin: 40},
	}
}

// Trigger — запрос на запуск pipeline.
type Trigger struct {
	// Kind — SCHEDULE или MANUAL (default: MANUAL).
	Kind domain.TriggerKind `json:"kind"`

	// Category — NIGHTLY или RELEASE (default: NIGHTLY).
	Category domain.Category `json:"category"`

	// GitRef — собираемый ref (default: main).
	GitRef string `json:"git_ref"`

	PushToIndex bool `json:"push_to_index"`

	// TestConfigs — матрица для ручных не-ночных run; для остальных игнорируется.
	TestConfigs []domain.TestConfig `json:"test_configs,omitempty"`

	// IdempotencyKey — повторный триггер с тем же ключом возвращает существующий run.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// UsesNightlyMatrix сообщает, берётся ли матрица из NightlyTestConfigs.
func (t Trigger) UsesNightlyMatrix() bool {
	return t.Kind == domain.TriggerSchedule || t.Category == domain.CategoryNightly
}

// Normalize применяет значения по умолчанию и выбирает тестовую матрицу.
func Normalize(t Trigger) (Trigger, error) {
	if t.Kind == "" {
		t.Kind = domain.TriggerManual
	}
	if t.Kind != domain.TriggerManual && t.Kind != domain.TriggerSchedule {
		return t, fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidTrigger, t.Kind)
	}

	category, err := domain.ParseCategory(string(t.Category))
	if err != nil {
		return t, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}
	t.Category = category

	if t.GitRef == "" {
		t.GitRef = domain.DefaultGitRef
	}

	if t.UsesNightlyMatrix() {
		t.TestConfigs = NightlyTestConfigs()
	}
	return t, nil
}

// RunStore — хранилище runs, нужное Dispatcher'у. Реализуется repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)
}

// Publisher уведомляет оркестратор о новом run. Реализуется mq.Publisher.
type Publisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// Config — конфигурация Dispatcher.
type Config struct {
	Runs RunStore

	// Publisher — опционально; без него оркестратор найдёт run polling'ом.
	Publisher Publisher

	Logger *slog.Logger
}

// Dispatcher превращает триггер в run.
type Dispatcher struct {
	runs      RunStore
	publisher Publisher
	logger    *slog.Logger
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runs:      cfg.Runs,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// Dispatch нормализует и валидирует триггер, сохраняет run и публикует run.pending.
//
// Возвращает run и true, если он создан; false — если run с тем же ключом
// идемпотентности уже существовал.
func (d *Dispatcher) Dispatch(ctx context.Context, t Trigger) (*domain.Run, bool, error) {
	supplied := len(t.TestConfigs)

	t, err := Normalize(t)
	if err != nil {
		return nil, false, err
	}
	if supplied > 0 && t.UsesNightlyMatrix() {
		d.logger.Debug("supplied test matrix ignored for nightly run", "supplied", supplied)
	}

	run := domain.NewRun(t.Category, t.Kind, t.GitRef, t.PushToIndex, t.TestConfigs)
	run.IdempotencyKey = t.IdempotencyKey
	if err := engine.ValidateRun(run); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	if t.IdempotencyKey != "" {
		existing, err := d.runs.GetByIdempotencyKey(ctx, t.IdempotencyKey)
		if err == nil {
			d.logger.Debug("run already exists (idempotency)",
				"run_id", existing.ID,
				"idempotency_key", t.IdempotencyKey,
			)
			return existing, false, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, fmt.Errorf("check idempotency: %w", err)
		}
	}

	if err := d.runs.Create(ctx, run); err != nil {
		// Параллельный триггер с тем же ключом успел раньше.
		if errors.Is(err, repo.ErrAlreadyExists) && t.IdempotencyKey != "" {
			existing, getErr := d.runs.GetByIdempotencyKey(ctx, t.IdempotencyKey)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create run: %w", err)
	}

	telemetry.RunDispatched(string(run.Category), string(run.Trigger))
	d.logger.Info("run dispatched",
		"run_id", run.ID,
		"name", run.Name(),
		"category", run.Category,
		"trigger", run.Trigger,
		"git_ref", run.GitRef,
		"push_to_index", run.PushToIndex,
		"tests", len(run.TestConfigs),
	)

	if d.publisher != nil {
		if err := d.publisher.PublishRunPending(ctx, run.ID); err != nil {
			// Run уже в БД, оркестратор заберёт его polling'ом.
			d.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
	}

	return run, true, nil
}
