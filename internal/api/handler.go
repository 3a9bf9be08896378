package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/dispatch"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// RunStore — чтение runs. Реализуется repo.RunRepo.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// StageStore — чтение stages. Реализуется repo.StageRepo.
type StageStore interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Stage, error)
}

// ScheduleStore — CRUD schedules. Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Dispatcher создаёт run из ручного триггера. Реализуется dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, t dispatch.Trigger) (*domain.Run, bool, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runs       RunStore
	stages     StageStore
	schedules  ScheduleStore
	dispatcher Dispatcher
	logger     *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runs       RunStore
	Stages     StageStore
	Schedules  ScheduleStore
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		runs:       cfg.Runs,
		stages:     cfg.Stages,
		schedules:  cfg.Schedules,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}
}
