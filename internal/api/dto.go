package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/dispatch"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Run DTOs

// CreateRunRequest — запрос на ручной запуск pipeline.
type CreateRunRequest struct {
	Category       string              `json:"category,omitempty"`
	GitRef         string              `json:"git_ref,omitempty"`
	PushToIndex    bool                `json:"push_to_index"`
	TestConfigs    []domain.TestConfig `json:"test_configs,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

// Trigger преобразует запрос в MANUAL-триггер.
func (r CreateRunRequest) Trigger() dispatch.Trigger {
	return dispatch.Trigger{
		Kind:           domain.TriggerManual,
		Category:       domain.Category(r.Category),
		GitRef:         r.GitRef,
		PushToIndex:    r.PushToIndex,
		TestConfigs:    r.TestConfigs,
		IdempotencyKey: r.IdempotencyKey,
	}
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID           `json:"id"`
	Name           string              `json:"name"`
	Category       string              `json:"category"`
	Trigger        string              `json:"trigger"`
	GitRef         string              `json:"git_ref"`
	PushToIndex    bool                `json:"push_to_index"`
	TestConfigs    []domain.TestConfig `json:"test_configs"`
	Status         string              `json:"status"`
	ArtifactID     string              `json:"artifact_id,omitempty"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	FinishedAt     *time.Time          `json:"finished_at,omitempty"`
	Error          string              `json:"error,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		Name:           r.Name(),
		Category:       string(r.Category),
		Trigger:        string(r.Trigger),
		GitRef:         r.GitRef,
		PushToIndex:    r.PushToIndex,
		TestConfigs:    r.TestConfigs,
		Status:         string(r.Status),
		ArtifactID:     r.ArtifactID,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
}

// Stage DTOs

// StageResponse — ответ со stage.
type StageResponse struct {
	ID         uuid.UUID           `json:"id"`
	RunID      uuid.UUID           `json:"run_id"`
	NodeID     string              `json:"node_id"`
	Kind       string              `json:"kind"`
	Status     string              `json:"status"`
	Test       *domain.TestConfig  `json:"test,omitempty"`
	Output     *domain.StageOutput `json:"output,omitempty"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// StageFromDomain конвертирует domain.Stage в StageResponse.
func StageFromDomain(s domain.Stage) StageResponse {
	return StageResponse{
		ID:         s.ID,
		RunID:      s.RunID,
		NodeID:     s.NodeID,
		Kind:       string(s.Kind),
		Status:     string(s.Status),
		Test:       s.Input.Test,
		Output:     s.Output,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Error:      s.Error,
		CreatedAt:  s.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string `json:"name"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
	Category    string `json:"category,omitempty"`
	GitRef      string `json:"git_ref,omitempty"`
	PushToIndex bool   `json:"push_to_index"`
}

// UpdateScheduleRequest — запрос на обновление schedule. Nil-поля не меняются.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	Category    *string `json:"category,omitempty"`
	GitRef      *string `json:"git_ref,omitempty"`
	PushToIndex *bool   `json:"push_to_index,omitempty"`
}

// Apply переносит заданные поля в schedule.
func (r UpdateScheduleRequest) Apply(s *domain.Schedule) {
	if r.Name != nil {
		s.Name = *r.Name
	}
	if r.CronExpr != nil {
		s.CronExpr = *r.CronExpr
	}
	if r.IntervalSec != nil {
		s.IntervalSec = *r.IntervalSec
	}
	if r.Timezone != nil {
		s.Timezone = *r.Timezone
	}
	if r.Enabled != nil {
		s.Enabled = *r.Enabled
	}
	if r.Category != nil {
		s.Category = domain.Category(*r.Category)
	}
	if r.GitRef != nil {
		s.GitRef = *r.GitRef
	}
	if r.PushToIndex != nil {
		s.PushToIndex = *r.PushToIndex
	}
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	Category    string     `json:"category"`
	GitRef      string     `json:"git_ref"`
	PushToIndex bool       `json:"push_to_index"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		Category:    string(s.Category),
		GitRef:      s.GitRef,
		PushToIndex: s.PushToIndex,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
