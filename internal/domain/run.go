package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run — одно сквозное выполнение pipeline для конкретного триггера.
//
// Run создаётся Dispatcher'ом. Параметры запуска (категория, ref, флаг публикации,
// тестовая матрица) после создания не меняются; меняются только поля жизненного цикла.
type Run struct {
	// ID — уникальный идентификатор run. По нему же адресуются артефакты в хранилище.
	ID uuid.UUID `json:"id"`

	// Category — NIGHTLY или RELEASE.
	Category Category `json:"category"`

	// Trigger — источник запуска.
	Trigger TriggerKind `json:"trigger"`

	// GitRef — ветка, тег или коммит, который собирается.
	GitRef string `json:"git_ref"`

	// PushToIndex — публиковать ли артефакт в пакетный индекс.
	PushToIndex bool `json:"push_to_index"`

	// TestConfigs — тестовая матрица run.
	TestConfigs []TestConfig `json:"test_configs"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// ArtifactID — идентификатор собранного артефакта.
	// Пустой, пока build не завершился успешно.
	ArtifactID string `json:"artifact_id,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — краткое описание причины FAILED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Для scheduled runs: "{schedule_id}_{next_due_at}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе PENDING.
func NewRun(category Category, trigger TriggerKind, gitRef string, push bool, configs []TestConfig) *Run {
	return &Run{
		ID:          uuid.New(),
		Category:    category,
		Trigger:     trigger,
		GitRef:      gitRef,
		PushToIndex: push,
		TestConfigs: append([]TestConfig(nil), configs...),
		Status:      RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// Name — человекочитаемое имя run для отчётов: "nightly-main-1a2b3c4d".
func (r *Run) Name() string {
	ref := strings.NewReplacer("/", "-", " ", "-").Replace(r.GitRef)
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(string(r.Category)), ref, r.ID.String()[:8])
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
	r.Error = ""
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}
