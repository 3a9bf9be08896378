package domain

import (
	"time"

	"github.com/google/uuid"
)

// StageKind — тип stage в графе pipeline.
type StageKind string

const (
	StageBuild  StageKind = "build"
	StageTest   StageKind = "test"
	StageUpload StageKind = "upload"
	StageReport StageKind = "report"
)

// Stage — одно выполнение узла графа внутри run.
//
// Stage создаётся Orchestrator'ом, когда условие узла выполнено, и выполняется Worker'ом.
// Данные между stages передаются только через Input и Output.
type Stage struct {
	// ID — уникальный идентификатор выполнения.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// NodeID — ID узла графа: "build", "test.0", "upload", "report".
	NodeID string `json:"node_id"`

	// Kind — тип stage, по нему выбирается executor.
	Kind StageKind `json:"kind"`

	// Status — текущий статус.
	Status StageStatus `json:"status"`

	// Input — структурированные параметры stage.
	Input StageInput `json:"input"`

	// Output — результаты выполнения; заполняется и при FAILED, если executor успел что-то записать.
	Output *StageOutput `json:"output,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки при неудаче или причина пропуска.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewStage создаёт stage в статусе QUEUED.
func NewStage(runID uuid.UUID, nodeID string, kind StageKind, input StageInput) *Stage {
	return &Stage{
		ID:        uuid.New(),
		RunID:     runID,
		NodeID:    nodeID,
		Kind:      kind,
		Status:    StageStatusQueued,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
}

// Duration возвращает продолжительность выполнения.
func (s *Stage) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// IsFinished возвращает true, если stage завершён.
func (s *Stage) IsFinished() bool {
	return s.Status.IsTerminal()
}

// MarkRunning переводит stage в статус RUNNING.
func (s *Stage) MarkRunning() {
	now := time.Now()
	s.Status = StageStatusRunning
	s.StartedAt = &now
}

// MarkSucceeded переводит stage в статус SUCCEEDED с результатами.
func (s *Stage) MarkSucceeded(out *StageOutput) {
	now := time.Now()
	s.Status = StageStatusSucceeded
	s.FinishedAt = &now
	s.Output = out
}

// MarkFailed переводит stage в статус FAILED. out может быть nil.
func (s *Stage) MarkFailed(err string, out *StageOutput) {
	now := time.Now()
	s.Status = StageStatusFailed
	s.FinishedAt = &now
	s.Error = err
	s.Output = out
}

// MarkSkipped переводит stage в статус SKIPPED с причиной.
func (s *Stage) MarkSkipped(reason string) {
	now := time.Now()
	s.Status = StageStatusSkipped
	s.FinishedAt = &now
	s.Error = reason
}

// StageInput — параметры, которые stage получает от run и от предыдущих stages.
type StageInput struct {
	RunID       uuid.UUID   `json:"run_id"`
	RunName     string      `json:"run_name"`
	Category    Category    `json:"category"`
	GitRef      string      `json:"git_ref"`
	PushToIndex bool        `json:"push_to_index"`
	Timeout     Duration    `json:"timeout,omitempty"`

	// ArtifactID — выход build stage; пустой, если build не прошёл.
	ArtifactID string `json:"artifact_id,omitempty"`

	// Test — конфигурация для test stage.
	Test *TestConfig `json:"test,omitempty"`

	// BuildStatus и Results заполняются для report stage.
	BuildStatus StageStatus  `json:"build_status,omitempty"`
	BuildError  string       `json:"build_error,omitempty"`
	Results     []TestResult `json:"results,omitempty"`
}

// StageOutput — результаты stage.
type StageOutput struct {
	// ArtifactID — build: ключ собранного артефакта.
	ArtifactID string `json:"artifact_id,omitempty"`

	// ExitCode — test: код выхода тестового набора.
	ExitCode int `json:"exit_code,omitempty"`

	// ReportRef и CoverageRef — test: ключи отчётов в хранилище.
	ReportRef   string `json:"report_ref,omitempty"`
	CoverageRef string `json:"coverage_ref,omitempty"`

	// Published — upload: опубликован ли артефакт.
	Published bool `json:"published,omitempty"`

	// ReportURL — report: ссылка на запись в сервисе отчётов.
	ReportURL string `json:"report_url,omitempty"`

	// Log — хвост вывода команды для диагностики.
	Log string `json:"log,omitempty"`
}
