package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — build и все тесты прошли.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — упал build или хотя бы одна тестовая конфигурация.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed:
		return true
	default:
		return false
	}
}

// StageStatus — статус выполнения stage.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCEEDED
//	                 ↘ FAILED
//	QUEUED → SKIPPED (условие узла не выполнено)
type StageStatus string

const (
	// StageStatusQueued — stage создан и ожидает воркера.
	StageStatusQueued StageStatus = "QUEUED"

	// StageStatusRunning — stage выполняется.
	StageStatusRunning StageStatus = "RUNNING"

	// StageStatusSucceeded — stage завершён успешно.
	StageStatusSucceeded StageStatus = "SUCCEEDED"

	// StageStatusFailed — stage завершился с ошибкой (включая таймаут).
	StageStatusFailed StageStatus = "FAILED"

	// StageStatusSkipped — stage не запускался.
	StageStatusSkipped StageStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageStatusSucceeded, StageStatusFailed, StageStatusSkipped:
		return true
	default:
		return false
	}
}

// Passed возвращает true только для SUCCEEDED.
func (s StageStatus) Passed() bool {
	return s == StageStatusSucceeded
}
