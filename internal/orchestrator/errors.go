package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRun — параметры run не прошли валидацию.
	ErrInvalidRun = errors.New("invalid run")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrStageNotFound — stage не найден.
	ErrStageNotFound = errors.New("stage not found")

	// ErrStageNotTerminal — stage передан как завершённый, но статус не терминальный.
	ErrStageNotTerminal = errors.New("stage is not in a terminal status")

	// ErrNodeNotFound — узел не найден в графе.
	ErrNodeNotFound = errors.New("node not found in graph")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
