package worker

import "errors"

// Ошибки воркера.
var (
	// ErrStageNotFound — stage не найден в БД.
	ErrStageNotFound = errors.New("stage not found")

	// ErrStageNotQueued — stage не в статусе QUEUED (уже взят другим воркером).
	ErrStageNotQueued = errors.New("stage is not in QUEUED status")

	// ErrUnknownStageKind — нет executor'а для данного типа stage.
	ErrUnknownStageKind = errors.New("unknown stage kind")

	// ErrStageTimeout — выполнение stage превысило таймаут.
	ErrStageTimeout = errors.New("stage timeout")

	// ErrExecutorPanic — executor паниковал.
	ErrExecutorPanic = errors.New("executor panic")

	// ErrCommandFailed — внешняя команда завершилась с ненулевым кодом.
	ErrCommandFailed = errors.New("command failed")

	// ErrNoArtifact — stage требует артефакт, но build его не дал.
	ErrNoArtifact = errors.New("no artifact")

	// ErrInvalidInput — во входе stage не хватает обязательных полей.
	ErrInvalidInput = errors.New("invalid stage input")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
