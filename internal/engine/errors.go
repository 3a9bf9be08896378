package engine

import "errors"

// Ошибки построения графа и валидации параметров run.
var (
	// ErrInvalidRun — run отсутствует или не может быть запущен.
	ErrInvalidRun = errors.New("invalid run")

	// ErrNoTestConfigs — тестовая матрица пуста.
	ErrNoTestConfigs = errors.New("no test configurations")

	// ErrInvalidTestConfig — конфигурация не прошла валидацию.
	ErrInvalidTestConfig = errors.New("invalid test configuration")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrInvalidCategory — неизвестная категория run.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrInvalidGitRef — недопустимый git ref.
	ErrInvalidGitRef = errors.New("invalid git ref")

	// ErrMatrixFormat — файл матрицы не удалось разобрать.
	ErrMatrixFormat = errors.New("invalid test matrix format")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // узел графа, к которому относится ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
