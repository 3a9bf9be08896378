package domain

import (
	"fmt"
	"strings"
)

// Category — категория run: определяет набор тестов и назначение сборки.
type Category string

const (
	// CategoryNightly — ночная сборка, категория по умолчанию.
	CategoryNightly Category = "NIGHTLY"

	// CategoryRelease — релизная сборка.
	CategoryRelease Category = "RELEASE"
)

// DefaultGitRef — ветка, которая собирается, если ref не указан.
const DefaultGitRef = "main"

// ParseCategory парсит категорию без учёта регистра.
// Пустая строка даёт CategoryNightly.
func ParseCategory(s string) (Category, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(CategoryNightly):
		return CategoryNightly, nil
	case string(CategoryRelease):
		return CategoryRelease, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// String возвращает строковое представление Category.
func (c Category) String() string {
	return string(c)
}

// TriggerKind — источник запуска run.
type TriggerKind string

const (
	// TriggerSchedule — запуск по расписанию.
	TriggerSchedule TriggerKind = "SCHEDULE"

	// TriggerManual — ручной запуск через API/CLI.
	TriggerManual TriggerKind = "MANUAL"
)
