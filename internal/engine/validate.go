package engine

import (
	"fmt"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ValidateRun проверяет параметры run до создания графа.
//
// Проверяет:
// - Категорию
// - Git ref (непустой, без пробелов и управляющих последовательностей)
// - Непустую тестовую матрицу и каждую конфигурацию
// - Уникальность конфигураций
func ValidateRun(run *domain.Run) error {
	if run == nil {
		return NewValidationError("", "run", "run is nil", ErrInvalidRun)
	}

	if _, err := domain.ParseCategory(string(run.Category)); err != nil || run.Category == "" {
		return NewValidationError("", "category",
			fmt.Sprintf("unknown category: %q", run.Category), ErrInvalidCategory)
	}

	if err := ValidateGitRef(run.GitRef); err != nil {
		return err
	}

	return ValidateTestConfigs(run.TestConfigs)
}

// ValidateGitRef проверяет git ref, который попадает в аргументы команд.
func ValidateGitRef(ref string) error {
	switch {
	case ref == "":
		return NewValidationError(NodeBuild, "git_ref", "git ref is empty", ErrInvalidGitRef)
	case strings.HasPrefix(ref, "-"):
		return NewValidationError(NodeBuild, "git_ref", "git ref must not start with '-'", ErrInvalidGitRef)
	case strings.ContainsAny(ref, " \t\n~^:?*[\\"):
		return NewValidationError(NodeBuild, "git_ref",
			fmt.Sprintf("git ref %q contains forbidden characters", ref), ErrInvalidGitRef)
	case strings.Contains(ref, ".."):
		return NewValidationError(NodeBuild, "git_ref", "git ref must not contain '..'", ErrInvalidGitRef)
	}
	return nil
}

// ValidateTestConfigs проверяет тестовую матрицу.
func ValidateTestConfigs(configs []domain.TestConfig) error {
	if len(configs) == 0 {
		return NewValidationError("", "test_configs", "test matrix is empty", ErrNoTestConfigs)
	}

	seen := make(map[string]int, len(configs))
	for i, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return NewValidationError(TestNodeID(i), "test_configs", err.Error(), ErrInvalidTestConfig)
		}
		if prev, ok := seen[cfg.Key()]; ok {
			return NewValidationError(TestNodeID(i), "test_configs",
				fmt.Sprintf("duplicate of configuration %d (%s)", prev, cfg.Key()), ErrInvalidTestConfig)
		}
		seen[cfg.Key()] = i
	}
	return nil
}
