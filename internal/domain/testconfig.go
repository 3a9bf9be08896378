package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TestConfig — одна тестовая конфигурация: версия интерпретатора × runner × таймаут × покрытие.
// На каждую конфигурацию запускается ровно один test stage.
type TestConfig struct {
	// Python — версия интерпретатора, например "3.11.4".
	Python string `json:"python" yaml:"python"`

	// Runner — метка исполнителя, например "ubuntu-22.04".
	Runner string `json:"runner" yaml:"runner"`

	// TimeoutMin — таймаут stage в минутах.
	TimeoutMin int `json:"timeout" yaml:"timeout"`

	// Coverage — собирать ли отчёт о покрытии.
	Coverage bool `json:"coverage,omitempty" yaml:"coverage"`
}

var pythonVersionRe = regexp.MustCompile(`^3\.\d+(\.\d+)?$`)

var keyUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Validate проверяет конфигурацию.
func (c TestConfig) Validate() error {
	var errs []error
	if !pythonVersionRe.MatchString(c.Python) {
		errs = append(errs, fmt.Errorf("python: invalid version %q", c.Python))
	}
	if strings.TrimSpace(c.Runner) == "" {
		errs = append(errs, errors.New("runner: required"))
	}
	if c.TimeoutMin <= 0 {
		errs = append(errs, fmt.Errorf("timeout: must be positive, got %d", c.TimeoutMin))
	}
	return errors.Join(errs...)
}

// Timeout возвращает таймаут как time.Duration.
func (c TestConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMin) * time.Minute
}

// MinorVersion возвращает "3.11" для "3.11.4".
func (c TestConfig) MinorVersion() string {
	parts := strings.SplitN(c.Python, ".", 3)
	if len(parts) < 2 {
		return c.Python
	}
	return parts[0] + "." + parts[1]
}

// Key — стабильный идентификатор конфигурации, пригодный для путей и имён артефактов.
func (c TestConfig) Key() string {
	key := fmt.Sprintf("py%s-%s", c.Python, c.Runner)
	if c.Coverage {
		key += "-cov"
	}
	return keyUnsafe.ReplaceAllString(key, "_")
}
