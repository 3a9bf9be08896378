package engine

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// matrixEntry — запись матрицы в файле. Помимо основных имён полей
// принимает label/code_coverage и таймаут строкой ("40").
type matrixEntry struct {
	Python       string    `yaml:"python"`
	Runner       string    `yaml:"runner"`
	Label        string    `yaml:"label"`
	Timeout      yaml.Node `yaml:"timeout"`
	Coverage     *bool     `yaml:"coverage"`
	CodeCoverage *bool     `yaml:"code_coverage"`
}

type matrixFile struct {
	Configs []matrixEntry `yaml:"configs"`
}

// ParseMatrix разбирает тестовую матрицу из YAML или JSON.
//
// Поддерживаются два вида документа: список конфигураций
// или объект с ключом "configs".
//
//	- python: "3.11.4"
//	  runner: ubuntu-24.04
//	  timeout: 40
//	  coverage: true
func ParseMatrix(data []byte) ([]domain.TestConfig, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrNoTestConfigs
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMatrixFormat, err)
	}

	var entries []matrixEntry
	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}

	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMatrixFormat, err)
		}
	case yaml.MappingNode:
		var file matrixFile
		if err := doc.Decode(&file); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMatrixFormat, err)
		}
		entries = file.Configs
	default:
		return nil, fmt.Errorf("%w: expected a list or an object with \"configs\"", ErrMatrixFormat)
	}

	configs := make([]domain.TestConfig, 0, len(entries))
	for i, e := range entries {
		cfg, err := e.toConfig()
		if err != nil {
			return nil, NewValidationError(TestNodeID(i), "timeout", err.Error(), ErrMatrixFormat)
		}
		configs = append(configs, cfg)
	}

	if err := ValidateTestConfigs(configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (e matrixEntry) toConfig() (domain.TestConfig, error) {
	cfg := domain.TestConfig{
		Python: strings.TrimSpace(e.Python),
		Runner: strings.TrimSpace(e.Runner),
	}
	if cfg.Runner == "" {
		cfg.Runner = strings.TrimSpace(e.Label)
	}

	switch {
	case e.Coverage != nil:
		cfg.Coverage = *e.Coverage
	case e.CodeCoverage != nil:
		cfg.Coverage = *e.CodeCoverage
	}

	if e.Timeout.Kind == yaml.ScalarNode && e.Timeout.Value != "" {
		minutes, err := strconv.Atoi(strings.TrimSpace(e.Timeout.Value))
		if err != nil {
			return cfg, fmt.Errorf("timeout %q is not a number of minutes", e.Timeout.Value)
		}
		cfg.TimeoutMin = minutes
	}

	return cfg, nil
}
