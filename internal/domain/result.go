package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TestResult — итог одной тестовой конфигурации, который получает report stage.
type TestResult struct {
	NodeID      string      `json:"node_id"`
	Config      TestConfig  `json:"config"`
	Status      StageStatus `json:"status"`
	ExitCode    int         `json:"exit_code,omitempty"`
	ReportRef   string      `json:"report_ref,omitempty"`
	CoverageRef string      `json:"coverage_ref,omitempty"`
	Error       string      `json:"error,omitempty"`
	Duration    Duration    `json:"duration,omitempty"`
}

// Duration — time.Duration, который сериализуется в JSON строкой ("1m30s").
type Duration time.Duration

// MarshalJSON реализует json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON принимает строку ("90s") или число наносекунд.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

// Std возвращает значение как time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
