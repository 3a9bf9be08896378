package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"", CategoryNightly, false},
		{"nightly", CategoryNightly, false},
		{" RELEASE ", CategoryRelease, false},
		{"weekly", "", true},
	}

	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCategory(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestTestConfig_Validate(t *testing.T) {
	valid := TestConfig{Python: "3.11.4", Runner: "ubuntu-24.04", TimeoutMin: 40}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	invalid := TestConfig{Python: "three", Runner: " ", TimeoutMin: 0}
	err := invalid.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"python", "runner", "timeout"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s: %v", field, err)
		}
	}
}

func TestTestConfig_KeyAndVersion(t *testing.T) {
	cfg := TestConfig{Python: "3.12.6", Runner: "k8s a100/duo", TimeoutMin: 40, Coverage: true}

	if got := cfg.Key(); got != "py3.12.6-k8s_a100_duo-cov" {
		t.Errorf("unexpected key %q", got)
	}
	if got := cfg.MinorVersion(); got != "3.12" {
		t.Errorf("unexpected minor version %q", got)
	}
	if cfg.Timeout() != 40*time.Minute {
		t.Errorf("unexpected timeout %s", cfg.Timeout())
	}
}

func TestRun_Lifecycle(t *testing.T) {
	run := NewRun(CategoryNightly, TriggerSchedule, "release/1.2", false, []TestConfig{{Python: "3.11"}})

	if run.Status != RunStatusPending {
		t.Errorf("expected PENDING, got %s", run.Status)
	}
	if !strings.HasPrefix(run.Name(), "nightly-release-1.2-") {
		t.Errorf("unexpected run name %q", run.Name())
	}

	run.MarkRunning()
	if run.IsFinished() {
		t.Error("running run should not be finished")
	}
	run.MarkFailed("build failed")
	if !run.IsFinished() || run.Error != "build failed" {
		t.Errorf("unexpected state: %+v", run)
	}
	if run.Duration() < 0 {
		t.Error("duration should not be negative")
	}
}

func TestStage_Lifecycle(t *testing.T) {
	run := NewRun(CategoryNightly, TriggerManual, "main", false, nil)
	stage := NewStage(run.ID, "test.0", StageTest, StageInput{RunID: run.ID})

	if stage.Status != StageStatusQueued || stage.IsFinished() {
		t.Errorf("unexpected initial status %s", stage.Status)
	}

	stage.MarkRunning()
	stage.MarkFailed("exit status 1", &StageOutput{ExitCode: 1})
	if stage.Status != StageStatusFailed || stage.Output.ExitCode != 1 {
		t.Errorf("unexpected stage: %+v", stage)
	}

	skipped := NewStage(run.ID, "upload", StageUpload, StageInput{})
	skipped.MarkSkipped("dependency test.join was skipped")
	if !skipped.Status.IsTerminal() || skipped.Status.Passed() {
		t.Errorf("skipped stage should be terminal and not passed")
	}
}

func TestDuration_JSON(t *testing.T) {
	b, err := json.Marshal(Duration(90 * time.Second))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"1m30s"` {
		t.Errorf("unexpected JSON %s", b)
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"2m"`), &d); err != nil || d.Std() != 2*time.Minute {
		t.Errorf("unexpected %v, %v", d, err)
	}
	if err := json.Unmarshal([]byte(`1000000000`), &d); err != nil || d.Std() != time.Second {
		t.Errorf("unexpected %v, %v", d, err)
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("expected error for bool")
	}
}
