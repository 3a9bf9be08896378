package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Итоговые статусы документа.
const (
	StatusPassed = "PASSED"
	StatusFailed = "FAILED"
)

// Document — метаданные run для сервиса отчётов.
type Document struct {
	Host        string      `json:"host"`
	Project     string      `json:"project"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
	Attributes  []Attribute `json:"attributes"`
	Results     []Result    `json:"results"`
	Failures    []Failure   `json:"failures,omitempty"`
}

// Attribute — пара ключ/значение.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Result — итог одной тестовой конфигурации.
type Result struct {
	Config      string  `json:"config"`
	Python      string  `json:"python"`
	Runner      string  `json:"runner"`
	Coverage    bool    `json:"coverage"`
	Status      string  `json:"status"`
	ExitCode    int     `json:"exit_code"`
	ReportRef   string  `json:"report_ref,omitempty"`
	CoverageRef string  `json:"coverage_ref,omitempty"`
	Error       string  `json:"error,omitempty"`
	DurationSec float64 `json:"duration_sec"`
}

// Failure — запись о stage, который не дал результата.
type Failure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Options — параметры сервиса отчётов.
type Options struct {
	Host    string
	Project string

	// RunURLTemplate — шаблон ссылки на run, например
	// "https://ci.example.com/runs/{{ .RunID }}".
	RunURLTemplate string
}

// missingArtifact — значение атрибута artifact, когда build не дал артефакта.
const missingArtifact = "none"

// BuildDocument собирает документ из входа report stage.
//
// Отсутствие артефакта после неудачного build не является ошибкой:
// оно попадает в Failures, а документ получает статус FAILED.
func BuildDocument(in domain.StageInput, opts Options) (Document, error) {
	link, err := runURL(in, opts.RunURLTemplate)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		Host:    opts.Host,
		Project: opts.Project,
		Name:    in.RunName,
		Status:  StatusPassed,
		Results: make([]Result, 0, len(in.Results)),
	}

	doc.Description = fmt.Sprintf("%s run of %s", strings.ToLower(string(in.Category)), in.GitRef)
	if link != "" {
		doc.Description += ": " + link
	}

	if in.BuildStatus != domain.StageStatusSucceeded {
		doc.Status = StatusFailed
		msg := "build " + strings.ToLower(string(in.BuildStatus))
		if in.BuildError != "" {
			msg += ": " + in.BuildError
		}
		doc.Failures = append(doc.Failures, Failure{Stage: engine.NodeBuild, Message: msg})
	}
	if in.ArtifactID == "" {
		doc.Status = StatusFailed
		doc.Failures = append(doc.Failures, Failure{Stage: engine.NodeBuild, Message: "no artifact was produced"})
	}

	var passed, failed, skipped int
	for _, r := range in.Results {
		switch r.Status {
		case domain.StageStatusSucceeded:
			passed++
		case domain.StageStatusSkipped:
			skipped++
		default:
			failed++
		}
		if r.Status != domain.StageStatusSucceeded {
			doc.Status = StatusFailed
		}

		doc.Results = append(doc.Results, Result{
			Config:      r.Config.Key(),
			Python:      r.Config.Python,
			Runner:      r.Config.Runner,
			Coverage:    r.Config.Coverage,
			Status:      string(r.Status),
			ExitCode:    r.ExitCode,
			ReportRef:   r.ReportRef,
			CoverageRef: r.CoverageRef,
			Error:       r.Error,
			DurationSec: r.Duration.Std().Seconds(),
		})
	}

	artifact := in.ArtifactID
	if artifact == "" {
		artifact = missingArtifact
	}

	doc.Attributes = []Attribute{
		{Key: "run_id", Value: in.RunID.String()},
		{Key: "artifact", Value: artifact},
		{Key: "git_ref", Value: in.GitRef},
		{Key: "category", Value: string(in.Category)},
		{Key: "push_to_index", Value: strconv.FormatBool(in.PushToIndex)},
		{Key: "build_status", Value: string(in.BuildStatus)},
		{Key: "tests_passed", Value: strconv.Itoa(passed)},
		{Key: "tests_failed", Value: strconv.Itoa(failed)},
		{Key: "tests_skipped", Value: strconv.Itoa(skipped)},
	}
	if link != "" {
		doc.Attributes = append(doc.Attributes, Attribute{Key: "run_url", Value: link})
	}

	return doc, nil
}

func runURL(in domain.StageInput, tmpl string) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	link, err := engine.Render(tmpl, engine.NewContext(in))
	if err != nil {
		return "", fmt.Errorf("render run url: %w", err)
	}
	return link, nil
}
