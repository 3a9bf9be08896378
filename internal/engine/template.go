package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Context — контекст для рендеринга командных шаблонов stages.
//
// Используется в Go templates:
//   - {{ .GitRef }}, {{ .RunID }}, {{ .Category }}
//   - {{ .Test.Python }}, {{ minor .Test.Python }}
//   - {{ .Paths.wheel }}, {{ .Paths.venv }}
type Context struct {
	RunID    string `json:"run_id"`
	RunName  string `json:"run_name"`
	Category string `json:"category"`
	GitRef   string `json:"git_ref"`

	// Test — конфигурация test stage, nil для остальных.
	Test *domain.TestConfig `json:"test,omitempty"`

	// Paths — рабочие пути stage: source, dist, venv, wheel, report, coverage.
	Paths map[string]string `json:"paths"`

	// Env — дополнительные переменные окружения команды.
	Env map[string]string `json:"env"`
}

// NewContext создаёт контекст из параметров stage.
func NewContext(in domain.StageInput) *Context {
	return &Context{
		RunID:    in.RunID.String(),
		RunName:  in.RunName,
		Category: string(in.Category),
		GitRef:   in.GitRef,
		Test:     in.Test,
		Paths:    make(map[string]string),
		Env:      make(map[string]string),
	}
}

// SetPath задаёт рабочий путь.
func (c *Context) SetPath(name, value string) {
	c.Paths[name] = value
}

// SetEnv устанавливает переменную окружения.
func (c *Context) SetEnv(key, value string) {
	c.Env[key] = value
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если второй аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// minor — "3.11.4" → "3.11"
	"minor": func(version string) string {
		return domain.TestConfig{Python: version}.MinorVersion()
	},

	"join":     func(sep string, items []string) string { return strings.Join(items, sep) },
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"trim":     strings.TrimSpace,
	"replace":  strings.ReplaceAll,
	"contains": strings.Contains,
}

// Render рендерит строковый шаблон с контекстом.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderArgs рендерит argv команды. Аргументы, которые после рендеринга
// стали пустыми (например "{{ if .Test.Coverage }}--cov{{ end }}"), отбрасываются.
func RenderArgs(args []string, ctx *Context) ([]string, error) {
	result := make([]string, 0, len(args))
	for i, arg := range args {
		rendered, err := Render(arg, ctx)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		if rendered == "" {
			continue
		}
		result = append(result, rendered)
	}
	return result, nil
}

// MustRender рендерит шаблон и паникует при ошибке.
// Используется только для тестов и статических шаблонов по умолчанию.
func MustRender(tmpl string, ctx *Context) string {
	result, err := Render(tmpl, ctx)
	if err != nil {
		panic(err)
	}
	return result
}
