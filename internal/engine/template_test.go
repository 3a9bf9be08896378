package engine

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

func newTestContext(cfg *domain.TestConfig) *Context {
	ctx := NewContext(domain.StageInput{
		RunID:    uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		RunName:  "nightly-main-11111111",
		Category: domain.CategoryNightly,
		GitRef:   "main",
		Test:     cfg,
	})
	ctx.SetPath("wheel", "/tmp/w/pkg-1.0-py3-none-any.whl")
	ctx.SetPath("venv", "/tmp/w/venv")
	ctx.SetPath("report", "")
	return ctx
}

func TestRender(t *testing.T) {
	ctx := newTestContext(&domain.TestConfig{Python: "3.11.4", Runner: "ubuntu-24.04", TimeoutMin: 40, Coverage: true})

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain", "python", "python"},
		{"git ref", "git checkout {{ .GitRef }}", "git checkout main"},
		{"minor version", "python{{ minor .Test.Python }}", "python3.11"},
		{"path", "{{ .Paths.venv }}/bin/pip", "/tmp/w/venv/bin/pip"},
		{"category lower", "{{ lower .Category }}", "nightly"},
		{"default", `{{ default "none" .Paths.report }}`, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRender_MissingKey(t *testing.T) {
	ctx := newTestContext(nil)

	for _, tmpl := range []string{"{{ .Nope }}", "{{ .Paths.coverage }}"} {
		if _, err := Render(tmpl, ctx); !errors.Is(err, ErrTemplateRender) {
			t.Errorf("%s: expected ErrTemplateRender, got %v", tmpl, err)
		}
	}
}

func TestRender_InvalidTemplate(t *testing.T) {
	ctx := newTestContext(nil)

	if _, err := Render("{{ .GitRef", ctx); !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
}

func TestRenderArgs_DropsEmpty(t *testing.T) {
	args := []string{
		"{{ .Paths.venv }}/bin/python", "-m", "pytest", "tests",
		"{{ if .Test.Coverage }}--cov{{ end }}",
	}

	withCov, err := RenderArgs(args, newTestContext(&domain.TestConfig{Python: "3.11", Coverage: true}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"/tmp/w/venv/bin/python", "-m", "pytest", "tests", "--cov"}
	if diff := cmp.Diff(want, withCov); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	noCov, err := RenderArgs(args, newTestContext(&domain.TestConfig{Python: "3.11"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(want[:4], noCov); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestMustRender(t *testing.T) {
	ctx := newTestContext(nil)
	if got := MustRender("{{ .RunName }}", ctx); got != "nightly-main-11111111" {
		t.Errorf("unexpected %q", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on invalid template")
		}
	}()
	MustRender("{{ .GitRef", ctx)
}
