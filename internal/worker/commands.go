package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Commands — шаблоны argv внешних инструментов.
//
// Шаблоны рендерятся engine.RenderArgs с контекстом stage; аргументы,
// ставшие пустыми, отбрасываются. Доступные пути (.Paths):
// repo, source, dist, wheel, venv, python, tests, report, coverage, repository.
type Commands struct {
	Checkout [][]string
	Build    []string
	Venv     []string
	Install  []string
	Test     []string
	Upload   []string
}

// DefaultCommands возвращает команды для git, python -m build, venv, pytest и twine.
func DefaultCommands() Commands {
	return Commands{
		Checkout: [][]string{
			{"git", "clone", "--quiet", "{{ .Paths.repo }}", "{{ .Paths.source }}"},
			{"git", "-C", "{{ .Paths.source }}", "checkout", "--quiet", "{{ .GitRef }}"},
		},
		Build: []string{
			"python3", "-m", "build", "--wheel", "--outdir", "{{ .Paths.dist }}", "{{ .Paths.source }}",
		},
		Venv: []string{
			"python{{ minor .Test.Python }}", "-m", "venv", "{{ .Paths.venv }}",
		},
		Install: []string{
			"{{ .Paths.python }}", "-m", "pip", "install", "--quiet",
			"{{ .Paths.wheel }}", "pytest", "{{ if .Test.Coverage }}pytest-cov{{ end }}",
		},
		Test: []string{
			"{{ .Paths.python }}", "-m", "pytest", "{{ .Paths.tests }}",
			"--junitxml={{ .Paths.report }}",
			"{{ if .Test.Coverage }}--cov{{ end }}",
			"{{ if .Test.Coverage }}--cov-report=xml:{{ .Paths.coverage }}{{ end }}",
		},
		Upload: []string{
			"python3", "-m", "twine", "upload", "--non-interactive",
			"{{ with .Paths.repository }}--repository-url={{ . }}{{ end }}",
			"{{ .Paths.wheel }}",
		},
	}
}

// renderCommand превращает шаблон argv в Command.
func renderCommand(tmpl []string, tctx *engine.Context, dir string) (Command, error) {
	if len(tmpl) == 0 {
		return Command{}, fmt.Errorf("%w: empty command template", ErrInvalidInput)
	}
	args, err := engine.RenderArgs(tmpl, tctx)
	if err != nil {
		return Command{}, err
	}
	if len(args) == 0 {
		return Command{}, fmt.Errorf("%w: command rendered empty", ErrInvalidInput)
	}

	cmd := Command{Name: args[0], Args: args[1:], Dir: dir}
	for k, v := range tctx.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd, nil
}

// step — результат одной команды внутри stage.
type step struct {
	res CommandResult
	log string
}

// runStep рендерит и запускает команду. Ненулевой код выхода возвращается
// как ошибка ErrCommandFailed вместе с выводом.
func runStep(ctx context.Context, runner CommandRunner, logger *slog.Logger, tmpl []string, tctx *engine.Context, dir string) (step, error) {
	cmd, err := renderCommand(tmpl, tctx, dir)
	if err != nil {
		return step{}, err
	}

	logger.Debug("running command", "cmd", cmd.String(), "dir", dir)

	res, err := runner.Run(ctx, cmd)
	st := step{res: res, log: res.Output}
	if err != nil {
		return st, err
	}
	if res.ExitCode != 0 {
		return st, fmt.Errorf("%w: %s exited with status %d", ErrCommandFailed, cmd.Name, res.ExitCode)
	}
	return st, nil
}

// checkout клонирует исходники и переключает их на ref run.
func checkout(ctx context.Context, runner CommandRunner, logger *slog.Logger, cmds Commands, tctx *engine.Context) (string, error) {
	var log string
	for _, tmpl := range cmds.Checkout {
		st, err := runStep(ctx, runner, logger, tmpl, tctx, "")
		log += st.log
		if err != nil {
			return log, fmt.Errorf("checkout %s: %w", tctx.GitRef, err)
		}
	}
	return log, nil
}

// newStageContext создаёт контекст шаблонов с путями, общими для всех stages.
func newStageContext(in domain.StageInput, repoURL, workDir string) *engine.Context {
	tctx := engine.NewContext(in)
	tctx.SetPath("repo", repoURL)
	tctx.SetPath("source", workDir+"/src")
	tctx.SetPath("dist", workDir+"/dist")
	return tctx
}
