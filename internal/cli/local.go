package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/artifact"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/dispatch"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/pipeline"
	"github.com/shaiso/Conveyor/internal/report"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

// localOptions — флаги `run local`.
type localOptions struct {
	category   string
	gitRef     string
	push       bool
	matrixFile string
	source     string
	workDir    string
}

// newRunLocalCmd выполняет run в текущем процессе, без API и брокера.
// Хранилище артефактов и сервис отчётов берутся из окружения (ARTIFACT_*, REPORT_*).
func newRunLocalCmd(outputFn func() *Output) *cobra.Command {
	var opts localOptions

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run the whole pipeline in-process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd.Context(), opts, outputFn())
		},
	}

	cmd.Flags().StringVar(&opts.category, "category", "", "Run category: NIGHTLY (default) or RELEASE")
	cmd.Flags().StringVar(&opts.gitRef, "git-ref", "", "Git ref to build (default: main)")
	cmd.Flags().BoolVar(&opts.push, "push", false, "Publish the artifact to the package index")
	cmd.Flags().StringVar(&opts.matrixFile, "matrix", "", "Test matrix file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.source, "source", "", "Package repository path or URL (default: $SOURCE_DIR)")
	cmd.Flags().StringVar(&opts.workDir, "work-dir", "", "Directory for stage workspaces (default: system temp)")

	return cmd
}

func runLocal(ctx context.Context, opts localOptions, out *Output) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(out.errW, telemetry.LogLevel(), "text")

	trigger := dispatch.Trigger{
		Kind:        domain.TriggerManual,
		Category:    domain.Category(opts.category),
		GitRef:      opts.gitRef,
		PushToIndex: opts.push,
	}
	if opts.matrixFile != "" {
		data, err := os.ReadFile(opts.matrixFile)
		if err != nil {
			return fmt.Errorf("read matrix: %w", err)
		}
		if trigger.TestConfigs, err = engine.ParseMatrix(data); err != nil {
			return fmt.Errorf("%s: %w", opts.matrixFile, err)
		}
	}

	trigger, err = dispatch.Normalize(trigger)
	if err != nil {
		return err
	}
	run := domain.NewRun(trigger.Category, trigger.Kind, trigger.GitRef, trigger.PushToIndex, trigger.TestConfigs)

	store, err := artifact.New(ctx, cfg.Artifact)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	execCfg := worker.ExecutorConfig{
		Store:           store,
		SourceRepo:      cfg.SourceDir,
		IndexRepository: cfg.IndexRepositoryURL,
		WorkRoot:        opts.workDir,
		ReportOptions:   cfg.ReportOptions(),
		Logger:          logger,
	}
	if opts.source != "" {
		execCfg.SourceRepo = opts.source
	}
	if cfg.ReportingEnabled() {
		client, err := report.NewClient(cfg.ReportClient())
		if err != nil {
			return fmt.Errorf("report client: %w", err)
		}
		execCfg.Reports = client
	}

	runner := pipeline.New(pipeline.Config{
		Registry:    worker.NewDefaultRegistry(execCfg),
		Concurrency: cfg.WorkerConcurrency,
		Recorder: pipeline.RecorderFunc(func(_ context.Context, s domain.Stage) {
			if s.Status.IsTerminal() {
				out.Success(fmt.Sprintf("%-10s %s", s.NodeID, s.Status))
			}
		}),
		Logger: logger,
	})

	out.Success(fmt.Sprintf("Running %s (%d test configurations)", run.Name(), len(run.TestConfigs)))

	summary, err := runner.Run(ctx, run)
	if err != nil {
		return err
	}

	printSummary(out, summary)

	if summary.Status != domain.RunStatusSucceeded {
		return fmt.Errorf("run %s failed: %s", summary.Name, summary.Error)
	}
	return nil
}

func printSummary(out *Output, summary *pipeline.Summary) {
	headers := []string{"NODE", "KIND", "PYTHON", "STATUS", "DURATION", "ERROR"}
	rows := make([][]string, len(summary.Stages))
	for i, s := range summary.Stages {
		python := ""
		if s.Input.Test != nil {
			python = s.Input.Test.Python
		}
		rows[i] = []string{
			s.NodeID, string(s.Kind), dash(python), string(s.Status),
			s.Duration().Round(time.Millisecond).String(), dash(s.Error),
		}
	}
	out.Print(headers, rows, summary)
}
