package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/engine"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch and inspect pipeline runs",
	}

	cmd.AddCommand(
		newRunDispatchCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunStagesCmd(clientFn, outputFn),
		newRunLocalCmd(outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "NAME", "CATEGORY", "GIT_REF", "PUSH", "STATUS", "CREATED"}

func runRow(r RunResponse) []string {
	return []string{r.ID, r.Name, r.Category, r.GitRef, strconv.FormatBool(r.PushToIndex), r.Status, r.CreatedAt}
}

func newRunDispatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateRunRequest
	var matrixFile string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Start a pipeline run manually",
		Long: `Start a pipeline run manually.

NIGHTLY runs always use the built-in test matrix; other categories
need a matrix file (YAML or JSON) passed with --matrix.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if matrixFile != "" {
				configs, err := readMatrix(matrixFile)
				if err != nil {
					return err
				}
				req.TestConfigs = configs
			}

			run, err := client.DispatchRun(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run dispatched: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Category, "category", "", "Run category: NIGHTLY (default) or RELEASE")
	cmd.Flags().StringVar(&req.GitRef, "git-ref", "", "Git ref to build (default: main)")
	cmd.Flags().BoolVar(&req.PushToIndex, "push", false, "Publish the artifact to the package index")
	cmd.Flags().StringVar(&matrixFile, "matrix", "", "Test matrix file (YAML or JSON)")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "Return the existing run for a repeated key")

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Category, "category", "", "Filter by category (NIGHTLY, RELEASE)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "NAME", "STATUS", "ARTIFACT", "TESTS", "ERROR"},
				[][]string{{
					run.ID, run.Name, run.Status, dash(run.ArtifactID),
					strconv.Itoa(len(run.TestConfigs)), dash(run.Error),
				}},
				run,
			)
			return nil
		},
	}
}

func newRunStagesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stages RUN_ID",
		Short: "List stages of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stages, err := client.ListStages(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"NODE", "KIND", "PYTHON", "STATUS", "FINISHED", "ERROR"}
			rows := make([][]string, len(stages))
			for i, s := range stages {
				python := ""
				if s.Test != nil {
					python = s.Test.Python
				}
				rows[i] = []string{s.NodeID, s.Kind, dash(python), s.Status, dash(s.FinishedAt), dash(s.Error)}
			}

			out.Print(headers, rows, stages)
			return nil
		},
	}
}

// readMatrix читает файл тестовой матрицы.
func readMatrix(path string) ([]TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matrix: %w", err)
	}

	configs, err := engine.ParseMatrix(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]TestConfig, len(configs))
	for i, c := range configs {
		out[i] = TestConfig{Python: c.Python, Runner: c.Runner, TimeoutMin: c.TimeoutMin, Coverage: c.Coverage}
	}
	return out, nil
}
