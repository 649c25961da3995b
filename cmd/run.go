package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/prompt-testing/internal/engine"
	"github.com/giantswarm/prompt-testing/internal/report"
	"github.com/giantswarm/prompt-testing/internal/runner"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

func newRunCmd() *cobra.Command {
	var (
		testCases  []string
		model      string
		judgeModel string
		parallel   int
		full       bool
		timeout    time.Duration
		outputDir  string
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run the test cases of a prompt",
		Long: `Execute test cases of a prompt against the simulation model and judge every
step. Without --test-case all test cases of the prompt are run.

The command exits non-zero when any test case fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			promptName := args[0]
			suite, err := testsuite.Load(promptName, settings.SuitesDir)
			if err != nil {
				return fmt.Errorf("failed to load prompt: %w", err)
			}
			ids := testCases
			if len(ids) == 0 {
				for _, tc := range suite.TestCases {
					ids = append(ids, tc.ID)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("prompt %q has no test cases", promptName)
			}

			defer setupTracing(ctx, settings)()
			sc, cleanup, err := newServerContext(ctx, settings)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Printf("Prompt: %s\n", promptName)
			if suite.Prompt.Description != "" {
				fmt.Printf("Description: %s\n", suite.Prompt.Description)
			}
			fmt.Printf("Test cases: %d (parallel: %d)\n\n", len(ids), parallel)

			reqs := make([]engine.Request, 0, len(ids))
			for _, id := range ids {
				req, err := sc.NewRequest(promptName, id, model, judgeModel)
				if err != nil {
					return err
				}
				reqs = append(reqs, req)
			}

			r := runner.NewRunner(sc.Engine,
				runner.WithParallel(parallel),
				runner.WithOutputDir(outputDir),
				runner.WithProgress(func(exec *testsuite.Execution, done, total int) {
					slog.Info("test case finished", "test_case", exec.TestCaseID, "passed", exec.Passed(), "done", done, "total", total)
				}),
			)
			run, err := r.Run(ctx, promptName, reqs)
			if err != nil {
				return err
			}

			executions := run.Completed()
			for _, exec := range executions {
				report.Execution(os.Stdout, exec, full)
				fmt.Println()
			}
			for _, err := range run.Errors {
				fmt.Printf("ERROR %v\n", err)
			}
			report.Totals(os.Stdout, executions)
			if run.OutputPath != "" {
				fmt.Printf("Results written to %s\n", run.OutputPath)
			}

			if failed := run.Failed(); failed > 0 {
				return fmt.Errorf("%d of %d test cases failed", failed, len(reqs))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&testCases, "test-case", nil, "Test case id to run (repeatable; default: all)")
	cmd.Flags().StringVar(&model, "model", "", "Simulation model (overrides config)")
	cmd.Flags().StringVar(&judgeModel, "judge-model", "", "Judge model (overrides config)")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "Number of test cases to run concurrently")
	cmd.Flags().BoolVar(&full, "full", false, "Print full responses and tool results")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Write every execution as JSON below this directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall timeout for the run (e.g. 30m). 0 means no timeout")

	return cmd
}
