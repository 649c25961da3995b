package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/prompt-testing/internal/engine"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// Executor runs a single test case to completion.
type Executor interface {
	Execute(ctx context.Context, req engine.Request) (*testsuite.Execution, error)
}

// ProgressFunc is called after each test case finishes.
type ProgressFunc func(exec *testsuite.Execution, done, total int)

// Runner executes the test cases of one prompt as a batch.
type Runner struct {
	executor  Executor
	parallel  int
	outputDir string
	progress  ProgressFunc
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithParallel sets how many test cases run at once. Values below 1 mean 1.
func WithParallel(n int) Option {
	return func(r *Runner) {
		r.parallel = max(n, 1)
	}
}

// WithOutputDir makes Run write every execution as JSON below dir.
func WithOutputDir(dir string) Option {
	return func(r *Runner) {
		r.outputDir = dir
	}
}

// WithProgress sets the progress callback. Calls are serialised.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// NewRunner creates a batch runner on top of an executor.
func NewRunner(executor Executor, opts ...Option) *Runner {
	r := &Runner{
		executor: executor,
		parallel: 1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run is the outcome of one batch.
type Run struct {
	ID        string        `json:"id"`
	Prompt    string        `json:"prompt"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"-"`
	// OutputPath is empty unless an output directory was configured.
	OutputPath string `json:"-"`
	// Executions keeps request order; entries whose execution could not
	// be started are nil and have a matching entry in Errors.
	Executions []*testsuite.Execution `json:"-"`
	Errors     []error                `json:"-"`
}

// Failed counts test cases that did not pass, including those that
// never started.
func (r *Run) Failed() int {
	failed := 0
	for _, exec := range r.Executions {
		if exec == nil || !exec.Passed() {
			failed++
		}
	}
	return failed
}

// Completed returns the executions that were started, in request order.
func (r *Run) Completed() []*testsuite.Execution {
	out := make([]*testsuite.Execution, 0, len(r.Executions))
	for _, exec := range r.Executions {
		if exec != nil {
			out = append(out, exec)
		}
	}
	return out
}

// Run executes reqs and, when configured, writes the results. A test case
// that cannot be started is logged and recorded in Run.Errors; the rest
// of the batch continues.
func (r *Runner) Run(ctx context.Context, promptName string, reqs []engine.Request) (*Run, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("no test cases to run for prompt %q", promptName)
	}

	timestamp := r.now()
	run := &Run{
		ID:         fmt.Sprintf("%s_%s", sanitizeFilename(promptName), timestamp.Format("20060102-150405")),
		Prompt:     promptName,
		Timestamp:  timestamp,
		Executions: make([]*testsuite.Execution, len(reqs)),
	}

	var (
		mu   sync.Mutex
		done int
	)
	g := new(errgroup.Group)
	g.SetLimit(r.parallel)
	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				slog.Warn("test run cancelled", "test_case", req.TestCase.ID)
				mu.Lock()
				run.Errors = append(run.Errors, fmt.Errorf("test case %s: %w", req.TestCase.ID, err))
				mu.Unlock()
				return nil
			}

			exec, err := r.executor.Execute(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				slog.Error("test case execution failed", "test_case", req.TestCase.ID, "error", err)
				run.Errors = append(run.Errors, fmt.Errorf("test case %s: %w", req.TestCase.ID, err))
				return nil
			}
			run.Executions[i] = exec
			if r.progress != nil {
				r.progress(exec, done, len(reqs))
			}
			return nil
		})
	}
	_ = g.Wait()
	run.Duration = r.now().Sub(timestamp)

	if r.outputDir != "" {
		if err := r.write(run); err != nil {
			return run, err
		}
	}

	slog.Info("test run complete",
		"prompt", promptName,
		"test_cases", len(reqs),
		"failed", run.Failed(),
		"duration", run.Duration,
	)
	return run, nil
}

func (r *Runner) write(run *Run) error {
	outputPath := filepath.Join(r.outputDir, run.ID)
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	run.OutputPath = outputPath

	files := make([]map[string]any, 0, len(run.Executions))
	for _, exec := range run.Completed() {
		name := sanitizeFilename(exec.TestCaseID) + ".json"
		if err := writeJSON(filepath.Join(outputPath, name), exec); err != nil {
			return fmt.Errorf("failed to write results for test case %s: %w", exec.TestCaseID, err)
		}
		files = append(files, map[string]any{
			"test_case":    exec.TestCaseID,
			"execution_id": exec.ID,
			"status":       exec.Status,
			"passed":       exec.Passed(),
			"results_file": name,
		})
	}

	errs := make([]string, 0, len(run.Errors))
	for _, err := range run.Errors {
		errs = append(errs, err.Error())
	}

	metadata := map[string]any{
		"id":            run.ID,
		"prompt":        run.Prompt,
		"timestamp":     run.Timestamp,
		"full_duration": run.Duration.Seconds(),
		"failed":        run.Failed(),
		"test_cases":    files,
		"errors":        errs,
	}
	if err := writeJSON(filepath.Join(outputPath, "resultset.json"), metadata); err != nil {
		return fmt.Errorf("failed to write run metadata: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// sanitizeFilename replaces characters unsafe for filenames with underscores.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
