package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/prompt-testing/internal/engine"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// stubExecutor is a test double for Executor.
type stubExecutor struct {
	fail    map[string]error
	failing map[string]bool
	delay   time.Duration

	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubExecutor) Execute(_ context.Context, req engine.Request) (*testsuite.Execution, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls = append(s.calls, req.TestCase.ID)
	s.mu.Unlock()

	if err := s.fail[req.TestCase.ID]; err != nil {
		return nil, err
	}
	passed := !s.failing[req.TestCase.ID]
	score := 9
	if !passed {
		score = 3
	}
	return &testsuite.Execution{
		ID:         "exec-" + req.TestCase.ID,
		TestCaseID: req.TestCase.ID,
		Status:     testsuite.StatusCompleted,
		Results: []testsuite.StepResult{
			{StepOrder: 1, Evaluation: testsuite.Evaluation{Passed: passed, Score: score}},
		},
	}, nil
}

func requests(ids ...string) []engine.Request {
	reqs := make([]engine.Request, 0, len(ids))
	for _, id := range ids {
		reqs = append(reqs, engine.Request{TestCase: testsuite.TestCase{ID: id}})
	}
	return reqs
}

func fixedClock(r *Runner) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	r.now = func() time.Time { return ts }
}

func TestRunnerExecutesTestCases(t *testing.T) {
	exec := &stubExecutor{failing: map[string]bool{"tc-2": true}}
	r := NewRunner(exec)

	run, err := r.Run(context.Background(), "agent", requests("tc-1", "tc-2"))
	require.NoError(t, err)

	require.Len(t, run.Executions, 2)
	assert.Equal(t, "tc-1", run.Executions[0].TestCaseID)
	assert.Equal(t, "tc-2", run.Executions[1].TestCaseID)
	assert.Equal(t, 1, run.Failed())
	assert.Empty(t, run.Errors)
	assert.Empty(t, run.OutputPath)
	assert.Equal(t, []string{"tc-1", "tc-2"}, exec.calls)
}

func TestRunnerNoRequests(t *testing.T) {
	_, err := NewRunner(&stubExecutor{}).Run(context.Background(), "agent", nil)
	require.Error(t, err)
}

func TestRunnerContinuesAfterExecutorError(t *testing.T) {
	exec := &stubExecutor{fail: map[string]error{"tc-1": errors.New("db down")}}
	r := NewRunner(exec)

	run, err := r.Run(context.Background(), "agent", requests("tc-1", "tc-2"))
	require.NoError(t, err)

	assert.Nil(t, run.Executions[0])
	require.NotNil(t, run.Executions[1])
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0].Error(), "tc-1")
	assert.Contains(t, run.Errors[0].Error(), "db down")
	assert.Equal(t, 1, run.Failed())
	assert.Len(t, run.Completed(), 1)
}

func TestRunnerRespectsParallelLimit(t *testing.T) {
	exec := &stubExecutor{delay: 20 * time.Millisecond}
	r := NewRunner(exec, WithParallel(2))

	run, err := r.Run(context.Background(), "agent", requests("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	assert.Len(t, run.Completed(), 5)
	assert.LessOrEqual(t, exec.peak.Load(), int32(2))
}

func TestRunnerParallelBelowOne(t *testing.T) {
	r := NewRunner(&stubExecutor{}, WithParallel(0))
	assert.Equal(t, 1, r.parallel)
}

func TestRunnerProgressCallback(t *testing.T) {
	var done []int
	r := NewRunner(&stubExecutor{}, WithProgress(func(exec *testsuite.Execution, n, total int) {
		assert.Equal(t, 3, total)
		done = append(done, n)
	}))

	_, err := r.Run(context.Background(), "agent", requests("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, done)
}

func TestRunnerContextCancellation(t *testing.T) {
	exec := &stubExecutor{}
	r := NewRunner(exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := r.Run(ctx, "agent", requests("a", "b"))
	require.NoError(t, err)
	assert.Empty(t, exec.calls)
	assert.Len(t, run.Errors, 2)
	assert.Equal(t, 2, run.Failed())
}

func TestRunnerWritesResults(t *testing.T) {
	tmpDir := t.TempDir()
	exec := &stubExecutor{fail: map[string]error{"broken": errors.New("boom")}}
	r := NewRunner(exec, WithOutputDir(tmpDir))
	fixedClock(r)

	run, err := r.Run(context.Background(), "my prompt", requests("tc/1", "broken"))
	require.NoError(t, err)

	assert.Equal(t, "my_prompt_20260301-123000", run.ID)
	assert.Equal(t, filepath.Join(tmpDir, run.ID), run.OutputPath)

	data, err := os.ReadFile(filepath.Join(run.OutputPath, "tc_1.json"))
	require.NoError(t, err)
	var stored testsuite.Execution
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, "exec-tc/1", stored.ID)

	data, err = os.ReadFile(filepath.Join(run.OutputPath, "resultset.json"))
	require.NoError(t, err)
	var metadata struct {
		Prompt    string `json:"prompt"`
		Failed    int    `json:"failed"`
		TestCases []struct {
			TestCase    string `json:"test_case"`
			Passed      bool   `json:"passed"`
			ResultsFile string `json:"results_file"`
		} `json:"test_cases"`
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(data, &metadata))
	assert.Equal(t, "my prompt", metadata.Prompt)
	assert.Equal(t, 1, metadata.Failed)
	require.Len(t, metadata.TestCases, 1)
	assert.Equal(t, "tc/1", metadata.TestCases[0].TestCase)
	assert.True(t, metadata.TestCases[0].Passed)
	assert.Equal(t, "tc_1.json", metadata.TestCases[0].ResultsFile)
	require.Len(t, metadata.Errors, 1)
	assert.Contains(t, metadata.Errors[0], "boom")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "openai_gpt-4o_mini", sanitizeFilename("openai/gpt-4o mini"))
	assert.Equal(t, "a_b_c_d", sanitizeFilename("a:b*c?d"))
}
