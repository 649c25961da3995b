package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// RecordingSink is an in-memory result sink that can be told to fail.
type RecordingSink struct {
	// FailCreate, when set, is returned by CreateExecution.
	FailCreate error
	// FailAppendAt makes AppendStepResult fail for that step order when
	// FailAppend is set.
	FailAppendAt int
	FailAppend   error

	mu         sync.Mutex
	executions map[string]*testsuite.Execution
}

func (s *RecordingSink) CreateExecution(_ context.Context, exec *testsuite.Execution) error {
	if s.FailCreate != nil {
		return s.FailCreate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executions == nil {
		s.executions = make(map[string]*testsuite.Execution)
	}
	cp := *exec
	cp.Results = nil
	s.executions[exec.ID] = &cp
	return nil
}

func (s *RecordingSink) AppendStepResult(_ context.Context, executionID string, result testsuite.StepResult) error {
	if s.FailAppend != nil && result.StepOrder == s.FailAppendAt {
		return s.FailAppend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("unknown execution %s", executionID)
	}
	exec.Results = append(exec.Results, result)
	return nil
}

func (s *RecordingSink) CompleteExecution(_ context.Context, executionID string, status testsuite.Status, errorMessage string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("unknown execution %s", executionID)
	}
	exec.Status = status
	exec.ErrorMessage = errorMessage
	exec.CompletedAt = &completedAt
	return nil
}

// Execution returns a copy of the recorded execution.
func (s *RecordingSink) Execution(id string) (testsuite.Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return testsuite.Execution{}, false
	}
	cp := *exec
	cp.Results = append([]testsuite.StepResult(nil), exec.Results...)
	return cp, true
}
