package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// Memory is an in-process store. Records are lost on exit.
type Memory struct {
	mu         sync.RWMutex
	executions map[string]*testsuite.Execution
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{executions: make(map[string]*testsuite.Execution)}
}

func (m *Memory) CreateExecution(_ context.Context, exec *testsuite.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *exec
	cp.Results = []testsuite.StepResult{}
	m.executions[exec.ID] = &cp
	return nil
}

func (m *Memory) AppendStepResult(_ context.Context, executionID string, result testsuite.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[executionID]
	if !ok {
		return notFound(executionID)
	}
	exec.Results = append(exec.Results, result)
	return nil
}

func (m *Memory) CompleteExecution(_ context.Context, executionID string, status testsuite.Status, errorMessage string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[executionID]
	if !ok {
		return notFound(executionID)
	}
	exec.Status = status
	exec.ErrorMessage = errorMessage
	exec.CompletedAt = &completedAt
	return nil
}

func (m *Memory) GetExecution(_ context.Context, id string) (*testsuite.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := snapshot(exec)
	return &cp, nil
}

func (m *Memory) ListExecutions(_ context.Context, testCaseID string) ([]testsuite.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []testsuite.Execution{}
	for _, exec := range m.executions {
		if testCaseID == "" || exec.TestCaseID == testCaseID {
			result = append(result, snapshot(exec))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

func (m *Memory) Close() error {
	return nil
}

func snapshot(exec *testsuite.Execution) testsuite.Execution {
	cp := *exec
	cp.Results = slices.Clone(exec.Results)
	if cp.Results == nil {
		cp.Results = []testsuite.StepResult{}
	}
	if exec.CompletedAt != nil {
		t := *exec.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}
