// Package store keeps execution records. Both implementations satisfy
// engine.ResultSink and are safe for concurrent use.
package store

import (
	"context"

	"github.com/giantswarm/prompt-testing/internal/engine"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// Store is a result sink that can also be queried.
type Store interface {
	engine.ResultSink

	// GetExecution returns the execution with its step results in order.
	GetExecution(ctx context.Context, id string) (*testsuite.Execution, error)

	// ListExecutions returns the executions of a test case, newest first.
	// An empty testCaseID lists every execution.
	ListExecutions(ctx context.Context, testCaseID string) ([]testsuite.Execution, error)

	Close() error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

func notFound(id string) error {
	return &ErrNotFound{Entity: "execution", Key: id}
}
