// Package engine runs test cases: for every step it renders the prompt,
// drives a bounded tool-call loop against the simulation model, asks the
// judge for a verdict and carries conversation state to the next step.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/prompt-testing/internal/judge"
	"github.com/giantswarm/prompt-testing/internal/llm"
	"github.com/giantswarm/prompt-testing/internal/observability"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// DefaultMaxTurns bounds the model calls made for a single step.
const DefaultMaxTurns = 5

// MockFunc is a stand-in implementation of a tool.
type MockFunc func(ctx context.Context, args any) (string, error)

// MockRegistry resolves tool names to mocks. It is read-only during a run
// and may be shared between concurrent runs.
type MockRegistry interface {
	Lookup(name string) (MockFunc, bool)
}

// ResultSink receives execution state. Implementations must accept
// concurrent calls for different execution ids.
type ResultSink interface {
	CreateExecution(ctx context.Context, exec *testsuite.Execution) error
	AppendStepResult(ctx context.Context, executionID string, result testsuite.StepResult) error
	CompleteExecution(ctx context.Context, executionID string, status testsuite.Status, errorMessage string, completedAt time.Time) error
}

// Evaluator scores a step response. *judge.Judge implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, in judge.Input, judgeModel string) testsuite.Evaluation
}

// Request describes one execution.
type Request struct {
	Prompt   testsuite.Prompt
	TestCase testsuite.TestCase
	// Mocks may be nil, in which case every tool call resolves to the
	// not-found message.
	Mocks MockRegistry
	// Model and JudgeModel fall back to the engine defaults when empty.
	Model      string
	JudgeModel string
}

// Engine executes test cases.
type Engine struct {
	client     llm.Client
	judge      Evaluator
	sink       ResultSink
	model      string
	judgeModel string
	maxTurns   int
	metrics    *observability.Metrics
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string

	mu      sync.Mutex
	running map[string]chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultModels sets the models used when a Request leaves them empty.
func WithDefaultModels(model, judgeModel string) Option {
	return func(e *Engine) {
		e.model = model
		e.judgeModel = judgeModel
	}
}

// WithMaxTurns overrides the per-step model call limit.
func WithMaxTurns(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// WithMetrics records execution metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator replaces the random execution id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// New creates an Engine.
func New(client llm.Client, evaluator Evaluator, sink ResultSink, opts ...Option) *Engine {
	e := &Engine{
		client:     client,
		judge:      evaluator,
		sink:       sink,
		model:      llm.DefaultModel,
		judgeModel: llm.DefaultModel,
		maxTurns:   DefaultMaxTurns,
		tracer:     observability.Tracer(),
		now:        time.Now,
		newID:      uuid.NewString,
		running:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the request to completion and returns the final execution.
// The error is non-nil only when the execution could not be registered with
// the sink; step failures are reported through the FAILED status.
func (e *Engine) Execute(ctx context.Context, req Request) (*testsuite.Execution, error) {
	exec, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}
	e.run(ctx, exec, req)
	return exec, nil
}

// Start registers the execution and runs it in the background, returning
// its id. ctx must outlive the caller's request; cancelling it fails the run
// at the next step or turn boundary.
func (e *Engine) Start(ctx context.Context, req Request) (string, error) {
	exec, err := e.create(ctx, req)
	if err != nil {
		return "", err
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.running[exec.ID] = done
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.running, exec.ID)
			e.mu.Unlock()
			close(done)
		}()
		e.run(ctx, exec, req)
	}()

	return exec.ID, nil
}

// Wait blocks until the background execution with the given id finishes.
// It returns immediately for unknown or already finished executions.
func (e *Engine) Wait(id string) {
	e.mu.Lock()
	done, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		<-done
	}
}

// WaitAll blocks until every background execution finished.
func (e *Engine) WaitAll() {
	e.wg.Wait()
}

func (e *Engine) create(ctx context.Context, req Request) (*testsuite.Execution, error) {
	model := req.Model
	if model == "" {
		model = e.model
	}
	judgeModel := req.JudgeModel
	if judgeModel == "" {
		judgeModel = e.judgeModel
	}

	exec := &testsuite.Execution{
		ID:           e.newID(),
		PromptName:   req.Prompt.Name,
		TestCaseID:   req.TestCase.ID,
		TestCaseName: req.TestCase.Name,
		Model:        model,
		JudgeModel:   judgeModel,
		Status:       testsuite.StatusRunning,
		StartedAt:    e.now(),
		Results:      []testsuite.StepResult{},
	}
	if err := e.sink.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return exec, nil
}

func (e *Engine) run(ctx context.Context, exec *testsuite.Execution, req Request) {
	ctx, span := e.tracer.Start(ctx, "execution", trace.WithAttributes(
		attribute.String("execution.id", exec.ID),
		attribute.String("prompt", exec.PromptName),
		attribute.String("test_case", exec.TestCaseID),
		attribute.String("model", exec.Model),
		attribute.String("judge_model", exec.JudgeModel),
	))
	defer span.End()

	e.metrics.ExecutionStarted()
	slog.Info("starting execution",
		"execution_id", exec.ID,
		"test_case", exec.TestCaseID,
		"model", exec.Model,
		"judge_model", exec.JudgeModel,
		"steps", len(req.TestCase.Steps),
	)

	status := testsuite.StatusCompleted
	var errorMessage string
	if err := e.runSteps(ctx, exec, req); err != nil {
		status = testsuite.StatusFailed
		errorMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, errorMessage)
		slog.Error("execution failed",
			"execution_id", exec.ID,
			"completed_steps", len(exec.Results),
			"error", err,
		)
	} else {
		slog.Info("execution completed", "execution_id", exec.ID, "steps", len(exec.Results))
	}

	completedAt := e.now()
	// The final status is recorded even when ctx was cancelled.
	if err := e.sink.CompleteExecution(context.WithoutCancel(ctx), exec.ID, status, errorMessage, completedAt); err != nil {
		slog.Error("failed to record execution status", "execution_id", exec.ID, "status", status, "error", err)
	}

	exec.Status = status
	exec.ErrorMessage = errorMessage
	exec.CompletedAt = &completedAt
	e.metrics.ExecutionFinished(string(status))
}

// runSteps executes the steps in order and stops at the first error.
// Panics escaping a mock or a collaborator fail the run.
func (e *Engine) runSteps(ctx context.Context, exec *testsuite.Execution, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()

	conv := newConversation(req.TestCase)
	conversationID := "execution-" + exec.ID

	for i, step := range req.TestCase.Steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execution cancelled before step %d: %w", i, err)
		}

		result, err := e.runStep(ctx, stepRun{
			exec:           exec,
			order:          i,
			step:           step,
			prompt:         req.Prompt.Content,
			conversationID: conversationID,
			mocks:          req.Mocks,
			conv:           conv,
		})
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}

		if err := e.sink.AppendStepResult(ctx, exec.ID, result); err != nil {
			return fmt.Errorf("failed to record step %d: %w", i, err)
		}
		exec.Results = append(exec.Results, result)

		conv.advance(step.RawMessage(), result.ActualResponse)
	}

	return nil
}
