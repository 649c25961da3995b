package testsuite

import (
	"time"

	"github.com/giantswarm/prompt-testing/internal/llm"
)

// Prompt is a versioned prompt template. Content may contain
// {{ $json.<path> }} placeholders.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
}

// Suite is a prompt together with its test cases.
type Suite struct {
	Prompt    Prompt
	TestCases []TestCase
	// Mocks holds the raw mocks.yaml contents, nil when the suite has none.
	Mocks []byte
}

// TestCase is an ordered script of conversation steps run against a prompt.
type TestCase struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name" validate:"required,max=255"`
	Description  string         `json:"description,omitempty" yaml:"description"`
	PromptName   string         `json:"promptName,omitempty" yaml:"promptName"`
	InitialState map[string]any `json:"initialContext,omitempty" yaml:"initialContext"`
	Memory       []llm.Message  `json:"memory,omitempty" yaml:"memory" validate:"dive"`
	Steps        []TestStep     `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// TestStep is one user turn and the behaviour expected in response.
type TestStep struct {
	UserInput string `json:"userInput,omitempty" yaml:"userInput"`
	// Message is an alias for UserInput.
	Message          string         `json:"message,omitempty" yaml:"message"`
	Input            map[string]any `json:"input,omitempty" yaml:"input"`
	ExpectedBehavior string         `json:"expectedBehavior" yaml:"expectedBehavior" validate:"required"`
}

// RawMessage returns the first non-empty of UserInput, Message and
// Input["last_message"], or "" when none is set.
func (s TestStep) RawMessage() string {
	if s.UserInput != "" {
		return s.UserInput
	}
	if s.Message != "" {
		return s.Message
	}
	if v, ok := s.Input["last_message"].(string); ok {
		return v
	}
	return ""
}

// ToolExecution records a single mocked tool call resolved during a step.
type ToolExecution struct {
	ToolName  string    `json:"toolName"`
	Arguments any       `json:"arguments"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Evaluation is the judge's verdict on a step.
type Evaluation struct {
	Passed   bool   `json:"passed"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// StepResult is the immutable record of one executed step.
type StepResult struct {
	StepOrder      int             `json:"stepOrder"`
	UserInput      string          `json:"userInput"`
	RenderedPrompt string          `json:"renderedPrompt"`
	ActualResponse string          `json:"actualResponse"`
	Evaluation     Evaluation      `json:"evaluation"`
	ToolExecutions []ToolExecution `json:"toolExecutions,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Execution is one run of a test case against a simulation and a judge model.
type Execution struct {
	ID           string       `json:"id"`
	PromptName   string       `json:"promptName"`
	TestCaseID   string       `json:"testCaseId"`
	TestCaseName string       `json:"testCaseName"`
	Model        string       `json:"model"`
	JudgeModel   string       `json:"judgeModel"`
	Status       Status       `json:"status"`
	StartedAt    time.Time    `json:"startedAt"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	Results      []StepResult `json:"results"`
}

// Passed reports whether the execution completed with every step passing.
func (e *Execution) Passed() bool {
	if e.Status != StatusCompleted {
		return false
	}
	for _, r := range e.Results {
		if !r.Evaluation.Passed {
			return false
		}
	}
	return true
}
