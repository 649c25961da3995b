package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/prompt-testing/internal/engine"
	"github.com/giantswarm/prompt-testing/internal/mock"
	"github.com/giantswarm/prompt-testing/internal/observability"
	"github.com/giantswarm/prompt-testing/internal/store"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// ModelLister lists the model ids offered by the chat API.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ServerContext holds shared dependencies for the MCP tools and REST handlers.
type ServerContext struct {
	Engine    *engine.Engine
	Store     store.Store
	Models    ModelLister
	Metrics   *observability.Metrics
	SuitesDir string // external test suites directory (optional)
}

// ErrInvalidRequest marks caller mistakes such as malformed names.
var ErrInvalidRequest = errors.New("invalid request")

// PromptInfo summarises a suite for listings.
type PromptInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	TestCases   []string `json:"testCases"`
	Tools       []string `json:"mockedTools"`
}

// ListPrompts describes every suite that loads cleanly. Broken suites are
// reported through errs without hiding the others.
func (sc *ServerContext) ListPrompts() (prompts []PromptInfo, errs []error, err error) {
	names, err := testsuite.List(sc.SuitesDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list prompts: %w", err)
	}

	prompts = []PromptInfo{}
	for _, name := range names {
		suite, err := testsuite.Load(name, sc.SuitesDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mocks, err := mocksFor(suite)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		info := PromptInfo{
			Name:        name,
			Description: suite.Prompt.Description,
			TestCases:   make([]string, 0, len(suite.TestCases)),
			Tools:       mocks.Names(),
		}
		for _, tc := range suite.TestCases {
			info.TestCases = append(info.TestCases, tc.ID)
		}
		prompts = append(prompts, info)
	}
	return prompts, errs, nil
}

// NewRequest loads a prompt suite and one of its test cases, together with
// the suite's mocks, into an engine request.
func (sc *ServerContext) NewRequest(promptName, testCaseID, model, judgeModel string) (engine.Request, error) {
	if err := ValidateName("prompt", promptName); err != nil {
		return engine.Request{}, err
	}
	if err := ValidateName("test case", testCaseID); err != nil {
		return engine.Request{}, err
	}

	suite, err := testsuite.Load(promptName, sc.SuitesDir)
	if err != nil {
		return engine.Request{}, err
	}
	tc, err := suite.TestCase(testCaseID)
	if err != nil {
		return engine.Request{}, err
	}
	mocks, err := mocksFor(suite)
	if err != nil {
		return engine.Request{}, err
	}

	return engine.Request{
		Prompt:     suite.Prompt,
		TestCase:   *tc,
		Mocks:      mocks,
		Model:      model,
		JudgeModel: judgeModel,
	}, nil
}

func mocksFor(suite *testsuite.Suite) (mock.Map, error) {
	if len(suite.Mocks) == 0 {
		return mock.Map{}, nil
	}
	m, err := mock.Parse(suite.Mocks)
	if err != nil {
		return nil, fmt.Errorf("suite %q: %w", suite.Prompt.Name, err)
	}
	return m, nil
}

// IsNotFound reports whether err means a missing suite, test case or
// execution.
func IsNotFound(err error) bool {
	var nf *store.ErrNotFound
	return errors.Is(err, testsuite.ErrSuiteNotFound) ||
		errors.Is(err, testsuite.ErrTestCaseNotFound) ||
		errors.As(err, &nf)
}
