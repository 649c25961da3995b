package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/prompt-testing/internal/judge"
	"github.com/giantswarm/prompt-testing/internal/llm"
	"github.com/giantswarm/prompt-testing/internal/observability"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
	"github.com/giantswarm/prompt-testing/internal/testutil"
)

// stubJudge records its inputs and returns a fixed verdict.
type stubJudge struct {
	mu     sync.Mutex
	inputs []judge.Input
	models []string
	eval   testsuite.Evaluation
}

func (j *stubJudge) Evaluate(_ context.Context, in judge.Input, judgeModel string) testsuite.Evaluation {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inputs = append(j.inputs, in)
	j.models = append(j.models, judgeModel)
	return j.eval
}

type mapRegistry map[string]MockFunc

func (m mapRegistry) Lookup(name string) (MockFunc, bool) {
	fn, ok := m[name]
	return fn, ok
}

func passing() *stubJudge {
	return &stubJudge{eval: testsuite.Evaluation{Passed: true, Score: 9, Feedback: "good"}}
}

func newTestEngine(client llm.Client, j Evaluator, sink ResultSink, opts ...Option) *Engine {
	n := 0
	var mu sync.Mutex
	base := []Option{
		WithDefaultModels("sim/model", "judge/model"),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("exec-%d", n)
		}),
	}
	return New(client, j, sink, append(base, opts...)...)
}

func request(steps ...testsuite.TestStep) Request {
	return Request{
		Prompt: testsuite.Prompt{Name: "agent", Content: "Answer: {{ $json.last_message }}"},
		TestCase: testsuite.TestCase{
			ID:    "case",
			Name:  "Case",
			Steps: steps,
		},
	}
}

func step(msg string) testsuite.TestStep {
	return testsuite.TestStep{UserInput: msg, ExpectedBehavior: "responds"}
}

func TestExecuteFinalAnswerTakesOneTurn(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: `{"user_response":"hello"}`}
	sink := &testutil.RecordingSink{}
	e := newTestEngine(client, passing(), sink)

	exec, err := e.Execute(context.Background(), request(step("hi")))
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusCompleted, exec.Status)
	assert.Equal(t, 1, client.CallCount())
	require.Len(t, exec.Results, 1)
	assert.Empty(t, exec.Results[0].ToolExecutions)
	assert.Equal(t, `{"user_response":"hello"}`, exec.Results[0].ActualResponse)
	assert.Equal(t, "Answer: hi", exec.Results[0].RenderedPrompt)
}

func TestExecuteTurnCap(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: `{"tool":"search","args":{"q":"again"}}`}
	mocks := mapRegistry{"search": func(context.Context, any) (string, error) { return "more", nil }}

	req := request(step("loop"))
	req.Mocks = mocks

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusCompleted, exec.Status)
	assert.Equal(t, DefaultMaxTurns, client.CallCount())
	require.Len(t, exec.Results, 1)
	assert.Len(t, exec.Results[0].ToolExecutions, DefaultMaxTurns)
}

func TestExecuteTurnCapWithParallelCalls(t *testing.T) {
	client := &testutil.MockLLMClient{
		DefaultResponse: `{"tool_calls":[{"function":{"name":"a","arguments":"{}"}},{"function":{"name":"b","arguments":"{}"}}]}`,
	}

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}, WithMaxTurns(2)).
		Execute(context.Background(), request(step("loop")))
	require.NoError(t, err)

	assert.Equal(t, 2, client.CallCount())
	assert.Len(t, exec.Results[0].ToolExecutions, 4)
}

func TestExecuteToolRoundTrip(t *testing.T) {
	toolCall := `{"tool":"lookup","args":{"order":"1234"}}`
	client := &testutil.MockLLMClient{Script: []string{toolCall, `{"user_response":"shipped"}`}}

	var gotArgs any
	req := request(step("where is my order?"))
	req.Mocks = mapRegistry{"lookup": func(_ context.Context, args any) (string, error) {
		gotArgs = args
		return `{"status":"shipped"}`, nil
	}}

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"order": "1234"}, gotArgs)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sim/model", calls[1].Model)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "Answer: where is my order?"},
		{Role: llm.RoleAssistant, Content: toolCall},
		{Role: llm.RoleUser, Content: `Tool result for lookup: {"status":"shipped"}`},
	}, calls[1].Messages)

	result := exec.Results[0]
	assert.Equal(t, `{"user_response":"shipped"}`, result.ActualResponse)
	require.Len(t, result.ToolExecutions, 1)
	assert.Equal(t, "lookup", result.ToolExecutions[0].ToolName)
	assert.Equal(t, `{"status":"shipped"}`, result.ToolExecutions[0].Result)
	assert.False(t, result.ToolExecutions[0].Timestamp.IsZero())
}

func TestExecuteMissingMock(t *testing.T) {
	client := &testutil.MockLLMClient{Script: []string{`{"tool":"unknown","args":{}}`, "done"}}

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}).
		Execute(context.Background(), request(step("hi")))
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusCompleted, exec.Status)
	require.Len(t, exec.Results[0].ToolExecutions, 1)
	assert.Equal(t, `Error: Tool mock for "unknown" not found`, exec.Results[0].ToolExecutions[0].Result)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, `Tool result for unknown: Error: Tool mock for "unknown" not found`, calls[1].Messages[2].Content)
}

func TestExecuteMockErrorEndsLoop(t *testing.T) {
	toolCall := `{"tool":"flaky","args":{}}`
	client := &testutil.MockLLMClient{DefaultResponse: toolCall}
	req := request(step("hi"))
	req.Mocks = mapRegistry{"flaky": func(context.Context, any) (string, error) {
		return "", errors.New("backend unavailable")
	}}

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusCompleted, exec.Status)
	assert.Equal(t, 1, client.CallCount())
	assert.Equal(t, toolCall, exec.Results[0].ActualResponse)
	require.Len(t, exec.Results[0].ToolExecutions, 1)
	assert.Contains(t, exec.Results[0].ToolExecutions[0].Result, "backend unavailable")
}

func TestExecuteEmptyResponseStopsLoop(t *testing.T) {
	client := &testutil.MockLLMClient{Script: []string{"   ", "never sent"}}

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}).
		Execute(context.Background(), request(step("hi")))
	require.NoError(t, err)

	assert.Equal(t, 1, client.CallCount())
	assert.Equal(t, "   ", exec.Results[0].ActualResponse)
}

func TestExecuteCompletesAllSteps(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "fine"}
	sink := &testutil.RecordingSink{}

	exec, err := newTestEngine(client, passing(), sink).
		Execute(context.Background(), request(step("one"), step("two"), step("three")))
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusCompleted, exec.Status)
	assert.Empty(t, exec.ErrorMessage)
	require.NotNil(t, exec.CompletedAt)
	require.Len(t, exec.Results, 3)
	for i, r := range exec.Results {
		assert.Equal(t, i, r.StepOrder)
	}

	recorded, ok := sink.Execution(exec.ID)
	require.True(t, ok)
	assert.Equal(t, testsuite.StatusCompleted, recorded.Status)
	assert.Len(t, recorded.Results, 3)
	assert.Equal(t, "sim/model", recorded.Model)
	assert.Equal(t, "judge/model", recorded.JudgeModel)
}

func TestExecuteFailureKeepsPrefix(t *testing.T) {
	client := &testutil.MockLLMClient{
		Handler: func(messages []llm.Message, _ string) (string, error) {
			if strings.Contains(messages[0].Content, "two") {
				return "", &llm.UpstreamError{StatusCode: 400, Body: "bad request"}
			}
			return "fine", nil
		},
	}
	sink := &testutil.RecordingSink{}

	exec, err := newTestEngine(client, passing(), sink).
		Execute(context.Background(), request(step("one"), step("two"), step("three")))
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "step 1")
	assert.Contains(t, exec.ErrorMessage, "bad request")
	require.Len(t, exec.Results, 1)
	assert.Equal(t, 0, exec.Results[0].StepOrder)

	recorded, _ := sink.Execution(exec.ID)
	assert.Equal(t, testsuite.StatusFailed, recorded.Status)
	assert.NotEmpty(t, recorded.ErrorMessage)
	assert.Len(t, recorded.Results, 1)
}

func TestExecuteSinkFailureFailsRun(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "fine"}
	sink := &testutil.RecordingSink{FailAppendAt: 1, FailAppend: errors.New("disk full")}

	exec, err := newTestEngine(client, passing(), sink).
		Execute(context.Background(), request(step("one"), step("two")))
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "disk full")
	assert.Len(t, exec.Results, 1)
}

func TestExecuteCreateFailure(t *testing.T) {
	sink := &testutil.RecordingSink{FailCreate: errors.New("db closed")}
	_, err := newTestEngine(&testutil.MockLLMClient{}, passing(), sink).
		Execute(context.Background(), request(step("one")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db closed")
}

func TestExecuteMockPanicFailsRun(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: `{"tool":"boom"}`}
	req := request(step("hi"))
	req.Mocks = mapRegistry{"boom": func(context.Context, any) (string, error) { panic("kaboom") }}

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "kaboom")
	assert.Empty(t, exec.Results)
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &testutil.MockLLMClient{
		Handler: func([]llm.Message, string) (string, error) {
			cancel()
			return "fine", nil
		},
	}
	sink := &testutil.RecordingSink{}

	exec, err := newTestEngine(client, passing(), sink).Execute(ctx, request(step("one"), step("two")))
	require.NoError(t, err)

	assert.Equal(t, testsuite.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "cancelled before step 1")
	assert.Len(t, exec.Results, 1)

	recorded, _ := sink.Execution(exec.ID)
	assert.Equal(t, testsuite.StatusFailed, recorded.Status)
}

func TestExecuteCarriesState(t *testing.T) {
	client := &testutil.MockLLMClient{Script: []string{
		"```json\n{\"user_response\":\"Hi Alex\",\"stage\":\"greeted\"}\n```",
		"bye",
	}}
	req := Request{
		Prompt: testsuite.Prompt{
			Name:    "agent",
			Content: "id={{ $json.conversation_id }} name={{ $json.customer }} stage={{ $json.stage }} last={{ $json.last_message }} history={{ $json.csv_context }}",
		},
		TestCase: testsuite.TestCase{
			ID:           "case",
			Name:         "Case",
			InitialState: map[string]any{"customer": "Alex", "stage": "new", "conversation_id": "ignored"},
			Memory:       []llm.Message{{Role: llm.RoleAssistant, Content: "Welcome"}},
			Steps: []testsuite.TestStep{
				{UserInput: "hello", ExpectedBehavior: "greets"},
				{Input: map[string]any{"last_message": "bye", "customer": "Alexandra"}, ExpectedBehavior: "says goodbye"},
			},
		},
	}

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}).Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, exec.Results, 2)

	assert.Equal(t,
		`id=execution-exec-1 name=Alex stage=new last=hello history=[{"role":"assistant","content":"Welcome"}]`,
		exec.Results[0].RenderedPrompt)

	assert.Equal(t,
		`id=execution-exec-1 name=Alexandra stage=greeted last=bye history=[{"role":"assistant","content":"Welcome"},{"role":"user","content":"hello"},{"role":"assistant","content":"`+
			"```json\\n{\\\"user_response\\\":\\\"Hi Alex\\\",\\\"stage\\\":\\\"greeted\\\"}\\n```"+`"}]`,
		exec.Results[1].RenderedPrompt)
}

func TestExecuteChatHistoryPlaceholder(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "  padded answer  "}
	req := request(step("first"), step("second"))
	req.Prompt.Content = "prev={{ $json.chat_history.1.content }}"

	exec, err := newTestEngine(client, passing(), &testutil.RecordingSink{}).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "prev=null", exec.Results[0].RenderedPrompt)
	assert.Equal(t, "prev=padded answer", exec.Results[1].RenderedPrompt)
}

func TestExecuteJudgeInputs(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "answer"}
	j := &stubJudge{eval: testsuite.Evaluation{Passed: false, Score: 2, Feedback: "wrong"}}
	req := request(
		testsuite.TestStep{Message: "via alias", ExpectedBehavior: "first"},
		testsuite.TestStep{Input: map[string]any{"order": "1234"}, ExpectedBehavior: "second"},
	)
	req.JudgeModel = "judge/override"

	exec, err := newTestEngine(client, j, &testutil.RecordingSink{}).Execute(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, j.inputs, 2)
	assert.Equal(t, judge.Input{UserInput: "via alias", ActualResponse: "answer", ExpectedBehavior: "first"}, j.inputs[0])
	assert.Equal(t, `{"order":"1234"}`, j.inputs[1].UserInput)
	assert.Equal(t, []string{"judge/override", "judge/override"}, j.models)

	assert.Equal(t, `{"order":"1234"}`, exec.Results[1].UserInput)
	assert.Equal(t, testsuite.Evaluation{Passed: false, Score: 2, Feedback: "wrong"}, exec.Results[0].Evaluation)
	assert.False(t, exec.Passed())
}

func TestStartRunsInBackground(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "fine"}
	sink := &testutil.RecordingSink{}
	metrics := observability.NewMetrics()
	e := newTestEngine(client, passing(), sink, WithMetrics(metrics))

	id, err := e.Start(context.Background(), request(step("one"), step("two")))
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	e.Wait(id)

	recorded, ok := sink.Execution(id)
	require.True(t, ok)
	assert.Equal(t, testsuite.StatusCompleted, recorded.Status)
	assert.Len(t, recorded.Results, 2)
}

func TestStartConcurrentRuns(t *testing.T) {
	client := &testutil.MockLLMClient{DefaultResponse: "fine"}
	sink := &testutil.RecordingSink{}
	e := newTestEngine(client, passing(), sink)

	var ids []string
	for range 5 {
		id, err := e.Start(context.Background(), request(step("one"), step("two")))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	e.WaitAll()

	for _, id := range ids {
		recorded, ok := sink.Execution(id)
		require.True(t, ok)
		assert.Equal(t, testsuite.StatusCompleted, recorded.Status)
		assert.Len(t, recorded.Results, 2)
	}
}

func TestWaitUnknownExecution(t *testing.T) {
	e := newTestEngine(&testutil.MockLLMClient{}, passing(), &testutil.RecordingSink{})
	e.Wait("missing")
}
