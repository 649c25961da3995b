package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/prompt-testing/internal/judge"
	"github.com/giantswarm/prompt-testing/internal/llm"
	"github.com/giantswarm/prompt-testing/internal/template"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
	"github.com/giantswarm/prompt-testing/internal/toolcall"
)

// conversation is the state carried from one step to the next: the running
// history and the key/value state merged from JSON responses.
type conversation struct {
	history []llm.Message
	state   map[string]any
}

func newConversation(tc testsuite.TestCase) *conversation {
	state := maps.Clone(tc.InitialState)
	if state == nil {
		state = map[string]any{}
	}
	return &conversation{
		history: append([]llm.Message{}, tc.Memory...),
		state:   state,
	}
}

// templateData builds the placeholder context of a step. Later layers win:
// base values, then carried state, then the step's own input.
func (c *conversation) templateData(rawMessage string, input map[string]any) map[string]any {
	history := make([]any, 0, len(c.history))
	for _, m := range c.history {
		history = append(history, map[string]any{"role": m.Role, "content": m.Content})
	}
	encoded, err := json.Marshal(c.history)
	if err != nil {
		encoded = []byte("[]")
	}

	data := map[string]any{
		"last_message": rawMessage,
		"chat_history": history,
		"csv_context":  string(encoded),
	}
	maps.Copy(data, c.state)
	maps.Copy(data, input)
	return data
}

// advance appends the exchange to the history and merges a JSON object
// response into the carried state. Non-JSON responses leave state as is.
func (c *conversation) advance(rawMessage, response string) {
	c.history = append(c.history,
		llm.Message{Role: llm.RoleUser, Content: rawMessage},
		llm.Message{Role: llm.RoleAssistant, Content: strings.TrimSpace(response)},
	)

	var update map[string]any
	if err := json.Unmarshal([]byte(toolcall.StripCodeFences(response)), &update); err != nil {
		return
	}
	maps.Copy(c.state, update)
}

type stepRun struct {
	exec           *testsuite.Execution
	order          int
	step           testsuite.TestStep
	prompt         string
	conversationID string
	mocks          MockRegistry
	conv           *conversation
}

func (e *Engine) runStep(ctx context.Context, sr stepRun) (testsuite.StepResult, error) {
	ctx, span := e.tracer.Start(ctx, "step", trace.WithAttributes(
		attribute.String("execution.id", sr.exec.ID),
		attribute.Int("step", sr.order),
	))
	defer span.End()

	start := e.now()
	rawMessage := sr.step.RawMessage()
	userInput := rawMessage
	if userInput == "" && len(sr.step.Input) > 0 {
		if b, err := json.Marshal(sr.step.Input); err == nil {
			userInput = string(b)
		}
	}

	slog.Debug("processing step",
		"execution_id", sr.exec.ID,
		"step", sr.order,
		"user_input", rawMessage,
		"history", len(sr.conv.history),
	)

	rendered := template.RenderConversation(sr.prompt, sr.conv.templateData(rawMessage, sr.step.Input), sr.conversationID)

	response, executions, err := e.toolLoop(ctx, sr, rendered)
	if err != nil {
		span.RecordError(err)
		return testsuite.StepResult{}, err
	}

	eval := e.judge.Evaluate(ctx, judge.Input{
		UserInput:        userInput,
		ActualResponse:   response,
		ExpectedBehavior: sr.step.ExpectedBehavior,
	}, sr.exec.JudgeModel)

	span.SetAttributes(
		attribute.Int("score", eval.Score),
		attribute.Bool("passed", eval.Passed),
		attribute.Int("tool_calls", len(executions)),
	)
	e.metrics.RecordStep(sr.exec.Model, eval.Passed, e.now().Sub(start))
	slog.Info("step completed",
		"execution_id", sr.exec.ID,
		"step", sr.order,
		"score", eval.Score,
		"passed", eval.Passed,
		"tool_calls", len(executions),
	)

	return testsuite.StepResult{
		StepOrder:      sr.order,
		UserInput:      userInput,
		RenderedPrompt: rendered,
		ActualResponse: response,
		Evaluation:     eval,
		ToolExecutions: executions,
		CreatedAt:      e.now(),
	}, nil
}

// toolLoop sends the rendered prompt and keeps answering tool calls with
// mock results until the model gives a final answer, returns nothing, or the
// turn limit is reached. Only the step's own exchange is sent; earlier steps
// reach the model through the template.
func (e *Engine) toolLoop(ctx context.Context, sr stepRun, rendered string) (string, []testsuite.ToolExecution, error) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: rendered}}
	var (
		response   string
		executions []testsuite.ToolExecution
	)

	for turn := 1; turn <= e.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return "", nil, fmt.Errorf("cancelled before turn %d: %w", turn, err)
		}

		reply, err := e.client.Chat(ctx, messages, sr.exec.Model)
		if err != nil {
			return "", nil, fmt.Errorf("turn %d: %w", turn, err)
		}
		response = reply

		if strings.TrimSpace(reply) == "" {
			slog.Warn("empty response from model", "execution_id", sr.exec.ID, "step", sr.order, "turn", turn)
			break
		}

		calls, perr := toolcall.Extract(reply)
		if perr != nil {
			slog.Debug("response is not a tool call", "execution_id", sr.exec.ID, "step", sr.order, "error", perr)
		}
		if len(calls) == 0 {
			break
		}

		slog.Debug("tool calls detected", "execution_id", sr.exec.ID, "step", sr.order, "turn", turn, "count", len(calls))

		failed := false
		for _, call := range calls {
			result, err := e.callMock(ctx, sr.mocks, call)
			if err != nil {
				slog.Warn("mock failed, treating response as final",
					"execution_id", sr.exec.ID,
					"tool", call.Name,
					"error", err,
				)
				result = "Error: " + err.Error()
				failed = true
			}
			executions = append(executions, testsuite.ToolExecution{
				ToolName:  call.Name,
				Arguments: call.Arguments,
				Result:    result,
				Timestamp: e.now(),
			})
			if failed {
				break
			}
			messages = append(messages,
				llm.Message{Role: llm.RoleAssistant, Content: reply},
				llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("Tool result for %s: %s", call.Name, result)},
			)
		}
		if failed {
			break
		}
	}

	return response, executions, nil
}

// NotFoundResult is the tool result reported for tools without a mock.
func NotFoundResult(name string) string {
	return fmt.Sprintf(`Error: Tool mock for "%s" not found`, name)
}

func (e *Engine) callMock(ctx context.Context, mocks MockRegistry, call toolcall.Call) (result string, err error) {
	var (
		fn MockFunc
		ok bool
	)
	if mocks != nil {
		fn, ok = mocks.Lookup(call.Name)
	}
	if !ok || fn == nil {
		slog.Warn("no mock found for tool", "tool", call.Name)
		e.metrics.RecordToolCall("not_found")
		return NotFoundResult(call.Name), nil
	}

	start := time.Now()
	result, err = fn(ctx, call.Arguments)
	if err != nil {
		e.metrics.RecordToolCall("error")
		return "", fmt.Errorf("mock %q: %w", call.Name, err)
	}
	e.metrics.RecordToolCall("mocked")
	slog.Debug("mock executed", "tool", call.Name, "duration", time.Since(start), "chars", len(result))
	return result, nil
}
