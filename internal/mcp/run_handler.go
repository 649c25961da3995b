package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/prompt-testing/internal/server"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// stepSummary is the compact per-step view returned to MCP clients.
type stepSummary struct {
	Step      int    `json:"step"`
	UserInput string `json:"user_input"`
	Response  string `json:"response"`
	ToolCalls int    `json:"tool_calls"`
	Passed    bool   `json:"passed"`
	Score     int    `json:"score"`
	Feedback  string `json:"feedback"`
}

type executionSummary struct {
	ExecutionID string        `json:"execution_id"`
	Prompt      string        `json:"prompt"`
	TestCase    string        `json:"test_case"`
	Model       string        `json:"model"`
	JudgeModel  string        `json:"judge_model"`
	Status      string        `json:"status"`
	Passed      bool          `json:"passed"`
	Error       string        `json:"error,omitempty"`
	Steps       []stepSummary `json:"steps"`
}

func summarize(exec *testsuite.Execution) executionSummary {
	s := executionSummary{
		ExecutionID: exec.ID,
		Prompt:      exec.PromptName,
		TestCase:    exec.TestCaseID,
		Model:       exec.Model,
		JudgeModel:  exec.JudgeModel,
		Status:      string(exec.Status),
		Passed:      exec.Passed(),
		Error:       exec.ErrorMessage,
		Steps:       make([]stepSummary, 0, len(exec.Results)),
	}
	for _, r := range exec.Results {
		s.Steps = append(s.Steps, stepSummary{
			Step:      r.StepOrder,
			UserInput: r.UserInput,
			Response:  r.ActualResponse,
			ToolCalls: len(r.ToolExecutions),
			Passed:    r.Evaluation.Passed,
			Score:     r.Evaluation.Score,
			Feedback:  r.Evaluation.Feedback,
		})
	}
	return s
}

func handleRunTestCase(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	promptName, ok := args["prompt"].(string)
	if !ok || promptName == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}
	testCaseID, ok := args["test_case"].(string)
	if !ok || testCaseID == "" {
		return mcp.NewToolResultError("test_case is required"), nil
	}
	model, _ := args["model"].(string)
	judgeModel, _ := args["judge_model"].(string)

	req, err := sc.NewRequest(promptName, testCaseID, model, judgeModel)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load test case: %v", err)), nil
	}

	slog.Info("running test case via MCP", "prompt", promptName, "test_case", testCaseID)

	exec, err := sc.Engine.Execute(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start execution: %v", err)), nil
	}

	data, err := json.MarshalIndent(summarize(exec), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
