package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/prompt-testing/internal/server"
)

func registerTestingTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// list_prompts
	listTool := mcp.NewTool("list_prompts",
		mcp.WithDescription("List available prompts with their test cases and mocked tools"),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListPrompts(ctx, request, sc)
	})

	// run_test_case
	runTool := mcp.NewTool("run_test_case",
		mcp.WithDescription("Run a test case against a prompt and wait for the judged result of every step"),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Name of the prompt (e.g. 'agent_basic_tool')"),
		),
		mcp.WithString("test_case",
			mcp.Required(),
			mcp.Description("Test case id within the prompt (e.g. 'basic_flow')"),
		),
		mcp.WithString("model",
			mcp.Description("Simulation model (default: from config)"),
		),
		mcp.WithString("judge_model",
			mcp.Description("Judge model (default: from config)"),
		),
	)
	s.AddTool(runTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleRunTestCase(ctx, request, sc)
	})

	// get_execution
	getTool := mcp.NewTool("get_execution",
		mcp.WithDescription("Retrieve an execution with its step results"),
		mcp.WithString("execution_id",
			mcp.Required(),
			mcp.Description("Execution id returned by run_test_case"),
		),
	)
	s.AddTool(getTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetExecution(ctx, request, sc)
	})

	// get_history
	historyTool := mcp.NewTool("get_history",
		mcp.WithDescription("List past executions of a test case, newest first"),
		mcp.WithString("test_case",
			mcp.Required(),
			mcp.Description("Test case id"),
		),
	)
	s.AddTool(historyTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetHistory(ctx, request, sc)
	})

	return nil
}

func handleListPrompts(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	prompts, errs, err := sc.ListPrompts()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for _, e := range errs {
		slog.Warn("skipping prompt that failed to load", "error", e)
	}

	data, err := json.MarshalIndent(prompts, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal prompts: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
