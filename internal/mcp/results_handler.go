package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/prompt-testing/internal/server"
)

func handleGetExecution(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	id, _ := args["execution_id"].(string)
	if id == "" {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, err := sc.Store.GetExecution(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal execution: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleGetHistory(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	testCaseID, _ := args["test_case"].(string)
	if testCaseID == "" {
		return mcp.NewToolResultError("test_case is required"), nil
	}

	executions, err := sc.Store.ListExecutions(ctx, testCaseID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list executions: %v", err)), nil
	}

	summaries := make([]executionSummary, 0, len(executions))
	for i := range executions {
		summaries = append(summaries, summarize(&executions[i]))
	}

	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal history: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
