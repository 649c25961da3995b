package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/prompt-testing/internal/server"
)

func registerModelTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// list_models
	listTool := mcp.NewTool("list_models",
		mcp.WithDescription("List the model ids offered by the chat API, usable as model or judge_model"),
		mcp.WithString("filter",
			mcp.Description("Only return ids containing this substring (e.g. 'openai/')"),
		),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListModels(ctx, request, sc)
	})

	return nil
}

func handleListModels(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.Models == nil {
		return mcp.NewToolResultError("model listing is not configured"), nil
	}

	models, err := sc.Models.ListModels(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list models: %v", err)), nil
	}

	if filter, _ := request.GetArguments()["filter"].(string); filter != "" {
		filtered := make([]string, 0, len(models))
		for _, m := range models {
			if strings.Contains(m, filter) {
				filtered = append(filtered, m)
			}
		}
		models = filtered
	}

	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal models: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
