package tools

import (
	"context"
	"fmt"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterHoverTool registers the hover tool.
func RegisterHoverTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("hover",
		mcp.WithDescription("Get documentation and type information for the symbol at a position"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Line number (1-based)")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Character position (0-based)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, pos, err := positionArgs(request)
		if err != nil {
			logger.Error("hover: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		client, absPath, release, err := b.AcquireForFile(ctx, filePath)
		if err != nil {
			logger.Error("hover: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		result, err := client.Hover(ctx, absPath, pos)
		if err != nil {
			logger.Error("hover: request failed", fmt.Sprintf("%s:%d:%d: %v", absPath, pos.Line, pos.Character, err))
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		if result == nil {
			return mcp.NewToolResultText("No hover information available"), nil
		}
		return mcp.NewToolResultText(formatHoverContent(result.Contents)), nil
	})
}
