package tools

import (
	"context"
	"fmt"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterDefinitionTool registers the definition tool.
func RegisterDefinitionTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("definition",
		mcp.WithDescription("Find where the symbol at a position is defined"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Line number (1-based)")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Character position (0-based)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, pos, err := positionArgs(request)
		if err != nil {
			logger.Error("definition: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		client, absPath, release, err := b.AcquireForFile(ctx, filePath)
		if err != nil {
			logger.Error("definition: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		locations, err := client.Definition(ctx, absPath, pos)
		if err != nil {
			logger.Error("definition: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		return mcp.NewToolResultText(formatLocations("definitions", locations)), nil
	})
}

// RegisterReferencesTool registers the references tool.
func RegisterReferencesTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("references",
		mcp.WithDescription("Find all references to the symbol at a position"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Line number (1-based)")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Character position (0-based)")),
		mcp.WithBoolean("include_declaration", mcp.Description("Include the declaration itself (default true)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, pos, err := positionArgs(request)
		if err != nil {
			logger.Error("references: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		includeDeclaration := request.GetBool("include_declaration", true)

		client, absPath, release, err := b.AcquireForFile(ctx, filePath)
		if err != nil {
			logger.Error("references: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		locations, err := client.References(ctx, absPath, pos, includeDeclaration)
		if err != nil {
			logger.Error("references: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		return mcp.NewToolResultText(formatLocations("references", locations)), nil
	})
}
