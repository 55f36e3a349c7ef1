package tools

import (
	"context"
	"fmt"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterPrepareRenameTool registers the prepare_rename tool.
func RegisterPrepareRenameTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("prepare_rename",
		mcp.WithDescription("Check whether the symbol at a position can be renamed"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Line number (1-based)")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Character position (0-based)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, pos, err := positionArgs(request)
		if err != nil {
			logger.Error("prepare_rename: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		client, absPath, release, err := b.AcquireForFile(ctx, filePath)
		if err != nil {
			logger.Error("prepare_rename: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		raw, err := client.PrepareRename(ctx, absPath, pos)
		if err != nil {
			logger.Error("prepare_rename: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		if len(raw) == 0 || string(raw) == "null" {
			return mcp.NewToolResultText("Symbol at this position cannot be renamed"), nil
		}
		return mcp.NewToolResultText("Symbol can be renamed: " + string(raw)), nil
	})
}

// RegisterRenameTool registers the rename tool. The result is a preview of
// the workspace edit; nothing is written to disk.
func RegisterRenameTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("rename",
		mcp.WithDescription("Compute the edits needed to rename the symbol at a position (preview only, nothing is applied)"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Line number (1-based)")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Character position (0-based)")),
		mcp.WithString("new_name", mcp.Required(), mcp.Description("New name for the symbol")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, pos, err := positionArgs(request)
		if err != nil {
			logger.Error("rename: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		newName, err := request.RequireString("new_name")
		if err != nil {
			logger.Error("rename: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		client, absPath, release, err := b.AcquireForFile(ctx, filePath)
		if err != nil {
			logger.Error("rename: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		edit, err := client.Rename(ctx, absPath, pos, newName)
		if err != nil {
			logger.Error("rename: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		if edit == nil {
			return mcp.NewToolResultText("Rename produced no edits"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Rename to %q would apply:\n%s", newName, formatWorkspaceEdit(edit))), nil
	})
}
