package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"
	"github.com/cpa02cmz/oh-my-opencode-sub000/lsp"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/myleshyson/lsprotocol-go/protocol"
)

// RegisterCodeActionsTool registers the code_actions tool.
func RegisterCodeActionsTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("code_actions",
		mcp.WithDescription("List available code actions (quick fixes, refactorings) for a range"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Start line (1-based)")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Start character (0-based)")),
		mcp.WithNumber("end_line", mcp.Description("End line (1-based, default: start line)")),
		mcp.WithNumber("end_character", mcp.Description("End character (0-based, default: start character)")),
		mcp.WithString("only", mcp.Description("Comma-separated action kinds to include, e.g. quickfix,refactor")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, pos, err := positionArgs(request)
		if err != nil {
			logger.Error("code_actions: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		rng := lsp.Range{
			Start: pos,
			End: lsp.Position{
				Line:      request.GetInt("end_line", pos.Line),
				Character: request.GetInt("end_character", pos.Character),
			},
		}

		var onlyKinds []string
		if only := request.GetString("only", ""); only != "" {
			for _, kind := range strings.Split(only, ",") {
				onlyKinds = append(onlyKinds, strings.TrimSpace(kind))
			}
		}

		client, absPath, release, err := b.AcquireForFile(ctx, filePath)
		if err != nil {
			logger.Error("code_actions: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		actions, err := client.CodeAction(ctx, absPath, rng, onlyKinds)
		if err != nil {
			logger.Error("code_actions: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		if len(actions) == 0 {
			return mcp.NewToolResultText("No code actions available"), nil
		}

		var result strings.Builder
		fmt.Fprintf(&result, "Found %d code actions:\n", len(actions))
		for i, action := range actions {
			if i >= maxListedItems {
				fmt.Fprintf(&result, "... and %d more\n", len(actions)-maxListedItems)
				break
			}
			kind := ""
			if action.Kind != nil {
				kind = fmt.Sprintf(" [%s]", *action.Kind)
			}
			fmt.Fprintf(&result, "%d. %s%s\n", i+1, action.Title, kind)
			if raw, err := json.Marshal(action); err == nil {
				fmt.Fprintf(&result, "   action_json: %s\n", raw)
			}
		}
		result.WriteString("\nPass an action_json value to code_action_resolve to compute its edits.")
		return mcp.NewToolResultText(result.String()), nil
	})
}

// RegisterCodeActionResolveTool registers the code_action_resolve tool.
func RegisterCodeActionResolveTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("code_action_resolve",
		mcp.WithDescription("Resolve a code action returned by code_actions into its concrete edits"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file the action came from")),
		mcp.WithString("action_json", mcp.Required(), mcp.Description("The action_json value from code_actions")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			logger.Error("code_action_resolve: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		actionJSON, err := request.RequireString("action_json")
		if err != nil {
			logger.Error("code_action_resolve: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		var action protocol.CodeAction
		if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
			logger.Error("code_action_resolve: invalid action_json", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: invalid action_json: %v", err)), nil
		}

		client, _, release, err := b.AcquireForFile(ctx, filePath)
		if err != nil {
			logger.Error("code_action_resolve: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		resolved, err := client.CodeActionResolve(ctx, action)
		if err != nil {
			logger.Error("code_action_resolve: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		if resolved == nil || resolved.Edit == nil {
			return mcp.NewToolResultText("Code action resolved to no edits"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s would apply:\n%s", resolved.Title, formatWorkspaceEdit(resolved.Edit))), nil
	})
}
