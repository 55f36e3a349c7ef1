package tools

import (
	"context"
	"fmt"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterConnectTool registers the lsp_connect tool.
func RegisterConnectTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("lsp_connect",
		mcp.WithDescription("Pre-start the language server for a language so later requests are fast"),
		mcp.WithString("language", mcp.Required(), mcp.Description("Language to connect, e.g. go, typescript")),
		mcp.WithString("project_path", mcp.Description("Project root (default: first allowed directory)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		language, err := request.RequireString("language")
		if err != nil {
			logger.Error("lsp_connect: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		root := request.GetString("project_path", b.DefaultRoot())

		serverID, err := b.ConnectLanguage(language, root)
		if err != nil {
			logger.Error("lsp_connect: no server for language", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf(
			"Starting %s for %s at %s in the background; check server_status for failures", serverID, language, root)), nil
	})
}

// RegisterDisconnectTool registers the lsp_disconnect tool.
func RegisterDisconnectTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("lsp_disconnect",
		mcp.WithDescription("Stop all running language servers"),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stopped := b.DisconnectAll()
		logger.Info(fmt.Sprintf("lsp_disconnect: stopped %d language servers", stopped))
		return mcp.NewToolResultText(fmt.Sprintf("Stopped %d language servers", stopped)), nil
	})
}
