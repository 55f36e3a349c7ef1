package mcpserver

import (
	"context"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"
	"github.com/cpa02cmz/oh-my-opencode-sub000/mcpserver/tools"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// SetupMCPServer configures the MCP server that exposes the language server
// tools.
func SetupMCPServer(b *bridge.Bridge) *server.MCPServer {
	hooks := &server.Hooks{}

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest) {
		logger.Debug("beforeCallTool:", id, message.Params.Name)
	})
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		logger.Debug("afterCallTool:", id, message.Params.Name)
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Error("onError:", method, id, err)
	})

	mcpServer := server.NewMCPServer(
		"oh-my-opencode-lsp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithHooks(hooks),
		server.WithInstructions(`This server exposes Language Server Protocol operations as tools.

Workflow:
1. Use infer_language / lsp_connect to warm up a server for a project.
2. Navigate with hover, definition, references, document_symbols and
   workspace_symbols. Line numbers are 1-based, character offsets 0-based.
3. Check code health with diagnostics (one file) or project_diagnostics
   (whole project).
4. Refactor with prepare_rename, rename (returns an edit preview),
   code_actions and code_action_resolve.
5. Inspect or repair server health with server_status; disconnect with
   lsp_disconnect when done.

Servers start on demand and are kept warm between calls. A server that keeps
failing to start is put in a cooldown; server_status can reset it once the
underlying problem (usually a missing binary) is fixed.`),
	)

	tools.RegisterAll(mcpServer, b)
	b.SetServer(mcpServer)

	registerDefaultSession(mcpServer)

	return mcpServer
}

// registerDefaultSession creates a session for clients that never open one.
func registerDefaultSession(mcpServer *server.MCPServer) {
	session := NewSession("default")

	if err := mcpServer.RegisterSession(context.Background(), session); err != nil {
		logger.Error("Failed to register default session", err)
		return
	}
	logger.Info("Default session registered")
}
