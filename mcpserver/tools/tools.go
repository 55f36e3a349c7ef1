// Package tools registers the MCP tools that expose language server
// operations to the coding agent.
package tools

import (
	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolServer is the part of the MCP server the tools need.
type ToolServer interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

// RegisterAll registers every tool on the server.
func RegisterAll(s ToolServer, b *bridge.Bridge) {
	RegisterHoverTool(s, b)
	RegisterDefinitionTool(s, b)
	RegisterReferencesTool(s, b)
	RegisterDocumentSymbolsTool(s, b)
	RegisterWorkspaceSymbolsTool(s, b)
	RegisterDiagnosticsTool(s, b)
	RegisterProjectDiagnosticsTool(s, b)
	RegisterPrepareRenameTool(s, b)
	RegisterRenameTool(s, b)
	RegisterCodeActionsTool(s, b)
	RegisterCodeActionResolveTool(s, b)
	RegisterInferLanguageTool(s, b)
	RegisterDetectProjectLanguagesTool(s, b)
	RegisterConnectTool(s, b)
	RegisterDisconnectTool(s, b)
	RegisterServerStatusTool(s, b)
}
