package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/myleshyson/lsprotocol-go/protocol"
)

// RegisterDocumentSymbolsTool registers the document_symbols tool.
func RegisterDocumentSymbolsTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("document_symbols",
		mcp.WithDescription("List all symbols (functions, types, variables) in a file"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			logger.Error("document_symbols: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		client, absPath, release, err := b.AcquireForFile(ctx, filePath)
		if err != nil {
			logger.Error("document_symbols: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		symbols, err := client.DocumentSymbols(ctx, absPath)
		if err != nil {
			logger.Error("document_symbols: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		return mcp.NewToolResultText(formatDocumentSymbols(symbols)), nil
	})
}

// RegisterWorkspaceSymbolsTool registers the workspace_symbols tool.
func RegisterWorkspaceSymbolsTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("workspace_symbols",
		mcp.WithDescription("Search symbols across the whole workspace by name"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Symbol name query")),
		mcp.WithString("language", mcp.Description("Language whose server to query (default: primary project language)")),
		mcp.WithString("project_path", mcp.Description("Project root (default: first allowed directory)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			logger.Error("workspace_symbols: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		root := request.GetString("project_path", b.DefaultRoot())
		language := request.GetString("language", "")
		if language == "" {
			language, err = b.DetectPrimaryProjectLanguage(root)
			if err != nil {
				logger.Error("workspace_symbols: language detection failed", err)
				return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
			}
		}

		client, release, err := b.AcquireForLanguage(ctx, language, root)
		if err != nil {
			logger.Error("workspace_symbols: failed to acquire client", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		defer release()

		symbols, err := client.WorkspaceSymbols(ctx, query)
		if err != nil {
			logger.Error("workspace_symbols: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		if len(symbols) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No symbols matching %q", query)), nil
		}

		var result strings.Builder
		fmt.Fprintf(&result, "Found %d symbols matching %q:\n", len(symbols), query)
		for i, sym := range symbols {
			if i >= maxListedItems {
				fmt.Fprintf(&result, "... and %d more\n", len(symbols)-maxListedItems)
				break
			}
			fmt.Fprintf(&result, "%d. %s (%s)", i+1, sym.Name, symbolKindToString(sym.Kind))
			switch loc := sym.Location.Value.(type) {
			case protocol.Location:
				fmt.Fprintf(&result, " %s", formatLocation(loc))
			case protocol.LocationUriOnly:
				fmt.Fprintf(&result, " %s", strings.TrimPrefix(string(loc.Uri), "file://"))
			}
			result.WriteString("\n")
		}
		return mcp.NewToolResultText(result.String()), nil
	})
}
