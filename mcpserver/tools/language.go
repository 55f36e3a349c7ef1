package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterInferLanguageTool registers the infer_language tool.
func RegisterInferLanguageTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("infer_language",
		mcp.WithDescription("Infer the programming language of a file from its extension"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			logger.Error("infer_language: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		language, err := b.InferLanguage(filePath)
		if err != nil {
			ext := filepath.Ext(filePath)
			logger.Error("infer_language: inference failed", fmt.Sprintf("extension: %s", ext))
			return mcp.NewToolResultError(fmt.Sprintf("Error: no language found for extension %s", ext)), nil
		}

		serverID := b.Config().ServerIDForLanguage(language)
		if serverID == "" {
			return mcp.NewToolResultText(fmt.Sprintf("%s (no server configured)", language)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s (server: %s)", language, serverID)), nil
	})
}

// RegisterDetectProjectLanguagesTool registers the detect_project_languages
// tool.
func RegisterDetectProjectLanguagesTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("detect_project_languages",
		mcp.WithDescription("Detect all programming languages used in a project, most likely first"),
		mcp.WithString("project_path", mcp.Description("Project root (default: first allowed directory)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectPath := request.GetString("project_path", b.DefaultRoot())

		languages, err := b.DetectProjectLanguages(projectPath)
		if err != nil {
			logger.Error("detect_project_languages: detection failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		var result strings.Builder
		fmt.Fprintf(&result, "Detected %d languages in %s:\n", len(languages), projectPath)
		for i, language := range languages {
			serverID := b.Config().ServerIDForLanguage(language)
			if serverID == "" {
				serverID = "no server configured"
			}
			fmt.Fprintf(&result, "%d. %s (%s)\n", i+1, language, serverID)
		}
		return mcp.NewToolResultText(result.String()), nil
	})
}
