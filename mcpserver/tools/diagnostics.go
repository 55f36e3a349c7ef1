package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterDiagnosticsTool registers the diagnostics tool for a single file.
func RegisterDiagnosticsTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("diagnostics",
		mcp.WithDescription("Get errors and warnings for a file"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			logger.Error("diagnostics: argument parsing failed", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		diags, err := b.FileDiagnostics(ctx, filePath)
		if err != nil {
			logger.Error("diagnostics: request failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		return mcp.NewToolResultText(formatDiagnostics(filePath, diags)), nil
	})
}

// RegisterProjectDiagnosticsTool registers the project_diagnostics tool.
func RegisterProjectDiagnosticsTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("project_diagnostics",
		mcp.WithDescription("Sweep a whole project for errors and warnings across all detected languages"),
		mcp.WithString("project_path", mcp.Description("Project root (default: first allowed directory)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectPath := request.GetString("project_path", b.DefaultRoot())

		reports, err := b.ProjectDiagnostics(ctx, projectPath)
		if err != nil {
			logger.Error("project_diagnostics: sweep failed", err)
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}

		if len(reports) == 0 {
			return mcp.NewToolResultText("No languages with configured servers detected in " + projectPath), nil
		}

		var result strings.Builder
		clean := true
		for _, report := range reports {
			if report.Err != nil {
				clean = false
				fmt.Fprintf(&result, "[%s] sweep failed: %v\n", report.Language, report.Err)
				continue
			}
			if len(report.Files) == 0 {
				fmt.Fprintf(&result, "[%s] no issues\n", report.Language)
				continue
			}
			clean = false
			for _, file := range report.Files {
				fmt.Fprintf(&result, "[%s] %s", report.Language, formatDiagnostics(file.Path, file.Diagnostics))
			}
		}
		if clean {
			return mcp.NewToolResultText("Project is clean: no diagnostics reported\n" + result.String()), nil
		}
		return mcp.NewToolResultText(result.String()), nil
	})
}
