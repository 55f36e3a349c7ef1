package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterServerStatusTool registers the server_status tool. Besides
// reporting health it carries the explicit reset used after fixing a broken
// server installation.
func RegisterServerStatusTool(s ToolServer, b *bridge.Bridge) {
	s.AddTool(mcp.NewTool("server_status",
		mcp.WithDescription("Show language server health, or reset a server that was marked unavailable"),
		mcp.WithString("action", mcp.Description("status (default) or reset")),
		mcp.WithString("server_id", mcp.Description("Server to reset (required for reset)")),
		mcp.WithString("project_path", mcp.Description("Project root of the server to reset (default: first allowed directory)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		action := request.GetString("action", "status")

		switch action {
		case "status":
			return statusReport(b), nil
		case "reset":
			serverID := request.GetString("server_id", "")
			if serverID == "" {
				return mcp.NewToolResultError("Error: server_id is required for reset"), nil
			}
			root := request.GetString("project_path", b.DefaultRoot())
			b.Manager().ResetServerState(root, serverID)
			logger.Info(fmt.Sprintf("server_status: reset %s at %s", serverID, root))
			return mcp.NewToolResultText(fmt.Sprintf("Reset %s at %s; the next request will retry immediately", serverID, root)), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("Error: unknown action %q", action)), nil
		}
	})
}

func statusReport(b *bridge.Bridge) *mcp.CallToolResult {
	manager := b.Manager()

	var result strings.Builder
	fmt.Fprintf(&result, "Pooled connections: %d\n", manager.PooledCount())

	unavailable := manager.UnavailableServers()
	if len(unavailable) == 0 {
		result.WriteString("No unavailable servers\n")
		return mcp.NewToolResultText(result.String())
	}

	fmt.Fprintf(&result, "Unavailable servers (%d):\n", len(unavailable))
	for _, srv := range unavailable {
		fmt.Fprintf(&result, "- %s at %s: failed %d times, last %s ago: %s\n",
			srv.ServerID, srv.Root, srv.RetryCount,
			time.Since(srv.FailedAt).Round(time.Second), srv.LastError)
	}
	result.WriteString("Use action=reset with server_id after fixing the installation\n")
	return mcp.NewToolResultText(result.String())
}
