package tools

import (
	"github.com/cpa02cmz/oh-my-opencode-sub000/lsp"

	"github.com/mark3labs/mcp-go/mcp"
)

// positionArgs parses the file_path/line/character triple shared by the
// position-based tools. Lines are 1-based, characters 0-based.
func positionArgs(request mcp.CallToolRequest) (string, lsp.Position, error) {
	filePath, err := request.RequireString("file_path")
	if err != nil {
		return "", lsp.Position{}, err
	}

	line, err := request.RequireInt("line")
	if err != nil {
		return "", lsp.Position{}, err
	}

	character, err := request.RequireInt("character")
	if err != nil {
		return "", lsp.Position{}, err
	}

	return filePath, lsp.Position{Line: line, Character: character}, nil
}
