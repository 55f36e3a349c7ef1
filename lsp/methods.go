package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// Position identifies a point in a document the way the tool layer supplies
// it: 1-based line, 0-based character. The wire protocol is 0-based on both,
// so the conversion happens exactly once, here.
type Position struct {
	Line      int
	Character int
}

func (p Position) toProtocol() protocol.Position {
	line := p.Line - 1
	if line < 0 {
		line = 0
	}
	char := p.Character
	if char < 0 {
		char = 0
	}
	return protocol.Position{Line: uint32(line), Character: uint32(char)}
}

// Range is a pair of positions in tool-layer convention.
type Range struct {
	Start Position
	End   Position
}

func (r Range) toProtocol() protocol.Range {
	return protocol.Range{Start: r.Start.toProtocol(), End: r.End.toProtocol()}
}

// FileToURI converts an absolute file path to a file:// URI.
func FileToURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

// ensureOpen sends textDocument/didOpen for the file exactly once per
// connection, with the file's full content and a language id detected from
// its extension. The settle delay after the first open mirrors the
// initialization delay: servers index newly opened files asynchronously.
func (c *Client) ensureOpen(ctx context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	uri := FileToURI(abs)

	var opening chan struct{}
	for {
		c.mu.Lock()
		ch, inFlight := c.openedDocs[abs]
		if !inFlight {
			opening = make(chan struct{})
			c.openedDocs[abs] = opening
		}
		c.mu.Unlock()
		if !inFlight {
			break
		}

		// Another caller is opening this file; wait until its didOpen is
		// on the wire rather than querying an unopened document.
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.done:
			return uri, nil
		}

		c.mu.Lock()
		_, stillOpened := c.openedDocs[abs]
		c.mu.Unlock()
		if stillOpened {
			return uri, nil
		}
		// The opener failed and rolled back; take over the open.
	}
	defer close(opening)

	content, err := os.ReadFile(abs)
	if err != nil {
		c.mu.Lock()
		delete(c.openedDocs, abs)
		c.mu.Unlock()
		return "", fmt.Errorf("read %s: %w", abs, err)
	}

	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			Uri:        protocol.DocumentUri(uri),
			LanguageId: protocol.LanguageKind(DetectLanguageID(abs)),
			Version:    1,
			Text:       string(content),
		},
	}
	if err := c.SendNotification("textDocument/didOpen", params); err != nil {
		c.mu.Lock()
		delete(c.openedDocs, abs)
		c.mu.Unlock()
		return "", err
	}

	if c.settleDelays {
		select {
		case <-time.After(openSettleDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.done:
		}
	}
	return uri, nil
}

// Hover returns hover information for the symbol at the position.
func (c *Client) Hover(ctx context.Context, path string, pos Position) (*protocol.Hover, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}

	params := protocol.HoverParams{
		TextDocument: protocol.TextDocumentIdentifier{Uri: protocol.DocumentUri(uri)},
		Position:     pos.toProtocol(),
	}

	var result *protocol.Hover
	if err := c.SendRequest(ctx, "textDocument/hover", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Definition returns the definition locations for the symbol at the position.
// Servers answer with a Location, []Location, or []LocationLink; all three
// shapes are normalized to []Location.
func (c *Client) Definition(ctx context.Context, path string, pos Position) ([]protocol.Location, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position":     pos.toProtocol(),
	}

	var raw json.RawMessage
	if err := c.SendRequest(ctx, "textDocument/definition", params, &raw); err != nil {
		return nil, err
	}
	return parseLocationResult(raw)
}

// References returns every reference to the symbol at the position.
func (c *Client) References(ctx context.Context, path string, pos Position, includeDeclaration bool) ([]protocol.Location, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position":     pos.toProtocol(),
		"context":      map[string]any{"includeDeclaration": includeDeclaration},
	}

	var result []protocol.Location
	if err := c.SendRequest(ctx, "textDocument/references", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DocumentSymbols returns the symbol tree of a document.
func (c *Client) DocumentSymbols(ctx context.Context, path string) ([]protocol.DocumentSymbol, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
	}

	var result []protocol.DocumentSymbol
	if err := c.SendRequest(ctx, "textDocument/documentSymbol", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// WorkspaceSymbols searches the workspace for symbols matching the query.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]protocol.WorkspaceSymbol, error) {
	var result []protocol.WorkspaceSymbol
	err := c.SendRequest(ctx, "workspace/symbol", protocol.WorkspaceSymbolParams{Query: query}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Diagnostics returns the best available diagnostics for a file: an
// on-demand pull when the server supports it, otherwise whatever the server
// last pushed via publishDiagnostics. A file with no known problems and a
// file the server never analyzed both come back as an empty list.
func (c *Client) Diagnostics(ctx context.Context, path string) ([]protocol.Diagnostic, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
	}

	var report struct {
		Kind  string                `json:"kind"`
		Items []protocol.Diagnostic `json:"items"`
	}
	if err := c.SendRequest(ctx, "textDocument/diagnostic", params, &report); err == nil && report.Kind == "full" {
		return report.Items, nil
	} else if err != nil {
		logger.Debug(fmt.Sprintf("Pull diagnostics unsupported or failed for %s, using pushed cache: %v", uri, err))
	}

	c.diagnosticsMu.RLock()
	defer c.diagnosticsMu.RUnlock()
	return c.diagnostics[uri], nil
}

// CachedDiagnostics returns the last pushed diagnostics for a URI without
// touching the server.
func (c *Client) CachedDiagnostics(uri string) []protocol.Diagnostic {
	c.diagnosticsMu.RLock()
	defer c.diagnosticsMu.RUnlock()
	return c.diagnostics[uri]
}

// PrepareRename checks whether the symbol at the position can be renamed.
// The raw result is returned as-is: servers answer with a bare range, a
// range-plus-placeholder object, or a defaultBehavior marker.
func (c *Client) PrepareRename(ctx context.Context, path string, pos Position) (json.RawMessage, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position":     pos.toProtocol(),
	}

	var raw json.RawMessage
	if err := c.SendRequest(ctx, "textDocument/prepareRename", params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Rename returns the workspace edit that renames the symbol at the position.
func (c *Client) Rename(ctx context.Context, path string, pos Position, newName string) (*protocol.WorkspaceEdit, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position":     pos.toProtocol(),
		"newName":      newName,
	}

	var result *protocol.WorkspaceEdit
	if err := c.SendRequest(ctx, "textDocument/rename", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CodeAction returns the code actions available for a range, optionally
// filtered to the given kinds.
func (c *Client) CodeAction(ctx context.Context, path string, rng Range, onlyKinds []string) ([]protocol.CodeAction, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}

	actionContext := map[string]any{
		"diagnostics": []any{},
	}
	if len(onlyKinds) > 0 {
		actionContext["only"] = onlyKinds
	}
	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"range":        rng.toProtocol(),
		"context":      actionContext,
	}

	var result []protocol.CodeAction
	if err := c.SendRequest(ctx, "textDocument/codeAction", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CodeActionResolve fills in the edit of a previously returned code action.
func (c *Client) CodeActionResolve(ctx context.Context, action protocol.CodeAction) (*protocol.CodeAction, error) {
	var result protocol.CodeAction
	if err := c.SendRequest(ctx, "codeAction/resolve", action, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// parseLocationResult normalizes the three shapes servers return for
// location-valued requests into a flat []Location.
func parseLocationResult(raw json.RawMessage) ([]protocol.Location, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single protocol.Location
	if err := json.Unmarshal(raw, &single); err == nil && single.Uri != "" {
		return []protocol.Location{single}, nil
	}

	var many []protocol.Location
	if err := json.Unmarshal(raw, &many); err == nil && (len(many) == 0 || many[0].Uri != "") {
		return many, nil
	}

	var links []struct {
		TargetUri   protocol.DocumentUri `json:"targetUri"`
		TargetRange protocol.Range       `json:"targetRange"`
	}
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, fmt.Errorf("unrecognized location result: %w", err)
	}
	locations := make([]protocol.Location, 0, len(links))
	for _, l := range links {
		locations = append(locations, protocol.Location{Uri: l.TargetUri, Range: l.TargetRange})
	}
	return locations, nil
}
