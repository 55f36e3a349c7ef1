package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"
	"github.com/cpa02cmz/oh-my-opencode-sub000/lsp"
	"github.com/cpa02cmz/oh-my-opencode-sub000/security"

	"github.com/mark3labs/mcp-go/server"
)

// Bridge routes tool requests to pooled language server connections. It owns
// the path-to-server resolution: validate the path, infer its language, find
// the configured server and the project root, then borrow a client from the
// manager.
type Bridge struct {
	manager            *lsp.Manager
	config             *lsp.LSPServerConfig
	server             *server.MCPServer
	allowedDirectories []string
}

// NewBridge creates a bridge over an externally constructed manager and
// configuration.
func NewBridge(manager *lsp.Manager, config *lsp.LSPServerConfig, allowedDirectories []string) *Bridge {
	return &Bridge{
		manager:            manager,
		config:             config,
		allowedDirectories: allowedDirectories,
	}
}

func (b *Bridge) Manager() *lsp.Manager { return b.manager }

func (b *Bridge) Config() *lsp.LSPServerConfig { return b.config }

func (b *Bridge) AllowedDirectories() []string { return b.allowedDirectories }

// GetServer returns the bridge's MCP server.
func (b *Bridge) GetServer() *server.MCPServer { return b.server }

// SetServer sets the bridge's MCP server.
func (b *Bridge) SetServer(mcpServer *server.MCPServer) { b.server = mcpServer }

// ValidateDocumentPath checks a tool-supplied path against the allowed
// directories and returns its absolute form.
func (b *Bridge) ValidateDocumentPath(path string) (string, error) {
	return security.ValidateDocumentPath(path, b.allowedDirectories)
}

// InferLanguage infers the language id from a file path's extension.
func (b *Bridge) InferLanguage(filePath string) (string, error) {
	return b.config.LanguageForExtension(filepath.Ext(filePath))
}

// DetectProjectLanguages detects all languages used under a project path.
func (b *Bridge) DetectProjectLanguages(projectPath string) ([]string, error) {
	if b.config == nil {
		return nil, errors.New("no LSP configuration available")
	}
	return b.config.DetectProjectLanguages(projectPath)
}

// DetectPrimaryProjectLanguage detects the dominant language of a project.
func (b *Bridge) DetectPrimaryProjectLanguage(projectPath string) (string, error) {
	if b.config == nil {
		return "", errors.New("no LSP configuration available")
	}
	return b.config.DetectPrimaryProjectLanguage(projectPath)
}

// rootMarkerFiles are filenames whose presence marks a project root when
// walking up from a source file.
var rootMarkerFiles = []string{
	".git",
	"go.mod",
	"package.json",
	"tsconfig.json",
	"Cargo.toml",
	"pyproject.toml",
	"setup.py",
	"pom.xml",
	"build.gradle",
	"Gemfile",
	"composer.json",
}

// ProjectRootForFile walks up from the file's directory looking for a root
// marker. The walk stops at the boundary of the allowed directories; without
// a marker the file's own directory is the root.
func (b *Bridge) ProjectRootForFile(absPath string) string {
	dir := filepath.Dir(absPath)

	for current := dir; ; {
		if len(b.allowedDirectories) > 0 && !b.withinAllowed(current) {
			break
		}
		for _, marker := range rootMarkerFiles {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return dir
}

func (b *Bridge) withinAllowed(path string) bool {
	for _, allowed := range b.allowedDirectories {
		if security.IsWithinAllowedDirectory(path, allowed) {
			return true
		}
	}
	return false
}

// ResolveFile validates a path and resolves the server identity and project
// root responsible for it.
func (b *Bridge) ResolveFile(path string) (absPath string, identity lsp.ServerIdentity, root string, err error) {
	absPath, err = b.ValidateDocumentPath(path)
	if err != nil {
		return "", lsp.ServerIdentity{}, "", err
	}

	language, err := b.InferLanguage(absPath)
	if err != nil {
		return "", lsp.ServerIdentity{}, "", fmt.Errorf("failed to infer language: %w", err)
	}

	identity, err = b.config.FindServerIdentity(language)
	if err != nil {
		return "", lsp.ServerIdentity{}, "", err
	}

	return absPath, identity, b.ProjectRootForFile(absPath), nil
}

// AcquireForFile borrows an initialized client for the server responsible
// for a file. The returned release must be called when the operation is
// done.
func (b *Bridge) AcquireForFile(ctx context.Context, path string) (client *lsp.Client, absPath string, release func(), err error) {
	absPath, identity, root, err := b.ResolveFile(path)
	if err != nil {
		return nil, "", nil, err
	}

	client, err = b.manager.GetClient(ctx, root, identity)
	if err != nil {
		return nil, "", nil, err
	}
	return client, absPath, func() { b.manager.ReleaseClient(root, identity.ID) }, nil
}

// AcquireForLanguage borrows a client for a language rooted at an explicit
// project path, for operations that have no file argument.
func (b *Bridge) AcquireForLanguage(ctx context.Context, language, root string) (*lsp.Client, func(), error) {
	identity, err := b.config.FindServerIdentity(language)
	if err != nil {
		return nil, nil, err
	}

	client, err := b.manager.GetClient(ctx, root, identity)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { b.manager.ReleaseClient(root, identity.ID) }, nil
}

// DefaultRoot returns the project root used when a tool supplies none: the
// first allowed directory, else the working directory.
func (b *Bridge) DefaultRoot() string {
	if len(b.allowedDirectories) > 0 {
		return b.allowedDirectories[0]
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// ConnectLanguage pre-warms the server for a language at a project root.
// Spawn failures surface later through server status, not here.
func (b *Bridge) ConnectLanguage(language, root string) (string, error) {
	identity, err := b.config.FindServerIdentity(language)
	if err != nil {
		return "", err
	}

	b.manager.WarmupClient(root, identity)
	logger.Info(fmt.Sprintf("Requested warmup of %s for %s at %s", identity.ID, language, root))
	return identity.ID, nil
}

// DisconnectAll stops every pooled language server.
func (b *Bridge) DisconnectAll() int {
	return b.manager.StopAll()
}

// NormalizeURI ensures a file path or URI has the file:// scheme.
func NormalizeURI(pathOrURI string) string {
	if strings.Contains(pathOrURI, "://") {
		return pathOrURI
	}
	return lsp.FileToURI(pathOrURI)
}
