package lsp

import (
	"path/filepath"
	"strings"
)

// defaultExtensionLanguages maps file extensions to LSP language identifiers.
// Config may extend or override these via ExtensionLanguageMap.
var defaultExtensionLanguages = map[string]string{
	".go":         "go",
	".mod":        "go.mod",
	".sum":        "go.sum",
	".ts":         "typescript",
	".tsx":        "typescriptreact",
	".mts":        "typescript",
	".cts":        "typescript",
	".js":         "javascript",
	".jsx":        "javascriptreact",
	".mjs":        "javascript",
	".cjs":        "javascript",
	".py":         "python",
	".pyi":        "python",
	".rs":         "rust",
	".c":          "c",
	".h":          "c",
	".cpp":        "cpp",
	".cc":         "cpp",
	".cxx":        "cpp",
	".hpp":        "cpp",
	".java":       "java",
	".rb":         "ruby",
	".php":        "php",
	".cs":         "csharp",
	".swift":      "swift",
	".kt":         "kotlin",
	".kts":        "kotlin",
	".scala":      "scala",
	".lua":        "lua",
	".zig":        "zig",
	".ex":         "elixir",
	".exs":        "elixir",
	".erl":        "erlang",
	".hs":         "haskell",
	".ml":         "ocaml",
	".mli":        "ocaml",
	".sh":         "shellscript",
	".bash":       "shellscript",
	".zsh":        "shellscript",
	".json":       "json",
	".jsonc":      "jsonc",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".xml":        "xml",
	".html":       "html",
	".htm":        "html",
	".css":        "css",
	".scss":       "scss",
	".less":       "less",
	".md":         "markdown",
	".sql":        "sql",
	".proto":      "proto",
	".tf":         "terraform",
	".vue":        "vue",
	".svelte":     "svelte",
	".dart":       "dart",
	".r":          "r",
	".tex":        "latex",
	".vim":        "vim",
	".dockerfile": "dockerfile",
}

// DetectLanguageID returns the LSP language identifier for a file path based
// on its extension. Unknown extensions fall back to "plaintext".
func DetectLanguageID(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(base, "Dockerfile") {
		return "dockerfile"
	}
	if strings.EqualFold(base, "Makefile") {
		return "makefile"
	}

	ext := strings.ToLower(filepath.Ext(base))
	if lang, ok := defaultExtensionLanguages[ext]; ok {
		return lang
	}
	return "plaintext"
}
