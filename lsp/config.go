package lsp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"
	"github.com/cpa02cmz/oh-my-opencode-sub000/security"
)

// ServerIdentity is everything needed to spawn and initialize one language
// server. The ID is the config key (e.g. "gopls") and, together with the
// project root, identifies a pooled connection.
type ServerIdentity struct {
	ID                    string            `json:"-"`
	Command               string            `json:"command"`
	Args                  []string          `json:"args"`
	Env                   map[string]string `json:"env,omitempty"`
	Languages             []string          `json:"languages,omitempty"`
	InitializationOptions map[string]any    `json:"initialization_options,omitempty"`
}

// GlobalConfig holds settings that apply across all servers.
type GlobalConfig struct {
	LogPath     string `json:"log_file_path"`
	LogLevel    string `json:"log_level"`
	MaxLogFiles int    `json:"max_log_files"`
}

// LSPServerConfig is the parsed configuration file: the server catalog plus
// the language and extension routing tables.
type LSPServerConfig struct {
	Global               GlobalConfig              `json:"global"`
	LanguageServers      map[string]ServerIdentity `json:"language_servers"`
	LanguageServerMap    map[string][]string       `json:"language_server_map"`
	ExtensionLanguageMap map[string]string         `json:"extension_language_map"`
}

// LoadLSPConfig loads the configuration from a JSON file with path
// validation against the allowed directories.
func LoadLSPConfig(path string, allowedDirectories []string) (config *LSPServerConfig, err error) {
	cleanPath, err := security.ValidateConfigPath(path, allowedDirectories)
	if err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	file, err := os.Open(cleanPath) // #nosec G304 - Path validated by security.ValidateConfigPath
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.LanguageServers == nil {
		return nil, errors.New("language_servers is required in configuration")
	}

	if config.LanguageServerMap == nil {
		return nil, errors.New("language_server_map is required in configuration")
	}

	// The map key is the canonical server id; stamp it onto each identity.
	for id, identity := range config.LanguageServers {
		identity.ID = id
		config.LanguageServers[id] = identity
	}

	return config, nil
}

// LanguageForExtension resolves a file extension (with leading dot) to a
// language id, preferring the config table over the built-in one.
func (c *LSPServerConfig) LanguageForExtension(ext string) (string, error) {
	if language, ok := c.ExtensionLanguageMap[ext]; ok {
		return language, nil
	}
	if language, ok := defaultExtensionLanguages[strings.ToLower(ext)]; ok {
		return language, nil
	}
	return "", fmt.Errorf("no language found for %s", ext)
}

// FindServerIdentity returns the identity of the server configured for a
// language.
func (c *LSPServerConfig) FindServerIdentity(language string) (ServerIdentity, error) {
	for serverID, languages := range c.LanguageServerMap {
		if !slices.Contains(languages, language) {
			continue
		}
		if identity, ok := c.LanguageServers[serverID]; ok {
			return identity, nil
		}
		return ServerIdentity{}, fmt.Errorf("server config not found for server '%s'", serverID)
	}
	return ServerIdentity{}, fmt.Errorf("no server found for language '%s'", language)
}

// ServerIDForLanguage returns the id of the server configured for a language,
// or "" when none is.
func (c *LSPServerConfig) ServerIDForLanguage(language string) string {
	for serverID, languages := range c.LanguageServerMap {
		if slices.Contains(languages, language) {
			return serverID
		}
	}
	return ""
}

// projectRootMarker is a well-known filename whose presence signals a
// project of a particular language.
type projectRootMarker struct {
	filename string
	language string
}

func projectRootMarkers() []projectRootMarker {
	return []projectRootMarker{
		{"go.mod", "go"},
		{"go.sum", "go"},
		{"package.json", "typescript"},
		{"yarn.lock", "typescript"},
		{"package-lock.json", "typescript"},
		{"tsconfig.json", "typescript"},
		{"Cargo.toml", "rust"},
		{"Cargo.lock", "rust"},
		{"pyproject.toml", "python"},
		{"setup.py", "python"},
		{"requirements.txt", "python"},
		{"Pipfile", "python"},
		{"poetry.lock", "python"},
		{"pom.xml", "java"},
		{"build.gradle", "java"},
		{"Gemfile", "ruby"},
		{"composer.json", "php"},
		{"CMakeLists.txt", "cpp"},
		{"Makefile", "c"},
		{"Dockerfile", "dockerfile"},
	}
}

// DetectProjectLanguages scans a directory for root markers and known file
// extensions and returns the languages in use, most likely first.
func (c *LSPServerConfig) DetectProjectLanguages(projectPath string) ([]string, error) {
	if projectPath == "" {
		return nil, errors.New("project path cannot be empty")
	}

	logger.Info(fmt.Sprintf("Detecting project languages in '%s'", projectPath))

	if _, err := os.Stat(projectPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("project directory does not exist: %s", projectPath)
	}

	languageScores := make(map[string]int)

	// Root markers dominate extension counts.
	for _, marker := range projectRootMarkers() {
		markerPath := filepath.Join(projectPath, marker.filename)
		if _, err := os.Stat(markerPath); err == nil {
			languageScores[marker.language] += 100
		}
	}

	err := filepath.Walk(projectPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") && name != "." {
				return filepath.SkipDir
			}
			switch name {
			case "node_modules", "target", "build", "dist", "vendor":
				return filepath.SkipDir
			}
			return nil
		}

		if language, err := c.LanguageForExtension(filepath.Ext(path)); err == nil {
			languageScores[language]++
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("error walking project directory: %w", err)
	}

	type languageScore struct {
		language string
		score    int
	}

	sorted := make([]languageScore, 0, len(languageScores))
	for lang, score := range languageScores {
		sorted = append(sorted, languageScore{lang, score})
	}
	slices.SortFunc(sorted, func(a, b languageScore) int {
		if a.score != b.score {
			return b.score - a.score
		}
		return strings.Compare(a.language, b.language)
	})

	result := make([]string, 0, len(sorted))
	for _, ls := range sorted {
		result = append(result, ls.language)
	}

	if len(result) == 0 {
		return nil, errors.New("no recognizable project languages found")
	}
	return result, nil
}

// DetectPrimaryProjectLanguage returns the most likely language for a
// project.
func (c *LSPServerConfig) DetectPrimaryProjectLanguage(projectPath string) (string, error) {
	languages, err := c.DetectProjectLanguages(projectPath)
	if err != nil {
		return "", err
	}
	return languages[0], nil
}
