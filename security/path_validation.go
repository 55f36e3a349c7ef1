package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// GetCleanAbsPath rejects empty paths and returns a cleaned absolute path.
func GetCleanAbsPath(path string) (string, error) {
	if path == "" || path == "." {
		return "", errors.New("path cannot be empty or current directory")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}
	return absPath, nil
}

// IsWithinAllowedDirectory reports whether path is baseDir itself or a
// descendant of it. A parent of baseDir is never considered within it.
func IsWithinAllowedDirectory(path, baseDir string) bool {
	absBase, _ := filepath.Abs(baseDir)
	absPath, _ := filepath.Abs(path)

	cleanBase := filepath.Clean(absBase)
	cleanPath := filepath.Clean(absPath)

	if cleanPath == cleanBase {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator))
}

// ValidateConfigPath validates a configuration file path against the allowed
// directories and returns its cleaned absolute form.
func ValidateConfigPath(path string, allowedDirectories []string) (string, error) {
	cleanPath, err := GetCleanAbsPath(path)
	if err != nil {
		return "", fmt.Errorf("invalid config path: %w", err)
	}

	if !slices.Contains(allowedDirectories, ".") {
		allowedDirectories = append(allowedDirectories, ".")
	}

	for _, allowedDir := range allowedDirectories {
		if IsWithinAllowedDirectory(cleanPath, allowedDir) {
			return cleanPath, nil
		}
	}
	return "", fmt.Errorf("file path is not allowed: %s", cleanPath)
}

// ValidateDocumentPath validates a source file path handed to a tool. When
// allowedDirectories is empty any absolute path is accepted.
func ValidateDocumentPath(path string, allowedDirectories []string) (string, error) {
	cleanPath, err := GetCleanAbsPath(path)
	if err != nil {
		return "", fmt.Errorf("invalid document path: %w", err)
	}

	if len(allowedDirectories) == 0 {
		return cleanPath, nil
	}
	for _, allowedDir := range allowedDirectories {
		if IsWithinAllowedDirectory(cleanPath, allowedDir) {
			return cleanPath, nil
		}
	}
	return "", fmt.Errorf("file path is not allowed: %s", cleanPath)
}

// GetConfigAllowedDirectories builds the directory allowlist for config
// loading from the explicit config dir and the working dir.
func GetConfigAllowedDirectories(configDir, workingDir string) []string {
	allowedDirs := []string{}
	if configDir != "" {
		allowedDirs = append(allowedDirs, configDir)
	}
	if workingDir != "" {
		allowedDirs = append(allowedDirs, workingDir)
	}
	return append(allowedDirs, ".")
}
