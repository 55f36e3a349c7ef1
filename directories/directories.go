// Package directories resolves per-user application directories following
// platform conventions (XDG on Unix, known folders on Windows).
package directories

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// EnvProvider provides access to environment variables.
type EnvProvider interface {
	Getenv(key string) string
}

// DefaultEnvProvider reads the process environment.
type DefaultEnvProvider struct{}

func NewDefaultEnvProvider() DefaultEnvProvider { return DefaultEnvProvider{} }

func (DefaultEnvProvider) Getenv(key string) string { return os.Getenv(key) }

// UserProvider provides access to the current user's information.
type UserProvider interface {
	Current() (*user.User, error)
}

// DefaultUserProvider wraps user.Current.
type DefaultUserProvider struct{}

func (DefaultUserProvider) Current() (*user.User, error) { return user.Current() }

// DirectoryResolver resolves application directories for one app name.
type DirectoryResolver struct {
	appName         string
	userProvider    UserProvider
	envProvider     EnvProvider
	shouldEnsureDir bool
}

// NewDirectoryResolver creates a resolver with explicit providers; tests
// inject fakes here.
func NewDirectoryResolver(appName string, userProvider UserProvider, envProvider EnvProvider, shouldEnsureDir bool) *DirectoryResolver {
	return &DirectoryResolver{
		appName:         appName,
		userProvider:    userProvider,
		envProvider:     envProvider,
		shouldEnsureDir: shouldEnsureDir,
	}
}

func (dr *DirectoryResolver) isRoot() (bool, error) {
	u, err := dr.userProvider.Current()
	if err != nil {
		return false, fmt.Errorf("failed to get current user: %w", err)
	}
	return u.Uid == "0", nil
}

func (dr *DirectoryResolver) maybeEnsureDir(dir string) (string, error) {
	if !dr.shouldEnsureDir {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return dir, nil
}

// userBaseDir resolves an XDG-style base directory: the env var when set,
// else the fallback path segments under the user's home.
func (dr *DirectoryResolver) userBaseDir(envVar string, fallback ...string) (string, error) {
	if base := dr.envProvider.Getenv(envVar); base != "" {
		return base, nil
	}
	u, err := dr.userProvider.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return filepath.Join(append([]string{u.HomeDir}, fallback...)...), nil
}

// GetLogDirectory returns the log directory: /var/log/{app} for root,
// XDG data home (or %LOCALAPPDATA%) under regular users.
func (dr *DirectoryResolver) GetLogDirectory() (string, error) {
	isR, err := dr.isRoot()
	if err != nil {
		return "", fmt.Errorf("failed to check if user is root: %w", err)
	}
	if isR {
		return dr.maybeEnsureDir(filepath.Join("/", "var", "log", dr.appName))
	}

	if runtime.GOOS == "windows" {
		base, err := dr.userBaseDir("LOCALAPPDATA", "AppData", "Local")
		if err != nil {
			return "", err
		}
		return dr.maybeEnsureDir(filepath.Join(base, dr.appName, "logs"))
	}

	base, err := dr.userBaseDir("XDG_DATA_HOME", ".local", "share")
	if err != nil {
		return "", err
	}
	return dr.maybeEnsureDir(filepath.Join(base, dr.appName, "logs"))
}

// GetConfigDirectory returns the configuration directory: /etc/{app} for
// root, XDG config home (or %APPDATA%) under regular users.
func (dr *DirectoryResolver) GetConfigDirectory() (string, error) {
	isR, err := dr.isRoot()
	if err != nil {
		return "", fmt.Errorf("failed to check if user is root: %w", err)
	}
	if isR {
		return dr.maybeEnsureDir(filepath.Join("/", "etc", dr.appName))
	}

	if runtime.GOOS == "windows" {
		base, err := dr.userBaseDir("APPDATA", "AppData", "Roaming")
		if err != nil {
			return "", err
		}
		return dr.maybeEnsureDir(filepath.Join(base, dr.appName))
	}

	base, err := dr.userBaseDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return dr.maybeEnsureDir(filepath.Join(base, dr.appName))
}
