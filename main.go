package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cpa02cmz/oh-my-opencode-sub000/bridge"
	"github.com/cpa02cmz/oh-my-opencode-sub000/directories"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"
	"github.com/cpa02cmz/oh-my-opencode-sub000/lsp"
	"github.com/cpa02cmz/oh-my-opencode-sub000/mcpserver"

	"github.com/mark3labs/mcp-go/server"
)

const appName = "oh-my-opencode-lsp"

// tryLoadConfig attempts to load configuration from the primary path and a
// set of fallback locations.
func tryLoadConfig(primaryPath, configDir string, allowedDirs []string) (*lsp.LSPServerConfig, error) {
	if config, err := lsp.LoadLSPConfig(primaryPath, allowedDirs); err == nil {
		return config, nil
	}

	fallbackPaths := []string{
		"lsp_config.json",
		filepath.Join(configDir, "config.json"),
		"example.lsp_config.json",
	}

	for _, fallbackPath := range fallbackPaths {
		if fallbackPath == primaryPath {
			continue
		}
		if config, err := lsp.LoadLSPConfig(fallbackPath, allowedDirs); err == nil {
			fmt.Fprintf(os.Stderr, "INFO: Loaded configuration from fallback location: %s\n", fallbackPath)
			return config, nil
		}
	}

	return nil, errors.New("no valid configuration found")
}

func main() {
	dirResolver := directories.NewDirectoryResolver(appName, directories.DefaultUserProvider{}, directories.NewDefaultEnvProvider(), true)

	configDir, err := dirResolver.GetConfigDirectory()
	if err != nil {
		log.Fatalf("Failed to get config directory: %v", err)
	}

	logDir, err := dirResolver.GetLogDirectory()
	if err != nil {
		log.Fatalf("Failed to get log directory: %v", err)
	}

	defaultConfigPath := filepath.Join(configDir, "lsp_config.json")
	defaultLogPath := filepath.Join(logDir, appName+".log")

	var confPath string
	var logPath string
	var logLevel string
	var workspaces string
	flag.StringVar(&confPath, "config", defaultConfigPath, "Path to LSP configuration file")
	flag.StringVar(&confPath, "c", defaultConfigPath, "Path to LSP configuration file (short)")
	flag.StringVar(&logPath, "log-path", "", "Path to log file (overrides config and default)")
	flag.StringVar(&logPath, "l", "", "Path to log file (short)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&workspaces, "workspace", "", "Comma-separated allowed project directories (default: working directory)")
	flag.Parse()

	allowedDirs := allowedDirectories(workspaces)

	config, err := tryLoadConfig(confPath, configDir, append([]string{configDir}, allowedDirs...))
	logConfig := logger.LoggerConfig{}

	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to load LSP config from '%s': %v\n", confPath, err)
		fmt.Fprintln(os.Stderr, "NOTICE: Using minimal default configuration. LSP functionality will be limited.")

		logConfig = logger.LoggerConfig{
			LogPath:     defaultLogPath,
			LogLevel:    "debug",
			MaxLogFiles: 10,
		}
		config = &lsp.LSPServerConfig{
			LanguageServers:      make(map[string]lsp.ServerIdentity),
			LanguageServerMap:    make(map[string][]string),
			ExtensionLanguageMap: make(map[string]string),
		}
	} else {
		logConfig = logger.LoggerConfig{
			LogPath:     config.Global.LogPath,
			LogLevel:    config.Global.LogLevel,
			MaxLogFiles: config.Global.MaxLogFiles,
		}
	}

	if logPath != "" {
		logConfig.LogPath = logPath
	}
	if logLevel != "" {
		logConfig.LogLevel = logLevel
	}
	if logConfig.LogPath == "" {
		logConfig.LogPath = defaultLogPath
	}

	if err := logger.InitLogger(logConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Info("Starting " + appName + "...")

	manager := lsp.NewManager()
	bridgeInstance := bridge.NewBridge(manager, config, allowedDirs)
	mcpServer := mcpserver.SetupMCPServer(bridgeInstance)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ServeStdio(mcpServer)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Termination signal received, shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("MCP server error: " + err.Error())
		}
	}

	// Stop every spawned language server before exiting so none outlive us.
	manager.Shutdown()
}

func allowedDirectories(workspaces string) []string {
	var dirs []string
	for _, dir := range strings.Split(workspaces, ",") {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dirs = append(dirs, abs)
		}
	}
	if len(dirs) == 0 {
		if wd, err := os.Getwd(); err == nil {
			dirs = append(dirs, wd)
		}
	}
	return dirs
}
