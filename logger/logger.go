package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch s {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

type LoggerConfig struct {
	LogPath     string
	LogLevel    string // "debug", "info", "warn", "error"
	MaxLogFiles int
}

var (
	minLevel    level
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
	logFile     *os.File
	logMutex    sync.Mutex
)

// DefaultConfig provides a default logging configuration.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		LogPath:     filepath.Join(os.TempDir(), "oh-my-opencode-lsp.log"),
		LogLevel:    "info",
		MaxLogFiles: 5,
	}
}

// InitLogger sets up file-based logging. Logs go to a file, never stdout,
// because stdout carries the protocol stream.
func InitLogger(cfg LoggerConfig) error {
	logMutex.Lock()
	defer logMutex.Unlock()

	if cfg.LogPath == "" {
		cfg = DefaultConfig()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}

	rotateLogFiles(cfg)

	file, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	logFile = file
	minLevel = parseLevel(cfg.LogLevel)

	flags := log.Ldate | log.Ltime | log.Lshortfile
	debugLogger = log.New(file, "DEBUG: ", flags)
	infoLogger = log.New(file, "INFO: ", flags)
	warnLogger = log.New(file, "WARN: ", flags)
	errorLogger = log.New(file, "ERROR: ", flags)

	return nil
}

// rotateLogFiles removes the oldest rotated log files beyond the cap.
func rotateLogFiles(cfg LoggerConfig) {
	if cfg.MaxLogFiles <= 0 {
		return
	}

	baseDir := filepath.Dir(cfg.LogPath)
	baseFileName := filepath.Base(cfg.LogPath)
	files, _ := filepath.Glob(filepath.Join(baseDir, baseFileName+".*"))

	if len(files) >= cfg.MaxLogFiles {
		sort.Slice(files, func(i, j int) bool {
			fiA, _ := os.Stat(files[i])
			fiB, _ := os.Stat(files[j])
			return fiA.ModTime().Before(fiB.ModTime())
		})

		for _, oldFile := range files[:len(files)-cfg.MaxLogFiles+1] {
			if err := os.Remove(oldFile); err != nil {
				Error(fmt.Errorf("failed to remove old log file: %v", err))
			}
		}
	}
}

// Debug logs a debug message with caller context.
func Debug(v ...any) {
	if minLevel <= levelDebug && debugLogger != nil {
		_ = debugLogger.Output(2, fmt.Sprintln(v...))
	}
}

// Info logs an informational message with caller context.
func Info(v ...any) {
	if minLevel <= levelInfo && infoLogger != nil {
		_ = infoLogger.Output(2, fmt.Sprintln(v...))
	}
}

// Warn logs a warning message with caller context.
func Warn(v ...any) {
	if minLevel <= levelWarn && warnLogger != nil {
		_ = warnLogger.Output(2, fmt.Sprintln(v...))
	}
}

// Error logs an error message with caller context. Errors are always
// emitted.
func Error(v ...any) {
	if errorLogger != nil {
		_ = errorLogger.Output(2, fmt.Sprintln(v...))
	}
}

// Close closes the log file.
func Close() {
	logMutex.Lock()
	defer logMutex.Unlock()

	if logFile != nil {
		if err := logFile.Close(); err != nil {
			log.Printf("failed to close log file: %v", err)
		}
	}
}
