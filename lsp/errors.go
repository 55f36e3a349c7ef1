package lsp

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// Sentinel errors returned by connection-level guards.
var (
	// ErrNotRunning indicates the server process has exited or was never started.
	ErrNotRunning = errors.New("language server is not running")

	// ErrNotWritable indicates the server's stdin pipe is no longer writable.
	ErrNotWritable = errors.New("language server stdin is not writable")

	// ErrMaxRetriesExceeded indicates a server failed to start too many times
	// and will not be retried until its state is explicitly reset.
	ErrMaxRetriesExceeded = errors.New("max start retries exceeded")
)

// ServerUnavailableError is returned when a server cannot be started (binary
// missing, not executable, permission denied) or is refusing starts because it
// is in cooldown. It is recoverable: installing the binary and resetting the
// server state clears it.
type ServerUnavailableError struct {
	ServerID string
	Command  string
	Reason   string
	Err      error
}

func (e *ServerUnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("language server %q unavailable: %s (command: %s)", e.ServerID, e.Reason, e.Command)
	}
	return fmt.Sprintf("language server %q unavailable (command: %s): %v", e.ServerID, e.Command, e.Err)
}

func (e *ServerUnavailableError) Unwrap() error { return e.Err }

// ServerExitedError is returned when the server process terminated during or
// shortly after startup, before becoming usable.
type ServerExitedError struct {
	ServerID string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ServerExitedError) Error() string {
	msg := fmt.Sprintf("language server %q exited unexpectedly (exit code %d)", e.ServerID, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ServerExitedError) Unwrap() error { return e.Err }

// RequestTimeoutError is returned when a single in-flight request exceeded its
// deadline. The connection itself remains usable.
type RequestTimeoutError struct {
	Method  string
	Timeout string
	Stderr  string
}

func (e *RequestTimeoutError) Error() string {
	msg := fmt.Sprintf("request %q timed out after %s", e.Method, e.Timeout)
	if e.Stderr != "" {
		msg += "; recent server stderr: " + e.Stderr
	}
	return msg
}

// RPCError is a JSON-RPC error object returned by the server for a request.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// classifySpawnError turns an exec failure into a ServerUnavailableError with
// a human explanation derived from the OS error.
func classifySpawnError(serverID, command string, err error) *ServerUnavailableError {
	reason := ""
	switch {
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist):
		reason = fmt.Sprintf("executable %q not found; is it installed and on PATH?", command)
	case errors.Is(err, fs.ErrPermission):
		reason = fmt.Sprintf("executable %q is not runnable (permission denied)", command)
	case strings.Contains(err.Error(), "exec format error"):
		reason = fmt.Sprintf("executable %q is not a valid binary for this platform", command)
	}
	return &ServerUnavailableError{
		ServerID: serverID,
		Command:  command,
		Reason:   reason,
		Err:      err,
	}
}
