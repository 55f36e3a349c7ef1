package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

const (
	defaultRequestTimeout = 15 * time.Second
	spawnSettleDelay      = 100 * time.Millisecond
	initializeSettleDelay = 500 * time.Millisecond
	openSettleDelay       = 300 * time.Millisecond

	// stderrRingSize bounds the retained stderr chunks used in error messages.
	stderrRingSize = 100
)

// Client owns a single spawned language server process and multiplexes
// concurrent requests over its stdio pipes. All exported methods are safe for
// concurrent use; internal state is only mutated by the client's own I/O
// goroutines and by calls routed through these methods.
type Client struct {
	identity ServerIdentity
	rootDir  string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser

	// writeMu serializes stdin writes separately from c.mu so a stalled
	// pipe write never blocks response dispatch or timeout delivery.
	writeMu sync.Mutex

	nextID  atomic.Int64
	pending map[int64]chan *Message

	// openedDocs maps an absolute path to a channel closed once its didOpen
	// notification is on the wire. Entries are removed if the open fails.
	openedDocs map[string]chan struct{}

	diagnosticsMu sync.RWMutex
	diagnostics   map[string][]protocol.Diagnostic

	stderrMu   sync.Mutex
	stderrRing []string

	exited   atomic.Bool
	writable atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
	exitCode atomic.Int32

	serverCapabilities protocol.ServerCapabilities

	requestTimeout time.Duration
	settleDelays   bool
}

// NewClient creates a client for the given server identity rooted at rootDir.
// The process is not spawned until Start is called.
func NewClient(identity ServerIdentity, rootDir string) *Client {
	return &Client{
		identity:       identity,
		rootDir:        rootDir,
		pending:        make(map[int64]chan *Message),
		openedDocs:     make(map[string]chan struct{}),
		diagnostics:    make(map[string][]protocol.Diagnostic),
		done:           make(chan struct{}),
		requestTimeout: defaultRequestTimeout,
		settleDelays:   true,
	}
}

// ServerID returns the identity id of the server this client speaks to.
func (c *Client) ServerID() string { return c.identity.ID }

// RootDir returns the project root this client was spawned for.
func (c *Client) RootDir() string { return c.rootDir }

// Start spawns the server process with its three pipes attached and begins
// the reader loops. Spawn failures are classified into a recoverable
// ServerUnavailableError. If the process dies within the settle window,
// Start fails with a ServerExitedError carrying the captured stderr tail.
func (c *Client) Start(ctx context.Context) error {
	logger.Info(fmt.Sprintf("Starting language server %q: %s %v (root: %s)",
		c.identity.ID, c.identity.Command, c.identity.Args, c.rootDir))

	cmd := exec.Command(c.identity.Command, c.identity.Args...)
	cmd.Dir = c.rootDir
	cmd.Env = os.Environ()
	for k, v := range c.identity.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	setProcAttributes(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return classifySpawnError(c.identity.ID, c.identity.Command, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.mu.Unlock()
	c.writable.Store(true)

	go c.watchExit(cmd)
	go c.readLoop(stdout)
	go c.stderrLoop(stderr)

	// Some binaries exist but die immediately (bad flags, missing runtime).
	// Re-check after a short settle window so the failure surfaces here with
	// stderr attached instead of as a timeout on the first request.
	if c.settleDelays {
		select {
		case <-time.After(spawnSettleDelay):
		case <-ctx.Done():
			c.Stop()
			return ctx.Err()
		case <-c.done:
		}
	}
	if c.exited.Load() {
		return &ServerExitedError{
			ServerID: c.identity.ID,
			ExitCode: int(c.exitCode.Load()),
			Stderr:   c.recentStderr(),
			Err:      ErrNotRunning,
		}
	}
	return nil
}

// watchExit waits for process exit, then rejects every pending request and
// marks the client dead exactly once.
func (c *Client) watchExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		logger.Warn(fmt.Sprintf("Language server %q exited: %v", c.identity.ID, err))
	}
	c.exitCode.Store(int32(code))
	c.markExited()
}

// markExited flips the terminal flags and releases all waiters. Safe to call
// from the exit watcher, the read loop, and Stop concurrently.
func (c *Client) markExited() {
	c.writable.Store(false)
	c.exited.Store(true)
	c.doneOnce.Do(func() { close(c.done) })
}

// readLoop drains stdout into the receive buffer and decodes complete frames.
func (c *Client) readLoop(stdout io.ReadCloser) {
	var recvBuf []byte
	chunk := make([]byte, 32*1024)

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			recvBuf = append(recvBuf, chunk[:n]...)
			for {
				msg, rest := DecodeMessage(recvBuf)
				recvBuf = rest
				if msg == nil {
					break
				}
				c.dispatch(msg)
			}
		}
		if err != nil {
			c.markExited()
			return
		}
	}
}

// stderrLoop retains a bounded ring of recent stderr output for diagnostics.
func (c *Client) stderrLoop(stderr io.ReadCloser) {
	chunk := make([]byte, 4*1024)
	for {
		n, err := stderr.Read(chunk)
		if n > 0 {
			c.stderrMu.Lock()
			c.stderrRing = append(c.stderrRing, string(chunk[:n]))
			if len(c.stderrRing) > stderrRingSize {
				c.stderrRing = c.stderrRing[len(c.stderrRing)-stderrRingSize:]
			}
			c.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// recentStderr returns the tail of captured stderr, whitespace-trimmed.
func (c *Client) recentStderr() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()

	tail := c.stderrRing
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	return strings.TrimSpace(strings.Join(tail, ""))
}

// dispatch routes one decoded message. Classification happened at decode
// time, so this is an exhaustive switch.
func (c *Client) dispatch(msg *Message) {
	switch msg.Kind {
	case KindResponse:
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()

		if !ok {
			// Stale or unknown id (e.g. the waiter already timed out).
			logger.Debug(fmt.Sprintf("Dropping response for unknown request id %d", msg.ID))
			return
		}
		ch <- msg

	case KindNotification:
		if msg.Method == "textDocument/publishDiagnostics" {
			c.handlePublishDiagnostics(msg.Params)
		}

	case KindServerRequest:
		c.handleServerRequest(msg)
	}
}

// handlePublishDiagnostics replaces the cached diagnostics for a URI.
func (c *Client) handlePublishDiagnostics(params json.RawMessage) {
	var p struct {
		Uri         string                `json:"uri"`
		Diagnostics []protocol.Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		logger.Debug(fmt.Sprintf("Ignoring malformed publishDiagnostics: %v", err))
		return
	}

	c.diagnosticsMu.Lock()
	c.diagnostics[p.Uri] = p.Diagnostics
	c.diagnosticsMu.Unlock()
}

// handleServerRequest answers the server-initiated requests that need a
// response. Anything else is ignored; servers tolerate unanswered optional
// capabilities.
func (c *Client) handleServerRequest(msg *Message) {
	switch msg.Method {
	case "workspace/configuration":
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		settings := []any{}
		if err := json.Unmarshal(msg.Params, &p); err == nil {
			for range p.Items {
				settings = append(settings, map[string]any{})
			}
		}
		c.respond(msg.RawID, settings)

	case "client/registerCapability", "window/workDoneProgress/create":
		c.respond(msg.RawID, nil)

	default:
		logger.Debug(fmt.Sprintf("Ignoring server request %q", msg.Method))
	}
}

// SendRequest issues a request and decodes the response into result (which
// may be nil to discard it). Exactly one of response arrival, timeout, or
// process exit resolves the call.
func (c *Client) SendRequest(ctx context.Context, method string, params any, result any) error {
	if err := c.writeGuard(); err != nil {
		return err
	}

	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	envelope := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		envelope["params"] = params
	}
	if err := c.safeWrite(envelope); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()

	case <-c.done:
		return &ServerExitedError{
			ServerID: c.identity.ID,
			ExitCode: int(c.exitCode.Load()),
			Stderr:   c.recentStderr(),
			Err:      ErrNotRunning,
		}

	case <-timer.C:
		return &RequestTimeoutError{
			Method:  method,
			Timeout: c.requestTimeout.String(),
			Stderr:  c.recentStderr(),
		}

	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil
	}
}

// SendNotification sends a notification. It is a silent no-op when the
// connection is not writable.
func (c *Client) SendNotification(method string, params any) error {
	if c.writeGuard() != nil {
		return nil
	}

	envelope := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if params != nil {
		envelope["params"] = params
	}
	return c.safeWrite(envelope)
}

// respond answers a server-initiated request, echoing its id verbatim.
func (c *Client) respond(rawID json.RawMessage, result any) {
	envelope := map[string]any{
		"jsonrpc": "2.0",
		"id":      rawID,
		"result":  result,
	}
	if err := c.safeWrite(envelope); err != nil {
		logger.Debug(fmt.Sprintf("Failed to answer server request: %v", err))
	}
}

// writeGuard reports why the connection cannot accept writes, with the last
// stderr lines attached for context.
func (c *Client) writeGuard() error {
	c.mu.Lock()
	started := c.cmd != nil
	c.mu.Unlock()

	if !started || c.exited.Load() {
		if tail := c.recentStderr(); tail != "" {
			return fmt.Errorf("%w (recent stderr: %s)", ErrNotRunning, tail)
		}
		return ErrNotRunning
	}
	if !c.writable.Load() {
		return ErrNotWritable
	}
	return nil
}

// safeWrite frames and writes one message. Pipe teardown races with writes
// from concurrent callers, so every failure path flips the writable flag and
// returns an error instead of letting a broken pipe propagate upward.
func (c *Client) safeWrite(payload any) error {
	data, err := EncodeMessage(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	stdin := c.stdin
	started := c.cmd != nil
	reaped := started && c.cmd.ProcessState != nil
	c.mu.Unlock()

	if !started || stdin == nil {
		return ErrNotRunning
	}
	if c.exited.Load() || !c.writable.Load() {
		return ErrNotWritable
	}
	if reaped {
		c.writable.Store(false)
		return ErrNotRunning
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := stdin.Write(data); err != nil {
		c.writable.Store(false)
		return fmt.Errorf("%w: %v", ErrNotWritable, err)
	}
	return nil
}

// Initialize performs the LSP handshake: the initialize request with this
// server's initialization options, the initialized notification, and an
// initial configuration push. A settle delay follows because many servers
// index asynchronously right after the handshake and misbehave if queried
// immediately.
func (c *Client) Initialize(ctx context.Context) error {
	pid := int32(os.Getpid())
	rootURI := FileToURI(c.rootDir)
	docURI := protocol.DocumentUri(rootURI)

	workspaceFolders := []protocol.WorkspaceFolder{
		{Uri: protocol.URI(rootURI), Name: filepath.Base(c.rootDir)},
	}

	params := protocol.InitializeParams{
		ProcessId: &pid,
		ClientInfo: &protocol.ClientInfo{
			Name:    "oh-my-opencode",
			Version: "1.0.0",
		},
		// Older servers read rootUri; current ones read workspaceFolders.
		RootUri:          &docURI,
		WorkspaceFolders: &workspaceFolders,
		Capabilities:     protocol.ClientCapabilities{},
	}
	if c.identity.InitializationOptions != nil {
		params.InitializationOptions = c.identity.InitializationOptions
	}

	var result protocol.InitializeResult
	if err := c.SendRequest(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	c.serverCapabilities = result.Capabilities

	if err := c.SendNotification("initialized", protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	// Push an initial (empty) configuration; servers like gopls expect one.
	settings := map[string]any{"settings": map[string]any{}}
	if err := c.SendNotification("workspace/didChangeConfiguration", settings); err != nil {
		return fmt.Errorf("didChangeConfiguration notification failed: %w", err)
	}

	if c.settleDelays {
		select {
		case <-time.After(initializeSettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return &ServerExitedError{
				ServerID: c.identity.ID,
				ExitCode: int(c.exitCode.Load()),
				Stderr:   c.recentStderr(),
				Err:      ErrNotRunning,
			}
		}
	}
	return nil
}

// ServerCapabilities returns the capabilities announced at initialize.
func (c *Client) ServerCapabilities() protocol.ServerCapabilities {
	return c.serverCapabilities
}

// IsAlive reports whether the process is running and its stdin accepts
// writes. The Manager uses this to decide whether a pooled client may still
// be handed out.
func (c *Client) IsAlive() bool {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()

	if cmd == nil || c.exited.Load() || !c.writable.Load() {
		return false
	}
	return cmd.ProcessState == nil
}

// Stop shuts the server down: best-effort shutdown/exit handshake, then kill.
// Safe to call multiple times and on a client that never started.
func (c *Client) Stop() {
	// The process may already be gone; failures here are expected.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.SendRequest(shutdownCtx, "shutdown", nil, nil)
	_ = c.SendNotification("exit", nil)

	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()

	c.writable.Store(false)
	if cmd != nil && cmd.Process != nil && cmd.ProcessState == nil {
		_ = cmd.Process.Kill()
	}
	c.markExited()

	c.diagnosticsMu.Lock()
	c.diagnostics = make(map[string][]protocol.Diagnostic)
	c.diagnosticsMu.Unlock()
}
