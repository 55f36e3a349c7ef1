package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/myleshyson/lsprotocol-go/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer wires a Client's stdio to in-memory pipes so the protocol layer
// can be exercised without spawning a real language server process.
type fakeServer struct {
	t      *testing.T
	client *Client
	out    *io.PipeWriter
	in     *bufio.Reader
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	stdoutR, stdoutW := io.Pipe()
	stdinR, stdinW := io.Pipe()

	c := NewClient(ServerIdentity{ID: "fake", Command: "fake-server"}, t.TempDir())
	c.settleDelays = false
	c.requestTimeout = 2 * time.Second
	c.cmd = exec.Command("fake-server") // never started; satisfies the write guard
	c.stdin = stdinW
	c.writable.Store(true)
	go c.readLoop(stdoutR)

	t.Cleanup(func() {
		stdoutW.Close()
		stdinR.Close()
	})

	return &fakeServer{t: t, client: c, out: stdoutW, in: bufio.NewReader(stdinR)}
}

// readFrame blocks until one complete frame arrives from the client and
// returns its decoded body.
func (s *fakeServer) readFrame() map[string]any {
	s.t.Helper()

	length := 0
	for {
		line, err := s.in.ReadString('\n')
		require.NoError(s.t, err)
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if rest, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			require.NoError(s.t, err)
			length = n
		}
	}
	require.Greater(s.t, length, 0)

	body := make([]byte, length)
	_, err := io.ReadFull(s.in, body)
	require.NoError(s.t, err)

	var m map[string]any
	require.NoError(s.t, json.Unmarshal(body, &m))
	return m
}

func (s *fakeServer) send(payload any) {
	s.t.Helper()
	data, err := EncodeMessage(payload)
	require.NoError(s.t, err)
	_, err = s.out.Write(data)
	require.NoError(s.t, err)
}

func TestSendRequestRoundTrip(t *testing.T) {
	s := newFakeServer(t)

	go func() {
		frame := s.readFrame()
		assert.Equal(t, "textDocument/hover", frame["method"])
		s.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      frame["id"],
			"result":  map[string]any{"contents": "func Foo()"},
		})
	}()

	var result map[string]any
	err := s.client.SendRequest(context.Background(), "textDocument/hover", map[string]any{"x": 1}, &result)
	require.NoError(t, err)
	assert.Equal(t, "func Foo()", result["contents"])
}

func TestSendRequestServerError(t *testing.T) {
	s := newFakeServer(t)

	go func() {
		frame := s.readFrame()
		s.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      frame["id"],
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		})
	}()

	err := s.client.SendRequest(context.Background(), "textDocument/hover", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
	assert.Equal(t, "method not found", rpcErr.Message)
}

func TestSendRequestTimeout(t *testing.T) {
	s := newFakeServer(t)
	s.client.requestTimeout = 50 * time.Millisecond

	s.client.stderrMu.Lock()
	s.client.stderrRing = []string{"panic: index out of range\n"}
	s.client.stderrMu.Unlock()

	go func() {
		s.readFrame() // swallow the request, never answer
	}()

	err := s.client.SendRequest(context.Background(), "textDocument/definition", nil, nil)
	var toErr *RequestTimeoutError
	require.ErrorAs(t, err, &toErr)
	assert.Equal(t, "textDocument/definition", toErr.Method)
	assert.Contains(t, toErr.Stderr, "panic: index out of range")
}

func TestSendRequestServerExit(t *testing.T) {
	s := newFakeServer(t)

	go func() {
		s.readFrame()
		s.out.Close() // stdout EOF, the read loop marks the client dead
	}()

	err := s.client.SendRequest(context.Background(), "textDocument/hover", nil, nil)
	var exitErr *ServerExitedError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.False(t, s.client.IsAlive())
}

func TestServerExitRejectsAllPendingRequests(t *testing.T) {
	s := newFakeServer(t)

	go func() {
		s.readFrame()
		s.readFrame()
		s.out.Close() // both requests are now in flight
	}()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.client.SendRequest(context.Background(), "textDocument/hover", nil, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		var exitErr *ServerExitedError
		require.ErrorAs(t, err, &exitErr)
	}
}

func TestBlockedWriteDoesNotStallResponses(t *testing.T) {
	s := newFakeServer(t)

	type reply struct {
		result map[string]any
		err    error
	}
	got := make(chan reply, 1)
	go func() {
		var result map[string]any
		err := s.client.SendRequest(context.Background(), "textDocument/hover", nil, &result)
		got <- reply{result, err}
	}()

	frame := s.readFrame()

	// A notification writer stalls on the unread stdin pipe. Response
	// dispatch and timeout delivery must not wait behind it.
	go func() {
		_ = s.client.SendNotification("textDocument/didSave", map[string]any{"uri": "file:///x"})
	}()
	time.Sleep(20 * time.Millisecond)

	s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      frame["id"],
		"result":  map[string]any{"contents": "ok"},
	})

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Equal(t, "ok", r.result["contents"])
	case <-time.After(time.Second):
		t.Fatal("response was never dispatched while a write was blocked")
	}
}

func TestConcurrentResponsesRoutedByID(t *testing.T) {
	s := newFakeServer(t)

	go func() {
		first := s.readFrame()
		second := s.readFrame()
		// Answer out of order; routing must match ids, not arrival order.
		s.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      second["id"],
			"result":  map[string]any{"method": second["method"]},
		})
		s.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      first["id"],
			"result":  map[string]any{"method": first["method"]},
		})
	}()

	type answer struct {
		method string
		result map[string]any
		err    error
	}
	results := make(chan answer, 2)
	for _, method := range []string{"req/alpha", "req/beta"} {
		method := method
		go func() {
			var result map[string]any
			err := s.client.SendRequest(context.Background(), method, nil, &result)
			results <- answer{method: method, result: result, err: err}
		}()
		// Keep frame order deterministic for the fake server.
		time.Sleep(20 * time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		a := <-results
		require.NoError(t, a.err)
		assert.Equal(t, a.method, a.result["method"])
	}
}

func TestServerRequestConfiguration(t *testing.T) {
	s := newFakeServer(t)

	s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      7000,
		"method":  "workspace/configuration",
		"params": map[string]any{
			"items": []any{
				map[string]any{"section": "gopls"},
				map[string]any{"section": "gopls.analyses"},
			},
		},
	})

	reply := s.readFrame()
	assert.Equal(t, float64(7000), reply["id"])
	require.IsType(t, []any{}, reply["result"])
	items := reply["result"].([]any)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, map[string]any{}, item)
	}
}

func TestServerRequestNullReplies(t *testing.T) {
	tests := []struct {
		method string
		rawID  any
	}{
		{method: "client/registerCapability", rawID: "reg-1"},
		{method: "window/workDoneProgress/create", rawID: 42},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			s := newFakeServer(t)

			s.send(map[string]any{
				"jsonrpc": "2.0",
				"id":      tt.rawID,
				"method":  tt.method,
			})

			reply := s.readFrame()
			switch id := tt.rawID.(type) {
			case string:
				assert.Equal(t, id, reply["id"])
			case int:
				assert.Equal(t, float64(id), reply["id"])
			}
			result, ok := reply["result"]
			assert.True(t, ok)
			assert.Nil(t, result)
		})
	}
}

func TestUnknownServerRequestIgnored(t *testing.T) {
	s := newFakeServer(t)

	s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "window/showMessageRequest",
	})
	s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "workspace/configuration",
		"params":  map[string]any{"items": []any{}},
	})

	// The first reply to arrive must be for the configuration request; the
	// unknown request produced none.
	reply := s.readFrame()
	assert.Equal(t, float64(2), reply["id"])
}

func TestPublishDiagnosticsCache(t *testing.T) {
	s := newFakeServer(t)
	uri := "file:///tmp/project/main.go"

	s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": map[string]any{
			"uri": uri,
			"diagnostics": []any{
				map[string]any{
					"range": map[string]any{
						"start": map[string]any{"line": 4, "character": 0},
						"end":   map[string]any{"line": 4, "character": 10},
					},
					"message": "undefined: foo",
				},
			},
		},
	})

	require.Eventually(t, func() bool {
		return len(s.client.CachedDiagnostics(uri)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "undefined: foo", s.client.CachedDiagnostics(uri)[0].Message)

	// A later push replaces the cache wholesale.
	s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params":  map[string]any{"uri": uri, "diagnostics": []any{}},
	})
	require.Eventually(t, func() bool {
		return len(s.client.CachedDiagnostics(uri)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEnsureOpenSendsDidOpenOnce(t *testing.T) {
	s := newFakeServer(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0600))

	frames := make(chan map[string]any, 2)
	go func() {
		frames <- s.readFrame()
		frames <- s.readFrame()
	}()

	uri, err := s.client.ensureOpen(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, FileToURI(path), uri)

	frame := <-frames
	require.Equal(t, "textDocument/didOpen", frame["method"])
	doc := frame["params"].(map[string]any)["textDocument"].(map[string]any)
	assert.Equal(t, uri, doc["uri"])
	assert.Equal(t, "go", doc["languageId"])
	assert.Equal(t, "package main\n", doc["text"])

	// Re-opening is a no-op: the next frame on the wire is the sentinel, not
	// a second didOpen.
	again, err := s.client.ensureOpen(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, uri, again)

	require.NoError(t, s.client.SendNotification("test/sentinel", nil))
	assert.Equal(t, "test/sentinel", (<-frames)["method"])
}

func TestInitializeHandshake(t *testing.T) {
	s := newFakeServer(t)
	rootURI := FileToURI(s.client.rootDir)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		init := s.readFrame()
		assert.Equal(t, "initialize", init["method"])

		params := init["params"].(map[string]any)
		assert.Equal(t, rootURI, params["rootUri"])
		folders := params["workspaceFolders"].([]any)
		require.Len(t, folders, 1)
		folder := folders[0].(map[string]any)
		assert.Equal(t, rootURI, folder["uri"])
		assert.Equal(t, filepath.Base(s.client.rootDir), folder["name"])

		s.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      init["id"],
			"result":  map[string]any{"capabilities": map[string]any{}},
		})

		assert.Equal(t, "initialized", s.readFrame()["method"])
		assert.Equal(t, "workspace/didChangeConfiguration", s.readFrame()["method"])
	}()

	require.NoError(t, s.client.Initialize(context.Background()))
	<-serverDone
}

func TestEnsureOpenConcurrentCallersWaitForWire(t *testing.T) {
	s := newFakeServer(t)

	path := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0600))

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.client.ensureOpen(context.Background(), path)
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}

	// Neither caller may finish before the didOpen is actually on the wire.
	select {
	case <-done:
		t.Fatal("ensureOpen returned before didOpen was written")
	case <-time.After(50 * time.Millisecond):
	}

	frame := s.readFrame()
	require.Equal(t, "textDocument/didOpen", frame["method"])

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("ensureOpen caller never finished")
		}
	}

	// Exactly one didOpen was sent: the next frame is the sentinel.
	go func() { _ = s.client.SendNotification("test/sentinel", nil) }()
	assert.Equal(t, "test/sentinel", s.readFrame()["method"])
}

func TestEnsureOpenUnreadableFile(t *testing.T) {
	s := newFakeServer(t)

	missing := filepath.Join(t.TempDir(), "missing.go")
	_, err := s.client.ensureOpen(context.Background(), missing)
	require.Error(t, err)

	// The failed open must not poison the once-per-document tracking.
	require.NoError(t, os.WriteFile(missing, []byte("package main\n"), 0600))
	frames := make(chan map[string]any, 1)
	go func() { frames <- s.readFrame() }()
	_, err = s.client.ensureOpen(context.Background(), missing)
	require.NoError(t, err)
	assert.Equal(t, "textDocument/didOpen", (<-frames)["method"])
}

func TestRequestBeforeStart(t *testing.T) {
	c := NewClient(ServerIdentity{ID: "unstarted"}, t.TempDir())

	err := c.SendRequest(context.Background(), "textDocument/hover", nil, nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	// Notifications degrade to silent no-ops.
	assert.NoError(t, c.SendNotification("initialized", nil))
	assert.False(t, c.IsAlive())
}

func TestNotificationAfterExit(t *testing.T) {
	s := newFakeServer(t)

	s.out.Close()
	select {
	case <-s.client.done:
	case <-time.After(time.Second):
		t.Fatal("client did not observe server exit")
	}

	assert.NoError(t, s.client.SendNotification("textDocument/didSave", nil))
	err := s.client.SendRequest(context.Background(), "textDocument/hover", nil, nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStartMissingBinary(t *testing.T) {
	c := NewClient(ServerIdentity{
		ID:      "ghost",
		Command: "definitely-not-a-real-language-server-binary",
	}, t.TempDir())

	err := c.Start(context.Background())
	var unavailable *ServerUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "ghost", unavailable.ServerID)
	assert.Contains(t, unavailable.Reason, "not found")
}

func TestStopNeverStarted(t *testing.T) {
	c := NewClient(ServerIdentity{ID: "idle"}, t.TempDir())
	c.Stop()
	c.Stop()
	assert.False(t, c.IsAlive())
}

func TestStopClearsDiagnostics(t *testing.T) {
	s := newFakeServer(t)
	uri := "file:///tmp/a.go"

	s.client.diagnosticsMu.Lock()
	s.client.diagnostics[uri] = []protocol.Diagnostic{{Message: "stale"}}
	s.client.diagnosticsMu.Unlock()

	// Stop performs a shutdown/exit handshake; play the server side so it
	// completes promptly.
	go func() {
		frame := s.readFrame()
		s.send(map[string]any{"jsonrpc": "2.0", "id": frame["id"], "result": nil})
		s.readFrame() // exit notification
	}()

	s.client.Stop()
	assert.Empty(t, s.client.CachedDiagnostics(uri))
}
