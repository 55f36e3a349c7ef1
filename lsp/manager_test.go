package lsp

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, start func(context.Context, *Client) error, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(opts...)
	if start != nil {
		m.startClient = start
	}
	t.Cleanup(m.Shutdown)
	return m
}

// aliveStart fakes a successful spawn: the client looks alive without any
// process behind it.
func aliveStart(counter *atomic.Int32) func(context.Context, *Client) error {
	return func(ctx context.Context, c *Client) error {
		if counter != nil {
			counter.Add(1)
		}
		c.cmd = exec.Command("fake-server")
		c.writable.Store(true)
		return nil
	}
}

func testIdentity(id string) ServerIdentity {
	return ServerIdentity{ID: id, Command: id + "-binary"}
}

func TestGetClientPoolsByKey(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(t, aliveStart(&starts))
	identity := testIdentity("gopls")

	first, err := m.GetClient(context.Background(), "/proj", identity)
	require.NoError(t, err)
	second, err := m.GetClient(context.Background(), "/proj", identity)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), starts.Load())
	assert.Equal(t, 1, m.PooledCount())

	// A different root is a different connection.
	other, err := m.GetClient(context.Background(), "/other", identity)
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, int32(2), starts.Load())
	assert.Equal(t, 2, m.PooledCount())
}

func TestGetClientReleaseBookkeeping(t *testing.T) {
	m := newTestManager(t, aliveStart(nil))
	identity := testIdentity("gopls")

	_, err := m.GetClient(context.Background(), "/proj", identity)
	require.NoError(t, err)
	_, err = m.GetClient(context.Background(), "/proj", identity)
	require.NoError(t, err)

	key := poolKey{root: "/proj", serverID: "gopls"}
	m.mu.Lock()
	assert.Equal(t, 2, m.pool[key].refCount)
	m.mu.Unlock()

	m.ReleaseClient("/proj", "gopls")
	m.ReleaseClient("/proj", "gopls")
	m.ReleaseClient("/proj", "gopls") // over-release must not go negative

	m.mu.Lock()
	assert.Equal(t, 0, m.pool[key].refCount)
	m.mu.Unlock()

	// Releasing keeps the connection pooled.
	assert.Equal(t, 1, m.PooledCount())
}

func TestGetClientSingleFlight(t *testing.T) {
	var starts atomic.Int32
	gate := make(chan struct{})
	m := newTestManager(t, func(ctx context.Context, c *Client) error {
		starts.Add(1)
		<-gate
		c.cmd = exec.Command("fake-server")
		c.writable.Store(true)
		return nil
	})
	identity := testIdentity("gopls")

	const callers = 8
	clients := make([]*Client, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], errs[i] = m.GetClient(context.Background(), "/proj", identity)
		}(i)
	}

	require.Eventually(t, func() bool {
		return m.IsInitializing("/proj", "gopls")
	}, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), starts.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, clients[0], clients[i])
	}
}

func TestGetClientSharedSpawnFailure(t *testing.T) {
	spawnErr := errors.New("binary exploded")
	gate := make(chan struct{})
	m := newTestManager(t, func(ctx context.Context, c *Client) error {
		<-gate
		return spawnErr
	}, WithCooldown(time.Hour))
	identity := testIdentity("gopls")

	firstErr := make(chan error, 1)
	go func() {
		_, err := m.GetClient(context.Background(), "/proj", identity)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		return m.IsInitializing("/proj", "gopls")
	}, time.Second, time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := m.GetClient(context.Background(), "/proj", identity)
		waiterErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate)

	assert.ErrorIs(t, <-firstErr, spawnErr)
	// The queued caller observes either the shared failure or the cooldown
	// gate, never a second spawn.
	err := <-waiterErr
	require.Error(t, err)
	assert.Equal(t, 0, m.PooledCount())
}

func TestGetClientCooldown(t *testing.T) {
	spawnErr := errors.New("no such binary")
	m := newTestManager(t, func(ctx context.Context, c *Client) error {
		return spawnErr
	}, WithCooldown(time.Hour))
	identity := testIdentity("pyright")

	_, err := m.GetClient(context.Background(), "/proj", identity)
	assert.ErrorIs(t, err, spawnErr)

	state, ok := m.ServerState("/proj", "pyright")
	require.True(t, ok)
	assert.Equal(t, StatusUnavailable, state.Status)
	assert.Equal(t, 1, state.RetryCount)
	assert.Equal(t, "no such binary", state.LastError)

	// Within the cooldown window no respawn is attempted.
	_, err = m.GetClient(context.Background(), "/proj", identity)
	var unavailable *ServerUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, unavailable.Reason, "retrying in")

	unavailableList := m.UnavailableServers()
	require.Len(t, unavailableList, 1)
	assert.Equal(t, "/proj", unavailableList[0].Root)
	assert.Equal(t, "pyright", unavailableList[0].ServerID)
}

func TestGetClientMaxRetries(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, c *Client) error {
		return errors.New("still broken")
	}, WithCooldown(0), WithMaxRetries(2))
	identity := testIdentity("rust-analyzer")

	for i := 0; i < 2; i++ {
		_, err := m.GetClient(context.Background(), "/proj", identity)
		require.Error(t, err)
		time.Sleep(time.Millisecond)
	}

	_, err := m.GetClient(context.Background(), "/proj", identity)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)

	state, _ := m.ServerState("/proj", "rust-analyzer")
	assert.Equal(t, 2, state.RetryCount)
}

func TestResetServerState(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	m := newTestManager(t, func(ctx context.Context, c *Client) error {
		if broken.Load() {
			return errors.New("binary missing")
		}
		c.cmd = exec.Command("fake-server")
		c.writable.Store(true)
		return nil
	}, WithCooldown(time.Hour), WithMaxRetries(1))
	identity := testIdentity("gopls")

	_, err := m.GetClient(context.Background(), "/proj", identity)
	require.Error(t, err)
	_, err = m.GetClient(context.Background(), "/proj", identity)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)

	// "I installed the binary, try again."
	broken.Store(false)
	m.ResetServerState("/proj", "gopls")

	client, err := m.GetClient(context.Background(), "/proj", identity)
	require.NoError(t, err)
	assert.True(t, client.IsAlive())

	state, ok := m.ServerState("/proj", "gopls")
	require.True(t, ok)
	assert.Equal(t, StatusAvailable, state.Status)
}

func TestGetClientRespawnsDeadConnection(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(t, aliveStart(&starts))
	identity := testIdentity("gopls")

	first, err := m.GetClient(context.Background(), "/proj", identity)
	require.NoError(t, err)
	m.ReleaseClient("/proj", "gopls")

	first.markExited()

	second, err := m.GetClient(context.Background(), "/proj", identity)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, second.IsAlive())
	assert.Equal(t, int32(2), starts.Load())
}

func TestIdleReaper(t *testing.T) {
	m := newTestManager(t, aliveStart(nil),
		WithIdleTimeout(30*time.Millisecond),
		WithReapInterval(10*time.Millisecond))

	_, err := m.GetClient(context.Background(), "/idle", testIdentity("gopls"))
	require.NoError(t, err)
	_, err = m.GetClient(context.Background(), "/busy", testIdentity("gopls"))
	require.NoError(t, err)

	m.ReleaseClient("/idle", "gopls")

	require.Eventually(t, func() bool {
		return m.PooledCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The borrowed connection survives the reaper.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, m.PooledCount())
	_, ok := m.ServerState("/busy", "gopls")
	assert.True(t, ok)
}

func TestWarmupClient(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(t, aliveStart(&starts))
	identity := testIdentity("gopls")

	m.WarmupClient("/proj", identity)
	require.Eventually(t, func() bool {
		return m.PooledCount() == 1 && !m.IsInitializing("/proj", "gopls")
	}, time.Second, time.Millisecond)

	// Warmup of an already pooled key is a no-op.
	m.WarmupClient("/proj", identity)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), starts.Load())

	// The warmed connection is handed out without another spawn.
	_, err := m.GetClient(context.Background(), "/proj", identity)
	require.NoError(t, err)
	assert.Equal(t, int32(1), starts.Load())
}

func TestWarmupClientFailureRecorded(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, c *Client) error {
		return errors.New("warmup boom")
	}, WithCooldown(time.Hour))
	identity := testIdentity("pyright")

	m.WarmupClient("/proj", identity)

	require.Eventually(t, func() bool {
		state, ok := m.ServerState("/proj", "pyright")
		return ok && state.Status == StatusUnavailable
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.PooledCount())
}

func TestStopAll(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(t, aliveStart(&starts))

	_, err := m.GetClient(context.Background(), "/a", testIdentity("gopls"))
	require.NoError(t, err)
	_, err = m.GetClient(context.Background(), "/b", testIdentity("pyright"))
	require.NoError(t, err)

	assert.Equal(t, 2, m.StopAll())
	assert.Equal(t, 0, m.PooledCount())

	// The manager stays usable after a disconnect-all.
	_, err = m.GetClient(context.Background(), "/a", testIdentity("gopls"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), starts.Load())
}

func TestGetClientContextCanceledWhileWaiting(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	m := newTestManager(t, func(ctx context.Context, c *Client) error {
		<-gate
		c.cmd = exec.Command("fake-server")
		c.writable.Store(true)
		return nil
	})
	identity := testIdentity("gopls")

	go func() {
		_, _ = m.GetClient(context.Background(), "/proj", identity)
	}()
	require.Eventually(t, func() bool {
		return m.IsInitializing("/proj", "gopls")
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.GetClient(ctx, "/proj", identity)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetClientRealSpawnFailure(t *testing.T) {
	m := NewManager(WithCooldown(time.Hour))
	t.Cleanup(m.Shutdown)

	root := t.TempDir()
	identity := ServerIdentity{ID: "ghost", Command: "definitely-not-a-real-language-server-binary"}
	_, err := m.GetClient(context.Background(), root, identity)

	var unavailable *ServerUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, unavailable.Reason, "not found")

	state, ok := m.ServerState(root, "ghost")
	require.True(t, ok)
	assert.Equal(t, StatusUnavailable, state.Status)
}
