package lsp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"
)

const (
	defaultCooldownPeriod = 5 * time.Minute
	defaultMaxRetries     = 3
	defaultIdleTimeout    = 5 * time.Minute
	defaultReapInterval   = 60 * time.Second
)

// ServerStatus is the health status of a (root, server) key.
type ServerStatus string

const (
	StatusAvailable   ServerStatus = "available"
	StatusUnavailable ServerStatus = "unavailable"
)

// ServerHealthState records start failures for one (root, server) key. It is
// created lazily on first failure and cleared only by an explicit reset or a
// successful start.
type ServerHealthState struct {
	Status     ServerStatus
	FailedAt   time.Time
	LastError  string
	RetryCount int
}

type poolKey struct {
	root     string
	serverID string
}

// managedEntry wraps a pooled client with its borrow bookkeeping. The entry
// owns the client exclusively; nothing else holds the process handle.
type managedEntry struct {
	client       *Client
	refCount     int
	lastUsedAt   time.Time
	initializing bool
	initDone     chan struct{}
	initErr      error
}

// Manager is the single authority over all language server connections,
// pooled by (project root, server id). It is constructed once at the
// composition root and passed to every caller; there is no package-level
// instance.
type Manager struct {
	mu     sync.Mutex
	pool   map[poolKey]*managedEntry
	health map[poolKey]*ServerHealthState

	cooldownPeriod time.Duration
	maxRetries     int
	idleTimeout    time.Duration
	reapInterval   time.Duration

	// startClient spawns and initializes a client. Swapped out in tests.
	startClient func(ctx context.Context, c *Client) error

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCooldown sets the refusal window after a start failure.
func WithCooldown(d time.Duration) ManagerOption {
	return func(m *Manager) { m.cooldownPeriod = d }
}

// WithMaxRetries sets the start-failure ceiling per (root, server) key.
func WithMaxRetries(n int) ManagerOption {
	return func(m *Manager) { m.maxRetries = n }
}

// WithIdleTimeout sets how long an unborrowed client may sit before the
// reaper stops it.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithReapInterval sets the reaper tick.
func WithReapInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.reapInterval = d }
}

// NewManager creates a Manager and starts its idle reaper.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		pool:           make(map[poolKey]*managedEntry),
		health:         make(map[poolKey]*ServerHealthState),
		cooldownPeriod: defaultCooldownPeriod,
		maxRetries:     defaultMaxRetries,
		idleTimeout:    defaultIdleTimeout,
		reapInterval:   defaultReapInterval,
		stopCh:         make(chan struct{}),
	}
	m.startClient = func(ctx context.Context, c *Client) error {
		if err := c.Start(ctx); err != nil {
			return err
		}
		return c.Initialize(ctx)
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.reapLoop()
	return m
}

// GetClient returns a live, initialized client for the key, spawning one if
// needed. Concurrent callers for the same unpooled key share a single spawn.
// Every successful call must be paired with ReleaseClient.
func (m *Manager) GetClient(ctx context.Context, root string, identity ServerIdentity) (*Client, error) {
	key := poolKey{root: root, serverID: identity.ID}

	for {
		m.mu.Lock()

		if err := m.gateLocked(key, identity); err != nil {
			m.mu.Unlock()
			return nil, err
		}

		entry, ok := m.pool[key]
		if ok && entry.initializing {
			done := entry.initDone
			m.mu.Unlock()

			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if entry.initErr != nil {
				return nil, entry.initErr
			}
			// Re-enter: the entry may have died or been reaped since.
			continue
		}

		if ok {
			if entry.client.IsAlive() {
				entry.refCount++
				entry.lastUsedAt = time.Now()
				client := entry.client
				m.mu.Unlock()
				return client, nil
			}
			// Stale carcass: stop it and respawn.
			delete(m.pool, key)
			go entry.client.Stop()
		}

		client := NewClient(identity, root)
		entry = &managedEntry{
			client:       client,
			refCount:     1,
			lastUsedAt:   time.Now(),
			initializing: true,
			initDone:     make(chan struct{}),
		}
		// Register before awaiting the spawn so late-arriving callers queue
		// on this entry's future instead of racing a second spawn.
		m.pool[key] = entry
		m.mu.Unlock()

		err := m.startClient(ctx, client)

		m.mu.Lock()
		if err != nil {
			delete(m.pool, key)
			m.recordFailureLocked(key, err)
			entry.initErr = err
			entry.initializing = false
			close(entry.initDone)
			m.mu.Unlock()
			client.Stop()
			return nil, err
		}
		m.markAvailableLocked(key)
		entry.initializing = false
		close(entry.initDone)
		m.mu.Unlock()
		return client, nil
	}
}

// WarmupClient pre-initializes a server before any caller needs it. It is
// best-effort and detached: failures are recorded in health state and logged,
// never returned. Skips keys that are pooled or refusing starts.
func (m *Manager) WarmupClient(root string, identity ServerIdentity) {
	key := poolKey{root: root, serverID: identity.ID}

	m.mu.Lock()
	if err := m.gateLocked(key, identity); err != nil {
		m.mu.Unlock()
		logger.Debug(fmt.Sprintf("Skipping warmup for %s at %s: %v", identity.ID, root, err))
		return
	}
	if _, ok := m.pool[key]; ok {
		m.mu.Unlock()
		return
	}

	client := NewClient(identity, root)
	entry := &managedEntry{
		client:       client,
		refCount:     0,
		lastUsedAt:   time.Now(),
		initializing: true,
		initDone:     make(chan struct{}),
	}
	m.pool[key] = entry
	m.mu.Unlock()

	go func() {
		err := m.startClient(context.Background(), client)

		m.mu.Lock()
		if err != nil {
			delete(m.pool, key)
			m.recordFailureLocked(key, err)
			entry.initErr = err
			entry.initializing = false
			close(entry.initDone)
			m.mu.Unlock()
			client.Stop()
			logger.Warn(fmt.Sprintf("Warmup of %s at %s failed: %v", identity.ID, root, err))
			return
		}
		m.markAvailableLocked(key)
		entry.initializing = false
		close(entry.initDone)
		m.mu.Unlock()
		logger.Info(fmt.Sprintf("Warmed up %s at %s", identity.ID, root))
	}()
}

// ReleaseClient returns a borrowed client to the pool. The client keeps
// running; the idle reaper decides when to stop it.
func (m *Manager) ReleaseClient(root, serverID string) {
	key := poolKey{root: root, serverID: serverID}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pool[key]
	if !ok {
		return
	}
	if entry.refCount > 0 {
		entry.refCount--
	}
	entry.lastUsedAt = time.Now()
}

// gateLocked refuses keys that are in cooldown or out of retries.
func (m *Manager) gateLocked(key poolKey, identity ServerIdentity) error {
	h, ok := m.health[key]
	if !ok || h.Status != StatusUnavailable {
		return nil
	}

	if h.RetryCount >= m.maxRetries {
		return &ServerUnavailableError{
			ServerID: key.serverID,
			Command:  identity.Command,
			Reason: fmt.Sprintf("previously failed to start %d times (%s); reset the server state after fixing the installation",
				h.RetryCount, h.LastError),
			Err: ErrMaxRetriesExceeded,
		}
	}
	if elapsed := time.Since(h.FailedAt); elapsed <= m.cooldownPeriod {
		return &ServerUnavailableError{
			ServerID: key.serverID,
			Command:  identity.Command,
			Reason: fmt.Sprintf("previously failed to start (%s); retrying in %s",
				h.LastError, (m.cooldownPeriod - elapsed).Round(time.Second)),
		}
	}
	return nil
}

func (m *Manager) recordFailureLocked(key poolKey, err error) {
	h, ok := m.health[key]
	if !ok {
		h = &ServerHealthState{}
		m.health[key] = h
	}
	h.Status = StatusUnavailable
	h.FailedAt = time.Now()
	h.LastError = err.Error()
	h.RetryCount++
}

func (m *Manager) markAvailableLocked(key poolKey) {
	m.health[key] = &ServerHealthState{Status: StatusAvailable}
}

// ServerState returns a copy of the health state for a key, if any exists.
func (m *Manager) ServerState(root, serverID string) (ServerHealthState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.health[poolKey{root: root, serverID: serverID}]
	if !ok {
		return ServerHealthState{}, false
	}
	return *h, true
}

// UnavailableServer describes one key currently refusing starts.
type UnavailableServer struct {
	Root       string
	ServerID   string
	LastError  string
	FailedAt   time.Time
	RetryCount int
}

// UnavailableServers lists every key in the unavailable state.
func (m *Manager) UnavailableServers() []UnavailableServer {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []UnavailableServer
	for key, h := range m.health {
		if h.Status != StatusUnavailable {
			continue
		}
		out = append(out, UnavailableServer{
			Root:       key.root,
			ServerID:   key.serverID,
			LastError:  h.LastError,
			FailedAt:   h.FailedAt,
			RetryCount: h.RetryCount,
		})
	}
	return out
}

// ResetServerState clears the health record for a key, allowing immediate
// respawn attempts. Meant for "I just installed the missing binary".
func (m *Manager) ResetServerState(root, serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.health, poolKey{root: root, serverID: serverID})
}

// IsInitializing reports whether a spawn for the key is currently in flight.
func (m *Manager) IsInitializing(root, serverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pool[poolKey{root: root, serverID: serverID}]
	return ok && entry.initializing
}

// PooledCount reports how many connections are currently pooled.
func (m *Manager) PooledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// reapLoop periodically stops and discards unreferenced stale connections so
// the number of live external processes stays bounded.
func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var victims []*managedEntry
	for key, entry := range m.pool {
		if entry.refCount == 0 && !entry.initializing && entry.lastUsedAt.Before(cutoff) {
			delete(m.pool, key)
			victims = append(victims, entry)
			logger.Info(fmt.Sprintf("Reaping idle language server %q at %s", key.serverID, key.root))
		}
	}
	m.mu.Unlock()

	for _, entry := range victims {
		entry.client.Stop()
	}
}

// StopAll stops and discards every pooled connection. The manager stays
// usable; later GetClient calls respawn as needed.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	entries := make([]*managedEntry, 0, len(m.pool))
	for _, entry := range m.pool {
		entries = append(entries, entry)
	}
	m.pool = make(map[poolKey]*managedEntry)
	m.mu.Unlock()

	for _, entry := range entries {
		entry.client.Stop()
	}
	return len(entries)
}

// Shutdown stops the reaper and every pooled connection. Called from the
// composition root on exit and on termination signals so no orphaned server
// processes are left running.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.StopAll()
}
