package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper is a cache that can drop its stale entries.
type Sweeper interface {
	Sweep() int
}

// Manager sweeps registered caches on a fixed interval until stopped.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	caches  map[string]Sweeper
	cancel  context.CancelFunc
	stopped sync.WaitGroup
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger.With("component", "cache"),
		caches: make(map[string]Sweeper),
	}
}

// Register adds a named cache. Registering a name twice replaces the first.
func (m *Manager) Register(name string, s Sweeper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[name] = s
}

// SweepAll runs one pass over every registered cache.
func (m *Manager) SweepAll() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := make(map[string]int, len(m.caches))
	for name, c := range m.caches {
		if n := c.Sweep(); n > 0 {
			removed[name] = n
			m.logger.Debug("Evicted stale cache entries", "cache", name, "count", n)
		}
	}
	return removed
}

// Start launches the sweep loop. Calling Start on a running manager is a no-op.
func (m *Manager) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stopped.Add(1)
	go func() {
		defer m.stopped.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SweepAll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it. Safe to call without Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.stopped.Wait()
	}
}
