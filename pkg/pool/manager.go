package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

const (
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultCleanupInterval = 1 * time.Minute

	shutdownPollInterval = 10 * time.Millisecond
)

// ManagerConfig holds configuration for the pool manager.
type ManagerConfig struct {
	// IdleTimeout closes idle values unused for this long. Zero disables pruning.
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// Manager owns one Pool per connection name. It replaces process-wide
// pool state: construct one per registry and pass it where pools are needed.
type Manager[T Resource] struct {
	mu       sync.RWMutex
	pools    map[string]*Pool[T]
	cfg      ManagerConfig
	stopped  bool
	stopChan chan struct{}
	logger   *zap.Logger
}

// NewManager creates a pool manager. When IdleTimeout is set a background
// goroutine prunes idle values until CloseAll is called.
func NewManager[T Resource](cfg ManagerConfig, logger *zap.Logger) *Manager[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	m := &Manager[T]{
		pools:    make(map[string]*Pool[T]),
		cfg:      cfg,
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	if cfg.IdleTimeout > 0 {
		go m.pruneIdleLoop()
	}
	return m
}

// GetOrCreate returns the pool for name, creating it with the given capacity
// and factory the first time it is needed.
func (m *Manager[T]) GetOrCreate(name string, size int, factory Factory[T]) (*Pool[T], error) {
	m.mu.RLock()
	p, exists := m.pools[name]
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return nil, fmt.Errorf("pool [%s]: %w", name, apperrors.ErrPoolClosed)
	}
	if exists {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("pool [%s]: %w", name, apperrors.ErrPoolClosed)
	}
	// Another goroutine may have created it while we waited for the write lock
	if p, exists := m.pools[name]; exists {
		return p, nil
	}

	p, err := New(name, size, factory, m.logger)
	if err != nil {
		return nil, err
	}
	m.pools[name] = p

	m.logger.Info("created connection pool",
		zap.String("pool", name),
		zap.Int("size", size),
	)
	return p, nil
}

// Get returns the pool for name if it was created.
func (m *Manager[T]) Get(name string) (*Pool[T], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Close closes and forgets the named pool. It reports whether a pool existed.
func (m *Manager[T]) Close(name string, force bool) bool {
	m.mu.Lock()
	p, ok := m.pools[name]
	delete(m.pools, name)
	m.mu.Unlock()

	if !ok {
		return false
	}
	p.Close(force)
	return true
}

// CloseAll closes every pool, stops idle pruning and returns the names of the
// closed pools, sorted. Later GetOrCreate calls fail with ErrPoolClosed.
func (m *Manager[T]) CloseAll(force bool) []string {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool[T])
	if !m.stopped {
		m.stopped = true
		close(m.stopChan)
	}
	m.mu.Unlock()

	names := make([]string, 0, len(pools))
	for name, p := range pools {
		p.Close(force)
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		m.logger.Info("closed connection pools", zap.Strings("pools", names))
	}
	return names
}

// Shutdown closes every pool like CloseAll, then waits for borrowed values to
// be released. Values still borrowed when ctx is done are force-closed.
func (m *Manager[T]) Shutdown(ctx context.Context) []string {
	m.mu.RLock()
	pools := make([]*Pool[T], 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	names := m.CloseAll(false)

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for {
		borrowed := 0
		for _, p := range pools {
			borrowed += p.Stats().Borrowed
		}
		if borrowed == 0 {
			return names
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			m.logger.Warn("shutdown deadline reached, force-closing borrowed connections",
				zap.Int("borrowed", borrowed),
			)
			for _, p := range pools {
				p.Close(true)
			}
			return names
		}
	}
}

// Stats returns a snapshot of every pool, sorted by name.
func (m *Manager[T]) Stats() []Stats {
	m.mu.RLock()
	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

func (m *Manager[T]) pruneIdleLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.pruneIdle()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager[T]) pruneIdle() {
	m.mu.RLock()
	pools := make([]*Pool[T], 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	total := 0
	for _, p := range pools {
		total += p.PruneIdle(m.cfg.IdleTimeout)
	}
	if total > 0 {
		m.logger.Debug("pruned idle pooled connections",
			zap.Int("count", total),
			zap.Duration("idleTimeout", m.cfg.IdleTimeout),
		)
	}
}
