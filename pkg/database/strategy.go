package database

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
	"github.com/ekaya-inc/minidb/pkg/config"
)

// connectionStrategy decides where a Connection for a name comes from.
type connectionStrategy interface {
	connection(ctx context.Context, m *Manager, n connectionName, cfg config.ConnectionConfig) (*Connection, error)
}

// singletonStrategy shares one Connection per name across the process.
type singletonStrategy struct{}

// pooledStrategy borrows one Connection per name per scope.
type pooledStrategy struct {
	size int
}

func (m *Manager) strategyFor(ctx context.Context, n connectionName, cfg config.ConnectionConfig) (connectionStrategy, error) {
	if !cfg.Pooled {
		return singletonStrategy{}, nil
	}
	if m.scheduler.Active(ctx) {
		return pooledStrategy{size: cfg.PoolSize}, nil
	}
	if m.strict {
		return nil, apperrors.ErrNoActiveScope
	}

	m.logger.Debug("No active scope, using shared connection for pooled name",
		zap.String("connection", n.Full))
	return singletonStrategy{}, nil
}

func (singletonStrategy) connection(ctx context.Context, m *Manager, n connectionName, cfg config.ConnectionConfig) (*Connection, error) {
	if c, ok := m.singleton(n.Full); ok {
		return c, nil
	}

	// Concurrent lookups of one name share a build. m.mu is never held
	// while connecting.
	v, err, _ := m.builds.Do(n.Full, func() (any, error) {
		if c, ok := m.singleton(n.Full); ok {
			return c, nil
		}

		c, err := m.makeConnection(ctx, n, cfg)
		if err != nil {
			return nil, &apperrors.ConnectionBuildError{Connection: n.Full, Err: err}
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = c.Disconnect()
			return nil, apperrors.ErrManagerClosed
		}
		m.singletons[n.Full] = c
		m.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

func (s pooledStrategy) connection(ctx context.Context, m *Manager, n connectionName, cfg config.ConnectionConfig) (*Connection, error) {
	id, ok := m.scheduler.ID(ctx)
	if !ok {
		return nil, apperrors.ErrNoActiveScope
	}

	if c, ok := m.borrowed.Get(id, n.Full); ok {
		return c, nil
	}

	// Serialize concurrent lookups of the same name within one scope so the
	// scope never borrows twice.
	lock, loaded := m.borrowMu.LoadOrStore(id, n.Full, &sync.Mutex{})
	if !loaded {
		if err := m.scheduler.OnComplete(ctx, func() { m.borrowMu.Delete(id, n.Full) }); err != nil {
			m.borrowMu.Delete(id, n.Full)
			return nil, err
		}
	}
	lock.Lock()
	defer lock.Unlock()

	if c, ok := m.borrowed.Get(id, n.Full); ok {
		return c, nil
	}

	p, err := m.pools.GetOrCreate(n.Full, s.size, func(ctx context.Context) (*Connection, error) {
		return m.makeConnection(ctx, n, cfg)
	})
	if err != nil {
		return nil, err
	}

	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	m.borrowed.Set(id, n.Full, c)
	if err := m.scheduler.OnComplete(ctx, func() { m.releaseBorrowed(id, n, p, c) }); err != nil {
		m.borrowed.Delete(id, n.Full)
		p.Release(c)
		return nil, err
	}
	return c, nil
}
