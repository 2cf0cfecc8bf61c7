package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/apperrors"
	"github.com/ekaya-inc/minidb/pkg/config"
	"github.com/ekaya-inc/minidb/pkg/logging"
	"github.com/ekaya-inc/minidb/pkg/pool"
	"github.com/ekaya-inc/minidb/pkg/retry"
	"github.com/ekaya-inc/minidb/pkg/scope"
)

// releaseTimeout bounds the rollback run when a scope hands a connection back.
const releaseTimeout = 10 * time.Second

// ConnectorFunc opens a raw handle for a driver registered through Extend.
type ConnectorFunc func(ctx context.Context, cfg config.ConnectionConfig, endpoint config.EndpointConfig) (datasource.Handle, error)

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler replaces the default context-based scheduler.
func WithScheduler(s scope.Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithObservers attaches observers to every connection the Manager builds.
func WithObservers(obs ...Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, obs...) }
}

// WithStrictScopes makes pooled lookups outside a scope fail with
// apperrors.ErrNoActiveScope instead of falling back to a singleton.
func WithStrictScopes(strict bool) Option {
	return func(m *Manager) { m.strict = strict }
}

// WithPoolConfig sets idle pruning for the connection pools.
func WithPoolConfig(cfg pool.ManagerConfig) Option {
	return func(m *Manager) { m.poolConfig = cfg }
}

// Manager resolves connection names to live Connections. Singleton
// connections are shared process-wide. Pooled connections are borrowed once
// per scope and returned when the scope ends.
type Manager struct {
	cfg        config.DatabaseConfig
	logger     *zap.Logger
	scheduler  scope.Scheduler
	observers  []Observer
	strict     bool
	poolConfig pool.ManagerConfig

	mu          sync.RWMutex
	defaultName string
	singletons  map[string]*Connection
	closed      bool

	// builds runs singleton construction outside mu, one build per name.
	builds singleflight.Group

	extMu      sync.RWMutex
	extensions map[string]ConnectorFunc

	pools    *pool.Manager[*Connection]
	borrowed *scope.Store[*Connection]
	borrowMu *scope.Store[*sync.Mutex]
}

var _ Reconnector = (*Manager)(nil)

// NewManager creates a Manager for a normalized database configuration.
func NewManager(cfg config.DatabaseConfig, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		logger:      logger.Named("database"),
		scheduler:   scope.ContextScheduler{},
		strict:      cfg.StrictScopes,
		poolConfig:  pool.ManagerConfig{IdleTimeout: pool.DefaultIdleTimeout, CleanupInterval: pool.DefaultCleanupInterval},
		defaultName: cfg.Default,
		singletons:  make(map[string]*Connection),
		extensions:  make(map[string]ConnectorFunc),
		borrowed:    scope.NewStore[*Connection](),
		borrowMu:    scope.NewStore[*sync.Mutex](),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pools = pool.NewManager[*Connection](m.poolConfig, m.logger)
	return m
}

// Connection returns the connection for name. An empty name means the
// default connection. A "::read" or "::write" suffix selects a role on a
// replica-split connection.
func (m *Manager) Connection(ctx context.Context, name string) (*Connection, error) {
	if m.isClosed() {
		return nil, apperrors.ErrManagerClosed
	}
	n := m.parse(name)

	cfg, err := m.cfg.Lookup(n.Base)
	if err != nil {
		return nil, err
	}
	if _, err := m.connectorFor(n.Full, cfg); err != nil {
		return nil, err
	}

	strategy, err := m.strategyFor(ctx, n, cfg)
	if err != nil {
		return nil, err
	}
	return strategy.connection(ctx, m, n, cfg)
}

// Reconnect rebuilds the handles of a singleton connection, creating it when
// it does not exist yet. For a pooled connection inside a scope it returns the
// scope's borrowed connection unchanged, or apperrors.ErrNotBorrowed when the
// scope has not borrowed one.
func (m *Manager) Reconnect(ctx context.Context, name string) (*Connection, error) {
	if m.isClosed() {
		return nil, apperrors.ErrManagerClosed
	}
	n := m.parse(name)

	cfg, err := m.cfg.Lookup(n.Base)
	if err != nil {
		return nil, err
	}

	if cfg.Pooled && m.scheduler.Active(ctx) {
		id, _ := m.scheduler.ID(ctx)
		if c, ok := m.borrowed.Get(id, n.Full); ok {
			return c, nil
		}
		return nil, fmt.Errorf("reconnect [%s]: %w", n.Full, apperrors.ErrNotBorrowed)
	}

	m.mu.RLock()
	c, ok := m.singletons[n.Full]
	m.mu.RUnlock()
	if !ok {
		return m.Connection(ctx, name)
	}

	if err := c.Reconnect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Disconnect closes the handles of a singleton connection. It stays
// registered and reconnects on its next statement.
func (m *Manager) Disconnect(name string) error {
	n := m.parse(name)

	m.mu.RLock()
	c, ok := m.singletons[n.Full]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.Disconnect()
}

// Purge disconnects and forgets a singleton connection and closes its pool.
// Purging a base name also purges its "::read" and "::write" variants; a
// suffixed name purges only that role. Borrowed pooled connections are
// closed when their scopes return them.
func (m *Manager) Purge(name string) error {
	n := m.parse(name)

	targets := []string{n.Full}
	if n.Kind == kindDefault {
		targets = append(targets, n.Base+readSuffix, n.Base+writeSuffix)
	}

	m.mu.Lock()
	purged := make([]*Connection, 0, len(targets))
	for _, full := range targets {
		if c, ok := m.singletons[full]; ok {
			purged = append(purged, c)
			delete(m.singletons, full)
		}
	}
	m.mu.Unlock()

	for _, full := range targets {
		m.pools.Close(full, false)
	}

	var errs []error
	for _, c := range purged {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every singleton and shuts down every pool, waiting for
// borrowed connections until ctx is done. It returns the names of the pools
// that were closed.
func (m *Manager) Close(ctx context.Context) []string {
	m.mu.Lock()
	m.closed = true
	singletons := m.singletons
	m.singletons = make(map[string]*Connection)
	m.mu.Unlock()

	for name, c := range singletons {
		if err := c.Disconnect(); err != nil {
			m.logger.Warn("Error closing connection",
				zap.String("connection", name),
				zap.String("error", logging.SanitizeError(err)))
		}
	}

	names := m.pools.Shutdown(ctx)
	m.logger.Info("Database manager closed",
		zap.Int("singletons", len(singletons)),
		zap.Strings("pools", names))
	return names
}

// Extend registers a connector for a driver name that has no built-in
// registration, or overrides the built-in one.
func (m *Manager) Extend(driver string, fn ConnectorFunc) {
	m.extMu.Lock()
	defer m.extMu.Unlock()
	m.extensions[strings.ToLower(driver)] = fn
}

// DefaultConnection returns the name used for empty lookups.
func (m *Manager) DefaultConnection() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultName
}

// SetDefaultConnection changes the name used for empty lookups.
func (m *Manager) SetDefaultConnection(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultName = name
}

// ConnectionNames returns every configured connection name, sorted.
func (m *Manager) ConnectionNames() []string {
	return m.cfg.Names()
}

// Connections returns the names of the live singleton connections.
func (m *Manager) Connections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.singletons))
	for name := range m.singletons {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PoolStats returns a snapshot of every connection pool.
func (m *Manager) PoolStats() []pool.Stats {
	return m.pools.Stats()
}

// Rebuild opens fresh handles for a connection name. It is the Reconnector
// every Connection built by the Manager uses.
func (m *Manager) Rebuild(ctx context.Context, name string) (Handles, error) {
	if m.isClosed() {
		return Handles{}, apperrors.ErrManagerClosed
	}
	n := m.parse(name)

	cfg, err := m.cfg.Lookup(n.Base)
	if err != nil {
		return Handles{}, err
	}

	handles, err := m.buildHandles(ctx, n, cfg)
	if err != nil {
		return Handles{}, &apperrors.ConnectionBuildError{Connection: n.Full, Err: err}
	}
	return handles, nil
}

func (m *Manager) singleton(full string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.singletons[full]
	return c, ok
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) parse(name string) connectionName {
	return parseConnectionName(name, m.DefaultConnection())
}

// connectorFor resolves the connect function for a configuration. Extensions
// take precedence over built-in drivers.
func (m *Manager) connectorFor(name string, cfg config.ConnectionConfig) (ConnectorFunc, error) {
	m.extMu.RLock()
	ext, ok := m.extensions[cfg.Driver]
	m.extMu.RUnlock()
	if ok {
		return ext, nil
	}

	reg, ok := datasource.GetDriver(cfg.Driver)
	if !ok || reg.Connect == nil {
		return nil, &apperrors.UnsupportedOperationError{Connection: name, Driver: cfg.Driver, Operation: "connect"}
	}
	return func(ctx context.Context, _ config.ConnectionConfig, ep config.EndpointConfig) (datasource.Handle, error) {
		return reg.Connect(ctx, ep)
	}, nil
}

func (m *Manager) buildHandles(ctx context.Context, n connectionName, cfg config.ConnectionConfig) (Handles, error) {
	connect, err := m.connectorFor(n.Full, cfg)
	if err != nil {
		return Handles{}, err
	}

	write, err := m.connectEndpoint(ctx, n, cfg, cfg.WriteEndpoint(), connect)
	if err != nil {
		return Handles{}, err
	}

	readEndpoint, ok := cfg.ReadEndpoint()
	if !ok || n.Kind == kindWrite {
		return Handles{Write: write}, nil
	}

	read, err := m.connectEndpoint(ctx, n, cfg, readEndpoint, connect)
	if err != nil {
		_ = write.Close()
		return Handles{}, err
	}
	return Handles{Write: write, Read: read}, nil
}

func (m *Manager) connectEndpoint(ctx context.Context, n connectionName, cfg config.ConnectionConfig, ep config.EndpointConfig, connect ConnectorFunc) (datasource.Handle, error) {
	attempt := 0
	h, err := retry.DoIfRetryable(ctx, retry.ConnectConfig(cfg.ConnectRetries), func() (datasource.Handle, error) {
		attempt++
		h, err := connect(ctx, cfg, ep)
		if err != nil {
			m.logger.Warn("Failed to connect",
				zap.String("connection", n.Full),
				zap.String("host", ep.Host),
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(err)))
		}
		return h, err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("Connected",
		zap.String("connection", n.Full),
		zap.String("driver", cfg.Driver),
		zap.String("host", ep.Host))
	return h, nil
}

// makeConnection builds a Connection with fresh handles.
func (m *Manager) makeConnection(ctx context.Context, n connectionName, cfg config.ConnectionConfig) (*Connection, error) {
	handles, err := m.buildHandles(ctx, n, cfg)
	if err != nil {
		return nil, err
	}

	grammar := datasource.Grammar(datasource.BaseGrammar{})
	var classifier datasource.Classifier
	if reg, ok := datasource.GetDriver(cfg.Driver); ok {
		grammar = reg.Grammar
		classifier = reg.Classifier
	}

	return NewConnection(ConnectionParams{
		Name:        n.Full,
		Config:      cfg,
		Grammar:     grammar,
		Classifier:  classifier,
		Handles:     handles,
		Reconnector: m,
		Observers:   m.observers,
		Logger:      m.logger,
	}), nil
}

// releaseBorrowed runs when the scope that borrowed c completes.
func (m *Manager) releaseBorrowed(scopeID string, n connectionName, p *pool.Pool[*Connection], c *Connection) {
	m.borrowed.Delete(scopeID, n.Full)

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := c.ResetForPool(ctx); err != nil {
		m.logger.Warn("Discarding connection that failed to reset",
			zap.String("connection", n.Full),
			zap.String("error", logging.SanitizeError(err)))
		p.Discard(c)
		return
	}
	p.Release(c)
}
