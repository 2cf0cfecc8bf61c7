package database

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/apperrors"
	"github.com/ekaya-inc/minidb/pkg/config"
	"github.com/ekaya-inc/minidb/pkg/logging"
)

// Handles are the raw handles owned by one Connection. Read is nil when no
// replica is configured, in which case reads use Write.
type Handles struct {
	Write datasource.Handle
	Read  datasource.Handle
}

func (h Handles) close() error {
	var errs []error
	if h.Write != nil {
		errs = append(errs, h.Write.Close())
	}
	if h.Read != nil && h.Read != h.Write {
		errs = append(errs, h.Read.Close())
	}
	return errors.Join(errs...)
}

// Reconnector rebuilds the raw handles of a named connection. The Manager
// implements it; a Connection built without one cannot recover a lost link.
type Reconnector interface {
	Rebuild(ctx context.Context, name string) (Handles, error)
}

// ReconnectorFunc adapts a function to the Reconnector interface.
type ReconnectorFunc func(ctx context.Context, name string) (Handles, error)

func (f ReconnectorFunc) Rebuild(ctx context.Context, name string) (Handles, error) {
	return f(ctx, name)
}

// QueryLogEntry is one statement recorded while query logging or pretending.
type QueryLogEntry struct {
	SQL      string        `json:"sql"`
	Bindings []any         `json:"bindings"`
	Duration time.Duration `json:"duration"`
}

// ConnectionParams are the inputs of NewConnection.
type ConnectionParams struct {
	// Name is the requested name, including a "::read" or "::write" suffix.
	Name        string
	Config      config.ConnectionConfig
	Grammar     datasource.Grammar
	Classifier  datasource.Classifier
	Handles     Handles
	Reconnector Reconnector
	Observers   []Observer
	Logger      *zap.Logger
}

// Connection wraps the raw handles of one named connection. Every statement
// goes through run, which classifies failures and recovers a lost link once
// when no transaction is open.
//
// A Connection serializes its own statements but transaction state is shared:
// only one goroutine should drive a transaction at a time.
type Connection struct {
	name        string
	kind        handleKind
	config      config.ConnectionConfig
	grammar     datasource.Grammar
	classify    datasource.Classifier
	reconnector Reconnector
	observers   []Observer
	logger      *zap.Logger

	mu              sync.Mutex
	write           datasource.Handle
	read            datasource.Handle
	transactions    int
	recordsModified bool
	pretending      bool
	loggingQueries  bool
	queryLog        []QueryLogEntry
}

// NewConnection wraps already-open handles. A "::write" connection never uses
// a read handle, so one passed in is closed.
func NewConnection(p ConnectionParams) *Connection {
	name := parseConnectionName(p.Name, p.Config.Name)

	grammar := p.Grammar
	if grammar == nil {
		grammar = datasource.BaseGrammar{}
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Connection{
		name:        name.Full,
		kind:        name.Kind,
		config:      p.Config,
		grammar:     grammar,
		classify:    p.Classifier,
		reconnector: p.Reconnector,
		observers:   p.Observers,
		logger:      logger.With(zap.String("connection", name.Full)),
	}
	c.setHandlesLocked(p.Handles)
	return c
}

// Name returns the requested name including any role suffix.
func (c *Connection) Name() string { return c.name }

// Driver returns the configured driver name.
func (c *Connection) Driver() string { return c.config.Driver }

// Config returns the configuration this connection was built from.
func (c *Connection) Config() config.ConnectionConfig { return c.config }

// Grammar returns the SQL dialect of the driver.
func (c *Connection) Grammar() datasource.Grammar { return c.grammar }

// Handle returns the write handle, or nil after Disconnect.
func (c *Connection) Handle() datasource.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write
}

// ReadHandle returns the handle reads go to. The write handle is returned
// while a transaction is open, when the connection is sticky and has written,
// or when no read handle exists.
func (c *Connection) ReadHandle() datasource.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readHandleLocked()
}

func (c *Connection) readHandleLocked() datasource.Handle {
	if c.transactions > 0 {
		return c.write
	}
	if c.config.Sticky && c.recordsModified {
		return c.write
	}
	if c.read == nil {
		return c.write
	}
	return c.read
}

// handleForLocked picks the handle for a statement and reports whether it is
// the read handle. A "::read" connection sends everything through ReadHandle.
func (c *Connection) handleForLocked(useRead bool) (datasource.Handle, bool) {
	if useRead || c.kind == kindRead {
		h := c.readHandleLocked()
		return h, h != c.write
	}
	return c.write, false
}

func (c *Connection) setHandlesLocked(h Handles) {
	c.write = h.Write
	c.read = h.Read
	if c.kind == kindWrite && h.Read != nil {
		if h.Read != h.Write {
			_ = h.Read.Close()
		}
		c.read = nil
	}
}

// RecordsModified reports whether a write statement has succeeded since the
// connection was built or last reset.
func (c *Connection) RecordsModified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordsModified
}

// ForgetRecordModificationState lets reads return to the replica on a sticky
// connection.
func (c *Connection) ForgetRecordModificationState() {
	c.mu.Lock()
	c.recordsModified = false
	c.mu.Unlock()
}

// statement is one call into run.
type statement struct {
	query    string
	bindings []any
	useRead  bool
	// unprepared statements are sent verbatim, without placeholder rewriting.
	unprepared bool
}

type statementFunc func(ctx context.Context, h datasource.Handle, query string, args []any) error

// run executes fn against the right handle. Failures come back as
// *apperrors.QueryError. Outside a transaction a lost connection is rebuilt
// through the Reconnector and the statement is retried exactly once.
func (c *Connection) run(ctx context.Context, st statement, fn statementFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pretending {
		c.logQueryLocked(st.query, st.bindings, 0)
		return nil
	}

	if c.write == nil {
		if err := c.reconnectLocked(ctx); err != nil {
			return err
		}
	}

	qerr := c.runQueryCallback(ctx, st, fn)
	if qerr == nil {
		return nil
	}
	return c.handleQueryError(ctx, qerr, st, fn)
}

func (c *Connection) runQueryCallback(ctx context.Context, st statement, fn statementFunc) *apperrors.QueryError {
	query := st.query
	args := c.prepareBindings(st.bindings)
	if !st.unprepared {
		query = c.grammar.Placeholders(query)
	}

	h, read := c.handleForLocked(st.useRead)

	start := time.Now()
	err := fn(ctx, h, query, args)
	elapsed := time.Since(start)

	var kind apperrors.QueryKind
	if err != nil {
		kind = classifyError(err, c.classify)
	}

	c.logQueryLocked(st.query, st.bindings, elapsed)
	c.emitQuery(ctx, QueryEvent{
		Connection: c.name,
		Driver:     c.config.Driver,
		SQL:        st.query,
		Bindings:   st.bindings,
		Start:      start,
		Duration:   elapsed,
		Read:       read,
		Err:        err,
		Kind:       kind,
	})

	if err == nil {
		return nil
	}
	return &apperrors.QueryError{
		Connection: c.name,
		SQL:        st.query,
		Bindings:   st.bindings,
		Kind:       kind,
		Err:        err,
	}
}

func (c *Connection) handleQueryError(ctx context.Context, qerr *apperrors.QueryError, st statement, fn statementFunc) error {
	// Never retried inside a transaction.
	if c.transactions >= 1 {
		return qerr
	}
	if qerr.Kind != apperrors.QueryKindLostConnection {
		return qerr
	}

	c.logger.Warn("Lost connection, reconnecting",
		zap.String("sql", logging.SanitizeQuery(st.query)),
		zap.String("error", logging.SanitizeError(qerr.Err)),
	)

	if err := c.reconnectLocked(ctx); err != nil {
		return err
	}

	if retryErr := c.runQueryCallback(ctx, st, fn); retryErr != nil {
		return retryErr
	}
	return nil
}

// prepareBindings converts times and booleans into the driver's format.
func (c *Connection) prepareBindings(bindings []any) []any {
	if len(bindings) == 0 {
		return nil
	}
	out := make([]any, len(bindings))
	for i, b := range bindings {
		switch v := b.(type) {
		case time.Time:
			out[i] = v.Format(c.grammar.DateFormat())
		case *time.Time:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = v.Format(c.grammar.DateFormat())
			}
		case bool:
			out[i] = c.grammar.BoolValue(v)
		default:
			out[i] = b
		}
	}
	return out
}

func (c *Connection) emitQuery(ctx context.Context, ev QueryEvent) {
	for _, o := range c.observers {
		o.QueryExecuted(ctx, ev)
	}
}

func (c *Connection) emitTransaction(ctx context.Context, notify func(Observer, context.Context, TransactionEvent)) {
	ev := TransactionEvent{Connection: c.name, Driver: c.config.Driver, Level: c.transactions}
	for _, o := range c.observers {
		notify(o, ctx, ev)
	}
}

// Reconnect replaces both handles with fresh ones from the Reconnector and
// resets the transaction level to 0. The old handles are closed.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectLocked(ctx)
}

func (c *Connection) reconnectLocked(ctx context.Context) error {
	if c.reconnector == nil {
		return &apperrors.ReconnectUnavailableError{Connection: c.name}
	}

	handles, err := c.reconnector.Rebuild(ctx, c.name)
	if err != nil {
		return err
	}

	old := Handles{Write: c.write, Read: c.read}
	c.setHandlesLocked(handles)
	c.transactions = 0

	if err := old.close(); err != nil {
		c.logger.Debug("Error closing replaced handles", zap.String("error", logging.SanitizeError(err)))
	}
	c.logger.Info("Reconnected")
	return nil
}

// Disconnect closes both handles. The next statement reconnects lazily when a
// Reconnector is available. It is safe to call more than once.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := Handles{Write: c.write, Read: c.read}
	c.write, c.read = nil, nil
	c.transactions = 0
	return old.close()
}

// Close implements pool.Resource.
func (c *Connection) Close() error {
	return c.Disconnect()
}

// Ping checks the write handle, reconnecting first if it was dropped.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.write == nil {
		if err := c.reconnectLocked(ctx); err != nil {
			return err
		}
	}
	return c.write.Ping(ctx)
}

// ResetForPool returns the connection to a clean state before it goes back
// to its pool: open transactions are rolled back and per-borrow state such as
// pretend mode, the query log, and sticky write tracking is cleared.
func (c *Connection) ResetForPool(ctx context.Context) error {
	var err error
	if c.TransactionLevel() > 0 {
		err = c.RollbackTo(ctx, 0)
	}

	c.mu.Lock()
	c.pretending = false
	c.loggingQueries = false
	c.queryLog = nil
	c.recordsModified = false
	if err != nil {
		c.transactions = 0
	}
	c.mu.Unlock()

	return err
}
