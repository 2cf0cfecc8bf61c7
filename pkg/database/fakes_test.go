package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/config"
)

var (
	errGoneAway = errors.New("Error 2006 (HY000): MySQL server has gone away")
	errDeadlock = errors.New("Error 1213 (40001): Deadlock found when trying to get lock; try restarting transaction")
)

// fakeHandle records every statement and fails with queued errors.
type fakeHandle struct {
	host string

	mu         sync.Mutex
	statements []string
	args       [][]any
	errs       []error
	rows       []map[string]any
	affected   int64
	closes     int
}

var _ datasource.Handle = (*fakeHandle)(nil)

func newFakeHandle(host string) *fakeHandle {
	return &fakeHandle{host: host, affected: 1}
}

// failWith queues errors for the next statements, in order. A nil entry lets
// that statement succeed.
func (h *fakeHandle) failWith(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, errs...)
}

func (h *fakeHandle) setRows(rows ...map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = rows
}

func (h *fakeHandle) setAffected(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.affected = n
}

func (h *fakeHandle) record(query string, args []any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statements = append(h.statements, query)
	h.args = append(h.args, args)
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return err
	}
	return nil
}

func (h *fakeHandle) Exec(_ context.Context, query string, args ...any) (int64, error) {
	if err := h.record(query, args); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.affected, nil
}

func (h *fakeHandle) Query(_ context.Context, query string, args ...any) ([]map[string]any, error) {
	if err := h.record(query, args); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rows, nil
}

func (h *fakeHandle) Ping(context.Context) error { return nil }

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *fakeHandle) Statements() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statements...)
}

func (h *fakeHandle) Args(i int) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.args[i]
}

func (h *fakeHandle) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// countingReconnector hands out handles from next and counts rebuilds.
type countingReconnector struct {
	mu     sync.Mutex
	builds int
	next   func() Handles
	err    error
}

func (r *countingReconnector) Rebuild(context.Context, string) (Handles, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds++
	if r.err != nil {
		return Handles{}, r.err
	}
	return r.next(), nil
}

func (r *countingReconnector) Builds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds
}

func newTestConnection(t *testing.T, name string, cfg config.ConnectionConfig, handles Handles, r Reconnector) *Connection {
	t.Helper()
	if cfg.Driver == "" {
		cfg.Driver = "fake"
	}
	return NewConnection(ConnectionParams{
		Name:        name,
		Config:      cfg,
		Handles:     handles,
		Reconnector: r,
		Logger:      zaptest.NewLogger(t),
	})
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	mu           sync.Mutex
	queries      []QueryEvent
	transactions []string
}

func (o *recordingObserver) QueryExecuted(_ context.Context, ev QueryEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, ev)
}

func (o *recordingObserver) TransactionBeginning(_ context.Context, ev TransactionEvent) {
	o.add("begin", ev)
}

func (o *recordingObserver) TransactionCommitted(_ context.Context, ev TransactionEvent) {
	o.add("commit", ev)
}

func (o *recordingObserver) TransactionRolledBack(_ context.Context, ev TransactionEvent) {
	o.add("rollback", ev)
}

func (o *recordingObserver) add(kind string, ev TransactionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transactions = append(o.transactions, fmt.Sprintf("%s:%d", kind, ev.Level))
}

func (o *recordingObserver) Queries() []QueryEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]QueryEvent(nil), o.queries...)
}

func (o *recordingObserver) Transactions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.transactions...)
}

// fakeDriver is registered on a Manager through Extend. It builds one
// fakeHandle per connect and can be told to fail or to stall on a host.
type fakeDriver struct {
	mu      sync.Mutex
	handles []*fakeHandle
	fail    error
	gates   map[string]*hostGate
}

// hostGate holds connects to one host until release is closed.
type hostGate struct {
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func (d *fakeDriver) blockHost(host string) *hostGate {
	g := &hostGate{entered: make(chan struct{}), release: make(chan struct{})}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gates == nil {
		d.gates = make(map[string]*hostGate)
	}
	d.gates[host] = g
	return g
}

func (d *fakeDriver) connect(ctx context.Context, _ config.ConnectionConfig, ep config.EndpointConfig) (datasource.Handle, error) {
	d.mu.Lock()
	g := d.gates[ep.Host]
	d.mu.Unlock()
	if g != nil {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	h := newFakeHandle(ep.Host)
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeDriver) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

func (d *fakeDriver) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}
