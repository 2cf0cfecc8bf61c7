// Package pool provides a bounded, FIFO-fair object pool for database
// connections and a manager holding one pool per connection name.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

// Resource is anything a Pool can hold. Close must be safe to call more than once.
type Resource interface {
	comparable
	Close() error
}

// Factory builds a new value when the pool is below capacity and has no idle value.
type Factory[T Resource] func(ctx context.Context) (T, error)

type idleEntry[T Resource] struct {
	value T
	since time.Time
}

// Pool is a fixed-capacity pool. Borrowed plus idle values never exceed the
// capacity. Acquirers that find the pool exhausted wait in arrival order.
type Pool[T Resource] struct {
	name    string
	size    int
	factory Factory[T]
	logger  *zap.Logger

	mu       sync.Mutex
	idle     []idleEntry[T]
	borrowed map[T]struct{}
	closed   bool

	// inUse counts slots held by borrowed values and in-flight builds.
	// waiters holds one chan struct{} per blocked acquirer, oldest first.
	inUse   int
	waiters list.List

	created atomic.Int64
	reused  atomic.Int64
}

// New creates a pool of the given capacity. Values are built lazily.
func New[T Resource](name string, size int, factory Factory[T], logger *zap.Logger) (*Pool[T], error) {
	if size <= 0 {
		return nil, &apperrors.ConfigurationError{Connection: name, Reason: fmt.Sprintf("pool size must be positive, got %d", size)}
	}
	if factory == nil {
		return nil, &apperrors.ConfigurationError{Connection: name, Reason: "pool factory is nil"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool[T]{
		name:     name,
		size:     size,
		factory:  factory,
		logger:   logger.With(zap.String("pool", name)),
		borrowed: make(map[T]struct{}, size),
	}, nil
}

// Name returns the connection name this pool serves.
func (p *Pool[T]) Name() string {
	return p.name
}

// Size returns the fixed capacity.
func (p *Pool[T]) Size() int {
	return p.size
}

// Acquire borrows a value, blocking while the pool is at capacity.
// Canceling ctx while waiting returns the context error and consumes no slot.
// A factory failure returns *apperrors.ConnectionBuildError and frees the slot.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	if err := p.acquireSlot(ctx); err != nil {
		return zero, fmt.Errorf("acquire from pool [%s]: %w", p.name, err)
	}

	p.mu.Lock()
	if p.closed {
		p.releaseSlotsLocked(1)
		p.mu.Unlock()
		return zero, fmt.Errorf("acquire from pool [%s]: %w", p.name, apperrors.ErrPoolClosed)
	}
	if n := len(p.idle); n > 0 {
		v := p.idle[n-1].value
		p.idle[n-1] = idleEntry[T]{}
		p.idle = p.idle[:n-1]
		p.borrowed[v] = struct{}{}
		p.mu.Unlock()
		p.reused.Add(1)
		return v, nil
	}
	p.mu.Unlock()

	// The slot is held while building, so the factory runs outside the lock.
	v, err := p.factory(ctx)
	if err != nil {
		p.releaseSlots(1)
		p.logger.Warn("failed to build pooled value", zap.Error(err))
		return zero, &apperrors.ConnectionBuildError{Connection: p.name, Err: err}
	}

	p.mu.Lock()
	if p.closed {
		p.releaseSlotsLocked(1)
		p.mu.Unlock()
		p.closeValue(v)
		return zero, fmt.Errorf("acquire from pool [%s]: %w", p.name, apperrors.ErrPoolClosed)
	}
	p.borrowed[v] = struct{}{}
	p.mu.Unlock()
	p.created.Add(1)

	return v, nil
}

// Release returns a borrowed value. Values that are not currently borrowed
// from this pool are ignored. After Close the value is closed instead of
// being kept idle.
func (p *Pool[T]) Release(v T) {
	p.mu.Lock()
	if _, ok := p.borrowed[v]; !ok {
		p.mu.Unlock()
		p.logger.Warn("ignoring release of a value not borrowed from this pool")
		return
	}
	delete(p.borrowed, v)

	if p.closed {
		p.releaseSlotsLocked(1)
		p.mu.Unlock()
		p.closeValue(v)
		return
	}
	p.idle = append(p.idle, idleEntry[T]{value: v, since: time.Now()})
	p.releaseSlotsLocked(1)
	p.mu.Unlock()
}

// Discard closes a borrowed value and frees its slot without keeping it.
func (p *Pool[T]) Discard(v T) {
	p.mu.Lock()
	if _, ok := p.borrowed[v]; !ok {
		p.mu.Unlock()
		p.logger.Warn("ignoring discard of a value not borrowed from this pool")
		return
	}
	delete(p.borrowed, v)
	p.releaseSlotsLocked(1)
	p.mu.Unlock()

	p.closeValue(v)
}

// Close drains the pool. Idle values are closed now. Borrowed values are
// closed when released, or immediately when force is set.
// Close is idempotent.
func (p *Pool[T]) Close(force bool) {
	p.mu.Lock()
	wasClosed := p.closed
	p.closed = true
	idle := p.idle
	p.idle = nil
	var borrowed []T
	if force {
		borrowed = make([]T, 0, len(p.borrowed))
		for v := range p.borrowed {
			borrowed = append(borrowed, v)
			delete(p.borrowed, v)
		}
		// Force-closed values no longer hold a slot; a later Release is ignored.
		p.releaseSlotsLocked(len(borrowed))
	}
	p.mu.Unlock()

	for _, e := range idle {
		p.closeValue(e.value)
	}
	for _, v := range borrowed {
		p.closeValue(v)
	}

	if !wasClosed {
		p.logger.Info("pool closed",
			zap.Int("closedIdle", len(idle)),
			zap.Int("forceClosed", len(borrowed)),
		)
	}
}

// PruneIdle closes idle values that have not been borrowed for at least maxIdle.
// It returns the number of values closed.
func (p *Pool[T]) PruneIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	p.mu.Lock()
	// idle is ordered oldest first
	n := 0
	for n < len(p.idle) && !p.idle[n].since.After(cutoff) {
		n++
	}
	expired := make([]idleEntry[T], n)
	copy(expired, p.idle[:n])
	p.idle = append(p.idle[:0], p.idle[n:]...)
	p.mu.Unlock()

	for _, e := range expired {
		p.closeValue(e.value)
	}
	return n
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:     p.name,
		Size:     p.size,
		Idle:     len(p.idle),
		Borrowed: len(p.borrowed),
		Waiting:  p.waiters.Len(),
		Created:  p.created.Load(),
		Reused:   p.reused.Load(),
		Closed:   p.closed,
	}
}

// acquireSlot takes a slot, queueing behind earlier waiters when the pool is
// at capacity. A canceled waiter leaves the queue without holding a slot.
func (p *Pool[T]) acquireSlot(ctx context.Context) error {
	p.mu.Lock()
	if p.inUse < p.size && p.waiters.Len() == 0 {
		p.inUse++
		p.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := p.waiters.PushBack(ready)
	p.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-ready:
			// Granted while canceling: hand the slot to the next waiter.
			p.releaseSlotsLocked(1)
		default:
			p.waiters.Remove(elem)
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *Pool[T]) releaseSlots(n int) {
	p.mu.Lock()
	p.releaseSlotsLocked(n)
	p.mu.Unlock()
}

// releaseSlotsLocked frees n slots and grants them to waiters in arrival order.
func (p *Pool[T]) releaseSlotsLocked(n int) {
	p.inUse -= n
	for p.inUse < p.size && p.waiters.Len() > 0 {
		front := p.waiters.Front()
		p.waiters.Remove(front)
		p.inUse++
		close(front.Value.(chan struct{}))
	}
}

func (p *Pool[T]) closeValue(v T) {
	if err := v.Close(); err != nil {
		p.logger.Warn("failed to close pooled value", zap.Error(err))
	}
}

// Stats contains a snapshot of one pool.
type Stats struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Idle     int    `json:"idle"`
	Borrowed int    `json:"borrowed"`
	Waiting  int    `json:"waiting"`
	Created  int64  `json:"created"`
	Reused   int64  `json:"reused"`
	Closed   bool   `json:"closed"`
}
