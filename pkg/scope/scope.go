// Package scope models a unit of work (request, job, task) carried on a
// context.Context. A Scope has a stable identity and a list of completion
// hooks that run exactly once when the unit of work ends.
package scope

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

type contextKey string

const scopeKey contextKey = "scope"

// Scope is a single unit of work. It is meant to be used by one goroutine at
// a time; parallel work should start its own Scope (see Group).
type Scope struct {
	id string

	mu    sync.Mutex
	hooks []func()
	ended bool
	once  sync.Once
	done  chan struct{}
}

// Begin starts a new Scope and returns a context carrying it.
// A Scope begun on a context that already carries one shadows the outer Scope.
func Begin(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
	return context.WithValue(ctx, scopeKey, s), s
}

// FromContext returns the Scope carried on ctx, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey).(*Scope)
	return s, ok && s != nil
}

// Run begins a Scope, calls fn with it and ends the Scope afterwards.
// Completion hooks fire even when fn returns an error or panics.
func Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, s := Begin(ctx)
	defer s.End()
	return fn(ctx)
}

// ID returns the Scope's identity.
func (s *Scope) ID() string {
	return s.id
}

// Active reports whether End has not been called yet.
func (s *Scope) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// Done is closed once every completion hook has run.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// Defer registers fn to run when the Scope ends. Hooks run in reverse
// registration order. Registering on an ended Scope returns ErrScopeEnded
// and fn is not called.
func (s *Scope) Defer(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return apperrors.ErrScopeEnded
	}
	s.hooks = append(s.hooks, fn)
	return nil
}

// End runs the completion hooks. Only the first call has an effect.
// A panicking hook does not stop the others; the first panic is re-raised
// after every hook ran.
func (s *Scope) End() {
	s.once.Do(func() {
		s.mu.Lock()
		s.ended = true
		hooks := s.hooks
		s.hooks = nil
		s.mu.Unlock()

		defer close(s.done)

		var recovered any
		for i := len(hooks) - 1; i >= 0; i-- {
			if r := runHook(hooks[i]); r != nil && recovered == nil {
				recovered = r
			}
		}
		if recovered != nil {
			panic(recovered)
		}
	})
}

func runHook(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return nil
}
