package scope

import (
	"context"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

// Scheduler is the capability the connection registry needs from the host
// runtime: detect an active unit of work, identify it, and run a callback
// exactly once when it completes.
type Scheduler interface {
	Active(ctx context.Context) bool
	ID(ctx context.Context) (string, bool)
	OnComplete(ctx context.Context, fn func()) error
}

// ContextScheduler implements Scheduler on top of Scopes carried by context.
type ContextScheduler struct{}

var _ Scheduler = ContextScheduler{}

// Active reports whether ctx carries a Scope that has not ended.
func (ContextScheduler) Active(ctx context.Context) bool {
	s, ok := FromContext(ctx)
	return ok && s.Active()
}

// ID returns the identity of the Scope carried by ctx.
func (ContextScheduler) ID(ctx context.Context) (string, bool) {
	s, ok := FromContext(ctx)
	if !ok {
		return "", false
	}
	return s.ID(), true
}

// OnComplete registers fn on the Scope carried by ctx.
func (ContextScheduler) OnComplete(ctx context.Context, fn func()) error {
	s, ok := FromContext(ctx)
	if !ok {
		return apperrors.ErrNoActiveScope
	}
	return s.Defer(fn)
}
