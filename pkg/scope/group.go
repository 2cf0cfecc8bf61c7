package scope

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group runs tasks concurrently, each inside its own Scope. Scopes end when
// their task returns, so pooled connections borrowed by a task are released
// before Wait returns.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// WithGroup returns a Group and a derived context that is canceled when the
// first task fails or Wait returns.
func WithGroup(ctx context.Context) (*Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}, gctx
}

// SetLimit bounds the number of tasks running at once. A negative value
// removes the limit.
func (g *Group) SetLimit(n int) {
	g.g.SetLimit(n)
}

// Go runs fn in a new goroutine with a fresh Scope.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.g.Go(func() error {
		return Run(g.ctx, fn)
	})
}

// Wait blocks until every task returned and yields the first error.
func (g *Group) Wait() error {
	return g.g.Wait()
}
