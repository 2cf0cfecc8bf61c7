package database

import (
	"context"
	"time"

	"github.com/ekaya-inc/minidb/pkg/scope"
)

// PingResult is the outcome of checking one named connection.
type PingResult struct {
	Name    string        `json:"name"`
	Elapsed time.Duration `json:"elapsed"`
	Err     error         `json:"-"`
}

// PingAll resolves and pings every name concurrently, each in its own scope
// so pooled connections are released as soon as their check finishes. An
// empty names list checks every configured connection. Results keep the
// order of names.
func (m *Manager) PingAll(ctx context.Context, names []string) []PingResult {
	if len(names) == 0 {
		names = m.ConnectionNames()
	}

	results := make([]PingResult, len(names))
	g, _ := scope.WithGroup(ctx)
	for i, name := range names {
		g.Go(func(ctx context.Context) error {
			start := time.Now()
			err := m.ping(ctx, name)
			results[i] = PingResult{Name: name, Elapsed: time.Since(start), Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Manager) ping(ctx context.Context, name string) error {
	c, err := m.Connection(ctx, name)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}
