package scope

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

func TestBegin_CarriesScopeOnContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx, s := Begin(context.Background())
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.NotEmpty(t, s.ID())
	assert.True(t, s.Active())
}

func TestBegin_NestedScopeShadowsOuter(t *testing.T) {
	outerCtx, outer := Begin(context.Background())
	innerCtx, inner := Begin(outerCtx)

	assert.NotEqual(t, outer.ID(), inner.ID())

	got, _ := FromContext(innerCtx)
	assert.Same(t, inner, got)
	got, _ = FromContext(outerCtx)
	assert.Same(t, outer, got)
}

func TestEnd_RunsHooksLIFOExactlyOnce(t *testing.T) {
	_, s := Begin(context.Background())

	var order []int
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Defer(func() { order = append(order, i) }))
	}

	s.End()
	s.End()

	assert.Equal(t, []int{3, 2, 1}, order)
	assert.False(t, s.Active())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after End")
	}
}

func TestDefer_AfterEndFails(t *testing.T) {
	_, s := Begin(context.Background())
	s.End()

	called := false
	err := s.Defer(func() { called = true })
	assert.ErrorIs(t, err, apperrors.ErrScopeEnded)
	assert.False(t, called)
}

func TestEnd_PanickingHookDoesNotSkipOthers(t *testing.T) {
	_, s := Begin(context.Background())

	var ran atomic.Int32
	require.NoError(t, s.Defer(func() { ran.Add(1) }))
	require.NoError(t, s.Defer(func() { panic("boom") }))
	require.NoError(t, s.Defer(func() { ran.Add(1) }))

	assert.PanicsWithValue(t, "boom", s.End)
	assert.Equal(t, int32(2), ran.Load())
}

func TestRun_HooksFireOnError(t *testing.T) {
	released := 0
	sentinel := errors.New("task failed")

	err := Run(context.Background(), func(ctx context.Context) error {
		s, ok := FromContext(ctx)
		require.True(t, ok)
		require.NoError(t, s.Defer(func() { released++ }))
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, released)
}

func TestRun_HooksFireOnPanic(t *testing.T) {
	released := 0

	assert.Panics(t, func() {
		_ = Run(context.Background(), func(ctx context.Context) error {
			s, _ := FromContext(ctx)
			_ = s.Defer(func() { released++ })
			panic("task panicked")
		})
	})

	assert.Equal(t, 1, released)
}

func TestContextScheduler(t *testing.T) {
	var sched Scheduler = ContextScheduler{}

	bg := context.Background()
	assert.False(t, sched.Active(bg))
	_, ok := sched.ID(bg)
	assert.False(t, ok)
	assert.ErrorIs(t, sched.OnComplete(bg, func() {}), apperrors.ErrNoActiveScope)

	ctx, s := Begin(bg)
	assert.True(t, sched.Active(ctx))
	id, ok := sched.ID(ctx)
	require.True(t, ok)
	assert.Equal(t, s.ID(), id)

	fired := false
	require.NoError(t, sched.OnComplete(ctx, func() { fired = true }))
	s.End()
	assert.True(t, fired)
	assert.False(t, sched.Active(ctx), "ended scope is not active")
}

func TestStore_IsolatedPerScope(t *testing.T) {
	store := NewStore[string]()

	store.Set("a", "main", "conn-a")
	store.Set("b", "main", "conn-b")
	store.Set("a", "reporting", "conn-a-reporting")

	v, ok := store.Get("a", "main")
	require.True(t, ok)
	assert.Equal(t, "conn-a", v)

	v, ok = store.Get("b", "main")
	require.True(t, ok)
	assert.Equal(t, "conn-b", v)

	_, ok = store.Get("c", "main")
	assert.False(t, ok)
	assert.Equal(t, 3, store.Len())

	v, loaded := store.LoadOrStore("a", "main", "other")
	assert.True(t, loaded)
	assert.Equal(t, "conn-a", v)
	v, loaded = store.LoadOrStore("c", "main", "conn-c")
	assert.False(t, loaded)
	assert.Equal(t, "conn-c", v)
	store.Delete("c", "main")

	store.Delete("a", "main")
	_, ok = store.Get("a", "main")
	assert.False(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestGroup_EachTaskHasOwnScope(t *testing.T) {
	g, ctx := WithGroup(context.Background())
	g.SetLimit(4)

	ids := make([]string, 8)
	var ended atomic.Int32
	for i := range ids {
		g.Go(func(ctx context.Context) error {
			s, ok := FromContext(ctx)
			if !ok {
				return errors.New("task has no scope")
			}
			ids[i] = s.ID()
			return s.Defer(func() { ended.Add(1) })
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(len(ids)), ended.Load())

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "scope ids must be unique")
		seen[id] = true
	}

	_, ok := FromContext(ctx)
	assert.False(t, ok, "group context itself carries no scope")
}

func TestGroup_FirstErrorReturned(t *testing.T) {
	g, _ := WithGroup(context.Background())
	sentinel := errors.New("failed")

	g.Go(func(ctx context.Context) error { return sentinel })
	g.Go(func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, g.Wait(), sentinel)
}
