package renderpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/metrics"
	"github.com/reviewlens/reviewlens/internal/scraper"
)

type fakeRenderer struct {
	closed atomic.Bool
}

func (r *fakeRenderer) Render(context.Context, string) (string, error) {
	return "<html></html>", nil
}

func (r *fakeRenderer) Close() error {
	r.closed.Store(true)
	return nil
}

type fakeFactory struct {
	created atomic.Int32
	last    atomic.Pointer[fakeRenderer]
}

func (f *fakeFactory) NewRenderer(context.Context) (scraper.Renderer, error) {
	f.created.Add(1)
	r := &fakeRenderer{}
	f.last.Store(r)
	return r, nil
}

func newTestPool(t *testing.T, factory *fakeFactory, capacity, recycleAfter int, acquireWait time.Duration) *Pool {
	t.Helper()
	return New(factory, capacity, recycleAfter, acquireWait, zap.NewNop(), metrics.New())
}

func TestAcquireCreatesLazily(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	pool := newTestPool(t, factory, 2, 10, time.Second)
	require.Zero(t, factory.created.Load())

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), factory.created.Load())

	// a released healthy session is reused, not recreated
	pool.Release(s, false)
	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, s, s2)
	require.Equal(t, int32(1), factory.created.Load())
}

func TestAcquireExhausted(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	pool := newTestPool(t, factory, 1, 10, 50*time.Millisecond)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, scraper.ErrPoolExhausted)

	pool.Release(s, false)
	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
}

func TestAcquireContextCancelled(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	pool := newTestPool(t, factory, 1, 10, time.Minute)

	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, scraper.ErrPoolExhausted)
}

func TestReleaseCrashedRecycles(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	pool := newTestPool(t, factory, 1, 10, time.Second)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	first := factory.last.Load()

	pool.Release(s, true)
	require.True(t, first.closed.Load())

	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), factory.created.Load())
}

func TestReleasePastPageBudgetRecycles(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	pool := newTestPool(t, factory, 1, 2, time.Second)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Render(context.Background(), "https://www.yelp.com/biz/x")
		require.NoError(t, err)
	}
	first := factory.last.Load()

	pool.Release(s, false)
	require.True(t, first.closed.Load())

	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), factory.created.Load())
}

func TestCloseShutsDownIdleSessions(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	pool := newTestPool(t, factory, 1, 10, time.Second)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s, false)
	renderer := factory.last.Load()

	pool.Close()
	require.True(t, renderer.closed.Load())
}
