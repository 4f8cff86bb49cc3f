package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLaunch counts launches and stops, and lets tests fail pings on
// selected processes.
type fakeLaunch struct {
	mu       sync.Mutex
	launched int
	stopped  int
	badPings int // first n processes fail their ping
}

func (f *fakeLaunch) launcher() launcher {
	return func(headless bool) (*proc, error) {
		f.mu.Lock()
		f.launched++
		bad := f.badPings > 0
		if bad {
			f.badPings--
		}
		f.mu.Unlock()

		return &proc{
			ping: func(ctx context.Context) error {
				if bad {
					return errors.New("browser gone")
				}
				return nil
			},
			newTab: func() (context.Context, context.CancelFunc, error) {
				ctx, cancel := context.WithCancel(context.Background())
				return ctx, cancel, nil
			},
			clearTab: func(ctx context.Context) error { return nil },
			stop: func() {
				f.mu.Lock()
				f.stopped++
				f.mu.Unlock()
			},
		}, nil
	}
}

func (f *fakeLaunch) counts() (launched, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launched, f.stopped
}

func testPool(t *testing.T, cfg Config, f *fakeLaunch) *Pool {
	t.Helper()
	p := newPool(cfg, zerolog.Nop(), f.launcher())
	t.Cleanup(p.Close)
	return p
}

func TestPoolWarmsMinProcesses(t *testing.T) {
	f := &fakeLaunch{}
	p := testPool(t, Config{Min: 2, Max: 4, AcquireTimeout: time.Second}, f)

	launched, _ := f.counts()
	assert.Equal(t, 2, launched)
	assert.Equal(t, 2, p.Live())
}

func TestPoolNeverExceedsMax(t *testing.T) {
	f := &fakeLaunch{}
	p := testPool(t, Config{Max: 2, AcquireTimeout: 100 * time.Millisecond}, f)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Live())

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, 2, p.Live())

	s1.Release()
	s3, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Live())

	s2.Release()
	s3.Release()
}

func TestPoolAcquireUnblocksOnRelease(t *testing.T) {
	f := &fakeLaunch{}
	p := testPool(t, Config{Max: 1, AcquireTimeout: 2 * time.Second}, f)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)

	var got atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		s2, err := p.Acquire(ctx)
		if err == nil {
			got.Store(true)
			s2.Release()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	s1.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never unblocked")
	}
	assert.True(t, got.Load())
}

func TestPoolAcquireHonorsContextCancel(t *testing.T) {
	f := &fakeLaunch{}
	p := testPool(t, Config{Max: 1, AcquireTimeout: 5 * time.Second}, f)

	s1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer s1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolDiscardsDeadProcessTransparently(t *testing.T) {
	f := &fakeLaunch{badPings: 1}
	p := testPool(t, Config{Max: 2, AcquireTimeout: time.Second}, f)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release()

	launched, stopped := f.counts()
	assert.Equal(t, 2, launched, "dead process replaced with a fresh one")
	assert.Equal(t, 1, stopped)
	assert.Equal(t, 1, p.Live())
}

func TestPoolLaunchFailureSurfacesToCaller(t *testing.T) {
	boom := errors.New("no chrome")
	p := newPool(Config{Max: 2, AcquireTimeout: time.Second}, zerolog.Nop(),
		func(headless bool) (*proc, error) { return nil, boom })
	t.Cleanup(p.Close)

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, p.Live(), "failed launch never leaks a live slot")
}

func TestSessionReleaseIsIdempotent(t *testing.T) {
	f := &fakeLaunch{}
	p := testPool(t, Config{Max: 1, AcquireTimeout: time.Second}, f)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	s.Release()
	s.Release()
	s.Release()

	// the single process is back exactly once
	s2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Live())
	s2.Release()
}

func TestPoolSweepEvictsIdleAboveMin(t *testing.T) {
	f := &fakeLaunch{}
	p := testPool(t, Config{
		Min:            1,
		Max:            3,
		AcquireTimeout: time.Second,
		IdleTimeout:    10 * time.Millisecond,
		SweepInterval:  10 * time.Millisecond,
	}, f)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	s3, err := p.Acquire(ctx)
	require.NoError(t, err)
	s1.Release()
	s2.Release()
	s3.Release()
	require.Equal(t, 3, p.Live())

	require.Eventually(t, func() bool { return p.Live() == 1 },
		time.Second, 10*time.Millisecond, "idle processes above Min should be evicted")
}

func TestPoolCloseStopsEverything(t *testing.T) {
	f := &fakeLaunch{}
	p := testPool(t, Config{Min: 2, Max: 4, AcquireTimeout: 50 * time.Millisecond}, f)

	p.Close()
	assert.Zero(t, p.Live())

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	launched, stopped := f.counts()
	assert.Equal(t, launched, stopped)
}
