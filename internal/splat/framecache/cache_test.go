package framecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splatstream/internal/splat"
	"github.com/banshee-data/splatstream/internal/timeutil"
)

// fakeSource builds one-point frames whose x position is the index. A gate,
// when set, holds every Load until it is closed.
type fakeSource struct {
	n     int
	gate  chan struct{}
	fail  map[int]bool
	clock *timeutil.MockClock
	cost  map[int]time.Duration

	mu      sync.Mutex
	loads   map[int]int
	active  map[int]int
	maxLive int
}

func newFakeSource(n int) *fakeSource {
	return &fakeSource{n: n, loads: map[int]int{}, active: map[int]int{}}
}

func (s *fakeSource) Len() int { return s.n }

func (s *fakeSource) Load(_ context.Context, i int) (*splat.Frame, error) {
	s.mu.Lock()
	s.loads[i]++
	s.active[i]++
	s.maxLive = max(s.maxLive, s.active[i])
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active[i]--
		s.mu.Unlock()
	}()

	if s.gate != nil {
		<-s.gate
	}
	if s.clock != nil {
		s.clock.Advance(s.cost[i])
	}
	if s.fail[i] {
		return nil, fmt.Errorf("%w: frame %d unreadable", splat.ErrIO, i)
	}
	f := splat.NewFrame(1)
	p := splat.DefaultPoint()
	p.Position[0] = float32(i)
	f.Append(p)
	f.ComputeBounds()
	return f, nil
}

func (s *fakeSource) loadCount(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[i]
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Capacity: 1})
	assert.ErrorIs(t, err, splat.ErrInvalidInput)

	_, err = New(newFakeSource(0), Config{Capacity: 1})
	assert.ErrorIs(t, err, splat.ErrEmptySequence)

	_, err = New(newFakeSource(3), Config{Capacity: 0})
	assert.ErrorIs(t, err, splat.ErrInvalidInput)

	_, err = New(newFakeSource(3), Config{Capacity: 1, PrefetchDistance: -1})
	assert.ErrorIs(t, err, splat.ErrInvalidInput)
}

func TestGetFrameMissThenHit(t *testing.T) {
	src := newFakeSource(5)
	c, err := New(src, Config{Capacity: 5})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, NotRequested, c.State(2))
	f, err := c.GetFrame(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, float32(2), f.Positions[0])
	assert.Equal(t, Cached, c.State(2))

	g, err := c.GetFrame(ctx, 2)
	require.NoError(t, err)
	assert.Same(t, f, g)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Hits)
	assert.InDelta(t, 0.5, st.HitRate(), 1e-9)
	assert.Equal(t, 1, src.loadCount(2))

	_, err = c.GetFrame(ctx, 5)
	assert.ErrorIs(t, err, splat.ErrInvalidInput)
	_, err = c.GetFrame(ctx, -1)
	assert.ErrorIs(t, err, splat.ErrInvalidInput)
}

func TestSingleInFlightDecodePerIndex(t *testing.T) {
	src := newFakeSource(5)
	src.gate = make(chan struct{})
	c, err := New(src, Config{Capacity: 5})
	require.NoError(t, err)

	const callers = 8
	results := make([]*splat.Frame, callers)
	var wg sync.WaitGroup
	for k := 0; k < callers; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			f, err := c.GetFrame(context.Background(), 3)
			assert.NoError(t, err)
			results[k] = f
		}(k)
	}
	require.Eventually(t, func() bool { return c.State(3) == Loading }, time.Second, time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, 1, src.loadCount(3))
	assert.Equal(t, 1, src.maxLive)
	for _, f := range results {
		assert.Same(t, results[0], f)
	}
	st := c.Stats()
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(callers-1), st.Hits)
}

func TestPrefetchAndWait(t *testing.T) {
	src := newFakeSource(10)
	c, err := New(src, Config{Capacity: 10, PrefetchDistance: 3, PrefetchWorkers: 1})
	require.NoError(t, err)

	c.Advance(2)
	c.Wait()
	for i := 3; i <= 5; i++ {
		assert.Equal(t, Cached, c.State(i), "frame %d", i)
	}
	assert.Equal(t, NotRequested, c.State(6))
	assert.Equal(t, 0, c.InFlight())

	// Already cached frames are not decoded again.
	c.Prefetch(2)
	c.Wait()
	assert.Equal(t, 1, src.loadCount(4))

	// Prefetch stops at the end of the sequence.
	c.Advance(8)
	c.Wait()
	assert.Equal(t, Cached, c.State(9))
}

func TestEvictionRespectsProtectionWindow(t *testing.T) {
	src := newFakeSource(6)
	c, err := New(src, Config{Capacity: 1, PrefetchDistance: 2})
	require.NoError(t, err)

	_, err = c.GetFrame(context.Background(), 0)
	require.NoError(t, err)
	c.Advance(0)
	c.Wait()
	// {0,1,2} exceeds capacity but is exactly position 0 plus two ahead.
	assert.Equal(t, 3, c.Stats().Cached)
	assert.Equal(t, uint64(0), c.Stats().Evictions)

	c.Advance(1)
	c.Wait()
	// Frame 0 is now behind the position and is no longer protected.
	assert.Equal(t, Evicted, c.State(0))
	for i := 1; i <= 3; i++ {
		assert.Equal(t, Cached, c.State(i), "frame %d", i)
	}
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestEvictionDropsFramesBehindPosition(t *testing.T) {
	src := newFakeSource(6)
	c, err := New(src, Config{Capacity: 2, PrefetchDistance: 1})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i <= 2; i++ {
		_, err := c.GetFrame(ctx, i)
		require.NoError(t, err)
		c.Advance(i)
		c.Wait()
	}
	assert.Equal(t, Evicted, c.State(0))
	assert.Equal(t, Evicted, c.State(1))
	assert.Equal(t, Cached, c.State(2))
	assert.Equal(t, Cached, c.State(3))
	assert.Equal(t, 2, c.Stats().Cached)
}

func TestFailedDecodeIsNotCached(t *testing.T) {
	src := newFakeSource(4)
	src.fail = map[int]bool{2: true}
	c, err := New(src, Config{Capacity: 4})
	require.NoError(t, err)

	_, err = c.GetFrame(context.Background(), 2)
	assert.ErrorIs(t, err, splat.ErrIO)
	assert.Equal(t, NotRequested, c.State(2))
	assert.Equal(t, uint64(1), c.Stats().Failures)

	_, err = c.GetFrame(context.Background(), 2)
	assert.Error(t, err)
	assert.Equal(t, 2, src.loadCount(2))
}

func TestClearDropsLateCompletion(t *testing.T) {
	src := newFakeSource(4)
	src.gate = make(chan struct{})
	c, err := New(src, Config{Capacity: 4, PrefetchDistance: 1})
	require.NoError(t, err)

	c.Prefetch(0)
	assert.Equal(t, Loading, c.State(1))
	c.Clear()
	// Still registered so no second decode of 1 can start.
	assert.Equal(t, Loading, c.State(1))

	close(src.gate)
	c.Wait()
	assert.Equal(t, NotRequested, c.State(1))
	st := c.Stats()
	assert.Equal(t, uint64(1), st.Stale)
	assert.Equal(t, 0, st.Cached)
}

func TestWaitHonoursContext(t *testing.T) {
	src := newFakeSource(4)
	src.gate = make(chan struct{})
	defer close(src.gate)
	c, err := New(src, Config{Capacity: 4, PrefetchDistance: 1})
	require.NoError(t, err)

	c.Prefetch(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetFrame(ctx, 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDecodeLatencyMovingAverage(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	src := newFakeSource(3)
	src.clock = clock
	src.cost = map[int]time.Duration{0: 10 * time.Millisecond, 1: 20 * time.Millisecond}
	c, err := New(src, Config{Capacity: 3, Clock: clock})
	require.NoError(t, err)

	_, err = c.GetFrame(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, c.Stats().AvgDecode)

	_, err = c.GetFrame(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, float64(11*time.Millisecond), float64(c.Stats().AvgDecode), float64(time.Microsecond))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not_requested", NotRequested.String())
	assert.Equal(t, "evicted", Evicted.String())
}
