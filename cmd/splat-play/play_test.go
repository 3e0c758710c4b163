package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splatstream/internal/catalog"
	"github.com/banshee-data/splatstream/internal/monitor"
	"github.com/banshee-data/splatstream/internal/splat"
	"github.com/banshee-data/splatstream/internal/splat/framecache"
	"github.com/banshee-data/splatstream/internal/timeutil"
)

type memSource struct {
	frames []*splat.Frame
	bad    map[int]bool
}

func (m memSource) Len() int { return len(m.frames) }

func (m memSource) Load(_ context.Context, i int) (*splat.Frame, error) {
	if m.bad[i] {
		return nil, errors.New("corrupt")
	}
	return m.frames[i], nil
}

func newMemSource(n int) memSource {
	src := memSource{bad: map[int]bool{}}
	for i := 0; i < n; i++ {
		f := splat.NewFrame(1)
		p := splat.DefaultPoint()
		p.Position = [3]float32{float32(i), 0, 0}
		f.Append(p)
		f.ComputeBounds()
		src.frames = append(src.frames, f)
	}
	return src
}

// channelRenderer forwards presented indices so the test can follow
// playback running on another goroutine.
type channelRenderer chan int

func (c channelRenderer) Present(index int, _ *splat.Frame) { c <- index }

func next(t *testing.T, c channelRenderer) int {
	t.Helper()
	select {
	case idx := <-c:
		return idx
	case <-time.After(5 * time.Second):
		t.Fatal("no frame presented")
		return -1
	}
}

func TestPlayRunsToEndAndSamples(t *testing.T) {
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer store.Close()

	src := newMemSource(4)
	src.bad[2] = true
	cache, err := framecache.New(src, framecache.Config{Capacity: 4, PrefetchDistance: 1})
	require.NoError(t, err)
	defer cache.Wait()

	presented := make(channelRenderer, 8)
	player := framecache.NewPlayer(cache, presented, framecache.PlayerConfig{FPS: 10})
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	history := monitor.NewHistory(100)

	done := make(chan error, 1)
	go func() {
		done <- play(context.Background(), session{
			player: player, cache: cache, clock: clock, history: history, store: store,
			sessionID: "s1", sampleEvery: time.Hour,
		})
	}()

	got := []int{next(t, presented)}
	for len(got) < 3 {
		clock.Advance(100 * time.Millisecond)
		got = append(got, next(t, presented))
	}
	assert.Equal(t, []int{0, 1, 3}, got, "frame 2 fails to decode and is skipped")

	// One more interval runs off the end of a non-looping sequence.
	clock.Advance(100 * time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("play did not finish")
	}

	require.Len(t, history.Samples(), 1, "final sample on exit")
	samples, err := store.CacheSamples(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.GreaterOrEqual(t, samples[0].Failures, uint64(1))
}

func TestPlayStopsOnCancel(t *testing.T) {
	cache, err := framecache.New(newMemSource(3), framecache.Config{Capacity: 2})
	require.NoError(t, err)
	defer cache.Wait()

	presented := make(channelRenderer, 8)
	player := framecache.NewPlayer(cache, presented, framecache.PlayerConfig{FPS: 10, Loop: true})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- play(ctx, session{
			player: player, cache: cache, clock: timeutil.NewMockClock(time.Unix(0, 0)), history: monitor.NewHistory(10),
		})
	}()
	assert.Equal(t, 0, next(t, presented))
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("play did not stop")
	}
}
