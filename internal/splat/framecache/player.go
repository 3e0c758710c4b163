package framecache

import (
	"context"
	"time"

	"github.com/banshee-data/splatstream/internal/monitoring"
	"github.com/banshee-data/splatstream/internal/splat"
)

var playerLogf = monitoring.Component("player")

// Renderer consumes delivered frames.
type Renderer interface {
	Present(index int, f *splat.Frame)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(index int, f *splat.Frame)

func (fn RendererFunc) Present(index int, f *splat.Frame) { fn(index, f) }

// PlayerConfig controls playback timing.
type PlayerConfig struct {
	FPS  float64 // zero means 30
	Loop bool
}

// Player drives sequential playback through a Cache. It is not safe for
// concurrent use: ticks are cooperative and must not overlap.
type Player struct {
	cache    *Cache
	renderer Renderer
	interval time.Duration
	loop     bool

	current   int // -1 until the first delivery
	elapsed   time.Duration
	finished  bool
	delivered uint64
	skipped   uint64
}

// NewPlayer returns a player that has not delivered any frame yet.
func NewPlayer(c *Cache, r Renderer, cfg PlayerConfig) *Player {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	return &Player{
		cache:    c,
		renderer: r,
		interval: time.Duration(float64(time.Second) / fps),
		loop:     cfg.Loop,
		current:  -1,
	}
}

// Interval returns the time between frames.
func (p *Player) Interval() time.Duration { return p.interval }

// Current returns the index of the last delivered frame, or -1.
func (p *Player) Current() int { return p.current }

// Finished reports whether non-looping playback has passed the last frame.
func (p *Player) Finished() bool { return p.finished }

// Delivered returns the number of frames handed to the renderer.
func (p *Player) Delivered() uint64 { return p.delivered }

// Skipped returns the number of frames skipped because they failed to load.
func (p *Player) Skipped() uint64 { return p.skipped }

// Tick advances playback by dt. The first tick delivers frame 0. After that
// one frame is delivered per elapsed frame interval, each only after the
// previous one reached the renderer.
func (p *Player) Tick(ctx context.Context, dt time.Duration) error {
	if p.finished {
		return nil
	}
	if p.current < 0 {
		return p.deliverFrom(ctx, 0)
	}
	p.elapsed += dt
	for p.elapsed >= p.interval && !p.finished {
		p.elapsed -= p.interval
		if err := p.deliverFrom(ctx, p.current+1); err != nil {
			return err
		}
	}
	return nil
}

// Seek resets the frame timer and delivers index j, blocking if it must be
// decoded. Prefetch then continues from j.
func (p *Player) Seek(ctx context.Context, j int) error {
	if err := p.cache.checkIndex(j); err != nil {
		return err
	}
	p.elapsed = 0
	p.finished = false
	return p.deliverFrom(ctx, j)
}

// deliverFrom presents the first frame at or after start that loads,
// wrapping when looping. Frames that fail are logged and skipped. If a full
// pass over the sequence fails, ErrEmptySequence is returned.
func (p *Player) deliverFrom(ctx context.Context, start int) error {
	n := p.cache.Len()
	for attempt := 0; attempt < n; attempt++ {
		idx := start + attempt
		if idx >= n {
			if !p.loop {
				p.finished = true
				return nil
			}
			idx %= n
		}
		f, err := p.cache.GetFrame(ctx, idx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			p.skipped++
			playerLogf("skipping frame %d: %v", idx, err)
			continue
		}
		p.renderer.Present(idx, f)
		p.current = idx
		p.delivered++
		p.cache.Advance(idx)
		return nil
	}
	p.finished = true
	return splat.ErrEmptySequence
}
