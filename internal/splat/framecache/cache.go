// Package framecache serves decoded frames for a mostly sequential index
// stream under a fixed capacity, hiding decode latency with background
// prefetch.
//
// Each index moves through NotRequested → Loading → Cached → Evicted. At most
// one decode per index is in flight at any instant; a GetFrame on a Loading
// index waits for that decode instead of starting another. Decodes are never
// cancelled: Clear only discards references, and a completion that arrives
// after a Clear is not cached.
package framecache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/banshee-data/splatstream/internal/monitoring"
	"github.com/banshee-data/splatstream/internal/splat"
	"github.com/banshee-data/splatstream/internal/timeutil"
)

var logf = monitoring.Component("cache")

// Source produces frames by index. Load must be safe for concurrent use.
type Source interface {
	Len() int
	Load(ctx context.Context, index int) (*splat.Frame, error)
}

// State is the lifecycle state of one index.
type State int

const (
	NotRequested State = iota
	Loading
	Cached
	Evicted
)

func (s State) String() string {
	switch s {
	case NotRequested:
		return "not_requested"
	case Loading:
		return "loading"
	case Cached:
		return "cached"
	case Evicted:
		return "evicted"
	}
	return "unknown"
}

// latencyAlpha is the smoothing factor of the decode latency average.
const latencyAlpha = 0.1

// Config sizes a Cache.
type Config struct {
	// Capacity is the number of decoded frames retained.
	Capacity int
	// PrefetchDistance is how many frames ahead of the play position are
	// decoded in the background. It also sets the eviction protection
	// window: the position and the PrefetchDistance indices after it are
	// kept even when the cache is over capacity.
	PrefetchDistance int
	// PrefetchWorkers bounds concurrent background decodes. Zero means 2.
	PrefetchWorkers int
	// Clock measures decode latency. Nil means the wall clock.
	Clock timeutil.Clock
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Waits     uint64 `json:"waits"` // hits that blocked on an in-flight decode
	Evictions uint64 `json:"evictions"`
	Failures  uint64 `json:"failures"`
	Stale     uint64 `json:"stale"` // completions dropped after Clear

	Cached   int `json:"cached"`
	InFlight int `json:"in_flight"`
	Position int `json:"position"`

	AvgDecode time.Duration `json:"avg_decode_ns"`
}

// HitRate returns hits / (hits + misses), or 0 before any request.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// pending is an in-flight decode. done is closed once frame and err are set.
type pending struct {
	done  chan struct{}
	frame *splat.Frame
	err   error
	gen   uint64
}

// Cache is a bounded, prefetching frame cache. It is safe for concurrent use.
type Cache struct {
	src   Source
	cfg   Config
	clock timeutil.Clock
	sem   *semaphore.Weighted

	mu       sync.Mutex
	frames   map[int]*splat.Frame
	loading  map[int]*pending
	order    *list.List // front is most recently used
	elems    map[int]*list.Element
	evicted  map[int]bool
	position int
	gen      uint64
	stats    Stats
	sampled  bool

	wg sync.WaitGroup
}

// New returns a cache over src.
func New(src Source, cfg Config) (*Cache, error) {
	if src == nil {
		return nil, splat.Invalidf("nil frame source")
	}
	if src.Len() == 0 {
		return nil, splat.ErrEmptySequence
	}
	if cfg.Capacity < 1 {
		return nil, splat.Invalidf("cache capacity %d", cfg.Capacity)
	}
	if cfg.PrefetchDistance < 0 {
		return nil, splat.Invalidf("prefetch distance %d", cfg.PrefetchDistance)
	}
	if cfg.PrefetchWorkers <= 0 {
		cfg.PrefetchWorkers = 2
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Cache{
		src:     src,
		cfg:     cfg,
		clock:   clock,
		sem:     semaphore.NewWeighted(int64(cfg.PrefetchWorkers)),
		frames:  make(map[int]*splat.Frame),
		loading: make(map[int]*pending),
		order:   list.New(),
		elems:   make(map[int]*list.Element),
		evicted: make(map[int]bool),
	}, nil
}

// Len returns the length of the underlying source.
func (c *Cache) Len() int { return c.src.Len() }

func (c *Cache) checkIndex(index int) error {
	if index < 0 || index >= c.src.Len() {
		return splat.Invalidf("frame index %d out of range [0,%d)", index, c.src.Len())
	}
	return nil
}

// GetFrame returns frame index. A cached frame is returned at once. A
// Loading index blocks until its decode completes (or ctx is done). Any
// other index is decoded inline and counted as a miss.
func (c *Cache) GetFrame(ctx context.Context, index int) (*splat.Frame, error) {
	if err := c.checkIndex(index); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if f, ok := c.frames[index]; ok {
		c.stats.Hits++
		c.order.MoveToFront(c.elems[index])
		c.mu.Unlock()
		return f, nil
	}
	if p, ok := c.loading[index]; ok {
		c.stats.Hits++
		c.stats.Waits++
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.frame, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.stats.Misses++
	p := c.startLocked(index)
	c.mu.Unlock()

	// The decode outlives a cancelled caller; other waiters may share it.
	c.load(context.WithoutCancel(ctx), index, p)
	return p.frame, p.err
}

// startLocked registers an in-flight decode for index. c.mu must be held.
func (c *Cache) startLocked(index int) *pending {
	p := &pending{done: make(chan struct{}), gen: c.gen}
	c.loading[index] = p
	delete(c.evicted, index)
	return p
}

// load runs the decode outside the lock and publishes the result.
func (c *Cache) load(ctx context.Context, index int, p *pending) {
	start := c.clock.Now()
	f, err := c.src.Load(ctx, index)
	if err == nil && f == nil {
		err = splat.Invalidf("source returned no frame for index %d", index)
	}
	elapsed := c.clock.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	p.frame, p.err = f, err
	defer close(p.done)

	if c.loading[index] == p {
		delete(c.loading, index)
	}
	if p.gen != c.gen {
		c.stats.Stale++
		return
	}
	if err != nil {
		c.stats.Failures++
		logf("decode of frame %d failed after %v: %v", index, elapsed, err)
		return
	}

	if c.sampled {
		c.stats.AvgDecode = time.Duration(latencyAlpha*float64(elapsed) + (1-latencyAlpha)*float64(c.stats.AvgDecode))
	} else {
		c.stats.AvgDecode = elapsed
		c.sampled = true
	}
	c.frames[index] = f
	c.elems[index] = c.order.PushFront(index)
	c.evictLocked()
}

// Advance records index as the play position and prefetches ahead of it.
func (c *Cache) Advance(index int) {
	if c.checkIndex(index) != nil {
		return
	}
	c.mu.Lock()
	c.position = index
	c.evictLocked()
	c.mu.Unlock()
	c.Prefetch(index)
}

// Prefetch starts background decodes of index+1 … index+PrefetchDistance
// that are neither cached nor loading. Concurrency is bounded by
// PrefetchWorkers; excess requests queue.
func (c *Cache) Prefetch(index int) {
	n := c.src.Len()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := index + 1; i <= index+c.cfg.PrefetchDistance && i < n; i++ {
		if i < 0 {
			continue
		}
		if _, ok := c.frames[i]; ok {
			continue
		}
		if _, ok := c.loading[i]; ok {
			continue
		}
		p := c.startLocked(i)
		c.wg.Add(1)
		go func(i int, p *pending) {
			defer c.wg.Done()
			// Acquire cannot fail with a background context.
			_ = c.sem.Acquire(context.Background(), 1)
			defer c.sem.Release(1)
			c.load(context.Background(), i, p)
		}(i, p)
	}
}

// Wait blocks until every background decode started so far has finished.
func (c *Cache) Wait() { c.wg.Wait() }

// evictLocked drops least recently used frames while over capacity,
// skipping indices inside the protection window. Loading indices are not
// in the frame table and so are never candidates. c.mu must be held.
func (c *Cache) evictLocked() {
	for len(c.frames) > c.cfg.Capacity {
		var victim *list.Element
		for e := c.order.Back(); e != nil; e = e.Prev() {
			if !c.protectedLocked(e.Value.(int)) {
				victim = e
				break
			}
		}
		if victim == nil {
			// Everything is protected; retry on the next advance.
			return
		}
		idx := victim.Value.(int)
		c.order.Remove(victim)
		delete(c.elems, idx)
		delete(c.frames, idx)
		c.evicted[idx] = true
		c.stats.Evictions++
	}
}

// protectedLocked reports whether index lies in [position, position+PrefetchDistance].
func (c *Cache) protectedLocked(index int) bool {
	d := index - c.position
	return d >= 0 && d <= c.cfg.PrefetchDistance
}

// State reports the lifecycle state of index.
func (c *Cache) State(index int) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.frames[index] != nil:
		return Cached
	case c.loading[index] != nil:
		return Loading
	case c.evicted[index]:
		return Evicted
	}
	return NotRequested
}

// InFlight returns the number of decodes currently running or queued.
func (c *Cache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loading)
}

// Clear discards every cached frame. In-flight decodes stay registered so
// the one-decode-per-index rule holds, but their results are handed only
// to waiters and not cached. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.frames)
	clear(c.elems)
	clear(c.evicted)
	c.order.Init()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Cached = len(c.frames)
	s.InFlight = len(c.loading)
	s.Position = c.position
	return s
}
