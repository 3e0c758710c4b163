package main

import (
	"context"
	"log"
	"time"

	"github.com/banshee-data/splatstream/internal/catalog"
	"github.com/banshee-data/splatstream/internal/monitor"
	"github.com/banshee-data/splatstream/internal/splat/framecache"
	"github.com/banshee-data/splatstream/internal/timeutil"
)

type session struct {
	player  *framecache.Player
	cache   *framecache.Cache
	clock   timeutil.Clock
	history *monitor.History
	store   *catalog.Store // optional

	sessionID   string
	sequenceID  string
	sampleEvery time.Duration // zero disables periodic sampling
}

// play ticks the player once per frame interval until the sequence ends or
// ctx is done. Cache statistics are sampled every sampleEvery and once more
// on exit.
func play(ctx context.Context, s session) error {
	ticker := s.clock.NewTicker(s.player.Interval())
	defer ticker.Stop()

	var sampleC <-chan time.Time
	if s.sampleEvery > 0 {
		sampler := s.clock.NewTicker(s.sampleEvery)
		defer sampler.Stop()
		sampleC = sampler.C()
	}
	defer func() { s.sample(context.WithoutCancel(ctx), s.clock.Now()) }()

	last := s.clock.Now()
	if err := s.player.Tick(ctx, 0); err != nil {
		return ignoreCancel(ctx, err)
	}
	for !s.player.Finished() {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C():
			dt := now.Sub(last)
			last = now
			if err := s.player.Tick(ctx, dt); err != nil {
				return ignoreCancel(ctx, err)
			}
		case now := <-sampleC:
			s.sample(ctx, now)
		}
	}
	return nil
}

// ignoreCancel drops the error of a tick interrupted by shutdown.
func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s session) sample(ctx context.Context, at time.Time) {
	st := s.cache.Stats()
	s.history.Add(at, st)
	if s.store == nil {
		return
	}
	if err := s.store.RecordCacheSample(ctx, catalog.SampleFromStats(s.sessionID, s.sequenceID, at, st)); err != nil {
		log.Printf("record cache sample: %v", err)
	}
}
