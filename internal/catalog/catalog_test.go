package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splatstream/internal/splat"
	"github.com/banshee-data/splatstream/internal/splat/framecache"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigratesToLatest(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, s.MigrateUp())

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestInMemoryCatalog(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateSequence(context.Background(), "mem", "/tmp/mem", 1)
	require.NoError(t, err)
	seqs, err := s.ListSequences(context.Background())
	require.NoError(t, err)
	assert.Len(t, seqs, 1)
}

func TestSequenceFramesAndLevels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq, err := s.CreateSequence(ctx, "walk", "/data/walk", 2)
	require.NoError(t, err)
	assert.Len(t, seq.ID, 36)

	got, err := s.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, seq.Name, got.Name)
	assert.Equal(t, 2, got.FrameCount)

	f := splat.NewFrame(2)
	p := splat.DefaultPoint()
	f.Append(p)
	p.Position = [3]float32{1, 2, 3}
	f.Append(p)
	f.ComputeBounds()

	for i, name := range []string{"f0.ply", "f1.ply"} {
		require.NoError(t, s.RecordFrame(ctx, NewFrame(seq.ID, i, name, f)))
	}
	frames, err := s.ListFrames(ctx, seq.ID)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "f1.ply", frames[1].FileName)
	assert.Equal(t, [3]float64{1, 2, 3}, frames[0].Max)

	for level, count := range []int{2, 1} {
		for frame := 0; frame < 2; frame++ {
			require.NoError(t, s.RecordLODLevel(ctx, LODLevel{
				SequenceID: seq.ID, FrameIndex: frame, Level: level, Method: "uniform",
				PointCount: count, ArtifactPath: "out.codec", ArtifactSize: 128,
			}))
		}
	}
	levels, err := s.ListLODLevels(ctx, seq.ID, 1)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, 1, levels[1].PointCount)

	totals, err := s.LevelPointCounts(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 4, 1: 2}, totals)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Sequences: 1, Frames: 2, LODLevels: 4}, st)
}

func TestLODLevelRequiresFrame(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seq, err := s.CreateSequence(ctx, "x", "/x", 1)
	require.NoError(t, err)

	err = s.RecordLODLevel(ctx, LODLevel{SequenceID: seq.ID, FrameIndex: 9, Level: 1, Method: "random", ArtifactPath: "a"})
	assert.Error(t, err, "foreign key on frames must be enforced")
}

func TestGetSequenceNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSequence(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CreateSequence(context.Background(), "empty", "/e", 0)
	assert.ErrorIs(t, err, splat.ErrEmptySequence)
}

func TestCacheSamples(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		st := framecache.Stats{Hits: uint64(10 * i), Misses: 10, Cached: i, AvgDecode: 4 * time.Millisecond}
		require.NoError(t, s.RecordCacheSample(ctx, SampleFromStats("session-1", "", base.Add(time.Duration(i)*time.Second), st)))
	}
	require.NoError(t, s.RecordCacheSample(ctx, SampleFromStats("session-2", "", base, framecache.Stats{})))

	samples, err := s.CacheSamples(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, uint64(20), samples[2].Hits)
	assert.InDelta(t, 20.0/30.0, samples[2].HitRate, 1e-9)
	assert.InDelta(t, 4.0, samples[0].AvgDecodeMS, 1e-9)
	assert.True(t, samples[1].SampledAt.Equal(base.Add(time.Second)))
}

func TestAttachAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/catalog-stats", "/debug/backup", "/debug/tailsql/"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			// Debug routes may refuse non-local callers, but must be registered.
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}
}
