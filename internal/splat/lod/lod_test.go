package lod

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splatstream/internal/splat"
)

// lineFrame places point i at (i, 0, 0) so positions identify source indices.
func lineFrame(n int) *splat.Frame {
	f := splat.NewFrame(n)
	for i := 0; i < n; i++ {
		p := splat.DefaultPoint()
		p.Position = [3]float32{float32(i), 0, 0}
		f.Append(p)
	}
	f.ComputeBounds()
	return f
}

func cloudFrame(n int, seed uint64) *splat.Frame {
	rng := rand.New(rand.NewPCG(seed, 7))
	f := splat.NewFrame(n)
	for i := 0; i < n; i++ {
		f.Append(splat.Point{
			Position: [3]float32{float32(rng.Float64() * 4), float32(rng.Float64() * 4), float32(rng.Float64() * 4)},
			Scale:    [3]float32{float32(0.01 + rng.Float64()*0.1), 0.05, 0.05},
			Rotation: splat.IdentityRotation,
			Color:    [4]float32{float32(rng.Float64()), 0.5, 0.5, 1},
			Opacity:  float32(rng.Float64()),
		})
	}
	f.ComputeBounds()
	return f
}

func indicesOf(f *splat.Frame) []int {
	out := make([]int, f.Len())
	for i := range out {
		out[i] = int(f.Positions[3*i])
	}
	return out
}

func TestUniformDecimationStride(t *testing.T) {
	got, err := Generate(lineFrame(100), 25, Uniform, DefaultOptions())
	require.NoError(t, err)

	want := make([]int, 0, 25)
	for i := 0; i <= 96; i += 4 {
		want = append(want, i)
	}
	if diff := cmp.Diff(want, indicesOf(got)); diff != "" {
		t.Errorf("uniform indices mismatch (-want +got):\n%s", diff)
	}
}

func TestReduceContract(t *testing.T) {
	src := cloudFrame(50, 1)
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			same, err := Generate(src, 50, m, DefaultOptions())
			require.NoError(t, err)
			assert.Same(t, src, same, "target >= N must return the source")

			one, err := Generate(src, 0, m, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, 1, one.Len(), "target < 1 is clamped to 1")

			for _, target := range []int{1, 7, 20, 49} {
				out, err := Generate(src, target, m, DefaultOptions())
				require.NoError(t, err)
				assert.Equal(t, target, out.Len())
				require.NoError(t, out.Validate())
			}

			_, err = Generate(splat.NewFrame(0), 3, m, DefaultOptions())
			assert.True(t, errors.Is(err, splat.ErrInvalidInput))
			_, err = Generate(nil, 3, m, DefaultOptions())
			assert.True(t, errors.Is(err, splat.ErrInvalidInput))
		})
	}
}

func TestDeterministicForSeed(t *testing.T) {
	src := cloudFrame(200, 3)
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			opts := Options{Seed: 99}
			a, err := Generate(src, 40, m, opts)
			require.NoError(t, err)
			b, err := Generate(src, 40, m, opts)
			require.NoError(t, err)
			if diff := cmp.Diff(a.Positions, b.Positions); diff != "" {
				t.Errorf("non-deterministic output (-a +b):\n%s", diff)
			}
		})
	}
}

func TestRandomSamplingDistinctAndSeedSensitive(t *testing.T) {
	src := lineFrame(1000)
	a, err := Generate(src, 100, Random, Options{Seed: 1})
	require.NoError(t, err)
	b, err := Generate(src, 100, Random, Options{Seed: 2})
	require.NoError(t, err)

	seen := map[int]bool{}
	idx := indicesOf(a)
	for i, v := range idx {
		assert.False(t, seen[v], "duplicate index %d", v)
		seen[v] = true
		if i > 0 {
			assert.Less(t, idx[i-1], v, "indices must ascend")
		}
	}
	assert.NotEqual(t, idx, indicesOf(b))
}

func TestImportanceKeepsLargestOpaque(t *testing.T) {
	src := lineFrame(10)
	for i := 0; i < 10; i++ {
		src.Opacities[i] = 0.1
	}
	src.Opacities[3] = 1
	src.Opacities[8] = 0.9

	got, err := Generate(src, 2, Importance, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8}, indicesOf(got))
}

func TestAdaptiveDensityPrefersClusters(t *testing.T) {
	src := splat.NewFrame(8)
	add := func(x float32) {
		p := splat.DefaultPoint()
		p.Position = [3]float32{x, 0, 0}
		src.Append(p)
	}
	// Four tight points near the origin, four isolated ones far apart.
	for _, x := range []float32{0, 0.1, 0.2, 0.3, 10, 20, 30, 40} {
		add(x)
	}
	src.ComputeBounds()

	got, err := Generate(src, 4, AdaptiveDensity, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0}, []int{int(got.Positions[0]), int(got.Positions[3]), int(got.Positions[6]), int(got.Positions[9])})
}

func TestAdaptiveDensityFallsBackToUniform(t *testing.T) {
	src := lineFrame(20)
	got, err := Generate(src, 5, AdaptiveDensity, Options{NeighborRadius: 0.1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 8, 12, 16}, indicesOf(got))
}

func TestSpatialClusteringAveragesClusters(t *testing.T) {
	src := splat.NewFrame(6)
	for _, x := range []float32{0, 0.2, 0.4, 100, 100.2, 100.4} {
		p := splat.DefaultPoint()
		p.Position = [3]float32{x, 0, 0}
		src.Append(p)
	}
	src.ComputeBounds()

	got, err := Generate(src, 2, SpatialClustering, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	xs := []float32{got.Positions[0], got.Positions[3]}
	if xs[0] > xs[1] {
		xs[0], xs[1] = xs[1], xs[0]
	}
	assert.InDelta(t, 0.2, xs[0], 1e-4)
	assert.InDelta(t, 100.2, xs[1], 1e-4)
	for i := 0; i < got.Len(); i++ {
		assert.Equal(t, splat.IdentityRotation, got.Point(i).Rotation)
	}
}

func TestSpatialClusteringTopsUpCoincidentPoints(t *testing.T) {
	src := splat.NewFrame(10)
	for i := 0; i < 10; i++ {
		src.Append(splat.DefaultPoint())
	}
	src.ComputeBounds()

	got, err := Generate(src, 4, SpatialClustering, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())
}

func TestHierarchicalKeepsEveryPoint(t *testing.T) {
	// Every source point must land in exactly one leaf.
	src := cloudFrame(500, 11)
	root := buildOctree(src, 8, 6)
	seen := make([]int, src.Len())
	for _, leaf := range root.leaves() {
		for _, i := range leaf.members {
			seen[i]++
		}
	}
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("point %d appears in %d leaves", i, c)
		}
	}
}

func TestHierarchicalPicksLeafRepresentative(t *testing.T) {
	src := lineFrame(4)
	src.Opacities[2] = 0.2
	got, err := Generate(src, 3, Hierarchical, Options{LeafCapacity: 4})
	require.NoError(t, err)
	// One leaf; representative is index 0 (first of the equal maxima),
	// then uniform top-up over {1, 2, 3}.
	assert.Equal(t, []int{0, 1, 2}, indicesOf(got))
}

func TestHierarchicalSurvivesNaNScores(t *testing.T) {
	src := lineFrame(3)
	for i := range src.Scales {
		src.Scales[i] = float32(math.Inf(1))
	}
	for i := range src.Opacities {
		src.Opacities[i] = 0
	}
	// Inf scale times zero opacity scores NaN for every member.
	got, err := Generate(src, 1, Hierarchical, Options{LeafCapacity: 4})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, indicesOf(got))
}

func TestLevelTarget(t *testing.T) {
	tests := []struct {
		n, level, want int
	}{
		{100, 0, 100},
		{100, 1, 70},
		{100, 2, 49},
		{100, 3, 34},
		{10, 20, 1},
	}
	for _, tt := range tests {
		if got := LevelTarget(tt.n, tt.level); got != tt.want {
			t.Errorf("LevelTarget(%d, %d) = %d, want %d", tt.n, tt.level, got, tt.want)
		}
	}
}

func TestGenerateLODLevels(t *testing.T) {
	src := cloudFrame(100, 5)
	levels, err := GenerateLODLevels(src, 4, Uniform, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, levels, 4)
	assert.Same(t, src, levels[0])
	for i, want := range []int{100, 70, 49, 34} {
		assert.Equal(t, want, levels[i].Len(), "level %d", i)
	}

	_, err = GenerateLODLevels(src, 0, Uniform, DefaultOptions())
	assert.ErrorIs(t, err, splat.ErrInvalidInput)
	_, err = GenerateLODLevels(splat.NewFrame(0), 3, Uniform, DefaultOptions())
	assert.ErrorIs(t, err, splat.ErrInvalidInput)
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods() {
		got, err := ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseMethod(" Spatial-Clustering ")
	require.NoError(t, err)
	assert.Equal(t, SpatialClustering, got)

	_, err = ParseMethod("voxel")
	assert.ErrorIs(t, err, splat.ErrInvalidInput)
}
