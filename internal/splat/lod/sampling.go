package lod

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/banshee-data/splatstream/internal/splat"
)

// Independent PCG streams per seeded strategy, so the same Options.Seed
// does not correlate random sampling with k-means initialization.
const (
	randomStream = 0x9e3779b97f4a7c15
	kmeansStream = 0xbf58476d1ce4e5b9
)

// uniformIndices keeps indices 0, stride, 2*stride, ... with
// stride = max(1, floor(n/target)), stopping at target indices.
func uniformIndices(n, target int) []int {
	stride := max(1, n/target)
	idx := make([]int, 0, target)
	for i := 0; i < n && len(idx) < target; i += stride {
		idx = append(idx, i)
	}
	return idx
}

func reduceUniform(src *splat.Frame, target int, _ Options) *splat.Frame {
	return splat.Select(src, uniformIndices(src.Len(), target))
}

// reduceRandom draws target distinct indices from a PCG generator seeded by
// opts.Seed and keeps them in ascending order.
func reduceRandom(src *splat.Frame, target int, opts Options) *splat.Frame {
	idx := make([]int, target)
	sampleuv.WithoutReplacement(idx, src.Len(), rand.NewPCG(opts.Seed, randomStream))
	sort.Ints(idx)
	return splat.Select(src, idx)
}

// reduceImportance keeps the target points with the highest
// mean(scale) * opacity.
func reduceImportance(src *splat.Frame, target int, _ Options) *splat.Frame {
	n := src.Len()
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = src.MeanScale(i) * float64(src.Opacities[i])
	}
	return splat.Select(src, topK(scores, target))
}

// reduceAdaptiveDensity favours points in dense neighbourhoods:
// importance = opacity * sqrt(neighbours within opts.NeighborRadius).
// Neighbours are counted by exhaustive pairwise scan.
func reduceAdaptiveDensity(src *splat.Frame, target int, opts Options) *splat.Frame {
	n := src.Len()
	r2 := opts.NeighborRadius * opts.NeighborRadius
	counts := make([]int, n)
	for i := 0; i < n; i++ {
		pi := src.Positions[3*i : 3*i+3]
		for j := i + 1; j < n; j++ {
			pj := src.Positions[3*j : 3*j+3]
			dx := float64(pi[0]) - float64(pj[0])
			dy := float64(pi[1]) - float64(pj[1])
			dz := float64(pi[2]) - float64(pj[2])
			if dx*dx+dy*dy+dz*dz <= r2 {
				counts[i]++
				counts[j]++
			}
		}
	}

	scores := make([]float64, n)
	best := 0.0
	for i := range scores {
		scores[i] = float64(src.Opacities[i]) * math.Sqrt(float64(counts[i]))
		best = math.Max(best, scores[i])
	}
	if best == 0 {
		logf("adaptive density: no neighbours within %.3g among %d points, falling back to uniform", opts.NeighborRadius, n)
		return reduceUniform(src, target, opts)
	}
	return splat.Select(src, topK(scores, target))
}

// topK returns the indices of the k highest scores in ascending index
// order. Equal scores prefer the lower index.
func topK(scores []float64, k int) []int {
	neg := make([]float64, len(scores))
	for i, s := range scores {
		neg[i] = -s
	}
	inds := make([]int, len(scores))
	floats.ArgsortStable(neg, inds)
	keep := append([]int(nil), inds[:k]...)
	sort.Ints(keep)
	return keep
}

// topUp extends out with uniformly spaced source points not already chosen
// until it holds target points.
func topUp(out *splat.Frame, src *splat.Frame, chosen map[int]bool, target int) *splat.Frame {
	need := target - out.Len()
	if need <= 0 {
		return out
	}
	rest := make([]int, 0, src.Len()-len(chosen))
	for i := 0; i < src.Len(); i++ {
		if !chosen[i] {
			rest = append(rest, i)
		}
	}
	var picked []int
	for _, j := range uniformIndices(len(rest), need) {
		picked = append(picked, rest[j])
	}
	extra := splat.Select(src, picked)
	out.Positions = append(out.Positions, extra.Positions...)
	out.Scales = append(out.Scales, extra.Scales...)
	out.Rotations = append(out.Rotations, extra.Rotations...)
	out.Colors = append(out.Colors, extra.Colors...)
	out.Opacities = append(out.Opacities, extra.Opacities...)
	out.ComputeBounds()
	return out
}
