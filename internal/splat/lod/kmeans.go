package lod

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatstream/internal/splat"
)

// reduceKMeans clusters positions into k = target groups (seeded k-means++
// initialization, a fixed number of Lloyd iterations, Euclidean assignment)
// and collapses each non-empty cluster to its mean point. Rotation is the
// normalized component-wise quaternion mean, an approximation of a true
// spherical average. Empty clusters are made up with uniformly decimated
// source points so the result always holds target points.
func reduceKMeans(src *splat.Frame, target int, opts Options) *splat.Frame {
	n := src.Len()
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = src.Position(i)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, kmeansStream))
	centers := seedCenters(pts, target, rng)
	assign := make([]int, n)

	for iter := 0; iter < opts.KMeansIterations; iter++ {
		for i, p := range pts {
			assign[i] = nearest(p, centers)
		}
		sums := make([]r3.Vec, len(centers))
		counts := make([]int, len(centers))
		for i, c := range assign {
			sums[c] = r3.Add(sums[c], pts[i])
			counts[c]++
		}
		for c := range centers {
			if counts[c] > 0 {
				centers[c] = r3.Scale(1/float64(counts[c]), sums[c])
			}
		}
	}

	out := collapse(src, assign, len(centers))
	if out.Len() < target {
		logf("spatial clustering: %d of %d clusters non-empty, topping up with uniform decimation", out.Len(), target)
		out = topUp(out, src, map[int]bool{}, target)
	}
	return out
}

// seedCenters runs k-means++: the first center is uniform, each further
// center is drawn with probability proportional to its squared distance
// from the nearest chosen center. When every remaining distance is zero the
// lowest unchosen index is taken.
func seedCenters(pts []r3.Vec, k int, rng *rand.Rand) []r3.Vec {
	n := len(pts)
	centers := make([]r3.Vec, 0, k)
	chosen := make([]bool, n)
	d2 := make([]float64, n)

	first := rng.IntN(n)
	centers = append(centers, pts[first])
	chosen[first] = true
	for i, p := range pts {
		d2[i] = r3.Norm2(r3.Sub(p, pts[first]))
	}

	for len(centers) < k {
		var sum float64
		for _, d := range d2 {
			sum += d
		}
		pick := -1
		if sum > 0 {
			r := rng.Float64() * sum
			for i, d := range d2 {
				r -= d
				if r < 0 && d > 0 {
					pick = i
					break
				}
			}
			if pick < 0 {
				// Rounding left r just above zero; take the last candidate.
				for i := n - 1; i >= 0; i-- {
					if d2[i] > 0 {
						pick = i
						break
					}
				}
			}
		}
		if pick < 0 {
			for i := range chosen {
				if !chosen[i] {
					pick = i
					break
				}
			}
		}
		chosen[pick] = true
		centers = append(centers, pts[pick])
		for i, p := range pts {
			d2[i] = math.Min(d2[i], r3.Norm2(r3.Sub(p, pts[pick])))
		}
	}
	return centers
}

// nearest returns the index of the closest center; ties go to the lower index.
func nearest(p r3.Vec, centers []r3.Vec) int {
	best, bestD := 0, math.Inf(1)
	for c, ctr := range centers {
		if d := r3.Norm2(r3.Sub(p, ctr)); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

// collapse averages each non-empty cluster into one point, in cluster order.
func collapse(src *splat.Frame, assign []int, k int) *splat.Frame {
	type accum struct {
		count   int
		pos     r3.Vec
		scale   r3.Vec
		rot     quat.Number
		color   [4]float64
		opacity float64
	}
	acc := make([]accum, k)
	for i, c := range assign {
		a := &acc[c]
		a.count++
		a.pos = r3.Add(a.pos, src.Position(i))
		s := src.Scales[3*i : 3*i+3]
		a.scale = r3.Add(a.scale, r3.Vec{X: float64(s[0]), Y: float64(s[1]), Z: float64(s[2])})
		q := src.Rotations[4*i : 4*i+4]
		a.rot = quat.Add(a.rot, quat.Number{Imag: float64(q[0]), Jmag: float64(q[1]), Kmag: float64(q[2]), Real: float64(q[3])})
		for j := 0; j < 4; j++ {
			a.color[j] += float64(src.Colors[4*i+j])
		}
		a.opacity += float64(src.Opacities[i])
	}

	out := splat.NewFrame(k)
	for _, a := range acc {
		if a.count == 0 {
			continue
		}
		inv := 1 / float64(a.count)
		pos := r3.Scale(inv, a.pos)
		scale := r3.Scale(inv, a.scale)
		out.Append(splat.Point{
			Position: [3]float32{float32(pos.X), float32(pos.Y), float32(pos.Z)},
			Scale:    [3]float32{float32(scale.X), float32(scale.Y), float32(scale.Z)},
			// Append normalizes; a zero sum becomes the identity.
			Rotation: [4]float32{float32(a.rot.Imag), float32(a.rot.Jmag), float32(a.rot.Kmag), float32(a.rot.Real)},
			Color: [4]float32{
				float32(a.color[0] * inv), float32(a.color[1] * inv),
				float32(a.color[2] * inv), float32(a.color[3] * inv),
			},
			Opacity: float32(a.opacity * inv),
		})
	}
	out.ComputeBounds()
	return out
}
