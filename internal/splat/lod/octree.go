package lod

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatstream/internal/splat"
)

// octNode is one cell of the position octree. Leaves hold the indices of the
// points that fell into them.
type octNode struct {
	box      r3.Box
	depth    int
	members  []int
	children []*octNode
}

// buildOctree subdivides the frame bounds until every leaf holds at most
// leafCapacity points or sits at maxDepth.
func buildOctree(src *splat.Frame, leafCapacity, maxDepth int) *octNode {
	members := make([]int, src.Len())
	for i := range members {
		members[i] = i
	}
	root := &octNode{box: splat.BoundsOf(src.Positions), members: members}
	root.split(src, leafCapacity, maxDepth)
	return root
}

func (n *octNode) split(src *splat.Frame, leafCapacity, maxDepth int) {
	if len(n.members) <= leafCapacity || n.depth >= maxDepth {
		return
	}
	center := r3.Scale(0.5, r3.Add(n.box.Min, n.box.Max))
	var buckets [8][]int
	for _, i := range n.members {
		p := src.Position(i)
		oct := 0
		if p.X >= center.X {
			oct |= 1
		}
		if p.Y >= center.Y {
			oct |= 2
		}
		if p.Z >= center.Z {
			oct |= 4
		}
		buckets[oct] = append(buckets[oct], i)
	}
	// Coincident points cannot be separated; stop rather than recurse
	// to maxDepth with a single non-empty child every time.
	nonEmpty := 0
	for _, b := range buckets {
		if len(b) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty <= 1 && n.box.Min == n.box.Max {
		return
	}

	for oct, b := range buckets {
		if len(b) == 0 {
			continue
		}
		child := &octNode{box: childBox(n.box, center, oct), depth: n.depth + 1, members: b}
		child.split(src, leafCapacity, maxDepth)
		n.children = append(n.children, child)
	}
	n.members = nil
}

func childBox(parent r3.Box, center r3.Vec, oct int) r3.Box {
	b := r3.Box{Min: parent.Min, Max: center}
	if oct&1 != 0 {
		b.Min.X, b.Max.X = center.X, parent.Max.X
	}
	if oct&2 != 0 {
		b.Min.Y, b.Max.Y = center.Y, parent.Max.Y
	}
	if oct&4 != 0 {
		b.Min.Z, b.Max.Z = center.Z, parent.Max.Z
	}
	return b
}

// leaves returns the leaf nodes in breadth-first order, children in octant
// order.
func (n *octNode) leaves() []*octNode {
	var out []*octNode
	queue := []*octNode{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.children) == 0 {
			out = append(out, cur)
			continue
		}
		queue = append(queue, cur.children...)
	}
	return out
}

// reduceOctree keeps one representative per octree leaf, the member with
// the largest scale magnitude times opacity (earliest index on ties).
// Leaves are visited breadth-first until target representatives are
// collected; any shortfall is filled by uniform decimation over the points
// not yet chosen.
func reduceOctree(src *splat.Frame, target int, opts Options) *splat.Frame {
	root := buildOctree(src, opts.LeafCapacity, opts.MaxDepth)

	chosen := make(map[int]bool, target)
	var keep []int
	for _, leaf := range root.leaves() {
		if len(keep) == target {
			break
		}
		// A NaN score never wins, so the first member stands in.
		best, bestScore := leaf.members[0], math.Inf(-1)
		for _, i := range leaf.members {
			if s := src.ScaleMagnitude(i) * float64(src.Opacities[i]); s > bestScore {
				best, bestScore = i, s
			}
		}
		keep = append(keep, best)
		chosen[best] = true
	}

	if need := target - len(keep); need > 0 {
		rest := make([]int, 0, src.Len()-len(keep))
		for i := 0; i < src.Len(); i++ {
			if !chosen[i] {
				rest = append(rest, i)
			}
		}
		for _, j := range uniformIndices(len(rest), need) {
			keep = append(keep, rest[j])
		}
	}
	sort.Ints(keep)
	return splat.Select(src, keep)
}
