package splat

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Defaults applied when an input omits a channel.
const (
	DefaultScale   = 0.01
	DefaultOpacity = 1.0

	// minScale keeps per-axis extents strictly positive.
	minScale = 1e-7
)

// IdentityRotation is the unit quaternion (x, y, z, w) = (0, 0, 0, 1).
var IdentityRotation = [4]float32{0, 0, 0, 1}

// White is opaque white with the reserved fourth channel set to 1.
var White = [4]float32{1, 1, 1, 1}

// Point is a single splat: an oriented anisotropic Gaussian footprint.
type Point struct {
	Position [3]float32
	Scale    [3]float32 // per-axis extent, > 0
	Rotation [4]float32 // unit quaternion, (x, y, z, w)
	Color    [4]float32 // RGB + reserved, each in [0,1]
	Opacity  float32    // [0,1]
}

// DefaultPoint returns a point at the origin with every optional channel at
// its default value.
func DefaultPoint() Point {
	return Point{
		Scale:    [3]float32{DefaultScale, DefaultScale, DefaultScale},
		Rotation: IdentityRotation,
		Color:    White,
		Opacity:  DefaultOpacity,
	}
}

// Frame is one time-step's complete point set, stored as flat per-channel
// arrays so a renderer can upload each channel without repacking. All five
// channels always describe the same number of points.
//
// Frames are treated as immutable once built: transforms return a new Frame
// and never modify their input.
type Frame struct {
	Positions []float32 // 3 per point
	Scales    []float32 // 3 per point
	Rotations []float32 // 4 per point (x, y, z, w)
	Colors    []float32 // 4 per point
	Opacities []float32 // 1 per point

	// Bounds is the axis-aligned bounding box of Positions.
	Bounds r3.Box
}

// NewFrame returns an empty frame with room for n points.
func NewFrame(n int) *Frame {
	if n < 0 {
		n = 0
	}
	return &Frame{
		Positions: make([]float32, 0, 3*n),
		Scales:    make([]float32, 0, 3*n),
		Rotations: make([]float32, 0, 4*n),
		Colors:    make([]float32, 0, 4*n),
		Opacities: make([]float32, 0, n),
	}
}

// Len returns the point count.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Opacities)
}

// Append adds p to the frame, normalizing its rotation and clamping color
// and opacity into [0,1]. Bounds are not updated; call ComputeBounds once the
// frame is complete.
func (f *Frame) Append(p Point) {
	r := NormalizeQuat(p.Rotation)
	f.Positions = append(f.Positions, p.Position[0], p.Position[1], p.Position[2])
	f.Scales = append(f.Scales, sanitizeScale(p.Scale[0]), sanitizeScale(p.Scale[1]), sanitizeScale(p.Scale[2]))
	f.Rotations = append(f.Rotations, r[0], r[1], r[2], r[3])
	f.Colors = append(f.Colors, Clamp01(p.Color[0]), Clamp01(p.Color[1]), Clamp01(p.Color[2]), Clamp01(p.Color[3]))
	f.Opacities = append(f.Opacities, Clamp01(p.Opacity))
}

// Point returns the i-th point.
func (f *Frame) Point(i int) Point {
	var p Point
	copy(p.Position[:], f.Positions[3*i:3*i+3])
	copy(p.Scale[:], f.Scales[3*i:3*i+3])
	copy(p.Rotation[:], f.Rotations[4*i:4*i+4])
	copy(p.Color[:], f.Colors[4*i:4*i+4])
	p.Opacity = f.Opacities[i]
	return p
}

// Position returns the i-th position as a vector.
func (f *Frame) Position(i int) r3.Vec {
	return r3.Vec{
		X: float64(f.Positions[3*i]),
		Y: float64(f.Positions[3*i+1]),
		Z: float64(f.Positions[3*i+2]),
	}
}

// MeanScale returns the arithmetic mean of the i-th point's scale axes.
func (f *Frame) MeanScale(i int) float64 {
	s := f.Scales[3*i : 3*i+3]
	return (float64(s[0]) + float64(s[1]) + float64(s[2])) / 3
}

// ScaleMagnitude returns the Euclidean length of the i-th point's scale.
func (f *Frame) ScaleMagnitude(i int) float64 {
	s := f.Scales[3*i : 3*i+3]
	return r3.Norm(r3.Vec{X: float64(s[0]), Y: float64(s[1]), Z: float64(s[2])})
}

// ComputeBounds recomputes Bounds from Positions and returns it. An empty
// frame has a zero box.
func (f *Frame) ComputeBounds() r3.Box {
	f.Bounds = BoundsOf(f.Positions)
	return f.Bounds
}

// Validate checks the channel-length invariant.
func (f *Frame) Validate() error {
	if f == nil {
		return Invalidf("nil frame")
	}
	n := len(f.Opacities)
	if len(f.Positions) != 3*n || len(f.Scales) != 3*n || len(f.Rotations) != 4*n || len(f.Colors) != 4*n {
		return Invalidf("channel length mismatch: positions=%d scales=%d rotations=%d colors=%d opacities=%d",
			len(f.Positions), len(f.Scales), len(f.Rotations), len(f.Colors), n)
	}
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{
		Positions: append([]float32(nil), f.Positions...),
		Scales:    append([]float32(nil), f.Scales...),
		Rotations: append([]float32(nil), f.Rotations...),
		Colors:    append([]float32(nil), f.Colors...),
		Opacities: append([]float32(nil), f.Opacities...),
		Bounds:    f.Bounds,
	}
}

// Select builds an independent frame from the given source indices, in the
// order given. Bounds are recomputed.
func Select(src *Frame, indices []int) *Frame {
	out := NewFrame(len(indices))
	for _, i := range indices {
		out.Positions = append(out.Positions, src.Positions[3*i:3*i+3]...)
		out.Scales = append(out.Scales, src.Scales[3*i:3*i+3]...)
		out.Rotations = append(out.Rotations, src.Rotations[4*i:4*i+4]...)
		out.Colors = append(out.Colors, src.Colors[4*i:4*i+4]...)
		out.Opacities = append(out.Opacities, src.Opacities[i])
	}
	out.ComputeBounds()
	return out
}

// Channels is the renderer-facing view of a frame: flat arrays sharing one
// point count, plus the bounding volume. It is the only surface a display
// collaborator needs; the slices must not be modified.
type Channels struct {
	Count     int
	Positions []float32
	Scales    []float32
	Rotations []float32
	Colors    []float32
	Opacities []float32
	Bounds    r3.Box
}

// Channels returns the renderer-facing view.
func (f *Frame) Channels() Channels {
	return Channels{
		Count:     f.Len(),
		Positions: f.Positions,
		Scales:    f.Scales,
		Rotations: f.Rotations,
		Colors:    f.Colors,
		Opacities: f.Opacities,
		Bounds:    f.Bounds,
	}
}

func (f *Frame) String() string {
	if f == nil {
		return "Frame(nil)"
	}
	return fmt.Sprintf("Frame(points=%d bounds=%v..%v)", f.Len(), f.Bounds.Min, f.Bounds.Max)
}

// BoundsOf returns the axis-aligned box of a flat xyz array.
func BoundsOf(xyz []float32) r3.Box {
	if len(xyz) < 3 {
		return r3.Box{}
	}
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for i := 0; i+2 < len(xyz); i += 3 {
		x, y, z := float64(xyz[i]), float64(xyz[i+1]), float64(xyz[i+2])
		lo.X, hi.X = math.Min(lo.X, x), math.Max(hi.X, x)
		lo.Y, hi.Y = math.Min(lo.Y, y), math.Max(hi.Y, y)
		lo.Z, hi.Z = math.Min(lo.Z, z), math.Max(hi.Z, z)
	}
	return r3.Box{Min: lo, Max: hi}
}

// NormalizeQuat returns q scaled to unit length. A zero or non-finite
// quaternion becomes the identity.
func NormalizeQuat(q [4]float32) [4]float32 {
	n := quat.Number{Imag: float64(q[0]), Jmag: float64(q[1]), Kmag: float64(q[2]), Real: float64(q[3])}
	l := quat.Abs(n)
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return IdentityRotation
	}
	n = quat.Scale(1/l, n)
	return [4]float32{float32(n.Imag), float32(n.Jmag), float32(n.Kmag), float32(n.Real)}
}

// Clamp01 clamps v into [0,1]; NaN becomes 0.
func Clamp01(v float32) float32 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// sanitizeScale keeps scales finite and positive. NaN and ±Inf fall back to
// DefaultScale.
func sanitizeScale(v float32) float32 {
	if v != v || math.IsInf(float64(v), 0) {
		return DefaultScale
	}
	if v < 0 {
		v = -v
	}
	if v < minScale {
		return minScale
	}
	return v
}
