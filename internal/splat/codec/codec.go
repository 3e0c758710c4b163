// Package codec implements the lossy fixed-width quantization of splat frames
// and the self-describing .codec binary layout that carries them.
//
// Positions and scales are mapped linearly from their padded bounding range
// to 16-bit codes, rotation components from [-1,1] to 16-bit codes, colors to
// four 8-bit channels in one word, and opacities to one byte with four
// opacities sharing a word. Per-axis round-trip error is at most half a
// quantization step, (max-min)/65535; color and opacity error is at most 1/255.
package codec

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatstream/internal/splat"
)

// BoundsEpsilon pads each side of every quantization range so a degenerate
// (zero-width) axis still has a usable range.
const BoundsEpsilon = 1e-4

const maxCode = 65535

// CompressedFrame is the quantized encoding of a Frame plus the bounds needed
// to dequantize it.
type CompressedFrame struct {
	PointCount int

	PositionMin, PositionMax [3]float32
	ScaleMin, ScaleMax       [3]float32

	Positions []uint32 // 2 words per point: x|y<<16, z
	Scales    []uint32 // 2 words per point: x|y<<16, z
	Rotations []uint32 // 2 words per point: x|y<<16, z|w<<16
	Colors    []uint32 // 1 word per point: r|g<<8|b<<16|a<<24
	Opacities []uint32 // 1 word per 4 points, one byte each, little end first
}

// OpacityWords returns the number of words needed for n opacities.
func OpacityWords(n int) int { return (n + 3) / 4 }

// Compress quantizes f. The input is not modified.
func Compress(f *splat.Frame) (*CompressedFrame, error) {
	if f == nil || f.Len() == 0 {
		return nil, splat.Invalidf("cannot compress an empty frame")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	n := f.Len()

	posBox := padded(splat.BoundsOf(f.Positions))
	scaleBox := padded(splat.BoundsOf(f.Scales))

	cf := &CompressedFrame{
		PointCount:  n,
		PositionMin: toArray(posBox.Min),
		PositionMax: toArray(posBox.Max),
		ScaleMin:    toArray(scaleBox.Min),
		ScaleMax:    toArray(scaleBox.Max),
		Positions:   make([]uint32, 2*n),
		Scales:      make([]uint32, 2*n),
		Rotations:   make([]uint32, 2*n),
		Colors:      make([]uint32, n),
		Opacities:   make([]uint32, OpacityWords(n)),
	}

	for i := 0; i < n; i++ {
		packVec3(cf.Positions[2*i:], f.Positions[3*i:3*i+3], cf.PositionMin, cf.PositionMax)
		packVec3(cf.Scales[2*i:], f.Scales[3*i:3*i+3], cf.ScaleMin, cf.ScaleMax)

		var q [4]float32
		copy(q[:], f.Rotations[4*i:4*i+4])
		q = splat.NormalizeQuat(q)
		cf.Rotations[2*i] = uint32(quantizeUnit(q[0])) | uint32(quantizeUnit(q[1]))<<16
		cf.Rotations[2*i+1] = uint32(quantizeUnit(q[2])) | uint32(quantizeUnit(q[3]))<<16

		c := f.Colors[4*i : 4*i+4]
		cf.Colors[i] = uint32(toByte(c[0])) | uint32(toByte(c[1]))<<8 | uint32(toByte(c[2]))<<16 | uint32(toByte(c[3]))<<24

		cf.Opacities[i/4] |= uint32(toByte(f.Opacities[i])) << (8 * uint(i%4))
	}
	return cf, nil
}

// Decompress reverses Compress. The recovered quaternions are renormalized.
func Decompress(cf *CompressedFrame) (*splat.Frame, error) {
	if cf == nil {
		return nil, splat.Invalidf("nil compressed frame")
	}
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	n := cf.PointCount
	f := splat.NewFrame(n)
	for i := 0; i < n; i++ {
		var p splat.Point
		p.Position = unpackVec3(cf.Positions[2*i:], cf.PositionMin, cf.PositionMax)
		p.Scale = unpackVec3(cf.Scales[2*i:], cf.ScaleMin, cf.ScaleMax)

		r0, r1 := cf.Rotations[2*i], cf.Rotations[2*i+1]
		p.Rotation = [4]float32{
			dequantizeUnit(uint16(r0)), dequantizeUnit(uint16(r0 >> 16)),
			dequantizeUnit(uint16(r1)), dequantizeUnit(uint16(r1 >> 16)),
		}

		c := cf.Colors[i]
		p.Color = [4]float32{fromByte(uint8(c)), fromByte(uint8(c >> 8)), fromByte(uint8(c >> 16)), fromByte(uint8(c >> 24))}
		p.Opacity = fromByte(uint8(cf.Opacities[i/4] >> (8 * uint(i%4))))

		f.Append(p)
	}
	f.ComputeBounds()
	return f, nil
}

// Validate checks array lengths against the stored point count.
func (cf *CompressedFrame) Validate() error {
	n := cf.PointCount
	if n <= 0 {
		return splat.Corruptf("point count %d", n)
	}
	check := []struct {
		name string
		got  int
		want int
	}{
		{"positions", len(cf.Positions), 2 * n},
		{"scales", len(cf.Scales), 2 * n},
		{"rotations", len(cf.Rotations), 2 * n},
		{"colors", len(cf.Colors), n},
		{"opacities", len(cf.Opacities), OpacityWords(n)},
	}
	for _, c := range check {
		if c.got != c.want {
			return splat.Corruptf("%s has %d words, want %d for %d points", c.name, c.got, c.want, n)
		}
	}
	for axis := 0; axis < 3; axis++ {
		if !(cf.PositionMin[axis] <= cf.PositionMax[axis]) || !(cf.ScaleMin[axis] <= cf.ScaleMax[axis]) {
			return splat.Corruptf("inverted bounds on axis %d", axis)
		}
	}
	return nil
}

// StepSize returns the per-axis position quantization step, (max-min)/65535.
func (cf *CompressedFrame) StepSize() [3]float64 {
	var s [3]float64
	for k := 0; k < 3; k++ {
		s[k] = (float64(cf.PositionMax[k]) - float64(cf.PositionMin[k])) / maxCode
	}
	return s
}

func padded(b r3.Box) r3.Box {
	eps := r3.Vec{X: BoundsEpsilon, Y: BoundsEpsilon, Z: BoundsEpsilon}
	return r3.Box{Min: r3.Sub(b.Min, eps), Max: r3.Add(b.Max, eps)}
}

func toArray(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

func packVec3(dst []uint32, v []float32, lo, hi [3]float32) {
	x := quantize(v[0], lo[0], hi[0])
	y := quantize(v[1], lo[1], hi[1])
	z := quantize(v[2], lo[2], hi[2])
	dst[0] = uint32(x) | uint32(y)<<16
	dst[1] = uint32(z)
}

func unpackVec3(src []uint32, lo, hi [3]float32) [3]float32 {
	return [3]float32{
		dequantize(uint16(src[0]), lo[0], hi[0]),
		dequantize(uint16(src[0]>>16), lo[1], hi[1]),
		dequantize(uint16(src[1]), lo[2], hi[2]),
	}
}

func quantize(v, lo, hi float32) uint16 {
	span := float64(hi) - float64(lo)
	if span <= 0 {
		return 0
	}
	t := (float64(v) - float64(lo)) / span
	return uint16(math.Round(clamp(t, 0, 1) * maxCode))
}

func dequantize(code uint16, lo, hi float32) float32 {
	return float32(float64(lo) + float64(code)/maxCode*(float64(hi)-float64(lo)))
}

func quantizeUnit(v float32) uint16 {
	return uint16(math.Round(clamp((float64(v)+1)/2, 0, 1) * maxCode))
}

func dequantizeUnit(code uint16) float32 {
	return float32(float64(code)/maxCode*2 - 1)
}

func toByte(v float32) uint8 {
	return uint8(math.Round(float64(splat.Clamp01(v)) * 255))
}

func fromByte(b uint8) float32 { return float32(b) / 255 }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
