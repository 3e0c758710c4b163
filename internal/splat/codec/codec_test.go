package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/splatstream/internal/splat"
)

func randomFrame(n int, seed uint64) *splat.Frame {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	f := splat.NewFrame(n)
	for i := 0; i < n; i++ {
		f.Append(splat.Point{
			Position: [3]float32{float32(rng.Float64()*20 - 10), float32(rng.Float64() * 5), float32(rng.Float64()*2 - 1)},
			Scale:    [3]float32{float32(0.01 + rng.Float64()*0.5), float32(0.01 + rng.Float64()*0.5), float32(0.01 + rng.Float64())},
			Rotation: [4]float32{float32(rng.NormFloat64()), float32(rng.NormFloat64()), float32(rng.NormFloat64()), float32(rng.NormFloat64())},
			Color:    [4]float32{float32(rng.Float64()), float32(rng.Float64()), float32(rng.Float64()), 1},
			Opacity:  float32(rng.Float64()),
		})
	}
	f.ComputeBounds()
	return f
}

func TestRoundTripWithinQuantizationStep(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 257} {
		src := randomFrame(n, uint64(n))
		cf, err := Compress(src)
		if err != nil {
			t.Fatalf("Compress(%d): %v", n, err)
		}
		got, err := Decompress(cf)
		if err != nil {
			t.Fatalf("Decompress(%d): %v", n, err)
		}
		if got.Len() != n {
			t.Fatalf("Len = %d, want %d", got.Len(), n)
		}

		// float32 storage of bounds and values adds a few ulps on top of
		// the half-step bound.
		const slack = 1e-5
		posStep := cf.StepSize()
		var scaleStep [3]float64
		for k := 0; k < 3; k++ {
			scaleStep[k] = (float64(cf.ScaleMax[k]) - float64(cf.ScaleMin[k])) / maxCode
		}
		rotStep := 2.0 / maxCode

		for i := 0; i < n; i++ {
			a, b := src.Point(i), got.Point(i)
			for k := 0; k < 3; k++ {
				if d := math.Abs(float64(a.Position[k] - b.Position[k])); d > posStep[k]/2+slack {
					t.Errorf("n=%d point %d position axis %d error %g > %g", n, i, k, d, posStep[k]/2)
				}
				if d := math.Abs(float64(a.Scale[k] - b.Scale[k])); d > scaleStep[k]/2+slack {
					t.Errorf("n=%d point %d scale axis %d error %g > %g", n, i, k, d, scaleStep[k]/2)
				}
			}
			// Rotations are renormalized after dequantization, which can push
			// a component past the half-step bound the other channels meet,
			// so rotations are allowed three half steps.
			for k := 0; k < 4; k++ {
				if d := math.Abs(float64(a.Rotation[k] - b.Rotation[k])); d > 1.5*rotStep+slack {
					t.Errorf("n=%d point %d rotation %d error %g", n, i, k, d)
				}
			}
			for k := 0; k < 4; k++ {
				if d := math.Abs(float64(a.Color[k] - b.Color[k])); d > 1.0/255 {
					t.Errorf("n=%d point %d color %d error %g", n, i, k, d)
				}
			}
			if d := math.Abs(float64(a.Opacity - b.Opacity)); d > 1.0/255 {
				t.Errorf("n=%d point %d opacity error %g", n, i, d)
			}
		}
	}
}

func TestSinglePointRecovery(t *testing.T) {
	src := splat.NewFrame(1)
	p := splat.DefaultPoint()
	p.Position = [3]float32{1, 2, 3}
	src.Append(p)
	src.ComputeBounds()

	data, err := Encode(src)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	q := got.Point(0)
	for k, want := range p.Position {
		if d := math.Abs(float64(q.Position[k] - want)); d > 1e-3 {
			t.Errorf("axis %d: got %v want %v", k, q.Position[k], want)
		}
	}
}

func TestCompressEmptyInput(t *testing.T) {
	if _, err := Compress(nil); !errors.Is(err, splat.ErrInvalidInput) {
		t.Errorf("Compress(nil) = %v, want ErrInvalidInput", err)
	}
	if _, err := Compress(splat.NewFrame(0)); !errors.Is(err, splat.ErrInvalidInput) {
		t.Errorf("Compress(empty) = %v, want ErrInvalidInput", err)
	}
	if _, err := Decompress(nil); !errors.Is(err, splat.ErrInvalidInput) {
		t.Errorf("Decompress(nil) = %v, want ErrInvalidInput", err)
	}
	if _, err := Decode(nil); !errors.Is(err, splat.ErrInvalidInput) {
		t.Errorf("Decode(nil) = %v, want ErrInvalidInput", err)
	}
}

func TestLayout(t *testing.T) {
	cf, err := Compress(randomFrame(5, 9))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	data, err := cf.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(data) != cf.EncodedSize() {
		t.Fatalf("len = %d, want %d", len(data), cf.EncodedSize())
	}
	if !bytes.Equal(data[:4], []byte("SPLQ")) {
		t.Errorf("magic = %q", data[:4])
	}
	le := binary.LittleEndian
	if le.Uint32(data[4:]) != 1 || le.Uint32(data[8:]) != 5 {
		t.Errorf("version/count = %d/%d", le.Uint32(data[4:]), le.Uint32(data[8:]))
	}
	// positions array length prefix follows the 84 byte header
	if got := le.Uint32(data[84:]); got != 10 {
		t.Errorf("positions word count = %d, want 10", got)
	}
	// 5 points need 2 opacity words.
	if len(cf.Opacities) != 2 {
		t.Errorf("opacity words = %d, want 2", len(cf.Opacities))
	}

	var back CompressedFrame
	if _, err := back.ReadFrom(bytes.NewReader(data)); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	var buf bytes.Buffer
	if _, err := back.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("re-serialized payload differs")
	}
}

func TestUnmarshalCorrupt(t *testing.T) {
	cf, err := Compress(randomFrame(6, 3))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	good, err := cf.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	mutate := func(fn func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return fn(b)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"short header", good[:40]},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"future version", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[4:], 2); return b })},
		{"zero count", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:], 0); return b })},
		{"count mismatch", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:], 7); return b })},
		{"array length mismatch", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[84:], 11); return b })},
		{"truncated", good[:len(good)-3]},
		{"trailing bytes", append(append([]byte(nil), good...), 0, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out CompressedFrame
			if err := out.UnmarshalBinary(tt.data); !errors.Is(err, splat.ErrCorruptData) {
				t.Errorf("UnmarshalBinary = %v, want ErrCorruptData", err)
			}
		})
	}
}

func TestDecompressInconsistentArrays(t *testing.T) {
	cf, err := Compress(randomFrame(4, 1))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	cf.Colors = cf.Colors[:3]
	if _, err := Decompress(cf); !errors.Is(err, splat.ErrCorruptData) {
		t.Errorf("Decompress = %v, want ErrCorruptData", err)
	}
}

func TestCompressDoesNotMutateInput(t *testing.T) {
	src := randomFrame(8, 5)
	before := src.Clone()
	if _, err := Compress(src); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	for i := range before.Rotations {
		if before.Rotations[i] != src.Rotations[i] {
			t.Fatal("Compress modified its input")
		}
	}
}
