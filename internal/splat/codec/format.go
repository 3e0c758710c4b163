package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/splatstream/internal/splat"
)

// FileExtension is the extension of serialized compressed frames.
const FileExtension = ".codec"

// Version is the only layout version this package reads and writes.
const Version uint32 = 1

// Magic identifies a .codec payload.
var Magic = [4]byte{'S', 'P', 'L', 'Q'}

/*
Binary layout (all little-endian):

	offset  size  field
	0       4     magic "SPLQ"
	4       4     version (1)
	8       4     point count N
	12      72    six float32 triples: position min, position max,
	              scale min, scale max, two reserved (zero)
	84      ...   five arrays, each a uint32 word count then the words:
	              positions (2N), scales (2N), rotations (2N), colors (N),
	              opacities (ceil(N/4))
*/

// headerSize covers magic, version, count and the bound vectors.
const headerSize = 4 + 4 + 4 + boundVectors*3*4

// boundVectors is the number of 3-float bound vectors in the header. The
// last two are reserved: written as zeros and ignored on read.
const boundVectors = 6

// EncodedSize returns the serialized size in bytes.
func (cf *CompressedFrame) EncodedSize() int {
	words := len(cf.Positions) + len(cf.Scales) + len(cf.Rotations) + len(cf.Colors) + len(cf.Opacities)
	return headerSize + 5*4 + 4*words
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (cf *CompressedFrame) MarshalBinary() ([]byte, error) {
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, cf.EncodedSize())
	le := binary.LittleEndian

	buf = append(buf, Magic[:]...)
	buf = le.AppendUint32(buf, Version)
	buf = le.AppendUint32(buf, uint32(cf.PointCount))

	vectors := [boundVectors][3]float32{cf.PositionMin, cf.PositionMax, cf.ScaleMin, cf.ScaleMax}
	for _, v := range vectors {
		for _, c := range v {
			buf = le.AppendUint32(buf, math.Float32bits(c))
		}
	}
	for _, arr := range [][]uint32{cf.Positions, cf.Scales, cf.Rotations, cf.Colors, cf.Opacities} {
		buf = le.AppendUint32(buf, uint32(len(arr)))
		for _, w := range arr {
			buf = le.AppendUint32(buf, w)
		}
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Any layout or
// self-consistency failure is reported as splat.ErrCorruptData.
func (cf *CompressedFrame) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return splat.Invalidf("empty payload")
	}
	if len(data) < headerSize {
		return splat.Corruptf("payload is %d bytes, shorter than the %d byte header", len(data), headerSize)
	}
	if !bytes.Equal(data[:4], Magic[:]) {
		return splat.Corruptf("bad magic %q", data[:4])
	}
	le := binary.LittleEndian
	if v := le.Uint32(data[4:]); v != Version {
		return splat.Corruptf("unsupported version %d", v)
	}
	n := int(le.Uint32(data[8:]))
	if n <= 0 {
		return splat.Corruptf("point count %d", n)
	}

	var vectors [boundVectors][3]float32
	off := 12
	for i := range vectors {
		for k := 0; k < 3; k++ {
			vectors[i][k] = math.Float32frombits(le.Uint32(data[off:]))
			off += 4
		}
	}

	out := CompressedFrame{
		PointCount:  n,
		PositionMin: vectors[0],
		PositionMax: vectors[1],
		ScaleMin:    vectors[2],
		ScaleMax:    vectors[3],
	}
	targets := []struct {
		name string
		dst  *[]uint32
		want int
	}{
		{"positions", &out.Positions, 2 * n},
		{"scales", &out.Scales, 2 * n},
		{"rotations", &out.Rotations, 2 * n},
		{"colors", &out.Colors, n},
		{"opacities", &out.Opacities, OpacityWords(n)},
	}
	for _, tgt := range targets {
		if len(data)-off < 4 {
			return splat.Corruptf("%s: missing length prefix", tgt.name)
		}
		count := int(le.Uint32(data[off:]))
		off += 4
		if count != tgt.want {
			return splat.Corruptf("%s has %d words, want %d for %d points", tgt.name, count, tgt.want, n)
		}
		if len(data)-off < 4*count {
			return splat.Corruptf("%s: truncated, need %d bytes, have %d", tgt.name, 4*count, len(data)-off)
		}
		words := make([]uint32, count)
		for i := range words {
			words[i] = le.Uint32(data[off:])
			off += 4
		}
		*tgt.dst = words
	}
	if off != len(data) {
		return splat.Corruptf("%d trailing bytes", len(data)-off)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*cf = out
	return nil
}

// WriteTo implements io.WriterTo.
func (cf *CompressedFrame) WriteTo(w io.Writer) (int64, error) {
	data, err := cf.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// ReadFrom implements io.ReaderFrom, consuming r to EOF.
func (cf *CompressedFrame) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return int64(len(data)), fmt.Errorf("%w: read compressed frame: %w", splat.ErrIO, err)
	}
	return int64(len(data)), cf.UnmarshalBinary(data)
}

// Encode compresses f and serializes the result.
func Encode(f *splat.Frame) ([]byte, error) {
	cf, err := Compress(f)
	if err != nil {
		return nil, err
	}
	return cf.MarshalBinary()
}

// Decode parses a serialized payload and decompresses it.
func Decode(data []byte) (*splat.Frame, error) {
	var cf CompressedFrame
	if err := cf.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return Decompress(&cf)
}
