package ply

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/splatstream/internal/splat"
)

// encodedProperties is the property set written by Encode. Colors are stored
// as 8-bit channels; everything else as 32-bit floats.
var encodedProperties = []Property{
	{"x", Float32}, {"y", Float32}, {"z", Float32},
	{"scale_0", Float32}, {"scale_1", Float32}, {"scale_2", Float32},
	{"rot_0", Float32}, {"rot_1", Float32}, {"rot_2", Float32}, {"rot_3", Float32},
	{"red", Uint8}, {"green", Uint8}, {"blue", Uint8},
	{"opacity", Float32},
}

// Encode writes f to w as a container in the given format.
func Encode(w io.Writer, f *splat.Frame, format Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if format != FormatASCII && format != FormatBinaryLittleEndian {
		return splat.Formatf("unsupported encoding %v", format)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat %s 1.0\ncomment written by splatstream\nelement vertex %d\n", format, f.Len())
	for _, p := range encodedProperties {
		fmt.Fprintf(bw, "property %s %s\n", p.Type, p.Name)
	}
	bw.WriteString("end_header\n")

	var rec [10*4 + 3 + 4]byte
	for i := 0; i < f.Len(); i++ {
		p := f.Point(i)
		floats := []float32{
			p.Position[0], p.Position[1], p.Position[2],
			p.Scale[0], p.Scale[1], p.Scale[2],
			p.Rotation[0], p.Rotation[1], p.Rotation[2], p.Rotation[3],
		}
		rgb := [3]uint8{toUint8(p.Color[0]), toUint8(p.Color[1]), toUint8(p.Color[2])}

		if format == FormatASCII {
			for _, v := range floats {
				bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
				bw.WriteByte(' ')
			}
			fmt.Fprintf(bw, "%d %d %d %s\n", rgb[0], rgb[1], rgb[2], strconv.FormatFloat(float64(p.Opacity), 'g', -1, 32))
			continue
		}

		pos := 0
		for _, v := range floats {
			binary.LittleEndian.PutUint32(rec[pos:], math.Float32bits(v))
			pos += 4
		}
		copy(rec[pos:], rgb[:])
		pos += 3
		binary.LittleEndian.PutUint32(rec[pos:], math.Float32bits(p.Opacity))
		if _, err := bw.Write(rec[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func toUint8(v float32) uint8 {
	return uint8(math.Round(float64(splat.Clamp01(v)) * 255))
}
