package ply

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/splatstream/internal/splat"
)

// maxPrealloc caps the point capacity reserved up front from a header's
// declared count, so a hostile header cannot force a huge allocation.
const maxPrealloc = 1 << 20

type channel int

const (
	chanNone channel = iota
	chanPosition
	chanScale
	chanRotation
	chanColor
	chanOpacity
)

// binding maps a declared property onto a canonical channel component.
type binding struct {
	ch   channel
	comp int
}

// aliases maps property names to canonical channels. Names not listed here
// are read (binary records still need their bytes consumed) and dropped.
var aliases = map[string]binding{
	"x": {chanPosition, 0}, "y": {chanPosition, 1}, "z": {chanPosition, 2},

	"scale_0": {chanScale, 0}, "scale_1": {chanScale, 1}, "scale_2": {chanScale, 2},
	"sx": {chanScale, 0}, "sy": {chanScale, 1}, "sz": {chanScale, 2},

	"rot_0": {chanRotation, 0}, "rot_1": {chanRotation, 1}, "rot_2": {chanRotation, 2}, "rot_3": {chanRotation, 3},
	"qx": {chanRotation, 0}, "qy": {chanRotation, 1}, "qz": {chanRotation, 2}, "qw": {chanRotation, 3},

	"red": {chanColor, 0}, "green": {chanColor, 1}, "blue": {chanColor, 2},
	"r": {chanColor, 0}, "g": {chanColor, 1}, "b": {chanColor, 2},

	"alpha": {chanOpacity, 0}, "opacity": {chanOpacity, 0},
}

// field is a header property resolved against the alias table.
type field struct {
	Property
	binding
	// unit8 marks 8-bit color values that are normalized by 255. Opacity
	// is only clamped, whatever its width.
	unit8 bool
}

func resolve(props []Property) ([]field, error) {
	fields := make([]field, len(props))
	var hasPos [3]bool
	for i, p := range props {
		b := aliases[p.Name]
		fields[i] = field{
			Property: p,
			binding:  b,
			unit8:    b.ch == chanColor && p.Type.Size() == 1,
		}
		if b.ch == chanPosition {
			hasPos[b.comp] = true
		}
	}
	for i, ok := range hasPos {
		if !ok {
			return nil, splat.Formatf("missing required position property %q", [3]string{"x", "y", "z"}[i])
		}
	}
	return fields, nil
}

// errNonFinite rejects NaN and infinite values on mapped channels,
// including doubles that overflow float32.
var errNonFinite = errors.New("non-finite value")

func (f field) apply(p *splat.Point, v float64) error {
	if f.unit8 {
		v /= 255
	}
	x := float32(v)
	if x != x || math.IsInf(float64(x), 0) {
		return errNonFinite
	}
	switch f.ch {
	case chanPosition:
		p.Position[f.comp] = x
	case chanScale:
		p.Scale[f.comp] = x
	case chanRotation:
		p.Rotation[f.comp] = x
	case chanColor:
		p.Color[f.comp] = x
	case chanOpacity:
		p.Opacity = x
	}
	return nil
}

// Decode parses a complete container held in memory.
func Decode(data []byte) (*splat.Frame, error) {
	return DecodeReader(bytes.NewReader(data))
}

// DecodeReader parses a container from r. It has no side effects beyond
// consuming r; no partial frame is returned on failure.
func DecodeReader(r io.Reader) (*splat.Frame, error) {
	br := bufio.NewReader(r)
	h, err := ParseHeader(br)
	if err != nil {
		return nil, err
	}
	fields, err := resolve(h.Properties)
	if err != nil {
		return nil, err
	}

	frame := splat.NewFrame(min(h.VertexCount, maxPrealloc))
	switch h.Format {
	case FormatASCII:
		err = decodeASCII(br, h, fields, frame)
	case FormatBinaryLittleEndian:
		err = decodeBinary(br, h, fields, frame)
	default:
		err = splat.Formatf("unsupported encoding %v", h.Format)
	}
	if err != nil {
		return nil, err
	}
	frame.ComputeBounds()
	return frame, nil
}

func decodeASCII(br *bufio.Reader, h *Header, fields []field, frame *splat.Frame) error {
	for i := 0; i < h.VertexCount; {
		raw, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || raw == "") {
			return &splat.ParseError{Record: i, Offset: -1, Err: fmt.Errorf("expected %d records, input ended: %w", h.VertexCount, io.ErrUnexpectedEOF)}
		}
		tokens := strings.Fields(raw)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) < len(fields) {
			return &splat.ParseError{Record: i, Offset: -1, Err: fmt.Errorf("expected %d values, got %d", len(fields), len(tokens))}
		}
		p := splat.DefaultPoint()
		for j, f := range fields {
			v, err := strconv.ParseFloat(tokens[j], 64)
			if err != nil {
				return &splat.ParseError{Record: i, Offset: -1, Field: f.Name, Err: err}
			}
			if f.ch == chanNone {
				continue
			}
			if err := f.apply(&p, v); err != nil {
				return &splat.ParseError{Record: i, Offset: -1, Field: f.Name, Err: err}
			}
		}
		frame.Append(p)
		i++
	}
	return nil
}

func decodeBinary(br *bufio.Reader, h *Header, fields []field, frame *splat.Frame) error {
	size := h.RecordSize()
	buf := make([]byte, size)
	for i := 0; i < h.VertexCount; i++ {
		offset := h.Length + int64(i)*int64(size)
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return &splat.ParseError{Record: i, Offset: offset, Err: err}
		}
		p := splat.DefaultPoint()
		pos := 0
		for _, f := range fields {
			v := readScalar(buf[pos:], f.Type)
			pos += f.Type.Size()
			if f.ch == chanNone {
				continue
			}
			if err := f.apply(&p, v); err != nil {
				return &splat.ParseError{Record: i, Offset: offset, Field: f.Name, Err: err}
			}
		}
		frame.Append(p)
	}
	return nil
}

func readScalar(b []byte, t ScalarType) float64 {
	le := binary.LittleEndian
	switch t {
	case Int8:
		return float64(int8(b[0]))
	case Uint8:
		return float64(b[0])
	case Int16:
		return float64(int16(le.Uint16(b)))
	case Uint16:
		return float64(le.Uint16(b))
	case Int32:
		return float64(int32(le.Uint32(b)))
	case Uint32:
		return float64(le.Uint32(b))
	case Int64:
		return float64(int64(le.Uint64(b)))
	case Uint64:
		return float64(le.Uint64(b))
	case Float32:
		return float64(math.Float32frombits(le.Uint32(b)))
	case Float64:
		return math.Float64frombits(le.Uint64(b))
	}
	return 0
}
