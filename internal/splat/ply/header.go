// Package ply decodes and encodes the point-cloud interchange container
// used as the engine's input format.
package ply

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/splatstream/internal/splat"
)

/*
Container layout

	ply
	format ascii 1.0 | format binary_little_endian 1.0
	comment ...                      (ignored, any number)
	element vertex <N>
	property <type> <name>           (zero or more)
	element <other> <M>              (ignored, only after vertex)
	end_header
	<N vertex records>

ASCII records are one line each, whitespace separated, one token per declared
property. Binary records are the declared properties packed back to back in
little-endian order with no padding between fields or records.
*/

// maxHeaderBytes bounds how far we read looking for end_header.
const maxHeaderBytes = 64 * 1024

// Format selects the record encoding.
type Format int

const (
	FormatASCII Format = iota
	FormatBinaryLittleEndian
)

func (f Format) String() string {
	switch f {
	case FormatASCII:
		return "ascii"
	case FormatBinaryLittleEndian:
		return "binary_little_endian"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ScalarType is a declared property type.
type ScalarType int

const (
	Int8 ScalarType = iota + 1
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var scalarTypes = map[string]ScalarType{
	"char": Int8, "int8": Int8,
	"uchar": Uint8, "uint8": Uint8,
	"short": Int16, "int16": Int16,
	"ushort": Uint16, "uint16": Uint16,
	"int": Int32, "int32": Int32,
	"uint": Uint32, "uint32": Uint32,
	"int64": Int64,
	"uint64": Uint64,
	"float": Float32, "float32": Float32,
	"double": Float64, "float64": Float64,
}

// Size returns the encoded width in bytes.
func (t ScalarType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

var scalarNames = [...]string{
	Int8: "char", Uint8: "uchar", Int16: "short", Uint16: "ushort", Int32: "int",
	Uint32: "uint", Int64: "int64", Uint64: "uint64", Float32: "float", Float64: "double",
}

func (t ScalarType) String() string {
	if t > 0 && int(t) < len(scalarNames) {
		return scalarNames[t]
	}
	return fmt.Sprintf("ScalarType(%d)", int(t))
}

// Property is one declared vertex property.
type Property struct {
	Name string
	Type ScalarType
}

// Header is the parsed container header.
type Header struct {
	Format      Format
	VertexCount int
	Properties  []Property
	// Length is the byte length of the header including the end_header line.
	Length int64
}

// RecordSize returns the binary record width.
func (h *Header) RecordSize() int {
	n := 0
	for _, p := range h.Properties {
		n += p.Type.Size()
	}
	return n
}

// ParseHeader reads the header from r, leaving r positioned at the first
// vertex record.
func ParseHeader(r *bufio.Reader) (*Header, error) {
	h := &Header{VertexCount: -1}
	var (
		lineNo     int
		haveFormat bool
		inVertex   bool
		seenVertex bool
	)
	for {
		raw, err := r.ReadString('\n')
		h.Length += int64(len(raw))
		if h.Length > maxHeaderBytes {
			return nil, splat.Formatf("header exceeds %d bytes without end_header", maxHeaderBytes)
		}
		if err != nil && (err != io.EOF || raw == "") {
			return nil, splat.Formatf("missing end_header terminator")
		}
		line := strings.TrimRight(raw, "\r\n")
		lineNo++

		if lineNo == 1 {
			if strings.TrimSpace(line) != "ply" {
				return nil, splat.Formatf("missing ply marker, got %q", line)
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "comment", "obj_info":
		case "format":
			if len(fields) < 2 {
				return nil, splat.Formatf("line %d: malformed format line", lineNo)
			}
			switch fields[1] {
			case "ascii":
				h.Format = FormatASCII
			case "binary_little_endian":
				h.Format = FormatBinaryLittleEndian
			default:
				return nil, splat.Formatf("unsupported encoding %q", fields[1])
			}
			haveFormat = true
		case "element":
			if len(fields) != 3 {
				return nil, splat.Formatf("line %d: malformed element line", lineNo)
			}
			if fields[1] != "vertex" {
				if !seenVertex {
					return nil, splat.Formatf("element %q declared before vertex", fields[1])
				}
				inVertex = false
				continue
			}
			if seenVertex {
				return nil, splat.Formatf("duplicate vertex element")
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return nil, splat.Formatf("invalid vertex count %q", fields[2])
			}
			h.VertexCount = n
			inVertex, seenVertex = true, true
		case "property":
			if len(fields) < 3 {
				return nil, splat.Formatf("line %d: malformed property line", lineNo)
			}
			if !inVertex {
				if !seenVertex {
					return nil, splat.Formatf("line %d: property outside an element", lineNo)
				}
				continue
			}
			if fields[1] == "list" {
				return nil, splat.Formatf("list property %q is not supported on vertices", fields[len(fields)-1])
			}
			t, ok := scalarTypes[fields[1]]
			if !ok {
				return nil, splat.Formatf("unsupported property type %q", fields[1])
			}
			h.Properties = append(h.Properties, Property{Name: fields[2], Type: t})
		case "end_header":
			if !haveFormat {
				return nil, splat.Formatf("missing format line")
			}
			if !seenVertex {
				return nil, splat.Formatf("missing vertex element")
			}
			return h, nil
		default:
			return nil, splat.Formatf("line %d: unexpected keyword %q", lineNo, fields[0])
		}
	}
}
