// Package sequence exposes a directory of frame files as an indexed frame
// source. Frames are ordered by byte-wise ascending file name.
package sequence

import (
	"context"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/splatstream/internal/fsutil"
	"github.com/banshee-data/splatstream/internal/splat"
	"github.com/banshee-data/splatstream/internal/splat/codec"
	"github.com/banshee-data/splatstream/internal/splat/lod"
	"github.com/banshee-data/splatstream/internal/splat/ply"
)

// Extensions recognised as frames.
const (
	ExtPLY   = ".ply"
	ExtCodec = codec.FileExtension
)

// Options adjusts what Load returns.
type Options struct {
	// LODRatio in (0,1) reduces every frame to floor(N*LODRatio) points
	// (at least 1) after decoding. Zero or 1 keeps frames whole.
	LODRatio  float64
	LODMethod lod.Method
	LOD       lod.Options
}

// Sequence is an ordered list of frame files. It is safe for concurrent use.
type Sequence struct {
	fsys  fsutil.FileSystem
	dir   string
	names []string
	opts  Options
}

// Open lists the frame files in dir. Subdirectories and other extensions
// are ignored. A directory without frames yields splat.ErrEmptySequence.
func Open(fsys fsutil.FileSystem, dir string, opts Options) (*Sequence, error) {
	if fsys == nil {
		return nil, splat.Invalidf("nil filesystem")
	}
	if opts.LODRatio < 0 || opts.LODRatio > 1 {
		return nil, splat.Invalidf("LOD ratio %g outside [0,1]", opts.LODRatio)
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, splat.IOf(err, "list %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsFrameFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, splat.ErrEmptySequence
	}
	sort.Strings(names)
	return &Sequence{fsys: fsys, dir: dir, names: names, opts: opts}, nil
}

// IsFrameFile reports whether name has a frame extension.
func IsFrameFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ExtPLY, ExtCodec:
		return true
	}
	return false
}

// Len returns the number of frames.
func (s *Sequence) Len() int { return len(s.names) }

// Name returns the file name of frame i.
func (s *Sequence) Name(i int) string { return s.names[i] }

// Names returns the ordered file names.
func (s *Sequence) Names() []string { return append([]string(nil), s.names...) }

// Path returns the full path of frame i.
func (s *Sequence) Path(i int) string { return filepath.Join(s.dir, s.names[i]) }

// Load reads and decodes frame i, applying the LOD reduction if configured.
func (s *Sequence) Load(ctx context.Context, i int) (*splat.Frame, error) {
	if i < 0 || i >= len(s.names) {
		return nil, splat.Invalidf("frame index %d out of range [0,%d)", i, len(s.names))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.fsys.ReadFile(s.Path(i))
	if err != nil {
		return nil, splat.IOf(err, "read frame %d", i)
	}
	f, err := DecodeFile(s.names[i], data)
	if err != nil {
		return nil, err
	}
	if r := s.opts.LODRatio; r > 0 && r < 1 {
		target := max(1, int(float64(f.Len())*r))
		f, err = lod.Generate(f, target, s.opts.LODMethod, s.opts.LOD)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

// DecodeFile decodes data according to the extension of name.
func DecodeFile(name string, data []byte) (*splat.Frame, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ExtPLY:
		return ply.Decode(data)
	case ExtCodec:
		return codec.Decode(data)
	}
	return nil, splat.Formatf("unrecognised frame file %q", name)
}
