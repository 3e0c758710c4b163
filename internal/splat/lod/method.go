package lod

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/splatstream/internal/monitoring"
	"github.com/banshee-data/splatstream/internal/splat"
)

var logf = monitoring.Component("lod")

// Method selects a reduction strategy.
type Method int

const (
	Uniform Method = iota
	Random
	Importance
	SpatialClustering
	Hierarchical
	AdaptiveDensity
)

var methodNames = [...]string{
	Uniform:           "uniform",
	Random:            "random",
	Importance:        "importance",
	SpatialClustering: "spatial_clustering",
	Hierarchical:      "hierarchical",
	AdaptiveDensity:   "adaptive_density",
}

func (m Method) String() string {
	if m >= 0 && int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Methods lists every strategy in table order.
func Methods() []Method {
	return []Method{Uniform, Random, Importance, SpatialClustering, Hierarchical, AdaptiveDensity}
}

// ParseMethod accepts the names printed by String, case-insensitively, with
// '-' allowed in place of '_'.
func ParseMethod(s string) (Method, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range methodNames {
		if name == key {
			return Method(i), nil
		}
	}
	return 0, splat.Invalidf("unknown LOD method %q", s)
}

// Defaults for Options fields left at zero.
const (
	DefaultSeed             = 42
	DefaultNeighborRadius   = 0.5
	DefaultKMeansIterations = 10
	DefaultLeafCapacity     = 32
	DefaultMaxDepth         = 8

	// LevelRatio is the point-count ratio between successive levels.
	LevelRatio = 0.7
)

// Options tunes the strategies. Seed is always used as given; every other
// zero field takes its default.
type Options struct {
	Seed             uint64
	NeighborRadius   float64 // AdaptiveDensity
	KMeansIterations int     // SpatialClustering
	LeafCapacity     int     // Hierarchical: subdivide above this many points
	MaxDepth         int     // Hierarchical: no subdivision at this depth
}

// DefaultOptions returns Options with every field at its default.
func DefaultOptions() Options {
	return Options{Seed: DefaultSeed}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.NeighborRadius <= 0 {
		o.NeighborRadius = DefaultNeighborRadius
	}
	if o.KMeansIterations <= 0 {
		o.KMeansIterations = DefaultKMeansIterations
	}
	if o.LeafCapacity <= 0 {
		o.LeafCapacity = DefaultLeafCapacity
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	return o
}

// Strategy reduces a frame to a target point count.
type Strategy interface {
	Method() Method
	Reduce(src *splat.Frame, target int) (*splat.Frame, error)
}

// reduceFunc implements one strategy for 1 <= target < src.Len().
type reduceFunc func(src *splat.Frame, target int, opts Options) *splat.Frame

var strategies = map[Method]reduceFunc{
	Uniform:           reduceUniform,
	Random:            reduceRandom,
	Importance:        reduceImportance,
	SpatialClustering: reduceKMeans,
	Hierarchical:      reduceOctree,
	AdaptiveDensity:   reduceAdaptiveDensity,
}

type strategy struct {
	method Method
	opts   Options
	fn     reduceFunc
}

// StrategyFor returns the strategy for m.
func StrategyFor(m Method, opts Options) (Strategy, error) {
	fn, ok := strategies[m]
	if !ok {
		return nil, splat.Invalidf("unknown LOD method %v", m)
	}
	return strategy{method: m, opts: opts.withDefaults(), fn: fn}, nil
}

func (s strategy) Method() Method { return s.method }

// Reduce applies the common contract and dispatches to the strategy.
func (s strategy) Reduce(src *splat.Frame, target int) (*splat.Frame, error) {
	if src == nil || src.Len() == 0 {
		return nil, splat.Invalidf("empty source frame")
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if target >= src.Len() {
		return src, nil
	}
	if target < 1 {
		target = 1
	}
	return s.fn(src, target, s.opts), nil
}

// Generate reduces src to target points with method m.
func Generate(src *splat.Frame, target int, m Method, opts Options) (*splat.Frame, error) {
	s, err := StrategyFor(m, opts)
	if err != nil {
		return nil, err
	}
	return s.Reduce(src, target)
}

// LevelTarget returns the point count of level i for an n-point source:
// floor(n * 0.7^i), at least 1.
func LevelTarget(n, level int) int {
	// The epsilon keeps exact products such as 100*0.7 from flooring to 69.
	t := int(math.Floor(float64(n)*math.Pow(LevelRatio, float64(level)) + 1e-9))
	return max(t, 1)
}

// GenerateLODLevels returns levelCount frames: level 0 is src itself and
// level i targets LevelTarget(n, i). Generation stops early, keeping the
// levels produced so far, if a level fails its validity check.
func GenerateLODLevels(src *splat.Frame, levelCount int, m Method, opts Options) ([]*splat.Frame, error) {
	if src == nil || src.Len() == 0 {
		return nil, splat.Invalidf("empty source frame")
	}
	if levelCount < 1 {
		return nil, splat.Invalidf("level count %d", levelCount)
	}
	s, err := StrategyFor(m, opts)
	if err != nil {
		return nil, err
	}

	n := src.Len()
	levels := make([]*splat.Frame, 1, levelCount)
	levels[0] = src
	for i := 1; i < levelCount; i++ {
		target := LevelTarget(n, i)
		lvl, err := s.Reduce(src, target)
		if err == nil {
			err = validLevel(lvl)
		}
		if err != nil {
			logf("level %d (%v, target %d of %d) failed: %v; keeping %d levels", i, m, target, n, err, len(levels))
			break
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}

func validLevel(f *splat.Frame) error {
	if f == nil || f.Len() == 0 {
		return splat.Invalidf("empty level")
	}
	return f.Validate()
}
