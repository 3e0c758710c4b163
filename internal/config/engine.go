// Package config loads the engine configuration: cache sizing, playback
// timing, LOD generation and the service endpoints of the tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/splatstream/internal/splat/framecache"
	"github.com/banshee-data/splatstream/internal/splat/lod"
)

// DefaultConfigPath is the path to the canonical engine defaults file.
const DefaultConfigPath = "config/engine.defaults.json"

// EngineConfig is the root configuration. Every field is optional: nil
// fields fall back to the defaults returned by the Get* methods. Each field
// can be overridden by the environment variable named in its env tag.
type EngineConfig struct {
	// Frame cache
	CacheCapacity    *int `json:"cache_capacity,omitempty" env:"SPLATSTREAM_CACHE_CAPACITY"`
	PrefetchDistance *int `json:"prefetch_distance,omitempty" env:"SPLATSTREAM_PREFETCH_DISTANCE"`
	PrefetchWorkers  *int `json:"prefetch_workers,omitempty" env:"SPLATSTREAM_PREFETCH_WORKERS"`

	// Playback
	FPS  *float64 `json:"fps,omitempty" env:"SPLATSTREAM_FPS"`
	Loop *bool    `json:"loop,omitempty" env:"SPLATSTREAM_LOOP"`

	// LOD generation
	LODMethod        *string  `json:"lod_method,omitempty" env:"SPLATSTREAM_LOD_METHOD"`
	LODLevels        *int     `json:"lod_levels,omitempty" env:"SPLATSTREAM_LOD_LEVELS"`
	LODSeed          *uint64  `json:"lod_seed,omitempty" env:"SPLATSTREAM_LOD_SEED"`
	NeighborRadius   *float64 `json:"neighbor_radius,omitempty" env:"SPLATSTREAM_NEIGHBOR_RADIUS"`
	KMeansIterations *int     `json:"kmeans_iterations,omitempty" env:"SPLATSTREAM_KMEANS_ITERATIONS"`
	OctreeLeafSize   *int     `json:"octree_leaf_size,omitempty" env:"SPLATSTREAM_OCTREE_LEAF_SIZE"`
	OctreeMaxDepth   *int     `json:"octree_max_depth,omitempty" env:"SPLATSTREAM_OCTREE_MAX_DEPTH"`

	// Services
	MonitorListen *string `json:"monitor_listen,omitempty" env:"SPLATSTREAM_MONITOR_LISTEN"`
	CatalogDBPath *string `json:"catalog_db_path,omitempty" env:"SPLATSTREAM_CATALOG_DB"`
}

func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyEngineConfig returns an EngineConfig with every field nil.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// DefaultEngineConfig returns a config with every field set to its default.
func DefaultEngineConfig() *EngineConfig {
	c := EmptyEngineConfig()
	return &EngineConfig{
		CacheCapacity:    ptrInt(c.GetCacheCapacity()),
		PrefetchDistance: ptrInt(c.GetPrefetchDistance()),
		PrefetchWorkers:  ptrInt(c.GetPrefetchWorkers()),
		FPS:              ptrFloat64(c.GetFPS()),
		Loop:             ptrBool(c.GetLoop()),
		LODMethod:        ptrString(c.GetLODMethod().String()),
		LODLevels:        ptrInt(c.GetLODLevels()),
		LODSeed:          ptrUint64(c.GetLODOptions().Seed),
		NeighborRadius:   ptrFloat64(lod.DefaultNeighborRadius),
		KMeansIterations: ptrInt(lod.DefaultKMeansIterations),
		OctreeLeafSize:   ptrInt(lod.DefaultLeafCapacity),
		OctreeMaxDepth:   ptrInt(lod.DefaultMaxDepth),
		MonitorListen:    ptrString(c.GetMonitorListen()),
		CatalogDBPath:    ptrString(c.GetCatalogDBPath()),
	}
}

// LoadEngineConfig loads an EngineConfig from a JSON file. The file must
// have a .json extension and be under 1MB. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*EngineConfig, error) {
	cfg := EmptyEngineConfig()
	if path != "" {
		var err error
		if cfg, err = LoadEngineConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overwrites fields whose environment variable is set.
func (c *EngineConfig) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *EngineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadEngineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *EngineConfig) Validate() error {
	if c.CacheCapacity != nil && *c.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be at least 1, got %d", *c.CacheCapacity)
	}
	if c.PrefetchDistance != nil && *c.PrefetchDistance < 0 {
		return fmt.Errorf("prefetch_distance must be non-negative, got %d", *c.PrefetchDistance)
	}
	if c.PrefetchWorkers != nil && *c.PrefetchWorkers < 1 {
		return fmt.Errorf("prefetch_workers must be at least 1, got %d", *c.PrefetchWorkers)
	}
	if c.FPS != nil && (*c.FPS <= 0 || *c.FPS > 1000) {
		return fmt.Errorf("fps must be in (0, 1000], got %g", *c.FPS)
	}
	if c.LODMethod != nil {
		if _, err := lod.ParseMethod(*c.LODMethod); err != nil {
			return fmt.Errorf("lod_method: %w", err)
		}
	}
	if c.LODLevels != nil && *c.LODLevels < 1 {
		return fmt.Errorf("lod_levels must be at least 1, got %d", *c.LODLevels)
	}
	if c.NeighborRadius != nil && *c.NeighborRadius <= 0 {
		return fmt.Errorf("neighbor_radius must be positive, got %g", *c.NeighborRadius)
	}
	for name, v := range map[string]*int{
		"kmeans_iterations": c.KMeansIterations,
		"octree_leaf_size":  c.OctreeLeafSize,
		"octree_max_depth":  c.OctreeMaxDepth,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	return nil
}

// GetCacheCapacity returns the cache_capacity value or the default.
func (c *EngineConfig) GetCacheCapacity() int {
	if c.CacheCapacity == nil {
		return 16
	}
	return *c.CacheCapacity
}

// GetPrefetchDistance returns the prefetch_distance value or the default.
func (c *EngineConfig) GetPrefetchDistance() int {
	if c.PrefetchDistance == nil {
		return 3
	}
	return *c.PrefetchDistance
}

// GetPrefetchWorkers returns the prefetch_workers value or the default.
func (c *EngineConfig) GetPrefetchWorkers() int {
	if c.PrefetchWorkers == nil {
		return 2
	}
	return *c.PrefetchWorkers
}

// GetFPS returns the fps value or the default.
func (c *EngineConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 30
	}
	return *c.FPS
}

// GetLoop returns the loop value or the default.
func (c *EngineConfig) GetLoop() bool {
	if c.Loop == nil {
		return true
	}
	return *c.Loop
}

// GetLODMethod returns the parsed lod_method, or Uniform when unset or invalid.
func (c *EngineConfig) GetLODMethod() lod.Method {
	if c.LODMethod == nil {
		return lod.Uniform
	}
	m, err := lod.ParseMethod(*c.LODMethod)
	if err != nil {
		return lod.Uniform
	}
	return m
}

// GetLODLevels returns the lod_levels value or the default.
func (c *EngineConfig) GetLODLevels() int {
	if c.LODLevels == nil {
		return 4
	}
	return *c.LODLevels
}

// GetLODOptions assembles the strategy options. Unset fields take the lod
// package defaults.
func (c *EngineConfig) GetLODOptions() lod.Options {
	opts := lod.DefaultOptions()
	if c.LODSeed != nil {
		opts.Seed = *c.LODSeed
	}
	if c.NeighborRadius != nil {
		opts.NeighborRadius = *c.NeighborRadius
	}
	if c.KMeansIterations != nil {
		opts.KMeansIterations = *c.KMeansIterations
	}
	if c.OctreeLeafSize != nil {
		opts.LeafCapacity = *c.OctreeLeafSize
	}
	if c.OctreeMaxDepth != nil {
		opts.MaxDepth = *c.OctreeMaxDepth
	}
	return opts
}

// GetMonitorListen returns the monitor_listen address or the default.
func (c *EngineConfig) GetMonitorListen() string {
	if c.MonitorListen == nil || *c.MonitorListen == "" {
		return "localhost:8090"
	}
	return *c.MonitorListen
}

// GetCatalogDBPath returns the catalog_db_path value or the default.
func (c *EngineConfig) GetCatalogDBPath() string {
	if c.CatalogDBPath == nil || *c.CatalogDBPath == "" {
		return "splatstream.db"
	}
	return *c.CatalogDBPath
}

// CacheConfig returns the frame cache sizing.
func (c *EngineConfig) CacheConfig() framecache.Config {
	return framecache.Config{
		Capacity:         c.GetCacheCapacity(),
		PrefetchDistance: c.GetPrefetchDistance(),
		PrefetchWorkers:  c.GetPrefetchWorkers(),
	}
}

// PlayerConfig returns the playback timing.
func (c *EngineConfig) PlayerConfig() framecache.PlayerConfig {
	return framecache.PlayerConfig{FPS: c.GetFPS(), Loop: c.GetLoop()}
}
