// Package splat owns the canonical splat data model shared by every layer of
// the engine.
//
// Responsibilities: the Point and Frame types, bounding volumes, and the
// error taxonomy surfaced by decoders, the codec and the frame cache.
// Key types: Point, Frame.
//
// Dependency rule: splat depends on nothing else in this module. Decoders
// (ply), the quantization codec (codec), level-of-detail generation (lod)
// and the frame cache (framecache) all build on it.
package splat
