// Package lod produces reduced point-count frames (levels of detail).
//
// Six interchangeable strategies share one contract, Reduce(frame, target):
// when target >= the source size the source is returned unchanged,
// otherwise target is clamped to at least 1 and exactly target points are
// returned. Strategies are pure; the seeded ones (Random, SpatialClustering)
// are deterministic for a given Options.Seed and input.
//
// Degenerate clustering or neighbourhood results never fail the pipeline:
// they fall back to, or are topped up with, uniform decimation.
package lod
