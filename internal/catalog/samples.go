package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/splatstream/internal/splat/framecache"
)

// CacheSample is a point-in-time snapshot of playback cache activity.
type CacheSample struct {
	SessionID   string    `json:"session_id"`
	SequenceID  string    `json:"sequence_id,omitempty"`
	SampledAt   time.Time `json:"sampled_at"`
	Hits        uint64    `json:"hits"`
	Misses      uint64    `json:"misses"`
	Evictions   uint64    `json:"evictions"`
	Failures    uint64    `json:"failures"`
	HitRate     float64   `json:"hit_rate"`
	AvgDecodeMS float64   `json:"avg_decode_ms"`
	Cached      int       `json:"cached"`
	InFlight    int       `json:"in_flight"`
}

// SampleFromStats converts cache stats into a sample.
func SampleFromStats(sessionID, sequenceID string, at time.Time, st framecache.Stats) CacheSample {
	return CacheSample{
		SessionID:   sessionID,
		SequenceID:  sequenceID,
		SampledAt:   at.UTC(),
		Hits:        st.Hits,
		Misses:      st.Misses,
		Evictions:   st.Evictions,
		Failures:    st.Failures,
		HitRate:     st.HitRate(),
		AvgDecodeMS: float64(st.AvgDecode) / float64(time.Millisecond),
		Cached:      st.Cached,
		InFlight:    st.InFlight,
	}
}

// RecordCacheSample stores one sample.
func (s *Store) RecordCacheSample(ctx context.Context, cs CacheSample) error {
	var seq any
	if cs.SequenceID != "" {
		seq = cs.SequenceID
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO cache_samples (
			session_id, sequence_id, sampled_at, hits, misses, evictions, failures,
			hit_rate, avg_decode_ms, cached, in_flight
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.SessionID, seq, cs.SampledAt, int64(cs.Hits), int64(cs.Misses), int64(cs.Evictions), int64(cs.Failures),
		cs.HitRate, cs.AvgDecodeMS, cs.Cached, cs.InFlight,
	)
	if err != nil {
		return fmt.Errorf("insert cache sample: %w", err)
	}
	return nil
}

// CacheSamples returns the samples of a session, oldest first.
func (s *Store) CacheSamples(ctx context.Context, sessionID string) ([]CacheSample, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT session_id, COALESCE(sequence_id, ''), sampled_at, hits, misses, evictions, failures,
		        hit_rate, avg_decode_ms, cached, in_flight
		 FROM cache_samples WHERE session_id = ? ORDER BY sampled_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query cache samples: %w", err)
	}
	defer rows.Close()

	var out []CacheSample
	for rows.Next() {
		var cs CacheSample
		var hits, misses, evictions, failures int64
		if err := rows.Scan(&cs.SessionID, &cs.SequenceID, &cs.SampledAt, &hits, &misses, &evictions, &failures,
			&cs.HitRate, &cs.AvgDecodeMS, &cs.Cached, &cs.InFlight); err != nil {
			return nil, err
		}
		cs.Hits, cs.Misses, cs.Evictions, cs.Failures = uint64(hits), uint64(misses), uint64(evictions), uint64(failures)
		out = append(out, cs)
	}
	return out, rows.Err()
}
