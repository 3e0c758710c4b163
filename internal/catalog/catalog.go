// Package catalog records converted sequences, their frames and generated
// LOD artifacts, and playback cache samples, in a SQLite database.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/splatstream/internal/monitoring"
	"github.com/banshee-data/splatstream/internal/splat"
)

var logf = monitoring.Component("catalog")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store is the catalog database.
type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema. Use ":memory:" for a private in-memory catalog.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps an in-memory database alive and serialises
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Sequence is one imported frame sequence.
type Sequence struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourceDir  string    `json:"source_dir"`
	FrameCount int       `json:"frame_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Frame is the catalog entry of one source frame.
type Frame struct {
	SequenceID string     `json:"sequence_id"`
	Index      int        `json:"index"`
	FileName   string     `json:"file_name"`
	PointCount int        `json:"point_count"`
	Min        [3]float64 `json:"min"`
	Max        [3]float64 `json:"max"`
}

// LODLevel is one generated level of detail of a frame.
type LODLevel struct {
	SequenceID   string `json:"sequence_id"`
	FrameIndex   int    `json:"frame_index"`
	Level        int    `json:"level"`
	Method       string `json:"method"`
	PointCount   int    `json:"point_count"`
	ArtifactPath string `json:"artifact_path"`
	ArtifactSize int64  `json:"artifact_size"`
}

// CreateSequence inserts a sequence with a fresh identifier.
func (s *Store) CreateSequence(ctx context.Context, name, sourceDir string, frameCount int) (*Sequence, error) {
	if frameCount < 1 {
		return nil, splat.ErrEmptySequence
	}
	seq := &Sequence{
		ID:         uuid.NewString(),
		Name:       name,
		SourceDir:  sourceDir,
		FrameCount: frameCount,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO sequences (sequence_id, name, source_dir, frame_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		seq.ID, seq.Name, seq.SourceDir, seq.FrameCount, seq.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert sequence: %w", err)
	}
	logf("created sequence %s (%q, %d frames)", seq.ID, name, frameCount)
	return seq, nil
}

// GetSequence returns the sequence with id, or ErrNotFound.
func (s *Store) GetSequence(ctx context.Context, id string) (*Sequence, error) {
	var seq Sequence
	err := s.QueryRowContext(ctx,
		`SELECT sequence_id, name, source_dir, frame_count, created_at FROM sequences WHERE sequence_id = ?`, id,
	).Scan(&seq.ID, &seq.Name, &seq.SourceDir, &seq.FrameCount, &seq.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query sequence: %w", err)
	}
	return &seq, nil
}

// ListSequences returns every sequence, newest first.
func (s *Store) ListSequences(ctx context.Context) ([]Sequence, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT sequence_id, name, source_dir, frame_count, created_at FROM sequences ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("query sequences: %w", err)
	}
	defer rows.Close()

	var out []Sequence
	for rows.Next() {
		var seq Sequence
		if err := rows.Scan(&seq.ID, &seq.Name, &seq.SourceDir, &seq.FrameCount, &seq.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

// NewFrame builds a Frame entry from a decoded frame.
func NewFrame(sequenceID string, index int, fileName string, f *splat.Frame) Frame {
	return Frame{
		SequenceID: sequenceID,
		Index:      index,
		FileName:   fileName,
		PointCount: f.Len(),
		Min:        [3]float64{f.Bounds.Min.X, f.Bounds.Min.Y, f.Bounds.Min.Z},
		Max:        [3]float64{f.Bounds.Max.X, f.Bounds.Max.Y, f.Bounds.Max.Z},
	}
}

// RecordFrame inserts or replaces a frame entry.
func (s *Store) RecordFrame(ctx context.Context, f Frame) error {
	_, err := s.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (
			sequence_id, frame_index, file_name, point_count,
			min_x, min_y, min_z, max_x, max_y, max_z
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.SequenceID, f.Index, f.FileName, f.PointCount,
		f.Min[0], f.Min[1], f.Min[2], f.Max[0], f.Max[1], f.Max[2],
	)
	if err != nil {
		return fmt.Errorf("insert frame %d: %w", f.Index, err)
	}
	return nil
}

// ListFrames returns the frames of a sequence in index order.
func (s *Store) ListFrames(ctx context.Context, sequenceID string) ([]Frame, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT sequence_id, frame_index, file_name, point_count, min_x, min_y, min_z, max_x, max_y, max_z
		 FROM frames WHERE sequence_id = ? ORDER BY frame_index`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var f Frame
		if err := rows.Scan(&f.SequenceID, &f.Index, &f.FileName, &f.PointCount,
			&f.Min[0], &f.Min[1], &f.Min[2], &f.Max[0], &f.Max[1], &f.Max[2]); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordLODLevel inserts or replaces a generated level.
func (s *Store) RecordLODLevel(ctx context.Context, l LODLevel) error {
	_, err := s.ExecContext(ctx,
		`INSERT OR REPLACE INTO lod_levels (
			sequence_id, frame_index, level, method, point_count, artifact_path, artifact_size
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.SequenceID, l.FrameIndex, l.Level, l.Method, l.PointCount, l.ArtifactPath, l.ArtifactSize,
	)
	if err != nil {
		return fmt.Errorf("insert lod level %d of frame %d: %w", l.Level, l.FrameIndex, err)
	}
	return nil
}

// ListLODLevels returns the levels of one frame in level order.
func (s *Store) ListLODLevels(ctx context.Context, sequenceID string, frameIndex int) ([]LODLevel, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT sequence_id, frame_index, level, method, point_count, artifact_path, artifact_size
		 FROM lod_levels WHERE sequence_id = ? AND frame_index = ? ORDER BY level`, sequenceID, frameIndex)
	if err != nil {
		return nil, fmt.Errorf("query lod levels: %w", err)
	}
	defer rows.Close()

	var out []LODLevel
	for rows.Next() {
		var l LODLevel
		if err := rows.Scan(&l.SequenceID, &l.FrameIndex, &l.Level, &l.Method, &l.PointCount, &l.ArtifactPath, &l.ArtifactSize); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LevelPointCounts returns, per LOD level, the total point count across
// the frames of a sequence.
func (s *Store) LevelPointCounts(ctx context.Context, sequenceID string) (map[int]int, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT level, SUM(point_count) FROM lod_levels WHERE sequence_id = ? GROUP BY level ORDER BY level`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("query level totals: %w", err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var level, total int
		if err := rows.Scan(&level, &total); err != nil {
			return nil, err
		}
		out[level] = total
	}
	return out, rows.Err()
}
