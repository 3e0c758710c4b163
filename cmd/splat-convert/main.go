// Command splat-convert decodes a directory of .ply frames, builds LOD
// levels for each frame, writes every level as a .codec file and records
// the result in the catalog.
//
// Output layout: <out>/L<level>/<frame>.codec, so each level directory is
// itself a playable sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/splatstream/internal/catalog"
	"github.com/banshee-data/splatstream/internal/config"
	"github.com/banshee-data/splatstream/internal/fsutil"
	"github.com/banshee-data/splatstream/internal/security"
	"github.com/banshee-data/splatstream/internal/splat/codec"
	"github.com/banshee-data/splatstream/internal/splat/lod"
	"github.com/banshee-data/splatstream/internal/splat/sequence"
	"github.com/banshee-data/splatstream/internal/version"
)

var (
	inDir      = flag.String("in", "", "Directory of source frames (.ply or .codec)")
	outDir     = flag.String("out", "", "Output directory for LOD levels")
	configPath = flag.String("config", "", "Engine config JSON (optional)")
	dbPath     = flag.String("db", "", "Catalog database path (overrides config)")
	method     = flag.String("method", "", "LOD method (overrides config)")
	levels     = flag.Int("levels", 0, "Number of LOD levels (overrides config)")
	workers    = flag.Int("workers", runtime.GOMAXPROCS(0), "Frames converted in parallel")
	name       = flag.String("name", "", "Sequence name recorded in the catalog (default: input directory name)")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("splat-convert", version.String())
		return
	}
	if *inDir == "" || *outDir == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dbPath != "" {
		cfg.CatalogDBPath = dbPath
	}
	if *method != "" {
		cfg.LODMethod = method
	}
	if *levels > 0 {
		cfg.LODLevels = levels
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := catalog.Open(cfg.GetCatalogDBPath())
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}
	defer store.Close()

	seqName := *name
	if seqName == "" {
		seqName = filepath.Base(filepath.Clean(*inDir))
	}

	start := time.Now()
	res, err := convert(ctx, job{
		fsys:    fsutil.OSFileSystem{},
		store:   store,
		cfg:     cfg,
		inDir:   *inDir,
		outDir:  *outDir,
		name:    seqName,
		workers: *workers,
	})
	if err != nil {
		log.Fatalf("convert: %v", err)
	}
	log.Printf("sequence %s: %d frames, %d levels, %d bytes written in %s",
		res.sequenceID, res.frames, res.levels, res.bytes, time.Since(start).Round(time.Millisecond))
}

type job struct {
	fsys    fsutil.FileSystem
	store   *catalog.Store
	cfg     *config.EngineConfig
	inDir   string
	outDir  string
	name    string
	workers int
}

type result struct {
	sequenceID string
	frames     int
	levels     int64
	bytes      int64
}

// convert processes every frame of j.inDir. The first failing frame cancels
// the remaining work.
func convert(ctx context.Context, j job) (result, error) {
	seq, err := sequence.Open(j.fsys, j.inDir, sequence.Options{})
	if err != nil {
		return result{}, err
	}
	m := j.cfg.GetLODMethod()
	opts := j.cfg.GetLODOptions()
	levelCount := j.cfg.GetLODLevels()

	rec, err := j.store.CreateSequence(ctx, j.name, j.inDir, seq.Len())
	if err != nil {
		return result{}, err
	}
	for l := 0; l < levelCount; l++ {
		if err := j.fsys.MkdirAll(levelDir(j.outDir, l), 0o755); err != nil {
			return result{}, fmt.Errorf("create level directory: %w", err)
		}
	}

	var written, levelsOut atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	if j.workers > 0 {
		g.SetLimit(j.workers)
	}
	for i := 0; i < seq.Len(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frame, err := seq.Load(gctx, i)
			if err != nil {
				return fmt.Errorf("frame %s: %w", seq.Name(i), err)
			}
			if err := j.store.RecordFrame(gctx, catalog.NewFrame(rec.ID, i, seq.Name(i), frame)); err != nil {
				return err
			}

			lods, err := lod.GenerateLODLevels(frame, levelCount, m, opts)
			if err != nil {
				return fmt.Errorf("frame %s: %w", seq.Name(i), err)
			}
			stem := security.SanitizeFilename(strings.TrimSuffix(seq.Name(i), filepath.Ext(seq.Name(i))))
			for l, lf := range lods {
				data, err := codec.Encode(lf)
				if err != nil {
					return fmt.Errorf("frame %s level %d: %w", seq.Name(i), l, err)
				}
				path := filepath.Join(levelDir(j.outDir, l), stem+codec.FileExtension)
				if err := security.ValidatePathWithinDirectory(path, j.outDir); err != nil {
					return err
				}
				if err := j.fsys.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				if err := j.store.RecordLODLevel(gctx, catalog.LODLevel{
					SequenceID:   rec.ID,
					FrameIndex:   i,
					Level:        l,
					Method:       m.String(),
					PointCount:   lf.Len(),
					ArtifactPath: path,
					ArtifactSize: int64(len(data)),
				}); err != nil {
					return err
				}
				written.Add(int64(len(data)))
				levelsOut.Add(1)
			}
			log.Printf("converted %s: %d points, %d levels", seq.Name(i), frame.Len(), len(lods))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	return result{sequenceID: rec.ID, frames: seq.Len(), levels: levelsOut.Load(), bytes: written.Load()}, nil
}

func levelDir(out string, level int) string {
	return filepath.Join(out, fmt.Sprintf("L%d", level))
}
