// Command splat-play plays a frame sequence through the frame cache at the
// configured rate, serving the monitor pages while it runs.
//
// With -status it instead prints the cache statistics of a running player.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/splatstream/internal/catalog"
	"github.com/banshee-data/splatstream/internal/config"
	"github.com/banshee-data/splatstream/internal/fsutil"
	"github.com/banshee-data/splatstream/internal/httputil"
	"github.com/banshee-data/splatstream/internal/monitor"
	"github.com/banshee-data/splatstream/internal/security"
	"github.com/banshee-data/splatstream/internal/splat"
	"github.com/banshee-data/splatstream/internal/splat/framecache"
	"github.com/banshee-data/splatstream/internal/splat/sequence"
	"github.com/banshee-data/splatstream/internal/timeutil"
	"github.com/banshee-data/splatstream/internal/version"
)

var (
	dir         = flag.String("dir", "", "Directory of frames to play (.ply or .codec)")
	configPath  = flag.String("config", "", "Engine config JSON (optional)")
	listen      = flag.String("listen", "", "Monitor listen address (overrides config)")
	noCatalog   = flag.Bool("no-catalog", false, "Do not record cache samples in the catalog")
	sequenceID  = flag.String("sequence-id", "", "Catalog sequence ID to attach samples to")
	lodRatio    = flag.Float64("lod-ratio", 0, "Reduce every frame to this fraction of its points on load (0 disables)")
	duration    = flag.Duration("duration", 0, "Stop after this long (0 plays until the end or a signal)")
	sampleEvery = flag.Duration("sample-interval", time.Second, "Cache statistics sampling interval")
	plotPath    = flag.String("plot", "", "Write a PNG plot of the cache history here on exit")
	status      = flag.String("status", "", "Print cache stats from the monitor at this base URL and exit")
	showVer     = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("splat-play", version.String())
		return
	}
	if *status != "" {
		printStatus(*status)
		return
	}
	if *dir == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *plotPath != "" {
		if err := security.ValidateExportPath(*plotPath); err != nil {
			log.Fatalf("invalid -plot: %v", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *listen != "" {
		cfg.MonitorListen = listen
	}

	seq, err := sequence.Open(fsutil.OSFileSystem{}, *dir, sequence.Options{
		LODRatio:  *lodRatio,
		LODMethod: cfg.GetLODMethod(),
		LOD:       cfg.GetLODOptions(),
	})
	if err != nil {
		log.Fatalf("open sequence: %v", err)
	}
	cache, err := framecache.New(seq, cfg.CacheConfig())
	if err != nil {
		log.Fatalf("create cache: %v", err)
	}
	defer cache.Wait()

	frames := &monitor.LatestFrame{}
	player := framecache.NewPlayer(cache, presentAndLog(frames, seq.Len()), cfg.PlayerConfig())

	var store *catalog.Store
	if !*noCatalog {
		if store, err = catalog.Open(cfg.GetCatalogDBPath()); err != nil {
			log.Fatalf("open catalog: %v", err)
		}
		defer store.Close()
	}

	history := monitor.NewHistory(3600)
	ws, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address: cfg.GetMonitorListen(),
		Cache:   cache,
		History: history,
		Frames:  frames,
		Catalog: store,
	})
	if err != nil {
		log.Fatalf("create monitor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(serverCtx); err != nil {
			log.Printf("monitor server: %v", err)
		}
	}()

	log.Printf("playing %d frames from %s at %.1f fps (loop=%v)", seq.Len(), *dir, cfg.GetFPS(), cfg.GetLoop())
	err = play(ctx, session{
		player:      player,
		cache:       cache,
		clock:       timeutil.RealClock{},
		history:     history,
		store:       store,
		sessionID:   uuid.NewString(),
		sequenceID:  *sequenceID,
		sampleEvery: *sampleEvery,
	})
	stopServer()
	wg.Wait()
	if err != nil {
		log.Fatalf("playback: %v", err)
	}

	st := cache.Stats()
	log.Printf("delivered %d frames, skipped %d, hit rate %.3f, avg decode %s",
		player.Delivered(), player.Skipped(), st.HitRate(), st.AvgDecode)
	if *plotPath != "" {
		if err := monitor.SaveCachePNG(*plotPath, history.Samples()); err != nil {
			log.Printf("plot: %v", err)
		}
	}
}

// presentAndLog records each frame for the monitor and logs progress once
// per pass through the sequence.
func presentAndLog(frames *monitor.LatestFrame, n int) framecache.Renderer {
	return framecache.RendererFunc(func(index int, f *splat.Frame) {
		frames.Present(index, f)
		if index == 0 || index == n-1 {
			log.Printf("frame %d/%d: %d points", index+1, n, f.Len())
		}
	})
}

func printStatus(baseURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})
	st, err := monitor.FetchCacheStatus(ctx, client, baseURL)
	if err != nil {
		log.Fatalf("fetch status: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		log.Fatalf("encode status: %v", err)
	}
}
