// Package monitor serves playback diagnostics over HTTP: health, cache
// statistics as JSON, HTML charts of cache behaviour and of the frame on
// screen, and PNG plots of the cache history.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/banshee-data/splatstream/internal/catalog"
	"github.com/banshee-data/splatstream/internal/httputil"
	"github.com/banshee-data/splatstream/internal/monitoring"
	"github.com/banshee-data/splatstream/internal/splat/framecache"
	"github.com/banshee-data/splatstream/internal/version"
)

var logf = monitoring.Component("monitor")

// WebServer handles the HTTP interface for playback monitoring.
type WebServer struct {
	address string
	cache   StatsSource
	history *History
	frames  *LatestFrame
	catalog *catalog.Store
	server  *http.Server
	started time.Time
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Cache   StatsSource
	History *History
	Frames  *LatestFrame
	// Catalog is optional. When set its admin routes are mounted under
	// /debug/ and the LOD chart is available.
	Catalog *catalog.Store
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address: config.Address,
		cache:   config.Cache,
		history: config.History,
		frames:  config.Frames,
		catalog: config.Catalog,
		started: time.Now(),
	}
	if ws.history == nil {
		ws.history = NewHistory(600)
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the configured router.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server routine stopped")
	return nil
}

// Close stops the server immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/cache/stats", ws.handleCacheStats)
	mux.HandleFunc("/api/cache/history", ws.handleCacheHistory)
	mux.HandleFunc("/charts/cache", ws.handleCacheChart)
	mux.HandleFunc("/charts/frame", ws.handleFrameChart)
	mux.HandleFunc("/charts/lod", ws.handleLODChart)
	mux.HandleFunc("/plots/cache.png", ws.handleCachePlot)

	if ws.catalog != nil {
		if err := ws.catalog.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"uptime": time.Since(ws.started).Round(time.Second).String(),
	})
}

// CacheStatus is the body of /api/cache/stats.
type CacheStatus struct {
	Stats        framecache.Stats `json:"stats"`
	HitRate      float64          `json:"hit_rate"`
	AvgDecodeMS  float64          `json:"avg_decode_ms"`
	CurrentFrame *int             `json:"current_frame,omitempty"`
}

func (ws *WebServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.cache == nil {
		httputil.NotFound(w, "no frame cache attached")
		return
	}
	st := ws.cache.Stats()
	resp := CacheStatus{
		Stats:       st,
		HitRate:     st.HitRate(),
		AvgDecodeMS: float64(st.AvgDecode) / float64(time.Millisecond),
	}
	if ws.frames != nil {
		if idx, _, ok := ws.frames.Latest(); ok {
			resp.CurrentFrame = &idx
		}
	}
	httputil.WriteJSONOK(w, resp)
}

func (ws *WebServer) handleCacheHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, ws.history.Samples())
}
