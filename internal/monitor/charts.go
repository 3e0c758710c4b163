package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/splatstream/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleCacheChart renders hit rate and mean decode latency over the
// recorded history.
func (ws *WebServer) handleCacheChart(w http.ResponseWriter, r *http.Request) {
	samples := ws.history.Samples()
	if len(samples) == 0 {
		httputil.NotFound(w, "no cache samples recorded yet")
		return
	}

	x := make([]string, len(samples))
	hitRate := make([]opts.LineData, len(samples))
	latency := make([]opts.LineData, len(samples))
	cached := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = s.At.Format("15:04:05")
		hitRate[i] = opts.LineData{Value: s.Stats.HitRate()}
		latency[i] = opts.LineData{Value: float64(s.Stats.AvgDecode) / float64(time.Millisecond)}
		cached[i] = opts.LineData{Value: s.Stats.Cached}
	}

	rate := charts.NewLine()
	rate.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Frame cache", Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "hit rate"}),
	)
	rate.SetXAxis(x).AddSeries("hit rate", hitRate)

	decode := charts.NewLine()
	decode.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Decode latency (EMA) and resident frames"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	decode.SetXAxis(x).
		AddSeries("avg decode ms", latency).
		AddSeries("cached frames", cached)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(rate, decode)
	ws.renderHTML(w, page)
}

// handleFrameChart renders the X/Z footprint of the frame on screen,
// colored by opacity.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleFrameChart(w http.ResponseWriter, r *http.Request) {
	if ws.frames == nil {
		httputil.NotFound(w, "no renderer attached")
		return
	}
	idx, f, ok := ws.frames.Latest()
	if !ok {
		httputil.NotFound(w, "no frame presented yet")
		return
	}

	maxPoints := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 0 && v <= 50000 {
			maxPoints = v
		}
	}

	ch := f.Channels()
	stride := 1
	if ch.Count > maxPoints {
		stride = int(math.Ceil(float64(ch.Count) / float64(maxPoints)))
	}
	data := make([]opts.ScatterData, 0, ch.Count/stride+1)
	for i := 0; i < ch.Count; i += stride {
		data = append(data, opts.ScatterData{Value: []any{ch.Positions[3*i], ch.Positions[3*i+2], ch.Opacities[i]}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Splat frame", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Frame %d", idx), Subtitle: fmt.Sprintf("points=%d shown=%d stride=%d", ch.Count, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: ch.Bounds.Min.X, Max: ch.Bounds.Max.X, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: ch.Bounds.Min.Z, Max: ch.Bounds.Max.Z, Name: "Z", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	ws.renderHTML(w, scatter)
}

// handleLODChart renders total point count per LOD level for a catalogued
// sequence.
// Query params:
//   - sequence_id (required)
func (ws *WebServer) handleLODChart(w http.ResponseWriter, r *http.Request) {
	if ws.catalog == nil {
		httputil.NotFound(w, "no catalog attached")
		return
	}
	id := r.URL.Query().Get("sequence_id")
	if id == "" {
		httputil.BadRequest(w, "missing 'sequence_id' parameter")
		return
	}
	totals, err := ws.catalog.LevelPointCounts(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(totals) == 0 {
		httputil.NotFound(w, "no LOD levels recorded for sequence")
		return
	}

	levels := make([]int, 0, len(totals))
	for l := range totals {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	x := make([]string, len(levels))
	y := make([]opts.BarData, len(levels))
	for i, l := range levels {
		x[i] = fmt.Sprintf("L%d", l)
		y[i] = opts.BarData{Value: totals[l]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Points per LOD level", Subtitle: id}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("points", y, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	ws.renderHTML(w, bar)
}

type renderer interface {
	Render(w io.Writer) error
}

func (ws *WebServer) renderHTML(w http.ResponseWriter, c renderer) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
