package monitor

import (
	"fmt"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/splatstream/internal/httputil"
)

var (
	hitRateColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	decodeColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// PlotCacheHistory draws hit rate and mean decode latency (ms) against
// seconds since the first sample. Latency is drawn on the same axis scaled
// into [0,1] by its maximum so both curves stay readable.
func PlotCacheHistory(samples []Sample) (*plot.Plot, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no cache samples to plot")
	}

	p := plot.New()
	p.Title.Text = "Frame cache"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Hit rate / normalised decode latency"
	p.Y.Min, p.Y.Max = 0, 1

	t0 := samples[0].At
	var maxDecode time.Duration
	for _, s := range samples {
		if s.Stats.AvgDecode > maxDecode {
			maxDecode = s.Stats.AvgDecode
		}
	}

	rate := make(plotter.XYs, len(samples))
	decode := make(plotter.XYs, len(samples))
	for i, s := range samples {
		x := s.At.Sub(t0).Seconds()
		rate[i].X, rate[i].Y = x, s.Stats.HitRate()
		decode[i].X = x
		if maxDecode > 0 {
			decode[i].Y = float64(s.Stats.AvgDecode) / float64(maxDecode)
		}
	}

	rateLine, err := plotter.NewLine(rate)
	if err != nil {
		return nil, fmt.Errorf("hit rate line: %w", err)
	}
	rateLine.Color = hitRateColor
	rateLine.Width = vg.Points(1)
	p.Add(rateLine)
	p.Legend.Add("hit rate", rateLine)

	decodeLine, err := plotter.NewLine(decode)
	if err != nil {
		return nil, fmt.Errorf("decode line: %w", err)
	}
	decodeLine.Color = decodeColor
	decodeLine.Width = vg.Points(1)
	decodeLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(decodeLine)
	p.Legend.Add(fmt.Sprintf("decode (max %s)", maxDecode.Round(time.Microsecond)), decodeLine)
	p.Legend.Top = true

	return p, nil
}

// WriteCachePNG renders the history as a PNG to w.
func WriteCachePNG(w io.Writer, samples []Sample) error {
	p, err := PlotCacheHistory(samples)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveCachePNG renders the history to path, creating parent directories.
func SaveCachePNG(path string, samples []Sample) error {
	p, err := PlotCacheHistory(samples)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot directory: %w", err)
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	logf("wrote cache plot %s (%d samples)", path, len(samples))
	return nil
}

func (ws *WebServer) handleCachePlot(w http.ResponseWriter, r *http.Request) {
	samples := ws.history.Samples()
	if len(samples) == 0 {
		httputil.NotFound(w, "no cache samples recorded yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := WriteCachePNG(w, samples); err != nil {
		logf("cache plot: %v", err)
	}
}
