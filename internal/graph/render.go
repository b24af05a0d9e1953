// Package graph renders performance series as PNG line charts.
package graph

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/perf"
	"github.com/sells-group/authority-monitor/internal/stats"
)

// Renderer draws one series.
type Renderer interface {
	Render(g perf.Graph, w io.Writer) error
}

// series plotted on every chart, bottom to top.
var plotted = []struct {
	metric stats.Metric
	label  string
	color  drawing.Color
}{
	{stats.Retrieve, "retrieve", chart.ColorBlue},
	{stats.GraphLoad, "graph load", chart.ColorGreen},
	{stats.Normalization, "normalization", chart.ColorOrange},
	{stats.FullRequest, "full request", chart.ColorRed},
}

// PNGRenderer draws stacked average timings with go-chart.
type PNGRenderer struct {
	Width  int
	Height int
}

// NewPNGRenderer returns a renderer with the default chart size.
func NewPNGRenderer() *PNGRenderer {
	return &PNGRenderer{Width: 960, Height: 360}
}

// Render writes g as a PNG. Empty series still render; go-chart rejects a
// zero-height range, so the Y axis always spans at least one millisecond.
func (r *PNGRenderer) Render(g perf.Graph, w io.Writer) error {
	if len(g.Points) < 2 {
		return eris.Errorf("graph: %s needs at least two points, got %d", Filename(g), len(g.Points))
	}

	xs := make([]float64, len(g.Points))
	ticks := make([]chart.Tick, 0, len(g.Points))
	step := tickStep(len(g.Points))
	for i, p := range g.Points {
		xs[i] = float64(i)
		if i%step == 0 || i == len(g.Points)-1 {
			ticks = append(ticks, chart.Tick{Value: float64(i), Label: p.Label})
		}
	}

	maxY := 1.0
	var series []chart.Series
	for _, s := range plotted {
		key := stats.Key(s.metric, stats.Avg)
		ys := make([]float64, len(g.Points))
		for i, p := range g.Points {
			ys[i] = p.Stats[key]
			maxY = max(maxY, ys[i])
		}
		series = append(series, chart.ContinuousSeries{
			Name:    s.label,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: s.color,
				StrokeWidth: 2,
			},
		})
	}

	c := chart.Chart{
		Title:  fmt.Sprintf("%s %s (%s)", g.Authority, g.Action, g.Window),
		Width:  r.Width,
		Height: r.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name:  "ms",
			Range: &chart.ContinuousRange{Min: 0, Max: maxY * 1.1},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Series: series,
	}
	c.Elements = []chart.Renderable{chart.Legend(&c)}

	if err := c.Render(chart.PNG, w); err != nil {
		return eris.Wrapf(err, "graph: render %s", Filename(g))
	}
	return nil
}

func tickStep(n int) int {
	switch {
	case n > 24:
		return 5
	case n > 12:
		return 3
	default:
		return 1
	}
}

// Filename is the stable file name for a series.
func Filename(g perf.Graph) string {
	name := fmt.Sprintf("%s_%s_%s.png", g.Authority, g.Action, g.Window)
	return strings.ToLower(strings.ReplaceAll(name, "/", "_"))
}

// Writer renders series into a directory, one file per series.
type Writer struct {
	dir      string
	renderer Renderer
	log      *zap.Logger
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string, r Renderer) *Writer {
	return &Writer{dir: dir, renderer: r, log: zap.L().With(zap.String("component", "graph"))}
}

// WriteAll renders every graph. Files are written to a temp name and renamed
// so readers never see a partial image.
func (w *Writer) WriteAll(graphs []perf.Graph) (int, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return 0, eris.Wrap(err, "graph: create dir")
	}
	written := 0
	for _, g := range graphs {
		if err := w.write(g); err != nil {
			return written, err
		}
		written++
	}
	w.log.Info("graphs written", zap.Int("count", written), zap.String("dir", w.dir))
	return written, nil
}

func (w *Writer) write(g perf.Graph) error {
	path := filepath.Join(w.dir, Filename(g))
	f, err := os.CreateTemp(w.dir, ".graph-*")
	if err != nil {
		return eris.Wrap(err, "graph: create temp file")
	}
	tmp := f.Name()
	defer os.Remove(tmp) //nolint:errcheck

	if err := w.renderer.Render(g, f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "graph: close temp file")
	}
	return eris.Wrap(os.Rename(tmp, path), "graph: rename")
}
