// Package plotting renders diagnostic figures of a curation session: a cell
// trace with its onsets and peaks, and the heat map of a source or transient profile.
package plotting

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"gonum.org/v1/plot"
	_ "gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"cinacgt/pkg/profile"
	"cinacgt/pkg/trace"
)

const dpi = 96

var (
	traceColor    = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	onsetColor    = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	peakColor     = color.RGBA{R: 30, G: 80, B: 220, A: 255}
	doubtfulColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
)

// Events are the frames marked on a trace plot
type Events struct {
	Onsets   []int
	Peaks    []int
	Doubtful []int
}

// TraceOptions controls a trace plot
type TraceOptions struct {
	Title string

	// ZScore normalizes the trace before plotting
	ZScore bool
}

// Trace plots values against frame index with a marker on every event frame
func Trace(values []float64, ev Events, opts TraceOptions) (*plot.Plot, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("empty trace")
	}
	if opts.ZScore {
		values = trace.ZScore(values)
	}

	p := plot.New()
	setFonts(p)
	p.Title.Text = opts.Title
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "fluorescence"
	if opts.ZScore {
		p.Y.Label.Text = "z-score"
	}
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = traceColor
	p.Add(line)

	markers := []struct {
		name   string
		frames []int
		color  color.Color
		shape  draw.GlyphDrawer
	}{
		{"onsets", ev.Onsets, onsetColor, draw.TriangleGlyph{}},
		{"peaks", ev.Peaks, peakColor, draw.CircleGlyph{}},
		{"doubtful", ev.Doubtful, doubtfulColor, draw.CrossGlyph{}},
	}
	for _, m := range markers {
		pts := framePoints(values, m.frames)
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = m.color
		sc.GlyphStyle.Shape = m.shape
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(m.name, sc)
	}
	p.Legend.Top = true
	return p, nil
}

// framePoints places a marker on the trace at each frame inside it
func framePoints(values []float64, frames []int) plotter.XYs {
	pts := make(plotter.XYs, 0, len(frames))
	for _, f := range frames {
		if f < 0 || f >= len(values) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(f), Y: values[f]})
	}
	return pts
}

// imageGrid adapts a profile image to plotter.GridXYZ
type imageGrid struct {
	img *profile.Image
}

func (g imageGrid) Dims() (c, r int) { return g.img.Bounds.Width(), g.img.Bounds.Height() }
func (g imageGrid) Z(c, r int) float64 {
	return g.img.At(g.img.Bounds.MinX+c, g.img.Bounds.MinY+r)
}
func (g imageGrid) X(c int) float64 { return float64(g.img.Bounds.MinX + c) }
func (g imageGrid) Y(r int) float64 { return float64(g.img.Bounds.MinY + r) }

// Profile plots a profile image as a heat map in movie pixel coordinates
func Profile(img *profile.Image, title string) (*plot.Plot, error) {
	if img == nil || len(img.Pixels) == 0 {
		return nil, fmt.Errorf("empty profile")
	}

	p := plot.New()
	setFonts(p)
	p.Title.Text = title
	p.X.Label.Text = "x (pixels)"
	p.Y.Label.Text = "y (pixels)"

	cmap := moreland.ExtendedBlackBody()
	hm := plotter.NewHeatMap(imageGrid{img: img}, cmap.Palette(255))
	if hm.Min == hm.Max || math.IsInf(hm.Min, 0) {
		// a flat image still needs a non-empty range
		hm.Max = hm.Min + 1
	}
	hm.Rasterized = true
	p.Add(hm)
	return p, nil
}

// Render draws the plot into an image of the given pixel size
func Render(p *plot.Plot, wPx, hPx float64) image.Image {
	width := vg.Length(wPx) * vg.Inch / dpi
	height := vg.Length(hPx) * vg.Inch / dpi

	c := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(dpi))
	p.Draw(draw.New(c))
	return c.Image()
}

// SavePNG renders the plot and writes it to filename
func SavePNG(p *plot.Plot, filename string, wPx, hPx float64) (err error) {
	img := Render(p, wPx, hPx)

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return png.Encode(f, img)
}

func setFonts(p *plot.Plot) {
	p.Title.TextStyle.Font.Typeface = "Liberation"
	p.Title.TextStyle.Font.Variant = "Sans"
	p.Title.TextStyle.Font.Size = vg.Points(12)

	p.X.Label.TextStyle.Font.Typeface = "Liberation"
	p.X.Label.TextStyle.Font.Variant = "Sans"
	p.Y.Label.TextStyle.Font.Typeface = "Liberation"
	p.Y.Label.TextStyle.Font.Variant = "Sans"

	p.X.Tick.Label.Font.Typeface = "Liberation"
	p.X.Tick.Label.Font.Variant = "Sans"
	p.Y.Tick.Label.Font.Typeface = "Liberation"
	p.Y.Tick.Label.Font.Variant = "Sans"
}
