// Package dataset loads a curation dataset described by a JSON5 manifest: the
// fluorescence traces, the cell contours, the movie frames and an optional
// initial set of rasters.
//
// A minimal manifest only needs the raw traces:
//
//	{
//	  name: "mouse 12, field 3",
//	  raw: [[0.1, 0.3, 0.2], [0.0, 0.5, 0.4]],
//	  // contours, as [x, y] vertices
//	  polygons: [[[3, 3], [5, 3], [5, 5]], [[5, 3], [7, 3], [7, 5]]],
//	  movie_dir: "frames",
//	}
package dataset

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	json "github.com/KevinWang15/go-json5"
	"gonum.org/v1/gonum/spatial/r2"

	"cinacgt/pkg/annotation"
	"cinacgt/pkg/config"
	"cinacgt/pkg/coords"
	"cinacgt/pkg/logging"
	"cinacgt/pkg/movie"
	"cinacgt/pkg/raster"
	"cinacgt/pkg/trace"
)

// ErrInvalidManifest is returned when a manifest is inconsistent
var ErrInvalidManifest = errors.New("invalid dataset manifest")

// Manifest is the on-disk description of a dataset. Paths are relative to the
// manifest file.
type Manifest struct {
	Name string `json:"name"`

	// Raw holds one trace per cell. RawFile points to a JSON5 file holding the
	// same matrix. RawFromMovie averages the movie over each cell mask instead.
	Raw          [][]float64 `json:"raw"`
	RawFile      string      `json:"raw_file"`
	RawFromMovie bool        `json:"raw_from_movie"`

	// Smooth holds the display traces; when absent they are computed from Raw
	// with a Hann window of SmoothWindow frames
	Smooth       [][]float64 `json:"smooth"`
	SmoothWindow int         `json:"smooth_window"`

	// Neuropil holds one neuropil trace per cell; an empty row means none
	Neuropil [][]float64 `json:"neuropil"`

	// Polygons holds the contour of each cell as [x, y] vertices, Masks the
	// pixels of each cell. At most one of them is set.
	Polygons [][][2]float64 `json:"polygons"`
	Masks    [][][2]int     `json:"masks"`

	// Width and Height size the field of view when there is no movie
	Width  int `json:"width"`
	Height int `json:"height"`

	MovieDir string `json:"movie_dir"`

	// Rasters maps persisted layer names to cells x frames matrices
	Rasters   map[string][][]int8 `json:"rasters"`
	CellTypes []string            `json:"cell_types"`
}

// Dataset is a loaded manifest. It serves the traces to the profile engine.
type Dataset struct {
	Name string

	raw      [][]float64
	smooth   [][]float64
	neuropil [][]float64

	Movie     *movie.Movie
	Coords    *coords.Map
	Rasters   raster.Snapshot
	CellTypes []string
}

// Load reads and resolves the manifest at path
func Load(path string, logger *slog.Logger) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data, filepath.Dir(path), logger)
}

// Parse decodes a manifest and resolves its paths against dir
func Parse(data []byte, dir string, logger *slog.Logger) (*Dataset, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return m.Resolve(dir, logger)
}

// Resolve loads the files the manifest points to and checks that every part
// agrees on the number of cells and frames
func (m *Manifest) Resolve(dir string, logger *slog.Logger) (*Dataset, error) {
	logger = logging.OrDiscard(logger)
	d := &Dataset{Name: m.Name, raw: m.Raw, CellTypes: m.CellTypes}

	if m.MovieDir != "" {
		mv, err := movie.LoadFrames(resolve(dir, m.MovieDir), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load movie: %w", err)
		}
		d.Movie = mv
	}

	if err := d.loadCoords(m); err != nil {
		return nil, err
	}

	if m.RawFile != "" {
		raw, err := readMatrix(resolve(dir, m.RawFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read raw traces: %w", err)
		}
		d.raw = raw
	}
	if m.RawFromMovie {
		if d.Movie == nil || d.Coords == nil {
			return nil, fmt.Errorf("%w: raw_from_movie needs movie_dir and cell contours", ErrInvalidManifest)
		}
		d.raw = movie.RawTraces(d.Movie, d.Coords)
	}
	if len(d.raw) == 0 {
		return nil, fmt.Errorf("%w: no trace", ErrInvalidManifest)
	}

	d.smooth = m.Smooth
	if d.smooth == nil {
		window := m.SmoothWindow
		if window == 0 {
			window = trace.DefaultSmoothWindow
		}
		d.smooth = make([][]float64, len(d.raw))
		for cell, r := range d.raw {
			d.smooth[cell] = trace.Smooth(r, window)
		}
	}
	d.neuropil = m.Neuropil

	if err := d.loadRasters(m.Rasters); err != nil {
		return nil, err
	}
	if err := d.check(); err != nil {
		return nil, err
	}

	logger.Info("dataset loaded", "name", d.Name, "cells", d.Cells(), "frames", d.Frames(),
		"movie", d.Movie != nil, "contours", d.Coords != nil)
	return d, nil
}

func (d *Dataset) loadCoords(m *Manifest) error {
	if len(m.Polygons) > 0 && len(m.Masks) > 0 {
		return fmt.Errorf("%w: both polygons and masks given", ErrInvalidManifest)
	}
	if len(m.Polygons) == 0 && len(m.Masks) == 0 {
		return nil
	}

	width, height := m.Width, m.Height
	if d.Movie != nil {
		_, height, width = d.Movie.Dims()
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: contours need a movie or width and height", ErrInvalidManifest)
	}

	var err error
	if len(m.Polygons) > 0 {
		polygons := make([][]r2.Vec, len(m.Polygons))
		for cell, poly := range m.Polygons {
			for _, v := range poly {
				polygons[cell] = append(polygons[cell], r2.Vec{X: v[0], Y: v[1]})
			}
		}
		d.Coords, err = coords.New(polygons, width, height)
	} else {
		masks := make([][]image.Point, len(m.Masks))
		for cell, mask := range m.Masks {
			for _, p := range mask {
				masks[cell] = append(masks[cell], image.Pt(p[0], p[1]))
			}
		}
		d.Coords, err = coords.FromMasks(masks, width, height)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return nil
}

func (d *Dataset) loadRasters(named map[string][][]int8) error {
	if len(named) == 0 {
		return nil
	}
	d.Rasters = make(raster.Snapshot, len(named))
	for name, matrix := range named {
		layer, ok := raster.ParseLayer(name)
		if !ok {
			return fmt.Errorf("%w: unknown raster %q", ErrInvalidManifest, name)
		}
		d.Rasters[layer] = matrix
	}
	return nil
}

func (d *Dataset) check() error {
	cells, frames := d.Cells(), d.Frames()
	if frames == 0 {
		return fmt.Errorf("%w: empty traces", ErrInvalidManifest)
	}
	for name, rows := range map[string][][]float64{"raw": d.raw, "smooth": d.smooth} {
		if len(rows) != cells {
			return fmt.Errorf("%w: %s has %d cells, expected %d", ErrInvalidManifest, name, len(rows), cells)
		}
		for cell, row := range rows {
			if len(row) != frames {
				return fmt.Errorf("%w: %s cell %d has %d frames, expected %d", ErrInvalidManifest, name, cell, len(row), frames)
			}
		}
	}
	if d.neuropil != nil && len(d.neuropil) != cells {
		return fmt.Errorf("%w: neuropil has %d cells, expected %d", ErrInvalidManifest, len(d.neuropil), cells)
	}
	for cell, row := range d.neuropil {
		if len(row) != 0 && len(row) != frames {
			return fmt.Errorf("%w: neuropil cell %d has %d frames, expected %d", ErrInvalidManifest, cell, len(row), frames)
		}
	}
	if d.Coords != nil && d.Coords.Cells() != cells {
		return fmt.Errorf("%w: %d contours for %d cells", ErrInvalidManifest, d.Coords.Cells(), cells)
	}
	if d.Movie != nil {
		if n, _, _ := d.Movie.Dims(); n != frames {
			return fmt.Errorf("%w: movie has %d frames, traces have %d", ErrInvalidManifest, n, frames)
		}
	}
	if d.CellTypes != nil && len(d.CellTypes) != cells {
		return fmt.Errorf("%w: %d cell types for %d cells", ErrInvalidManifest, len(d.CellTypes), cells)
	}
	return nil
}

// Cells returns the number of cells
func (d *Dataset) Cells() int { return len(d.raw) }

// Frames returns the number of frames
func (d *Dataset) Frames() int {
	if len(d.raw) == 0 {
		return 0
	}
	return len(d.raw[0])
}

// Raw returns the raw trace of cell
func (d *Dataset) Raw(cell int) []float64 { return d.raw[cell] }

// Smooth returns the display trace of cell
func (d *Dataset) Smooth(cell int) []float64 { return d.smooth[cell] }

// Neuropil returns the neuropil trace of cell, if the dataset has one
func (d *Dataset) Neuropil(cell int) ([]float64, bool) {
	if cell >= len(d.neuropil) || len(d.neuropil[cell]) == 0 {
		return nil, false
	}
	return d.neuropil[cell], true
}

// NewSession opens a curation session over the dataset, preloaded with its rasters
func (d *Dataset) NewSession(cfg *config.Config, logger *slog.Logger) (*annotation.Session, error) {
	opts := annotation.Options{
		Cells:  d.Cells(),
		Frames: d.Frames(),
		Config: cfg,
		Traces: d,
		Logger: logger,
	}
	if d.Movie != nil && d.Coords != nil {
		opts.Movie, opts.Coords = d.Movie, d.Coords
	}
	s, err := annotation.NewSession(opts)
	if err != nil {
		return nil, err
	}
	if d.Rasters != nil || d.CellTypes != nil {
		if err := s.Load(d.Rasters, d.CellTypes); err != nil {
			return nil, fmt.Errorf("failed to load rasters: %w", err)
		}
	}
	return s, nil
}

func readMatrix(path string) ([][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m [][]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
