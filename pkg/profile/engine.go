// Package profile computes the spatial footprint of a cell during its genuine
// activity (the source profile), the footprint seen during one candidate
// transient (the transient profile) and the correlation between the two.
//
// Source profiles are cached per cell until InvalidateSource is called.
// Correlations are cached per (cell, frame) in a CorrelationCache.
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"cinacgt/internal/models"
	"cinacgt/pkg/config"
	"cinacgt/pkg/detection"
	"cinacgt/pkg/logging"
	"cinacgt/pkg/metrics"
	"cinacgt/pkg/raster"
)

// Traces gives the fluorescence signals of each cell
type Traces interface {
	Raw(cell int) []float64
	Smooth(cell int) []float64
	// Neuropil returns the neuropil proxy of the cell, when the dataset has one
	Neuropil(cell int) ([]float64, bool)
}

// Movie gives the imaging frames, each row-major and already normalized
type Movie interface {
	Dims() (frames, height, width int)
	Frame(t int) []float64
}

// Coordinates gives the spatial layout of the cells
type Coordinates interface {
	Cells() int
	Bounds(cell int) models.Bounds
	Inside(cell, x, y int) bool
	Overlaps(cell int) []int
}

// Events gives the annotated frames of a layer; *raster.Store satisfies it
type Events interface {
	All(layer raster.Layer, cell int) []int
}

// ErrNoPeaks is returned when a cell has no usable transient to build a source profile from
var ErrNoPeaks = errors.New("cell has no usable peak")

// Params controls profile computation
type Params struct {
	// PixelsAround is the margin added to the cell bounds for source profiles
	PixelsAround int
	// CorrelationBuffer is the margin added to the cell bounds for correlations
	CorrelationBuffer int

	MinPeaks   int
	MaxPeaks   int
	Percentile float64

	// TruePeakMinimum is the number of annotated peaks above which they are
	// preferred over detected candidates
	TruePeakMinimum int

	FullFrame bool

	Detection detection.Params
	Overlay   OverlayParams
}

// DefaultParams returns the parameters of DefaultConfig
func DefaultParams() Params {
	return ParamsFromConfig(config.DefaultConfig())
}

// ParamsFromConfig extracts the profile parameters of cfg
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		PixelsAround:      cfg.Profile.PixelsAround,
		CorrelationBuffer: cfg.Profile.CorrelationBuffer,
		MinPeaks:          cfg.Profile.MinPeaks,
		MaxPeaks:          cfg.Profile.MaxPeaks,
		Percentile:        cfg.Profile.Percentile,
		TruePeakMinimum:   cfg.Profile.TruePeakMinimum,
		FullFrame:         cfg.Profile.FullFrame,
		Detection: detection.Params{
			MinPeakDistance: cfg.Detection.MinPeakDistance,
			ThresholdFactor: cfg.Detection.ThresholdFactor,
		},
		Overlay: OverlayParams{
			CrossTalkOwnMax:   cfg.Overlay.CrossTalkOwnMax,
			CrossTalkOtherMin: cfg.Overlay.CrossTalkOtherMin,
			NeuropilRatio:     cfg.Overlay.NeuropilRatio,
		},
	}
}

// Image is a float image over an inclusive pixel box of the movie
type Image struct {
	Bounds models.Bounds

	// Pixels holds Bounds.Width() x Bounds.Height() values, row-major
	Pixels []float64

	// Outside is true for the pixels that do not belong to the cell mask
	Outside []bool
}

// At returns the value at absolute movie coordinates (x, y)
func (im *Image) At(x, y int) float64 {
	return im.Pixels[(y-im.Bounds.MinY)*im.Bounds.Width()+(x-im.Bounds.MinX)]
}

// SourceProfile is the averaged footprint of a cell over its selected transients
type SourceProfile struct {
	Image

	Cell int

	// Windows are the transients averaged into the profile
	Windows []models.Window
}

type sourceKey struct {
	cell   int
	bounds models.Bounds
}

// Engine computes and caches profiles and correlations
type Engine struct {
	params   Params
	traces   Traces
	movie    Movie
	coords   Coordinates
	events   Events
	detector *detection.Detector
	logger   *slog.Logger

	windows map[int][]models.Window
	sources map[sourceKey]*SourceProfile
	cache   *CorrelationCache
}

// NewEngine creates an engine over the given collaborators
func NewEngine(params Params, traces Traces, movie Movie, coords Coordinates, events Events, logger *slog.Logger) *Engine {
	frames, _, _ := movie.Dims()
	return &Engine{
		params:   params,
		traces:   traces,
		movie:    movie,
		coords:   coords,
		events:   events,
		detector: detection.NewDetector(params.Detection),
		logger:   logging.OrDiscard(logger),
		windows:  make(map[int][]models.Window),
		sources:  make(map[sourceKey]*SourceProfile),
		cache:    NewCorrelationCache(frames),
	}
}

// Params returns the engine parameters
func (e *Engine) Params() Params { return e.params }

// Cache returns the correlation cache
func (e *Engine) Cache() *CorrelationCache { return e.cache }

// SetEvents replaces the raster the true peaks and onsets are read from
func (e *Engine) SetEvents(events Events) { e.events = events }

func (e *Engine) checkCell(cell int) error {
	if cell < 0 || cell >= e.coords.Cells() {
		return fmt.Errorf("%w: %d (cells: %d)", raster.ErrCellOutOfRange, cell, e.coords.Cells())
	}
	return nil
}

// SourceBounds returns the box a source profile of the cell covers
func (e *Engine) SourceBounds(cell int) models.Bounds {
	_, height, width := e.movie.Dims()
	if e.params.FullFrame {
		return models.FullFrame(width, height)
	}
	return e.coords.Bounds(cell).Expand(e.params.PixelsAround, width, height)
}

// CorrelationBounds returns the box correlations of the cell are computed on
func (e *Engine) CorrelationBounds(cell int) models.Bounds {
	_, height, width := e.movie.Dims()
	return e.coords.Bounds(cell).Expand(e.params.CorrelationBuffer, width, height)
}

// SourceProfile returns the cached source profile of the cell, computing it on
// first use. ErrNoPeaks is returned when no transient can be averaged.
func (e *Engine) SourceProfile(cell int) (*SourceProfile, error) {
	if err := e.checkCell(cell); err != nil {
		return nil, err
	}
	return e.sourceOn(cell, e.SourceBounds(cell))
}

// InvalidateSource drops the cached source profiles and correlations of the cell
func (e *Engine) InvalidateSource(cell int) {
	delete(e.windows, cell)
	for key := range e.sources {
		if key.cell == cell {
			delete(e.sources, key)
		}
	}
	e.cache.InvalidateCell(cell)
}

// InvalidateAll drops every cached profile and correlation
func (e *Engine) InvalidateAll() {
	e.windows = make(map[int][]models.Window)
	e.sources = make(map[sourceKey]*SourceProfile)
	e.cache.Clear()
}

func (e *Engine) sourceOn(cell int, bounds models.Bounds) (*SourceProfile, error) {
	key := sourceKey{cell: cell, bounds: bounds}
	if sp, ok := e.sources[key]; ok {
		return sp, nil
	}

	start := time.Now()
	windows, ok := e.windows[cell]
	if !ok {
		windows = e.selectWindows(cell)
		e.windows[cell] = windows
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("cell %d: %w", cell, ErrNoPeaks)
	}

	raw := e.traces.Raw(cell)
	offset := floats.Min(raw)
	sum := make([]float64, bounds.Width()*bounds.Height())
	var used []models.Window
	for _, w := range windows {
		avg, ok := e.weightedAverage(raw, offset, w.Onset, w.Peak, bounds)
		if !ok {
			continue
		}
		floats.Add(sum, avg)
		used = append(used, w)
	}
	if len(used) == 0 {
		return nil, fmt.Errorf("cell %d: %w", cell, ErrNoPeaks)
	}
	floats.Scale(1/float64(len(used)), sum)

	sp := &SourceProfile{
		Image:   Image{Bounds: bounds, Pixels: sum, Outside: e.outsideMask(cell, bounds)},
		Cell:    cell,
		Windows: used,
	}
	e.sources[key] = sp

	elapsed := time.Since(start)
	metrics.ObserveSourceProfile(elapsed.Seconds())
	e.logger.Debug("source profile computed", "cell", cell, "transients", len(used), "bounds", bounds, "elapsed", elapsed)
	return sp, nil
}

// TransientProfile returns the weighted average footprint of the cell over the
// frames of window, both ends included, restricted to bounds. The window is
// clamped to the movie; a window whose weights sum to zero is averaged uniformly.
func (e *Engine) TransientProfile(cell int, window models.Window, bounds models.Bounds) (*Image, error) {
	if err := e.checkCell(cell); err != nil {
		return nil, err
	}
	onset, peak := e.clampWindow(cell, window)
	raw := e.traces.Raw(cell)

	pixels, ok := e.weightedAverage(raw, floats.Min(raw), onset, peak, bounds)
	if !ok {
		pixels = e.uniformAverage(onset, peak, bounds)
	}
	return &Image{Bounds: bounds, Pixels: pixels, Outside: e.outsideMask(cell, bounds)}, nil
}

func (e *Engine) clampWindow(cell int, w models.Window) (int, int) {
	frames, _, _ := e.movie.Dims()
	if n := len(e.traces.Raw(cell)); n < frames {
		frames = n
	}
	onset, peak := w.Onset, w.Peak
	if onset > peak {
		onset, peak = peak, onset
	}
	onset = max(0, min(onset, frames-1))
	peak = max(0, min(peak, frames-1))
	return onset, peak
}

// weightedAverage averages frames [from, to] over bounds, each frame weighted by
// raw[t]-offset. ok is false when the weights sum to zero.
func (e *Engine) weightedAverage(raw []float64, offset float64, from, to int, bounds models.Bounds) ([]float64, bool) {
	out := make([]float64, bounds.Width()*bounds.Height())
	var total float64
	for t := from; t <= to; t++ {
		w := raw[t] - offset
		if w == 0 {
			continue
		}
		e.accumulate(out, t, w, bounds)
		total += w
	}
	if total == 0 {
		return out, false
	}
	floats.Scale(1/total, out)
	return out, true
}

func (e *Engine) uniformAverage(from, to int, bounds models.Bounds) []float64 {
	out := make([]float64, bounds.Width()*bounds.Height())
	for t := from; t <= to; t++ {
		e.accumulate(out, t, 1, bounds)
	}
	floats.Scale(1/float64(to-from+1), out)
	return out
}

func (e *Engine) accumulate(dst []float64, t int, weight float64, bounds models.Bounds) {
	_, _, width := e.movie.Dims()
	frame := e.movie.Frame(t)
	rowLen := bounds.Width()
	for y := bounds.MinY; y <= bounds.MaxY; y++ {
		src := frame[y*width+bounds.MinX : y*width+bounds.MaxX+1]
		row := dst[(y-bounds.MinY)*rowLen : (y-bounds.MinY+1)*rowLen]
		floats.AddScaled(row, weight, src)
	}
}

func (e *Engine) outsideMask(cell int, bounds models.Bounds) []bool {
	mask := make([]bool, 0, bounds.Width()*bounds.Height())
	for y := bounds.MinY; y <= bounds.MaxY; y++ {
		for x := bounds.MinX; x <= bounds.MaxX; x++ {
			mask = append(mask, !e.coords.Inside(cell, x, y))
		}
	}
	return mask
}

// selectWindows picks the transients averaged into the source profile of the cell
func (e *Engine) selectWindows(cell int) []models.Window {
	raw := e.traces.Raw(cell)
	if len(raw) == 0 {
		return nil
	}

	var peaks, onsets []int
	if e.events != nil {
		peaks = e.events.All(raster.Peaks, cell)
	}
	if len(peaks) > e.params.TruePeakMinimum {
		onsets = e.events.All(raster.Onsets, cell)
	} else {
		c := e.detector.Detect(raw)
		peaks, onsets = c.Peaks, c.Onsets
	}

	selected := SelectPeaks(raw, peaks, e.params.Percentile, e.params.MinPeaks, e.params.MaxPeaks)
	windows := make([]models.Window, 0, len(selected))
	for _, p := range selected {
		// nearest onset at or before the peak
		i := sort.SearchInts(onsets, p+1)
		if i == 0 {
			continue
		}
		windows = append(windows, models.Window{Cell: cell, Onset: onsets[i-1], Peak: p})
	}
	return windows
}

// SelectPeaks keeps the peaks whose amplitude exceeds the given percentile of
// the peak amplitudes. When more than maxPeaks survive, or fewer than minPeaks
// survive while the pool holds more than minPeaks, the percentile is moved so
// the kept count lands in [minPeaks, maxPeaks]. If no peak clears the threshold
// the peaks equal to it are kept. peaks must be sorted; so is the result.
func SelectPeaks(trace []float64, peaks []int, percentile float64, minPeaks, maxPeaks int) []int {
	if len(peaks) == 0 {
		return nil
	}
	amps := make([]float64, len(peaks))
	for i, p := range peaks {
		amps[i] = trace[p]
	}
	sorted := append([]float64(nil), amps...)
	sort.Float64s(sorted)

	above := func(q float64) []int {
		threshold := stat.Quantile(q, stat.LinInterp, sorted, nil)
		var kept []int
		for i, p := range peaks {
			if amps[i] > threshold {
				kept = append(kept, p)
			}
		}
		return kept
	}

	n := len(peaks)
	kept := above(percentile / 100)
	switch {
	case len(kept) > maxPeaks:
		kept = above(1 - float64(maxPeaks)/float64(n))
	case len(kept) < minPeaks && n > minPeaks:
		kept = above(1 - float64(minPeaks)/float64(n))
	}

	if len(kept) == 0 {
		threshold := stat.Quantile(percentile/100, stat.LinInterp, sorted, nil)
		for i, p := range peaks {
			if amps[i] >= threshold {
				kept = append(kept, p)
			}
		}
	}
	return kept
}
