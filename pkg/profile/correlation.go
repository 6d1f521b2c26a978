package profile

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"cinacgt/internal/models"
	"cinacgt/pkg/metrics"
)

// Correlation is the result of comparing a transient with the source profile.
// Defined is false when no correlation could be computed: the cell has no
// usable peak, or the compared pixels carry no variance.
type Correlation struct {
	Value   float64
	Defined bool
}

// Undefined is the Correlation of a cell that cannot be compared
var Undefined = Correlation{}

func (c Correlation) String() string {
	if !c.Defined {
		return "undefined"
	}
	return fmt.Sprintf("%.3f", c.Value)
}

// cacheEntry is an optional correlation: computed is false until a value is
// stored. window is the transient the value was computed on.
type cacheEntry struct {
	corr     Correlation
	window   models.Window
	computed bool
}

// CorrelationCache stores correlations per (cell, frame). A stored transient
// fills every frame from its onset to its peak, and Get only answers for the
// exact transient that was stored.
type CorrelationCache struct {
	frames  int
	entries map[int][]cacheEntry
}

// NewCorrelationCache creates an empty cache for movies of the given length
func NewCorrelationCache(frames int) *CorrelationCache {
	return &CorrelationCache{frames: frames, entries: make(map[int][]cacheEntry)}
}

// Lookup returns the correlation stored for (cell, frame); ok is false when none is
func (c *CorrelationCache) Lookup(cell, frame int) (Correlation, bool) {
	row, found := c.entries[cell]
	if !found || frame < 0 || frame >= len(row) || !row[frame].computed {
		return Correlation{}, false
	}
	return row[frame].corr, true
}

// Get returns the correlation stored for the window. A frame filled by a
// different transient does not count.
func (c *CorrelationCache) Get(w models.Window) (Correlation, bool) {
	w = normalize(w)
	row, found := c.entries[w.Cell]
	if !found || w.Onset < 0 || w.Onset >= len(row) {
		return Correlation{}, false
	}
	e := row[w.Onset]
	if !e.computed || e.window != w {
		return Correlation{}, false
	}
	return e.corr, true
}

// Store records corr for every frame of the window
func (c *CorrelationCache) Store(w models.Window, corr Correlation) {
	row, found := c.entries[w.Cell]
	if !found {
		row = make([]cacheEntry, c.frames)
		c.entries[w.Cell] = row
	}
	w = normalize(w)
	for f := max(w.Onset, 0); f <= w.Peak && f < len(row); f++ {
		row[f] = cacheEntry{corr: corr, window: w, computed: true}
	}
}

func normalize(w models.Window) models.Window {
	if w.Onset > w.Peak {
		w.Onset, w.Peak = w.Peak, w.Onset
	}
	return w
}

// InvalidateCell forgets every correlation of the cell
func (c *CorrelationCache) InvalidateCell(cell int) {
	delete(c.entries, cell)
}

// Clear forgets every correlation
func (c *CorrelationCache) Clear() {
	c.entries = make(map[int][]cacheEntry)
}

// Len returns the number of (cell, frame) entries holding a value
func (c *CorrelationCache) Len() int {
	n := 0
	for _, row := range c.entries {
		for _, e := range row {
			if e.computed {
				n++
			}
		}
	}
	return n
}

// Correlation returns the Pearson correlation between the source profile of the
// cell and its transient profile over window, both computed on the cell bounds
// grown by the correlation buffer, mean-centered and compared on the pixels
// outside the cell mask. The result is cached for the window; force
// recomputes it while still reusing the cached source profile.
func (e *Engine) Correlation(cell int, window models.Window, force bool) (Correlation, error) {
	if err := e.checkCell(cell); err != nil {
		return Undefined, err
	}
	window.Cell = cell
	if !force {
		if c, ok := e.cache.Get(window); ok {
			metrics.RecordCorrelationLookup("hit")
			return c, nil
		}
	}

	start := time.Now()
	corr, err := e.correlate(cell, window)
	if err != nil {
		return Undefined, err
	}
	e.cache.Store(window, corr)

	if corr.Defined {
		metrics.RecordCorrelationLookup("miss")
	} else {
		metrics.RecordCorrelationLookup("undefined")
	}
	metrics.ObserveCorrelation(time.Since(start).Seconds())
	e.logger.Debug("correlation computed", "cell", cell, "onset", window.Onset, "peak", window.Peak, "corr", corr.String())
	return corr, nil
}

func (e *Engine) correlate(cell int, window models.Window) (Correlation, error) {
	bounds := e.CorrelationBounds(cell)
	source, err := e.sourceOn(cell, bounds)
	if errors.Is(err, ErrNoPeaks) {
		return Undefined, nil
	}
	if err != nil {
		return Undefined, err
	}
	transient, err := e.TransientProfile(cell, window, bounds)
	if err != nil {
		return Undefined, err
	}
	return pearsonOutside(source.Pixels, transient.Pixels, source.Outside), nil
}

// pearsonOutside mean-centers both images over all their pixels and correlates
// the pixels flagged in outside
func pearsonOutside(a, b []float64, outside []bool) Correlation {
	meanA := stat.Mean(a, nil)
	meanB := stat.Mean(b, nil)

	var xs, ys []float64
	for i, out := range outside {
		if !out {
			continue
		}
		xs = append(xs, a[i]-meanA)
		ys = append(ys, b[i]-meanB)
	}
	if len(xs) < 2 || floats.Max(xs) == floats.Min(xs) || floats.Max(ys) == floats.Min(ys) {
		return Undefined
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return Undefined
	}
	return Correlation{Value: r, Defined: true}
}
