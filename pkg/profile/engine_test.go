package profile

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"cinacgt/internal/models"
	"cinacgt/pkg/coords"
	"cinacgt/pkg/movie"
	"cinacgt/pkg/raster"
)

const (
	sceneFrames = 40
	sceneSize   = 10
)

type fakeTraces struct {
	raw      [][]float64
	neuropil map[int][]float64
}

func (f *fakeTraces) Raw(cell int) []float64    { return f.raw[cell] }
func (f *fakeTraces) Smooth(cell int) []float64 { return f.raw[cell] }
func (f *fakeTraces) Neuropil(cell int) ([]float64, bool) {
	np, ok := f.neuropil[cell]
	return np, ok
}

// transientTrace repeats a 10-frame block: a falling baseline reaching its
// minimum at frame 2 (the onset), a peak of the given amplitude at frame 4 and a
// monotone decay. Amplitudes must exceed 3.2 to keep the decay monotone.
func transientTrace(amps ...float64) []float64 {
	var out []float64
	for _, a := range amps {
		out = append(out, 0.3, 0.2, 0.1, 1, a, a/2, a/4, 0.8, 0.6, 0.4)
	}
	return out
}

func footprint(x, y int) float64 {
	dx, dy := float64(x-4), float64(y-4)
	return math.Exp(-(dx*dx + dy*dy) / 4)
}

func square(x0, y0, x1, y1 float64) []r2.Vec {
	return []r2.Vec{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

type scene struct {
	engine *Engine
	traces *fakeTraces
	store  *raster.Store
	coords *coords.Map
}

// newScene builds a movie where every frame is footprint scaled by the trace
// of cell 0. Cell 1 overlaps cell 0 on its right edge, cell 2 has a flat trace.
func newScene(t *testing.T) *scene {
	t.Helper()
	raw0 := transientTrace(4, 5, 6, 7)
	flat := make([]float64, sceneFrames)
	for i := range flat {
		flat[i] = 1
	}
	traces := &fakeTraces{
		raw:      [][]float64{raw0, append([]float64(nil), raw0...), flat},
		neuropil: map[int][]float64{},
	}

	data := make([]float64, 0, sceneFrames*sceneSize*sceneSize)
	for f := 0; f < sceneFrames; f++ {
		for y := 0; y < sceneSize; y++ {
			for x := 0; x < sceneSize; x++ {
				data = append(data, raw0[f]*footprint(x, y))
			}
		}
	}
	mv, err := movie.New(data, sceneFrames, sceneSize, sceneSize)
	if err != nil {
		t.Fatalf("movie.New failed: %v", err)
	}
	cm, err := coords.New([][]r2.Vec{
		square(3, 3, 5, 5),
		square(5, 3, 7, 5),
		square(0, 8, 1, 9),
	}, sceneSize, sceneSize)
	if err != nil {
		t.Fatalf("coords.New failed: %v", err)
	}
	store := raster.NewStore(3, sceneFrames)

	return &scene{
		engine: NewEngine(DefaultParams(), traces, mv, cm, store, nil),
		traces: traces,
		store:  store,
		coords: cm,
	}
}

func TestSourceProfileFromDetectedPeaks(t *testing.T) {
	s := newScene(t)

	sp, err := s.engine.SourceProfile(0)
	if err != nil {
		t.Fatalf("SourceProfile failed: %v", err)
	}
	// four detected peaks, only the highest clears the 95th percentile
	want := []models.Window{{Cell: 0, Onset: 32, Peak: 34}}
	if !reflect.DeepEqual(sp.Windows, want) {
		t.Errorf("Expected windows %v, got %v", want, sp.Windows)
	}
	if got := (models.Bounds{MinX: 2, MinY: 2, MaxX: 6, MaxY: 6}); sp.Bounds != got {
		t.Errorf("Expected bounds %+v, got %+v", got, sp.Bounds)
	}

	outside := 0
	for _, o := range sp.Outside {
		if o {
			outside++
		}
	}
	if outside != 16 {
		t.Errorf("Expected 16 outside pixels, got %d", outside)
	}

	// the profile is proportional to the footprint
	ratio := sp.At(4, 4) / footprint(4, 4)
	if math.Abs(sp.At(2, 3)/footprint(2, 3)-ratio) > 1e-9 {
		t.Errorf("Profile is not proportional to the footprint")
	}

	again, _ := s.engine.SourceProfile(0)
	if again != sp {
		t.Error("Second call should return the cached profile")
	}
}

func TestSourceProfilePrefersTruePeaks(t *testing.T) {
	s := newScene(t)
	s.store.SetFrames(raster.Peaks, 0, []int{4, 6, 14, 16, 24, 34}, 1)
	s.store.SetFrames(raster.Onsets, 0, []int{2, 12, 22, 32}, 1)

	sp, err := s.engine.SourceProfile(0)
	if err != nil {
		t.Fatalf("SourceProfile failed: %v", err)
	}
	want := []models.Window{
		{Cell: 0, Onset: 2, Peak: 4},
		{Cell: 0, Onset: 12, Peak: 14},
		{Cell: 0, Onset: 12, Peak: 16},
		{Cell: 0, Onset: 22, Peak: 24},
		{Cell: 0, Onset: 32, Peak: 34},
	}
	if !reflect.DeepEqual(sp.Windows, want) {
		t.Errorf("Expected windows %v, got %v", want, sp.Windows)
	}
}

func TestSourceProfileWithoutPeaks(t *testing.T) {
	s := newScene(t)
	if _, err := s.engine.SourceProfile(2); !errors.Is(err, ErrNoPeaks) {
		t.Errorf("Expected ErrNoPeaks, got %v", err)
	}
	if _, err := s.engine.SourceProfile(7); !errors.Is(err, raster.ErrCellOutOfRange) {
		t.Errorf("Expected ErrCellOutOfRange, got %v", err)
	}
}

func TestTransientProfileFallsBackToUniformAverage(t *testing.T) {
	s := newScene(t)
	bounds := models.Bounds{MinX: 4, MinY: 4, MaxX: 4, MaxY: 4}

	img, err := s.engine.TransientProfile(2, models.Window{Onset: 2, Peak: 0}, bounds)
	if err != nil {
		t.Fatalf("TransientProfile failed: %v", err)
	}
	want := (0.3 + 0.2 + 0.1) / 3 * footprint(4, 4)
	if math.Abs(img.At(4, 4)-want) > 1e-12 {
		t.Errorf("Expected %f, got %f", want, img.At(4, 4))
	}
}

func TestCorrelationIsCached(t *testing.T) {
	s := newScene(t)
	w := models.Window{Onset: 12, Peak: 14}

	first, err := s.engine.Correlation(0, w, false)
	if err != nil {
		t.Fatalf("Correlation failed: %v", err)
	}
	if !first.Defined || math.Abs(first.Value-1) > 1e-9 {
		t.Fatalf("Expected a defined correlation of 1, got %v", first)
	}

	for f := 12; f <= 14; f++ {
		if _, ok := s.engine.Cache().Lookup(0, f); !ok {
			t.Errorf("Frame %d should be cached", f)
		}
	}
	if _, ok := s.engine.Cache().Lookup(0, 15); ok {
		t.Error("Frame 15 should not be cached")
	}

	second, _ := s.engine.Correlation(0, w, false)
	if second != first {
		t.Errorf("Cached call returned %v, expected %v", second, first)
	}

	// a stale cache entry survives until forced
	s.engine.Cache().Store(models.Window{Cell: 0, Onset: 12, Peak: 14}, Correlation{Value: 0.5, Defined: true})
	if c, _ := s.engine.Correlation(0, w, false); c.Value != 0.5 {
		t.Errorf("Expected the stored value 0.5, got %v", c)
	}
	if c, _ := s.engine.Correlation(0, w, true); math.Abs(c.Value-1) > 1e-9 {
		t.Errorf("Forced recompute should give 1, got %v", c)
	}
}

func TestCorrelationCacheMatchesWindow(t *testing.T) {
	s := newScene(t)
	cache := s.engine.Cache()

	wide := models.Window{Cell: 0, Onset: 12, Peak: 24}
	cache.Store(wide, Correlation{Value: 0.5, Defined: true})
	if c, ok := cache.Get(wide); !ok || c.Value != 0.5 {
		t.Errorf("Expected the stored 0.5 for the same window, got %v %v", c, ok)
	}
	if _, ok := cache.Lookup(0, 22); !ok {
		t.Error("Frame 22 should be filled by the wide window")
	}

	// a shorter transient starting inside the wide one is computed, not read back
	narrow := models.Window{Onset: 22, Peak: 24}
	if _, ok := cache.Get(models.Window{Cell: 0, Onset: 22, Peak: 24}); ok {
		t.Error("A different window must not hit the cache")
	}
	c, err := s.engine.Correlation(0, narrow, false)
	if err != nil {
		t.Fatalf("Correlation failed: %v", err)
	}
	if !c.Defined || math.Abs(c.Value-1) > 1e-9 {
		t.Errorf("Expected the computed correlation 1, got %v", c)
	}
	if got, ok := cache.Get(models.Window{Cell: 0, Onset: 24, Peak: 22}); !ok || got != c {
		t.Errorf("Reversed endpoints should find the narrow window, got %v %v", got, ok)
	}
}

func TestCorrelationUndefinedWithoutPeaks(t *testing.T) {
	s := newScene(t)
	c, err := s.engine.Correlation(2, models.Window{Onset: 3, Peak: 5}, false)
	if err != nil {
		t.Fatalf("Correlation failed: %v", err)
	}
	if c.Defined || c != Undefined {
		t.Errorf("Expected Undefined, got %v", c)
	}
	if c.String() != "undefined" {
		t.Errorf("Expected \"undefined\", got %q", c.String())
	}
}

func TestInvalidateSource(t *testing.T) {
	s := newScene(t)
	w := models.Window{Onset: 2, Peak: 4}
	if _, err := s.engine.Correlation(0, w, false); err != nil {
		t.Fatal(err)
	}
	before, _ := s.engine.SourceProfile(0)

	s.engine.InvalidateSource(0)
	if _, ok := s.engine.Cache().Lookup(0, 2); ok {
		t.Error("Correlations of the cell should be dropped")
	}
	after, _ := s.engine.SourceProfile(0)
	if after == before {
		t.Error("Source profile should be recomputed after invalidation")
	}
}

func TestSelectPeaks(t *testing.T) {
	ramp := func(n int) ([]float64, []int) {
		trace := make([]float64, n)
		peaks := make([]int, n)
		for i := range trace {
			trace[i] = float64(i + 1)
			peaks[i] = i
		}
		return trace, peaks
	}

	tests := []struct {
		name       string
		n          int
		percentile float64
		want       []int
	}{
		{"raised to the minimum", 20, 95, []int{15, 16, 17, 18, 19}},
		{"lowered to the maximum", 30, 10, []int{20, 21, 22, 23, 24, 25, 26, 27, 28, 29}},
		{"small pool keeps the top", 4, 95, []int{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace, peaks := ramp(tt.n)
			got := SelectPeaks(trace, peaks, tt.percentile, 5, 10)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	if got := SelectPeaks([]float64{1, 2}, nil, 95, 5, 10); got != nil {
		t.Errorf("Expected nil for no peaks, got %v", got)
	}
	if got := SelectPeaks([]float64{3, 3, 3}, []int{0, 1, 2}, 95, 5, 10); len(got) != 3 {
		t.Errorf("Expected equal peaks to be kept, got %v", got)
	}
}
