package movie

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"cinacgt/internal/models"
)

// ramp builds a movie where pixel (x, y) of frame t holds t*100 + y*10 + x
func ramp(frames, height, width int) *Movie {
	data := make([]float64, frames*height*width)
	for t := 0; t < frames; t++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[t*height*width+y*width+x] = float64(t*100 + y*10 + x)
			}
		}
	}
	m, _ := New(data, frames, height, width)
	return m
}

func TestNewRejectsBadShapes(t *testing.T) {
	if _, err := New(make([]float64, 5), 1, 2, 2); err == nil {
		t.Error("Expected an error for a data length mismatch")
	}
	if _, err := New(nil, 0, 2, 2); err == nil {
		t.Error("Expected an error for zero frames")
	}
}

func TestFrameAndAt(t *testing.T) {
	m := ramp(3, 4, 5)
	f, h, w := m.Dims()
	if f != 3 || h != 4 || w != 5 {
		t.Fatalf("Expected dims 3x4x5, got %dx%dx%d", f, h, w)
	}

	frame := m.Frame(2)
	if len(frame) != 20 {
		t.Fatalf("Expected 20 pixels, got %d", len(frame))
	}
	if frame[1*5+3] != 213 {
		t.Errorf("Expected 213, got %f", frame[8])
	}
	if m.At(1, 4, 3) != 134 {
		t.Errorf("Expected 134, got %f", m.At(1, 4, 3))
	}
	if m.Frame(3) != nil || m.Frame(-1) != nil {
		t.Error("Out-of-range frames should be nil")
	}
}

func TestRegion(t *testing.T) {
	m := ramp(2, 4, 5)
	region, err := m.Region(1, models.Bounds{MinX: 1, MinY: 2, MaxX: 3, MaxY: 3})
	if err != nil {
		t.Fatalf("Region failed: %v", err)
	}
	want := []float64{121, 122, 123, 131, 132, 133}
	if len(region) != len(want) {
		t.Fatalf("Expected %d values, got %d", len(want), len(region))
	}
	for i := range want {
		if region[i] != want[i] {
			t.Errorf("Index %d: expected %f, got %f", i, want[i], region[i])
		}
	}

	if _, err := m.Region(0, models.Bounds{MinX: 0, MinY: 0, MaxX: 5, MaxY: 0}); err == nil {
		t.Error("Expected an error for a region past the frame")
	}
	if _, err := m.Region(9, models.Bounds{}); err == nil {
		t.Error("Expected an error for a missing frame")
	}
}

func TestGrayImageStretchesRange(t *testing.T) {
	img := GrayImage([]float64{2, 4, 6, 8}, 2, 2)
	gray := img.(*image.Gray16)
	if gray.Gray16At(0, 0).Y != 0 {
		t.Errorf("Expected minimum to map to 0, got %d", gray.Gray16At(0, 0).Y)
	}
	if gray.Gray16At(1, 1).Y != 65535 {
		t.Errorf("Expected maximum to map to 65535, got %d", gray.Gray16At(1, 1).Y)
	}

	flat := GrayImage([]float64{3, 3, 3, 3}, 2, 2).(*image.Gray16)
	if flat.Gray16At(1, 0).Y != 0 {
		t.Errorf("Expected constant image to render black, got %d", flat.Gray16At(1, 0).Y)
	}
}

func TestLoadFramesOrdersByNumber(t *testing.T) {
	dir := t.TempDir()
	// frame_10 must come after frame_2 even though it sorts first as text
	for _, n := range []int{10, 2, 1} {
		img := image.NewGray16(image.Rect(0, 0, 3, 2))
		v := uint16(n * 1000)
		for y := 0; y < 2; y++ {
			for x := 0; x < 3; x++ {
				img.SetGray16(x, y, color.Gray16{Y: v})
			}
		}
		writePNG(t, filepath.Join(dir, fmt.Sprintf("frame_%d.png", n)), img)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadFrames(dir, nil)
	if err != nil {
		t.Fatalf("LoadFrames failed: %v", err)
	}
	frames, height, width := m.Dims()
	if frames != 3 || height != 2 || width != 3 {
		t.Fatalf("Expected 3x2x3, got %dx%dx%d", frames, height, width)
	}
	for i, n := range []int{1, 2, 10} {
		want := float64(n*1000) / 65535.0
		if got := m.At(i, 0, 0); math.Abs(got-want) > 1e-9 {
			t.Errorf("Frame %d: expected %f, got %f", i, want, got)
		}
	}
}

func TestLoadFramesErrors(t *testing.T) {
	if _, err := LoadFrames(t.TempDir(), nil); err == nil {
		t.Error("Expected an error for a directory without frames")
	}

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "1.png"), image.NewGray(image.Rect(0, 0, 2, 2)))
	writePNG(t, filepath.Join(dir, "2.png"), image.NewGray(image.Rect(0, 0, 3, 2)))
	if _, err := LoadFrames(dir, nil); err == nil {
		t.Error("Expected an error for frames of different sizes")
	}
}

func TestSaveFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping image export in short mode")
	}
	m := ramp(2, 3, 3)
	dir := filepath.Join(t.TempDir(), "out")
	if err := m.SaveFrames(dir); err != nil {
		t.Fatalf("SaveFrames failed: %v", err)
	}

	back, err := LoadFrames(dir, nil)
	if err != nil {
		t.Fatalf("Reloading saved frames failed: %v", err)
	}
	if f, _, _ := back.Dims(); f != 2 {
		t.Errorf("Expected 2 frames back, got %d", f)
	}
}

func TestExtractNumber(t *testing.T) {
	tests := map[string]int{
		"frame_0042.png": 42,
		"7.jpg":          7,
		"cover.png":      0,
	}
	for name, want := range tests {
		if got := extractNumber(name); got != want {
			t.Errorf("%s: expected %d, got %d", name, want, got)
		}
	}
}

type squareMasks [][]image.Point

func (s squareMasks) Cells() int                    { return len(s) }
func (s squareMasks) Pixels(cell int) []image.Point { return s[cell] }

func TestRawTraces(t *testing.T) {
	m := ramp(3, 4, 5)
	masks := squareMasks{
		{{X: 0, Y: 0}, {X: 1, Y: 0}},
		{{X: 4, Y: 3}, {X: 9, Y: 9}},
		{},
	}
	traces := RawTraces(m, masks)
	if len(traces) != 3 {
		t.Fatalf("Expected 3 traces, got %d", len(traces))
	}
	for f := 0; f < 3; f++ {
		if want := float64(f*100) + 0.5; traces[0][f] != want {
			t.Errorf("Cell 0 frame %d: expected %f, got %f", f, want, traces[0][f])
		}
		if want := float64(f*100 + 34); traces[1][f] != want {
			t.Errorf("Cell 1 frame %d: expected %f, got %f", f, want, traces[1][f])
		}
		if traces[2][f] != 0 {
			t.Errorf("Cell without pixels should have a zero trace, got %f", traces[2][f])
		}
	}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}
