package plotting

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"cinacgt/internal/models"
	"cinacgt/pkg/profile"
)

func TestTracePlot(t *testing.T) {
	values := []float64{0, 1, 2, 1, 0, 1, 2, 1, 0}
	p, err := Trace(values, Events{Onsets: []int{4}, Peaks: []int{2, 6, 40}}, TraceOptions{Title: "cell 0", ZScore: true})
	if err != nil {
		t.Fatalf("Trace failed: %v", err)
	}
	if p.Y.Label.Text != "z-score" {
		t.Errorf("Expected z-score label, got %q", p.Y.Label.Text)
	}

	img := Render(p, 400, 200)
	if b := img.Bounds(); b.Dx() != 400 || b.Dy() != 200 {
		t.Errorf("Expected a 400x200 image, got %dx%d", b.Dx(), b.Dy())
	}

	if _, err := Trace(nil, Events{}, TraceOptions{}); err == nil {
		t.Error("Expected an error for an empty trace")
	}
}

func TestFramePointsSkipsOutOfRange(t *testing.T) {
	pts := framePoints([]float64{5, 6, 7}, []int{-1, 1, 3})
	if len(pts) != 1 || pts[0].X != 1 || pts[0].Y != 6 {
		t.Errorf("Expected a single point at (1, 6), got %v", pts)
	}
}

func TestProfilePlot(t *testing.T) {
	img := &profile.Image{
		Bounds: models.Bounds{MinX: 2, MinY: 3, MaxX: 4, MaxY: 4},
		Pixels: []float64{0, 1, 2, 3, 4, 5},
	}
	g := imageGrid{img: img}
	if c, r := g.Dims(); c != 3 || r != 2 {
		t.Errorf("Expected 3x2 grid, got %dx%d", c, r)
	}
	if g.Z(2, 1) != 5 || g.X(0) != 2 || g.Y(1) != 4 {
		t.Errorf("Grid does not map to movie coordinates")
	}

	p, err := Profile(img, "source profile")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if _, err := Profile(&profile.Image{}, ""); err == nil {
		t.Error("Expected an error for an empty profile")
	}

	flat := &profile.Image{Bounds: models.Bounds{MaxX: 1, MaxY: 1}, Pixels: []float64{2, 2, 2, 2}}
	if _, err := Profile(flat, "flat"); err != nil {
		t.Errorf("A flat profile should still plot, got %v", err)
	}

	if testing.Short() {
		t.Skip("Skipping PNG output in short mode")
	}
	filename := filepath.Join(t.TempDir(), "profile.png")
	if err := SavePNG(p, filename, 300, 300); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}
	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Output is not a PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 300 {
		t.Errorf("Expected width 300, got %d", decoded.Bounds().Dx())
	}
}
