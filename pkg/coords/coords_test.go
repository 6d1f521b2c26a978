package coords

import (
	"errors"
	"image"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"cinacgt/internal/models"
)

func square(x0, y0, x1, y1 float64) []r2.Vec {
	return []r2.Vec{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func testMap(t *testing.T) *Map {
	t.Helper()
	m, err := New([][]r2.Vec{
		square(2, 2, 6, 6),
		square(5, 5, 9, 9),
		square(15, 15, 17, 17),
	}, 20, 20)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestBoundsAndInside(t *testing.T) {
	m := testMap(t)

	if got, want := m.Bounds(0), (models.Bounds{MinX: 2, MinY: 2, MaxX: 6, MaxY: 6}); got != want {
		t.Errorf("Expected bounds %+v, got %+v", want, got)
	}
	if len(m.Pixels(0)) != 25 {
		t.Errorf("Expected 25 pixels, got %d", len(m.Pixels(0)))
	}

	tests := []struct {
		x, y int
		want bool
	}{
		{4, 4, true},
		{6, 6, true},
		{2, 4, true},
		{7, 4, false},
		{1, 1, false},
		{-3, 40, false},
	}
	for _, tt := range tests {
		if got := m.Inside(0, tt.x, tt.y); got != tt.want {
			t.Errorf("Inside(0, %d, %d): expected %v, got %v", tt.x, tt.y, tt.want, got)
		}
	}
}

func TestOverlaps(t *testing.T) {
	m := testMap(t)

	if got := m.Overlaps(0); len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected cell 0 to overlap [1], got %v", got)
	}
	if got := m.Overlaps(1); len(got) != 1 || got[0] != 0 {
		t.Errorf("Expected cell 1 to overlap [0], got %v", got)
	}
	if got := m.Overlaps(2); len(got) != 0 {
		t.Errorf("Expected cell 2 to overlap nothing, got %v", got)
	}
}

func TestNearestCellAndCellAt(t *testing.T) {
	m := testMap(t)

	if c := m.Center(0); c.X != 4 || c.Y != 4 {
		t.Errorf("Expected center (4, 4), got %v", c)
	}
	if cell, ok := m.NearestCell(16.2, 15.5); !ok || cell != 2 {
		t.Errorf("Expected nearest cell 2, got %d ok=%v", cell, ok)
	}
	if cell, ok := m.CellAt(8, 8); !ok || cell != 1 {
		t.Errorf("Expected cell 1 at (8, 8), got %d ok=%v", cell, ok)
	}
	if _, ok := m.CellAt(0, 19); ok {
		t.Error("Expected no cell at (0, 19)")
	}
}

func TestPolygonClippedToFrame(t *testing.T) {
	m, err := New([][]r2.Vec{square(-2, -2, 1, 1)}, 10, 10)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got, want := m.Bounds(0), (models.Bounds{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}); got != want {
		t.Errorf("Expected bounds %+v, got %+v", want, got)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New([][]r2.Vec{{}}, 10, 10); !errors.Is(err, ErrEmptyPolygon) {
		t.Errorf("Expected ErrEmptyPolygon, got %v", err)
	}
	if _, err := New(nil, 0, 10); err == nil {
		t.Error("Expected an error for an empty field of view")
	}

	m, err := New(nil, 5, 5)
	if err != nil {
		t.Fatalf("Empty map should be valid: %v", err)
	}
	if _, ok := m.NearestCell(1, 1); ok {
		t.Error("Empty map should have no nearest cell")
	}
}

func TestFromMasks(t *testing.T) {
	var block []image.Point
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			block = append(block, image.Point{X: x, Y: y})
		}
	}
	m, err := FromMasks([][]image.Point{block, {{X: 10, Y: 10}}}, 12, 12)
	if err != nil {
		t.Fatalf("FromMasks failed: %v", err)
	}

	if len(m.Pixels(0)) != 9 || len(m.Pixels(1)) != 1 {
		t.Errorf("Expected 9 and 1 pixels, got %d and %d", len(m.Pixels(0)), len(m.Pixels(1)))
	}
	if len(m.Polygon(0)) != 4 {
		t.Errorf("Expected a 4-vertex hull, got %v", m.Polygon(0))
	}
	if !m.Inside(1, 10, 10) || m.Inside(1, 10, 11) {
		t.Error("Single-pixel mask not honoured")
	}
	if len(m.Overlaps(0)) != 0 {
		t.Errorf("Expected no overlaps, got %v", m.Overlaps(0))
	}
}
