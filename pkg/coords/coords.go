// Package coords models the spatial layout of the segmented cells: their contour
// polygons, the pixel masks rasterized from them, their bounding boxes and which
// cells overlap each other.
//
// Cell centroids are indexed in a k-d tree, which serves nearest-cell lookups
// and prunes the candidate pairs tested for overlap.
package coords

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r2"

	"cinacgt/internal/models"
)

// ErrEmptyPolygon is returned when a cell has no contour vertex
var ErrEmptyPolygon = errors.New("cell contour has no vertex")

// edgeTolerance is the distance, in pixels, under which a pixel center on a
// contour edge belongs to the cell
const edgeTolerance = 0.5

// Map holds the geometry of every cell of a field of view
type Map struct {
	width  int
	height int

	polygons [][]r2.Vec
	bounds   []models.Bounds
	// masks[cell] is bounds[cell].Width() x bounds[cell].Height(), row-major
	masks    [][]bool
	pixels   [][]image.Point
	centers  []r2.Vec
	overlaps [][]int

	tree *kdtree.Tree
}

// New builds the map of cells outlined by polygons in a width x height field of view.
// Vertex coordinates are pixel indices, x along columns and y along rows.
func New(polygons [][]r2.Vec, width, height int) (*Map, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("field of view must be positive, got %dx%d", width, height)
	}
	m := &Map{
		width:    width,
		height:   height,
		polygons: make([][]r2.Vec, len(polygons)),
		bounds:   make([]models.Bounds, len(polygons)),
		masks:    make([][]bool, len(polygons)),
		pixels:   make([][]image.Point, len(polygons)),
		centers:  make([]r2.Vec, len(polygons)),
	}
	for cell, poly := range polygons {
		if len(poly) == 0 {
			return nil, fmt.Errorf("cell %d: %w", cell, ErrEmptyPolygon)
		}
		m.polygons[cell] = append([]r2.Vec(nil), poly...)
		m.rasterize(cell)
		m.centers[cell] = centroid(poly)
	}
	m.index()
	return m, nil
}

// FromMasks builds the map from pixel masks; the contour of each cell is the
// convex hull of its pixels
func FromMasks(masks [][]image.Point, width, height int) (*Map, error) {
	polygons := make([][]r2.Vec, len(masks))
	for cell, mask := range masks {
		if len(mask) == 0 {
			return nil, fmt.Errorf("cell %d: %w", cell, ErrEmptyPolygon)
		}
		polygons[cell] = convexHull(mask)
	}
	m, err := New(polygons, width, height)
	if err != nil {
		return nil, err
	}
	// the supplied pixels are authoritative over the rasterized hull
	for cell, mask := range masks {
		m.setMask(cell, mask)
	}
	m.index()
	return m, nil
}

// Cells returns the number of cells
func (m *Map) Cells() int { return len(m.polygons) }

// Dims returns the width and height of the field of view
func (m *Map) Dims() (width, height int) { return m.width, m.height }

// Polygon returns the contour of the cell
func (m *Map) Polygon(cell int) []r2.Vec { return m.polygons[cell] }

// Bounds returns the inclusive pixel box covering the cell mask
func (m *Map) Bounds(cell int) models.Bounds { return m.bounds[cell] }

// Center returns the centroid of the cell contour
func (m *Map) Center(cell int) r2.Vec { return m.centers[cell] }

// Pixels returns the pixels of the cell mask, row by row
func (m *Map) Pixels(cell int) []image.Point { return m.pixels[cell] }

// Inside reports whether pixel (x, y) belongs to the cell mask
func (m *Map) Inside(cell, x, y int) bool {
	b := m.bounds[cell]
	if x < b.MinX || x > b.MaxX || y < b.MinY || y > b.MaxY {
		return false
	}
	return m.masks[cell][(y-b.MinY)*b.Width()+(x-b.MinX)]
}

// Overlaps returns the cells sharing at least one pixel with cell, in increasing order
func (m *Map) Overlaps(cell int) []int { return m.overlaps[cell] }

// NearestCell returns the cell whose centroid is closest to (x, y).
// ok is false when the map has no cell.
func (m *Map) NearestCell(x, y float64) (cell int, ok bool) {
	if m.tree == nil || m.tree.Len() == 0 {
		return 0, false
	}
	got, _ := m.tree.Nearest(centerPoint{pos: r2.Vec{X: x, Y: y}})
	return got.(centerPoint).cell, true
}

// CellAt returns the first cell whose mask covers pixel (x, y), looking at the
// cells with the nearest centroids first
func (m *Map) CellAt(x, y int) (cell int, ok bool) {
	if m.tree == nil {
		return 0, false
	}
	keeper := kdtree.NewNKeeper(8)
	m.tree.NearestSet(keeper, centerPoint{pos: r2.Vec{X: float64(x), Y: float64(y)}})
	for _, item := range sortedKept(keeper.Heap) {
		c := item.Comparable.(centerPoint).cell
		if m.Inside(c, x, y) {
			return c, true
		}
	}
	for c := range m.polygons {
		if m.Inside(c, x, y) {
			return c, true
		}
	}
	return 0, false
}

func (m *Map) rasterize(cell int) {
	poly := m.polygons[cell]
	box := vertexBox(poly)
	minX := clampInt(int(math.Floor(box.Min.X)), 0, m.width-1)
	maxX := clampInt(int(math.Ceil(box.Max.X)), 0, m.width-1)
	minY := clampInt(int(math.Floor(box.Min.Y)), 0, m.height-1)
	maxY := clampInt(int(math.Ceil(box.Max.Y)), 0, m.height-1)

	var pts []image.Point
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			p := r2.Vec{X: float64(x), Y: float64(y)}
			if contains(poly, p) || nearEdge(poly, p, edgeTolerance) {
				pts = append(pts, image.Point{X: x, Y: y})
			}
		}
	}
	if len(pts) == 0 {
		// contour entirely outside the frame: keep its clamped nearest pixel
		pts = []image.Point{{X: minX, Y: minY}}
	}
	m.setMask(cell, pts)
}

func (m *Map) setMask(cell int, pts []image.Point) {
	var kept []image.Point
	b := models.Bounds{MinX: m.width, MinY: m.height, MaxX: -1, MaxY: -1}
	for _, p := range pts {
		if p.X < 0 || p.Y < 0 || p.X >= m.width || p.Y >= m.height {
			continue
		}
		kept = append(kept, p)
		b.MinX = min(b.MinX, p.X)
		b.MinY = min(b.MinY, p.Y)
		b.MaxX = max(b.MaxX, p.X)
		b.MaxY = max(b.MaxY, p.Y)
	}
	if len(kept) == 0 {
		m.bounds[cell] = models.Bounds{}
		m.masks[cell] = []bool{false}
		m.pixels[cell] = nil
		return
	}

	mask := make([]bool, b.Width()*b.Height())
	for _, p := range kept {
		mask[(p.Y-b.MinY)*b.Width()+(p.X-b.MinX)] = true
	}
	ordered := make([]image.Point, 0, len(kept))
	for y := b.MinY; y <= b.MaxY; y++ {
		for x := b.MinX; x <= b.MaxX; x++ {
			if mask[(y-b.MinY)*b.Width()+(x-b.MinX)] {
				ordered = append(ordered, image.Point{X: x, Y: y})
			}
		}
	}
	m.bounds[cell] = b
	m.masks[cell] = mask
	m.pixels[cell] = ordered
}

// index builds the centroid tree and the overlap lists
func (m *Map) index() {
	points := make(centerPoints, len(m.centers))
	maxRadius := 0.0
	radius := make([]float64, len(m.centers))
	for cell, c := range m.centers {
		points[cell] = centerPoint{cell: cell, pos: c}
		b := m.bounds[cell]
		corners := []r2.Vec{
			{X: float64(b.MinX), Y: float64(b.MinY)},
			{X: float64(b.MaxX), Y: float64(b.MaxY)},
			{X: float64(b.MinX), Y: float64(b.MaxY)},
			{X: float64(b.MaxX), Y: float64(b.MinY)},
		}
		for _, v := range corners {
			radius[cell] = math.Max(radius[cell], r2.Norm(r2.Sub(v, c)))
		}
		maxRadius = math.Max(maxRadius, radius[cell])
	}

	m.tree = nil
	m.overlaps = make([][]int, len(m.centers))
	if len(points) == 0 {
		return
	}
	// kdtree.New reorders its input, so query with a copy
	m.tree = kdtree.New(append(centerPoints(nil), points...), false)

	for cell := range m.centers {
		reach := radius[cell] + maxRadius + 1
		keeper := kdtree.NewDistKeeper(reach * reach)
		m.tree.NearestSet(keeper, points[cell])

		var found []int
		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue
			}
			other := item.Comparable.(centerPoint).cell
			if other != cell && m.sharePixel(cell, other) {
				found = append(found, other)
			}
		}
		m.overlaps[cell] = sortInts(found)
	}
}

func (m *Map) sharePixel(a, b int) bool {
	ba, bb := m.bounds[a], m.bounds[b]
	if ba.MaxX < bb.MinX || bb.MaxX < ba.MinX || ba.MaxY < bb.MinY || bb.MaxY < ba.MinY {
		return false
	}
	for _, p := range m.pixels[a] {
		if m.Inside(b, p.X, p.Y) {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
