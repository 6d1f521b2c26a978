package coords

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r2"
)

// centerPoint is a cell centroid stored in the k-d tree
type centerPoint struct {
	cell int
	pos  r2.Vec
}

// Compare implements the kdtree.Comparable interface
func (p centerPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(centerPoint)
	switch d {
	case 0:
		return p.pos.X - q.pos.X
	case 1:
		return p.pos.Y - q.pos.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the k-d tree
func (p centerPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two centroids
func (p centerPoint) Distance(c kdtree.Comparable) float64 {
	return r2.Norm2(r2.Sub(p.pos, c.(centerPoint).pos))
}

// centerPoints satisfies kdtree.Interface
type centerPoints []centerPoint

func (p centerPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p centerPoints) Len() int                              { return len(p) }
func (p centerPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p centerPoints) Pivot(d kdtree.Dim) int {
	plane := centerPlane{centerPoints: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfRandoms(plane, 100))
}

// centerPlane implements kdtree.SortSlicer for centerPoints
type centerPlane struct {
	centerPoints
	kdtree.Dim
}

func (p centerPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.centerPoints[i].pos.X < p.centerPoints[j].pos.X
	case 1:
		return p.centerPoints[i].pos.Y < p.centerPoints[j].pos.Y
	default:
		panic("illegal dimension")
	}
}

func (p centerPlane) Slice(start, end int) kdtree.SortSlicer {
	return centerPlane{centerPoints: p.centerPoints[start:end], Dim: p.Dim}
}

func (p centerPlane) Swap(i, j int) {
	p.centerPoints[i], p.centerPoints[j] = p.centerPoints[j], p.centerPoints[i]
}

// sortedKept returns the non-sentinel heap entries, nearest first
func sortedKept(heap kdtree.Heap) []kdtree.ComparableDist {
	out := make([]kdtree.ComparableDist, 0, len(heap))
	for _, item := range heap {
		if item.Comparable != nil {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Dist != out[j].Dist {
			return out[i].Dist < out[j].Dist
		}
		return out[i].Comparable.(centerPoint).cell < out[j].Comparable.(centerPoint).cell
	})
	return out
}

func sortInts(v []int) []int {
	sort.Ints(v)
	return v
}

// contains reports whether p lies strictly inside the polygon (even-odd rule)
func contains(poly []r2.Vec, p r2.Vec) bool {
	if len(poly) < 3 {
		return false
	}
	in := false
	j := len(poly) - 1
	for i := range poly {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			if p.X < x {
				in = !in
			}
		}
		j = i
	}
	return in
}

// nearEdge reports whether p is within tol of the polygon contour
func nearEdge(poly []r2.Vec, p r2.Vec, tol float64) bool {
	if len(poly) == 1 {
		return r2.Norm(r2.Sub(p, poly[0])) <= tol
	}
	for i := range poly {
		a := poly[i]
		b := poly[(i+1)%len(poly)]
		if segmentDistance(a, b, p) <= tol {
			return true
		}
	}
	return false
}

func segmentDistance(a, b, p r2.Vec) float64 {
	ab := r2.Sub(b, a)
	l2 := r2.Norm2(ab)
	if l2 == 0 {
		return r2.Norm(r2.Sub(p, a))
	}
	t := math.Max(0, math.Min(1, r2.Dot(r2.Sub(p, a), ab)/l2))
	return r2.Norm(r2.Sub(p, r2.Add(a, r2.Scale(t, ab))))
}

func vertexBox(poly []r2.Vec) r2.Box {
	box := r2.Box{Min: poly[0], Max: poly[0]}
	for _, v := range poly[1:] {
		box.Min.X = math.Min(box.Min.X, v.X)
		box.Min.Y = math.Min(box.Min.Y, v.Y)
		box.Max.X = math.Max(box.Max.X, v.X)
		box.Max.Y = math.Max(box.Max.Y, v.Y)
	}
	return box
}

// centroid returns the area centroid of the polygon, or the mean of its vertices
// when the polygon has no area
func centroid(poly []r2.Vec) r2.Vec {
	var area float64
	var c r2.Vec
	for i := range poly {
		a := poly[i]
		b := poly[(i+1)%len(poly)]
		cross := r2.Cross(a, b)
		area += cross
		c = r2.Add(c, r2.Scale(cross, r2.Add(a, b)))
	}
	if math.Abs(area) < 1e-12 {
		var sum r2.Vec
		for _, v := range poly {
			sum = r2.Add(sum, v)
		}
		return r2.Scale(1/float64(len(poly)), sum)
	}
	return r2.Scale(1/(3*area), c)
}

// convexHull returns the hull of the pixels in counter-clockwise order
func convexHull(pts []image.Point) []r2.Vec {
	vs := make([]r2.Vec, len(pts))
	for i, p := range pts {
		vs[i] = r2.Vec{X: float64(p.X), Y: float64(p.Y)}
	}
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].X != vs[j].X {
			return vs[i].X < vs[j].X
		}
		return vs[i].Y < vs[j].Y
	})
	uniq := vs[:0]
	for _, v := range vs {
		if len(uniq) == 0 || v != uniq[len(uniq)-1] {
			uniq = append(uniq, v)
		}
	}
	if len(uniq) < 3 {
		return uniq
	}

	turn := func(o, a, b r2.Vec) float64 { return r2.Cross(r2.Sub(a, o), r2.Sub(b, o)) }
	hull := make([]r2.Vec, 0, 2*len(uniq))
	for _, v := range uniq {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], v) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, v)
	}
	lower := len(hull) + 1
	for i := len(uniq) - 2; i >= 0; i-- {
		v := uniq[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], v) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, v)
	}
	return hull[:len(hull)-1]
}
