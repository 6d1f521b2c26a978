package models

// Range is a half-open frame interval [From, To)
type Range struct {
	// From is the first frame included in the range
	From int

	// To is the first frame after the range
	To int
}

// Len returns the number of frames covered by the range
func (r Range) Len() int {
	if r.To <= r.From {
		return 0
	}
	return r.To - r.From
}

// Empty reports whether the range covers no frame
func (r Range) Empty() bool {
	return r.Len() == 0
}

// Clamp orders the endpoints and clamps them into [0, nFrames]
func (r Range) Clamp(nFrames int) Range {
	from, to := r.From, r.To
	if from > to {
		from, to = to, from
	}
	if from < 0 {
		from = 0
	}
	if to > nFrames {
		to = nFrames
	}
	if from > nFrames {
		from = nFrames
	}
	if to < from {
		to = from
	}
	return Range{From: from, To: to}
}

// Window represents one transient of a cell, from its onset to its peak (both included)
type Window struct {
	// Cell is the index of the cell the transient belongs to
	Cell int

	// Onset is the frame where the transient begins rising
	Onset int

	// Peak is the frame of maximal amplitude
	Peak int
}

// Frames returns the number of frames spanned by the window
func (w Window) Frames() int {
	return w.Peak - w.Onset + 1
}

// Viewport holds the display limits active when an edit happened
type Viewport struct {
	XMin, XMax float64
	YMin, YMax float64
}

// Bounds is an inclusive pixel bounding box in movie coordinates
type Bounds struct {
	MinX, MinY int
	MaxX, MaxY int
}

// Width returns the number of pixel columns covered by the box
func (b Bounds) Width() int { return b.MaxX - b.MinX + 1 }

// Height returns the number of pixel rows covered by the box
func (b Bounds) Height() int { return b.MaxY - b.MinY + 1 }

// Expand grows the box by margin pixels on every side, clamped to a width x height frame
func (b Bounds) Expand(margin, width, height int) Bounds {
	out := Bounds{
		MinX: b.MinX - margin,
		MinY: b.MinY - margin,
		MaxX: b.MaxX + margin,
		MaxY: b.MaxY + margin,
	}
	if out.MinX < 0 {
		out.MinX = 0
	}
	if out.MinY < 0 {
		out.MinY = 0
	}
	if out.MaxX > width-1 {
		out.MaxX = width - 1
	}
	if out.MaxY > height-1 {
		out.MaxY = height - 1
	}
	return out
}

// FullFrame returns the bounds covering a whole width x height frame
func FullFrame(width, height int) Bounds {
	return Bounds{MinX: 0, MinY: 0, MaxX: width - 1, MaxY: height - 1}
}
