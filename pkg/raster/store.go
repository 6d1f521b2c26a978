// Package raster holds the per-cell, per-frame event matrices of an annotation session.
//
// The matrices are only reachable through Store methods. Reads are free; writes go
// through Set and SetFrames, which the history package calls when an action is
// applied in either direction.
package raster

import (
	"errors"
	"fmt"

	"cinacgt/internal/models"
)

// Layer identifies one event matrix
type Layer int

const (
	// Onsets marks frames where a transient starts rising (onset_times)
	Onsets Layer = iota
	// Peaks marks frames of maximal amplitude (peak_nums)
	Peaks
	// ToAgreeOnsets holds annotator disagreement counts for onsets (to_agree_spike_nums)
	ToAgreeOnsets
	// ToAgreePeaks holds annotator disagreement counts for peaks (to_agree_peak_nums)
	ToAgreePeaks
	// Doubtful marks frames the curator is unsure about (doubtful_frames_nums)
	Doubtful
	// Movement marks frames corrupted by motion (mvt_frames_nums)
	Movement

	numLayers
)

// Layers lists every layer in storage order
var Layers = []Layer{Onsets, Peaks, ToAgreeOnsets, ToAgreePeaks, Doubtful, Movement}

var layerNames = [numLayers]string{
	"onset_times",
	"peak_nums",
	"to_agree_spike_nums",
	"to_agree_peak_nums",
	"doubtful_frames_nums",
	"mvt_frames_nums",
}

// String returns the persisted array name of the layer
func (l Layer) String() string {
	if l < 0 || l >= numLayers {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

// ParseLayer maps a persisted array name back to its layer
func ParseLayer(name string) (Layer, bool) {
	for i, n := range layerNames {
		if n == name {
			return Layer(i), true
		}
	}
	return 0, false
}

var (
	// ErrShapeMismatch is returned when a loaded matrix is not n_cells x n_frames
	ErrShapeMismatch = errors.New("raster shape mismatch")

	// ErrCellOutOfRange is returned for a cell index outside the session
	ErrCellOutOfRange = errors.New("cell index out of range")
)

// Store owns the event matrices of one session
type Store struct {
	nCells  int
	nFrames int
	layers  [numLayers][][]int8
}

// NewStore creates an empty store of nCells x nFrames for every layer
func NewStore(nCells, nFrames int) *Store {
	s := &Store{nCells: nCells, nFrames: nFrames}
	for l := range s.layers {
		s.layers[l] = zeros(nCells, nFrames)
	}
	return s
}

func zeros(nCells, nFrames int) [][]int8 {
	m := make([][]int8, nCells)
	backing := make([]int8, nCells*nFrames)
	for c := range m {
		m[c] = backing[c*nFrames : (c+1)*nFrames : (c+1)*nFrames]
	}
	return m
}

// Cells returns the number of cells
func (s *Store) Cells() int { return s.nCells }

// FrameCount returns the number of frames
func (s *Store) FrameCount() int { return s.nFrames }

// CheckCell returns ErrCellOutOfRange when cell is not a valid index
func (s *Store) CheckCell(cell int) error {
	if cell < 0 || cell >= s.nCells {
		return fmt.Errorf("%w: %d (cells: %d)", ErrCellOutOfRange, cell, s.nCells)
	}
	return nil
}

// Clamp orders and clamps r into the frame bounds of the store
func (s *Store) Clamp(r models.Range) models.Range {
	return r.Clamp(s.nFrames)
}

// Get returns the value of a layer at (cell, frame). Out-of-range indices read as 0.
func (s *Store) Get(layer Layer, cell, frame int) int8 {
	if cell < 0 || cell >= s.nCells || frame < 0 || frame >= s.nFrames {
		return 0
	}
	return s.layers[layer][cell][frame]
}

// Has reports whether a layer holds a non-zero value at (cell, frame)
func (s *Store) Has(layer Layer, cell, frame int) bool {
	return s.Get(layer, cell, frame) != 0
}

// Values returns a copy of a layer row restricted to the clamped range
func (s *Store) Values(layer Layer, cell int, r models.Range) []int8 {
	r = s.Clamp(r)
	if cell < 0 || cell >= s.nCells {
		return nil
	}
	out := make([]int8, r.Len())
	copy(out, s.layers[layer][cell][r.From:r.To])
	return out
}

// Frames returns, in increasing order, the frames of the clamped range holding a non-zero value
func (s *Store) Frames(layer Layer, cell int, r models.Range) []int {
	r = s.Clamp(r)
	if cell < 0 || cell >= s.nCells {
		return nil
	}
	var frames []int
	row := s.layers[layer][cell]
	for f := r.From; f < r.To; f++ {
		if row[f] != 0 {
			frames = append(frames, f)
		}
	}
	return frames
}

// All returns every non-zero frame of a layer row
func (s *Store) All(layer Layer, cell int) []int {
	return s.Frames(layer, cell, models.Range{From: 0, To: s.nFrames})
}

// Count returns the number of non-zero frames of the clamped range
func (s *Store) Count(layer Layer, cell int, r models.Range) int {
	return len(s.Frames(layer, cell, r))
}

// Set writes one value. Invalid indices are ignored.
func (s *Store) Set(layer Layer, cell, frame int, value int8) {
	if cell < 0 || cell >= s.nCells || frame < 0 || frame >= s.nFrames {
		return
	}
	s.layers[layer][cell][frame] = value
}

// SetFrames writes the same value at every listed frame
func (s *Store) SetFrames(layer Layer, cell int, frames []int, value int8) {
	for _, f := range frames {
		s.Set(layer, cell, f, value)
	}
}

// Snapshot is a deep copy of the matrices, keyed by layer
type Snapshot map[Layer][][]int8

// Snapshot copies every layer for the persistence collaborator
func (s *Store) Snapshot() Snapshot {
	out := make(Snapshot, numLayers)
	for _, l := range Layers {
		m := zeros(s.nCells, s.nFrames)
		for c := range m {
			copy(m[c], s.layers[l][c])
		}
		out[l] = m
	}
	return out
}

// Load replaces the layers present in snap. Every supplied layer is validated
// before the first write, so a mismatch leaves the store untouched.
func (s *Store) Load(snap Snapshot) error {
	for l, m := range snap {
		if l < 0 || l >= numLayers {
			return fmt.Errorf("unknown layer %d", int(l))
		}
		if len(m) != s.nCells {
			return fmt.Errorf("%w: %s has %d cells, expected %d", ErrShapeMismatch, l, len(m), s.nCells)
		}
		for c, row := range m {
			if len(row) != s.nFrames {
				return fmt.Errorf("%w: %s cell %d has %d frames, expected %d",
					ErrShapeMismatch, l, c, len(row), s.nFrames)
			}
		}
	}
	for l, m := range snap {
		for c, row := range m {
			copy(s.layers[l][c], row)
		}
	}
	return nil
}

// Equal reports whether two stores hold identical matrices
func (s *Store) Equal(other *Store) bool {
	if s.nCells != other.nCells || s.nFrames != other.nFrames {
		return false
	}
	for l := range s.layers {
		for c := range s.layers[l] {
			a, b := s.layers[l][c], other.layers[l][c]
			for f := range a {
				if a[f] != b[f] {
					return false
				}
			}
		}
	}
	return true
}
