package raster

import (
	"fmt"
	"sort"
)

// ViolationKind names the way an onset/peak sequence is broken
type ViolationKind int

const (
	// PeakWithoutOnset is a peak with no onset since the previous peak
	PeakWithoutOnset ViolationKind = iota
	// OnsetWithoutPeak is an onset never followed by a peak
	OnsetWithoutPeak
)

func (k ViolationKind) String() string {
	switch k {
	case PeakWithoutOnset:
		return "peak without onset"
	case OnsetWithoutPeak:
		return "onset without peak"
	default:
		return "unknown"
	}
}

// Violation is one reported break of the onset-precedes-peak ordering
type Violation struct {
	Cell  int
	Frame int
	Kind  ViolationKind
}

func (v Violation) String() string {
	return fmt.Sprintf("cell %d frame %d: %s", v.Cell, v.Frame, v.Kind)
}

// Validate reports every onset-precedes-peak violation. Nothing is corrected.
func (s *Store) Validate() []Violation {
	var out []Violation
	for cell := 0; cell < s.nCells; cell++ {
		out = append(out, s.validateCell(cell)...)
	}
	return out
}

func (s *Store) validateCell(cell int) []Violation {
	var out []Violation
	onsets := s.All(Onsets, cell)
	peaks := s.All(Peaks, cell)

	// walk both sorted lists; an onset at the same frame as a peak precedes it
	prevPeak := -1
	oi := 0
	for _, p := range peaks {
		found := false
		for oi < len(onsets) && onsets[oi] <= p {
			if onsets[oi] > prevPeak {
				found = true
			}
			oi++
		}
		if !found {
			out = append(out, Violation{Cell: cell, Frame: p, Kind: PeakWithoutOnset})
		}
		prevPeak = p
	}

	lastPeak := -1
	if len(peaks) > 0 {
		lastPeak = peaks[len(peaks)-1]
	}
	for _, o := range onsets {
		if o > lastPeak {
			out = append(out, Violation{Cell: cell, Frame: o, Kind: OnsetWithoutPeak})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}
