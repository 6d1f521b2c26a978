package raster

import (
	"sort"

	"cinacgt/internal/models"
)

// ActivePeriods pairs every onset of a cell with the first peak strictly after it
func (s *Store) ActivePeriods(cell int) []models.Window {
	return PairWindows(cell, s.All(Onsets, cell), s.All(Peaks, cell))
}

// PairWindows pairs sorted onsets with the first sorted peak strictly after each of them.
// Onsets without a following peak are dropped.
func PairWindows(cell int, onsets, peaks []int) []models.Window {
	var out []models.Window
	for _, o := range onsets {
		i := sort.SearchInts(peaks, o+1)
		if i == len(peaks) {
			continue
		}
		out = append(out, models.Window{Cell: cell, Onset: o, Peak: peaks[i]})
	}
	return out
}

// Durations builds the rise-time matrix: 1 from each onset to its peak, both included
func (s *Store) Durations() [][]int8 {
	out := zeros(s.nCells, s.nFrames)
	for cell := 0; cell < s.nCells; cell++ {
		for _, w := range s.ActivePeriods(cell) {
			for f := w.Onset; f <= w.Peak; f++ {
				out[cell][f] = 1
			}
		}
	}
	return out
}
