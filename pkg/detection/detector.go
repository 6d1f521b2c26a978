// Package detection finds candidate transient onsets and peaks in a fluorescence trace.
//
// Detection is a pure function of the trace and the parameters: the same input
// always yields the same candidates. It seeds automatic ground truth, feeds the
// bulk "add them all" operator and backs the source profile when a cell has too
// few annotated peaks.
package detection

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"cinacgt/internal/models"
)

// Params controls candidate detection
type Params struct {
	// MinPeakDistance is the minimum number of frames between two kept peaks
	MinPeakDistance int

	// ThresholdFactor, when positive, removes peaks under
	// ThresholdFactor*std(trace)+min(trace) along with the onset preceding them
	ThresholdFactor float64
}

// DefaultParams returns the parameters used by the annotation tool
func DefaultParams() Params {
	return Params{MinPeakDistance: 2}
}

// Candidates holds detected frames in increasing order
type Candidates struct {
	Onsets []int
	Peaks  []int
}

// Detector runs candidate detection with fixed parameters
type Detector struct {
	params Params
}

// NewDetector creates a detector; a MinPeakDistance below 1 is raised to 1
func NewDetector(params Params) *Detector {
	if params.MinPeakDistance < 1 {
		params.MinPeakDistance = 1
	}
	return &Detector{params: params}
}

// Params returns the detector parameters
func (d *Detector) Params() Params { return d.params }

// Detect returns the candidates of the whole trace
func (d *Detector) Detect(trace []float64) Candidates {
	peaks := Peaks(trace, d.params.MinPeakDistance)
	onsets := Onsets(trace)
	if d.params.ThresholdFactor > 0 && len(trace) > 0 {
		peaks, onsets = filterByAmplitude(trace, peaks, onsets, d.params.ThresholdFactor)
	}
	return Candidates{Onsets: onsets, Peaks: peaks}
}

// DetectRange runs detection on the whole trace and keeps the candidates inside
// the clamped range, so a window yields the same frames as the full trace does there
func (d *Detector) DetectRange(trace []float64, r models.Range) Candidates {
	r = r.Clamp(len(trace))
	all := d.Detect(trace)
	return Candidates{
		Onsets: within(all.Onsets, r),
		Peaks:  within(all.Peaks, r),
	}
}

// Detect runs detection with DefaultParams
func Detect(trace []float64) Candidates {
	return NewDetector(DefaultParams()).Detect(trace)
}

func within(frames []int, r models.Range) []int {
	lo := sort.SearchInts(frames, r.From)
	hi := sort.SearchInts(frames, r.To)
	out := make([]int, hi-lo)
	copy(out, frames[lo:hi])
	return out
}

// Onsets returns every frame i where the trace stops falling and starts rising:
// trace[i]-trace[i-1] < 0 and trace[i+1]-trace[i] >= 0. Frame 0 and the last
// frame are never onsets.
func Onsets(trace []float64) []int {
	var onsets []int
	for i := 1; i+1 < len(trace); i++ {
		if trace[i]-trace[i-1] < 0 && trace[i+1]-trace[i] >= 0 {
			onsets = append(onsets, i)
		}
	}
	return onsets
}

// Peaks returns the local maxima of the trace, at least minDistance frames apart.
// A flat top counts once, at its middle frame. When two maxima are too close the
// higher one is kept; equal heights keep the earlier frame.
func Peaks(trace []float64, minDistance int) []int {
	maxima := localMaxima(trace)
	if minDistance <= 1 || len(maxima) < 2 {
		return maxima
	}
	return thinByDistance(trace, maxima, minDistance)
}

func localMaxima(x []float64) []int {
	var peaks []int
	n := len(x)
	i := 1
	for i < n-1 {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < n-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
			}
		}
		i++
	}
	return peaks
}

func thinByDistance(x []float64, peaks []int, distance int) []int {
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	// highest first, earlier frame on ties
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] > x[peaks[order[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for _, j := range order {
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// filterByAmplitude drops peaks under factor*std+min and, for each of them, the
// last onset strictly before it
func filterByAmplitude(trace []float64, peaks, onsets []int, factor float64) ([]int, []int) {
	threshold := factor*stat.PopStdDev(trace, nil) + floats.Min(trace)

	dropOnset := make(map[int]bool)
	kept := make([]int, 0, len(peaks))
	for _, p := range peaks {
		if trace[p] >= threshold {
			kept = append(kept, p)
			continue
		}
		if i := sort.SearchInts(onsets, p); i > 0 {
			dropOnset[onsets[i-1]] = true
		}
	}

	keptOnsets := make([]int, 0, len(onsets))
	for _, o := range onsets {
		if !dropOnset[o] {
			keptOnsets = append(keptOnsets, o)
		}
	}
	return kept, keptOnsets
}
