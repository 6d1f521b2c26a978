// Package trace holds the signal helpers applied to fluorescence traces before
// they are displayed or handed to the detector.
package trace

import (
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultSmoothWindow is the Hann window length used for display traces
const DefaultSmoothWindow = 11

// Smooth convolves x with a normalized Hann window of the given length. Both ends
// are padded with reflected copies of the signal so the output keeps the length
// of x without edge droop. Windows shorter than 3 frames or longer than the trace
// return an unchanged copy; even lengths are rounded up to the next odd one.
func Smooth(x []float64, length int) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if length < 3 {
		return out
	}
	if length%2 == 0 {
		length++
	}
	n := len(x)
	if n < length {
		return out
	}

	kernel := make([]float64, length)
	for i := range kernel {
		kernel[i] = 1
	}
	window.Hann(kernel)
	floats.Scale(1/floats.Sum(kernel), kernel)

	padded := reflectPad(x, length-1)
	half := (length - 1) / 2
	for i := range out {
		start := i + length - 1 - half
		out[i] = floats.Dot(kernel, padded[start:start+length])
	}
	return out
}

// reflectPad pads x with pad mirrored samples on each side, excluding the edge sample
func reflectPad(x []float64, pad int) []float64 {
	n := len(x)
	s := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		s = append(s, x[i])
	}
	s = append(s, x...)
	for i := n - 2; i >= n-1-pad; i-- {
		s = append(s, x[i])
	}
	return s
}

// ZScore returns (x - mean) / std using the population standard deviation.
// A constant trace yields zeros.
func ZScore(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	for i, v := range x {
		if std == 0 {
			out[i] = 0
			continue
		}
		out[i] = (v - mean) / std
	}
	return out
}

// Period is a run of consecutive active frames, both ends included
type Period struct {
	First int
	Last  int
}

// ContinuousPeriods returns the runs of non-zero values in x
func ContinuousPeriods[T ~int8 | ~int | ~bool](x []T) []Period {
	var periods []Period
	start := -1
	for i, v := range x {
		on := active(v)
		switch {
		case on && start < 0:
			start = i
		case !on && start >= 0:
			periods = append(periods, Period{First: start, Last: i - 1})
			start = -1
		}
	}
	if start >= 0 {
		periods = append(periods, Period{First: start, Last: len(x) - 1})
	}
	return periods
}

func active[T ~int8 | ~int | ~bool](v T) bool {
	var zero T
	return v != zero
}
