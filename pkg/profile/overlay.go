package profile

import (
	"gonum.org/v1/gonum/floats"

	"cinacgt/internal/models"
)

// OverlayParams holds the thresholds of the prediction-improvement overlay
type OverlayParams struct {
	// CrossTalkOwnMax is the correlation under which a transient is suspicious
	CrossTalkOwnMax float64
	// CrossTalkOtherMin is the correlation an overlapping cell needs on the same
	// window to be blamed
	CrossTalkOtherMin float64
	// NeuropilRatio is the share of the raw excursion the neuropil excursion
	// must exceed to flag contamination
	NeuropilRatio float64
}

// Flag annotates one active period of a cell
type Flag struct {
	Window models.Window
	Own    Correlation

	// CrossTalk is set when the transient more likely belongs to an overlapping cell
	CrossTalk bool
	// Sources lists the overlapping cells correlating above CrossTalkOtherMin
	Sources []int

	// Neuropil is set when the neuropil excursion dominates the raw one
	Neuropil bool
}

// Flagged reports whether any heuristic fired
func (f Flag) Flagged() bool { return f.CrossTalk || f.Neuropil }

// Overlay evaluates the cross-talk and neuropil heuristics on each window of
// the cell. It only reads the traces, the movie and the correlation cache.
func (e *Engine) Overlay(cell int, windows []models.Window) ([]Flag, error) {
	if err := e.checkCell(cell); err != nil {
		return nil, err
	}
	p := e.params.Overlay
	raw := e.traces.Raw(cell)
	neuropil, hasNeuropil := e.traces.Neuropil(cell)

	flags := make([]Flag, 0, len(windows))
	for _, w := range windows {
		w.Cell = cell
		own, err := e.Correlation(cell, w, false)
		if err != nil {
			return nil, err
		}
		flag := Flag{Window: w, Own: own}

		if own.Defined && own.Value < p.CrossTalkOwnMax {
			for _, other := range e.coords.Overlaps(cell) {
				c, err := e.Correlation(other, models.Window{Cell: other, Onset: w.Onset, Peak: w.Peak}, false)
				if err != nil {
					return nil, err
				}
				if c.Defined && c.Value >= p.CrossTalkOtherMin {
					flag.Sources = append(flag.Sources, other)
				}
			}
			flag.CrossTalk = len(flag.Sources) > 0
		}

		if hasNeuropil {
			onset, peak := e.clampWindow(cell, w)
			if peak < len(neuropil) {
				rawExc := excursion(raw[onset : peak+1])
				npExc := excursion(neuropil[onset : peak+1])
				flag.Neuropil = rawExc > 0 && npExc > p.NeuropilRatio*rawExc
			}
		}
		flags = append(flags, flag)
	}
	return flags, nil
}

func excursion(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Max(x) - floats.Min(x)
}
