// Package history records reversible edits of a raster store.
//
// An Action is a tagged union: Op selects the variant and the matching payload
// field carries the exact frames and values touched by the edit. Apply is the
// single dispatch point for both directions.
package history

import (
	"fmt"

	"cinacgt/internal/models"
	"cinacgt/pkg/raster"
)

// Op is the kind of edit an Action records
type Op int

const (
	// AddOnset sets one onset, optionally nesting the AddPeak that follows it
	AddOnset Op = iota
	// RemoveOnset clears the onsets of a range
	RemoveOnset
	// AddPeak sets one peak
	AddPeak
	// RemovePeak clears the peaks of a range
	RemovePeak
	// RemoveAll clears both onsets and peaks of a range
	RemoveAll
	// AddDoubtful marks frames as doubtful
	AddDoubtful
	// RemoveDoubtful unmarks doubtful frames
	RemoveDoubtful
	// AddMovement marks frames as corrupted by motion
	AddMovement
	// RemoveMovement unmarks motion frames
	RemoveMovement
	// Agree promotes the to-agree winner of a range to an event
	Agree
	// Disagree dismisses the to-agree entries of a range
	Disagree
	// ReplaceWindow swaps the events of a window for detected candidates
	ReplaceWindow
)

var opNames = map[Op]string{
	AddOnset:       "add_onset",
	RemoveOnset:    "remove_onset",
	AddPeak:        "add_peak",
	RemovePeak:     "remove_peak",
	RemoveAll:      "remove_all",
	AddDoubtful:    "add_doubtful_frames",
	RemoveDoubtful: "remove_doubtful_frames",
	AddMovement:    "add_mvt_frames",
	RemoveMovement: "remove_mvt_frames",
	Agree:          "agree",
	Disagree:       "dont_agree",
	ReplaceWindow:  "add_them_all",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Direction selects which way an action is applied
type Direction int

const (
	// Forward performs the edit
	Forward Direction = iota
	// Backward reverts the edit
	Backward
)

// Marks is the payload of the add/remove variants: the exact frames whose value flipped
type Marks struct {
	Frames []int
}

// Sweep is the payload of RemoveAll: onsets and peaks removed from the range
type Sweep struct {
	Onsets []int
	Peaks  []int
}

// Entry is one prior value of a to-agree layer
type Entry struct {
	Frame int
	Value int8
}

// Fusion is the payload of Agree for one event layer. Winner is -1 when the
// layer had no to-agree entry in the range.
type Fusion struct {
	Target       raster.Layer
	Winner       int
	WinnerWasSet bool
	Cleared      []Entry
}

// Dismissal is the payload of Disagree
type Dismissal struct {
	Onsets []Entry
	Peaks  []Entry
}

// WindowEdit is the payload of ReplaceWindow: the events of the window before and after
type WindowEdit struct {
	Range        models.Range
	BeforeOnsets []int
	BeforePeaks  []int
	AfterOnsets  []int
	AfterPeaks   []int
}

// Action is an immutable record of one reversible edit
type Action struct {
	Op       Op
	Cell     int
	Viewport models.Viewport

	// WasSaved records whether the session was saved just before this edit
	WasSaved bool

	// Seq is assigned by Stack.Push; nested actions keep zero
	Seq uint64

	Marks     *Marks
	Sweep     *Sweep
	Fusion    *Fusion
	Dismissal *Dismissal
	Window    *WindowEdit

	// Nested is applied after this action going forward and before it going backward
	Nested *Action
}

// Apply performs the action on store in the given direction
func Apply(store *raster.Store, a *Action, dir Direction) {
	if dir == Backward && a.Nested != nil {
		Apply(store, a.Nested, dir)
	}

	forward := dir == Forward
	switch a.Op {
	case AddOnset:
		store.SetFrames(raster.Onsets, a.Cell, a.Marks.Frames, flag(forward))
	case RemoveOnset:
		store.SetFrames(raster.Onsets, a.Cell, a.Marks.Frames, flag(!forward))
	case AddPeak:
		store.SetFrames(raster.Peaks, a.Cell, a.Marks.Frames, flag(forward))
	case RemovePeak:
		store.SetFrames(raster.Peaks, a.Cell, a.Marks.Frames, flag(!forward))
	case RemoveAll:
		store.SetFrames(raster.Onsets, a.Cell, a.Sweep.Onsets, flag(!forward))
		store.SetFrames(raster.Peaks, a.Cell, a.Sweep.Peaks, flag(!forward))
	case AddDoubtful:
		store.SetFrames(raster.Doubtful, a.Cell, a.Marks.Frames, flag(forward))
	case RemoveDoubtful:
		store.SetFrames(raster.Doubtful, a.Cell, a.Marks.Frames, flag(!forward))
	case AddMovement:
		store.SetFrames(raster.Movement, a.Cell, a.Marks.Frames, flag(forward))
	case RemoveMovement:
		store.SetFrames(raster.Movement, a.Cell, a.Marks.Frames, flag(!forward))
	case Agree:
		applyFusion(store, a.Cell, a.Fusion, forward)
	case Disagree:
		restoreEntries(store, raster.ToAgreeOnsets, a.Cell, a.Dismissal.Onsets, forward)
		restoreEntries(store, raster.ToAgreePeaks, a.Cell, a.Dismissal.Peaks, forward)
	case ReplaceWindow:
		w := a.Window
		if forward {
			store.SetFrames(raster.Onsets, a.Cell, w.BeforeOnsets, 0)
			store.SetFrames(raster.Peaks, a.Cell, w.BeforePeaks, 0)
			store.SetFrames(raster.Onsets, a.Cell, w.AfterOnsets, 1)
			store.SetFrames(raster.Peaks, a.Cell, w.AfterPeaks, 1)
		} else {
			store.SetFrames(raster.Onsets, a.Cell, w.AfterOnsets, 0)
			store.SetFrames(raster.Peaks, a.Cell, w.AfterPeaks, 0)
			store.SetFrames(raster.Onsets, a.Cell, w.BeforeOnsets, 1)
			store.SetFrames(raster.Peaks, a.Cell, w.BeforePeaks, 1)
		}
	default:
		panic(fmt.Sprintf("history: unknown op %d", int(a.Op)))
	}

	if dir == Forward && a.Nested != nil {
		Apply(store, a.Nested, dir)
	}
}

func applyFusion(store *raster.Store, cell int, f *Fusion, forward bool) {
	pending := raster.ToAgreeOnsets
	if f.Target == raster.Peaks {
		pending = raster.ToAgreePeaks
	}
	restoreEntries(store, pending, cell, f.Cleared, forward)
	if f.Winner < 0 || f.WinnerWasSet {
		return
	}
	store.Set(f.Target, cell, f.Winner, flag(forward))
}

// restoreEntries zeroes the entries going forward and writes their prior values back going backward
func restoreEntries(store *raster.Store, layer raster.Layer, cell int, entries []Entry, forward bool) {
	for _, e := range entries {
		if forward {
			store.Set(layer, cell, e.Frame, 0)
		} else {
			store.Set(layer, cell, e.Frame, e.Value)
		}
	}
}

func flag(on bool) int8 {
	if on {
		return 1
	}
	return 0
}

// Frames returns every frame touched by the action and its nested actions
func (a *Action) Frames() []int {
	var out []int
	switch {
	case a.Marks != nil:
		out = append(out, a.Marks.Frames...)
	case a.Sweep != nil:
		out = append(out, a.Sweep.Onsets...)
		out = append(out, a.Sweep.Peaks...)
	case a.Fusion != nil:
		if a.Fusion.Winner >= 0 {
			out = append(out, a.Fusion.Winner)
		}
		for _, e := range a.Fusion.Cleared {
			out = append(out, e.Frame)
		}
	case a.Dismissal != nil:
		for _, e := range a.Dismissal.Onsets {
			out = append(out, e.Frame)
		}
		for _, e := range a.Dismissal.Peaks {
			out = append(out, e.Frame)
		}
	case a.Window != nil:
		out = append(out, a.Window.BeforeOnsets...)
		out = append(out, a.Window.BeforePeaks...)
		out = append(out, a.Window.AfterOnsets...)
		out = append(out, a.Window.AfterPeaks...)
	}
	if a.Nested != nil {
		out = append(out, a.Nested.Frames()...)
	}
	return out
}
