package annotation

import (
	"cinacgt/internal/models"
	"cinacgt/pkg/history"
	"cinacgt/pkg/raster"
)

// Pending counts the to-agree entries of one cell
type Pending struct {
	Onsets int
	Peaks  int
}

// Total returns the number of entries waiting for a decision
func (p Pending) Total() int { return p.Onsets + p.Peaks }

// Reconciler resolves the to-agree layers left by independent annotators into
// onsets and peaks. Every decision is one undoable action.
type Reconciler struct {
	store *raster.Store
	stack *history.Stack
}

// NewReconciler creates a reconciler editing store and recording into stack
func NewReconciler(store *raster.Store, stack *history.Stack) *Reconciler {
	return &Reconciler{store: store, stack: stack}
}

// Pending returns the to-agree counts of the cell
func (r *Reconciler) Pending(cell int) Pending {
	full := models.Range{From: 0, To: r.store.FrameCount()}
	return Pending{
		Onsets: r.store.Count(raster.ToAgreeOnsets, cell, full),
		Peaks:  r.store.Count(raster.ToAgreePeaks, cell, full),
	}
}

// PendingAll returns the to-agree counts of every cell
func (r *Reconciler) PendingAll() []Pending {
	out := make([]Pending, r.store.Cells())
	for cell := range out {
		out[cell] = r.Pending(cell)
	}
	return out
}

// Agree promotes, for each event layer, the to-agree entry of the range with the
// highest count and clears every to-agree entry of the range. Onset ties go to
// the latest frame and peak ties to the earliest. ok is false, and nothing is
// recorded, when the range holds no to-agree entry.
func (r *Reconciler) Agree(cell int, rng models.Range, vp models.Viewport, wasSaved bool) (history.Action, bool) {
	rng = r.store.Clamp(rng)
	onsets := r.fusion(raster.Onsets, raster.ToAgreeOnsets, cell, rng, true)
	peaks := r.fusion(raster.Peaks, raster.ToAgreePeaks, cell, rng, false)

	var a history.Action
	switch {
	case onsets != nil && peaks != nil:
		a = history.Action{Op: history.Agree, Fusion: onsets,
			Nested: &history.Action{Op: history.Agree, Cell: cell, Viewport: vp, WasSaved: wasSaved, Fusion: peaks}}
	case onsets != nil:
		a = history.Action{Op: history.Agree, Fusion: onsets}
	case peaks != nil:
		a = history.Action{Op: history.Agree, Fusion: peaks}
	default:
		return history.Action{}, false
	}
	a.Cell, a.Viewport, a.WasSaved = cell, vp, wasSaved

	r.commit(a)
	return a, true
}

// Disagree clears every to-agree entry of the range without promoting any.
// ok is false, and nothing is recorded, when the range holds no entry.
func (r *Reconciler) Disagree(cell int, rng models.Range, vp models.Viewport, wasSaved bool) (history.Action, bool) {
	rng = r.store.Clamp(rng)
	d := &history.Dismissal{
		Onsets: r.entries(raster.ToAgreeOnsets, cell, rng),
		Peaks:  r.entries(raster.ToAgreePeaks, cell, rng),
	}
	if len(d.Onsets) == 0 && len(d.Peaks) == 0 {
		return history.Action{}, false
	}
	a := history.Action{Op: history.Disagree, Cell: cell, Viewport: vp, WasSaved: wasSaved, Dismissal: d}
	r.commit(a)
	return a, true
}

func (r *Reconciler) commit(a history.Action) {
	history.Apply(r.store, &a, history.Forward)
	r.stack.Push(a)
}

func (r *Reconciler) entries(layer raster.Layer, cell int, rng models.Range) []history.Entry {
	var out []history.Entry
	values := r.store.Values(layer, cell, rng)
	for i, v := range values {
		if v != 0 {
			out = append(out, history.Entry{Frame: rng.From + i, Value: v})
		}
	}
	return out
}

// fusion plans the promotion of one layer, or returns nil when the range has no entry
func (r *Reconciler) fusion(target, pending raster.Layer, cell int, rng models.Range, reverse bool) *history.Fusion {
	cleared := r.entries(pending, cell, rng)
	if len(cleared) == 0 {
		return nil
	}

	winner := -1
	var best int8
	pick := func(e history.Entry) {
		if e.Value > best {
			best, winner = e.Value, e.Frame
		}
	}
	if reverse {
		for i := len(cleared) - 1; i >= 0; i-- {
			pick(cleared[i])
		}
	} else {
		for _, e := range cleared {
			pick(e)
		}
	}

	return &history.Fusion{
		Target:       target,
		Winner:       winner,
		WinnerWasSet: winner >= 0 && r.store.Has(target, cell, winner),
		Cleared:      cleared,
	}
}
