package history

import (
	"testing"

	"cinacgt/internal/models"
	"cinacgt/pkg/raster"
)

// pushApplied applies an action forward and records it, the way the session does
func pushApplied(s *Stack, store *raster.Store, a Action) {
	Apply(store, &a, Forward)
	s.Push(a)
}

func onsetAction(frame int) Action {
	return Action{Op: AddOnset, Cell: 0, Marks: &Marks{Frames: []int{frame}}}
}

func TestHistoryNeverExceedsLimit(t *testing.T) {
	store := raster.NewStore(1, 20)
	s := NewStack(5)

	for f := 0; f < 6; f++ {
		pushApplied(s, store, onsetAction(f))
		if s.Len() > 5 {
			t.Fatalf("History length %d exceeds limit", s.Len())
		}
	}
	if s.Len() != 5 {
		t.Fatalf("Expected 5 entries, got %d", s.Len())
	}

	// the oldest entry (frame 0) was evicted, so five undos leave it in place
	for i := 0; i < 5; i++ {
		if _, ok := s.Undo(store); !ok {
			t.Fatalf("Undo %d reported nothing to undo", i)
		}
	}
	if _, ok := s.Undo(store); ok {
		t.Error("Sixth undo should report nothing to undo")
	}
	if !store.Has(raster.Onsets, 0, 0) {
		t.Error("Evicted action should not have been undone")
	}
	for f := 1; f < 6; f++ {
		if store.Has(raster.Onsets, 0, f) {
			t.Errorf("Onset %d should have been undone", f)
		}
	}
}

func TestPushClearsRedo(t *testing.T) {
	store := raster.NewStore(1, 10)
	s := NewStack(5)

	pushApplied(s, store, onsetAction(1))
	pushApplied(s, store, onsetAction(2))
	s.Undo(store)
	if s.RedoLen() != 1 {
		t.Fatalf("Expected 1 redo entry, got %d", s.RedoLen())
	}

	pushApplied(s, store, onsetAction(3))
	if s.RedoLen() != 0 {
		t.Errorf("Fresh push should clear redo, got %d entries", s.RedoLen())
	}
	if _, ok := s.Redo(store); ok {
		t.Error("Redo after a fresh push should report nothing to redo")
	}
}

func TestRedoKeepsRemainingRedoEntries(t *testing.T) {
	store := raster.NewStore(1, 10)
	s := NewStack(5)

	pushApplied(s, store, onsetAction(1))
	pushApplied(s, store, onsetAction(2))
	s.Undo(store)
	s.Undo(store)

	a, ok := s.Redo(store)
	if !ok || a.Marks.Frames[0] != 1 {
		t.Fatalf("Expected to redo frame 1, got %+v ok=%v", a, ok)
	}
	if s.RedoLen() != 1 {
		t.Errorf("Redo must not clear the redo stack, got %d entries", s.RedoLen())
	}
	if _, ok := s.Redo(store); !ok {
		t.Fatal("Second redo failed")
	}
	if !store.Has(raster.Onsets, 0, 1) || !store.Has(raster.Onsets, 0, 2) {
		t.Error("Both onsets should be restored")
	}
}

func TestUndoReturnsCellAndViewport(t *testing.T) {
	store := raster.NewStore(3, 10)
	s := NewStack(5)
	vp := models.Viewport{XMin: 100, XMax: 300, YMin: -1, YMax: 4}

	pushApplied(s, store, Action{Op: AddPeak, Cell: 2, Viewport: vp, Marks: &Marks{Frames: []int{4}}})
	a, ok := s.Undo(store)
	if !ok {
		t.Fatal("Expected undo to succeed")
	}
	if a.Cell != 2 || a.Viewport != vp {
		t.Errorf("Expected cell 2 and viewport %+v, got cell %d viewport %+v", vp, a.Cell, a.Viewport)
	}
}

func TestEmptyStacksAreNoOps(t *testing.T) {
	store := raster.NewStore(1, 3)
	s := NewStack(0)
	if s.Limit() != DefaultLimit {
		t.Errorf("Expected default limit %d, got %d", DefaultLimit, s.Limit())
	}
	if _, ok := s.Undo(store); ok {
		t.Error("Undo on empty stack should report nothing to undo")
	}
	if _, ok := s.Redo(store); ok {
		t.Error("Redo on empty stack should report nothing to redo")
	}
}

func TestStateTracksUndoAndRedo(t *testing.T) {
	store := raster.NewStore(1, 20)
	s := NewStack(2)
	if s.State() != 0 {
		t.Fatalf("Expected initial state 0, got %d", s.State())
	}

	pushApplied(s, store, onsetAction(1))
	first := s.State()
	pushApplied(s, store, onsetAction(2))
	second := s.State()
	if first == 0 || second == first {
		t.Fatalf("Each push should produce a new state, got %d then %d", first, second)
	}

	s.Undo(store)
	if s.State() != first {
		t.Errorf("Expected state %d after undo, got %d", first, s.State())
	}
	s.Redo(store)
	if s.State() != second {
		t.Errorf("Expected state %d after redo, got %d", second, s.State())
	}

	// evicting the first action makes it the base of the history
	pushApplied(s, store, onsetAction(3))
	s.Undo(store)
	s.Undo(store)
	if s.Len() != 0 || s.State() != first {
		t.Errorf("Expected the evicted state %d, got %d", first, s.State())
	}

	s.Clear()
	cleared := s.State()
	pushApplied(s, store, onsetAction(4))
	if s.State() == cleared {
		t.Error("A push after Clear should leave the cleared state")
	}
}
