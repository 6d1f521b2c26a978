package history

import "cinacgt/pkg/raster"

// DefaultLimit is the number of actions kept for undo
const DefaultLimit = 5

// Stack is a bounded undo history with a separate redo stack.
//
// Every pushed action gets the next sequence number. State returns the number
// of the action the rasters currently reflect, so two equal states mean the
// same rasters no matter how many undo and redo steps lie between them.
type Stack struct {
	limit   int
	history []Action
	redo    []Action

	// seq is the last number handed out
	seq uint64
	// base is the state reached when every kept action is undone
	base uint64
}

// NewStack creates a stack keeping at most limit actions; limit < 1 uses DefaultLimit
func NewStack(limit int) *Stack {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Stack{limit: limit}
}

// Push records a fresh user edit. The oldest entry is evicted past the limit and
// the redo stack is cleared.
func (s *Stack) Push(a Action) {
	s.seq++
	a.Seq = s.seq
	s.append(a)
	s.redo = s.redo[:0]
}

func (s *Stack) append(a Action) {
	s.history = append(s.history, a)
	if over := len(s.history) - s.limit; over > 0 {
		s.base = s.history[over-1].Seq
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// Undo reverts the last action and moves it to the redo stack. The returned
// action tells the caller which cell and viewport to restore. ok is false when
// there is nothing to undo.
func (s *Stack) Undo(store *raster.Store) (a Action, ok bool) {
	if len(s.history) == 0 {
		return Action{}, false
	}
	a = s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	Apply(store, &a, Backward)
	s.redo = append(s.redo, a)
	return a, true
}

// Redo re-applies the last undone action and puts it back in the history
// without clearing the remaining redo entries. ok is false when there is nothing to redo.
func (s *Stack) Redo(store *raster.Store) (a Action, ok bool) {
	if len(s.redo) == 0 {
		return Action{}, false
	}
	a = s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	Apply(store, &a, Forward)
	s.append(a)
	return a, true
}

// State returns the sequence number of the last applied action still in the
// history, or of the newest evicted one when the history is empty
func (s *Stack) State() uint64 {
	if len(s.history) == 0 {
		return s.base
	}
	return s.history[len(s.history)-1].Seq
}

// Len returns the number of actions available for undo
func (s *Stack) Len() int { return len(s.history) }

// RedoLen returns the number of actions available for redo
func (s *Stack) RedoLen() int { return len(s.redo) }

// Limit returns the maximum history length
func (s *Stack) Limit() int { return s.limit }

// Peek returns the most recent action without removing it
func (s *Stack) Peek() (Action, bool) {
	if len(s.history) == 0 {
		return Action{}, false
	}
	return s.history[len(s.history)-1], true
}

// Clear drops both stacks, used when a new raster source is loaded. The
// current state becomes the base.
func (s *Stack) Clear() {
	s.history = s.history[:0]
	s.redo = s.redo[:0]
	s.base = s.seq
}
