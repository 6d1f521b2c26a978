// Package annotation implements the curation session: the command surface the
// UI or the CLI drives, the reconciliation of predictions left by independent
// annotators and the single pending click operation.
//
// Every edit is recorded as a history.Action so it can be undone. Commands run
// synchronously on the caller's goroutine; a Session is not safe for concurrent use.
package annotation

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"cinacgt/internal/models"
	"cinacgt/pkg/config"
	"cinacgt/pkg/detection"
	"cinacgt/pkg/history"
	"cinacgt/pkg/logging"
	"cinacgt/pkg/metrics"
	"cinacgt/pkg/profile"
	"cinacgt/pkg/raster"
)

var (
	// ErrNoTraces is returned by commands that need the fluorescence traces
	ErrNoTraces = errors.New("session has no traces")

	// ErrNoMovie is returned by profile commands when the session has no movie
	ErrNoMovie = errors.New("session has no movie")

	// ErrInvalidShape is returned by NewSession for an empty raster shape
	ErrInvalidShape = errors.New("invalid raster shape")
)

// Options configures a new session. Traces, Movie and Coords are optional:
// without traces no peak is placed after an onset and detection is unavailable,
// without a movie and coordinates the profile commands fail with ErrNoMovie.
type Options struct {
	Cells  int
	Frames int

	Config *config.Config
	Traces profile.Traces
	Movie  profile.Movie
	Coords profile.Coordinates
	Logger *slog.Logger
}

// Session is one curation session over a raster store
type Session struct {
	ID uuid.UUID

	cfg        *config.Config
	store      *raster.Store
	stack      *history.Stack
	reconciler *Reconciler
	detector   *detection.Detector
	engine     *profile.Engine
	traces     profile.Traces
	logger     *slog.Logger

	cellTypes []string
	cell      int
	viewport  models.Viewport
	pending   PendingOperation

	// savedState is the history state persisted by the last save
	savedState    uint64
	labelsChanged bool
}

// NewSession creates a session with empty rasters
func NewSession(opts Options) (*Session, error) {
	if opts.Cells < 1 || opts.Frames < 1 {
		return nil, fmt.Errorf("%w: %d cells x %d frames", ErrInvalidShape, opts.Cells, opts.Frames)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store := raster.NewStore(opts.Cells, opts.Frames)
	stack := history.NewStack(cfg.Annotation.HistorySize)
	params := profile.ParamsFromConfig(cfg)

	s := &Session{
		ID:         uuid.New(),
		cfg:        cfg,
		store:      store,
		stack:      stack,
		reconciler: NewReconciler(store, stack),
		detector:   detection.NewDetector(params.Detection),
		traces:     opts.Traces,
		cellTypes:  make([]string, opts.Cells),
	}
	s.logger = logging.OrDiscard(opts.Logger).With("session", s.ID.String())

	if opts.Movie != nil && opts.Coords != nil && opts.Traces != nil {
		s.engine = profile.NewEngine(params, opts.Traces, opts.Movie, opts.Coords, store, s.logger)
	}
	return s, nil
}

// Store returns the raster store. Callers must not write to it.
func (s *Session) Store() *raster.Store { return s.store }

// History returns the action stack
func (s *Session) History() *history.Stack { return s.stack }

// Engine returns the profile engine, or nil when the session has no movie
func (s *Session) Engine() *profile.Engine { return s.engine }

// Cell returns the current cell
func (s *Session) Cell() int { return s.cell }

// Viewport returns the current display limits
func (s *Session) Viewport() models.Viewport { return s.viewport }

// SelectCell makes cell the current cell
func (s *Session) SelectCell(cell int) error {
	if err := s.store.CheckCell(cell); err != nil {
		return err
	}
	s.cell = cell
	return nil
}

// SetViewport records the display limits stamped on the following edits
func (s *Session) SetViewport(vp models.Viewport) { s.viewport = vp }

// Dirty reports whether the rasters or the cell types differ from the last save
func (s *Session) Dirty() bool { return s.stack.State() != s.savedState || s.labelsChanged }

// MarkSaved records that the current rasters have been persisted
func (s *Session) MarkSaved() {
	s.savedState = s.stack.State()
	s.labelsChanged = false
}

// AddOnset sets the onset of cell at frame. With add-with-peak enabled, the
// argmax of the raw trace in the following peak search window becomes a peak
// in the same action, unless a peak already sits in that window.
func (s *Session) AddOnset(cell, frame int) (bool, error) {
	const command = "add_onset"
	if err := s.store.CheckCell(cell); err != nil {
		return s.fail(command, err)
	}
	if frame < 0 || frame >= s.store.FrameCount() || s.store.Has(raster.Onsets, cell, frame) {
		return s.noop(command)
	}

	a := history.Action{Op: history.AddOnset, Cell: cell, Marks: &history.Marks{Frames: []int{frame}}}
	if s.cfg.Annotation.AddWithPeak {
		if peak, ok := s.peakAfter(cell, frame); ok {
			a.Nested = &history.Action{Op: history.AddPeak, Cell: cell, Marks: &history.Marks{Frames: []int{peak}}}
		}
	}
	s.push(a)
	return true, nil
}

// peakAfter finds the frame to mark as the peak of an onset placed at frame
func (s *Session) peakAfter(cell, frame int) (int, bool) {
	if s.traces == nil {
		return 0, false
	}
	raw := s.traces.Raw(cell)
	rng := models.Range{From: frame, To: frame + s.cfg.PeakSearchFrames() + 1}.Clamp(min(len(raw), s.store.FrameCount()))
	if rng.Empty() || s.store.Count(raster.Peaks, cell, rng) > 0 {
		return 0, false
	}
	return rng.From + floats.MaxIdx(raw[rng.From:rng.To]), true
}

// AddPeak sets the peak of cell at frame
func (s *Session) AddPeak(cell, frame int) (bool, error) {
	const command = "add_peak"
	if err := s.store.CheckCell(cell); err != nil {
		return s.fail(command, err)
	}
	if frame < 0 || frame >= s.store.FrameCount() || s.store.Has(raster.Peaks, cell, frame) {
		return s.noop(command)
	}
	s.push(history.Action{Op: history.AddPeak, Cell: cell, Marks: &history.Marks{Frames: []int{frame}}})
	return true, nil
}

// RemoveOnset clears the onsets of cell inside the range
func (s *Session) RemoveOnset(cell int, rng models.Range) (bool, error) {
	return s.clearEvents(history.RemoveOnset, raster.Onsets, cell, rng)
}

// RemovePeak clears the peaks of cell inside the range
func (s *Session) RemovePeak(cell int, rng models.Range) (bool, error) {
	return s.clearEvents(history.RemovePeak, raster.Peaks, cell, rng)
}

func (s *Session) clearEvents(op history.Op, layer raster.Layer, cell int, rng models.Range) (bool, error) {
	if err := s.store.CheckCell(cell); err != nil {
		return s.fail(op.String(), err)
	}
	frames := s.store.Frames(layer, cell, rng)
	if len(frames) == 0 {
		return s.noop(op.String())
	}
	s.push(history.Action{Op: op, Cell: cell, Marks: &history.Marks{Frames: frames}})
	return true, nil
}

// RemoveAll clears both onsets and peaks of cell inside the range
func (s *Session) RemoveAll(cell int, rng models.Range) (bool, error) {
	command := history.RemoveAll.String()
	if err := s.store.CheckCell(cell); err != nil {
		return s.fail(command, err)
	}
	sweep := &history.Sweep{
		Onsets: s.store.Frames(raster.Onsets, cell, rng),
		Peaks:  s.store.Frames(raster.Peaks, cell, rng),
	}
	if len(sweep.Onsets) == 0 && len(sweep.Peaks) == 0 {
		return s.noop(command)
	}
	s.push(history.Action{Op: history.RemoveAll, Cell: cell, Sweep: sweep})
	return true, nil
}

// AddDoubtfulFrames marks the range of cell as doubtful
func (s *Session) AddDoubtfulFrames(cell int, rng models.Range) (bool, error) {
	return s.markFrames(history.AddDoubtful, raster.Doubtful, cell, rng, true)
}

// RemoveDoubtfulFrames unmarks doubtful frames of cell inside the range
func (s *Session) RemoveDoubtfulFrames(cell int, rng models.Range) (bool, error) {
	return s.markFrames(history.RemoveDoubtful, raster.Doubtful, cell, rng, false)
}

// AddMovementFrames marks the range of cell as corrupted by movement
func (s *Session) AddMovementFrames(cell int, rng models.Range) (bool, error) {
	return s.markFrames(history.AddMovement, raster.Movement, cell, rng, true)
}

// RemoveMovementFrames unmarks movement frames of cell inside the range
func (s *Session) RemoveMovementFrames(cell int, rng models.Range) (bool, error) {
	return s.markFrames(history.RemoveMovement, raster.Movement, cell, rng, false)
}

// markFrames records only the frames whose state flips
func (s *Session) markFrames(op history.Op, layer raster.Layer, cell int, rng models.Range, on bool) (bool, error) {
	if err := s.store.CheckCell(cell); err != nil {
		return s.fail(op.String(), err)
	}
	rng = s.store.Clamp(rng)
	var frames []int
	for i, v := range s.store.Values(layer, cell, rng) {
		if (v != 0) != on {
			frames = append(frames, rng.From+i)
		}
	}
	if len(frames) == 0 {
		return s.noop(op.String())
	}
	s.push(history.Action{Op: op, Cell: cell, Marks: &history.Marks{Frames: frames}})
	return true, nil
}

// Agree promotes the to-agree entries of the range, see Reconciler.Agree
func (s *Session) Agree(cell int, rng models.Range) (bool, error) {
	command := history.Agree.String()
	if err := s.store.CheckCell(cell); err != nil {
		return s.fail(command, err)
	}
	a, ok := s.reconciler.Agree(cell, rng, s.viewport, !s.Dirty())
	if !ok {
		return s.noop(command)
	}
	s.applied(a)
	s.publishPending()
	return true, nil
}

// DontAgree dismisses the to-agree entries of the range, see Reconciler.Disagree
func (s *Session) DontAgree(cell int, rng models.Range) (bool, error) {
	command := history.Disagree.String()
	if err := s.store.CheckCell(cell); err != nil {
		return s.fail(command, err)
	}
	a, ok := s.reconciler.Disagree(cell, rng, s.viewport, !s.Dirty())
	if !ok {
		return s.noop(command)
	}
	s.applied(a)
	s.publishPending()
	return true, nil
}

// Pending returns the to-agree counts of the cell
func (s *Session) Pending(cell int) Pending { return s.reconciler.Pending(cell) }

// PendingAll returns the to-agree counts of every cell
func (s *Session) PendingAll() []Pending { return s.reconciler.PendingAll() }

// Undo reverts the last action and makes its cell and viewport current.
// ok is false when there is nothing to undo.
func (s *Session) Undo() (history.Action, bool) {
	a, ok := s.stack.Undo(s.store)
	metrics.RecordHistory("undo", ok)
	if !ok {
		s.logger.Info("nothing to undo")
		return a, false
	}
	s.cell, s.viewport = a.Cell, a.Viewport
	s.publishPending()
	s.logger.Info("undo", "op", a.Op.String(), "cell", a.Cell, "frames", len(a.Frames()))
	return a, true
}

// Redo re-applies the last undone action and makes its cell and viewport current.
// ok is false when there is nothing to redo.
func (s *Session) Redo() (history.Action, bool) {
	a, ok := s.stack.Redo(s.store)
	metrics.RecordHistory("redo", ok)
	if !ok {
		s.logger.Info("nothing to redo")
		return a, false
	}
	s.cell, s.viewport = a.Cell, a.Viewport
	s.publishPending()
	s.logger.Info("redo", "op", a.Op.String(), "cell", a.Cell, "frames", len(a.Frames()))
	return a, true
}

// DetectCandidates runs detection on the raw trace of cell, restricted to rng when given
func (s *Session) DetectCandidates(cell int, rng *models.Range) (detection.Candidates, error) {
	raw, err := s.rawTrace(cell)
	if err != nil {
		return detection.Candidates{}, err
	}
	if rng == nil {
		return s.detector.Detect(raw), nil
	}
	return s.detector.DetectRange(raw, *rng), nil
}

// AddThemAll replaces the onsets and peaks of cell inside the range with the
// detected candidates. Nothing is recorded when they already match.
func (s *Session) AddThemAll(cell int, rng models.Range) (bool, error) {
	command := history.ReplaceWindow.String()
	raw, err := s.rawTrace(cell)
	if err != nil {
		return s.fail(command, err)
	}
	rng = s.store.Clamp(rng)
	if rng.Empty() {
		return s.noop(command)
	}

	found := s.detector.DetectRange(raw, rng)
	edit := &history.WindowEdit{
		Range:        rng,
		BeforeOnsets: s.store.Frames(raster.Onsets, cell, rng),
		BeforePeaks:  s.store.Frames(raster.Peaks, cell, rng),
		AfterOnsets:  within(found.Onsets, s.store.FrameCount()),
		AfterPeaks:   within(found.Peaks, s.store.FrameCount()),
	}
	if slices.Equal(edit.BeforeOnsets, edit.AfterOnsets) && slices.Equal(edit.BeforePeaks, edit.AfterPeaks) {
		return s.noop(command)
	}
	s.push(history.Action{Op: history.ReplaceWindow, Cell: cell, Window: edit})
	return true, nil
}

// within drops frames past the raster, for traces longer than the recording
func within(frames []int, n int) []int {
	var out []int
	for _, f := range frames {
		if f < n {
			out = append(out, f)
		}
	}
	return out
}

func (s *Session) rawTrace(cell int) ([]float64, error) {
	if err := s.store.CheckCell(cell); err != nil {
		return nil, err
	}
	if s.traces == nil {
		return nil, ErrNoTraces
	}
	return s.traces.Raw(cell), nil
}

// SourceProfile returns the source profile of cell
func (s *Session) SourceProfile(cell int) (*profile.SourceProfile, error) {
	if s.engine == nil {
		return nil, ErrNoMovie
	}
	return s.engine.SourceProfile(cell)
}

// Correlation returns the source/transient correlation of a window of cell
func (s *Session) Correlation(cell int, window models.Window, force bool) (profile.Correlation, error) {
	if s.engine == nil {
		return profile.Undefined, ErrNoMovie
	}
	return s.engine.Correlation(cell, window, force)
}

// Overlay evaluates the advisory flags on every active period of cell
func (s *Session) Overlay(cell int) ([]profile.Flag, error) {
	if s.engine == nil {
		return nil, ErrNoMovie
	}
	if err := s.store.CheckCell(cell); err != nil {
		return nil, err
	}
	return s.engine.Overlay(cell, s.store.ActivePeriods(cell))
}

// InvalidateSource drops the cached source profile and correlations of cell
func (s *Session) InvalidateSource(cell int) {
	if s.engine != nil {
		s.engine.InvalidateSource(cell)
	}
}

// Load replaces the rasters with a new source. Layers missing from snap are
// zeroed, cellTypes may be nil. Shapes are checked before anything changes.
// The history is cleared and the session is considered saved.
func (s *Session) Load(snap raster.Snapshot, cellTypes []string) error {
	if cellTypes != nil && len(cellTypes) != s.store.Cells() {
		return fmt.Errorf("%w: %d cell types, expected %d", raster.ErrShapeMismatch, len(cellTypes), s.store.Cells())
	}
	full := make(raster.Snapshot, len(raster.Layers))
	var empty raster.Snapshot
	for _, l := range raster.Layers {
		if m, ok := snap[l]; ok {
			full[l] = m
			continue
		}
		if empty == nil {
			empty = raster.NewStore(s.store.Cells(), s.store.FrameCount()).Snapshot()
		}
		full[l] = empty[l]
	}
	if err := s.store.Load(full); err != nil {
		return err
	}

	s.cellTypes = make([]string, s.store.Cells())
	copy(s.cellTypes, cellTypes)
	s.stack.Clear()
	if s.engine != nil {
		s.engine.InvalidateAll()
	}
	s.pending = PendingOperation{}
	s.MarkSaved()
	s.publishPending()
	s.logger.Info("rasters loaded", "cells", s.store.Cells(), "frames", s.store.FrameCount())
	return nil
}

// Snapshot returns a deep copy of every layer
func (s *Session) Snapshot() raster.Snapshot { return s.store.Snapshot() }

// Validate reports onset/peak ordering violations without correcting them
func (s *Session) Validate() []raster.Violation { return s.store.Validate() }

// CellTypes returns a copy of the cell type labels
func (s *Session) CellTypes() []string { return slices.Clone(s.cellTypes) }

// SetCellType labels a cell. Labels are not part of the undo history.
func (s *Session) SetCellType(cell int, label string) error {
	if err := s.store.CheckCell(cell); err != nil {
		return err
	}
	if s.cellTypes[cell] != label {
		s.cellTypes[cell] = label
		s.labelsChanged = true
	}
	return nil
}

// PendingOperation returns the armed click mode
func (s *Session) PendingOperation() PendingOperation { return s.pending }

// Begin arms a click mode, dropping any staged click
func (s *Session) Begin(mode Mode) {
	s.pending = PendingOperation{Mode: mode}
}

// Cancel disarms the click mode
func (s *Session) Cancel() {
	s.pending = PendingOperation{}
}

// Click feeds a frame clicked on the current cell to the armed mode. Single
// click modes run at once; range modes stage the first click and run on the
// second over both clicked frames. The mode is disarmed once it ran.
// executed is false when no mode is armed or the click was staged.
func (s *Session) Click(frame int) (executed bool, err error) {
	mode := s.pending.Mode
	switch {
	case mode == ModeNone:
		return false, nil
	case mode.SingleClick():
		s.pending = PendingOperation{}
		if mode == ModeAddOnset {
			_, err = s.AddOnset(s.cell, frame)
		} else {
			_, err = s.AddPeak(s.cell, frame)
		}
		return err == nil, err
	}

	first, staged := s.pending.Staged()
	if !staged {
		s.pending.first = &frame
		return false, nil
	}
	s.pending = PendingOperation{}
	rng := models.Range{From: min(first, frame), To: max(first, frame) + 1}
	if _, err = s.runRange(mode, s.cell, rng); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) runRange(mode Mode, cell int, rng models.Range) (bool, error) {
	switch mode {
	case ModeRemoveOnset:
		return s.RemoveOnset(cell, rng)
	case ModeRemovePeak:
		return s.RemovePeak(cell, rng)
	case ModeRemoveAll:
		return s.RemoveAll(cell, rng)
	case ModeAddDoubtful:
		return s.AddDoubtfulFrames(cell, rng)
	case ModeRemoveDoubtful:
		return s.RemoveDoubtfulFrames(cell, rng)
	case ModeAddMovement:
		return s.AddMovementFrames(cell, rng)
	case ModeRemoveMovement:
		return s.RemoveMovementFrames(cell, rng)
	case ModeAgree:
		return s.Agree(cell, rng)
	case ModeDisagree:
		return s.DontAgree(cell, rng)
	case ModeAddThemAll:
		return s.AddThemAll(cell, rng)
	default:
		return false, fmt.Errorf("mode %s does not take a range", mode)
	}
}

// push stamps the session state on a, applies it and records it
func (s *Session) push(a history.Action) {
	saved := !s.Dirty()
	a.Viewport, a.WasSaved = s.viewport, saved
	for n := a.Nested; n != nil; n = n.Nested {
		n.Viewport, n.WasSaved = s.viewport, saved
	}
	history.Apply(s.store, &a, history.Forward)
	s.stack.Push(a)
	s.applied(a)
}

func (s *Session) applied(a history.Action) {
	metrics.RecordCommand(a.Op.String(), "applied")
	s.logger.Debug("command applied", "op", a.Op.String(), "cell", a.Cell, "frames", a.Frames())
}

func (s *Session) noop(command string) (bool, error) {
	metrics.RecordCommand(command, "noop")
	return false, nil
}

func (s *Session) fail(command string, err error) (bool, error) {
	metrics.RecordCommand(command, "error")
	return false, err
}

func (s *Session) publishPending() {
	var onsets, peaks int
	for _, p := range s.reconciler.PendingAll() {
		onsets += p.Onsets
		peaks += p.Peaks
	}
	metrics.SetPending(onsets, peaks)
}
