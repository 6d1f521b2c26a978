// Package script replays curation commands written in a JSON5 file against a
// session, the way a curator would issue them from the GUI.
//
//	{
//	  commands: [
//	    {op: "add_onset", cell: 0, frame: 12},
//	    {op: "remove_all", cell: 0, from: 40, to: 60},
//	    {op: "undo"},
//	    {op: "agree", cell: 1, from: 10, to: 15},
//	  ],
//	}
package script

import (
	"errors"
	"fmt"
	"os"
	"strings"

	json "github.com/KevinWang15/go-json5"

	"cinacgt/internal/models"
	"cinacgt/pkg/annotation"
)

// ErrUnknownOp is returned for a command name the runner does not handle
var ErrUnknownOp = errors.New("unknown command")

// Command is one scripted step. Fields not used by the op are ignored.
type Command struct {
	Op    string `json:"op"`
	Cell  *int   `json:"cell"`
	Frame int    `json:"frame"`

	From int `json:"from"`
	To   int `json:"to"`

	Onset int  `json:"onset"`
	Peak  int  `json:"peak"`
	Force bool `json:"force"`

	Mode  string `json:"mode"`
	Label string `json:"label"`

	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
}

// Script is an ordered list of commands
type Script struct {
	Commands []Command `json:"commands"`
}

// Result reports the outcome of one command
type Result struct {
	Index   int
	Op      string
	Applied bool
	Detail  string
}

func (r Result) String() string {
	status := "noop"
	if r.Applied {
		status = "applied"
	}
	if r.Detail == "" {
		return fmt.Sprintf("#%d %s: %s", r.Index, r.Op, status)
	}
	return fmt.Sprintf("#%d %s: %s (%s)", r.Index, r.Op, status, r.Detail)
}

// Parse decodes a script. The top level may be an object with a commands
// array or the array itself.
func Parse(data []byte) (*Script, error) {
	trimmed := strings.TrimSpace(string(data))
	var s Script
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &s.Commands); err != nil {
			return nil, fmt.Errorf("failed to parse script: %w", err)
		}
	} else if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i, c := range s.Commands {
		if c.Op == "" {
			return nil, fmt.Errorf("command %d: missing op", i)
		}
	}
	return &s, nil
}

// Load reads and parses the script at path
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Run executes the commands in order and stops at the first error. The
// results of the commands run so far are returned with it.
func (s *Script) Run(session *annotation.Session) ([]Result, error) {
	results := make([]Result, 0, len(s.Commands))
	for i, c := range s.Commands {
		r, err := run(session, c)
		r.Index, r.Op = i, c.Op
		if err != nil {
			return results, fmt.Errorf("command %d (%s): %w", i, c.Op, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func run(s *annotation.Session, c Command) (Result, error) {
	cell := s.Cell()
	if c.Cell != nil {
		cell = *c.Cell
	}
	rng := models.Range{From: c.From, To: c.To}

	var applied bool
	var err error
	switch c.Op {
	case "add_onset":
		applied, err = s.AddOnset(cell, c.Frame)
	case "add_peak":
		applied, err = s.AddPeak(cell, c.Frame)
	case "remove_onset":
		applied, err = s.RemoveOnset(cell, rng)
	case "remove_peak":
		applied, err = s.RemovePeak(cell, rng)
	case "remove_all":
		applied, err = s.RemoveAll(cell, rng)
	case "add_doubtful_frames":
		applied, err = s.AddDoubtfulFrames(cell, rng)
	case "remove_doubtful_frames":
		applied, err = s.RemoveDoubtfulFrames(cell, rng)
	case "add_mvt_frames":
		applied, err = s.AddMovementFrames(cell, rng)
	case "remove_mvt_frames":
		applied, err = s.RemoveMovementFrames(cell, rng)
	case "agree":
		applied, err = s.Agree(cell, rng)
	case "dont_agree":
		applied, err = s.DontAgree(cell, rng)
	case "add_them_all":
		applied, err = s.AddThemAll(cell, rng)
	case "undo":
		a, ok := s.Undo()
		if !ok {
			return Result{Detail: "nothing to undo"}, nil
		}
		return Result{Applied: true, Detail: a.Op.String()}, nil
	case "redo":
		a, ok := s.Redo()
		if !ok {
			return Result{Detail: "nothing to redo"}, nil
		}
		return Result{Applied: true, Detail: a.Op.String()}, nil

	case "detect_candidates":
		var r *models.Range
		if c.To > c.From {
			r = &rng
		}
		found, err := s.DetectCandidates(cell, r)
		if err != nil {
			return Result{}, err
		}
		return Result{Detail: fmt.Sprintf("onsets %v peaks %v", found.Onsets, found.Peaks)}, nil
	case "source_profile":
		sp, err := s.SourceProfile(cell)
		if err != nil {
			return Result{}, err
		}
		return Result{Detail: fmt.Sprintf("%d windows", len(sp.Windows))}, nil
	case "correlation":
		corr, err := s.Correlation(cell, models.Window{Cell: cell, Onset: c.Onset, Peak: c.Peak}, c.Force)
		if err != nil {
			return Result{}, err
		}
		return Result{Detail: corr.String()}, nil
	case "overlay":
		flags, err := s.Overlay(cell)
		if err != nil {
			return Result{}, err
		}
		n := 0
		for _, f := range flags {
			if f.Flagged() {
				n++
			}
		}
		return Result{Detail: fmt.Sprintf("%d of %d periods flagged", n, len(flags))}, nil

	case "select":
		return Result{Applied: true}, s.SelectCell(cell)
	case "viewport":
		s.SetViewport(models.Viewport{XMin: c.XMin, XMax: c.XMax, YMin: c.YMin, YMax: c.YMax})
		return Result{Applied: true}, nil
	case "cell_type":
		return Result{Applied: true}, s.SetCellType(cell, c.Label)
	case "begin":
		mode, ok := annotation.ParseMode(c.Mode)
		if !ok {
			return Result{}, fmt.Errorf("%w: mode %q", ErrUnknownOp, c.Mode)
		}
		s.Begin(mode)
		return Result{Applied: true, Detail: mode.String()}, nil
	case "click":
		applied, err = s.Click(c.Frame)
	case "cancel":
		s.Cancel()
		return Result{Applied: true}, nil
	case "mark_saved":
		s.MarkSaved()
		return Result{Applied: true}, nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownOp, c.Op)
	}
	return Result{Applied: applied}, err
}
