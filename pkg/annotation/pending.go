package annotation

import "fmt"

// Mode is the click mode armed by the curator. At most one is active.
type Mode int

const (
	ModeNone Mode = iota
	ModeAddOnset
	ModeAddPeak
	ModeRemoveOnset
	ModeRemovePeak
	ModeRemoveAll
	ModeAddDoubtful
	ModeRemoveDoubtful
	ModeAddMovement
	ModeRemoveMovement
	ModeAgree
	ModeDisagree
	ModeAddThemAll
)

var modeNames = map[Mode]string{
	ModeNone:           "none",
	ModeAddOnset:       "add_onset",
	ModeAddPeak:        "add_peak",
	ModeRemoveOnset:    "remove_onset",
	ModeRemovePeak:     "remove_peak",
	ModeRemoveAll:      "remove_all",
	ModeAddDoubtful:    "add_doubtful_frames",
	ModeRemoveDoubtful: "remove_doubtful_frames",
	ModeAddMovement:    "add_mvt_frames",
	ModeRemoveMovement: "remove_mvt_frames",
	ModeAgree:          "agree",
	ModeDisagree:       "dont_agree",
	ModeAddThemAll:     "add_them_all",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a command name onto its click mode
func ParseMode(name string) (Mode, bool) {
	for m, n := range modeNames {
		if n == name {
			return m, true
		}
	}
	return ModeNone, false
}

// SingleClick reports whether the mode runs on its first click
func (m Mode) SingleClick() bool {
	return m == ModeAddOnset || m == ModeAddPeak
}

// PendingOperation is the armed click mode and, for range modes, the frame of
// the first click once it has happened
type PendingOperation struct {
	Mode  Mode
	first *int
}

// Staged returns the first click of a range mode; ok is false until it happened
func (p PendingOperation) Staged() (frame int, ok bool) {
	if p.first == nil {
		return 0, false
	}
	return *p.first, true
}

// Active reports whether a mode is armed
func (p PendingOperation) Active() bool { return p.Mode != ModeNone }
