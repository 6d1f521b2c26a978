package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinacgt/pkg/annotation"
	"cinacgt/pkg/raster"
)

type flatTraces [][]float64

func (f flatTraces) Raw(cell int) []float64         { return f[cell] }
func (f flatTraces) Smooth(cell int) []float64      { return f[cell] }
func (f flatTraces) Neuropil(int) ([]float64, bool) { return nil, false }

func newSession(t *testing.T) *annotation.Session {
	t.Helper()
	trace := []float64{0, 1, 2, 1, 0, 1, 2, 1, 0}
	s, err := annotation.NewSession(annotation.Options{
		Cells:  2,
		Frames: len(trace),
		Traces: flatTraces{trace, trace},
	})
	require.NoError(t, err)
	return s
}

func TestParseForms(t *testing.T) {
	obj, err := Parse([]byte(`{commands: [{op: "undo"}, {op: "redo",},],}`))
	require.NoError(t, err)
	assert.Len(t, obj.Commands, 2)

	arr, err := Parse([]byte(`
	// bare array
	[{op: "add_peak", cell: 1, frame: 3}]`))
	require.NoError(t, err)
	require.Len(t, arr.Commands, 1)
	require.NotNil(t, arr.Commands[0].Cell)
	assert.Equal(t, 1, *arr.Commands[0].Cell)

	_, err = Parse([]byte(`[{cell: 1}]`))
	assert.Error(t, err)
	_, err = Parse([]byte(`[{op: `))
	assert.Error(t, err)
}

func TestRunEditsAndHistory(t *testing.T) {
	s := newSession(t)
	sc, err := Parse([]byte(`{
	  commands: [
	    {op: "add_them_all", cell: 0, from: 0, to: 9},
	    {op: "remove_peak", cell: 0, from: 5, to: 7},
	    {op: "remove_peak", cell: 0, from: 5, to: 7},
	    {op: "undo"},
	    {op: "add_doubtful_frames", cell: 1, from: 2, to: 4},
	    {op: "undo"},
	    {op: "redo"},
	    {op: "redo"},
	  ],
	}`))
	require.NoError(t, err)

	results, err := sc.Run(s)
	require.NoError(t, err)
	require.Len(t, results, 8)

	applied := make([]bool, len(results))
	for i, r := range results {
		applied[i] = r.Applied
	}
	assert.Equal(t, []bool{true, true, false, true, true, true, true, false}, applied)
	assert.Equal(t, "nothing to redo", results[7].Detail)

	assert.Equal(t, []int{2, 6}, s.Store().All(raster.Peaks, 0))
	assert.Equal(t, []int{4}, s.Store().All(raster.Onsets, 0))
	assert.Equal(t, []int{2, 3}, s.Store().All(raster.Doubtful, 1))
}

func TestRunClicksAndDetection(t *testing.T) {
	s := newSession(t)
	sc, err := Parse([]byte(`[
	  {op: "select", cell: 1},
	  {op: "begin", mode: "add_peak"},
	  {op: "click", frame: 2},
	  {op: "begin", mode: "remove_all"},
	  {op: "click", frame: 4},
	  {op: "click", frame: 0},
	  {op: "detect_candidates", from: 3, to: 9},
	  {op: "cell_type", label: "interneuron"},
	  {op: "mark_saved"},
	]`))
	require.NoError(t, err)

	results, err := sc.Run(s)
	require.NoError(t, err)
	assert.True(t, results[2].Applied)
	assert.False(t, results[4].Applied, "first click only stages")
	assert.True(t, results[5].Applied)
	assert.Equal(t, "onsets [4] peaks [6]", results[6].Detail)

	assert.Empty(t, s.Store().All(raster.Peaks, 1))
	assert.Equal(t, []string{"", "interneuron"}, s.CellTypes())
	assert.False(t, s.Dirty())
}

func TestRunStopsOnError(t *testing.T) {
	s := newSession(t)
	sc, err := Parse([]byte(`[
	  {op: "add_peak", cell: 0, frame: 1},
	  {op: "add_peak", cell: 9, frame: 1},
	  {op: "add_peak", cell: 0, frame: 2},
	]`))
	require.NoError(t, err)

	results, err := sc.Run(s)
	assert.ErrorIs(t, err, raster.ErrCellOutOfRange)
	assert.Len(t, results, 1)
	assert.Equal(t, []int{1}, s.Store().All(raster.Peaks, 0))

	_, err = (&Script{Commands: []Command{{Op: "explode"}}}).Run(s)
	assert.ErrorIs(t, err, ErrUnknownOp)
	_, err = (&Script{Commands: []Command{{Op: "begin", Mode: "paint"}}}).Run(s)
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestProfileOpsNeedMovie(t *testing.T) {
	s := newSession(t)
	_, err := (&Script{Commands: []Command{{Op: "source_profile"}}}).Run(s)
	assert.ErrorIs(t, err, annotation.ErrNoMovie)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.json5")
	require.NoError(t, os.WriteFile(path, []byte(`[{op: "undo"}]`), 0o644))
	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "undo", sc.Commands[0].Op)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json5"))
	assert.Error(t, err)
}
