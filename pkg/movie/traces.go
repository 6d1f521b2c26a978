package movie

import "image"

// Masks gives the pixels covered by each cell
type Masks interface {
	Cells() int
	Pixels(cell int) []image.Point
}

// RawTraces averages, for every cell and frame, the movie pixels under the cell
// mask. Pixels outside the frame are ignored; a cell without any pixel in the
// frame gets a zero trace.
func RawTraces(m *Movie, masks Masks) [][]float64 {
	traces := make([][]float64, masks.Cells())
	for cell := range traces {
		var idx []int
		for _, p := range masks.Pixels(cell) {
			if p.X < 0 || p.Y < 0 || p.X >= m.width || p.Y >= m.height {
				continue
			}
			idx = append(idx, p.Y*m.width+p.X)
		}

		trace := make([]float64, m.frames)
		if len(idx) > 0 {
			for t := range trace {
				frame := m.Frame(t)
				var sum float64
				for _, i := range idx {
					sum += frame[i]
				}
				trace[t] = sum / float64(len(idx))
			}
		}
		traces[cell] = trace
	}
	return traces
}
