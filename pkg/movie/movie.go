// Package movie holds an in-memory calcium-imaging movie and the helpers that
// load it from numbered frame images and export frames back to disk.
package movie

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"cinacgt/internal/models"
)

// Movie is a stack of frames stored row-major, frame after frame
type Movie struct {
	data []float64

	frames int
	height int
	width  int
}

// New wraps data as a movie of the given dimensions. data is not copied.
func New(data []float64, frames, height, width int) (*Movie, error) {
	if frames <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("movie dimensions must be positive, got %dx%dx%d", frames, height, width)
	}
	if len(data) != frames*height*width {
		return nil, fmt.Errorf("movie data has %d values, expected %d", len(data), frames*height*width)
	}
	return &Movie{data: data, frames: frames, height: height, width: width}, nil
}

// Dims returns the number of frames, rows and columns
func (m *Movie) Dims() (frames, height, width int) {
	return m.frames, m.height, m.width
}

// Frame returns frame t as a row-major slice sharing the movie storage.
// Out-of-range frames return nil.
func (m *Movie) Frame(t int) []float64 {
	if t < 0 || t >= m.frames {
		return nil
	}
	size := m.height * m.width
	return m.data[t*size : (t+1)*size : (t+1)*size]
}

// At returns the value of pixel (x, y) in frame t
func (m *Movie) At(t, x, y int) float64 {
	return m.data[t*m.height*m.width+y*m.width+x]
}

// Region copies the pixels of frame t inside the inclusive bounds, row-major
func (m *Movie) Region(t int, b models.Bounds) ([]float64, error) {
	if t < 0 || t >= m.frames {
		return nil, fmt.Errorf("frame %d out of range (frames: %d)", t, m.frames)
	}
	if b.MinX < 0 || b.MinY < 0 || b.MaxX >= m.width || b.MaxY >= m.height || b.MaxX < b.MinX || b.MaxY < b.MinY {
		return nil, fmt.Errorf("region %+v extends beyond %dx%d frame", b, m.width, m.height)
	}

	frame := m.Frame(t)
	region := make([]float64, 0, b.Width()*b.Height())
	for y := b.MinY; y <= b.MaxY; y++ {
		region = append(region, frame[y*m.width+b.MinX:y*m.width+b.MaxX+1]...)
	}
	return region, nil
}

// FrameImage renders frame t as a 16-bit grayscale image stretched between the
// frame's own minimum and maximum
func (m *Movie) FrameImage(t int) (image.Image, error) {
	frame := m.Frame(t)
	if frame == nil {
		return nil, fmt.Errorf("frame %d out of range (frames: %d)", t, m.frames)
	}
	return GrayImage(frame, m.width, m.height), nil
}

// GrayImage renders row-major values as a 16-bit grayscale image stretched
// between their minimum and maximum. A constant image renders black.
func GrayImage(values []float64, width, height int) image.Image {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	if len(values) == 0 {
		return img
	}
	lo, hi := floats.Min(values), floats.Max(values)
	scale := 0.0
	if hi > lo {
		scale = 1 / (hi - lo)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if idx >= len(values) {
				continue
			}
			v := (values[idx] - lo) * scale
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Max(0, math.Min(65535, v*65535)))})
		}
	}
	return img
}

// SaveImage writes img to filename, as JPEG for .jpg/.jpeg and PNG otherwise
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return nil
}

// SaveFrames writes every frame of the movie to outputDir as frame_NNNN.png
func (m *Movie) SaveFrames(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for t := 0; t < m.frames; t++ {
		img, err := m.FrameImage(t)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("frame_%04d.png", t))
		if err := SaveImage(img, filename); err != nil {
			return err
		}
	}
	return nil
}
