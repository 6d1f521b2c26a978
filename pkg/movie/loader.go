package movie

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cinacgt/pkg/logging"
)

var frameExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// LoadFrames reads every PNG or JPEG image in dir as one frame, ordered by the
// number embedded in the file name. Pixel values are the red channel scaled to
// [0, 1]; all frames must share the size of the first one.
func LoadFrames(dir string, logger *slog.Logger) (*Movie, error) {
	logger = logging.OrDiscard(logger)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frame images found in %s", dir)
	}

	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	var data []float64
	var width, height int
	for i, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load frame %s: %w", name, err)
		}
		b := img.Bounds()
		if i == 0 {
			width, height = b.Dx(), b.Dy()
			data = make([]float64, 0, len(names)*width*height)
		} else if b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("frame %s is %dx%d, expected %dx%d", name, b.Dx(), b.Dy(), width, height)
		}
		data = appendPixels(data, img)
	}

	logger.Info("loaded movie", "dir", dir, "frames", len(names), "width", width, "height", height)
	return New(data, len(names), height, width)
}

// extractNumber returns the digits of the file name as an integer, or 0 when it has none
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	num, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return num
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func appendPixels(dst []float64, img image.Image) []float64 {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			dst = append(dst, float64(r)/65535.0)
		}
	}
	return dst
}
