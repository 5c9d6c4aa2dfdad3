package volumeio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/tiff"

	"stereoframe/internal/logger"
	"stereoframe/internal/models"
)

var stackExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
}

// ImageStack is a directory of slice images ordered by the number in their
// file names. Pixel intensities are scaled to [0, 1].
type ImageStack struct {
	Dir      string
	Spacing  models.VoxelSize
	Modality models.Modality
}

// Name returns the directory name
func (s ImageStack) Name() string {
	return filepath.Base(filepath.Clean(s.Dir))
}

// Load reads every slice image of the directory
func (s ImageStack) Load() (*models.Volume, error) {
	files, err := s.sliceFiles()
	if err != nil {
		return nil, err
	}

	var vol *models.Volume
	for z, name := range files {
		img, err := loadImage(filepath.Join(s.Dir, name))
		if err != nil {
			return nil, models.NewIOError(fmt.Sprintf("failed to load image %s", name), err)
		}
		b := img.Bounds()
		if vol == nil {
			vol = models.NewVolume(b.Dx(), b.Dy(), len(files), s.Spacing)
			vol.Modality = s.Modality
			vol.Name = s.Name()
		} else if b.Dx() != vol.Width || b.Dy() != vol.Height {
			return nil, models.NewIOError(fmt.Sprintf("image %s is %dx%d, expected %dx%d",
				name, b.Dx(), b.Dy(), vol.Width, vol.Height), nil)
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				vol.Set(x, y, z, float64(g.Y)/65535.0)
			}
		}
	}
	if err := vol.Validate(); err != nil {
		return nil, models.NewIOError("invalid image stack", err)
	}

	logger.WithFields(logrus.Fields{
		"dir":    s.Dir,
		"slices": vol.Depth,
		"width":  vol.Width,
		"height": vol.Height,
	}).Info("loaded image stack")
	return vol, nil
}

func (s ImageStack) sliceFiles() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, models.NewIOError("failed to read stack directory", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if stackExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, models.NewIOError(fmt.Sprintf("no slice images found in %s", s.Dir), nil)
	}

	// numeric order keeps slice_10 after slice_9
	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	return files, nil
}

// extractNumber extracts the digits of a file name, ignoring the extension
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
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

// WriteStack stores a volume as 16-bit PNG slices named slice_NNN.png.
// Intensities are scaled so that the volume maximum maps to white.
func WriteStack(dir string, vol *models.Volume) error {
	if err := vol.Validate(); err != nil {
		return models.NewIOError("invalid volume", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.NewIOError("failed to create stack directory", err)
	}

	maxVal := vol.MaxValue()
	if maxVal <= 0 {
		maxVal = 1
	}
	for z := 0; z < vol.Depth; z++ {
		img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				v := vol.At(x, y, z) / maxVal
				if v < 0 {
					v = 0
				}
				img.SetGray16(x, y, color.Gray16{Y: uint16(v*65535 + 0.5)})
			}
		}
		if err := writePNG(filepath.Join(dir, fmt.Sprintf("slice_%03d.png", z)), img); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return models.NewIOError("failed to create image file", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return models.NewIOError("failed to encode image", err)
	}
	return nil
}
