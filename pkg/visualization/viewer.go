// Package visualization renders scan slices with the detected frame
// markers drawn on top, for visual checks of a localization run.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"stereoframe/internal/models"
)

// plateColors colours the markers of the left, right and anterior plates
var plateColors = [3]color.RGBA{
	{R: 255, A: 255},
	{G: 255, A: 255},
	{B: 255, A: 255},
}

// PlateColor returns the overlay colour of a role
func PlateColor(role models.Role) color.RGBA {
	return plateColors[role.Plate()]
}

// Viewer extracts 2D views from a volume. Intensities are windowed to the
// volume range.
type Viewer struct {
	vol *models.Volume

	low, high float64

	// MarkerSize is the arm length in pixels of the overlay crosses
	MarkerSize int
}

// NewViewer creates a viewer windowed to the full intensity range of vol
func NewViewer(vol *models.Volume) *Viewer {
	v := &Viewer{vol: vol, MarkerSize: 4}
	if len(vol.Data) > 0 {
		v.low, v.high = floats.Min(vol.Data), floats.Max(vol.Data)
	}
	return v
}

// SetWindow overrides the intensity window
func (v *Viewer) SetWindow(low, high float64) error {
	if high <= low {
		return fmt.Errorf("invalid window [%g, %g]", low, high)
	}
	v.low, v.high = low, high
	return nil
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.high <= v.low {
		return color.Gray16{}
	}
	n := (value - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, n*65535)))}
}

// ExtractSlice extracts a 2D slice along the given axis. Axial (z) slices
// are Width x Height; x slices are Depth x Height; y slices are Width x Depth.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.vol

	switch axis {
	case "x", "X":
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, v.gray(vol.At(position, y, z)))
			}
		}
		return img, nil

	case "y", "Y":
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, v.gray(vol.At(x, position, z)))
			}
		}
		return img, nil

	case "z", "Z":
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, v.gray(vol.At(x, y, position)))
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// Overlay renders axial slice z with a cross at every marker of set
func (v *Viewer) Overlay(z int, set models.MarkerSet) (*image.RGBA, error) {
	base, err := v.ExtractSlice("z", z)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(base.Bounds())
	draw.Draw(img, img.Bounds(), base, image.Point{}, draw.Src)

	sx, sy, _ := v.vol.Spacing()
	for _, role := range set.Roles() {
		p := set.Points[role]
		cx, cy := int(math.Round(p.X/sx)), int(math.Round(p.Y/sy))
		c := PlateColor(role)
		for d := -v.MarkerSize; d <= v.MarkerSize; d++ {
			setIfInside(img, cx+d, cy, c)
			setIfInside(img, cx, cy+d, c)
		}
	}
	return img, nil
}

func setIfInside(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// SaveSlice saves an image as PNG
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Width
	case "y", "Y":
		maxPos = v.vol.Height
	case "z", "Z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveOverlaySequence renders every slice of the table with its markers and
// returns the written file names
func (v *Viewer) SaveOverlaySequence(table *models.MarkerTable, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, models.NewIOError("failed to create overlay directory", err)
	}

	var written []string
	for _, z := range table.Slices() {
		set, _ := table.Get(z)
		img, err := v.Overlay(z, set)
		if err != nil {
			return written, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("overlay_%03d.png", z))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, models.NewIOError(fmt.Sprintf("failed to save overlay %d", z), err)
		}
		written = append(written, filename)
	}
	return written, nil
}
