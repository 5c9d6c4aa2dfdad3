// Package phantom builds synthetic scans of a head inside a Leksell box.
// The markers are drawn as discs centred on whole pixels so that their
// segmented centroids equal the nominal positions exactly.
package phantom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"stereoframe/internal/models"
	"stereoframe/pkg/leksell"
)

// Options controls the synthetic volume
type Options struct {
	Markers int
	Width   int
	Height  int
	Depth   int
	Spacing models.VoxelSize

	// Offset is the image position (mm) of the frame origin
	Offset r2.Vec

	// BaseHeight is the frame height of slice 0
	BaseHeight float64

	MarkerRadius int
	MarkerValue  float64

	// HeadRadius is the radius in pixels of the head disc; 0 draws no head
	HeadRadius int
	HeadValue  float64

	Modality models.Modality

	// Omit lists roles that are not drawn
	Omit []models.Role

	// Shift displaces roles (mm) from their canonical position
	Shift map[models.Role]r2.Vec

	// Extra adds stray blobs (pixel centre and radius) to every slice
	Extra []Blob

	// Slices restricts drawing of the markers to [From, To); zero To means all
	From, To int
}

// Blob is a stray disc
type Blob struct {
	Center r2.Vec
	Radius int
	Value  float64
}

// DefaultOptions returns a 256x256x30 CT phantom at 1x1x2 mm
func DefaultOptions(markers int) Options {
	return Options{
		Markers:      markers,
		Width:        256,
		Height:       256,
		Depth:        30,
		Spacing:      models.VoxelSize{X: 1, Y: 1, Z: 2},
		Offset:       r2.Vec{X: 20, Y: 20},
		BaseHeight:   60,
		MarkerRadius: 3,
		MarkerValue:  1000,
		HeadRadius:   40,
		HeadValue:    800,
		Modality:     models.CT,
	}
}

// FrameHeight returns the frame height of a slice
func (o Options) FrameHeight(slice int) float64 {
	return o.BaseHeight + float64(slice)*o.Spacing.Z
}

func (o Options) omitted(role models.Role) bool {
	for _, r := range o.Omit {
		if r == role {
			return true
		}
	}
	return false
}

func (o Options) drawn(slice int) bool {
	if o.To == 0 {
		return slice >= o.From
	}
	return slice >= o.From && slice < o.To
}

// MarkerPosition returns the scan position (mm, z = slice*sz) of a role in a slice
func (o Options) MarkerPosition(frame leksell.Frame, role models.Role, slice int) r3.Vec {
	p := frame.Position(role, o.FrameHeight(slice))
	shift := o.Shift[role]
	return r3.Vec{
		X: p.X + o.Offset.X + shift.X,
		Y: p.Y + o.Offset.Y + shift.Y,
		Z: float64(slice) * o.Spacing.Z,
	}
}

// New renders the phantom volume
func New(opts Options, frame leksell.Frame) (*models.Volume, error) {
	if !models.ValidMarkerCount(opts.Markers) {
		return nil, fmt.Errorf("phantom: unsupported marker count %d", opts.Markers)
	}
	vol := models.NewVolume(opts.Width, opts.Height, opts.Depth, opts.Spacing)
	vol.Modality = opts.Modality
	vol.Name = fmt.Sprintf("phantom-%d", opts.Markers)

	fc := frame.Config()
	centerX := (fc.LeftX+fc.RightX)/2 + opts.Offset.X
	centerY := (fc.PostLow+fc.PostHigh)/2 + opts.Offset.Y

	for z := 0; z < opts.Depth; z++ {
		if opts.HeadRadius > 0 {
			drawDisc(vol, z, centerX/opts.Spacing.X, centerY/opts.Spacing.Y, opts.HeadRadius, opts.HeadValue)
		}
		for _, b := range opts.Extra {
			drawDisc(vol, z, b.Center.X, b.Center.Y, b.Radius, b.Value)
		}
		if !opts.drawn(z) {
			continue
		}
		for r := 0; r < opts.Markers; r++ {
			role := models.Role(r)
			if opts.omitted(role) {
				continue
			}
			p := opts.MarkerPosition(frame, role, z)
			drawDisc(vol, z, p.X/opts.Spacing.X, p.Y/opts.Spacing.Y, opts.MarkerRadius, opts.MarkerValue)
		}
	}
	return vol, nil
}

func drawDisc(vol *models.Volume, z int, cx, cy float64, radius int, value float64) {
	x0, y0 := int(math.Round(cx)), int(math.Round(cy))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			x, y := x0+dx, y0+dy
			if x < 0 || y < 0 || x >= vol.Width || y >= vol.Height {
				continue
			}
			vol.Set(x, y, z, value)
		}
	}
}
