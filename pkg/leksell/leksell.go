// Package leksell describes the canonical geometry of the Leksell
// N-localizer box.
//
// Each plate carries two vertical posts 120 mm apart and a diagonal rod
// between them. An axial slice cuts a plate in three markers; the distance
// d between the diagonal (middle) marker and the plate anchor encodes the
// frame height of the slice as Z = d + PitchOffset.
//
//	plate     anchor            middle               terminal
//	left      (5, 40, Z)        (5, 40+d, Z)         (5, 160, Z)
//	right     (195, 160, Z)     (195, 160-d, Z)      (195, 40, Z)
//	anterior  (160, 215, Z)     (160-d, 215, Z)      (40, 215, Z)
package leksell

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"stereoframe/internal/models"
	"stereoframe/pkg/config"
	"stereoframe/pkg/geometry"
)

// Frame computes canonical marker positions
type Frame struct {
	cfg config.Frame
}

// NewFrame creates a Frame from its configuration
func NewFrame(cfg config.Frame) Frame {
	return Frame{cfg: cfg}
}

// Default returns the standard Leksell box
func Default() Frame {
	return NewFrame(config.DefaultFrame())
}

// Config returns the frame configuration
func (f Frame) Config() config.Frame {
	return f.cfg
}

// Position returns the canonical position of a role at frame height z
func (f Frame) Position(role models.Role, z float64) r3.Vec {
	c := f.cfg
	d := z - c.PitchOffset
	switch role {
	case models.LeftAnchor:
		return r3.Vec{X: c.LeftX, Y: c.PostLow, Z: z}
	case models.LeftMiddle:
		return r3.Vec{X: c.LeftX, Y: c.PostLow + d, Z: z}
	case models.LeftTerminal:
		return r3.Vec{X: c.LeftX, Y: c.PostHigh, Z: z}
	case models.RightAnchor:
		return r3.Vec{X: c.RightX, Y: c.PostHigh, Z: z}
	case models.RightMiddle:
		return r3.Vec{X: c.RightX, Y: c.PostHigh - d, Z: z}
	case models.RightTerminal:
		return r3.Vec{X: c.RightX, Y: c.PostLow, Z: z}
	case models.AnteriorAnchor:
		return r3.Vec{X: c.PostHigh, Y: c.AnteriorY, Z: z}
	case models.AnteriorMiddle:
		return r3.Vec{X: c.PostHigh - d, Y: c.AnteriorY, Z: z}
	case models.AnteriorTerminal:
		return r3.Vec{X: c.PostLow, Y: c.AnteriorY, Z: z}
	}
	panic(fmt.Sprintf("leksell: invalid role %d", int(role)))
}

// PlateHeight returns the frame height measured by one plate of a slice:
// the in-plane distance from the middle marker to the plate anchor plus the
// pitch offset.
func (f Frame) PlateHeight(set models.MarkerSet, plate int) (float64, error) {
	anchor := models.Role(plate * 3)
	middle := anchor + 1
	a, okA := set.Get(anchor)
	m, okM := set.Get(middle)
	if !okA || !okM {
		return 0, fmt.Errorf("plate %d is missing its anchor or middle marker", plate)
	}
	return geometry.PlanarDistance(m, a) + f.cfg.PitchOffset, nil
}

// Target returns the canonical position a detected marker corresponds to.
// Terminal and anchor coordinates are fixed; the height comes from the
// middle marker of the same plate.
func (f Frame) Target(role models.Role, set models.MarkerSet) (r3.Vec, error) {
	z, err := f.PlateHeight(set, role.Plate())
	if err != nil {
		return r3.Vec{}, err
	}
	return f.Position(role, z), nil
}
