package models

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Modality identifies the scanner that produced a volume. It selects the
// intensity cutoff used to segment the frame markers.
type Modality int

const (
	CT Modality = iota
	MR
)

// String returns the DICOM modality code
func (m Modality) String() string {
	switch m {
	case CT:
		return "CT"
	case MR:
		return "MR"
	default:
		return fmt.Sprintf("Modality(%d)", int(m))
	}
}

// ParseModality maps a DICOM modality code onto a Modality
func ParseModality(s string) (Modality, error) {
	switch s {
	case "CT", "ct":
		return CT, nil
	case "MR", "mr", "MRI", "mri":
		return MR, nil
	}
	return CT, fmt.Errorf("unknown modality %q", s)
}

// VoxelSize is the physical size of one voxel in mm
type VoxelSize struct {
	X, Y, Z float64
}

// Volume represents a 3D scan
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	// (index = z*Width*Height + y*Width + x)
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the number of slices
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize VoxelSize

	// Modality selects the marker segmentation cutoff
	Modality Modality

	// Name identifies the volume in logs and default run names
	Name string
}

// NewVolume allocates a zero-filled volume
func NewVolume(width, height, depth int, spacing VoxelSize) *Volume {
	return &Volume{
		Data:      make([]float64, width*height*depth),
		Width:     width,
		Height:    height,
		Depth:     depth,
		VoxelSize: spacing,
	}
}

// Validate checks that the dimensions agree with the data and the spacing is usable
func (v *Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("invalid volume dimensions %dx%dx%d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Width*v.Height*v.Depth {
		return fmt.Errorf("volume data length %d does not match %dx%dx%d", len(v.Data), v.Width, v.Height, v.Depth)
	}
	if v.VoxelSize.X <= 0 || v.VoxelSize.Y <= 0 || v.VoxelSize.Z <= 0 {
		return fmt.Errorf("invalid voxel size %+v", v.VoxelSize)
	}
	return nil
}

// Spacing returns the voxel size as (sx, sy, sz)
func (v *Volume) Spacing() (float64, float64, float64) {
	return v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z
}

// At returns the voxel value at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// Set stores a voxel value at (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[z*v.Width*v.Height+y*v.Width+x] = value
}

// SliceAt returns the 2D grid of slice z. The returned grid shares storage
// with the volume.
func (v *Volume) SliceAt(z int) (Grid, error) {
	if z < 0 || z >= v.Depth {
		return Grid{}, fmt.Errorf("slice %d outside volume depth %d", z, v.Depth)
	}
	n := v.Width * v.Height
	return Grid{
		Data:   v.Data[z*n : (z+1)*n],
		Width:  v.Width,
		Height: v.Height,
	}, nil
}

// MaxValue returns the largest voxel value of the volume
func (v *Volume) MaxValue() float64 {
	if len(v.Data) == 0 {
		return 0
	}
	return floats.Max(v.Data)
}

// Grid is a 2D scalar image in row-major order
type Grid struct {
	Data   []float64
	Width  int
	Height int
}

// At returns the value at column x, row y
func (g Grid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}
