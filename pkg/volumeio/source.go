// Package volumeio loads scans from disk. A scan is either a directory of
// numbered slice images or a DICOM series.
package volumeio

import (
	"stereoframe/internal/models"
)

// Source supplies a volume to the pipeline
type Source interface {
	// Name identifies the scan in logs and run names
	Name() string

	// Load reads the volume
	Load() (*models.Volume, error)
}

// VolumeSource wraps an in-memory volume
type VolumeSource struct {
	Volume *models.Volume
}

// Name returns the volume name, empty when no volume is wrapped
func (s VolumeSource) Name() string {
	if s.Volume == nil {
		return ""
	}
	return s.Volume.Name
}

// Load returns the wrapped volume
func (s VolumeSource) Load() (*models.Volume, error) {
	if s.Volume == nil {
		return nil, models.NewIOError("no volume to load", nil)
	}
	return s.Volume, nil
}
