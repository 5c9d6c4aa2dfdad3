package detection

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"stereoframe/internal/models"
	"stereoframe/pkg/config"
	"stereoframe/pkg/segmentation"
)

// Blob is a segmented component with its centroid in mm
type Blob struct {
	segmentation.Component
	Position r2.Vec
}

// Segmenter turns one slice of a volume into marker-sized blobs. The
// intensity cutoff is fixed when the segmenter is created.
type Segmenter struct {
	vol    *models.Volume
	cfg    config.Detection
	cutoff float64
}

// NewSegmenter derives the cutoff for a volume. A modality set in the
// configuration wins over the one stored in the volume.
func NewSegmenter(vol *models.Volume, cfg config.Detection) (*Segmenter, error) {
	modality := vol.Modality
	if cfg.Modality != "" {
		m, err := models.ParseModality(cfg.Modality)
		if err != nil {
			return nil, err
		}
		modality = m
	}

	var cutoff float64
	switch modality {
	case models.CT:
		cutoff = cfg.CTThreshold
	case models.MR:
		cutoff = cfg.MRThresholdFraction * vol.MaxValue()
	default:
		return nil, fmt.Errorf("unsupported modality %v", modality)
	}
	return &Segmenter{vol: vol, cfg: cfg, cutoff: cutoff}, nil
}

// Cutoff returns the intensity threshold in use
func (s *Segmenter) Cutoff() float64 {
	return s.cutoff
}

// Blobs thresholds, fills and dilates a slice and returns its connected
// components in label order
func (s *Segmenter) Blobs(slice int) ([]Blob, error) {
	grid, err := s.vol.SliceAt(slice)
	if err != nil {
		return nil, err
	}
	mask := segmentation.Threshold(grid, segmentation.Above(s.cutoff))
	mask, err = segmentation.Morphology(mask, segmentation.OpFillHoles, 0)
	if err != nil {
		return nil, err
	}
	mask, err = segmentation.Morphology(mask, segmentation.OpDilate, s.cfg.DilateRadius)
	if err != nil {
		return nil, err
	}

	comps := segmentation.Stats(segmentation.Label(mask))
	sx, sy, _ := s.vol.Spacing()
	blobs := make([]Blob, len(comps))
	for i, c := range comps {
		blobs[i] = Blob{
			Component: c,
			Position:  r2.Vec{X: c.Centroid.X * sx, Y: c.Centroid.Y * sy},
		}
	}
	return blobs, nil
}
