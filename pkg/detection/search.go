package detection

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"stereoframe/internal/logger"
	"stereoframe/internal/models"
	"stereoframe/pkg/config"
)

// NoHint starts the seed search at mid-depth
const NoHint = -1

// Seed is the first classified slice of a run
type Seed struct {
	Slice     int
	Markers   models.MarkerSet
	NbMarkers int
}

// FindSeed tries up to cfg.SeedAttempts consecutive slices starting at the
// hint (or mid-depth) and returns the first one that classifies. When the
// window is exhausted the NoFrame error wraps the last slice failure.
func FindSeed(seg *Segmenter, cfg config.Detection, hint int) (Seed, error) {
	depth := seg.vol.Depth
	start := depth / 2
	if hint != NoHint {
		if hint < 0 || hint >= depth {
			return Seed{}, models.NewNoFrameError(fmt.Sprintf("slice hint %d outside volume depth %d", hint, depth), nil)
		}
		start = hint
	}

	detector := NewDetector(cfg)
	var lastErr error
	tried := 0
	for i := start; i < depth && tried < cfg.SeedAttempts; i++ {
		tried++
		set, n, err := detector.DetectSeedSlice(seg, i)
		if err == nil {
			logger.WithFields(logrus.Fields{
				"slice":   i,
				"markers": n,
				"attempt": tried,
			}).Info("seed slice found")
			return Seed{Slice: i, Markers: set, NbMarkers: n}, nil
		}
		var frameErr *models.FrameError
		if !errors.As(err, &frameErr) {
			return Seed{}, fmt.Errorf("failed to segment slice %d: %w", i, err)
		}
		logger.WithError(err).WithField("slice", i).Debug("seed attempt failed")
		lastErr = err
	}
	return Seed{}, models.NewNoFrameError(fmt.Sprintf("no seed slice in %d attempts from slice %d", tried, start), lastErr)
}

// Detect runs the seed search and propagates in both directions. It
// returns a fresh table; nothing is returned on failure.
func Detect(vol *models.Volume, cfg config.Detection, hint int, progress ProgressFunc) (*models.MarkerTable, error) {
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume: %w", err)
	}
	seg, err := NewSegmenter(vol, cfg)
	if err != nil {
		return nil, err
	}
	seed, err := FindSeed(seg, cfg, hint)
	if err != nil {
		return nil, err
	}

	return PropagateSeed(seg, cfg, seed, progress)
}

// PropagateSeed builds a table from a seed by propagating backward then
// forward
func PropagateSeed(seg *Segmenter, cfg config.Detection, seed Seed, progress ProgressFunc) (*models.MarkerTable, error) {
	table := models.NewMarkerTable()
	table.NbMarkers = seed.NbMarkers
	if err := table.Set(seed.Slice, seed.Markers); err != nil {
		return nil, models.NewGeometryError(seed.Slice, "%v", err)
	}

	_, _, sz := seg.vol.Spacing()
	prop := NewPropagator(seg, cfg.ToleranceFactor*sz, progress)
	back := prop.Propagate(table, seed.Slice, Backward)
	fwd := prop.Propagate(table, seed.Slice, Forward)

	logger.WithFields(logrus.Fields{
		"seed":     seed.Slice,
		"backward": back,
		"forward":  fwd,
		"markers":  table.NbMarkers,
	}).Info("markers propagated")
	return table, nil
}
