package detection

import (
	"github.com/sirupsen/logrus"

	"stereoframe/internal/logger"
	"stereoframe/internal/models"
	"stereoframe/pkg/geometry"
)

// Direction is the slice step of a propagation pass
type Direction int

const (
	Backward Direction = -1
	Forward  Direction = 1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ProgressFunc is called after every processed slice. It runs on the
// detection goroutine and must return promptly.
type ProgressFunc func(slice int, accepted bool)

// Propagator extends a marker table from a reference slice to its neighbours
type Propagator struct {
	seg       *Segmenter
	tolerance float64
	progress  ProgressFunc
}

// NewPropagator creates a propagator with the base matching tolerance in mm
func NewPropagator(seg *Segmenter, tolerance float64, progress ProgressFunc) *Propagator {
	return &Propagator{seg: seg, tolerance: tolerance, progress: progress}
}

// Tolerance returns the base matching tolerance
func (p *Propagator) Tolerance() float64 {
	return p.tolerance
}

// Propagate walks from seed in one direction and records every slice whose
// blobs match all markers of the current reference slice. It stops at the
// first slice that does not match and returns the number of slices added.
func (p *Propagator) Propagate(table *models.MarkerTable, seed int, dir Direction) int {
	ref := seed
	refSet, ok := table.Get(seed)
	if !ok {
		return 0
	}
	_, _, sz := p.seg.vol.Spacing()
	depth := p.seg.vol.Depth
	added := 0

	for i := seed + int(dir); i >= 0 && i < depth; i += int(dir) {
		set, matched, err := p.match(i, refSet, table.NbMarkers, float64(i)*sz, p.tolerance*float64(abs(i-ref)))
		accepted := err == nil && matched == table.NbMarkers
		if accepted {
			if err := table.Set(i, set); err != nil {
				accepted = false
			}
		}
		if p.progress != nil {
			p.progress(i, accepted)
		}
		if !accepted {
			logger.WithFields(logrus.Fields{
				"slice":     i,
				"matched":   matched,
				"direction": dir.String(),
			}).Debug("propagation stopped")
			break
		}
		ref, refSet = i, set
		added++
	}
	return added
}

// match pairs the blobs of a slice with the reference markers. Blobs are
// taken in label order and each claims the first free role within tolerance.
func (p *Propagator) match(slice int, ref models.MarkerSet, nbMarkers int, z, tolerance float64) (models.MarkerSet, int, error) {
	blobs, err := p.seg.Blobs(slice)
	if err != nil {
		return models.MarkerSet{}, 0, err
	}

	var set models.MarkerSet
	matched := 0
	for _, b := range blobs {
		for r := 0; r < nbMarkers; r++ {
			role := models.Role(r)
			if set.Present[role] {
				continue
			}
			refPoint, ok := ref.Get(role)
			if !ok {
				continue
			}
			if geometry.Distance2(b.Position, geometry.Planar(refPoint)) <= tolerance {
				set.Set(role, geometry.Lift(b.Position, z))
				matched++
				break
			}
		}
		if matched == nbMarkers {
			break
		}
	}
	return set, matched, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
