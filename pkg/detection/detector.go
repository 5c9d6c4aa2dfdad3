// Package detection finds the frame markers in a scan. A seed slice is
// classified from the marker pattern alone, then the marker set is
// propagated slice by slice towards both ends of the volume.
package detection

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"stereoframe/internal/logger"
	"stereoframe/internal/models"
	"stereoframe/pkg/config"
	"stereoframe/pkg/geometry"
)

// Detector classifies the marker blobs of a single slice into roles
type Detector struct {
	cfg config.Detection
}

// NewDetector creates a detector with the given calibration
func NewDetector(cfg config.Detection) *Detector {
	return &Detector{cfg: cfg}
}

// DetectSeedSlice segments one slice and classifies its blobs. It returns
// the marker set with z = slice*sz and the box size (6 or 9).
func (d *Detector) DetectSeedSlice(seg *Segmenter, slice int) (models.MarkerSet, int, error) {
	blobs, err := seg.Blobs(slice)
	if err != nil {
		return models.MarkerSet{}, 0, err
	}
	candidates, err := d.selectCandidates(slice, blobs)
	if err != nil {
		return models.MarkerSet{}, 0, err
	}

	points := make([]r2.Vec, len(candidates))
	for i, b := range candidates {
		points[i] = b.Position
	}
	_, _, sz := seg.vol.Spacing()
	set, err := d.Classify(slice, points, float64(slice)*sz)
	if err != nil {
		return models.MarkerSet{}, 0, err
	}

	logger.WithFields(logrus.Fields{
		"slice":   slice,
		"markers": len(points),
	}).Debug("seed slice classified")
	return set, len(points), nil
}

// selectCandidates drops the head (largest blob) and, when the count is
// wrong, blobs whose size is far from the median
func (d *Detector) selectCandidates(slice int, blobs []Blob) ([]Blob, error) {
	if len(blobs) == 0 {
		return nil, &models.FrameError{Kind: models.ErrNoFrame, Slice: slice, Message: "no blobs above threshold"}
	}

	head := 0
	for i, b := range blobs {
		if b.PixelCount > blobs[head].PixelCount {
			head = i
		}
	}
	candidates := make([]Blob, 0, len(blobs)-1)
	for i, b := range blobs {
		if i != head {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil, &models.FrameError{Kind: models.ErrNoFrame, Slice: slice, Message: "no marker candidates besides the head"}
	}

	if !models.ValidMarkerCount(len(candidates)) && len(candidates) > 5 {
		candidates = d.filterOutliers(candidates)
	}
	if !models.ValidMarkerCount(len(candidates)) {
		return nil, models.NewGeometryError(slice, "found %d marker candidates, expected 6 or 9", len(candidates))
	}
	return candidates, nil
}

func (d *Detector) filterOutliers(blobs []Blob) []Blob {
	sizes := make([]float64, len(blobs))
	for i, b := range blobs {
		sizes[i] = float64(b.PixelCount)
	}
	med := median(sizes)
	low, high := med*d.cfg.OutlierLow, med*d.cfg.OutlierHigh

	kept := make([]Blob, 0, len(blobs))
	for _, b := range blobs {
		size := float64(b.PixelCount)
		if size >= low && size <= high {
			kept = append(kept, b)
		}
	}
	return kept
}

// median averages the two middle values for even counts
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return stat.Mean(sorted[n/2-1:n/2+1], nil)
}

// Classify assigns roles to the in-plane candidate positions of one slice
func (d *Detector) Classify(slice int, points []r2.Vec, z float64) (models.MarkerSet, error) {
	switch len(points) {
	case 6:
		return d.classifyBox6(slice, points, z)
	case 9:
		return d.classifyBox9(slice, points, z)
	}
	return models.MarkerSet{}, models.NewGeometryError(slice, "cannot classify %d candidates", len(points))
}

// extremes returns the indices of the points closest to and farthest from
// the image origin
func extremes(points []r2.Vec) (int, int) {
	near, far := 0, 0
	for i, p := range points {
		r := geometry.RadiusSquared(p)
		if r < geometry.RadiusSquared(points[near]) {
			near = i
		}
		if r > geometry.RadiusSquared(points[far]) {
			far = i
		}
	}
	return near, far
}

func without(points []r2.Vec, skip ...int) []r2.Vec {
	out := make([]r2.Vec, 0, len(points))
	for i, p := range points {
		drop := false
		for _, s := range skip {
			if i == s {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, p)
		}
	}
	return out
}

func (d *Detector) classifyBox6(slice int, points []r2.Vec, z float64) (models.MarkerSet, error) {
	i1, i2 := extremes(points)
	if i1 == i2 {
		return models.MarkerSet{}, models.NewGeometryError(slice, "degenerate candidate layout")
	}
	fid1, fid2 := points[i1], points[i2]

	var near1, near2 []r2.Vec
	for _, p := range without(points, i1, i2) {
		d1 := geometry.Distance2(p, fid1)
		d2 := geometry.Distance2(p, fid2)
		in1, in2 := d1 <= d.cfg.GroupRadius, d2 <= d.cfg.GroupRadius
		switch {
		case in1 && (!in2 || d1 <= d2):
			near1 = append(near1, p)
		case in2:
			near2 = append(near2, p)
		default:
			return models.MarkerSet{}, models.NewGeometryError(slice,
				"candidate (%.1f, %.1f) is not within %g of either anchor", p.X, p.Y, d.cfg.GroupRadius)
		}
	}
	if len(near1) != 2 || len(near2) != 2 {
		return models.MarkerSet{}, models.NewGeometryError(slice,
			"anchor groups hold %d and %d candidates, expected 2 and 2", len(near1), len(near2))
	}
	sortByDistance(near1, fid1)
	sortByDistance(near2, fid2)

	if dist := geometry.Distance2(near1[1], fid1); !d.cfg.TerminalBand.Contains(dist) {
		return models.MarkerSet{}, models.NewGeometryError(slice,
			"left terminal is %.2f from its anchor, expected [%g, %g]", dist, d.cfg.TerminalBand.Min, d.cfg.TerminalBand.Max)
	}
	if dist := geometry.Distance2(near2[1], fid2); !d.cfg.TerminalBand.Contains(dist) {
		return models.MarkerSet{}, models.NewGeometryError(slice,
			"right terminal is %.2f from its anchor, expected [%g, %g]", dist, d.cfg.TerminalBand.Min, d.cfg.TerminalBand.Max)
	}
	if span := geometry.Distance2(fid1, near2[1]); !d.cfg.SpanBand.Contains(span) {
		return models.MarkerSet{}, models.NewGeometryError(slice,
			"frame span is %.2f, expected [%g, %g]", span, d.cfg.SpanBand.Min, d.cfg.SpanBand.Max)
	}

	var set models.MarkerSet
	set.Set(models.LeftAnchor, geometry.Lift(fid1, z))
	set.Set(models.LeftMiddle, geometry.Lift(near1[0], z))
	set.Set(models.LeftTerminal, geometry.Lift(near1[1], z))
	set.Set(models.RightAnchor, geometry.Lift(fid2, z))
	set.Set(models.RightMiddle, geometry.Lift(near2[0], z))
	set.Set(models.RightTerminal, geometry.Lift(near2[1], z))
	return set, nil
}

func sortByDistance(points []r2.Vec, anchor r2.Vec) {
	sort.SliceStable(points, func(i, j int) bool {
		return geometry.Distance2(points[i], anchor) < geometry.Distance2(points[j], anchor)
	})
}

// classifyBox9 labels a 9-candidate slice. Each terminal band is measured
// from its own plate's anchor: LeftTerminal from LeftAnchor, RightTerminal
// from RightAnchor and AnteriorTerminal from AnteriorAnchor. Middles go to
// the nearest anchor.
func (d *Detector) classifyBox9(slice int, points []r2.Vec, z float64) (models.MarkerSet, error) {
	i1, i2 := extremes(points)
	if i1 == i2 {
		return models.MarkerSet{}, models.NewGeometryError(slice, "degenerate candidate layout")
	}
	fid1, fid2 := points[i1], points[i2]
	rest := without(points, i1, i2)

	i3 := -1
	for i, p := range rest {
		if d.cfg.RightAnchorToLeftBand.Contains(geometry.Distance2(p, fid1)) &&
			d.cfg.RightAnchorToAnteriorBand.Contains(geometry.Distance2(p, fid2)) {
			if i3 >= 0 {
				return models.MarkerSet{}, models.NewGeometryError(slice, "right anchor is ambiguous")
			}
			i3 = i
		}
	}
	if i3 < 0 {
		return models.MarkerSet{}, models.NewGeometryError(slice, "no candidate fits the right anchor position")
	}
	fid3 := rest[i3]
	rest = without(rest, i3)

	var set models.MarkerSet
	set.Set(models.LeftAnchor, geometry.Lift(fid1, z))
	set.Set(models.RightAnchor, geometry.Lift(fid3, z))
	set.Set(models.AnteriorAnchor, geometry.Lift(fid2, z))

	plates := []struct {
		anchor   r2.Vec
		middle   models.Role
		terminal models.Role
	}{
		{fid1, models.LeftMiddle, models.LeftTerminal},
		{fid3, models.RightMiddle, models.RightTerminal},
		{fid2, models.AnteriorMiddle, models.AnteriorTerminal},
	}

	for _, pl := range plates {
		best, bestErr := -1, math.Inf(1)
		for i, p := range rest {
			dist := geometry.Distance2(p, pl.anchor)
			if !d.cfg.TerminalBand.Contains(dist) {
				continue
			}
			if e := math.Abs(dist - d.cfg.PostSpacing); e < bestErr {
				best, bestErr = i, e
			}
		}
		if best < 0 {
			return models.MarkerSet{}, models.NewGeometryError(slice, "no candidate fits the %v position", pl.terminal)
		}
		set.Set(pl.terminal, geometry.Lift(rest[best], z))
		rest = without(rest, best)
	}

	for _, p := range rest {
		nearest, nearestDist := 0, math.Inf(1)
		for i, pl := range plates {
			if dist := geometry.Distance2(p, pl.anchor); dist < nearestDist {
				nearest, nearestDist = i, dist
			}
		}
		role := plates[nearest].middle
		if set.Present[role] {
			return models.MarkerSet{}, models.NewGeometryError(slice, "two middle candidates claim the %v position", role)
		}
		set.Set(role, geometry.Lift(p, z))
	}
	return set, nil
}
