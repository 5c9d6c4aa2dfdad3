package detection

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"stereoframe/internal/models"
	"stereoframe/internal/phantom"
	"stereoframe/pkg/config"
	"stereoframe/pkg/geometry"
	"stereoframe/pkg/leksell"
)

// newPhantom renders a synthetic volume, failing the test on error
func newPhantom(t *testing.T, opts phantom.Options) *models.Volume {
	t.Helper()
	vol, err := phantom.New(opts, leksell.Default())
	require.NoError(t, err)
	return vol
}

func TestDetectPerfectBoxes(t *testing.T) {
	for _, markers := range []int{6, 9} {
		t.Run(fmt.Sprintf("%d markers", markers), func(t *testing.T) {
			opts := phantom.DefaultOptions(markers)
			vol := newPhantom(t, opts)

			table, err := Detect(vol, config.DefaultDetection(), NoHint, nil)
			require.NoError(t, err)

			assert.Equal(t, markers, table.NbMarkers)
			assert.Equal(t, opts.Depth, table.Len())
			for _, slice := range table.Slices() {
				set, ok := table.Get(slice)
				require.True(t, ok)
				require.Equal(t, markers, set.Count(), "slice %d", slice)

				for r := 0; r < markers; r++ {
					want := opts.MarkerPosition(leksell.Default(), models.Role(r), slice)
					got, ok := set.Get(models.Role(r))
					require.True(t, ok)
					assert.InDelta(t, 0.0, geometry.Dist3(want, got), 1e-9, "slice %d role %v", slice, models.Role(r))
				}
			}
		})
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	vol := newPhantom(t, phantom.DefaultOptions(9))

	first, err := Detect(vol, config.DefaultDetection(), 12, nil)
	require.NoError(t, err)
	second, err := Detect(vol, config.DefaultDetection(), 12, nil)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second, cmp.AllowUnexported(models.MarkerTable{})))
	assert.True(t, first.Equal(second))
}

func TestDetectFiveCandidatesIsInvalidGeometry(t *testing.T) {
	opts := phantom.DefaultOptions(6)
	opts.Omit = []models.Role{models.RightTerminal}
	vol := newPhantom(t, opts)

	_, err := Detect(vol, config.DefaultDetection(), NoHint, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidGeometry)
	assert.ErrorIs(t, err, models.ErrNoFrame)
}

func TestDetectWidenedSpanIsInvalidGeometry(t *testing.T) {
	opts := phantom.DefaultOptions(6)
	opts.Shift = map[models.Role]r2.Vec{
		models.RightAnchor:   {X: 20},
		models.RightMiddle:   {X: 20},
		models.RightTerminal: {X: 20},
	}
	vol := newPhantom(t, opts)

	seg, err := NewSegmenter(vol, config.DefaultDetection())
	require.NoError(t, err)
	_, _, err = NewDetector(config.DefaultDetection()).DetectSeedSlice(seg, 15)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidGeometry)
	assert.Contains(t, err.Error(), "frame span is 210.00")
}

func TestDetectEmptyVolumeIsNoFrame(t *testing.T) {
	vol := models.NewVolume(64, 64, 12, models.VoxelSize{X: 1, Y: 1, Z: 1})

	_, err := Detect(vol, config.DefaultDetection(), NoHint, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoFrame)
	assert.NotErrorIs(t, err, models.ErrInvalidGeometry)
}

func TestDetectRejectsSizeOutliers(t *testing.T) {
	opts := phantom.DefaultOptions(6)
	opts.Extra = []phantom.Blob{{Center: r2.Vec{X: 120, Y: 8}, Radius: 0, Value: 1000}}
	vol := newPhantom(t, opts)

	seg, err := NewSegmenter(vol, config.DefaultDetection())
	require.NoError(t, err)
	blobs, err := seg.Blobs(15)
	require.NoError(t, err)
	require.Len(t, blobs, 8)

	set, n, err := NewDetector(config.DefaultDetection()).DetectSeedSlice(seg, 15)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, set.Count())
}

func TestPropagationStopsAtFirstMissingSlice(t *testing.T) {
	opts := phantom.DefaultOptions(6)
	opts.From, opts.To = 5, 25
	vol := newPhantom(t, opts)

	var processed []int
	table, err := Detect(vol, config.DefaultDetection(), NoHint, func(slice int, accepted bool) {
		processed = append(processed, slice)
	})
	require.NoError(t, err)

	slices := table.Slices()
	require.Len(t, slices, 20)
	assert.Equal(t, 5, slices[0])
	assert.Equal(t, 24, slices[len(slices)-1])

	// one rejected slice ends each direction
	assert.Contains(t, processed, 4)
	assert.Contains(t, processed, 25)
	assert.NotContains(t, processed, 3)
	assert.NotContains(t, processed, 26)
}

func TestFindSeedHonoursHint(t *testing.T) {
	vol := newPhantom(t, phantom.DefaultOptions(9))
	seg, err := NewSegmenter(vol, config.DefaultDetection())
	require.NoError(t, err)

	seed, err := FindSeed(seg, config.DefaultDetection(), 20)
	require.NoError(t, err)
	assert.Equal(t, 20, seed.Slice)
	assert.Equal(t, 9, seed.NbMarkers)

	_, err = FindSeed(seg, config.DefaultDetection(), 99)
	assert.ErrorIs(t, err, models.ErrNoFrame)
}

func TestFindSeedSkipsUnusableSlices(t *testing.T) {
	opts := phantom.DefaultOptions(6)
	opts.From = 18
	vol := newPhantom(t, opts)
	seg, err := NewSegmenter(vol, config.DefaultDetection())
	require.NoError(t, err)

	seed, err := FindSeed(seg, config.DefaultDetection(), NoHint)
	require.NoError(t, err)
	assert.Equal(t, 18, seed.Slice)

	cfg := config.DefaultDetection()
	cfg.SeedAttempts = 2
	_, err = FindSeed(seg, cfg, NoHint)
	assert.ErrorIs(t, err, models.ErrNoFrame)
}

func TestSegmenterModalityCutoff(t *testing.T) {
	opts := phantom.DefaultOptions(6)
	opts.Modality = models.MR
	vol := newPhantom(t, opts)

	seg, err := NewSegmenter(vol, config.DefaultDetection())
	require.NoError(t, err)
	assert.Equal(t, 500.0, seg.Cutoff())

	table, err := Detect(vol, config.DefaultDetection(), NoHint, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, table.NbMarkers)

	cfg := config.DefaultDetection()
	cfg.Modality = "CT"
	seg, err = NewSegmenter(vol, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.CTThreshold, seg.Cutoff())
}

func TestClassifyBox6Roles(t *testing.T) {
	frame := leksell.Default()
	z := 90.0
	order := []models.Role{
		models.RightMiddle, models.LeftTerminal, models.RightAnchor,
		models.LeftAnchor, models.RightTerminal, models.LeftMiddle,
	}
	points := make([]r2.Vec, len(order))
	for i, r := range order {
		points[i] = geometry.Planar(frame.Position(r, z))
	}

	set, err := NewDetector(config.DefaultDetection()).Classify(3, points, 6)
	require.NoError(t, err)
	for i, r := range order {
		got, ok := set.Get(r)
		require.True(t, ok, "role %v", r)
		assert.Equal(t, points[i], geometry.Planar(got))
		assert.Equal(t, 6.0, got.Z)
	}
}

func TestClassifyBox9Roles(t *testing.T) {
	frame := leksell.Default()
	cfg := config.DefaultDetection()
	z := 90.0
	order := []models.Role{
		models.AnteriorTerminal, models.RightMiddle, models.LeftAnchor,
		models.RightTerminal, models.AnteriorAnchor, models.LeftMiddle,
		models.RightAnchor, models.AnteriorMiddle, models.LeftTerminal,
	}
	points := make([]r2.Vec, len(order))
	for i, r := range order {
		points[i] = geometry.Planar(frame.Position(r, z))
	}

	set, err := NewDetector(cfg).Classify(3, points, 6)
	require.NoError(t, err)
	for i, r := range order {
		got, ok := set.Get(r)
		require.True(t, ok, "role %v", r)
		assert.Equal(t, points[i], geometry.Planar(got))
	}

	// every terminal sits one post spacing from its own plate's anchor
	for anchor, terminal := range map[models.Role]models.Role{
		models.LeftAnchor:     models.LeftTerminal,
		models.RightAnchor:    models.RightTerminal,
		models.AnteriorAnchor: models.AnteriorTerminal,
	} {
		a, _ := set.Get(anchor)
		term, _ := set.Get(terminal)
		assert.True(t, cfg.TerminalBand.Contains(geometry.Distance2(geometry.Planar(a), geometry.Planar(term))), "%v", terminal)
	}
}

func TestClassifyBox9AmbiguousMiddles(t *testing.T) {
	frame := leksell.Default()
	var points []r2.Vec
	for r := 0; r < 9; r++ {
		points = append(points, geometry.Planar(frame.Position(models.Role(r), 90)))
	}
	// move the anterior middle next to the left anchor
	points[models.AnteriorMiddle] = r2.Vec{X: 10, Y: 70}

	_, err := NewDetector(config.DefaultDetection()).Classify(0, points, 0)
	assert.ErrorIs(t, err, models.ErrInvalidGeometry)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 3.0, median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
}
