package visualization

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"stereoframe/internal/models"
	"stereoframe/internal/phantom"
	"stereoframe/pkg/config"
	"stereoframe/pkg/detection"
	"stereoframe/pkg/leksell"
)

// rampVolume gives every axial slice a constant value z/(depth-1)
func rampVolume(width, height, depth int) *models.Volume {
	vol := models.NewVolume(width, height, depth, models.VoxelSize{X: 1, Y: 1, Z: 2})
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(x, y, z, float64(z)/float64(depth-1))
			}
		}
	}
	return vol
}

func TestExtractSlice(t *testing.T) {
	vol := rampVolume(10, 8, 5)
	viewer := NewViewer(vol)

	for z := 0; z < vol.Depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 10, 8), img.Bounds())

		want := float64(z) / 4 * 65535
		assert.InDelta(t, want, float64(img.Gray16At(5, 4).Y), 1.0, "slice %d", z)
	}

	imgX, err := viewer.ExtractSlice("x", 3)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 8), imgX.Bounds())
	assert.Equal(t, uint16(65535), imgX.Gray16At(4, 0).Y)

	imgY, err := viewer.ExtractSlice("Y", 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 5), imgY.Bounds())
	assert.Equal(t, uint16(0), imgY.Gray16At(0, 0).Y)
}

func TestExtractSliceErrors(t *testing.T) {
	viewer := NewViewer(rampVolume(4, 4, 3))

	tests := []struct {
		axis string
		pos  int
	}{
		{"z", -1},
		{"z", 3},
		{"x", 4},
		{"y", 4},
		{"w", 0},
	}
	for _, tt := range tests {
		_, err := viewer.ExtractSlice(tt.axis, tt.pos)
		assert.Error(t, err, "axis %s position %d", tt.axis, tt.pos)
	}

	assert.Error(t, viewer.SetWindow(2, 1))
	assert.Error(t, viewer.SaveSliceSequence("q", t.TempDir()))
}

func TestWindowClampsIntensities(t *testing.T) {
	viewer := NewViewer(rampVolume(4, 4, 5))
	require.NoError(t, viewer.SetWindow(0.25, 0.5))

	img, err := viewer.ExtractSlice("z", 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), img.Gray16At(0, 0).Y)

	img, err = viewer.ExtractSlice("z", 4)
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), img.Gray16At(0, 0).Y)
}

func TestOverlayDrawsMarkers(t *testing.T) {
	vol := models.NewVolume(40, 40, 2, models.VoxelSize{X: 0.5, Y: 0.5, Z: 1})
	viewer := NewViewer(vol)

	var set models.MarkerSet
	set.Set(models.LeftAnchor, r3.Vec{X: 5, Y: 5})
	set.Set(models.RightAnchor, r3.Vec{X: 10, Y: 2})
	set.Set(models.AnteriorTerminal, r3.Vec{X: 19.5, Y: 19.5})

	img, err := viewer.Overlay(1, set)
	require.NoError(t, err)

	assert.Equal(t, PlateColor(models.LeftAnchor), img.RGBAAt(10, 10))
	assert.Equal(t, PlateColor(models.LeftAnchor), img.RGBAAt(14, 10))
	assert.Equal(t, PlateColor(models.RightAnchor), img.RGBAAt(20, 4))
	assert.Equal(t, PlateColor(models.AnteriorTerminal), img.RGBAAt(39, 39))
	assert.Equal(t, uint8(0), img.RGBAAt(0, 39).R)
}

func TestSaveOverlaySequence(t *testing.T) {
	opts := phantom.DefaultOptions(9)
	opts.Depth = 6
	vol, err := phantom.New(opts, leksell.Default())
	require.NoError(t, err)
	table, err := detection.Detect(vol, config.DefaultDetection(), detection.NoHint, nil)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "overlays")
	written, err := NewViewer(vol).SaveOverlaySequence(table, dir)
	require.NoError(t, err)
	require.Len(t, written, table.Len())

	f, err := os.Open(written[0])
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, opts.Width, opts.Height), img.Bounds())

	p := opts.MarkerPosition(leksell.Default(), models.AnteriorMiddle, table.Slices()[0])
	r, g, b, _ := img.At(int(p.X), int(p.Y)).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestSaveSliceSequence(t *testing.T) {
	vol := rampVolume(6, 6, 3)
	dir := filepath.Join(t.TempDir(), "slices")

	require.NoError(t, NewViewer(vol).SaveSliceSequence("z", dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, "slice_z_000.png", entries[0].Name())
}
