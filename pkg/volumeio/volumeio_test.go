package volumeio

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/tiff"

	"stereoframe/internal/models"
	"stereoframe/internal/phantom"
	"stereoframe/pkg/config"
	"stereoframe/pkg/detection"
	"stereoframe/pkg/leksell"
)

// writeGray writes a uniform gray image with the given encoder
func writeGray(t *testing.T, path string, w, h int, level uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	switch filepath.Ext(path) {
	case ".tif":
		require.NoError(t, tiff.Encode(f, img, nil))
	default:
		require.NoError(t, png.Encode(f, img))
	}
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"slice_010.png", 10},
		{"IMG2.jpg", 2},
		{"scan_3_b.tif", 3},
		{"nodigits.png", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractNumber(tt.name))
		})
	}
}

func TestImageStackOrdersSlicesNumerically(t *testing.T) {
	dir := t.TempDir()
	writeGray(t, filepath.Join(dir, "slice_10.png"), 4, 3, 255)
	writeGray(t, filepath.Join(dir, "slice_2.tif"), 4, 3, 0)
	writeGray(t, filepath.Join(dir, "slice_1.png"), 4, 3, 51)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	stack := ImageStack{Dir: dir, Spacing: models.VoxelSize{X: 0.5, Y: 0.5, Z: 2}, Modality: models.MR}
	vol, err := stack.Load()
	require.NoError(t, err)

	assert.Equal(t, 4, vol.Width)
	assert.Equal(t, 3, vol.Height)
	assert.Equal(t, 3, vol.Depth)
	assert.Equal(t, models.MR, vol.Modality)
	assert.Equal(t, filepath.Base(dir), vol.Name)

	assert.InDelta(t, 0.2, vol.At(0, 0, 0), 1e-9)
	assert.InDelta(t, 0.0, vol.At(1, 1, 1), 1e-9)
	assert.InDelta(t, 1.0, vol.At(3, 2, 2), 1e-9)
}

func TestImageStackErrors(t *testing.T) {
	_, err := ImageStack{Dir: t.TempDir()}.Load()
	assert.ErrorIs(t, err, models.ErrIO)

	_, err = ImageStack{Dir: filepath.Join(t.TempDir(), "absent")}.Load()
	assert.ErrorIs(t, err, models.ErrIO)

	dir := t.TempDir()
	writeGray(t, filepath.Join(dir, "a1.png"), 4, 3, 0)
	writeGray(t, filepath.Join(dir, "a2.png"), 5, 3, 0)
	_, err = ImageStack{Dir: dir, Spacing: models.VoxelSize{X: 1, Y: 1, Z: 1}}.Load()
	assert.ErrorIs(t, err, models.ErrIO)

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken1.png"), []byte("not a png"), 0644))
	_, err = ImageStack{Dir: dir, Spacing: models.VoxelSize{X: 1, Y: 1, Z: 1}}.Load()
	assert.ErrorIs(t, err, models.ErrIO)
}

func TestWrittenStackIsDetectable(t *testing.T) {
	opts := phantom.DefaultOptions(6)
	opts.Depth = 8
	src, err := phantom.New(opts, leksell.Default())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "stack")
	require.NoError(t, WriteStack(dir, src))

	vol, err := ImageStack{Dir: dir, Spacing: opts.Spacing, Modality: models.MR}.Load()
	require.NoError(t, err)
	require.Equal(t, src.Depth, vol.Depth)
	assert.InDelta(t, 1.0, vol.MaxValue(), 1e-9)

	table, err := detection.Detect(vol, config.DefaultDetection(), detection.NoHint, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, table.NbMarkers)
	assert.Equal(t, opts.Depth, table.Len())
}

func TestVolumeSource(t *testing.T) {
	vol := models.NewVolume(2, 2, 1, models.VoxelSize{X: 1, Y: 1, Z: 1})
	vol.Name = "memory"

	src := VolumeSource{Volume: vol}
	assert.Equal(t, "memory", src.Name())
	got, err := src.Load()
	require.NoError(t, err)
	assert.Same(t, vol, got)

	_, err = VolumeSource{}.Load()
	assert.ErrorIs(t, err, models.ErrIO)
	assert.Empty(t, VolumeSource{}.Name())
}

func mustElement(t *testing.T, tg tag.Tag, value []string) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, value)
	require.NoError(t, err)
	return elem
}

func TestReadDicomHeader(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.InstanceNumber, []string{"7"}),
		mustElement(t, tag.PixelSpacing, []string{"0.5", "0.75"}),
		mustElement(t, tag.SliceThickness, []string{"2.0"}),
		mustElement(t, tag.RescaleSlope, []string{"1"}),
		mustElement(t, tag.RescaleIntercept, []string{"-1024"}),
		mustElement(t, tag.Modality, []string{"CT"}),
	}}

	h, err := readHeader(ds)
	require.NoError(t, err)
	assert.Equal(t, 7, h.Instance)
	assert.Equal(t, [2]float64{0.5, 0.75}, h.PixelSpacing)
	assert.Equal(t, 2.0, h.SliceThickness)
	assert.Equal(t, 0.0, h.SliceSpacing)
	assert.Equal(t, -1024.0, h.Intercept)
	assert.Equal(t, "CT", h.Modality)
}

func TestReadDicomHeaderDefaults(t *testing.T) {
	h, err := readHeader(dicom.Dataset{})
	require.NoError(t, err)
	assert.Equal(t, [2]float64{1, 1}, h.PixelSpacing)
	assert.Equal(t, 1.0, h.Slope)

	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.SliceThickness, []string{"thick"}),
	}}
	_, err = readHeader(ds)
	assert.Error(t, err)
}

func TestReadDicomSliceRejectsBadPixelData(t *testing.T) {
	_, err := readSlice(dicom.Dataset{})
	assert.Error(t, err)

	value, err := dicom.NewValue([]string{"not pixels"})
	require.NoError(t, err)
	ds := dicom.Dataset{Elements: []*dicom.Element{
		{Tag: tag.PixelData, Value: value},
	}}
	assert.NotPanics(t, func() {
		_, err = readSlice(ds)
	})
	assert.ErrorContains(t, err, "unexpected value type")
}

func TestDicomSeriesWithoutFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("no dicom here"), 0644))

	_, err := DicomSeries{Dir: dir}.Load()
	assert.ErrorIs(t, err, models.ErrIO)
}
