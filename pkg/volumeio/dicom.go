package volumeio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"stereoframe/internal/logger"
	"stereoframe/internal/models"
)

// DicomSeries is a directory holding one single-frame DICOM file per slice.
// Slices are ordered by InstanceNumber; spacing and modality come from the
// headers of the first slice.
type DicomSeries struct {
	Dir string
}

// Name returns the directory name
func (s DicomSeries) Name() string {
	return filepath.Base(filepath.Clean(s.Dir))
}

// sliceHeader holds the header fields the loader needs
type sliceHeader struct {
	Instance       int
	PixelSpacing   [2]float64
	SliceThickness float64
	SliceSpacing   float64
	Modality       string
	Slope          float64
	Intercept      float64
}

type dicomSlice struct {
	path   string
	header sliceHeader
	pixels []float64
	rows   int
	cols   int
}

// Load parses every DICOM file of the directory
func (s DicomSeries) Load() (*models.Volume, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, models.NewIOError("failed to read DICOM directory", err)
	}

	var slices []dicomSlice
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(s.Dir, e.Name())
		ds, err := dicom.ParseFile(path, nil)
		if err != nil {
			logger.WithField("file", path).WithError(err).Debug("skipping non-DICOM file")
			continue
		}
		sl, err := readSlice(ds)
		if err != nil {
			return nil, models.NewIOError(fmt.Sprintf("failed to read %s", e.Name()), err)
		}
		sl.path = path
		slices = append(slices, sl)
	}
	if len(slices) == 0 {
		return nil, models.NewIOError(fmt.Sprintf("no DICOM slices found in %s", s.Dir), nil)
	}

	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].header.Instance < slices[j].header.Instance
	})

	first := slices[0]
	h := first.header
	sz := h.SliceSpacing
	if sz <= 0 {
		sz = h.SliceThickness
	}
	vol := models.NewVolume(first.cols, first.rows, len(slices), models.VoxelSize{
		X: h.PixelSpacing[1],
		Y: h.PixelSpacing[0],
		Z: sz,
	})
	vol.Name = s.Name()
	if m, err := models.ParseModality(h.Modality); err == nil {
		vol.Modality = m
	} else {
		logger.WithField("modality", h.Modality).Warn("unknown DICOM modality, assuming CT")
	}

	n := vol.Width * vol.Height
	for z, sl := range slices {
		if sl.rows != vol.Height || sl.cols != vol.Width {
			return nil, models.NewIOError(fmt.Sprintf("%s is %dx%d, expected %dx%d",
				sl.path, sl.cols, sl.rows, vol.Width, vol.Height), nil)
		}
		copy(vol.Data[z*n:(z+1)*n], sl.pixels)
	}
	if err := vol.Validate(); err != nil {
		return nil, models.NewIOError("invalid DICOM series", err)
	}

	logger.WithFields(logrus.Fields{
		"dir":      s.Dir,
		"slices":   vol.Depth,
		"modality": vol.Modality,
		"spacing":  vol.VoxelSize,
	}).Info("loaded DICOM series")
	return vol, nil
}

func readSlice(ds dicom.Dataset) (dicomSlice, error) {
	header, err := readHeader(ds)
	if err != nil {
		return dicomSlice{}, err
	}

	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return dicomSlice{}, fmt.Errorf("missing pixel data: %w", err)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return dicomSlice{}, fmt.Errorf("pixel data has unexpected value type %v", elem.Value.ValueType())
	}
	if len(info.Frames) != 1 {
		return dicomSlice{}, fmt.Errorf("expected a single frame, got %d", len(info.Frames))
	}
	fr := info.Frames[0]
	if fr.Encapsulated {
		return dicomSlice{}, fmt.Errorf("encapsulated (compressed) pixel data is not supported")
	}

	native := fr.NativeData
	pixels := make([]float64, native.Rows*native.Cols)
	if len(native.Data) < len(pixels) {
		return dicomSlice{}, fmt.Errorf("pixel data holds %d samples, expected %d", len(native.Data), len(pixels))
	}
	for i := range pixels {
		pixels[i] = float64(native.Data[i][0])*header.Slope + header.Intercept
	}
	return dicomSlice{header: header, pixels: pixels, rows: native.Rows, cols: native.Cols}, nil
}

// readHeader extracts the geometry and rescale fields. Missing optional
// fields fall back to 1 mm spacing and the identity rescale.
func readHeader(ds dicom.Dataset) (sliceHeader, error) {
	h := sliceHeader{
		PixelSpacing:   [2]float64{1, 1},
		SliceThickness: 1,
		Slope:          1,
	}

	if v, ok := stringsOf(ds, tag.InstanceNumber); ok && len(v) > 0 {
		n, err := strconv.Atoi(strings.TrimSpace(v[0]))
		if err != nil {
			return h, fmt.Errorf("invalid InstanceNumber %q: %w", v[0], err)
		}
		h.Instance = n
	}
	if v, ok := stringsOf(ds, tag.PixelSpacing); ok && len(v) >= 2 {
		for i := 0; i < 2; i++ {
			f, err := parseDecimal(v[i])
			if err != nil {
				return h, fmt.Errorf("invalid PixelSpacing: %w", err)
			}
			h.PixelSpacing[i] = f
		}
	}
	decimals := []struct {
		t   tag.Tag
		dst *float64
	}{
		{tag.SliceThickness, &h.SliceThickness},
		{tag.SpacingBetweenSlices, &h.SliceSpacing},
		{tag.RescaleSlope, &h.Slope},
		{tag.RescaleIntercept, &h.Intercept},
	}
	for _, d := range decimals {
		v, ok := stringsOf(ds, d.t)
		if !ok || len(v) == 0 {
			continue
		}
		f, err := parseDecimal(v[0])
		if err != nil {
			return h, fmt.Errorf("invalid %s: %w", tagName(d.t), err)
		}
		*d.dst = f
	}
	if v, ok := stringsOf(ds, tag.Modality); ok && len(v) > 0 {
		h.Modality = strings.TrimSpace(v[0])
	}
	return h, nil
}

func stringsOf(ds dicom.Dataset, t tag.Tag) ([]string, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil || elem.Value.ValueType() != dicom.Strings {
		return nil, false
	}
	v, ok := elem.Value.GetValue().([]string)
	return v, ok
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func tagName(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil {
		return info.Name
	}
	return t.String()
}
