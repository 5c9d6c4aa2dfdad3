package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stereoframe/internal/models"
	"stereoframe/pkg/config"
	"stereoframe/pkg/detection"
	"stereoframe/pkg/localization"
	"stereoframe/pkg/markerio"
	"stereoframe/pkg/registration"
	"stereoframe/pkg/volumeio"
)

func TestParseSpacing(t *testing.T) {
	v, err := parseSpacing("0.5, 0.5,2")
	require.NoError(t, err)
	assert.Equal(t, models.VoxelSize{X: 0.5, Y: 0.5, Z: 2}, v)

	for _, bad := range []string{"1,1", "1,a,1", "1,0,1", ""} {
		_, err := parseSpacing(bad)
		assert.Error(t, err, bad)
	}
}

func TestSelectSource(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := selectSource("", "", 0, "1,1,1", "MR", cfg)
	assert.Error(t, err)
	_, err = selectSource("a", "b", 0, "1,1,1", "MR", cfg)
	assert.Error(t, err)

	src, err := selectSource("", "", 6, "1,1,1", "MR", cfg)
	require.NoError(t, err)
	vol, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, models.CT, vol.Modality)

	src, err = selectSource("", "", 7, "1,1,1", "MR", cfg)
	assert.Error(t, err)
	assert.Nil(t, src)

	dir := filepath.Join(t.TempDir(), "scan")
	src, err = selectSource(dir, "", 0, "1,1,3", "ct", cfg)
	require.NoError(t, err)
	stack, ok := src.(volumeio.ImageStack)
	require.True(t, ok)
	assert.Equal(t, models.CT, stack.Modality)
	assert.Equal(t, 3.0, stack.Spacing.Z)

	_, err = selectSource(dir, "", 0, "1,1,3", "PET", cfg)
	assert.Error(t, err)

	src, err = selectSource("", dir, 0, "1,1,1", "MR", cfg)
	require.NoError(t, err)
	assert.Equal(t, "scan", src.Name())
}

func TestWriteOutputs(t *testing.T) {
	cfg := config.DefaultConfig()
	tmpDir := t.TempDir()
	cfg.Output.OverlayDir = filepath.Join(tmpDir, "overlays")

	src, err := selectSource("", "", 9, "1,1,1", "MR", cfg)
	require.NoError(t, err)
	vol, err := src.Load()
	require.NoError(t, err)

	run := localization.NewLocalizer("cli", localization.Params{Config: cfg, DropFrontPlate: true})
	require.NoError(t, run.Process(vol, detection.NoHint))

	markersPath := filepath.Join(tmpDir, "out", "frame.xml")
	transformPath := filepath.Join(tmpDir, "out", "transform.yaml")
	writeOutputs(run, markersPath, transformPath)

	table, err := markerio.LoadFile(markersPath)
	require.NoError(t, err)
	assert.Equal(t, 6, table.NbMarkers)
	_, err = registration.LoadTransform(transformPath)
	assert.NoError(t, err)
	assert.DirExists(t, cfg.Output.OverlayDir)
}
