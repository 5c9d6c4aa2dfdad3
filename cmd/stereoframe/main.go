package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stereoframe/internal/logger"
	"stereoframe/internal/models"
	"stereoframe/internal/phantom"
	"stereoframe/pkg/config"
	"stereoframe/pkg/detection"
	"stereoframe/pkg/leksell"
	"stereoframe/pkg/localization"
	"stereoframe/pkg/markerio"
	"stereoframe/pkg/registration"
	"stereoframe/pkg/visualization"
	"stereoframe/pkg/volumeio"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "stereoframe.yaml", "Configuration file (defaults are used when absent)")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	inputDir := flag.String("input", "", "Directory containing numbered slice images (JPEG, PNG, TIFF)")
	dicomDir := flag.String("dicom", "", "Directory containing a DICOM series")
	phantomMarkers := flag.Int("phantom", 0, "Run on a synthetic frame with 6 or 9 markers")
	spacing := flag.String("spacing", "1,1,1", "Voxel size x,y,z in mm for image stacks")
	modality := flag.String("modality", "MR", "Modality of image stacks (CT or MR)")
	hint := flag.Int("hint", detection.NoHint, "Slice where the seed search starts (default: mid-depth)")
	name := flag.String("name", "", "Run name (default: Frame_N)")
	dropFront := flag.Bool("drop-front-plate", false, "Discard the anterior plate markers of a 9-marker frame")
	outMarkers := flag.String("out-markers", "", "Write the detected markers as XML")
	outTransform := flag.String("out-transform", "", "Write the rigid transform as YAML")
	plotFile := flag.String("plot", "", "Write the residual plot (png, svg or pdf)")
	overlayDir := flag.String("overlay-dir", "", "Write every detected slice with marker overlays")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save slices along all axes")
	slicesDir := flag.String("slices-dir", "slices", "Directory for extracted slices")
	exportStack := flag.String("export-stack", "", "Write the loaded volume as a PNG stack")
	verbose := flag.Bool("verbose", false, "Print per-slice residuals")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			logger.Logger.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(cfg.Output.LogLevel, cfg.Output.LogFormat)

	// flags override the configuration file
	if *plotFile != "" {
		cfg.Output.PlotFile = *plotFile
	}
	if *overlayDir != "" {
		cfg.Output.OverlayDir = *overlayDir
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	source, err := selectSource(*inputDir, *dicomDir, *phantomMarkers, *spacing, *modality, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	fmt.Println("================================")
	fmt.Println("LEKSELL FRAME LOCALIZATION")
	fmt.Println("================================")

	vol, err := source.Load()
	if err != nil {
		logger.Logger.Fatalf("Failed to load volume: %v", err)
	}
	fmt.Printf("Loaded %s: %dx%dx%d voxels, spacing %.3gx%.3gx%.3g mm, %v\n",
		source.Name(), vol.Width, vol.Height, vol.Depth,
		vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z, vol.Modality)

	if *exportStack != "" {
		if err := volumeio.WriteStack(*exportStack, vol); err != nil {
			logger.Logger.Fatalf("Failed to export stack: %v", err)
		}
		fmt.Printf("Volume exported to %s\n", *exportStack)
	}

	registry := localization.NewRegistry(localization.Params{Config: cfg, DropFrontPlate: *dropFront})
	run, err := registry.New(*name)
	if err != nil {
		logger.Logger.Fatalf("Failed to create run: %v", err)
	}

	startTime := time.Now()
	if err := run.Process(vol, *hint); err != nil {
		logger.Logger.Fatalf("Localization failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nLocalization completed in %.2f seconds\n\n", processingTime.Seconds())
	if _, err := run.Summary().WriteTo(os.Stdout); err != nil {
		logger.Logger.Fatalf("Failed to print summary: %v", err)
	}

	writeOutputs(run, *outMarkers, *outTransform)

	if *extractSlices {
		viewer := visualization.NewViewer(vol)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				logger.WithError(err).Warnf("Failed to save %s-axis slices", axis)
			}
		}
	}
}

// selectSource picks the volume source named on the command line
func selectSource(inputDir, dicomDir string, markers int, spacing, modality string, cfg *config.Config) (volumeio.Source, error) {
	chosen := 0
	for _, set := range []bool{inputDir != "", dicomDir != "", markers != 0} {
		if set {
			chosen++
		}
	}
	if chosen != 1 {
		return nil, fmt.Errorf("exactly one of -input, -dicom or -phantom is required")
	}

	switch {
	case dicomDir != "":
		return volumeio.DicomSeries{Dir: dicomDir}, nil

	case markers != 0:
		vol, err := phantom.New(phantom.DefaultOptions(markers), leksell.NewFrame(cfg.Frame))
		if err != nil {
			return nil, err
		}
		return volumeio.VolumeSource{Volume: vol}, nil
	}

	size, err := parseSpacing(spacing)
	if err != nil {
		return nil, err
	}
	m, err := models.ParseModality(modality)
	if err != nil {
		return nil, err
	}
	return volumeio.ImageStack{Dir: inputDir, Spacing: size, Modality: m}, nil
}

func parseSpacing(s string) (models.VoxelSize, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return models.VoxelSize{}, fmt.Errorf("spacing must be x,y,z, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || f <= 0 {
			return models.VoxelSize{}, fmt.Errorf("invalid spacing component %q", p)
		}
		v[i] = f
	}
	return models.VoxelSize{X: v[0], Y: v[1], Z: v[2]}, nil
}

// writeOutputs persists the markers and transform. Failures are reported
// but do not discard the other output.
func writeOutputs(run *localization.Localizer, markersPath, transformPath string) {
	if markersPath != "" {
		if err := markerio.SaveFile(markersPath, run.Table()); err != nil {
			logger.WithError(err).Warn("Failed to save markers")
		} else {
			fmt.Printf("Markers saved to: %s\n", markersPath)
		}
	}
	if transformPath != "" {
		if err := registration.SaveTransform(run.Transform(), transformPath); err != nil {
			logger.WithError(err).Warn("Failed to save transform")
		} else {
			fmt.Printf("Transform saved to: %s\n", transformPath)
		}
	}
}
