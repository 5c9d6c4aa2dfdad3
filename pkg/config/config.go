// Package config provides configuration loading and management for stereoframe.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Band is an inclusive distance range in mm
type Band struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether d lies inside the band
func (b Band) Contains(d float64) bool {
	return d >= b.Min && d <= b.Max
}

// Detection holds the segmentation and pattern-classification parameters.
// The distance bands are calibrated against the physical Leksell box and
// should only change together with a recalibration of the frame geometry.
type Detection struct {
	// Modality overrides the modality stored in the volume ("CT", "MR" or empty)
	Modality string `yaml:"modality"`

	// CTThreshold is the HU cutoff above which a CT voxel is a marker candidate
	CTThreshold float64 `yaml:"ctThreshold"`

	// MRThresholdFraction is the fraction of the volume maximum used as MR cutoff
	MRThresholdFraction float64 `yaml:"mrThresholdFraction"`

	// DilateRadius is the radius of the dilation applied after hole filling
	DilateRadius int `yaml:"dilateRadius"`

	// SeedAttempts is the number of consecutive slices tried for a seed
	SeedAttempts int `yaml:"seedAttempts"`

	// ToleranceFactor multiplies the slice spacing to get the matching tolerance
	ToleranceFactor float64 `yaml:"toleranceFactor"`

	// OutlierLow and OutlierHigh bound candidate pixel counts relative to the median
	OutlierLow  float64 `yaml:"outlierLow"`
	OutlierHigh float64 `yaml:"outlierHigh"`

	// GroupRadius is the distance that assigns a candidate to an anchor in a 6-marker box
	GroupRadius float64 `yaml:"groupRadius"`

	// PostSpacing is the nominal anchor to terminal distance
	PostSpacing float64 `yaml:"postSpacing"`

	// TerminalBand bounds the anchor to terminal distance
	TerminalBand Band `yaml:"terminalBand"`

	// SpanBand bounds the left anchor to right terminal distance
	SpanBand Band `yaml:"spanBand"`

	// RightAnchorToLeftBand and RightAnchorToAnteriorBand locate the right
	// anchor in a 9-marker box
	RightAnchorToLeftBand     Band `yaml:"rightAnchorToLeftBand"`
	RightAnchorToAnteriorBand Band `yaml:"rightAnchorToAnteriorBand"`
}

// Frame holds the canonical geometry of the Leksell box
type Frame struct {
	Identifier string     `yaml:"identifier"`
	Extent     [3]int     `yaml:"extent"`
	Spacing    [3]float64 `yaml:"spacing"`

	// LeftX and RightX are the lateral plate positions
	LeftX  float64 `yaml:"leftX"`
	RightX float64 `yaml:"rightX"`

	// AnteriorY is the anterior plate position
	AnteriorY float64 `yaml:"anteriorY"`

	// PostLow and PostHigh are the positions of the two posts along each plate
	PostLow  float64 `yaml:"postLow"`
	PostHigh float64 `yaml:"postHigh"`

	// PitchOffset is added to the middle-marker distance to get the frame height
	PitchOffset float64 `yaml:"pitchOffset"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	Detection Detection `yaml:"detection"`
	Frame     Frame     `yaml:"frame"`

	// Output parameters
	Output struct {
		// Verbose prints per-slice residuals
		Verbose bool `yaml:"verbose"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`

		// OverlayDir receives slice renderings with marker overlays when set
		OverlayDir string `yaml:"overlayDir"`

		// PlotFile receives the residual plot when set
		PlotFile string `yaml:"plotFile"`
	} `yaml:"output"`
}

// DefaultDetection returns the calibrated detection parameters
func DefaultDetection() Detection {
	return Detection{
		CTThreshold:               400,
		MRThresholdFraction:       0.5,
		DilateRadius:              1,
		SeedAttempts:              10,
		ToleranceFactor:           2.0,
		OutlierLow:                0.5,
		OutlierHigh:               2.0,
		GroupRadius:               170,
		PostSpacing:               120,
		TerminalBand:              Band{Min: 116, Max: 126},
		SpanBand:                  Band{Min: 186, Max: 200},
		RightAnchorToLeftBand:     Band{Min: 220, Max: 235},
		RightAnchorToAnteriorBand: Band{Min: 61, Max: 70},
	}
}

// DefaultFrame returns the canonical Leksell box
func DefaultFrame() Frame {
	return Frame{
		Identifier:  "LEKSELL",
		Extent:      [3]int{220, 220, 220},
		Spacing:     [3]float64{1.0, 1.0, 1.0},
		LeftX:       5.0,
		RightX:      195.0,
		AnteriorY:   215.0,
		PostLow:     40.0,
		PostHigh:    160.0,
		PitchOffset: 40.0,
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Detection: DefaultDetection(),
		Frame:     DefaultFrame(),
	}
	cfg.Output.Verbose = false
	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"
	return cfg
}

// Validate checks the configuration for values the pipeline cannot work with
func (c *Config) Validate() error {
	d := c.Detection
	switch d.Modality {
	case "", "CT", "MR":
	default:
		return fmt.Errorf("detection.modality must be CT or MR, got %q", d.Modality)
	}
	if d.SeedAttempts < 1 {
		return fmt.Errorf("detection.seedAttempts must be at least 1, got %d", d.SeedAttempts)
	}
	if d.ToleranceFactor <= 0 {
		return fmt.Errorf("detection.toleranceFactor must be positive, got %g", d.ToleranceFactor)
	}
	if d.DilateRadius < 0 {
		return fmt.Errorf("detection.dilateRadius must not be negative, got %d", d.DilateRadius)
	}
	if d.MRThresholdFraction <= 0 || d.MRThresholdFraction >= 1 {
		return fmt.Errorf("detection.mrThresholdFraction must be in (0, 1), got %g", d.MRThresholdFraction)
	}
	if d.OutlierLow <= 0 || d.OutlierHigh <= d.OutlierLow {
		return fmt.Errorf("detection outlier factors must satisfy 0 < low < high, got %g and %g", d.OutlierLow, d.OutlierHigh)
	}
	bands := map[string]Band{
		"terminalBand":              d.TerminalBand,
		"spanBand":                  d.SpanBand,
		"rightAnchorToLeftBand":     d.RightAnchorToLeftBand,
		"rightAnchorToAnteriorBand": d.RightAnchorToAnteriorBand,
	}
	for name, b := range bands {
		if b.Min < 0 || b.Max < b.Min {
			return fmt.Errorf("detection.%s is not a valid range: [%g, %g]", name, b.Min, b.Max)
		}
	}
	if c.Frame.Identifier == "" {
		return fmt.Errorf("frame.identifier must not be empty")
	}
	if c.Frame.PostHigh <= c.Frame.PostLow {
		return fmt.Errorf("frame posts must satisfy postLow < postHigh")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
