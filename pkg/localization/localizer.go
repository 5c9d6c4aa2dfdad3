// Package localization runs the frame localization pipeline on one scan:
// marker detection, slice propagation, rigid registration and error
// analysis.
//
// A Localizer moves through
//
//	Empty -> SeedFound -> Propagated -> TransformSolved -> ErrorsComputed
//
// and ends in Failed when detection fails. Results are published only once
// a stage completes; a failed stage never leaves partial output behind.
// A Localizer must not be shared between concurrent runs.
package localization

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"stereoframe/internal/logger"
	"stereoframe/internal/models"
	"stereoframe/pkg/analysis"
	"stereoframe/pkg/config"
	"stereoframe/pkg/detection"
	"stereoframe/pkg/leksell"
	"stereoframe/pkg/registration"
	"stereoframe/pkg/report"
	"stereoframe/pkg/visualization"
	"stereoframe/pkg/volumeio"
)

// State is the pipeline stage reached by a Localizer
type State int

const (
	Empty State = iota
	SeedFound
	Propagated
	TransformSolved
	ErrorsComputed
	Failed
)

var stateNames = []string{"empty", "seed-found", "propagated", "transform-solved", "errors-computed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Params holds the configuration of a run
type Params struct {
	// Config supplies detection, frame and output settings
	Config *config.Config

	// Progress is called after every propagated slice
	Progress detection.ProgressFunc

	// DropFrontPlate makes Process remove the anterior plate markers
	// before registration
	DropFrontPlate bool
}

// Localizer owns the results of one localization run
type Localizer struct {
	name   string
	params Params
	frame  leksell.Frame

	state State
	err   error

	vol       *models.Volume
	seed      detection.Seed
	table     *models.MarkerTable
	transform *registration.RigidTransform
	errors    *analysis.ErrorTable
}

// NewLocalizer creates a Localizer in the Empty state. A nil Config uses
// the defaults.
func NewLocalizer(name string, params Params) *Localizer {
	if params.Config == nil {
		params.Config = config.DefaultConfig()
	}
	return &Localizer{
		name:   name,
		params: params,
		frame:  leksell.NewFrame(params.Config.Frame),
	}
}

// Name returns the run name
func (l *Localizer) Name() string { return l.name }

// State returns the current stage
func (l *Localizer) State() State { return l.state }

// Err returns the error that moved the run to Failed
func (l *Localizer) Err() error { return l.err }

// Seed returns the seed slice of the last detection
func (l *Localizer) Seed() (detection.Seed, bool) {
	return l.seed, l.state >= SeedFound && l.state != Failed
}

// Table returns a copy of the detected markers, or nil before detection
func (l *Localizer) Table() *models.MarkerTable {
	if l.table == nil {
		return nil
	}
	return l.table.Clone()
}

// Transform returns the solved transform, or nil
func (l *Localizer) Transform() *registration.RigidTransform { return l.transform }

// Errors returns the residual table, or nil
func (l *Localizer) Errors() *analysis.ErrorTable { return l.errors }

// Statistics returns the residual statistics once errors are computed
func (l *Localizer) Statistics() (analysis.Statistics, bool) {
	if l.errors == nil {
		return analysis.Statistics{}, false
	}
	return l.errors.Statistics(), true
}

// Volume returns the volume of the last detection
func (l *Localizer) Volume() *models.Volume { return l.vol }

func (l *Localizer) reset() {
	l.state = Empty
	l.err = nil
	l.vol = nil
	l.seed = detection.Seed{}
	l.table = nil
	l.transform = nil
	l.errors = nil
}

func (l *Localizer) fail(err error) error {
	l.state = Failed
	l.err = err
	logger.WithError(err).WithField("run", l.name).Warn("frame detection failed")
	return err
}

// Detect searches the volume for the frame starting at hint (or mid-depth
// for detection.NoHint) and propagates the markers through the volume.
// Any previous results are discarded.
func (l *Localizer) Detect(vol *models.Volume, hint int) error {
	l.reset()
	if vol == nil {
		return l.fail(models.NewNoFrameError("no volume given", nil))
	}
	if err := vol.Validate(); err != nil {
		return l.fail(models.NewNoFrameError("invalid volume", err))
	}
	cfg := l.params.Config.Detection

	seg, err := detection.NewSegmenter(vol, cfg)
	if err != nil {
		return l.fail(err)
	}
	seed, err := detection.FindSeed(seg, cfg, hint)
	if err != nil {
		return l.fail(err)
	}
	l.vol = vol
	l.seed = seed
	l.state = SeedFound

	table, err := detection.PropagateSeed(seg, cfg, seed, l.params.Progress)
	if err != nil {
		return l.fail(err)
	}
	l.table = table
	l.state = Propagated

	logger.WithFields(logrus.Fields{
		"run":     l.name,
		"volume":  vol.Name,
		"seed":    seed.Slice,
		"markers": table.NbMarkers,
		"slices":  table.Len(),
	}).Info("frame detected")
	return nil
}

// DetectFromSource loads the volume from src and detects the frame in it
func (l *Localizer) DetectFromSource(src volumeio.Source, hint int) error {
	vol, err := src.Load()
	if err != nil {
		l.reset()
		return l.fail(fmt.Errorf("failed to load %s: %w", src.Name(), err))
	}
	return l.Detect(vol, hint)
}

// SolveTransform registers the detected markers to the canonical frame.
// Previously computed errors are discarded.
func (l *Localizer) SolveTransform() error {
	if l.table == nil || l.table.IsEmpty() {
		return models.NewEmptyTableError("detect the frame before solving the transform")
	}
	t, err := registration.Solve(l.table, l.frame)
	if err != nil {
		return err
	}
	l.transform = t
	l.errors = nil
	l.state = TransformSolved

	tr := t.Translation()
	logger.WithFields(logrus.Fields{
		"run": l.name,
		"tx":  tr.X,
		"ty":  tr.Y,
		"tz":  tr.Z,
	}).Info("transform solved")
	return nil
}

// ComputeErrors measures the residuals of the registered markers. It can be
// called again after the table or transform changed.
func (l *Localizer) ComputeErrors() error {
	if l.table == nil || l.table.IsEmpty() {
		return models.NewEmptyTableError("detect the frame before computing errors")
	}
	if l.transform == nil {
		return models.NewEmptyTableError("solve the transform before computing errors")
	}
	errs, err := analysis.ComputeErrors(l.table, l.transform, l.frame)
	if err != nil {
		return err
	}
	l.errors = errs
	l.state = ErrorsComputed

	stats := errs.Statistics()
	logger.WithFields(logrus.Fields{
		"run":  l.name,
		"rms":  stats.RMS,
		"mean": stats.Mean,
		"max":  stats.Max,
	}).Info("errors computed")
	return nil
}

// RemoveFrontPlateMarkers turns a 9-marker detection into a 6-marker one.
// The transform and errors no longer match the table and are dropped. It
// reports whether the table changed.
func (l *Localizer) RemoveFrontPlateMarkers() bool {
	if l.table == nil || !l.table.RemoveFrontPlateMarkers() {
		return false
	}
	l.transform = nil
	l.errors = nil
	l.state = Propagated
	logger.WithField("run", l.name).Info("anterior plate markers removed")
	return true
}

// RemoveTransform drops the transform and the errors derived from it
func (l *Localizer) RemoveTransform() {
	if l.transform == nil {
		return
	}
	l.transform = nil
	l.errors = nil
	if l.table != nil {
		l.state = Propagated
	}
}

// Process runs every stage on vol and writes the overlays and residual plot
// named in the configuration. Output failures are logged and do not fail
// the run.
func (l *Localizer) Process(vol *models.Volume, hint int) error {
	logger.WithField("run", l.name).Info("Step 1: detecting frame markers")
	if err := l.Detect(vol, hint); err != nil {
		return err
	}

	if l.params.DropFrontPlate && l.RemoveFrontPlateMarkers() {
		logger.WithField("run", l.name).Info("Step 1b: using the lateral plates only")
	}

	logger.WithField("run", l.name).Info("Step 2: solving rigid transform")
	if err := l.SolveTransform(); err != nil {
		return err
	}

	logger.WithField("run", l.name).Info("Step 3: computing residuals")
	if err := l.ComputeErrors(); err != nil {
		return err
	}

	out := l.params.Config.Output
	if out.OverlayDir != "" {
		written, err := visualization.NewViewer(vol).SaveOverlaySequence(l.table, out.OverlayDir)
		if err != nil {
			logger.WithError(err).Warn("failed to save marker overlays")
		} else {
			logger.WithFields(logrus.Fields{"dir": out.OverlayDir, "files": len(written)}).Info("marker overlays saved")
		}
	}
	if out.PlotFile != "" {
		if err := report.PlotResiduals(l.errors, l.name, out.PlotFile); err != nil {
			logger.WithError(err).Warn("failed to save residual plot")
		} else {
			logger.WithField("path", out.PlotFile).Info("residual plot saved")
		}
	}
	return nil
}

// Summary returns the text report of the run
func (l *Localizer) Summary() report.Summary {
	return report.Summary{
		Name:      l.name,
		Table:     l.table,
		Transform: l.transform,
		Errors:    l.errors,
		Verbose:   l.params.Config.Output.Verbose,
	}
}
