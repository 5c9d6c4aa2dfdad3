// Package report renders the outcome of a localization run as a residual
// plot and a text summary.
package report

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"stereoframe/internal/models"
	"stereoframe/pkg/analysis"
	"stereoframe/pkg/registration"
	"stereoframe/pkg/visualization"
)

// PlotResiduals draws one residual-versus-slice line per marker role and
// saves the plot. The format follows the file extension (png, svg, pdf).
func PlotResiduals(errs *analysis.ErrorTable, title, path string) error {
	if errs == nil || errs.Len() == 0 {
		return models.NewEmptyTableError("no residuals to plot")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return models.NewIOError("failed to create plot directory", err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "slice"
	p.Y.Label.Text = "residual (mm)"
	p.Add(plotter.NewGrid())

	series := make(map[models.Role]plotter.XYs)
	for _, r := range errs.Residuals() {
		series[r.Role] = append(series[r.Role], plotter.XY{X: float64(r.Slice), Y: r.Value})
	}
	for role := models.Role(0); role < models.MaxMarkers; role++ {
		pts, ok := series[role]
		if !ok {
			continue
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("failed to build residual line for %v: %w", role, err)
		}
		c := visualization.PlateColor(role)
		if role.IsMiddle() {
			c = darken(c)
		}
		line.Color = c
		line.Width = vg.Points(1)
		points.Color = c
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		p.Legend.Add(role.String(), line, points)
	}

	stats := errs.Statistics()
	rms, err := plotter.NewLine(plotter.XYs{
		{X: float64(errs.Slices()[0]), Y: stats.RMS},
		{X: float64(errs.Slices()[len(errs.Slices())-1]), Y: stats.RMS},
	})
	if err != nil {
		return fmt.Errorf("failed to build RMS line: %w", err)
	}
	rms.Color = color.Black
	rms.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(rms)
	p.Legend.Add(fmt.Sprintf("RMS %.3f", stats.RMS), rms)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return models.NewIOError("failed to save residual plot", err)
	}
	return nil
}

func darken(c color.RGBA) color.RGBA {
	return color.RGBA{R: c.R / 2, G: c.G / 2, B: c.B / 2, A: c.A}
}

// Summary describes a run in plain text
type Summary struct {
	Name      string
	Table     *models.MarkerTable
	Transform *registration.RigidTransform
	Errors    *analysis.ErrorTable

	// Verbose adds the per-slice residuals
	Verbose bool
}

// WriteTo writes the summary. Missing stages are reported as such.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "run:\t%s\n", s.Name)
	if s.Table == nil || s.Table.IsEmpty() {
		fmt.Fprintf(tw, "markers:\tnone detected\n")
		return flush(tw, cw)
	}
	slices := s.Table.Slices()
	fmt.Fprintf(tw, "markers:\t%d per slice\n", s.Table.NbMarkers)
	fmt.Fprintf(tw, "slices:\t%d (%d-%d)\n", len(slices), slices[0], slices[len(slices)-1])

	if s.Transform == nil {
		fmt.Fprintf(tw, "transform:\tnot solved\n")
		return flush(tw, cw)
	}
	m := s.Transform.Matrix4()
	fmt.Fprintf(tw, "frame:\t%s\n", s.Transform.Identifier)
	for r := 0; r < 4; r++ {
		label := ""
		if r == 0 {
			label = "transform:"
		}
		fmt.Fprintf(tw, "%s\t% .6f % .6f % .6f % .6f\n", label, m[r*4], m[r*4+1], m[r*4+2], m[r*4+3])
	}

	if s.Errors == nil {
		fmt.Fprintf(tw, "errors:\tnot computed\n")
		return flush(tw, cw)
	}
	st := s.Errors.Statistics()
	fmt.Fprintf(tw, "residuals:\t%d\n", st.Count)
	fmt.Fprintf(tw, "mean:\t%.4f mm\n", st.Mean)
	fmt.Fprintf(tw, "rms:\t%.4f mm\n", st.RMS)
	fmt.Fprintf(tw, "median:\t%.4f mm\n", st.Median)
	fmt.Fprintf(tw, "std:\t%.4f mm\n", st.StdDev)
	fmt.Fprintf(tw, "p25/p75:\t%.4f / %.4f mm\n", st.P25, st.P75)
	fmt.Fprintf(tw, "min/max:\t%.4f / %.4f mm\n", st.Min, st.Max)

	if s.Verbose {
		fmt.Fprintf(tw, "\nslice\trole\tresidual (mm)\n")
		for _, r := range s.Errors.Residuals() {
			fmt.Fprintf(tw, "%d\t%v\t%.4f\n", r.Slice, r.Role, r.Value)
		}
	}
	return flush(tw, cw)
}

func flush(tw *tabwriter.Writer, cw *countingWriter) (int64, error) {
	err := tw.Flush()
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
