// Package analysis measures how well the registered markers fit the
// canonical frame.
package analysis

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"stereoframe/internal/models"
	"stereoframe/pkg/geometry"
	"stereoframe/pkg/leksell"
	"stereoframe/pkg/registration"
)

// Statistics summarises the residuals of an error table (mm)
type Statistics struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	RMS    float64 `json:"rms" yaml:"rms"`
	Median float64 `json:"median" yaml:"median"`
	StdDev float64 `json:"stdDev" yaml:"stdDev"`
	P25    float64 `json:"p25" yaml:"p25"`
	P75    float64 `json:"p75" yaml:"p75"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
}

// Residual is the error of one marker
type Residual struct {
	Slice int
	Role  models.Role
	Value float64
}

// ErrorTable maps slice and role to the planar residual of that marker
type ErrorTable struct {
	slices map[int]*[models.MaxMarkers]float64
	order  []int
	roles  map[int][]models.Role

	once  sync.Once
	stats Statistics
}

func newErrorTable() *ErrorTable {
	return &ErrorTable{
		slices: make(map[int]*[models.MaxMarkers]float64),
		roles:  make(map[int][]models.Role),
	}
}

func (e *ErrorTable) add(slice int, role models.Role, value float64) {
	row, ok := e.slices[slice]
	if !ok {
		row = &[models.MaxMarkers]float64{}
		e.slices[slice] = row
		e.order = append(e.order, slice)
	}
	row[role] = value
	e.roles[slice] = append(e.roles[slice], role)
}

// Get returns the residual of a marker
func (e *ErrorTable) Get(slice int, role models.Role) (float64, bool) {
	row, ok := e.slices[slice]
	if !ok {
		return 0, false
	}
	for _, r := range e.roles[slice] {
		if r == role {
			return row[role], true
		}
	}
	return 0, false
}

// Slices returns the slices with residuals in ascending order
func (e *ErrorTable) Slices() []int {
	out := append([]int(nil), e.order...)
	sort.Ints(out)
	return out
}

// Residuals returns every residual in slice then role order
func (e *ErrorTable) Residuals() []Residual {
	var out []Residual
	for _, slice := range e.Slices() {
		for _, role := range e.roles[slice] {
			out = append(out, Residual{Slice: slice, Role: role, Value: e.slices[slice][role]})
		}
	}
	return out
}

// Values returns the flat residual array in slice then role order
func (e *ErrorTable) Values() []float64 {
	res := e.Residuals()
	values := make([]float64, len(res))
	for i, r := range res {
		values[i] = r.Value
	}
	return values
}

// Len returns the number of residuals
func (e *ErrorTable) Len() int {
	n := 0
	for _, roles := range e.roles {
		n += len(roles)
	}
	return n
}

// Statistics returns the summary statistics, computed on first use
func (e *ErrorTable) Statistics() Statistics {
	e.once.Do(func() {
		e.stats = Summarize(e.Values())
	})
	return e.stats
}

// Summarize computes the statistics of a residual array. The standard
// deviation is the population one. Percentiles interpolate linearly between
// the closest ranks, so P25 of [1 2 3 4] is 1.75.
func Summarize(values []float64) Statistics {
	n := len(values)
	if n == 0 {
		return Statistics{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mean, std := stat.PopMeanStdDev(sorted, nil)
	return Statistics{
		Count:  n,
		Mean:   mean,
		RMS:    math.Sqrt(floats.Dot(sorted, sorted) / float64(n)),
		Median: median(sorted),
		StdDev: std,
		P25:    percentile(sorted, 0.25),
		P75:    percentile(sorted, 0.75),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
	}
}

// percentile of sorted values at rank (n-1)*p. stat.Quantile only offers
// the step and R-4 estimators.
func percentile(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// median of sorted values, averaging the middle pair for even counts
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// ComputeErrors applies the transform to every marker and measures the
// in-plane distance to the marker's canonical target
func ComputeErrors(table *models.MarkerTable, transform *registration.RigidTransform, frame leksell.Frame) (*ErrorTable, error) {
	if table == nil || table.IsEmpty() {
		return nil, models.NewEmptyTableError("cannot compute errors without detected markers")
	}
	if transform == nil {
		return nil, models.NewEmptyTableError("cannot compute errors without a transform")
	}

	pairs, err := registration.Correspondences(table, frame)
	if err != nil {
		return nil, err
	}
	errs := newErrorTable()
	for _, p := range pairs {
		errs.add(p.Slice, p.Role, geometry.PlanarDistance(transform.Apply(p.Source), p.Target))
	}
	return errs, nil
}
