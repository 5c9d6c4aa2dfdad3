// Package registration computes the rigid transform that maps the detected
// markers of a scan onto the canonical Leksell frame.
package registration

import (
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"stereoframe/internal/logger"
	"stereoframe/internal/models"
	"stereoframe/pkg/geometry"
	"stereoframe/pkg/leksell"
)

// Correspondence pairs a detected marker with its canonical target
type Correspondence struct {
	Slice  int
	Role   models.Role
	Source r3.Vec
	Target r3.Vec
}

// Correspondences builds the source/target pairs of every marker in the table
func Correspondences(table *models.MarkerTable, frame leksell.Frame) ([]Correspondence, error) {
	pairs := make([]Correspondence, 0, table.Len()*table.NbMarkers)
	for _, slice := range table.Slices() {
		set, _ := table.Get(slice)
		for _, role := range set.Roles() {
			target, err := frame.Target(role, set)
			if err != nil {
				return nil, models.NewGeometryError(slice, "%v", err)
			}
			pairs = append(pairs, Correspondence{
				Slice:  slice,
				Role:   role,
				Source: set.Points[role],
				Target: target,
			})
		}
	}
	return pairs, nil
}

// Solve computes the least-squares rigid transform from the table's points
// to their canonical targets
func Solve(table *models.MarkerTable, frame leksell.Frame) (*RigidTransform, error) {
	if table == nil || table.IsEmpty() {
		return nil, models.NewEmptyTableError("cannot solve a transform without detected markers")
	}
	pairs, err := Correspondences(table, frame)
	if err != nil {
		return nil, err
	}
	if len(pairs) < 3 {
		return nil, models.NewGeometryError(-1, "need at least 3 correspondences, got %d", len(pairs))
	}

	src := make([]r3.Vec, len(pairs))
	dst := make([]r3.Vec, len(pairs))
	for i, p := range pairs {
		src[i], dst[i] = p.Source, p.Target
	}
	rotation, err := kabsch(src, dst)
	if err != nil {
		return nil, err
	}

	cs, cd := geometry.Centroid3(src), geometry.Centroid3(dst)
	rc := rotate(rotation, cs)
	translation := r3.Sub(cd, rc)

	t, err := NewRigidTransform(rotation, translation, frame.Config())
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"points":      len(pairs),
		"slices":      table.Len(),
		"translation": translation,
	}).Debug("rigid transform solved")
	return t, nil
}

// kabsch returns the rotation minimising the squared distances between the
// centred point sets
func kabsch(src, dst []r3.Vec) (*mat.Dense, error) {
	cs, cd := geometry.Centroid3(src), geometry.Centroid3(dst)

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		p := r3.Sub(src[i], cs)
		q := r3.Sub(dst[i], cd)
		pv := [3]float64{p.X, p.Y, p.Z}
		qv := [3]float64{q.X, q.Y, q.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+pv[r]*qv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, models.NewGeometryError(-1, "covariance factorisation failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V diag(1, 1, sign) Uᵀ
	var vut mat.Dense
	vut.Mul(&v, u.T())
	if mat.Det(&vut) < 0 {
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
	}
	rotation := mat.NewDense(3, 3, nil)
	rotation.Mul(&v, u.T())
	return rotation, nil
}

func rotate(m mat.Matrix, p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z,
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z,
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z,
	}
}
