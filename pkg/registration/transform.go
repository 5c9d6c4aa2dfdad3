package registration

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"stereoframe/internal/models"
	"stereoframe/pkg/config"
)

// RigidTransform maps scan coordinates (mm) to frame coordinates. It is
// immutable once created.
type RigidTransform struct {
	rotation    [3][3]float64
	translation r3.Vec

	Identifier string
	Extent     [3]int
	Spacing    [3]float64
}

// NewRigidTransform creates a transform from a rotation matrix and a translation
func NewRigidTransform(rotation mat.Matrix, translation r3.Vec, frame config.Frame) (*RigidTransform, error) {
	if r, c := rotation.Dims(); r != 3 || c != 3 {
		return nil, fmt.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	t := &RigidTransform{
		translation: translation,
		Identifier:  frame.Identifier,
		Extent:      frame.Extent,
		Spacing:     frame.Spacing,
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.rotation[i][j] = rotation.At(i, j)
		}
	}
	return t, nil
}

// Rotation returns a copy of the rotation matrix
func (t *RigidTransform) Rotation() *mat.Dense {
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.Set(i, j, t.rotation[i][j])
		}
	}
	return r
}

// Translation returns the translation vector
func (t *RigidTransform) Translation() r3.Vec {
	return t.translation
}

// Apply maps a scan point into frame space
func (t *RigidTransform) Apply(p r3.Vec) r3.Vec {
	r := &t.rotation
	return r3.Vec{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z + t.translation.X,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z + t.translation.Y,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z + t.translation.Z,
	}
}

// Inverse returns the transform mapping frame space back to the scan
func (t *RigidTransform) Inverse() *RigidTransform {
	inv := &RigidTransform{
		Identifier: t.Identifier,
		Extent:     t.Extent,
		Spacing:    t.Spacing,
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv.rotation[i][j] = t.rotation[j][i]
		}
	}
	rt := inv.Apply(t.translation)
	inv.translation = r3.Vec{X: -rt.X, Y: -rt.Y, Z: -rt.Z}
	return inv
}

// Matrix4 returns the homogeneous 4x4 row-major matrix
func (t *RigidTransform) Matrix4() [16]float64 {
	r := &t.rotation
	return [16]float64{
		r[0][0], r[0][1], r[0][2], t.translation.X,
		r[1][0], r[1][1], r[1][2], t.translation.Y,
		r[2][0], r[2][1], r[2][2], t.translation.Z,
		0, 0, 0, 1,
	}
}

type transformDocument struct {
	Identifier  string        `yaml:"identifier"`
	Extent      [3]int        `yaml:"extent"`
	Spacing     [3]float64    `yaml:"spacing"`
	Rotation    [3][3]float64 `yaml:"rotation"`
	Translation [3]float64    `yaml:"translation"`
}

// MarshalYAML implements yaml.Marshaler
func (t *RigidTransform) MarshalYAML() (interface{}, error) {
	return transformDocument{
		Identifier:  t.Identifier,
		Extent:      t.Extent,
		Spacing:     t.Spacing,
		Rotation:    t.rotation,
		Translation: [3]float64{t.translation.X, t.translation.Y, t.translation.Z},
	}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *RigidTransform) UnmarshalYAML(node *yaml.Node) error {
	var doc transformDocument
	if err := node.Decode(&doc); err != nil {
		return err
	}
	if doc.Identifier == "" {
		return fmt.Errorf("transform document has no identifier")
	}
	*t = RigidTransform{
		rotation:    doc.Rotation,
		translation: r3.Vec{X: doc.Translation[0], Y: doc.Translation[1], Z: doc.Translation[2]},
		Identifier:  doc.Identifier,
		Extent:      doc.Extent,
		Spacing:     doc.Spacing,
	}
	return nil
}

// SaveTransform writes the transform as YAML
func SaveTransform(t *RigidTransform, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return models.NewIOError("failed to create transform directory", err)
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return models.NewIOError("failed to encode transform", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return models.NewIOError("failed to write transform", err)
	}
	return nil
}

// LoadTransform reads a transform written by SaveTransform
func LoadTransform(path string) (*RigidTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewIOError("failed to read transform", err)
	}
	t := &RigidTransform{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, models.NewIOError(fmt.Sprintf("failed to decode transform %s", path), err)
	}
	return t, nil
}
