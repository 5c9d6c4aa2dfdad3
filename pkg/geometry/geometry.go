// Package geometry provides the small vector helpers shared by the
// detection, registration and analysis stages.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Distance2 returns the Euclidean distance between two in-plane points
func Distance2(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(a, b))
}

// RadiusSquared returns x²+y², the squared distance from the image origin
func RadiusSquared(p r2.Vec) float64 {
	return p.X*p.X + p.Y*p.Y
}

// Dist3 returns the Euclidean distance between two points in space
func Dist3(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}

// PlanarDistance returns the distance between two points ignoring Z
func PlanarDistance(a, b r3.Vec) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Planar drops the Z component
func Planar(p r3.Vec) r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// Lift appends a Z component to an in-plane point
func Lift(p r2.Vec, z float64) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: z}
}

// Centroid3 returns the mean of a point set. It returns the zero vector for
// an empty set.
func Centroid3(points []r3.Vec) r3.Vec {
	if len(points) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range points {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(points)), sum)
}

// Centroid2 returns the mean of an in-plane point set
func Centroid2(points []r2.Vec) r2.Vec {
	if len(points) == 0 {
		return r2.Vec{}
	}
	var sum r2.Vec
	for _, p := range points {
		sum = r2.Add(sum, p)
	}
	return r2.Scale(1/float64(len(points)), sum)
}
