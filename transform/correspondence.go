package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Correspondence pairs a known reference-space point with where the camera saw it.
type Correspondence struct {
	Reference r3.Vector
	Image     r2.Point
}

// Correspondence2D pairs a point on a reference plane with its image observation,
// the shape homography fitting and quality evaluation work over.
type Correspondence2D struct {
	Reference r2.Point
	Image     r2.Point
}

// CorrespondenceSet collects the 3D-2D pairs for one pose solve. Built per call,
// discarded afterwards.
type CorrespondenceSet struct {
	pairs []Correspondence
}

// NewCorrespondenceSet returns an empty set.
func NewCorrespondenceSet() *CorrespondenceSet {
	return &CorrespondenceSet{}
}

// Add appends a 3D reference point and its image observation.
func (cs *CorrespondenceSet) Add(reference r3.Vector, image r2.Point) {
	cs.pairs = append(cs.pairs, Correspondence{Reference: reference, Image: image})
}

// AddPlanar appends a reference point lying on the z=0 reference plane.
func (cs *CorrespondenceSet) AddPlanar(reference, image r2.Point) {
	cs.Add(r3.Vector{X: reference.X, Y: reference.Y, Z: 0}, image)
}

// Len returns the number of pairs.
func (cs *CorrespondenceSet) Len() int {
	return len(cs.pairs)
}

// Pairs returns the underlying pairs.
func (cs *CorrespondenceSet) Pairs() []Correspondence {
	return cs.pairs
}

// IsPlanar reports whether every reference point lies on a plane of constant Z,
// which decides between the planar and general pose solves.
func (cs *CorrespondenceSet) IsPlanar() bool {
	if len(cs.pairs) == 0 {
		return true
	}
	z0 := cs.pairs[0].Reference.Z
	for _, p := range cs.pairs[1:] {
		if math.Abs(p.Reference.Z-z0) > 1e-9 {
			return false
		}
	}
	return true
}
