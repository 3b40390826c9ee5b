// Package marker defines fiducial marker observations and the reference geometry
// they are matched against. Marker recognition itself happens in an external
// detector; this package only carries its output.
package marker

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Corner indices into the 4 ordered corners of a marker quad.
const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// collinearity tolerance for a corner triple, relative to the quad perimeter
const degenerateAreaRatio = 1e-6

// Observation is a single marker seen in one camera frame: an opaque id and the 4
// corners in image space, ordered TL, TR, BR, BL.
type Observation struct {
	ID      int32       `json:"id"`
	Corners [4]r2.Point `json:"corners"`
}

// Center returns the centroid of the marker quad.
func (o *Observation) Center() r2.Point {
	sum := r2.Point{}
	for _, c := range o.Corners {
		sum = sum.Add(c)
	}
	return sum.Mul(1. / 4.)
}

// CheckValid rejects degenerate observations where any 3 of the 4 corners are
// (near-)collinear, which would make any fit against them rank deficient.
func (o *Observation) CheckValid() error {
	return checkQuad(o.Corners)
}

// ReferenceGeometry is a marker's known corner positions in the shared reference
// plane, ordered the same way as Observation corners. Loaded once per session and
// immutable afterwards.
type ReferenceGeometry struct {
	ID      int32       `json:"id"`
	Corners [4]r2.Point `json:"corners"`
}

// CheckValid rejects degenerate reference quads.
func (g *ReferenceGeometry) CheckValid() error {
	return checkQuad(g.Corners)
}

// ReferenceSet is an immutable id-keyed collection of reference geometry.
type ReferenceSet struct {
	markers map[int32]ReferenceGeometry
}

// NewReferenceSet validates the given geometry and builds a set keyed by id.
func NewReferenceSet(geoms []ReferenceGeometry) (*ReferenceSet, error) {
	if len(geoms) == 0 {
		return nil, errors.New("reference set needs at least one marker")
	}
	markers := make(map[int32]ReferenceGeometry, len(geoms))
	for _, g := range geoms {
		if err := g.CheckValid(); err != nil {
			return nil, errors.Wrapf(err, "invalid reference geometry for marker %d", g.ID)
		}
		if _, ok := markers[g.ID]; ok {
			return nil, errors.Errorf("duplicate reference geometry for marker %d", g.ID)
		}
		markers[g.ID] = g
	}
	return &ReferenceSet{markers: markers}, nil
}

// NewReferenceSetFromJSONFile loads reference geometry from a JSON array of markers.
func NewReferenceSetFromJSONFile(jsonPath string) (*ReferenceSet, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	geoms := []ReferenceGeometry{}
	if err := json.Unmarshal(byteValue, &geoms); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return NewReferenceSet(geoms)
}

// Lookup returns the geometry matching the given id.
func (rs *ReferenceSet) Lookup(id int32) (ReferenceGeometry, bool) {
	g, ok := rs.markers[id]
	return g, ok
}

// Len returns the number of markers in the set.
func (rs *ReferenceSet) Len() int {
	return len(rs.markers)
}

// IDs returns the marker ids present in the set, in no particular order.
func (rs *ReferenceSet) IDs() []int32 {
	out := make([]int32, 0, len(rs.markers))
	for id := range rs.markers {
		out = append(out, id)
	}
	return out
}

func checkQuad(corners [4]r2.Point) error {
	perimeter := 0.
	for i := range corners {
		perimeter += corners[i].Sub(corners[(i+1)%4]).Norm()
	}
	if perimeter == 0 {
		return errors.New("all corners coincide")
	}
	scale := perimeter / 4
	for i := 0; i < 4; i++ {
		a := corners[(i+1)%4].Sub(corners[i])
		b := corners[(i+2)%4].Sub(corners[i])
		// twice the triangle area of the corner triple
		area := math.Abs(a.X*b.Y - a.Y*b.X)
		if area < degenerateAreaRatio*scale*scale {
			return errors.Errorf("corners %d, %d, %d are collinear", i, (i+1)%4, (i+2)%4)
		}
	}
	return nil
}
