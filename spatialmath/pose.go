package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Pose represents a rigid transform: an orthonormal rotation with determinant +1
// followed by a translation. For a camera pose it maps reference-space points into
// the camera frame.
type Pose struct {
	rotation    *RotationMatrix
	translation r3.Vector
}

// NewPose creates a pose from a rotation matrix and a translation.
func NewPose(rotation *RotationMatrix, translation r3.Vector) *Pose {
	if rotation == nil {
		rotation = NewZeroRotationMatrix()
	}
	return &Pose{rotation: rotation, translation: translation}
}

// NewZeroPose returns a pose with no rotation or translation.
func NewZeroPose() *Pose {
	return &Pose{rotation: NewZeroRotationMatrix()}
}

// Rotation returns the rotation component.
func (p *Pose) Rotation() *RotationMatrix {
	return p.rotation
}

// Translation returns the translation component.
func (p *Pose) Translation() r3.Vector {
	return p.translation
}

// TransformPoint applies the pose to a point: R*v + t.
func (p *Pose) TransformPoint(v r3.Vector) r3.Vector {
	return p.rotation.ApplyTo(v).Add(p.translation)
}

// Compose returns the pose equivalent to applying other first, then p.
func (p *Pose) Compose(other *Pose) *Pose {
	return &Pose{
		rotation:    p.rotation.MatMul(other.rotation),
		translation: p.rotation.ApplyTo(other.translation).Add(p.translation),
	}
}

// Invert returns the inverse transform: R^T, -R^T t.
func (p *Pose) Invert() *Pose {
	rt := p.rotation.Transpose()
	return &Pose{
		rotation:    rt,
		translation: rt.ApplyTo(p.translation).Mul(-1),
	}
}

// ToHomogeneous returns the pose as a 4x4 homogeneous matrix in row major order,
// 16 floats with the last row (0 0 0 1).
func (p *Pose) ToHomogeneous() []float64 {
	m := p.rotation.m
	t := p.translation
	return []float64{
		m[0], m[1], m[2], t.X,
		m[3], m[4], m[5], t.Y,
		m[6], m[7], m[8], t.Z,
		0, 0, 0, 1,
	}
}

// NewPoseFromHomogeneous builds a pose from a 4x4 homogeneous matrix in row major order.
// The rotation block is re-projected onto the rotation group so that deserialized poses
// always satisfy the orthonormality invariant.
func NewPoseFromHomogeneous(m []float64) (*Pose, error) {
	if len(m) != 16 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 16", len(m))
	}
	for i, want := range []float64{0, 0, 0, 1} {
		if math.Abs(m[12+i]-want) > 1e-9 {
			return nil, errors.New("last row of a homogeneous pose matrix must be (0 0 0 1)")
		}
	}
	rot, err := Orthonormalize([]float64{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	})
	if err != nil {
		return nil, err
	}
	return &Pose{rotation: rot, translation: r3.Vector{X: m[3], Y: m[7], Z: m[11]}}, nil
}

// OrientationBetween returns the angle in radians between the rotations of two poses.
func OrientationBetween(a, b *Pose) float64 {
	diff := a.rotation.Transpose().MatMul(b.rotation)
	// trace of a rotation matrix is 1 + 2cos(theta)
	tr := diff.m[0] + diff.m[4] + diff.m[8]
	c := (tr - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// PoseAlmostEqual checks whether two poses match within a translation distance and an
// angular tolerance in radians.
func PoseAlmostEqual(a, b *Pose, transTol, angTol float64) bool {
	if a.translation.Sub(b.translation).Norm() > transTol {
		return false
	}
	return OrientationBetween(a, b) <= angTol
}
