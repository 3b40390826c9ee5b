package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// R4AA represents an R4 axis angle: a unit rotation axis and an angle around it.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// Normalize scales the axis to the unit sphere.
func (r4 *R4AA) Normalize() {
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if norm == 0 {
		r4.RX, r4.RY, r4.RZ = 0, 0, 1
		return
	}
	r4.RX /= norm
	r4.RY /= norm
	r4.RZ /= norm
}

// ToR3 converts an R4 angle axis to R3, where the axis is scaled by theta.
func (r4 *R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX * r4.Theta, Y: r4.RY * r4.Theta, Z: r4.RZ * r4.Theta}
}

// ToQuat converts an R4 axis angle to a unit quaternion.
func (r4 *R4AA) ToQuat() quat.Number {
	r4.Normalize()
	sinA := math.Sin(r4.Theta / 2)
	return quat.Number{
		Real: math.Cos(r4.Theta / 2),
		Imag: r4.RX * sinA,
		Jmag: r4.RY * sinA,
		Kmag: r4.RZ * sinA,
	}
}

// R3ToR4 converts an R3 angle axis (axis scaled by theta) to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta < 1e-12 {
		return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
	}
	return &R4AA{Theta: theta, RX: aa.X / theta, RY: aa.Y / theta, RZ: aa.Z / theta}
}

// QuatToR4AA converts a quaternion to an R4 axis angle in the same way the C++ Eigen library does.
// https://eigen.tuxfamily.org/dox/classEigen_1_1AngleAxis.html
func QuatToR4AA(q quat.Number) *R4AA {
	denom := Norm(q)
	angle := 2 * math.Atan2(math.Sqrt(q.Imag*q.Imag+q.Jmag*q.Jmag+q.Kmag*q.Kmag), q.Real)
	sinHalf := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if sinHalf < 1e-12 || denom == 0 {
		return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
	}
	return &R4AA{Theta: angle, RX: q.Imag / sinHalf, RY: q.Jmag / sinHalf, RZ: q.Kmag / sinHalf}
}

// Norm returns the norm of the quaternion, i.e. the sqrt of the sum of the squares of all fields.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize a quaternion, returning a unit quaternion.
func Normalize(q quat.Number) quat.Number {
	length := Norm(q)
	if math.Abs(length-1.0) < 1e-10 {
		return q
	}
	if length == 0 {
		return quat.Number{Real: 1}
	}
	if length == math.Inf(1) {
		length = float64(math.MaxFloat64)
	}
	return quat.Number{Real: q.Real / length, Imag: q.Imag / length, Jmag: q.Jmag / length, Kmag: q.Kmag / length}
}

// QuatToRotationMatrix converts a quaternion to a rotation matrix.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	m := [9]float64{
		1 - 2*y*y - 2*z*z, 2*x*y - 2*z*w, 2*x*z + 2*y*w,
		2*x*y + 2*z*w, 1 - 2*x*x - 2*z*z, 2*y*z - 2*x*w,
		2*x*z - 2*y*w, 2*y*z + 2*x*w, 1 - 2*x*x - 2*y*y,
	}
	return &RotationMatrix{m}
}

// MatrixToQuat converts a rotation matrix to a unit quaternion using Shepperd's method,
// branching on the largest diagonal term for numerical stability.
func MatrixToQuat(rm *RotationMatrix) quat.Number {
	m := rm.m
	tr := m[0] + m[4] + m[8]
	var q quat.Number
	switch {
	case tr > 0:
		s := 0.5 / math.Sqrt(tr+1.0)
		q = quat.Number{Real: 0.25 / s, Imag: (m[7] - m[5]) * s, Jmag: (m[2] - m[6]) * s, Kmag: (m[3] - m[1]) * s}
	case m[0] > m[4] && m[0] > m[8]:
		s := 2.0 * math.Sqrt(1.0+m[0]-m[4]-m[8])
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: 0.25 * s, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := 2.0 * math.Sqrt(1.0+m[4]-m[0]-m[8])
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: 0.25 * s, Kmag: (m[5] + m[7]) / s}
	default:
		s := 2.0 * math.Sqrt(1.0+m[8]-m[0]-m[4])
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: 0.25 * s}
	}
	return Normalize(q)
}

// QuaternionAlmostEqual is an equality test for all the float components of a quaternion.
// Quaternions have double coverage, q and -q represent the same rotation, so both are checked.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	minusB := quat.Number{Real: -b.Real, Imag: -b.Imag, Jmag: -b.Jmag, Kmag: -b.Kmag}
	return quatAlmostEqual(a, b, tol) || quatAlmostEqual(a, minusB, tol)
}

func quatAlmostEqual(a, b quat.Number, tol float64) bool {
	return math.Abs(a.Real-b.Real) < tol &&
		math.Abs(a.Imag-b.Imag) < tol &&
		math.Abs(a.Jmag-b.Jmag) < tol &&
		math.Abs(a.Kmag-b.Kmag) < tol
}
