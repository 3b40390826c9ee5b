// Package spatialmath defines the poses, rotations and conversions between rotation
// parameterizations used by the calibration and tracking code.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RotationMatrix is a 3x3 matrix in row major order.
// m[3*r + c] is the element in the r'th row and c'th column.
type RotationMatrix struct {
	m [9]float64
}

// NewRotationMatrix creates the rotation matrix from a slice of floats in row major order.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	mCopy := [9]float64{}
	copy(mCopy[:], m)
	return &RotationMatrix{mCopy}, nil
}

// NewZeroRotationMatrix returns the identity rotation.
func NewZeroRotationMatrix() *RotationMatrix {
	return &RotationMatrix{[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// At returns the float corresponding to the element at the given row and column.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.m[3*row+col]
}

// Row returns the a vector with the values of the specified row.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.m[3*row], Y: rm.m[3*row+1], Z: rm.m[3*row+2]}
}

// Col returns the a vector with the values of the specified column.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.m[col], Y: rm.m[3+col], Z: rm.m[6+col]}
}

// Det returns the determinant.
func (rm *RotationMatrix) Det() float64 {
	m := rm.m
	return m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Transpose returns the transpose, which for a proper rotation is also the inverse.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	m := rm.m
	return &RotationMatrix{[9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
}

// MatMul returns the product rm * other.
func (rm *RotationMatrix) MatMul(other *RotationMatrix) *RotationMatrix {
	out := [9]float64{}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			sum := 0.
			for k := 0; k < 3; k++ {
				sum += rm.m[3*r+k] * other.m[3*k+c]
			}
			out[3*r+c] = sum
		}
	}
	return &RotationMatrix{out}
}

// ApplyTo rotates the given vector.
func (rm *RotationMatrix) ApplyTo(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.m[0]*v.X + rm.m[1]*v.Y + rm.m[2]*v.Z,
		Y: rm.m[3]*v.X + rm.m[4]*v.Y + rm.m[5]*v.Z,
		Z: rm.m[6]*v.X + rm.m[7]*v.Y + rm.m[8]*v.Z,
	}
}

// RawMatrix returns a copy of the underlying values in row major order.
func (rm *RotationMatrix) RawMatrix() []float64 {
	out := make([]float64, 9)
	copy(out, rm.m[:])
	return out
}

// Orthonormalize projects an arbitrary 3x3 matrix onto the nearest proper rotation
// (orthonormal, determinant +1) using the SVD: R = U V^T, with the last column of U
// negated when that product would otherwise reflect.
func Orthonormalize(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	dense := mat.NewDense(3, 3, m)
	var svd mat.SVD
	if ok := svd.Factorize(dense, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// negating the last column of U flips the reflection into a rotation
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	out := [9]float64{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = r.At(i, j)
		}
	}
	return &RotationMatrix{out}, nil
}

// OrthonormalizeRotation re-projects a rotation matrix whose entries may have drifted
// off the rotation group, e.g. after per-entry filtering or a linear estimate.
func OrthonormalizeRotation(rm *RotationMatrix) (*RotationMatrix, error) {
	return Orthonormalize(rm.RawMatrix())
}

// RotationMatrixAlmostEqual returns whether the matrices match element-wise within epsilon.
func RotationMatrixAlmostEqual(a, b *RotationMatrix, epsilon float64) bool {
	for i := 0; i < 9; i++ {
		if math.Abs(a.m[i]-b.m[i]) > epsilon {
			return false
		}
	}
	return true
}
