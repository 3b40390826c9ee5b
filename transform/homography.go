package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Homography is a 3x3 projective transform mapping one plane's points to another's,
// defined up to scale. Stored in row major order, normalized so the last element is 1
// wherever possible.
type Homography struct {
	matrix [9]float64
}

// NewHomography creates a Homography from a slice of floats in row major order.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	m := [9]float64{}
	copy(m[:], vals)
	return &Homography{m}, nil
}

// At returns the value of the homography at the given index.
func (h *Homography) At(row, col int) float64 {
	return h.matrix[3*row+col]
}

// Apply applies the homography to the given point and dehomogenizes the result.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Det returns the determinant.
func (h *Homography) Det() float64 {
	m := h.matrix
	return m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Inverse returns the inverse homography, mapping destination plane points back to
// the source plane.
func (h *Homography) Inverse() (*Homography, error) {
	det := h.Det()
	if math.Abs(det) < 1e-12 {
		return nil, errors.New("homography is not invertible")
	}
	adj := adjugate3(h.matrix)
	for i := range adj {
		adj[i] /= det
	}
	return normalizedHomography(adj), nil
}

// RawMatrix returns a copy of the underlying 9 values in row major order, the shape
// persisted by calibration snapshots.
func (h *Homography) RawMatrix() []float64 {
	out := make([]float64, 9)
	copy(out, h.matrix[:])
	return out
}

// normalizedHomography scales so the bottom right element is 1, leaving the matrix
// untouched when that element is numerically zero.
func normalizedHomography(m [9]float64) *Homography {
	if math.Abs(m[8]) > 1e-14 {
		for i := 0; i < 8; i++ {
			m[i] /= m[8]
		}
		m[8] = 1
	}
	return &Homography{m}
}

// adjugate3 returns the adjugate (transpose of the cofactor matrix) of a 3x3 matrix
// in row major order. For invertible m, adjugate(m) = det(m) * inverse(m), which lets
// the homography construction avoid dividing by small determinants.
func adjugate3(m [9]float64) [9]float64 {
	return [9]float64{
		m[4]*m[8] - m[5]*m[7], m[2]*m[7] - m[1]*m[8], m[1]*m[5] - m[2]*m[4],
		m[5]*m[6] - m[3]*m[8], m[0]*m[8] - m[2]*m[6], m[2]*m[3] - m[0]*m[5],
		m[3]*m[7] - m[4]*m[6], m[1]*m[6] - m[0]*m[7], m[0]*m[4] - m[1]*m[3],
	}
}

func matMul3(a, b [9]float64) [9]float64 {
	out := [9]float64{}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			sum := 0.
			for k := 0; k < 3; k++ {
				sum += a[3*r+k] * b[3*k+c]
			}
			out[3*r+c] = sum
		}
	}
	return out
}

func matVec3(m [9]float64, v [3]float64) [3]float64 {
	return [3]float64{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}
