package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/protolight/armarker/spatialmath"
)

const (
	// minimum pairs for a planar solve and for a general 3D solve
	minPlanarCorrespondences  = 4
	minGeneralCorrespondences = 6

	gaussNewtonIterations = 20
	jacobianStep          = 1e-7
)

// SolvePnP recovers the camera pose from 3D-2D correspondences and intrinsics,
// minimizing summed squared pixel reprojection error. A linear estimate (planar
// homography decomposition for coplanar references, a 3x4 DLT otherwise) seeds a
// Gauss-Newton refinement over an axis-angle rotation and translation; the linear
// rotation is re-projected onto the rotation group before refinement. Pure and
// deterministic for fixed inputs.
func SolvePnP(set *CorrespondenceSet, intrinsics *PinholeCameraIntrinsics) (*spatialmath.Pose, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	n := set.Len()
	if n < minPlanarCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "have %d pairs, need at least %d", n, minPlanarCorrespondences)
	}
	pairs := set.Pairs()
	normalized := make([]r2.Point, n)
	for i, p := range pairs {
		normalized[i] = intrinsics.PixelToNormalized(p.Image)
	}

	var initial *spatialmath.Pose
	var err error
	if set.IsPlanar() {
		initial, err = planarPoseEstimate(pairs, normalized)
	} else {
		if n < minGeneralCorrespondences {
			return nil, errors.Wrapf(ErrInsufficientCorrespondences,
				"have %d pairs, general 3D geometry needs at least %d", n, minGeneralCorrespondences)
		}
		initial, err = generalPoseEstimate(pairs, normalized)
	}
	if err != nil {
		return nil, err
	}
	return refinePose(initial, pairs, intrinsics)
}

// planarPoseEstimate recovers a pose from coplanar reference points by decomposing
// the homography between the reference plane and the normalized image plane:
// H = [r1 r2 t] up to scale, r3 = r1 x r2.
func planarPoseEstimate(pairs []Correspondence, normalized []r2.Point) (*spatialmath.Pose, error) {
	z0 := pairs[0].Reference.Z
	src := make([]r2.Point, len(pairs))
	for i, p := range pairs {
		src[i] = r2.Point{X: p.Reference.X, Y: p.Reference.Y}
	}
	h, err := EstimateLeastSquaresHomography(src, normalized)
	if err != nil {
		if errors.Is(err, ErrDegenerateGeometry) || errors.Is(err, ErrCollinearPoints) {
			return nil, errors.Wrap(ErrDegenerateGeometry, "planar reference points do not span the plane")
		}
		return nil, err
	}

	h1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vector{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}
	norm1, norm2 := h1.Norm(), h2.Norm()
	if norm1 < 1e-12 || norm2 < 1e-12 {
		return nil, errors.Wrap(ErrDegenerateGeometry, "homography decomposition collapsed")
	}
	lambda := 2 / (norm1 + norm2)
	c1 := h1.Mul(lambda)
	c2 := h2.Mul(lambda)
	t := h3.Mul(lambda)
	// the plane must sit in front of the camera
	if t.Z < 0 {
		c1, c2, t = c1.Mul(-1), c2.Mul(-1), t.Mul(-1)
	}
	c3 := c1.Cross(c2)
	rot, err := spatialmath.Orthonormalize([]float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	})
	if err != nil {
		return nil, err
	}
	// the homography treated the plane as z=0; shift the translation back to the
	// actual plane height
	t = t.Sub(rot.Col(2).Mul(z0))
	return spatialmath.NewPose(rot, t), nil
}

// generalPoseEstimate runs the 3x4 projection-matrix DLT over general (non-coplanar)
// reference points, then splits the matrix into a rotation and translation, fixing
// scale and sign.
func generalPoseEstimate(pairs []Correspondence, normalized []r2.Point) (*spatialmath.Pose, error) {
	n := len(pairs)
	a := mat.NewDense(2*n, 12, nil)
	for i, p := range pairs {
		x, y := normalized[i].X, normalized[i].Y
		rx, ry, rz := p.Reference.X, p.Reference.Y, p.Reference.Z
		a.SetRow(2*i, []float64{rx, ry, rz, 1, 0, 0, 0, 0, -x * rx, -x * ry, -x * rz, -x})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, rx, ry, rz, 1, -y * rx, -y * ry, -y * rz, -y})
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize PnP system")
	}
	const rcond = 1e-12
	if svd.Rank(rcond) < 11 {
		return nil, errors.Wrap(ErrDegenerateGeometry, "projection DLT system is rank deficient")
	}
	var v mat.Dense
	svd.VTo(&v)
	p := [12]float64{}
	for i := 0; i < 12; i++ {
		p[i] = v.At(i, 11)
	}

	// the third row of the rotation block has unit norm for a true projection matrix
	rowNorm := math.Sqrt(p[8]*p[8] + p[9]*p[9] + p[10]*p[10])
	if rowNorm < 1e-12 {
		return nil, errors.Wrap(ErrDegenerateGeometry, "projection matrix has no perspective component")
	}
	for i := range p {
		p[i] /= rowNorm
	}
	// points must project to positive depth; flip the global sign if the centroid lands behind the camera
	centroid := r3.Vector{}
	for _, pr := range pairs {
		centroid = centroid.Add(pr.Reference)
	}
	centroid = centroid.Mul(1 / float64(n))
	if p[8]*centroid.X+p[9]*centroid.Y+p[10]*centroid.Z+p[11] < 0 {
		for i := range p {
			p[i] = -p[i]
		}
	}

	rot, err := spatialmath.Orthonormalize([]float64{
		p[0], p[1], p[2],
		p[4], p[5], p[6],
		p[8], p[9], p[10],
	})
	if err != nil {
		return nil, err
	}
	t := r3.Vector{X: p[3], Y: p[7], Z: p[11]}
	return spatialmath.NewPose(rot, t), nil
}

// refinePose polishes a linear pose estimate with Gauss-Newton over 6 parameters
// (axis-angle rotation, translation), minimizing pixel reprojection error.
func refinePose(initial *spatialmath.Pose, pairs []Correspondence, intrinsics *PinholeCameraIntrinsics) (*spatialmath.Pose, error) {
	params := [6]float64{}
	aa := spatialmath.QuatToR4AA(spatialmath.MatrixToQuat(initial.Rotation())).ToR3()
	params[0], params[1], params[2] = aa.X, aa.Y, aa.Z
	trans := initial.Translation()
	params[3], params[4], params[5] = trans.X, trans.Y, trans.Z

	residuals := func(p [6]float64, out []float64) {
		pose := poseFromParams(p)
		for i, pair := range pairs {
			cam := pose.TransformPoint(pair.Reference)
			if cam.Z < 1e-9 {
				// behind the camera; a large residual steers the solver away
				out[2*i] = 1e6
				out[2*i+1] = 1e6
				continue
			}
			px, py := intrinsics.PointToPixel(cam.X, cam.Y, cam.Z)
			out[2*i] = px - pair.Image.X
			out[2*i+1] = py - pair.Image.Y
		}
	}
	cost := func(r []float64) float64 {
		sum := 0.
		for _, v := range r {
			sum += v * v
		}
		return sum
	}

	nRes := 2 * len(pairs)
	r0 := make([]float64, nRes)
	rPerturbed := make([]float64, nRes)
	residuals(params, r0)
	currentCost := cost(r0)

	jac := mat.NewDense(nRes, 6, nil)
	for iter := 0; iter < gaussNewtonIterations; iter++ {
		for k := 0; k < 6; k++ {
			perturbed := params
			perturbed[k] += jacobianStep
			residuals(perturbed, rPerturbed)
			for i := 0; i < nRes; i++ {
				jac.Set(i, k, (rPerturbed[i]-r0[i])/jacobianStep)
			}
		}
		negR := mat.NewVecDense(nRes, nil)
		for i := 0; i < nRes; i++ {
			negR.SetVec(i, -r0[i])
		}
		var delta mat.VecDense
		if err := delta.SolveVec(jac, negR); err != nil {
			// singular normal equations at the optimum; keep the current estimate
			break
		}

		step := 1.0
		improved := false
		for tries := 0; tries < 6; tries++ {
			candidate := params
			for k := 0; k < 6; k++ {
				candidate[k] += step * delta.AtVec(k)
			}
			residuals(candidate, rPerturbed)
			if c := cost(rPerturbed); c < currentCost {
				params = candidate
				copy(r0, rPerturbed)
				currentCost = c
				improved = true
				break
			}
			step /= 2
		}
		deltaNorm := 0.
		for k := 0; k < 6; k++ {
			deltaNorm += delta.AtVec(k) * delta.AtVec(k)
		}
		if !improved || math.Sqrt(deltaNorm) < 1e-12 {
			break
		}
	}

	return poseFromParams(params), nil
}

func poseFromParams(p [6]float64) *spatialmath.Pose {
	rot := spatialmath.QuatToRotationMatrix(spatialmath.R3ToR4(r3.Vector{X: p[0], Y: p[1], Z: p[2]}).ToQuat())
	return spatialmath.NewPose(rot, r3.Vector{X: p[3], Y: p[4], Z: p[5]})
}
