package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// relative tolerance on twice-triangle-areas used to call a point triple collinear
const collinearAreaEps = 1e-10

// EstimateExactHomography computes the unique projective map sending each src point
// onto its dst point, with zero residual on the 4 defining pairs by construction.
// Each quad is turned into a "basis to points" matrix: the first 3 points form
// homogeneous basis columns, scaled by the solution (via the adjugate) that maps the
// 4th point. Composing dst's matrix with the adjugate of src's gives the homography
// without ever dividing by a small determinant.
func EstimateExactHomography(src, dst [4]r2.Point) (*Homography, error) {
	srcBasis, err := basisToPoints(src)
	if err != nil {
		return nil, errors.Wrap(err, "source points")
	}
	dstBasis, err := basisToPoints(dst)
	if err != nil {
		return nil, errors.Wrap(err, "destination points")
	}
	h := matMul3(dstBasis, adjugate3(srcBasis))
	return normalizedHomography(h), nil
}

// basisToPoints maps the canonical projective basis onto the 4 given points. The
// scale vector solved for the 4th point doubles as a collinearity probe: each of its
// components is (twice) the area of a triangle over 3 of the 4 points.
func basisToPoints(p [4]r2.Point) ([9]float64, error) {
	m := [9]float64{
		p[0].X, p[1].X, p[2].X,
		p[0].Y, p[1].Y, p[2].Y,
		1, 1, 1,
	}
	adj := adjugate3(m)
	v := matVec3(adj, [3]float64{p[3].X, p[3].Y, 1})

	scale := 0.
	for _, pt := range p {
		scale = math.Max(scale, math.Max(math.Abs(pt.X), math.Abs(pt.Y)))
	}
	scale = math.Max(scale, 1)
	// areas scale with the square of the coordinate magnitude
	areaEps := collinearAreaEps * scale * scale
	det := m[0]*adj[0] + m[1]*adj[3] + m[2]*adj[6]
	if math.Abs(det) < areaEps {
		return [9]float64{}, ErrCollinearPoints
	}
	for _, vi := range v {
		if math.Abs(vi) < areaEps {
			return [9]float64{}, ErrCollinearPoints
		}
	}
	return [9]float64{
		m[0] * v[0], m[1] * v[1], m[2] * v[2],
		m[3] * v[0], m[4] * v[1], m[5] * v[2],
		m[6] * v[0], m[7] * v[1], m[8] * v[2],
	}, nil
}

// EstimateLeastSquaresHomography fits a homography over 4 or more correspondence
// pairs with the Direct Linear Transform, minimizing algebraic error over
// Hartley-normalized points.
func EstimateLeastSquaresHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("src and dst must have the same number of points, got %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "have %d pairs, need at least 4", len(src))
	}
	srcNorm, tSrc := normalizePoints(src)
	dstNorm, tDst := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcNorm {
		s := srcNorm[i]
		d := dstNorm[i]
		a.SetRow(2*i, []float64{-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize DLT system")
	}
	// the system must have rank 8 for the null-space solution to be unique
	const rcond = 1e-12
	if svd.Rank(rcond) < 8 {
		return nil, errors.Wrap(ErrDegenerateGeometry, "DLT system is rank deficient")
	}
	var v mat.Dense
	svd.VTo(&v)
	hNorm := [9]float64{}
	for i := 0; i < 9; i++ {
		hNorm[i] = v.At(i, 8)
	}

	// denormalize: H = tDst^-1 * Hn * tSrc
	h := matMul3(matMul3(invertNormalization(tDst), hNorm), tSrc)
	out := normalizedHomography(h)
	if math.Abs(out.Det()) < 1e-12 {
		return nil, errors.Wrap(ErrDegenerateGeometry, "fitted homography is singular")
	}
	return out, nil
}

// RansacConfig bounds the robust homography search.
type RansacConfig struct {
	// MaxIterations is the number of minimal 4-point subsets sampled.
	MaxIterations int `json:"max_iterations"`
	// InlierThresholdPx is the reprojection distance under which a pair supports a candidate.
	InlierThresholdPx float64 `json:"inlier_threshold_px"`
	// MinInliers is the support a candidate needs to be accepted; defaults to half
	// the pairs, never below 4.
	MinInliers int `json:"min_inliers"`
	// Seed makes the sampling deterministic; fixed default so repeated fits agree.
	Seed int64 `json:"seed"`
}

// applyRansacDefaults fills zero values; nPairs sizes the inlier floor.
func (cfg RansacConfig) applyDefaults(nPairs int) RansacConfig {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 500
	}
	if cfg.InlierThresholdPx <= 0 {
		cfg.InlierThresholdPx = 3.0
	}
	if cfg.MinInliers <= 0 {
		cfg.MinInliers = nPairs / 2
		if cfg.MinInliers < 4 {
			cfg.MinInliers = 4
		}
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return cfg
}

// EstimateRobustHomography fits a homography over an overdetermined set of pairs:
// a least-squares DLT candidate plus RANSAC over minimal 4-point subsets, scored by
// inlier count at the pixel threshold, with a final least-squares refit over the best
// candidate's inlier set.
func EstimateRobustHomography(src, dst []r2.Point, cfg RansacConfig) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("src and dst must have the same number of points, got %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "have %d pairs, need at least 4", len(src))
	}
	if len(src) == 4 {
		return EstimateExactHomography([4]r2.Point(src), [4]r2.Point(dst))
	}
	cfg = cfg.applyDefaults(len(src))

	var best *Homography
	bestInliers := []int{}
	consider := func(h *Homography) {
		inliers := inlierIndices(h, src, dst, cfg.InlierThresholdPx)
		if len(inliers) > len(bestInliers) {
			best = h
			bestInliers = inliers
		}
	}

	// the plain least-squares fit is the first candidate; with no outliers it
	// usually already wins
	if h, err := EstimateLeastSquaresHomography(src, dst); err == nil {
		consider(h)
	}

	//nolint:gosec // deterministic sampling, not cryptographic
	rnd := rand.New(rand.NewSource(cfg.Seed))
	sample := [4]int{}
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		sampleDistinct(rnd, len(src), &sample)
		var srcSub, dstSub [4]r2.Point
		for i, idx := range sample {
			srcSub[i] = src[idx]
			dstSub[i] = dst[idx]
		}
		h, err := EstimateExactHomography(srcSub, dstSub)
		if err != nil {
			continue
		}
		consider(h)
	}

	if best == nil || len(bestInliers) < cfg.MinInliers {
		return nil, errors.Wrapf(ErrInsufficientInliers,
			"best candidate had %d inliers of %d required after %d trials",
			len(bestInliers), cfg.MinInliers, cfg.MaxIterations)
	}

	srcIn := make([]r2.Point, len(bestInliers))
	dstIn := make([]r2.Point, len(bestInliers))
	for i, idx := range bestInliers {
		srcIn[i] = src[idx]
		dstIn[i] = dst[idx]
	}
	refit, err := EstimateLeastSquaresHomography(srcIn, dstIn)
	if err != nil {
		// the winning candidate is still a valid homography
		return best, nil
	}
	return refit, nil
}

func inlierIndices(h *Homography, src, dst []r2.Point, thresholdPx float64) []int {
	inliers := []int{}
	for i := range src {
		if h.Apply(src[i]).Sub(dst[i]).Norm() <= thresholdPx {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

func sampleDistinct(rnd *rand.Rand, n int, out *[4]int) {
	for i := 0; i < 4; i++ {
	retry:
		idx := rnd.Intn(n)
		for j := 0; j < i; j++ {
			if out[j] == idx {
				goto retry
			}
		}
		out[i] = idx
	}
}

// normalizePoints translates the centroid to the origin and scales the mean distance
// to sqrt(2), as described in Multiple View Geometry, Alg 4.2. Returns the transformed
// points and the similarity transform that produced them.
func normalizePoints(pts []r2.Point) ([]r2.Point, [9]float64) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt2 / d
	}
	transform := [9]float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	transformed := make([]r2.Point, nPoints)
	for i := range transformed {
		transformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return transformed, transform
}

// invertNormalization inverts a similarity transform produced by normalizePoints.
func invertNormalization(t [9]float64) [9]float64 {
	s := t[0]
	return [9]float64{
		1 / s, 0, -t[2] / s,
		0, 1 / s, -t[5] / s,
		0, 0, 1,
	}
}
