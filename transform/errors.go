package transform

import "github.com/pkg/errors"

// Solver failures are sentinel errors so callers can choose retry vs abort per kind
// with errors.Is after unwrapping any diagnostic context.
var (
	// ErrInsufficientCorrespondences means a solve was attempted with fewer point
	// pairs than the geometry requires (4 planar, 6 general).
	ErrInsufficientCorrespondences = errors.New("not enough correspondences for the requested solve")

	// ErrDegenerateGeometry means the correspondences form a configuration that
	// leaves the linear system rank deficient, e.g. (near-)collinear points.
	ErrDegenerateGeometry = errors.New("degenerate point configuration")

	// ErrCollinearPoints means 3 of the 4 points handed to the exact homography
	// construction are collinear, so no unique projective map exists.
	ErrCollinearPoints = errors.New("3 of the 4 points are collinear")

	// ErrInsufficientInliers means the RANSAC loop exhausted its trial budget
	// without finding a candidate supported by enough correspondences.
	ErrInsufficientInliers = errors.New("no homography candidate reached the minimum inlier count")

	// ErrInsufficientMarkers means that after matching observations against
	// reference geometry, too few usable correspondences remain for a pose solve.
	ErrInsufficientMarkers = errors.New("not enough matched markers for a pose solve")
)
