package calibration

import "github.com/pkg/errors"

var (
	// ErrTimeout means the detection loop exhausted its wall-clock budget without
	// ever matching enough corners.
	ErrTimeout = errors.New("calibration timed out waiting for marker detections")

	// ErrPoorQuality means the fitted homography failed validation. The session
	// result still carries the homography and the quality report.
	ErrPoorQuality = errors.New("calibration quality below the usable threshold")

	// ErrConcurrentOperation means a run was requested on a session that already
	// has one in flight.
	ErrConcurrentOperation = errors.New("calibration session already has a run in progress")
)
