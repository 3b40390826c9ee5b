// Package calibration turns displayed reference markers and their camera
// detections into a validated display-to-camera homography: a quality evaluator,
// the session state machine that drives the external display/camera/detector
// collaborators, and the serializable snapshot of a committed result.
package calibration

import (
	"context"
	"image"

	"github.com/golang/geo/r2"

	"github.com/protolight/armarker/marker"
)

// ReferenceCorner is one marker the display is asked to show: an id the detector
// will report back and the position of the marker center in display coordinates.
type ReferenceCorner struct {
	ID       int32    `json:"id"`
	Position r2.Point `json:"position"`
}

// FrameSource hands out camera frames. Device lifecycle is owned by the caller.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, error)
}

// MarkerDetector finds fiducial markers in a frame. Recognition is external;
// this package only consumes its observations.
type MarkerDetector interface {
	DetectMarkers(ctx context.Context, frame image.Image) ([]marker.Observation, error)
}

// PatternDisplay shows reference markers and reports where they actually ended
// up, which may differ from the request if the display snaps or clamps positions.
type PatternDisplay interface {
	DisplayCorners(ctx context.Context, corners []ReferenceCorner) ([]ReferenceCorner, error)
}

// DefaultReferenceCorners lays out 4 corner markers inset from the display edges,
// ordered TL, TR, BR, BL with ids 0 through 3, plus an optional center marker
// with id 4.
func DefaultReferenceCorners(width, height, inset float64, includeCenter bool) []ReferenceCorner {
	corners := []ReferenceCorner{
		{ID: 0, Position: r2.Point{X: inset, Y: inset}},
		{ID: 1, Position: r2.Point{X: width - inset, Y: inset}},
		{ID: 2, Position: r2.Point{X: width - inset, Y: height - inset}},
		{ID: 3, Position: r2.Point{X: inset, Y: height - inset}},
	}
	if includeCenter {
		corners = append(corners, ReferenceCorner{ID: 4, Position: r2.Point{X: width / 2, Y: height / 2}})
	}
	return corners
}
