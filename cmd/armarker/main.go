// Command armarker runs a synthetic end-to-end demo: a scripted display,
// camera, and detector drive a full calibration session, the resulting
// snapshot prints as JSON, and a short tracking run reports the solved pose.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/protolight/armarker/calibration"
	"github.com/protolight/armarker/marker"
	"github.com/protolight/armarker/spatialmath"
	"github.com/protolight/armarker/tracking"
	"github.com/protolight/armarker/transform"
)

const (
	frameWidth  = 1280
	frameHeight = 720
)

func demoIntrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width: frameWidth, Height: frameHeight,
		Fx: 800, Fy: 805, Ppx: 640, Ppy: 360,
	}
}

func demoPose() *spatialmath.Pose {
	aa := &spatialmath.R4AA{Theta: 0.25, RX: 0.1, RY: 1, RZ: 0.05}
	aa.Normalize()
	return spatialmath.NewPose(
		spatialmath.QuatToRotationMatrix(aa.ToQuat()),
		r3.Vector{X: 40, Y: -25, Z: 900},
	)
}

type syntheticDisplay struct{}

func (d *syntheticDisplay) DisplayCorners(ctx context.Context, corners []calibration.ReferenceCorner) ([]calibration.ReferenceCorner, error) {
	return corners, nil
}

type syntheticCamera struct{}

func (c *syntheticCamera) NextFrame(ctx context.Context) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, frameWidth, frameHeight)), nil
}

// calibrationDetector sees the displayed corners through a fixed projective
// warp, standing in for a projector-camera light path.
type calibrationDetector struct {
	warp    *transform.Homography
	corners []calibration.ReferenceCorner
}

func (d *calibrationDetector) DetectMarkers(ctx context.Context, frame image.Image) ([]marker.Observation, error) {
	observations := make([]marker.Observation, len(d.corners))
	for i, c := range d.corners {
		observations[i] = squareObservation(c.ID, d.warp.Apply(c.Position))
	}
	return observations, nil
}

// trackingDetector sees reference markers through a fixed 6-DoF camera pose.
type trackingDetector struct {
	refs *marker.ReferenceSet
	pose *spatialmath.Pose
	intr *transform.PinholeCameraIntrinsics
}

func (d *trackingDetector) DetectMarkers(ctx context.Context, frame image.Image) ([]marker.Observation, error) {
	observations := []marker.Observation{}
	for _, id := range d.refs.IDs() {
		geom, _ := d.refs.Lookup(id)
		obs := marker.Observation{ID: id}
		for i, c := range geom.Corners {
			cam := d.pose.TransformPoint(r3.Vector{X: c.X, Y: c.Y, Z: 0})
			px, py := d.intr.PointToPixel(cam.X, cam.Y, cam.Z)
			obs.Corners[i] = r2.Point{X: px, Y: py}
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

func squareObservation(id int32, center r2.Point) marker.Observation {
	return marker.Observation{ID: id, Corners: [4]r2.Point{
		{X: center.X - 4, Y: center.Y - 4},
		{X: center.X + 4, Y: center.Y - 4},
		{X: center.X + 4, Y: center.Y + 4},
		{X: center.X - 4, Y: center.Y + 4},
	}}
}

func runCalibration(ctx context.Context, logger golog.Logger) error {
	warp, err := transform.NewHomography([]float64{0.92, 0.015, 70, -0.01, 0.9, 55, 1e-6, -2e-6, 1})
	if err != nil {
		return err
	}
	corners := calibration.DefaultReferenceCorners(frameWidth, frameHeight, 120, true)
	session := calibration.NewSession(
		&syntheticDisplay{},
		&syntheticCamera{},
		&calibrationDetector{warp: warp, corners: corners},
		calibration.SessionConfig{AttemptBudget: 20, AttemptInterval: 50 * time.Millisecond},
		logger,
	)

	result, err := session.Run(ctx, corners)
	if err != nil {
		return err
	}
	logger.Infow("calibration finished", "state", result.State, "attempts", result.Attempts, "tier", result.Quality.Tier)

	snapshot, err := calibration.NewSnapshot(result.SessionID, time.Now().UTC(), result.Homography, nil, *result.Quality)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runTracking(logger golog.Logger) error {
	refs, err := marker.NewReferenceSet([]marker.ReferenceGeometry{
		{ID: 1, Corners: [4]r2.Point{{X: -250, Y: -180}, {X: -170, Y: -180}, {X: -170, Y: -100}, {X: -250, Y: -100}}},
		{ID: 5, Corners: [4]r2.Point{{X: 150, Y: -180}, {X: 230, Y: -180}, {X: 230, Y: -100}, {X: 150, Y: -100}}},
		{ID: 9, Corners: [4]r2.Point{{X: -50, Y: 100}, {X: 30, Y: 100}, {X: 30, Y: 180}, {X: -50, Y: 180}}},
	})
	if err != nil {
		return err
	}
	intr := demoIntrinsics()
	tracker, err := tracking.NewTracker(
		&syntheticCamera{},
		&trackingDetector{refs: refs, pose: demoPose(), intr: intr},
		refs, intr, tracking.Config{Interval: 10 * time.Millisecond}, logger,
	)
	if err != nil {
		return err
	}
	if err := tracker.Start(); err != nil {
		return err
	}
	defer tracker.Close()

	time.Sleep(200 * time.Millisecond)
	pose, ts, ok := tracker.Pose()
	if !ok {
		return errors.New("tracker produced no pose")
	}
	logger.Infow("tracked pose", "at", ts, "translation", pose.Translation())
	return nil
}

func main() {
	goutils.ContextualMain(mainWithArgs, golog.NewLogger("armarker"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	if err := runCalibration(ctx, logger); err != nil {
		return err
	}
	return runTracking(logger)
}
