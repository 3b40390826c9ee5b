package tracking

import (
	"context"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/protolight/armarker/filter"
	"github.com/protolight/armarker/marker"
	"github.com/protolight/armarker/spatialmath"
	"github.com/protolight/armarker/transform"
)

func testIntrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width: 1280, Height: 720,
		Fx: 800, Fy: 805, Ppx: 640, Ppy: 360,
	}
}

func testPose() *spatialmath.Pose {
	aa := &spatialmath.R4AA{Theta: 0.3, RX: 0.2, RY: 1, RZ: 0.1}
	aa.Normalize()
	return spatialmath.NewPose(
		spatialmath.QuatToRotationMatrix(aa.ToQuat()),
		r3.Vector{X: 50, Y: -30, Z: 800},
	)
}

func referenceSquare(id int32, x, y, side float64) marker.ReferenceGeometry {
	return marker.ReferenceGeometry{
		ID: id,
		Corners: [4]r2.Point{
			{X: x, Y: y},
			{X: x + side, Y: y},
			{X: x + side, Y: y + side},
			{X: x, Y: y + side},
		},
	}
}

type stillFrames struct{}

func (f *stillFrames) NextFrame(ctx context.Context) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 1280, 720)), nil
}

// poseDetector projects the reference markers through a fixed camera pose, as a
// real detector would see them.
type poseDetector struct {
	refs  *marker.ReferenceSet
	pose  *spatialmath.Pose
	intr  *transform.PinholeCameraIntrinsics
	calls int64
}

func (d *poseDetector) DetectMarkers(ctx context.Context, frame image.Image) ([]marker.Observation, error) {
	atomic.AddInt64(&d.calls, 1)
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

func (d *poseDetector) callCount() int64 {
	return atomic.LoadInt64(&d.calls)
}

func waitForPose(t *testing.T, tracker *Tracker) *spatialmath.Pose {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pose, _, ok := tracker.Pose(); ok {
			return pose
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("tracker never produced a pose")
	return nil
}

func newTestSetup(t *testing.T) (*Tracker, *poseDetector) {
	t.Helper()
	refs, err := marker.NewReferenceSet([]marker.ReferenceGeometry{
		referenceSquare(1, -250, -180, 80),
		referenceSquare(5, 150, -180, 80),
		referenceSquare(9, -50, 100, 80),
	})
	test.That(t, err, test.ShouldBeNil)

	intr := testIntrinsics()
	detector := &poseDetector{refs: refs, pose: testPose(), intr: intr}
	tracker, err := NewTracker(&stillFrames{}, detector, refs, intr,
		Config{Interval: 2 * time.Millisecond}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return tracker, detector
}

func TestTrackerProducesFilteredPose(t *testing.T) {
	tracker, _ := newTestSetup(t)
	test.That(t, tracker.Start(), test.ShouldBeNil)
	defer tracker.Close()

	// the first accepted sample passes through the filter unchanged, and a
	// static scene keeps it there
	got := waitForPose(t, tracker)
	test.That(t, spatialmath.PoseAlmostEqual(got, testPose(), 1e-2, 1e-3), test.ShouldBeTrue)

	_, ts, ok := tracker.Pose()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, ts.IsZero(), test.ShouldBeFalse)
}

func TestTrackerCloseStopsLoop(t *testing.T) {
	tracker, detector := newTestSetup(t)
	test.That(t, tracker.Start(), test.ShouldBeNil)
	waitForPose(t, tracker)
	tracker.Close()

	calls := detector.callCount()
	time.Sleep(50 * time.Millisecond)
	test.That(t, detector.callCount(), test.ShouldEqual, calls)

	// closing again is a no-op
	tracker.Close()
}

func TestTrackerRestart(t *testing.T) {
	tracker, _ := newTestSetup(t)
	test.That(t, tracker.Start(), test.ShouldBeNil)
	test.That(t, tracker.Start(), test.ShouldNotBeNil)
	waitForPose(t, tracker)
	tracker.Close()

	test.That(t, tracker.Start(), test.ShouldBeNil)
	defer tracker.Close()
	// the restart cleared the last pose and filter state
	waitForPose(t, tracker)
}

type emptyDetector struct{}

func (d *emptyDetector) DetectMarkers(ctx context.Context, frame image.Image) ([]marker.Observation, error) {
	return nil, nil
}

func TestTrackerNoDetectionsMeansNoPose(t *testing.T) {
	refs, err := marker.NewReferenceSet([]marker.ReferenceGeometry{referenceSquare(1, 0, 0, 80)})
	test.That(t, err, test.ShouldBeNil)
	tracker, err := NewTracker(&stillFrames{}, &emptyDetector{}, refs, testIntrinsics(),
		Config{Interval: 2 * time.Millisecond}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, tracker.Start(), test.ShouldBeNil)
	time.Sleep(30 * time.Millisecond)
	_, _, ok := tracker.Pose()
	test.That(t, ok, test.ShouldBeFalse)
	tracker.Close()
}

func TestNewTrackerValidation(t *testing.T) {
	refs, err := marker.NewReferenceSet([]marker.ReferenceGeometry{referenceSquare(1, 0, 0, 80)})
	test.That(t, err, test.ShouldBeNil)
	logger := golog.NewTestLogger(t)

	_, err = NewTracker(&stillFrames{}, &emptyDetector{}, refs, nil, Config{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewTracker(&stillFrames{}, &emptyDetector{}, nil, testIntrinsics(), Config{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewTracker(&stillFrames{}, &emptyDetector{}, refs, testIntrinsics(),
		Config{Filter: filter.PoseFilterConfig{Translation: filter.OneEuroConfig{MinCutoff: -1}}}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
