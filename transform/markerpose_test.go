package transform

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/protolight/armarker/marker"
	"github.com/protolight/armarker/spatialmath"
)

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

// observeMarker projects a reference marker through the pose and intrinsics into an
// image-space observation.
func observeMarker(geom marker.ReferenceGeometry, pose *spatialmath.Pose, intr *PinholeCameraIntrinsics) marker.Observation {
	obs := marker.Observation{ID: geom.ID}
	for i, c := range geom.Corners {
		obs.Corners[i] = projectPoint(pose, intr, r3.Vector{X: c.X, Y: c.Y, Z: 0})
	}
	return obs
}

func TestSolveMarkerPose(t *testing.T) {
	logger := golog.NewTestLogger(t)
	intr := testIntrinsics()
	truth := testPose()

	refs, err := marker.NewReferenceSet([]marker.ReferenceGeometry{
		referenceSquare(1, -250, -180, 80),
		referenceSquare(5, 150, -180, 80),
		referenceSquare(9, -50, 100, 80),
	})
	test.That(t, err, test.ShouldBeNil)

	observations := []marker.Observation{}
	for _, id := range []int32{1, 5, 9} {
		geom, ok := refs.Lookup(id)
		test.That(t, ok, test.ShouldBeTrue)
		observations = append(observations, observeMarker(geom, truth, intr))
	}

	got, err := SolveMarkerPose(observations, refs, intr, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, truth, 1e-3, 1e-4), test.ShouldBeTrue)
}

func TestSolveMarkerPoseSkipsUnknownIDs(t *testing.T) {
	logger := golog.NewTestLogger(t)
	intr := testIntrinsics()
	truth := testPose()

	refs, err := marker.NewReferenceSet([]marker.ReferenceGeometry{
		referenceSquare(1, -250, -180, 80),
		referenceSquare(5, 150, -180, 80),
	})
	test.That(t, err, test.ShouldBeNil)

	known1, _ := refs.Lookup(1)
	known5, _ := refs.Lookup(5)
	observations := []marker.Observation{
		observeMarker(known1, truth, intr),
		observeMarker(known5, truth, intr),
		// detector saw a marker nobody registered; it must not poison the solve
		observeMarker(referenceSquare(77, 0, 0, 80), truth, intr),
	}

	got, err := SolveMarkerPose(observations, refs, intr, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, truth, 1e-3, 1e-4), test.ShouldBeTrue)
}

func TestSolveMarkerPoseSingleMarker(t *testing.T) {
	logger := golog.NewTestLogger(t)
	intr := testIntrinsics()
	truth := testPose()

	refs, err := marker.NewReferenceSet([]marker.ReferenceGeometry{
		referenceSquare(2, -100, -100, 200),
	})
	test.That(t, err, test.ShouldBeNil)
	geom, _ := refs.Lookup(2)

	got, err := SolveMarkerPose([]marker.Observation{observeMarker(geom, truth, intr)}, refs, intr, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, truth, 1e-2, 1e-3), test.ShouldBeTrue)
}

func TestSolveMarkerPoseInsufficient(t *testing.T) {
	logger := golog.NewTestLogger(t)
	intr := testIntrinsics()
	truth := testPose()

	refs, err := marker.NewReferenceSet([]marker.ReferenceGeometry{
		referenceSquare(1, -250, -180, 80),
	})
	test.That(t, err, test.ShouldBeNil)

	// no observations at all
	_, err = SolveMarkerPose(nil, refs, intr, logger)
	test.That(t, errors.Is(err, ErrInsufficientMarkers), test.ShouldBeTrue)

	// only markers without reference geometry
	stray := observeMarker(referenceSquare(42, 0, 0, 80), truth, intr)
	_, err = SolveMarkerPose([]marker.Observation{stray}, refs, intr, logger)
	test.That(t, errors.Is(err, ErrInsufficientMarkers), test.ShouldBeTrue)
}
