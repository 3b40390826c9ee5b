package transform

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/protolight/armarker/marker"
	"github.com/protolight/armarker/spatialmath"
)

// SolveMarkerPose fuses simultaneous marker observations into one camera pose. Every
// observation with matching reference geometry contributes its 4 corner
// correspondences to a single union set solved by one SolvePnP call, so noise spreads
// across one global least-squares fit instead of compounding per-marker bias.
// Observations without reference geometry are skipped and logged, never fatal.
func SolveMarkerPose(
	observations []marker.Observation,
	references *marker.ReferenceSet,
	intrinsics *PinholeCameraIntrinsics,
	logger golog.Logger,
) (*spatialmath.Pose, error) {
	set := NewCorrespondenceSet()
	for _, obs := range observations {
		ref, ok := references.Lookup(obs.ID)
		if !ok {
			logger.Debugw("skipping marker with no reference geometry", "id", obs.ID)
			continue
		}
		if err := obs.CheckValid(); err != nil {
			logger.Debugw("skipping degenerate marker observation", "id", obs.ID, "error", err)
			continue
		}
		for i := range obs.Corners {
			set.AddPlanar(ref.Corners[i], obs.Corners[i])
		}
	}
	if set.Len() < minPlanarCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientMarkers,
			"%d usable correspondences from %d observations, need at least %d",
			set.Len(), len(observations), minPlanarCorrespondences)
	}
	return SolvePnP(set, intrinsics)
}
