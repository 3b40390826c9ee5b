package calibration

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/protolight/armarker/spatialmath"
	"github.com/protolight/armarker/transform"
)

// SnapshotVersion is the current snapshot envelope version.
const SnapshotVersion = 1

// Snapshot is the serializable record of a calibration result: the homography
// (9 row-major floats), the optional solved camera pose (16 row-major floats,
// 4x4 homogeneous), and the quality report, under a version/timestamp envelope.
// Where it gets stored is the caller's business.
type Snapshot struct {
	Version    int           `json:"version"`
	ID         uuid.UUID     `json:"id"`
	CreatedAt  time.Time     `json:"created_at"`
	Homography []float64     `json:"homography"`
	Pose       []float64     `json:"pose,omitempty"`
	Quality    QualityReport `json:"quality"`
}

// NewSnapshot packs a calibration result for persistence. The pose may be nil
// when the session only produced a homography.
func NewSnapshot(
	id uuid.UUID,
	createdAt time.Time,
	h *transform.Homography,
	pose *spatialmath.Pose,
	quality QualityReport,
) (*Snapshot, error) {
	if h == nil {
		return nil, errors.New("snapshot needs a homography")
	}
	snap := &Snapshot{
		Version:    SnapshotVersion,
		ID:         id,
		CreatedAt:  createdAt,
		Homography: h.RawMatrix(),
		Quality:    quality,
	}
	if pose != nil {
		snap.Pose = pose.ToHomogeneous()
	}
	return snap, nil
}

// CheckValid checks the envelope and payload shapes after deserialization.
func (s *Snapshot) CheckValid() error {
	if s.Version != SnapshotVersion {
		return errors.Errorf("unsupported snapshot version %d", s.Version)
	}
	if len(s.Homography) != 9 {
		return errors.Errorf("homography must have 9 values, got %d", len(s.Homography))
	}
	if len(s.Pose) != 0 && len(s.Pose) != 16 {
		return errors.Errorf("pose must have 16 values, got %d", len(s.Pose))
	}
	return nil
}

// HomographyValue rebuilds the homography from the stored values.
func (s *Snapshot) HomographyValue() (*transform.Homography, error) {
	if err := s.CheckValid(); err != nil {
		return nil, err
	}
	return transform.NewHomography(s.Homography)
}

// PoseValue rebuilds the pose from the stored values, nil when absent.
func (s *Snapshot) PoseValue() (*spatialmath.Pose, error) {
	if err := s.CheckValid(); err != nil {
		return nil, err
	}
	if len(s.Pose) == 0 {
		return nil, nil
	}
	return spatialmath.NewPoseFromHomogeneous(s.Pose)
}
