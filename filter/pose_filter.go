package filter

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/protolight/armarker/spatialmath"
)

// PoseFilterConfig holds the per-group channel parameters of a pose filter bank.
type PoseFilterConfig struct {
	Translation OneEuroConfig `json:"translation"`
	Rotation    OneEuroConfig `json:"rotation"`
}

// DefaultPoseFilterConfig smooths translation and rotation with the default scalar
// parameters; rotation channels live on unit-quaternion components, so Beta stays small.
func DefaultPoseFilterConfig() PoseFilterConfig {
	return PoseFilterConfig{
		Translation: DefaultOneEuroConfig(),
		Rotation:    OneEuroConfig{MinCutoff: 1.0, Beta: 0.003, DerivCutoff: 1.0},
	}
}

// PoseFilter is a One Euro bank over one tracked pose: 3 translation channels plus 4
// quaternion-component channels. Filtering a minimal rotation representation instead
// of the 9 rotation-matrix entries keeps the result on (or numerically next to) the
// rotation group; the filtered quaternion is renormalized before reconstructing the
// matrix. Owned by a single consumer, not safe for concurrent use.
type PoseFilter struct {
	translation [3]*OneEuro
	rotation    [4]*OneEuro
	prevQuat    quat.Number
	started     bool
}

// NewPoseFilter creates a pose filter bank with fresh state.
func NewPoseFilter(cfg PoseFilterConfig) (*PoseFilter, error) {
	pf := &PoseFilter{}
	for i := range pf.translation {
		f, err := NewOneEuro(cfg.Translation)
		if err != nil {
			return nil, errors.Wrap(err, "translation channel")
		}
		pf.translation[i] = f
	}
	for i := range pf.rotation {
		f, err := NewOneEuro(cfg.Rotation)
		if err != nil {
			return nil, errors.Wrap(err, "rotation channel")
		}
		pf.rotation[i] = f
	}
	return pf, nil
}

// Reset clears every channel, e.g. on session restart; the next pose passes through.
func (pf *PoseFilter) Reset() {
	for _, f := range pf.translation {
		f.Reset()
	}
	for _, f := range pf.rotation {
		f.Reset()
	}
	pf.started = false
}

// Next feeds a pose sample at time t and returns the smoothed pose. Timestamps must
// be strictly increasing across calls.
func (pf *PoseFilter) Next(pose *spatialmath.Pose, t time.Time) (*spatialmath.Pose, error) {
	q := spatialmath.MatrixToQuat(pose.Rotation())
	// q and -q are the same rotation; keep the hemisphere continuous so the
	// component filters never see an artificial jump
	if pf.started && quatDot(q, pf.prevQuat) < 0 {
		q = quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
	}

	trans := pose.Translation()
	var filteredTrans [3]float64
	for i, v := range [3]float64{trans.X, trans.Y, trans.Z} {
		fv, err := pf.translation[i].Next(v, t)
		if err != nil {
			return nil, err
		}
		filteredTrans[i] = fv
	}
	var filteredRot [4]float64
	for i, v := range [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		fv, err := pf.rotation[i].Next(v, t)
		if err != nil {
			return nil, err
		}
		filteredRot[i] = fv
	}

	fq := spatialmath.Normalize(quat.Number{
		Real: filteredRot[0],
		Imag: filteredRot[1],
		Jmag: filteredRot[2],
		Kmag: filteredRot[3],
	})
	pf.prevQuat = fq
	pf.started = true
	return spatialmath.NewPose(
		spatialmath.QuatToRotationMatrix(fq),
		r3.Vector{X: filteredTrans[0], Y: filteredTrans[1], Z: filteredTrans[2]},
	), nil
}

func quatDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}
