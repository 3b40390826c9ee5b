// Package tracking runs the live loop of the system: pull camera frames at a
// fixed interval, detect markers, solve the camera pose against the registered
// reference geometry, and smooth the result through a pose filter bank.
package tracking

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/protolight/armarker/filter"
	"github.com/protolight/armarker/marker"
	"github.com/protolight/armarker/spatialmath"
	"github.com/protolight/armarker/transform"
)

// FrameSource hands out camera frames. Device lifecycle is owned by the caller.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, error)
}

// MarkerDetector finds fiducial markers in a frame.
type MarkerDetector interface {
	DetectMarkers(ctx context.Context, frame image.Image) ([]marker.Observation, error)
}

// Config tunes the tracking loop. Zero values take the defaults.
type Config struct {
	// Interval between frame pulls; defaults to 33ms, roughly 30Hz.
	Interval time.Duration `json:"interval"`
	// Filter parameterizes the pose smoothing bank.
	Filter filter.PoseFilterConfig `json:"filter"`
}

// Tracker owns the background tracking loop. Frames that fail to detect or
// solve are logged and skipped; the last good filtered pose stays available.
type Tracker struct {
	frames     FrameSource
	detector   MarkerDetector
	references *marker.ReferenceSet
	intrinsics *transform.PinholeCameraIntrinsics
	interval   time.Duration
	poseFilter *filter.PoseFilter
	clock      clock.Clock
	logger     golog.Logger

	mu         sync.Mutex
	running    bool
	latestPose *spatialmath.Pose
	latestTime time.Time

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewTracker wires a tracker to its camera and detector. Call Start to begin.
func NewTracker(
	frames FrameSource,
	detector MarkerDetector,
	references *marker.ReferenceSet,
	intrinsics *transform.PinholeCameraIntrinsics,
	cfg Config,
	logger golog.Logger,
) (*Tracker, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if references == nil || references.Len() == 0 {
		return nil, errors.New("tracker needs reference geometry for at least one marker")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 33 * time.Millisecond
	}
	if cfg.Filter == (filter.PoseFilterConfig{}) {
		cfg.Filter = filter.DefaultPoseFilterConfig()
	}
	poseFilter, err := filter.NewPoseFilter(cfg.Filter)
	if err != nil {
		return nil, errors.Wrap(err, "building pose filter")
	}
	return &Tracker{
		frames:     frames,
		detector:   detector,
		references: references,
		intrinsics: intrinsics,
		interval:   cfg.Interval,
		poseFilter: poseFilter,
		clock:      clock.New(),
		logger:     logger,
	}, nil
}

// Start launches the tracking loop with fresh filter state.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("tracker already running")
	}
	t.running = true
	t.latestPose = nil
	t.latestTime = time.Time{}
	t.poseFilter.Reset()

	cancelCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		t.trackLoop(cancelCtx)
	}, t.activeBackgroundWorkers.Done)
	return nil
}

// Pose returns the latest filtered pose, its timestamp, and whether any pose
// has been produced since Start.
func (t *Tracker) Pose() (*spatialmath.Pose, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latestPose, t.latestTime, t.latestPose != nil
}

// Close stops the loop and waits for it to exit. The tracker may be started
// again afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.activeBackgroundWorkers.Wait()
}

func (t *Tracker) trackLoop(ctx context.Context) {
	for {
		t.step(ctx)
		if !goutils.SelectContextOrWaitChan(ctx, t.clock.After(t.interval)) {
			return
		}
	}
}

// step runs one frame through detect, solve, and filter. Tracking is
// best-effort per frame, so every failure logs and leaves the last pose alone.
func (t *Tracker) step(ctx context.Context) {
	frame, err := t.frames.NextFrame(ctx)
	if err != nil {
		t.logger.Debugw("frame pull failed", "error", err)
		return
	}
	observations, err := t.detector.DetectMarkers(ctx, frame)
	if err != nil {
		t.logger.Debugw("marker detection failed", "error", err)
		return
	}
	pose, err := transform.SolveMarkerPose(observations, t.references, t.intrinsics, t.logger)
	if err != nil {
		t.logger.Debugw("pose solve failed", "error", err)
		return
	}
	now := t.clock.Now()
	filtered, err := t.poseFilter.Next(pose, now)
	if err != nil {
		t.logger.Debugw("pose filter rejected sample", "error", err)
		return
	}

	t.mu.Lock()
	t.latestPose = filtered
	t.latestTime = now
	t.mu.Unlock()
}
