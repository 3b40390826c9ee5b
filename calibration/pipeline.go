package calibration

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/protolight/armarker/transform"
)

// State names one stage of the calibration session machine.
type State string

// Session states, in pipeline order; Committed and Failed are terminal.
const (
	StateIdle               State = "idle"
	StateMarkersDisplayed   State = "markers_displayed"
	StateDetecting          State = "detecting"
	StateMatched            State = "matched"
	StateHomographyComputed State = "homography_computed"
	StateValidated          State = "validated"
	StateCommitted          State = "committed"
	StateFailed             State = "failed"
)

const minMatchedCorners = 4

// SessionConfig bounds one calibration run. Zero values take the defaults.
type SessionConfig struct {
	// AttemptBudget and AttemptInterval bound the detection loop; together they
	// also set the wall-clock deadline (budget times interval), so the loop ends
	// on whichever limit is hit first.
	AttemptBudget   int                    `json:"attempt_budget"`
	AttemptInterval time.Duration          `json:"attempt_interval"`
	Ransac          transform.RansacConfig `json:"ransac"`
	Quality         QualityConfig          `json:"quality"`
}

func (cfg SessionConfig) applyDefaults() SessionConfig {
	if cfg.AttemptBudget <= 0 {
		cfg.AttemptBudget = 100
	}
	if cfg.AttemptInterval <= 0 {
		cfg.AttemptInterval = 200 * time.Millisecond
	}
	return cfg
}

// Result is what one run hands back. On a poor-quality failure the homography
// and report are still populated so the caller can inspect or override.
type Result struct {
	SessionID  uuid.UUID
	State      State
	Attempts   int
	Matched    []transform.Correspondence2D
	Homography *transform.Homography
	Quality    *QualityReport
}

// Session drives one display-detect-fit-validate calibration pass over external
// collaborators. A session may be rerun after reaching a terminal state; reruns
// start from scratch. Only one run may be in flight at a time.
type Session struct {
	id       uuid.UUID
	cfg      SessionConfig
	display  PatternDisplay
	frames   FrameSource
	detector MarkerDetector
	clock    clock.Clock
	logger   golog.Logger

	mu       sync.Mutex
	busy     bool
	state    State
	expected []ReferenceCorner
	matched  []transform.Correspondence2D
	attempts int
	result   *transform.Homography
	report   *QualityReport
}

// NewSession wires a session to its collaborators.
func NewSession(
	display PatternDisplay,
	frames FrameSource,
	detector MarkerDetector,
	cfg SessionConfig,
	logger golog.Logger,
) *Session {
	return &Session{
		id:       uuid.New(),
		cfg:      cfg.applyDefaults(),
		display:  display,
		frames:   frames,
		detector: detector,
		clock:    clock.New(),
		logger:   logger,
		state:    StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current pipeline state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Debugw("calibration state transition", "session", s.id, "from", prev, "to", next)
}

// Run executes the pipeline: display the given reference corners, poll the
// detector until enough corners match by id or the deadline passes, fit a
// homography from display positions to detected marker centers, and validate it.
// The returned error wraps ErrTimeout, ErrPoorQuality, or a collaborator
// failure; on ErrPoorQuality the result still carries the fit and its report.
func (s *Session) Run(ctx context.Context, corners []ReferenceCorner) (*Result, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrConcurrentOperation, "session %s", s.id)
	}
	s.busy = true
	// restarting from a terminal state starts clean
	s.state = StateIdle
	s.expected = nil
	s.matched = nil
	s.attempts = 0
	s.result = nil
	s.report = nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	if len(corners) < minMatchedCorners {
		s.setState(StateFailed)
		return s.snapshotResult(), errors.Errorf("need at least %d reference corners, got %d", minMatchedCorners, len(corners))
	}

	expected, err := s.display.DisplayCorners(ctx, corners)
	if err != nil {
		s.setState(StateFailed)
		return s.snapshotResult(), errors.Wrap(err, "displaying reference corners")
	}
	s.mu.Lock()
	s.expected = expected
	s.mu.Unlock()
	s.setState(StateMarkersDisplayed)

	frame, err := s.detectLoop(ctx)
	if err != nil {
		s.setState(StateFailed)
		return s.snapshotResult(), err
	}
	s.setState(StateMatched)

	homography, err := s.fitHomography()
	if err != nil {
		s.setState(StateFailed)
		return s.snapshotResult(), errors.Wrap(err, "fitting homography")
	}
	s.mu.Lock()
	s.result = homography
	s.mu.Unlock()
	s.setState(StateHomographyComputed)

	bounds := frame.Bounds()
	report, err := EvaluateQuality(homography, s.matchedPairs(), bounds.Dx(), bounds.Dy(), s.cfg.Quality)
	if err != nil {
		s.setState(StateFailed)
		return s.snapshotResult(), errors.Wrap(err, "evaluating calibration quality")
	}
	s.mu.Lock()
	s.report = &report
	s.mu.Unlock()
	s.setState(StateValidated)

	if !report.Usable {
		s.setState(StateFailed)
		return s.snapshotResult(), errors.Wrapf(ErrPoorQuality,
			"tier %s, mean error %.2fpx, conditioned %t, coverage %.2f",
			report.Tier, report.MeanReprojectionErrPx, report.WellConditioned, report.Coverage)
	}
	s.setState(StateCommitted)
	return s.snapshotResult(), nil
}

// detectLoop polls frames until enough corners match, the attempt budget runs
// out, or the wall-clock deadline passes. Returns the frame that matched.
func (s *Session) detectLoop(ctx context.Context) (image.Image, error) {
	s.setState(StateDetecting)
	deadline := s.clock.Now().Add(time.Duration(s.cfg.AttemptBudget) * s.cfg.AttemptInterval)

	attempts := 0
	for attempts < s.cfg.AttemptBudget && s.clock.Now().Before(deadline) {
		attempts++
		s.mu.Lock()
		s.attempts = attempts
		s.mu.Unlock()

		frame, matched, err := s.attemptDetection(ctx)
		if err != nil {
			return nil, err
		}
		if len(matched) >= minMatchedCorners {
			s.mu.Lock()
			s.matched = matched
			s.mu.Unlock()
			return frame, nil
		}

		if !goutils.SelectContextOrWaitChan(ctx, s.clock.After(s.cfg.AttemptInterval)) {
			return nil, ctx.Err()
		}
	}
	return nil, errors.Wrapf(ErrTimeout, "no match after %d attempts", attempts)
}

// attemptDetection pulls one frame, runs the detector, and matches detections to
// the expected corners by id using the marker centers. Detector misses are not
// errors; collaborator failures are logged and skipped so a transient camera
// hiccup does not abort the loop.
func (s *Session) attemptDetection(ctx context.Context) (image.Image, []transform.Correspondence2D, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	frame, err := s.frames.NextFrame(ctx)
	if err != nil {
		s.logger.Debugw("frame source failed, retrying", "session", s.id, "error", err)
		return nil, nil, nil //nolint:nilerr
	}
	observations, err := s.detector.DetectMarkers(ctx, frame)
	if err != nil {
		s.logger.Debugw("marker detection failed, retrying", "session", s.id, "error", err)
		return nil, nil, nil //nolint:nilerr
	}

	expectedByID := make(map[int32]r2.Point, len(s.expected))
	for _, corner := range s.expected {
		expectedByID[corner.ID] = corner.Position
	}
	matched := make([]transform.Correspondence2D, 0, len(s.expected))
	for i := range observations {
		obs := &observations[i]
		position, ok := expectedByID[obs.ID]
		if !ok {
			continue
		}
		if err := obs.CheckValid(); err != nil {
			s.logger.Debugw("skipping degenerate observation", "session", s.id, "marker", obs.ID, "error", err)
			continue
		}
		matched = append(matched, transform.Correspondence2D{Reference: position, Image: obs.Center()})
		// one detection per expected corner
		delete(expectedByID, obs.ID)
	}
	return frame, matched, nil
}

// fitHomography maps display positions onto detected centers: the exact
// construction for a minimal match, the robust fit when overdetermined.
func (s *Session) fitHomography() (*transform.Homography, error) {
	pairs := s.matchedPairs()
	src := make([]r2.Point, len(pairs))
	dst := make([]r2.Point, len(pairs))
	for i, pair := range pairs {
		src[i] = pair.Reference
		dst[i] = pair.Image
	}
	if len(pairs) == minMatchedCorners {
		return transform.EstimateExactHomography([4]r2.Point(src), [4]r2.Point(dst))
	}
	return transform.EstimateRobustHomography(src, dst, s.cfg.Ransac)
}

func (s *Session) matchedPairs() []transform.Correspondence2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched
}

func (s *Session) snapshotResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		SessionID:  s.id,
		State:      s.state,
		Attempts:   s.attempts,
		Matched:    s.matched,
		Homography: s.result,
		Quality:    s.report,
	}
}
