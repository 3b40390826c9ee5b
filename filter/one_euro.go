// Package filter implements the adaptive low-pass filtering used to smooth a tracked
// pose: a One Euro filter per scalar channel, banked over translation and rotation.
package filter

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrNonMonotonicTimestamp means a sample arrived at or before the previous sample's
// timestamp. Filter state is only meaningful over strictly increasing time.
var ErrNonMonotonicTimestamp = errors.New("filter samples must have strictly increasing timestamps")

// OneEuroConfig parameterizes a One Euro filter. Raising MinCutoff reduces lag on
// slow signals at the cost of jitter; raising Beta reduces lag on fast signals.
type OneEuroConfig struct {
	// MinCutoff is the cutoff frequency in Hz applied when the signal is at rest.
	MinCutoff float64 `json:"min_cutoff_hz"`
	// Beta scales the cutoff with the filtered derivative magnitude.
	Beta float64 `json:"beta"`
	// DerivCutoff is the cutoff frequency in Hz for the derivative's own low-pass.
	DerivCutoff float64 `json:"deriv_cutoff_hz"`
}

// CheckValid checks if the fields of the config are usable.
func (cfg OneEuroConfig) CheckValid() error {
	if cfg.MinCutoff <= 0 {
		return errors.Errorf("min cutoff must be positive, got %v", cfg.MinCutoff)
	}
	if cfg.Beta < 0 {
		return errors.Errorf("beta cannot be negative, got %v", cfg.Beta)
	}
	if cfg.DerivCutoff <= 0 {
		return errors.Errorf("derivative cutoff must be positive, got %v", cfg.DerivCutoff)
	}
	return nil
}

// DefaultOneEuroConfig is a reasonable starting point for pixel- and
// millimeter-scale pose channels at camera frame rates.
func DefaultOneEuroConfig() OneEuroConfig {
	return OneEuroConfig{MinCutoff: 1.0, Beta: 0.007, DerivCutoff: 1.0}
}

// OneEuro is an adaptive low-pass filter for one scalar channel: the cutoff
// frequency rises with the (low-pass filtered) signal speed, so slow signals get
// heavy smoothing and fast motion stays responsive. State is owned by a single
// consumer and is not safe for concurrent use.
type OneEuro struct {
	cfg         OneEuroConfig
	initialized bool
	prevValue   float64
	prevDeriv   float64
	prevTime    time.Time
}

// NewOneEuro creates a filter with fresh state.
func NewOneEuro(cfg OneEuroConfig) (*OneEuro, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	return &OneEuro{cfg: cfg}, nil
}

// Reset discards all state; the next sample passes through unchanged.
func (f *OneEuro) Reset() {
	f.initialized = false
	f.prevValue = 0
	f.prevDeriv = 0
	f.prevTime = time.Time{}
}

// Next feeds one sample and returns the filtered value. Timestamps must be strictly
// increasing; a stale or repeated timestamp returns ErrNonMonotonicTimestamp and
// leaves the state untouched.
func (f *OneEuro) Next(x float64, t time.Time) (float64, error) {
	if !f.initialized {
		f.initialized = true
		f.prevValue = x
		f.prevDeriv = 0
		f.prevTime = t
		return x, nil
	}
	dt := t.Sub(f.prevTime).Seconds()
	if dt <= 0 {
		return 0, errors.Wrapf(ErrNonMonotonicTimestamp, "sample at %v, previous at %v", t, f.prevTime)
	}

	rawDeriv := (x - f.prevValue) / dt
	deriv := lowPass(rawDeriv, f.prevDeriv, smoothingFactor(f.cfg.DerivCutoff, dt))
	cutoff := f.cfg.MinCutoff + f.cfg.Beta*math.Abs(deriv)
	value := lowPass(x, f.prevValue, smoothingFactor(cutoff, dt))

	f.prevValue = value
	f.prevDeriv = deriv
	f.prevTime = t
	return value, nil
}

// smoothingFactor is the exponential smoothing alpha for a first order low-pass with
// the given cutoff frequency and sample interval.
func smoothingFactor(cutoffHz, dt float64) float64 {
	tau := 1 / (2 * math.Pi * cutoffHz)
	return 1 / (1 + tau/dt)
}

func lowPass(x, prev, alpha float64) float64 {
	return prev + alpha*(x-prev)
}
