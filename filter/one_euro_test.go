package filter

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

var startTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestOneEuroConfigCheckValid(t *testing.T) {
	test.That(t, DefaultOneEuroConfig().CheckValid(), test.ShouldBeNil)
	test.That(t, OneEuroConfig{MinCutoff: 0, Beta: 0, DerivCutoff: 1}.CheckValid(), test.ShouldNotBeNil)
	test.That(t, OneEuroConfig{MinCutoff: 1, Beta: -1, DerivCutoff: 1}.CheckValid(), test.ShouldNotBeNil)
	test.That(t, OneEuroConfig{MinCutoff: 1, Beta: 0, DerivCutoff: 0}.CheckValid(), test.ShouldNotBeNil)

	_, err := NewOneEuro(OneEuroConfig{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOneEuroConstantInput(t *testing.T) {
	f, err := NewOneEuro(DefaultOneEuroConfig())
	test.That(t, err, test.ShouldBeNil)

	const value = 42.5
	ts := startTime
	var out float64
	for i := 0; i < 100; i++ {
		out, err = f.Next(value, ts)
		test.That(t, err, test.ShouldBeNil)
		ts = ts.Add(16 * time.Millisecond)
	}
	// constant input must converge to the constant with no steady-state bias
	test.That(t, out, test.ShouldAlmostEqual, value, 1e-9)
}

func TestOneEuroStepResponse(t *testing.T) {
	cfg := OneEuroConfig{MinCutoff: 2.0, Beta: 0, DerivCutoff: 1.0}
	f, err := NewOneEuro(cfg)
	test.That(t, err, test.ShouldBeNil)

	dt := 16 * time.Millisecond
	ts := startTime
	_, err = f.Next(0, ts)
	test.That(t, err, test.ShouldBeNil)

	// settle time of a first order low-pass is a handful of time constants,
	// i.e. a few / (2 pi mincutoff) seconds
	settleSeconds := 7 / (2 * math.Pi * cfg.MinCutoff)
	samples := int(settleSeconds/dt.Seconds()) + 1
	var out float64
	for i := 0; i < samples; i++ {
		ts = ts.Add(dt)
		out, err = f.Next(1, ts)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, out, test.ShouldBeGreaterThan, 0.99)
}

func TestOneEuroSmoothsNoise(t *testing.T) {
	f, err := NewOneEuro(OneEuroConfig{MinCutoff: 0.5, Beta: 0, DerivCutoff: 1.0})
	test.That(t, err, test.ShouldBeNil)

	// alternating +/- 1 around 10 at 60Hz; the filter output must hug the mean far
	// tighter than the raw signal
	ts := startTime
	var out float64
	for i := 0; i < 200; i++ {
		x := 10.0 + 1.0*float64(1-2*(i%2))
		out, err = f.Next(x, ts)
		test.That(t, err, test.ShouldBeNil)
		ts = ts.Add(16 * time.Millisecond)
	}
	test.That(t, math.Abs(out-10.0), test.ShouldBeLessThan, 0.2)
}

func TestOneEuroAdaptiveCutoff(t *testing.T) {
	// with a large beta, fast motion should track with visibly less lag than with
	// beta zero
	slow, err := NewOneEuro(OneEuroConfig{MinCutoff: 0.1, Beta: 0, DerivCutoff: 1.0})
	test.That(t, err, test.ShouldBeNil)
	fast, err := NewOneEuro(OneEuroConfig{MinCutoff: 0.1, Beta: 2.0, DerivCutoff: 1.0})
	test.That(t, err, test.ShouldBeNil)

	ts := startTime
	var slowOut, fastOut float64
	for i := 0; i < 60; i++ {
		x := float64(i) * 5 // ramp
		slowOut, err = slow.Next(x, ts)
		test.That(t, err, test.ShouldBeNil)
		fastOut, err = fast.Next(x, ts)
		test.That(t, err, test.ShouldBeNil)
		ts = ts.Add(16 * time.Millisecond)
	}
	final := float64(59) * 5
	test.That(t, math.Abs(fastOut-final), test.ShouldBeLessThan, math.Abs(slowOut-final))
}

func TestOneEuroNonMonotonicTimestamps(t *testing.T) {
	f, err := NewOneEuro(DefaultOneEuroConfig())
	test.That(t, err, test.ShouldBeNil)

	_, err = f.Next(1, startTime)
	test.That(t, err, test.ShouldBeNil)
	v, err := f.Next(2, startTime.Add(10*time.Millisecond))
	test.That(t, err, test.ShouldBeNil)

	// same timestamp again
	_, err = f.Next(3, startTime.Add(10*time.Millisecond))
	test.That(t, errors.Is(err, ErrNonMonotonicTimestamp), test.ShouldBeTrue)
	// going backwards
	_, err = f.Next(3, startTime)
	test.That(t, errors.Is(err, ErrNonMonotonicTimestamp), test.ShouldBeTrue)

	// the rejection left state intact; a later sample keeps filtering from v
	next, err := f.Next(v, startTime.Add(20*time.Millisecond))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, next, test.ShouldAlmostEqual, v, 0.5)
}

func TestOneEuroReset(t *testing.T) {
	f, err := NewOneEuro(DefaultOneEuroConfig())
	test.That(t, err, test.ShouldBeNil)

	_, err = f.Next(100, startTime)
	test.That(t, err, test.ShouldBeNil)
	_, err = f.Next(100, startTime.Add(10*time.Millisecond))
	test.That(t, err, test.ShouldBeNil)

	f.Reset()
	// after a reset, an older timestamp is fine and the first sample passes through
	out, err := f.Next(-3, startTime)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, -3.0)
}
