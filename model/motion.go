package model

import (
	"fmt"
	"math"
	"time"
)

// MotionParameters describes one leg of a random walk. Use
// NewMotionParameters or Validate before handing a value to a simulator.
type MotionParameters struct {
	HeadingDegrees       float64
	StepCount            int
	StepSizeMeters       float64
	StepSizeJitterMeters float64
	HeadingJitterDegrees float64
	Delay                time.Duration
}

// DefaultMotionParameters returns the demo leg for the given heading: 50
// steps of 5 m plus up to 5 m jitter, ±30° heading jitter, one fix per second.
func DefaultMotionParameters(heading float64) MotionParameters {
	return MotionParameters{
		HeadingDegrees:       heading,
		StepCount:            50,
		StepSizeMeters:       5,
		StepSizeJitterMeters: 5,
		HeadingJitterDegrees: 30,
		Delay:                time.Second,
	}
}

// NewMotionParameters builds and validates a parameter set.
func NewMotionParameters(heading float64, steps int, stepM, stepJitterM, headingJitterDeg float64, delay time.Duration) (MotionParameters, error) {
	p := MotionParameters{
		HeadingDegrees:       heading,
		StepCount:            steps,
		StepSizeMeters:       stepM,
		StepSizeJitterMeters: stepJitterM,
		HeadingJitterDegrees: headingJitterDeg,
		Delay:                delay,
	}
	if err := p.Validate(); err != nil {
		return MotionParameters{}, err
	}
	return p, nil
}

// Validate rejects negative counts, sizes, jitters and delays as well as
// non-finite values.
func (p MotionParameters) Validate() error {
	if !finite(p.HeadingDegrees) {
		return fmt.Errorf("%w: heading %v is not finite", ErrInvalidInput, p.HeadingDegrees)
	}
	if p.StepCount < 0 {
		return fmt.Errorf("%w: step count %d is negative", ErrInvalidInput, p.StepCount)
	}
	checks := []struct {
		name string
		v    float64
	}{
		{"step size", p.StepSizeMeters},
		{"step jitter", p.StepSizeJitterMeters},
		{"heading jitter", p.HeadingJitterDegrees},
	}
	for _, c := range checks {
		if !finite(c.v) || c.v < 0 {
			return fmt.Errorf("%w: %s %v must be a non-negative number", ErrInvalidInput, c.name, c.v)
		}
	}
	if p.Delay < 0 {
		return fmt.Errorf("%w: delay %s is negative", ErrInvalidInput, p.Delay)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
