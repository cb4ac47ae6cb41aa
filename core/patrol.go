package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/gpsfix/model"
)

// Patrol runs legs in order, cycles times over. cycles == 0 repeats until
// ctx is cancelled. It returns the last state together with the first error,
// context cancellation included.
func Patrol(ctx context.Context, sim *MotionSimulator, st SimulatorState, legs []model.MotionParameters, cycles int) (SimulatorState, error) {
	if sim == nil {
		return st, fmt.Errorf("%w: nil simulator", model.ErrInvalidInput)
	}
	if cycles < 0 {
		return st, fmt.Errorf("%w: cycles must be non-negative", model.ErrInvalidInput)
	}
	if len(legs) == 0 {
		return st, fmt.Errorf("%w: patrol needs at least one leg", model.ErrInvalidInput)
	}
	total := 0
	for i, leg := range legs {
		if err := leg.Validate(); err != nil {
			return st, fmt.Errorf("leg %d: %w", i+1, err)
		}
		total += leg.StepCount
	}
	if total == 0 && cycles == 0 {
		return st, fmt.Errorf("%w: endless patrol without steps", model.ErrInvalidInput)
	}

	for cycle := 1; cycles == 0 || cycle <= cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		for i, leg := range legs {
			next, err := sim.Advance(ctx, st, leg)
			st = next
			if err != nil {
				return st, fmt.Errorf("cycle %d leg %d: %w", cycle, i+1, err)
			}
		}
		sim.log.Debug(ctx, "patrol cycle complete")
	}
	return st, nil
}
