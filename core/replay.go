package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/gpsfix/model"
)

// Replay transmits the waypoints of track in order, sleeping delay between
// them. Waypoints are sent verbatim without jitter. The first failed
// transmit aborts the replay.
func (s *MotionSimulator) Replay(ctx context.Context, st SimulatorState, track []model.GeoPosition, delay time.Duration) (SimulatorState, error) {
	if delay < 0 {
		return st, fmt.Errorf("%w: replay delay must be non-negative", model.ErrInvalidInput)
	}
	for i, wp := range track {
		if err := wp.Validate(); err != nil {
			return st, fmt.Errorf("waypoint %d: %w", i+1, err)
		}
	}
	if len(track) == 0 {
		return st, nil
	}

	ctx, span := s.tracer.Start(ctx, "core.Replay", trace.WithAttributes(
		attribute.Int("track.waypoints", len(track)),
	))
	defer span.End()

	var prev *model.GeoPosition
	for i, wp := range track {
		var distance, bearing float64
		if prev != nil {
			d, err := prev.DistanceTo(wp)
			if err != nil {
				return st, fail(span, &model.StepError{Step: i + 1, Err: err})
			}
			distance = d
			if d > 0 {
				bearing = prev.HeadingTo(wp)
			}
		}

		label := fmt.Sprintf("waypoint %d/%d", i+1, len(track))
		fix := s.newFix(wp, model.SourceTrack, label, bearing, distance)
		if err := s.transmit(ctx, fix); err != nil {
			return st, fail(span, &model.StepError{Step: i + 1, Label: label, Err: err})
		}
		st.Position = wp
		st.Steps++
		prev = &track[i]

		if i == len(track)-1 {
			break
		}
		if err := s.clock.Sleep(ctx, delay); err != nil {
			return st, fail(span, err)
		}
	}
	return st, nil
}
