package core

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/gpsfix/internal/console"
	"github.com/signalsfoundry/gpsfix/internal/logging"
	"github.com/signalsfoundry/gpsfix/model"
	"github.com/signalsfoundry/gpsfix/timectrl"
)

// DefaultOrigin is the known-good starting point used by Reset when the
// caller has no better origin.
var DefaultOrigin = model.GeoPosition{Latitude: 52.4559497304728, Longitude: 13.2975200387581}

const (
	DefaultAltitudeMeters = 65.0
	DefaultSatellites     = 7

	// DefaultSinkTimeout bounds each sink publish so a stalled observer
	// cannot hold up the fix cadence.
	DefaultSinkTimeout = 500 * time.Millisecond

	initialFixLabel = "Initial fix"
)

// FixSender transmits a fix and blocks until it is acknowledged.
type FixSender interface {
	SendFix(ctx context.Context, fix model.Fix) error
}

// FixSink receives every acknowledged fix. Sink failures never abort a run.
type FixSink interface {
	Name() string
	Publish(ctx context.Context, fix model.Fix) error
}

// FixRecorder is implemented by metrics collectors that observe transmits.
type FixRecorder interface {
	RecordFix(fix model.Fix, latency time.Duration, err error)
	RecordSinkError(sink string)
}

// RandomSource yields uniform values in [0,1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// SimulatorState is the explicit state of one simulation run. Operations
// take a state and return the successor; the zero value is "not reset".
type SimulatorState struct {
	Position model.GeoPosition
	// Steps counts acknowledged fixes, the initial fix included.
	Steps int
}

// MotionSimulator computes positions and pushes them through a FixSender.
type MotionSimulator struct {
	sender     FixSender
	rng        RandomSource
	clock      timectrl.Clock
	log        logging.Logger
	recorder   FixRecorder
	sinks      []FixSink
	satellites SatelliteProvider
	altitude   float64

	sinkTimeout time.Duration

	tracer trace.Tracer
	seq    int
}

// Option configures a MotionSimulator.
type Option func(*MotionSimulator)

// WithRandom injects the jitter source. Tests pass a seeded generator.
func WithRandom(r RandomSource) Option {
	return func(s *MotionSimulator) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithSeed seeds a PCG generator for reproducible jitter.
func WithSeed(seed uint64) Option {
	return WithRandom(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// WithClock injects the clock used for inter-step delays.
func WithClock(c timectrl.Clock) Option {
	return func(s *MotionSimulator) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(s *MotionSimulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder wires a metrics recorder.
func WithRecorder(r FixRecorder) Option {
	return func(s *MotionSimulator) { s.recorder = r }
}

// WithSinks appends fix sinks.
func WithSinks(sinks ...FixSink) Option {
	return func(s *MotionSimulator) {
		for _, sk := range sinks {
			if sk != nil {
				s.sinks = append(s.sinks, sk)
			}
		}
	}
}

// WithSinkTimeout bounds every sink publish. Zero or negative keeps the
// default.
func WithSinkTimeout(d time.Duration) Option {
	return func(s *MotionSimulator) {
		if d > 0 {
			s.sinkTimeout = d
		}
	}
}

// WithSatellites sets the provider of the reported satellite count.
func WithSatellites(p SatelliteProvider) Option {
	return func(s *MotionSimulator) {
		if p != nil {
			s.satellites = p
		}
	}
}

// WithAltitude sets the altitude reported with every fix.
func WithAltitude(meters float64) Option {
	return func(s *MotionSimulator) { s.altitude = meters }
}

// NewMotionSimulator builds a simulator around sender. Without options it
// uses an unseeded generator, the wall clock, 65 m altitude and 7 satellites.
func NewMotionSimulator(sender FixSender, opts ...Option) *MotionSimulator {
	s := &MotionSimulator{
		sender:      sender,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		clock:       timectrl.Real(),
		log:         logging.Noop(),
		satellites:  FixedSatellites(DefaultSatellites),
		altitude:    DefaultAltitudeMeters,
		sinkTimeout: DefaultSinkTimeout,
		tracer:      otel.Tracer("github.com/signalsfoundry/gpsfix/core"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset moves the simulation to origin and transmits it as the initial fix.
// It returns once the console acknowledged the fix or the send failed.
func (s *MotionSimulator) Reset(ctx context.Context, origin model.GeoPosition) (SimulatorState, error) {
	if err := origin.Validate(); err != nil {
		return SimulatorState{}, err
	}
	fix := s.newFix(origin, model.SourceReset, initialFixLabel, 0, 0)
	if err := s.transmit(ctx, fix); err != nil {
		return SimulatorState{}, &model.StepError{Step: 0, Label: initialFixLabel, Err: err}
	}
	return SimulatorState{Position: origin, Steps: 1}, nil
}

// Advance walks StepCount steps from st along params. The first failed
// transmit aborts the walk; the returned state then holds the last
// acknowledged position.
func (s *MotionSimulator) Advance(ctx context.Context, st SimulatorState, params model.MotionParameters) (SimulatorState, error) {
	if err := params.Validate(); err != nil {
		return st, err
	}
	if err := st.Position.Validate(); err != nil {
		return st, err
	}
	if params.StepCount == 0 {
		return st, nil
	}

	ctx, span := s.tracer.Start(ctx, "core.Advance", trace.WithAttributes(
		attribute.Float64("motion.heading_deg", params.HeadingDegrees),
		attribute.Int("motion.steps", params.StepCount),
	))
	defer span.End()

	for i := 1; i <= params.StepCount; i++ {
		heading := params.HeadingDegrees + s.headingOffset(params.HeadingJitterDegrees)
		step := params.StepSizeMeters + s.stepOffset(params.StepSizeJitterMeters)

		next := st.Position.Endpoint(heading, step/1000.0)
		distance, err := st.Position.DistanceTo(next)
		if err != nil {
			return st, fail(span, &model.StepError{Step: i, Err: err})
		}
		bearing := st.Position.HeadingTo(next)

		fix := s.newFix(next, model.SourceWalk, headingLabel(bearing), bearing, distance)
		if err := s.transmit(ctx, fix); err != nil {
			return st, fail(span, &model.StepError{Step: i, Label: fix.Label, Err: err})
		}
		st.Position = next
		st.Steps++

		if err := s.clock.Sleep(ctx, params.Delay); err != nil {
			return st, fail(span, err)
		}
	}
	return st, nil
}

// headingOffset draws uniformly from [-jitter, +jitter].
func (s *MotionSimulator) headingOffset(jitter float64) float64 {
	if jitter <= 0 {
		return 0
	}
	return (2*s.rng.Float64() - 1) * jitter
}

// stepOffset draws uniformly from [0, jitter].
func (s *MotionSimulator) stepOffset(jitter float64) float64 {
	if jitter <= 0 {
		return 0
	}
	return s.rng.Float64() * jitter
}

func (s *MotionSimulator) newFix(pos model.GeoPosition, source model.FixSource, label string, heading, distance float64) model.Fix {
	now := s.clock.Now()
	return model.Fix{
		Position:       pos,
		AltitudeMeters: s.altitude,
		Satellites:     s.satellites.VisibleSatellites(now, pos, s.altitude),
		Label:          label,
		HeadingDegrees: heading,
		DistanceMeters: distance,
		Source:         source,
		Time:           now,
	}
}

// transmit logs, sends and, once acknowledged, fans the fix out to sinks.
func (s *MotionSimulator) transmit(ctx context.Context, fix model.Fix) error {
	s.seq++
	fix.Sequence = s.seq

	s.log.Info(ctx, "sending fix",
		logging.String("command", console.FormatFix(fix)),
		logging.String("direction", fix.Label),
		logging.Float64("distance_m", math.Round(fix.DistanceMeters*10000)/10000),
		logging.Int("seq", fix.Sequence),
	)

	start := time.Now()
	err := s.sender.SendFix(ctx, fix)
	if s.recorder != nil {
		s.recorder.RecordFix(fix, time.Since(start), err)
	}
	if err != nil {
		s.log.Error(ctx, "fix not acknowledged",
			logging.Int("seq", fix.Sequence),
			logging.String("kind", model.ErrorKind(err)),
			logging.Err(err),
		)
		return err
	}

	for _, sink := range s.sinks {
		if perr := s.publish(ctx, sink, fix); perr != nil {
			s.log.Warn(ctx, "sink publish failed", logging.String("sink", sink.Name()), logging.Err(perr))
			if s.recorder != nil {
				s.recorder.RecordSinkError(sink.Name())
			}
		}
	}
	return nil
}

func (s *MotionSimulator) publish(ctx context.Context, sink FixSink, fix model.Fix) error {
	ctx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()
	return sink.Publish(ctx, fix)
}

// headingLabel rounds a bearing to whole degrees within [0,360).
func headingLabel(bearing float64) string {
	return strconv.Itoa(int(math.Round(bearing)) % 360)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// String describes the state for diagnostics.
func (st SimulatorState) String() string {
	return fmt.Sprintf("%s after %d fixes", st.Position, st.Steps)
}
