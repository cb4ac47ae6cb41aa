package observability

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/gpsfix/model"
)

// FixCollector bundles Prometheus metrics for fix transmission, fan-out
// sinks and the HTTP surface.
type FixCollector struct {
	gatherer prometheus.Gatherer

	FixesSent     *prometheus.CounterVec
	AckLatency    *prometheus.HistogramVec
	StepDistance  prometheus.Histogram
	Latitude      prometheus.Gauge
	Longitude     prometheus.Gauge
	Satellites    prometheus.Gauge
	SinkErrors    *prometheus.CounterVec
	StreamClients prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewFixCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil. Collectors already present on reg
// are reused.
func NewFixCollector(reg prometheus.Registerer) (*FixCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &FixCollector{gatherer: gatherer}

	var err error
	if c.FixesSent, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gpsfix_fixes_total",
		Help: "Fixes sent to the console, labeled by source and result.",
	}, []string{"source", "result"})); err != nil {
		return nil, err
	}
	if c.AckLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpsfix_ack_latency_seconds",
		Help:    "Time from writing a fix until the console acknowledged or rejected it.",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
	}, []string{"source"})); err != nil {
		return nil, err
	}
	if c.StepDistance, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gpsfix_step_distance_meters",
		Help:    "Great-circle distance between consecutive acknowledged fixes.",
		Buckets: []float64{1, 2.5, 5, 7.5, 10, 25, 50, 100, 1000},
	})); err != nil {
		return nil, err
	}
	if c.Latitude, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gpsfix_position_latitude_degrees",
		Help: "Latitude of the last acknowledged fix.",
	})); err != nil {
		return nil, err
	}
	if c.Longitude, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gpsfix_position_longitude_degrees",
		Help: "Longitude of the last acknowledged fix.",
	})); err != nil {
		return nil, err
	}
	if c.Satellites, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gpsfix_satellites",
		Help: "Satellite count reported with the last acknowledged fix.",
	})); err != nil {
		return nil, err
	}
	if c.SinkErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gpsfix_sink_errors_total",
		Help: "Fix publications a sink failed to deliver.",
	}, []string{"sink"})); err != nil {
		return nil, err
	}
	if c.StreamClients, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gpsfix_stream_clients",
		Help: "Connected WebSocket fix stream clients.",
	})); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gpsfix_http_requests_total",
		Help: "Handled HTTP requests, labeled by route and status code.",
	}, []string{"route", "code"})); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpsfix_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordFix counts a transmit attempt. Acknowledged fixes also update the
// position gauges and the distance histogram.
func (c *FixCollector) RecordFix(fix model.Fix, latency time.Duration, err error) {
	if c == nil {
		return
	}
	source := string(fix.Source)
	c.FixesSent.WithLabelValues(source, model.ErrorKind(err)).Inc()
	c.AckLatency.WithLabelValues(source).Observe(latency.Seconds())
	if err != nil {
		return
	}
	if fix.DistanceMeters > 0 {
		c.StepDistance.Observe(fix.DistanceMeters)
	}
	c.Latitude.Set(fix.Position.Latitude)
	c.Longitude.Set(fix.Position.Longitude)
	c.Satellites.Set(float64(fix.Satellites))
}

// RecordSinkError counts a failed sink publication.
func (c *FixCollector) RecordSinkError(sink string) {
	if c == nil {
		return
	}
	c.SinkErrors.WithLabelValues(sink).Inc()
}

// SetStreamClients reports the number of connected stream clients.
func (c *FixCollector) SetStreamClients(n int) {
	if c == nil {
		return
	}
	c.StreamClients.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FixCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations under route.
func (c *FixCollector) Middleware(route string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		c.HTTPDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes the connection through for WebSocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// register adds col to reg, returning the already registered collector of
// the same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return col, err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("collector %T already registered with incompatible type", col)
		}
		return existing, nil
	}
	return col, nil
}
