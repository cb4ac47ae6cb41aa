package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used by the simulators. Sleep blocks for d of
// clock time or until ctx is done, whichever comes first.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Mode describes how a TimeController advances time.
type Mode int

const (
	// RealTime sleeps on the wall clock.
	RealTime Mode = iota
	// Accelerated advances simulated time immediately on every Sleep.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// TimeController implements Clock. In Accelerated mode it keeps its own
// notion of now and records every requested sleep, which makes it the clock
// of choice for tests and dry runs.
type TimeController struct {
	mu   sync.RWMutex
	Mode Mode

	currentTime time.Time
	sleeps      []time.Duration
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller starting at start. A zero start
// in RealTime mode means wall-clock now.
func NewTimeController(start time.Time, mode Mode) *TimeController {
	return &TimeController{Mode: mode, currentTime: start}
}

// Real returns a wall-clock controller.
func Real() *TimeController {
	return NewTimeController(time.Time{}, RealTime)
}

// Now returns the current time.
func (tc *TimeController) Now() time.Time {
	if tc.Mode == RealTime {
		return time.Now()
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Sleep waits for d. Non-positive durations return immediately unless ctx is
// already done.
func (tc *TimeController) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	if tc.Mode == Accelerated {
		tc.mu.Lock()
		tc.currentTime = tc.currentTime.Add(d)
		tc.sleeps = append(tc.sleeps, d)
		now := tc.currentTime
		listeners := append([]func(time.Time){}, tc.listeners...)
		tc.mu.Unlock()
		for _, fn := range listeners {
			fn(now)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	tc.mu.RLock()
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.RUnlock()
	now := time.Now()
	for _, fn := range listeners {
		fn(now)
	}
	return nil
}

// SetTime moves an accelerated clock to t.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// Sleeps returns the durations requested so far in Accelerated mode.
func (tc *TimeController) Sleeps() []time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return append([]time.Duration(nil), tc.sleeps...)
}

// AddListener registers a callback invoked after every completed sleep.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}
